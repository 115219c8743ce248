package httpapi

import (
	"mime"
	"net/http"
	"strings"
)

const contentTypeProtobuf = "application/x-protobuf"

// isProtobufMediaType accepts the registered and the legacy protobuf media
// types, ignoring parameters.
func isProtobufMediaType(v string) bool {
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		return false
	}
	return mt == contentTypeProtobuf || mt == "application/protobuf"
}

// isProtobuf reports whether the request body is protobuf.
func isProtobuf(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return ct != "" && isProtobufMediaType(ct)
}

// acceptsProtobuf reports whether the client asked for a protobuf response.
func acceptsProtobuf(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		if isProtobufMediaType(strings.TrimSpace(part)) {
			return true
		}
	}
	return false
}

// writeProto writes an already encoded message with the given status.
func writeProto(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", contentTypeProtobuf)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
