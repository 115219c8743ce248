package service

import (
	"encoding/hex"
	"fmt"

	"github.com/protectedqr/qrcore/server/internal/qrcore/token"
	"github.com/protectedqr/qrcore/server/internal/qrcore/types"
)

// decodedFields holds the binary form of a validated GenerateRequest.
type decodedFields struct {
	dataHash [token.DataHashLen]byte
	series   [token.SeriesLen]byte
	issued   [token.IssuedLen]byte
	expiry   [token.ExpiryLen]byte
}

func validateGenerate(req types.GenerateRequest) (decodedFields, error) {
	var (
		out  decodedFields
		verr ValidationError
	)
	decodeHexField(&verr, "data_hash", req.DataHash, out.dataHash[:])
	decodeHexField(&verr, "metadata_series", req.MetadataSeries, out.series[:])
	decodeHexField(&verr, "metadata_issued", req.MetadataIssued, out.issued[:])
	decodeHexField(&verr, "metadata_expiry", req.MetadataExpiry, out.expiry[:])

	if !verr.empty() {
		return decodedFields{}, &verr
	}
	return out, nil
}

// decodeHexField fills dst from exactly 2*len(dst) hex characters, or records
// why it could not.
func decodeHexField(verr *ValidationError, field, value string, dst []byte) {
	want := hex.EncodedLen(len(dst))
	switch {
	case value == "":
		verr.add(field, "is required")
	case len(value) != want:
		verr.add(field, fmt.Sprintf("must be exactly %d hex characters, got %d", want, len(value)))
	default:
		if _, err := hex.Decode(dst, []byte(value)); err != nil {
			verr.add(field, "must contain only hex characters")
		}
	}
}
