package httpapi

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/protectedqr/qrcore/server/internal/qrcore/token"
	"github.com/protectedqr/qrcore/server/internal/qrcore/types"
)

var errBadProtobuf = errors.New("malformed protobuf message")

// ── JSON ─────────────────────────────────────────────────────────────────────

type generateResponseJSON struct {
	Success       bool   `json:"success"`
	Token         string `json:"token"`
	QRImageBase64 string `json:"qr_image_base64"`
}

type verifyResponseJSON struct {
	Success         bool        `json:"success"`
	IsAuthentic     bool        `json:"is_authentic"`
	ConfidenceScore float64     `json:"confidence_score"`
	DecodedMeta     *token.Meta `json:"decoded_meta"`
	IsPhotocopy     bool        `json:"is_photocopy"`
}

func generateResponseToJSON(r types.GenerateResponse) generateResponseJSON {
	return generateResponseJSON{
		Success:       true,
		Token:         r.Token,
		QRImageBase64: base64.StdEncoding.EncodeToString(r.Image),
	}
}

func verifyResponseToJSON(r types.VerifyResponse) verifyResponseJSON {
	return verifyResponseJSON{
		Success:         true,
		IsAuthentic:     r.IsAuthentic,
		ConfidenceScore: r.ConfidenceScore,
		DecodedMeta:     r.DecodedMeta,
		IsPhotocopy:     r.IsPhotocopy,
	}
}

// ── Protobuf ─────────────────────────────────────────────────────────────────
//
// message GenerateRequest  { string data_hash = 1; string metadata_series = 2;
//                            string metadata_issued = 3; string metadata_expiry = 4; }
// message GenerateResponse { string token = 1; bytes qr_image = 2; }
// message DecodedMeta      { string data_hash = 1; string metadata_series = 2;
//                            string metadata_issued = 3; string metadata_expiry = 4;
//                            uint64 issued_at_ms = 5; }
// message VerifyResponse   { bool is_authentic = 1; double confidence_score = 2;
//                            DecodedMeta decoded_meta = 3; bool is_photocopy = 4; }

func generateRequestFromProto(b []byte) (types.GenerateRequest, error) {
	var req types.GenerateRequest
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return types.GenerateRequest{}, protoErr(n)
		}
		b = b[n:]

		var dst *string
		switch num {
		case 1:
			dst = &req.DataHash
		case 2:
			dst = &req.MetadataSeries
		case 3:
			dst = &req.MetadataIssued
		case 4:
			dst = &req.MetadataExpiry
		}

		if dst != nil {
			if typ != protowire.BytesType {
				return types.GenerateRequest{}, fmt.Errorf("%w: field %d has wire type %d", errBadProtobuf, num, typ)
			}
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return types.GenerateRequest{}, protoErr(n)
			}
			*dst = v
			b = b[n:]
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return types.GenerateRequest{}, protoErr(n)
		}
		b = b[n:]
	}
	return req, nil
}

func generateResponseToProto(r types.GenerateResponse) []byte {
	var b []byte
	b = appendString(b, 1, r.Token)
	if len(r.Image) > 0 {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Image)
	}
	return b
}

func verifyResponseToProto(r types.VerifyResponse) []byte {
	var b []byte
	b = appendBool(b, 1, r.IsAuthentic)
	if r.ConfidenceScore != 0 {
		b = protowire.AppendTag(b, 2, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(r.ConfidenceScore))
	}
	if r.DecodedMeta != nil {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, decodedMetaToProto(*r.DecodedMeta))
	}
	b = appendBool(b, 4, r.IsPhotocopy)
	return b
}

func decodedMetaToProto(m token.Meta) []byte {
	var b []byte
	b = appendString(b, 1, m.DataHash)
	b = appendString(b, 2, m.MetadataSeries)
	b = appendString(b, 3, m.MetadataIssued)
	b = appendString(b, 4, m.MetadataExpiry)
	if m.IssuedAtMs != 0 {
		b = protowire.AppendTag(b, 5, protowire.VarintType)
		b = protowire.AppendVarint(b, m.IssuedAtMs)
	}
	return b
}

// appendString and appendBool omit proto3 default values.
func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(v))
}

func protoErr(n int) error {
	return fmt.Errorf("%w: %w", errBadProtobuf, protowire.ParseError(n))
}
