package types

import "github.com/protectedqr/qrcore/server/internal/qrcore/token"

type GenerateRequest struct {
	DataHash       string `json:"data_hash"`
	MetadataSeries string `json:"metadata_series"`
	MetadataIssued string `json:"metadata_issued"`
	MetadataExpiry string `json:"metadata_expiry"`
}

type GenerateResponse struct {
	Token string
	Image []byte // rendered PNG
}

type VerifyResponse struct {
	IsAuthentic     bool
	ConfidenceScore float64
	DecodedMeta     *token.Meta // nil when no valid token was recovered
	IsPhotocopy     bool
}
