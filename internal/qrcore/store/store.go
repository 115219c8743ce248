package store

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// IssuanceRecord is the audit entry written once per successful token
// issuance. The metadata fields keep the caller's original hex text.
type IssuanceRecord struct {
	ID             string
	Token          string
	DataHash       string
	MetadataSeries string
	MetadataIssued string
	MetadataExpiry string
	CreatedAt      time.Time
}

// VerificationRecord is written once per verification attempt, including
// attempts where detection failed or found no token (Token == nil).
type VerificationRecord struct {
	ID              string
	Token           *string
	ConfidenceScore float64
	IsAuthentic     bool
	CreatedAt       time.Time
}

// AuditStore persists issuance records as an append-only log.
type AuditStore interface {
	RecordIssuance(ctx context.Context, rec IssuanceRecord) error
}

// VerificationStore persists verification records as an append-only log.
type VerificationStore interface {
	RecordVerification(ctx context.Context, rec VerificationRecord) error
}

// Store is a durable backend serving both logs.
type Store interface {
	AuditStore
	VerificationStore
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// NewRecordID returns a random identifier for a new record.
func NewRecordID() string {
	return uuid.NewString()
}

// Normalise fills the ID and timestamp when the caller left them empty.
func (r *IssuanceRecord) Normalise() {
	if r.ID == "" {
		r.ID = NewRecordID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	r.CreatedAt = r.CreatedAt.UTC()
}

func (r *VerificationRecord) Normalise() {
	if r.ID == "" {
		r.ID = NewRecordID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	r.CreatedAt = r.CreatedAt.UTC()
}

// RedactURI masks the userinfo of a connection URI so it can be logged or
// put in an error message.
func RedactURI(uri string) string {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return uri
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		return scheme + "://***@" + rest[at+1:]
	}
	return uri
}
