package memory

import (
	"context"
	"sync"

	"github.com/protectedqr/qrcore/server/internal/qrcore/store"
)

// Store is an in-memory append-only log of issuance and verification
// records. It is intended for tests and dev environments.
type Store struct {
	mu            sync.Mutex
	issuances     []store.IssuanceRecord
	verifications []store.VerificationRecord
}

func New() *Store {
	return &Store{}
}

func (s *Store) RecordIssuance(_ context.Context, rec store.IssuanceRecord) error {
	rec.Normalise()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issuances = append(s.issuances, rec)
	return nil
}

func (s *Store) RecordVerification(_ context.Context, rec store.VerificationRecord) error {
	rec.Normalise()
	if rec.Token != nil {
		tok := *rec.Token
		rec.Token = &tok
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifications = append(s.verifications, rec)
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close(context.Context) error { return nil }

// Issuances returns a copy of all recorded issuance records.
func (s *Store) Issuances() []store.IssuanceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.IssuanceRecord, len(s.issuances))
	copy(out, s.issuances)
	return out
}

// Verifications returns a copy of all recorded verification records.
func (s *Store) Verifications() []store.VerificationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.VerificationRecord, len(s.verifications))
	copy(out, s.verifications)
	return out
}
