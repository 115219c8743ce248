package service_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/protectedqr/qrcore/server/internal/qrcore/store"
	"github.com/protectedqr/qrcore/server/internal/qrcore/token"
)

const testSecret = "test-signing-secret"

// fixedNow is 2023-11-14T22:13:20Z.
var fixedNow = time.UnixMilli(1_700_000_000_000).UTC()

func fixedClock() time.Time { return fixedNow }

func newSigner(t *testing.T, secret string) *token.Signer {
	t.Helper()
	s, err := token.NewSigner([]byte(secret))
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return s
}

// syncBuffer is a log sink safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

var errStoreDown = errors.New("store down")

// failingStore rejects every append.
type failingStore struct{}

func (failingStore) RecordIssuance(context.Context, store.IssuanceRecord) error {
	return errStoreDown
}

func (failingStore) RecordVerification(context.Context, store.VerificationRecord) error {
	return errStoreDown
}
