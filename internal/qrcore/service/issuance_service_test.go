package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/protectedqr/qrcore/server/internal/qrcore/pattern"
	"github.com/protectedqr/qrcore/server/internal/qrcore/service"
	"github.com/protectedqr/qrcore/server/internal/qrcore/store"
	"github.com/protectedqr/qrcore/server/internal/qrcore/store/memory"
	"github.com/protectedqr/qrcore/server/internal/qrcore/token"
	"github.com/protectedqr/qrcore/server/internal/qrcore/types"
)

var validRequest = types.GenerateRequest{
	DataHash:       "a1b2c3d4",
	MetadataSeries: "0011223344556677",
	MetadataIssued: "8899aabbccddeeff",
	MetadataExpiry: "0123456789abcdef",
}

func newTestIssuanceService(t *testing.T, fake *pattern.Fake, audit store.AuditStore, opts service.Options) *service.IssuanceService {
	t.Helper()
	if opts.Now == nil {
		opts.Now = fixedClock
	}
	return service.NewIssuanceService(newSigner(t, testSecret), fake, audit, opts)
}

// ── Success ──────────────────────────────────────────────────────────────────

func TestGenerate_FixedTimestamp(t *testing.T) {
	fake := &pattern.Fake{}
	audit := memory.New()
	svc := newTestIssuanceService(t, fake, audit, service.Options{})

	resp, err := svc.Generate(context.Background(), validRequest)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if len(resp.Token) != token.TokenLen {
		t.Fatalf("expected token length %d, got %d", token.TokenLen, len(resp.Token))
	}
	if string(resp.Image) != string(pattern.FakeImage) {
		t.Errorf("unexpected image %q", resp.Image)
	}

	p, err := newSigner(t, testSecret).Decode(resp.Token)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.IssuedAtMs != uint64(fixedNow.UnixMilli()) {
		t.Errorf("expected issued_at %d, got %d", fixedNow.UnixMilli(), p.IssuedAtMs)
	}
	meta := p.Meta()
	if meta.DataHash != validRequest.DataHash ||
		meta.MetadataSeries != validRequest.MetadataSeries ||
		meta.MetadataIssued != validRequest.MetadataIssued ||
		meta.MetadataExpiry != validRequest.MetadataExpiry {
		t.Errorf("decoded metadata does not match request: %+v", meta)
	}

	calls := fake.RenderCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 render call, got %d", len(calls))
	}
	if calls[0].Token != resp.Token || calls[0].Size != 600 || calls[0].Border != 1 {
		t.Errorf("unexpected render call %+v", calls[0])
	}

	recs := audit.Issuances()
	if len(recs) != 1 {
		t.Fatalf("expected 1 issuance record, got %d", len(recs))
	}
	rec := recs[0]
	if rec.Token != resp.Token {
		t.Errorf("record token %q does not match response", rec.Token)
	}
	if rec.DataHash != validRequest.DataHash || rec.MetadataExpiry != validRequest.MetadataExpiry {
		t.Errorf("unexpected record fields %+v", rec)
	}
	if !rec.CreatedAt.Equal(fixedNow) {
		t.Errorf("expected created_at %v, got %v", fixedNow, rec.CreatedAt)
	}
	if rec.ID == "" {
		t.Error("expected a record ID")
	}
}

func TestGenerate_AcceptsUppercaseHex(t *testing.T) {
	audit := memory.New()
	svc := newTestIssuanceService(t, &pattern.Fake{}, audit, service.Options{})

	req := validRequest
	req.DataHash = "A1B2C3D4"
	resp, err := svc.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	p, err := newSigner(t, testSecret).Decode(resp.Token)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got := p.Meta().DataHash; got != "a1b2c3d4" {
		t.Errorf("expected lowercase data_hash in token, got %q", got)
	}
	if got := audit.Issuances()[0].DataHash; got != "A1B2C3D4" {
		t.Errorf("expected record to keep caller text, got %q", got)
	}
}

// ── Validation ───────────────────────────────────────────────────────────────

func TestGenerate_ShortDataHash(t *testing.T) {
	fake := &pattern.Fake{}
	audit := memory.New()
	svc := newTestIssuanceService(t, fake, audit, service.Options{})

	req := validRequest
	req.DataHash = "a1b2c3"
	resp, err := svc.Generate(context.Background(), req)

	var verr *service.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if _, ok := verr.Fields["data_hash"]; !ok {
		t.Errorf("expected data_hash to be named, got %v", verr.Fields)
	}
	if len(verr.Fields) != 1 {
		t.Errorf("expected only data_hash to fail, got %v", verr.Fields)
	}
	if resp.Token != "" {
		t.Errorf("expected no token, got %q", resp.Token)
	}
	if n := len(fake.RenderCalls()); n != 0 {
		t.Errorf("expected no render calls, got %d", n)
	}
	if n := len(audit.Issuances()); n != 0 {
		t.Errorf("expected no audit write, got %d", n)
	}
}

func TestGenerate_CollectsEveryInvalidField(t *testing.T) {
	svc := newTestIssuanceService(t, &pattern.Fake{}, memory.New(), service.Options{})

	_, err := svc.Generate(context.Background(), types.GenerateRequest{
		DataHash:       "zzzzzzzz",
		MetadataSeries: "",
		MetadataIssued: "00112233445566",
		MetadataExpiry: "0123456789abcdef0",
	})

	var verr *service.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	for _, field := range []string{"data_hash", "metadata_series", "metadata_issued", "metadata_expiry"} {
		if _, ok := verr.Fields[field]; !ok {
			t.Errorf("expected %s in %v", field, verr.Fields)
		}
	}
	if !strings.Contains(verr.Fields["data_hash"], "hex") {
		t.Errorf("unexpected data_hash reason %q", verr.Fields["data_hash"])
	}
}

// ── Failures ─────────────────────────────────────────────────────────────────

func TestGenerate_RenderFailure(t *testing.T) {
	fake := &pattern.Fake{
		RenderFunc: func(context.Context, string, int, int) ([]byte, error) {
			return nil, pattern.ErrUnavailable
		},
	}
	audit := memory.New()
	svc := newTestIssuanceService(t, fake, audit, service.Options{})

	_, err := svc.Generate(context.Background(), validRequest)
	if !errors.Is(err, service.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		t.Error("a plain failure should not look like a timeout")
	}
	if n := len(audit.Issuances()); n != 0 {
		t.Errorf("expected no audit write, got %d", n)
	}
}

func TestGenerate_RenderTimeout(t *testing.T) {
	fake := &pattern.Fake{
		RenderFunc: func(ctx context.Context, _ string, _, _ int) ([]byte, error) {
			<-ctx.Done()
			return nil, errors.New("connection reset")
		},
	}
	svc := newTestIssuanceService(t, fake, memory.New(), service.Options{Timeout: 20 * time.Millisecond})

	_, err := svc.Generate(context.Background(), validRequest)
	if !errors.Is(err, service.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestGenerate_CallerCancelled(t *testing.T) {
	fake := &pattern.Fake{
		RenderFunc: func(ctx context.Context, _ string, _, _ int) ([]byte, error) {
			return nil, ctx.Err()
		},
	}
	svc := newTestIssuanceService(t, fake, memory.New(), service.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Generate(ctx, validRequest)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if errors.Is(err, service.ErrUpstreamUnavailable) {
		t.Error("cancellation must not be reported as an upstream failure")
	}
}

func TestGenerate_PersistenceFailureStillReturnsToken(t *testing.T) {
	logger, logs := newTestLogger()
	svc := newTestIssuanceService(t, &pattern.Fake{}, failingStore{}, service.Options{Logger: logger})

	resp, err := svc.Generate(context.Background(), validRequest)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("expected a token despite the failed audit write")
	}
	if n := svc.PersistenceFailures(); n != 1 {
		t.Errorf("expected 1 persistence failure, got %d", n)
	}
	if out := logs.String(); !strings.Contains(out, "level=ERROR") || !strings.Contains(out, "persistence failure") {
		t.Errorf("expected an error log for the failed write, got %q", out)
	}
	if strings.Contains(logs.String(), testSecret) {
		t.Error("secret leaked into logs")
	}
}

func TestGenerate_TimestampOverflowIsFatal(t *testing.T) {
	fake := &pattern.Fake{}
	audit := memory.New()
	svc := newTestIssuanceService(t, fake, audit, service.Options{
		Now: func() time.Time { return time.UnixMilli(int64(token.MaxTimestampMs) + 1) },
	})

	_, err := svc.Generate(context.Background(), validRequest)
	if !errors.Is(err, token.ErrTimestampOverflow) {
		t.Fatalf("expected ErrTimestampOverflow, got %v", err)
	}
	if n := len(fake.RenderCalls()); n != 0 {
		t.Errorf("expected no render calls, got %d", n)
	}
	if n := len(audit.Issuances()); n != 0 {
		t.Errorf("expected no audit write, got %d", n)
	}
}
