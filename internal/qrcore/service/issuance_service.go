package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/protectedqr/qrcore/server/internal/qrcore/pattern"
	"github.com/protectedqr/qrcore/server/internal/qrcore/store"
	"github.com/protectedqr/qrcore/server/internal/qrcore/token"
	"github.com/protectedqr/qrcore/server/internal/qrcore/types"
)

// IssuanceService mints signed tokens, has them rendered and records each
// successful issuance.
type IssuanceService struct {
	signer   *token.Signer
	renderer pattern.Renderer
	audit    store.AuditStore

	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger

	persistFailures atomic.Uint64
}

func NewIssuanceService(signer *token.Signer, renderer pattern.Renderer, audit store.AuditStore, opts Options) *IssuanceService {
	opts = opts.withDefaults()
	return &IssuanceService{
		signer:   signer,
		renderer: renderer,
		audit:    audit,
		timeout:  opts.Timeout,
		now:      opts.Now,
		logger:   opts.Logger,
	}
}

func (s *IssuanceService) Generate(ctx context.Context, req types.GenerateRequest) (types.GenerateResponse, error) {
	fields, err := validateGenerate(req)
	if err != nil {
		return types.GenerateResponse{}, err
	}

	issuedAt := s.now().UTC()
	payload, err := token.Pack(uint64(issuedAt.UnixMilli()), fields.dataHash, fields.series, fields.issued, fields.expiry)
	if err != nil {
		return types.GenerateResponse{}, fmt.Errorf("generate: %w", err)
	}
	tok := s.signer.Encode(payload)

	rctx, cancel := context.WithTimeout(ctx, s.timeout)
	img, err := s.renderer.Render(rctx, tok, pattern.RenderSize, pattern.RenderBorder)
	cancel()
	if err != nil {
		return types.GenerateResponse{}, upstreamError(ctx, rctx, "render", err)
	}

	s.recordIssuance(ctx, store.IssuanceRecord{
		ID:             store.NewRecordID(),
		Token:          tok,
		DataHash:       req.DataHash,
		MetadataSeries: req.MetadataSeries,
		MetadataIssued: req.MetadataIssued,
		MetadataExpiry: req.MetadataExpiry,
		CreatedAt:      issuedAt,
	})

	return types.GenerateResponse{Token: tok, Image: img}, nil
}

// PersistenceFailures counts issuance records that could not be written.
func (s *IssuanceService) PersistenceFailures() uint64 {
	return s.persistFailures.Load()
}

// recordIssuance appends the audit record. The token has already been
// rendered, so a write failure is logged and counted but not returned. The
// write outlives caller cancellation.
func (s *IssuanceService) recordIssuance(ctx context.Context, rec store.IssuanceRecord) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	if err := s.audit.RecordIssuance(wctx, rec); err != nil {
		s.persistFailures.Add(1)
		s.logger.Error("issuance record not persisted",
			"record_id", rec.ID,
			"kind", "issuance",
			"err", fmt.Errorf("%w: %w", ErrPersistence, err),
		)
	}
}
