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

// VerificationService runs detection on an uploaded image, decodes any
// recovered token and records every attempt.
type VerificationService struct {
	signer   *token.Signer
	detector pattern.Detector
	records  store.VerificationStore

	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger

	persistFailures atomic.Uint64
}

func NewVerificationService(signer *token.Signer, detector pattern.Detector, records store.VerificationStore, opts Options) *VerificationService {
	opts = opts.withDefaults()
	return &VerificationService{
		signer:   signer,
		detector: detector,
		records:  records,
		timeout:  opts.Timeout,
		now:      opts.Now,
		logger:   opts.Logger,
	}
}

// Verify never lets a bad token fail the call: the detector's verdict is
// returned as-is and DecodedMeta is nil unless the token verifies.
func (s *VerificationService) Verify(ctx context.Context, image []byte) (types.VerifyResponse, error) {
	if len(image) == 0 {
		s.recordVerification(ctx, store.VerificationRecord{
			ID:        store.NewRecordID(),
			CreatedAt: s.now().UTC(),
		})
		return types.VerifyResponse{}, &ValidationError{Fields: map[string]string{"image": "is required"}}
	}

	dctx, cancel := context.WithTimeout(ctx, s.timeout)
	det, err := s.detector.Detect(dctx, image)
	cancel()
	if err != nil {
		s.recordVerification(ctx, store.VerificationRecord{
			ID:        store.NewRecordID(),
			CreatedAt: s.now().UTC(),
		})
		return types.VerifyResponse{}, upstreamError(ctx, dctx, "detect", err)
	}

	resp := types.VerifyResponse{
		IsAuthentic:     derefBool(det.IsAuthentic),
		ConfidenceScore: derefFloat(det.ConfidenceScore),
		IsPhotocopy:     derefBool(det.IsPhotocopy),
	}

	var recTok *string
	if det.Token != nil && *det.Token != "" {
		t := *det.Token
		recTok = &t

		p, err := s.signer.Decode(t)
		if err != nil {
			s.logger.Debug("detected token rejected", "err", err)
		} else {
			meta := p.Meta()
			resp.DecodedMeta = &meta
		}
	}

	s.recordVerification(ctx, store.VerificationRecord{
		ID:              store.NewRecordID(),
		Token:           recTok,
		ConfidenceScore: resp.ConfidenceScore,
		IsAuthentic:     resp.IsAuthentic,
		CreatedAt:       s.now().UTC(),
	})

	return resp, nil
}

// PersistenceFailures counts verification records that could not be written.
func (s *VerificationService) PersistenceFailures() uint64 {
	return s.persistFailures.Load()
}

func (s *VerificationService) recordVerification(ctx context.Context, rec store.VerificationRecord) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	if err := s.records.RecordVerification(wctx, rec); err != nil {
		s.persistFailures.Add(1)
		s.logger.Error("verification record not persisted",
			"record_id", rec.ID,
			"kind", "verification",
			"err", fmt.Errorf("%w: %w", ErrPersistence, err),
		)
	}
}

func derefBool(b *bool) bool {
	return b != nil && *b
}

func derefFloat(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
