// Package pattern talks to the external pattern service that renders tokens
// into protected QR images and detects them again.
package pattern

import (
	"context"
	"errors"
)

// Fixed render geometry shared with the pattern service.
const (
	RenderSize   = 600
	RenderBorder = 1
	CenterCropPx = 154
)

// ErrUnavailable is wrapped by every client failure: transport errors,
// non-2xx statuses, undecodable bodies and timeouts.
var ErrUnavailable = errors.New("pattern service unavailable")

// Detection is the detector's raw answer. Absent fields stay nil; callers
// pick their own defaults.
type Detection struct {
	Token           *string
	ConfidenceScore *float64
	IsAuthentic     *bool
	IsPhotocopy     *bool
}

type Renderer interface {
	Render(ctx context.Context, token string, size, border int) ([]byte, error)
}

type Detector interface {
	Detect(ctx context.Context, image []byte) (Detection, error)
}

// Service is the full pattern-service surface used by the server.
type Service interface {
	Renderer
	Detector
	Health(ctx context.Context) error
}
