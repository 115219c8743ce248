package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

const defaultExternalTimeout = 10 * time.Second

// Options carries the collaborators shared by both orchestrators.
type Options struct {
	// Timeout bounds each pattern call and each record append.
	Timeout time.Duration

	// Now is the clock used for token timestamps and record times.
	Now func() time.Time

	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = defaultExternalTimeout
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

// upstreamError classifies a failed pattern call. Caller cancellation is
// returned unchanged; everything else wraps ErrUpstreamUnavailable, and an
// expired call deadline also wraps context.DeadlineExceeded.
func upstreamError(parent, call context.Context, op string, err error) error {
	if errors.Is(parent.Err(), context.Canceled) {
		return parent.Err()
	}
	if errors.Is(call.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrUpstreamUnavailable, op, err)
}
