package pattern

import (
	"context"
	"sync"
)

// Fake is an in-process Service for tests. Unset funcs fall back to a fixed
// image, an empty detection and a healthy status.
type Fake struct {
	RenderFunc func(ctx context.Context, token string, size, border int) ([]byte, error)
	DetectFunc func(ctx context.Context, image []byte) (Detection, error)
	HealthFunc func(ctx context.Context) error

	mu       sync.Mutex
	rendered []RenderCall
	detected int
}

// RenderCall records the arguments of one Render call.
type RenderCall struct {
	Token  string
	Size   int
	Border int
}

// FakeImage is what Fake.Render returns when RenderFunc is nil.
var FakeImage = []byte("\x89PNG fake")

func (f *Fake) Render(ctx context.Context, token string, size, border int) ([]byte, error) {
	f.mu.Lock()
	f.rendered = append(f.rendered, RenderCall{Token: token, Size: size, Border: border})
	f.mu.Unlock()

	if f.RenderFunc != nil {
		return f.RenderFunc(ctx, token, size, border)
	}
	return append([]byte(nil), FakeImage...), nil
}

func (f *Fake) Detect(ctx context.Context, image []byte) (Detection, error) {
	f.mu.Lock()
	f.detected++
	f.mu.Unlock()

	if f.DetectFunc != nil {
		return f.DetectFunc(ctx, image)
	}
	return Detection{}, nil
}

func (f *Fake) Health(ctx context.Context) error {
	if f.HealthFunc != nil {
		return f.HealthFunc(ctx)
	}
	return nil
}

func (f *Fake) RenderCalls() []RenderCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RenderCall(nil), f.rendered...)
}

func (f *Fake) DetectCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detected
}
