package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUpstreamUnavailable wraps pattern-service failures. Timeouts also
	// wrap context.DeadlineExceeded.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrPersistence marks a failed record append. It is logged, never
	// returned to callers.
	ErrPersistence = errors.New("persistence failure")
)

// ValidationError lists every rejected input field with a reason.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, reason string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = reason
}

func (e *ValidationError) empty() bool {
	return len(e.Fields) == 0
}
