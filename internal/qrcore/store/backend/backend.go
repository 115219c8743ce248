// Package backend selects and opens the durable record store named by the
// configured store URI.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gopkg.in/retry.v1"

	"github.com/protectedqr/qrcore/server/internal/qrcore/store"
	"github.com/protectedqr/qrcore/server/internal/qrcore/store/memory"
	"github.com/protectedqr/qrcore/server/internal/qrcore/store/mongo"
	"github.com/protectedqr/qrcore/server/internal/qrcore/store/sqlite"
)

var ErrUnsupportedURI = errors.New("unsupported store uri")

// connectStrategy bounds start-up connection attempts. It is never used on
// the request path.
var connectStrategy retry.Strategy = retry.LimitTime(15*time.Second,
	retry.Exponential{
		Initial:  250 * time.Millisecond,
		Factor:   2,
		MaxDelay: 4 * time.Second,
	},
)

type Kind string

const (
	KindMemory Kind = "memory"
	KindSQLite Kind = "sqlite"
	KindMongo  Kind = "mongo"
)

// Parse classifies a store URI:
//
//	memory:                     in-process, lost on exit
//	sqlite:<path>               SQLite file (sqlite::memory: for a throwaway db)
//	mongodb://... mongodb+srv://...
func Parse(uri string) (Kind, string, error) {
	uri = strings.TrimSpace(uri)
	switch {
	case uri == "memory" || uri == "memory:":
		return KindMemory, "", nil
	case strings.HasPrefix(uri, "sqlite://"):
		return sqlitePath(strings.TrimPrefix(uri, "sqlite://"))
	case strings.HasPrefix(uri, "sqlite:"):
		return sqlitePath(strings.TrimPrefix(uri, "sqlite:"))
	case strings.HasPrefix(uri, "mongodb://"), strings.HasPrefix(uri, "mongodb+srv://"):
		return KindMongo, uri, nil
	default:
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedURI, store.RedactURI(uri))
	}
}

func sqlitePath(p string) (Kind, string, error) {
	if strings.TrimSpace(p) == "" {
		return "", "", fmt.Errorf("%w: sqlite uri has no path", ErrUnsupportedURI)
	}
	return KindSQLite, p, nil
}

// Open connects to the store named by uri, retrying transient connection
// failures for a bounded time.
func Open(ctx context.Context, uri, dbName string, logger *slog.Logger) (store.Store, error) {
	kind, target, err := Parse(uri)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for a := retry.Start(connectStrategy, nil); a.Next(); {
		var st store.Store
		st, lastErr = open(ctx, kind, target, dbName)
		if lastErr == nil {
			logger.Info("store opened", "kind", string(kind), "db", dbName)
			return st, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warn("store open failed", "kind", string(kind), "attempt", a.Count(), "err", lastErr)
	}
	return nil, fmt.Errorf("open %s store: %w", kind, lastErr)
}

func open(ctx context.Context, kind Kind, target, dbName string) (store.Store, error) {
	switch kind {
	case KindMemory:
		return memory.New(), nil
	case KindSQLite:
		st, err := sqlite.Open(ctx, target)
		if err != nil {
			return nil, err
		}
		return st, nil
	case KindMongo:
		st, err := mongo.Open(ctx, target, dbName)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedURI, kind)
	}
}
