package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	dbpkg "github.com/protectedqr/qrcore/server/internal/db"
	"github.com/protectedqr/qrcore/server/internal/qrcore/store"
)

// Store writes both record logs to SQLite through a single-writer Worker.
type Store struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func New(db *sql.DB, writer *dbpkg.Worker) *Store {
	return &Store{db: db, writer: writer}
}

// Open opens (and migrates) the database at path and starts its writer.
func Open(ctx context.Context, path string) (*Store, error) {
	conn, err := dbpkg.Open(ctx, dbpkg.Config{Path: path})
	if err != nil {
		return nil, err
	}
	return New(conn, dbpkg.NewWorker(conn)), nil
}

func (s *Store) RecordIssuance(ctx context.Context, rec store.IssuanceRecord) error {
	rec.Normalise()
	createdMs := rec.CreatedAt.UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO issuance_records(
  record_id, token, data_hash, metadata_series, metadata_issued, metadata_expiry, created_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?);
`,
			rec.ID, rec.Token, rec.DataHash, rec.MetadataSeries, rec.MetadataIssued, rec.MetadataExpiry, createdMs,
		); err != nil {
			return fmt.Errorf("RecordIssuance insert: %w", err)
		}
		return nil
	})
}

func (s *Store) RecordVerification(ctx context.Context, rec store.VerificationRecord) error {
	rec.Normalise()
	createdMs := rec.CreatedAt.UnixMilli()

	var tok any
	if rec.Token != nil {
		tok = *rec.Token
	}

	var authentic int
	if rec.IsAuthentic {
		authentic = 1
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO verification_records(
  record_id, token, confidence_score, is_authentic, created_at_ms
) VALUES (?, ?, ?, ?, ?);
`,
			rec.ID, tok, rec.ConfidenceScore, authentic, createdMs,
		); err != nil {
			return fmt.Errorf("RecordVerification insert: %w", err)
		}
		return nil
	})
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close stops the writer after queued records are flushed, then closes the
// database.
func (s *Store) Close(context.Context) error {
	s.writer.Close()
	return s.db.Close()
}
