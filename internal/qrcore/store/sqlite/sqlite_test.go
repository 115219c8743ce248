package sqlite_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/protectedqr/qrcore/server/internal/qrcore/store"
	sqlitestore "github.com/protectedqr/qrcore/server/internal/qrcore/store/sqlite"
)

const sampleToken = "AZnQ2v4AobLD1BI0VniQq83vABEiM0RVZneImaq7zN3u_w.0123456789abcdef0123456789abcdef"

// ═══════════════════════════════════════════════════════════════════════════
// RecordIssuance
// ═══════════════════════════════════════════════════════════════════════════

func TestStore_RecordIssuance_ColumnsCorrect(t *testing.T) {
	conn := openTestDB(t)
	st := sqlitestore.New(conn, newTestWriter(t, conn))
	ctx := context.Background()

	now := time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)
	err := st.RecordIssuance(ctx, store.IssuanceRecord{
		ID:             "rec-1",
		Token:          sampleToken,
		DataHash:       "a1b2c3d4",
		MetadataSeries: "1234567890abcdef",
		MetadataIssued: "0011223344556677",
		MetadataExpiry: "8899aabbccddeeff",
		CreatedAt:      now,
	})
	if err != nil {
		t.Fatalf("RecordIssuance: %v", err)
	}

	var (
		tok, dataHash, series, issued, expiry string
		createdMs                             int64
	)
	err = conn.QueryRowContext(ctx, `
SELECT token, data_hash, metadata_series, metadata_issued, metadata_expiry, created_at_ms
FROM issuance_records WHERE record_id = ?`, "rec-1",
	).Scan(&tok, &dataHash, &series, &issued, &expiry, &createdMs)
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	if tok != sampleToken {
		t.Errorf("expected token=%q, got %q", sampleToken, tok)
	}
	if dataHash != "a1b2c3d4" || series != "1234567890abcdef" || issued != "0011223344556677" || expiry != "8899aabbccddeeff" {
		t.Errorf("unexpected metadata columns: %s %s %s %s", dataHash, series, issued, expiry)
	}
	if createdMs != now.UnixMilli() {
		t.Errorf("expected created_at_ms=%d, got %d", now.UnixMilli(), createdMs)
	}
}

func TestStore_RecordIssuance_FillsIDAndTimestamp(t *testing.T) {
	conn := openTestDB(t)
	st := sqlitestore.New(conn, newTestWriter(t, conn))
	ctx := context.Background()

	if err := st.RecordIssuance(ctx, store.IssuanceRecord{Token: sampleToken}); err != nil {
		t.Fatalf("RecordIssuance: %v", err)
	}

	var (
		id        string
		createdMs int64
	)
	if err := conn.QueryRowContext(ctx,
		`SELECT record_id, created_at_ms FROM issuance_records`,
	).Scan(&id, &createdMs); err != nil {
		t.Fatalf("query: %v", err)
	}
	if id == "" {
		t.Error("expected a generated record_id")
	}
	if createdMs == 0 {
		t.Error("expected created_at_ms to be set")
	}
}

func TestStore_RecordIssuance_DuplicateIDRejected(t *testing.T) {
	conn := openTestDB(t)
	st := sqlitestore.New(conn, newTestWriter(t, conn))
	ctx := context.Background()

	rec := store.IssuanceRecord{ID: "rec-dup", Token: sampleToken}
	if err := st.RecordIssuance(ctx, rec); err != nil {
		t.Fatalf("first RecordIssuance: %v", err)
	}
	if err := st.RecordIssuance(ctx, rec); err == nil {
		t.Fatal("expected the second insert with the same record_id to fail")
	}
}

func TestStore_IssuanceRecordsAreImmutable(t *testing.T) {
	conn := openTestDB(t)
	st := sqlitestore.New(conn, newTestWriter(t, conn))
	ctx := context.Background()

	if err := st.RecordIssuance(ctx, store.IssuanceRecord{ID: "rec-1", Token: sampleToken}); err != nil {
		t.Fatalf("RecordIssuance: %v", err)
	}

	if _, err := conn.ExecContext(ctx,
		`UPDATE issuance_records SET token = 'x' WHERE record_id = 'rec-1'`,
	); err == nil {
		t.Fatal("expected UPDATE on issuance_records to be rejected")
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// RecordVerification
// ═══════════════════════════════════════════════════════════════════════════

func TestStore_RecordVerification_WithToken(t *testing.T) {
	conn := openTestDB(t)
	st := sqlitestore.New(conn, newTestWriter(t, conn))
	ctx := context.Background()

	tok := sampleToken
	err := st.RecordVerification(ctx, store.VerificationRecord{
		ID:              "ver-1",
		Token:           &tok,
		ConfidenceScore: 0.83,
		IsAuthentic:     true,
		CreatedAt:       time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("RecordVerification: %v", err)
	}

	var (
		gotTok    sql.NullString
		score     float64
		authentic int
	)
	if err := conn.QueryRowContext(ctx, `
SELECT token, confidence_score, is_authentic
FROM verification_records WHERE record_id = ?`, "ver-1",
	).Scan(&gotTok, &score, &authentic); err != nil {
		t.Fatalf("query: %v", err)
	}

	if !gotTok.Valid || gotTok.String != sampleToken {
		t.Errorf("expected token=%q, got %v", sampleToken, gotTok)
	}
	if score != 0.83 {
		t.Errorf("expected confidence_score=0.83, got %v", score)
	}
	if authentic != 1 {
		t.Errorf("expected is_authentic=1, got %d", authentic)
	}
}

func TestStore_RecordVerification_NullToken(t *testing.T) {
	conn := openTestDB(t)
	st := sqlitestore.New(conn, newTestWriter(t, conn))
	ctx := context.Background()

	err := st.RecordVerification(ctx, store.VerificationRecord{
		ID:              "ver-null",
		ConfidenceScore: 0.2,
	})
	if err != nil {
		t.Fatalf("RecordVerification: %v", err)
	}

	var (
		gotTok    sql.NullString
		authentic int
	)
	if err := conn.QueryRowContext(ctx,
		`SELECT token, is_authentic FROM verification_records WHERE record_id = ?`, "ver-null",
	).Scan(&gotTok, &authentic); err != nil {
		t.Fatalf("query: %v", err)
	}
	if gotTok.Valid {
		t.Errorf("expected token to be NULL, got %q", gotTok.String)
	}
	if authentic != 0 {
		t.Errorf("expected is_authentic=0, got %d", authentic)
	}
}

func TestStore_RecordVerification_AppendOnly(t *testing.T) {
	conn := openTestDB(t)
	st := sqlitestore.New(conn, newTestWriter(t, conn))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := st.RecordVerification(ctx, store.VerificationRecord{ConfidenceScore: 0.1}); err != nil {
			t.Fatalf("RecordVerification %d: %v", i, err)
		}
	}

	var count int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM verification_records`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 rows (append-only), got %d", count)
	}
}

func TestStore_RecordVerification_CancelledContext(t *testing.T) {
	conn := openTestDB(t)
	st := sqlitestore.New(conn, newTestWriter(t, conn))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := st.RecordVerification(ctx, store.VerificationRecord{}); err == nil {
		t.Fatal("expected an error for a cancelled context")
	}
}

// ── Open ─────────────────────────────────────────────────────────────────────

func TestOpen_FileDatabase_PingAndClose(t *testing.T) {
	ctx := context.Background()
	st, err := sqlitestore.Open(ctx, filepath.Join(t.TempDir(), "nested", "qrcore.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
	if err := st.RecordIssuance(ctx, store.IssuanceRecord{Token: sampleToken}); err != nil {
		t.Errorf("RecordIssuance: %v", err)
	}
	if err := st.Close(ctx); err != nil {
		t.Errorf("Close: %v", err)
	}
}
