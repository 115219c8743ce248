package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/protectedqr/qrcore/server/internal/qrcore/store"
)

const (
	IssuancesCollection     = "issuances"
	VerificationsCollection = "verifications"
)

// issuanceDoc and verificationDoc are the persisted shapes. Record IDs are
// stored as _id so a replayed insert fails on the primary key.
type issuanceDoc struct {
	ID             string    `bson:"_id"`
	Token          string    `bson:"token"`
	DataHash       string    `bson:"data_hash"`
	MetadataSeries string    `bson:"metadata_series"`
	MetadataIssued string    `bson:"metadata_issued"`
	MetadataExpiry string    `bson:"metadata_expiry"`
	CreatedAt      time.Time `bson:"created_at"`
}

type verificationDoc struct {
	ID              string    `bson:"_id"`
	Token           *string   `bson:"token"`
	ConfidenceScore float64   `bson:"confidence_score"`
	IsAuthentic     bool      `bson:"is_authentic"`
	CreatedAt       time.Time `bson:"created_at"`
}

// Store appends records to two MongoDB collections. Every append is a single
// InsertOne, which MongoDB applies atomically.
type Store struct {
	client        *mongo.Client
	issuances     *mongo.Collection
	verifications *mongo.Collection
}

// Open connects to uri, verifies the connection and ensures indexes on the
// record collections of dbName.
func Open(ctx context.Context, uri, dbName string) (*Store, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is empty")
	}
	if dbName == "" {
		return nil, errors.New("mongo database name is empty")
	}

	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cli.Ping(pctx, readpref.Primary()); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	db := cli.Database(dbName)
	s := &Store{
		client:        cli,
		issuances:     db.Collection(IssuancesCollection),
		verifications: db.Collection(VerificationsCollection),
	}

	if err := s.ensureIndexes(ctx); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	if _, err := s.issuances.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "token", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("ensure %s indexes: %w", IssuancesCollection, err)
	}
	if _, err := s.verifications.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "created_at", Value: 1}},
	}); err != nil {
		return fmt.Errorf("ensure %s indexes: %w", VerificationsCollection, err)
	}
	return nil
}

func (s *Store) RecordIssuance(ctx context.Context, rec store.IssuanceRecord) error {
	rec.Normalise()
	_, err := s.issuances.InsertOne(ctx, issuanceDoc{
		ID:             rec.ID,
		Token:          rec.Token,
		DataHash:       rec.DataHash,
		MetadataSeries: rec.MetadataSeries,
		MetadataIssued: rec.MetadataIssued,
		MetadataExpiry: rec.MetadataExpiry,
		CreatedAt:      rec.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("RecordIssuance insert: %w", err)
	}
	return nil
}

func (s *Store) RecordVerification(ctx context.Context, rec store.VerificationRecord) error {
	rec.Normalise()
	_, err := s.verifications.InsertOne(ctx, verificationDoc{
		ID:              rec.ID,
		Token:           rec.Token,
		ConfidenceScore: rec.ConfidenceScore,
		IsAuthentic:     rec.IsAuthentic,
		CreatedAt:       rec.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("RecordVerification insert: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
