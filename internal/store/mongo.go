package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"scam-call-guard/internal/observability/logging"
	"scam-call-guard/internal/observability/metrics"
)

// MongoConfig holds MongoDB settings.
type MongoConfig struct {
	URI            string
	Database       string
	Collection     string
	ConnectTimeout time.Duration
	Retry          RetryPolicy
}

// inserter is the subset of *mongo.Collection used for writes.
type inserter interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
}

// MongoStore writes call records to a MongoDB collection.
type MongoStore struct {
	client     *mongo.Client
	collection inserter
	retry      RetryPolicy
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// NewMongoStore connects to MongoDB and verifies the connection with a ping.
func NewMongoStore(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("mongo uri is required")
	}

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetMaxPoolSize(10).
		SetMinPoolSize(1).
		SetServerSelectionTimeout(5 * time.Second).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetSocketTimeout(cfg.Retry.OperationTimeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}

	s := &MongoStore{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		retry:      cfg.Retry,
		metrics:    metrics.DefaultMetrics,
		logger:     logging.WithComponent("store.mongo"),
	}

	if err := s.Ping(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	s.logger.Info().
		Str("database", cfg.Database).
		Str("collection", cfg.Collection).
		Msg("MongoDB store ready")
	return s, nil
}

// SaveCall validates and inserts rec, retrying transient failures.
func (s *MongoStore) SaveCall(ctx context.Context, rec CallRecord) error {
	if err := rec.Validate(); err != nil {
		s.metrics.RecordPersistence("mongo", err)
		return err
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	attempt := 0
	err := s.retry.do(ctx, func(ctx context.Context) error {
		attempt++
		res, err := s.collection.InsertOne(ctx, rec)
		if err != nil {
			s.logger.Warn().
				Err(err).
				Int("attempt", attempt).
				Str("callId", rec.CallID).
				Msg("Insert failed")
			return err
		}
		s.logger.Info().
			Interface("insertedId", res.InsertedID).
			Str("callId", rec.CallID).
			Int("score", rec.ScamScore).
			Msg("Call record saved")
		return nil
	})

	s.metrics.RecordPersistence("mongo", err)
	if err != nil {
		return fmt.Errorf("save call %s: %w", rec.CallID, err)
	}
	return nil
}

// Ping checks that the primary is reachable.
func (s *MongoStore) Ping(ctx context.Context) error {
	if s.client == nil {
		return fmt.Errorf("mongo client not connected")
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("ping mongo: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	s.logger.Info().Msg("Closing MongoDB connection")
	return s.client.Disconnect(ctx)
}
