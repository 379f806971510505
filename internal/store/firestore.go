package store

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"scam-call-guard/internal/observability/logging"
	"scam-call-guard/internal/observability/metrics"
)

// documents is the subset of a Firestore collection the store uses.
type documents interface {
	Set(ctx context.Context, docID string, rec CallRecord) error
	Reach(ctx context.Context) error
	Close() error
}

// firestoreCollection binds a client to one collection.
type firestoreCollection struct {
	client *firestore.Client
	name   string
}

func (c firestoreCollection) Set(ctx context.Context, docID string, rec CallRecord) error {
	_, err := c.client.Collection(c.name).Doc(docID).Set(ctx, rec)
	return err
}

func (c firestoreCollection) Reach(ctx context.Context) error {
	iter := c.client.Collection(c.name).Limit(1).Documents(ctx)
	defer iter.Stop()
	_, err := iter.GetAll()
	return err
}

func (c firestoreCollection) Close() error {
	return c.client.Close()
}

// FirestoreStore writes call records to a Firestore collection, one document
// per assessment.
type FirestoreStore struct {
	docs    documents
	retry   RetryPolicy
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewFirestoreStore wraps an existing client, usually obtained from the Firebase app.
func NewFirestoreStore(client *firestore.Client, collection string, policy RetryPolicy) *FirestoreStore {
	return newFirestoreStore(firestoreCollection{client: client, name: collection}, policy)
}

// OpenFirestoreStore wraps client and verifies the collection is reachable.
// The client is closed when the check fails.
func OpenFirestoreStore(ctx context.Context, client *firestore.Client, collection string, policy RetryPolicy) (*FirestoreStore, error) {
	s := NewFirestoreStore(client, collection, policy)
	if err := s.Ping(ctx); err != nil {
		_ = s.Close(ctx)
		return nil, err
	}
	s.logger.Info().Str("collection", collection).Msg("Connected to Firestore")
	return s, nil
}

func newFirestoreStore(docs documents, policy RetryPolicy) *FirestoreStore {
	return &FirestoreStore{
		docs:    docs,
		retry:   policy,
		metrics: metrics.DefaultMetrics,
		logger:  logging.WithComponent("store.firestore"),
	}
}

// SaveCall validates and writes rec, retrying transient failures.
func (s *FirestoreStore) SaveCall(ctx context.Context, rec CallRecord) error {
	if err := rec.Validate(); err != nil {
		s.metrics.RecordPersistence("firestore", err)
		return err
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	docID := fmt.Sprintf("%s-%s", rec.CallID, uuid.NewString())
	err := s.retry.do(ctx, func(ctx context.Context) error {
		err := s.docs.Set(ctx, docID, rec)
		if err != nil {
			s.logger.Warn().Err(err).Str("callId", rec.CallID).Msg("Firestore write failed")
		}
		return err
	})

	s.metrics.RecordPersistence("firestore", err)
	if err != nil {
		return fmt.Errorf("save call %s: %w", rec.CallID, err)
	}
	s.logger.Info().Str("callId", rec.CallID).Str("doc", docID).Msg("Call record saved")
	return nil
}

// Ping reads at most one document to confirm the collection is reachable.
func (s *FirestoreStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.docs.Reach(ctx); err != nil {
		return fmt.Errorf("ping firestore: %w", err)
	}
	return nil
}

// Close closes the client.
func (s *FirestoreStore) Close(context.Context) error {
	return s.docs.Close()
}
