// Package store persists call assessments.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
)

// ErrInvalidRecord is returned for records that fail validation. It is never retried.
var ErrInvalidRecord = errors.New("invalid call record")

// Score bounds accepted for storage.
const (
	MinScore = 1
	MaxScore = 10
)

// CallRecord is one stored assessment for a call.
type CallRecord struct {
	UserUUID    string    `bson:"user_uuid" firestore:"user_uuid" json:"user_uuid"`
	CallID      string    `bson:"call_id" firestore:"call_id" json:"call_id"`
	PhoneNumber string    `bson:"phone_number" firestore:"phone_number" json:"phone_number"`
	ScamScore   int       `bson:"scam_score" firestore:"scam_score" json:"scam_score"`
	Response    string    `bson:"response,omitempty" firestore:"response,omitempty" json:"response,omitempty"`
	Timestamp   time.Time `bson:"timestamp" firestore:"timestamp" json:"timestamp"`
}

// Validate checks required fields and the score range.
func (r CallRecord) Validate() error {
	if r.UserUUID == "" {
		return fmt.Errorf("%w: user_uuid is required", ErrInvalidRecord)
	}
	if r.CallID == "" {
		return fmt.Errorf("%w: call_id is required", ErrInvalidRecord)
	}
	if r.ScamScore < MinScore || r.ScamScore > MaxScore {
		return fmt.Errorf("%w: scam_score must be between %d and %d, got %d",
			ErrInvalidRecord, MinScore, MaxScore, r.ScamScore)
	}
	return nil
}

// Store saves call records.
type Store interface {
	SaveCall(ctx context.Context, rec CallRecord) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// RetryPolicy bounds every write: Attempts tries, exponential backoff from
// BaseDelay, each attempt limited to OperationTimeout.
type RetryPolicy struct {
	Attempts         int
	BaseDelay        time.Duration
	OperationTimeout time.Duration
}

// DefaultRetryPolicy returns 3 attempts, 1s/2s backoff and a 10s per-attempt timeout.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:         3,
		BaseDelay:        time.Second,
		OperationTimeout: 10 * time.Second,
	}
}

func (p RetryPolicy) backoff() retry.Backoff {
	attempts := max(p.Attempts, 1)
	base := p.BaseDelay
	if base <= 0 {
		base = time.Millisecond
	}
	return retry.WithMaxRetries(uint64(attempts-1), retry.NewExponential(base))
}

// do runs op under the policy. Errors wrapping ErrInvalidRecord stop immediately.
func (p RetryPolicy) do(ctx context.Context, op func(ctx context.Context) error) error {
	return retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		opCtx := ctx
		if p.OperationTimeout > 0 {
			var cancel context.CancelFunc
			opCtx, cancel = context.WithTimeout(ctx, p.OperationTimeout)
			defer cancel()
		}

		err := op(opCtx)
		if err == nil || errors.Is(err, ErrInvalidRecord) {
			return err
		}
		return retry.RetryableError(err)
	})
}
