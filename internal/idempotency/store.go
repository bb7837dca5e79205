// Package idempotency provides cache-backed claim semantics for retry-safe
// billing operations. The store is advisory: the database advisory lock is
// the authoritative correctness mechanism, this layer short-circuits client
// retries before they reach the gateway.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pressplane/pressplane/internal/clock"
	"github.com/pressplane/pressplane/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "idempotency:billing:"

// Status is the lifecycle state of an idempotency record.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Record is the cache-resident value for one logical operation attempt.
type Record struct {
	Status    Status         `json:"status"`
	Result    map[string]any `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	StartedAt time.Time      `json:"started_at,omitempty"`
}

// ClaimOutcome reports whether the claim was obtained. When it was not,
// Entry holds the existing record if one could be read and parsed; a nil
// Entry means the key vanished between the conditional set and the follow-up
// read, and the caller should ask the client to retry immediately.
type ClaimOutcome struct {
	Claimed bool
	Entry   *Record
}

// ErrEntryCorrupted signals an existing entry that could not be parsed.
// Callers must fail safe: refuse to start a fresh attempt, because the
// unparseable claim cannot be attributed to a crashed process and deleting
// it under concurrent access risks double execution.
var ErrEntryCorrupted = errors.New("idempotency_entry_corrupted")

type Store struct {
	client *redis.Client
	holder *config.BillingConfigHolder
	clock  clock.Clock
	log    *zap.Logger
}

func NewStore(client *redis.Client, holder *config.BillingConfigHolder, clk clock.Clock, log *zap.Logger) *Store {
	return &Store{
		client: client,
		holder: holder,
		clock:  clk,
		log:    log.Named("idempotency.store"),
	}
}

// Key derives the deterministic cache key for one logical operation.
// Identifiers are opaque and pass through byte-for-byte.
func Key(operation, orgID string) string {
	return keyPrefix + operation + ":" + orgID
}

// TryClaim atomically marks the key as processing if and only if it is
// absent. A single SET NX carries the whole claim; there is no separate
// read-then-write window.
func (s *Store) TryClaim(ctx context.Context, key string) (ClaimOutcome, error) {
	if key == "" {
		return ClaimOutcome{}, errors.New("idempotency key is empty")
	}

	record := Record{
		Status:    StatusProcessing,
		StartedAt: s.clock.Now(),
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return ClaimOutcome{}, fmt.Errorf("marshal idempotency record: %w", err)
	}

	ok, err := s.client.SetNX(ctx, key, payload, s.ttl()).Result()
	if err != nil {
		return ClaimOutcome{}, fmt.Errorf("claim idempotency key: %w", err)
	}
	if ok {
		return ClaimOutcome{Claimed: true}, nil
	}

	raw, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// The key expired between the failed set and this read. Not a
		// terminal state; the caller should retry the whole operation.
		return ClaimOutcome{Claimed: false}, nil
	}
	if err != nil {
		return ClaimOutcome{}, fmt.Errorf("read existing idempotency entry: %w", err)
	}

	var existing Record
	if err := json.Unmarshal([]byte(raw), &existing); err != nil || existing.Status == "" {
		s.log.Error("unparseable idempotency entry, refusing to proceed",
			zap.String("key", key),
		)
		return ClaimOutcome{Claimed: false}, ErrEntryCorrupted
	}

	return ClaimOutcome{Claimed: false, Entry: &existing}, nil
}

// SetStatus overwrites the record with a terminal state and refreshes the TTL.
func (s *Store) SetStatus(ctx context.Context, key string, status Status, result map[string]any, errMsg string) error {
	record := Record{
		Status: status,
		Result: result,
		Error:  errMsg,
	}
	if status == StatusProcessing {
		record.StartedAt = s.clock.Now()
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal idempotency record: %w", err)
	}
	if err := s.client.Set(ctx, key, payload, s.ttl()).Err(); err != nil {
		return fmt.Errorf("store idempotency status: %w", err)
	}
	return nil
}

// Delete removes the key. Used only by operators and tests; the engine
// relies on TTL expiry instead of deleting claims it cannot attribute.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// ProcessingTimeout reports how long a processing claim may stand before
// callers surface a timeout to the client.
func (s *Store) ProcessingTimeout() time.Duration {
	return s.holder.Get().ProcessingTimeout
}

func (s *Store) ttl() time.Duration {
	return s.holder.Get().IdempotencyTTL
}
