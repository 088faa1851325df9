package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultBatchSize bounds how many entries one RunOnce publishes
const DefaultBatchSize = 100

// Relay moves pending entries from a Store to a Publisher
type Relay struct {
	store     Store
	publisher Publisher
	batchSize int
	now       func() time.Time
	logger    *slog.Logger
}

// RelayOption configures a Relay
type RelayOption func(*Relay)

// WithBatchSize sets the maximum entries published per RunOnce
func WithBatchSize(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithRelayLogger sets the relay logger
func WithRelayLogger(logger *slog.Logger) RelayOption {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRelayClock sets the clock used for dispatched_at
func WithRelayClock(now func() time.Time) RelayOption {
	return func(r *Relay) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRelay creates a relay from store to publisher
func NewRelay(store Store, publisher Publisher, opts ...RelayOption) *Relay {
	r := &Relay{
		store:     store,
		publisher: publisher,
		batchSize: DefaultBatchSize,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunOnce publishes one batch oldest first and marks each entry dispatched.
// The first publish failure stops the batch and leaves that entry pending.
// It returns the number of entries dispatched.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	pending, err := r.store.Pending(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to load pending entries: %w", err)
	}

	dispatched := 0
	for _, e := range pending {
		if err := r.publisher.Publish(ctx, e); err != nil {
			return dispatched, fmt.Errorf("failed to publish entry %s: %w", e.ID, err)
		}
		if err := r.store.MarkDispatched(ctx, e.ID, r.now().UTC()); err != nil {
			return dispatched, fmt.Errorf("failed to mark entry %s dispatched: %w", e.ID, err)
		}
		dispatched++
	}

	if dispatched > 0 {
		r.logger.Info("outbox entries dispatched", "count", dispatched)
	}
	return dispatched, nil
}

// Run calls RunOnce every interval until ctx is cancelled. Batch errors are
// logged and retried on the next tick.
func (r *Relay) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return nil
			}
			r.logger.Warn("outbox relay batch failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
