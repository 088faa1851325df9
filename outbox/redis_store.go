package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces every key written by RedisStore
const DefaultRedisPrefix = "campus:outbox"

// RedisStore implements Store with one JSON string per entry and a sorted
// set of pending IDs scored by a monotonic sequence.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a Redis-backed Store. An empty prefix uses DefaultRedisPrefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) entryKey(id string) string { return s.prefix + ":entry:" + id }
func (s *RedisStore) pendingKey() string       { return s.prefix + ":pending" }
func (s *RedisStore) seqKey() string           { return s.prefix + ":seq" }

// maxEnqueueAttempts bounds retries when a watched entry key changes mid-batch
const maxEnqueueAttempts = 3

// Enqueue writes the whole batch in one MULTI/EXEC under WATCH on every entry
// key. Any ID that is repeated or already stored rejects the batch with
// ErrDuplicate and nothing is written.
func (s *RedisStore) Enqueue(ctx context.Context, entries ...*Entry) error {
	if len(entries) == 0 {
		return nil
	}

	now := time.Now().UTC()
	keys := make([]string, len(entries))
	payloads := make([][]byte, len(entries))
	pending := make([]bool, len(entries))
	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		if seen[e.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicate, e.ID)
		}
		seen[e.ID] = true

		stored := e.clone()
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = now
		}
		if stored.Status == "" {
			stored.Status = StatusPending
		}

		data, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("failed to marshal outbox entry: %w", err)
		}
		keys[i] = s.entryKey(stored.ID)
		payloads[i] = data
		pending[i] = stored.Status == StatusPending
	}

	// a rejected batch leaves a gap in the sequence
	last, err := s.client.IncrBy(ctx, s.seqKey(), int64(len(entries))).Result()
	if err != nil {
		return fmt.Errorf("failed to allocate outbox sequence: %w", err)
	}
	first := last - int64(len(entries)) + 1

	txf := func(tx *redis.Tx) error {
		for i, key := range keys {
			n, err := tx.Exists(ctx, key).Result()
			if err != nil {
				return err
			}
			if n > 0 {
				return fmt.Errorf("%w: %s", ErrDuplicate, entries[i].ID)
			}
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, key := range keys {
				pipe.Set(ctx, key, payloads[i], 0)
				if pending[i] {
					pipe.ZAdd(ctx, s.pendingKey(), redis.Z{Score: float64(first + int64(i)), Member: entries[i].ID})
				}
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxEnqueueAttempts; attempt++ {
		err = s.client.Watch(ctx, txf, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			return err
		}
		return fmt.Errorf("failed to store outbox entries: %w", err)
	}
	return nil
}

// Pending returns pending entries in enqueue order
func (s *RedisStore) Pending(ctx context.Context, limit int) ([]*Entry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	ids, err := s.client.ZRange(ctx, s.pendingKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list pending entries: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.entryKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load pending entries: %w", err)
	}

	entries := make([]*Entry, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: pending id %s has no entry", ErrNotFound, ids[i])
		}
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("failed to decode outbox entry %s: %w", ids[i], err)
		}
		entries = append(entries, &e)
	}
	return entries, nil
}

// MarkDispatched rewrites the entry and drops it from the pending index atomically
func (s *RedisStore) MarkDispatched(ctx context.Context, id string, at time.Time) error {
	e, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	e.Status = StatusDispatched
	e.DispatchedAt = &at

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal outbox entry: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.entryKey(id), data, 0)
		pipe.ZRem(ctx, s.pendingKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to mark entry dispatched: %w", err)
	}
	return nil
}

// Get retrieves an entry by ID
func (s *RedisStore) Get(ctx context.Context, id string) (*Entry, error) {
	raw, err := s.client.Get(ctx, s.entryKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox entry: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("failed to decode outbox entry %s: %w", id, err)
	}
	return &e, nil
}
