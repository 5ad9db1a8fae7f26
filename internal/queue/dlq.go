package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// DLQEntry is a task that exhausted its attempts.
type DLQEntry struct {
	Kind           string    `json:"kind"`
	IdempotencyKey string    `json:"idempotencyKey,omitempty"`
	Payload        []byte    `json:"payload"`
	Attempts       int       `json:"attempts"`
	LastError      string    `json:"lastError"`
	FailedAt       time.Time `json:"failedAt"`
}

// DLQ inspects and replays dead-lettered tasks.
type DLQ struct {
	R      *redis.Client
	Prefix string
}

// List returns up to limit entries, newest first.
func (d DLQ) List(ctx context.Context, kind string, limit int) ([]DLQEntry, error) {
	keys, err := d.keys(kind)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	raws, err := d.R.LRange(ctx, keys.dlq(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]DLQEntry, 0, len(raws))
	for _, raw := range raws {
		var entry DLQEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

// Size returns the number of dead-lettered tasks.
func (d DLQ) Size(ctx context.Context, kind string) (int64, error) {
	keys, err := d.keys(kind)
	if err != nil {
		return 0, err
	}
	return d.R.LLen(ctx, keys.dlq()).Result()
}

// Replay moves up to n of the oldest entries back to the ready set with fresh attempts.
func (d DLQ) Replay(ctx context.Context, kind string, n int, maxAttempts int) (int, error) {
	keys, err := d.keys(kind)
	if err != nil {
		return 0, err
	}
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	replayed := 0
	for replayed < n {
		raw, err := d.R.RPop(ctx, keys.dlq()).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return replayed, err
		}
		var entry DLQEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		msg := taskMessage{Kind: keys.kind, Key: entry.IdempotencyKey, Payload: entry.Payload, MaxAttempts: maxAttempts, AvailableAt: time.Now().UnixNano()}
		encoded, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		if err := d.R.ZAdd(ctx, keys.ready(), redis.Z{Score: float64(msg.AvailableAt), Member: encoded}).Err(); err != nil {
			_ = d.R.RPush(ctx, keys.dlq(), raw).Err()
			return replayed, err
		}
		replayed++
	}
	recordDLQ(ctx, d.R, keys)
	return replayed, nil
}

func (d DLQ) keys(kind string) (keyspace, error) {
	if d.R == nil {
		return keyspace{}, errors.New("queue: redis client not configured")
	}
	k := sanitizeKind(kind)
	if k == "" {
		return keyspace{}, errors.New("queue: task kind is required")
	}
	return keyspace{prefix: d.Prefix, kind: k}, nil
}
