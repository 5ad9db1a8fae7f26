package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/nushkakush/experiencetrack-dash-sub003/internal/resilience"
)

// Task represents a job to be processed asynchronously.
type Task struct {
	Kind           string
	Payload        []byte
	IdempotencyKey string
	MaxAttempts    int
	Delay          time.Duration
	// Attempt is set for handlers; it starts at 1.
	Attempt int
}

type keyspace struct {
	prefix string
	kind   string
}

func (k keyspace) base() string {
	if k.prefix == "" {
		return "queue"
	}
	return k.prefix + ":queue"
}

func (k keyspace) ready() string      { return k.base() + ":" + k.kind }
func (k keyspace) processing() string { return k.base() + ":" + k.kind + ":processing" }
func (k keyspace) dlq() string        { return k.base() + ":" + k.kind + ":dlq" }
func (k keyspace) dedup(key string) string {
	return k.base() + ":dedup:" + k.kind + ":" + key
}

// Enqueuer publishes tasks to Redis sorted sets scored by their due time.
type Enqueuer struct {
	R        *redis.Client
	Prefix   string
	DedupTTL time.Duration
}

// Enqueue inserts the task. With an idempotency key the task is accepted once per
// deduplication window; a duplicate returns ErrDuplicate.
func (e Enqueuer) Enqueue(ctx context.Context, t Task) error {
	if e.R == nil {
		return errors.New("queue: redis client not configured")
	}
	kind := sanitizeKind(t.Kind)
	if kind == "" {
		return errors.New("queue: task kind is required")
	}
	keys := keyspace{prefix: e.Prefix, kind: kind}
	msg := taskMessage{
		Kind:        kind,
		Key:         t.IdempotencyKey,
		Payload:     t.Payload,
		MaxAttempts: t.MaxAttempts,
		AvailableAt: time.Now().Add(t.Delay).UnixNano(),
	}
	if msg.MaxAttempts <= 0 {
		msg.MaxAttempts = 10
	}

	if msg.Key != "" {
		ttl := e.DedupTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		ok, err := e.R.SetNX(ctx, keys.dedup(msg.Key), "1", ttl).Result()
		if err != nil {
			return err
		}
		if !ok {
			return ErrDuplicate
		}
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := e.R.ZAdd(ctx, keys.ready(), redis.Z{Score: float64(msg.AvailableAt), Member: raw}).Err(); err != nil {
		return err
	}
	recordDepth(ctx, e.R, keys)
	return nil
}

// ErrDuplicate reports a task whose idempotency key is still remembered.
var ErrDuplicate = errors.New("queue: duplicate task")

func sanitizeKind(kind string) string {
	for i := 0; i < len(kind); i++ {
		c := kind[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return ""
		}
	}
	return kind
}

// Worker consumes tasks for a specific kind.
type Worker struct {
	R                 *redis.Client
	Prefix            string
	Kind              string
	Concurrency       int
	VisibilityTimeout time.Duration
	Handler           func(context.Context, Task) error
	RetryBase         time.Duration
	RetryJitter       float64
	PollInterval      time.Duration
	Logger            zerolog.Logger
}

// Run processes tasks until ctx is cancelled, then waits for in-flight handlers.
// Claimed tasks sit in a processing set until acked so a crashed worker's tasks are redelivered.
func (w Worker) Run(ctx context.Context) error {
	if w.R == nil {
		return errors.New("queue: worker redis client not configured")
	}
	if w.Handler == nil {
		return errors.New("queue: worker handler not configured")
	}
	kind := sanitizeKind(w.Kind)
	if kind == "" {
		return errors.New("queue: worker kind is required")
	}
	keys := keyspace{prefix: w.Prefix, kind: kind}
	concurrency := max(w.Concurrency, 1)
	visibility := w.VisibilityTimeout
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	retryBase := w.RetryBase
	if retryBase <= 0 {
		retryBase = 200 * time.Millisecond
	}
	poll := w.PollInterval
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	requeueTicker := time.NewTicker(time.Second)
	defer requeueTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-requeueTicker.C:
			if err := w.requeueExpired(ctx, keys); err != nil && ctx.Err() == nil {
				return err
			}
		default:
		}

		msg, raw, ok, err := w.claim(ctx, keys, visibility)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if !ok {
			sleep(ctx, poll)
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			_ = w.R.ZRem(context.Background(), keys.processing(), raw).Err()
			return nil
		}
		wg.Add(1)
		go func(raw string, m taskMessage) {
			defer func() { <-sem }()
			defer wg.Done()
			task := Task{Kind: kind, Payload: m.Payload, IdempotencyKey: m.Key, MaxAttempts: m.MaxAttempts, Attempt: m.Attempt}
			if err := w.Handler(ctx, task); err != nil {
				w.fail(context.WithoutCancel(ctx), keys, raw, m, retryBase, err)
				return
			}
			w.ack(context.WithoutCancel(ctx), keys, raw, m)
		}(raw, msg)
	}
}

// claim pops the earliest due task and parks it in the processing set.
func (w Worker) claim(ctx context.Context, keys keyspace, visibility time.Duration) (taskMessage, string, bool, error) {
	now := time.Now().UnixNano()
	due, err := w.R.ZRangeByScore(ctx, keys.ready(), &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%d", now), Count: 1}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return taskMessage{}, "", false, err
	}
	if len(due) == 0 {
		return taskMessage{}, "", false, nil
	}
	removed, err := w.R.ZRem(ctx, keys.ready(), due[0]).Result()
	if err != nil {
		return taskMessage{}, "", false, err
	}
	if removed == 0 {
		// another worker claimed it first
		return taskMessage{}, "", false, nil
	}
	msg, err := decodeMessage(due[0])
	if err != nil {
		w.Logger.Warn().Err(err).Str("kind", keys.kind).Msg("queue: dropping undecodable task")
		return taskMessage{}, "", false, nil
	}
	msg.Attempt++
	encoded, err := json.Marshal(msg)
	if err != nil {
		return taskMessage{}, "", false, err
	}
	raw := string(encoded)
	deadline := time.Now().Add(visibility).UnixNano()
	if err := w.R.ZAdd(ctx, keys.processing(), redis.Z{Score: float64(deadline), Member: raw}).Err(); err != nil {
		return taskMessage{}, "", false, err
	}
	return msg, raw, true, nil
}

func (w Worker) fail(ctx context.Context, keys keyspace, raw string, msg taskMessage, base time.Duration, cause error) {
	_ = w.R.ZRem(ctx, keys.processing(), raw).Err()
	if msg.MaxAttempts > 0 && msg.Attempt >= msg.MaxAttempts {
		entry := DLQEntry{Kind: msg.Kind, IdempotencyKey: msg.Key, Payload: msg.Payload, Attempts: msg.Attempt, LastError: cause.Error(), FailedAt: time.Now().UTC()}
		encoded, err := json.Marshal(entry)
		if err == nil {
			_ = w.R.LPush(ctx, keys.dlq(), encoded).Err()
		}
		if msg.Key != "" {
			_ = w.R.Del(ctx, keys.dedup(msg.Key)).Err()
		}
		recordProcessed(msg.Kind, "dlq")
		recordDLQ(ctx, w.R, keys)
		w.Logger.Error().Err(cause).Str("kind", msg.Kind).Str("key", msg.Key).Int("attempts", msg.Attempt).Msg("queue: task moved to DLQ")
		return
	}
	delay := resilience.Backoff(base, msg.Attempt, w.RetryJitter)
	msg.AvailableAt = time.Now().Add(delay).UnixNano()
	encoded, err := json.Marshal(msg)
	if err != nil {
		return
	}
	_ = w.R.ZAdd(ctx, keys.ready(), redis.Z{Score: float64(msg.AvailableAt), Member: string(encoded)}).Err()
	recordProcessed(msg.Kind, "retry")
	w.Logger.Warn().Err(cause).Str("kind", msg.Kind).Int("attempt", msg.Attempt).Dur("retry_in", delay).Msg("queue: task failed")
}

func (w Worker) ack(ctx context.Context, keys keyspace, raw string, msg taskMessage) {
	_ = w.R.ZRem(ctx, keys.processing(), raw).Err()
	if msg.Key != "" {
		_ = w.R.Del(ctx, keys.dedup(msg.Key)).Err()
	}
	recordProcessed(msg.Kind, "ok")
	recordDepth(ctx, w.R, keys)
}

// requeueExpired returns tasks whose visibility deadline passed to the ready set.
func (w Worker) requeueExpired(ctx context.Context, keys keyspace) error {
	now := time.Now().UnixNano()
	due, err := w.R.ZRangeByScore(ctx, keys.processing(), &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprintf("%d", now)}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	for _, raw := range due {
		removed, err := w.R.ZRem(ctx, keys.processing(), raw).Result()
		if err != nil || removed == 0 {
			continue
		}
		msg, err := decodeMessage(raw)
		if err != nil {
			continue
		}
		msg.AvailableAt = time.Now().UnixNano()
		encoded, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		_ = w.R.ZAdd(ctx, keys.ready(), redis.Z{Score: float64(msg.AvailableAt), Member: encoded}).Err()
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func decodeMessage(raw string) (taskMessage, error) {
	var msg taskMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return taskMessage{}, err
	}
	return msg, nil
}

type taskMessage struct {
	Kind        string `json:"kind"`
	Key         string `json:"key,omitempty"`
	Payload     []byte `json:"payload"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
	AvailableAt int64  `json:"available_at"`
}
