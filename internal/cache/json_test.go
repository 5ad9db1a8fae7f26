package cache_test

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/nushkakush/experiencetrack-dash-sub003/internal/cache"
)

type payload struct {
	Plan  string  `json:"plan"`
	Total float64 `json:"total"`
}

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestJSONRoundTripAndExpiry(t *testing.T) {
	mr, client := newClient(t)
	c := cache.NewJSON(client, time.Minute)
	ctx := context.Background()
	key := cache.KeyCohortReview("c1", "one_shot", "", 85)

	var got payload
	ok, err := c.GetJSON(ctx, key, &got)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.SetJSON(ctx, key, payload{Plan: "one_shot", Total: 522900}))
	ok, err = c.GetJSON(ctx, key, &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 522900.0, got.Total)

	mr.FastForward(2 * time.Minute)
	ok, err = c.GetJSON(ctx, key, &got)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeleteMatchingScopesToCohort(t *testing.T) {
	_, client := newClient(t)
	c := cache.NewJSON(client, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.SetJSON(ctx, cache.KeyCohortReview("c1", "one_shot", "s1", 0), payload{}))
	require.NoError(t, c.SetJSON(ctx, cache.KeyStudentReview("c1", "stu", "sem_wise", "", 0), payload{}))
	require.NoError(t, c.SetJSON(ctx, cache.KeyCohortReview("c2", "one_shot", "s1", 0), payload{}))

	n, err := c.DeleteMatching(ctx, cache.CohortPattern("c1"))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	var got payload
	ok, err := c.GetJSON(ctx, cache.KeyCohortReview("c2", "one_shot", "s1", 0), &got)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestNilCacheIsNoop(t *testing.T) {
	var c *cache.JSON
	ok, err := c.GetJSON(context.Background(), "k", &payload{})
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, c.SetJSON(context.Background(), "k", payload{}))
}

func TestKeysFillBlankParts(t *testing.T) {
	require.Equal(t, "fee-review:c1:cohort:sem_wise:-:72.5", cache.KeyCohortReview("c1", "sem_wise", "", 72.5))
	require.Equal(t, "fee-review:c1:student:s9:one_shot:-:85", cache.KeyStudentReview("c1", "s9", "one_shot", " ", 85))
}
