package feereview

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/nushkakush/experiencetrack-dash-sub003/internal/cache"
	"github.com/nushkakush/experiencetrack-dash-sub003/internal/fees"
)

func tiers() []fees.Scholarship {
	return []fees.Scholarship{
		{ID: "temp-1", Name: "Merit", StartPercent: 60, EndPercent: 80, AmountPercent: 10},
		{ID: "temp-2", Name: "Topper", StartPercent: 80, EndPercent: 100, AmountPercent: 25},
	}
}

func TestWarmCohortFillsSharedCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.SaveFeeStructure(ctx, "c1", sampleStructure(), false)
	require.NoError(t, err)
	saved, err := f.svc.SaveScholarships(ctx, "c1", tiers())
	require.NoError(t, err)

	n, err := f.svc.WarmCohort(ctx, "c1", "2025-02-01")
	require.NoError(t, err)
	require.Equal(t, len(fees.Plans)*(len(saved)+1), n)

	gets := f.store.structureGets
	review, err := f.svc.CohortReview(ctx, "c1", ReviewQuery{Plan: fees.PlanSemWise, ScholarshipID: saved[1].ID, CohortStartDate: "2025-02-01"})
	require.NoError(t, err)
	require.Equal(t, gets, f.store.structureGets)
	require.InDelta(t, 125000, review.OverallSummary.TotalScholarship, 0.001)
	require.Equal(t, "2025-02-01", review.Instalments()[0].PaymentDate)
}

func TestWarmCohortMissingStructure(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.WarmCohort(context.Background(), "nope", "")
	requireStatus(t, err, http.StatusNotFound)
}

func TestWarmOnSaveRunsInBackground(t *testing.T) {
	f := newFixture(t)
	svc, err := NewService(ServiceConfig{
		Store:      f.store,
		Cache:      cache.NewJSON(f.redis, time.Minute),
		Logger:     zerolog.Nop(),
		Now:        func() time.Time { return time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC) },
		WarmOnSave: true,
	})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = svc.SaveFeeStructure(ctx, "c1", sampleStructure(), false)
	require.NoError(t, err)
	svc.Wait()
	_, err = svc.SaveScholarships(ctx, "c1", tiers())
	require.NoError(t, err)
	svc.Wait()

	keys, err := f.redis.Keys(ctx, cache.CohortPattern("c1")).Result()
	require.NoError(t, err)
	require.Len(t, keys, len(fees.Plans)*3)
}

func TestWarmEndpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.SaveFeeStructure(ctx, "c1", sampleStructure(), false)
	require.NoError(t, err)

	h := &Handler{Service: f.svc}
	r := chi.NewRouter()
	r.Route("/api/v1", h.Register)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/cohorts/c1/fee-review/warm", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"data":{"cached":3}}`, rec.Body.String())
}
