package reviewcache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/nushkakush/experiencetrack-dash-sub003/internal/fees"
)

func testInput() fees.Input {
	return fees.Input{
		Structure: fees.FeeStructure{
			AdmissionFee:           50000,
			TotalProgramFee:        500000,
			NumberOfSemesters:      4,
			InstalmentsPerSemester: 3,
			OneShotDiscountPercent: 10,
		},
		Scholarships: []fees.Scholarship{
			{ID: "s-merit", Name: "Merit", StartPercent: 60, EndPercent: 80, AmountPercent: 10},
			{ID: "s-top", Name: "Topper", StartPercent: 80, EndPercent: 100, AmountPercent: 20},
		},
		TestScore:       85,
		CohortStartDate: "2025-01-01",
	}
}

type harness struct {
	session *Session
	results chan Result
	calls   *atomic.Int32
}

func newHarness(t *testing.T, debounce time.Duration, compute func(fees.Input) (fees.Review, error)) harness {
	t.Helper()
	calls := &atomic.Int32{}
	if compute == nil {
		compute = fees.GenerateReview
	}
	results := make(chan Result, 16)
	s := New(Config{
		Input:    testInput(),
		Debounce: debounce,
		Logger:   zerolog.Nop(),
		OnUpdate: func(r Result) { results <- r },
		Compute: func(in fees.Input) (fees.Review, error) {
			calls.Add(1)
			return compute(in)
		},
	})
	t.Cleanup(s.Close)
	return harness{session: s, results: results, calls: calls}
}

func (h harness) next(t *testing.T) Result {
	t.Helper()
	select {
	case r := <-h.results:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for review")
		return Result{}
	}
}

func (h harness) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case r := <-h.results:
		t.Fatalf("unexpected review for %+v", r.Key)
	case <-time.After(wait):
	}
}

func TestSessionServesHitsSynchronously(t *testing.T) {
	h := newHarness(t, 20*time.Millisecond, nil)
	sel := Selection{Plan: fees.PlanInstalmentWise, ScholarshipID: fees.NoScholarship}

	_, hit := h.session.Update(sel)
	require.False(t, hit)
	first := h.next(t)
	require.NoError(t, first.Err)
	require.Len(t, first.Review.Instalments(), 12)

	review, hit := h.session.Update(sel)
	require.True(t, hit)
	require.Equal(t, first.Review, review)
	require.EqualValues(t, 1, h.calls.Load())
	h.none(t, 50*time.Millisecond)
}

func TestSessionPlanSwitchSkipsDebounce(t *testing.T) {
	h := newHarness(t, time.Hour, nil)

	h.session.Update(Selection{Plan: fees.PlanOneShot, ScholarshipID: fees.NoScholarship})
	require.Equal(t, fees.PlanOneShot, h.next(t).Review.Plan)

	h.session.Update(Selection{Plan: fees.PlanSemWise, ScholarshipID: fees.NoScholarship})
	require.Equal(t, fees.PlanSemWise, h.next(t).Review.Plan)

	h.session.Update(Selection{Plan: fees.PlanSemWise, ScholarshipID: "s-top"})
	r := h.next(t)
	require.Equal(t, "s-top", r.Review.ScholarshipID)
}

func TestSessionCoalescesDateEdits(t *testing.T) {
	h := newHarness(t, 60*time.Millisecond, nil)
	base := Selection{Plan: fees.PlanSemWise, ScholarshipID: fees.NoScholarship}
	h.session.Update(base)
	h.next(t)

	for _, day := range []string{"2025-01-05", "2025-01-10", "2025-01-15"} {
		sel := base
		sel.CustomDates = map[string]string{"semester-1": day}
		_, hit := h.session.Update(sel)
		require.False(t, hit)
	}

	r := h.next(t)
	require.NoError(t, r.Err)
	require.Equal(t, "2025-01-15", r.Review.Instalments()[0].PaymentDate)
	require.Equal(t, `{"semester-1":"2025-01-15"}`, r.Key.Dates)
	h.none(t, 150*time.Millisecond)
	require.EqualValues(t, 2, h.calls.Load())
}

func TestSessionFallbackIsNotCached(t *testing.T) {
	boom := errors.New("boom")
	h := newHarness(t, 10*time.Millisecond, func(fees.Input) (fees.Review, error) {
		return fees.Review{}, boom
	})
	sel := Selection{Plan: fees.PlanOneShot, ScholarshipID: fees.NoScholarship}

	h.session.Update(sel)
	r := h.next(t)
	require.ErrorIs(t, r.Err, boom)
	require.True(t, r.Review.Degraded)
	require.Equal(t, 500000.0, r.Review.OverallSummary.TotalProgramFee)

	_, hit := h.session.Update(sel)
	require.False(t, hit)
	h.next(t)
	require.Zero(t, h.session.Len())
	_, ok := h.session.LastGood()
	require.False(t, ok)
}

func TestSessionKeepsLastGoodReview(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond, nil)
	good := Selection{Plan: fees.PlanOneShot, ScholarshipID: fees.NoScholarship}
	h.session.Update(good)
	first := h.next(t)

	review, hit := h.session.Update(Selection{Plan: fees.PlanOneShot, ScholarshipID: "missing"})
	require.False(t, hit)
	require.Equal(t, first.Review, review)
	r := h.next(t)
	require.ErrorIs(t, r.Err, fees.ErrScholarshipNotFound)

	last, ok := h.session.LastGood()
	require.True(t, ok)
	require.Equal(t, first.Review, last)
}

func TestSessionPreloadFillsEveryCombination(t *testing.T) {
	h := newHarness(t, time.Hour, nil)
	select {
	case <-h.session.Preload(context.Background()):
	case <-time.After(2 * time.Second):
		t.Fatal("preload did not finish")
	}
	require.Equal(t, len(fees.Plans)*3, h.session.Len())

	for _, plan := range fees.Plans {
		for _, id := range []string{fees.NoScholarship, "s-merit", "s-top"} {
			_, hit := h.session.Update(Selection{Plan: plan, ScholarshipID: id})
			require.True(t, hit, "%s/%s", plan, id)
		}
	}
	h.none(t, 30*time.Millisecond)
}

func TestSessionPreloadSwallowsFailures(t *testing.T) {
	h := newHarness(t, time.Hour, func(in fees.Input) (fees.Review, error) {
		if in.Plan == fees.PlanSemWise {
			return fees.Review{}, errors.New("unavailable")
		}
		return fees.GenerateReview(in)
	})
	<-h.session.Preload(context.Background())
	require.Equal(t, 2*3, h.session.Len())
	_, ok := h.session.Cached(Selection{Plan: fees.PlanSemWise, ScholarshipID: fees.NoScholarship})
	require.False(t, ok)
}

func TestSessionCloseCancelsPendingTimer(t *testing.T) {
	h := newHarness(t, 40*time.Millisecond, nil)
	base := Selection{Plan: fees.PlanSemWise, ScholarshipID: fees.NoScholarship}
	h.session.Update(base)
	h.next(t)

	edited := base
	edited.CustomDates = map[string]string{"semester-2": "2025-08-01"}
	h.session.Update(edited)
	h.session.Close()
	h.none(t, 120*time.Millisecond)
	require.EqualValues(t, 1, h.calls.Load())
}

func TestKeyForTreatsEmptyDatesAlike(t *testing.T) {
	a := KeyFor(Selection{Plan: fees.PlanOneShot})
	b := KeyFor(Selection{Plan: fees.PlanOneShot, CustomDates: map[string]string{}})
	require.Equal(t, a, b)

	c := KeyFor(Selection{Plan: fees.PlanOneShot, CustomDates: map[string]string{"b": "2025-01-02", "a": "2025-01-01"}})
	require.Equal(t, `{"a":"2025-01-01","b":"2025-01-02"}`, c.Dates)
}
