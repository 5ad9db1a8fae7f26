package feereview

import (
	"context"
	"time"

	"github.com/nushkakush/experiencetrack-dash-sub003/internal/cache"
	"github.com/nushkakush/experiencetrack-dash-sub003/internal/fees"
	"github.com/nushkakush/experiencetrack-dash-sub003/internal/reviewcache"
)

const warmTimeout = 30 * time.Second

// WarmCohort precomputes every plan and scholarship combination for the cohort's stored
// configuration and writes the results to the shared cache. It returns how many reviews were cached.
func (s *Service) WarmCohort(ctx context.Context, cohortID, startDate string) (int, error) {
	if s.cache == nil {
		return 0, nil
	}
	q := s.normaliseQuery(ReviewQuery{CohortStartDate: startDate})
	fs, err := s.store.GetFeeStructure(ctx, cohortID)
	if err != nil {
		return 0, mapStoreErr(err, "fee structure not found")
	}
	scholarships, err := s.store.ListScholarships(ctx, cohortID)
	if err != nil {
		return 0, mapStoreErr(err, "scholarships not found")
	}

	session := reviewcache.New(reviewcache.Config{
		Input:    fees.Input{Structure: fs, Scholarships: scholarships, CohortStartDate: q.CohortStartDate},
		Debounce: s.debounce,
		Logger:   s.logger,
		Compute: func(in fees.Input) (fees.Review, error) {
			return s.Compute(ctx, in)
		},
	})
	defer session.Close()

	select {
	case <-session.Preload(ctx):
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	ids := []string{fees.NoScholarship}
	for _, sch := range scholarships {
		ids = append(ids, sch.ID)
	}
	cached := 0
	for _, plan := range fees.Plans {
		for _, id := range ids {
			review, ok := session.Cached(reviewcache.Selection{Plan: plan, ScholarshipID: id})
			if !ok {
				continue
			}
			key := cache.KeyCohortReview(cohortID, string(plan), id, 0) + ":" + q.CohortStartDate
			s.cacheSet(ctx, key, review)
			cached++
		}
	}
	s.logger.Debug().Str("cohort_id", cohortID).Int("cached", cached).Msg("cohort reviews warmed")
	return cached, nil
}

// warmAsync refreshes the cohort's cache in the background after a save.
func (s *Service) warmAsync(ctx context.Context, cohortID string) {
	if !s.warmOnSave || s.cache == nil {
		return
	}
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), warmTimeout)
		defer cancel()
		if _, err := s.WarmCohort(ctx, cohortID, ""); err != nil {
			s.logger.Warn().Err(err).Str("cohort_id", cohortID).Msg("cohort warm failed")
		}
	}()
}

// Wait blocks until background cache warms finish.
func (s *Service) Wait() {
	s.background.Wait()
}
