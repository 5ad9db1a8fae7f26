package feereview

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nushkakush/experiencetrack-dash-sub003/internal/cache"
	"github.com/nushkakush/experiencetrack-dash-sub003/internal/common"
	"github.com/nushkakush/experiencetrack-dash-sub003/internal/fees"
	"github.com/nushkakush/experiencetrack-dash-sub003/internal/lock"
	"github.com/nushkakush/experiencetrack-dash-sub003/internal/obs"
	"github.com/nushkakush/experiencetrack-dash-sub003/internal/repo"
)

var (
	// ErrStructureLocked is returned when saving a completed structure outside edit mode.
	ErrStructureLocked = errors.New("feereview: fee structure is complete")
	// ErrNoScholarships is returned when saving an empty scholarship list.
	ErrNoScholarships = errors.New("feereview: at least one scholarship is required")
)

// Store is the persistence collaborator.
type Store interface {
	GetFeeStructure(ctx context.Context, cohortID string) (fees.FeeStructure, error)
	UpsertFeeStructure(ctx context.Context, fs fees.FeeStructure) (fees.FeeStructure, error)
	ListScholarships(ctx context.Context, cohortID string) ([]fees.Scholarship, error)
	ReplaceScholarships(ctx context.Context, cohortID string, list []fees.Scholarship) ([]fees.Scholarship, error)
	GetStudentOverride(ctx context.Context, cohortID, studentID string) (repo.StudentOverride, error)
	UpsertStudentOverride(ctx context.Context, o repo.StudentOverride) (repo.StudentOverride, error)
}

// Locker serialises writes for one cohort.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(context.Context) error) error
}

// ReviewCache stores computed reviews shared across replicas.
type ReviewCache interface {
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	SetJSON(ctx context.Context, key string, v any) error
	DeleteMatching(ctx context.Context, pattern string) (int, error)
}

// ServiceConfig wires the service collaborators. Locker and Cache are optional.
type ServiceConfig struct {
	Store  Store
	Locker Locker
	Cache  ReviewCache
	Logger zerolog.Logger
	Now    func() time.Time
	// WarmOnSave recomputes a cohort's reviews into the cache after each save.
	WarmOnSave bool
	Debounce   time.Duration
}

// Service exposes fee review computation and fee configuration persistence.
type Service struct {
	store      Store
	locker     Locker
	cache      ReviewCache
	logger     zerolog.Logger
	now        func() time.Time
	warmOnSave bool
	debounce   time.Duration
	background sync.WaitGroup
}

// NewService validates the configuration and builds a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("feereview: store is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:      cfg.Store,
		locker:     cfg.Locker,
		cache:      cfg.Cache,
		logger:     cfg.Logger,
		now:        now,
		warmOnSave: cfg.WarmOnSave,
		debounce:   cfg.Debounce,
	}, nil
}

// ReviewQuery selects a review for a stored cohort configuration.
type ReviewQuery struct {
	Plan            fees.PaymentPlan
	ScholarshipID   string
	TestScore       float64
	CohortStartDate string
}

// Compute runs the stateless review. It always returns a review; err reports a fallback.
func (s *Service) Compute(ctx context.Context, in fees.Input) (fees.Review, error) {
	_, span := otel.Tracer("feereview.Service").Start(ctx, "FeeReview.Compute")
	defer span.End()
	span.SetAttributes(attribute.String("fee.plan", string(in.Plan)))
	review, err := fees.SafeReview(in, s.logger)
	if err != nil {
		span.RecordError(err)
	}
	return review, err
}

// CohortReview computes the review for a cohort's stored structure and scholarships,
// using the shared cache for non-degraded results.
func (s *Service) CohortReview(ctx context.Context, cohortID string, q ReviewQuery) (fees.Review, error) {
	ctx, span := otel.Tracer("feereview.Service").Start(ctx, "FeeReview.CohortReview")
	defer span.End()
	q = s.normaliseQuery(q)
	key := cache.KeyCohortReview(cohortID, string(q.Plan), q.ScholarshipID, q.TestScore) + ":" + q.CohortStartDate

	var cached fees.Review
	if ok := s.cacheGet(ctx, key, &cached); ok {
		return cached, nil
	}

	fs, err := s.store.GetFeeStructure(ctx, cohortID)
	if err != nil {
		return fees.Review{}, mapStoreErr(err, "fee structure not found")
	}
	scholarships, err := s.store.ListScholarships(ctx, cohortID)
	if err != nil {
		return fees.Review{}, mapStoreErr(err, "scholarships not found")
	}
	review, _ := s.Compute(ctx, fees.Input{
		Structure:       fs,
		Scholarships:    scholarships,
		Plan:            q.Plan,
		TestScore:       q.TestScore,
		CohortStartDate: q.CohortStartDate,
		ScholarshipID:   q.ScholarshipID,
	})
	if !review.Degraded {
		s.cacheSet(ctx, key, review)
	}
	return review, nil
}

// StudentReview computes the review from a student's override, falling back to the cohort
// structure when none exists. Query values win over the override's stored selection.
func (s *Service) StudentReview(ctx context.Context, cohortID, studentID string, q ReviewQuery) (fees.Review, error) {
	override, err := s.store.GetStudentOverride(ctx, cohortID, studentID)
	if errors.Is(err, repo.ErrNotFound) {
		return s.CohortReview(ctx, cohortID, q)
	}
	if err != nil {
		return fees.Review{}, mapStoreErr(err, "student override not found")
	}
	if !q.Plan.Payable() {
		q.Plan = override.Plan
	}
	if strings.TrimSpace(q.ScholarshipID) == "" {
		q.ScholarshipID = override.ScholarshipID
	}
	q = s.normaliseQuery(q)
	key := cache.KeyStudentReview(cohortID, studentID, string(q.Plan), q.ScholarshipID, q.TestScore) + ":" + q.CohortStartDate

	var cached fees.Review
	if ok := s.cacheGet(ctx, key, &cached); ok {
		return cached, nil
	}
	scholarships, err := s.store.ListScholarships(ctx, cohortID)
	if err != nil {
		return fees.Review{}, mapStoreErr(err, "scholarships not found")
	}
	review, _ := s.Compute(ctx, fees.Input{
		Structure:       override.Structure,
		Scholarships:    scholarships,
		Plan:            q.Plan,
		TestScore:       q.TestScore,
		CohortStartDate: q.CohortStartDate,
		ScholarshipID:   q.ScholarshipID,
	})
	if !review.Degraded {
		s.cacheSet(ctx, key, review)
	}
	return review, nil
}

// GetFeeStructure returns the cohort's structure.
func (s *Service) GetFeeStructure(ctx context.Context, cohortID string) (fees.FeeStructure, error) {
	fs, err := s.store.GetFeeStructure(ctx, cohortID)
	if err != nil {
		return fees.FeeStructure{}, mapStoreErr(err, "fee structure not found")
	}
	return fs, nil
}

// SaveFeeStructure validates and upserts the cohort's structure. A completed structure can
// only be changed when editMode is set.
func (s *Service) SaveFeeStructure(ctx context.Context, cohortID string, fs fees.FeeStructure, editMode bool) (fees.FeeStructure, error) {
	fs.CohortID = cohortID
	fs.StudentID = ""
	if errs := fees.ValidateFeeStructure(fs); len(errs) > 0 {
		return fees.FeeStructure{}, common.ValidationFailed("fee structure is invalid", errs)
	}
	var saved fees.FeeStructure
	err := s.withCohortLock(ctx, cohortID, func(ctx context.Context) error {
		existing, err := s.store.GetFeeStructure(ctx, cohortID)
		switch {
		case errors.Is(err, repo.ErrNotFound):
		case err != nil:
			return err
		case existing.SetupComplete && !editMode:
			return ErrStructureLocked
		}
		saved, err = s.store.UpsertFeeStructure(ctx, fs)
		return err
	})
	if err != nil {
		return fees.FeeStructure{}, mapStoreErr(err, "")
	}
	s.invalidate(ctx, cohortID)
	s.warmAsync(ctx, cohortID)
	return saved, nil
}

// ListScholarships returns the cohort's scholarships.
func (s *Service) ListScholarships(ctx context.Context, cohortID string) ([]fees.Scholarship, error) {
	list, err := s.store.ListScholarships(ctx, cohortID)
	if err != nil {
		return nil, mapStoreErr(err, "scholarships not found")
	}
	return list, nil
}

// ValidateScholarships runs the range validator without saving.
func (s *Service) ValidateScholarships(list []fees.Scholarship) fees.ValidationErrors {
	return fees.ValidateScholarships(list)
}

// SaveScholarships validates and replaces the cohort's scholarships.
func (s *Service) SaveScholarships(ctx context.Context, cohortID string, list []fees.Scholarship) ([]fees.Scholarship, error) {
	if len(list) == 0 {
		return nil, common.ValidationFailed(ErrNoScholarships.Error(), nil)
	}
	if errs := fees.ValidateScholarships(list); len(errs) > 0 {
		return nil, common.ValidationFailed("scholarships are invalid", errs)
	}
	var saved []fees.Scholarship
	err := s.withCohortLock(ctx, cohortID, func(ctx context.Context) error {
		var err error
		saved, err = s.store.ReplaceScholarships(ctx, cohortID, list)
		return err
	})
	if err != nil {
		return nil, mapStoreErr(err, "")
	}
	s.invalidate(ctx, cohortID)
	s.warmAsync(ctx, cohortID)
	return saved, nil
}

// SaveStudentOverride validates and upserts a student's fee plan override.
func (s *Service) SaveStudentOverride(ctx context.Context, o repo.StudentOverride) (repo.StudentOverride, error) {
	o.Structure.CohortID = o.CohortID
	o.Structure.StudentID = o.StudentID
	o.Plan = fees.ParsePlan(string(o.Plan))
	if errs := fees.ValidateFeeStructure(o.Structure); len(errs) > 0 {
		return repo.StudentOverride{}, common.ValidationFailed("fee structure is invalid", errs)
	}
	var saved repo.StudentOverride
	err := s.withCohortLock(ctx, o.CohortID, func(ctx context.Context) error {
		var err error
		saved, err = s.store.UpsertStudentOverride(ctx, o)
		return err
	})
	if err != nil {
		return repo.StudentOverride{}, mapStoreErr(err, "")
	}
	s.invalidate(ctx, o.CohortID)
	return saved, nil
}

func (s *Service) normaliseQuery(q ReviewQuery) ReviewQuery {
	q.ScholarshipID = strings.TrimSpace(q.ScholarshipID)
	q.CohortStartDate = strings.TrimSpace(q.CohortStartDate)
	if q.CohortStartDate == "" {
		q.CohortStartDate = s.now().UTC().Format(fees.DateLayout)
	}
	return q
}

func (s *Service) withCohortLock(ctx context.Context, cohortID string, fn func(context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	return s.locker.WithLock(ctx, lock.CohortKey(cohortID), fn)
}

func (s *Service) cacheGet(ctx context.Context, key string, dst *fees.Review) bool {
	if s.cache == nil {
		return false
	}
	ok, err := s.cache.GetJSON(ctx, key, dst)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("review cache read failed")
		return false
	}
	obs.RecordCacheLookup("redis", ok)
	return ok
}

func (s *Service) cacheSet(ctx context.Context, key string, review fees.Review) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetJSON(ctx, key, review); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("review cache write failed")
	}
}

func (s *Service) invalidate(ctx context.Context, cohortID string) {
	if s.cache == nil {
		return
	}
	if _, err := s.cache.DeleteMatching(ctx, cache.CohortPattern(cohortID)); err != nil {
		s.logger.Warn().Err(err).Str("cohort_id", cohortID).Msg("review cache invalidation failed")
	}
}

func mapStoreErr(err error, notFound string) error {
	if err == nil {
		return nil
	}
	if common.IsAppError(err) {
		return err
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		if notFound == "" {
			notFound = "resource not found"
		}
		return common.NewAppError("NOT_FOUND", notFound, http.StatusNotFound, err)
	case errors.Is(err, ErrStructureLocked):
		return common.NewAppError("STRUCTURE_LOCKED", "fee structure is complete; re-enter edit mode to change it", http.StatusConflict, err)
	case errors.Is(err, lock.ErrBusy):
		return common.NewAppError("BUSY", "another save for this cohort is in progress", http.StatusConflict, err)
	case errors.Is(err, repo.ErrConflict):
		return common.NewAppError("CONFLICT", "conflicting fee configuration", http.StatusConflict, err)
	case errors.Is(err, repo.ErrConstraint):
		return common.NewAppError("VALIDATION_ERROR", "fee configuration violates a constraint", http.StatusUnprocessableEntity, err)
	}
	return common.NewAppError("INTERNAL", "fee configuration store error", http.StatusInternalServerError, fmt.Errorf("feereview: %w", err))
}
