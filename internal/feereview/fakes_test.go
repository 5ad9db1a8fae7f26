package feereview

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/nushkakush/experiencetrack-dash-sub003/internal/cache"
	"github.com/nushkakush/experiencetrack-dash-sub003/internal/fees"
	"github.com/nushkakush/experiencetrack-dash-sub003/internal/lock"
	"github.com/nushkakush/experiencetrack-dash-sub003/internal/repo"
)

type fakeStore struct {
	mu            sync.Mutex
	structures    map[string]fees.FeeStructure
	scholarships  map[string][]fees.Scholarship
	overrides     map[string]repo.StudentOverride
	structureGets int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		structures:   map[string]fees.FeeStructure{},
		scholarships: map[string][]fees.Scholarship{},
		overrides:    map[string]repo.StudentOverride{},
	}
}

func (f *fakeStore) GetFeeStructure(_ context.Context, cohortID string) (fees.FeeStructure, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.structureGets++
	fs, ok := f.structures[cohortID]
	if !ok {
		return fees.FeeStructure{}, repo.ErrNotFound
	}
	return fs, nil
}

func (f *fakeStore) UpsertFeeStructure(_ context.Context, fs fees.FeeStructure) (fees.FeeStructure, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.structures[fs.CohortID] = fs
	return fs, nil
}

func (f *fakeStore) ListScholarships(_ context.Context, cohortID string) ([]fees.Scholarship, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fees.Scholarship{}, f.scholarships[cohortID]...), nil
}

func (f *fakeStore) ReplaceScholarships(_ context.Context, cohortID string, list []fees.Scholarship) ([]fees.Scholarship, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	saved := repo.AssignIDs(cohortID, list)
	f.scholarships[cohortID] = saved
	return saved, nil
}

func (f *fakeStore) GetStudentOverride(_ context.Context, cohortID, studentID string) (repo.StudentOverride, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.overrides[cohortID+"/"+studentID]
	if !ok {
		return repo.StudentOverride{}, repo.ErrNotFound
	}
	return o, nil
}

func (f *fakeStore) UpsertStudentOverride(_ context.Context, o repo.StudentOverride) (repo.StudentOverride, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o.UpdatedAt = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	f.overrides[o.CohortID+"/"+o.StudentID] = o
	return o, nil
}

func sampleStructure() fees.FeeStructure {
	return fees.FeeStructure{
		AdmissionFee:           50000,
		TotalProgramFee:        500000,
		NumberOfSemesters:      4,
		InstalmentsPerSemester: 3,
		OneShotDiscountPercent: 10,
	}
}

type fixture struct {
	svc   *Service
	store *fakeStore
	mr    *miniredis.Miniredis
	redis *redis.Client
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := newFakeStore()
	svc, err := NewService(ServiceConfig{
		Store:  store,
		Locker: lock.Locker{R: client, RetryBackoff: time.Millisecond, MaxWait: 100 * time.Millisecond},
		Cache:  cache.NewJSON(client, time.Minute),
		Logger: zerolog.Nop(),
		Now:    func() time.Time { return time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return fixture{svc: svc, store: store, mr: mr, redis: client}
}
