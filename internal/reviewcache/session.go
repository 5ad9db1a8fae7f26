package reviewcache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nushkakush/experiencetrack-dash-sub003/internal/fees"
	"github.com/nushkakush/experiencetrack-dash-sub003/internal/obs"
)

// DefaultDebounce coalesces bursts of date edits.
const DefaultDebounce = 500 * time.Millisecond

// Selection is what the operator currently has chosen in the review screen.
type Selection struct {
	Plan          fees.PaymentPlan
	ScholarshipID string
	CustomDates   map[string]string
}

// Key identifies a memoized review.
type Key struct {
	Plan          fees.PaymentPlan
	ScholarshipID string
	Dates         string
}

// KeyFor derives the cache key for a selection. Nil and empty date maps share a key.
func KeyFor(sel Selection) Key {
	dates := "{}"
	if len(sel.CustomDates) > 0 {
		if raw, err := json.Marshal(sel.CustomDates); err == nil {
			dates = string(raw)
		}
	}
	return Key{Plan: sel.Plan, ScholarshipID: sel.ScholarshipID, Dates: dates}
}

// Result is published after every scheduled computation.
type Result struct {
	Key    Key
	Review fees.Review
	Err    error
}

// Config configures a Session.
type Config struct {
	// Input carries the fee structure, scholarships, test score and cohort start date.
	// Plan, scholarship and custom dates are taken from each Selection.
	Input    fees.Input
	Debounce time.Duration
	Logger   zerolog.Logger
	OnUpdate func(Result)
	Compute  func(fees.Input) (fees.Review, error)
}

// Session memoizes reviews for one fee structure and its scholarships.
type Session struct {
	input    fees.Input
	debounce time.Duration
	logger   zerolog.Logger
	onUpdate func(Result)
	compute  func(fees.Input) (fees.Review, error)

	mu       sync.Mutex
	cache    map[Key]fees.Review
	prev     *Selection
	timer    *time.Timer
	seq      uint64
	lastGood fees.Review
	hasGood  bool
	closed   bool
	cancels  []context.CancelFunc
}

// New constructs a Session.
func New(cfg Config) *Session {
	debounce := cfg.Debounce
	switch {
	case debounce == 0:
		debounce = DefaultDebounce
	case debounce < 0:
		debounce = 0
	}
	s := &Session{
		input:    cfg.Input,
		debounce: debounce,
		logger:   cfg.Logger,
		onUpdate: cfg.OnUpdate,
		compute:  cfg.Compute,
		cache:    make(map[Key]fees.Review),
	}
	if s.compute == nil {
		s.compute = func(in fees.Input) (fees.Review, error) {
			return fees.SafeReview(in, s.logger)
		}
	}
	return s
}

// Update records a new selection. A cached review is returned immediately with true.
// Otherwise a computation is scheduled, the last good review (if any) is returned with
// false, and the result arrives through OnUpdate. Plan or scholarship switches compute
// at once; date-only edits wait for the debounce window.
func (s *Session) Update(sel Selection) (fees.Review, bool) {
	sel.CustomDates = cloneDates(sel.CustomDates)
	key := KeyFor(sel)

	s.mu.Lock()
	defer s.mu.Unlock()

	immediate := s.prev == nil || s.prev.Plan != sel.Plan || s.prev.ScholarshipID != sel.ScholarshipID
	s.prev = &sel
	s.stopTimerLocked()
	if s.closed {
		return s.lastGood, false
	}

	if review, ok := s.cache[key]; ok {
		obs.RecordCacheLookup("session", true)
		return review, true
	}
	obs.RecordCacheLookup("session", false)

	delay := s.debounce
	if immediate {
		delay = 0
	}
	seq := s.seq
	s.timer = time.AfterFunc(delay, func() { s.run(seq, sel, key) })
	return s.lastGood, false
}

// Cached returns the memoized review for sel without scheduling work.
func (s *Session) Cached(sel Selection) (fees.Review, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	review, ok := s.cache[KeyFor(sel)]
	return review, ok
}

// LastGood returns the most recent successfully computed review.
func (s *Session) LastGood() (fees.Review, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastGood, s.hasGood
}

// Len reports how many reviews are memoized.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cache)
}

// Preload computes every plan with no scholarship and with each scholarship, using the
// default dates, in the background. Failures are logged and skipped. The returned channel
// is closed when preloading stops.
func (s *Session) Preload(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(done)
		return done
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancels = append(s.cancels, cancel)
	s.mu.Unlock()

	ids := []string{fees.NoScholarship}
	for _, sch := range s.input.Scholarships {
		if sch.ID != "" {
			ids = append(ids, sch.ID)
		}
	}

	go func() {
		defer close(done)
		defer cancel()
		for _, plan := range fees.Plans {
			for _, id := range ids {
				if ctx.Err() != nil {
					return
				}
				sel := Selection{Plan: plan, ScholarshipID: id}
				key := KeyFor(sel)
				if _, ok := s.Cached(sel); ok {
					continue
				}
				review, err := s.compute(s.inputFor(sel))
				if err != nil || review.Degraded {
					s.logger.Warn().Err(err).Str("plan", string(plan)).Str("scholarship_id", id).Msg("review preload failed")
					continue
				}
				s.mu.Lock()
				if _, ok := s.cache[key]; !ok {
					s.cache[key] = review
				}
				s.mu.Unlock()
			}
		}
	}()
	return done
}

// Close stops pending work. Later updates only serve cached reviews.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.stopTimerLocked()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.cancels = nil
}

func (s *Session) run(seq uint64, sel Selection, key Key) {
	s.mu.Lock()
	if s.closed || seq != s.seq {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.mu.Unlock()

	in := s.inputFor(sel)
	review, err := s.compute(in)
	ok := err == nil && !review.Degraded
	if !ok {
		if !review.Degraded {
			review = fees.FallbackReview(in)
		}
		s.logger.Warn().Err(err).Str("plan", string(sel.Plan)).Msg("review computation failed")
	}

	s.mu.Lock()
	if ok {
		s.cache[key] = review
		s.lastGood = review
		s.hasGood = true
	}
	current := !s.closed && seq == s.seq
	s.mu.Unlock()

	if current && s.onUpdate != nil {
		s.onUpdate(Result{Key: key, Review: review, Err: err})
	}
}

func (s *Session) inputFor(sel Selection) fees.Input {
	in := s.input
	in.Plan = sel.Plan
	in.ScholarshipID = sel.ScholarshipID
	in.CustomDates = sel.CustomDates
	return in
}

// stopTimerLocked cancels the pending computation; seq guards a timer that already fired.
func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.seq++
}

func cloneDates(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
