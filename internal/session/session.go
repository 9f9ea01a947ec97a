// Package session maintains one student's active pass at a test: resuming or
// starting the attempt, holding the local answer map, autosaving it, and
// enforcing the time budget.
package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/examforge/examforge-platform/internal/exam"
	"github.com/examforge/examforge-platform/internal/grading"
)

const (
	autosaveInterval = 5 * time.Second
	finalizeTimeout  = 30 * time.Second
)

// Note kinds surfaced through the notify callback.
const (
	NoteAutosaveFailed = "autosave_failed"
	NoteTimeExpired    = "time_expired"
)

type Note struct {
	Kind string
	Err  error
}

// State is what a client needs to render a resumed or fresh attempt.
type State struct {
	Attempt          exam.Attempt
	Answers          map[string]string // questionID -> saved answer
	DurationSeconds  int               // full time budget, 0 when untimed
	RemainingSeconds int               // 0 when expired or untimed
	Timed            bool
}

// ResumeOrStart returns the caller's in_progress attempt for the test with
// its previously saved answers and the recomputed remaining time, or creates
// a fresh attempt whose max_score is frozen as the sum of current question
// points. The caller identity is explicit; there is no ambient user lookup.
func ResumeOrStart(ctx context.Context, store exam.Store, testID, studentID string, now func() time.Time) (State, error) {
	if now == nil {
		now = time.Now
	}
	t, err := store.GetTest(ctx, testID)
	if err != nil {
		return State{}, err
	}

	a, err := store.ActiveAttempt(ctx, testID, studentID)
	switch err {
	case nil:
		answers := map[string]string{}
		saved, err := store.ResponsesForAttempt(ctx, a.ID)
		if err != nil {
			return State{}, err
		}
		for _, r := range saved {
			if r.StudentAnswer != nil {
				answers[r.QuestionID] = *r.StudentAnswer
			}
		}
		return State{
			Attempt:          a,
			Answers:          answers,
			DurationSeconds:  t.DurationMinutes * 60,
			RemainingSeconds: remainingSeconds(t, a, now()),
			Timed:            t.DurationMinutes > 0,
		}, nil
	case exam.ErrAttemptNotFound:
		// fall through to create
	default:
		return State{}, err
	}

	questions, err := store.QuestionsWithKey(ctx, testID)
	if err != nil {
		return State{}, err
	}
	var max float64
	for _, q := range questions {
		max += q.Points
	}
	a, err = store.CreateAttempt(ctx, exam.Attempt{
		TestID:    testID,
		StudentID: studentID,
		Status:    exam.StatusInProgress,
		MaxScore:  max,
		StartedAt: now().Unix(),
	})
	if err != nil {
		return State{}, err
	}
	return State{
		Attempt:          a,
		Answers:          map[string]string{},
		DurationSeconds:  t.DurationMinutes * 60,
		RemainingSeconds: t.DurationMinutes * 60,
		Timed:            t.DurationMinutes > 0,
	}, nil
}

func remainingSeconds(t exam.Test, a exam.Attempt, now time.Time) int {
	if t.DurationMinutes <= 0 {
		return 0
	}
	left := t.DurationMinutes*60 - int(now.Unix()-a.StartedAt)
	if left < 0 {
		left = 0
	}
	return left
}

// Session owns the local answer map for one attempt. All mutation funnels
// through one mutex, so an autosave flush and a finalize can never interleave
// their writes.
type Session struct {
	store  exam.Store
	engine *grading.Engine
	now    func() time.Time
	notify func(Note)

	mu        sync.Mutex
	attempt   exam.Attempt
	answers   map[string]string
	duration  time.Duration // full budget, 0 = untimed
	deadline  time.Time
	finalized bool

	closeOnce sync.Once
	done      chan struct{}
}

type Option func(*Session)

func WithClock(now func() time.Time) Option { return func(s *Session) { s.now = now } }
func WithNotify(fn func(Note)) Option       { return func(s *Session) { s.notify = fn } }

// New resumes or starts the attempt and wraps it in a live session.
func New(ctx context.Context, store exam.Store, engine *grading.Engine, testID, studentID string, opts ...Option) (*Session, error) {
	s := &Session{
		store:  store,
		engine: engine,
		now:    time.Now,
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	st, err := ResumeOrStart(ctx, store, testID, studentID, s.now)
	if err != nil {
		return nil, err
	}
	s.attempt = st.Attempt
	s.answers = st.Answers
	// duration is the whole budget even on resume; the deadline accounts for
	// whatever was already spent before this session picked the attempt up.
	if st.Timed {
		s.duration = time.Duration(st.DurationSeconds) * time.Second
		s.deadline = s.now().Add(time.Duration(st.RemainingSeconds) * time.Second)
	}
	return s, nil
}

func (s *Session) Attempt() exam.Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

// Remaining reports the time budget left, zero once expired. Untimed
// sessions report zero and never expire.
func (s *Session) Remaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remainingLocked()
}

func (s *Session) remainingLocked() time.Duration {
	if s.deadline.IsZero() {
		return 0
	}
	left := s.deadline.Sub(s.now())
	if left < 0 {
		return 0
	}
	return left
}

func (s *Session) Expired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.deadline.IsZero() && s.remainingLocked() == 0
}

// Answer records a submitted value in the local map only; nothing hits the
// store until the next flush.
func (s *Session) Answer(questionID, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers[questionID] = value
}

// Flush persists every locally held answer via upsert. Used by the autosave
// tick and by Finalize.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(ctx)
}

func (s *Session) flushLocked(ctx context.Context) error {
	if s.finalized || len(s.answers) == 0 {
		return nil
	}
	return s.store.UpsertResponses(ctx, s.attempt.ID, s.answers)
}

// Finalize flushes pending answers and hands the attempt to the grading
// engine. Safe to call more than once: the engine returns an
// already-completed attempt as-is.
func (s *Session) Finalize(ctx context.Context) (exam.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.flushLocked(ctx); err != nil {
		return exam.Attempt{}, err
	}
	// Elapsed since the attempt started, not since this session resumed it:
	// full budget minus whatever is still left. Untimed attempts report zero.
	var spent int
	if !s.deadline.IsZero() {
		spent = int((s.duration - s.remainingLocked()) / time.Second)
	}
	a, err := s.engine.GradeAttempt(ctx, s.attempt.ID, spent)
	if err != nil {
		// Attempt stays in_progress; caller may retry.
		return exam.Attempt{}, err
	}
	s.attempt = a
	s.finalized = true
	return a, nil
}

// Run drives the autosave cadence and the countdown until the session is
// closed, finalized, or the context ends. Autosave failures are logged and
// surfaced as notes; the next tick is the only retry.
func (s *Session) Run(ctx context.Context) {
	save := time.NewTicker(autosaveInterval)
	defer save.Stop()
	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-save.C:
			if err := s.Flush(ctx); err != nil {
				log.Printf("session %s: autosave failed: %v", s.attempt.ID, err)
				s.post(Note{Kind: NoteAutosaveFailed, Err: err})
			}
		case <-tick.C:
			if s.expireDue() {
				s.post(Note{Kind: NoteTimeExpired})
				fctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
				if _, err := s.Finalize(fctx); err != nil {
					log.Printf("session %s: expiry finalize failed: %v", s.attempt.ID, err)
				}
				cancel()
				return
			}
		}
	}
}

func (s *Session) expireDue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.finalized && !s.deadline.IsZero() && s.remainingLocked() == 0
}

func (s *Session) post(n Note) {
	if s.notify != nil {
		s.notify(n)
	}
}

func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}
