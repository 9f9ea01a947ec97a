package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/examforge/examforge-platform/internal/exam"
	"github.com/examforge/examforge-platform/internal/grading"
	"github.com/examforge/examforge-platform/internal/session"
)

// fakeClock hands out a controllable time to the session and engine.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func seedTest(t *testing.T, store exam.Store, durationMin int) (exam.Test, []exam.Question) {
	t.Helper()
	saved, err := store.SaveTest(context.Background(), exam.Test{
		Title:           "DTM mock",
		TestType:        exam.TypeMockExam,
		DurationMinutes: durationMin,
	}, []exam.Question{
		{QuestionText: "Pick A", QuestionType: exam.KindMultipleChoice,
			Options: map[string]string{"A": "first", "B": "second"}, CorrectAnswer: "A", Points: 1},
		{QuestionText: "True?", QuestionType: exam.KindTrueFalse, CorrectAnswer: "true", Points: 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	qs, err := store.QuestionsWithKey(context.Background(), saved.ID)
	if err != nil {
		t.Fatal(err)
	}
	return saved, qs
}

func TestResumeOrStart_CreatesWithFrozenMaxScore(t *testing.T) {
	ctx := context.Background()
	store := exam.NewInMemoryStore()
	clock := newFakeClock()
	test, _ := seedTest(t, store, 30)

	st, err := session.ResumeOrStart(ctx, store, test.ID, "s1", clock.Now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Attempt.Status != exam.StatusInProgress {
		t.Fatalf("expected in_progress, got %s", st.Attempt.Status)
	}
	if st.Attempt.MaxScore != 2 {
		t.Fatalf("expected max_score frozen at 2, got %v", st.Attempt.MaxScore)
	}
	if st.RemainingSeconds != 30*60 {
		t.Fatalf("expected full budget, got %d", st.RemainingSeconds)
	}
	if !st.Timed {
		t.Fatal("expected timed state")
	}
}

func TestResumeOrStart_ReusesActiveAttempt(t *testing.T) {
	ctx := context.Background()
	store := exam.NewInMemoryStore()
	clock := newFakeClock()
	test, qs := seedTest(t, store, 30)

	first, err := session.ResumeOrStart(ctx, store, test.ID, "s1", clock.Now)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.UpsertResponses(ctx, first.Attempt.ID, map[string]string{qs[0].ID: "B"}); err != nil {
		t.Fatal(err)
	}

	// 1200 s later the same pair resumes the same attempt with 600 s left.
	clock.Advance(1200 * time.Second)
	second, err := session.ResumeOrStart(ctx, store, test.ID, "s1", clock.Now)
	if err != nil {
		t.Fatal(err)
	}
	if second.Attempt.ID != first.Attempt.ID {
		t.Fatalf("expected resumed attempt %s, got %s", first.Attempt.ID, second.Attempt.ID)
	}
	if second.RemainingSeconds != 600 {
		t.Fatalf("expected 600 s remaining, got %d", second.RemainingSeconds)
	}
	if second.Answers[qs[0].ID] != "B" {
		t.Fatalf("expected saved answer restored, got %q", second.Answers[qs[0].ID])
	}

	// Never a second in_progress attempt for the pair.
	list, err := store.ListAttempts(ctx, exam.AttemptListOpts{TestID: test.ID, StudentID: "s1", Status: exam.StatusInProgress})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("expected exactly one active attempt, got %d", len(list))
	}
}

func TestResumeOrStart_ClampsExpiredBudget(t *testing.T) {
	ctx := context.Background()
	store := exam.NewInMemoryStore()
	clock := newFakeClock()
	test, _ := seedTest(t, store, 1)

	if _, err := session.ResumeOrStart(ctx, store, test.ID, "s1", clock.Now); err != nil {
		t.Fatal(err)
	}
	clock.Advance(10 * time.Minute)
	st, err := session.ResumeOrStart(ctx, store, test.ID, "s1", clock.Now)
	if err != nil {
		t.Fatal(err)
	}
	if st.RemainingSeconds != 0 {
		t.Fatalf("expected clamped to 0, got %d", st.RemainingSeconds)
	}
}

func TestResumeOrStart_UnknownTest(t *testing.T) {
	store := exam.NewInMemoryStore()
	_, err := session.ResumeOrStart(context.Background(), store, "missing", "s1", nil)
	if err != exam.ErrTestNotFound {
		t.Fatalf("expected ErrTestNotFound, got %v", err)
	}
}

func TestSession_FlushAndFinalize(t *testing.T) {
	ctx := context.Background()
	store := exam.NewInMemoryStore()
	clock := newFakeClock()
	test, qs := seedTest(t, store, 30)
	engine := grading.NewEngine(store, grading.WithClock(clock.Now))

	s, err := session.New(ctx, store, engine, test.ID, "s1", session.WithClock(clock.Now))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	s.Answer(qs[0].ID, "A")
	s.Answer(qs[1].ID, "false")
	s.Answer(qs[1].ID, "true") // re-answer overwrites

	if err := s.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	resps, err := store.ResponsesForAttempt(ctx, s.Attempt().ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(resps) != 2 {
		t.Fatalf("expected 2 stored responses, got %d", len(resps))
	}

	clock.Advance(5 * time.Minute)
	a, err := s.Finalize(ctx)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if a.Status != exam.StatusCompleted {
		t.Fatalf("expected completed, got %s", a.Status)
	}
	if a.Score != 2 || a.Percentage != 100 {
		t.Fatalf("unexpected grade: %+v", a)
	}
	if a.TimeSpentSeconds != 300 {
		t.Fatalf("expected 300 s spent, got %d", a.TimeSpentSeconds)
	}
}

func TestSession_FinalizeIdempotent(t *testing.T) {
	ctx := context.Background()
	store := exam.NewInMemoryStore()
	clock := newFakeClock()
	test, qs := seedTest(t, store, 1)
	engine := grading.NewEngine(store, grading.WithClock(clock.Now))

	s, err := session.New(ctx, store, engine, test.ID, "s1", session.WithClock(clock.Now))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	s.Answer(qs[0].ID, "A")

	// Budget runs out, then both the expiry path and a manual submit land.
	clock.Advance(2 * time.Minute)
	if !s.Expired() {
		t.Fatal("expected session expired")
	}
	first, err := s.Finalize(ctx)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Finalize(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if first.CompletedAt != second.CompletedAt || first.Score != second.Score {
		t.Fatalf("finalize not idempotent: %+v vs %+v", first, second)
	}
	if first.TimeSpentSeconds != 60 {
		t.Fatalf("expected full 60 s budget spent, got %d", first.TimeSpentSeconds)
	}
}

func TestSession_ResumedFinalizeCountsFullElapsed(t *testing.T) {
	ctx := context.Background()
	store := exam.NewInMemoryStore()
	clock := newFakeClock()
	test, qs := seedTest(t, store, 30)
	engine := grading.NewEngine(store, grading.WithClock(clock.Now))

	// First device starts the attempt, then drops off.
	if _, err := session.ResumeOrStart(ctx, store, test.ID, "s1", clock.Now); err != nil {
		t.Fatal(err)
	}

	// 1200 s later a new session resumes the same attempt and works 300 s more.
	clock.Advance(1200 * time.Second)
	s, err := session.New(ctx, store, engine, test.ID, "s1", session.WithClock(clock.Now))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	s.Answer(qs[0].ID, "A")

	clock.Advance(300 * time.Second)
	a, err := s.Finalize(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// Spent is measured from the attempt start, not from the resume.
	if a.TimeSpentSeconds != 1500 {
		t.Fatalf("expected 1500 s spent across both sessions, got %d", a.TimeSpentSeconds)
	}
}

func TestSessionRun_ExpiryAutoFinalizes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	store := exam.NewInMemoryStore()
	clock := newFakeClock()
	test, qs := seedTest(t, store, 1)
	engine := grading.NewEngine(store, grading.WithClock(clock.Now))

	notes := make(chan session.Note, 4)
	s, err := session.New(ctx, store, engine, test.ID, "s1",
		session.WithClock(clock.Now),
		session.WithNotify(func(n session.Note) { notes <- n }))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	s.Answer(qs[0].ID, "A")

	// Budget is gone before the countdown even ticks.
	clock.Advance(2 * time.Minute)
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case n := <-notes:
		if n.Kind != session.NoteTimeExpired {
			t.Fatalf("expected time_expired note, got %q", n.Kind)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for expiry note")
	}
	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("run did not stop after expiry")
	}

	a, err := store.GetAttempt(context.Background(), s.Attempt().ID)
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != exam.StatusCompleted {
		t.Fatalf("expected auto-finalized attempt, got %s", a.Status)
	}
	if a.Score != 1 || a.TimeSpentSeconds != 60 {
		t.Fatalf("unexpected auto-finalize result: %+v", a)
	}
}

func TestSession_UntimedReportsZeroSpent(t *testing.T) {
	ctx := context.Background()
	store := exam.NewInMemoryStore()
	clock := newFakeClock()
	test, qs := seedTest(t, store, 0)
	engine := grading.NewEngine(store, grading.WithClock(clock.Now))

	s, err := session.New(ctx, store, engine, test.ID, "s1", session.WithClock(clock.Now))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if s.Expired() {
		t.Fatal("untimed session must not expire")
	}
	s.Answer(qs[0].ID, "A")
	clock.Advance(time.Hour)
	a, err := s.Finalize(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if a.TimeSpentSeconds != 0 {
		t.Fatalf("expected zero time spent for untimed test, got %d", a.TimeSpentSeconds)
	}
}
