package grading

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/examforge/examforge-platform/internal/exam"
)

// Recorder receives lifecycle events after a successful grade. Optional.
type Recorder interface {
	AttemptCompleted(ctx context.Context, a exam.Attempt)
}

// Engine grades attempts against the authoritative answer key and finalizes
// them through the store.
type Engine struct {
	store    exam.Store
	now      func() time.Time
	recorder Recorder
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }
func WithRecorder(r Recorder) Option        { return func(e *Engine) { e.recorder = r } }

func NewEngine(store exam.Store, opts ...Option) *Engine {
	e := &Engine{store: store, now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Summary is the aggregate outcome of scoring one attempt.
type Summary struct {
	Graded     []exam.Response
	Score      float64
	MaxScore   float64
	Percentage float64
}

// Score compares every question's answer key against the submitted answer.
// Exact string equality, intentionally without trimming, case folding or
// numeric tolerance; a missing answer grades as incorrect for zero points.
// MaxScore is the sum of the current question points, recomputed here rather
// than taken from the value frozen at attempt start.
func Score(attemptID string, questions []exam.Question, answers map[string]string) Summary {
	sum := Summary{Graded: make([]exam.Response, 0, len(questions))}
	for _, q := range questions {
		r := exam.Response{AttemptID: attemptID, QuestionID: q.ID}
		submitted, answered := answers[q.ID]
		if answered {
			v := submitted
			r.StudentAnswer = &v
		}
		correct := answered && submitted == q.CorrectAnswer
		r.IsCorrect = &correct
		if correct {
			r.PointsEarned = q.Points
		}
		sum.Score += r.PointsEarned
		sum.MaxScore += q.Points
		sum.Graded = append(sum.Graded, r)
	}
	sum.Percentage = Percentage(sum.Score, sum.MaxScore)
	return sum
}

// Percentage rounds score/max to one decimal place; 0 when max is 0.
func Percentage(score, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return math.Round(score/max*1000) / 10
}

// GradeAttempt closes out one attempt: it fetches the answer key and the
// recorded responses, scores every question (unanswered ones get zero-point
// incorrect rows), and finalizes the attempt in one transactional store call.
// Already-completed attempts are returned unchanged, so a timer expiry racing
// a manual submit settles on a single result. Any fetch failure aborts with
// the attempt still in_progress for a safe retry.
func (e *Engine) GradeAttempt(ctx context.Context, attemptID string, timeSpentSec int) (exam.Attempt, error) {
	a, err := e.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return exam.Attempt{}, err
	}
	if a.Status != exam.StatusInProgress {
		return a, nil
	}

	questions, err := e.store.QuestionsWithKey(ctx, a.TestID)
	if err != nil {
		return exam.Attempt{}, fmt.Errorf("fetch answer key: %w", err)
	}
	recorded, err := e.store.ResponsesForAttempt(ctx, attemptID)
	if err != nil {
		return exam.Attempt{}, fmt.Errorf("fetch responses: %w", err)
	}
	answers := make(map[string]string, len(recorded))
	for _, r := range recorded {
		if r.StudentAnswer != nil {
			answers[r.QuestionID] = *r.StudentAnswer
		}
	}

	sum := Score(attemptID, questions, answers)
	graded, err := e.store.FinalizeAttempt(ctx, attemptID, sum.Graded, exam.GradedTotals{
		Score:            sum.Score,
		MaxScore:         sum.MaxScore,
		Percentage:       sum.Percentage,
		TimeSpentSeconds: timeSpentSec,
		CompletedAt:      e.now().Unix(),
	})
	if err != nil {
		return exam.Attempt{}, fmt.Errorf("finalize attempt: %w", err)
	}
	if e.recorder != nil {
		e.recorder.AttemptCompleted(ctx, graded)
	}
	return graded, nil
}
