package exam

import (
	"context"
	"errors"
)

var (
	ErrTestNotFound    = errors.New("test not found")
	ErrAttemptNotFound = errors.New("attempt not found")
	// ErrAttemptClosed is returned when writing responses to an attempt that
	// already reached a terminal status.
	ErrAttemptClosed = errors.New("attempt already completed")
)

type ListOpts struct {
	Q          string
	Subject    string
	TestType   string
	Limit      int
	Offset     int
	ViewerID   string
	ViewerRole string // "student" | "teacher" | "admin"
}

type AttemptListOpts struct {
	TestID    string
	StudentID string
	Status    string // optional: in_progress|completed|abandoned
	Limit     int
	Offset    int
}

// Store is the persistent record store consumed by the session manager and
// the grading engine. SQL and in-memory implementations are provided.
type Store interface {
	// SaveTest upserts the test row and replaces its question set wholesale.
	// Positions are renumbered contiguously and total_questions is synced to
	// the question count.
	SaveTest(ctx context.Context, t Test, questions []Question) (Test, error)
	GetTest(ctx context.Context, id string) (Test, error)
	ListTests(ctx context.Context, opts ListOpts) ([]Test, error)
	DeleteTest(ctx context.Context, id string) error

	// Questions is student-safe: correct answers and explanations stripped.
	Questions(ctx context.Context, testID string) ([]Question, error)
	// QuestionsWithKey returns the full answer key, teacher/grading only.
	QuestionsWithKey(ctx context.Context, testID string) ([]Question, error)

	// ActiveAttempt returns the single in_progress attempt for the pair, or
	// ErrAttemptNotFound.
	ActiveAttempt(ctx context.Context, testID, studentID string) (Attempt, error)
	CreateAttempt(ctx context.Context, a Attempt) (Attempt, error)
	GetAttempt(ctx context.Context, id string) (Attempt, error)
	ListAttempts(ctx context.Context, opts AttemptListOpts) ([]Attempt, error)

	// UpsertResponses overwrites the stored answer per (attempt, question);
	// re-submission never duplicates. Rejects closed attempts.
	UpsertResponses(ctx context.Context, attemptID string, answers map[string]string) error
	ResponsesForAttempt(ctx context.Context, attemptID string) ([]Response, error)

	// FinalizeAttempt writes every graded response and flips the attempt to
	// completed in a single transaction. If the attempt is already in a
	// terminal state it is returned unchanged, which makes racing finalizes
	// harmless.
	FinalizeAttempt(ctx context.Context, attemptID string, graded []Response, totals GradedTotals) (Attempt, error)
}
