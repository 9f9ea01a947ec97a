package exam

// Test type tags. A test is a named assessment built by a teacher or admin.
const (
	TypeSubjectQuiz   = "subject_quiz"
	TypePractice      = "practice"
	TypeProgressCheck = "progress_check"
	TypeMockExam      = "mock_exam"
)

// Question kinds.
const (
	KindMultipleChoice = "multiple_choice"
	KindTrueFalse      = "true_false"
	KindShortAnswer    = "short_answer"
)

// Attempt statuses. in_progress is the only non-terminal state.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusAbandoned  = "abandoned"
)

type Test struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	Subject         string `json:"subject,omitempty"`
	TestType        string `json:"test_type"`
	Difficulty      string `json:"difficulty,omitempty"`
	DurationMinutes int    `json:"duration_minutes"` // 0 = untimed
	TotalQuestions  int    `json:"total_questions"`
	IsPublished     bool   `json:"is_published"`
	CreatedBy       string `json:"created_by,omitempty"`
	CreatedAt       int64  `json:"created_at,omitempty"`
	UpdatedAt       int64  `json:"updated_at,omitempty"`
}

type Question struct {
	ID           string            `json:"id"`
	TestID       string            `json:"test_id"`
	QuestionText string            `json:"question_text"`
	QuestionType string            `json:"question_type"`
	Options      map[string]string `json:"options,omitempty"` // label -> text, multiple_choice only
	// CorrectAnswer is the answer key: an option label for multiple_choice,
	// "true"/"false" for true_false, free text for short_answer. Stripped
	// when serving questions to students.
	CorrectAnswer string  `json:"correct_answer,omitempty"`
	Explanation   string  `json:"explanation,omitempty"`
	Points        float64 `json:"points"`
	Position      int     `json:"position"`
	ImageKey      string  `json:"image_key,omitempty"`
}

type Attempt struct {
	ID        string  `json:"id"`
	TestID    string  `json:"test_id"`
	StudentID string  `json:"student_id"`
	Status    string  `json:"status"`
	Score     float64 `json:"score"`
	// MaxScore is frozen at attempt creation and overwritten with the value
	// recomputed at grading time on the completed record.
	MaxScore         float64 `json:"max_score"`
	Percentage       float64 `json:"percentage"`
	TimeSpentSeconds int     `json:"time_spent_seconds,omitempty"`
	StartedAt        int64   `json:"started_at"`
	CompletedAt      int64   `json:"completed_at,omitempty"` // 0 until completed
}

type Response struct {
	AttemptID        string  `json:"attempt_id"`
	QuestionID       string  `json:"question_id"`
	StudentAnswer    *string `json:"student_answer"` // nil until answered
	IsCorrect        *bool   `json:"is_correct"`     // nil until graded
	PointsEarned     float64 `json:"points_earned"`
	TimeSpentSeconds int     `json:"time_spent_seconds,omitempty"`
}

// GradedTotals carries the aggregate written to the attempt row when grading
// finalizes it.
type GradedTotals struct {
	Score            float64
	MaxScore         float64
	Percentage       float64
	TimeSpentSeconds int
	CompletedAt      int64
}
