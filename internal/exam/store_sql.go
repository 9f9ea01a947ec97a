package exam

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type SQLStore struct {
	db     *sql.DB
	driver string // "sqlite" or "postgres"
	now    func() time.Time
}

func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver, now: time.Now}
}

func (s *SQLStore) SaveTest(ctx context.Context, t Test, questions []Question) (Test, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.TestType == "" {
		t.TestType = TypeSubjectQuiz
	}
	now := s.now().Unix()
	if t.CreatedAt == 0 {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	t.TotalQuestions = len(questions)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Test{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `INSERT INTO tests
		(id,title,description,subject,test_type,difficulty,duration_minutes,total_questions,is_published,created_by,created_at,updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE SET
		  title=EXCLUDED.title, description=EXCLUDED.description, subject=EXCLUDED.subject,
		  test_type=EXCLUDED.test_type, difficulty=EXCLUDED.difficulty,
		  duration_minutes=EXCLUDED.duration_minutes, total_questions=EXCLUDED.total_questions,
		  is_published=EXCLUDED.is_published, updated_at=EXCLUDED.updated_at`,
		t.ID, t.Title, t.Description, t.Subject, t.TestType, t.Difficulty,
		t.DurationMinutes, t.TotalQuestions, t.IsPublished, t.CreatedBy, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return Test{}, err
	}

	// Full question-set replacement keeps positions contiguous and
	// total_questions in sync after any edit.
	if _, err = tx.ExecContext(ctx, `DELETE FROM questions WHERE test_id=$1`, t.ID); err != nil {
		return Test{}, err
	}
	for i, q := range questions {
		if q.ID == "" {
			q.ID = uuid.NewString()
		}
		var oj string
		if len(q.Options) > 0 {
			b, merr := json.Marshal(q.Options)
			if merr != nil {
				err = merr
				return Test{}, err
			}
			oj = string(b)
		}
		if q.Points <= 0 {
			q.Points = 1
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO questions
			(id,test_id,question_text,question_type,options_json,correct_answer,explanation,points,position,image_key)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			q.ID, t.ID, q.QuestionText, q.QuestionType, oj, q.CorrectAnswer, q.Explanation, q.Points, i, q.ImageKey)
		if err != nil {
			return Test{}, err
		}
	}
	if err = tx.Commit(); err != nil {
		return Test{}, err
	}
	return t, nil
}

func (s *SQLStore) GetTest(ctx context.Context, id string) (Test, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,title,description,subject,test_type,difficulty,
		duration_minutes,total_questions,is_published,created_by,created_at,updated_at
		FROM tests WHERE id=$1`, id)
	t, err := scanTest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Test{}, ErrTestNotFound
	}
	return t, err
}

func (s *SQLStore) ListTests(ctx context.Context, opts ListOpts) ([]Test, error) {
	q := `SELECT id,title,description,subject,test_type,difficulty,
		duration_minutes,total_questions,is_published,created_by,created_at,updated_at FROM tests`
	var where []string
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	// Students only ever see published tests; teachers additionally see their
	// own drafts; admins see everything.
	switch opts.ViewerRole {
	case "teacher":
		args = append(args, opts.ViewerID)
		where = append(where, fmt.Sprintf("(is_published = TRUE OR created_by = $%d)", len(args)))
	case "admin":
	default:
		where = append(where, "is_published = TRUE")
	}
	if opts.Subject != "" {
		add("subject = $%d", opts.Subject)
	}
	if opts.TestType != "" {
		add("test_type = $%d", opts.TestType)
	}
	if opts.Q != "" {
		add("title LIKE $%d", "%"+opts.Q+"%")
	}
	for i, w := range where {
		if i == 0 {
			q += " WHERE " + w
		} else {
			q += " AND " + w
		}
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	args = append(args, opts.Offset)
	q += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Test{}
	for rows.Next() {
		t, err := scanTest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLStore) DeleteTest(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tests WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTestNotFound
	}
	// Questions, attempts and responses go with it via ON DELETE CASCADE.
	return nil
}

func (s *SQLStore) Questions(ctx context.Context, testID string) ([]Question, error) {
	qs, err := s.QuestionsWithKey(ctx, testID)
	if err != nil {
		return nil, err
	}
	for i := range qs {
		qs[i].CorrectAnswer = ""
		qs[i].Explanation = ""
	}
	return qs, nil
}

func (s *SQLStore) QuestionsWithKey(ctx context.Context, testID string) ([]Question, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id,test_id,question_text,question_type,options_json,
		correct_answer,explanation,points,position,image_key
		FROM questions WHERE test_id=$1 ORDER BY position`, testID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Question{}
	for rows.Next() {
		var q Question
		var oj string
		if err := rows.Scan(&q.ID, &q.TestID, &q.QuestionText, &q.QuestionType, &oj,
			&q.CorrectAnswer, &q.Explanation, &q.Points, &q.Position, &q.ImageKey); err != nil {
			return nil, err
		}
		if oj != "" {
			if err := json.Unmarshal([]byte(oj), &q.Options); err != nil {
				return nil, err
			}
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *SQLStore) ActiveAttempt(ctx context.Context, testID, studentID string) (Attempt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,test_id,student_id,status,score,max_score,percentage,
		time_spent_seconds,started_at,completed_at
		FROM attempts WHERE test_id=$1 AND student_id=$2 AND status=$3`,
		testID, studentID, StatusInProgress)
	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, ErrAttemptNotFound
	}
	return a, err
}

func (s *SQLStore) CreateAttempt(ctx context.Context, a Attempt) (Attempt, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = StatusInProgress
	}
	if a.StartedAt == 0 {
		a.StartedAt = s.now().Unix()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO attempts
		(id,test_id,student_id,status,score,max_score,percentage,time_spent_seconds,started_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		a.ID, a.TestID, a.StudentID, a.Status, a.Score, a.MaxScore, a.Percentage, a.TimeSpentSeconds, a.StartedAt)
	if err != nil {
		return Attempt{}, err
	}
	return a, nil
}

func (s *SQLStore) GetAttempt(ctx context.Context, id string) (Attempt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,test_id,student_id,status,score,max_score,percentage,
		time_spent_seconds,started_at,completed_at FROM attempts WHERE id=$1`, id)
	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, ErrAttemptNotFound
	}
	return a, err
}

func (s *SQLStore) ListAttempts(ctx context.Context, opts AttemptListOpts) ([]Attempt, error) {
	q := `SELECT id,test_id,student_id,status,score,max_score,percentage,
		time_spent_seconds,started_at,completed_at FROM attempts`
	var where []string
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if opts.TestID != "" {
		add("test_id = $%d", opts.TestID)
	}
	if opts.StudentID != "" {
		add("student_id = $%d", opts.StudentID)
	}
	if opts.Status != "" {
		add("status = $%d", opts.Status)
	}
	for i, w := range where {
		if i == 0 {
			q += " WHERE " + w
		} else {
			q += " AND " + w
		}
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	q += fmt.Sprintf(" ORDER BY started_at DESC LIMIT $%d", len(args))
	args = append(args, opts.Offset)
	q += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Attempt{}
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpsertResponses(ctx context.Context, attemptID string, answers map[string]string) error {
	a, err := s.GetAttempt(ctx, attemptID)
	if err != nil {
		return err
	}
	if a.Status != StatusInProgress {
		return ErrAttemptClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for qid, ans := range answers {
		_, err = tx.ExecContext(ctx, `INSERT INTO responses (attempt_id,question_id,student_answer,points_earned)
			VALUES ($1,$2,$3,0)
			ON CONFLICT (attempt_id,question_id) DO UPDATE SET student_answer=EXCLUDED.student_answer`,
			attemptID, qid, ans)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLStore) ResponsesForAttempt(ctx context.Context, attemptID string) ([]Response, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT attempt_id,question_id,student_answer,is_correct,
		points_earned,time_spent_seconds FROM responses WHERE attempt_id=$1`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Response{}
	for rows.Next() {
		var r Response
		var ans sql.NullString
		var corr sql.NullBool
		var spent sql.NullInt64
		if err := rows.Scan(&r.AttemptID, &r.QuestionID, &ans, &corr, &r.PointsEarned, &spent); err != nil {
			return nil, err
		}
		if ans.Valid {
			v := ans.String
			r.StudentAnswer = &v
		}
		if corr.Valid {
			v := corr.Bool
			r.IsCorrect = &v
		}
		r.TimeSpentSeconds = int(spent.Int64)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) FinalizeAttempt(ctx context.Context, attemptID string, graded []Response, totals GradedTotals) (Attempt, error) {
	a, err := s.GetAttempt(ctx, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	if a.Status != StatusInProgress {
		// Terminal already: a racing finalize observes the stored result.
		return a, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Attempt{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, r := range graded {
		var ans sql.NullString
		if r.StudentAnswer != nil {
			ans = sql.NullString{String: *r.StudentAnswer, Valid: true}
		}
		var corr sql.NullBool
		if r.IsCorrect != nil {
			corr = sql.NullBool{Bool: *r.IsCorrect, Valid: true}
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO responses
			(attempt_id,question_id,student_answer,is_correct,points_earned,time_spent_seconds)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (attempt_id,question_id) DO UPDATE SET
			  student_answer=EXCLUDED.student_answer, is_correct=EXCLUDED.is_correct,
			  points_earned=EXCLUDED.points_earned`,
			attemptID, r.QuestionID, ans, corr, r.PointsEarned, r.TimeSpentSeconds)
		if err != nil {
			return Attempt{}, err
		}
	}

	// Guarded transition: only an in_progress row moves to completed.
	var res sql.Result
	res, err = tx.ExecContext(ctx, `UPDATE attempts SET status=$1, score=$2, max_score=$3, percentage=$4,
		time_spent_seconds=$5, completed_at=$6 WHERE id=$7 AND status=$8`,
		StatusCompleted, totals.Score, totals.MaxScore, totals.Percentage,
		totals.TimeSpentSeconds, totals.CompletedAt, attemptID, StatusInProgress)
	if err != nil {
		return Attempt{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = errors.New("attempt state changed during grading")
		return Attempt{}, err
	}
	if err = tx.Commit(); err != nil {
		return Attempt{}, err
	}
	return s.GetAttempt(ctx, attemptID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTest(row rowScanner) (Test, error) {
	var t Test
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Subject, &t.TestType, &t.Difficulty,
		&t.DurationMinutes, &t.TotalQuestions, &t.IsPublished, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func scanAttempt(row rowScanner) (Attempt, error) {
	var a Attempt
	var spent, completed sql.NullInt64
	err := row.Scan(&a.ID, &a.TestID, &a.StudentID, &a.Status, &a.Score, &a.MaxScore,
		&a.Percentage, &spent, &a.StartedAt, &completed)
	a.TimeSpentSeconds = int(spent.Int64)
	a.CompletedAt = completed.Int64
	return a, err
}
