package exam

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryStore struct {
	mu        sync.RWMutex
	tests     map[string]Test
	questions map[string][]Question // testID -> ordered questions
	attempts  map[string]Attempt
	responses map[string]map[string]Response // attemptID -> questionID -> response
	now       func() time.Time
}

// NewInMemoryStore backs the Store contract with maps. Used in tests and for
// single-process dev runs without a database file.
func NewInMemoryStore() Store {
	return &memoryStore{
		tests:     map[string]Test{},
		questions: map[string][]Question{},
		attempts:  map[string]Attempt{},
		responses: map[string]map[string]Response{},
		now:       time.Now,
	}
}

func (m *memoryStore) SaveTest(_ context.Context, t Test, questions []Question) (Test, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.TestType == "" {
		t.TestType = TypeSubjectQuiz
	}
	now := m.now().Unix()
	if t.CreatedAt == 0 {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	t.TotalQuestions = len(questions)

	qs := make([]Question, len(questions))
	for i, q := range questions {
		if q.ID == "" {
			q.ID = uuid.NewString()
		}
		if q.Points <= 0 {
			q.Points = 1
		}
		q.TestID = t.ID
		q.Position = i
		qs[i] = q
	}
	m.tests[t.ID] = t
	m.questions[t.ID] = qs
	return t, nil
}

func (m *memoryStore) GetTest(_ context.Context, id string) (Test, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tests[id]
	if !ok {
		return Test{}, ErrTestNotFound
	}
	return t, nil
}

func (m *memoryStore) ListTests(_ context.Context, opts ListOpts) ([]Test, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Test{}
	for _, t := range m.tests {
		switch opts.ViewerRole {
		case "admin":
		case "teacher":
			if !t.IsPublished && t.CreatedBy != opts.ViewerID {
				continue
			}
		default:
			if !t.IsPublished {
				continue
			}
		}
		if opts.Subject != "" && t.Subject != opts.Subject {
			continue
		}
		if opts.TestType != "" && t.TestType != opts.TestType {
			continue
		}
		if opts.Q != "" && !strings.Contains(strings.ToLower(t.Title), strings.ToLower(opts.Q)) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return page(out, opts.Limit, opts.Offset), nil
}

func (m *memoryStore) DeleteTest(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tests[id]; !ok {
		return ErrTestNotFound
	}
	delete(m.tests, id)
	delete(m.questions, id)
	for aid, a := range m.attempts {
		if a.TestID == id {
			delete(m.attempts, aid)
			delete(m.responses, aid)
		}
	}
	return nil
}

func (m *memoryStore) Questions(ctx context.Context, testID string) ([]Question, error) {
	qs, err := m.QuestionsWithKey(ctx, testID)
	if err != nil {
		return nil, err
	}
	for i := range qs {
		qs[i].CorrectAnswer = ""
		qs[i].Explanation = ""
	}
	return qs, nil
}

func (m *memoryStore) QuestionsWithKey(_ context.Context, testID string) ([]Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.tests[testID]; !ok {
		return nil, ErrTestNotFound
	}
	qs := m.questions[testID]
	out := make([]Question, len(qs))
	copy(out, qs)
	return out, nil
}

func (m *memoryStore) ActiveAttempt(_ context.Context, testID, studentID string) (Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.attempts {
		if a.TestID == testID && a.StudentID == studentID && a.Status == StatusInProgress {
			return a, nil
		}
	}
	return Attempt{}, ErrAttemptNotFound
}

func (m *memoryStore) CreateAttempt(_ context.Context, a Attempt) (Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tests[a.TestID]; !ok {
		return Attempt{}, ErrTestNotFound
	}
	for _, ex := range m.attempts {
		if ex.TestID == a.TestID && ex.StudentID == a.StudentID && ex.Status == StatusInProgress {
			return Attempt{}, errors.New("active attempt already exists")
		}
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = StatusInProgress
	}
	if a.StartedAt == 0 {
		a.StartedAt = m.now().Unix()
	}
	m.attempts[a.ID] = a
	m.responses[a.ID] = map[string]Response{}
	return a, nil
}

func (m *memoryStore) GetAttempt(_ context.Context, id string) (Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.attempts[id]
	if !ok {
		return Attempt{}, ErrAttemptNotFound
	}
	return a, nil
}

func (m *memoryStore) ListAttempts(_ context.Context, opts AttemptListOpts) ([]Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Attempt{}
	for _, a := range m.attempts {
		if opts.TestID != "" && a.TestID != opts.TestID {
			continue
		}
		if opts.StudentID != "" && a.StudentID != opts.StudentID {
			continue
		}
		if opts.Status != "" && a.Status != opts.Status {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt > out[j].StartedAt })
	return page(out, opts.Limit, opts.Offset), nil
}

func (m *memoryStore) UpsertResponses(_ context.Context, attemptID string, answers map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[attemptID]
	if !ok {
		return ErrAttemptNotFound
	}
	if a.Status != StatusInProgress {
		return ErrAttemptClosed
	}
	for qid, ans := range answers {
		v := ans
		r := m.responses[attemptID][qid]
		r.AttemptID = attemptID
		r.QuestionID = qid
		r.StudentAnswer = &v
		m.responses[attemptID][qid] = r
	}
	return nil
}

func (m *memoryStore) ResponsesForAttempt(_ context.Context, attemptID string) ([]Response, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.attempts[attemptID]; !ok {
		return nil, ErrAttemptNotFound
	}
	out := []Response{}
	for _, r := range m.responses[attemptID] {
		out = append(out, r)
	}
	return out, nil
}

func (m *memoryStore) FinalizeAttempt(_ context.Context, attemptID string, graded []Response, totals GradedTotals) (Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[attemptID]
	if !ok {
		return Attempt{}, ErrAttemptNotFound
	}
	if a.Status != StatusInProgress {
		return a, nil
	}
	for _, r := range graded {
		prev := m.responses[attemptID][r.QuestionID]
		r.TimeSpentSeconds = prev.TimeSpentSeconds
		m.responses[attemptID][r.QuestionID] = r
	}
	a.Status = StatusCompleted
	a.Score = totals.Score
	a.MaxScore = totals.MaxScore
	a.Percentage = totals.Percentage
	a.TimeSpentSeconds = totals.TimeSpentSeconds
	a.CompletedAt = totals.CompletedAt
	m.attempts[attemptID] = a
	return a, nil
}

func page[T any](in []T, limit, offset int) []T {
	if limit <= 0 {
		limit = 50
	}
	if offset >= len(in) {
		return []T{}
	}
	in = in[offset:]
	if len(in) > limit {
		in = in[:limit]
	}
	return in
}
