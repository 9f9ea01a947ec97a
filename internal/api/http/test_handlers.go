package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	authmw "github.com/examforge/examforge-platform/internal/auth/middleware"
	"github.com/examforge/examforge-platform/internal/exam"
	"github.com/examforge/examforge-platform/internal/rbac"

	"github.com/go-chi/chi/v5"
)

type questionPayload struct {
	QuestionText  string            `json:"question_text" validate:"required"`
	QuestionType  string            `json:"question_type" validate:"required,oneof=multiple_choice true_false short_answer"`
	Options       map[string]string `json:"options,omitempty"`
	CorrectAnswer string            `json:"correct_answer" validate:"required"`
	Explanation   string            `json:"explanation,omitempty"`
	Points        float64           `json:"points" validate:"gte=0"`
	ImageKey      string            `json:"image_key,omitempty"`
}

type testPayload struct {
	Title           string            `json:"title" validate:"required"`
	Description     string            `json:"description,omitempty"`
	Subject         string            `json:"subject,omitempty"`
	TestType        string            `json:"test_type" validate:"omitempty,oneof=subject_quiz practice progress_check mock_exam"`
	Difficulty      string            `json:"difficulty,omitempty"`
	DurationMinutes int               `json:"duration_minutes" validate:"gte=0"`
	IsPublished     bool              `json:"is_published"`
	Questions       []questionPayload `json:"questions" validate:"dive"`
}

func (p testPayload) toModel(createdBy string) (exam.Test, []exam.Question) {
	t := exam.Test{
		Title:           p.Title,
		Description:     p.Description,
		Subject:         p.Subject,
		TestType:        p.TestType,
		Difficulty:      p.Difficulty,
		DurationMinutes: p.DurationMinutes,
		IsPublished:     p.IsPublished,
		CreatedBy:       createdBy,
	}
	qs := make([]exam.Question, len(p.Questions))
	for i, q := range p.Questions {
		qs[i] = exam.Question{
			QuestionText:  q.QuestionText,
			QuestionType:  q.QuestionType,
			Options:       q.Options,
			CorrectAnswer: q.CorrectAnswer,
			Explanation:   q.Explanation,
			Points:        q.Points,
			ImageKey:      q.ImageKey,
		}
	}
	return t, qs
}

// POST /tests — create a test with its full question set.
func CreateTestHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req testPayload
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		t, qs := req.toModel(authmw.SubjectFromContext(r.Context()))
		saved, err := store.SaveTest(r.Context(), t, qs)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, saved)
	}
}

// PUT /tests/{testID}/questions — full question-set replacement.
func ReplaceQuestionsHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "testID")
		t, err := store.GetTest(r.Context(), id)
		if errors.Is(err, exam.ErrTestNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		var req struct {
			Questions []questionPayload `json:"questions" validate:"dive"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		qs := make([]exam.Question, len(req.Questions))
		for i, q := range req.Questions {
			qs[i] = exam.Question{
				QuestionText:  q.QuestionText,
				QuestionType:  q.QuestionType,
				Options:       q.Options,
				CorrectAnswer: q.CorrectAnswer,
				Explanation:   q.Explanation,
				Points:        q.Points,
				ImageKey:      q.ImageKey,
			}
		}
		saved, err := store.SaveTest(r.Context(), t, qs)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, saved)
	}
}

// GET /tests/{testID} — test with student-safe questions (no answer keys).
// Callers holding test:view_key receive the full key set.
func GetTestHandler(store exam.Store) http.HandlerFunc {
	checker := rbac.NewChecker(nil)
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "testID")
		t, err := store.GetTest(r.Context(), id)
		if errors.Is(err, exam.ErrTestNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		role := rbac.RoleFromContext(r.Context())
		// Drafts are visible to key holders and the creator only, same policy
		// as ListTests. 404 rather than 403: don't confirm the draft exists.
		if !t.IsPublished && !checker.Has(role, "test:view_key") &&
			t.CreatedBy != authmw.SubjectFromContext(r.Context()) {
			http.Error(w, exam.ErrTestNotFound.Error(), http.StatusNotFound)
			return
		}
		var qs []exam.Question
		if checker.Has(role, "test:view_key") {
			qs, err = store.QuestionsWithKey(r.Context(), id)
		} else {
			qs, err = store.Questions(r.Context(), id)
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"test": t, "questions": qs})
	}
}

// GET /tests?subject=...&test_type=...&q=...&limit=50&offset=0
func ListTestsHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := store.ListTests(r.Context(), exam.ListOpts{
			Q:          strings.TrimSpace(r.URL.Query().Get("q")),
			Subject:    strings.TrimSpace(r.URL.Query().Get("subject")),
			TestType:   strings.TrimSpace(r.URL.Query().Get("test_type")),
			Limit:      parseIntDefault(r.URL.Query().Get("limit"), 50),
			Offset:     parseIntDefault(r.URL.Query().Get("offset"), 0),
			ViewerID:   authmw.SubjectFromContext(r.Context()),
			ViewerRole: rbac.RoleFromContext(r.Context()),
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// DELETE /tests/{testID} — cascades to questions, attempts, responses.
// Callers with only test:delete_own must be the creator.
func DeleteTestHandler(store exam.Store) http.HandlerFunc {
	checker := rbac.NewChecker(nil)
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "testID")
		t, err := store.GetTest(r.Context(), id)
		if errors.Is(err, exam.ErrTestNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		role := rbac.RoleFromContext(r.Context())
		if !checker.Has(role, "test:delete") && t.CreatedBy != authmw.SubjectFromContext(r.Context()) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		err = store.DeleteTest(r.Context(), id)
		if errors.Is(err, exam.ErrTestNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
