package http

import (
	"encoding/json"
	"errors"
	"net/http"

	authmw "github.com/examforge/examforge-platform/internal/auth/middleware"
	"github.com/examforge/examforge-platform/internal/exam"
	"github.com/examforge/examforge-platform/internal/grading"
	"github.com/examforge/examforge-platform/internal/rbac"
	"github.com/examforge/examforge-platform/internal/session"

	"github.com/go-chi/chi/v5"
)

// POST /tests/{testID}/attempts — resume the caller's in_progress attempt or
// start a new one. The response carries saved answers and the remaining time
// so a client can pick up mid-test.
func StartAttemptHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		testID := chi.URLParam(r, "testID")
		studentID := authmw.SubjectFromContext(r.Context())
		st, err := session.ResumeOrStart(r.Context(), store, testID, studentID, nil)
		if errors.Is(err, exam.ErrTestNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"attempt":           st.Attempt,
			"answers":           st.Answers,
			"remaining_seconds": st.RemainingSeconds,
			"timed":             st.Timed,
		})
	}
}

// PUT /attempts/{attemptID}/responses  {"answers": {"<questionID>": "<value>"}}
// Autosave flush: upserts every submitted answer, overwriting prior values.
func SaveResponsesHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := ownAttempt(w, r, store)
		if !ok {
			return
		}
		var req struct {
			Answers map[string]string `json:"answers"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if len(req.Answers) == 0 {
			writeJSON(w, http.StatusOK, map[string]int{"saved": 0})
			return
		}
		if err := store.UpsertResponses(r.Context(), a.ID, req.Answers); err != nil {
			if errors.Is(err, exam.ErrAttemptClosed) {
				http.Error(w, err.Error(), http.StatusConflict)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"saved": len(req.Answers)})
	}
}

// POST /attempts/{attemptID}/submit  {"time_spent_seconds": 900}
// Grades and finalizes. Submitting an already-completed attempt returns it
// unchanged, so timer-expiry and manual submits can race safely.
func SubmitAttemptHandler(store exam.Store, engine *grading.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := ownAttempt(w, r, store)
		if !ok {
			return
		}
		var req struct {
			TimeSpentSeconds int `json:"time_spent_seconds"`
		}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&req) // optional body
		}
		graded, err := engine.GradeAttempt(r.Context(), a.ID, req.TimeSpentSeconds)
		if err != nil {
			// Attempt stays in_progress; the client may retry.
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, graded)
	}
}

// GET /attempts/{attemptID} — attempt with its responses.
func GetAttemptHandler(store exam.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := ownAttempt(w, r, store)
		if !ok {
			return
		}
		resps, err := store.ResponsesForAttempt(r.Context(), a.ID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"attempt": a, "responses": resps})
	}
}

// ownAttempt loads the attempt and enforces that students only touch their
// own; teachers and admins (attempt:view-all) pass through.
func ownAttempt(w http.ResponseWriter, r *http.Request, store exam.Store) (exam.Attempt, bool) {
	id := chi.URLParam(r, "attemptID")
	a, err := store.GetAttempt(r.Context(), id)
	if errors.Is(err, exam.ErrAttemptNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return exam.Attempt{}, false
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return exam.Attempt{}, false
	}
	sub := authmw.SubjectFromContext(r.Context())
	role := rbac.RoleFromContext(r.Context())
	if a.StudentID != sub && !rbac.NewChecker(nil).Has(role, "attempt:view-all") {
		http.Error(w, "forbidden", http.StatusForbidden)
		return exam.Attempt{}, false
	}
	return a, true
}
