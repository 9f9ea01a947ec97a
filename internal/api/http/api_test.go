package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	api "github.com/examforge/examforge-platform/internal/api/http"
	auth "github.com/examforge/examforge-platform/internal/auth/middleware"
	"github.com/examforge/examforge-platform/internal/exam"
	"github.com/examforge/examforge-platform/internal/grading"
	"github.com/examforge/examforge-platform/internal/rbac"

	"github.com/go-chi/chi/v5"
)

func newTestRouter(t *testing.T) (*chi.Mux, *auth.AuthService, exam.Store) {
	t.Helper()
	store := exam.NewInMemoryStore()
	engine := grading.NewEngine(store)
	authSvc := auth.NewAuthService("test-secret", time.Hour)

	r := chi.NewRouter()
	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(authSvc))

		pr.With(rbac.Require("test:create")).
			Post("/tests", api.CreateTestHandler(store))
		pr.With(rbac.Require("test:view")).
			Get("/tests/{testID}", api.GetTestHandler(store))
		pr.With(rbac.RequireAny("test:delete", "test:delete_own")).
			Delete("/tests/{testID}", api.DeleteTestHandler(store))

		pr.With(rbac.Require("attempt:create")).
			Post("/tests/{testID}/attempts", api.StartAttemptHandler(store))
		pr.With(rbac.Require("attempt:save")).
			Put("/attempts/{attemptID}/responses", api.SaveResponsesHandler(store))
		pr.With(rbac.Require("attempt:submit")).
			Post("/attempts/{attemptID}/submit", api.SubmitAttemptHandler(store, engine))
		pr.With(rbac.RequireAny("attempt:view-own", "attempt:view-all")).
			Get("/attempts/{attemptID}", api.GetAttemptHandler(store))
	})
	return r, authSvc, store
}

func doJSON(t *testing.T, r http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func mustToken(t *testing.T, a *auth.AuthService, sub, role string) string {
	t.Helper()
	tok, err := a.IssueJWT(sub, role)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestAPI_TestTakingFlow(t *testing.T) {
	r, authSvc, _ := newTestRouter(t)
	teacher := mustToken(t, authSvc, "t1", "teacher")
	student := mustToken(t, authSvc, "s1", "student")

	// Teacher publishes a two-question quiz.
	w := doJSON(t, r, "POST", "/tests", teacher, map[string]any{
		"title":            "Unit 3 quiz",
		"subject":          "math",
		"test_type":        "subject_quiz",
		"duration_minutes": 10,
		"is_published":     true,
		"questions": []map[string]any{
			{"question_text": "2+2?", "question_type": "short_answer", "correct_answer": "4", "points": 1},
			{"question_text": "Pick A", "question_type": "multiple_choice",
				"options": map[string]string{"A": "yes", "B": "no"}, "correct_answer": "A", "points": 1},
		},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create test: expected 201, got %d: %s", w.Code, w.Body)
	}
	var created exam.Test
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}

	// Student view must not carry the answer key.
	w = doJSON(t, r, "GET", "/tests/"+created.ID, student, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get test: expected 200, got %d", w.Code)
	}
	var view struct {
		Questions []exam.Question `json:"questions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatal(err)
	}
	if len(view.Questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(view.Questions))
	}
	for _, q := range view.Questions {
		if q.CorrectAnswer != "" {
			t.Fatalf("answer key leaked: %+v", q)
		}
	}

	// Start, autosave, submit.
	w = doJSON(t, r, "POST", "/tests/"+created.ID+"/attempts", student, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("start attempt: expected 200, got %d: %s", w.Code, w.Body)
	}
	var started struct {
		Attempt          exam.Attempt `json:"attempt"`
		RemainingSeconds int          `json:"remaining_seconds"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &started); err != nil {
		t.Fatal(err)
	}
	if started.RemainingSeconds != 600 {
		t.Fatalf("expected 600 s budget, got %d", started.RemainingSeconds)
	}

	answers := map[string]string{}
	for _, q := range view.Questions {
		if q.QuestionType == exam.KindShortAnswer {
			answers[q.ID] = "4"
		} else {
			answers[q.ID] = "B" // wrong on purpose
		}
	}
	w = doJSON(t, r, "PUT", "/attempts/"+started.Attempt.ID+"/responses", student,
		map[string]any{"answers": answers})
	if w.Code != http.StatusOK {
		t.Fatalf("save responses: expected 200, got %d: %s", w.Code, w.Body)
	}

	w = doJSON(t, r, "POST", "/attempts/"+started.Attempt.ID+"/submit", student,
		map[string]any{"time_spent_seconds": 420})
	if w.Code != http.StatusOK {
		t.Fatalf("submit: expected 200, got %d: %s", w.Code, w.Body)
	}
	var graded exam.Attempt
	if err := json.Unmarshal(w.Body.Bytes(), &graded); err != nil {
		t.Fatal(err)
	}
	if graded.Status != exam.StatusCompleted || graded.Score != 1 || graded.Percentage != 50.0 {
		t.Fatalf("unexpected grade: %+v", graded)
	}
	if graded.TimeSpentSeconds != 420 {
		t.Fatalf("expected 420 s recorded, got %d", graded.TimeSpentSeconds)
	}

	// Autosave after submit is rejected with a conflict.
	w = doJSON(t, r, "PUT", "/attempts/"+started.Attempt.ID+"/responses", student,
		map[string]any{"answers": answers})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 after completion, got %d", w.Code)
	}
}

func TestAPI_Authorization(t *testing.T) {
	r, authSvc, store := newTestRouter(t)
	student := mustToken(t, authSvc, "s1", "student")
	other := mustToken(t, authSvc, "s2", "student")
	teacher := mustToken(t, authSvc, "t1", "teacher")
	stranger := mustToken(t, authSvc, "t2", "teacher")

	test, err := store.SaveTest(context.Background(),
		exam.Test{Title: "quiz", IsPublished: true, CreatedBy: "t1"}, []exam.Question{
			{QuestionText: "q", QuestionType: exam.KindShortAnswer, CorrectAnswer: "x", Points: 1},
		})
	if err != nil {
		t.Fatal(err)
	}

	// No token at all.
	if w := doJSON(t, r, "GET", "/tests/"+test.ID, "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	// Students cannot author tests.
	if w := doJSON(t, r, "POST", "/tests", student, map[string]any{"title": "nope"}); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for student create, got %d", w.Code)
	}

	// s1 starts an attempt; s2 must not see it, the teacher may.
	w := doJSON(t, r, "POST", "/tests/"+test.ID+"/attempts", student, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("start attempt: got %d: %s", w.Code, w.Body)
	}
	var started struct {
		Attempt exam.Attempt `json:"attempt"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &started); err != nil {
		t.Fatal(err)
	}
	if w := doJSON(t, r, "GET", "/attempts/"+started.Attempt.ID, other, nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign attempt, got %d", w.Code)
	}
	if w := doJSON(t, r, "GET", "/attempts/"+started.Attempt.ID, teacher, nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for teacher, got %d", w.Code)
	}

	// Unpublished drafts stay hidden on direct fetch, like in listings.
	draft, err := store.SaveTest(context.Background(),
		exam.Test{Title: "draft", CreatedBy: "t1"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if w := doJSON(t, r, "GET", "/tests/"+draft.ID, student, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for student fetching a draft, got %d", w.Code)
	}
	if w := doJSON(t, r, "GET", "/tests/"+draft.ID, teacher, nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for key holder fetching a draft, got %d", w.Code)
	}

	// delete_own: a different teacher cannot delete t1's test.
	if w := doJSON(t, r, "DELETE", "/tests/"+test.ID, stranger, nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-owner delete, got %d", w.Code)
	}
	if w := doJSON(t, r, "DELETE", "/tests/"+test.ID, teacher, nil); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for owner delete, got %d", w.Code)
	}
}
