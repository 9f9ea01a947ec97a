package http

import (
	"net/http"
	"strings"

	authmw "github.com/examforge/examforge-platform/internal/auth/middleware"
	"github.com/examforge/examforge-platform/internal/exam"
	"github.com/examforge/examforge-platform/internal/rbac"
)

// GET /attempts?test_id=...&student_id=...&status=...&limit=50&offset=0
// Roles with attempt:view-all may use any filter; everyone else is forced to
// their own attempts.
func ListAttemptsHandler(store exam.Store) http.HandlerFunc {
	checker := rbac.NewChecker(nil)
	return func(w http.ResponseWriter, r *http.Request) {
		role := rbac.RoleFromContext(r.Context())
		sub := authmw.SubjectFromContext(r.Context())
		if role == "" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		studentID := strings.TrimSpace(r.URL.Query().Get("student_id"))
		if !checker.Has(role, "attempt:view-all") {
			studentID = sub
		}

		list, err := store.ListAttempts(r.Context(), exam.AttemptListOpts{
			TestID:    strings.TrimSpace(r.URL.Query().Get("test_id")),
			StudentID: studentID,
			Status:    strings.TrimSpace(r.URL.Query().Get("status")),
			Limit:     parseIntDefault(r.URL.Query().Get("limit"), 50),
			Offset:    parseIntDefault(r.URL.Query().Get("offset"), 0),
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}
