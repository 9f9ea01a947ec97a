package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/examforge/examforge-platform/internal/payments"

	"github.com/go-chi/chi/v5"
)

type paymentPayload struct {
	StudentID string  `json:"student_id" validate:"required"`
	Amount    float64 `json:"amount" validate:"gt=0"`
	Currency  string  `json:"currency,omitempty"`
	Method    string  `json:"method,omitempty"`
	Status    string  `json:"status" validate:"omitempty,oneof=pending paid cancelled"`
	Period    string  `json:"period,omitempty"`
	Note      string  `json:"note,omitempty"`
}

// POST /payments
func CreatePaymentHandler(repo *payments.Repo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req paymentPayload
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		p, err := repo.Create(r.Context(), payments.Payment{
			StudentID: req.StudentID,
			Amount:    req.Amount,
			Currency:  req.Currency,
			Method:    req.Method,
			Status:    req.Status,
			Period:    req.Period,
			Note:      req.Note,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	}
}

// GET /payments?student_id=...&status=...
func ListPaymentsHandler(repo *payments.Repo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := repo.List(r.Context(), payments.ListOpts{
			StudentID: strings.TrimSpace(r.URL.Query().Get("student_id")),
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

// PATCH /payments/{paymentID}/status  {"status": "paid"}
func UpdatePaymentStatusHandler(repo *payments.Repo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "paymentID")
		var req struct {
			Status string `json:"status" validate:"required,oneof=pending paid cancelled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		p, err := repo.SetStatus(r.Context(), id, req.Status)
		if errors.Is(err, payments.ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}
