// Package payments keeps per-student payment records for the admin
// dashboard. Record keeping only; no gateway integration.
package payments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	StatusPending   = "pending"
	StatusPaid      = "paid"
	StatusCancelled = "cancelled"
)

var ErrNotFound = errors.New("payment not found")

type Payment struct {
	ID        string  `json:"id"`
	StudentID string  `json:"student_id"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	Method    string  `json:"method,omitempty"` // cash, card, transfer
	Status    string  `json:"status"`
	Period    string  `json:"period,omitempty"` // e.g. "2026-08"
	Note      string  `json:"note,omitempty"`
	PaidAt    int64   `json:"paid_at,omitempty"`
	CreatedAt int64   `json:"created_at"`
}

type ListOpts struct {
	StudentID string
	Status    string
	Limit     int
	Offset    int
}

type Repo struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepo(db *sql.DB) *Repo { return &Repo{db: db, now: time.Now} }

func (r *Repo) Create(ctx context.Context, p Payment) (Payment, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Currency == "" {
		p.Currency = "UZS"
	}
	if p.Status == "" {
		p.Status = StatusPending
	}
	p.CreatedAt = r.now().Unix()
	if p.Status == StatusPaid && p.PaidAt == 0 {
		p.PaidAt = p.CreatedAt
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO payments
		(id,student_id,amount,currency,method,status,period,note,paid_at,created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		p.ID, p.StudentID, p.Amount, p.Currency, p.Method, p.Status, p.Period, p.Note,
		nullableInt64(p.PaidAt), p.CreatedAt)
	if err != nil {
		return Payment{}, err
	}
	return p, nil
}

// SetStatus moves a payment between pending/paid/cancelled; marking paid
// stamps paid_at.
func (r *Repo) SetStatus(ctx context.Context, id, status string) (Payment, error) {
	var paidAt sql.NullInt64
	if status == StatusPaid {
		paidAt = sql.NullInt64{Int64: r.now().Unix(), Valid: true}
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE payments SET status=$1, paid_at=COALESCE($2, paid_at) WHERE id=$3`,
		status, paidAt, id)
	if err != nil {
		return Payment{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Payment{}, ErrNotFound
	}
	return r.Get(ctx, id)
}

func (r *Repo) Get(ctx context.Context, id string) (Payment, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id,student_id,amount,currency,method,status,period,note,paid_at,created_at
		FROM payments WHERE id=$1`, id)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Payment{}, ErrNotFound
	}
	return p, err
}

func (r *Repo) List(ctx context.Context, opts ListOpts) ([]Payment, error) {
	q := `SELECT id,student_id,amount,currency,method,status,period,note,paid_at,created_at FROM payments`
	var where []string
	var args []any
	if opts.StudentID != "" {
		args = append(args, opts.StudentID)
		where = append(where, fmt.Sprintf("student_id = $%d", len(args)))
	}
	if opts.Status != "" {
		args = append(args, opts.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
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

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (Payment, error) {
	var p Payment
	var paidAt sql.NullInt64
	err := row.Scan(&p.ID, &p.StudentID, &p.Amount, &p.Currency, &p.Method, &p.Status,
		&p.Period, &p.Note, &paidAt, &p.CreatedAt)
	p.PaidAt = paidAt.Int64
	return p, err
}

func nullableInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}
