package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"time"

	api "github.com/examforge/examforge-platform/internal/api/http"
	auth "github.com/examforge/examforge-platform/internal/auth/middleware"
	"github.com/examforge/examforge-platform/internal/config"
	"github.com/examforge/examforge-platform/internal/db"
	"github.com/examforge/examforge-platform/internal/exam"
	"github.com/examforge/examforge-platform/internal/grading"
	"github.com/examforge/examforge-platform/internal/payments"
	"github.com/examforge/examforge-platform/internal/rbac"
	"github.com/examforge/examforge-platform/internal/storage"
	syncx "github.com/examforge/examforge-platform/internal/sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	cfg := config.FromEnv()

	// --- DB ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}
	if err := bootstrapAdmin(ctx, dbh, cfg); err != nil {
		log.Fatalf("bootstrap admin: %v", err)
	}

	store := exam.NewSQLStore(dbh, cfg.DBDriver)
	events := syncx.NewEventRepo(dbh)
	engine := grading.NewEngine(store, grading.WithRecorder(events))
	payRepo := payments.NewRepo(dbh)

	authSvc := auth.NewAuthService(cfg.AuthSecret, time.Duration(cfg.TokenTTLHrs)*time.Hour)

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/auth/login", auth.LoginHandler(authSvc, dbh))

	bs, err := storage.NewFSStore(cfg.BlobBasePath)
	if err != nil {
		log.Fatalf("blob store: %v", err)
	}

	// Protected API (JWT -> subject+role in context -> RBAC)
	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(authSvc))

		pr.Route("/assets", func(ar chi.Router) {
			api.MountAssets(ar, bs)
		})

		// Test management
		pr.With(rbac.Require("test:create")).
			Post("/tests", api.CreateTestHandler(store))
		pr.With(rbac.Require("test:create")).
			Put("/tests/{testID}/questions", api.ReplaceQuestionsHandler(store))
		pr.With(rbac.Require("test:view")).
			Get("/tests", api.ListTestsHandler(store))
		pr.With(rbac.Require("test:view")).
			Get("/tests/{testID}", api.GetTestHandler(store))
		pr.With(rbac.RequireAny("test:delete", "test:delete_own")).
			Delete("/tests/{testID}", api.DeleteTestHandler(store))

		// Student test-taking flow
		pr.With(rbac.Require("attempt:create")).
			Post("/tests/{testID}/attempts", api.StartAttemptHandler(store))
		pr.With(rbac.Require("attempt:save")).
			Put("/attempts/{attemptID}/responses", api.SaveResponsesHandler(store))
		pr.With(rbac.Require("attempt:submit")).
			Post("/attempts/{attemptID}/submit", api.SubmitAttemptHandler(store, engine))
		pr.With(rbac.RequireAny("attempt:view-own", "attempt:view-all")).
			Get("/attempts/{attemptID}", api.GetAttemptHandler(store))
		pr.With(rbac.RequireAny("attempt:view-own", "attempt:view-all")).
			Get("/attempts", api.ListAttemptsHandler(store))

		// Users (teacher/admin)
		pr.With(rbac.Require("users:bulk_upsert")).
			Post("/users/bulk", api.BulkUpsertUsersHandler(dbh))
		pr.With(rbac.Require("users:list")).
			Get("/users", api.ListUsersHandler(dbh))
		pr.With(rbac.Require("user:change_password")).
			Post("/users/change-password", api.ChangePasswordHandler(dbh))

		// Payments tracking (admin; teachers may view)
		pr.With(rbac.Require("payments:create")).
			Post("/payments", api.CreatePaymentHandler(payRepo))
		pr.With(rbac.Require("payments:view")).
			Get("/payments", api.ListPaymentsHandler(payRepo))
		pr.With(rbac.Require("payments:update")).
			Patch("/payments/{paymentID}/status", api.UpdatePaymentStatusHandler(payRepo))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := dbh.PingContext(r.Context()); err != nil {
			http.Error(w, "db unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(200)
	})

	log.Printf("listening on %s (mode=%s, db=%s)", cfg.HTTPAddr, cfg.Mode, cfg.DBDriver)
	log.Fatal(http.ListenAndServe(cfg.HTTPAddr, r))
}

// bootstrapAdmin seeds the admin account on first run when ADMIN_PASS is set.
func bootstrapAdmin(ctx context.Context, dbh *sql.DB, cfg config.Config) error {
	if cfg.AdminPass == "" {
		return nil
	}
	var id string
	err := dbh.QueryRowContext(ctx, `SELECT id FROM users WHERE username=$1`, cfg.AdminUser).Scan(&id)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPass), 12)
	if err != nil {
		return err
	}
	_, err = dbh.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, role, full_name, created_at) VALUES ($1,$2,$3,'admin','',$4)`,
		uuid.NewString(), cfg.AdminUser, string(hash), time.Now().Unix())
	return err
}
