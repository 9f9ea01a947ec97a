package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type Config struct {
	Mode     Mode
	HTTPAddr string

	DBDriver string
	DBDSN    string

	BlobBasePath string // question image uploads

	AuthSecret   string // HMAC secret for JWTs
	TokenTTLHrs  int
	CORSOrigins  []string
	AdminUser    string
	AdminPass    string // bootstrap admin, dev only
}

// FromEnv loads .env if present, then reads configuration from the
// environment with dev defaults.
func FromEnv() Config {
	_ = godotenv.Load()

	mode := Mode(os.Getenv("MODE"))
	if mode == "" {
		mode = ModeDev
	}
	return Config{
		Mode:         mode,
		HTTPAddr:     envOr("HTTP_ADDR", ":8080"),
		DBDriver:     envOr("DB_DRIVER", "sqlite"),
		DBDSN:        envOr("DB_DSN", ""),
		BlobBasePath: envOr("BLOB_BASE_PATH", "./data"),
		AuthSecret:   envOr("AUTH_HMAC_SECRET", "supersecret-dev-key"),
		TokenTTLHrs:  envInt("TOKEN_TTL_HOURS", 8),
		CORSOrigins:  csvOr("CORS_ORIGINS", "http://localhost:3000"),
		AdminUser:    envOr("ADMIN_USER", "admin"),
		AdminPass:    os.Getenv("ADMIN_PASS"),
	}
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func envInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
