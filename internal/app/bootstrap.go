package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"auth-service/internal/account"
	"auth-service/internal/credential"
	"auth-service/internal/db"
	"auth-service/internal/maintenance"
	"auth-service/internal/observability"
	"auth-service/internal/session"
	"auth-service/internal/token"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Close   func() error
}

// Build assembles the full service from the environment: database, token
// engine, google verifier, session manager and HTTP routes.
func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	logger := observability.NewLogger()

	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return nil, err
	}
	accessSecret, err := mustEnv("ACCESS_TOKEN_SECRET")
	if err != nil {
		return nil, err
	}
	refreshSecret, err := mustEnv("REFRESH_TOKEN_SECRET")
	if err != nil {
		return nil, err
	}
	googleClientID, err := mustEnv("GOOGLE_CLIENT_ID")
	if err != nil {
		return nil, err
	}

	if err := observability.InitSentry(os.Getenv("SENTRY_DSN"), envOrDefault("APP_ENV", "development")); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	database, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(envIntOrDefault("DB_MAX_OPEN_CONNS", 10))
	database.SetMaxIdleConns(envIntOrDefault("DB_MAX_IDLE_CONNS", 5))
	database.SetConnMaxLifetime(envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30))
	database.SetConnMaxIdleTime(envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10))

	if err := database.Ping(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if options.RunMigrations {
		if err := db.RunMigrations(database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	repo := account.NewPostgresRepository(database)

	tokenEngine, err := token.NewEngine(token.Config{
		AccessSecret:  []byte(accessSecret),
		RefreshSecret: []byte(refreshSecret),
		Issuer:        envOrDefault("TOKEN_ISSUER", "auth-service"),
		Audience:      envOrDefault("TOKEN_AUDIENCE", "web-app"),
		AccessTTL:     envMinutesOrDefault("ACCESS_TOKEN_TTL_MINUTES", 15),
		RefreshTTL:    envHoursOrDefault("REFRESH_TOKEN_TTL_HOURS", 168),
	})
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("build token engine: %w", err)
	}

	googleVerifier, err := credential.NewGoogleVerifier(credential.GoogleConfig{
		ClientID:     googleClientID,
		ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		RedirectURL:  os.Getenv("GOOGLE_REDIRECT_URI"),
		Timeout:      envSecondsOrDefault("GOOGLE_TIMEOUT_SECONDS", 10),
	})
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("build google verifier: %w", err)
	}

	sessionService := session.NewService(repo, googleVerifier, tokenEngine)
	sessionHandler := session.NewHandler(sessionService)
	cleanupHandler := maintenance.NewCleanupHandler(
		repo,
		logger,
		os.Getenv("CRON_SECRET"),
		envDaysOrDefault("REFRESH_TOKEN_RETENTION_DAYS", 7),
		envIntOrDefault("CLEANUP_BATCH_SIZE", 500),
	)

	limiter := session.NewAttemptLimiter(
		envIntOrDefault("LOGIN_RATE_LIMIT_MAX", 10),
		envSecondsOrDefault("LOGIN_RATE_LIMIT_WINDOW_SECONDS", 60),
	)

	authed := func(h http.HandlerFunc) http.Handler {
		return session.Middleware(tokenEngine, h)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /auth/register", limiter.Middleware(http.HandlerFunc(sessionHandler.Register)))
	mux.Handle("POST /auth/login", limiter.Middleware(http.HandlerFunc(sessionHandler.Login)))
	mux.Handle("POST /auth/google", limiter.Middleware(http.HandlerFunc(sessionHandler.GoogleLogin)))
	mux.HandleFunc("GET /auth/google/url", sessionHandler.GoogleAuthURL)
	mux.Handle("POST /auth/google/callback", limiter.Middleware(http.HandlerFunc(sessionHandler.GoogleCallback)))
	mux.HandleFunc("POST /auth/refresh", sessionHandler.Refresh)
	mux.Handle("POST /auth/logout", authed(sessionHandler.Logout))
	mux.Handle("GET /auth/profile", authed(sessionHandler.GetProfile))
	mux.Handle("PATCH /auth/profile", authed(sessionHandler.UpdateProfile))
	mux.Handle("DELETE /auth/profile", authed(sessionHandler.Deactivate))
	mux.Handle("POST /auth/password", authed(sessionHandler.ChangePassword))
	mux.Handle("GET /admin/accounts/{id}", session.Middleware(tokenEngine, session.RequireAdmin(repo, http.HandlerFunc(sessionHandler.AdminGetAccount))))
	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(database))

	handler := observability.RecoverMiddleware(logger, observability.RequestLoggingMiddleware(logger, mux))

	return &Runtime{
		Handler: handler,
		Close: func() error {
			observability.FlushSentry()
			return database.Close()
		},
	}, nil
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envHoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Hour
}

func envDaysOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * 24 * time.Hour
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

// EnvBoolOrDefault is used by the serverless entrypoint.
func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
