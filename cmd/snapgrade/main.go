package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/snapgrade/snapgrade/internal/annotate"
	"github.com/snapgrade/snapgrade/internal/api"
	"github.com/snapgrade/snapgrade/internal/bot"
	"github.com/snapgrade/snapgrade/internal/grader"
	appI18n "github.com/snapgrade/snapgrade/internal/i18n"
	"github.com/snapgrade/snapgrade/internal/model"
	"github.com/snapgrade/snapgrade/internal/store"
	"github.com/snapgrade/snapgrade/internal/transport"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "snapgrade",
		Short: "Multi-tenant exam photo grading service",
	}

	serve := serveCmd()
	root.AddCommand(serve)

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `snapgrade --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the grading service and admin API",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "snapgrade.db", "SQLite database path")
	f.String("quiz-dir", "quizzes", "Directory for uploaded quiz images")
	f.String("work-dir", "work", "Directory for answer photos and graded artifacts")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for the vision model")
	f.String("llm-model", "llama3.2-vision", "Vision model name")
	f.StringP("lang", "l", "en", "Caption language (en, ar)")
	f.Int("queue-size", 100, "Grading queue capacity")
	f.Int("workers", 3, "Grading worker count")
	f.Duration("reply-schedule", 0, "Deliver replies as scheduled messages this far in the future (0 = immediate)")
	f.Duration("shutdown-grace", 30*time.Second, "How long to wait for in-flight jobs on shutdown")
	f.String("auth-secret", "", "HMAC secret for API tokens (or set SNAPGRADE_AUTH_SECRET)")
	f.String("admin-password", "", "Initial admin password (or set SNAPGRADE_ADMIN_PASSWORD)")
	f.StringSlice("cors-origins", []string{"http://localhost:3000"}, "Allowed CORS origins for the admin API")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("SNAPGRADE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("snapgrade")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/snapgrade")
	v.AddConfigPath("/etc/snapgrade")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := seedAdmin(db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	workDir := v.GetString("work-dir")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}

	visionClient := grader.New(
		v.GetString("llm-url"),
		v.GetString("llm-key"),
		v.GetString("llm-model"),
	)
	if err := visionClient.Ping(context.Background()); err != nil {
		return fmt.Errorf("vision model health check: %w", err)
	}
	slog.Info("vision endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))

	b := bot.New(db, visionClient, annotate.NewStamper(workDir), transport.NewMemoryHub(), bot.Config{
		QueueSize:     v.GetInt("queue-size"),
		Workers:       v.GetInt("workers"),
		WorkDir:       workDir,
		Lang:          lang,
		ReplySchedule: v.GetDuration("reply-schedule"),
		ShutdownGrace: v.GetDuration("shutdown-grace"),
	})
	b.Start()
	defer b.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Bring back every tenant that was active before the last shutdown.
	if err := b.StartFromStore(ctx); err != nil {
		return fmt.Errorf("start stored tenants: %w", err)
	}

	secret := v.GetString("auth-secret")
	if secret == "" {
		return fmt.Errorf("auth secret is required: set --auth-secret flag or SNAPGRADE_AUTH_SECRET env var")
	}

	apiHandler, err := api.New(db, b, api.NewAuth(db, secret), v.GetString("quiz-dir"))
	if err != nil {
		return fmt.Errorf("create API handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   v.GetStringSlice("cors-origins"),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(appI18n.Middleware(lang))
	apiHandler.Routes(r)

	srv := &http.Server{
		Addr:              v.GetString("addr"),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", srv.Addr,
			"model", v.GetString("llm-model"),
			"llm_url", v.GetString("llm-url"),
			"lang", lang,
			"workers", v.GetInt("workers"),
			"queue_size", v.GetInt("queue-size"),
		)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down", "grace", v.GetDuration("shutdown-grace"))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), v.GetDuration("shutdown-grace"))
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "error", err)
	}
	return nil
}

func seedAdmin(db *store.Store, password string) error {
	count, err := db.UserCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or SNAPGRADE_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(model.User{
		Username:     "admin",
		DisplayName:  "Administrator",
		PasswordHash: string(hash),
		Role:         model.UserRoleAdmin,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "username", "admin")
	return nil
}
