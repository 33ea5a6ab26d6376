// Package api is the JSON administrative surface: login, tenant and quiz
// management, exam configuration and progress inspection. Grading itself
// happens over the chat transport; this API only steers it.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/snapgrade/snapgrade/internal/bot"
	"github.com/snapgrade/snapgrade/internal/model"
	"github.com/snapgrade/snapgrade/internal/store"
)

// maxQuizUpload bounds quiz image uploads.
const maxQuizUpload = 10 << 20

// Handler serves the admin API.
type Handler struct {
	store   *store.Store
	bot     *bot.Bot
	auth    *Auth
	quizDir string
}

// New creates the API handler. Uploaded quiz images land in quizDir.
func New(st *store.Store, b *bot.Bot, auth *Auth, quizDir string) (*Handler, error) {
	if err := os.MkdirAll(quizDir, 0o755); err != nil {
		return nil, fmt.Errorf("create quiz dir: %w", err)
	}
	return &Handler{store: st, bot: b, auth: auth, quizDir: quizDir}, nil
}

// Routes mounts the API on the given router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/auth/login", h.auth.HandleLogin)

	r.Group(func(pr chi.Router) {
		pr.Use(h.auth.Middleware)

		pr.Get("/status", h.handleStatus)

		pr.Get("/tenants", h.handleListTenants)
		pr.With(RequireAdmin).Post("/tenants", h.handleCreateTenant)

		pr.Route("/tenants/{tenantID}", func(tr chi.Router) {
			tr.Post("/start", h.handleStartTenant)
			tr.Post("/stop", h.handleStopTenant)
			tr.With(RequireAdmin).Put("/credentials", h.handleSetCredentials)
			tr.With(RequireAdmin).Put("/active", h.handleSetActive)

			tr.Post("/quiz", h.handleUploadQuiz)
			tr.Get("/quizzes", h.handleListQuizzes)

			tr.Put("/exam", h.handleSetExamConfig)
			tr.Get("/exam", h.handleGetExamConfig)
			tr.Delete("/exam", h.handleDeactivateExamConfig)

			tr.Get("/progress", h.handleListProgress)
			tr.Delete("/progress", h.handleResetProgress)

			tr.Get("/logs", h.handleListLogs)
		})
	})
}

func tenantID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "tenantID"), 10, 64)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	total, active, err := h.store.TenantCounts()
	if err != nil {
		slog.Error("failed to count tenants", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	graded, err := h.store.GradingCount()
	if err != nil {
		slog.Error("failed to count gradings", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"tenants":          total,
		"active_tenants":   active,
		"running_sessions": h.bot.RunningSessions(),
		"queued_jobs":      h.bot.QueueDepth(),
		"graded_total":     graded,
	})
}

func (h *Handler) handleListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.store.ListTenants()
	if err != nil {
		slog.Error("failed to list tenants", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, tenants)
}

func (h *Handler) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Credentials string `json:"credentials"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	id, err := h.store.CreateTenant(model.Tenant{
		Name:        req.Name,
		Credentials: req.Credentials,
		Active:      true,
	})
	if err != nil {
		slog.Error("failed to create tenant", "name", req.Name, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	slog.Info("tenant created", "tenant", id, "name", req.Name)
	respondJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (h *Handler) handleStartTenant(w http.ResponseWriter, r *http.Request) {
	id, err := tenantID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}
	if err := h.bot.StartTenant(r.Context(), id); err != nil {
		slog.Error("failed to start tenant", "tenant", id, "error", err)
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"id": id, "running": true})
}

func (h *Handler) handleStopTenant(w http.ResponseWriter, r *http.Request) {
	id, err := tenantID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}
	if err := h.bot.StopTenant(id); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"id": id, "running": false})
}

func (h *Handler) handleSetCredentials(w http.ResponseWriter, r *http.Request) {
	id, err := tenantID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}
	var req struct {
		Credentials string `json:"credentials"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.store.SetTenantCredentials(id, req.Credentials); err != nil {
		slog.Error("failed to set credentials", "tenant", id, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"id": id})
}

func (h *Handler) handleSetActive(w http.ResponseWriter, r *http.Request) {
	id, err := tenantID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}
	var req struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.store.SetTenantActive(id, req.Active); err != nil {
		slog.Error("failed to toggle tenant", "tenant", id, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !req.Active {
		// Deactivation also tears down a running session.
		_ = h.bot.StopTenant(id)
	}
	respondJSON(w, http.StatusOK, map[string]any{"id": id, "active": req.Active})
}

// handleUploadQuiz stores the uploaded quiz image, makes it the tenant's
// active quiz, and points a running session at it.
func (h *Handler) handleUploadQuiz(w http.ResponseWriter, r *http.Request) {
	id, err := tenantID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}
	if err := r.ParseMultipartForm(maxQuizUpload); err != nil {
		respondError(w, http.StatusBadRequest, "file too large")
		return
	}
	file, header, err := r.FormFile("quiz_image")
	if err != nil {
		respondError(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext != ".jpg" && ext != ".jpeg" && ext != ".png" {
		respondError(w, http.StatusBadRequest, "unsupported image type")
		return
	}

	path := filepath.Join(h.quizDir, fmt.Sprintf("quiz_%d_%s%s", id, uuid.NewString(), ext))
	out, err := os.Create(path)
	if err != nil {
		slog.Error("failed to create quiz file", "tenant", id, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		os.Remove(path)
		slog.Error("failed to write quiz file", "tenant", id, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out.Close()

	quizID, err := h.store.SaveQuiz(id, path)
	if err != nil {
		os.Remove(path)
		slog.Error("failed to save quiz", "tenant", id, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.bot.UpdateQuiz(id, path)

	slog.Info("quiz uploaded", "tenant", id, "quiz", quizID, "file", header.Filename)
	respondJSON(w, http.StatusCreated, map[string]any{"id": quizID, "image_path": path})
}

func (h *Handler) handleListQuizzes(w http.ResponseWriter, r *http.Request) {
	id, err := tenantID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}
	quizzes, err := h.store.ListQuizzes(id)
	if err != nil {
		slog.Error("failed to list quizzes", "tenant", id, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, quizzes)
}

func (h *Handler) handleSetExamConfig(w http.ResponseWriter, r *http.Request) {
	id, err := tenantID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}
	var req struct {
		QuestionCount int `json:"question_count"`
		TotalPoints   int `json:"total_points"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	cfg := model.ExamConfig{
		TenantID:      id,
		Active:        true,
		QuestionCount: req.QuestionCount,
		TotalPoints:   req.TotalPoints,
	}
	if err := h.store.SetExamConfig(cfg); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	slog.Info("exam config set", "tenant", id,
		"questions", req.QuestionCount, "total_points", req.TotalPoints)
	respondJSON(w, http.StatusOK, bot.ResolvePolicy(&cfg))
}

func (h *Handler) handleGetExamConfig(w http.ResponseWriter, r *http.Request) {
	id, err := tenantID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}
	cfg, err := h.store.GetExamConfig(id)
	if err != nil {
		slog.Error("failed to load exam config", "tenant", id, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	// The resolved policy tells the caller what grading will actually do,
	// including the flat fallback when no config is active.
	respondJSON(w, http.StatusOK, map[string]any{
		"config": cfg,
		"policy": bot.ResolvePolicy(cfg),
	})
}

func (h *Handler) handleDeactivateExamConfig(w http.ResponseWriter, r *http.Request) {
	id, err := tenantID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}
	if err := h.store.DeactivateExamConfig(id); err != nil {
		slog.Error("failed to deactivate exam config", "tenant", id, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"id": id, "mode": model.ModeFlat})
}

func (h *Handler) handleListProgress(w http.ResponseWriter, r *http.Request) {
	id, err := tenantID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}
	records, err := h.store.ListProgress(id)
	if err != nil {
		slog.Error("failed to list progress", "tenant", id, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, records)
}

func (h *Handler) handleResetProgress(w http.ResponseWriter, r *http.Request) {
	id, err := tenantID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}
	if err := h.bot.ResetProgress(id); err != nil {
		slog.Error("failed to reset progress", "tenant", id, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	slog.Info("progress reset", "tenant", id)
	respondJSON(w, http.StatusOK, map[string]int64{"id": id})
}

func (h *Handler) handleListLogs(w http.ResponseWriter, r *http.Request) {
	id, err := tenantID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	logs, err := h.store.ListGradingLogs(id, limit)
	if err != nil {
		slog.Error("failed to list grading logs", "tenant", id, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, logs)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
