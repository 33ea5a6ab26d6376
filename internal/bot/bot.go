// Package bot is the multi-tenant grading orchestrator: it keeps one
// transport session per tenant, fans incoming photos into a bounded
// queue drained by a worker pool, and maintains per-student running
// tallies in running-total mode.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/snapgrade/snapgrade/internal/annotate"
	"github.com/snapgrade/snapgrade/internal/grader"
	"github.com/snapgrade/snapgrade/internal/i18n"
	"github.com/snapgrade/snapgrade/internal/model"
	"github.com/snapgrade/snapgrade/internal/progress"
	"github.com/snapgrade/snapgrade/internal/store"
	"github.com/snapgrade/snapgrade/internal/transport"
)

// Config holds orchestrator tuning.
type Config struct {
	// QueueSize bounds the shared grading queue.
	QueueSize int
	// Workers is the fixed worker pool size.
	Workers int
	// WorkDir receives downloaded photos and rendered artifacts.
	WorkDir string
	// Lang selects the caption locale.
	Lang string
	// ReplySchedule, when positive, delivers replies as scheduled
	// messages that far in the future.
	ReplySchedule time.Duration
	// ShutdownGrace bounds how long Close waits for in-flight jobs.
	ShutdownGrace time.Duration
}

func (c *Config) withDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 100
	}
	if c.Workers <= 0 {
		c.Workers = 3
	}
	if c.Lang == "" {
		c.Lang = "en"
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 30 * time.Second
	}
}

// Bot wires the session registry, the grading queue, the worker pool and
// the progress store together.
type Bot struct {
	store    *store.Store
	grader   grader.Service
	renderer annotate.Renderer
	registry *Registry
	queue    *Queue
	pool     *pool
	locks    *subjectLocks
	cfg      Config

	cancel context.CancelFunc
}

// New creates an orchestrator. Call Start before starting tenants.
func New(st *store.Store, g grader.Service, r annotate.Renderer, d transport.Dialer, cfg Config) *Bot {
	cfg.withDefaults()
	b := &Bot{
		store:    st,
		grader:   g,
		renderer: r,
		registry: NewRegistry(d),
		queue:    NewQueue(cfg.QueueSize),
		locks:    newSubjectLocks(),
		cfg:      cfg,
	}
	b.pool = newPool(b.queue, cfg.Workers, b.processJob)
	return b
}

// Start launches the worker pool.
func (b *Bot) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.pool.start(ctx)
}

// Close stops every tenant session, signals the workers to stop and
// waits for in-flight jobs up to the configured grace period.
func (b *Bot) Close() {
	b.registry.StopAll()
	if b.cancel != nil {
		b.cancel()
	}
	b.pool.wait(b.cfg.ShutdownGrace)
}

// StartTenant brings up the transport session for a tenant using its
// stored credentials and active quiz. Idempotent for a running tenant.
func (b *Bot) StartTenant(ctx context.Context, tenantID int64) error {
	tenant, err := b.store.GetTenant(tenantID)
	if err != nil {
		return fmt.Errorf("load tenant %d: %w", tenantID, err)
	}
	if tenant == nil {
		return fmt.Errorf("tenant %d not found", tenantID)
	}
	if !tenant.Active {
		return fmt.Errorf("tenant %d is not active", tenantID)
	}

	quizPath := ""
	if quiz, err := b.store.ActiveQuiz(tenantID); err != nil {
		return fmt.Errorf("load active quiz for tenant %d: %w", tenantID, err)
	} else if quiz != nil {
		quizPath = quiz.ImagePath
	}

	return b.registry.Start(ctx, tenantID, tenant.Credentials, quizPath, b.handlePhoto)
}

// StopTenant closes a tenant's session.
func (b *Bot) StopTenant(tenantID int64) error {
	return b.registry.Stop(tenantID)
}

// UpdateQuiz points a running tenant session at a new quiz image. No-op
// when the tenant is not running.
func (b *Bot) UpdateQuiz(tenantID int64, quizPath string) {
	b.registry.UpdateQuiz(tenantID, quizPath)
}

// ResetProgress clears every progress record for a tenant.
func (b *Bot) ResetProgress(tenantID int64) error {
	return b.store.ResetProgress(tenantID)
}

// StartFromStore starts a session for every active tenant with stored
// credentials. Per-tenant failures are logged and skipped so one broken
// login cannot block startup.
func (b *Bot) StartFromStore(ctx context.Context) error {
	tenants, err := b.store.ActiveTenants()
	if err != nil {
		return fmt.Errorf("scan active tenants: %w", err)
	}
	for _, t := range tenants {
		if err := b.StartTenant(ctx, t.ID); err != nil {
			slog.Error("failed to start tenant on scan", "tenant", t.ID, "error", err)
		}
	}
	slog.Info("startup scan complete", "tenants", len(tenants), "running", b.registry.Running())
	return nil
}

// QueueDepth reports the number of queued jobs.
func (b *Bot) QueueDepth() int {
	return b.queue.Len()
}

// RunningSessions reports the number of live tenant sessions.
func (b *Bot) RunningSessions() int {
	return b.registry.Running()
}

// handlePhoto is the dispatch path: it runs on the transport callback
// and must never block. All slow work happens in a worker.
func (b *Bot) handlePhoto(tenantID int64, p transport.Photo) {
	quizPath, running := b.registry.ActiveQuiz(tenantID)
	if !running {
		return
	}
	if quizPath == "" {
		slog.Warn("no active quiz set, dropping photo",
			"tenant", tenantID, "sender", p.SenderID)
		return
	}

	job := NewJob(tenantID, p.SenderID, p.SenderName, p.ReplyTo, p.Data, quizPath)
	if err := b.queue.TrySubmit(job); err != nil {
		slog.Warn("grading queue full, dropping submission",
			"tenant", tenantID, "sender", p.SenderID, "job", job.ID)
	}
}

// processJob runs inside a worker: grade, update progress, render,
// reply. Every failure is logged and drops only this job.
func (b *Bot) processJob(ctx context.Context, workerID int, job Job) {
	slog.Debug("grading job", "worker", workerID, "job", job.ID, "tenant", job.TenantID)

	answerPath := filepath.Join(b.cfg.WorkDir, "answer_"+job.ID+".jpg")
	if err := os.WriteFile(answerPath, job.PhotoData, 0o644); err != nil {
		slog.Error("failed to save answer photo", "job", job.ID, "error", err)
		return
	}
	defer os.Remove(answerPath)

	cfg, err := b.store.GetExamConfig(job.TenantID)
	if err != nil {
		slog.Error("failed to load exam config, falling back to flat mode",
			"tenant", job.TenantID, "error", err)
		cfg = nil
	}
	policy := ResolvePolicy(cfg)

	result, err := b.grader.Grade(ctx, grader.Request{
		QuestionImage:  job.QuizPath,
		AnswerImage:    answerPath,
		MaxScore:       policy.PointsPerQuestion,
		TotalQuestions: policy.QuestionCount,
	})
	if err != nil {
		slog.Error("grading failed, dropping job",
			"worker", workerID, "job", job.ID, "tenant", job.TenantID, "error", err)
		return
	}

	ctx = i18n.WithLocalizer(ctx, i18n.NewLocalizer(b.cfg.Lang))

	var artifact, caption string
	score, maxScore := result.Score, policy.PointsPerQuestion
	switch policy.Mode {
	case model.ModeRunningTotal:
		artifact, caption, score, err = b.applyRunningTotal(ctx, job, policy, result, answerPath)
	default:
		artifact, err = b.renderer.Render(ctx, annotate.Input{
			AnswerImage: answerPath,
			Annotations: result.Annotations,
			Score:       result.Score,
			MaxScore:    policy.PointsPerQuestion,
		})
		caption = i18n.Td(ctx, "QuizCaption", map[string]any{
			"Score": result.Score, "Max": policy.PointsPerQuestion,
		})
		if err == nil {
			// Flat mode keeps no reference to the artifact.
			defer os.Remove(artifact)
		}
	}
	if err != nil {
		slog.Error("failed to produce result", "job", job.ID, "tenant", job.TenantID, "error", err)
		return
	}

	sess, ok := b.registry.Session(job.TenantID)
	if !ok {
		slog.Warn("tenant stopped before reply could be sent", "job", job.ID, "tenant", job.TenantID)
		return
	}
	var opts transport.SendOptions
	if b.cfg.ReplySchedule > 0 {
		opts.Schedule = time.Now().Add(b.cfg.ReplySchedule)
	}
	if err := sess.Send(ctx, job.ReplyTo, artifact, caption, opts); err != nil {
		slog.Error("failed to send graded reply", "job", job.ID, "tenant", job.TenantID, "error", err)
		return
	}

	if err := b.store.AppendGradingLog(model.GradingLog{
		TenantID:    job.TenantID,
		SubjectID:   job.SubjectID,
		SubjectName: job.SubjectName,
		Score:       score,
		MaxScore:    maxScore,
	}); err != nil {
		slog.Error("failed to append grading log", "job", job.ID, "error", err)
	}

	slog.Info("graded submission",
		"worker", workerID, "tenant", job.TenantID, "subject", job.SubjectID,
		"score", score, "max", maxScore, "mode", policy.Mode)
}

// applyRunningTotal folds the graded submission into the subject's
// progress record and renders the running-total artifact. The per-subject
// lock spans the store update through the last-result write: releasing it
// between the two would let a slower job overwrite a newer job's
// last_result_path with a stale artifact.
func (b *Bot) applyRunningTotal(ctx context.Context, job Job, policy model.ScoringPolicy, result *grader.Result, answerPath string) (artifact, caption string, score int, err error) {
	unlock := b.locks.lock(job.TenantID, job.SubjectID)
	defer unlock()

	rec, res, err := b.store.ApplyGrade(job.TenantID, job.SubjectID, job.SubjectName, progress.Update{
		RawScore:          result.Score,
		DetectedQuestions: result.QuestionNumbers,
		QuestionCount:     policy.QuestionCount,
		PointsPerQuestion: policy.PointsPerQuestion,
	})
	if err != nil {
		return "", "", 0, fmt.Errorf("apply grade: %w", err)
	}
	if res.Resubmission {
		slog.Info("resubmission", "tenant", job.TenantID, "subject", job.SubjectID, "questions", res.Questions)
	}

	artifact, err = b.renderer.Render(ctx, annotate.Input{
		AnswerImage:    answerPath,
		Annotations:    result.Annotations,
		Score:          res.Score,
		MaxScore:       policy.PointsPerQuestion,
		RunningTotal:   &annotate.Total{Current: rec.TotalScore, Max: policy.TotalPoints},
		Answered:       rec.AnsweredQuestions(),
		TotalQuestions: policy.QuestionCount,
		ShowTotal:      rec.LastQuestionReached,
	})
	if err != nil {
		return "", "", 0, fmt.Errorf("render artifact: %w", err)
	}

	// Kept on disk for exam-end re-sending; the record points at it.
	if err := b.store.SetLastResultPath(job.TenantID, job.SubjectID, artifact); err != nil {
		slog.Error("failed to store last result path", "job", job.ID, "error", err)
	}

	labels := make([]string, len(res.Questions))
	for i, q := range res.Questions {
		labels[i] = fmt.Sprintf("Q%d", q)
	}
	caption = i18n.Td(ctx, "ExamCaption", map[string]any{
		"Questions": strings.Join(labels, ","),
		"Score":     res.Score,
		"Max":       policy.PointsPerQuestion,
		"Total":     rec.TotalScore,
		"TotalMax":  policy.TotalPoints,
	})
	if res.Resubmission {
		caption += i18n.T(ctx, "ResubmissionNote")
	}
	return artifact, caption, res.Score, nil
}
