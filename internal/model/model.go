package model

import (
	"context"
	"slices"
	"time"
)

// UserRole represents an admin user's access level.
type UserRole string

const (
	// UserRoleTeacher can manage their own tenant.
	UserRoleTeacher UserRole = "teacher"
	// UserRoleAdmin can manage every tenant.
	UserRoleAdmin UserRole = "admin"
)

// User represents an account on the administrative surface.
type User struct {
	ID           int64
	Username     string
	DisplayName  string
	PasswordHash string
	Role         UserRole
	Active       bool
	CreatedAt    time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

// Tenant is one teacher account. Each tenant owns at most one live
// transport session and one scoring configuration.
type Tenant struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Credentials string    `json:"-"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Quiz is one uploaded quiz image for a tenant. At most one quiz per
// tenant is active at a time.
type Quiz struct {
	ID        int64     `json:"id"`
	TenantID  int64     `json:"tenant_id"`
	ImagePath string    `json:"image_path"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// ScoringMode selects how a submission is scored.
type ScoringMode string

const (
	// ModeFlat grades each photo against a fixed denominator with no
	// cross-submission state.
	ModeFlat ScoringMode = "flat"
	// ModeRunningTotal grades each photo as one question's share of a
	// configured total and accumulates per student.
	ModeRunningTotal ScoringMode = "running-total"
)

// FlatMaxScore is the denominator used when no exam config is active.
const FlatMaxScore = 10

// ExamConfig is the per-tenant running-total configuration. A missing or
// inactive config means the tenant grades in flat mode.
type ExamConfig struct {
	TenantID      int64     `json:"tenant_id"`
	Active        bool      `json:"active"`
	QuestionCount int       `json:"question_count"`
	TotalPoints   int       `json:"total_points"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ScoringPolicy is the resolved grading policy for one submission.
type ScoringPolicy struct {
	Mode              ScoringMode `json:"mode"`
	QuestionCount     int         `json:"question_count,omitempty"`
	PointsPerQuestion int         `json:"points_per_question"`
	TotalPoints       int         `json:"total_points,omitempty"`
}

// ProgressRecord is the running tally for one (tenant, subject) pair in
// running-total mode. Scores maps question index (1-based) to points.
type ProgressRecord struct {
	ID                  int64       `json:"id"`
	TenantID            int64       `json:"tenant_id"`
	SubjectID           int64       `json:"subject_id"`
	SubjectName         string      `json:"subject_name"`
	Scores              map[int]int `json:"scores"`
	AnsweredCount       int         `json:"answered_count"`
	TotalScore          int         `json:"total_score"`
	LastQuestionReached bool        `json:"last_question_reached"`
	LastResultPath      string      `json:"last_result_path,omitempty"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

// AnsweredQuestions returns the answered question indices in ascending order.
func (p *ProgressRecord) AnsweredQuestions() []int {
	qs := make([]int, 0, len(p.Scores))
	for q := range p.Scores {
		qs = append(qs, q)
	}
	slices.Sort(qs)
	return qs
}

// AnnotationLabel classifies one annotated fragment of a graded answer.
type AnnotationLabel string

const (
	LabelCorrect AnnotationLabel = "correct"
	LabelMistake AnnotationLabel = "mistake"
	LabelPartial AnnotationLabel = "partial"
	LabelUnclear AnnotationLabel = "unclear"
)

// Annotation is one graded fragment as returned by the grader.
type Annotation struct {
	Text  string          `json:"text"`
	Label AnnotationLabel `json:"label"`
}

// GradingLog records one processed grading job for operational visibility.
type GradingLog struct {
	ID          int64     `json:"id"`
	TenantID    int64     `json:"tenant_id"`
	SubjectID   int64     `json:"subject_id"`
	SubjectName string    `json:"subject_name"`
	Score       int       `json:"score"`
	MaxScore    int       `json:"max_score"`
	GradedAt    time.Time `json:"graded_at"`
}
