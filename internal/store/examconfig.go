package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/snapgrade/snapgrade/internal/model"
)

// SetExamConfig upserts the running-total configuration for a tenant.
func (s *Store) SetExamConfig(cfg model.ExamConfig) error {
	if cfg.QuestionCount <= 0 {
		return fmt.Errorf("question count must be positive, got %d", cfg.QuestionCount)
	}
	if cfg.TotalPoints <= 0 {
		return fmt.Errorf("total points must be positive, got %d", cfg.TotalPoints)
	}
	_, err := s.db.Exec(
		`INSERT INTO exam_configs (tenant_id, active, question_count, total_points, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(tenant_id) DO UPDATE SET active = ?, question_count = ?, total_points = ?, updated_at = ?`,
		cfg.TenantID, cfg.Active, cfg.QuestionCount, cfg.TotalPoints, time.Now(),
		cfg.Active, cfg.QuestionCount, cfg.TotalPoints, time.Now(),
	)
	return err
}

// GetExamConfig returns the tenant's exam config, or nil if none was set.
func (s *Store) GetExamConfig(tenantID int64) (*model.ExamConfig, error) {
	var cfg model.ExamConfig
	err := s.db.QueryRow(
		`SELECT tenant_id, active, question_count, total_points, updated_at
		 FROM exam_configs WHERE tenant_id = ?`, tenantID,
	).Scan(&cfg.TenantID, &cfg.Active, &cfg.QuestionCount, &cfg.TotalPoints, &cfg.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DeactivateExamConfig drops the tenant back to flat mode without
// discarding the stored question count and total.
func (s *Store) DeactivateExamConfig(tenantID int64) error {
	_, err := s.db.Exec(
		`UPDATE exam_configs SET active = 0, updated_at = ? WHERE tenant_id = ?`,
		time.Now(), tenantID,
	)
	return err
}
