package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/snapgrade/snapgrade/internal/model"
)

// SaveQuiz records a newly uploaded quiz image for a tenant and makes it
// the active one, deactivating any previous quiz in the same transaction.
func (s *Store) SaveQuiz(tenantID int64, imagePath string) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE quizzes SET active = 0 WHERE tenant_id = ? AND active = 1`, tenantID); err != nil {
		return 0, fmt.Errorf("deactivate previous quizzes: %w", err)
	}
	res, err := tx.Exec(
		`INSERT INTO quizzes (tenant_id, image_path, active, created_at) VALUES (?, ?, 1, ?)`,
		tenantID, imagePath, time.Now(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert quiz: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// ActiveQuiz returns the tenant's active quiz, or nil if none is set.
func (s *Store) ActiveQuiz(tenantID int64) (*model.Quiz, error) {
	var q model.Quiz
	err := s.db.QueryRow(
		`SELECT id, tenant_id, image_path, active, created_at
		 FROM quizzes WHERE tenant_id = ? AND active = 1 ORDER BY id DESC LIMIT 1`, tenantID,
	).Scan(&q.ID, &q.TenantID, &q.ImagePath, &q.Active, &q.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// ListQuizzes returns all quizzes for a tenant, newest first.
func (s *Store) ListQuizzes(tenantID int64) ([]model.Quiz, error) {
	rows, err := s.db.Query(
		`SELECT id, tenant_id, image_path, active, created_at
		 FROM quizzes WHERE tenant_id = ? ORDER BY id DESC`, tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var quizzes []model.Quiz
	for rows.Next() {
		var q model.Quiz
		if err := rows.Scan(&q.ID, &q.TenantID, &q.ImagePath, &q.Active, &q.CreatedAt); err != nil {
			return nil, err
		}
		quizzes = append(quizzes, q)
	}
	return quizzes, rows.Err()
}
