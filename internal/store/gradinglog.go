package store

import (
	"time"

	"github.com/snapgrade/snapgrade/internal/model"
)

// AppendGradingLog records one processed grading job.
func (s *Store) AppendGradingLog(l model.GradingLog) error {
	_, err := s.db.Exec(
		`INSERT INTO grading_logs (tenant_id, subject_id, subject_name, score, max_score, graded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		l.TenantID, l.SubjectID, l.SubjectName, l.Score, l.MaxScore, time.Now(),
	)
	return err
}

// GradingCount returns the total number of grading log entries.
func (s *Store) GradingCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM grading_logs`).Scan(&count)
	return count, err
}

// ListGradingLogs returns the most recent grading log entries for a
// tenant, up to limit.
func (s *Store) ListGradingLogs(tenantID int64, limit int) ([]model.GradingLog, error) {
	rows, err := s.db.Query(
		`SELECT id, tenant_id, subject_id, subject_name, score, max_score, graded_at
		 FROM grading_logs WHERE tenant_id = ? ORDER BY id DESC LIMIT ?`, tenantID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []model.GradingLog
	for rows.Next() {
		var l model.GradingLog
		if err := rows.Scan(&l.ID, &l.TenantID, &l.SubjectID, &l.SubjectName, &l.Score, &l.MaxScore, &l.GradedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
