package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/snapgrade/snapgrade/internal/model"
	"github.com/snapgrade/snapgrade/internal/progress"
)

// ApplyGrade folds one graded submission into the (tenant, subject)
// progress record. The fetch-or-create, the state-machine update and the
// save all run in a single transaction so concurrent submissions for the
// same subject can never interleave a stale read with a write.
func (s *Store) ApplyGrade(tenantID, subjectID int64, subjectName string, upd progress.Update) (*model.ProgressRecord, progress.Result, error) {
	var res progress.Result

	tx, err := s.db.Begin()
	if err != nil {
		return nil, res, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	rec, err := getProgressTx(tx, tenantID, subjectID)
	if err != nil {
		return nil, res, fmt.Errorf("fetch progress: %w", err)
	}
	if rec == nil {
		r, err := tx.Exec(
			`INSERT INTO progress (tenant_id, subject_id, subject_name, updated_at) VALUES (?, ?, ?, ?)`,
			tenantID, subjectID, subjectName, time.Now(),
		)
		if err != nil {
			return nil, res, fmt.Errorf("create progress: %w", err)
		}
		id, err := r.LastInsertId()
		if err != nil {
			return nil, res, err
		}
		rec = &model.ProgressRecord{
			ID:        id,
			TenantID:  tenantID,
			SubjectID: subjectID,
			Scores:    map[int]int{},
		}
	}

	res = progress.Apply(rec, upd)
	rec.SubjectName = subjectName

	for _, q := range res.Questions {
		if _, err := tx.Exec(
			`INSERT INTO progress_scores (progress_id, question_idx, score) VALUES (?, ?, ?)
			 ON CONFLICT(progress_id, question_idx) DO UPDATE SET score = ?`,
			rec.ID, q, res.Score, res.Score,
		); err != nil {
			return nil, res, fmt.Errorf("save score for question %d: %w", q, err)
		}
	}

	if _, err := tx.Exec(
		`UPDATE progress SET subject_name = ?, answered_count = ?, total_score = ?,
		        last_question_reached = ?, updated_at = ?
		 WHERE id = ?`,
		rec.SubjectName, rec.AnsweredCount, rec.TotalScore, rec.LastQuestionReached, time.Now(), rec.ID,
	); err != nil {
		return nil, res, fmt.Errorf("save progress: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, res, fmt.Errorf("commit: %w", err)
	}
	return rec, res, nil
}

// GetProgress returns the progress record for a (tenant, subject) pair,
// or nil if the subject has no graded submissions yet.
func (s *Store) GetProgress(tenantID, subjectID int64) (*model.ProgressRecord, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	rec, err := getProgressTx(tx, tenantID, subjectID)
	if err != nil {
		return nil, err
	}
	return rec, tx.Commit()
}

type queryer interface {
	QueryRow(query string, args ...any) *sql.Row
	Query(query string, args ...any) (*sql.Rows, error)
}

func getProgressTx(q queryer, tenantID, subjectID int64) (*model.ProgressRecord, error) {
	var rec model.ProgressRecord
	err := q.QueryRow(
		`SELECT id, tenant_id, subject_id, subject_name, answered_count, total_score,
		        last_question_reached, last_result_path, updated_at
		 FROM progress WHERE tenant_id = ? AND subject_id = ?`, tenantID, subjectID,
	).Scan(&rec.ID, &rec.TenantID, &rec.SubjectID, &rec.SubjectName, &rec.AnsweredCount,
		&rec.TotalScore, &rec.LastQuestionReached, &rec.LastResultPath, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.Scores = map[int]int{}
	rows, err := q.Query(`SELECT question_idx, score FROM progress_scores WHERE progress_id = ?`, rec.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var idx, score int
		if err := rows.Scan(&idx, &score); err != nil {
			return nil, err
		}
		rec.Scores[idx] = score
	}
	return &rec, rows.Err()
}

// ListProgress returns all progress records for a tenant, by subject.
func (s *Store) ListProgress(tenantID int64) ([]model.ProgressRecord, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.Query(
		`SELECT subject_id FROM progress WHERE tenant_id = ? ORDER BY subject_id`, tenantID,
	)
	if err != nil {
		return nil, err
	}
	var subjects []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		subjects = append(subjects, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	var records []model.ProgressRecord
	for _, subjectID := range subjects {
		rec, err := getProgressTx(tx, tenantID, subjectID)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			records = append(records, *rec)
		}
	}
	return records, tx.Commit()
}

// ResetProgress deletes every progress record for a tenant. Subjects start
// from a clean slate on their next submission.
func (s *Store) ResetProgress(tenantID int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`DELETE FROM progress_scores WHERE progress_id IN (SELECT id FROM progress WHERE tenant_id = ?)`,
		tenantID,
	); err != nil {
		return fmt.Errorf("delete scores: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM progress WHERE tenant_id = ?`, tenantID); err != nil {
		return fmt.Errorf("delete progress: %w", err)
	}
	return tx.Commit()
}

// SetLastResultPath stores the most recent annotated artifact for a
// subject so the exam-end flow can re-send it.
func (s *Store) SetLastResultPath(tenantID, subjectID int64, path string) error {
	_, err := s.db.Exec(
		`UPDATE progress SET last_result_path = ? WHERE tenant_id = ? AND subject_id = ?`,
		path, tenantID, subjectID,
	)
	return err
}
