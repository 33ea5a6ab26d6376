package store

import (
	"sync"
	"testing"

	"github.com/snapgrade/snapgrade/internal/model"
	"github.com/snapgrade/snapgrade/internal/progress"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestTenant(t *testing.T, s *Store, name string) int64 {
	t.Helper()
	id, err := s.CreateTenant(model.Tenant{Name: name, Credentials: "session-" + name, Active: true})
	if err != nil {
		t.Fatalf("createTestTenant: %v", err)
	}
	return id
}

func TestTenantCRUD(t *testing.T) {
	s := newTestStore(t)

	total, active, err := s.TenantCounts()
	if err != nil {
		t.Fatalf("TenantCounts: %v", err)
	}
	if total != 0 || active != 0 {
		t.Fatalf("expected empty counts, got total=%d active=%d", total, active)
	}

	id := createTestTenant(t, s, "alice")
	tn, err := s.GetTenant(id)
	if err != nil {
		t.Fatalf("GetTenant: %v", err)
	}
	if tn == nil || tn.Name != "alice" {
		t.Fatalf("expected tenant alice, got %+v", tn)
	}
	if !tn.Active {
		t.Error("expected new tenant active")
	}

	// Missing tenant is nil, not an error.
	missing, err := s.GetTenant(9999)
	if err != nil {
		t.Fatalf("GetTenant missing: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for missing tenant, got %+v", missing)
	}

	if err := s.SetTenantActive(id, false); err != nil {
		t.Fatalf("SetTenantActive: %v", err)
	}
	total, active, err = s.TenantCounts()
	if err != nil {
		t.Fatalf("TenantCounts: %v", err)
	}
	if total != 1 || active != 0 {
		t.Errorf("expected total=1 active=0, got total=%d active=%d", total, active)
	}
}

func TestActiveTenantsRequireCredentials(t *testing.T) {
	s := newTestStore(t)
	createTestTenant(t, s, "alice")
	id, err := s.CreateTenant(model.Tenant{Name: "bob", Active: true})
	if err != nil {
		t.Fatalf("CreateTenant: %v", err)
	}
	_ = id

	tenants, err := s.ActiveTenants()
	if err != nil {
		t.Fatalf("ActiveTenants: %v", err)
	}
	if len(tenants) != 1 || tenants[0].Name != "alice" {
		t.Errorf("expected only alice (bob has no credentials), got %+v", tenants)
	}
}

func TestSaveQuizActivation(t *testing.T) {
	s := newTestStore(t)
	id := createTestTenant(t, s, "alice")

	if q, err := s.ActiveQuiz(id); err != nil || q != nil {
		t.Fatalf("expected no active quiz, got %+v err %v", q, err)
	}

	if _, err := s.SaveQuiz(id, "/quizzes/1/first.jpg"); err != nil {
		t.Fatalf("SaveQuiz: %v", err)
	}
	if _, err := s.SaveQuiz(id, "/quizzes/1/second.jpg"); err != nil {
		t.Fatalf("SaveQuiz: %v", err)
	}

	q, err := s.ActiveQuiz(id)
	if err != nil {
		t.Fatalf("ActiveQuiz: %v", err)
	}
	if q == nil || q.ImagePath != "/quizzes/1/second.jpg" {
		t.Fatalf("expected second upload active, got %+v", q)
	}

	quizzes, err := s.ListQuizzes(id)
	if err != nil {
		t.Fatalf("ListQuizzes: %v", err)
	}
	if len(quizzes) != 2 {
		t.Fatalf("expected 2 quizzes, got %d", len(quizzes))
	}
	if quizzes[1].Active {
		t.Error("expected first upload deactivated")
	}
}

func TestExamConfigRoundTrip(t *testing.T) {
	s := newTestStore(t)
	id := createTestTenant(t, s, "alice")

	if cfg, err := s.GetExamConfig(id); err != nil || cfg != nil {
		t.Fatalf("expected no config, got %+v err %v", cfg, err)
	}

	err := s.SetExamConfig(model.ExamConfig{TenantID: id, Active: true, QuestionCount: 4, TotalPoints: 100})
	if err != nil {
		t.Fatalf("SetExamConfig: %v", err)
	}

	cfg, err := s.GetExamConfig(id)
	if err != nil {
		t.Fatalf("GetExamConfig: %v", err)
	}
	if cfg == nil || cfg.QuestionCount != 4 || cfg.TotalPoints != 100 || !cfg.Active {
		t.Fatalf("unexpected config %+v", cfg)
	}

	// Upsert overwrites.
	err = s.SetExamConfig(model.ExamConfig{TenantID: id, Active: true, QuestionCount: 6, TotalPoints: 60})
	if err != nil {
		t.Fatalf("SetExamConfig update: %v", err)
	}
	cfg, err = s.GetExamConfig(id)
	if err != nil {
		t.Fatalf("GetExamConfig: %v", err)
	}
	if cfg.QuestionCount != 6 || cfg.TotalPoints != 60 {
		t.Errorf("expected updated config, got %+v", cfg)
	}

	if err := s.DeactivateExamConfig(id); err != nil {
		t.Fatalf("DeactivateExamConfig: %v", err)
	}
	cfg, err = s.GetExamConfig(id)
	if err != nil {
		t.Fatalf("GetExamConfig: %v", err)
	}
	if cfg.Active {
		t.Error("expected config deactivated")
	}
}

func TestSetExamConfigRejectsInvalid(t *testing.T) {
	s := newTestStore(t)
	id := createTestTenant(t, s, "alice")

	tests := []struct {
		name string
		cfg  model.ExamConfig
	}{
		{"zero questions", model.ExamConfig{TenantID: id, QuestionCount: 0, TotalPoints: 100}},
		{"negative questions", model.ExamConfig{TenantID: id, QuestionCount: -1, TotalPoints: 100}},
		{"zero points", model.ExamConfig{TenantID: id, QuestionCount: 4, TotalPoints: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.SetExamConfig(tt.cfg); err == nil {
				t.Errorf("expected error for %+v", tt.cfg)
			}
		})
	}
}

func TestApplyGradeCreatesAndUpdates(t *testing.T) {
	s := newTestStore(t)
	id := createTestTenant(t, s, "alice")

	upd := progress.Update{RawScore: 30, DetectedQuestions: []int{2}, QuestionCount: 4, PointsPerQuestion: 25}
	rec, res, err := s.ApplyGrade(id, 100, "Yousef", upd)
	if err != nil {
		t.Fatalf("ApplyGrade: %v", err)
	}
	if res.Score != 25 {
		t.Errorf("expected clamped score 25, got %d", res.Score)
	}
	if rec.TotalScore != 25 || rec.AnsweredCount != 1 {
		t.Errorf("unexpected record %+v", rec)
	}

	// Resubmission for the same question.
	upd.RawScore = 10
	rec, res, err = s.ApplyGrade(id, 100, "Yousef", upd)
	if err != nil {
		t.Fatalf("ApplyGrade resubmission: %v", err)
	}
	if !res.Resubmission {
		t.Error("expected resubmission")
	}
	if rec.TotalScore != 10 || rec.AnsweredCount != 1 {
		t.Errorf("unexpected record after resubmission %+v", rec)
	}

	// State survives a reload.
	loaded, err := s.GetProgress(id, 100)
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if loaded == nil || loaded.Scores[2] != 10 || loaded.TotalScore != 10 {
		t.Fatalf("unexpected loaded record %+v", loaded)
	}
}

func TestApplyGradeCompletionFlagPersists(t *testing.T) {
	s := newTestStore(t)
	id := createTestTenant(t, s, "alice")

	_, _, err := s.ApplyGrade(id, 100, "Yousef",
		progress.Update{RawScore: 20, DetectedQuestions: []int{4}, QuestionCount: 4, PointsPerQuestion: 25})
	if err != nil {
		t.Fatalf("ApplyGrade: %v", err)
	}

	rec, _, err := s.ApplyGrade(id, 100, "Yousef",
		progress.Update{RawScore: 15, DetectedQuestions: []int{1}, QuestionCount: 4, PointsPerQuestion: 25})
	if err != nil {
		t.Fatalf("ApplyGrade: %v", err)
	}
	if !rec.LastQuestionReached {
		t.Error("completion flag must survive later updates")
	}

	loaded, err := s.GetProgress(id, 100)
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if !loaded.LastQuestionReached {
		t.Error("completion flag must persist")
	}
}

func TestApplyGradeConcurrentSameSubject(t *testing.T) {
	s := newTestStore(t)
	id := createTestTenant(t, s, "alice")

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(q int) {
			defer wg.Done()
			_, _, err := s.ApplyGrade(id, 100, "Yousef", progress.Update{
				RawScore:          10,
				DetectedQuestions: []int{q%4 + 1},
				QuestionCount:     4,
				PointsPerQuestion: 25,
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent ApplyGrade: %v", err)
		}
	}

	rec, err := s.GetProgress(id, 100)
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if rec.AnsweredCount != 4 {
		t.Errorf("expected 4 answered questions after 8 submissions over 4 indices, got %d", rec.AnsweredCount)
	}
	if rec.TotalScore != 40 {
		t.Errorf("expected total 40, got %d", rec.TotalScore)
	}
}

func TestResetProgress(t *testing.T) {
	s := newTestStore(t)
	id := createTestTenant(t, s, "alice")
	other := createTestTenant(t, s, "bob")

	upd := progress.Update{RawScore: 10, DetectedQuestions: []int{1}, QuestionCount: 4, PointsPerQuestion: 25}
	if _, _, err := s.ApplyGrade(id, 100, "Yousef", upd); err != nil {
		t.Fatalf("ApplyGrade: %v", err)
	}
	if _, _, err := s.ApplyGrade(other, 200, "Sara", upd); err != nil {
		t.Fatalf("ApplyGrade: %v", err)
	}

	if err := s.ResetProgress(id); err != nil {
		t.Fatalf("ResetProgress: %v", err)
	}

	rec, err := s.GetProgress(id, 100)
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if rec != nil {
		t.Errorf("expected progress cleared, got %+v", rec)
	}

	// Other tenants are untouched.
	kept, err := s.GetProgress(other, 200)
	if err != nil {
		t.Fatalf("GetProgress other: %v", err)
	}
	if kept == nil {
		t.Error("reset must not touch other tenants")
	}
}

func TestListProgress(t *testing.T) {
	s := newTestStore(t)
	id := createTestTenant(t, s, "alice")

	upd := progress.Update{RawScore: 10, DetectedQuestions: []int{1}, QuestionCount: 4, PointsPerQuestion: 25}
	if _, _, err := s.ApplyGrade(id, 100, "Yousef", upd); err != nil {
		t.Fatalf("ApplyGrade: %v", err)
	}
	if _, _, err := s.ApplyGrade(id, 200, "Sara", upd); err != nil {
		t.Fatalf("ApplyGrade: %v", err)
	}

	records, err := s.ListProgress(id)
	if err != nil {
		t.Fatalf("ListProgress: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].SubjectID != 100 || records[1].SubjectID != 200 {
		t.Errorf("expected records ordered by subject, got %+v", records)
	}
	if records[0].Scores[1] != 10 {
		t.Errorf("expected per-question scores loaded, got %+v", records[0].Scores)
	}
}

func TestGradingLog(t *testing.T) {
	s := newTestStore(t)
	id := createTestTenant(t, s, "alice")

	count, err := s.GradingCount()
	if err != nil {
		t.Fatalf("GradingCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 logs, got %d", count)
	}

	for i := 0; i < 3; i++ {
		err := s.AppendGradingLog(model.GradingLog{
			TenantID: id, SubjectID: 100, SubjectName: "Yousef", Score: 7, MaxScore: 10,
		})
		if err != nil {
			t.Fatalf("AppendGradingLog: %v", err)
		}
	}

	count, err = s.GradingCount()
	if err != nil {
		t.Fatalf("GradingCount: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 logs, got %d", count)
	}

	logs, err := s.ListGradingLogs(id, 2)
	if err != nil {
		t.Fatalf("ListGradingLogs: %v", err)
	}
	if len(logs) != 2 {
		t.Errorf("expected limit 2 respected, got %d", len(logs))
	}
}

func TestSetLastResultPath(t *testing.T) {
	s := newTestStore(t)
	id := createTestTenant(t, s, "alice")

	upd := progress.Update{RawScore: 10, DetectedQuestions: []int{1}, QuestionCount: 4, PointsPerQuestion: 25}
	if _, _, err := s.ApplyGrade(id, 100, "Yousef", upd); err != nil {
		t.Fatalf("ApplyGrade: %v", err)
	}
	if err := s.SetLastResultPath(id, 100, "/tmp/result.jpg"); err != nil {
		t.Fatalf("SetLastResultPath: %v", err)
	}
	rec, err := s.GetProgress(id, 100)
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if rec.LastResultPath != "/tmp/result.jpg" {
		t.Errorf("expected last result path stored, got %q", rec.LastResultPath)
	}
}

func TestUserCRUD(t *testing.T) {
	s := newTestStore(t)

	count, err := s.UserCount()
	if err != nil {
		t.Fatalf("UserCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 users, got %d", count)
	}

	_, err = s.CreateUser(model.User{Username: "admin", PasswordHash: "x", Role: model.UserRoleAdmin, Active: true})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	u, err := s.GetUserByUsername("admin")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if u == nil || u.Role != model.UserRoleAdmin {
		t.Fatalf("unexpected user %+v", u)
	}

	missing, err := s.GetUserByUsername("nobody")
	if err != nil {
		t.Fatalf("GetUserByUsername missing: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for missing user, got %+v", missing)
	}
}
