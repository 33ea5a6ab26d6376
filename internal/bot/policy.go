package bot

import "github.com/snapgrade/snapgrade/internal/model"

// ResolvePolicy maps a tenant's exam config to the scoring policy for one
// submission. A missing, inactive or unusable config falls back to flat
// mode rather than failing: grading must keep working while a teacher is
// between exams.
//
// points_per_question truncates: the integer remainder of
// total_points / question_count is not redistributed, so the maximum
// achievable total can fall short of total_points.
func ResolvePolicy(cfg *model.ExamConfig) model.ScoringPolicy {
	if cfg == nil || !cfg.Active || cfg.QuestionCount <= 0 || cfg.TotalPoints <= 0 {
		return model.ScoringPolicy{
			Mode:              model.ModeFlat,
			PointsPerQuestion: model.FlatMaxScore,
		}
	}
	return model.ScoringPolicy{
		Mode:              model.ModeRunningTotal,
		QuestionCount:     cfg.QuestionCount,
		PointsPerQuestion: cfg.TotalPoints / cfg.QuestionCount,
		TotalPoints:       cfg.TotalPoints,
	}
}
