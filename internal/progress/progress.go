// Package progress implements the per-student tally update applied after
// every graded submission in running-total mode.
package progress

import (
	"log/slog"

	"github.com/snapgrade/snapgrade/internal/model"
)

// Update is one graded submission to fold into a ProgressRecord.
type Update struct {
	// RawScore is the grader's score before clamping.
	RawScore int
	// DetectedQuestions are the question indices the grader recognized on
	// the photo. May be empty or contain out-of-range values.
	DetectedQuestions []int
	// QuestionCount and PointsPerQuestion come from the resolved scoring
	// policy.
	QuestionCount     int
	PointsPerQuestion int
}

// Result describes what Apply did to the record.
type Result struct {
	// Score is the clamped score actually stored.
	Score int
	// Questions are the indices the score was filed under, after
	// validation or sequential fallback.
	Questions []int
	// Resubmission is true if at least one index already had a score.
	Resubmission bool
	// Fallback is true if the sequential fallback assigned the index.
	Fallback bool
}

// Apply folds one graded submission into rec. The record's Scores map,
// AnsweredCount, TotalScore and LastQuestionReached are updated in place;
// the caller is responsible for persisting the record atomically with the
// read that produced it.
//
// Rules, in order: the raw score is clamped to [0, PointsPerQuestion];
// detected indices outside [1, QuestionCount] are discarded; if no valid
// index remains the score is filed under AnsweredCount+1; an index already
// present is overwritten without growing AnsweredCount; TotalScore is
// recomputed from the map, never incremented; LastQuestionReached latches
// true when the highest index touched equals QuestionCount and never
// resets.
func Apply(rec *model.ProgressRecord, upd Update) Result {
	if rec.Scores == nil {
		rec.Scores = make(map[int]int)
	}

	score := clamp(upd.RawScore, 0, upd.PointsPerQuestion)

	var res Result
	res.Score = score

	questions := validIndices(upd.DetectedQuestions, upd.QuestionCount)
	if len(questions) == 0 {
		if len(upd.DetectedQuestions) > 0 {
			slog.Warn("all detected question indices invalid, using sequential fallback",
				"detected", upd.DetectedQuestions, "question_count", upd.QuestionCount)
		}
		questions = []int{rec.AnsweredCount + 1}
		res.Fallback = true
	}
	res.Questions = questions

	maxQ := 0
	for _, q := range questions {
		if _, ok := rec.Scores[q]; ok {
			res.Resubmission = true
		} else {
			rec.AnsweredCount++
		}
		rec.Scores[q] = score
		if q > maxQ {
			maxQ = q
		}
	}

	total := 0
	for _, s := range rec.Scores {
		total += s
	}
	rec.TotalScore = total

	// Latches on the highest index seen in this submission, not on full
	// coverage: a student who reaches the final question gets their tally
	// even with earlier questions still open.
	if maxQ == upd.QuestionCount {
		rec.LastQuestionReached = true
	}

	return res
}

func validIndices(qs []int, questionCount int) []int {
	var valid []int
	for _, q := range qs {
		if q >= 1 && q <= questionCount {
			valid = append(valid, q)
		}
	}
	return valid
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
