package i18n

import (
	"context"
	"strings"
	"testing"
)

func initTestBundle(t *testing.T) {
	t.Helper()
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
}

func TestInitRejectsBadLanguage(t *testing.T) {
	if err := Init("no-such-lang-tag!!"); err == nil {
		t.Error("expected error for invalid language tag")
	}
	initTestBundle(t)
}

func TestQuizCaption(t *testing.T) {
	initTestBundle(t)
	ctx := WithLocalizer(context.Background(), NewLocalizer("en"))
	got := Td(ctx, "QuizCaption", map[string]any{"Score": 7, "Max": 10})
	if got != "[RESULT] 7/10" {
		t.Errorf("unexpected caption %q", got)
	}
}

func TestExamCaptionArabic(t *testing.T) {
	initTestBundle(t)
	ctx := WithLocalizer(context.Background(), NewLocalizer("ar"))
	got := Td(ctx, "ExamCaption", map[string]any{
		"Questions": "Q2", "Score": 20, "Max": 25, "Total": 45, "TotalMax": 100,
	})
	if !strings.Contains(got, "المجموع") {
		t.Errorf("expected Arabic total label, got %q", got)
	}
	if !strings.Contains(got, "20/25") {
		t.Errorf("expected score fragment, got %q", got)
	}
}

func TestResubmissionNoteFallsBackToDefault(t *testing.T) {
	initTestBundle(t)
	// Unknown language falls back to the bundle default.
	ctx := WithLocalizer(context.Background(), NewLocalizer("fr"))
	got := T(ctx, "ResubmissionNote")
	if got != " (updated)" {
		t.Errorf("expected english fallback, got %q", got)
	}
}

func TestMissingIDReturnsID(t *testing.T) {
	initTestBundle(t)
	ctx := WithLocalizer(context.Background(), NewLocalizer("en"))
	if got := T(ctx, "NoSuchMessage"); got != "NoSuchMessage" {
		t.Errorf("expected message ID echoed back, got %q", got)
	}
}
