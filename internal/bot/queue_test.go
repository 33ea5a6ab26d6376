package bot

import (
	"errors"
	"testing"
	"time"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue(10)
	for i := int64(1); i <= 3; i++ {
		if err := q.TrySubmit(NewJob(i, 100, "s", 100, nil, "quiz.jpg")); err != nil {
			t.Fatalf("TrySubmit: %v", err)
		}
	}
	if q.Len() != 3 {
		t.Fatalf("expected 3 queued jobs, got %d", q.Len())
	}
	for i := int64(1); i <= 3; i++ {
		j := <-q.Jobs()
		if j.TenantID != i {
			t.Errorf("expected tenant %d dequeued, got %d", i, j.TenantID)
		}
	}
}

func TestQueueRejectsWhenFullWithoutBlocking(t *testing.T) {
	q := NewQueue(2)
	if err := q.TrySubmit(NewJob(1, 1, "s", 1, nil, "q")); err != nil {
		t.Fatalf("TrySubmit: %v", err)
	}
	if err := q.TrySubmit(NewJob(1, 2, "s", 2, nil, "q")); err != nil {
		t.Fatalf("TrySubmit: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- q.TrySubmit(NewJob(1, 3, "s", 3, nil, "q"))
	}()
	select {
	case err := <-done:
		if !errors.Is(err, ErrQueueFull) {
			t.Errorf("expected ErrQueueFull, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("TrySubmit blocked on a full queue")
	}

	// The rejected job must not appear later.
	if q.Len() != 2 {
		t.Errorf("expected queue length 2 after rejection, got %d", q.Len())
	}
}

func TestNewJobAssignsID(t *testing.T) {
	a := NewJob(1, 100, "Yousef", 100, []byte("img"), "quiz.jpg")
	b := NewJob(1, 100, "Yousef", 100, []byte("img"), "quiz.jpg")
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("expected unique job IDs, got %q and %q", a.ID, b.ID)
	}
	if a.SubjectName != "Yousef" || a.QuizPath != "quiz.jpg" {
		t.Errorf("unexpected job %+v", a)
	}
}
