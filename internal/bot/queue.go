package bot

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrQueueFull is returned by TrySubmit when the grading queue is at
// capacity. The job is dropped; it is never queued or retried later.
var ErrQueueFull = errors.New("bot: grading queue full")

// Job is one submitted photo awaiting grading. It is built on the
// dispatch path and consumed exactly once by a worker.
type Job struct {
	ID          string
	TenantID    int64
	SubjectID   int64
	SubjectName string
	ReplyTo     int64
	PhotoData   []byte
	QuizPath    string
	EnqueuedAt  time.Time
}

// NewJob builds a job with a fresh ID.
func NewJob(tenantID, subjectID int64, subjectName string, replyTo int64, photo []byte, quizPath string) Job {
	return Job{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		SubjectID:   subjectID,
		SubjectName: subjectName,
		ReplyTo:     replyTo,
		PhotoData:   photo,
		QuizPath:    quizPath,
		EnqueuedAt:  time.Now(),
	}
}

// Queue is the bounded FIFO shared by every tenant's dispatch path and
// drained by the worker pool.
type Queue struct {
	jobs chan Job
}

// NewQueue creates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{jobs: make(chan Job, capacity)}
}

// TrySubmit enqueues a job without blocking. A full queue rejects the job
// with ErrQueueFull so the event-dispatch path shared by all tenants can
// never stall.
func (q *Queue) TrySubmit(j Job) error {
	select {
	case q.jobs <- j:
		return nil
	default:
		return ErrQueueFull
	}
}

// Jobs returns the receive side for workers.
func (q *Queue) Jobs() <-chan Job {
	return q.jobs
}

// Len reports the number of queued jobs.
func (q *Queue) Len() int {
	return len(q.jobs)
}
