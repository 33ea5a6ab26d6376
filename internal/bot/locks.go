package bot

import "sync"

type subjectKey struct {
	tenant  int64
	subject int64
}

// subjectLocks serializes progress updates per (tenant, subject) pair.
// Jobs for different subjects proceed in parallel; two workers holding
// the same subject queue behind each other for the read-modify-write.
type subjectLocks struct {
	mu    sync.Mutex
	locks map[subjectKey]*subjectLock
}

type subjectLock struct {
	mu   sync.Mutex
	refs int
}

func newSubjectLocks() *subjectLocks {
	return &subjectLocks{locks: make(map[subjectKey]*subjectLock)}
}

// lock acquires the mutex for a subject and returns its unlock function.
// Entries are reference-counted so the map does not grow with every
// student ever seen.
func (s *subjectLocks) lock(tenant, subject int64) func() {
	key := subjectKey{tenant: tenant, subject: subject}

	s.mu.Lock()
	l := s.locks[key]
	if l == nil {
		l = &subjectLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}
