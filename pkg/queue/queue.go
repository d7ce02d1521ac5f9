// Package queue tracks failed outbound jobs and when they may be retried.
package queue

import (
	"sync"
	"time"
)

const DefaultMaxBackoff = time.Hour

type RetryJob struct {
	Key        string
	Attempts   int
	RetryAt    time.Time
	LastError  string
	FirstTryAt time.Time
}

// Queue is an in-memory ledger of jobs that failed at least once. Jobs that
// never failed are not tracked and are always ready.
type Queue struct {
	items      []*RetryJob
	mu         sync.Mutex
	base       time.Duration
	maxBackoff time.Duration
}

func NewQueue(base time.Duration) *Queue {
	if base <= 0 {
		base = 30 * time.Second
	}
	return &Queue{
		items:      make([]*RetryJob, 0),
		base:       base,
		maxBackoff: DefaultMaxBackoff,
	}
}

func (q *Queue) find(key string) int {
	for i, job := range q.items {
		if job.Key == key {
			return i
		}
	}
	return -1
}

// Backoff returns the delay after the given number of failed attempts:
// base, 2×base, 4×base, ... capped at the queue's maximum.
func (q *Queue) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		return 0
	}
	d := q.base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= q.maxBackoff {
			return q.maxBackoff
		}
	}
	return d
}

// Fail records a failed attempt for key and schedules the next one.
func (q *Queue) Fail(key string, err error, now time.Time) RetryJob {
	q.mu.Lock()
	defer q.mu.Unlock()

	var job *RetryJob
	if i := q.find(key); i >= 0 {
		job = q.items[i]
	} else {
		job = &RetryJob{Key: key, FirstTryAt: now}
		q.items = append(q.items, job)
	}
	job.Attempts++
	job.RetryAt = now.Add(q.Backoff(job.Attempts))
	if err != nil {
		job.LastError = err.Error()
	}
	return *job
}

// Ready reports whether key may be attempted at now.
func (q *Queue) Ready(key string, now time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.find(key)
	if i < 0 {
		return true
	}
	retryAt := q.items[i].RetryAt
	return retryAt.Before(now) || retryAt.Equal(now)
}

func (q *Queue) Get(key string) (RetryJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if i := q.find(key); i >= 0 {
		return *q.items[i], true
	}
	return RetryJob{}, false
}

func (q *Queue) Remove(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if i := q.find(key); i >= 0 {
		q.items = append(q.items[:i], q.items[i+1:]...)
	}
}

// Retain drops every job whose key is not in keep, e.g. rows that were
// deleted or resolved elsewhere.
func (q *Queue) Retain(keep map[string]bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.items[:0]
	for _, job := range q.items {
		if keep[job.Key] {
			kept = append(kept, job)
		}
	}
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = nil
	}
	q.items = kept
}

func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) GetAll() []RetryJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	result := make([]RetryJob, len(q.items))
	for i, job := range q.items {
		result[i] = *job
	}
	return result
}
