// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package scheduler runs periodic jobs keyed by id.
//
// Registering an id that is already live replaces the earlier job. Cancel
// stops future invocations but does not wait for one already running, so
// callbacks must tolerate firing once after their owner is gone.
package scheduler

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Scheduler errors.
var (
	ErrInvalidInterval = errors.New("scheduler: invalid interval")
	ErrClosed          = errors.New("scheduler: closed")
)

// JobID identifies a registered job.
type JobID = uuid.UUID

// Scheduler is the job scheduler contract used by subscriptions.
type Scheduler interface {
	// Register schedules fn every interval under id, replacing any job
	// already registered under the same id.
	Register(id JobID, interval time.Duration, fn func()) error

	// Cancel removes the job. Unknown ids are ignored.
	Cancel(id JobID)
}

// Milliseconds converts a millisecond interval to a Duration.
func Milliseconds(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}

type tickerJob struct {
	interval time.Duration
	stop     chan struct{}
}

// Ticker runs each job on its own goroutine driven by a time.Ticker.
type Ticker struct {
	mu     sync.Mutex
	jobs   map[JobID]*tickerJob
	closed bool
}

// NewTicker creates an empty ticker scheduler.
func NewTicker() *Ticker {
	return &Ticker{jobs: make(map[JobID]*tickerJob)}
}

// Register implements Scheduler.
func (t *Ticker) Register(id JobID, interval time.Duration, fn func()) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if existing, ok := t.jobs[id]; ok {
		close(existing.stop)
	}

	job := &tickerJob{interval: interval, stop: make(chan struct{})}
	t.jobs[id] = job
	go job.run(fn)
	return nil
}

func (j *tickerJob) run(fn func()) {
	tk := time.NewTicker(j.interval)
	defer tk.Stop()

	for {
		select {
		case <-j.stop:
			return
		case <-tk.C:
			// Stop wins over a tick that raced with it.
			select {
			case <-j.stop:
				return
			default:
			}
			fn()
		}
	}
}

// Cancel implements Scheduler.
func (t *Ticker) Cancel(id JobID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if job, ok := t.jobs[id]; ok {
		close(job.stop)
		delete(t.jobs, id)
	}
}

// Len returns the number of live jobs.
func (t *Ticker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.jobs)
}

// Close cancels every job. Later registrations are ignored.
func (t *Ticker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, job := range t.jobs {
		close(job.stop)
		delete(t.jobs, id)
	}
	t.closed = true
}

type manualJob struct {
	interval time.Duration
	fn       func()
	seq      uint64
}

// Manual is a scheduler whose jobs only run when fired explicitly.
// It backs deterministic tests and the interactive console.
type Manual struct {
	mu   sync.Mutex
	jobs map[JobID]*manualJob
	seq  uint64
}

// NewManual creates an empty manual scheduler.
func NewManual() *Manual {
	return &Manual{jobs: make(map[JobID]*manualJob)}
}

// Register implements Scheduler.
func (m *Manual) Register(id JobID, interval time.Duration, fn func()) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	seq := m.seq
	if existing, ok := m.jobs[id]; ok {
		seq = existing.seq
	} else {
		m.seq++
	}
	m.jobs[id] = &manualJob{interval: interval, fn: fn, seq: seq}
	return nil
}

// Cancel implements Scheduler.
func (m *Manual) Cancel(id JobID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
}

// Fire runs the job registered under id and reports whether one existed.
func (m *Manual) Fire(id JobID) bool {
	m.mu.Lock()
	job, ok := m.jobs[id]
	m.mu.Unlock()

	if !ok {
		return false
	}
	job.fn()
	return true
}

// FireAll runs every live job once, in registration order.
func (m *Manual) FireAll() int {
	m.mu.Lock()
	jobs := make([]*manualJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	m.mu.Unlock()

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].seq < jobs[j].seq })
	for _, job := range jobs {
		job.fn()
	}
	return len(jobs)
}

// Interval returns the interval a job was registered with.
func (m *Manual) Interval(id JobID) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return 0, false
	}
	return job.interval, true
}

// Len returns the number of live jobs.
func (m *Manual) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}
