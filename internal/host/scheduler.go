// Copyright 2026 The LuaLink Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package host

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/remeh/sizedwaitgroup"
	log "github.com/sirupsen/logrus"
)

// DefaultTickInterval is 20 ticks per second.
const DefaultTickInterval = 50 * time.Millisecond

// ErrSchedulerStopped is returned by Schedule after Stop.
var ErrSchedulerStopped = errors.New("scheduler stopped")

type scheduledTask struct {
	id     TaskID
	task   Runnable
	seq    uint64
	next   int64
	period int64
	async  bool
}

// TickScheduler is a TaskRunner driven by a fixed-rate tick. Synchronous
// tasks run on the tick goroutine in schedule order; async tasks run on a
// bounded worker pool.
type TickScheduler struct {
	interval time.Duration

	mu      sync.Mutex
	tick    int64
	seq     uint64
	tasks   map[TaskID]*scheduledTask
	stopped bool

	pool sizedwaitgroup.SizedWaitGroup

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewTickScheduler creates a scheduler ticking every interval with at most
// workers concurrent async tasks.
func NewTickScheduler(interval time.Duration, workers int) *TickScheduler {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if workers <= 0 {
		workers = 1
	}
	return &TickScheduler{
		interval: interval,
		tasks:    make(map[TaskID]*scheduledTask),
		pool:     sizedwaitgroup.New(workers),
		ctx:      context.Background(),
	}
}

// Schedule registers task to fire after delay ticks and then every period
// ticks when period > 0. A delay below one tick fires on the next tick.
func (s *TickScheduler) Schedule(task Runnable, delay, period int64, async bool) (TaskID, error) {
	if task == nil {
		return "", errors.New("task is nil")
	}
	if period < 0 {
		return "", fmt.Errorf("invalid period %d", period)
	}
	if delay < 1 {
		delay = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return "", ErrSchedulerStopped
	}
	s.seq++
	st := &scheduledTask{
		id:     TaskID(uuid.NewString()),
		task:   task,
		seq:    s.seq,
		next:   s.tick + delay,
		period: period,
		async:  async,
	}
	s.tasks[st.id] = st
	return st.id, nil
}

// Cancel drops a pending task. Unknown ids are ignored.
func (s *TickScheduler) Cancel(id TaskID) {
	s.mu.Lock()
	delete(s.tasks, id)
	s.mu.Unlock()
}

// Pending reports how many tasks are scheduled.
func (s *TickScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// CurrentTick returns the number of ticks processed so far.
func (s *TickScheduler) CurrentTick() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}

// Step advances one tick and fires every due task. Synchronous tasks have
// finished when Step returns; async tasks may still be running, see Wait.
func (s *TickScheduler) Step(ctx context.Context) {
	s.mu.Lock()
	s.tick++
	var due []*scheduledTask
	for id, st := range s.tasks {
		if st.next > s.tick {
			continue
		}
		due = append(due, st)
		if st.period > 0 {
			st.next = s.tick + st.period
		} else {
			delete(s.tasks, id)
		}
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].seq < due[j].seq })
	for _, st := range due {
		if st.async {
			s.pool.Add()
			go func(r Runnable) {
				defer s.pool.Done()
				s.fire(ctx, r)
			}(st.task)
			continue
		}
		s.fire(ctx, st.task)
	}
}

// Wait blocks until every running async task has returned.
func (s *TickScheduler) Wait() {
	s.pool.Wait()
}

func (s *TickScheduler) fire(ctx context.Context, r Runnable) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf("scheduled task panicked: %v", rec)
		}
	}()
	r.Run(ctx)
}

// Start begins ticking in the background.
func (s *TickScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler is already running")
	}
	if s.stopped {
		s.mu.Unlock()
		return ErrSchedulerStopped
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.running = true
	s.mu.Unlock()

	go s.loop()
	log.Debugf("tick scheduler started (%s per tick)", s.interval)
	return nil
}

func (s *TickScheduler) loop() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Step(s.ctx)
		}
	}
}

// Stop halts the tick loop, drops pending tasks and waits for async work.
func (s *TickScheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	running := s.running
	s.running = false
	if s.cancel != nil {
		s.cancel()
	}
	s.tasks = make(map[TaskID]*scheduledTask)
	s.mu.Unlock()

	if running {
		select {
		case <-s.done:
		case <-time.After(5 * time.Second):
			log.Warn("tick scheduler stop timed out waiting for loop")
		}
	}
	s.pool.Wait()
}
