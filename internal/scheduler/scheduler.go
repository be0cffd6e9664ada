// Package scheduler releases queued jobs under a concurrency cap, a
// refillable request budget and a minimum spacing between dispatches.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrClosed is returned when work is submitted after Close.
var ErrClosed = errors.New("scheduler: closed")

// Job is a unit of work. It receives the context passed to Run.
type Job func(ctx context.Context)

// Config bounds how fast jobs are released.
type Config struct {
	// MaxConcurrent is the number of jobs allowed to run at once.
	MaxConcurrent int
	// MinSpacing is the minimum time between two dispatches.
	MinSpacing time.Duration
	// Reservoir is the initial budget. A negative value disables the budget.
	Reservoir int
	// MaxSlots caps the budget. Reservoir may not exceed it.
	MaxSlots int
	// RefillAmount is added to the budget every RefillInterval.
	RefillAmount   int
	RefillInterval time.Duration
}

// DefaultConfig matches the public Coinbase candles limits the importer was
// tuned against: one request at a time, one per second, 30 in the bucket.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:  1,
		MinSpacing:     time.Second,
		Reservoir:      30,
		MaxSlots:       30,
		RefillAmount:   100,
		RefillInterval: 30 * time.Second,
	}
}

// Validate rejects configurations under which no job could ever run.
func (c Config) Validate() error {
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max concurrent must be at least 1, got %d", c.MaxConcurrent)
	}
	if c.MinSpacing < 0 {
		return fmt.Errorf("min spacing cannot be negative")
	}
	if c.Reservoir >= 0 {
		if c.MaxSlots < 1 {
			return fmt.Errorf("max slots must be at least 1, got %d", c.MaxSlots)
		}
		if c.Reservoir > c.MaxSlots {
			return fmt.Errorf("reservoir %d exceeds max slots %d", c.Reservoir, c.MaxSlots)
		}
		if c.RefillAmount < 1 || c.RefillInterval <= 0 {
			return fmt.Errorf("refill amount and interval must be positive")
		}
	}
	return nil
}

// Counts is a snapshot of the scheduler's job accounting.
type Counts struct {
	Queued  int
	Delayed int
	Running int
	Done    int
	Dropped int
}

// Pending is the number of jobs that have not reached a terminal state.
func (c Counts) Pending() int { return c.Queued + c.Delayed + c.Running }

// Scheduler is a single flat FIFO queue drained by one dispatcher.
type Scheduler struct {
	cfg     Config
	slots   *semaphore.Weighted
	spacing *rate.Limiter

	mu           sync.Mutex
	queue        []Job
	timers       map[*time.Timer]struct{}
	counts       Counts
	budget       int
	refilled     chan struct{}
	lastDispatch time.Time
	submitted    bool
	closed       bool

	notify    chan struct{}
	closing   chan struct{}
	drained   chan struct{}
	drainOnce sync.Once
	jobs      sync.WaitGroup
}

// New creates a Scheduler. Call Run to start dispatching.
func New(cfg Config) *Scheduler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	s := &Scheduler{
		cfg:      cfg,
		slots:    semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		timers:   make(map[*time.Timer]struct{}),
		budget:   min(cfg.Reservoir, max(cfg.MaxSlots, 0)),
		refilled: make(chan struct{}),
		notify:   make(chan struct{}, 1),
		closing:  make(chan struct{}),
		drained:  make(chan struct{}),
	}
	if cfg.MinSpacing > 0 {
		s.spacing = rate.NewLimiter(rate.Every(cfg.MinSpacing), 1)
	}
	return s
}

// Schedule appends job to the queue. It never blocks.
func (s *Scheduler) Schedule(job Job) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.submitted = true
	s.queue = append(s.queue, job)
	s.counts.Queued++
	s.mu.Unlock()

	s.wake()
	return nil
}

// ScheduleAfter enqueues job once d has elapsed. The job counts as pending
// from the moment of the call.
func (s *Scheduler) ScheduleAfter(d time.Duration, job Job) error {
	if d <= 0 {
		return s.Schedule(job)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.submitted = true
	s.counts.Delayed++

	var t *time.Timer
	t = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, t)
		s.counts.Delayed--
		if s.closed {
			s.counts.Dropped++
			s.checkDrained()
			s.mu.Unlock()
			return
		}
		s.queue = append(s.queue, job)
		s.counts.Queued++
		s.mu.Unlock()
		s.wake()
	})
	s.timers[t] = struct{}{}
	return nil
}

// Drained is closed once every submitted job, including the ones submitted
// by running jobs, has finished or been dropped.
func (s *Scheduler) Drained() <-chan struct{} { return s.drained }

// Counts returns a snapshot of the job accounting.
func (s *Scheduler) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts
}

// Close stops accepting work and drops queued and delayed jobs. Running jobs
// finish normally. Safe to call more than once.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true

	dropped := len(s.queue)
	s.queue = nil
	s.counts.Queued = 0
	for t := range s.timers {
		// A timer that already fired accounts for itself.
		if t.Stop() {
			s.counts.Delayed--
			dropped++
		}
		delete(s.timers, t)
	}
	s.counts.Dropped += dropped
	s.checkDrained()
	s.mu.Unlock()

	close(s.closing)
	if dropped > 0 {
		slog.Debug("scheduler: dropped pending jobs", "count", dropped)
	}
}

// Run dispatches jobs until ctx is cancelled or Close is called, then waits
// for running jobs to return. It returns nil after Close.
func (s *Scheduler) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		select {
		case <-s.closing:
			cancel()
		case <-gctx.Done():
		}
		return nil
	})
	g.Go(func() error { return s.refill(gctx) })
	g.Go(func() error { return s.dispatch(gctx, ctx) })

	err := g.Wait()
	s.jobs.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Scheduler) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// dispatch waits for a queued job, then in order: a concurrency slot, a
// budget permit, the average-rate limiter and the gap since the last job
// actually started. Spacing is checked last so a long budget wait cannot let
// two dispatches land closer than MinSpacing.
func (s *Scheduler) dispatch(ctx, jobCtx context.Context) error {
	for {
		if err := s.waitQueued(ctx); err != nil {
			return err
		}
		if err := s.slots.Acquire(ctx, 1); err != nil {
			return err
		}
		if err := s.takePermit(ctx); err != nil {
			s.slots.Release(1)
			return err
		}
		if err := s.waitSpacing(ctx); err != nil {
			s.returnPermit()
			s.slots.Release(1)
			return err
		}

		job, ok := s.pop()
		if !ok {
			s.returnPermit()
			s.slots.Release(1)
			continue
		}

		s.jobs.Add(1)
		go func() {
			defer s.jobs.Done()
			defer s.slots.Release(1)
			defer s.finish()
			s.markStarted()
			job(jobCtx)
		}()
	}
}

// waitSpacing blocks until MinSpacing has passed since the last job start.
// The limiter paces reservations, not starts, so the gap is checked too.
func (s *Scheduler) waitSpacing(ctx context.Context) error {
	if s.spacing == nil {
		return nil
	}
	if err := s.spacing.Wait(ctx); err != nil {
		return err
	}
	for {
		s.mu.Lock()
		d := time.Until(s.lastDispatch.Add(s.cfg.MinSpacing))
		s.mu.Unlock()
		if d <= 0 {
			return nil
		}

		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// markStarted moves lastDispatch forward to the moment the job goroutine
// begins, which trails pop by the goroutine start latency.
func (s *Scheduler) markStarted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now := time.Now(); now.After(s.lastDispatch) {
		s.lastDispatch = now
	}
}

func (s *Scheduler) waitQueued(ctx context.Context) error {
	for {
		s.mu.Lock()
		n := len(s.queue)
		s.mu.Unlock()
		if n > 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.notify:
		}
	}
}

func (s *Scheduler) pop() (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, false
	}
	job := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	s.counts.Queued--
	s.counts.Running++
	s.lastDispatch = time.Now()
	return job, true
}

func (s *Scheduler) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts.Running--
	s.counts.Done++
	s.checkDrained()
}

// checkDrained must be called with mu held.
func (s *Scheduler) checkDrained() {
	if s.submitted && s.counts.Pending() == 0 {
		s.drainOnce.Do(func() { close(s.drained) })
	}
}

func (s *Scheduler) takePermit(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.cfg.Reservoir < 0 {
			s.mu.Unlock()
			return nil
		}
		if s.budget > 0 {
			s.budget--
			s.mu.Unlock()
			return nil
		}
		ch := s.refilled
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

func (s *Scheduler) returnPermit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.Reservoir >= 0 {
		s.budget = min(s.budget+1, s.cfg.MaxSlots)
	}
}

// refill tops the budget up every RefillInterval, capped at MaxSlots, and
// wakes a dispatcher blocked on an empty budget.
func (s *Scheduler) refill(ctx context.Context) error {
	if s.cfg.Reservoir < 0 || s.cfg.RefillInterval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(s.cfg.RefillInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.mu.Lock()
			s.budget = min(s.budget+s.cfg.RefillAmount, s.cfg.MaxSlots)
			close(s.refilled)
			s.refilled = make(chan struct{})
			s.mu.Unlock()
		}
	}
}
