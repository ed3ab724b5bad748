// Package scheduler runs named periodic work with bounded retry.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
)

// ErrClosed is returned when work is enqueued on a closed Manager.
var ErrClosed = errors.New("scheduler closed")

// ConstraintRecheck is how long work waits before re-checking unmet
// constraints.
const ConstraintRecheck = time.Minute

// Policy decides what happens when work with the same name is already
// registered.
type Policy int

const (
	// Keep leaves an existing registration untouched.
	Keep Policy = iota
	// Replace cancels the existing registration and starts a new one.
	Replace
)

// State is the lifecycle state of a registration.
type State int

const (
	Enqueued State = iota
	Running
	Cancelled
)

func (s State) String() string {
	switch s {
	case Enqueued:
		return "enqueued"
	case Running:
		return "running"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Constraints gate each run.
type Constraints struct {
	RequiresBatteryNotLow bool
}

// ConstraintChecker reports the device conditions constraints depend on.
type ConstraintChecker interface {
	BatteryNotLow(ctx context.Context) bool
}

// Request describes periodic work.
type Request struct {
	Interval     time.Duration
	InitialDelay time.Duration
	Constraints  Constraints
	Input        map[string]string
}

// Work is handed to a Worker for one run.
type Work struct {
	ID      string
	Name    string
	Attempt int
	Input   map[string]string
}

// Worker performs one run of scheduled work.
type Worker interface {
	Do(ctx context.Context, w Work) error
}

// WorkerFunc adapts a function to Worker.
type WorkerFunc func(ctx context.Context, w Work) error

func (f WorkerFunc) Do(ctx context.Context, w Work) error { return f(ctx, w) }

// Info is a snapshot of a registration.
type Info struct {
	ID         string
	Name       string
	State      State
	Attempt    int
	Runs       int
	LastResult *Result
	LastError  string
	NextRun    time.Time
}

// Manager owns the registered periodic work. Each registration runs in its
// own goroutine until cancelled.
type Manager struct {
	clock       quartz.Clock
	metrics     *Metrics
	constraints ConstraintChecker
	log         *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	jobs   map[string]*registration
	closed bool
}

type registration struct {
	name   string
	req    Request
	worker Worker
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	info Info
}

// NewManager returns a Manager. metrics and constraints may be nil; with no
// checker every constraint is considered met.
func NewManager(clock quartz.Clock, metrics *Metrics, constraints ConstraintChecker, logger *slog.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		clock:       clock,
		metrics:     metrics,
		constraints: constraints,
		log:         logger.With("topic", "scheduler"),
		ctx:         ctx,
		cancel:      cancel,
		jobs:        make(map[string]*registration),
	}
}

// EnqueueUniquePeriodic registers periodic work under name. With Keep an
// existing registration is returned unchanged.
func (m *Manager) EnqueueUniquePeriodic(name string, policy Policy, req Request, w Worker) (Info, error) {
	if req.Interval <= 0 {
		return Info{}, fmt.Errorf("enqueue %s: interval must be positive", name)
	}
	if req.InitialDelay < 0 {
		return Info{}, fmt.Errorf("enqueue %s: negative initial delay", name)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Info{}, ErrClosed
	}
	// Another enqueue may register name while the lock is released to stop
	// the old registration, so check again after every stop.
	for {
		old, ok := m.jobs[name]
		if !ok {
			break
		}
		if policy == Keep {
			m.mu.Unlock()
			m.log.Debug("work already scheduled", "name", name)
			return old.snapshot(), nil
		}
		delete(m.jobs, name)
		m.mu.Unlock()
		old.stop()
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return Info{}, ErrClosed
		}
	}

	ctx, cancel := context.WithCancel(m.ctx)
	r := &registration{
		name:   name,
		req:    req,
		worker: w,
		cancel: cancel,
		done:   make(chan struct{}),
		info: Info{
			ID:      uuid.NewString(),
			Name:    name,
			State:   Enqueued,
			NextRun: m.clock.Now().Add(req.InitialDelay),
		},
	}
	m.jobs[name] = r
	m.metrics.setScheduled(len(m.jobs))
	m.mu.Unlock()

	m.log.Info("work scheduled", "name", name, "id", r.info.ID,
		"interval", req.Interval, "initial_delay", req.InitialDelay)
	go m.run(ctx, r)
	return r.snapshot(), nil
}

// Cancel stops the work registered under name and waits for it to exit.
// Cancelling unknown work is a no-op.
func (m *Manager) Cancel(name string) {
	m.mu.Lock()
	r, ok := m.jobs[name]
	if ok {
		delete(m.jobs, name)
		m.metrics.setScheduled(len(m.jobs))
	}
	m.mu.Unlock()
	if ok {
		r.stop()
		m.log.Info("work cancelled", "name", name)
	}
}

// CancelAll stops every registration.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	jobs := m.jobs
	m.jobs = make(map[string]*registration)
	m.metrics.setScheduled(0)
	m.mu.Unlock()
	for _, r := range jobs {
		r.stop()
	}
}

// Info returns the registration under name.
func (m *Manager) Info(name string) (Info, bool) {
	m.mu.Lock()
	r, ok := m.jobs[name]
	m.mu.Unlock()
	if !ok {
		return Info{}, false
	}
	return r.snapshot(), true
}

func (m *Manager) IsScheduled(name string) bool {
	_, ok := m.Info(name)
	return ok
}

// Close cancels all work. Later enqueues fail with ErrClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.CancelAll()
	m.cancel()
}

func (m *Manager) run(ctx context.Context, r *registration) {
	defer close(r.done)

	bo := newBackOff()
	delay, tag := r.req.InitialDelay, "delay"
	attempt := 0
	for {
		if !m.sleep(ctx, delay, tag) {
			return
		}
		if !m.constraintsMet(ctx, r.req.Constraints) {
			m.log.Debug("constraints not met", "name", r.name)
			delay, tag = ConstraintRecheck, "constraint"
			r.update(func(i *Info) { i.NextRun = m.clock.Now().Add(delay) })
			continue
		}

		r.update(func(i *Info) {
			i.State = Running
			i.Attempt = attempt
		})
		work := Work{ID: r.info.ID, Name: r.name, Attempt: attempt, Input: r.req.Input}
		res, err := Guard(attempt, func() error { return r.worker.Do(ctx, work) })
		if ctx.Err() != nil {
			return
		}
		m.metrics.recordRun(r.name, res)

		switch res {
		case Retry:
			attempt++
			delay, tag = bo.NextBackOff(), "backoff"
			m.log.Warn("work failed, retrying", "name", r.name, "attempt", attempt, "backoff", delay, "err", err)
		case Failure:
			attempt = 0
			bo.Reset()
			delay, tag = r.req.Interval, "period"
			m.log.Error("work failed", "name", r.name, "err", err)
		default:
			attempt = 0
			bo.Reset()
			delay, tag = r.req.Interval, "period"
			if err != nil {
				m.log.Info("work skipped", "name", r.name, "reason", err)
			} else {
				m.log.Debug("work succeeded", "name", r.name)
			}
		}
		r.update(func(i *Info) {
			i.State = Enqueued
			i.Runs++
			i.LastResult = &res
			i.LastError = ""
			if err != nil {
				i.LastError = err.Error()
			}
			i.NextRun = m.clock.Now().Add(delay)
		})
	}
}

// sleep waits for d or until ctx is done. It reports whether the wait
// completed.
func (m *Manager) sleep(ctx context.Context, d time.Duration, tag string) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := m.clock.NewTimer(d, "scheduler", tag)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (m *Manager) constraintsMet(ctx context.Context, c Constraints) bool {
	if c.RequiresBatteryNotLow && m.constraints != nil {
		return m.constraints.BatteryNotLow(ctx)
	}
	return true
}

func (r *registration) stop() {
	r.cancel()
	<-r.done
	r.update(func(i *Info) { i.State = Cancelled })
}

func (r *registration) update(fn func(i *Info)) {
	r.mu.Lock()
	fn(&r.info)
	r.mu.Unlock()
}

func (r *registration) snapshot() Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.info
	if i.LastResult != nil {
		res := *i.LastResult
		i.LastResult = &res
	}
	return i
}
