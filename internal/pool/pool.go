// Package pool implements a generic auto-scaling worker pool. The same pool
// type backs both generation stages: executors pull tasks from a bounded
// queue, run the processing function, and push classified results. A monitor
// goroutine grows the pool when the queue backs up and shrinks it after
// rate-limit errors or when the queue runs dry.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dexterai/traingen/internal/openrouter"
)

// Status classifies a task outcome.
type Status string

const (
	StatusSuccess     Status = "success"
	StatusRateLimited Status = "rate_limit"
	StatusError       Status = "error"
)

// Result carries one task outcome, paired with the task that produced it so
// consumers can correlate stages.
type Result[T, R any] struct {
	Task   T
	Output R
	Status Status
	Err    error
}

// State is the pool lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Metrics is a point-in-time snapshot of pool counters.
type Metrics struct {
	Completed       int64     `json:"completed"`
	Failed          int64     `json:"failed"`
	RateLimitErrors int64     `json:"rate_limit_errors"`
	LastRateLimit   time.Time `json:"last_rate_limit,omitzero"`
	ActiveWorkers   int       `json:"active_workers"`
	QueueDepth      int       `json:"queue_depth"`
}

// Config sizes a pool.
type Config struct {
	MinWorkers int
	MaxWorkers int
	// QueueSize bounds the task queue; Submit blocks when it is full.
	QueueSize int
	// ScaleInterval is how often the monitor re-evaluates worker count.
	ScaleInterval time.Duration
	// RateLimitCooldown is how long after a rate-limit error the monitor
	// keeps shrinking instead of growing.
	RateLimitCooldown time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinWorkers <= 0 {
		c.MinWorkers = 1
	}
	if c.MaxWorkers < c.MinWorkers {
		c.MaxWorkers = c.MinWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1000
	}
	if c.ScaleInterval <= 0 {
		c.ScaleInterval = 5 * time.Second
	}
	if c.RateLimitCooldown <= 0 {
		c.RateLimitCooldown = 60 * time.Second
	}
	return c
}

const (
	taskPollInterval = time.Second
	scaleUpDepth     = 100
	scaleDownDepth   = 10
)

// Process is the task-processing function a pool runs. Errors are classified
// by the pool; a rate-limit error shrinks the pool, anything else only feeds
// the failure counter.
type Process[T, R any] func(ctx context.Context, task T) (R, error)

type worker struct {
	id   int
	stop chan struct{}
}

// Pool is an auto-scaling set of concurrent task executors.
type Pool[T, R any] struct {
	name    string
	cfg     Config
	process Process[T, R]
	logger  *slog.Logger

	tasks   chan T
	results chan Result[T, R]

	// mu serializes state transitions and all scaling decisions so the pool
	// never exceeds MaxWorkers under racing scale-ups.
	mu      sync.Mutex
	state   State
	workers []*worker
	nextID  int

	// workCtx is the context tasks run under. It is not cancelled when an
	// individual worker is told to stop, so scale-down and Stop never abort
	// a call already in flight.
	workCtx    context.Context
	workCancel context.CancelFunc

	// shutdown is closed in Stop after the drain phase; workers and the
	// monitor exit promptly once it closes.
	shutdown chan struct{}
	wg       sync.WaitGroup

	metricsMu       sync.Mutex
	completed       int64
	failed          int64
	rateLimitErrors int64
	lastRateLimit   time.Time
}

// New creates a pool that runs process for each submitted task. The pool is
// Stopped until Start is called.
func New[T, R any](name string, cfg Config, process Process[T, R]) *Pool[T, R] {
	cfg = cfg.withDefaults()
	return &Pool[T, R]{
		name:    name,
		cfg:     cfg,
		process: process,
		logger:  slog.Default().With("pool", name),
		tasks:   make(chan T, cfg.QueueSize),
		results: make(chan Result[T, R], cfg.QueueSize),
	}
}

// Start spawns MinWorkers executors and the scaling monitor.
func (p *Pool[T, R]) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateStopped {
		return fmt.Errorf("pool %s: start in state %s", p.name, p.state)
	}
	p.state = StateStarting

	p.workCtx, p.workCancel = context.WithCancel(ctx)
	p.shutdown = make(chan struct{})
	for range p.cfg.MinWorkers {
		p.spawnLocked()
	}

	p.wg.Add(1)
	go p.monitor()

	p.state = StateRunning
	p.logger.Info("pool started", "workers", len(p.workers))
	return nil
}

// State returns the current lifecycle state.
func (p *Pool[T, R]) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Submit enqueues a task, blocking while the task queue is full. It fails
// only when ctx is cancelled or the pool is shutting down.
func (p *Pool[T, R]) Submit(ctx context.Context, task T) error {
	p.mu.Lock()
	if p.state != StateRunning {
		p.mu.Unlock()
		return fmt.Errorf("pool %s: submit in state %s", p.name, p.state)
	}
	shutdown := p.shutdown
	p.mu.Unlock()

	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-shutdown:
		return fmt.Errorf("pool %s: stopped during submit", p.name)
	}
}

// GetResult dequeues one result, blocking until one is available or ctx is
// done. Callers pass a timeout context to stay responsive to shutdown.
func (p *Pool[T, R]) GetResult(ctx context.Context) (Result[T, R], error) {
	select {
	case res := <-p.results:
		return res, nil
	case <-ctx.Done():
		return Result[T, R]{}, ctx.Err()
	}
}

// QueueDepth returns the current number of queued tasks.
func (p *Pool[T, R]) QueueDepth() int { return len(p.tasks) }

// Metrics returns a snapshot of the pool counters.
func (p *Pool[T, R]) Metrics() Metrics {
	p.metricsMu.Lock()
	m := Metrics{
		Completed:       p.completed,
		Failed:          p.failed,
		RateLimitErrors: p.rateLimitErrors,
		LastRateLimit:   p.lastRateLimit,
	}
	p.metricsMu.Unlock()

	p.mu.Lock()
	m.ActiveWorkers = len(p.workers)
	p.mu.Unlock()
	m.QueueDepth = len(p.tasks)
	return m
}

// Stop drains the task queue (bounded by ctx), then stops all executors and
// waits for them to finish their in-flight tasks.
func (p *Pool[T, R]) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateRunning {
		p.mu.Unlock()
		return fmt.Errorf("pool %s: stop in state %s", p.name, p.state)
	}
	p.state = StateStopping
	p.mu.Unlock()

	// Let queued tasks finish unless the deadline arrives first.
	drain := time.NewTicker(50 * time.Millisecond)
	defer drain.Stop()
drainLoop:
	for len(p.tasks) > 0 {
		select {
		case <-ctx.Done():
			p.logger.Warn("stop deadline reached with tasks queued", "remaining", len(p.tasks))
			break drainLoop
		case <-drain.C:
		}
	}

	close(p.shutdown)
	p.wg.Wait()
	p.workCancel()

	p.mu.Lock()
	p.workers = nil
	p.state = StateStopped
	p.mu.Unlock()

	p.logger.Info("pool stopped")
	return nil
}

// spawnLocked starts one executor. Caller holds p.mu.
func (p *Pool[T, R]) spawnLocked() {
	p.nextID++
	w := &worker{id: p.nextID, stop: make(chan struct{})}
	p.workers = append(p.workers, w)

	p.wg.Add(1)
	go p.run(w)
}

// run is the executor loop: poll the task queue with a bounded wait, process,
// publish the classified result. A stopped worker finishes its current task
// before exiting.
func (p *Pool[T, R]) run(w *worker) {
	defer p.wg.Done()
	p.logger.Debug("worker started", "worker", w.id)

	poll := time.NewTimer(taskPollInterval)
	defer poll.Stop()

	for {
		poll.Reset(taskPollInterval)
		select {
		case <-w.stop:
			p.logger.Debug("worker stopped", "worker", w.id)
			return
		case <-p.shutdown:
			return
		case <-poll.C:
			// Bounded wait so cancellation is observed at least once per
			// poll interval even on a quiet queue.
			continue
		case task := <-p.tasks:
			res := p.execute(task)
			select {
			case p.results <- res:
			case <-p.shutdown:
				return
			}
		}
	}
}

// execute runs one task, converting panics into errors so a bad task never
// takes down the executor.
func (p *Pool[T, R]) execute(task T) (res Result[T, R]) {
	defer func() {
		if r := recover(); r != nil {
			res = Result[T, R]{Task: task, Status: StatusError, Err: fmt.Errorf("task panic: %v", r)}
			p.recordFailure(res.Err)
		}
	}()

	out, err := p.process(p.workCtx, task)
	if err != nil {
		status := StatusError
		if isRateLimitError(err) {
			status = StatusRateLimited
		}
		p.recordFailure(err)
		p.logger.Debug("task failed", "status", status, "error", err)
		return Result[T, R]{Task: task, Status: status, Err: err}
	}

	p.metricsMu.Lock()
	p.completed++
	p.metricsMu.Unlock()
	return Result[T, R]{Task: task, Output: out, Status: StatusSuccess}
}

func (p *Pool[T, R]) recordFailure(err error) {
	p.metricsMu.Lock()
	defer p.metricsMu.Unlock()
	p.failed++
	if isRateLimitError(err) {
		p.rateLimitErrors++
		p.lastRateLimit = time.Now()
	}
}

// isRateLimitError matches both the typed API failure and raw errors whose
// text indicates a provider rate limit.
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	if openrouter.IsRateLimit(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "rate limit")
}

// monitor periodically adjusts the worker count.
func (p *Pool[T, R]) monitor() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.ScaleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.shutdown:
			return
		case <-ticker.C:
			p.evaluateScale()
		}
	}
}

// evaluateScale applies the scaling policy: shrink after a recent rate
// limit, grow on a deep queue, shrink on an idle one.
func (p *Pool[T, R]) evaluateScale() {
	p.metricsMu.Lock()
	last := p.lastRateLimit
	p.metricsMu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateRunning {
		return
	}

	active := len(p.workers)
	depth := len(p.tasks)

	var target int
	switch {
	case !last.IsZero() && time.Since(last) < p.cfg.RateLimitCooldown:
		target = active / 2
	case depth > scaleUpDepth && active < p.cfg.MaxWorkers:
		target = active * 2
	case depth < scaleDownDepth && active > p.cfg.MinWorkers:
		target = active / 2
	default:
		return
	}
	p.scaleLocked(target)
}

// scaleTo serializes an explicit scale request through the pool mutex.
func (p *Pool[T, R]) scaleTo(target int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateRunning {
		return
	}
	p.scaleLocked(target)
}

// scaleLocked brings the worker set to target, clamped to [Min, Max].
// Scale-down stops the newest workers; their in-flight task finishes first.
// Caller holds p.mu.
func (p *Pool[T, R]) scaleLocked(target int) {
	target = max(p.cfg.MinWorkers, min(target, p.cfg.MaxWorkers))
	current := len(p.workers)
	if target == current {
		return
	}

	if target > current {
		for range target - current {
			p.spawnLocked()
		}
		p.logger.Info("scaled up", "from", current, "to", target)
		return
	}

	for len(p.workers) > target {
		w := p.workers[len(p.workers)-1]
		p.workers = p.workers[:len(p.workers)-1]
		close(w.stop)
	}
	p.logger.Info("scaled down", "from", current, "to", target)
}
