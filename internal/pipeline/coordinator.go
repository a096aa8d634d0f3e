// Package pipeline wires the two generation stages together: scenario
// results are validated and fed to the reasoning stage, reasoning results
// are validated and queued for storage. The coordinator keeps the scenario
// stage topped up with work until the store holds the target number of valid
// examples.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dexterai/traingen/internal/config"
	"github.com/dexterai/traingen/internal/example"
	"github.com/dexterai/traingen/internal/generate"
	"github.com/dexterai/traingen/internal/pool"
	"github.com/dexterai/traingen/internal/storage"
	"github.com/dexterai/traingen/internal/validate"
)

const (
	// rateLimitPause is how long a consumer backs off after a stage reports
	// a rate-limited task.
	rateLimitPause = 5 * time.Second

	// lowWater is the scenario queue depth below which the top-up loop
	// submits another chunk of work.
	lowWater  = 50
	chunkSize = 20

	resultPoll   = time.Second
	topUpPoll    = time.Second
	stopTimeout  = 30 * time.Second
	flushTimeout = 30 * time.Second
)

// Metrics is a snapshot of pipeline counters.
type Metrics struct {
	ScenariosSubmitted int64 `json:"scenarios_submitted"`
	ScenariosValid     int64 `json:"scenarios_valid"`
	ScenariosInvalid   int64 `json:"scenarios_invalid"`
	CompleteExamples   int64 `json:"complete_examples"`
	ReasoningInvalid   int64 `json:"reasoning_invalid"`
	RateLimitPauses    int64 `json:"rate_limit_pauses"`
	Errors             int64 `json:"errors"`
}

// scenarioTask is the empty work unit of the scenario stage; every task
// means "generate one scenario".
type scenarioTask struct{}

// Coordinator owns the two worker pools, the validator, and the write queue.
type Coordinator struct {
	cfg   config.Config
	store *storage.Store
	queue *storage.WriteQueue

	scenarioGen  *generate.ScenarioGenerator
	reasoningGen *generate.ReasoningGenerator
	validator    *validate.Pipeline

	scenarioPool  *pool.Pool[scenarioTask, *example.Scenario]
	reasoningPool *pool.Pool[*example.Scenario, *example.Reasoning]

	scenariosSubmitted atomic.Int64
	scenariosValid     atomic.Int64
	scenariosInvalid   atomic.Int64
	completeExamples   atomic.Int64
	reasoningInvalid   atomic.Int64
	rateLimitPauses    atomic.Int64
	errors             atomic.Int64
}

// New builds a coordinator over the given store. client is shared by both
// generation stages so rate-limit state is tracked once per model.
func New(cfg config.Config, client generate.Completer, store *storage.Store) *Coordinator {
	c := &Coordinator{
		cfg:          cfg,
		store:        store,
		queue:        storage.NewWriteQueue(store, cfg.Storage.WriteQueueSize, cfg.Storage.BatchSize),
		scenarioGen:  generate.NewScenarioGenerator(client, cfg.OpenRouter.ScenarioModels),
		reasoningGen: generate.NewReasoningGenerator(client, cfg.OpenRouter.ReasoningModels),
		validator:    validate.New(cfg.Rules),
	}

	poolCfg := pool.Config{
		MinWorkers:    cfg.Pool.MinWorkers,
		MaxWorkers:    cfg.Pool.MaxWorkers,
		QueueSize:     cfg.Pool.TaskQueueSize,
		ScaleInterval: time.Duration(cfg.Pool.ScaleIntervalSecs) * time.Second,
	}
	c.scenarioPool = pool.New("scenario", poolCfg, func(ctx context.Context, _ scenarioTask) (*example.Scenario, error) {
		return c.scenarioGen.Generate(ctx)
	})
	c.reasoningPool = pool.New("reasoning", poolCfg, func(ctx context.Context, sc *example.Scenario) (*example.Reasoning, error) {
		return c.reasoningGen.Generate(ctx, sc)
	})
	return c
}

// Metrics returns a snapshot of the pipeline counters.
func (c *Coordinator) Metrics() Metrics {
	return Metrics{
		ScenariosSubmitted: c.scenariosSubmitted.Load(),
		ScenariosValid:     c.scenariosValid.Load(),
		ScenariosInvalid:   c.scenariosInvalid.Load(),
		CompleteExamples:   c.completeExamples.Load(),
		ReasoningInvalid:   c.reasoningInvalid.Load(),
		RateLimitPauses:    c.rateLimitPauses.Load(),
		Errors:             c.errors.Load(),
	}
}

// PoolMetrics returns per-stage worker pool snapshots.
func (c *Coordinator) PoolMetrics() map[string]pool.Metrics {
	return map[string]pool.Metrics{
		"scenario":  c.scenarioPool.Metrics(),
		"reasoning": c.reasoningPool.Metrics(),
	}
}

// QueueStats returns the write-queue counters.
func (c *Coordinator) QueueStats() storage.QueueStats {
	return c.queue.Stats()
}

// Run generates until the store holds target valid examples or ctx is
// cancelled, then drains both stages and flushes the write queue.
func (c *Coordinator) Run(ctx context.Context, target int) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.queue.Start()
	if err := c.scenarioPool.Start(runCtx); err != nil {
		return err
	}
	if err := c.reasoningPool.Start(runCtx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return c.consumeScenarios(gctx) })
	g.Go(func() error { return c.consumeReasoning(gctx) })
	g.Go(func() error { return c.topUp(gctx, target, cancel) })

	err := g.Wait()
	c.drainAndStop()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// topUp keeps the scenario stage supplied: an initial burst, then a chunk
// whenever the queue drops below the low-water mark, until the store reaches
// the target. Reaching the target cancels the run context.
func (c *Coordinator) topUp(ctx context.Context, target int, cancel context.CancelFunc) error {
	initial := min(target, c.cfg.Pool.MaxWorkers*10)
	if err := c.submitScenarios(ctx, initial); err != nil {
		return err
	}

	ticker := time.NewTicker(topUpPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		valid, err := c.store.CountValid()
		if err != nil {
			c.errors.Add(1)
			slog.Error("counting valid examples", "error", err)
			continue
		}
		if valid >= target {
			slog.Info("target reached", "valid", valid, "target", target)
			cancel()
			return nil
		}

		if c.scenarioPool.QueueDepth() < lowWater {
			n := min(chunkSize, target-valid)
			if err := c.submitScenarios(ctx, n); err != nil {
				return err
			}
		}
	}
}

func (c *Coordinator) submitScenarios(ctx context.Context, n int) error {
	for range n {
		if err := c.scenarioPool.Submit(ctx, scenarioTask{}); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("submitting scenario task: %w", err)
		}
		c.scenariosSubmitted.Add(1)
	}
	return nil
}

// consumeScenarios validates stage-1 results, forwarding valid scenarios to
// the reasoning stage and persisting invalid ones with their reason.
func (c *Coordinator) consumeScenarios(ctx context.Context) error {
	for {
		res, ok := c.nextScenarioResult(ctx)
		if !ok {
			return nil
		}
		c.handleScenarioResult(ctx, res)
	}
}

func (c *Coordinator) nextScenarioResult(ctx context.Context) (pool.Result[scenarioTask, *example.Scenario], bool) {
	for {
		resCtx, resCancel := context.WithTimeout(ctx, resultPoll)
		res, err := c.scenarioPool.GetResult(resCtx)
		resCancel()
		if err == nil {
			return res, true
		}
		if ctx.Err() != nil {
			return pool.Result[scenarioTask, *example.Scenario]{}, false
		}
	}
}

func (c *Coordinator) handleScenarioResult(ctx context.Context, res pool.Result[scenarioTask, *example.Scenario]) {
	switch res.Status {
	case pool.StatusRateLimited:
		c.rateLimitPauses.Add(1)
		slog.Warn("scenario stage rate limited, pausing", "pause", rateLimitPause)
		sleepCtx(ctx, rateLimitPause)
	case pool.StatusError:
		c.errors.Add(1)
		slog.Error("scenario generation failed", "error", res.Err)
	case pool.StatusSuccess:
		sc := res.Output
		if ok, reason := c.validator.ValidateScenario(sc); !ok {
			c.scenariosInvalid.Add(1)
			slog.Warn("invalid scenario", "scenario_id", sc.Metadata.ScenarioID, "reason", reason)
			c.persist(sc, nil, example.StatusInvalid, reason)
			return
		}
		c.scenariosValid.Add(1)
		if err := c.reasoningPool.Submit(ctx, sc); err != nil && ctx.Err() == nil {
			c.errors.Add(1)
			slog.Error("forwarding scenario to reasoning stage", "error", err)
		}
	}
}

// consumeReasoning validates completed scenario/reasoning pairs and queues
// them for storage under their final status.
func (c *Coordinator) consumeReasoning(ctx context.Context) error {
	for {
		res, ok := c.nextReasoningResult(ctx)
		if !ok {
			return nil
		}
		c.handleReasoningResult(ctx, res)
	}
}

func (c *Coordinator) nextReasoningResult(ctx context.Context) (pool.Result[*example.Scenario, *example.Reasoning], bool) {
	for {
		resCtx, resCancel := context.WithTimeout(ctx, resultPoll)
		res, err := c.reasoningPool.GetResult(resCtx)
		resCancel()
		if err == nil {
			return res, true
		}
		if ctx.Err() != nil {
			return pool.Result[*example.Scenario, *example.Reasoning]{}, false
		}
	}
}

func (c *Coordinator) handleReasoningResult(ctx context.Context, res pool.Result[*example.Scenario, *example.Reasoning]) {
	switch res.Status {
	case pool.StatusRateLimited:
		c.rateLimitPauses.Add(1)
		slog.Warn("reasoning stage rate limited, pausing", "pause", rateLimitPause)
		sleepCtx(ctx, rateLimitPause)
	case pool.StatusError:
		c.errors.Add(1)
		slog.Error("reasoning generation failed", "scenario_id", res.Task.Metadata.ScenarioID, "error", res.Err)
	case pool.StatusSuccess:
		sc, r := res.Task, res.Output
		if ok, reason := c.validator.ValidateCompleteExample(sc, r); !ok {
			c.reasoningInvalid.Add(1)
			slog.Warn("invalid example", "scenario_id", sc.Metadata.ScenarioID, "reason", reason)
			c.persist(sc, r, example.StatusInvalid, reason)
			return
		}
		c.completeExamples.Add(1)
		c.persist(sc, r, example.StatusValid, "")
	}
}

// persist serializes the pair and hands it to the write queue. Queue-full
// drops are already counted by the queue itself.
func (c *Coordinator) persist(sc *example.Scenario, r *example.Reasoning, status, reason string) {
	scJSON, err := json.Marshal(sc)
	if err != nil {
		c.errors.Add(1)
		slog.Error("marshalling scenario", "scenario_id", sc.Metadata.ScenarioID, "error", err)
		return
	}
	if r == nil {
		r = &example.Reasoning{}
	}
	rJSON, err := json.Marshal(r)
	if err != nil {
		c.errors.Add(1)
		slog.Error("marshalling reasoning", "scenario_id", sc.Metadata.ScenarioID, "error", err)
		return
	}
	c.queue.Insert(storage.Record{
		ScenarioID:       sc.Metadata.ScenarioID,
		ScenarioJSON:     string(scJSON),
		ReasoningJSON:    string(rJSON),
		ValidationStatus: status,
		ValidationError:  reason,
	})
}

// drainAndStop winds the pipeline down in dependency order: finish scenario
// work and feed its stragglers to the reasoning stage, finish reasoning
// work, then flush everything queued for storage.
func (c *Coordinator) drainAndStop() {
	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	if err := c.scenarioPool.Stop(stopCtx); err != nil {
		slog.Warn("stopping scenario pool", "error", err)
	}
	c.drainResults(func(drainCtx context.Context) bool {
		resCtx, resCancel := context.WithTimeout(drainCtx, 200*time.Millisecond)
		res, err := c.scenarioPool.GetResult(resCtx)
		resCancel()
		if err != nil {
			return false
		}
		c.handleScenarioResult(drainCtx, res)
		return true
	})

	if err := c.reasoningPool.Stop(stopCtx); err != nil {
		slog.Warn("stopping reasoning pool", "error", err)
	}
	c.drainResults(func(drainCtx context.Context) bool {
		resCtx, resCancel := context.WithTimeout(drainCtx, 200*time.Millisecond)
		res, err := c.reasoningPool.GetResult(resCtx)
		resCancel()
		if err != nil {
			return false
		}
		c.handleReasoningResult(drainCtx, res)
		return true
	})

	if err := c.queue.Flush(flushTimeout); err != nil {
		slog.Warn("flushing write queue", "error", err)
	}
	c.queue.Stop()
}

func (c *Coordinator) drainResults(next func(context.Context) bool) {
	drainCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	for next(drainCtx) {
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
