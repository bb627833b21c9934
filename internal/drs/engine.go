// Package drs implements the Distributed Resource Scheduler control loop that
// periodically checks the cluster and reconfigures it.
package drs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/limiquantix/drsim/internal/config"
	"github.com/limiquantix/drsim/internal/domain"
	"github.com/limiquantix/drsim/internal/scheduler"
)

// ErrAlreadyRunning is returned by Start when the loop is already running.
var ErrAlreadyRunning = errors.New("drs engine already running")

// Stats tallies pass outcomes since the engine was created.
type Stats struct {
	Passes             int   `json:"passes"`
	NoReconfiguration  int   `json:"no_reconfiguration"`
	Successful         int   `json:"successful"`
	Failed             int   `json:"failed"`
	Broken             int   `json:"broken"`
	MigrationsIssued   int   `json:"migrations_issued"`
	MigrationsFailed   int   `json:"migrations_failed"`
	HostsPoweredOff    int   `json:"hosts_powered_off"`
	HostsPoweredOn     int   `json:"hosts_powered_on"`
	LastPassDurationMs int64 `json:"last_pass_duration_ms"`
}

// Engine runs scheduling passes at a fixed period until the workload injection ends.
type Engine struct {
	config        config.DRSConfig
	builder       *scheduler.Builder
	cluster       Cluster
	history       HistoryRepository
	publisher     EventPublisher
	leaderChecker LeaderChecker
	snapshots     SnapshotWriter
	logger        *zap.Logger

	// passMu serializes passes between the loop and manual triggers.
	passMu sync.Mutex

	mu           sync.RWMutex
	isRunning    bool
	loopID       string
	stats        Stats
	lastResult   *domain.SchedulerResult
	lastAnalysis time.Time
	subscribers  map[chan *domain.SchedulerResult]struct{}
}

// Option configures optional collaborators of the engine.
type Option func(*Engine)

// WithHistory records every pass result in repo.
func WithHistory(repo HistoryRepository) Option {
	return func(e *Engine) { e.history = repo }
}

// WithPublisher publishes every pass result.
func WithPublisher(p EventPublisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithLeaderChecker skips passes while this instance is not the leader.
func WithLeaderChecker(l LeaderChecker) Option {
	return func(e *Engine) { e.leaderChecker = l }
}

// WithSnapshotWriter records the hosts checked by each pass.
func WithSnapshotWriter(w SnapshotWriter) Option {
	return func(e *Engine) { e.snapshots = w }
}

// NewEngine creates a new DRS engine.
func NewEngine(
	cfg config.DRSConfig,
	builder *scheduler.Builder,
	cluster Cluster,
	logger *zap.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		config:      cfg,
		builder:     builder,
		cluster:     cluster,
		logger:      logger.With(zap.String("component", "drs")),
		subscribers: make(map[chan *domain.SchedulerResult]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start runs the control loop until ctx is done or the workload injection ends.
// Passes start one period apart; a pass longer than the period is followed
// immediately by the next one. A stuck execution stops the loop and is returned.
func (e *Engine) Start(ctx context.Context) error {
	if !e.config.Enabled {
		e.logger.Info("DRS engine disabled")
		return nil
	}

	e.mu.Lock()
	if e.isRunning {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.isRunning = true
	e.loopID = uuid.NewString()
	loopID := e.loopID
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.isRunning = false
		e.mu.Unlock()
	}()

	logger := e.logger.With(zap.String("loop_id", loopID))
	logger.Info("Starting DRS engine", zap.Duration("period", e.config.Period))

	var previous time.Duration
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		timer.Reset(max(e.config.Period-previous, 0))

		select {
		case <-ctx.Done():
			logger.Info("DRS engine stopped")
			return nil
		case <-e.cluster.EndOfInjection():
			logger.Info("End of injection, DRS engine stopped", zap.Any("stats", e.Stats()))
			return nil
		case <-timer.C:
		}

		if e.leaderChecker != nil && !e.leaderChecker.IsLeader() {
			logger.Debug("Not leader, skipping DRS pass")
			previous = 0
			continue
		}

		result, err := e.RunOnce(ctx)
		if err != nil {
			if errors.Is(err, domain.ErrStuckExecution) {
				logger.Error("Reconfiguration stuck, stopping DRS engine", zap.Error(err))
				return err
			}
			logger.Error("DRS pass failed", zap.Error(err))
		}

		previous = 0
		if result != nil {
			previous = result.Duration()
		}
	}
}

// RunOnce runs a single pass over the current hosting hosts.
func (e *Engine) RunOnce(ctx context.Context) (*domain.SchedulerResult, error) {
	e.passMu.Lock()
	defer e.passMu.Unlock()

	hosts := e.cluster.HostingHosts()
	s := e.builder.New()

	if e.snapshots != nil {
		e.snapshots.WriteSnapshot(s.Pass(), hosts)
	}

	result, err := s.CheckAndReconfigure(ctx, hosts)
	if result != nil {
		e.record(ctx, result)
	}
	return result, err
}

func (e *Engine) record(ctx context.Context, result *domain.SchedulerResult) {
	e.mu.Lock()
	e.stats.Passes++
	switch result.State {
	case domain.SchedulerStateNoReconfigurationNeeded:
		e.stats.NoReconfiguration++
	case domain.SchedulerStateSuccess:
		e.stats.Successful++
	case domain.SchedulerStateReconfigurationFailed:
		e.stats.Failed++
	case domain.SchedulerStatePlanAborted:
		e.stats.Broken++
	}
	e.stats.MigrationsIssued += result.Outcome.Issued
	e.stats.MigrationsFailed += result.Outcome.Failed
	e.stats.HostsPoweredOff += len(result.PoweredOff)
	e.stats.HostsPoweredOn += len(result.Outcome.PoweredOn)
	e.stats.LastPassDurationMs = result.Duration().Milliseconds()
	e.lastResult = result
	e.lastAnalysis = time.Now()

	for ch := range e.subscribers {
		select {
		case ch <- result:
		default:
			e.logger.Debug("Dropping pass result for slow subscriber")
		}
	}
	e.mu.Unlock()

	logger := e.logger.With(zap.String("pass_id", result.ID), zap.Int("pass", result.Pass))

	if e.history != nil {
		if err := e.history.Create(ctx, result); err != nil {
			logger.Warn("Failed to record pass", zap.Error(err))
		}
	}
	if e.publisher != nil {
		if err := e.publisher.PublishPass(ctx, result); err != nil {
			logger.Warn("Failed to publish pass", zap.Error(err))
		}
	}
}

// Subscribe returns a channel receiving every subsequent pass result and a
// function releasing it. Results are dropped when the channel is full.
func (e *Engine) Subscribe(buffer int) (<-chan *domain.SchedulerResult, func()) {
	ch := make(chan *domain.SchedulerResult, buffer)

	e.mu.Lock()
	e.subscribers[ch] = struct{}{}
	e.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subscribers, ch)
			e.mu.Unlock()
			close(ch)
		})
	}
}

// ListPasses returns recorded passes, newest first.
func (e *Engine) ListPasses(ctx context.Context, filter PassFilter) ([]*domain.SchedulerResult, error) {
	if e.history == nil {
		return nil, nil
	}
	return e.history.List(ctx, filter)
}

// GetPass returns a recorded pass.
func (e *Engine) GetPass(ctx context.Context, id string) (*domain.SchedulerResult, error) {
	if e.history == nil {
		return nil, domain.ErrNotFound
	}
	return e.history.Get(ctx, id)
}

// Stats returns the pass tallies.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}

// LastResult returns the result of the last pass, or nil.
func (e *Engine) LastResult() *domain.SchedulerResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastResult
}

// LoopID returns the id of the current loop, empty before Start.
func (e *Engine) LoopID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loopID
}

// GetLastAnalysisTime returns when the last pass finished.
func (e *Engine) GetLastAnalysisTime() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastAnalysis
}

// IsRunning returns true if the DRS loop is running.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isRunning
}

// IsLeader returns true if this instance may run passes.
func (e *Engine) IsLeader() bool {
	return e.leaderChecker == nil || e.leaderChecker.IsLeader()
}
