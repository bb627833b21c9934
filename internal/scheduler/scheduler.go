package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/limiquantix/drsim/internal/domain"
	"github.com/limiquantix/drsim/internal/metrics"
)

// Builder creates one Scheduler per pass. It owns the pass counter and the
// seeded source of instance ids, so both survive across passes.
type Builder struct {
	mu   sync.Mutex
	pass int
	rng  *rand.Rand

	planner  Planner
	executor Executor
	cluster  PowerController
	planLog  PlanLogger
	config   Config
	logger   *zap.Logger
}

// NewBuilder creates a scheduler builder. The first scheduler it builds runs pass 0.
func NewBuilder(
	config Config,
	planner Planner,
	executor Executor,
	cluster PowerController,
	planLog PlanLogger,
	logger *zap.Logger,
) *Builder {
	return &Builder{
		pass:     -1,
		rng:      rand.New(rand.NewSource(config.Seed)),
		planner:  planner,
		executor: executor,
		cluster:  cluster,
		planLog:  planLog,
		config:   config,
		logger:   logger,
	}
}

// New creates the scheduler for the next pass.
func (b *Builder) New() *Scheduler {
	b.mu.Lock()
	b.pass++
	pass := b.pass
	id, err := uuid.NewRandomFromReader(b.rng)
	b.mu.Unlock()

	if err != nil {
		id = uuid.New()
	}

	return &Scheduler{
		id:       id.String(),
		pass:     pass,
		planner:  b.planner,
		executor: b.executor,
		cluster:  b.cluster,
		planLog:  b.planLog,
		config:   b.config,
		logger: b.logger.With(
			zap.String("component", "scheduler"),
			zap.String("instance_id", id.String()),
			zap.Int("pass", pass),
		),
	}
}

// Pass returns the number of the last pass built, or -1 if none.
func (b *Builder) Pass() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pass
}

// Scheduler runs a single reconfiguration pass.
type Scheduler struct {
	id   string
	pass int

	planner  Planner
	executor Executor
	cluster  PowerController
	planLog  PlanLogger
	config   Config
	logger   *zap.Logger
}

// ID returns the instance id of the scheduler.
func (s *Scheduler) ID() string {
	return s.id
}

// Pass returns the pass number of the scheduler.
func (s *Scheduler) Pass() int {
	return s.pass
}

// CheckAndReconfigure plans over hostsToCheck and applies the resulting plan.
// The returned error is non-nil only when execution is stuck (domain.ErrStuckExecution);
// every other outcome is reported through the result state.
func (s *Scheduler) CheckAndReconfigure(ctx context.Context, hostsToCheck []*domain.Host) (*domain.SchedulerResult, error) {
	result := &domain.SchedulerResult{
		ID:           uuid.NewString(),
		InstanceID:   s.id,
		Pass:         s.pass,
		Algorithm:    s.planner.Name(),
		HostsChecked: len(hostsToCheck),
		StartedAt:    time.Now(),
	}

	s.logger.Info("Launching scheduler", zap.Int("hosts", len(hostsToCheck)))

	start := time.Now()
	plan, err := s.planner.ComputePlan(hostsToCheck, s.pass)
	result.PlanningDuration = time.Since(start)

	if err != nil {
		result.State = domain.SchedulerStateReconfigurationFailed
		if !errors.Is(err, domain.ErrPlanningInfeasible) {
			s.logger.Error("Planning failed", zap.Error(err))
		} else {
			s.logger.Warn("Reconfiguration failed", zap.Error(err))
		}
		s.planLog.WriteConfiguration(s.pass, s.id, s.cluster.Snapshot())
		metrics.RecordPass(result)
		return result, nil
	}

	result.Overloaded = plan.Overloaded
	result.Underloaded = plan.Underloaded
	result.Migrations = plan.Migrations

	if plan.IsEmpty() {
		result.State = domain.SchedulerStateNoReconfigurationNeeded
		s.logger.Debug("No reconfiguration needed",
			zap.Int("overloaded", len(plan.Overloaded)),
			zap.Int("underloaded", len(plan.Underloaded)),
		)
		s.planLog.WriteConfiguration(s.pass, s.id, s.cluster.Snapshot())
		metrics.RecordPass(result)
		return result, nil
	}

	s.logger.Info("Applying reconfiguration plan",
		zap.Int("migrations", len(plan.Migrations)),
		zap.Strings("overloaded", plan.Overloaded),
		zap.Strings("underloaded", plan.Underloaded),
		zap.Int("dropped", plan.Dropped),
	)
	s.planLog.WritePlan(s.id, plan.Migrations)

	start = time.Now()
	outcome, err := s.executor.Execute(ctx, plan.Migrations)
	result.ExecutionDuration = time.Since(start)
	result.Outcome = outcome
	if err != nil {
		result.State = domain.SchedulerStatePlanAborted
		return result, fmt.Errorf("failed to apply reconfiguration plan %s: %w", s.id, err)
	}

	if outcome.Aborted {
		result.State = domain.SchedulerStatePlanAborted
	} else {
		result.State = domain.SchedulerStateSuccess
	}

	if s.config.HostsTurnoff {
		result.PoweredOff = s.turnOffIdleHosts()
	}
	s.planLog.WriteConfiguration(s.pass, s.id, s.cluster.Snapshot())

	s.logger.Info("Reconfiguration done",
		zap.String("state", string(result.State)),
		zap.Int("succeeded", outcome.Succeeded),
		zap.Int("failed", outcome.Failed),
		zap.Int("skipped", outcome.Skipped),
		zap.Duration("duration", result.Duration()),
	)
	metrics.RecordPass(result)
	return result, nil
}

// turnOffIdleHosts powers off every powered-on hosting host without VMs.
func (s *Scheduler) turnOffIdleHosts() []string {
	var off []string
	for _, h := range s.cluster.OnHostingHosts() {
		if h.VMCount() > 0 {
			continue
		}
		if err := s.cluster.TurnOff(h.Name); err != nil {
			s.logger.Warn("Failed to turn off idle host", zap.String("host", h.Name), zap.Error(err))
			continue
		}
		off = append(off, h.Name)
	}
	if len(off) > 0 {
		metrics.RecordPowerOff(len(off))
	}
	return off
}
