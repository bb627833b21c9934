package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/limiquantix/drsim/internal/domain"
	"github.com/limiquantix/drsim/internal/metrics"
)

// Executor issues the migrations of a plan and waits for all of them.
type Executor struct {
	cluster   ClusterState
	relocator Relocator
	config    Config
	logger    *zap.Logger

	// sem is nil when relocations are unbounded.
	sem *semaphore.Weighted

	ongoing   atomic.Int64
	migrating cmap.ConcurrentMap[string, domain.Migration]
}

// New creates a new migration executor.
func New(cluster ClusterState, relocator Relocator, config Config, logger *zap.Logger) *Executor {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig().PollInterval
	}
	if config.WatchdogTicks <= 0 {
		config.WatchdogTicks = DefaultConfig().WatchdogTicks
	}

	e := &Executor{
		cluster:   cluster,
		relocator: relocator,
		config:    config,
		logger:    logger.With(zap.String("component", "executor")),
		migrating: cmap.New[domain.Migration](),
	}
	if config.MaxConcurrentMigrations > 0 {
		e.sem = semaphore.NewWeighted(config.MaxConcurrentMigrations)
	}
	return e
}

// Ongoing returns the number of relocations in flight.
func (e *Executor) Ongoing() int64 {
	return e.ongoing.Load()
}

// MigratingVMs returns the names of the VMs being relocated, sorted.
func (e *Executor) MigratingVMs() []string {
	vms := e.migrating.Keys()
	sort.Strings(vms)
	return vms
}

// tally collects per-migration results written by relocation goroutines.
type tally struct {
	succeeded atomic.Int64
	failed    atomic.Int64
	aborted   atomic.Bool
}

// Execute issues every migration of the plan in order, each in its own goroutine,
// then blocks until all of them have finished. A failed relocation marks the
// outcome as aborted; nothing is retried or rolled back.
//
// Execute returns domain.ErrStuckExecution when migrations are still outstanding
// at a watchdog check after the end of the workload injection.
func (e *Executor) Execute(ctx context.Context, plan []domain.Migration) (domain.ExecutionOutcome, error) {
	start := time.Now()
	ctx = context.WithoutCancel(ctx)

	var (
		outcome domain.ExecutionOutcome
		results tally
		wg      sync.WaitGroup
	)

	for _, m := range plan {
		logger := e.logger.With(
			zap.String("vm", m.VM),
			zap.String("source", m.Source),
			zap.String("destination", m.Destination),
		)

		src, err := e.cluster.Host(m.Source)
		if err != nil || src.IsOff() {
			logger.Warn("Source host is off, skipping migration")
			outcome.Skipped++
			metrics.RecordMigration(metrics.OutcomeSkipped, 0)
			continue
		}

		poweredOn, err := e.ensureOn(m.Destination)
		if err != nil {
			logger.Error("Failed to power on destination host", zap.Error(err))
			results.fail()
			continue
		}
		if poweredOn {
			outcome.PoweredOn = append(outcome.PoweredOn, m.Destination)
		}

		if err := e.cluster.StartMigration(m); err != nil {
			logger.Error("Failed to start migration", zap.Error(err))
			results.fail()
			continue
		}

		outcome.Issued++
		e.migrating.Set(m.VM, m)
		metrics.SetOngoingMigrations(e.ongoing.Add(1))

		wg.Add(1)
		go e.relocate(ctx, m, logger, &results, &wg)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	err := e.await(done, start)

	outcome.Succeeded = int(results.succeeded.Load())
	outcome.Failed = int(results.failed.Load())
	outcome.Aborted = results.aborted.Load()
	outcome.Duration = time.Since(start)

	if err != nil {
		return outcome, err
	}

	e.logger.Info("Reconfiguration plan applied",
		zap.Int("issued", outcome.Issued),
		zap.Int("succeeded", outcome.Succeeded),
		zap.Int("failed", outcome.Failed),
		zap.Int("skipped", outcome.Skipped),
		zap.Bool("aborted", outcome.Aborted),
		zap.Duration("duration", outcome.Duration),
	)
	return outcome, nil
}

func (t *tally) fail() {
	t.failed.Add(1)
	t.aborted.Store(true)
}

// ensureOn powers on a host that is off and reports whether it did.
func (e *Executor) ensureOn(name string) (bool, error) {
	h, err := e.cluster.Host(name)
	if err != nil {
		return false, err
	}
	if h.IsOn() {
		return false, nil
	}
	if err := e.cluster.TurnOn(name); err != nil {
		return false, fmt.Errorf("failed to turn on host %s: %w", name, err)
	}
	metrics.RecordPowerOn()
	return true, nil
}

// relocate runs one migration to completion and records its result.
func (e *Executor) relocate(ctx context.Context, m domain.Migration, logger *zap.Logger, results *tally, wg *sync.WaitGroup) {
	defer wg.Done()
	defer func() {
		e.migrating.Remove(m.VM)
		metrics.SetOngoingMigrations(e.ongoing.Add(-1))
	}()

	if e.sem != nil {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			logger.Error("Failed to acquire relocation slot", zap.Error(err))
			if ferr := e.cluster.FinishMigration(m, false); ferr != nil {
				logger.Error("Failed to release migration", zap.Error(ferr))
			}
			results.fail()
			return
		}
		defer e.sem.Release(1)
	}

	start := time.Now()
	err := e.relocator.Relocate(ctx, m)
	if err == nil {
		err = e.cluster.FinishMigration(m, true)
	} else if ferr := e.cluster.FinishMigration(m, false); ferr != nil {
		err = errors.Join(err, ferr)
	}
	elapsed := time.Since(start)

	if err != nil {
		logger.Warn("Migration failed", zap.Duration("duration", elapsed), zap.Error(err))
		metrics.RecordMigration(metrics.OutcomeFailed, elapsed)
		results.fail()
		return
	}

	logger.Debug("Migration completed", zap.Duration("duration", elapsed))
	metrics.RecordMigration(metrics.OutcomeSucceeded, elapsed)
	results.succeeded.Add(1)
}

// await blocks until done is closed. Every WatchdogTicks ticks it reports the
// outstanding VMs and gives up if the workload injection has ended.
func (e *Executor) await(done <-chan struct{}, start time.Time) error {
	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	ticks := 0
	for {
		select {
		case <-done:
			return nil
		case <-ticker.C:
			ticks++
			if ticks%e.config.WatchdogTicks != 0 {
				continue
			}

			vms := e.MigratingVMs()
			if len(vms) == 0 {
				continue
			}
			e.logger.Warn("Waiting for migrations to complete",
				zap.Int("outstanding", len(vms)),
				zap.Strings("vms", vms),
				zap.Duration("elapsed", time.Since(start)),
			)

			select {
			case <-e.cluster.EndOfInjection():
				e.logger.Error("Workload injection ended with migrations outstanding",
					zap.Strings("vms", vms),
				)
				return fmt.Errorf("%d migrations outstanding: %w", len(vms), domain.ErrStuckExecution)
			default:
			}
		}
	}
}
