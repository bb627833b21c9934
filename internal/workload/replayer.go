package workload

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Target receives the injected events.
type Target interface {
	SetVMDemand(name string, demand float64) error
	TurnOn(name string) error
	TurnOff(name string) error
	SignalEndOfInjection()
}

// Replayer applies a trace at scaled wall time and signals the end of the injection.
type Replayer struct {
	target    Target
	trace     *Trace
	timeScale float64
	duration  time.Duration
	logger    *zap.Logger
}

// NewReplayer creates a replayer. A nil trace injects nothing; duration, if
// positive, is the minimum wall time before the injection ends.
func NewReplayer(target Target, trace *Trace, timeScale float64, duration time.Duration, logger *zap.Logger) *Replayer {
	if trace == nil {
		trace = &Trace{}
	}
	if timeScale <= 0 {
		timeScale = 1
	}
	return &Replayer{
		target:    target,
		trace:     trace,
		timeScale: timeScale,
		duration:  duration,
		logger:    logger.With(zap.String("component", "workload")),
	}
}

// Run replays the trace. It returns ctx.Err() if cancelled before the end of the
// trace, in which case the end of the injection is not signaled.
func (r *Replayer) Run(ctx context.Context) error {
	start := time.Now()
	r.logger.Info("Starting workload injection",
		zap.Int("events", len(r.trace.Events)),
		zap.Duration("trace_end", r.scale(r.trace.End())),
	)

	for _, e := range r.trace.Events {
		if err := sleepUntil(ctx, start.Add(r.scale(e.At.Duration()))); err != nil {
			return err
		}
		r.apply(e)
	}

	if r.duration > 0 {
		if err := sleepUntil(ctx, start.Add(r.duration)); err != nil {
			return err
		}
	}

	r.target.SignalEndOfInjection()
	r.logger.Info("Workload injection finished", zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (r *Replayer) apply(e Event) {
	var err error
	if e.IsLoad() {
		err = r.target.SetVMDemand(e.VM, e.CPUDemand)
	} else if strings.EqualFold(e.Power, "on") {
		err = r.target.TurnOn(e.Host)
	} else {
		err = r.target.TurnOff(e.Host)
	}

	if err != nil {
		r.logger.Warn("Failed to apply workload event",
			zap.String("vm", e.VM),
			zap.String("host", e.Host),
			zap.Duration("at", e.At.Duration()),
			zap.Error(err),
		)
	}
}

func (r *Replayer) scale(d time.Duration) time.Duration {
	return time.Duration(float64(d) * r.timeScale)
}

func sleepUntil(ctx context.Context, deadline time.Time) error {
	d := time.Until(deadline)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
