package scheduler

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/limiquantix/drsim/internal/domain"
)

// FFD is a First-Fit-Decreased planner. The lazy variant only keeps consolidation
// migrations when they raise the average usage of the underloaded hosts.
type FFD struct {
	config Config
	lazy   bool
	logger *zap.Logger
}

// NewLazyFFD creates the lazy First-Fit-Decreased planner.
func NewLazyFFD(cfg Config, logger *zap.Logger) *FFD {
	return &FFD{
		config: cfg,
		lazy:   true,
		logger: logger.With(zap.String("component", "ffd"), zap.String("algorithm", AlgorithmLazyFFD)),
	}
}

// NewFFD creates a First-Fit-Decreased planner that always commits its plan.
func NewFFD(cfg Config, logger *zap.Logger) *FFD {
	return &FFD{
		config: cfg,
		logger: logger.With(zap.String("component", "ffd"), zap.String("algorithm", AlgorithmFFD)),
	}
}

// NewPlanner returns the planner selected by cfg.Algorithm.
func NewPlanner(cfg Config, logger *zap.Logger) (*FFD, error) {
	switch cfg.Algorithm {
	case "", AlgorithmLazyFFD:
		return NewLazyFFD(cfg, logger), nil
	case AlgorithmFFD:
		return NewFFD(cfg, logger), nil
	default:
		return nil, fmt.Errorf("%w: unknown algorithm %q", domain.ErrInvalidArgument, cfg.Algorithm)
	}
}

// Name identifies the algorithm.
func (f *FFD) Name() string {
	if f.lazy {
		return AlgorithmLazyFFD
	}
	return AlgorithmFFD
}

// ComputePlan builds a migration plan over hosts, which must be the hosting hosts
// in canonical order. The hosts are not modified.
func (f *FFD) ComputePlan(hosts []*domain.Host, pass int) (*Plan, error) {
	classes := Classify(hosts, pass, f.config.UnderloadedUsage)
	plan := newPlan(classes)
	if classes.IsEmpty() {
		return plan, nil
	}

	predicted := newPredictions(hosts)
	toSchedule, sources := f.selectVMs(classes, predicted)
	SortVMs(toSchedule, f.config.Order, f.config.UseLoad)

	for _, vm := range toSchedule {
		dest := firstFit(hosts, predicted, vm)
		if dest == nil {
			f.logger.Warn("No viable placement",
				zap.Int("pass", pass),
				zap.String("vm", vm.Name),
				zap.Float64("cpu_demand", vm.CPUDemand),
				zap.Int64("memory_mib", vm.MemoryMiB),
			)
			return nil, fmt.Errorf("vm %s: %w", vm.Name, domain.ErrPlanningInfeasible)
		}

		p := predicted[dest.Name]
		p.cpu += vm.CPUDemand
		p.mem += vm.MemoryMiB

		if source := sources[vm.Name]; dest.Name != source {
			plan.Migrations = append(plan.Migrations, domain.Migration{
				VM:          vm.Name,
				Source:      source,
				Destination: dest.Name,
			})
		}
	}

	if len(classes.Underloaded) > 0 {
		plan.CurrentUsage = AverageUsage(classes.Underloaded)
		plan.PredictedUsage = predicted.average(classes.Underloaded)

		if f.lazy && plan.CurrentUsage > 0 && plan.PredictedUsage <= plan.CurrentUsage {
			plan.dropSources(classes.Underloaded)
			f.logger.Debug("Consolidation abandoned",
				zap.Int("pass", pass),
				zap.Float64("current_usage", plan.CurrentUsage),
				zap.Float64("predicted_usage", plan.PredictedUsage),
				zap.Int("dropped", plan.Dropped),
			)
		}
	}

	return plan, nil
}

// selectVMs collects the VMs to place: the fewest VMs that bring each overloaded
// host under its fill target, and every VM of the underloaded hosts. Their demand
// is removed from the source's prediction. The returned map gives each VM's source host.
func (f *FFD) selectVMs(classes Classification, predicted predictions) ([]*domain.VirtualMachine, map[string]string) {
	threshold := f.config.threshold()
	sources := make(map[string]string)
	var selected []*domain.VirtualMachine

	take := func(h *domain.Host, vm *domain.VirtualMachine) {
		if _, dup := sources[vm.Name]; dup {
			return
		}
		sources[vm.Name] = h.Name
		p := predicted[h.Name]
		p.cpu -= vm.CPUDemand
		p.mem -= vm.MemoryMiB
		selected = append(selected, vm)
	}

	for _, h := range classes.Overloaded {
		p := predicted[h.Name]
		for _, vm := range h.VMs {
			if h.CPUCapacity()*threshold >= p.cpu && h.MemoryMiB >= p.mem {
				break
			}
			take(h, vm)
		}
	}

	for _, h := range classes.Underloaded {
		for _, vm := range h.VMs {
			take(h, vm)
		}
	}

	return selected, sources
}

// firstFit returns the first host, in canonical order, whose prediction accommodates vm.
func firstFit(hosts []*domain.Host, predicted predictions, vm *domain.VirtualMachine) *domain.Host {
	for _, h := range hosts {
		if !h.Hosting {
			continue
		}
		p := predicted[h.Name]
		if p.cpu+vm.CPUDemand <= h.CPUCapacity() && p.mem+vm.MemoryMiB <= h.MemoryMiB {
			return h
		}
	}
	return nil
}
