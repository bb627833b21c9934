package scheduler

import "github.com/limiquantix/drsim/internal/domain"

// Plan is the committed output of a planner for one pass.
type Plan struct {
	// Migrations in planning order; at most one per VM.
	Migrations []domain.Migration

	Overloaded  []string
	Underloaded []string

	// CurrentUsage and PredictedUsage average the underloaded hosts before and
	// after consolidation. Both are NoUsageData when nothing was consolidated.
	CurrentUsage   float64
	PredictedUsage float64

	// Dropped counts consolidation migrations abandoned by the commit check.
	Dropped int
}

// IsEmpty returns true if the plan has nothing to execute.
func (p *Plan) IsEmpty() bool {
	return len(p.Migrations) == 0
}

func newPlan(c Classification) *Plan {
	return &Plan{
		Overloaded:     hostNames(c.Overloaded),
		Underloaded:    hostNames(c.Underloaded),
		CurrentUsage:   NoUsageData,
		PredictedUsage: NoUsageData,
	}
}

// dropSources removes every migration leaving one of the given hosts.
func (p *Plan) dropSources(hosts []*domain.Host) {
	sources := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		sources[h.Name] = struct{}{}
	}

	kept := p.Migrations[:0]
	for _, m := range p.Migrations {
		if _, ok := sources[m.Source]; ok {
			p.Dropped++
			continue
		}
		kept = append(kept, m)
	}
	p.Migrations = kept
}
