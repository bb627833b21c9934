package scheduler

import (
	"context"

	"github.com/limiquantix/drsim/internal/domain"
)

// PowerController defines the cluster-state operations needed after a reconfiguration.
type PowerController interface {
	// OnHostingHosts returns the powered-on hosts able to run VMs.
	OnHostingHosts() []*domain.Host

	// TurnOff powers off a host. It fails while a migration involves the host.
	TurnOff(name string) error

	// Snapshot returns a copy of every hosting host.
	Snapshot() []*domain.Host
}

// Executor applies a committed reconfiguration plan.
type Executor interface {
	// Execute issues every migration and waits for all of them to finish.
	Execute(ctx context.Context, plan []domain.Migration) (domain.ExecutionOutcome, error)
}

// PlanLogger persists reconfiguration artifacts. Implementations swallow I/O errors.
type PlanLogger interface {
	// WritePlan records the committed migrations of a scheduler instance.
	WritePlan(instanceID string, migrations []domain.Migration)

	// WriteConfiguration dumps the cluster configuration after a pass.
	WriteConfiguration(pass int, instanceID string, hosts []*domain.Host)
}

// Planner computes a migration plan from a snapshot of hosts.
type Planner interface {
	// Name identifies the algorithm.
	Name() string

	// ComputePlan classifies the hosts and returns the committed plan.
	// It returns domain.ErrPlanningInfeasible when a VM fits nowhere.
	ComputePlan(hosts []*domain.Host, pass int) (*Plan, error)
}
