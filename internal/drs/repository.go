package drs

import (
	"context"

	"github.com/limiquantix/drsim/internal/domain"
)

// PassFilter narrows a history listing.
type PassFilter struct {
	// State keeps only passes in this state. Empty keeps every state.
	State domain.SchedulerState

	// Limit caps the number of results, newest first. 0 means no limit.
	Limit int
}

// HistoryRepository stores the results of past passes.
type HistoryRepository interface {
	Create(ctx context.Context, result *domain.SchedulerResult) error
	Get(ctx context.Context, id string) (*domain.SchedulerResult, error)
	List(ctx context.Context, filter PassFilter) ([]*domain.SchedulerResult, error)
}

// EventPublisher broadcasts pass results to external consumers.
type EventPublisher interface {
	PublishPass(ctx context.Context, result *domain.SchedulerResult) error
}

// LeaderChecker reports whether this instance may reconfigure the cluster.
type LeaderChecker interface {
	IsLeader() bool
}

// Cluster is the view of the cluster the control loop needs.
type Cluster interface {
	// HostingHosts returns a copy of the hosts able to run VMs, in canonical order.
	HostingHosts() []*domain.Host

	// EndOfInjection is closed when the workload injection has ended.
	EndOfInjection() <-chan struct{}
}

// SnapshotWriter records the hosts checked by each pass.
type SnapshotWriter interface {
	WriteSnapshot(pass int, hosts []*domain.Host)
}
