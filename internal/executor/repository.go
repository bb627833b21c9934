package executor

import (
	"context"

	"github.com/limiquantix/drsim/internal/domain"
)

// ClusterState defines the cluster-state operations needed to apply a plan.
type ClusterState interface {
	// Host returns a copy of the named host.
	Host(name string) (*domain.Host, error)

	// TurnOn powers on a host.
	TurnOn(name string) error

	// StartMigration marks a VM as migrating.
	StartMigration(m domain.Migration) error

	// FinishMigration ends a migration, moving the VM when completed is true.
	FinishMigration(m domain.Migration, completed bool) error

	// EndOfInjection is closed once the workload injection has ended.
	EndOfInjection() <-chan struct{}
}

// Relocator performs the actual relocation of a VM. It must not be cancelled
// once started; implementations return domain.ErrMigrationFailed on failure.
type Relocator interface {
	Relocate(ctx context.Context, m domain.Migration) error
}
