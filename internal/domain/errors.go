// Package domain contains domain models and business logic errors.
package domain

import "errors"

// Common domain errors
var (
	// ErrNotFound is returned when a requested resource is not found.
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists is returned when trying to create a resource that already exists.
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInvalidArgument is returned when an invalid argument is provided.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrConflict is returned when there's a conflict with current state.
	ErrConflict = errors.New("conflict with current state")

	// ErrHostOff is returned when an operation needs a powered-on host.
	ErrHostOff = errors.New("host is powered off")
)

// Scheduling errors
var (
	// ErrPlanningInfeasible is returned when no destination host fits a VM during bin-fit.
	ErrPlanningInfeasible = errors.New("no viable placement")

	// ErrMigrationFailed is returned when a relocation did not complete.
	ErrMigrationFailed = errors.New("migration failed")

	// ErrStuckExecution is returned when migrations are still outstanding after the
	// workload injection has ended. It is fatal for the control loop.
	ErrStuckExecution = errors.New("reconfiguration stuck waiting for migrations")
)
