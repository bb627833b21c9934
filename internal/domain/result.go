package domain

import "time"

// =============================================================================
// SCHEDULER RESULTS
// =============================================================================

// SchedulerState is the terminal outcome of a single scheduling pass.
type SchedulerState string

const (
	SchedulerStateNoReconfigurationNeeded SchedulerState = "NO_RECONFIGURATION_NEEDED"
	SchedulerStateSuccess                 SchedulerState = "SUCCESS"
	SchedulerStateReconfigurationFailed   SchedulerState = "RECONFIGURATION_FAILED"
	SchedulerStatePlanAborted             SchedulerState = "RECONFIGURATION_PLAN_ABORTED"
)

// SchedulerResult describes one scheduling pass.
type SchedulerResult struct {
	ID         string         `json:"id"`
	InstanceID string         `json:"instance_id"`
	Pass       int            `json:"pass"`
	Algorithm  string         `json:"algorithm"`
	State      SchedulerState `json:"state"`

	PlanningDuration  time.Duration `json:"planning_duration"`
	ExecutionDuration time.Duration `json:"execution_duration"`

	HostsChecked int              `json:"hosts_checked"`
	Overloaded   []string         `json:"overloaded,omitempty"`
	Underloaded  []string         `json:"underloaded,omitempty"`
	Migrations   []Migration      `json:"migrations,omitempty"`
	Outcome      ExecutionOutcome `json:"outcome"`
	PoweredOff   []string         `json:"powered_off,omitempty"`

	StartedAt time.Time `json:"started_at"`
}

// Duration returns the total planning and execution time of the pass.
func (r *SchedulerResult) Duration() time.Duration {
	return r.PlanningDuration + r.ExecutionDuration
}

// Reconfigured returns true if the pass executed a plan.
func (r *SchedulerResult) Reconfigured() bool {
	return r.State == SchedulerStateSuccess || r.State == SchedulerStatePlanAborted
}
