package domain

import (
	"fmt"
	"time"
)

// Migration is a planned relocation of a VM from a source host to a destination host.
// Migrations of a plan are independent of each other.
type Migration struct {
	VM          string `json:"vm"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

// String renders the migration the way the plan log records it.
func (m Migration) String() string {
	return fmt.Sprintf("[Migration %s: %s -> %s]", m.VM, m.Source, m.Destination)
}

// ExecutionOutcome summarizes the execution of a reconfiguration plan.
type ExecutionOutcome struct {
	Issued    int           `json:"issued"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	PoweredOn []string      `json:"powered_on,omitempty"`
	Aborted   bool          `json:"aborted"`
	Duration  time.Duration `json:"duration"`
}
