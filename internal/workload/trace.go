// Package workload injects load and power events into the cluster from a trace.
package workload

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/limiquantix/drsim/internal/domain"
)

// Offset is a point in the trace relative to its start. It accepts a duration
// string ("90s") or a number of seconds.
type Offset time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (o *Offset) UnmarshalJSON(data []byte) error {
	var seconds float64
	if err := json.Unmarshal(data, &seconds); err == nil {
		*o = Offset(seconds * float64(time.Second))
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid offset %s: %w", data, err)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid offset %q: %w", s, err)
	}
	*o = Offset(d)
	return nil
}

// Duration returns the offset as a time.Duration.
func (o Offset) Duration() time.Duration {
	return time.Duration(o)
}

// Event is a single trace entry: either a VM demand change or a host power change.
type Event struct {
	At Offset `json:"at"`

	VM        string  `json:"vm,omitempty"`
	CPUDemand float64 `json:"cpu_demand,omitempty"`

	Host  string `json:"host,omitempty"`
	Power string `json:"power,omitempty"`
}

// IsLoad returns true for VM demand events.
func (e Event) IsLoad() bool {
	return e.VM != ""
}

// Trace is an ordered list of events.
type Trace struct {
	Events []Event `json:"events"`
}

// LoadTrace reads and validates a YAML trace file. Events are sorted by offset,
// keeping file order for equal offsets.
func LoadTrace(path string) (*Trace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trace file: %w", err)
	}

	var t Trace
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse trace file: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}

	sort.SliceStable(t.Events, func(i, j int) bool {
		return t.Events[i].At < t.Events[j].At
	})
	return &t, nil
}

// Validate checks that every event targets exactly one VM or host.
func (t *Trace) Validate() error {
	for i, e := range t.Events {
		switch {
		case e.VM != "" && e.Host != "":
			return fmt.Errorf("%w: event %d targets both vm %s and host %s", domain.ErrInvalidArgument, i, e.VM, e.Host)
		case e.VM != "":
			if e.CPUDemand < 0 {
				return fmt.Errorf("%w: event %d has negative cpu demand", domain.ErrInvalidArgument, i)
			}
		case e.Host != "":
			p := strings.ToLower(e.Power)
			if p != "on" && p != "off" {
				return fmt.Errorf("%w: event %d has power %q, want on or off", domain.ErrInvalidArgument, i, e.Power)
			}
		default:
			return fmt.Errorf("%w: event %d targets nothing", domain.ErrInvalidArgument, i)
		}
		if e.At < 0 {
			return fmt.Errorf("%w: event %d has a negative offset", domain.ErrInvalidArgument, i)
		}
	}
	return nil
}

// End returns the offset of the last event.
func (t *Trace) End() time.Duration {
	var end Offset
	for _, e := range t.Events {
		end = max(end, e.At)
	}
	return end.Duration()
}
