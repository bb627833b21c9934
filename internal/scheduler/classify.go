package scheduler

import "github.com/limiquantix/drsim/internal/domain"

// Classification partitions hosts for a pass. Both lists keep input order and are disjoint.
type Classification struct {
	Overloaded  []*domain.Host
	Underloaded []*domain.Host
}

// IsEmpty returns true if no host needs attention.
func (c Classification) IsEmpty() bool {
	return len(c.Overloaded) == 0 && len(c.Underloaded) == 0
}

// Classify recomputes demand for each host and splits them into overloaded and
// underloaded sets. Consolidation is never attempted on the first pass.
func Classify(hosts []*domain.Host, pass int, underloadedUsage float64) Classification {
	var c Classification
	for _, h := range hosts {
		if !h.Hosting || h.IsOff() {
			continue
		}
		switch {
		case isOverloaded(h):
			c.Overloaded = append(c.Overloaded, h)
		case pass > 0 && isUnderloaded(h, underloadedUsage):
			c.Underloaded = append(c.Underloaded, h)
		}
	}
	return c
}

func isOverloaded(h *domain.Host) bool {
	return h.CPUCapacity() < h.CPUDemand() || h.MemoryMiB < h.MemDemand()
}

func isUnderloaded(h *domain.Host, limit float64) bool {
	return h.CPUCapacity() > h.CPUDemand() && HostUsage(h) < limit
}

func hostNames(hosts []*domain.Host) []string {
	if len(hosts) == 0 {
		return nil
	}
	names := make([]string, len(hosts))
	for i, h := range hosts {
		names[i] = h.Name
	}
	return names
}
