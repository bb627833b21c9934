package scheduler

import "github.com/limiquantix/drsim/internal/domain"

// NoUsageData is returned by AverageUsage when no host contributes a score.
const NoUsageData = -1.0

// Usage scores a host's occupancy in [0,1] as the maximum of its CPU and memory utilization.
func Usage(cpuCapacity, cpuDemand float64, memCapacity, memDemand int64) float64 {
	cpu := utilization(cpuCapacity, cpuDemand)
	mem := utilization(float64(memCapacity), float64(memDemand))
	return max(cpu, mem)
}

func utilization(capacity, demand float64) float64 {
	if capacity <= 0 {
		if demand > 0 {
			return 1
		}
		return 0
	}
	return 1 - (capacity-demand)/capacity
}

// HostUsage scores a host from its live demand.
func HostUsage(h *domain.Host) float64 {
	return Usage(h.CPUCapacity(), h.CPUDemand(), h.MemoryMiB, h.MemDemand())
}

// AverageUsage averages the live usage of the powered-on hosts.
func AverageUsage(hosts []*domain.Host) float64 {
	var sum float64
	var n int
	for _, h := range hosts {
		if h.IsOff() {
			continue
		}
		sum += HostUsage(h)
		n++
	}
	if n == 0 {
		return NoUsageData
	}
	return sum / float64(n)
}

// prediction is the projected demand of a host while a plan is being built.
type prediction struct {
	cpu float64
	mem int64
}

// predictions maps host names to their projected demand.
type predictions map[string]*prediction

func newPredictions(hosts []*domain.Host) predictions {
	p := make(predictions, len(hosts))
	for _, h := range hosts {
		p[h.Name] = &prediction{cpu: h.CPUDemand(), mem: h.MemDemand()}
	}
	return p
}

func (p predictions) usage(h *domain.Host) float64 {
	pr := p[h.Name]
	return Usage(h.CPUCapacity(), pr.cpu, h.MemoryMiB, pr.mem)
}

// average averages the predicted usage of the powered-on hosts. Hosts the plan
// empties contribute nothing.
func (p predictions) average(hosts []*domain.Host) float64 {
	var sum float64
	var n int
	for _, h := range hosts {
		if h.IsOff() {
			continue
		}
		u := p.usage(h)
		if u <= 0 {
			continue
		}
		sum += u
		n++
	}
	if n == 0 {
		return NoUsageData
	}
	return sum / float64(n)
}
