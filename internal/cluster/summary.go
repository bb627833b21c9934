package cluster

import (
	"time"

	"go.uber.org/zap"
)

// HostCounters tallies the events a host went through during the run.
type HostCounters struct {
	TurnOffs   int `json:"turn_offs"`
	Violations int `json:"violations"`

	// ArtificialViolations counts migrations that left their destination non-viable.
	ArtificialViolations int `json:"artificial_violations"`
}

// VMCounters tallies the events a VM went through during the run.
type VMCounters struct {
	LoadChanges int `json:"load_changes"`
	Migrations  int `json:"migrations"`
}

// HostSummary is the end-of-run view of a host.
type HostSummary struct {
	Name string `json:"name"`
	On   bool   `json:"on"`
	HostCounters
}

// VMSummary is the end-of-run view of a VM.
type VMSummary struct {
	Name string `json:"name"`
	Host string `json:"host"`
	VMCounters
}

// Summary reports the cluster counters in canonical order.
type Summary struct {
	HostsOn  int           `json:"hosts_on"`
	Hosts    []HostSummary `json:"hosts"`
	VMs      []VMSummary   `json:"vms"`
	Duration time.Duration `json:"duration"`
}

// HostCounters returns the counters of the named host.
func (s *State) HostCounters(name string) (HostCounters, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.hostCounters[name]
	if !ok {
		return HostCounters{}, false
	}
	return *c, true
}

// Summary returns every host and VM counter. Duration runs until the end of the
// injection, or until now while it is still going.
func (s *State) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	end := s.endedAt
	if end.IsZero() {
		end = time.Now()
	}
	sum := Summary{
		Hosts:    make([]HostSummary, 0, s.hosts.Len()),
		VMs:      make([]VMSummary, 0, len(s.vms)),
		Duration: end.Sub(s.startedAt),
	}

	for el := s.hosts.Front(); el != nil; el = el.Next() {
		h := el.Value
		if h.IsOn() {
			sum.HostsOn++
		}
		sum.Hosts = append(sum.Hosts, HostSummary{Name: h.Name, On: h.IsOn(), HostCounters: *s.hostCounters[h.Name]})
		for _, vm := range h.VMs {
			sum.VMs = append(sum.VMs, VMSummary{Name: vm.Name, Host: h.Name, VMCounters: *s.vmCounters[vm.Name]})
		}
	}
	return sum
}

// LogSummary writes the summary at Info level, one line per host and VM.
func (s *State) LogSummary() {
	sum := s.Summary()

	s.logger.Info("Hosts up",
		zap.Int("on", sum.HostsOn),
		zap.Int("total", len(sum.Hosts)),
	)
	for _, h := range sum.Hosts {
		s.logger.Info("Host summary",
			zap.String("host", h.Name),
			zap.Int("turn_offs", h.TurnOffs),
			zap.Int("violations", h.Violations),
			zap.Int("artificial_violations", h.ArtificialViolations),
		)
	}
	for i, vm := range sum.VMs {
		s.logger.Info("VM summary",
			zap.Int("index", i+1),
			zap.Int("total", len(sum.VMs)),
			zap.String("vm", vm.Name),
			zap.String("host", vm.Host),
			zap.Int("load_changes", vm.LoadChanges),
			zap.Int("migrations", vm.Migrations),
		)
	}
	s.logger.Info("Simulation duration", zap.Duration("duration", sum.Duration))
}
