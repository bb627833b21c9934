// Package cluster holds the authoritative in-memory state of the simulated cluster.
package cluster

import (
	"fmt"
	"sync"
	"time"

	"github.com/elliotchance/orderedmap/v2"
	"go.uber.org/zap"

	"github.com/limiquantix/drsim/internal/domain"
	"github.com/limiquantix/drsim/internal/metrics"
)

// State is the live cluster: hosts in canonical order, VM placement, power states
// and in-flight migrations. All reads return copies.
type State struct {
	mu    sync.RWMutex
	hosts *orderedmap.OrderedMap[string, *domain.Host]
	vms   map[string]*domain.VirtualMachine

	// ongoing counts in-flight migrations touching each host.
	ongoing map[string]int

	hostCounters map[string]*HostCounters
	vmCounters   map[string]*VMCounters

	startedAt      time.Time
	endedAt        time.Time
	endOfInjection chan struct{}
	endOnce        sync.Once

	logger *zap.Logger
}

// NewState creates an empty cluster state.
func NewState(logger *zap.Logger) *State {
	return &State{
		hosts:          orderedmap.NewOrderedMap[string, *domain.Host](),
		vms:            make(map[string]*domain.VirtualMachine),
		ongoing:        make(map[string]int),
		hostCounters:   make(map[string]*HostCounters),
		vmCounters:     make(map[string]*VMCounters),
		startedAt:      time.Now(),
		endOfInjection: make(chan struct{}),
		logger:         logger.With(zap.String("component", "cluster")),
	}
}

// AddHost registers a host. Its VMs, if any, are placed on it in order.
func (s *State) AddHost(h *domain.Host) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h.Name == "" {
		return fmt.Errorf("%w: host name is required", domain.ErrInvalidArgument)
	}
	if _, exists := s.hosts.Get(h.Name); exists {
		return fmt.Errorf("host %s: %w", h.Name, domain.ErrAlreadyExists)
	}

	stored := h.Clone()
	if stored.Power == "" {
		stored.Power = domain.HostPowerOn
	}
	stored.VMs = nil
	s.hosts.Set(stored.Name, stored)
	s.hostCounters[stored.Name] = &HostCounters{}

	for _, vm := range h.VMs {
		if err := s.placeLocked(stored, vm); err != nil {
			return err
		}
	}
	return nil
}

// PlaceVM places a new VM on the named host.
func (s *State) PlaceVM(hostName string, vm *domain.VirtualMachine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.hosts.Get(hostName)
	if !ok {
		return fmt.Errorf("host %s: %w", hostName, domain.ErrNotFound)
	}
	return s.placeLocked(h, vm)
}

func (s *State) placeLocked(h *domain.Host, vm *domain.VirtualMachine) error {
	if !h.Hosting {
		return fmt.Errorf("%w: host %s does not run VMs", domain.ErrInvalidArgument, h.Name)
	}
	if _, exists := s.vms[vm.Name]; exists {
		return fmt.Errorf("vm %s: %w", vm.Name, domain.ErrAlreadyExists)
	}
	stored := vm.Clone()
	stored.HostName = h.Name
	stored.State = domain.VMStateRunning
	h.VMs = append(h.VMs, stored)
	s.vms[stored.Name] = stored
	s.vmCounters[stored.Name] = &VMCounters{}
	return nil
}

// Hosts returns a copy of every host in canonical order.
func (s *State) Hosts() []*domain.Host {
	return s.collect(func(*domain.Host) bool { return true })
}

// HostingHosts returns a copy of the hosts able to run VMs, in canonical order.
func (s *State) HostingHosts() []*domain.Host {
	return s.collect(func(h *domain.Host) bool { return h.Hosting })
}

// OnHostingHosts returns a copy of the powered-on hosting hosts, in canonical order.
func (s *State) OnHostingHosts() []*domain.Host {
	return s.collect(func(h *domain.Host) bool { return h.Hosting && h.IsOn() })
}

// Snapshot returns the planner's view of the cluster: every hosting host, deep copied.
func (s *State) Snapshot() []*domain.Host {
	return s.HostingHosts()
}

func (s *State) collect(keep func(*domain.Host) bool) []*domain.Host {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Host, 0, s.hosts.Len())
	for el := s.hosts.Front(); el != nil; el = el.Next() {
		if keep(el.Value) {
			result = append(result, el.Value.Clone())
		}
	}
	return result
}

// Host returns a copy of the named host.
func (s *State) Host(name string) (*domain.Host, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.hosts.Get(name)
	if !ok {
		return nil, fmt.Errorf("host %s: %w", name, domain.ErrNotFound)
	}
	return h.Clone(), nil
}

// VM returns a copy of the named VM.
func (s *State) VM(name string) (*domain.VirtualMachine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vm, ok := s.vms[name]
	if !ok {
		return nil, fmt.Errorf("vm %s: %w", name, domain.ErrNotFound)
	}
	return vm.Clone(), nil
}

// VMCount returns the number of VMs in the cluster.
func (s *State) VMCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vms)
}

// SetVMDemand updates the absolute CPU demand of a VM. Violations are tracked on
// powered-on hosts only; an off host just records the new demand.
func (s *State) SetVMDemand(name string, demand float64) error {
	if demand < 0 {
		return fmt.Errorf("%w: negative cpu demand %f", domain.ErrInvalidArgument, demand)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	vm, ok := s.vms[name]
	if !ok {
		return fmt.Errorf("vm %s: %w", name, domain.ErrNotFound)
	}

	h, _ := s.hosts.Get(vm.HostName)
	wasViable := h.IsViable()
	vm.CPUDemand = demand
	s.vmCounters[name].LoadChanges++

	if h.IsOff() {
		return nil
	}
	switch viable := h.IsViable(); {
	case wasViable && !viable:
		s.hostCounters[h.Name].Violations++
		metrics.RecordViolation()
		s.logger.Info("Starting violation",
			zap.String("host", h.Name),
			zap.String("vm", name),
			zap.Float64("cpu_demand", h.CPUDemand()),
			zap.Float64("cpu_capacity", h.CPUCapacity()),
		)
	case !wasViable && viable:
		s.logger.Info("Ending violation", zap.String("host", h.Name), zap.String("vm", name))
	}
	return nil
}

// TurnOn powers on a host. Turning on a host that is already on only logs a warning.
func (s *State) TurnOn(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.hosts.Get(name)
	if !ok {
		return fmt.Errorf("host %s: %w", name, domain.ErrNotFound)
	}
	if h.IsOn() {
		s.logger.Warn("Host is already on", zap.String("host", name))
		return nil
	}
	h.Power = domain.HostPowerOn
	s.logger.Info("Host turned on", zap.String("host", name))
	return nil
}

// TurnOff powers off a host. It is refused while a migration involves the host.
func (s *State) TurnOff(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.hosts.Get(name)
	if !ok {
		return fmt.Errorf("host %s: %w", name, domain.ErrNotFound)
	}
	if s.ongoing[name] > 0 {
		return fmt.Errorf("host %s has %d ongoing migrations: %w", name, s.ongoing[name], domain.ErrConflict)
	}
	if h.IsOff() {
		return nil
	}
	h.Power = domain.HostPowerOff
	s.hostCounters[name].TurnOffs++
	s.logger.Info("Host turned off", zap.String("host", name), zap.Int("vms", len(h.VMs)))
	return nil
}

// OngoingMigrations returns the number of in-flight migrations touching a host.
func (s *State) OngoingMigrations(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ongoing[name]
}

// StartMigration marks a VM as migrating between two hosts. The VM must run on
// the source and the source must be on.
func (s *State) StartMigration(m domain.Migration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	vm, ok := s.vms[m.VM]
	if !ok {
		return fmt.Errorf("vm %s: %w", m.VM, domain.ErrNotFound)
	}
	src, ok := s.hosts.Get(m.Source)
	if !ok {
		return fmt.Errorf("host %s: %w", m.Source, domain.ErrNotFound)
	}
	if _, ok := s.hosts.Get(m.Destination); !ok {
		return fmt.Errorf("host %s: %w", m.Destination, domain.ErrNotFound)
	}
	if vm.HostName != m.Source {
		return fmt.Errorf("%w: vm %s runs on %s, not %s", domain.ErrConflict, m.VM, vm.HostName, m.Source)
	}
	if vm.IsMigrating() {
		return fmt.Errorf("%w: vm %s is already migrating", domain.ErrConflict, m.VM)
	}
	if src.IsOff() {
		return fmt.Errorf("source %s: %w", m.Source, domain.ErrHostOff)
	}

	vm.State = domain.VMStateMigrating
	s.ongoing[m.Source]++
	s.ongoing[m.Destination]++
	return nil
}

// FinishMigration ends an in-flight migration. When completed is true the VM
// moves from the source to the destination in a single step.
func (s *State) FinishMigration(m domain.Migration, completed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	vm, ok := s.vms[m.VM]
	if !ok {
		return fmt.Errorf("vm %s: %w", m.VM, domain.ErrNotFound)
	}

	s.release(m.Source)
	s.release(m.Destination)
	vm.State = domain.VMStateRunning

	if !completed {
		return nil
	}

	src, _ := s.hosts.Get(m.Source)
	dst, ok := s.hosts.Get(m.Destination)
	if src == nil || !ok {
		return fmt.Errorf("migration %s: %w", m, domain.ErrNotFound)
	}
	if vm.HostName != m.Source {
		return fmt.Errorf("%w: vm %s left %s during migration", domain.ErrConflict, m.VM, m.Source)
	}

	srcWasViable := src.IsViable()
	for i, candidate := range src.VMs {
		if candidate.Name == m.VM {
			src.VMs = append(src.VMs[:i:i], src.VMs[i+1:]...)
			break
		}
	}
	dst.VMs = append(dst.VMs, vm)
	vm.HostName = dst.Name
	s.vmCounters[m.VM].Migrations++

	if !dst.IsViable() {
		s.hostCounters[dst.Name].ArtificialViolations++
		s.logger.Info("Artificial violation",
			zap.String("host", dst.Name),
			zap.String("vm", m.VM),
			zap.Float64("cpu_demand", dst.CPUDemand()),
			zap.Float64("cpu_capacity", dst.CPUCapacity()),
		)
	}
	if !srcWasViable && src.IsViable() {
		s.logger.Info("Ending violation", zap.String("host", src.Name), zap.String("vm", m.VM))
	}
	return nil
}

func (s *State) release(host string) {
	if s.ongoing[host] <= 1 {
		delete(s.ongoing, host)
		return
	}
	s.ongoing[host]--
}

// EndOfInjection returns a channel closed once the workload injection has ended.
func (s *State) EndOfInjection() <-chan struct{} {
	return s.endOfInjection
}

// InjectionEnded returns true once the workload injection has ended.
func (s *State) InjectionEnded() bool {
	select {
	case <-s.endOfInjection:
		return true
	default:
		return false
	}
}

// SignalEndOfInjection marks the end of the workload injection. Safe to call more than once.
func (s *State) SignalEndOfInjection() {
	s.endOnce.Do(func() {
		s.mu.Lock()
		s.endedAt = time.Now()
		s.mu.Unlock()
		close(s.endOfInjection)
		s.logger.Info("End of workload injection")
	})
}
