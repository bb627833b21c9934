package executor_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/limiquantix/drsim/internal/cluster"
	"github.com/limiquantix/drsim/internal/domain"
	"github.com/limiquantix/drsim/internal/executor"
)

// fakeRelocator completes relocations after an optional delay or release signal.
type fakeRelocator struct {
	mu         sync.Mutex
	failVMs    map[string]bool
	release    chan struct{}
	delay      time.Duration
	running    int
	maxRunning int
	calls      []string
}

func newFakeRelocator() *fakeRelocator {
	return &fakeRelocator{failVMs: make(map[string]bool)}
}

func (r *fakeRelocator) Relocate(ctx context.Context, m domain.Migration) error {
	r.mu.Lock()
	r.calls = append(r.calls, m.VM)
	r.running++
	if r.running > r.maxRunning {
		r.maxRunning = r.running
	}
	release := r.release
	fail := r.failVMs[m.VM]
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running--
		r.mu.Unlock()
	}()

	if release != nil {
		<-release
	}
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if fail {
		return fmt.Errorf("vm %s: %w", m.VM, domain.ErrMigrationFailed)
	}
	return nil
}

func (r *fakeRelocator) MaxRunning() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxRunning
}

func newState() *cluster.State {
	state := cluster.NewState(zap.NewNop())
	hosts := []*domain.Host{
		{Name: "node-1", Cores: 1, CoreRate: 100, MemoryMiB: 1000, Hosting: true, Power: domain.HostPowerOn,
			VMs: []*domain.VirtualMachine{
				{Name: "vm-1", Cores: 1, CoreRate: 100, MemoryMiB: 100, CPUDemand: 60},
				{Name: "vm-2", Cores: 1, CoreRate: 100, MemoryMiB: 100, CPUDemand: 30},
				{Name: "vm-3", Cores: 1, CoreRate: 100, MemoryMiB: 100, CPUDemand: 30},
			}},
		{Name: "node-2", Cores: 1, CoreRate: 100, MemoryMiB: 1000, Hosting: true, Power: domain.HostPowerOn},
		{Name: "node-3", Cores: 1, CoreRate: 100, MemoryMiB: 1000, Hosting: true, Power: domain.HostPowerOff},
	}
	for _, h := range hosts {
		Expect(state.AddHost(h)).To(Succeed())
	}
	return state
}

func hostOf(state *cluster.State, vm string) string {
	v, err := state.VM(vm)
	Expect(err).ToNot(HaveOccurred())
	return v.HostName
}

var _ = Describe("Executor", func() {
	var (
		state     *cluster.State
		relocator *fakeRelocator
		config    executor.Config
	)

	BeforeEach(func() {
		state = newState()
		relocator = newFakeRelocator()
		config = executor.Config{PollInterval: time.Millisecond, WatchdogTicks: 5}
	})

	It("Will move ownership of every relocated VM", func() {
		exec := executor.New(state, relocator, config, zap.NewNop())

		outcome, err := exec.Execute(context.Background(), []domain.Migration{
			{VM: "vm-1", Source: "node-1", Destination: "node-2"},
			{VM: "vm-2", Source: "node-1", Destination: "node-2"},
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(outcome.Issued).To(Equal(2))
		Expect(outcome.Succeeded).To(Equal(2))
		Expect(outcome.Aborted).To(BeFalse())

		Expect(hostOf(state, "vm-1")).To(Equal("node-2"))
		Expect(hostOf(state, "vm-2")).To(Equal("node-2"))

		src, err := state.Host("node-1")
		Expect(err).ToNot(HaveOccurred())
		Expect(src.VMCount()).To(Equal(1))
		Expect(exec.Ongoing()).To(BeZero())
		Expect(exec.MigratingVMs()).To(BeEmpty())
	})

	It("Will mark the plan aborted when a relocation fails", func() {
		relocator.failVMs["vm-2"] = true
		exec := executor.New(state, relocator, config, zap.NewNop())

		outcome, err := exec.Execute(context.Background(), []domain.Migration{
			{VM: "vm-1", Source: "node-1", Destination: "node-2"},
			{VM: "vm-2", Source: "node-1", Destination: "node-2"},
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(outcome.Aborted).To(BeTrue())
		Expect(outcome.Succeeded).To(Equal(1))
		Expect(outcome.Failed).To(Equal(1))

		Expect(hostOf(state, "vm-1")).To(Equal("node-2"))
		Expect(hostOf(state, "vm-2")).To(Equal("node-1"))
	})

	It("Will power on a destination host that is off", func() {
		exec := executor.New(state, relocator, config, zap.NewNop())

		outcome, err := exec.Execute(context.Background(), []domain.Migration{
			{VM: "vm-1", Source: "node-1", Destination: "node-3"},
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(outcome.PoweredOn).To(ConsistOf("node-3"))

		dst, err := state.Host("node-3")
		Expect(err).ToNot(HaveOccurred())
		Expect(dst.IsOn()).To(BeTrue())
		Expect(dst.HasVM("vm-1")).To(BeTrue())
	})

	It("Will skip migrations whose source host is off", func() {
		Expect(state.TurnOff("node-1")).To(Succeed())
		exec := executor.New(state, relocator, config, zap.NewNop())

		outcome, err := exec.Execute(context.Background(), []domain.Migration{
			{VM: "vm-1", Source: "node-1", Destination: "node-2"},
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(outcome.Skipped).To(Equal(1))
		Expect(outcome.Issued).To(BeZero())
		Expect(relocator.calls).To(BeEmpty())
		Expect(hostOf(state, "vm-1")).To(Equal("node-1"))
	})

	It("Will refuse to power off a host while it is migrating", func() {
		relocator.release = make(chan struct{})
		exec := executor.New(state, relocator, config, zap.NewNop())

		done := make(chan error, 1)
		go func() {
			_, err := exec.Execute(context.Background(), []domain.Migration{
				{VM: "vm-1", Source: "node-1", Destination: "node-2"},
			})
			done <- err
		}()

		Eventually(exec.Ongoing).Should(Equal(int64(1)))
		Expect(exec.MigratingVMs()).To(ConsistOf("vm-1"))
		Expect(state.TurnOff("node-2")).To(MatchError(domain.ErrConflict))

		close(relocator.release)
		Eventually(done).Should(Receive(BeNil()))
		Expect(state.TurnOff("node-1")).To(Succeed())
	})

	It("Will keep waiting while the injection is running", func() {
		relocator.release = make(chan struct{})
		exec := executor.New(state, relocator, config, zap.NewNop())

		done := make(chan error, 1)
		go func() {
			_, err := exec.Execute(context.Background(), []domain.Migration{
				{VM: "vm-1", Source: "node-1", Destination: "node-2"},
			})
			done <- err
		}()

		Consistently(done, 50*time.Millisecond).ShouldNot(Receive())
		close(relocator.release)
		Eventually(done).Should(Receive(BeNil()))
	})

	It("Will fail with a stuck execution error after the end of injection", func() {
		relocator.release = make(chan struct{})
		defer close(relocator.release)
		state.SignalEndOfInjection()
		exec := executor.New(state, relocator, config, zap.NewNop())

		outcome, err := exec.Execute(context.Background(), []domain.Migration{
			{VM: "vm-1", Source: "node-1", Destination: "node-2"},
		})
		Expect(err).To(MatchError(domain.ErrStuckExecution))
		Expect(outcome.Issued).To(Equal(1))
		Expect(exec.MigratingVMs()).To(ConsistOf("vm-1"))
	})

	It("Will cap the number of concurrent relocations", func() {
		relocator.delay = 5 * time.Millisecond
		config.MaxConcurrentMigrations = 1
		exec := executor.New(state, relocator, config, zap.NewNop())

		outcome, err := exec.Execute(context.Background(), []domain.Migration{
			{VM: "vm-1", Source: "node-1", Destination: "node-2"},
			{VM: "vm-2", Source: "node-1", Destination: "node-2"},
			{VM: "vm-3", Source: "node-1", Destination: "node-3"},
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(outcome.Succeeded).To(Equal(3))
		Expect(relocator.MaxRunning()).To(Equal(1))
	})
})
