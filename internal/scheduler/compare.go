package scheduler

import (
	"cmp"
	"slices"

	"github.com/limiquantix/drsim/internal/domain"
)

// CompareVMs orders two VMs for bin-fit: load (when useLoad) or CPU demand first,
// then memory, both in the given direction, then name ascending.
func CompareVMs(a, b *domain.VirtualMachine, order Order, useLoad bool) int {
	factor := 1
	if order == OrderDecreasing {
		factor = -1
	}

	var c int
	if useLoad {
		c = cmp.Compare(a.Load(), b.Load())
	} else {
		c = cmp.Compare(a.CPUDemand, b.CPUDemand)
	}
	if c != 0 {
		return factor * c
	}
	if c = cmp.Compare(a.MemoryMiB, b.MemoryMiB); c != 0 {
		return factor * c
	}
	return cmp.Compare(a.Name, b.Name)
}

// SortVMs sorts VMs in place with CompareVMs.
func SortVMs(vms []*domain.VirtualMachine, order Order, useLoad bool) {
	slices.SortStableFunc(vms, func(a, b *domain.VirtualMachine) int {
		return CompareVMs(a, b, order, useLoad)
	})
}
