package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/limiquantix/drsim/internal/domain"
	"github.com/limiquantix/drsim/internal/drs"
)

func TestPassRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewPassRepository(10)

	result := &domain.SchedulerResult{
		Pass:       0,
		State:      domain.SchedulerStateSuccess,
		Migrations: []domain.Migration{{VM: "vm-1", Source: "node-1", Destination: "node-2"}},
	}
	if err := repo.Create(ctx, result); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if result.ID == "" {
		t.Fatal("Expected an ID to be assigned")
	}

	// Mutating the caller's copy must not leak into the store.
	result.Migrations[0].Destination = "node-3"

	got, err := repo.Get(ctx, result.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Migrations[0].Destination != "node-2" {
		t.Errorf("Stored result was mutated: %v", got.Migrations[0])
	}

	if err := repo.Create(ctx, &domain.SchedulerResult{ID: result.ID}); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("Expected ErrAlreadyExists, got %v", err)
	}
	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestPassRepository_Eviction(t *testing.T) {
	ctx := context.Background()
	repo := NewPassRepository(3)

	for i := 0; i < 5; i++ {
		if err := repo.Create(ctx, &domain.SchedulerResult{ID: fmt.Sprintf("pass-%d", i), Pass: i}); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	if repo.Count() != 3 {
		t.Fatalf("Expected 3 results, got %d", repo.Count())
	}
	if _, err := repo.Get(ctx, "pass-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Error("Expected pass-1 to be evicted")
	}

	list, _ := repo.List(ctx, drs.PassFilter{})
	want := []int{4, 3, 2}
	for i, r := range list {
		if r.Pass != want[i] {
			t.Errorf("Position %d: expected pass %d, got %d", i, want[i], r.Pass)
		}
	}
}

func TestPassRepository_ListFilter(t *testing.T) {
	ctx := context.Background()
	repo := NewPassRepository(0)

	states := []domain.SchedulerState{
		domain.SchedulerStateNoReconfigurationNeeded,
		domain.SchedulerStateSuccess,
		domain.SchedulerStateNoReconfigurationNeeded,
		domain.SchedulerStateSuccess,
		domain.SchedulerStateReconfigurationFailed,
	}
	for i, s := range states {
		_ = repo.Create(ctx, &domain.SchedulerResult{Pass: i, State: s})
	}

	success, _ := repo.List(ctx, drs.PassFilter{State: domain.SchedulerStateSuccess})
	if len(success) != 2 || success[0].Pass != 3 || success[1].Pass != 1 {
		t.Errorf("Unexpected filtered list: %+v", success)
	}

	limited, _ := repo.List(ctx, drs.PassFilter{Limit: 2})
	if len(limited) != 2 || limited[0].Pass != 4 {
		t.Errorf("Unexpected limited list: %+v", limited)
	}
}
