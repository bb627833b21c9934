// Package memory provides in-memory repository implementations for development and testing.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/limiquantix/drsim/internal/domain"
	"github.com/limiquantix/drsim/internal/drs"
)

// Ensure PassRepository implements drs.HistoryRepository
var _ drs.HistoryRepository = (*PassRepository)(nil)

// PassRepository is a bounded in-memory history of pass results. When full, the
// oldest result is evicted.
type PassRepository struct {
	mu       sync.RWMutex
	capacity int
	order    []string
	data     map[string]*domain.SchedulerResult
}

// NewPassRepository creates a history keeping at most capacity results.
// A capacity <= 0 keeps everything.
func NewPassRepository(capacity int) *PassRepository {
	return &PassRepository{
		capacity: capacity,
		data:     make(map[string]*domain.SchedulerResult),
	}
}

// Create stores a pass result.
func (r *PassRepository) Create(ctx context.Context, result *domain.SchedulerResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if result.ID == "" {
		result.ID = uuid.New().String()
	}
	if _, ok := r.data[result.ID]; ok {
		return domain.ErrAlreadyExists
	}

	r.data[result.ID] = cloneResult(result)
	r.order = append(r.order, result.ID)

	if r.capacity > 0 && len(r.order) > r.capacity {
		evicted := r.order[0]
		r.order = r.order[1:]
		delete(r.data, evicted)
	}

	return nil
}

// Get retrieves a pass result by ID.
func (r *PassRepository) Get(ctx context.Context, id string) (*domain.SchedulerResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result, ok := r.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}

	return cloneResult(result), nil
}

// List returns pass results matching the filter, newest first.
func (r *PassRepository) List(ctx context.Context, filter drs.PassFilter) ([]*domain.SchedulerResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*domain.SchedulerResult
	for i := len(r.order) - 1; i >= 0; i-- {
		result := r.data[r.order[i]]
		if filter.State != "" && result.State != filter.State {
			continue
		}
		results = append(results, cloneResult(result))
		if filter.Limit > 0 && len(results) == filter.Limit {
			break
		}
	}

	return results, nil
}

// Count returns the number of stored results.
func (r *PassRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func cloneResult(r *domain.SchedulerResult) *domain.SchedulerResult {
	clone := *r
	clone.Overloaded = slices.Clone(r.Overloaded)
	clone.Underloaded = slices.Clone(r.Underloaded)
	clone.Migrations = slices.Clone(r.Migrations)
	clone.PoweredOff = slices.Clone(r.PoweredOff)
	clone.Outcome.PoweredOn = slices.Clone(r.Outcome.PoweredOn)
	return &clone
}
