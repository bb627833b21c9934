package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/limiquantix/drsim/internal/domain"
	"github.com/limiquantix/drsim/internal/drs"
)

// Ensure PassRepository implements drs.HistoryRepository
var _ drs.HistoryRepository = (*PassRepository)(nil)

// PassRepository stores pass results in the scheduler_passes and pass_migrations tables.
type PassRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPassRepository creates a new PostgreSQL pass repository.
func NewPassRepository(db *DB, logger *zap.Logger) *PassRepository {
	return &PassRepository{
		db:     db,
		logger: logger.With(zap.String("repository", "scheduler_passes")),
	}
}

// passDetails holds the columns stored as JSONB.
type passDetails struct {
	Overloaded  []string                `json:"overloaded"`
	Underloaded []string                `json:"underloaded"`
	PoweredOff  []string                `json:"powered_off"`
	Outcome     domain.ExecutionOutcome `json:"outcome"`
}

// Create stores a pass result and its migrations in one transaction.
func (r *PassRepository) Create(ctx context.Context, result *domain.SchedulerResult) error {
	if result.ID == "" {
		result.ID = uuid.New().String()
	}

	details, err := json.Marshal(passDetails{
		Overloaded:  result.Overloaded,
		Underloaded: result.Underloaded,
		PoweredOff:  result.PoweredOff,
		Outcome:     result.Outcome,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal pass details: %w", err)
	}

	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO scheduler_passes (
			id, instance_id, pass, algorithm, state, hosts_checked,
			planning_duration_ms, execution_duration_ms, details, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		result.ID,
		result.InstanceID,
		result.Pass,
		result.Algorithm,
		string(result.State),
		result.HostsChecked,
		result.PlanningDuration.Milliseconds(),
		result.ExecutionDuration.Milliseconds(),
		details,
		result.StartedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		r.logger.Error("Failed to create pass", zap.String("pass_id", result.ID), zap.Error(err))
		return fmt.Errorf("failed to insert pass: %w", err)
	}

	batch := &pgx.Batch{}
	for i, m := range result.Migrations {
		batch.Queue(`
			INSERT INTO pass_migrations (pass_id, position, vm, source_host, destination_host)
			VALUES ($1, $2, $3, $4, $5)
		`, result.ID, i, m.VM, m.Source, m.Destination)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert pass migrations: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit pass: %w", err)
	}

	r.logger.Debug("Stored pass", zap.String("pass_id", result.ID), zap.Int("pass", result.Pass))
	return nil
}

// Get retrieves a pass result by ID.
func (r *PassRepository) Get(ctx context.Context, id string) (*domain.SchedulerResult, error) {
	row := r.db.pool.QueryRow(ctx, selectPasses+" WHERE id = $1", id)

	result, err := scanPass(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get pass: %w", err)
	}

	if err := r.loadMigrations(ctx, []*domain.SchedulerResult{result}); err != nil {
		return nil, err
	}
	return result, nil
}

const selectPasses = `SELECT id, instance_id, pass, algorithm, state, hosts_checked,
	planning_duration_ms, execution_duration_ms, details, started_at
	FROM scheduler_passes`

const selectMigrations = `SELECT pass_id, vm, source_host, destination_host
	FROM pass_migrations
	WHERE pass_id = ANY($1)
	ORDER BY pass_id, position`

// buildListQuery returns the pass listing for filter with its positional arguments.
func buildListQuery(filter drs.PassFilter) (string, []interface{}) {
	var b strings.Builder
	b.WriteString(selectPasses)
	args := []interface{}{}

	if filter.State != "" {
		args = append(args, string(filter.State))
		fmt.Fprintf(&b, " WHERE state = $%d", len(args))
	}

	b.WriteString(" ORDER BY started_at DESC, pass DESC")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	return b.String(), args
}

// indexPasses keys results by ID and returns the IDs in order, for the ANY($1)
// migration lookup.
func indexPasses(results []*domain.SchedulerResult) (map[string]*domain.SchedulerResult, []string) {
	byID := make(map[string]*domain.SchedulerResult, len(results))
	ids := make([]string, 0, len(results))
	for _, result := range results {
		if _, dup := byID[result.ID]; dup {
			continue
		}
		byID[result.ID] = result
		ids = append(ids, result.ID)
	}
	return byID, ids
}

// List returns pass results matching the filter, newest first.
func (r *PassRepository) List(ctx context.Context, filter drs.PassFilter) ([]*domain.SchedulerResult, error) {
	query, args := buildListQuery(filter)
	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list passes: %w", err)
	}
	defer rows.Close()

	var results []*domain.SchedulerResult
	for rows.Next() {
		result, err := scanPass(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pass: %w", err)
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list passes: %w", err)
	}

	if err := r.loadMigrations(ctx, results); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *PassRepository) loadMigrations(ctx context.Context, results []*domain.SchedulerResult) error {
	if len(results) == 0 {
		return nil
	}

	byID, ids := indexPasses(results)
	rows, err := r.db.pool.Query(ctx, selectMigrations, ids)
	if err != nil {
		return fmt.Errorf("failed to load pass migrations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var passID string
		var m domain.Migration
		if err := rows.Scan(&passID, &m.VM, &m.Source, &m.Destination); err != nil {
			return fmt.Errorf("failed to scan pass migration: %w", err)
		}
		if result, ok := byID[passID]; ok {
			result.Migrations = append(result.Migrations, m)
		}
	}
	return rows.Err()
}

func scanPass(row pgx.Row) (*domain.SchedulerResult, error) {
	result := &domain.SchedulerResult{}
	var state string
	var planningMs, executionMs int64
	var detailsJSON []byte

	err := row.Scan(
		&result.ID,
		&result.InstanceID,
		&result.Pass,
		&result.Algorithm,
		&state,
		&result.HostsChecked,
		&planningMs,
		&executionMs,
		&detailsJSON,
		&result.StartedAt,
	)
	if err != nil {
		return nil, err
	}

	result.State = domain.SchedulerState(state)
	result.PlanningDuration = msToDuration(planningMs)
	result.ExecutionDuration = msToDuration(executionMs)

	if len(detailsJSON) > 0 {
		var details passDetails
		if err := json.Unmarshal(detailsJSON, &details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pass details: %w", err)
		}
		result.Overloaded = details.Overloaded
		result.Underloaded = details.Underloaded
		result.PoweredOff = details.PoweredOff
		result.Outcome = details.Outcome
	}

	return result, nil
}

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
