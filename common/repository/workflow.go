package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/simstudio/runner/common/cache"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrVersionConflict is returned when an optimistic-concurrency check
// fails during a workflow state update.
var ErrVersionConflict = errors.New("workflow version conflict")

// Querier is the subset of pgxpool.Pool used by repositories. Satisfied
// by *pgxpool.Pool and by pgxmock for tests.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// WorkflowRecord is the persisted workflow row handed to the serializer.
// State is the raw editor representation (blocks, connections, loops,
// parallels); the engine never writes it back.
type WorkflowRecord struct {
	ID      string
	OwnerID string
	Name    string
	Version int
	State   json.RawMessage
}

// WorkflowRepository loads and updates workflow state.
type WorkflowRepository struct {
	db       Querier
	cache    *cache.Store
	cacheTTL time.Duration
}

// NewWorkflowRepository creates a workflow repository.
func NewWorkflowRepository(db Querier) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

// WithCache serves repeated loads from an in-memory TTL cache. Updates
// through this repository invalidate the cached record.
func (r *WorkflowRepository) WithCache(store *cache.Store, ttl time.Duration) *WorkflowRepository {
	r.cache = store
	r.cacheTTL = ttl
	return r
}

func workflowKey(id string) string { return "workflow:" + id }

// LoadWorkflow returns the workflow state for the given id.
func (r *WorkflowRepository) LoadWorkflow(ctx context.Context, id string) (*WorkflowRecord, error) {
	if r.cache != nil {
		if v, ok := r.cache.Get(workflowKey(id)); ok {
			return v.(*WorkflowRecord), nil
		}
	}

	var rec WorkflowRecord
	err := r.db.QueryRow(ctx,
		`SELECT id, owner_id, name, version, state FROM workflows WHERE id = $1`,
		id,
	).Scan(&rec.ID, &rec.OwnerID, &rec.Name, &rec.Version, &rec.State)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load workflow %s: %w", id, err)
	}

	if r.cache != nil {
		r.cache.Set(workflowKey(id), &rec, r.cacheTTL)
	}
	return &rec, nil
}

// UpdateWorkflowState replaces the workflow state if the caller holds the
// expected version. Returns ErrVersionConflict on a concurrent update.
func (r *WorkflowRepository) UpdateWorkflowState(ctx context.Context, id string, expectedVersion int, state json.RawMessage) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE workflows SET state = $1, version = version + 1, updated_at = now()
		 WHERE id = $2 AND version = $3`,
		state, id, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update workflow %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("workflow %s at version %d: %w", id, expectedVersion, ErrVersionConflict)
	}

	if r.cache != nil {
		r.cache.Delete(workflowKey(id))
	}
	return nil
}
