package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"crm_pipeline_backend/internal/pipeline/domain"
	"crm_pipeline_backend/platform/apperr"
)

const (
	stageNotFoundMessage  = "pipeline stage not found"
	actionNotFoundMessage = "pipeline action not found"
	uniqueViolationCode   = "23505"
)

// Repo implements the Repository interface with PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new pipeline repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// Compile-time check that Repo implements Repository.
var _ Repository = (*Repo)(nil)

// querier is satisfied by both pgxpool.Pool and pgx.Tx so stage writes can
// run standalone or inside the resolve transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const stageColumns = `entity_type, entity_id, current_stage, stage_entered_at, version, hiring_code_id, created_at, updated_at`

// GetStage retrieves the authoritative stage record for an opportunity.
func (r *Repo) GetStage(ctx context.Context, ref domain.EntityRef) (domain.PipelineStage, error) {
	return getStage(ctx, r.pool, ref)
}

func getStage(ctx context.Context, q querier, ref domain.EntityRef) (domain.PipelineStage, error) {
	query := `
		SELECT ` + stageColumns + `
		FROM pipeline_stages
		WHERE entity_type = $1 AND entity_id = $2`

	st, err := scanStage(q.QueryRow(ctx, query, ref.EntityType, ref.EntityID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PipelineStage{}, apperr.NotFound(stageNotFoundMessage)
		}
		return domain.PipelineStage{}, fmt.Errorf("get pipeline stage: %w", err)
	}
	return st, nil
}

// AdvanceStage performs the version-checked stage write in its own transaction.
func (r *Repo) AdvanceStage(ctx context.Context, params AdvanceStageParams) (domain.PipelineStage, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.PipelineStage{}, fmt.Errorf("begin advance stage: %w", err)
	}
	defer tx.Rollback(ctx)

	st, err := advanceStage(ctx, tx, params)
	if err != nil {
		return domain.PipelineStage{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.PipelineStage{}, fmt.Errorf("commit advance stage: %w", err)
	}
	return st, nil
}

// advanceStage applies the compare-and-swap write plus the history append.
// Version zero inserts the first row for the opportunity.
func advanceStage(ctx context.Context, q querier, params AdvanceStageParams) (domain.PipelineStage, error) {
	var (
		st  domain.PipelineStage
		err error
	)

	if params.ExpectedVersion == 0 {
		// A fresh opportunity is implicitly agent_initial; a first write
		// claiming any other fromStage fails the same way a version
		// mismatch does.
		if params.FromStage != domain.StageAgentInitial {
			return domain.PipelineStage{}, apperr.Wrap(apperr.KindConflict, "stage was modified concurrently", domain.ErrStaleVersion)
		}
		insert := `
			INSERT INTO pipeline_stages (entity_type, entity_id, current_stage, stage_entered_at, version, hiring_code_id)
			VALUES ($1, $2, $3, now(), 1, $4)
			ON CONFLICT (entity_type, entity_id) DO NOTHING
			RETURNING ` + stageColumns
		st, err = scanStage(q.QueryRow(ctx, insert, params.Ref.EntityType, params.Ref.EntityID, params.ToStage, params.HiringCodeID))
	} else {
		update := `
			UPDATE pipeline_stages
			SET current_stage = $1,
				stage_entered_at = now(),
				version = version + 1,
				hiring_code_id = COALESCE($2, hiring_code_id),
				updated_at = now()
			WHERE entity_type = $3 AND entity_id = $4
				AND current_stage = $5 AND version = $6
			RETURNING ` + stageColumns
		st, err = scanStage(q.QueryRow(ctx, update,
			params.ToStage, params.HiringCodeID,
			params.Ref.EntityType, params.Ref.EntityID,
			params.FromStage, params.ExpectedVersion,
		))
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// A concurrent writer got there first: the caller must re-read.
			return domain.PipelineStage{}, apperr.Wrap(apperr.KindConflict, "stage was modified concurrently", domain.ErrStaleVersion)
		}
		return domain.PipelineStage{}, fmt.Errorf("advance pipeline stage: %w", err)
	}

	history := `
		INSERT INTO pipeline_stage_transitions (id, entity_type, entity_id, from_stage, to_stage, triggered_by, actor_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := q.Exec(ctx, history,
		uuid.New(), params.Ref.EntityType, params.Ref.EntityID,
		params.FromStage, params.ToStage, params.TriggeredBy, params.ActorID,
	); err != nil {
		return domain.PipelineStage{}, fmt.Errorf("append stage transition: %w", err)
	}

	return st, nil
}

// ListTransitions returns the transition history, oldest first.
func (r *Repo) ListTransitions(ctx context.Context, ref domain.EntityRef) ([]domain.StageTransition, error) {
	query := `
		SELECT id, entity_type, entity_id, from_stage, to_stage, triggered_by, actor_id, occurred_at
		FROM pipeline_stage_transitions
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY occurred_at ASC`

	rows, err := r.pool.Query(ctx, query, ref.EntityType, ref.EntityID)
	if err != nil {
		return nil, fmt.Errorf("list stage transitions: %w", err)
	}
	defer rows.Close()

	var transitions []domain.StageTransition
	for rows.Next() {
		var t domain.StageTransition
		if err := rows.Scan(&t.ID, &t.EntityType, &t.EntityID, &t.FromStage, &t.ToStage, &t.TriggeredBy, &t.ActorID, &t.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan stage transition: %w", err)
		}
		transitions = append(transitions, t)
	}
	return transitions, rows.Err()
}

const actionColumns = `id, entity_type, entity_id, action_type, status, action_data, notes, created_by, created_at, validated_by, validated_at`

// CreateAction inserts a new pending ledger entry. The partial unique index
// on (entity_type, entity_id, action_type) WHERE status = 'pending' enforces
// the at-most-one-pending invariant under concurrency.
func (r *Repo) CreateAction(ctx context.Context, params CreateActionParams) (domain.Action, error) {
	query := `
		INSERT INTO pipeline_actions (id, entity_type, entity_id, action_type, status, action_data, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + actionColumns

	action, err := scanAction(r.pool.QueryRow(ctx, query,
		uuid.New(), params.Ref.EntityType, params.Ref.EntityID,
		params.ActionType, domain.StatusPending, params.ActionData, params.CreatedBy,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return domain.Action{}, apperr.Wrap(apperr.KindConflict, "a pending action of this type already exists", domain.ErrDuplicatePending)
		}
		return domain.Action{}, fmt.Errorf("create pipeline action: %w", err)
	}
	return action, nil
}

// GetAction retrieves a single ledger entry by ID.
func (r *Repo) GetAction(ctx context.Context, id uuid.UUID) (domain.Action, error) {
	query := `SELECT ` + actionColumns + ` FROM pipeline_actions WHERE id = $1`

	action, err := scanAction(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Action{}, apperr.NotFound(actionNotFoundMessage)
		}
		return domain.Action{}, fmt.Errorf("get pipeline action: %w", err)
	}
	return action, nil
}

// ListActions returns the entity's ledger, ordered by created_at ascending.
func (r *Repo) ListActions(ctx context.Context, ref domain.EntityRef, filter ActionFilter) ([]domain.Action, error) {
	query := `
		SELECT ` + actionColumns + `
		FROM pipeline_actions
		WHERE entity_type = $1 AND entity_id = $2
			AND ($3::text IS NULL OR status = $3)
			AND ($4::text IS NULL OR action_type = $4)
		ORDER BY created_at ASC`

	var statusParam, typeParam any
	if filter.Status != "" {
		statusParam = string(filter.Status)
	}
	if filter.ActionType != "" {
		typeParam = string(filter.ActionType)
	}

	rows, err := r.pool.Query(ctx, query, ref.EntityType, ref.EntityID, statusParam, typeParam)
	if err != nil {
		return nil, fmt.Errorf("list pipeline actions: %w", err)
	}
	defer rows.Close()

	var actions []domain.Action
	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pipeline action: %w", err)
		}
		actions = append(actions, action)
	}
	return actions, rows.Err()
}

// CountActions returns how many actions of the given type exist for the entity.
func (r *Repo) CountActions(ctx context.Context, ref domain.EntityRef, actionType domain.ActionType) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM pipeline_actions
		WHERE entity_type = $1 AND entity_id = $2 AND action_type = $3`

	var count int
	if err := r.pool.QueryRow(ctx, query, ref.EntityType, ref.EntityID, actionType).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pipeline actions: %w", err)
	}
	return count, nil
}

// ResolveActionAndAdvance applies the validation decision and any stage
// advance in a single transaction so partial application cannot occur.
func (r *Repo) ResolveActionAndAdvance(ctx context.Context, params ResolveActionParams) (domain.Action, domain.PipelineStage, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Action{}, domain.PipelineStage{}, fmt.Errorf("begin resolve action: %w", err)
	}
	defer tx.Rollback(ctx)

	resolve := `
		UPDATE pipeline_actions
		SET status = $1, notes = $2, validated_by = $3, validated_at = $4
		WHERE id = $5 AND status = $6
		RETURNING ` + actionColumns

	action, err := scanAction(tx.QueryRow(ctx, resolve,
		params.Status, params.Notes, params.ValidatedBy, params.ValidatedAt,
		params.ActionID, domain.StatusPending,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Lost a race with another operator resolving the same action.
			return domain.Action{}, domain.PipelineStage{}, apperr.Wrap(apperr.KindConflict, "action was already resolved", domain.ErrAlreadyResolved)
		}
		return domain.Action{}, domain.PipelineStage{}, fmt.Errorf("resolve pipeline action: %w", err)
	}

	var stage domain.PipelineStage
	if params.Advance != nil {
		stage, err = advanceStage(ctx, tx, *params.Advance)
		if err != nil {
			return domain.Action{}, domain.PipelineStage{}, err
		}
	} else {
		stage, err = getStage(ctx, tx, action.EntityRef)
		if err != nil {
			if !apperr.Is(err, apperr.KindNotFound) {
				return domain.Action{}, domain.PipelineStage{}, err
			}
			stage = domain.NewImplicitStage(action.EntityRef, time.Now())
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Action{}, domain.PipelineStage{}, fmt.Errorf("commit resolve action: %w", err)
	}
	return action, stage, nil
}

func scanStage(row pgx.Row) (domain.PipelineStage, error) {
	var st domain.PipelineStage
	err := row.Scan(
		&st.EntityType, &st.EntityID, &st.CurrentStage, &st.StageEnteredAt,
		&st.Version, &st.HiringCodeID, &st.CreatedAt, &st.UpdatedAt,
	)
	return st, err
}

func scanAction(row pgx.Row) (domain.Action, error) {
	var action domain.Action
	err := row.Scan(
		&action.ID, &action.EntityType, &action.EntityID, &action.ActionType,
		&action.Status, &action.ActionData, &action.Notes, &action.CreatedBy,
		&action.CreatedAt, &action.ValidatedBy, &action.ValidatedAt,
	)
	return action, err
}
