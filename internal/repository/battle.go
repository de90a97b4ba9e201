package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"battle-bot/internal/model"
)

// Common errors for battle registry operations.
var (
	ErrBattleNotFound  = errors.New("battle not found")
	ErrDuplicatePending = errors.New("a pending battle already exists for this pair")
	ErrStaleTransition = errors.New("battle state changed since it was read")
)

const battleColumns = "id, pair_key, challenger_id, opponent_id, stake, state, outcome, created_at, updated_at"

// pgUniqueViolation is the PostgreSQL error code for unique constraint
// violations.
const pgUniqueViolation = "23505"

// BattleRepository is the battle registry. A partial unique index over
// non-terminal states guarantees at most one pending battle per
// participant pair; terminal battles are retained for audit.
type BattleRepository struct {
	db Querier
}

// NewBattleRepository creates a new BattleRepository instance.
func NewBattleRepository(db Querier) *BattleRepository {
	return &BattleRepository{db: db}
}

// WithTx returns a repository bound to the given transaction.
func (r *BattleRepository) WithTx(tx pgx.Tx) *BattleRepository {
	return &BattleRepository{db: tx}
}

func scanBattle(row pgx.Row) (*model.Battle, error) {
	var b model.Battle
	err := row.Scan(
		&b.ID,
		&b.PairKey,
		&b.ChallengerID,
		&b.OpponentID,
		&b.Stake,
		&b.State,
		&b.Outcome,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Propose inserts a new battle in the Proposed state. Returns
// ErrDuplicatePending if a pending battle already exists for the pair;
// duplicates are rejected rather than overwritten so a stake record is
// never silently lost.
func (r *BattleRepository) Propose(ctx context.Context, challengerID, opponentID, stake int64) (*model.Battle, error) {
	const query = `
		INSERT INTO battles (id, pair_key, challenger_id, opponent_id, stake, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING ` + battleColumns

	battle, err := scanBattle(r.db.QueryRow(ctx, query,
		uuid.New(),
		model.PairKey(challengerID, opponentID),
		challengerID,
		opponentID,
		stake,
		model.StateProposed,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, ErrDuplicatePending
		}
		return nil, fmt.Errorf("failed to propose battle: %w", err)
	}
	return battle, nil
}

// GetByID retrieves a battle by its ID.
func (r *BattleRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Battle, error) {
	const query = `SELECT ` + battleColumns + ` FROM battles WHERE id = $1`

	battle, err := scanBattle(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBattleNotFound
		}
		return nil, fmt.Errorf("failed to get battle: %w", err)
	}
	return battle, nil
}

// GetPending retrieves the pending battle for a participant pair, if any.
func (r *BattleRepository) GetPending(ctx context.Context, pairKey string) (*model.Battle, error) {
	const query = `
		SELECT ` + battleColumns + `
		FROM battles
		WHERE pair_key = $1 AND state IN ('proposed', 'approved')
	`

	battle, err := scanBattle(r.db.QueryRow(ctx, query, pairKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBattleNotFound
		}
		return nil, fmt.Errorf("failed to get pending battle: %w", err)
	}
	return battle, nil
}

// GetLatestByPair retrieves the most recently created battle for a
// participant pair regardless of state. Lets callers distinguish an
// unknown key (ErrBattleNotFound) from a lost race on an already
// terminal battle (ErrStaleTransition).
func (r *BattleRepository) GetLatestByPair(ctx context.Context, pairKey string) (*model.Battle, error) {
	const query = `
		SELECT ` + battleColumns + `
		FROM battles
		WHERE pair_key = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	battle, err := scanBattle(r.db.QueryRow(ctx, query, pairKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBattleNotFound
		}
		return nil, fmt.Errorf("failed to get latest battle: %w", err)
	}
	return battle, nil
}

// Transition performs a compare-and-swap on the battle's state: the
// update only applies while the persisted state still equals expected.
// This is the sole mechanism preventing two concurrent adjudications
// from double-settling the same battle. Returns ErrStaleTransition when
// the CAS loses the race.
func (r *BattleRepository) Transition(ctx context.Context, id uuid.UUID, expected, next model.BattleState, outcome *model.Outcome) (*model.Battle, error) {
	const query = `
		UPDATE battles
		SET state = $3, outcome = COALESCE($4, outcome), updated_at = NOW()
		WHERE id = $1 AND state = $2
		RETURNING ` + battleColumns

	battle, err := scanBattle(r.db.QueryRow(ctx, query, id, expected, next, outcome))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Either the battle is gone or its state moved on.
			if _, getErr := r.GetByID(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, ErrStaleTransition
		}
		return nil, fmt.Errorf("failed to transition battle: %w", err)
	}
	return battle, nil
}

// Remove prunes a terminal battle from the registry. The coin ledger
// keeps the audit trail. Removing a still-pending battle is refused
// with ErrStaleTransition; unknown IDs return ErrBattleNotFound.
func (r *BattleRepository) Remove(ctx context.Context, id uuid.UUID) error {
	const query = `DELETE FROM battles WHERE id = $1 AND state IN ('settled', 'cancelled')`

	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to remove battle: %w", err)
	}

	if result.RowsAffected() == 0 {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return ErrStaleTransition
	}

	return nil
}
