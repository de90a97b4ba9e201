package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"battle-bot/internal/model"
	"battle-bot/internal/pkg/lock"
	"battle-bot/internal/repository"
)

// BattleEngine owns the battle state machine:
//
//	Proposed --approve--> Approved --settle--> Settled
//	Proposed --cancel---> Cancelled
//
// Stakes are debited only at settlement, so cancellation never has
// coins to return. Settlement runs as a single database transaction
// (CAS transition plus both balance adjustments plus stats and ledger
// rows), which keeps the conservation invariant and makes a second
// settle attempt fail on the CAS with no side effects.
type BattleEngine struct {
	pool     *pgxpool.Pool
	accounts *repository.AccountRepository
	battles  *repository.BattleRepository
	ledger   *repository.LedgerRepository
	auth     *AuthGate
	keys     *lock.KeyLock
}

// NewBattleEngine creates a new BattleEngine instance.
func NewBattleEngine(
	pool *pgxpool.Pool,
	accounts *repository.AccountRepository,
	battles *repository.BattleRepository,
	ledger *repository.LedgerRepository,
	auth *AuthGate,
	keys *lock.KeyLock,
) *BattleEngine {
	return &BattleEngine{
		pool:     pool,
		accounts: accounts,
		battles:  battles,
		ledger:   ledger,
		auth:     auth,
		keys:     keys,
	}
}

// SettlementResult describes the coin and stat effects of a settled
// battle. WinnerID and LoserID are zero for a draw.
type SettlementResult struct {
	Battle        *model.Battle
	WinnerID      int64
	LoserID       int64
	Transferred   int64
	WinnerBalance int64
	LoserBalance  int64
}

// Propose creates a pending battle between challenger and opponent.
// Both balances must cover the stake; the coins are checked, not
// reserved, and approval re-validates them. At most one pending battle
// may exist per pair (ErrDuplicatePending otherwise).
func (e *BattleEngine) Propose(ctx context.Context, challengerID, opponentID, stake int64) (*model.Battle, error) {
	if stake <= 0 {
		return nil, ErrInvalidStake
	}
	if challengerID == opponentID {
		return nil, ErrSelfBattle
	}

	pairKey := model.PairKey(challengerID, opponentID)

	var battle *model.Battle
	err := e.keys.WithLock(pairKey, func() error {
		challenger, err := e.accounts.GetByID(ctx, challengerID)
		if err != nil {
			return err
		}
		opponent, err := e.accounts.GetByID(ctx, opponentID)
		if err != nil {
			return err
		}

		if challenger.Balance < stake || opponent.Balance < stake {
			return repository.ErrInsufficientFunds
		}

		battle, err = e.battles.Propose(ctx, challengerID, opponentID, stake)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("battle_id", battle.ID.String()).
		Int64("challenger", challengerID).
		Int64("opponent", opponentID).
		Int64("stake", stake).
		Msg("Battle proposed")

	return battle, nil
}

// Approve moves a proposed battle to Approved. Only authorized callers
// may approve. Both balances are re-validated against the stake inside
// the same transaction as the state transition; on insufficient funds
// the transaction rolls back and the battle stays Proposed.
func (e *BattleEngine) Approve(ctx context.Context, adminID int64, pairKey string) (*model.Battle, error) {
	if err := e.auth.require(ctx, adminID); err != nil {
		return nil, err
	}

	var battle *model.Battle
	err := e.keys.WithLock(pairKey, func() error {
		return pgx.BeginFunc(ctx, e.pool, func(tx pgx.Tx) error {
			battles := e.battles.WithTx(tx)

			current, err := battles.GetLatestByPair(ctx, pairKey)
			if err != nil {
				return err
			}

			battle, err = battles.Transition(ctx, current.ID, model.StateProposed, model.StateApproved, nil)
			if err != nil {
				return err
			}

			accounts := e.accounts.WithTx(tx)
			challenger, err := accounts.GetByID(ctx, battle.ChallengerID)
			if err != nil {
				return err
			}
			opponent, err := accounts.GetByID(ctx, battle.OpponentID)
			if err != nil {
				return err
			}
			// Balances may have dropped since the proposal.
			if challenger.Balance < battle.Stake || opponent.Balance < battle.Stake {
				return repository.ErrInsufficientFunds
			}

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("battle_id", battle.ID.String()).
		Int64("admin", adminID).
		Msg("Battle approved")

	return battle, nil
}

// Settle adjudicates an approved battle with the given outcome and
// applies the coin and stat effects exactly once. For a win, exactly
// the stake moves from loser to winner (zero net coin creation); for a
// draw nothing moves and no stats change. A second settle on the same
// key fails with ErrStaleTransition and has no side effects. If the
// loser can no longer cover the stake, the whole transaction rolls
// back and the battle remains Approved.
func (e *BattleEngine) Settle(ctx context.Context, adminID int64, pairKey string, outcome model.Outcome) (*SettlementResult, error) {
	if !outcome.Valid() {
		return nil, ErrInvalidOutcome
	}
	if err := e.auth.require(ctx, adminID); err != nil {
		return nil, err
	}

	var result *SettlementResult
	err := e.keys.WithLock(pairKey, func() error {
		return pgx.BeginFunc(ctx, e.pool, func(tx pgx.Tx) error {
			battles := e.battles.WithTx(tx)

			current, err := battles.GetLatestByPair(ctx, pairKey)
			if err != nil {
				return err
			}

			settled, err := battles.Transition(ctx, current.ID, model.StateApproved, model.StateSettled, &outcome)
			if err != nil {
				return err
			}

			result = &SettlementResult{Battle: settled}
			if outcome == model.OutcomeDraw {
				// No coins were escrowed, so a draw changes nothing.
				return nil
			}

			winnerID, loserID := settled.ChallengerID, settled.OpponentID
			if outcome == model.OutcomeWinB {
				winnerID, loserID = loserID, winnerID
			}

			accounts := e.accounts.WithTx(tx)
			loser, err := accounts.AdjustBalance(ctx, loserID, -settled.Stake)
			if err != nil {
				return err
			}
			winner, err := accounts.AdjustBalance(ctx, winnerID, settled.Stake)
			if err != nil {
				return err
			}

			if _, err := accounts.IncrementStats(ctx, winnerID, 1, 0); err != nil {
				return err
			}
			if _, err := accounts.IncrementStats(ctx, loserID, 0, 1); err != nil {
				return err
			}

			ledger := e.ledger.WithTx(tx)
			winDesc := fmt.Sprintf("won battle %s against %d", settled.ID, loserID)
			if _, err := ledger.Create(ctx, winnerID, settled.Stake, model.EntryBattleWin, &winDesc); err != nil {
				return err
			}
			lossDesc := fmt.Sprintf("lost battle %s against %d", settled.ID, winnerID)
			if _, err := ledger.Create(ctx, loserID, -settled.Stake, model.EntryBattleLoss, &lossDesc); err != nil {
				return err
			}

			result.WinnerID = winnerID
			result.LoserID = loserID
			result.Transferred = settled.Stake
			result.WinnerBalance = winner.Balance
			result.LoserBalance = loser.Balance
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("battle_id", result.Battle.ID.String()).
		Int64("admin", adminID).
		Str("outcome", string(outcome)).
		Int64("transferred", result.Transferred).
		Msg("Battle settled")

	return result, nil
}

// Cancel aborts a still-proposed battle. Participants may cancel their
// own battle; anyone else needs authorization. Approved battles cannot
// be cancelled, only settled.
func (e *BattleEngine) Cancel(ctx context.Context, callerID int64, pairKey string) (*model.Battle, error) {
	var battle *model.Battle
	err := e.keys.WithLock(pairKey, func() error {
		current, err := e.battles.GetLatestByPair(ctx, pairKey)
		if err != nil {
			return err
		}

		if callerID != current.ChallengerID && callerID != current.OpponentID {
			if err := e.auth.require(ctx, callerID); err != nil {
				return err
			}
		}

		battle, err = e.battles.Transition(ctx, current.ID, model.StateProposed, model.StateCancelled, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("battle_id", battle.ID.String()).
		Int64("caller", callerID).
		Msg("Battle cancelled")

	return battle, nil
}

// Pending returns the pending battle for a pair, if any.
func (e *BattleEngine) Pending(ctx context.Context, pairKey string) (*model.Battle, error) {
	return e.battles.GetPending(ctx, pairKey)
}
