// Package model defines the data models for the battle bot ledger.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Account represents a user's coin balance and battle record.
type Account struct {
	UserID      int64     `db:"user_id"`
	DisplayName string    `db:"display_name"`
	Balance     int64     `db:"balance"`
	Wins        int64     `db:"wins"`
	Losses      int64     `db:"losses"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// BattleState is the lifecycle state of a battle.
type BattleState string

// Battle states. Proposed and Approved are pending; Settled and
// Cancelled are terminal.
const (
	StateProposed  BattleState = "proposed"
	StateApproved  BattleState = "approved"
	StateSettled   BattleState = "settled"
	StateCancelled BattleState = "cancelled"
)

// Terminal reports whether the state is final. Terminal battles never
// re-enter the pending view.
func (s BattleState) Terminal() bool {
	return s == StateSettled || s == StateCancelled
}

// Outcome is the adjudicated result of a settled battle.
type Outcome string

// Battle outcomes. WinA means the challenger won, WinB the opponent.
const (
	OutcomeWinA Outcome = "win_a"
	OutcomeWinB Outcome = "win_b"
	OutcomeDraw Outcome = "draw"
)

// Valid reports whether o is one of the defined outcomes.
func (o Outcome) Valid() bool {
	return o == OutcomeWinA || o == OutcomeWinB || o == OutcomeDraw
}

// Battle represents a wagered battle between two participants.
// Outcome is nil until the battle is settled.
type Battle struct {
	ID           uuid.UUID   `db:"id"`
	PairKey      string      `db:"pair_key"`
	ChallengerID int64       `db:"challenger_id"`
	OpponentID   int64       `db:"opponent_id"`
	Stake        int64       `db:"stake"`
	State        BattleState `db:"state"`
	Outcome      *Outcome    `db:"outcome"`
	CreatedAt    time.Time   `db:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at"`
}

// PairKey builds the normalized key for an unordered participant pair.
// The lower identity always comes first so either ordering of the same
// two users addresses the same pending battle.
func PairKey(a, b int64) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

// LedgerEntry records a single balance movement for one account.
type LedgerEntry struct {
	ID          int64     `db:"id"`
	UserID      int64     `db:"user_id"`
	Amount      int64     `db:"amount"`
	Type        string    `db:"type"`
	Description *string   `db:"description"`
	CreatedAt   time.Time `db:"created_at"`
}

// Ledger entry types for categorizing balance movements.
const (
	EntryInitial     = "initial"      // Starting balance on account creation
	EntryBattleWin   = "battle_win"   // Stake won in a settled battle
	EntryBattleLoss  = "battle_loss"  // Stake lost in a settled battle
	EntryAdminAdjust = "admin_adjust" // Admin-driven balance adjustment
)
