package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"battle-bot/internal/model"
	"battle-bot/internal/repository"
)

// AccountService handles account operations: registration on first
// contact, balance queries and admin-driven adjustments.
type AccountService struct {
	accounts        *repository.AccountRepository
	ledger          *repository.LedgerRepository
	auth            *AuthGate
	startingBalance int64
}

// NewAccountService creates a new AccountService instance.
func NewAccountService(
	accounts *repository.AccountRepository,
	ledger *repository.LedgerRepository,
	auth *AuthGate,
	startingBalance int64,
) *AccountService {
	return &AccountService{
		accounts:        accounts,
		ledger:          ledger,
		auth:            auth,
		startingBalance: startingBalance,
	}
}

// EnsureAccount ensures an account exists for the identity, creating it
// with the configured starting balance on first contact. The display
// name is refreshed best-effort when it changed. Returns the account
// and whether it was newly created.
func (s *AccountService) EnsureAccount(ctx context.Context, userID int64, displayName string) (*model.Account, bool, error) {
	account, created, err := s.accounts.GetOrCreate(ctx, userID, displayName, s.startingBalance)
	if err != nil {
		return nil, false, fmt.Errorf("failed to ensure account: %w", err)
	}

	if created {
		desc := "starting balance"
		if _, err := s.ledger.Create(ctx, userID, s.startingBalance, model.EntryInitial, &desc); err != nil {
			log.Warn().Err(err).Int64("user_id", userID).Msg("Failed to record initial ledger entry")
		}
		return account, true, nil
	}

	if displayName != "" && account.DisplayName != displayName {
		if err := s.accounts.UpdateDisplayName(ctx, userID, displayName); err != nil {
			// Non-fatal: the account exists, the stale name can be
			// refreshed on the next interaction.
			log.Warn().Err(err).Int64("user_id", userID).Msg("Failed to refresh display name")
		} else {
			account.DisplayName = displayName
		}
	}

	return account, false, nil
}

// Balance retrieves an account's current balance.
func (s *AccountService) Balance(ctx context.Context, userID int64) (int64, error) {
	account, err := s.accounts.GetByID(ctx, userID)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

// Get retrieves the full account record (balance plus win/loss stats).
func (s *AccountService) Get(ctx context.Context, userID int64) (*model.Account, error) {
	return s.accounts.GetByID(ctx, userID)
}

// ResolveName finds an account by display name for admin commands that
// address a user by name. When several accounts share the name, the one
// with the lowest user ID is returned.
func (s *AccountService) ResolveName(ctx context.Context, displayName string) (*model.Account, error) {
	return s.accounts.FindByDisplayName(ctx, displayName)
}

// AdjustCoins applies an admin-driven balance adjustment and records it
// in the ledger. Requires authorization; the delta may be negative but
// never drives the balance below zero.
func (s *AccountService) AdjustCoins(ctx context.Context, adminID, targetID, delta int64) (*model.Account, error) {
	if delta == 0 {
		return nil, ErrInvalidAmount
	}
	if err := s.auth.require(ctx, adminID); err != nil {
		return nil, err
	}

	account, err := s.accounts.AdjustBalance(ctx, targetID, delta)
	if err != nil {
		return nil, err
	}

	desc := fmt.Sprintf("adjusted by admin %d", adminID)
	if _, err := s.ledger.Create(ctx, targetID, delta, model.EntryAdminAdjust, &desc); err != nil {
		log.Warn().Err(err).Int64("user_id", targetID).Msg("Failed to record adjustment ledger entry")
	}

	log.Info().
		Int64("admin", adminID).
		Int64("target", targetID).
		Int64("delta", delta).
		Int64("balance", account.Balance).
		Msg("Balance adjusted")

	return account, nil
}

// History retrieves a user's recent ledger entries, newest first.
func (s *AccountService) History(ctx context.Context, userID int64, limit int) ([]*model.LedgerEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.ledger.GetByUserID(ctx, userID, limit)
}
