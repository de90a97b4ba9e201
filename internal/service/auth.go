package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"battle-bot/internal/repository"
)

// AuthGate decides whether a caller may adjudicate battles or mutate
// balances directly. Membership is append-only through Grant and
// shrinks only through Revoke, both guarded by existing authorization.
// The bootstrap owner is always authorized and can never be revoked, so
// the admin set cannot lock itself out.
type AuthGate struct {
	adminRepo *repository.AdminRepository
	ownerID   int64
}

// NewAuthGate creates an AuthGate seeded with the bootstrap owner.
func NewAuthGate(adminRepo *repository.AdminRepository, ownerID int64) *AuthGate {
	return &AuthGate{
		adminRepo: adminRepo,
		ownerID:   ownerID,
	}
}

// IsAuthorized reports whether the user may adjudicate battles.
func (g *AuthGate) IsAuthorized(ctx context.Context, userID int64) (bool, error) {
	if userID == g.ownerID {
		return true, nil
	}
	return g.adminRepo.IsAdmin(ctx, userID)
}

// require returns ErrForbidden unless the caller is authorized.
func (g *AuthGate) require(ctx context.Context, callerID int64) error {
	ok, err := g.IsAuthorized(ctx, callerID)
	if err != nil {
		return fmt.Errorf("failed to check authorization: %w", err)
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

// Grant adds target to the admin set. Fails with ErrForbidden unless
// the caller is already authorized. Granting an existing admin or the
// owner is a no-op.
func (g *AuthGate) Grant(ctx context.Context, by, target int64) error {
	if err := g.require(ctx, by); err != nil {
		return err
	}
	if target == g.ownerID {
		return nil
	}
	if err := g.adminRepo.Grant(ctx, target, by); err != nil {
		return err
	}

	log.Info().
		Int64("granted_by", by).
		Int64("target", target).
		Msg("Admin granted")
	return nil
}

// Revoke removes target from the admin set under the same guard.
// The bootstrap owner cannot be revoked; revoking a non-admin returns
// ErrNotAdmin.
func (g *AuthGate) Revoke(ctx context.Context, by, target int64) error {
	if err := g.require(ctx, by); err != nil {
		return err
	}
	if target == g.ownerID {
		return ErrOwnerImmutable
	}

	removed, err := g.adminRepo.Revoke(ctx, target)
	if err != nil {
		return err
	}
	if !removed {
		return ErrNotAdmin
	}

	log.Info().
		Int64("revoked_by", by).
		Int64("target", target).
		Msg("Admin revoked")
	return nil
}
