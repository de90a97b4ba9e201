// Package service provides the business logic of the battle ledger: the
// battle engine, the authorization gate, account operations and the
// leaderboard. It is the surface an external command dispatcher calls.
package service

import "errors"

// Errors returned by engine and account operations. Storage failures are
// wrapped driver errors and remain distinguishable from all of these;
// they are the only class a caller should retry. Repository sentinels
// (repository.ErrAccountNotFound, repository.ErrInsufficientFunds,
// repository.ErrDuplicatePending, repository.ErrStaleTransition)
// propagate unchanged.
var (
	ErrForbidden      = errors.New("caller is not authorized")
	ErrSelfBattle     = errors.New("cannot battle yourself")
	ErrInvalidStake   = errors.New("invalid stake: must be positive")
	ErrInvalidAmount  = errors.New("invalid amount: must be non-zero")
	ErrInvalidOutcome = errors.New("invalid outcome")
	ErrNotParticipant = errors.New("caller is not a battle participant")
	ErrOwnerImmutable = errors.New("the bootstrap owner cannot be revoked")
	ErrNotAdmin       = errors.New("user is not an admin")
)
