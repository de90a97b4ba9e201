// Integration tests for the battle engine. Tests use testcontainers-go
// to spin up a PostgreSQL container and are skipped when Docker is
// unavailable.
package service

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"battle-bot/internal/model"
	"battle-bot/internal/pkg/db"
	"battle-bot/internal/pkg/lock"
	"battle-bot/internal/repository"
)

const ownerID int64 = 1

// fixture bundles the engine with its collaborators for tests.
type fixture struct {
	pool     *pgxpool.Pool
	accounts *repository.AccountRepository
	ledger   *repository.LedgerRepository
	auth     *AuthGate
	engine   *BattleEngine
	account  *AccountService
	ranking  *RankingService
}

func checkDockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	err := cmd.Run()
	return err == nil
}

func setupEngine(t *testing.T) (*fixture, func()) {
	if !checkDockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	err = db.RunMigrations(ctx, pool)
	require.NoError(t, err)

	accounts := repository.NewAccountRepository(pool)
	battles := repository.NewBattleRepository(pool)
	admins := repository.NewAdminRepository(pool)
	ledger := repository.NewLedgerRepository(pool)

	auth := NewAuthGate(admins, ownerID)
	keys := lock.NewKeyLock()

	f := &fixture{
		pool:     pool,
		accounts: accounts,
		ledger:   ledger,
		auth:     auth,
		engine:   NewBattleEngine(pool, accounts, battles, ledger, auth, keys),
		account:  NewAccountService(accounts, ledger, auth, 100),
		ranking:  NewRankingService(accounts, 10),
	}

	cleanup := func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	}

	return f, cleanup
}

// seed registers two users with the service's starting balance (100).
func seed(t *testing.T, f *fixture) (a, b int64) {
	t.Helper()
	ctx := context.Background()
	_, _, err := f.account.EnsureAccount(ctx, 100, "alice")
	require.NoError(t, err)
	_, _, err = f.account.EnsureAccount(ctx, 200, "bob")
	require.NoError(t, err)
	return 100, 200
}

func TestEngine_FullBattleWinA(t *testing.T) {
	f, cleanup := setupEngine(t)
	defer cleanup()
	ctx := context.Background()

	a, b := seed(t, f)
	key := model.PairKey(a, b)

	battle, err := f.engine.Propose(ctx, a, b, 30)
	require.NoError(t, err)
	assert.Equal(t, model.StateProposed, battle.State)

	_, err = f.engine.Approve(ctx, ownerID, key)
	require.NoError(t, err)

	result, err := f.engine.Settle(ctx, ownerID, key, model.OutcomeWinA)
	require.NoError(t, err)
	assert.Equal(t, a, result.WinnerID)
	assert.Equal(t, b, result.LoserID)
	assert.Equal(t, int64(30), result.Transferred)
	assert.Equal(t, int64(130), result.WinnerBalance)
	assert.Equal(t, int64(70), result.LoserBalance)

	winner, err := f.accounts.GetByID(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, int64(130), winner.Balance)
	assert.Equal(t, int64(1), winner.Wins)
	assert.Equal(t, int64(0), winner.Losses)

	loser, err := f.accounts.GetByID(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, int64(70), loser.Balance)
	assert.Equal(t, int64(0), loser.Wins)
	assert.Equal(t, int64(1), loser.Losses)

	// Conservation: the winner gained exactly what the loser lost.
	assert.Equal(t, int64(200), winner.Balance+loser.Balance)
}

func TestEngine_SecondSettleIsStale(t *testing.T) {
	f, cleanup := setupEngine(t)
	defer cleanup()
	ctx := context.Background()

	a, b := seed(t, f)
	key := model.PairKey(a, b)

	_, err := f.engine.Propose(ctx, a, b, 30)
	require.NoError(t, err)
	_, err = f.engine.Approve(ctx, ownerID, key)
	require.NoError(t, err)
	_, err = f.engine.Settle(ctx, ownerID, key, model.OutcomeWinA)
	require.NoError(t, err)

	// Second settle, any outcome: exactly one coin transfer happened.
	_, err = f.engine.Settle(ctx, ownerID, key, model.OutcomeWinB)
	assert.ErrorIs(t, err, repository.ErrStaleTransition)

	winner, _ := f.accounts.GetByID(ctx, a)
	loser, _ := f.accounts.GetByID(ctx, b)
	assert.Equal(t, int64(130), winner.Balance)
	assert.Equal(t, int64(70), loser.Balance)
	assert.Equal(t, int64(1), winner.Wins)
	assert.Equal(t, int64(1), loser.Losses)
}

func TestEngine_Draw(t *testing.T) {
	f, cleanup := setupEngine(t)
	defer cleanup()
	ctx := context.Background()

	a, b := seed(t, f)
	key := model.PairKey(a, b)

	_, err := f.engine.Propose(ctx, a, b, 30)
	require.NoError(t, err)
	_, err = f.engine.Approve(ctx, ownerID, key)
	require.NoError(t, err)

	result, err := f.engine.Settle(ctx, ownerID, key, model.OutcomeDraw)
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.Transferred)
	assert.Equal(t, model.StateSettled, result.Battle.State)

	// Both balances unchanged, no stat changes.
	first, _ := f.accounts.GetByID(ctx, a)
	second, _ := f.accounts.GetByID(ctx, b)
	assert.Equal(t, int64(100), first.Balance)
	assert.Equal(t, int64(100), second.Balance)
	assert.Equal(t, int64(0), first.Wins+first.Losses)
	assert.Equal(t, int64(0), second.Wins+second.Losses)
}

func TestEngine_ProposeInsufficientFunds(t *testing.T) {
	f, cleanup := setupEngine(t)
	defer cleanup()
	ctx := context.Background()

	a, b := seed(t, f)

	// A has 10 coins and proposes a 50-coin battle.
	_, err := f.accounts.SetBalance(ctx, a, 10)
	require.NoError(t, err)

	_, err = f.engine.Propose(ctx, a, b, 50)
	assert.ErrorIs(t, err, repository.ErrInsufficientFunds)

	// No battle record was created.
	_, err = f.engine.Pending(ctx, model.PairKey(a, b))
	assert.ErrorIs(t, err, repository.ErrBattleNotFound)
}

func TestEngine_ProposeValidation(t *testing.T) {
	f, cleanup := setupEngine(t)
	defer cleanup()
	ctx := context.Background()

	a, b := seed(t, f)

	_, err := f.engine.Propose(ctx, a, b, 0)
	assert.ErrorIs(t, err, ErrInvalidStake)

	_, err = f.engine.Propose(ctx, a, b, -5)
	assert.ErrorIs(t, err, ErrInvalidStake)

	_, err = f.engine.Propose(ctx, a, a, 10)
	assert.ErrorIs(t, err, ErrSelfBattle)

	_, err = f.engine.Propose(ctx, a, 99999, 10)
	assert.ErrorIs(t, err, repository.ErrAccountNotFound)

	_, err = f.engine.Propose(ctx, a, b, 10)
	require.NoError(t, err)

	// Duplicate proposal for the pair, in either order
	_, err = f.engine.Propose(ctx, b, a, 20)
	assert.ErrorIs(t, err, repository.ErrDuplicatePending)
}

func TestEngine_ApproveRevalidatesBalances(t *testing.T) {
	f, cleanup := setupEngine(t)
	defer cleanup()
	ctx := context.Background()

	a, b := seed(t, f)
	key := model.PairKey(a, b)

	_, err := f.engine.Propose(ctx, a, b, 30)
	require.NoError(t, err)

	// B's balance drops below the stake between proposal and approval.
	_, err = f.accounts.SetBalance(ctx, b, 20)
	require.NoError(t, err)

	_, err = f.engine.Approve(ctx, ownerID, key)
	assert.ErrorIs(t, err, repository.ErrInsufficientFunds)

	// The failed approval left the battle Proposed.
	pending, err := f.engine.Pending(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, model.StateProposed, pending.State)

	// Once B can cover the stake again, approval succeeds.
	_, err = f.accounts.SetBalance(ctx, b, 30)
	require.NoError(t, err)
	battle, err := f.engine.Approve(ctx, ownerID, key)
	require.NoError(t, err)
	assert.Equal(t, model.StateApproved, battle.State)
}

func TestEngine_SettleInsufficientLoserRollsBack(t *testing.T) {
	f, cleanup := setupEngine(t)
	defer cleanup()
	ctx := context.Background()

	a, b := seed(t, f)
	key := model.PairKey(a, b)

	_, err := f.engine.Propose(ctx, a, b, 30)
	require.NoError(t, err)
	_, err = f.engine.Approve(ctx, ownerID, key)
	require.NoError(t, err)

	// The loser spends down below the stake after approval.
	_, err = f.accounts.SetBalance(ctx, b, 10)
	require.NoError(t, err)

	_, err = f.engine.Settle(ctx, ownerID, key, model.OutcomeWinA)
	assert.ErrorIs(t, err, repository.ErrInsufficientFunds)

	// The whole settlement rolled back: battle still Approved, no
	// balances or stats touched.
	pending, err := f.engine.Pending(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, model.StateApproved, pending.State)

	winner, _ := f.accounts.GetByID(ctx, a)
	loser, _ := f.accounts.GetByID(ctx, b)
	assert.Equal(t, int64(100), winner.Balance)
	assert.Equal(t, int64(10), loser.Balance)
	assert.Equal(t, int64(0), winner.Wins)
	assert.Equal(t, int64(0), loser.Losses)
}

func TestEngine_StateMachineLegality(t *testing.T) {
	f, cleanup := setupEngine(t)
	defer cleanup()
	ctx := context.Background()

	a, b := seed(t, f)
	key := model.PairKey(a, b)

	_, err := f.engine.Propose(ctx, a, b, 30)
	require.NoError(t, err)

	// Settle before approval is illegal.
	_, err = f.engine.Settle(ctx, ownerID, key, model.OutcomeWinA)
	assert.ErrorIs(t, err, repository.ErrStaleTransition)

	_, err = f.engine.Approve(ctx, ownerID, key)
	require.NoError(t, err)

	// Approve on an approved battle is illegal.
	_, err = f.engine.Approve(ctx, ownerID, key)
	assert.ErrorIs(t, err, repository.ErrStaleTransition)

	// Cancel on an approved battle is illegal.
	_, err = f.engine.Cancel(ctx, a, key)
	assert.ErrorIs(t, err, repository.ErrStaleTransition)
}

func TestEngine_Cancel(t *testing.T) {
	f, cleanup := setupEngine(t)
	defer cleanup()
	ctx := context.Background()

	a, b := seed(t, f)
	key := model.PairKey(a, b)

	_, err := f.engine.Propose(ctx, a, b, 30)
	require.NoError(t, err)

	// A non-participant without authorization may not cancel.
	_, err = f.engine.Cancel(ctx, 99999, key)
	assert.ErrorIs(t, err, ErrForbidden)

	// A participant may cancel their own proposal.
	battle, err := f.engine.Cancel(ctx, b, key)
	require.NoError(t, err)
	assert.Equal(t, model.StateCancelled, battle.State)

	// Nothing was debited at proposal, so balances are untouched.
	first, _ := f.accounts.GetByID(ctx, a)
	second, _ := f.accounts.GetByID(ctx, b)
	assert.Equal(t, int64(100), first.Balance)
	assert.Equal(t, int64(100), second.Balance)

	// The pair is free for a new proposal.
	_, err = f.engine.Propose(ctx, a, b, 10)
	require.NoError(t, err)
}

func TestEngine_AuthorizationEnforcement(t *testing.T) {
	f, cleanup := setupEngine(t)
	defer cleanup()
	ctx := context.Background()

	a, b := seed(t, f)
	key := model.PairKey(a, b)

	_, err := f.engine.Propose(ctx, a, b, 30)
	require.NoError(t, err)

	// Unauthorized approve: no side effects.
	_, err = f.engine.Approve(ctx, a, key)
	assert.ErrorIs(t, err, ErrForbidden)
	pending, err := f.engine.Pending(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, model.StateProposed, pending.State)

	_, err = f.engine.Approve(ctx, ownerID, key)
	require.NoError(t, err)

	// Unauthorized settle: no side effects.
	_, err = f.engine.Settle(ctx, b, key, model.OutcomeWinB)
	assert.ErrorIs(t, err, ErrForbidden)
	first, _ := f.accounts.GetByID(ctx, a)
	second, _ := f.accounts.GetByID(ctx, b)
	assert.Equal(t, int64(100), first.Balance)
	assert.Equal(t, int64(100), second.Balance)

	// Granting admin lets a regular user adjudicate.
	err = f.auth.Grant(ctx, a, b)
	assert.ErrorIs(t, err, ErrForbidden)

	err = f.auth.Grant(ctx, ownerID, a)
	require.NoError(t, err)

	_, err = f.engine.Settle(ctx, a, key, model.OutcomeWinB)
	require.NoError(t, err)
}

func TestAuthGate_GrantRevoke(t *testing.T) {
	f, cleanup := setupEngine(t)
	defer cleanup()
	ctx := context.Background()

	a, b := seed(t, f)

	ok, err := f.auth.IsAuthorized(ctx, ownerID)
	require.NoError(t, err)
	assert.True(t, ok)

	err = f.auth.Grant(ctx, ownerID, a)
	require.NoError(t, err)
	ok, err = f.auth.IsAuthorized(ctx, a)
	require.NoError(t, err)
	assert.True(t, ok)

	// An admin may grant further admins.
	err = f.auth.Grant(ctx, a, b)
	require.NoError(t, err)

	// Revoking the bootstrap owner is refused.
	err = f.auth.Revoke(ctx, a, ownerID)
	assert.ErrorIs(t, err, ErrOwnerImmutable)

	err = f.auth.Revoke(ctx, ownerID, b)
	require.NoError(t, err)
	ok, err = f.auth.IsAuthorized(ctx, b)
	require.NoError(t, err)
	assert.False(t, ok)

	// Revoking a non-admin reports it.
	err = f.auth.Revoke(ctx, ownerID, b)
	assert.ErrorIs(t, err, ErrNotAdmin)
}

func TestAccountService_EnsureAndAdjust(t *testing.T) {
	f, cleanup := setupEngine(t)
	defer cleanup()
	ctx := context.Background()

	account, created, err := f.account.EnsureAccount(ctx, 500, "carol")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(100), account.Balance)

	// The starting balance is on the ledger.
	entries, err := f.ledger.GetByUserIDAndType(ctx, 500, model.EntryInitial, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(100), entries[0].Amount)

	// Display name refresh on a later interaction.
	account, created, err = f.account.EnsureAccount(ctx, 500, "caroline")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "caroline", account.DisplayName)

	// Admin coin adjustment.
	_, err = f.account.AdjustCoins(ctx, 500, 500, 10)
	assert.ErrorIs(t, err, ErrForbidden)

	account, err = f.account.AdjustCoins(ctx, ownerID, 500, -40)
	require.NoError(t, err)
	assert.Equal(t, int64(60), account.Balance)

	_, err = f.account.AdjustCoins(ctx, ownerID, 500, 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = f.account.AdjustCoins(ctx, ownerID, 500, -100)
	assert.ErrorIs(t, err, repository.ErrInsufficientFunds)

	resolved, err := f.account.ResolveName(ctx, "caroline")
	require.NoError(t, err)
	assert.Equal(t, int64(500), resolved.UserID)
}

func TestRankingService_Leaderboard(t *testing.T) {
	f, cleanup := setupEngine(t)
	defer cleanup()
	ctx := context.Background()

	a, b := seed(t, f)
	key := model.PairKey(a, b)

	_, err := f.engine.Propose(ctx, a, b, 30)
	require.NoError(t, err)
	_, err = f.engine.Approve(ctx, ownerID, key)
	require.NoError(t, err)
	_, err = f.engine.Settle(ctx, ownerID, key, model.OutcomeWinB)
	require.NoError(t, err)

	board, err := f.ranking.Leaderboard(ctx, 0)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, b, board[0].UserID)
	assert.Equal(t, int64(1), board[0].Wins)

	balances, err := f.ranking.TopBalances(ctx, 1)
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, b, balances[0].UserID)
	assert.Equal(t, int64(130), balances[0].Balance)
}
