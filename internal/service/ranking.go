package service

import (
	"context"

	"battle-bot/internal/model"
	"battle-bot/internal/repository"
)

// RankingService is the read-only leaderboard projection over the
// account store. Each query is a single SQL statement, so the ranking
// is a consistent snapshot and never interleaves with an in-flight
// settlement.
type RankingService struct {
	accounts     *repository.AccountRepository
	defaultLimit int
}

// NewRankingService creates a new RankingService instance.
func NewRankingService(accounts *repository.AccountRepository, defaultLimit int) *RankingService {
	if defaultLimit <= 0 {
		defaultLimit = 10
	}
	return &RankingService{
		accounts:     accounts,
		defaultLimit: defaultLimit,
	}
}

// Leaderboard returns the top accounts by win count, ties broken by
// user ID ascending.
func (s *RankingService) Leaderboard(ctx context.Context, limit int) ([]*model.Account, error) {
	if limit <= 0 {
		limit = s.defaultLimit
	}
	return s.accounts.TopByWins(ctx, limit)
}

// TopBalances returns the top accounts by balance, ties broken by user
// ID ascending.
func (s *RankingService) TopBalances(ctx context.Context, limit int) ([]*model.Account, error) {
	if limit <= 0 {
		limit = s.defaultLimit
	}
	return s.accounts.TopByBalance(ctx, limit)
}
