package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/alferparedes26yanez-art/espuelabrava/internal/modules/fight/domain"
)

const (
	DefaultRecentRounds = 20
	DefaultTodayRounds  = 50
	DefaultUserHistory  = 50
	MaxHistoryLimit     = 500
	statsWindow         = 1000
)

// HistoryUseCase answers read-only questions about settled rounds
type HistoryUseCase struct {
	repo  domain.Repository
	stats singleflight.Group
	now   func() time.Time
}

// NewHistoryUseCase creates a new history use case
func NewHistoryUseCase(repo domain.Repository) *HistoryUseCase {
	return &HistoryUseCase{repo: repo, now: time.Now}
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}

// RecentRounds returns the latest settled rounds, newest first
func (uc *HistoryUseCase) RecentRounds(ctx context.Context, limit int) ([]*domain.RoundHistoryEntry, error) {
	entries, err := uc.repo.ListRoundHistory(ctx, domain.HistoryQuery{Limit: clampLimit(limit, DefaultRecentRounds)})
	if err != nil {
		return nil, domain.WrapStoreError("list round history", err)
	}
	return entries, nil
}

// TodayRounds returns rounds settled since local midnight, newest first
func (uc *HistoryUseCase) TodayRounds(ctx context.Context, limit int) ([]*domain.RoundHistoryEntry, error) {
	now := uc.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	entries, err := uc.repo.ListRoundHistory(ctx, domain.HistoryQuery{
		Since: midnight,
		Limit: clampLimit(limit, DefaultTodayRounds),
	})
	if err != nil {
		return nil, domain.WrapStoreError("list round history", err)
	}
	return entries, nil
}

// RoundDetail returns the latest archive of a round number
func (uc *HistoryUseCase) RoundDetail(ctx context.Context, number int64) (*domain.RoundHistoryEntry, error) {
	if number <= 0 {
		return nil, fmt.Errorf("%w: round number must be positive, got %d", domain.ErrInvalidArgument, number)
	}
	entry, err := uc.repo.GetRoundHistory(ctx, number)
	if err != nil {
		return nil, domain.WrapStoreError("get round history", err)
	}
	return entry, nil
}

// UserHistory returns a user's resolved wagers, newest first
func (uc *HistoryUseCase) UserHistory(ctx context.Context, username string, limit int) ([]*domain.UserHistoryEntry, error) {
	entries, err := uc.repo.ListUserHistory(ctx, username, clampLimit(limit, DefaultUserHistory))
	if err != nil {
		return nil, domain.WrapStoreError("list user history", err)
	}
	return entries, nil
}

// UserStats summarizes a user's last statsWindow wagers. Concurrent calls
// for the same user share one query.
func (uc *HistoryUseCase) UserStats(ctx context.Context, username string) (*domain.UserStats, error) {
	v, err, _ := uc.stats.Do(username, func() (interface{}, error) {
		entries, err := uc.repo.ListUserHistory(ctx, username, statsWindow)
		if err != nil {
			return nil, domain.WrapStoreError("list user history", err)
		}
		return computeStats(entries), nil
	})
	if err != nil {
		return nil, err
	}
	stats := *v.(*domain.UserStats)
	return &stats, nil
}

func computeStats(entries []*domain.UserHistoryEntry) *domain.UserStats {
	s := &domain.UserStats{
		TotalWagered: decimal.Zero,
		TotalWon:     decimal.Zero,
	}
	for _, e := range entries {
		s.TotalWagers++
		if e.Won {
			s.Won++
		}
		s.TotalWagered = s.TotalWagered.Add(e.Amount)
		s.TotalWon = s.TotalWon.Add(e.Payout)
	}
	s.Lost = s.TotalWagers - s.Won
	if s.TotalWagers > 0 {
		s.SuccessPercent = float64(s.Won) / float64(s.TotalWagers) * 100
	}
	return s
}
