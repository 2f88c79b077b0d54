package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alferparedes26yanez-art/espuelabrava/internal/modules/fight/domain"
)

func settleRound(t *testing.T, f *fixture, number int64, outcome domain.Outcome, wagers map[string]domain.Outcome) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.fight.SetRoundNumber(ctx, number))
	require.NoError(t, f.fight.Open(ctx, 30))
	for user, o := range wagers {
		_, err := f.fight.PlaceWager(ctx, user, o, dec("10"))
		require.NoError(t, err)
	}
	require.NoError(t, f.fight.ForceClose(ctx))
	_, err := f.fight.Settle(ctx, outcome)
	require.NoError(t, err)
}

func TestRecentAndTodayRounds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "ana", 1000)

	yesterday := time.Now().Add(-24 * time.Hour)
	f.fight.now = func() time.Time { return yesterday }
	settleRound(t, f, 1, domain.OutcomeRed, map[string]domain.Outcome{"ana": domain.OutcomeRed})

	f.fight.now = time.Now
	settleRound(t, f, 2, domain.OutcomeBlue, map[string]domain.Outcome{"ana": domain.OutcomeRed})
	settleRound(t, f, 3, domain.OutcomeTie, nil)

	recent, err := f.history.RecentRounds(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, int64(3), recent[0].Number)

	limited, _ := f.history.RecentRounds(ctx, 2)
	assert.Len(t, limited, 2)

	today, err := f.history.TodayRounds(ctx, 0)
	require.NoError(t, err)
	require.Len(t, today, 2)
	assert.Equal(t, int64(3), today[0].Number)
	assert.Equal(t, int64(2), today[1].Number)
}

func TestRoundDetail(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "ana", 100)
	settleRound(t, f, 5, domain.OutcomeRed, map[string]domain.Outcome{"ana": domain.OutcomeRed})
	// the same number can be reused; the latest archive wins
	settleRound(t, f, 5, domain.OutcomeBlue, nil)

	d, err := f.history.RoundDetail(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeBlue, d.Outcome)

	_, err = f.history.RoundDetail(ctx, 6)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.history.RoundDetail(ctx, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestUserStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "ana", 1000)

	settleRound(t, f, 1, domain.OutcomeRed, map[string]domain.Outcome{"ana": domain.OutcomeRed})
	settleRound(t, f, 2, domain.OutcomeRed, map[string]domain.Outcome{"ana": domain.OutcomeBlue})
	settleRound(t, f, 3, domain.OutcomeTie, map[string]domain.Outcome{"ana": domain.OutcomeTie})
	settleRound(t, f, 4, domain.OutcomeTie, map[string]domain.Outcome{"ana": domain.OutcomeRed})

	stats, err := f.history.UserStats(ctx, "ana")
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalWagers)
	assert.Equal(t, 2, stats.Won)
	assert.Equal(t, 2, stats.Lost)
	assert.True(t, stats.TotalWagered.Equal(dec("40")))
	assert.True(t, stats.TotalWon.Equal(dec("36")))
	assert.InDelta(t, 50.0, stats.SuccessPercent, 0.001)

	empty, err := f.history.UserStats(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, 0, empty.TotalWagers)
	assert.Zero(t, empty.SuccessPercent)
}

func TestUserStatsConcurrentCallers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "ana", 100)
	settleRound(t, f, 1, domain.OutcomeRed, map[string]domain.Outcome{"ana": domain.OutcomeRed})

	var wg sync.WaitGroup
	results := make([]*domain.UserStats, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := f.history.UserStats(ctx, "ana")
			assert.NoError(t, err)
			results[i] = s
		}(i)
	}
	wg.Wait()

	for _, s := range results {
		require.NotNil(t, s)
		assert.Equal(t, 1, s.Won)
	}
	// callers get independent copies
	results[0].Won = 99
	assert.Equal(t, 1, results[1].Won)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 20, clampLimit(0, 20))
	assert.Equal(t, 20, clampLimit(-1, 20))
	assert.Equal(t, 7, clampLimit(7, 20))
	assert.Equal(t, MaxHistoryLimit, clampLimit(MaxHistoryLimit+1, 20))
}
