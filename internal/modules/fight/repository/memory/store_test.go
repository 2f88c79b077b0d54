package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alferparedes26yanez-art/espuelabrava/internal/modules/fight/domain"
)

func seedUser(t *testing.T, s *Store, username string, balance int64) {
	t.Helper()
	require.NoError(t, s.CreateUser(context.Background(), &domain.User{
		Username: username,
		Name:     username,
		Role:     domain.RoleParticipant,
		Balance:  decimal.NewFromInt(balance),
	}))
}

func TestDebitBalance(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seedUser(t, s, "ana", 50)

	err := s.DebitBalance(ctx, "ana", decimal.NewFromInt(60))
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	require.NoError(t, s.DebitBalance(ctx, "ana", decimal.NewFromInt(50)))
	u, err := s.GetUser(ctx, "ana")
	require.NoError(t, err)
	assert.True(t, u.Balance.IsZero())

	assert.ErrorIs(t, s.DebitBalance(ctx, "nobody", decimal.NewFromInt(1)), domain.ErrNotFound)
}

func TestAddBalanceMayGoNegative(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seedUser(t, s, "ana", 10)

	require.NoError(t, s.AddBalance(ctx, "ana", decimal.NewFromInt(-25)))
	u, _ := s.GetUser(ctx, "ana")
	assert.True(t, u.Balance.Equal(decimal.NewFromInt(-15)))
}

func TestCreateUserConflict(t *testing.T) {
	s := NewStore()
	seedUser(t, s, "ana", 0)
	err := s.CreateUser(context.Background(), &domain.User{Username: "ana"})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestReturnedUsersAreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seedUser(t, s, "ana", 10)

	u, _ := s.GetUser(ctx, "ana")
	u.Balance = decimal.NewFromInt(1000)

	again, _ := s.GetUser(ctx, "ana")
	assert.True(t, again.Balance.Equal(decimal.NewFromInt(10)))
}

func TestAtomicRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seedUser(t, s, "ana", 100)
	require.NoError(t, s.AppendWager(ctx, &domain.Wager{ID: "w1", Username: "ana", Outcome: domain.OutcomeRed, Amount: decimal.NewFromInt(5)}))

	boom := errors.New("boom")
	err := s.Atomic(ctx, func(repo domain.Repository) error {
		require.NoError(t, repo.DebitBalance(ctx, "ana", decimal.NewFromInt(30)))
		require.NoError(t, repo.ClearWagers(ctx))
		require.NoError(t, repo.AppendRoundHistory(ctx, &domain.RoundHistoryEntry{ID: "h1", Number: 1}))
		require.NoError(t, repo.AppendUserHistory(ctx, []*domain.UserHistoryEntry{{WagerID: "w1", Username: "ana"}}))
		r, _ := repo.LoadRound(ctx)
		r.Number = 99
		require.NoError(t, repo.SaveRound(ctx, r))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	u, _ := s.GetUser(ctx, "ana")
	assert.True(t, u.Balance.Equal(decimal.NewFromInt(100)))
	wagers, _ := s.ListWagers(ctx)
	assert.Len(t, wagers, 1)
	h, _ := s.ListRoundHistory(ctx, domain.HistoryQuery{})
	assert.Empty(t, h)
	uh, _ := s.ListUserHistory(ctx, "ana", 0)
	assert.Empty(t, uh)
	r, _ := s.LoadRound(ctx)
	assert.Equal(t, int64(1), r.Number)

	// the same wager can still be archived after the rollback
	require.NoError(t, s.AppendUserHistory(ctx, []*domain.UserHistoryEntry{{WagerID: "w1", Username: "ana"}}))
}

func TestAtomicCommits(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seedUser(t, s, "ana", 100)

	require.NoError(t, s.Atomic(ctx, func(repo domain.Repository) error {
		return repo.DebitBalance(ctx, "ana", decimal.NewFromInt(30))
	}))
	u, _ := s.GetUser(ctx, "ana")
	assert.True(t, u.Balance.Equal(decimal.NewFromInt(70)))
}

func TestUserHistoryIsIdempotentPerWager(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	entry := &domain.UserHistoryEntry{WagerID: "w1", Username: "ana"}
	require.NoError(t, s.AppendUserHistory(ctx, []*domain.UserHistoryEntry{entry}))
	assert.ErrorIs(t, s.AppendUserHistory(ctx, []*domain.UserHistoryEntry{entry}), domain.ErrConflict)
}

func TestLoadRoundDefault(t *testing.T) {
	r, err := NewStore().LoadRound(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), r.Number)
	assert.True(t, r.Odds.Equal(domain.DefaultOdds))
}

func TestRoundHistoryQueries(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for i := 1; i <= 5; i++ {
		require.NoError(t, s.AppendRoundHistory(ctx, &domain.RoundHistoryEntry{
			ID:        string(rune('a' + i)),
			Number:    int64(i % 3),
			SettledAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	all, _ := s.ListRoundHistory(ctx, domain.HistoryQuery{})
	require.Len(t, all, 5)
	assert.True(t, all[0].SettledAt.After(all[4].SettledAt), "newest first")

	limited, _ := s.ListRoundHistory(ctx, domain.HistoryQuery{Limit: 2})
	assert.Len(t, limited, 2)

	since, _ := s.ListRoundHistory(ctx, domain.HistoryQuery{Since: base.Add(4 * time.Hour)})
	assert.Len(t, since, 2)

	// numbers 1,2,0,1,2: the most recent entry for number 1 is i=4
	e, err := s.GetRoundHistory(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, base.Add(4*time.Hour), e.SettledAt)

	_, err = s.GetRoundHistory(ctx, 77)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUserHistoryNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.AppendUserHistory(ctx, []*domain.UserHistoryEntry{
		{WagerID: "1", Username: "ana", Number: 1},
		{WagerID: "2", Username: "bob", Number: 1},
		{WagerID: "3", Username: "ana", Number: 2},
	}))

	h, err := s.ListUserHistory(ctx, "ana", 0)
	require.NoError(t, err)
	require.Len(t, h, 2)
	assert.Equal(t, "3", h[0].WagerID)

	h, _ = s.ListUserHistory(ctx, "ana", 1)
	assert.Len(t, h, 1)
}

func TestListUsersByRole(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seedUser(t, s, "bob", 0)
	seedUser(t, s, "ana", 0)
	require.NoError(t, s.CreateUser(ctx, &domain.User{Username: "admin", Role: domain.RoleOperator}))

	participants, _ := s.ListUsers(ctx, domain.RoleParticipant)
	require.Len(t, participants, 2)
	assert.Equal(t, "ana", participants[0].Username)

	all, _ := s.ListUsers(ctx, "")
	assert.Len(t, all, 3)
}
