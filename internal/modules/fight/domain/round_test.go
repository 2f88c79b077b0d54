package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRoundDefaults(t *testing.T) {
	r := NewRound()
	assert.Equal(t, int64(1), r.Number)
	assert.True(t, r.Odds.Equal(decimal.RequireFromString("1.80")))
	assert.False(t, r.Open)
	assert.Equal(t, 0, r.RemainingSeconds)
	assert.False(t, r.AwaitingSettlement)
}

func TestStartWindow(t *testing.T) {
	now := time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)
	r := NewRound()

	require.NoError(t, r.StartWindow(60, now))
	assert.True(t, r.Open)
	assert.Equal(t, 60, r.RemainingSeconds)
	require.NotNil(t, r.OpenedAt)
	assert.Equal(t, now, *r.OpenedAt)
	assert.Nil(t, r.ClosedAt)
	assert.Equal(t, int64(1), r.Cycle)
	assert.True(t, r.AwaitingSettlement)
	assert.True(t, r.CanAcceptWager())

	err := r.StartWindow(30, now)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, 60, r.RemainingSeconds)
}

func TestStartWindowRejectsBadDuration(t *testing.T) {
	for _, d := range []int{0, -5} {
		r := NewRound()
		err := r.StartWindow(d, time.Now())
		assert.ErrorIs(t, err, ErrInvalidArgument)
		assert.False(t, r.Open)
	}
}

func TestTickCountsDownAndCloses(t *testing.T) {
	now := time.Now()
	r := NewRound()
	require.NoError(t, r.StartWindow(3, now))

	assert.True(t, r.Tick(now))
	assert.True(t, r.Tick(now))
	assert.Equal(t, 1, r.RemainingSeconds)
	assert.True(t, r.Open)

	assert.True(t, r.Tick(now))
	assert.Equal(t, 0, r.RemainingSeconds)
	assert.False(t, r.Open)
	assert.NotNil(t, r.ClosedAt)
	assert.False(t, r.CanAcceptWager())

	// floored at zero, no further change
	assert.False(t, r.Tick(now))
	assert.Equal(t, 0, r.RemainingSeconds)
}

func TestTickIsNoOpWhenClosed(t *testing.T) {
	r := NewRound()
	assert.False(t, r.Tick(time.Now()))
	assert.Equal(t, 0, r.RemainingSeconds)
	assert.False(t, r.Open)
}

func TestForceClose(t *testing.T) {
	r := NewRound()
	assert.ErrorIs(t, r.ForceClose(time.Now()), ErrInvalidTransition)

	require.NoError(t, r.StartWindow(60, time.Now()))
	require.NoError(t, r.ForceClose(time.Now()))
	assert.False(t, r.Open)
	assert.Equal(t, 0, r.RemainingSeconds)
	assert.True(t, r.AwaitingSettlement)

	assert.ErrorIs(t, r.ForceClose(time.Now()), ErrInvalidTransition)
}

func TestSetNumberAndOdds(t *testing.T) {
	r := NewRound()

	assert.ErrorIs(t, r.SetNumber(0), ErrInvalidArgument)
	assert.ErrorIs(t, r.SetNumber(-1), ErrInvalidArgument)
	require.NoError(t, r.SetNumber(42))
	assert.Equal(t, int64(42), r.Number)

	assert.ErrorIs(t, r.SetOdds(decimal.Zero), ErrInvalidArgument)
	assert.ErrorIs(t, r.SetOdds(decimal.NewFromInt(-2)), ErrInvalidArgument)
	require.NoError(t, r.SetOdds(decimal.RequireFromString("2.5")))
	assert.ErrorIs(t, r.SetOdds(decimal.RequireFromString("1.333333333")), ErrInvalidArgument)
	assert.True(t, r.Odds.Equal(decimal.RequireFromString("2.5")))

	// both allowed while open
	require.NoError(t, r.StartWindow(10, time.Now()))
	require.NoError(t, r.SetNumber(43))
	require.NoError(t, r.SetOdds(decimal.RequireFromString("1.9")))
	assert.True(t, r.Odds.Equal(decimal.RequireFromString("1.9")))
}

func TestCanSettle(t *testing.T) {
	r := NewRound()
	assert.ErrorIs(t, r.CanSettle(), ErrInvalidTransition)

	require.NoError(t, r.StartWindow(10, time.Now()))
	assert.ErrorIs(t, r.CanSettle(), ErrInvalidTransition)

	require.NoError(t, r.ForceClose(time.Now()))
	assert.NoError(t, r.CanSettle())

	r.Reset()
	assert.ErrorIs(t, r.CanSettle(), ErrInvalidTransition)
}

func TestCloneIsDeep(t *testing.T) {
	r := NewRound()
	require.NoError(t, r.StartWindow(10, time.Now()))
	c := r.Clone()
	*c.OpenedAt = c.OpenedAt.Add(time.Hour)
	c.RemainingSeconds = 1
	assert.NotEqual(t, *r.OpenedAt, *c.OpenedAt)
	assert.Equal(t, 10, r.RemainingSeconds)
}

func TestParseOutcome(t *testing.T) {
	cases := map[string]Outcome{
		"red":    OutcomeRed,
		" Rojo ": OutcomeRed,
		"BLUE":   OutcomeBlue,
		"azul":   OutcomeBlue,
		"tie":    OutcomeTie,
		"Empate": OutcomeTie,
	}
	for in, want := range cases {
		got, err := ParseOutcome(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParseOutcome("green")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.False(t, Outcome("green").Valid())
}

func TestPersistenceErrorMatchesBoth(t *testing.T) {
	cause := errors.New("disk full")
	err := WrapStoreError("save round", cause)

	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "save round")

	assert.Nil(t, WrapStoreError("noop", nil))
	assert.Equal(t, ErrInsufficientFunds, WrapStoreError("debit", ErrInsufficientFunds))
}

func TestHistoryQueryMatches(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	e := &RoundHistoryEntry{SettledAt: base}

	assert.True(t, HistoryQuery{}.Matches(e))
	assert.True(t, HistoryQuery{Since: base}.Matches(e))
	assert.False(t, HistoryQuery{Since: base.Add(time.Second)}.Matches(e))
	assert.False(t, HistoryQuery{Until: base}.Matches(e))
	assert.True(t, HistoryQuery{Until: base.Add(time.Second)}.Matches(e))
}

func TestDriverClaimLapses(t *testing.T) {
	now := time.Now()
	r := NewRound()
	assert.True(t, r.DrivenBy("a", now, 3*time.Second), "unclaimed")

	r.Claim("a", now)
	assert.True(t, r.DrivenBy("a", now, 3*time.Second))
	assert.False(t, r.DrivenBy("b", now.Add(2*time.Second), 3*time.Second))
	assert.True(t, r.DrivenBy("b", now.Add(3*time.Second), 3*time.Second))

	c := r.Clone()
	*c.DrivenAt = now.Add(time.Hour)
	assert.True(t, r.DrivenAt.Equal(now), "clone is deep")
}
