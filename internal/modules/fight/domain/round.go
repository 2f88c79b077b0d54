package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RoundRecordID is the primary key of the singleton round row
const RoundRecordID = 1

// DefaultOdds is the payout multiplier a fresh installation starts with
var DefaultOdds = decimal.RequireFromString("1.80")

// Round is the singleton fight record. It is either Closed or Open; every
// transition goes through the methods below so callers cannot skip a check.
type Round struct {
	ID                 uint            `gorm:"primaryKey" json:"-"`
	Number             int64           `gorm:"not null" json:"number"`
	Odds               decimal.Decimal `gorm:"type:decimal(24,8);not null" json:"odds"`
	Open               bool            `gorm:"not null" json:"open"`
	RemainingSeconds   int             `gorm:"not null" json:"remaining_seconds"`
	OpenedAt           *time.Time      `json:"opened_at,omitempty"`
	ClosedAt           *time.Time      `json:"closed_at,omitempty"`
	Cycle              int64           `gorm:"not null" json:"-"`
	AwaitingSettlement bool            `gorm:"not null" json:"awaiting_settlement"`
	Driver             string          `gorm:"size:64" json:"-"`
	DrivenAt           *time.Time      `json:"-"`
	UpdatedAt          time.Time       `json:"-"`
}

// TableName overrides the table name
func (Round) TableName() string {
	return "fight_round"
}

// NewRound returns the record a store hands out before anything was saved
func NewRound() *Round {
	return &Round{
		ID:     RoundRecordID,
		Number: 1,
		Odds:   DefaultOdds,
	}
}

// Clone returns a deep copy
func (r *Round) Clone() *Round {
	c := *r
	if r.OpenedAt != nil {
		t := *r.OpenedAt
		c.OpenedAt = &t
	}
	if r.ClosedAt != nil {
		t := *r.ClosedAt
		c.ClosedAt = &t
	}
	if r.DrivenAt != nil {
		t := *r.DrivenAt
		c.DrivenAt = &t
	}
	return &c
}

// StartWindow opens the betting window for durationSeconds. The caller is
// responsible for clearing the active wager set in the same transaction.
func (r *Round) StartWindow(durationSeconds int, now time.Time) error {
	if durationSeconds <= 0 {
		return fmt.Errorf("%w: duration must be positive, got %d", ErrInvalidArgument, durationSeconds)
	}
	if r.Open {
		return fmt.Errorf("%w: round %d is already open", ErrInvalidTransition, r.Number)
	}

	opened := now
	r.Open = true
	r.RemainingSeconds = durationSeconds
	r.OpenedAt = &opened
	r.ClosedAt = nil
	r.Cycle++
	r.AwaitingSettlement = true
	return nil
}

// Tick advances the countdown by one second. It reports whether the record
// changed; a closed round or one already at zero is left untouched.
func (r *Round) Tick(now time.Time) bool {
	if !r.Open || r.RemainingSeconds <= 0 {
		return false
	}
	r.RemainingSeconds--
	if r.RemainingSeconds <= 0 {
		r.RemainingSeconds = 0
		r.close(now)
	}
	return true
}

// ForceClose ends the betting window early
func (r *Round) ForceClose(now time.Time) error {
	if !r.Open {
		return fmt.Errorf("%w: round %d is not open", ErrInvalidTransition, r.Number)
	}
	r.RemainingSeconds = 0
	r.close(now)
	return nil
}

// Claim records driver as the instance counting the window down
func (r *Round) Claim(driver string, now time.Time) {
	at := now
	r.Driver = driver
	r.DrivenAt = &at
}

// DrivenBy reports whether driver may advance the countdown at now.
// Another instance's claim lapses once it has not ticked for lease.
func (r *Round) DrivenBy(driver string, now time.Time, lease time.Duration) bool {
	if r.Driver == "" || r.Driver == driver {
		return true
	}
	return r.DrivenAt == nil || now.Sub(*r.DrivenAt) >= lease
}

func (r *Round) close(now time.Time) {
	closed := now
	r.Open = false
	r.ClosedAt = &closed
}

// SetNumber renumbers the round. Allowed in either state.
func (r *Round) SetNumber(n int64) error {
	if n <= 0 {
		return fmt.Errorf("%w: round number must be positive, got %d", ErrInvalidArgument, n)
	}
	r.Number = n
	return nil
}

// SetOdds changes the payout multiplier. Allowed in either state; wagers
// already placed are paid at whatever odds are current at settlement.
func (r *Round) SetOdds(odds decimal.Decimal) error {
	if !odds.IsPositive() {
		return fmt.Errorf("%w: odds must be positive, got %s", ErrInvalidArgument, odds)
	}
	if err := CheckScale("odds", odds); err != nil {
		return err
	}
	r.Odds = odds
	return nil
}

// CanAcceptWager checks if wagers can be accepted
func (r *Round) CanAcceptWager() bool {
	return r.Open && r.RemainingSeconds > 0
}

// CanSettle checks whether the record is closed with a window awaiting a result
func (r *Round) CanSettle() error {
	if r.Open {
		return fmt.Errorf("%w: round %d is still open", ErrInvalidTransition, r.Number)
	}
	if !r.AwaitingSettlement {
		return fmt.Errorf("%w: round %d has nothing to settle", ErrInvalidTransition, r.Number)
	}
	return nil
}

// Reset puts the record back into the idle closed state after settlement
func (r *Round) Reset() {
	r.Open = false
	r.RemainingSeconds = 0
	r.AwaitingSettlement = false
}
