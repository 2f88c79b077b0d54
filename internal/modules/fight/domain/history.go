package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RoundHistoryEntry archives one settled round. Entries are append-only.
type RoundHistoryEntry struct {
	ID           string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Number       int64           `gorm:"not null;index" json:"number"`
	Odds         decimal.Decimal `gorm:"type:decimal(24,8);not null" json:"odds"`
	Outcome      Outcome         `gorm:"type:varchar(8);not null" json:"outcome"`
	TotalWagered decimal.Decimal `gorm:"type:decimal(24,8);not null" json:"total_wagered"`
	TotalPaidOut decimal.Decimal `gorm:"type:decimal(24,8);not null" json:"total_paid_out"`
	WagerCount   int             `gorm:"not null" json:"wager_count"`
	OpenedAt     *time.Time      `json:"opened_at,omitempty"`
	ClosedAt     *time.Time      `json:"closed_at,omitempty"`
	SettledAt    time.Time       `gorm:"not null;index" json:"settled_at"`
	Wagers       []Wager         `gorm:"serializer:json;type:text" json:"wagers"`
}

// TableName overrides the table name
func (RoundHistoryEntry) TableName() string {
	return "round_history"
}

// NewRoundHistoryEntry creates an entry with a fresh ID
func NewRoundHistoryEntry() *RoundHistoryEntry {
	return &RoundHistoryEntry{ID: uuid.NewString()}
}

// UserHistoryEntry records how one wager resolved. It is keyed by the
// wager ID, so a wager can only ever produce one entry.
type UserHistoryEntry struct {
	WagerID   string          `gorm:"primaryKey;type:varchar(32)" json:"wager_id"`
	Username  string          `gorm:"type:varchar(64);not null;index:idx_user_created,priority:1" json:"username"`
	Number    int64           `gorm:"not null" json:"number"`
	Outcome   Outcome         `gorm:"type:varchar(8);not null" json:"outcome"`
	Amount    decimal.Decimal `gorm:"type:decimal(24,8);not null" json:"amount"`
	Odds      decimal.Decimal `gorm:"type:decimal(24,8);not null" json:"odds"`
	Declared  Outcome         `gorm:"type:varchar(8);not null" json:"declared"`
	Won       bool            `gorm:"not null" json:"won"`
	Payout    decimal.Decimal `gorm:"type:decimal(24,8);not null" json:"payout"`
	CreatedAt time.Time       `gorm:"not null;index:idx_user_created,priority:2" json:"created_at"`
}

// TableName overrides the table name
func (UserHistoryEntry) TableName() string {
	return "user_history"
}

// HistoryQuery filters round history. Zero values mean unbounded.
type HistoryQuery struct {
	Since time.Time
	Until time.Time
	Limit int
}

// Matches reports whether e falls into the query window
func (q HistoryQuery) Matches(e *RoundHistoryEntry) bool {
	if !q.Since.IsZero() && e.SettledAt.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && !e.SettledAt.Before(q.Until) {
		return false
	}
	return true
}

// UserStats summarizes a user's wagering record
type UserStats struct {
	TotalWagers    int             `json:"total_wagers"`
	Won            int             `json:"won"`
	Lost           int             `json:"lost"`
	TotalWagered   decimal.Decimal `json:"total_wagered"`
	TotalWon       decimal.Decimal `json:"total_won"`
	SuccessPercent float64         `json:"success_percent"`
}
