package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Repository is the persistence surface the fight engine works against.
// Implementations return ErrNotFound for missing users and
// ErrInsufficientFunds from DebitBalance; every other failure is opaque.
type Repository interface {
	GetUser(ctx context.Context, username string) (*User, error)
	ListUsers(ctx context.Context, role Role) ([]*User, error)
	CreateUser(ctx context.Context, user *User) error
	// DebitBalance subtracts amount only if the balance covers it
	DebitBalance(ctx context.Context, username string, amount decimal.Decimal) error
	// AddBalance adds delta unconditionally; delta may be negative
	AddBalance(ctx context.Context, username string, delta decimal.Decimal) error

	// LoadRound returns the singleton record, or a fresh default if none was saved
	LoadRound(ctx context.Context) (*Round, error)
	SaveRound(ctx context.Context, round *Round) error

	AppendWager(ctx context.Context, wager *Wager) error
	ListWagers(ctx context.Context) ([]*Wager, error)
	ClearWagers(ctx context.Context) error

	AppendRoundHistory(ctx context.Context, entry *RoundHistoryEntry) error
	AppendUserHistory(ctx context.Context, entries []*UserHistoryEntry) error
	// ListRoundHistory returns entries newest first
	ListRoundHistory(ctx context.Context, q HistoryQuery) ([]*RoundHistoryEntry, error)
	// GetRoundHistory returns the most recent entry for a round number
	GetRoundHistory(ctx context.Context, number int64) (*RoundHistoryEntry, error)
	// ListUserHistory returns a user's entries newest first
	ListUserHistory(ctx context.Context, username string, limit int) ([]*UserHistoryEntry, error)
}

// Store is a Repository with a transactional boundary
type Store interface {
	Repository
	// Atomic runs fn against a transactional view. If fn returns an error
	// nothing it wrote is visible afterwards.
	Atomic(ctx context.Context, fn func(repo Repository) error) error
	Close() error
}
