package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role defines what a user may do
type Role string

const (
	RoleOperator    Role = "operator"
	RoleParticipant Role = "participant"
)

// AdjustDirection selects whether an operator adjustment adds or subtracts
type AdjustDirection string

const (
	AdjustAdd      AdjustDirection = "add"
	AdjustSubtract AdjustDirection = "subtract"
)

// Valid reports whether d is a known direction
func (d AdjustDirection) Valid() bool {
	return d == AdjustAdd || d == AdjustSubtract
}

// User represents an account holding a balance
type User struct {
	Username     string          `gorm:"primaryKey;type:varchar(64)" json:"username"`
	Name         string          `gorm:"type:varchar(128);not null" json:"name"`
	PasswordHash string          `gorm:"type:varchar(128);not null" json:"-"`
	Balance      decimal.Decimal `gorm:"type:decimal(24,8);not null;default:0" json:"balance"`
	Role         Role            `gorm:"type:varchar(16);not null;index" json:"role"`
	CreatedAt    time.Time       `gorm:"not null" json:"created_at"`
}

// TableName overrides the table name
func (User) TableName() string {
	return "users"
}

// IsOperator checks if the user may run rounds
func (u *User) IsOperator() bool {
	return u.Role == RoleOperator
}

// Clone returns a copy safe to hand out of a lock
func (u *User) Clone() *User {
	c := *u
	return &c
}
