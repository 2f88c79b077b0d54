package domain

import (
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Wager is a single bet on the active round. A stored wager is proof that
// its amount was already debited from the owner's balance.
type Wager struct {
	ID        string          `gorm:"primaryKey;type:varchar(32)" json:"id"`
	Username  string          `gorm:"type:varchar(64);not null;index" json:"username"`
	Outcome   Outcome         `gorm:"type:varchar(8);not null" json:"outcome"`
	Amount    decimal.Decimal `gorm:"type:decimal(24,8);not null" json:"amount"`
	CreatedAt time.Time       `gorm:"not null" json:"created_at"`
}

// TableName overrides the table name
func (Wager) TableName() string {
	return "active_wagers"
}

var (
	node     *snowflake.Node
	nodeOnce sync.Once
	nodeID   int64 = 1
)

// SetNodeID sets the snowflake node used for wager IDs. It must be called
// before the first wager is created; later calls have no effect.
func SetNodeID(id int64) {
	nodeID = id
}

func initSnowflake() {
	var err error
	node, err = snowflake.NewNode(nodeID)
	if err != nil {
		panic(err)
	}
}

// NewWager creates a new wager stamped with now
func NewWager(username string, outcome Outcome, amount decimal.Decimal, now time.Time) *Wager {
	return &Wager{
		ID:        generateWagerID(),
		Username:  username,
		Outcome:   outcome,
		Amount:    amount,
		CreatedAt: now,
	}
}

func generateWagerID() string {
	nodeOnce.Do(initSnowflake)
	return node.Generate().String()
}
