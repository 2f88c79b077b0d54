package domain

import "context"

// SettlementPublisher streams settled rounds to downstream consumers
type SettlementPublisher interface {
	PublishSettlement(ctx context.Context, entry *RoundHistoryEntry) error
}
