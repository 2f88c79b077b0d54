// Package kafka streams settled rounds to a Kafka topic
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/shopspring/decimal"

	"github.com/alferparedes26yanez-art/espuelabrava/internal/modules/fight/domain"
	"github.com/alferparedes26yanez-art/espuelabrava/pkg/logger"
)

// SettlementEvent is the message value. Wager detail stays in the
// round history store; consumers fetch it by number when needed.
type SettlementEvent struct {
	ID           string          `json:"id"`
	Number       int64           `json:"number"`
	Outcome      domain.Outcome  `json:"outcome"`
	Odds         decimal.Decimal `json:"odds"`
	TotalWagered decimal.Decimal `json:"total_wagered"`
	TotalPaidOut decimal.Decimal `json:"total_paid_out"`
	WagerCount   int             `json:"wager_count"`
	SettledAt    time.Time       `json:"settled_at"`
}

// Publisher implements domain.SettlementPublisher
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewProducerConfig returns the producer settings used in production
func NewProducerConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Producer.RequiredAcks = sarama.WaitForAll // wait for all in-sync replicas
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true
	return cfg
}

// NewPublisher dials the brokers
func NewPublisher(brokers []string, topic, clientID string) (*Publisher, error) {
	producer, err := sarama.NewSyncProducer(brokers, NewProducerConfig(clientID))
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewPublisherWithProducer(producer, topic), nil
}

// NewPublisherWithProducer wraps an existing producer
func NewPublisherWithProducer(producer sarama.SyncProducer, topic string) *Publisher {
	return &Publisher{producer: producer, topic: topic}
}

// PublishSettlement sends one message keyed by round number
func (p *Publisher) PublishSettlement(ctx context.Context, entry *domain.RoundHistoryEntry) error {
	value, err := json.Marshal(SettlementEvent{
		ID:           entry.ID,
		Number:       entry.Number,
		Outcome:      entry.Outcome,
		Odds:         entry.Odds,
		TotalWagered: entry.TotalWagered,
		TotalPaidOut: entry.TotalPaidOut,
		WagerCount:   entry.WagerCount,
		SettledAt:    entry.SettledAt,
	})
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(strconv.FormatInt(entry.Number, 10)),
		Value: sarama.ByteEncoder(value),
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to publish settlement of round %d: %w", entry.Number, err)
	}

	logger.Debug(ctx).
		Str("topic", p.topic).
		Int32("partition", partition).
		Int64("offset", offset).
		Int64("round", entry.Number).
		Msg("settlement published")
	return nil
}

// Close closes the producer
func (p *Publisher) Close() error {
	return p.producer.Close()
}
