package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alferparedes26yanez-art/espuelabrava/internal/modules/fight/domain"
	"github.com/alferparedes26yanez-art/espuelabrava/pkg/logger"
)

// Settle declares the outcome of the closed round, pays every winning
// wager at the current odds, archives the round and resets it. It returns
// the total amount paid out. A round still open, or one with no window
// since the last settlement, fails with ErrInvalidTransition so a window
// is never paid twice.
func (uc *FightUseCase) Settle(ctx context.Context, outcome domain.Outcome) (decimal.Decimal, error) {
	if !outcome.Valid() {
		return decimal.Zero, fmt.Errorf("%w: unknown outcome %q", domain.ErrInvalidArgument, outcome)
	}

	uc.mu.Lock()
	start := time.Now()
	publisher := uc.publisher
	var entry *domain.RoundHistoryEntry
	err := uc.store.Atomic(ctx, func(repo domain.Repository) error {
		var err error
		entry, err = uc.settle(ctx, repo, outcome)
		return err
	})
	if err == nil {
		uc.clock.Stop()
	}
	uc.mu.Unlock()
	took := time.Since(start)

	if err != nil {
		logger.Error(ctx).Err(err).Str("outcome", string(outcome)).Msg("settlement failed")
		return decimal.Zero, domain.WrapStoreError("settle round", err)
	}

	logger.Info(ctx).
		Int64("round", entry.Number).
		Str("outcome", string(outcome)).
		Str("odds", entry.Odds.String()).
		Int("wagers", entry.WagerCount).
		Str("total_wagered", entry.TotalWagered.String()).
		Str("total_paid_out", entry.TotalPaidOut.String()).
		Dur("duration", took).
		Msg("round settled")

	uc.metrics.Settled(string(outcome), entry.TotalPaidOut, took)
	uc.metrics.ObserveRound(false, 0)
	if publisher != nil {
		if err := publisher.PublishSettlement(ctx, entry); err != nil {
			logger.Error(ctx).Err(err).Int64("round", entry.Number).Msg("publish settlement failed")
		}
	}
	uc.notify(ctx)
	return entry.TotalPaidOut, nil
}

// settle runs inside the transaction. Odds are read exactly once; every
// payout below uses that value.
func (uc *FightUseCase) settle(ctx context.Context, repo domain.Repository, outcome domain.Outcome) (*domain.RoundHistoryEntry, error) {
	r, err := repo.LoadRound(ctx)
	if err != nil {
		return nil, err
	}
	if err := r.CanSettle(); err != nil {
		return nil, err
	}

	wagers, err := repo.ListWagers(ctx)
	if err != nil {
		return nil, err
	}
	odds := r.Odds
	settledAt := uc.now()

	totalWagered := decimal.Zero
	totalPaidOut := decimal.Zero
	userEntries := make([]*domain.UserHistoryEntry, 0, len(wagers))
	snapshot := make([]domain.Wager, 0, len(wagers))

	for _, w := range wagers {
		won := w.Outcome == outcome
		payout := decimal.Zero
		if won {
			payout = domain.Payout(w.Amount, odds)
			// one credit per wager, never merged per user
			if err := repo.AddBalance(ctx, w.Username, payout); err != nil {
				return nil, fmt.Errorf("credit wager %s: %w", w.ID, err)
			}
		}

		totalWagered = totalWagered.Add(w.Amount)
		totalPaidOut = totalPaidOut.Add(payout)
		snapshot = append(snapshot, *w)
		userEntries = append(userEntries, &domain.UserHistoryEntry{
			WagerID:   w.ID,
			Username:  w.Username,
			Number:    r.Number,
			Outcome:   w.Outcome,
			Amount:    w.Amount,
			Odds:      odds,
			Declared:  outcome,
			Won:       won,
			Payout:    payout,
			CreatedAt: settledAt,
		})
	}

	if len(userEntries) > 0 {
		if err := repo.AppendUserHistory(ctx, userEntries); err != nil {
			return nil, err
		}
	}

	entry := domain.NewRoundHistoryEntry()
	entry.Number = r.Number
	entry.Odds = odds
	entry.Outcome = outcome
	entry.TotalWagered = totalWagered
	entry.TotalPaidOut = totalPaidOut
	entry.WagerCount = len(wagers)
	entry.OpenedAt = r.OpenedAt
	entry.ClosedAt = r.ClosedAt
	entry.SettledAt = settledAt
	entry.Wagers = snapshot
	if err := repo.AppendRoundHistory(ctx, entry); err != nil {
		return nil, err
	}

	if err := repo.ClearWagers(ctx); err != nil {
		return nil, err
	}
	r.Reset()
	if err := repo.SaveRound(ctx, r); err != nil {
		return nil, err
	}
	return entry, nil
}
