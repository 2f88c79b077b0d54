// Package usecase implements the fight engine: the round lifecycle, the
// wager ledger and settlement. Every mutation holds one engine mutex and
// runs inside a single store transaction.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alferparedes26yanez-art/espuelabrava/internal/modules/fight/domain"
	"github.com/alferparedes26yanez-art/espuelabrava/pkg/logger"
	"github.com/alferparedes26yanez-art/espuelabrava/pkg/metrics"
)

// Clock drives the countdown. machine.Clock implements it.
type Clock interface {
	Start(ctx context.Context, fn func(ctx context.Context))
	Stop()
}

// ChangeNotifier is told after every committed mutation
type ChangeNotifier interface {
	Notify(ctx context.Context)
}

// RoundState is a consistent read of the round and its active wagers
type RoundState struct {
	Number             int64                              `json:"number"`
	Odds               decimal.Decimal                    `json:"odds"`
	Open               bool                               `json:"open"`
	RemainingSeconds   int                                `json:"remaining_seconds"`
	OpenedAt           *time.Time                         `json:"opened_at,omitempty"`
	ClosedAt           *time.Time                         `json:"closed_at,omitempty"`
	AwaitingSettlement bool                               `json:"awaiting_settlement"`
	Wagers             []*domain.Wager                    `json:"wagers"`
	TotalsByOutcome    map[domain.Outcome]decimal.Decimal `json:"totals_by_outcome"`
}

// DefaultDriverLease is how long an instance's claim on the countdown
// survives without a tick before another instance may take it over.
const DefaultDriverLease = 3 * time.Second

// FightUseCase owns the singleton round. Several instances may share one
// store; only the one holding the round's driver claim advances the
// countdown on its clock.
type FightUseCase struct {
	mu        sync.RWMutex
	store     domain.Store
	clock     Clock
	notifier  ChangeNotifier
	metrics   *metrics.Metrics
	publisher domain.SettlementPublisher
	now       func() time.Time
	instance  string
	lease     time.Duration
}

// NewFightUseCase creates a new fight use case. notifier and m may be nil.
func NewFightUseCase(store domain.Store, clock Clock, notifier ChangeNotifier, m *metrics.Metrics) *FightUseCase {
	return &FightUseCase{
		store:    store,
		clock:    clock,
		notifier: notifier,
		metrics:  m,
		now:      time.Now,
		instance: uuid.NewString(),
		lease:    DefaultDriverLease,
	}
}

// SetDriverLease changes how long a silent driver keeps its claim. It
// should exceed the clock interval.
func (uc *FightUseCase) SetDriverLease(d time.Duration) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if d > 0 {
		uc.lease = d
	}
}

// SetPublisher sets the downstream settlement stream (optional)
func (uc *FightUseCase) SetPublisher(p domain.SettlementPublisher) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	uc.publisher = p
}

func (uc *FightUseCase) notify(ctx context.Context) {
	if uc.notifier != nil {
		uc.notifier.Notify(ctx)
	}
}

// startClock must be called with uc.mu held. The tick closure is bound to
// the cycle it was started for so a late tick can never touch a newer window.
func (uc *FightUseCase) startClock(ctx context.Context, cycle int64) {
	uc.clock.Start(context.WithoutCancel(ctx), func(tickCtx context.Context) {
		uc.advance(tickCtx, cycle, false)
	})
}

// Open starts a betting window of durationSeconds and makes this instance
// its driver. It fails with ErrInvalidTransition while the round is open,
// and also while a closed round still holds unsettled wagers, so an
// unsettled window is never discarded with its debits.
func (uc *FightUseCase) Open(ctx context.Context, durationSeconds int) error {
	if durationSeconds <= 0 {
		return fmt.Errorf("%w: duration must be positive, got %d", domain.ErrInvalidArgument, durationSeconds)
	}

	uc.mu.Lock()
	var round *domain.Round
	err := uc.store.Atomic(ctx, func(repo domain.Repository) error {
		r, err := repo.LoadRound(ctx)
		if err != nil {
			return err
		}
		if r.Open {
			return fmt.Errorf("%w: round %d is already open", domain.ErrInvalidTransition, r.Number)
		}
		if r.AwaitingSettlement {
			pending, err := repo.ListWagers(ctx)
			if err != nil {
				return err
			}
			if len(pending) > 0 {
				return fmt.Errorf("%w: round %d has %d unsettled wagers", domain.ErrInvalidTransition, r.Number, len(pending))
			}
		}
		if err := repo.ClearWagers(ctx); err != nil {
			return err
		}
		now := uc.now()
		if err := r.StartWindow(durationSeconds, now); err != nil {
			return err
		}
		r.Claim(uc.instance, now)
		round = r
		return repo.SaveRound(ctx, r)
	})
	if err == nil {
		uc.startClock(ctx, round.Cycle)
	}
	uc.mu.Unlock()

	if err != nil {
		logger.Warn(ctx).Err(err).Int("seconds", durationSeconds).Msg("open round rejected")
		return domain.WrapStoreError("open round", err)
	}

	logger.Info(ctx).
		Int64("round", round.Number).
		Int("seconds", durationSeconds).
		Str("odds", round.Odds.String()).
		Msg("betting window opened")
	uc.metrics.WindowOpened()
	uc.metrics.ObserveRound(true, round.RemainingSeconds)
	uc.notify(ctx)
	return nil
}

// Tick advances the countdown by one second regardless of which instance
// drives it. The clock goes through advance instead; Tick is exported for
// manual driving. It reports whether the round changed.
func (uc *FightUseCase) Tick(ctx context.Context) (bool, error) {
	return uc.advance(ctx, 0, true)
}

func (uc *FightUseCase) advance(ctx context.Context, cycle int64, anyCycle bool) (bool, error) {
	uc.mu.Lock()
	var round *domain.Round
	var previous string
	changed := false
	err := uc.store.Atomic(ctx, func(repo domain.Repository) error {
		r, err := repo.LoadRound(ctx)
		if err != nil {
			return err
		}
		now := uc.now()
		if !anyCycle {
			if r.Cycle != cycle || !r.DrivenBy(uc.instance, now, uc.lease) {
				return nil
			}
			previous = r.Driver
		}
		if !r.Tick(now) {
			return nil
		}
		if !anyCycle {
			r.Claim(uc.instance, now)
		}
		changed = true
		round = r
		return repo.SaveRound(ctx, r)
	})
	if err != nil {
		changed = false
	}
	autoClosed := changed && !round.Open
	if autoClosed {
		uc.clock.Stop()
	}
	uc.mu.Unlock()

	if err != nil {
		logger.Error(ctx).Err(err).Msg("tick failed")
		return false, domain.WrapStoreError("tick", err)
	}
	if !changed {
		return false, nil
	}

	if previous != "" && previous != uc.instance {
		logger.Warn(ctx).
			Int64("round", round.Number).
			Str("previous", previous).
			Str("instance", uc.instance).
			Msg("took over countdown from silent instance")
	}
	if autoClosed {
		logger.Info(ctx).Int64("round", round.Number).Msg("betting window expired")
	}
	uc.metrics.ObserveRound(round.Open, round.RemainingSeconds)
	uc.notify(ctx)
	return true, nil
}

// ForceClose ends the betting window before its deadline
func (uc *FightUseCase) ForceClose(ctx context.Context) error {
	uc.mu.Lock()
	var round *domain.Round
	err := uc.store.Atomic(ctx, func(repo domain.Repository) error {
		r, err := repo.LoadRound(ctx)
		if err != nil {
			return err
		}
		if err := r.ForceClose(uc.now()); err != nil {
			return err
		}
		round = r
		return repo.SaveRound(ctx, r)
	})
	if err == nil {
		uc.clock.Stop()
	}
	uc.mu.Unlock()

	if err != nil {
		return domain.WrapStoreError("close round", err)
	}

	logger.Info(ctx).Int64("round", round.Number).Msg("betting window closed by operator")
	uc.metrics.ObserveRound(false, 0)
	uc.notify(ctx)
	return nil
}

// SetRoundNumber renumbers the current round
func (uc *FightUseCase) SetRoundNumber(ctx context.Context, n int64) error {
	err := uc.mutateRound(ctx, "set round number", func(r *domain.Round) error {
		return r.SetNumber(n)
	})
	if err == nil {
		logger.Info(ctx).Int64("round", n).Msg("round number changed")
	}
	return err
}

// SetOdds changes the payout multiplier used by the next settlement
func (uc *FightUseCase) SetOdds(ctx context.Context, odds decimal.Decimal) error {
	err := uc.mutateRound(ctx, "set odds", func(r *domain.Round) error {
		return r.SetOdds(odds)
	})
	if err == nil {
		logger.Info(ctx).Str("odds", odds.String()).Msg("odds changed")
	}
	return err
}

func (uc *FightUseCase) mutateRound(ctx context.Context, op string, fn func(r *domain.Round) error) error {
	uc.mu.Lock()
	err := uc.store.Atomic(ctx, func(repo domain.Repository) error {
		r, err := repo.LoadRound(ctx)
		if err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
		return repo.SaveRound(ctx, r)
	})
	uc.mu.Unlock()

	if err != nil {
		return domain.WrapStoreError(op, err)
	}
	uc.notify(ctx)
	return nil
}

// PlaceWager debits amount from username and records the wager, both in
// one transaction.
func (uc *FightUseCase) PlaceWager(ctx context.Context, username string, outcome domain.Outcome, amount decimal.Decimal) (*domain.Wager, error) {
	ctx = logger.WithFields(ctx, map[string]interface{}{
		"username": username,
	})

	uc.mu.Lock()
	var wager *domain.Wager
	var round *domain.Round
	err := uc.store.Atomic(ctx, func(repo domain.Repository) error {
		r, err := repo.LoadRound(ctx)
		if err != nil {
			return err
		}
		if !r.CanAcceptWager() {
			return fmt.Errorf("%w: round %d", domain.ErrRoundClosed, r.Number)
		}
		if !outcome.Valid() {
			return fmt.Errorf("%w: unknown outcome %q", domain.ErrInvalidArgument, outcome)
		}
		if !amount.IsPositive() {
			return fmt.Errorf("%w: amount must be positive, got %s", domain.ErrInvalidArgument, amount)
		}
		if err := domain.CheckScale("amount", amount); err != nil {
			return err
		}
		if err := repo.DebitBalance(ctx, username, amount); err != nil {
			return err
		}
		w := domain.NewWager(username, outcome, amount, uc.now())
		if err := repo.AppendWager(ctx, w); err != nil {
			return err
		}
		wager = w
		round = r
		return nil
	})
	uc.mu.Unlock()

	if err != nil {
		uc.metrics.WagerRejected(rejectReason(err))
		logger.Warn(ctx).
			Err(err).
			Str("outcome", string(outcome)).
			Str("amount", amount.String()).
			Msg("wager rejected")
		return nil, domain.WrapStoreError("place wager", err)
	}

	logger.Info(ctx).
		Int64("round", round.Number).
		Str("wager_id", wager.ID).
		Str("outcome", string(outcome)).
		Str("amount", amount.String()).
		Msg("wager accepted")
	uc.metrics.WagerPlaced(string(outcome), amount)
	uc.notify(ctx)
	return wager, nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrRoundClosed):
		return "round_closed"
	case errors.Is(err, domain.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, domain.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, domain.ErrNotFound):
		return "unknown_user"
	default:
		return "internal"
	}
}

// GetRoundState reads the round and its wagers under the read lock
func (uc *FightUseCase) GetRoundState(ctx context.Context) (*RoundState, error) {
	uc.mu.RLock()
	defer uc.mu.RUnlock()

	r, err := uc.store.LoadRound(ctx)
	if err != nil {
		return nil, domain.WrapStoreError("load round", err)
	}
	wagers, err := uc.store.ListWagers(ctx)
	if err != nil {
		return nil, domain.WrapStoreError("list wagers", err)
	}

	totals := make(map[domain.Outcome]decimal.Decimal, len(domain.Outcomes))
	for _, o := range domain.Outcomes {
		totals[o] = decimal.Zero
	}
	for _, w := range wagers {
		totals[w.Outcome] = totals[w.Outcome].Add(w.Amount)
	}

	return &RoundState{
		Number:             r.Number,
		Odds:               r.Odds,
		Open:               r.Open,
		RemainingSeconds:   r.RemainingSeconds,
		OpenedAt:           r.OpenedAt,
		ClosedAt:           r.ClosedAt,
		AwaitingSettlement: r.AwaitingSettlement,
		Wagers:             wagers,
		TotalsByOutcome:    totals,
	}, nil
}

// Resume restarts the countdown after a process restart if the persisted
// round is still open. This instance takes over as its driver.
func (uc *FightUseCase) Resume(ctx context.Context) error {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	var r *domain.Round
	err := uc.store.Atomic(ctx, func(repo domain.Repository) error {
		var err error
		r, err = repo.LoadRound(ctx)
		if err != nil || !r.Open {
			return err
		}
		r.Claim(uc.instance, uc.now())
		return repo.SaveRound(ctx, r)
	})
	if err != nil {
		return domain.WrapStoreError("resume round", err)
	}
	uc.metrics.ObserveRound(r.Open, r.RemainingSeconds)
	if !r.Open {
		return nil
	}

	logger.Info(ctx).
		Int64("round", r.Number).
		Int("remaining", r.RemainingSeconds).
		Msg("resuming countdown of open round")
	uc.startClock(ctx, r.Cycle)
	return nil
}

// Shutdown stops the countdown; the persisted round keeps its state
func (uc *FightUseCase) Shutdown() {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	uc.clock.Stop()
}
