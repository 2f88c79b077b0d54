package usecase

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alferparedes26yanez-art/espuelabrava/internal/modules/fight/domain"
	"github.com/alferparedes26yanez-art/espuelabrava/pkg/logger"
)

// Debit subtracts amount from a balance, refusing to overdraw it
func (uc *FightUseCase) Debit(ctx context.Context, username string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: debit amount must be positive, got %s", domain.ErrInvalidArgument, amount)
	}
	if err := domain.CheckScale("amount", amount); err != nil {
		return err
	}
	return uc.mutateBalance(ctx, "debit", func(repo domain.Repository) error {
		return repo.DebitBalance(ctx, username, amount)
	})
}

// Credit adds amount to a balance
func (uc *FightUseCase) Credit(ctx context.Context, username string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: credit amount must not be negative, got %s", domain.ErrInvalidArgument, amount)
	}
	if err := domain.CheckScale("amount", amount); err != nil {
		return err
	}
	return uc.mutateBalance(ctx, "credit", func(repo domain.Repository) error {
		return repo.AddBalance(ctx, username, amount)
	})
}

// Adjust is the operator override. Subtracting has no floor, so a balance
// may end up negative. It returns the user after the change.
func (uc *FightUseCase) Adjust(ctx context.Context, username string, amount decimal.Decimal, direction domain.AdjustDirection) (*domain.User, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: adjustment amount must be positive, got %s", domain.ErrInvalidArgument, amount)
	}
	if !direction.Valid() {
		return nil, fmt.Errorf("%w: unknown direction %q", domain.ErrInvalidArgument, direction)
	}
	if err := domain.CheckScale("amount", amount); err != nil {
		return nil, err
	}

	delta := amount
	if direction == domain.AdjustSubtract {
		delta = amount.Neg()
	}

	var user *domain.User
	err := uc.mutateBalance(ctx, "adjust", func(repo domain.Repository) error {
		if err := repo.AddBalance(ctx, username, delta); err != nil {
			return err
		}
		u, err := repo.GetUser(ctx, username)
		if err != nil {
			return err
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx).
		Str("target", username).
		Str("direction", string(direction)).
		Str("amount", amount.String()).
		Str("balance", user.Balance.String()).
		Msg("balance adjusted")
	if user.Balance.IsNegative() {
		logger.Warn(ctx).Str("target", username).Str("balance", user.Balance.String()).Msg("balance is negative after adjustment")
	}
	uc.metrics.Adjusted(string(direction))
	return user, nil
}

func (uc *FightUseCase) mutateBalance(ctx context.Context, op string, fn func(repo domain.Repository) error) error {
	uc.mu.Lock()
	err := uc.store.Atomic(ctx, fn)
	uc.mu.Unlock()

	if err != nil {
		return domain.WrapStoreError(op, err)
	}
	uc.notify(ctx)
	return nil
}
