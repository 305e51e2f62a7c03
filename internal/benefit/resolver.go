// Package benefit отвечает за привилегии уровней лояльности при расчёте цены.
package benefit

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/retailmesh/pricing-system/internal/model"
)

// Store читает активные привилегии уровня. Во время расчёта цены данные
// используются только на чтение.
type Store interface {
	ActiveBenefit(ctx context.Context, tier model.Tier, kind model.BenefitKind) (*model.TierBenefit, error)
}

// Resolver вычисляет денежный эффект привилегий уровня лояльности.
type Resolver struct {
	store Store
}

// NewResolver создаёт резолвер привилегий.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// ResolveDiscount возвращает скидку уровня для суммы заказа: процент от суммы,
// ограниченный настроенным максимумом. Непройденный порог минимальной суммы
// заказа означает нулевую скидку, а не ошибку.
func (r *Resolver) ResolveDiscount(ctx context.Context, tier model.Tier, orderAmount decimal.Decimal) (decimal.Decimal, error) {
	b, err := r.store.ActiveBenefit(ctx, tier, model.BenefitDiscount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get discount benefit: %w", err)
	}
	if b == nil {
		return decimal.Zero, nil
	}

	if b.MinOrderAmount.IsPositive() && orderAmount.LessThan(b.MinOrderAmount) {
		return decimal.Zero, nil
	}

	discount := orderAmount.Mul(b.Percent)
	if b.MaxDiscount.IsPositive() && discount.GreaterThan(b.MaxDiscount) {
		discount = b.MaxDiscount
	}

	return discount, nil
}

// FreeShipping сообщает, покрывает ли уровень доставку для данной суммы заказа.
func (r *Resolver) FreeShipping(ctx context.Context, tier model.Tier, orderAmount decimal.Decimal) (bool, error) {
	b, err := r.store.ActiveBenefit(ctx, tier, model.BenefitFreeShipping)
	if err != nil {
		return false, fmt.Errorf("get free shipping benefit: %w", err)
	}
	if b == nil {
		return false, nil
	}

	return !b.MinOrderAmount.IsPositive() || !orderAmount.LessThan(b.MinOrderAmount), nil
}

// PointMultiplier возвращает множитель начисления баллов уровня; без
// привилегии множитель равен единице.
func (r *Resolver) PointMultiplier(ctx context.Context, tier model.Tier) (decimal.Decimal, error) {
	b, err := r.store.ActiveBenefit(ctx, tier, model.BenefitPointMultiplier)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get point multiplier benefit: %w", err)
	}
	if b == nil || !b.Multiplier.IsPositive() {
		return decimal.NewFromInt(1), nil
	}

	return b.Multiplier, nil
}
