// Package coupon реализует проверку купонов и вычисление купонной скидки.
package coupon

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/retailmesh/pricing-system/internal/model"
)

// Store предоставляет доступ к купонам сервиса лояльности.
type Store interface {
	GetByCode(ctx context.Context, code string) (*model.Coupon, error)
	RecordUsage(ctx context.Context, couponID uuid.UUID, userID int64, orderID string) error
}

// Applied описывает успешно применённый купон.
type Applied struct {
	Code     string
	Discount decimal.Decimal
}

// Rejected описывает отклонённый купон с причиной.
type Rejected struct {
	Code   string
	Reason string
}

// Validator проверяет купоны и считает суммарную купонную скидку.
// Невалидный купон пропускается с причиной, не обрывая расчёт заказа.
type Validator struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewValidator создаёт валидатор купонов.
func NewValidator(store Store, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Validator{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Apply проверяет каждый код и возвращает суммарную скидку, применённые и
// отклонённые купоны. Использование применённых купонов фиксируется.
func (v *Validator) Apply(ctx context.Context, userID int64, orderID string, codes []string, orderAmount decimal.Decimal) (decimal.Decimal, []Applied, []Rejected, error) {
	total := decimal.Zero
	var applied []Applied
	var rejected []Rejected

	for _, code := range codes {
		c, err := v.store.GetByCode(ctx, code)
		if err != nil {
			return decimal.Zero, nil, nil, fmt.Errorf("get coupon %q: %w", code, err)
		}

		if reason := v.check(c, orderAmount); reason != "" {
			rejected = append(rejected, Rejected{Code: code, Reason: reason})
			v.logger.Info("coupon rejected",
				zap.String("code", code),
				zap.String("reason", reason),
				zap.String("order_id", orderID),
			)
			continue
		}

		discount := couponDiscount(c, orderAmount)
		if err := v.store.RecordUsage(ctx, c.ID, userID, orderID); err != nil {
			return decimal.Zero, nil, nil, fmt.Errorf("record coupon usage %q: %w", code, err)
		}

		total = total.Add(discount)
		applied = append(applied, Applied{Code: code, Discount: discount})
	}

	return total, applied, rejected, nil
}

func (v *Validator) check(c *model.Coupon, orderAmount decimal.Decimal) string {
	now := v.now()

	switch {
	case c == nil:
		return "not found"
	case !c.Active:
		return "inactive"
	case !c.ValidFrom.IsZero() && now.Before(c.ValidFrom):
		return "not yet valid"
	case !c.ValidTo.IsZero() && now.After(c.ValidTo):
		return "expired"
	case c.UsageLimit > 0 && c.UsedCount >= c.UsageLimit:
		return "usage limit reached"
	case c.MinOrderAmount.IsPositive() && orderAmount.LessThan(c.MinOrderAmount):
		return "order amount below minimum"
	default:
		return ""
	}
}

func couponDiscount(c *model.Coupon, orderAmount decimal.Decimal) decimal.Decimal {
	var discount decimal.Decimal
	switch c.DiscountType {
	case model.CouponPercent:
		discount = orderAmount.Mul(c.Value).Div(decimal.NewFromInt(100))
	case model.CouponFixed:
		discount = c.Value
	default:
		return decimal.Zero
	}

	// Купон не может дать скидку больше самой суммы заказа.
	if discount.GreaterThan(orderAmount) {
		discount = orderAmount
	}
	return discount
}
