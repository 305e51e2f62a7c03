// Package rewards реализует логику сервиса лояльности: обработку объединённых
// запросов скидок и начисление баллов за завершённые заказы.
package rewards

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/retailmesh/pricing-system/internal/benefit"
	"github.com/retailmesh/pricing-system/internal/coupon"
	"github.com/retailmesh/pricing-system/internal/ledger"
	"github.com/retailmesh/pricing-system/internal/model"
	"github.com/retailmesh/pricing-system/internal/protocol"
)

const (
	firstOrderBonus = 100
	creditCardBonus = 10
)

// Processor — бизнес-логика сервиса лояльности.
type Processor struct {
	coupons  *coupon.Validator
	benefits *benefit.Resolver
	ledger   *ledger.Service
	logger   *zap.Logger
}

// NewProcessor создаёт обработчик запросов лояльности.
func NewProcessor(coupons *coupon.Validator, benefits *benefit.Resolver, ledgerSvc *ledger.Service, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Processor{
		coupons:  coupons,
		benefits: benefits,
		ledger:   ledgerSvc,
		logger:   logger,
	}
}

// ProcessDiscountRequest выполняет лояльную часть расчёта: проверяет купоны,
// определяет привилегию уровня и собирает ответ с тем же идентификатором
// корреляции. Ошибка обработки превращается в ответ с признаком неуспеха,
// а не в потерянное сообщение.
func (p *Processor) ProcessDiscountRequest(ctx context.Context, req protocol.DiscountRequest) protocol.DiscountResponse {
	base := req.AmountAfterOrderDiscounts
	if base.IsNegative() {
		base = decimal.Zero
	}

	couponDiscount, applied, rejected, err := p.coupons.Apply(ctx, req.UserID, req.OrderID, req.CouponCodes, base)
	if err != nil {
		return p.failure(req, fmt.Errorf("apply coupons: %w", err))
	}
	for _, r := range rejected {
		p.logger.Info("coupon skipped for order",
			zap.String("order_id", req.OrderID),
			zap.String("code", r.Code),
			zap.String("reason", r.Reason),
		)
	}

	tier, err := p.ledger.Tier(ctx, req.UserID)
	if err != nil {
		return p.failure(req, fmt.Errorf("resolve tier: %w", err))
	}

	afterCoupons := base.Sub(couponDiscount)
	tierDiscount, err := p.benefits.ResolveDiscount(ctx, tier, afterCoupons)
	if err != nil {
		return p.failure(req, fmt.Errorf("resolve tier discount: %w", err))
	}

	final := afterCoupons.Sub(tierDiscount)
	if final.IsNegative() {
		final = decimal.Zero
	}

	p.logger.Info("discount request processed",
		zap.String("correlation_id", req.CorrelationID),
		zap.String("order_id", req.OrderID),
		zap.Int("coupons_applied", len(applied)),
		zap.String("tier", string(tier)),
	)

	return protocol.DiscountResponse{
		CorrelationID:  req.CorrelationID,
		Success:        true,
		CouponDiscount: couponDiscount,
		TierDiscount:   tierDiscount,
		FinalAmount:    final,
	}
}

func (p *Processor) failure(req protocol.DiscountRequest, err error) protocol.DiscountResponse {
	p.logger.Error("discount request failed",
		zap.String("correlation_id", req.CorrelationID),
		zap.String("order_id", req.OrderID),
		zap.Error(err),
	)

	return protocol.DiscountResponse{
		CorrelationID:  req.CorrelationID,
		Success:        false,
		ErrorMessage:   err.Error(),
		CouponDiscount: decimal.Zero,
		TierDiscount:   decimal.Zero,
		FinalAmount:    decimal.Zero,
	}
}

// AwardForOrder начисляет баллы за завершённый заказ. Ключ идемпотентности
// строится из идентификатора заказа, поэтому повторная доставка события
// не даёт второго начисления.
func (p *Processor) AwardForOrder(ctx context.Context, ev protocol.OrderCompletedEvent) (*ledger.RecordResult, error) {
	tier, err := p.ledger.Tier(ctx, ev.UserID)
	if err != nil {
		return nil, fmt.Errorf("resolve tier: %w", err)
	}

	multiplier, err := p.benefits.PointMultiplier(ctx, tier)
	if err != nil {
		return nil, fmt.Errorf("resolve point multiplier: %w", err)
	}

	points := basePoints(ev.OrderTotal, multiplier)
	if ev.FirstOrder {
		points += firstOrderBonus
	}
	if isCreditCard(ev.PaymentMethod) {
		points += creditCardBonus
	}

	result, err := p.ledger.RecordWithIdempotency(ctx, ledger.RecordParams{
		UserID:         ev.UserID,
		Type:           model.TransactionEarn,
		Points:         points,
		Source:         "order-completed",
		IdempotencyKey: "order-" + ev.OrderID,
		RelatedOrderID: ev.OrderID,
	})
	if err != nil {
		return nil, fmt.Errorf("record order points: %w", err)
	}

	if result.Duplicate {
		p.logger.Info("duplicate order event absorbed",
			zap.String("order_id", ev.OrderID),
			zap.Int64("user_id", ev.UserID),
		)
	}

	return result, nil
}

// basePoints — баллы за сумму заказа: один балл за целую денежную единицу,
// умноженный на множитель уровня. Бонусы множителем не затрагиваются.
func basePoints(orderTotal, multiplier decimal.Decimal) int64 {
	if orderTotal.IsNegative() {
		return 0
	}
	return orderTotal.Floor().Mul(multiplier).Floor().IntPart()
}

func isCreditCard(paymentMethod string) bool {
	return strings.EqualFold(paymentMethod, "CREDIT_CARD")
}
