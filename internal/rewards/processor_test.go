package rewards

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/retailmesh/pricing-system/internal/benefit"
	"github.com/retailmesh/pricing-system/internal/coupon"
	"github.com/retailmesh/pricing-system/internal/ledger"
	"github.com/retailmesh/pricing-system/internal/model"
	"github.com/retailmesh/pricing-system/internal/protocol"
)

type stubCouponStore struct {
	coupons map[string]*model.Coupon
	usages  []string
}

func (s *stubCouponStore) GetByCode(ctx context.Context, code string) (*model.Coupon, error) {
	return s.coupons[code], nil
}

func (s *stubCouponStore) RecordUsage(ctx context.Context, couponID uuid.UUID, userID int64, orderID string) error {
	s.usages = append(s.usages, orderID)
	return nil
}

type stubBenefitStore struct {
	benefits map[model.Tier]map[model.BenefitKind]*model.TierBenefit
}

func (s *stubBenefitStore) ActiveBenefit(ctx context.Context, tier model.Tier, kind model.BenefitKind) (*model.TierBenefit, error) {
	return s.benefits[tier][kind], nil
}

func newTestProcessor(t *testing.T, coupons *stubCouponStore, benefits *stubBenefitStore) (*Processor, *ledger.MemoryStore) {
	t.Helper()

	scale, err := ledger.NewTierScale(ledger.DefaultTierThresholds())
	if err != nil {
		t.Fatalf("NewTierScale error: %v", err)
	}

	store := ledger.NewMemoryStore()
	ledgerSvc := ledger.NewService(store, scale, nil)

	p := NewProcessor(
		coupon.NewValidator(coupons, nil),
		benefit.NewResolver(benefits),
		ledgerSvc,
		nil,
	)
	return p, store
}

func emptyStubs() (*stubCouponStore, *stubBenefitStore) {
	return &stubCouponStore{coupons: map[string]*model.Coupon{}},
		&stubBenefitStore{benefits: map[model.Tier]map[model.BenefitKind]*model.TierBenefit{}}
}

func TestProcessDiscountRequest(t *testing.T) {
	coupons, benefits := emptyStubs()
	coupons.coupons["SAVE10"] = &model.Coupon{
		ID:           uuid.New(),
		Code:         "SAVE10",
		DiscountType: model.CouponFixed,
		Value:        decimal.NewFromInt(10),
		ValidFrom:    time.Now().Add(-time.Hour),
		ValidTo:      time.Now().Add(time.Hour),
		Active:       true,
	}
	benefits.benefits[model.TierBronze] = map[model.BenefitKind]*model.TierBenefit{
		model.BenefitDiscount: {
			Tier:    model.TierBronze,
			Kind:    model.BenefitDiscount,
			Percent: decimal.RequireFromString("0.05"),
			Active:  true,
		},
	}

	p, _ := newTestProcessor(t, coupons, benefits)

	resp := p.ProcessDiscountRequest(context.Background(), protocol.DiscountRequest{
		CorrelationID:             "corr-1",
		OrderID:                   "order-1",
		UserID:                    7,
		AmountAfterOrderDiscounts: decimal.NewFromInt(210),
		CouponCodes:               []string{"SAVE10"},
	})

	if !resp.Success {
		t.Fatalf("response not successful: %s", resp.ErrorMessage)
	}
	if resp.CorrelationID != "corr-1" {
		t.Fatalf("correlation id = %q, want corr-1", resp.CorrelationID)
	}
	if !resp.CouponDiscount.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("coupon discount = %s, want 10", resp.CouponDiscount)
	}
	// Скидка уровня считается от суммы после купонов: 5% от 200.
	if !resp.TierDiscount.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("tier discount = %s, want 10", resp.TierDiscount)
	}
	if !resp.FinalAmount.Equal(decimal.NewFromInt(190)) {
		t.Fatalf("final amount = %s, want 190", resp.FinalAmount)
	}
}

func TestProcessDiscountRequestClampsNegativeBase(t *testing.T) {
	coupons, benefits := emptyStubs()
	p, _ := newTestProcessor(t, coupons, benefits)

	resp := p.ProcessDiscountRequest(context.Background(), protocol.DiscountRequest{
		CorrelationID:             "corr-2",
		OrderID:                   "order-2",
		UserID:                    7,
		AmountAfterOrderDiscounts: decimal.NewFromInt(-5),
	})

	if !resp.Success {
		t.Fatalf("response not successful: %s", resp.ErrorMessage)
	}
	if !resp.FinalAmount.IsZero() {
		t.Fatalf("final amount = %s, want 0", resp.FinalAmount)
	}
}

func TestAwardForOrderBonuses(t *testing.T) {
	coupons, benefits := emptyStubs()
	p, store := newTestProcessor(t, coupons, benefits)

	result, err := p.AwardForOrder(context.Background(), protocol.OrderCompletedEvent{
		OrderID:       "order-3",
		UserID:        11,
		OrderTotal:    decimal.RequireFromString("149.90"),
		PaymentMethod: "credit_card",
		FirstOrder:    true,
	})
	if err != nil {
		t.Fatalf("AwardForOrder error: %v", err)
	}

	// floor(149.90) + 100 за первый заказ + 10 за оплату картой.
	if result.Transaction.Points != 259 {
		t.Fatalf("points = %d, want 259", result.Transaction.Points)
	}
	if txs := store.Transactions(11); len(txs) != 1 {
		t.Fatalf("ledger has %d rows, want 1", len(txs))
	}
}

func TestAwardForOrderAppliesTierMultiplier(t *testing.T) {
	coupons, benefits := emptyStubs()
	benefits.benefits[model.TierSilver] = map[model.BenefitKind]*model.TierBenefit{
		model.BenefitPointMultiplier: {
			Tier:       model.TierSilver,
			Kind:       model.BenefitPointMultiplier,
			Multiplier: decimal.RequireFromString("1.5"),
			Active:     true,
		},
	}

	p, _ := newTestProcessor(t, coupons, benefits)
	ctx := context.Background()

	// Первое начисление поднимает пользователя до SILVER.
	if _, err := p.AwardForOrder(ctx, protocol.OrderCompletedEvent{
		OrderID:    "order-4",
		UserID:     12,
		OrderTotal: decimal.NewFromInt(600),
	}); err != nil {
		t.Fatalf("first award error: %v", err)
	}

	result, err := p.AwardForOrder(ctx, protocol.OrderCompletedEvent{
		OrderID:       "order-5",
		UserID:        12,
		OrderTotal:    decimal.NewFromInt(101),
		PaymentMethod: "CREDIT_CARD",
	})
	if err != nil {
		t.Fatalf("second award error: %v", err)
	}

	// floor(floor(101) * 1.5) = 151; бонус карты множителем не затрагивается.
	if result.Transaction.Points != 161 {
		t.Fatalf("points = %d, want 161", result.Transaction.Points)
	}
}

func TestAwardForOrderAbsorbsRedelivery(t *testing.T) {
	coupons, benefits := emptyStubs()
	p, store := newTestProcessor(t, coupons, benefits)
	ctx := context.Background()

	ev := protocol.OrderCompletedEvent{
		OrderID:    "order-6",
		UserID:     13,
		OrderTotal: decimal.NewFromInt(100),
	}

	first, err := p.AwardForOrder(ctx, ev)
	if err != nil {
		t.Fatalf("first delivery error: %v", err)
	}
	second, err := p.AwardForOrder(ctx, ev)
	if err != nil {
		t.Fatalf("second delivery error: %v", err)
	}

	if !second.Duplicate {
		t.Fatalf("redelivery not marked duplicate")
	}
	if second.Transaction.ID != first.Transaction.ID {
		t.Fatalf("redelivery produced a new transaction")
	}
	if txs := store.Transactions(13); len(txs) != 1 {
		t.Fatalf("ledger has %d rows, want 1", len(txs))
	}
}
