package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/retailmesh/pricing-system/internal/model"
)

type stubStore struct {
	coupons map[string]*model.Coupon
	usages  int
}

func (s *stubStore) GetByCode(ctx context.Context, code string) (*model.Coupon, error) {
	return s.coupons[code], nil
}

func (s *stubStore) RecordUsage(ctx context.Context, couponID uuid.UUID, userID int64, orderID string) error {
	s.usages++
	return nil
}

func validCoupon(code string, discountType model.CouponDiscountType, value string) *model.Coupon {
	return &model.Coupon{
		ID:           uuid.New(),
		Code:         code,
		DiscountType: discountType,
		Value:        decimal.RequireFromString(value),
		ValidFrom:    time.Now().Add(-time.Hour),
		ValidTo:      time.Now().Add(time.Hour),
		Active:       true,
	}
}

func TestApplySumsValidCoupons(t *testing.T) {
	store := &stubStore{coupons: map[string]*model.Coupon{
		"TEN-PCT":  validCoupon("TEN-PCT", model.CouponPercent, "10"),
		"FLAT-5":   validCoupon("FLAT-5", model.CouponFixed, "5"),
		"UNKNOWN?": nil,
	}}
	v := NewValidator(store, nil)

	total, applied, rejected, err := v.Apply(context.Background(), 1, "order-1",
		[]string{"TEN-PCT", "FLAT-5", "MISSING"}, decimal.NewFromInt(200))
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}

	if !total.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("total discount = %s, want 25", total)
	}
	if len(applied) != 2 {
		t.Fatalf("applied %d coupons, want 2", len(applied))
	}
	if len(rejected) != 1 || rejected[0].Reason != "not found" {
		t.Fatalf("unexpected rejections: %+v", rejected)
	}
	if store.usages != 2 {
		t.Fatalf("recorded %d usages, want 2", store.usages)
	}
}

func TestApplyRejections(t *testing.T) {
	expired := validCoupon("EXPIRED", model.CouponFixed, "5")
	expired.ValidTo = time.Now().Add(-time.Minute)

	inactive := validCoupon("INACTIVE", model.CouponFixed, "5")
	inactive.Active = false

	exhausted := validCoupon("USED-UP", model.CouponFixed, "5")
	exhausted.UsageLimit = 3
	exhausted.UsedCount = 3

	belowMin := validCoupon("BIG-ONLY", model.CouponFixed, "5")
	belowMin.MinOrderAmount = decimal.NewFromInt(500)

	store := &stubStore{coupons: map[string]*model.Coupon{
		"EXPIRED":  expired,
		"INACTIVE": inactive,
		"USED-UP":  exhausted,
		"BIG-ONLY": belowMin,
	}}
	v := NewValidator(store, nil)

	total, applied, rejected, err := v.Apply(context.Background(), 1, "order-1",
		[]string{"EXPIRED", "INACTIVE", "USED-UP", "BIG-ONLY"}, decimal.NewFromInt(100))
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}

	if !total.IsZero() {
		t.Fatalf("total discount = %s, want 0", total)
	}
	if len(applied) != 0 {
		t.Fatalf("applied %d coupons, want 0", len(applied))
	}
	if len(rejected) != 4 {
		t.Fatalf("rejected %d coupons, want 4", len(rejected))
	}
	if store.usages != 0 {
		t.Fatalf("recorded %d usages, want 0", store.usages)
	}

	reasons := map[string]string{}
	for _, r := range rejected {
		reasons[r.Code] = r.Reason
	}
	if reasons["EXPIRED"] != "expired" {
		t.Fatalf("EXPIRED reason = %q", reasons["EXPIRED"])
	}
	if reasons["USED-UP"] != "usage limit reached" {
		t.Fatalf("USED-UP reason = %q", reasons["USED-UP"])
	}
	if reasons["BIG-ONLY"] != "order amount below minimum" {
		t.Fatalf("BIG-ONLY reason = %q", reasons["BIG-ONLY"])
	}
}

func TestCouponDiscountCappedAtOrderAmount(t *testing.T) {
	store := &stubStore{coupons: map[string]*model.Coupon{
		"HUGE": validCoupon("HUGE", model.CouponFixed, "500"),
	}}
	v := NewValidator(store, nil)

	total, _, _, err := v.Apply(context.Background(), 1, "order-1", []string{"HUGE"}, decimal.NewFromInt(80))
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	if !total.Equal(decimal.NewFromInt(80)) {
		t.Fatalf("total discount = %s, want 80", total)
	}
}

func TestApplyWithoutCodes(t *testing.T) {
	v := NewValidator(&stubStore{coupons: map[string]*model.Coupon{}}, nil)

	total, applied, rejected, err := v.Apply(context.Background(), 1, "order-1", nil, decimal.NewFromInt(100))
	if err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	if !total.IsZero() || applied != nil || rejected != nil {
		t.Fatalf("unexpected result for empty codes: %s %v %v", total, applied, rejected)
	}
}
