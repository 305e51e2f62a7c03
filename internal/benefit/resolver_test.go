package benefit

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/retailmesh/pricing-system/internal/model"
)

type stubStore struct {
	benefits map[model.BenefitKind]*model.TierBenefit
}

func (s *stubStore) ActiveBenefit(ctx context.Context, tier model.Tier, kind model.BenefitKind) (*model.TierBenefit, error) {
	return s.benefits[kind], nil
}

func discountBenefit(percent, maxDiscount, minAmount string) *model.TierBenefit {
	return &model.TierBenefit{
		Tier:           model.TierGold,
		Kind:           model.BenefitDiscount,
		Percent:        decimal.RequireFromString(percent),
		MaxDiscount:    decimal.RequireFromString(maxDiscount),
		MinOrderAmount: decimal.RequireFromString(minAmount),
		Active:         true,
	}
}

func TestResolveDiscount(t *testing.T) {
	tests := []struct {
		name        string
		benefit     *model.TierBenefit
		orderAmount string
		want        string
	}{
		{
			name:        "no benefit configured",
			benefit:     nil,
			orderAmount: "100",
			want:        "0",
		},
		{
			name:        "plain percentage",
			benefit:     discountBenefit("0.05", "0", "0"),
			orderAmount: "200",
			want:        "10",
		},
		{
			name:        "below minimum order amount",
			benefit:     discountBenefit("0.05", "0", "300"),
			orderAmount: "200",
			want:        "0",
		},
		{
			name:        "capped at max discount",
			benefit:     discountBenefit("0.10", "25", "0"),
			orderAmount: "1000",
			want:        "25",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &stubStore{benefits: map[model.BenefitKind]*model.TierBenefit{}}
			if tt.benefit != nil {
				store.benefits[model.BenefitDiscount] = tt.benefit
			}

			r := NewResolver(store)
			got, err := r.ResolveDiscount(context.Background(), model.TierGold, decimal.RequireFromString(tt.orderAmount))
			if err != nil {
				t.Fatalf("ResolveDiscount error: %v", err)
			}
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Fatalf("ResolveDiscount = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPointMultiplierDefaultsToOne(t *testing.T) {
	r := NewResolver(&stubStore{benefits: map[model.BenefitKind]*model.TierBenefit{}})

	m, err := r.PointMultiplier(context.Background(), model.TierBronze)
	if err != nil {
		t.Fatalf("PointMultiplier error: %v", err)
	}
	if !m.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("multiplier = %s, want 1", m)
	}
}

func TestPointMultiplierConfigured(t *testing.T) {
	r := NewResolver(&stubStore{benefits: map[model.BenefitKind]*model.TierBenefit{
		model.BenefitPointMultiplier: {
			Kind:       model.BenefitPointMultiplier,
			Multiplier: decimal.RequireFromString("1.5"),
			Active:     true,
		},
	}})

	m, err := r.PointMultiplier(context.Background(), model.TierGold)
	if err != nil {
		t.Fatalf("PointMultiplier error: %v", err)
	}
	if !m.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("multiplier = %s, want 1.5", m)
	}
}

func TestFreeShipping(t *testing.T) {
	store := &stubStore{benefits: map[model.BenefitKind]*model.TierBenefit{
		model.BenefitFreeShipping: {
			Kind:           model.BenefitFreeShipping,
			MinOrderAmount: decimal.NewFromInt(50),
			Active:         true,
		},
	}}
	r := NewResolver(store)

	ok, err := r.FreeShipping(context.Background(), model.TierGold, decimal.NewFromInt(60))
	if err != nil {
		t.Fatalf("FreeShipping error: %v", err)
	}
	if !ok {
		t.Fatalf("expected free shipping above floor")
	}

	ok, err = r.FreeShipping(context.Background(), model.TierGold, decimal.NewFromInt(40))
	if err != nil {
		t.Fatalf("FreeShipping error: %v", err)
	}
	if ok {
		t.Fatalf("unexpected free shipping below floor")
	}
}
