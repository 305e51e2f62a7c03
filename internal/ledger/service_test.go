package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/retailmesh/pricing-system/internal/model"
)

func newTestService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()

	scale, err := NewTierScale(DefaultTierThresholds())
	if err != nil {
		t.Fatalf("NewTierScale error: %v", err)
	}

	store := NewMemoryStore()
	return NewService(store, scale, nil), store
}

func earnParams(userID int64, points int64, key string) RecordParams {
	return RecordParams{
		UserID:         userID,
		Type:           model.TransactionEarn,
		Points:         points,
		Source:         "order-completed",
		IdempotencyKey: key,
	}
}

func TestRecordWithIdempotencySingleApplication(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	first, err := svc.RecordWithIdempotency(ctx, earnParams(1, 200, "order-abc"))
	if err != nil {
		t.Fatalf("first record error: %v", err)
	}
	if first.Duplicate {
		t.Fatalf("first record marked duplicate")
	}
	if first.Transaction.Balance != 200 {
		t.Fatalf("balance = %d, want 200", first.Transaction.Balance)
	}

	second, err := svc.RecordWithIdempotency(ctx, earnParams(1, 200, "order-abc"))
	if err != nil {
		t.Fatalf("second record error: %v", err)
	}
	if !second.Duplicate {
		t.Fatalf("redelivery not marked duplicate")
	}
	if second.Transaction.ID != first.Transaction.ID {
		t.Fatalf("redelivery returned different transaction")
	}

	if txs := store.Transactions(1); len(txs) != 1 {
		t.Fatalf("ledger has %d rows, want 1", len(txs))
	}

	m, err := store.GetMembership(ctx, 1)
	if err != nil {
		t.Fatalf("GetMembership error: %v", err)
	}
	if m.TotalPoints != 200 {
		t.Fatalf("total points = %d, want 200", m.TotalPoints)
	}
}

func TestRecordWithIdempotencyRequiresKey(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.RecordWithIdempotency(context.Background(), earnParams(1, 10, ""))
	if !errors.Is(err, ErrMissingKey) {
		t.Fatalf("expected ErrMissingKey, got %v", err)
	}
}

func TestRecordAlwaysAppends(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.Record(ctx, earnParams(2, 50, "")); err != nil {
			t.Fatalf("record %d error: %v", i, err)
		}
	}

	if txs := store.Transactions(2); len(txs) != 3 {
		t.Fatalf("ledger has %d rows, want 3", len(txs))
	}

	m, _ := store.GetMembership(ctx, 2)
	if m.TotalPoints != 150 {
		t.Fatalf("total points = %d, want 150", m.TotalPoints)
	}
}

func TestRedemptionBelowZeroRejected(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	if _, err := svc.RecordWithIdempotency(ctx, earnParams(3, 200, "order-1")); err != nil {
		t.Fatalf("earn error: %v", err)
	}

	_, err := svc.RecordWithIdempotency(ctx, RecordParams{
		UserID:         3,
		Type:           model.TransactionRedeem,
		Points:         -500,
		Source:         "redemption",
		IdempotencyKey: "redeem-1",
	})
	if !errors.Is(err, ErrInsufficientPoints) {
		t.Fatalf("expected ErrInsufficientPoints, got %v", err)
	}

	// Отказ до записи: ни строки журнала, ни изменения баланса.
	if txs := store.Transactions(3); len(txs) != 1 {
		t.Fatalf("ledger has %d rows, want 1", len(txs))
	}
	m, _ := store.GetMembership(ctx, 3)
	if m.TotalPoints != 200 {
		t.Fatalf("total points = %d, want 200", m.TotalPoints)
	}
}

func TestTierTransitionOnEarn(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.RecordWithIdempotency(ctx, earnParams(4, 1800, "order-1")); err != nil {
		t.Fatalf("initial earn error: %v", err)
	}

	result, err := svc.RecordWithIdempotency(ctx, earnParams(4, 300, "order-2"))
	if err != nil {
		t.Fatalf("second earn error: %v", err)
	}

	if !result.TierChanged {
		t.Fatalf("tier change not observed")
	}
	if result.TierBefore != model.TierSilver {
		t.Fatalf("tier before = %s, want SILVER", result.TierBefore)
	}
	if result.TierAfter != model.TierGold {
		t.Fatalf("tier after = %s, want GOLD", result.TierAfter)
	}
	if result.Transaction.Balance != 2100 {
		t.Fatalf("balance = %d, want 2100", result.Transaction.Balance)
	}
}

func TestTierUnchangedWithinBand(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.RecordWithIdempotency(ctx, earnParams(5, 100, "order-1")); err != nil {
		t.Fatalf("earn error: %v", err)
	}

	result, err := svc.RecordWithIdempotency(ctx, earnParams(5, 100, "order-2"))
	if err != nil {
		t.Fatalf("earn error: %v", err)
	}
	if result.TierChanged {
		t.Fatalf("unexpected tier change: %s -> %s", result.TierBefore, result.TierAfter)
	}
}

func TestTierForUnknownUser(t *testing.T) {
	svc, _ := newTestService(t)

	tier, err := svc.Tier(context.Background(), 999)
	if err != nil {
		t.Fatalf("Tier error: %v", err)
	}
	if tier != model.TierBronze {
		t.Fatalf("tier = %s, want BRONZE", tier)
	}
}
