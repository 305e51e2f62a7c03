package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/retailmesh/pricing-system/internal/ledger"
	"github.com/retailmesh/pricing-system/internal/model"
)

// LoyaltyStore хранит журнал баллов, записи участников, привилегии уровней
// и купоны в базе сервиса лояльности. Реализует интерфейсы хранилищ пакетов
// ledger, benefit и coupon.
type LoyaltyStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewLoyaltyStore открывает пул и прогоняет миграции базы лояльности.
func NewLoyaltyStore(ctx context.Context, dsn string, logger *zap.Logger) (*LoyaltyStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := newPool(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := runMigrations(ctx, pool, loyaltyMigrationsFS, "migrations/loyalty"); err != nil {
		pool.Close()
		return nil, err
	}

	return &LoyaltyStore{pool: pool, logger: logger}, nil
}

// Close закрывает пул соединений.
func (s *LoyaltyStore) Close() error {
	s.pool.Close()
	return nil
}

// WithUserLock выполняет fn в транзакции под консультативной блокировкой
// пользователя. Последовательность «прочитать баланс — вычислить — записать»
// сериализуется по пользователю, а не глобально.
func (s *LoyaltyStore) WithUserLock(ctx context.Context, userID int64, fn func(ctx context.Context, ul ledger.UserLedger) error) error {
	return withRetry(ctx, func(ctx context.Context) error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, userID); err != nil {
			return fmt.Errorf("lock user: %w", err)
		}

		if err := fn(ctx, &pgUserLedger{tx: tx, userID: userID}); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
}

// GetMembership возвращает запись участника, nil если её нет.
func (s *LoyaltyStore) GetMembership(ctx context.Context, userID int64) (*model.MembershipRecord, error) {
	return scanMembership(s.pool.QueryRow(ctx,
		`SELECT user_id, total_points, tier, joined_at, last_activity_at
		 FROM memberships WHERE user_id = $1`,
		userID,
	))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMembership(row rowScanner) (*model.MembershipRecord, error) {
	var m model.MembershipRecord
	var tier string
	err := row.Scan(&m.UserID, &m.TotalPoints, &tier, &m.JoinedAt, &m.LastActivityAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan membership: %w", err)
	}

	m.Tier = model.Tier(tier)
	return &m, nil
}

type pgUserLedger struct {
	tx     pgx.Tx
	userID int64
}

func (l *pgUserLedger) FindByIdempotencyKey(ctx context.Context, key string) (*model.PointTransaction, error) {
	row := l.tx.QueryRow(ctx,
		`SELECT id, user_id, type, points, balance, source,
		        COALESCE(idempotency_key, ''), related_order_id, related_coupon, created_at
		 FROM point_transactions WHERE user_id = $1 AND idempotency_key = $2`,
		l.userID, key,
	)

	var t model.PointTransaction
	var txType string
	err := row.Scan(&t.ID, &t.UserID, &txType, &t.Points, &t.Balance, &t.Source,
		&t.IdempotencyKey, &t.RelatedOrderID, &t.RelatedCoupon, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select transaction: %w", err)
	}

	t.Type = model.TransactionType(txType)
	return &t, nil
}

func (l *pgUserLedger) Membership(ctx context.Context) (*model.MembershipRecord, error) {
	return scanMembership(l.tx.QueryRow(ctx,
		`SELECT user_id, total_points, tier, joined_at, last_activity_at
		 FROM memberships WHERE user_id = $1`,
		l.userID,
	))
}

func (l *pgUserLedger) Append(ctx context.Context, t *model.PointTransaction) error {
	_, err := l.tx.Exec(ctx,
		`INSERT INTO point_transactions
		 (id, user_id, type, points, balance, source, idempotency_key,
		  related_order_id, related_coupon, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10)`,
		t.ID, t.UserID, string(t.Type), t.Points, t.Balance, t.Source,
		t.IdempotencyKey, t.RelatedOrderID, t.RelatedCoupon, t.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ledger.ErrDuplicateKey, t.IdempotencyKey)
		}
		return fmt.Errorf("insert transaction: %w", err)
	}

	return nil
}

func (l *pgUserLedger) SaveMembership(ctx context.Context, m *model.MembershipRecord) error {
	_, err := l.tx.Exec(ctx,
		`INSERT INTO memberships (user_id, total_points, tier, joined_at, last_activity_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id) DO UPDATE
		 SET total_points = EXCLUDED.total_points,
		     tier = EXCLUDED.tier,
		     last_activity_at = EXCLUDED.last_activity_at`,
		m.UserID, m.TotalPoints, string(m.Tier), m.JoinedAt, m.LastActivityAt,
	)
	if err != nil {
		return fmt.Errorf("upsert membership: %w", err)
	}

	return nil
}

// ActiveBenefit возвращает активную привилегию уровня указанного вида,
// nil если она не настроена.
func (s *LoyaltyStore) ActiveBenefit(ctx context.Context, tier model.Tier, kind model.BenefitKind) (*model.TierBenefit, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, tier, kind, percent::text, max_discount::text,
		        min_order_amount::text, multiplier::text, active
		 FROM tier_benefits
		 WHERE tier = $1 AND kind = $2 AND active
		 ORDER BY id DESC LIMIT 1`,
		string(tier), string(kind),
	)

	var (
		b                                       model.TierBenefit
		tierS, kindS                            string
		percent, maxDiscount, minAmount, multip string
	)
	err := row.Scan(&b.ID, &tierS, &kindS, &percent, &maxDiscount, &minAmount, &multip, &b.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select tier benefit: %w", err)
	}

	b.Tier = model.Tier(tierS)
	b.Kind = model.BenefitKind(kindS)
	if b.Percent, err = decimal.NewFromString(percent); err != nil {
		return nil, fmt.Errorf("parse percent: %w", err)
	}
	if b.MaxDiscount, err = decimal.NewFromString(maxDiscount); err != nil {
		return nil, fmt.Errorf("parse max discount: %w", err)
	}
	if b.MinOrderAmount, err = decimal.NewFromString(minAmount); err != nil {
		return nil, fmt.Errorf("parse min order amount: %w", err)
	}
	if b.Multiplier, err = decimal.NewFromString(multip); err != nil {
		return nil, fmt.Errorf("parse multiplier: %w", err)
	}

	return &b, nil
}

// GetByCode возвращает купон по коду, nil если он не найден.
func (s *LoyaltyStore) GetByCode(ctx context.Context, code string) (*model.Coupon, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, code, discount_type, value::text, min_order_amount::text,
		        valid_from, valid_to, usage_limit, used_count, active
		 FROM coupons WHERE code = $1`,
		code,
	)

	var (
		c                model.Coupon
		discountType     string
		value, minAmount string
	)
	err := row.Scan(&c.ID, &c.Code, &discountType, &value, &minAmount,
		&c.ValidFrom, &c.ValidTo, &c.UsageLimit, &c.UsedCount, &c.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select coupon: %w", err)
	}

	c.DiscountType = model.CouponDiscountType(discountType)
	if c.Value, err = decimal.NewFromString(value); err != nil {
		return nil, fmt.Errorf("parse coupon value: %w", err)
	}
	if c.MinOrderAmount, err = decimal.NewFromString(minAmount); err != nil {
		return nil, fmt.Errorf("parse coupon min amount: %w", err)
	}

	return &c, nil
}

// RecordUsage фиксирует применение купона и увеличивает счётчик использований.
func (s *LoyaltyStore) RecordUsage(ctx context.Context, couponID uuid.UUID, userID int64, orderID string) error {
	return withRetry(ctx, func(ctx context.Context) error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		_, err = tx.Exec(ctx,
			`INSERT INTO coupon_usages (coupon_id, user_id, order_id) VALUES ($1, $2, $3)`,
			couponID, userID, orderID,
		)
		if err != nil {
			return fmt.Errorf("insert coupon usage: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE coupons SET used_count = used_count + 1 WHERE id = $1`,
			couponID,
		)
		if err != nil {
			return fmt.Errorf("update coupon counter: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		return nil
	})
}
