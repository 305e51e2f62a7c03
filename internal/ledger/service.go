// Package ledger реализует идемпотентный журнал бонусных баллов и машину
// уровней лояльности.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/retailmesh/pricing-system/internal/model"
)

// ErrInsufficientPoints возвращается при попытке списать больше, чем есть на счёте.
var (
	ErrInsufficientPoints = errors.New("insufficient points balance")
	// ErrDuplicateKey возвращается хранилищем при гонке вставки по одному ключу
	// идемпотентности; сервис разрешает её повторным чтением.
	ErrDuplicateKey = errors.New("duplicate idempotency key")
	// ErrMissingKey возвращается, если у идемпотентной записи нет ключа.
	ErrMissingKey = errors.New("idempotency key required")
)

// UserLedger — операции над журналом одного пользователя внутри критической
// секции. Реализация отвечает за атомарность в границах WithUserLock.
type UserLedger interface {
	FindByIdempotencyKey(ctx context.Context, key string) (*model.PointTransaction, error)
	Membership(ctx context.Context) (*model.MembershipRecord, error)
	Append(ctx context.Context, t *model.PointTransaction) error
	SaveMembership(ctx context.Context, m *model.MembershipRecord) error
}

// Store предоставляет критическую секцию на пользователя.
// Последовательность «прочитать баланс — вычислить — записать» сериализуется
// по ключу пользователя, а не глобально.
type Store interface {
	WithUserLock(ctx context.Context, userID int64, fn func(ctx context.Context, ul UserLedger) error) error
	GetMembership(ctx context.Context, userID int64) (*model.MembershipRecord, error)
}

// RecordParams — параметры записи в журнал баллов.
type RecordParams struct {
	UserID         int64
	Type           model.TransactionType
	Points         int64
	Source         string
	IdempotencyKey string
	RelatedOrderID string
	RelatedCoupon  string
}

// RecordResult — результат записи с явными значениями уровня до и после.
type RecordResult struct {
	Transaction *model.PointTransaction
	Duplicate   bool
	TierBefore  model.Tier
	TierAfter   model.Tier
	TierChanged bool
}

// Service реализует бизнес-логику журнала баллов поверх Store.
type Service struct {
	store  Store
	scale  TierScale
	logger *zap.Logger
	now    func() time.Time
}

// NewService создаёт сервис журнала баллов.
func NewService(store Store, scale TierScale, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		store:  store,
		scale:  scale,
		logger: logger,
		now:    time.Now,
	}
}

// RecordWithIdempotency записывает операцию не более одного раза на ключ.
// Повторная доставка с тем же ключом возвращает существующую транзакцию
// без новой строки и без изменения баланса.
func (s *Service) RecordWithIdempotency(ctx context.Context, p RecordParams) (*RecordResult, error) {
	if p.IdempotencyKey == "" {
		return nil, ErrMissingKey
	}

	var result *RecordResult
	err := s.store.WithUserLock(ctx, p.UserID, func(ctx context.Context, ul UserLedger) error {
		existing, err := ul.FindByIdempotencyKey(ctx, p.IdempotencyKey)
		if err != nil {
			return fmt.Errorf("find by idempotency key: %w", err)
		}
		if existing != nil {
			m, err := ul.Membership(ctx)
			if err != nil {
				return fmt.Errorf("get membership: %w", err)
			}
			tier := s.scale.Resolve(0)
			if m != nil {
				tier = m.Tier
			}
			result = &RecordResult{
				Transaction: existing,
				Duplicate:   true,
				TierBefore:  tier,
				TierAfter:   tier,
			}
			return nil
		}

		result, err = s.record(ctx, ul, p)
		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Record всегда дописывает транзакцию. Вариант для событий, дедуплицируемых
// источником, без ключа идемпотентности.
func (s *Service) Record(ctx context.Context, p RecordParams) (*RecordResult, error) {
	p.IdempotencyKey = ""

	var result *RecordResult
	err := s.store.WithUserLock(ctx, p.UserID, func(ctx context.Context, ul UserLedger) error {
		var err error
		result, err = s.record(ctx, ul, p)
		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Membership возвращает запись участника программы лояльности, nil если её нет.
func (s *Service) Membership(ctx context.Context, userID int64) (*model.MembershipRecord, error) {
	return s.store.GetMembership(ctx, userID)
}

// Tier возвращает текущий уровень пользователя; для незнакомого пользователя —
// базовый уровень шкалы.
func (s *Service) Tier(ctx context.Context, userID int64) (model.Tier, error) {
	m, err := s.store.GetMembership(ctx, userID)
	if err != nil {
		return "", err
	}
	if m == nil {
		return s.scale.Resolve(0), nil
	}
	return m.Tier, nil
}

func (s *Service) record(ctx context.Context, ul UserLedger, p RecordParams) (*RecordResult, error) {
	now := s.now()

	m, err := ul.Membership(ctx)
	if err != nil {
		return nil, fmt.Errorf("get membership: %w", err)
	}
	if m == nil {
		m = &model.MembershipRecord{
			UserID:   p.UserID,
			Tier:     s.scale.Resolve(0),
			JoinedAt: now,
		}
	}

	newBalance := m.TotalPoints + p.Points
	if newBalance < 0 {
		// Проверка до любой записи: журнал и баланс остаются нетронутыми.
		return nil, fmt.Errorf("%w: balance %d, delta %d", ErrInsufficientPoints, m.TotalPoints, p.Points)
	}

	t := &model.PointTransaction{
		ID:             uuid.New(),
		UserID:         p.UserID,
		Type:           p.Type,
		Points:         p.Points,
		Balance:        newBalance,
		Source:         p.Source,
		IdempotencyKey: p.IdempotencyKey,
		RelatedOrderID: p.RelatedOrderID,
		RelatedCoupon:  p.RelatedCoupon,
		CreatedAt:      now,
	}

	if err := ul.Append(ctx, t); err != nil {
		if errors.Is(err, ErrDuplicateKey) && p.IdempotencyKey != "" {
			// Гонка двух доставок одного ключа: уникальный индекс оставил
			// одну строку, возвращаем её как дубликат.
			existing, findErr := ul.FindByIdempotencyKey(ctx, p.IdempotencyKey)
			if findErr != nil {
				return nil, fmt.Errorf("reread after duplicate key: %w", findErr)
			}
			if existing != nil {
				return &RecordResult{
					Transaction: existing,
					Duplicate:   true,
					TierBefore:  m.Tier,
					TierAfter:   m.Tier,
				}, nil
			}
		}
		return nil, fmt.Errorf("append transaction: %w", err)
	}

	tierBefore := m.Tier
	m.TotalPoints = newBalance
	m.LastActivityAt = now
	m.Tier = s.scale.Resolve(newBalance)

	if err := ul.SaveMembership(ctx, m); err != nil {
		return nil, fmt.Errorf("save membership: %w", err)
	}

	changed := m.Tier != tierBefore
	if changed {
		s.logger.Info("membership tier changed",
			zap.Int64("user_id", p.UserID),
			zap.String("tier_before", string(tierBefore)),
			zap.String("tier_after", string(m.Tier)),
			zap.Int64("total_points", newBalance),
		)
	}

	return &RecordResult{
		Transaction: t,
		TierBefore:  tierBefore,
		TierAfter:   m.Tier,
		TierChanged: changed,
	}, nil
}
