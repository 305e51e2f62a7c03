// Package model содержит доменные сущности системы ценообразования и лояльности.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus описывает статус обработки заказа.
type OrderStatus string

const (
	OrderStatusNew       OrderStatus = "NEW"
	OrderStatusPriced    OrderStatus = "PRICED"
	OrderStatusCompleted OrderStatus = "COMPLETED"
	OrderStatusFailed    OrderStatus = "FAILED"
)

// Order описывает заказ пользователя и составляющие итоговой цены.
// Инвариант: Total = Subtotal − сумма скидок + Tax + Shipping, не меньше нуля.
type Order struct {
	ID              uuid.UUID
	UserID          int64
	Subtotal        decimal.Decimal
	ProductDiscount decimal.Decimal
	OrderDiscount   decimal.Decimal
	CouponDiscount  decimal.Decimal
	TierDiscount    decimal.Decimal
	Tax             decimal.Decimal
	Shipping        decimal.Decimal
	Total           decimal.Decimal
	Status          OrderStatus
	CreatedAt       time.Time
}

// OrderLineItem описывает позицию заказа. Ключ шардирования — идентификатор
// родительского заказа, поэтому позиции всегда лежат на одном шарде вместе.
type OrderLineItem struct {
	ID           uuid.UUID
	OrderID      uuid.UUID
	ProductID    uuid.UUID
	Quantity     int32
	UnitPrice    decimal.Decimal
	ItemDiscount decimal.Decimal
}

// TransactionType описывает тип операции над бонусным счётом.
type TransactionType string

const (
	TransactionEarn   TransactionType = "EARN"
	TransactionRedeem TransactionType = "REDEEM"
	TransactionExpire TransactionType = "EXPIRE"
	TransactionAdjust TransactionType = "ADJUST"
)

// PointTransaction — запись журнала операций над баллами. Журнал только
// дописывается; Balance фиксирует баланс после применения операции.
// Инвариант: не более одной транзакции на пару (UserID, IdempotencyKey).
type PointTransaction struct {
	ID             uuid.UUID
	UserID         int64
	Type           TransactionType
	Points         int64
	Balance        int64
	Source         string
	IdempotencyKey string
	RelatedOrderID string
	RelatedCoupon  string
	CreatedAt      time.Time
}

// Tier — уровень программы лояльности, производный от накопленных баллов.
type Tier string

const (
	TierBronze   Tier = "BRONZE"
	TierSilver   Tier = "SILVER"
	TierGold     Tier = "GOLD"
	TierPlatinum Tier = "PLATINUM"
	TierDiamond  Tier = "DIAMOND"
)

// MembershipRecord содержит состояние участника программы лояльности.
// Инвариант: TotalPoints — сумма дельт всех транзакций пользователя;
// Tier — наивысший уровень, порог которого не превышает TotalPoints.
type MembershipRecord struct {
	UserID         int64
	TotalPoints    int64
	Tier           Tier
	JoinedAt       time.Time
	LastActivityAt time.Time
}

// BenefitKind описывает вид привилегии уровня лояльности.
type BenefitKind string

const (
	BenefitDiscount        BenefitKind = "DISCOUNT"
	BenefitFreeShipping    BenefitKind = "FREE_SHIPPING"
	BenefitPointMultiplier BenefitKind = "POINT_MULTIPLIER"
	BenefitPrioritySupport BenefitKind = "PRIORITY_SUPPORT"
)

// TierBenefit описывает привилегию, доступную уровню лояльности.
// Во время расчёта цены используется только на чтение.
type TierBenefit struct {
	ID             int64
	Tier           Tier
	Kind           BenefitKind
	Percent        decimal.Decimal
	MaxDiscount    decimal.Decimal
	MinOrderAmount decimal.Decimal
	Multiplier     decimal.Decimal
	Active         bool
}

// CouponDiscountType определяет способ вычисления скидки по купону.
type CouponDiscountType string

const (
	CouponPercent CouponDiscountType = "PERCENT"
	CouponFixed   CouponDiscountType = "FIXED"
)

// Coupon описывает купон программы лояльности.
type Coupon struct {
	ID             uuid.UUID
	Code           string
	DiscountType   CouponDiscountType
	Value          decimal.Decimal
	MinOrderAmount decimal.Decimal
	ValidFrom      time.Time
	ValidTo        time.Time
	UsageLimit     int32
	UsedCount      int32
	Active         bool
}

// CentsFromDecimal переводит денежную сумму в копейки для хранения в БД.
func CentsFromDecimal(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

// DecimalFromCents переводит сумму из копеек обратно в денежное представление.
func DecimalFromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}
