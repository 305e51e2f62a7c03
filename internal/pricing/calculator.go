package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/retailmesh/pricing-system/internal/protocol"
)

// ErrTransportFailed возвращается фьючерсом, если запрос не удалось передать.
var (
	ErrTransportFailed = errors.New("discount request transmission failed")
	// ErrTimeout возвращается фьючерсом, если ответ не пришёл вовремя.
	ErrTimeout = errors.New("discount calculation timed out")
	// ErrLoyaltyRejected возвращается фьючерсом при ошибке в ответе сервиса лояльности.
	ErrLoyaltyRejected = errors.New("loyalty service rejected discount request")
)

// Transport передаёт объединённый запрос сервису лояльности. Передача
// не ожидает ответа: ответ приходит отдельным сообщением через OnResponse.
type Transport interface {
	SendDiscountRequest(ctx context.Context, env protocol.Envelope) error
}

// LineItem — позиция заказа в запросе расчёта цены.
type LineItem struct {
	ProductID    uuid.UUID
	Quantity     int32
	UnitPrice    decimal.Decimal
	ItemDiscount decimal.Decimal
}

// PricingRequest — входные данные расчёта цены заказа.
type PricingRequest struct {
	OrderID     uuid.UUID
	UserID      int64
	Subtotal    decimal.Decimal
	Items       []LineItem
	CouponCodes []string
}

// Calculator оркеструет расчёт скидок: локальные скидки считаются синхронно,
// купоны и привилегия уровня запрашиваются у сервиса лояльности одним
// объединённым сообщением с идентификатором корреляции.
type Calculator struct {
	store     PendingStore
	transport Transport
	rules     []OrderRule
	logger    *zap.Logger
	timeout   time.Duration
}

// NewCalculator создаёт оркестратор расчёта скидок.
func NewCalculator(store PendingStore, transport Transport, logger *zap.Logger, timeout time.Duration) *Calculator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Calculator{
		store:     store,
		transport: transport,
		rules:     DefaultOrderRules(),
		logger:    logger,
		timeout:   timeout,
	}
}

// Calculate запускает расчёт и возвращает фьючерс, не блокируя вызывающего.
// Запись регистрируется в хранилище до передачи запроса: ответ может прийти
// раньше, чем вызывающий успеет дождаться регистрации.
func (c *Calculator) Calculate(ctx context.Context, req PricingRequest) *Pending {
	productDiscount := decimal.Zero
	var itemCount int32
	for _, item := range req.Items {
		productDiscount = productDiscount.Add(item.ItemDiscount)
		itemCount += item.Quantity
	}

	orderDiscount := OrderLevelDiscount(c.rules, req.Subtotal, itemCount)
	amountAfter := req.Subtotal.Sub(productDiscount).Sub(orderDiscount)

	correlationID := uuid.NewString()

	discountReq := protocol.DiscountRequest{
		CorrelationID:             correlationID,
		UserID:                    req.UserID,
		OrderID:                   req.OrderID.String(),
		OriginalAmount:            req.Subtotal,
		ProductDiscount:           productDiscount,
		OrderLevelDiscount:        orderDiscount,
		AmountAfterOrderDiscounts: amountAfter,
		CouponCodes:               req.CouponCodes,
		TotalItems:                itemCount,
	}

	p := newPending(correlationID)
	c.store.Put(correlationID, &Entry{
		Pending:         p,
		Request:         discountReq,
		ProductDiscount: productDiscount,
		OrderDiscount:   orderDiscount,
		AmountAfter:     amountAfter,
		CreatedAt:       time.Now(),
	})

	env, err := protocol.NewEnvelope(protocol.KindDiscountRequest, discountReq)
	if err == nil {
		err = c.transport.SendDiscountRequest(ctx, env)
	}
	if err != nil {
		// Вызывающий не должен ждать тайм-аута, если передача не состоялась.
		if e, ok := c.store.Take(correlationID); ok {
			e.Pending.complete(Result{}, fmt.Errorf("%w: %v", ErrTransportFailed, err))
		}
		c.logger.Error("discount request not sent",
			zap.String("correlation_id", correlationID),
			zap.Error(err),
		)
	}

	return p
}

// OnResponse завершает расчёт по пришедшему ответу. Ответ без
// зарегистрированной записи логируется и отбрасывается, но не считается
// ошибкой: это либо опоздавший дубликат, либо ответ после тайм-аута.
func (c *Calculator) OnResponse(resp protocol.DiscountResponse) {
	e, ok := c.store.Take(resp.CorrelationID)
	if !ok {
		c.logger.Info("orphan discount response dropped",
			zap.String("correlation_id", resp.CorrelationID),
		)
		return
	}

	if !resp.Success {
		e.Pending.complete(Result{}, fmt.Errorf("%w: %s", ErrLoyaltyRejected, resp.ErrorMessage))
		return
	}

	e.Pending.complete(Result{
		ProductDiscount: e.ProductDiscount,
		OrderDiscount:   e.OrderDiscount,
		CouponDiscount:  resp.CouponDiscount,
		TierDiscount:    resp.TierDiscount,
		FinalAmount:     resp.FinalAmount,
	}, nil)
}

// StartExpiry запускает фоновую чистку просроченных расчётов. Тайм-аут —
// единственный путь отказа от ожидания: записи удаляются из хранилища,
// а их фьючерсы завершаются ошибкой.
func (c *Calculator) StartExpiry(ctx context.Context) {
	interval := c.timeout / 4
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.expireOnce(time.Now().Add(-c.timeout))
			}
		}
	}()
}

func (c *Calculator) expireOnce(olderThan time.Time) {
	for _, e := range c.store.TakeExpired(olderThan) {
		c.logger.Warn("discount calculation expired",
			zap.String("correlation_id", e.Pending.CorrelationID),
			zap.String("order_id", e.Request.OrderID),
		)
		e.Pending.complete(Result{}, ErrTimeout)
	}
}
