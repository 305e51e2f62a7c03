// Package handler содержит HTTP-обработчики сервисов заказов и лояльности.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	custommiddleware "github.com/retailmesh/pricing-system/internal/middleware"
	"github.com/retailmesh/pricing-system/internal/model"
	"github.com/retailmesh/pricing-system/internal/pricing"
	"github.com/retailmesh/pricing-system/internal/protocol"
)

// Pricer — контракт оркестратора расчёта скидок, используемый обработчиками.
type Pricer interface {
	Calculate(ctx context.Context, req pricing.PricingRequest) *pricing.Pending
	OnResponse(resp protocol.DiscountResponse)
}

// OrderStore — контракт шардированного хранилища заказов.
type OrderStore interface {
	CreateOrder(ctx context.Context, o *model.Order, items []model.OrderLineItem) error
}

// OrderIDSource генерирует идентификаторы заказов на шарде владельца.
type OrderIDSource interface {
	NewOrderID(userID int64) (uuid.UUID, error)
}

// EventPublisher доставляет события завершения заказов сервису лояльности.
type EventPublisher interface {
	PublishOrderCompleted(ctx context.Context, env protocol.Envelope) error
}

// OrderingOptions настраивает поведение обработчика заказов.
type OrderingOptions struct {
	// WaitTimeout ограничивает ожидание ответа сервиса лояльности.
	WaitTimeout time.Duration
	// DegradeOnLoyaltyError выбирает политику при отказе лояльной части
	// расчёта: деградация до локальных скидок вместо отказа всему заказу.
	DegradeOnLoyaltyError bool
}

// OrderingHandler реализует HTTP-обработчики сервиса заказов.
type OrderingHandler struct {
	pricer    Pricer
	orders    OrderStore
	ids       OrderIDSource
	publisher EventPublisher
	logger    *zap.Logger
	opts      OrderingOptions
}

// NewOrderingHandler создаёт обработчик сервиса заказов.
func NewOrderingHandler(pricer Pricer, orders OrderStore, ids OrderIDSource, publisher EventPublisher, logger *zap.Logger, opts OrderingOptions) *OrderingHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = 10 * time.Second
	}

	return &OrderingHandler{
		pricer:    pricer,
		orders:    orders,
		ids:       ids,
		publisher: publisher,
		logger:    logger,
		opts:      opts,
	}
}

// SetupRouter настраивает маршруты сервиса заказов.
func (h *OrderingHandler) SetupRouter(sig *custommiddleware.SignatureMiddleware) *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.Logger(h.logger))

	r.Post("/api/orders", h.SubmitOrder)

	r.Group(func(r chi.Router) {
		r.Use(sig.Middleware)
		r.Post("/internal/v1/discount-responses", h.DiscountResponse)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}

type submitItemRequest struct {
	ProductID    uuid.UUID       `json:"productId"`
	Quantity     int32           `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unitPrice"`
	ItemDiscount decimal.Decimal `json:"itemDiscount"`
}

type submitOrderRequest struct {
	UserID        int64               `json:"userId"`
	Items         []submitItemRequest `json:"items"`
	CouponCodes   []string            `json:"couponCodes"`
	Tax           decimal.Decimal     `json:"tax"`
	Shipping      decimal.Decimal     `json:"shipping"`
	PaymentMethod string              `json:"paymentMethod"`
	FirstOrder    bool                `json:"firstOrder"`
}

type submitOrderResponse struct {
	OrderID         string          `json:"orderId"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	ProductDiscount decimal.Decimal `json:"productDiscount"`
	OrderDiscount   decimal.Decimal `json:"orderDiscount"`
	CouponDiscount  decimal.Decimal `json:"couponDiscount"`
	TierDiscount    decimal.Decimal `json:"tierDiscount"`
	Tax             decimal.Decimal `json:"tax"`
	Shipping        decimal.Decimal `json:"shipping"`
	Total           decimal.Decimal `json:"total"`
	Status          string          `json:"status"`
	Degraded        bool            `json:"degraded,omitempty"`
}

// SubmitOrder принимает заказ, рассчитывает цену, сохраняет заказ на шарде
// владельца и публикует событие завершения.
func (h *OrderingHandler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req submitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if req.UserID <= 0 || len(req.Items) == 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	orderID, err := h.ids.NewOrderID(req.UserID)
	if err != nil {
		h.logger.Error("order id generation failed", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	subtotal := decimal.Zero
	var itemCount int32
	items := make([]pricing.LineItem, 0, len(req.Items))
	lineItems := make([]model.OrderLineItem, 0, len(req.Items))
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		subtotal = subtotal.Add(item.UnitPrice.Mul(decimal.NewFromInt32(item.Quantity)))
		itemCount += item.Quantity

		items = append(items, pricing.LineItem{
			ProductID:    item.ProductID,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			ItemDiscount: item.ItemDiscount,
		})
		lineItems = append(lineItems, model.OrderLineItem{
			ID:           uuid.New(),
			OrderID:      orderID,
			ProductID:    item.ProductID,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			ItemDiscount: item.ItemDiscount,
		})
	}

	pending := h.pricer.Calculate(r.Context(), pricing.PricingRequest{
		OrderID:     orderID,
		UserID:      req.UserID,
		Subtotal:    subtotal,
		Items:       items,
		CouponCodes: req.CouponCodes,
	})

	waitCtx, cancel := context.WithTimeout(r.Context(), h.opts.WaitTimeout)
	defer cancel()

	degraded := false
	result, err := pending.Wait(waitCtx)
	if err != nil {
		if !h.opts.DegradeOnLoyaltyError {
			h.logger.Error("pricing failed",
				zap.String("order_id", orderID.String()),
				zap.Error(err),
			)
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
			return
		}

		// Деградация: заказ получает только локальные скидки.
		degraded = true
		result = h.localOnlyResult(subtotal, items, itemCount)
		h.logger.Warn("pricing degraded to local discounts",
			zap.String("order_id", orderID.String()),
			zap.Error(err),
		)
	}

	discounts := result.ProductDiscount.
		Add(result.OrderDiscount).
		Add(result.CouponDiscount).
		Add(result.TierDiscount)
	total := pricing.AssembleTotal(subtotal, discounts, req.Tax, req.Shipping)

	order := &model.Order{
		ID:              orderID,
		UserID:          req.UserID,
		Subtotal:        subtotal,
		ProductDiscount: result.ProductDiscount,
		OrderDiscount:   result.OrderDiscount,
		CouponDiscount:  result.CouponDiscount,
		TierDiscount:    result.TierDiscount,
		Tax:             req.Tax,
		Shipping:        req.Shipping,
		Total:           total,
		Status:          model.OrderStatusCompleted,
		CreatedAt:       time.Now(),
	}

	if err := h.orders.CreateOrder(r.Context(), order, lineItems); err != nil {
		h.logger.Error("order creation failed",
			zap.String("order_id", orderID.String()),
			zap.Error(err),
		)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.publishCompletion(order, itemCount, req.FirstOrder, req.PaymentMethod)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(submitOrderResponse{
		OrderID:         orderID.String(),
		Subtotal:        subtotal,
		ProductDiscount: result.ProductDiscount,
		OrderDiscount:   result.OrderDiscount,
		CouponDiscount:  result.CouponDiscount,
		TierDiscount:    result.TierDiscount,
		Tax:             req.Tax,
		Shipping:        req.Shipping,
		Total:           total,
		Status:          string(order.Status),
		Degraded:        degraded,
	})
}

func (h *OrderingHandler) localOnlyResult(subtotal decimal.Decimal, items []pricing.LineItem, itemCount int32) pricing.Result {
	product := decimal.Zero
	for _, item := range items {
		product = product.Add(item.ItemDiscount)
	}
	order := pricing.OrderLevelDiscount(pricing.DefaultOrderRules(), subtotal, itemCount)

	return pricing.Result{
		ProductDiscount: product,
		OrderDiscount:   order,
		CouponDiscount:  decimal.Zero,
		TierDiscount:    decimal.Zero,
		FinalAmount:     subtotal.Sub(product).Sub(order),
	}
}

func (h *OrderingHandler) publishCompletion(order *model.Order, itemCount int32, firstOrder bool, paymentMethod string) {
	env, err := protocol.NewEnvelope(protocol.KindOrderCompleted, protocol.OrderCompletedEvent{
		OrderID:       order.ID.String(),
		UserID:        order.UserID,
		OrderTotal:    order.Total,
		ItemCount:     itemCount,
		FirstOrder:    firstOrder,
		PaymentMethod: paymentMethod,
		OrderStatus:   string(order.Status),
	})
	if err != nil {
		h.logger.Error("order event not built", zap.Error(err))
		return
	}

	// Доставка идёт вне контекста запроса: ответ клиенту не ждёт лояльность.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := h.publisher.PublishOrderCompleted(ctx, env); err != nil {
			h.logger.Error("order event delivery failed",
				zap.String("order_id", order.ID.String()),
				zap.Error(err),
			)
		}
	}()
}

// DiscountResponse принимает ответ сервиса лояльности и завершает ожидающий
// расчёт. Ответ без зарегистрированного расчёта принимается и отбрасывается.
func (h *OrderingHandler) DiscountResponse(w http.ResponseWriter, r *http.Request) {
	env, err := protocol.DecodeEnvelope(r.Body)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	resp, err := env.DiscountResponse()
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	h.pricer.OnResponse(resp)
	w.WriteHeader(http.StatusOK)
}
