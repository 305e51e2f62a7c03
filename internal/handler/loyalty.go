package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/retailmesh/pricing-system/internal/ledger"
	custommiddleware "github.com/retailmesh/pricing-system/internal/middleware"
	"github.com/retailmesh/pricing-system/internal/protocol"
)

// RewardsProcessor — контракт бизнес-логики сервиса лояльности.
type RewardsProcessor interface {
	ProcessDiscountRequest(ctx context.Context, req protocol.DiscountRequest) protocol.DiscountResponse
	AwardForOrder(ctx context.Context, ev protocol.OrderCompletedEvent) (*ledger.RecordResult, error)
}

// ResponseSender доставляет ответы о скидках сервису заказов.
type ResponseSender interface {
	SendDiscountResponse(ctx context.Context, env protocol.Envelope) error
}

// LoyaltyHandler реализует HTTP-обработчики сервиса лояльности.
type LoyaltyHandler struct {
	processor RewardsProcessor
	responses ResponseSender
	logger    *zap.Logger
}

// NewLoyaltyHandler создаёт обработчик сервиса лояльности.
func NewLoyaltyHandler(processor RewardsProcessor, responses ResponseSender, logger *zap.Logger) *LoyaltyHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &LoyaltyHandler{
		processor: processor,
		responses: responses,
		logger:    logger,
	}
}

// SetupRouter настраивает маршруты сервиса лояльности.
func (h *LoyaltyHandler) SetupRouter(sig *custommiddleware.SignatureMiddleware) *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.Logger(h.logger))

	r.Group(func(r chi.Router) {
		r.Use(sig.Middleware)
		r.Post("/internal/v1/discount-requests", h.DiscountRequest)
		r.Post("/internal/v1/order-events", h.OrderEvent)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}

// DiscountRequest принимает объединённый запрос скидок. Запрос подтверждается
// сразу; обработка и доставка ответа с тем же идентификатором корреляции идут
// асинхронно, как и положено обмену через сообщения.
func (h *LoyaltyHandler) DiscountRequest(w http.ResponseWriter, r *http.Request) {
	env, err := protocol.DecodeEnvelope(r.Body)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	req, err := env.DiscountRequest()
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	go h.processAndRespond(req)

	w.WriteHeader(http.StatusAccepted)
}

func (h *LoyaltyHandler) processAndRespond(req protocol.DiscountRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp := h.processor.ProcessDiscountRequest(ctx, req)

	env, err := protocol.NewEnvelope(protocol.KindDiscountResponse, resp)
	if err != nil {
		h.logger.Error("discount response not built",
			zap.String("correlation_id", req.CorrelationID),
			zap.Error(err),
		)
		return
	}

	if err := h.responses.SendDiscountResponse(ctx, env); err != nil {
		h.logger.Error("discount response delivery failed",
			zap.String("correlation_id", req.CorrelationID),
			zap.Error(err),
		)
	}
}

// OrderEvent принимает событие завершения заказа и начисляет баллы.
// Повторная доставка того же заказа поглощается ключом идемпотентности
// и отвечает успехом.
func (h *LoyaltyHandler) OrderEvent(w http.ResponseWriter, r *http.Request) {
	env, err := protocol.DecodeEnvelope(r.Body)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	ev, err := env.OrderCompleted()
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	result, err := h.processor.AwardForOrder(r.Context(), ev)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientPoints) {
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
			return
		}
		h.logger.Error("point award failed",
			zap.String("order_id", ev.OrderID),
			zap.Error(err),
		)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if result.TierChanged {
		h.logger.Info("tier transition on order award",
			zap.Int64("user_id", ev.UserID),
			zap.String("tier_before", string(result.TierBefore)),
			zap.String("tier_after", string(result.TierAfter)),
		)
	}

	w.WriteHeader(http.StatusOK)
}
