// Package protocol определяет контракты сообщений между сервисом заказов и
// сервисом лояльности. Сообщения ходят в версионированном конверте и
// разбираются единственным путём десериализации.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
)

// Version — текущая версия схемы сообщений.
const Version = 1

// Kind различает типы сообщений внутри конверта.
type Kind string

const (
	KindDiscountRequest  Kind = "discount.request"
	KindDiscountResponse Kind = "discount.response"
	KindOrderCompleted   Kind = "order.completed"
)

// ErrUnsupportedVersion возвращается для конверта с незнакомой версией схемы.
var (
	ErrUnsupportedVersion = errors.New("unsupported message version")
	// ErrUnknownKind возвращается для конверта с незнакомым типом сообщения.
	ErrUnknownKind = errors.New("unknown message kind")
	// ErrKindMismatch возвращается при попытке разобрать конверт как сообщение другого типа.
	ErrKindMismatch = errors.New("message kind mismatch")
)

// Envelope — транспортный конверт сообщения.
type Envelope struct {
	Version int             `json:"version"`
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// DiscountRequest — объединённый запрос расчёта скидок лояльности.
// Один запрос заменяет два прежних обращения: проверку купонов и
// определение привилегии уровня.
type DiscountRequest struct {
	CorrelationID             string          `json:"correlationId"`
	UserID                    int64           `json:"userId"`
	OrderID                   string          `json:"orderId"`
	OriginalAmount            decimal.Decimal `json:"originalAmount"`
	ProductDiscount           decimal.Decimal `json:"productDiscount"`
	OrderLevelDiscount        decimal.Decimal `json:"orderLevelDiscount"`
	AmountAfterOrderDiscounts decimal.Decimal `json:"amountAfterOrderDiscounts"`
	CouponCodes               []string        `json:"couponCodes"`
	TotalItems                int32           `json:"totalItems"`
}

// DiscountResponse — ответ сервиса лояльности на объединённый запрос.
type DiscountResponse struct {
	CorrelationID  string          `json:"correlationId"`
	Success        bool            `json:"success"`
	ErrorMessage   string          `json:"errorMessage,omitempty"`
	CouponDiscount decimal.Decimal `json:"couponDiscount"`
	TierDiscount   decimal.Decimal `json:"tierDiscount"`
	FinalAmount    decimal.Decimal `json:"finalAmount"`
}

// OrderCompletedEvent — событие завершения заказа, порождающее начисление баллов.
type OrderCompletedEvent struct {
	OrderID       string          `json:"orderId"`
	UserID        int64           `json:"userId"`
	OrderTotal    decimal.Decimal `json:"orderTotal"`
	ItemCount     int32           `json:"itemCount"`
	FirstOrder    bool            `json:"firstOrder"`
	PaymentMethod string          `json:"paymentMethod"`
	OrderStatus   string          `json:"orderStatus"`
}

// NewEnvelope упаковывает сообщение в конверт текущей версии.
func NewEnvelope(kind Kind, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal payload: %w", err)
	}

	return Envelope{
		Version: Version,
		Kind:    kind,
		Payload: raw,
	}, nil
}

// DecodeEnvelope читает и проверяет конверт. Это единственный путь
// десериализации сообщений протокола.
func DecodeEnvelope(r io.Reader) (Envelope, error) {
	var e Envelope
	if err := json.NewDecoder(r).Decode(&e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}

	if e.Version != Version {
		return Envelope{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, e.Version)
	}

	switch e.Kind {
	case KindDiscountRequest, KindDiscountResponse, KindOrderCompleted:
	default:
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}

	return e, nil
}

// DiscountRequest разбирает полезную нагрузку конверта как запрос скидок.
func (e Envelope) DiscountRequest() (DiscountRequest, error) {
	if e.Kind != KindDiscountRequest {
		return DiscountRequest{}, fmt.Errorf("%w: got %q", ErrKindMismatch, e.Kind)
	}

	var req DiscountRequest
	if err := json.Unmarshal(e.Payload, &req); err != nil {
		return DiscountRequest{}, fmt.Errorf("decode discount request: %w", err)
	}
	if req.CorrelationID == "" {
		return DiscountRequest{}, errors.New("discount request without correlation id")
	}

	return req, nil
}

// DiscountResponse разбирает полезную нагрузку конверта как ответ о скидках.
func (e Envelope) DiscountResponse() (DiscountResponse, error) {
	if e.Kind != KindDiscountResponse {
		return DiscountResponse{}, fmt.Errorf("%w: got %q", ErrKindMismatch, e.Kind)
	}

	var resp DiscountResponse
	if err := json.Unmarshal(e.Payload, &resp); err != nil {
		return DiscountResponse{}, fmt.Errorf("decode discount response: %w", err)
	}
	if resp.CorrelationID == "" {
		return DiscountResponse{}, errors.New("discount response without correlation id")
	}

	return resp, nil
}

// OrderCompleted разбирает полезную нагрузку конверта как событие завершения заказа.
func (e Envelope) OrderCompleted() (OrderCompletedEvent, error) {
	if e.Kind != KindOrderCompleted {
		return OrderCompletedEvent{}, fmt.Errorf("%w: got %q", ErrKindMismatch, e.Kind)
	}

	var ev OrderCompletedEvent
	if err := json.Unmarshal(e.Payload, &ev); err != nil {
		return OrderCompletedEvent{}, fmt.Errorf("decode order completed event: %w", err)
	}
	if ev.OrderID == "" {
		return OrderCompletedEvent{}, errors.New("order completed event without order id")
	}

	return ev, nil
}
