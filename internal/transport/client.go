// Package transport доставляет сообщения протокола между сервисом заказов и
// сервисом лояльности по HTTP. Доставка даёт гарантию «как минимум один раз»:
// повторы дубликатов поглощаются идемпотентностью журнала баллов.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/retailmesh/pricing-system/internal/middleware"
	"github.com/retailmesh/pricing-system/internal/protocol"
)

// Пути приёма сообщений на стороне партнёра.
const (
	PathDiscountRequests  = "/internal/v1/discount-requests"
	PathDiscountResponses = "/internal/v1/discount-responses"
	PathOrderEvents       = "/internal/v1/order-events"
)

// Client инкапсулирует HTTP-доставку конвертов процессу-партнёру.
type Client struct {
	baseURL string
	secret  []byte
	client  *retryablehttp.Client
}

// NewClient создаёт клиент доставки для указанного адреса партнёра.
func NewClient(baseURL, secret string, logger *zap.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = 5 * time.Second
	rc.Logger = nil
	if logger != nil {
		rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
			if attempt > 0 {
				logger.Warn("retrying delivery",
					zap.String("url", req.URL.String()),
					zap.Int("attempt", attempt),
				)
			}
		}
	}

	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	return &Client{
		baseURL: base,
		secret:  []byte(secret),
		client:  rc,
	}
}

func (c *Client) send(ctx context.Context, path string, env protocol.Envelope) error {
	if c.baseURL == "" {
		return fmt.Errorf("transport client not configured")
	}

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.SignatureHeader, middleware.Sign(c.secret, body))

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return nil
}

// SendDiscountRequest доставляет объединённый запрос скидок сервису лояльности.
func (c *Client) SendDiscountRequest(ctx context.Context, env protocol.Envelope) error {
	return c.send(ctx, PathDiscountRequests, env)
}

// SendDiscountResponse доставляет ответ о скидках сервису заказов.
func (c *Client) SendDiscountResponse(ctx context.Context, env protocol.Envelope) error {
	return c.send(ctx, PathDiscountResponses, env)
}

// PublishOrderCompleted доставляет событие завершения заказа сервису лояльности.
func (c *Client) PublishOrderCompleted(ctx context.Context, env protocol.Envelope) error {
	return c.send(ctx, PathOrderEvents, env)
}
