package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func echoHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body in handler: %v", err)
		}
		w.Write(body)
	})
}

func TestSignatureMiddlewareAcceptsSignedRequest(t *testing.T) {
	m := NewSignatureMiddleware("test-secret")
	body := `{"version":1}`

	req := httptest.NewRequest(http.MethodPost, "/internal/v1/discount-requests", strings.NewReader(body))
	req.Header.Set(SignatureHeader, Sign([]byte("test-secret"), []byte(body)))

	rec := httptest.NewRecorder()
	m.Middleware(echoHandler(t)).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	// Тело должно быть восстановлено после проверки подписи.
	if rec.Body.String() != body {
		t.Fatalf("handler saw body %q, want %q", rec.Body.String(), body)
	}
}

func TestSignatureMiddlewareRejectsMissingSignature(t *testing.T) {
	m := NewSignatureMiddleware("test-secret")

	req := httptest.NewRequest(http.MethodPost, "/internal/v1/discount-requests", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	m.Middleware(echoHandler(t)).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestSignatureMiddlewareRejectsWrongSecret(t *testing.T) {
	m := NewSignatureMiddleware("test-secret")
	body := `{"version":1}`

	req := httptest.NewRequest(http.MethodPost, "/internal/v1/discount-requests", strings.NewReader(body))
	req.Header.Set(SignatureHeader, Sign([]byte("other-secret"), []byte(body)))

	rec := httptest.NewRecorder()
	m.Middleware(echoHandler(t)).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}
