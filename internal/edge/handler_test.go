package edge

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestHandler(upstream string, client *http.Client) *Handler {
	return NewHandler(
		NewServiceProxy(upstream, client),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
}

func TestHandler_Handle(t *testing.T) {
	t.Run("proxies GET /orders", func(t *testing.T) {
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/orders" {
				t.Errorf("expected /orders, got %s", r.URL.Path)
			}
			if r.Method != http.MethodGet {
				t.Errorf("expected GET, got %s", r.Method)
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`[{"id":"1"}]`))
		}))
		defer upstream.Close()

		handler := newTestHandler(upstream.URL, upstream.Client())

		req := httptest.NewRequest(http.MethodGet, "/orders", nil)
		rec := httptest.NewRecorder()

		handler.Handle(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rec.Code)
		}
		if rec.Header().Get("Content-Type") != "application/json" {
			t.Errorf("expected application/json, got %s", rec.Header().Get("Content-Type"))
		}
		if rec.Body.String() != `[{"id":"1"}]` {
			t.Errorf("unexpected body: %s", rec.Body.String())
		}
	})

	t.Run("proxies POST /checkout with body and identity headers", func(t *testing.T) {
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			if string(body) != `{"payment_method":"cash"}` {
				t.Errorf("unexpected body: %s", body)
			}
			if r.Header.Get("X-User-ID") != "user-1" {
				t.Errorf("expected X-User-ID user-1, got %s", r.Header.Get("X-User-ID"))
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"order":{"id":"new-id"}}`))
		}))
		defer upstream.Close()

		handler := newTestHandler(upstream.URL, upstream.Client())

		req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(`{"payment_method":"cash"}`))
		req.Header.Set("X-User-ID", "user-1")
		rec := httptest.NewRecorder()

		handler.Handle(rec, req)

		if rec.Code != http.StatusCreated {
			t.Errorf("expected status 201, got %d", rec.Code)
		}
	})

	t.Run("preserves upstream error status", func(t *testing.T) {
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"insufficient stock"}`))
		}))
		defer upstream.Close()

		handler := newTestHandler(upstream.URL, upstream.Client())

		req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(`{}`))
		rec := httptest.NewRecorder()

		handler.Handle(rec, req)

		if rec.Code != http.StatusConflict {
			t.Errorf("expected status 409, got %d", rec.Code)
		}
	})

	t.Run("blocks the gateway webhook path", func(t *testing.T) {
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("webhook request must not reach upstream")
		}))
		defer upstream.Close()

		handler := newTestHandler(upstream.URL, upstream.Client())

		req := httptest.NewRequest(http.MethodPost, "/payments/gateway/webhook", strings.NewReader(`{}`))
		rec := httptest.NewRecorder()

		handler.Handle(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rec.Code)
		}
	})

	t.Run("returns 502 when checkout service unavailable", func(t *testing.T) {
		handler := newTestHandler("http://localhost:99999", &http.Client{})

		req := httptest.NewRequest(http.MethodGet, "/orders", nil)
		rec := httptest.NewRecorder()

		handler.Handle(rec, req)

		if rec.Code != http.StatusBadGateway {
			t.Errorf("expected status 502, got %d", rec.Code)
		}

		var resp map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp["error"] != "service unavailable" {
			t.Errorf("expected 'service unavailable', got %s", resp["error"])
		}
	})
}
