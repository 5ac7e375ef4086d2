package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	logx "shopbot/pkg/logx"
)

func TestHealth(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		health func(context.Context) Health
		code   int
		status string
	}{
		{"default", nil, http.StatusOK, "ok"},
		{"configured", func(context.Context) Health {
			return Health{Status: "ok", Telegram: "configured", Extra: map[string]any{"watermark": 3}}
		}, http.StatusOK, "ok"},
		{"degraded", func(context.Context) Health {
			return Health{Status: "degraded", Telegram: "missing"}
		}, http.StatusServiceUnavailable, "degraded"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := NewRouter(Routes{Health: tt.health}, logx.Nop())
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			if rec.Code != tt.code {
				t.Fatalf("status = %d, want %d", rec.Code, tt.code)
			}
			var h Health
			if err := json.Unmarshal(rec.Body.Bytes(), &h); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if h.Status != tt.status || h.Timestamp.IsZero() {
				t.Fatalf("health = %+v", h)
			}
			if rec.Header().Get(middleware.RequestIDHeader) == "" {
				t.Fatal("missing request id header")
			}
		})
	}
}

func TestWebhookRoute(t *testing.T) {
	t.Parallel()
	var hits int
	hook := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if middleware.GetReqID(r.Context()) != "abc" {
			t.Errorf("request id = %q, want the inbound one", middleware.GetReqID(r.Context()))
		}
		w.WriteHeader(http.StatusOK)
	})
	r := NewRouter(Routes{Webhook: hook, WebhookPath: "tg/hook"}, logx.Nop())

	req := httptest.NewRequest(http.MethodPost, "/tg/hook", strings.NewReader("{}"))
	req.Header.Set(middleware.RequestIDHeader, "abc")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || hits != 1 {
		t.Fatalf("POST status = %d hits = %d", rec.Code, hits)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tg/hook", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET status = %d, want 405", rec.Code)
	}
}

func TestPprofRequiresToken(t *testing.T) {
	t.Parallel()
	r := NewRouter(Routes{Pprof: true, PprofToken: "sekret"}, logx.Nop())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil)
	req.Header.Set("Authorization", "Bearer sekret")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("with token: status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	NewRouter(Routes{}, logx.Nop()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("pprof disabled: status = %d", rec.Code)
	}
}

func TestServerLifecycle(t *testing.T) {
	t.Parallel()
	s := NewServer(Config{Addr: "127.0.0.1:0"}, NewRouter(Routes{}, logx.Nop()), logx.Nop())
	s.Start(context.Background())

	select {
	case <-s.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}
	resp, err := http.Get("http://" + s.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
