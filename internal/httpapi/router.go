// Package httpapi is the HTTP surface of the service: the Telegram webhook,
// a JSON health report and, optionally, pprof under /debug.
package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	logx "shopbot/pkg/logx"
)

const DefaultWebhookPath = "/telegram/webhook"

// Health is the body of GET /health. Extra carries component details.
type Health struct {
	Status    string         `json:"status"`
	Telegram  string         `json:"telegram"`
	Timestamp time.Time      `json:"timestamp"`
	Extra     map[string]any `json:"details,omitempty"`
}

// Healthy reports whether the service should answer 200.
func (h Health) Healthy() bool { return h.Status == "" || h.Status == "ok" }

type Routes struct {
	WebhookPath string
	Webhook     http.Handler
	Health      func(ctx context.Context) Health
	// Pprof mounts chi's profiler at /debug; PprofToken, when set, is
	// required as a bearer token.
	Pprof      bool
	PprofToken string
}

func NewRouter(rt Routes, log logx.Logger) chi.Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	if rt.Webhook != nil {
		path := strings.TrimSpace(rt.WebhookPath)
		if path == "" {
			path = DefaultWebhookPath
		}
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		r.Post(path, rt.Webhook.ServeHTTP)
	}

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		h := Health{Status: "ok", Timestamp: time.Now().UTC()}
		if rt.Health != nil {
			h = rt.Health(req.Context())
			if h.Timestamp.IsZero() {
				h.Timestamp = time.Now().UTC()
			}
		}
		if !h.Healthy() {
			render.Status(req, http.StatusServiceUnavailable)
		}
		render.JSON(w, req, h)
	})

	if rt.Pprof {
		r.Group(func(r chi.Router) {
			r.Use(bearerAuth(rt.PprofToken))
			r.Mount("/debug", middleware.Profiler())
		})
	}
	return r
}
