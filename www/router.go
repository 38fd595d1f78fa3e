// Package www is the pushd HTTP surface: the per-order WebSocket channel,
// the order fetch endpoints and the admin API.
package www

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"

	"meatmarket/engine"
	"meatmarket/hub"
)

type Handlers struct {
	engine   *engine.Engine
	hub      *hub.Hub
	sessions *sessions.CookieStore
	log      *zap.Logger
}

func NewRouter(eng *engine.Engine, h *hub.Hub, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	handlers := &Handlers{
		engine:   eng,
		hub:      h,
		sessions: newSessionStore(eng.AppConfig().Web.SessionSecret),
		log:      log.Named("www"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	handlers.ensureDefaultAdmin(ctx)
	cancel()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(handlers.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", handlers.apiHealthCheck)
	r.Get("/ws/orders/{orderID}", handlers.handleOrderChannel)

	r.Route("/api", func(r chi.Router) {
		r.Get("/orders/{orderID}", handlers.apiGetOrder)
		r.Get("/orders/{orderID}/history", handlers.apiOrderHistory)

		r.Post("/admin/login", handlers.apiLogin)
		r.Post("/admin/logout", handlers.apiLogout)

		r.Group(func(r chi.Router) {
			r.Use(handlers.requireAuth)
			r.Get("/admin/stats", handlers.apiAdminStats)
			r.Post("/admin/orders/{orderID}/status", handlers.apiSetOrderStatus)
		})
	})
	return r
}

func (h *Handlers) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
