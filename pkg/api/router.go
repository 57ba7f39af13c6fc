package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/olafkfreund/cconnect/internal/logger"
	"github.com/olafkfreund/cconnect/pkg/metrics"
)

// newRouter builds the chi router for the local RPC surface.
//
// The router is configured with:
//   - Request ID middleware for request tracking
//   - Custom request logging using the internal logger
//   - Panic recovery to prevent daemon crashes
//   - Request timeout on all routes except the event stream
//
// Routes:
//   - GET  /health - Liveness probe
//   - GET  /metrics - Prometheus exposition (404 when metrics are disabled)
//   - GET  /api/v1/events - Server-Sent Events signal stream
//   - GET  /api/v1/devices, GET /api/v1/devices/{id}
//   - POST /api/v1/devices/{id}/pair|unpair|accept|reject|ping
//   - POST /api/v1/devices/{id}/share/file|text|url
//   - GET/POST /api/v1/devices/{id}/filesync,
//     DELETE /api/v1/devices/{id}/filesync/{folder_id}
//   - PUT  /api/v1/devices/{id}/nickname
//   - PUT/DELETE /api/v1/devices/{id}/plugins/{name}
//   - GET  /api/v1/config, PUT /api/v1/config/name, PUT /api/v1/config/type,
//     POST /api/v1/config/reset, POST /api/v1/restart
//   - POST /api/v1/transfers/{tid}/cancel
func (s *Server) newRouter() http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", metrics.Handler().ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		// The SSE stream must outlive any request timeout.
		r.Get("/events", s.handleEvents)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)

					r.Post("/pair", s.handlePair)
					r.Post("/unpair", s.handleUnpair)
					r.Post("/accept", s.handleAcceptPairing)
					r.Post("/reject", s.handleRejectPairing)
					r.Post("/ping", s.handlePing)

					r.Route("/share", func(r chi.Router) {
						r.Post("/file", s.handleShareFile)
						r.Post("/text", s.handleShareText)
						r.Post("/url", s.handleShareURL)
					})

					r.Route("/filesync", func(r chi.Router) {
						r.Get("/", s.handleListFilesync)
						r.Post("/", s.handleConfigureFilesync)
						r.Delete("/{folder_id}", s.handleRemoveFilesync)
					})

					r.Put("/nickname", s.handleSetNickname)
					r.Route("/plugins/{name}", func(r chi.Router) {
						r.Put("/", s.handleSetPluginState)
						r.Delete("/", s.handleClearPluginOverride)
					})
				})
			})

			r.Post("/transfers/{tid}/cancel", s.handleCancelTransfer)

			r.Route("/config", func(r chi.Router) {
				r.Get("/", s.handleGetConfig)
				r.Put("/name", s.handleSetDeviceName)
				r.Put("/type", s.handleSetDeviceType)
				r.Post("/reset", s.handleResetConfig)
			})
			r.Post("/restart", s.handleRestart)
		})
	})

	return r
}

// requestLogger logs RPC requests using the internal logger.
//
// Request start is DEBUG; completion is INFO, except health probes and the
// event stream which stay at DEBUG to keep logs quiet.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("RPC request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			logger.KeyRemoteAddr, r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logArgs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
		}

		if quietPath(r.URL.Path) {
			logger.Debug("RPC request completed", logArgs...)
		} else {
			logger.Info("RPC request completed", logArgs...)
		}
	})
}

// quietPath reports whether the path is polled or long-lived and should not
// produce INFO completion lines.
func quietPath(path string) bool {
	return path == "/health" || path == "/metrics" || path == "/api/v1/events"
}
