package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"circle_go/internal/config"
	"circle_go/internal/domain"
	"circle_go/internal/logging"
	"circle_go/internal/membership"
	"circle_go/internal/service"
	"circle_go/internal/session"
	"circle_go/internal/ws"
)

// Deps are the services the routes call into.
type Deps struct {
	Hub        *ws.Hub
	Auth       *service.AuthService
	Activities *service.ActivityService
	Ledger     *membership.Ledger
	Sessions   *session.Registry
	Log        zerolog.Logger
}

// NewRouter constructs the main HTTP router and wires routes and middleware.
func NewRouter(cfg *config.Config, d Deps) http.Handler {
	r := chi.NewRouter()

	// Middlewares
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(d.Log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": cfg.AppName, "version": "1.0.0"})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	r.Route("/api", func(r chi.Router) {
		if cfg.Debug {
			r.Post("/auth/dev-token", handleDevToken(d.Auth))
		}

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(d.Auth, d.Log))

			r.Get("/auth/me", handleMe())

			r.Route("/activities", func(r chi.Router) {
				r.Get("/", handleFeed(d.Activities))
				r.Post("/", handlePostActivity(d.Activities))
				r.Post("/{activityID}/join", handleJoin(d.Ledger, d.Log))
				r.Delete("/{activityID}/join", handleLeave(d.Ledger))
				r.Get("/{activityID}/participants", handleParticipants(d.Ledger))
			})

			r.Route("/me", func(r chi.Router) {
				r.Get("/schedule", handleSchedule(d.Activities))
				r.Get("/inbox", handleInbox(d.Activities))
				r.Get("/circle", handleCircle(d.Activities))
				r.Put("/status", handleSetStatus(d.Activities))
			})

			r.Route("/conversations", func(r chi.Router) {
				r.Post("/{conversationID}/open", handleOpenConversation(d.Sessions))
				r.Post("/close", handleCloseConversation(d.Sessions, d.Hub))
				r.Get("/messages", handleSnapshot(d.Sessions))
				r.Post("/messages", handleSendMessage(d.Sessions))
			})
		})
	})

	// WebSocket endpoint
	r.Get("/ws", ws.MakeHandler(ws.Deps{
		Hub:            d.Hub,
		Auth:           d.Auth,
		Activities:     d.Activities,
		Sessions:       d.Sessions,
		Ledger:         d.Ledger,
		AllowedOrigins: cfg.CORSOrigins,
		Log:            logging.Component(d.Log, "ws"),
	}))

	return r
}

// requestLogger logs one line per request once the response is written.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info().
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Int("bytes", ww.BytesWritten()).
					Dur("elapsed", time.Since(start)).
					Msg("http request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// writeJSON is a small helper to send JSON responses.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps a classified store or validation error to a response.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrAuthRequired):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrConstraintViolation):
		writeError(w, http.StatusConflict, "conflict")
	case errors.Is(err, domain.ErrNetworkFailure), domain.IsTransient(err):
		writeError(w, http.StatusBadGateway, "store unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
