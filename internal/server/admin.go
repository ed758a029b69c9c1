package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	pkgauth "github.com/matiasleandrokruk/xlmsession/pkg/auth"
)

const healthCheckTimeout = 2 * time.Second

type providerView struct {
	Name         string          `json:"name"`
	ServiceLevel string          `json:"service_level"`
	Capabilities map[string]bool `json:"capabilities"`
	Healthy      bool            `json:"healthy"`
	Error        string          `json:"error,omitempty"`
}

type clientView struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Caller       string              `json:"caller,omitempty"`
	RegisteredAt time.Time           `json:"registered_at"`
	Preferences  map[string][]string `json:"preferences,omitempty"`
}

type statsView struct {
	Events  map[string]int64 `json:"events"`
	Dropped int64            `json:"dropped"`
	Clients int              `json:"clients"`
}

// adminRouter serves read-only views of the gateway state.
func (s *Server) adminRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/v1", func(r chi.Router) {
		if s.config.AuthSecret != "" {
			r.Use(bearerAuth([]byte(s.config.AuthSecret)))
		}
		r.Get("/providers", s.listProviders)
		r.Get("/providers/{name}", s.getProvider)
		r.Get("/clients", s.listClients)
		r.Get("/stats", s.getStats)
	})
	return r
}

func (s *Server) listProviders(w http.ResponseWriter, r *http.Request) {
	providers := s.router.Providers()
	out := make([]providerView, 0, len(providers))
	for _, p := range providers {
		out = append(out, s.describe(r.Context(), p.Describe().Name))
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": out})
}

func (s *Server) getProvider(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, err := s.router.Route(name); err != nil {
		writeError(w, http.StatusNotFound, "provider not found")
		return
	}
	writeJSON(w, http.StatusOK, s.describe(r.Context(), name))
}

func (s *Server) describe(ctx context.Context, name string) providerView {
	p, err := s.router.Route(name)
	if err != nil {
		return providerView{Name: name, Error: err.Error()}
	}
	d := p.Describe()
	view := providerView{Name: d.Name, ServiceLevel: d.ServiceLevel, Capabilities: d.Capabilities, Healthy: true}

	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if err := p.HealthCheck(ctx); err != nil {
		view.Healthy = false
		view.Error = err.Error()
	}
	return view
}

func (s *Server) listClients(w http.ResponseWriter, _ *http.Request) {
	clients := s.registry.Clients()
	out := make([]clientView, 0, len(clients))
	for _, c := range clients {
		out = append(out, clientView{
			ID:           c.ID,
			Name:         c.Name,
			Caller:       c.Caller,
			RegisteredAt: c.RegisteredAt,
			Preferences:  c.Preferences,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"clients": out})
}

func (s *Server) getStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statsView{
		Events:  s.stats.snapshot(),
		Dropped: s.bus.Dropped(),
		Clients: len(s.registry.Clients()),
	})
}

// bearerAuth rejects requests without a valid "Authorization: Bearer <token>" header.
func bearerAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(header, prefix) {
				writeError(w, http.StatusUnauthorized, "missing or invalid Authorization header")
				return
			}
			if _, err := pkgauth.ParseToken(secret, strings.TrimSpace(strings.TrimPrefix(header, prefix))); err != nil {
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("admin request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}
