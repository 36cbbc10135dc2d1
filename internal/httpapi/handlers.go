package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"

	"telemetra.io/internal/auth"
	"telemetra.io/internal/obs"
	"telemetra.io/internal/stream"
)

const serviceName = "telemetra-api"

// ReadyProbe проверяет готовность (например, ping БД).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Options tunes the transport around the auth service.
type Options struct {
	Version      string
	CORSOrigins  []string
	MaxBodyBytes int64

	// RateLimitBurst <= 0 disables per-client limiting of the auth routes.
	RateLimitBurst int
	RateLimitRPS   float64

	// TrustedProxies may set X-Forwarded-For for the client address used
	// by rate limiting and access logs.
	TrustedProxies []netip.Prefix

	// Hub receives ingested readings for live subscribers. New creates a
	// process-local hub when nil.
	Hub *stream.Hub
}

// API обслуживает HTTP слой.
type API struct {
	svc        *auth.Service
	readyProbe ReadyProbe
	opts       Options
	limiter    *RateLimiter
	hub        *stream.Hub
}

func New(svc *auth.Service, rp ReadyProbe, opts Options) *API {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.Hub == nil {
		opts.Hub = stream.New()
	}
	a := &API{
		svc:        svc,
		readyProbe: rp,
		opts:       opts,
		hub:        opts.Hub,
	}
	if opts.RateLimitBurst > 0 && opts.RateLimitRPS > 0 {
		a.limiter = NewRateLimiter(opts.RateLimitBurst, opts.RateLimitRPS)
	}
	return a
}

// Close stops background work owned by the API.
func (a *API) Close() {
	if a.limiter != nil {
		a.limiter.Stop()
	}
}

// Handler возвращает http.Handler для сервера.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID, RealIP(a.opts.TrustedProxies), LoggingJSON, obs.Instrument, SecurityHeaders, CORS(a.opts.CORSOrigins), MaxBodyBytes(a.opts.MaxBodyBytes))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	// health/ready/info
	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/info", a.Info)
		r.With(a.rateLimited).Post("/token", a.Token)

		r.Group(func(r chi.Router) {
			r.Use(a.authenticate)

			r.With(a.rateLimited).Post("/refresh_token", a.RefreshToken)
			r.Post("/logout", a.Logout)
			r.Post("/register", a.Register)
			r.Get("/me", a.Me)

			r.Get("/companies", a.ListCompanies)
			r.Get("/companies/{id}", a.GetCompany)
			r.Get("/equipment", a.ListEquipment)
			r.Post("/equipment", a.CreateEquipment)
			r.Get("/sensor-data", a.ListSensorData)
			r.Post("/sensor-data", a.IngestSensorData)
			r.Get("/sensor-data/stream", a.StreamSensorData)
		})
	})
	return r
}

func (a *API) rateLimited(next http.Handler) http.Handler {
	if a.limiter == nil {
		return next
	}
	return a.limiter.Middleware(next)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  "database unavailable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.opts.Version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
