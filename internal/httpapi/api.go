// Package httpapi is the HTTP surface of the directory service.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"go.uber.org/zap"

	"orgmesh.io/internal/audit"
	"orgmesh.io/internal/auth"
	"orgmesh.io/internal/directory"
	"orgmesh.io/internal/events"
	"orgmesh.io/internal/obs"
)

// ReadyProbe reports whether the process can serve traffic.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer. All dependencies are injected; the package holds no
// global state.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	directory *directory.Service
	issuer    *auth.TokenIssuer
	gate      *auth.Gate
	cache     *auth.PolicyCache
	auditLog  *audit.Logger
	stream    *events.Stream
	log       *zap.SugaredLogger
}

// Option configures optional API collaborators.
type Option func(*API)

// WithReadyProbe sets the readiness check used by /readyz.
func WithReadyProbe(rp ReadyProbe) Option {
	return func(a *API) { a.readyProbe = rp }
}

// WithAuditLogger routes audit events through the given logger.
func WithAuditLogger(l *audit.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.auditLog = l
		}
	}
}

// WithEventStream enables the /v1/events SSE endpoint.
func WithEventStream(s *events.Stream) Option {
	return func(a *API) { a.stream = s }
}

// New wires the routes. The directory service, token issuer, gate and policy
// cache are mandatory.
func New(svc *directory.Service, issuer *auth.TokenIssuer, gate *auth.Gate, cache *auth.PolicyCache, log *zap.SugaredLogger, version string, opts ...Option) *API {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	a := &API{
		mux:       http.NewServeMux(),
		version:   version,
		directory: svc,
		issuer:    issuer,
		gate:      gate,
		cache:     cache,
		auditLog:  audit.NewLogger(log),
		log:       log,
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// public auth flows
	a.mux.HandleFunc("/v1/auth/signup", a.handleSignup)
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/forgot-password", a.handleForgotPassword)
	a.mux.HandleFunc("/v1/auth/reset-password", a.handleResetPassword)
	a.mux.HandleFunc("/v1/auth/setup-password", a.handleSetupPassword)
	a.mux.HandleFunc("/v1/auth/verify-email", a.handleVerifyEmail)

	// authenticated surface
	a.mux.HandleFunc("/v1/me", a.handleMe)
	a.mux.HandleFunc("/v1/organizations", a.handleOrganizations)
	a.mux.HandleFunc("/v1/organizations/", a.handleOrganizationScoped)
	a.mux.HandleFunc("/v1/users/", a.handleUserScoped)
	a.mux.HandleFunc("/v1/connection-requests", a.handleConnectionRequests)
	a.mux.HandleFunc("/v1/connection-requests/", a.handleConnectionRequestScoped)
	a.mux.HandleFunc("/v1/connections", a.handleConnections)
	a.mux.HandleFunc("/v1/events", a.handleEvents)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the mux wrapped in the full middleware chain.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = RequestID(h)
	h = Logging(a.log, h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, 40, 20)
	h = CORS(h)
	h = SecurityHeaders(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "orgmesh-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "orgmesh-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) audit(ctx context.Context, event string, kv ...any) {
	if a.auditLog == nil {
		return
	}
	if err := a.auditLog.Event(ctx, event, kv...); err != nil {
		a.log.Warnw("audit write failed", "event", event, "error", err)
	}
}
