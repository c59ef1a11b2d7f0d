package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"net/netip"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tradejournal.app/internal/access"
	"tradejournal.app/internal/audit"
	"tradejournal.app/internal/auth"
	"tradejournal.app/internal/ban"
	"tradejournal.app/internal/challenge"
	"tradejournal.app/internal/gateway"
	"tradejournal.app/internal/obs"
	"tradejournal.app/internal/ratelimit"
	"tradejournal.app/internal/risk"
	"tradejournal.app/internal/stream"
)

const serviceName = "admingate"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe pings the database and redis when they are configured.
type ReadyProbe struct {
	DB    *sql.DB
	Redis redis.UniversalClient
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Redis != nil {
		if err := rp.Redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Deps are the services the HTTP layer dispatches to.
type Deps struct {
	Tokens    *auth.Tokens
	Authz     *access.Authorizer
	Audit     *audit.Log
	Challenge *challenge.Gate
	Gateway   *gateway.Gateway
	Bans      *ban.Service
	Risk      *risk.Evaluator
	Feed      *stream.Hub[audit.Entry]

	// ChallengeLimiter throttles /admin/challenge per admin across replicas.
	ChallengeLimiter ratelimit.Limiter
	Ready            readinessChecker
	Version          string
	UnlockTTL        time.Duration
}

// API is the HTTP layer.
type API struct {
	mux            *http.ServeMux
	deps           Deps
	rateBurst      int
	ratePerSec     int
	maxBodyBytes   int64
	allowedOrigins []string
	trustedProxies []netip.Prefix
	roleRecheck    time.Duration
}

// Option configures API.
type Option func(*API)

// WithRateLimit sets the per-IP token bucket.
func WithRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		if burst > 0 && perSecond > 0 {
			a.rateBurst, a.ratePerSec = burst, perSecond
		}
	}
}

// WithMaxBodyBytes caps request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

// WithTrustedProxies lists the peers whose X-Forwarded-For is believed.
// Without any, the socket address is the client address.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(a *API) { a.trustedProxies = prefixes }
}

// WithRoleRecheck sets how often an open audit stream re-verifies the
// caller's admin role.
func WithRoleRecheck(d time.Duration) Option {
	return func(a *API) {
		if d > 0 {
			a.roleRecheck = d
		}
	}
}

// WithAllowedOrigins extends the CORS allow list beyond localhost.
func WithAllowedOrigins(origins []string) Option {
	return func(a *API) { a.allowedOrigins = origins }
}

func New(deps Deps, opts ...Option) *API {
	if deps.Ready == nil {
		deps.Ready = ReadyProbe{}
	}
	if deps.UnlockTTL <= 0 {
		deps.UnlockTTL = 30 * time.Minute
	}
	if deps.ChallengeLimiter == nil {
		deps.ChallengeLimiter = ratelimit.NewInMemory(10, time.Minute)
	}
	a := &API{
		mux:          http.NewServeMux(),
		deps:         deps,
		rateBurst:    20,
		ratePerSec:   10,
		maxBodyBytes: 1 << 20,
		roleRecheck:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/metrics
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/security/assess-connection", a.handleAssessConnection)

	a.mux.Handle("/admin/challenge", a.riskGate(false, http.HandlerFunc(a.handleChallenge)))
	a.mux.Handle("/admin/data-access", a.riskGate(true, http.HandlerFunc(a.handleDataAccess)))
	a.mux.Handle("/admin/ban", a.riskGate(true, http.HandlerFunc(a.handleBan)))
	a.mux.Handle("/admin/audit/stream", a.riskGate(true, http.HandlerFunc(a.Stream)))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	return a
}

// Handler wraps the mux with the middleware chain, outermost first.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h, a.allowedOrigins)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	h = ClientIP(h, a.trustedProxies)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.deps.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.deps.Ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		obs.Logger().Warn("readiness check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// caller builds the verified identity and network context of r.
func (a *API) caller(r *http.Request) access.Caller {
	userID, _ := auth.UserIDFromContext(r.Context())
	return access.Caller{
		UserID:    userID,
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
		RequestID: RequestIDFromContext(r.Context()),
	}
}
