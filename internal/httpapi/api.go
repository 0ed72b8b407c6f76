// Package httpapi exposes the authentication core over HTTP. Route
// protection is declared in an explicit per-route policy table resolved
// at construction time; handlers receive the authenticated identity as a
// context value, never via request mutation.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"

	"authgate.org/internal/credential"
	"authgate.org/internal/obs"
	"authgate.org/internal/session"
	"authgate.org/internal/signing"
)

// ReadyProbe reports whether the service can reach its stores.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// policy names the protection level of one route.
type policy int

const (
	policyPublic policy = iota
	policyBearer        // valid access token
	policyAdmin         // valid access token + admin role
	policySigned        // valid request signature (machine-to-machine)
)

type route struct {
	pattern string
	policy  policy
	handler http.HandlerFunc
}

// Options carries construction parameters for the API.
type Options struct {
	Sessions     *session.Manager
	Credentials  *credential.Service
	Verifier     *signing.Verifier
	ReadyProbe   ReadyProbe
	Version      string
	MaxBodyBytes int64
	RatePerSec   int
	RateBurst    int
}

// API is the HTTP layer.
type API struct {
	mux          *http.ServeMux
	sessions     *session.Manager
	credentials  *credential.Service
	verifier     *signing.Verifier
	readyProbe   ReadyProbe
	version      string
	maxBodyBytes int64
	ratePerSec   int
	rateBurst    int
}

// New builds the API and resolves the route policy table into the mux.
func New(opts Options) *API {
	a := &API{
		mux:          http.NewServeMux(),
		sessions:     opts.Sessions,
		credentials:  opts.Credentials,
		verifier:     opts.Verifier,
		readyProbe:   opts.ReadyProbe,
		version:      opts.Version,
		maxBodyBytes: opts.MaxBodyBytes,
		ratePerSec:   opts.RatePerSec,
		rateBurst:    opts.RateBurst,
	}
	if a.maxBodyBytes <= 0 {
		a.maxBodyBytes = 1 << 20
	}

	for _, rt := range a.routes() {
		a.mux.Handle(rt.pattern, a.protect(rt.policy, rt.handler))
	}
	a.mux.Handle("GET /metrics", obs.Handler())
	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	return a
}

// routes is the explicit policy table: every endpoint and its protection
// level in one place.
func (a *API) routes() []route {
	return []route{
		{"GET /healthz", policyPublic, a.handleHealthz},
		{"GET /readyz", policyPublic, a.handleReady},
		{"GET /v1/info", policyPublic, a.handleInfo},

		{"POST /v1/auth/login", policyPublic, a.handleLogin},
		{"POST /v1/auth/refresh", policyPublic, a.handleRefresh},
		{"POST /v1/auth/logout", policyBearer, a.handleLogout},
		{"POST /v1/auth/logout_all", policyBearer, a.handleLogoutAll},
		{"POST /v1/auth/password", policyBearer, a.handleChangePassword},
		{"GET /v1/auth/sessions", policyBearer, a.handleSessions},

		{"POST /v1/credentials", policyAdmin, a.handleCredentialCreate},
		{"GET /v1/credentials/{app}", policyAdmin, a.handleCredentialList},
		{"PATCH /v1/credentials/{app}/{kid}", policyAdmin, a.handleCredentialUpdate},
		{"POST /v1/credentials/{app}/{kid}/revoke", policyAdmin, a.handleCredentialRevoke},
		{"POST /v1/credentials/{app}/rotate", policyAdmin, a.handleCredentialRotate},

		{"GET /v1/svc/ping", policySigned, a.handleServicePing},
	}
}

func (a *API) protect(p policy, h http.HandlerFunc) http.Handler {
	switch p {
	case policyBearer:
		return a.requireBearer(h)
	case policyAdmin:
		return a.requireBearer(a.requireRole("admin", h))
	case policySigned:
		return a.requireSignature(h)
	default:
		return h
	}
}

// Handler returns the full middleware chain around the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, a.maxBodyBytes)
	if a.ratePerSec > 0 {
		h = RateLimit(h, a.rateBurst, a.ratePerSec)
	}
	h = LoggingJSON(h)
	h = SecurityHeaders(h)
	h = RequestID(h)
	return obs.Instrument(h)
}
