// Package httpapi exposes the admin panel operations over HTTP and a gRPC
// health endpoint.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"edupanel.org/internal/account"
	"edupanel.org/internal/apperr"
	"edupanel.org/internal/audit"
	"edupanel.org/internal/credential"
	"edupanel.org/internal/grant"
	"edupanel.org/internal/obs"
	"edupanel.org/internal/permission"
	"edupanel.org/internal/stats"
)

const (
	serviceName         = "edupanel-api"
	defaultMaxBodyBytes = 1 << 20
)

// ReadyProbe is a simple readiness check (a database ping when configured).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// ReadinessChecker reports whether backing stores answer.
type ReadinessChecker interface {
	Check(ctx context.Context) error
}

// Deps are the services the API dispatches to. Every field except Ready and
// Version is required.
type Deps struct {
	Engine      *permission.Engine
	Tokens      *credential.TokenIssuer
	Credentials credential.Store
	Accounts    *account.Provisioner
	Grants      *grant.Manager
	Audit       *audit.Log
	Stats       *stats.Aggregator
	Ready       ReadinessChecker
	Version     string
}

// API is the HTTP layer.
type API struct {
	mux          *http.ServeMux
	engine       *permission.Engine
	tokens       *credential.TokenIssuer
	creds        credential.Store
	accounts     *account.Provisioner
	grants       *grant.Manager
	audit        *audit.Log
	stats        *stats.Aggregator
	readyProbe   ReadinessChecker
	version      string
	rateBurst    int
	ratePerSec   int
	maxBodyBytes int64
}

// Option tunes the transport limits.
type Option func(*API)

// WithRateLimit sets the per-client token bucket.
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

// New wires the routes.
func New(d Deps, opts ...Option) (*API, error) {
	if d.Engine == nil || d.Tokens == nil || d.Credentials == nil || d.Accounts == nil ||
		d.Grants == nil || d.Audit == nil || d.Stats == nil {
		return nil, errors.New("httpapi: missing dependency")
	}
	a := &API{
		mux:          http.NewServeMux(),
		engine:       d.Engine,
		tokens:       d.Tokens,
		creds:        d.Credentials,
		accounts:     d.Accounts,
		grants:       d.Grants,
		audit:        d.Audit,
		stats:        d.Stats,
		readyProbe:   d.Ready,
		version:      d.Version,
		rateBurst:    20,
		ratePerSec:   10,
		maxBodyBytes: defaultMaxBodyBytes,
	}
	if a.readyProbe == nil {
		a.readyProbe = ReadyProbe{}
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/token", a.handleToken)
	a.mux.HandleFunc("/v1/roles", a.handleRoles)
	a.mux.HandleFunc("/v1/me", a.handleMe)

	a.mux.HandleFunc("/v1/accounts", a.handleAccountsCollection)
	a.mux.HandleFunc("/v1/accounts/", a.handleAccountResource)
	a.mux.HandleFunc("/v1/sections", a.handleSections)

	a.mux.HandleFunc("/v1/audit", a.handleAuditQuery)
	a.mux.HandleFunc("/v1/audit/export", a.handleAuditExport)
	a.mux.HandleFunc("/v1/audit/stats", a.handleAuditStats)

	a.mux.HandleFunc("/v1/stats/signups", a.handleSignups)
	a.mux.HandleFunc("/v1/stats/activity", a.handleActivity)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	return a, nil
}

// Handler returns the full middleware chain around the router.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
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
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.New("request body too large")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleDomainError maps the service error taxonomy onto status codes. Store
// failures surface only the failing store and step.
func handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve *apperr.ValidationError
		de *apperr.DuplicateError
	)
	switch {
	case errors.As(err, &ve):
		payload := map[string]any{"error": "validation failed", "fields": ve.Fields}
		if rid := RequestIDFromContext(r.Context()); rid != "" {
			payload["request_id"] = rid
		}
		writeJSON(w, http.StatusBadRequest, payload)
	case errors.As(err, &de):
		writeError(w, r, http.StatusConflict, de.Error())
	case errors.Is(err, apperr.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, apperr.ErrStore):
		writeError(w, r, http.StatusBadGateway, err.Error())
	default:
		obs.Logger().Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("unhandled error")
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if v < min || v > max {
		return 0, errors.New("out of range")
	}
	return v, nil
}
