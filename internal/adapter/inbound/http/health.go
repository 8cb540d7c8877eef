package http

import (
	"encoding/json"
	"net/http"
	"time"
)

// HealthResponse is the JSON body returned by the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version,omitempty"`
}

// StorePingChecker is satisfied by a durable store that can report liveness,
// e.g. the sqlite adapter's underlying *sql.DB.
type StorePingChecker interface {
	Ping() error
}

// CacheSizer is satisfied by the Verdict Cache, letting the health check
// report how close the cache is to its configured bounds.
type CacheSizer interface {
	Len() int
	Weight() int
}

// HealthChecker aggregates liveness signals from hookengine's components:
// the durable rule store, the verdict cache occupancy, and the
// access-control probe's freshness.
type HealthChecker struct {
	store           StorePingChecker // nil when running with the in-memory store
	cache           CacheSizer
	cacheMaxEntries int
	aclLastRefresh  func() time.Time // nil when the ACL probe is disabled
	aclStaleAfter   time.Duration
	version         string
}

// HealthCheckerOption configures a HealthChecker at construction.
type HealthCheckerOption func(*HealthChecker)

// WithStorePing attaches a durable store's liveness check.
func WithStorePing(store StorePingChecker) HealthCheckerOption {
	return func(h *HealthChecker) { h.store = store }
}

// WithCacheOccupancy attaches the verdict cache and its configured entry cap.
func WithCacheOccupancy(cache CacheSizer, maxEntries int) HealthCheckerOption {
	return func(h *HealthChecker) {
		h.cache = cache
		h.cacheMaxEntries = maxEntries
	}
}

// WithACLFreshness attaches the access-control probe's last-successful-refresh
// clock; degraded is reported once it falls behind staleAfter.
func WithACLFreshness(lastRefresh func() time.Time, staleAfter time.Duration) HealthCheckerOption {
	return func(h *HealthChecker) {
		h.aclLastRefresh = lastRefresh
		h.aclStaleAfter = staleAfter
	}
}

// WithVersion attaches the build version reported in the response body.
func WithVersion(version string) HealthCheckerOption {
	return func(h *HealthChecker) { h.version = version }
}

// NewHealthChecker constructs a HealthChecker; every component check is
// optional, matching components that may be absent under a given deployment
// (in-memory store, disabled ACL probe).
func NewHealthChecker(opts ...HealthCheckerOption) *HealthChecker {
	h := &HealthChecker{}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Check runs every configured component check and returns the aggregate
// HealthResponse. An unreachable durable store marks the whole response
// unhealthy; a cache at capacity or a stale ACL refresh only degrade it,
// since hookengine keeps serving on cached/in-memory state in those cases.
func (h *HealthChecker) Check() HealthResponse {
	checks := make(map[string]string)
	status := "healthy"

	if h.store != nil {
		if err := h.store.Ping(); err != nil {
			checks["store"] = "unhealthy: " + err.Error()
			status = "unhealthy"
		} else {
			checks["store"] = "ok"
		}
	}

	if h.cache != nil {
		checks["cache"] = "ok"
		if h.cacheMaxEntries > 0 && h.cache.Len() >= h.cacheMaxEntries {
			checks["cache"] = "degraded: at entry capacity"
			if status == "healthy" {
				status = "degraded"
			}
		}
	}

	if h.aclLastRefresh != nil {
		age := time.Since(h.aclLastRefresh())
		if h.aclStaleAfter > 0 && age > h.aclStaleAfter {
			checks["acl"] = "degraded: last refresh " + age.Round(time.Second).String() + " ago"
			if status == "healthy" {
				status = "degraded"
			}
		} else {
			checks["acl"] = "ok"
		}
	}

	return HealthResponse{Status: status, Checks: checks, Version: h.version}
}

// Handler returns an http.Handler serving Check's result as JSON, with a 503
// status when the aggregate status is "unhealthy".
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := h.Check()
		w.Header().Set("Content-Type", "application/json")
		if resp.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
}
