package http

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping() error { return f.err }

type fakeCacheSizer struct{ entries int }

func (f fakeCacheSizer) Len() int    { return f.entries }
func (f fakeCacheSizer) Weight() int { return f.entries * 64 }

func TestHealthChecker_AllOK(t *testing.T) {
	hc := NewHealthChecker(
		WithStorePing(fakePinger{}),
		WithCacheOccupancy(fakeCacheSizer{entries: 1}, 100),
		WithACLFreshness(func() time.Time { return time.Now() }, time.Minute),
	)

	resp := hc.Check()
	if resp.Status != "healthy" {
		t.Errorf("status = %q, want healthy; checks = %+v", resp.Status, resp.Checks)
	}
}

func TestHealthChecker_StoreUnreachable(t *testing.T) {
	hc := NewHealthChecker(WithStorePing(fakePinger{err: errors.New("disk full")}))

	resp := hc.Check()
	if resp.Status != "unhealthy" {
		t.Errorf("status = %q, want unhealthy", resp.Status)
	}

	rec := httptest.NewRecorder()
	hc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status code = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestHealthChecker_CacheAtCapacityIsDegraded(t *testing.T) {
	hc := NewHealthChecker(WithCacheOccupancy(fakeCacheSizer{entries: 100}, 100))

	resp := hc.Check()
	if resp.Status != "degraded" {
		t.Errorf("status = %q, want degraded", resp.Status)
	}
}

func TestHealthChecker_StaleACLRefreshIsDegraded(t *testing.T) {
	stale := time.Now().Add(-time.Hour)
	hc := NewHealthChecker(WithACLFreshness(func() time.Time { return stale }, time.Minute))

	resp := hc.Check()
	if resp.Status != "degraded" {
		t.Errorf("status = %q, want degraded; checks = %+v", resp.Status, resp.Checks)
	}
}

func TestHealthChecker_NoComponentsConfiguredIsHealthy(t *testing.T) {
	hc := NewHealthChecker()

	resp := hc.Check()
	if resp.Status != "healthy" {
		t.Errorf("status = %q, want healthy", resp.Status)
	}
}
