package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/shophub/marketplace/internal/domain"
	"github.com/shophub/marketplace/internal/services"
)

func TestHealthHandlers_Healthz(t *testing.T) {
	started := handlerTestNow.Add(-90 * time.Minute)
	h := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{
			Version:     "1.4.0",
			CommitSHA:   "ab12cd3",
			Environment: "staging",
			StartedAt:   started,
		}),
		WithHealthClock(func() time.Time { return handlerTestNow }),
	)

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp struct {
		Status      string `json:"status"`
		Version     string `json:"version"`
		CommitSHA   string `json:"commitSha"`
		Environment string `json:"environment"`
		Uptime      string `json:"uptime"`
	}
	decodeBody(t, rec, &resp)
	if resp.Status != "ok" {
		t.Fatalf("status = %q, want ok", resp.Status)
	}
	if resp.Version != "1.4.0" || resp.CommitSHA != "ab12cd3" || resp.Environment != "staging" {
		t.Fatalf("unexpected build metadata %+v", resp)
	}
	if resp.Uptime != "1h30m0s" {
		t.Fatalf("uptime = %q, want 1h30m0s", resp.Uptime)
	}
}

func TestHealthHandlers_Readyz(t *testing.T) {
	t.Run("no system service reports ok", func(t *testing.T) {
		h := NewHealthHandlers()
		rec := httptest.NewRecorder()
		h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}
	})

	t.Run("healthy dependencies report ok", func(t *testing.T) {
		system := &stubSystemService{
			report: services.SystemHealthReport{
				Status: domain.HealthStatusOK,
				Checks: map[string]domain.SystemHealthCheck{
					"postgres": {Status: domain.HealthStatusOK, Latency: 3 * time.Millisecond},
					"kafka":    {Status: domain.HealthStatusOK},
				},
				GeneratedAt: handlerTestNow,
			},
		}
		h := NewHealthHandlers(WithHealthSystemService(system))
		rec := httptest.NewRecorder()
		h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
		}
		var resp readyzResponse
		decodeBody(t, rec, &resp)
		if resp.Status != "ok" || len(resp.Checks) != 2 {
			t.Fatalf("unexpected readiness payload %+v", resp)
		}
		if resp.Checks["postgres"].Latency != "3ms" {
			t.Fatalf("postgres latency = %q, want 3ms", resp.Checks["postgres"].Latency)
		}
	})

	t.Run("degraded dependency reports 503 with details", func(t *testing.T) {
		system := &stubSystemService{
			report: services.SystemHealthReport{
				Status: domain.HealthStatusDegraded,
				Checks: map[string]domain.SystemHealthCheck{
					"postgres": {Status: domain.HealthStatusDegraded, Error: "connection refused"},
				},
				GeneratedAt: handlerTestNow,
			},
		}
		h := NewHealthHandlers(WithHealthSystemService(system))
		rec := httptest.NewRecorder()
		h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
		}
		var resp readyzResponse
		decodeBody(t, rec, &resp)
		if resp.Status != "degraded" {
			t.Fatalf("status = %q, want degraded", resp.Status)
		}
		if len(resp.Details) != 1 || resp.Details[0] != "postgres: connection refused" {
			t.Fatalf("details = %v", resp.Details)
		}
	})

	t.Run("probe failure reports 503", func(t *testing.T) {
		system := &stubSystemService{err: errors.New("health repository offline")}
		h := NewHealthHandlers(WithHealthSystemService(system))
		rec := httptest.NewRecorder()
		h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
		}
		var resp readyzResponse
		decodeBody(t, rec, &resp)
		if resp.Status != "error" {
			t.Fatalf("status = %q, want error", resp.Status)
		}
	})
}
