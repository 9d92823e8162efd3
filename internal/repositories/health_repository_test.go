package repositories

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/shophub/marketplace/internal/domain"
)

func TestNewDependencyHealthRepository_RequiresChecks(t *testing.T) {
	if _, err := NewDependencyHealthRepository(nil); err == nil {
		t.Fatal("expected error for empty check set")
	}
}

func TestDependencyHealthRepository_Collect(t *testing.T) {
	t.Run("all healthy", func(t *testing.T) {
		repo, err := NewDependencyHealthRepository([]DependencyCheck{
			{Name: "postgres", Check: func(context.Context) error { return nil }},
			{Name: "kafka", Check: func(context.Context) error { return nil }},
		})
		if err != nil {
			t.Fatalf("NewDependencyHealthRepository returned error: %v", err)
		}

		report, err := repo.Collect(context.Background())
		if err != nil {
			t.Fatalf("Collect returned error: %v", err)
		}
		if report.Status != domain.HealthStatusOK {
			t.Fatalf("status = %s, want ok", report.Status)
		}
		if len(report.Checks) != 2 {
			t.Fatalf("checks = %d, want 2", len(report.Checks))
		}
		if report.Checks["postgres"].Detail != "ok" {
			t.Fatalf("postgres detail = %q, want ok", report.Checks["postgres"].Detail)
		}
		if report.GeneratedAt.IsZero() {
			t.Fatal("GeneratedAt must be stamped")
		}
	})

	t.Run("failed check degrades the report", func(t *testing.T) {
		repo, err := NewDependencyHealthRepository([]DependencyCheck{
			{Name: "postgres", Check: func(context.Context) error { return nil }},
			{Name: "kafka", Check: func(context.Context) error { return errors.New("broker unreachable") }},
		})
		if err != nil {
			t.Fatalf("NewDependencyHealthRepository returned error: %v", err)
		}

		report, err := repo.Collect(context.Background())
		if err != nil {
			t.Fatalf("Collect returned error: %v", err)
		}
		if report.Status != domain.HealthStatusDegraded {
			t.Fatalf("status = %s, want degraded", report.Status)
		}
		check := report.Checks["kafka"]
		if check.Status != domain.HealthStatusDegraded || check.Error != "broker unreachable" {
			t.Fatalf("unexpected kafka check %+v", check)
		}
	})

	t.Run("timeout escalates to error status", func(t *testing.T) {
		repo, err := NewDependencyHealthRepository([]DependencyCheck{
			{
				Name:    "postgres",
				Timeout: 10 * time.Millisecond,
				Check: func(ctx context.Context) error {
					<-ctx.Done()
					return ctx.Err()
				},
			},
			{Name: "kafka", Check: func(context.Context) error { return errors.New("broker unreachable") }},
		})
		if err != nil {
			t.Fatalf("NewDependencyHealthRepository returned error: %v", err)
		}

		report, err := repo.Collect(context.Background())
		if err != nil {
			t.Fatalf("Collect returned error: %v", err)
		}
		if report.Status != domain.HealthStatusError {
			t.Fatalf("status = %s, error must outrank degraded", report.Status)
		}
		check := report.Checks["postgres"]
		if check.Status != domain.HealthStatusError || check.Detail != "timeout" {
			t.Fatalf("unexpected postgres check %+v", check)
		}
	})

	t.Run("unnamed check is a configuration error", func(t *testing.T) {
		repo, err := NewDependencyHealthRepository([]DependencyCheck{
			{Name: "   ", Check: func(context.Context) error { return nil }},
		})
		if err != nil {
			t.Fatalf("NewDependencyHealthRepository returned error: %v", err)
		}

		if _, err := repo.Collect(context.Background()); err == nil || !strings.Contains(err.Error(), "missing name") {
			t.Fatalf("Collect error = %v, want missing name", err)
		}
	})

	t.Run("check without function is a configuration error", func(t *testing.T) {
		repo, err := NewDependencyHealthRepository([]DependencyCheck{
			{Name: "postgres"},
		})
		if err != nil {
			t.Fatalf("NewDependencyHealthRepository returned error: %v", err)
		}

		if _, err := repo.Collect(context.Background()); err == nil || !strings.Contains(err.Error(), "missing check function") {
			t.Fatalf("Collect error = %v, want missing check function", err)
		}
	})

	t.Run("nil context is rejected", func(t *testing.T) {
		repo, err := NewDependencyHealthRepository([]DependencyCheck{
			{Name: "postgres", Check: func(context.Context) error { return nil }},
		})
		if err != nil {
			t.Fatalf("NewDependencyHealthRepository returned error: %v", err)
		}

		//nolint:staticcheck // exercising the guard against a nil context
		if _, err := repo.Collect(nil); err == nil {
			t.Fatal("expected error for nil context")
		}
	})
}
