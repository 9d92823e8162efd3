package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"

	"gorm.io/gorm"

	"github.com/shophub/marketplace/internal/repositories"
)

func TestMapError(t *testing.T) {
	cases := []struct {
		name        string
		err         error
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{name: "record not found", err: gorm.ErrRecordNotFound, notFound: true},
		{name: "duplicated key", err: gorm.ErrDuplicatedKey, conflict: true},
		{name: "context canceled", err: context.Canceled, unavailable: true},
		{name: "deadline exceeded", err: context.DeadlineExceeded, unavailable: true},
		{name: "driver failure", err: errors.New("connection reset"), unavailable: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mapped := mapError("orders.find", tc.err)

			var repoErr repositories.RepositoryError
			if !errors.As(mapped, &repoErr) {
				t.Fatalf("mapped error %T does not implement RepositoryError", mapped)
			}
			if repoErr.IsNotFound() != tc.notFound {
				t.Fatalf("IsNotFound = %v, want %v", repoErr.IsNotFound(), tc.notFound)
			}
			if repoErr.IsConflict() != tc.conflict {
				t.Fatalf("IsConflict = %v, want %v", repoErr.IsConflict(), tc.conflict)
			}
			if repoErr.IsUnavailable() != tc.unavailable {
				t.Fatalf("IsUnavailable = %v, want %v", repoErr.IsUnavailable(), tc.unavailable)
			}
		})
	}
}

func TestMapError_NilPassesThrough(t *testing.T) {
	if err := mapError("orders.find", nil); err != nil {
		t.Fatalf("mapError(nil) = %v, want nil", err)
	}
}

func TestStorageError_WrapsCause(t *testing.T) {
	cause := gorm.ErrRecordNotFound
	mapped := mapError("coupons.find", cause)

	if !errors.Is(mapped, cause) {
		t.Fatal("mapped error must unwrap to the gorm cause")
	}
	if msg := mapped.Error(); !strings.Contains(msg, "coupons.find") {
		t.Fatalf("error message %q must carry the operation", msg)
	}
}
