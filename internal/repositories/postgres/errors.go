package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/shophub/marketplace/internal/repositories"
)

type errorKind int

const (
	kindUnavailable errorKind = iota
	kindNotFound
	kindConflict
)

// storageError categorises a persistence failure for the service layer.
type storageError struct {
	op   string
	kind errorKind
	err  error
}

var _ repositories.RepositoryError = (*storageError)(nil)

func (e *storageError) Error() string {
	if e.err == nil {
		return e.op
	}
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

func (e *storageError) Unwrap() error      { return e.err }
func (e *storageError) IsNotFound() bool   { return e.kind == kindNotFound }
func (e *storageError) IsConflict() bool   { return e.kind == kindConflict }
func (e *storageError) IsUnavailable() bool {
	return e.kind == kindUnavailable
}

func notFoundError(op string, err error) error {
	return &storageError{op: op, kind: kindNotFound, err: err}
}

func conflictError(op string, err error) error {
	return &storageError{op: op, kind: kindConflict, err: err}
}

func unavailableError(op string, err error) error {
	return &storageError{op: op, kind: kindUnavailable, err: err}
}

// mapError translates gorm errors into the repository error taxonomy.
// Uniqueness violations arrive as gorm.ErrDuplicatedKey because the dialector
// is opened with TranslateError enabled.
func mapError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return notFoundError(op, err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return conflictError(op, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return unavailableError(op, err)
	default:
		return unavailableError(op, err)
	}
}
