// Package store persists energy.State across restarts.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/clambin/radialight-monitor/internal/energy"
)

// ErrNotFound is returned by Load when no state was stored for a scope. Callers should start from a zero State.
var ErrNotFound = errors.New("state not found")

// Store holds one energy.State per scope.
type Store interface {
	Load(ctx context.Context, scope string) (energy.State, error)
	Save(ctx context.Context, scope string, state energy.State) error
	Close() error
}

type PersistenceErrorKind int

const (
	WriteFailed PersistenceErrorKind = iota
	ReadFailed
)

func (k PersistenceErrorKind) String() string {
	switch k {
	case WriteFailed:
		return "write_failed"
	case ReadFailed:
		return "read_failed"
	default:
		return "unknown"
	}
}

var (
	ErrWriteFailed = &PersistenceError{Kind: WriteFailed}
	ErrReadFailed  = &PersistenceError{Kind: ReadFailed}
)

type PersistenceError struct {
	Kind  PersistenceErrorKind
	Scope string
	Err   error
}

var _ error = &PersistenceError{}

func (e *PersistenceError) Error() string {
	msg := e.Kind.String()
	if e.Scope != "" {
		msg = e.Scope + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PersistenceError) Is(target error) bool {
	var t *PersistenceError
	return errors.As(target, &t) && t.Kind == e.Kind
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// LoadOrDefault returns the stored state for scope, or a zero State if none was stored.
func LoadOrDefault(ctx context.Context, s Store, scope string) (energy.State, error) {
	state, err := s.Load(ctx, scope)
	if errors.Is(err, ErrNotFound) {
		return energy.State{}, nil
	}
	return state, err
}

// New returns the Store selected by storeType.
func New(storeType, path string) (Store, error) {
	switch storeType {
	case "", "file":
		return NewFileStore(path), nil
	case "sqlite":
		return NewSQLStore(path)
	default:
		return nil, fmt.Errorf("invalid store type %q", storeType)
	}
}
