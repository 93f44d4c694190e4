// Package txscope makes transaction boundaries explicit. A caller names the
// propagation it wants and the minimum isolation level, and the scope helper
// begins, joins or rejects a transaction accordingly. Stores look up the
// active transaction from the context.
package txscope

import (
	"context"
	"fmt"

	"ledger-engine/internal/pkg/apperrors"
)

type Propagation int

const (
	// Required joins the active scope or begins a new one.
	Required Propagation = iota
	// RequiresNew always begins a new, independent scope.
	RequiresNew
	// Mandatory fails unless a scope is already active.
	Mandatory
	// Supports joins an active scope if present and otherwise runs without one.
	Supports
)

func (p Propagation) String() string {
	switch p {
	case Required:
		return "REQUIRED"
	case RequiresNew:
		return "REQUIRES_NEW"
	case Mandatory:
		return "MANDATORY"
	case Supports:
		return "SUPPORTS"
	default:
		return fmt.Sprintf("Propagation(%d)", int(p))
	}
}

// Isolation levels are ordered from weakest to strongest.
type Isolation int

const (
	ReadCommitted Isolation = iota
	RepeatableRead
	Serializable
)

func (i Isolation) String() string {
	switch i {
	case ReadCommitted:
		return "READ COMMITTED"
	case RepeatableRead:
		return "REPEATABLE READ"
	case Serializable:
		return "SERIALIZABLE"
	default:
		return fmt.Sprintf("Isolation(%d)", int(i))
	}
}

type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Beginner is implemented by stores that can open a transaction at a given
// isolation level.
type Beginner interface {
	BeginScope(ctx context.Context, iso Isolation) (Tx, error)
}

type scope struct {
	tx  Tx
	iso Isolation
}

type ctxKey struct{}

// Current returns the transaction bound to ctx, if any.
func Current(ctx context.Context) (Tx, Isolation, bool) {
	s, ok := ctx.Value(ctxKey{}).(*scope)
	if !ok {
		return nil, ReadCommitted, false
	}
	return s.tx, s.iso, true
}

func Active(ctx context.Context) bool {
	_, _, ok := Current(ctx)
	return ok
}

// Run executes fn under the requested propagation. A scope begun by Run is
// committed when fn returns nil and rolled back otherwise, including on panic.
// Joining a scope whose isolation is weaker than iso is rejected.
func Run(ctx context.Context, b Beginner, p Propagation, iso Isolation, fn func(ctx context.Context) error) error {
	cur, active := ctx.Value(ctxKey{}).(*scope)

	switch p {
	case Mandatory:
		if !active {
			return fmt.Errorf("%w: %s propagation requires an active transaction", apperrors.ErrInvalidState, p)
		}
		if cur.iso < iso {
			return fmt.Errorf("%w: active transaction runs at %s, %s required", apperrors.ErrInvalidState, cur.iso, iso)
		}
		return fn(ctx)
	case Supports:
		return fn(ctx)
	case Required:
		if active {
			if cur.iso < iso {
				return fmt.Errorf("%w: active transaction runs at %s, %s required", apperrors.ErrInvalidState, cur.iso, iso)
			}
			return fn(ctx)
		}
	case RequiresNew:
	default:
		return fmt.Errorf("%w: unknown propagation %s", apperrors.ErrInvalidArgument, p)
	}

	return begin(ctx, b, iso, fn)
}

func begin(ctx context.Context, b Beginner, iso Isolation, fn func(ctx context.Context) error) (err error) {
	tx, err := b.BeginScope(ctx, iso)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
	}()

	if err = fn(context.WithValue(ctx, ctxKey{}, &scope{tx: tx, iso: iso})); err != nil {
		// A cancelled caller still needs the rollback to reach the store.
		_ = tx.Rollback(context.WithoutCancel(ctx))
		return err
	}
	return tx.Commit(ctx)
}
