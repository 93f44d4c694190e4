package txscope

import (
	"context"
	"errors"
	"testing"

	"ledger-engine/internal/pkg/apperrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTx struct {
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit(context.Context) error   { t.committed = true; return nil }
func (t *fakeTx) Rollback(context.Context) error { t.rolledBack = true; return nil }

type fakeBeginner struct {
	begun []*fakeTx
	isos  []Isolation
}

func (b *fakeBeginner) BeginScope(_ context.Context, iso Isolation) (Tx, error) {
	tx := &fakeTx{}
	b.begun = append(b.begun, tx)
	b.isos = append(b.isos, iso)
	return tx, nil
}

func TestRunRequiredBeginsAndCommits(t *testing.T) {
	b := &fakeBeginner{}

	err := Run(context.Background(), b, Required, RepeatableRead, func(ctx context.Context) error {
		tx, iso, ok := Current(ctx)
		require.True(t, ok)
		assert.Same(t, b.begun[0], tx)
		assert.Equal(t, RepeatableRead, iso)
		return nil
	})

	require.NoError(t, err)
	require.Len(t, b.begun, 1)
	assert.True(t, b.begun[0].committed)
	assert.False(t, b.begun[0].rolledBack)
}

func TestRunRollsBackOnError(t *testing.T) {
	b := &fakeBeginner{}
	boom := errors.New("boom")

	err := Run(context.Background(), b, Required, ReadCommitted, func(context.Context) error { return boom })

	assert.ErrorIs(t, err, boom)
	assert.True(t, b.begun[0].rolledBack)
	assert.False(t, b.begun[0].committed)
}

func TestRunRollsBackOnPanic(t *testing.T) {
	b := &fakeBeginner{}

	assert.Panics(t, func() {
		_ = Run(context.Background(), b, Required, ReadCommitted, func(context.Context) error { panic("bad") })
	})
	assert.True(t, b.begun[0].rolledBack)
}

func TestRunRequiredJoinsActiveScope(t *testing.T) {
	b := &fakeBeginner{}

	err := Run(context.Background(), b, Required, Serializable, func(ctx context.Context) error {
		return Run(ctx, b, Required, RepeatableRead, func(context.Context) error { return nil })
	})

	require.NoError(t, err)
	assert.Len(t, b.begun, 1)
}

func TestRunRequiredRejectsWeakerActiveScope(t *testing.T) {
	b := &fakeBeginner{}

	err := Run(context.Background(), b, Required, ReadCommitted, func(ctx context.Context) error {
		return Run(ctx, b, Required, RepeatableRead, func(context.Context) error { return nil })
	})

	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
}

func TestRunRequiresNewAlwaysBegins(t *testing.T) {
	b := &fakeBeginner{}

	err := Run(context.Background(), b, Required, ReadCommitted, func(ctx context.Context) error {
		return Run(ctx, b, RequiresNew, Serializable, func(inner context.Context) error {
			tx, _, _ := Current(inner)
			assert.Same(t, b.begun[1], tx)
			return nil
		})
	})

	require.NoError(t, err)
	require.Len(t, b.begun, 2)
	assert.Equal(t, []Isolation{ReadCommitted, Serializable}, b.isos)
}

func TestRunMandatory(t *testing.T) {
	b := &fakeBeginner{}

	err := Run(context.Background(), b, Mandatory, ReadCommitted, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
	assert.Empty(t, b.begun)

	err = Run(context.Background(), b, Required, RepeatableRead, func(ctx context.Context) error {
		return Run(ctx, b, Mandatory, RepeatableRead, func(context.Context) error { return nil })
	})
	assert.NoError(t, err)
}

func TestRunSupportsWithoutScope(t *testing.T) {
	b := &fakeBeginner{}

	err := Run(context.Background(), b, Supports, ReadCommitted, func(ctx context.Context) error {
		assert.False(t, Active(ctx))
		return nil
	})

	require.NoError(t, err)
	assert.Empty(t, b.begun)
}
