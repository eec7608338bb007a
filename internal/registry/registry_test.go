package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterRejectsDuplicate(t *testing.T) {
	r := New(nil)

	_, cancel1 := context.WithCancelCause(context.Background())
	defer cancel1(nil)
	require.NoError(t, r.Register("task-1", cancel1))

	_, cancel2 := context.WithCancelCause(context.Background())
	defer cancel2(nil)
	err := r.Register("task-1", cancel2)
	require.ErrorIs(t, err, ErrAlreadyRegistered)

	require.Equal(t, 1, r.ActiveCount())
}

func TestCancelDeliversCause(t *testing.T) {
	r := New(nil)

	ctx, cancel := context.WithCancelCause(context.Background())
	require.NoError(t, r.Register("task-1", cancel))

	require.True(t, r.Cancel("task-1"))
	require.ErrorIs(t, context.Cause(ctx), ErrCancelled)
	require.Equal(t, 0, r.ActiveCount())

	// A second cancel is a no-op.
	require.False(t, r.Cancel("task-1"))
}

func TestCancelAll(t *testing.T) {
	r := New(nil)

	ctxs := make([]context.Context, 3)
	for i, id := range []string{"a", "b", "c"} {
		ctx, cancel := context.WithCancelCause(context.Background())
		ctxs[i] = ctx
		require.NoError(t, r.Register(id, cancel))
	}

	require.Equal(t, 3, r.CancelAll())
	for _, ctx := range ctxs {
		require.ErrorIs(t, context.Cause(ctx), ErrCancelled)
	}
	require.Equal(t, 0, r.ActiveCount())
}

func TestRemoveDoesNotCancel(t *testing.T) {
	r := New(nil)

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	require.NoError(t, r.Register("task-1", cancel))

	r.Remove("task-1")
	require.NoError(t, ctx.Err())
	require.False(t, r.Active("task-1"))

	// Registration is possible again after removal.
	_, cancel2 := context.WithCancelCause(context.Background())
	defer cancel2(nil)
	require.NoError(t, r.Register("task-1", cancel2))
}
