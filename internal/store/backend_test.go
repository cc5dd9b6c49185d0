package store

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackend_SetGet(t *testing.T) {
	eachBackend(t, nil, func(t *testing.T, b backend) {
		ctx := context.Background()

		require.NoError(t, b.Set(ctx, "sheet:1", `{"name":"Soup"}`))

		v, ok, err := b.Get(ctx, "sheet:1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, `{"name":"Soup"}`, v)
	})
}

func TestBackend_GetMissing(t *testing.T) {
	eachBackend(t, nil, func(t *testing.T, b backend) {
		v, ok, err := b.Get(context.Background(), "nope")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, v)
	})
}

func TestBackend_Overwrite(t *testing.T) {
	eachBackend(t, nil, func(t *testing.T, b backend) {
		ctx := context.Background()

		require.NoError(t, b.Set(ctx, "k", "first"))
		require.NoError(t, b.Set(ctx, "k", "second"))

		v, _, err := b.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "second", v)

		u, err := b.Usage(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, u.Keys)
		assert.Equal(t, int64(len("k")+len("second")), u.Bytes)
	})
}

func TestBackend_Delete(t *testing.T) {
	eachBackend(t, nil, func(t *testing.T, b backend) {
		ctx := context.Background()

		require.NoError(t, b.Set(ctx, "k", "v"))
		require.NoError(t, b.Delete(ctx, "k"))
		require.NoError(t, b.Delete(ctx, "k"), "deleting a missing key is not an error")

		_, ok, err := b.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)

		u, err := b.Usage(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), u.Bytes)
	})
}

func TestBackend_KeysByPrefix(t *testing.T) {
	eachBackend(t, nil, func(t *testing.T, b backend) {
		ctx := context.Background()

		for _, k := range []string{"draft:2", "sheet:1", "draft:1", "draft:10"} {
			require.NoError(t, b.Set(ctx, k, "v"))
		}

		keys, err := b.Keys(ctx, "draft:")
		require.NoError(t, err)
		assert.Equal(t, []string{"draft:1", "draft:10", "draft:2"}, keys)

		all, err := b.Keys(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 4)

		none, err := b.Keys(ctx, "missing:")
		require.NoError(t, err)
		assert.NotNil(t, none)
		assert.Empty(t, none)
	})
}

func TestBackend_QuotaRejectsWithoutSideEffects(t *testing.T) {
	eachBackend(t, []Option{WithQuota(40)}, func(t *testing.T, b backend) {
		ctx := context.Background()

		require.NoError(t, b.Set(ctx, "a", strings.Repeat("x", 19))) // 20 bytes
		require.NoError(t, b.Set(ctx, "b", strings.Repeat("y", 9)))  // 10 bytes

		err := b.Set(ctx, "c", strings.Repeat("z", 19)) // 20 bytes, would be 50
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrQuotaExceeded))

		_, ok, err := b.Get(ctx, "c")
		require.NoError(t, err)
		assert.False(t, ok, "rejected write must not be visible")

		v, _, err := b.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, strings.Repeat("x", 19), v)

		u, err := b.Usage(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(30), u.Bytes)
		assert.Equal(t, int64(40), u.Quota)
	})
}

func TestBackend_QuotaCreditsOverwrittenValue(t *testing.T) {
	eachBackend(t, []Option{WithQuota(30)}, func(t *testing.T, b backend) {
		ctx := context.Background()

		require.NoError(t, b.Set(ctx, "a", strings.Repeat("x", 24))) // 25 bytes
		// Replacing "a" with another 25-byte value fits: the old value is released.
		require.NoError(t, b.Set(ctx, "a", strings.Repeat("y", 24)))
	})
}

func TestBackend_DeleteFreesQuota(t *testing.T) {
	eachBackend(t, []Option{WithQuota(30)}, func(t *testing.T, b backend) {
		ctx := context.Background()

		require.NoError(t, b.Set(ctx, "a", strings.Repeat("x", 19)))
		require.ErrorIs(t, b.Set(ctx, "b", strings.Repeat("y", 19)), ErrQuotaExceeded)

		require.NoError(t, b.Delete(ctx, "a"))
		require.NoError(t, b.Set(ctx, "b", strings.Repeat("y", 19)))
	})
}

func TestMemory_ClosedReturnsErrClosed(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Close())

	_, _, err := m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, m.Set(ctx, "k", "v"), ErrClosed)
	assert.ErrorIs(t, m.Delete(ctx, "k"), ErrClosed)
	_, err = m.Keys(ctx, "")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = m.Usage(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}
