package tenant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestList_Add(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	require.NoError(t, h.list.Add(ctx, "  Alice "))
	require.NoError(t, h.list.Add(ctx, "Bob"))

	err := h.list.Add(ctx, "Alice")
	assert.ErrorIs(t, err, ErrDuplicateTenant)
	assert.ErrorIs(t, h.list.Add(ctx, " "), ErrInvalidTenantName)

	assert.Equal(t, []string{"Alice", "Bob"}, h.list.Names())
	raw, err := h.mr.Get("phonesim:tenant-list")
	require.NoError(t, err)
	assert.JSONEq(t, `["Alice","Bob"]`, raw)
}

func TestList_DuplicateCheckIsExact(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	require.NoError(t, h.list.Add(ctx, "Alice"))
	// 仅在精确比较下重复才拒绝
	require.NoError(t, h.list.Add(ctx, "Alice Smith"))
	assert.True(t, h.list.Ensure(ctx, "Carol"))
	assert.False(t, h.list.Ensure(ctx, "Carol"))
	assert.Equal(t, []string{"Alice", "Alice Smith", "Carol"}, h.list.Names())
}

func TestList_RemoveGraduated(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	for _, n := range []string{"Alice", "Mary Jane", "Bob"} {
		require.NoError(t, h.list.Add(ctx, n))
	}

	removed, err := h.list.Remove(ctx, "MaryJane")
	require.NoError(t, err)
	assert.Equal(t, "Mary Jane", removed)

	removed, err = h.list.Remove(ctx, " Alice ")
	require.NoError(t, err)
	assert.Equal(t, "Alice", removed)

	_, err = h.list.Remove(ctx, "Carol")
	assert.ErrorIs(t, err, ErrTenantNotFound)
	_, err = h.list.Remove(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidTenantName)

	assert.Equal(t, []string{"Bob"}, h.list.Names())
	raw, err := h.mr.Get("phonesim:tenant-list")
	require.NoError(t, err)
	assert.JSONEq(t, `["Bob"]`, raw)
}

func TestList_FindReportsStrategy(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.list.Add(ctx, "Alice Smith"))

	name, strategy, ok := h.list.Find("Alice")
	assert.True(t, ok)
	assert.Equal(t, "Alice Smith", name)
	assert.Equal(t, MatchSubstring, strategy)

	_, _, ok = h.list.Find("Zed")
	assert.False(t, ok)
}

func TestList_LoadNormalizesAndDedupes(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.mr.Set("phonesim:tenant-list", `["Alice", {"name": "Bob "}, "Alice", {"nope": 1}]`))

	names := h.list.Load(context.Background())
	assert.Equal(t, []string{"Alice", "Bob"}, names)
}
