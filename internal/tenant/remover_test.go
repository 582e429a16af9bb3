package tenant

import (
	"context"
	"testing"
	"time"

	"phonesim-core/internal/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemove_ActiveTenantSwitchesToFirstRemaining(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	require.NoError(t, h.switcher.Switch(ctx, "Alice"))
	require.NoError(t, h.switcher.Switch(ctx, "Bob"))
	require.True(t, h.table.Set(ctx, "bob_contact", "Bob"))
	require.True(t, h.table.Set(ctx, "alice_contact", "Alice"))
	require.NoError(t, h.mr.Set("phonesim:contacts-Bob", `{}`))
	require.NoError(t, h.mr.Set("phonesim:browser-history-Bob", `[]`))

	removed, err := h.remover.Remove(ctx, "Bob ")
	require.NoError(t, err)
	assert.Equal(t, "Bob", removed)

	assert.Equal(t, []string{"Alice"}, h.list.Names())
	assert.Equal(t, "Alice", h.store.CurrentTenant())
	current, err := h.mr.Get("phonesim:current-tenant")
	require.NoError(t, err)
	assert.Equal(t, "Alice", current)

	assert.False(t, h.mr.Exists("phonesim:contacts-Bob"))
	assert.False(t, h.mr.Exists("phonesim:browser-history-Bob"))
	// 删除后的切换不会把 Bob 的 UI 状态写回
	assert.False(t, h.mr.Exists("phonesim:ui-state-Bob"))

	_, ok := h.table.Get(ctx, "bob_contact")
	assert.False(t, ok)
	got, ok := h.table.Get(ctx, "alice_contact")
	assert.True(t, ok)
	assert.Equal(t, "Alice", got)

	assert.Contains(t, h.pub.types(), events.TypeTenantRemoved)
}

func TestRemove_LastTenantClearsCurrent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	require.NoError(t, h.switcher.Switch(ctx, "Carol"))
	_, err := h.remover.Remove(ctx, "Carol")
	require.NoError(t, err)

	assert.Empty(t, h.list.Names())
	assert.Empty(t, h.store.CurrentTenant())
	assert.False(t, h.mr.Exists("phonesim:current-tenant"))
}

func TestRemove_InactiveTenantKeepsCurrent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	require.NoError(t, h.list.Add(ctx, "Alice"))
	require.NoError(t, h.switcher.Switch(ctx, "Bob"))

	removed, err := h.remover.Remove(ctx, "Alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", removed)
	assert.Equal(t, "Bob", h.store.CurrentTenant())
	assert.Equal(t, []string{"Bob"}, h.list.Names())
}

func TestRemove_NotFound(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.remover.Remove(context.Background(), "Nobody")
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestRemove_WaitsForInflightSwitch(t *testing.T) {
	gate := make(chan struct{})
	fetcher := &gatedFetcher{
		gate:    map[string]chan struct{}{"Carol": gate},
		entered: make(chan string, 1),
	}
	h := newHarness(t, fetcher)
	ctx := context.Background()
	require.NoError(t, h.list.Add(ctx, "Alice"))

	errCarol := make(chan error, 1)
	go func() { errCarol <- h.switcher.Switch(ctx, "Carol") }()
	require.Equal(t, "Carol", <-fetcher.entered)

	removed := make(chan string, 1)
	go func() {
		name, err := h.remover.Remove(ctx, "Carol")
		assert.NoError(t, err)
		removed <- name
	}()

	select {
	case <-removed:
		t.Fatal("removal ran while a switch was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	require.NoError(t, <-errCarol)
	assert.Equal(t, "Carol", <-removed)

	assert.Equal(t, []string{"Alice"}, h.list.Names())
	assert.Equal(t, "Alice", h.store.CurrentTenant())
	current, err := h.mr.Get("phonesim:current-tenant")
	require.NoError(t, err)
	assert.Equal(t, "Alice", current)
	assert.False(t, h.mr.Exists("phonesim:ui-state-Carol"))
	require.Eventually(t, h.switcher.Idle, time.Second, 5*time.Millisecond)
}
