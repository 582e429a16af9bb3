package state

import (
	"context"
	"encoding/json"
	"testing"

	"phonesim-core/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestPersistence() (*Persistence, *fakeKV) {
	kv := newFakeKV()
	return NewPersistence(kv, "phonesim:", zap.NewNop()), kv
}

func strPtr(s string) *string { return &s }

func TestKey(t *testing.T) {
	p, _ := newTestPersistence()
	assert.Equal(t, "phonesim:ui-state", p.Key(SliceUiState, ""))
	assert.Equal(t, "phonesim:ui-state-Alice", p.Key(SliceUiState, "Alice"))
	assert.Equal(t, "phonesim:current-tenant", p.Key(SliceCurrentTenant, ""))
}

func TestUiState_RoundTrip(t *testing.T) {
	p, _ := newTestPersistence()
	ctx := context.Background()

	ui := models.PersistedUiSlice{
		IsPanelVisible:     true,
		PanelPos:           &models.PanelPos{Top: "10px", Left: "20px"},
		CurrentView:        "ChatConversation",
		ActiveContactID:    strPtr("bob_contact"),
		ActiveEmailID:      strPtr("e1"),
		ActiveProfileID:    strPtr("p1"),
		ActiveForumBoardID: strPtr("b1"),
		ActiveForumPostID:  strPtr("fp1"),
		ActiveLiveBoardID:  strPtr("lb1"),
		ActiveLiveStreamID: strPtr("ls1"),
		ActiveSubviews:     map[string]string{"ChatApp": "contacts"},
	}
	require.True(t, p.SaveUiState(ctx, "Alice", ui))

	st := models.NewTenantState()
	p.LoadUiState(ctx, "Alice", st)
	assert.Equal(t, ui, st.UiSlice())
}

func TestUiState_AllowListMerge(t *testing.T) {
	p, kv := newTestPersistence()
	ctx := context.Background()

	kv.data["phonesim:ui-state-Alice"] = `{
		"isPanelVisible": true,
		"currentView": "EmailApp",
		"panelPos": "not-an-object",
		"activeContactId": null,
		"isNavigating": true,
		"contacts": {"leak": {"profile": {"nickname": "Leak"}}},
		"currentCharacter": "Mallory",
		"legacyField": 1
	}`

	st := models.NewTenantState()
	st.PanelPos = &models.PanelPos{Top: "1px", Left: "2px"}
	st.ActiveContactID = strPtr("old")
	p.LoadUiState(ctx, "Alice", st)

	assert.True(t, st.IsPanelVisible)
	assert.Equal(t, "EmailApp", st.CurrentView)
	// 格式错误的字段跳过，保留内存值
	assert.Equal(t, &models.PanelPos{Top: "1px", Left: "2px"}, st.PanelPos)
	// 显式 null 覆盖
	assert.Nil(t, st.ActiveContactID)
	// 白名单之外的字段不生效
	assert.False(t, st.IsNavigating)
	assert.Empty(t, st.Contacts)
	assert.Empty(t, st.CurrentCharacter)
}

func TestUiState_MalformedDocumentKeepsDefaults(t *testing.T) {
	p, kv := newTestPersistence()
	kv.data["phonesim:ui-state-Alice"] = `{broken`

	st := models.NewTenantState()
	p.LoadUiState(context.Background(), "Alice", st)
	assert.Equal(t, models.NewTenantState().UiSlice(), st.UiSlice())
}

func TestUiState_NullViewFallsBackToDefault(t *testing.T) {
	p, kv := newTestPersistence()
	kv.data["phonesim:ui-state"] = `{"currentView": null, "activeSubviews": null}`

	st := models.NewTenantState()
	st.CurrentView = "Somewhere"
	p.LoadUiState(context.Background(), "", st)
	assert.Equal(t, models.DefaultView, st.CurrentView)
	assert.NotNil(t, st.ActiveSubviews)
}

func TestBackendFailureDegradesToDefault(t *testing.T) {
	p, kv := newTestPersistence()
	ctx := context.Background()
	kv.failGet = errBackendDown
	kv.failSet = errBackendDown

	assert.Equal(t, "", p.LoadCurrentTenant(ctx))
	assert.Empty(t, p.LoadTenantList(ctx))
	assert.Equal(t, models.DefaultCustomization(), p.LoadCustomization(ctx))
	assert.False(t, p.SaveCurrentTenant(ctx, "Alice"))
	assert.False(t, SaveSlice(ctx, p, "anything", "", 1))
}

func TestLoadSlice_MalformedReturnsDefault(t *testing.T) {
	p, kv := newTestPersistence()
	kv.data["phonesim:character-mapping"] = `[1,2`

	got := LoadSlice(context.Background(), p, SliceCharacterMapping, "", map[string]string{"d": "D"})
	assert.Equal(t, map[string]string{"d": "D"}, got)
}

func TestCurrentTenant_SaveAndClear(t *testing.T) {
	p, kv := newTestPersistence()
	ctx := context.Background()

	require.True(t, p.SaveCurrentTenant(ctx, "Carol"))
	assert.Equal(t, "Carol", kv.data["phonesim:current-tenant"])
	assert.Equal(t, "Carol", p.LoadCurrentTenant(ctx))

	require.True(t, p.SaveCurrentTenant(ctx, ""))
	assert.NotContains(t, kv.data, "phonesim:current-tenant")
}

func TestTenantList_NormalizesOnIngestion(t *testing.T) {
	p, kv := newTestPersistence()
	ctx := context.Background()
	kv.data["phonesim:tenant-list"] = `["Alice", {"name": " Bob "}, {"bogus": true}]`

	entries := p.LoadTenantList(ctx)
	require.Len(t, entries, 2)
	assert.Equal(t, "Bob", entries[1].Name)

	require.True(t, p.SaveTenantList(ctx, entries))
	assert.JSONEq(t, `["Alice","Bob"]`, kv.data["phonesim:tenant-list"])

	require.True(t, p.SaveTenantList(ctx, nil))
	assert.Equal(t, `[]`, kv.data["phonesim:tenant-list"])
}

func TestCustomization_DefaultsMerged(t *testing.T) {
	p, kv := newTestPersistence()
	ctx := context.Background()
	kv.data["phonesim:customization"] = `{"isMuted": true}`

	c := p.LoadCustomization(ctx)
	assert.True(t, c.IsMuted)
	assert.Equal(t, "我", c.PlayerNickname)
	assert.True(t, c.Enabled)

	c.PlayerNickname = "Player"
	require.True(t, p.SaveCustomization(ctx, c))
	var saved models.Customization
	require.NoError(t, json.Unmarshal([]byte(kv.data["phonesim:customization"]), &saved))
	assert.Equal(t, c, saved)
}

func TestClearTenantData(t *testing.T) {
	p, kv := newTestPersistence()
	ctx := context.Background()
	for _, slice := range TenantDataSlices {
		kv.data[p.Key(slice, "Alice")] = "x"
		kv.data[p.Key(slice, "Bob")] = "y"
	}
	kv.data["phonesim:tenant-list"] = `["Alice","Bob"]`

	require.True(t, p.ClearTenantData(ctx, "Alice"))
	keys, err := kv.ScanKeys(ctx, "phonesim:*-Alice")
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.Equal(t, "y", kv.data["phonesim:contacts-Bob"])
	assert.Contains(t, kv.data, "phonesim:tenant-list")

	assert.False(t, p.ClearTenantData(ctx, ""))
}
