package mapping

import (
	"context"
	"sort"
	"strings"
	"sync"

	"phonesim-core/internal/state"

	"go.uber.org/zap"
)

// Table 联系人 -> 角色 映射表
// 映射与激活角色无关，保存在全局切片 character-mapping 中，
// 这样在加载目标角色文档之前就能解析出目标角色。
type Table struct {
	persistence *state.Persistence
	logger      *zap.Logger

	mu      sync.Mutex
	loaded  bool
	entries map[string]string
}

// NewTable creates a mapping table backed by persistence
func NewTable(persistence *state.Persistence, logger *zap.Logger) *Table {
	return &Table{
		persistence: persistence,
		logger:      logger,
		entries:     make(map[string]string),
	}
}

// ensureLoaded 首次访问时加载；调用方需持有 mu
func (t *Table) ensureLoaded(ctx context.Context) {
	if t.loaded {
		return
	}
	loaded := state.LoadSlice(ctx, t.persistence, state.SliceCharacterMapping, "", map[string]string{})
	t.entries = make(map[string]string, len(loaded))
	for contactID, tenantName := range loaded {
		contactID, tenantName = strings.TrimSpace(contactID), strings.TrimSpace(tenantName)
		if contactID == "" || tenantName == "" {
			t.logger.Warn("Dropping invalid character mapping entry", zap.String("contact_id", contactID))
			continue
		}
		t.entries[contactID] = tenantName
	}
	t.loaded = true
	t.logger.Debug("Character mapping loaded", zap.Int("entries", len(t.entries)))
}

// Set 写入映射（同一联系人后写覆盖先写）并立即持久化
// 持久化失败时内存中的映射仍然生效，返回 false。
func (t *Table) Set(ctx context.Context, contactID, tenantName string) bool {
	contactID = strings.TrimSpace(contactID)
	tenantName = strings.TrimSpace(tenantName)
	if contactID == "" || tenantName == "" {
		t.logger.Warn("Ignoring invalid character mapping",
			zap.String("contact_id", contactID),
			zap.String("tenant", tenantName),
		)
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.ensureLoaded(ctx)

	if prev, ok := t.entries[contactID]; ok && prev != tenantName {
		t.logger.Info("Character mapping overwritten",
			zap.String("contact_id", contactID),
			zap.String("previous", prev),
			zap.String("tenant", tenantName),
		)
	}
	t.entries[contactID] = tenantName
	return state.SaveSlice(ctx, t.persistence, state.SliceCharacterMapping, "", t.entries)
}

// Get 查询联系人对应的角色
func (t *Table) Get(ctx context.Context, contactID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ensureLoaded(ctx)

	name, ok := t.entries[strings.TrimSpace(contactID)]
	return name, ok
}

// All 返回映射快照（副本）
func (t *Table) All(ctx context.Context) map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ensureLoaded(ctx)

	out := make(map[string]string, len(t.entries))
	for k, v := range t.entries {
		out[k] = v
	}
	return out
}

// Delete 删除映射并持久化；不存在时返回 false
func (t *Table) Delete(ctx context.Context, contactID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ensureLoaded(ctx)

	if _, ok := t.entries[contactID]; !ok {
		return false
	}
	delete(t.entries, contactID)
	return state.SaveSlice(ctx, t.persistence, state.SliceCharacterMapping, "", t.entries)
}

// ContactsFor 反查映射到某角色的所有联系人 ID（有序）
func (t *Table) ContactsFor(ctx context.Context, tenantName string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ensureLoaded(ctx)

	tenantName = strings.TrimSpace(tenantName)
	var ids []string
	for id, name := range t.entries {
		if name == tenantName {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Reload 丢弃内存副本，下次访问时重新加载
func (t *Table) Reload() {
	t.mu.Lock()
	t.loaded = false
	t.mu.Unlock()
}
