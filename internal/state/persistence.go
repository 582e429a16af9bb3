package state

import (
	"context"
	"encoding/json"
	"errors"

	"phonesim-core/internal/models"
	"phonesim-core/internal/store"

	"go.uber.org/zap"
)

// 逻辑状态切片名（物理 key = 前缀 + slice [+ "-" + tenant]）
const (
	SliceUiState          = "ui-state"
	SliceCurrentTenant    = "current-tenant"
	SliceTenantList       = "tenant-list"
	SliceCharacterMapping = "character-mapping"
	SliceCustomization    = "customization"

	SliceEmails         = "emails"
	SliceMoments        = "moments"
	SliceCallLogs       = "call-logs"
	SliceForumData      = "forum-data"
	SliceLiveCenterData = "live-center-data"
)

// TenantDataSlices 删除角色时需要清理的按角色缓存的数据切片
var TenantDataSlices = []string{
	"state",
	"contacts",
	SliceEmails,
	SliceMoments,
	SliceCallLogs,
	SliceForumData,
	SliceLiveCenterData,
	"browser-data",
	"browser-history",
	SliceUiState,
}

// Persistence 按角色划分命名空间的状态持久化
// 所有失败（后端不可用、JSON 损坏）都在本层记录日志并降级为默认值，不向调用方返回错误。
type Persistence struct {
	kv     store.KV
	prefix string
	logger *zap.Logger
}

// NewPersistence creates a scoped persistence layer on top of kv
func NewPersistence(kv store.KV, prefix string, logger *zap.Logger) *Persistence {
	return &Persistence{kv: kv, prefix: prefix, logger: logger}
}

// Key 计算物理 key；tenant 为空表示与角色无关的切片
func (p *Persistence) Key(slice, tenant string) string {
	if tenant == "" {
		return p.prefix + slice
	}
	return p.prefix + slice + "-" + tenant
}

// LoadRaw 读取原始值；不存在或失败时返回 false
func (p *Persistence) LoadRaw(ctx context.Context, slice, tenant string) ([]byte, bool) {
	key := p.Key(slice, tenant)
	raw, err := p.kv.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrMiss) {
			p.logger.Warn("Failed to load state slice, using default",
				zap.String("slice", slice),
				zap.String("tenant", tenant),
				zap.String("key", key),
				zap.Error(err),
			)
		}
		return nil, false
	}
	return []byte(raw), true
}

// SaveRaw 写入原始值
func (p *Persistence) SaveRaw(ctx context.Context, slice, tenant string, raw []byte) bool {
	key := p.Key(slice, tenant)
	if err := p.kv.Set(ctx, key, string(raw)); err != nil {
		p.logger.Warn("Failed to save state slice",
			zap.String("slice", slice),
			zap.String("tenant", tenant),
			zap.String("key", key),
			zap.Error(err),
		)
		return false
	}
	return true
}

// LoadSlice 读取并解析 JSON 切片，以 def 为底解码；失败时返回 def
func LoadSlice[T any](ctx context.Context, p *Persistence, slice, tenant string, def T) T {
	raw, ok := p.LoadRaw(ctx, slice, tenant)
	if !ok {
		return def
	}
	v := def
	if err := json.Unmarshal(raw, &v); err != nil {
		p.logger.Warn("Malformed state slice, using default",
			zap.String("slice", slice),
			zap.String("tenant", tenant),
			zap.Error(err),
		)
		return def
	}
	return v
}

// SaveSlice 序列化并写入 JSON 切片
func SaveSlice[T any](ctx context.Context, p *Persistence, slice, tenant string, v T) bool {
	raw, err := json.Marshal(v)
	if err != nil {
		p.logger.Warn("Failed to marshal state slice",
			zap.String("slice", slice),
			zap.String("tenant", tenant),
			zap.Error(err),
		)
		return false
	}
	return p.SaveRaw(ctx, slice, tenant, raw)
}

// Delete 删除切片
func (p *Persistence) Delete(ctx context.Context, slice, tenant string) bool {
	key := p.Key(slice, tenant)
	if err := p.kv.Delete(ctx, key); err != nil {
		p.logger.Warn("Failed to delete state slice", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// SaveUiState 只保存 PersistedUiSlice 中列出的字段
func (p *Persistence) SaveUiState(ctx context.Context, tenant string, ui models.PersistedUiSlice) bool {
	return SaveSlice(ctx, p, SliceUiState, tenant, ui)
}

// LoadUiState 按白名单把持久化的 UI 字段合并进 st
// 存储中出现的字段（包括 null）覆盖内存值；未知字段忽略；单个字段格式错误时跳过该字段。
func (p *Persistence) LoadUiState(ctx context.Context, tenant string, st *models.TenantState) {
	raw, ok := p.LoadRaw(ctx, SliceUiState, tenant)
	if !ok {
		return
	}

	var loaded map[string]json.RawMessage
	if err := json.Unmarshal(raw, &loaded); err != nil {
		p.logger.Warn("Malformed ui state, keeping defaults",
			zap.String("tenant", tenant),
			zap.Error(err),
		)
		return
	}

	ui := &st.PersistedUiSlice
	for _, f := range uiFields(ui) {
		value, present := loaded[f.name]
		if !present {
			continue
		}
		if err := f.apply(value); err != nil {
			p.logger.Warn("Skipping malformed ui state field",
				zap.String("tenant", tenant),
				zap.String("field", f.name),
				zap.Error(err),
			)
		}
	}

	if ui.CurrentView == "" {
		ui.CurrentView = models.DefaultView
	}
	if ui.ActiveSubviews == nil {
		ui.ActiveSubviews = map[string]string{}
	}
}

type uiField struct {
	name  string
	apply func(json.RawMessage) error
}

// uiFields 白名单：PersistedUiSlice 的 11 个字段
func uiFields(ui *models.PersistedUiSlice) []uiField {
	return []uiField{
		{"isPanelVisible", assign(&ui.IsPanelVisible)},
		{"panelPos", assign(&ui.PanelPos)},
		{"currentView", assign(&ui.CurrentView)},
		{"activeContactId", assign(&ui.ActiveContactID)},
		{"activeEmailId", assign(&ui.ActiveEmailID)},
		{"activeProfileId", assign(&ui.ActiveProfileID)},
		{"activeForumBoardId", assign(&ui.ActiveForumBoardID)},
		{"activeForumPostId", assign(&ui.ActiveForumPostID)},
		{"activeLiveBoardId", assign(&ui.ActiveLiveBoardID)},
		{"activeLiveStreamId", assign(&ui.ActiveLiveStreamID)},
		{"activeSubviews", assign(&ui.ActiveSubviews)},
	}
}

func assign[T any](dst *T) func(json.RawMessage) error {
	return func(raw json.RawMessage) error {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		*dst = v
		return nil
	}
}

// LoadCurrentTenant 读取当前角色指针，未设置时返回空串
func (p *Persistence) LoadCurrentTenant(ctx context.Context) string {
	raw, ok := p.LoadRaw(ctx, SliceCurrentTenant, "")
	if !ok {
		return ""
	}
	return string(raw)
}

// SaveCurrentTenant 保存当前角色指针（纯字符串，不做 JSON 编码）
func (p *Persistence) SaveCurrentTenant(ctx context.Context, name string) bool {
	if name == "" {
		return p.Delete(ctx, SliceCurrentTenant, "")
	}
	return p.SaveRaw(ctx, SliceCurrentTenant, "", []byte(name))
}

// LoadTenantList 读取角色列表；无效项跳过并记录
func (p *Persistence) LoadTenantList(ctx context.Context) []models.TenantEntry {
	raw, ok := p.LoadRaw(ctx, SliceTenantList, "")
	if !ok {
		return []models.TenantEntry{}
	}
	entries, skipped, err := models.DecodeTenantList(raw)
	if err != nil {
		p.logger.Warn("Malformed tenant list, using empty list", zap.Error(err))
		return []models.TenantEntry{}
	}
	for _, item := range skipped {
		p.logger.Warn("Dropping invalid tenant list entry", zap.String("entry", item))
	}
	return entries
}

// SaveTenantList 保存角色列表
func (p *Persistence) SaveTenantList(ctx context.Context, entries []models.TenantEntry) bool {
	if entries == nil {
		entries = []models.TenantEntry{}
	}
	return SaveSlice(ctx, p, SliceTenantList, "", entries)
}

// LoadCustomization 读取个性化设置，缺失字段取默认值
func (p *Persistence) LoadCustomization(ctx context.Context) models.Customization {
	return LoadSlice(ctx, p, SliceCustomization, "", models.DefaultCustomization())
}

// SaveCustomization 保存个性化设置
func (p *Persistence) SaveCustomization(ctx context.Context, c models.Customization) bool {
	return SaveSlice(ctx, p, SliceCustomization, "", c)
}

// ClearTenantData 删除某角色的全部按角色缓存数据
func (p *Persistence) ClearTenantData(ctx context.Context, tenant string) bool {
	if tenant == "" {
		return false
	}
	keys := make([]string, 0, len(TenantDataSlices))
	for _, slice := range TenantDataSlices {
		keys = append(keys, p.Key(slice, tenant))
	}
	if err := p.kv.Delete(ctx, keys...); err != nil {
		p.logger.Warn("Failed to clear tenant data",
			zap.String("tenant", tenant),
			zap.Error(err),
		)
		return false
	}
	p.logger.Info("Cleared tenant data", zap.String("tenant", tenant), zap.Int("keys", len(keys)))
	return true
}
