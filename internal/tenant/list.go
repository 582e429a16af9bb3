package tenant

import (
	"context"
	"fmt"

	"phonesim-core/internal/models"
	"phonesim-core/internal/state"

	"go.uber.org/zap"
)

// List 可用角色列表
// 内存副本保存在 TenantState.AvailableCharacters，每次修改后整体持久化到 tenant-list。
type List struct {
	store       *state.Store
	persistence *state.Persistence
	logger      *zap.Logger
}

// NewList creates the available tenant list
func NewList(store *state.Store, persistence *state.Persistence, logger *zap.Logger) *List {
	return &List{store: store, persistence: persistence, logger: logger}
}

// Load 从存储加载列表到内存（重复项只保留第一个）
func (l *List) Load(ctx context.Context) []string {
	entries := l.persistence.LoadTenantList(ctx)

	seen := make(map[string]bool, len(entries))
	deduped := make([]models.TenantEntry, 0, len(entries))
	for _, e := range entries {
		if seen[e.Name] {
			l.logger.Warn("Dropping duplicate tenant list entry", zap.String("tenant", e.Name))
			continue
		}
		seen[e.Name] = true
		deduped = append(deduped, e)
	}

	l.store.Update(func(st *models.TenantState) {
		st.AvailableCharacters = deduped
	})
	return l.Names()
}

// Names 当前列表（副本）
func (l *List) Names() []string {
	return l.store.TenantNames()
}

// Add 添加角色；名称为空返回 ErrInvalidTenantName，已存在返回 ErrDuplicateTenant
func (l *List) Add(ctx context.Context, name string) error {
	name = NormalizeName(name)
	if name == "" {
		return ErrInvalidTenantName
	}

	var entries []models.TenantEntry
	var dup bool
	l.store.Update(func(st *models.TenantState) {
		for _, e := range st.AvailableCharacters {
			if e.Name == name {
				dup = true
				return
			}
		}
		st.AvailableCharacters = append(st.AvailableCharacters, models.TenantEntry{Name: name})
		entries = append([]models.TenantEntry(nil), st.AvailableCharacters...)
	})
	if dup {
		return fmt.Errorf("%w: %s", ErrDuplicateTenant, name)
	}

	l.persistence.SaveTenantList(ctx, entries)
	l.logger.Info("Tenant added", zap.String("tenant", name))
	return nil
}

// Ensure 角色不在列表中时追加并持久化，返回是否新增
func (l *List) Ensure(ctx context.Context, name string) bool {
	err := l.Add(ctx, name)
	return err == nil
}

// Find 按分级策略查找角色，返回列表中的规范名
func (l *List) Find(name string) (string, MatchStrategy, bool) {
	names := l.Names()
	idx, strategy := MatchName(names, name)
	if idx < 0 {
		return "", MatchNone, false
	}
	l.warnInexact(name, names[idx], strategy)
	return names[idx], strategy, true
}

// Remove 按分级策略查找并删除角色，返回被删除的规范名
func (l *List) Remove(ctx context.Context, name string) (string, error) {
	if NormalizeName(name) == "" {
		return "", ErrInvalidTenantName
	}

	var removed string
	var strategy MatchStrategy
	var entries []models.TenantEntry
	l.store.Update(func(st *models.TenantState) {
		names := make([]string, len(st.AvailableCharacters))
		for i, e := range st.AvailableCharacters {
			names[i] = e.Name
		}
		idx, s := MatchName(names, name)
		if idx < 0 {
			return
		}
		removed, strategy = names[idx], s
		st.AvailableCharacters = append(st.AvailableCharacters[:idx:idx], st.AvailableCharacters[idx+1:]...)
		entries = append([]models.TenantEntry(nil), st.AvailableCharacters...)
	})
	if removed == "" {
		l.logger.Warn("Tenant not found", zap.String("tenant", name))
		return "", fmt.Errorf("%w: %s", ErrTenantNotFound, NormalizeName(name))
	}

	l.warnInexact(name, removed, strategy)
	l.persistence.SaveTenantList(ctx, entries)
	l.logger.Info("Tenant removed from list", zap.String("tenant", removed))
	return removed, nil
}

func (l *List) warnInexact(query, matched string, strategy MatchStrategy) {
	if strategy == MatchExact {
		return
	}
	l.logger.Warn("Tenant name matched non-exactly",
		zap.String("query", query),
		zap.String("tenant", matched),
		zap.String("strategy", strategy.String()),
	)
}
