package tenant

import (
	"context"

	"phonesim-core/internal/events"
	"phonesim-core/internal/mapping"
	"phonesim-core/internal/state"

	"go.uber.org/zap"
)

// Remover 删除角色：移出列表、清理该角色的缓存数据、删除指向它的映射，
// 若删除的是当前角色则切换到列表第一个角色（列表为空时清空当前角色）。
// 角色在文档存储中的文档不删除。
type Remover struct {
	list        *List
	persistence *state.Persistence
	mapping     *mapping.Table
	switcher    *Switcher
	publisher   events.Publisher
	logger      *zap.Logger
}

// NewRemover creates a tenant remover
func NewRemover(
	list *List,
	persistence *state.Persistence,
	table *mapping.Table,
	switcher *Switcher,
	publisher events.Publisher,
	logger *zap.Logger,
) *Remover {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Remover{
		list:        list,
		persistence: persistence,
		mapping:     table,
		switcher:    switcher,
		publisher:   publisher,
		logger:      logger,
	}
}

// Remove 删除角色，返回被删除的规范名
// 整个删除过程占用切换槽，与切换串行执行。
func (r *Remover) Remove(ctx context.Context, name string) (string, error) {
	ctx = context.WithoutCancel(ctx)

	var removed string
	var err error
	r.switcher.exclusive(ctx, func() {
		removed, err = r.list.Remove(ctx, name)
		if err != nil {
			return
		}

		r.persistence.ClearTenantData(ctx, removed)

		dropped := 0
		for _, contactID := range r.mapping.ContactsFor(ctx, removed) {
			if r.mapping.Delete(ctx, contactID) {
				dropped++
			}
		}
		if dropped > 0 {
			r.logger.Info("Dropped mappings to removed tenant",
				zap.String("tenant", removed),
				zap.Int("mappings", dropped),
			)
		}

		r.switcher.deactivate(ctx, removed)
	})
	if err != nil {
		return "", err
	}

	if err := r.publisher.Publish(ctx, events.Event{Type: events.TypeTenantRemoved, Tenant: removed}); err != nil {
		r.logger.Warn("Failed to publish event",
			zap.String("type", events.TypeTenantRemoved),
			zap.String("tenant", removed),
			zap.Error(err),
		)
	}
	r.logger.Info("Tenant removed", zap.String("tenant", removed))
	return removed, nil
}
