package tenant

import (
	"context"
	"sync"
	"time"

	"phonesim-core/internal/events"
	"phonesim-core/internal/models"
	"phonesim-core/internal/state"

	"go.uber.org/zap"
)

// CacheInvalidator 切换角色时需要清空的跨角色缓存
type CacheInvalidator interface {
	InvalidateAll()
}

type switchRequest struct {
	name string
	done chan struct{}
	err  error
}

func (r *switchRequest) finish(err error) {
	r.err = err
	close(r.done)
}

// Switcher 角色切换
// 状态机 Idle -> Switching -> Idle，切换永不交错：
//   - 切换中再次请求同一目标：立即返回（no-op）
//   - 切换中请求其他目标：进入单槽队列，后到的请求覆盖先到的，被覆盖者收到 ErrSwitchSuperseded
//
// 切换一旦开始即运行到结束，不受调用方 ctx 取消影响。
type Switcher struct {
	store       *state.Store
	persistence *state.Persistence
	list        *List
	cache       CacheInvalidator
	fetcher     DataFetcher
	publisher   events.Publisher
	logger      *zap.Logger

	mu       sync.Mutex
	idle     *sync.Cond
	running  bool
	inflight string
	pending  *switchRequest
}

// NewSwitcher creates a tenant switcher
func NewSwitcher(
	store *state.Store,
	persistence *state.Persistence,
	list *List,
	cache CacheInvalidator,
	fetcher DataFetcher,
	publisher events.Publisher,
	logger *zap.Logger,
) *Switcher {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	s := &Switcher{
		store:       store,
		persistence: persistence,
		list:        list,
		cache:       cache,
		fetcher:     fetcher,
		publisher:   publisher,
		logger:      logger,
	}
	s.idle = sync.NewCond(&s.mu)
	return s
}

// Switch 切换到 name，返回时全部 7 个步骤已完成
func (s *Switcher) Switch(ctx context.Context, name string) error {
	name = NormalizeName(name)
	if name == "" {
		return ErrInvalidTenantName
	}

	s.mu.Lock()
	if s.running {
		if name == s.inflight {
			// 最新请求与进行中的目标相同：排队中的其他目标作废
			if s.pending != nil {
				s.logger.Info("Queued tenant switch superseded",
					zap.String("tenant", s.pending.name),
					zap.String("superseded_by", name),
				)
				s.pending.finish(ErrSwitchSuperseded)
				s.pending = nil
			}
			s.mu.Unlock()
			s.logger.Debug("Switch to same tenant already in progress", zap.String("tenant", name))
			return nil
		}
		req := s.enqueueLocked(name)
		s.mu.Unlock()

		select {
		case <-req.done:
			return req.err
		case <-ctx.Done():
			// 请求仍留在队列中并会被执行
			return ctx.Err()
		}
	}
	s.running = true
	s.inflight = name
	s.mu.Unlock()

	err := s.run(context.WithoutCancel(ctx), name)
	s.handOff(context.WithoutCancel(ctx))
	return err
}

// enqueueLocked 放入单槽队列；调用方需持有 mu
func (s *Switcher) enqueueLocked(name string) *switchRequest {
	if s.pending != nil {
		if s.pending.name == name {
			return s.pending
		}
		s.logger.Info("Queued tenant switch superseded",
			zap.String("tenant", s.pending.name),
			zap.String("superseded_by", name),
		)
		s.pending.finish(ErrSwitchSuperseded)
	}
	s.pending = &switchRequest{name: name, done: make(chan struct{})}
	s.logger.Info("Tenant switch queued",
		zap.String("tenant", name),
		zap.String("in_flight", s.inflight),
	)
	return s.pending
}

// handOff 当前切换结束后，若队列非空则在后台继续执行，否则回到 Idle
func (s *Switcher) handOff(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		s.running = false
		s.inflight = ""
		s.idle.Broadcast()
		return
	}
	go s.drain(ctx)
}

func (s *Switcher) drain(ctx context.Context) {
	for {
		s.mu.Lock()
		req := s.pending
		s.pending = nil
		if req == nil {
			s.running = false
			s.inflight = ""
			s.idle.Broadcast()
			s.mu.Unlock()
			return
		}
		s.inflight = req.name
		s.mu.Unlock()

		req.finish(s.run(ctx, req.name))
	}
}

// exclusive 等待进行中的切换结束后占用切换槽执行 fn。
// 执行期间到达的切换请求照常排队，fn 结束后按最新请求执行。
func (s *Switcher) exclusive(ctx context.Context, fn func()) {
	s.mu.Lock()
	for s.running {
		s.idle.Wait()
	}
	s.running = true
	s.inflight = ""
	s.mu.Unlock()
	defer s.handOff(ctx)

	fn()
}

// deactivate 当前角色 removed 已被删除时调用，调用方需已占用切换槽。
// 先清空当前角色（避免把已删除角色的 UI 状态写回），再切换到列表第一个角色，
// 列表为空时清空持久化的当前角色。当前角色不是 removed 时返回 false。
func (s *Switcher) deactivate(ctx context.Context, removed string) bool {
	if s.store.CurrentTenant() != removed {
		return false
	}

	s.store.Update(func(st *models.TenantState) {
		st.CurrentCharacter = ""
		st.ResetDomainCollections()
	})
	if s.cache != nil {
		s.cache.InvalidateAll()
	}

	names := s.list.Names()
	if len(names) == 0 {
		s.persistence.SaveCurrentTenant(ctx, "")
		s.logger.Info("No tenants left, cleared current tenant", zap.String("removed", removed))
		return true
	}

	s.mu.Lock()
	s.inflight = names[0]
	s.mu.Unlock()
	if err := s.run(ctx, names[0]); err != nil {
		s.logger.Error("Failed to switch after removal",
			zap.String("removed", removed),
			zap.String("tenant", names[0]),
			zap.Error(err),
		)
	}
	return true
}

// Idle 当前是否没有进行中的切换
func (s *Switcher) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.running
}

func (s *Switcher) run(ctx context.Context, target string) error {
	prev := s.store.CurrentTenant()
	if prev == target {
		s.logger.Debug("Tenant already active", zap.String("tenant", target))
		return nil
	}

	start := time.Now()
	s.logger.Info("Switching tenant", zap.String("from", prev), zap.String("to", target))

	// 1. 保存旧角色的 UI 状态
	if prev != "" {
		s.persistence.SaveUiState(ctx, prev, s.uiSlice())
	}

	// 2. 切换身份并持久化当前角色指针
	s.store.Update(func(st *models.TenantState) {
		st.CurrentCharacter = target
	})
	s.persistence.SaveCurrentTenant(ctx, target)

	s.activate(ctx, target)

	s.publish(ctx, events.Event{
		Type:   events.TypeTenantSwitched,
		Tenant: target,
		Detail: map[string]string{"from": prev},
	})
	s.logger.Info("Tenant switched",
		zap.String("from", prev),
		zap.String("to", target),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// activate 执行步骤 3-7：清缓存、重置领域数据、加载 UI 状态、登记角色、拉取数据
func (s *Switcher) activate(ctx context.Context, target string) {
	// 3. 清空按旧角色缓存的文档
	if s.cache != nil {
		s.cache.InvalidateAll()
	}

	// 4. 重置领域数据和激活选择 ID
	var ui models.PersistedUiSlice
	s.store.Update(func(st *models.TenantState) {
		st.ResetDomainCollections()
		ui = copyUiSlice(st.PersistedUiSlice)
	})

	// 5. 加载新角色的 UI 状态（在锁外做 I/O，然后整体替换）
	loaded := &models.TenantState{PersistedUiSlice: ui}
	s.persistence.LoadUiState(ctx, target, loaded)
	s.store.Update(func(st *models.TenantState) {
		if st.CurrentCharacter == target {
			st.PersistedUiSlice = loaded.PersistedUiSlice
		}
	})

	// 6. 确保角色在可用列表中
	s.list.Ensure(ctx, target)

	// 7. 拉取领域数据；失败时保持空集合
	if s.fetcher != nil {
		if err := s.fetcher.FetchAll(ctx, target, s.store); err != nil {
			s.logger.Error("Failed to fetch tenant data",
				zap.String("tenant", target),
				zap.Error(err),
			)
		}
	}
}

// Resume 进程启动时恢复上次的角色
func (s *Switcher) Resume(ctx context.Context) string {
	ctx = context.WithoutCancel(ctx)

	customization := s.persistence.LoadCustomization(ctx)
	s.list.Load(ctx)
	current := NormalizeName(s.persistence.LoadCurrentTenant(ctx))

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("Resume skipped: switch already in progress")
		return s.store.CurrentTenant()
	}
	s.running = true
	s.inflight = current
	s.mu.Unlock()
	defer s.handOff(ctx)

	s.store.Update(func(st *models.TenantState) {
		st.Customization = customization
		st.CurrentCharacter = current
	})

	if current == "" {
		var ui models.PersistedUiSlice
		s.store.View(func(st *models.TenantState) { ui = copyUiSlice(st.PersistedUiSlice) })
		loaded := &models.TenantState{PersistedUiSlice: ui}
		s.persistence.LoadUiState(ctx, "", loaded)
		s.store.Update(func(st *models.TenantState) { st.PersistedUiSlice = loaded.PersistedUiSlice })
		s.logger.Info("No tenant to resume")
		return ""
	}

	s.activate(ctx, current)
	s.publish(ctx, events.Event{
		Type:   events.TypeTenantSwitched,
		Tenant: current,
		Detail: map[string]string{"resumed": "true"},
	})
	s.logger.Info("Tenant resumed", zap.String("tenant", current))
	return current
}

func (s *Switcher) uiSlice() models.PersistedUiSlice {
	var ui models.PersistedUiSlice
	s.store.View(func(st *models.TenantState) {
		ui = copyUiSlice(st.PersistedUiSlice)
	})
	return ui
}

func (s *Switcher) publish(ctx context.Context, event events.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish event",
			zap.String("type", event.Type),
			zap.String("tenant", event.Tenant),
			zap.Error(err),
		)
	}
}

func copyUiSlice(ui models.PersistedUiSlice) models.PersistedUiSlice {
	out := ui
	if ui.PanelPos != nil {
		pos := *ui.PanelPos
		out.PanelPos = &pos
	}
	if ui.ActiveSubviews != nil {
		out.ActiveSubviews = make(map[string]string, len(ui.ActiveSubviews))
		for k, v := range ui.ActiveSubviews {
			out.ActiveSubviews[k] = v
		}
	}
	return out
}
