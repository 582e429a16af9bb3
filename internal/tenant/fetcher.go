package tenant

import (
	"context"
	"encoding/json"
	"fmt"

	"phonesim-core/internal/models"
	"phonesim-core/internal/state"
	"phonesim-core/internal/store"

	"go.uber.org/zap"
)

// DataFetcher 加载某个角色的领域数据到状态中
type DataFetcher interface {
	FetchAll(ctx context.Context, tenant string, st *state.Store) error
}

// DocumentFetcher 联系人和会话来自角色文档 phone-db-{tenant}，
// 其余集合来自按角色缓存的 KV 切片。
type DocumentFetcher struct {
	docs        store.DocumentStore
	persistence *state.Persistence
	logger      *zap.Logger
}

// NewDocumentFetcher creates a fetcher over the document store and scoped KV
func NewDocumentFetcher(docs store.DocumentStore, persistence *state.Persistence, logger *zap.Logger) *DocumentFetcher {
	return &DocumentFetcher{docs: docs, persistence: persistence, logger: logger}
}

func (f *DocumentFetcher) FetchAll(ctx context.Context, tenant string, st *state.Store) error {
	doc, _, err := f.docs.Get(ctx, models.DocumentName(tenant))
	if err != nil {
		return fmt.Errorf("failed to fetch contacts for %s: %w", tenant, err)
	}
	if doc == nil {
		doc = models.Document{}
	}

	emails := state.LoadSlice(ctx, f.persistence, state.SliceEmails, tenant, []json.RawMessage{})
	moments := state.LoadSlice(ctx, f.persistence, state.SliceMoments, tenant, []json.RawMessage{})
	callLogs := state.LoadSlice(ctx, f.persistence, state.SliceCallLogs, tenant, []json.RawMessage{})
	forum := state.LoadSlice(ctx, f.persistence, state.SliceForumData, tenant, map[string]json.RawMessage{})
	live := state.LoadSlice(ctx, f.persistence, state.SliceLiveCenterData, tenant, map[string]json.RawMessage{})

	applied := false
	st.Update(func(s *models.TenantState) {
		// 加载期间角色已变化时丢弃结果
		if s.CurrentCharacter != tenant {
			return
		}
		s.Contacts = map[string]*models.ContactRecord(doc)
		s.Emails = orEmptyList(emails)
		s.Moments = orEmptyList(moments)
		s.CallLogs = orEmptyList(callLogs)
		s.ForumData = orEmptyMap(forum)
		s.LiveCenterData = orEmptyMap(live)
		applied = true
	})

	if !applied {
		f.logger.Warn("Discarding fetched data for inactive tenant", zap.String("tenant", tenant))
		return nil
	}
	f.logger.Info("Tenant data loaded",
		zap.String("tenant", tenant),
		zap.Int("contacts", len(doc)),
		zap.Int("emails", len(emails)),
		zap.Int("moments", len(moments)),
	)
	return nil
}

func orEmptyList(v []json.RawMessage) []json.RawMessage {
	if v == nil {
		return []json.RawMessage{}
	}
	return v
}

func orEmptyMap(v map[string]json.RawMessage) map[string]json.RawMessage {
	if v == nil {
		return map[string]json.RawMessage{}
	}
	return v
}
