package state

import (
	"encoding/json"
	"fmt"
	"sync"

	"phonesim-core/internal/models"
)

// Store 持有唯一的激活角色状态
// 作为显式依赖注入到各组件，不使用全局变量。
type Store struct {
	mu sync.RWMutex
	st *models.TenantState
}

// NewStore 以默认状态创建
func NewStore() *Store {
	return &Store{st: models.NewTenantState()}
}

// View 在读锁下访问状态；fn 不得保留指针
func (s *Store) View(fn func(st *models.TenantState)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.st)
}

// Update 在写锁下修改状态
func (s *Store) Update(fn func(st *models.TenantState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.st)
}

// Snapshot 返回状态的深拷贝
func (s *Store) Snapshot() (*models.TenantState, error) {
	s.mu.RLock()
	raw, err := json.Marshal(s.st)
	s.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot tenant state: %w", err)
	}

	out := &models.TenantState{}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("failed to snapshot tenant state: %w", err)
	}
	return out, nil
}

// ResetDomainCollections 清空领域数据和激活选择 ID
func (s *Store) ResetDomainCollections() {
	s.Update(func(st *models.TenantState) {
		st.ResetDomainCollections()
	})
}

// CurrentTenant 当前激活角色，未激活时为空串
func (s *Store) CurrentTenant() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.CurrentCharacter
}

// TenantNames 当前可用角色名列表（副本）
func (s *Store) TenantNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.st.AvailableCharacters))
	for _, e := range s.st.AvailableCharacters {
		names = append(names, e.Name)
	}
	return names
}
