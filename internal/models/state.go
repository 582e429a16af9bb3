package models

import "encoding/json"

// 视图默认值
const DefaultView = "HomeScreen"

// PanelPos 面板位置
type PanelPos struct {
	Top  string `json:"top"`
	Left string `json:"left"`
}

// Customization 全局个性化设置（与角色无关）
type Customization struct {
	IsMuted        bool   `json:"isMuted"`
	PlayerNickname string `json:"playerNickname"`
	Enabled        bool   `json:"enabled"`
}

// DefaultCustomization 默认个性化设置
func DefaultCustomization() Customization {
	return Customization{IsMuted: false, PlayerNickname: "我", Enabled: true}
}

// PersistedUiSlice 切换角色时需要保存的 UI 状态
// 只包含明确列出的字段，避免把导航锁、暂存草稿等临时状态写入存储。
type PersistedUiSlice struct {
	IsPanelVisible     bool              `json:"isPanelVisible"`
	PanelPos           *PanelPos         `json:"panelPos"`
	CurrentView        string            `json:"currentView"`
	ActiveContactID    *string           `json:"activeContactId"`
	ActiveEmailID      *string           `json:"activeEmailId"`
	ActiveProfileID    *string           `json:"activeProfileId"`
	ActiveForumBoardID *string           `json:"activeForumBoardId"`
	ActiveForumPostID  *string           `json:"activeForumPostId"`
	ActiveLiveBoardID  *string           `json:"activeLiveBoardId"`
	ActiveLiveStreamID *string           `json:"activeLiveStreamId"`
	ActiveSubviews     map[string]string `json:"activeSubviews"`
}

// TenantState 当前激活角色的内存快照
type TenantState struct {
	PersistedUiSlice

	// 临时状态，不持久化
	IsNavigating         bool              `json:"isNavigating"`
	ActiveReplyUID       *string           `json:"activeReplyUid"`
	StagedPlayerMessages []json.RawMessage `json:"stagedPlayerMessages"`
	StagedPlayerActions  []json.RawMessage `json:"stagedPlayerActions"`

	// 隔离的领域数据
	Contacts       map[string]*ContactRecord  `json:"contacts"`
	Emails         []json.RawMessage          `json:"emails"`
	Moments        []json.RawMessage          `json:"moments"`
	CallLogs       []json.RawMessage          `json:"callLogs"`
	ForumData      map[string]json.RawMessage `json:"forumData"`
	LiveCenterData map[string]json.RawMessage `json:"liveCenterData"`

	CurrentCharacter    string        `json:"currentCharacter"`
	AvailableCharacters []TenantEntry `json:"availableCharacters"`
	Customization       Customization `json:"customization"`
}

// NewTenantState 进程启动时的默认状态
func NewTenantState() *TenantState {
	s := &TenantState{
		Customization:       DefaultCustomization(),
		AvailableCharacters: []TenantEntry{},
	}
	s.CurrentView = DefaultView
	s.ActiveSubviews = map[string]string{}
	s.StagedPlayerMessages = []json.RawMessage{}
	s.StagedPlayerActions = []json.RawMessage{}
	s.ResetDomainCollections()
	return s
}

// ResetDomainCollections 清空所有领域数据和激活选择 ID
func (s *TenantState) ResetDomainCollections() {
	s.Contacts = map[string]*ContactRecord{}
	s.Emails = []json.RawMessage{}
	s.Moments = []json.RawMessage{}
	s.CallLogs = []json.RawMessage{}
	s.ForumData = map[string]json.RawMessage{}
	s.LiveCenterData = map[string]json.RawMessage{}

	s.ActiveContactID = nil
	s.ActiveEmailID = nil
	s.ActiveProfileID = nil
	s.ActiveForumBoardID = nil
	s.ActiveForumPostID = nil
	s.ActiveLiveBoardID = nil
	s.ActiveLiveStreamID = nil
}

// UiSlice 提取需要持久化的 UI 状态
func (s *TenantState) UiSlice() PersistedUiSlice {
	return s.PersistedUiSlice
}
