package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Document 某个角色隔离的文档：contactId -> 联系人记录
type Document map[string]*ContactRecord

// ContactProfile 联系人资料
type ContactProfile struct {
	Nickname string `json:"nickname,omitempty"`
	Note     string `json:"note,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// AppData 某个应用下的会话数据
type AppData struct {
	Messages []CrossTenantMessage `json:"messages"`
}

// ContactRecord 文档中的联系人记录
// TenantName 非空表示该联系人本身就是另一个角色。
// Extra 保存未识别的字段，读-改-写时原样写回。
type ContactRecord struct {
	Profile    ContactProfile      `json:"profile"`
	AppData    map[string]*AppData `json:"app_data,omitempty"`
	TenantName string              `json:"character_name,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var contactRecordFields = []string{"profile", "app_data", "character_name"}

// UnmarshalJSON 解析已知字段，其余字段保留在 Extra
func (c *ContactRecord) UnmarshalJSON(data []byte) error {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return fmt.Errorf("contact record: %w", err)
	}

	type plain ContactRecord
	var known plain
	if err := json.Unmarshal(data, &known); err != nil {
		return fmt.Errorf("contact record: %w", err)
	}
	*c = ContactRecord(known)

	for _, name := range contactRecordFields {
		delete(all, name)
	}
	if len(all) > 0 {
		c.Extra = all
	} else {
		c.Extra = nil
	}
	return nil
}

// MarshalJSON 写出已知字段并合并 Extra
func (c ContactRecord) MarshalJSON() ([]byte, error) {
	type plain ContactRecord
	known, err := json.Marshal(plain(c))
	if err != nil {
		return nil, err
	}
	if len(c.Extra) == 0 {
		return known, nil
	}

	merged := make(map[string]json.RawMessage, len(c.Extra)+len(contactRecordFields))
	for k, v := range c.Extra {
		merged[k] = v
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// Conversation 返回 app 下的会话，不存在时按需创建
func (c *ContactRecord) Conversation(app string, create bool) *AppData {
	if c.AppData == nil {
		if !create {
			return nil
		}
		c.AppData = make(map[string]*AppData)
	}
	conv, ok := c.AppData[app]
	if (!ok || conv == nil) && create {
		conv = &AppData{Messages: []CrossTenantMessage{}}
		c.AppData[app] = conv
	}
	return conv
}

// HasMessage 会话中是否已有该 uid
func (a *AppData) HasMessage(uid string) bool {
	if a == nil {
		return false
	}
	for _, m := range a.Messages {
		if m.UID == uid {
			return true
		}
	}
	return false
}

// FindContactByTenant 按 character_name 反查联系人 ID
// 比较前去除两侧空白；多个记录匹配时取 ID 字典序最小者，保证结果确定。
func (d Document) FindContactByTenant(tenantName string) (string, bool) {
	tenantName = strings.TrimSpace(tenantName)
	if tenantName == "" {
		return "", false
	}
	found := ""
	for id, rec := range d {
		if rec == nil || strings.TrimSpace(rec.TenantName) != tenantName {
			continue
		}
		if found == "" || id < found {
			found = id
		}
	}
	return found, found != ""
}

// Clone 深拷贝文档
func (d Document) Clone() (Document, error) {
	if d == nil {
		return Document{}, nil
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	out := Document{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DocumentPrefix 角色文档名前缀
const DocumentPrefix = "phone-db-"

// DocumentName 角色在文档存储中的文档名
func DocumentName(tenant string) string {
	return DocumentPrefix + tenant
}
