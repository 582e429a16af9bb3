package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TenantEntry 可用角色列表中的一项
// 历史数据里既有纯字符串 "Alice"，也有对象 {"name": "Alice"}，
// 反序列化时统一归一为带 Name 的记录；序列化始终写回纯字符串。
type TenantEntry struct {
	Name string
}

// UnmarshalJSON 接受字符串或 {"name": ...} 两种格式，名称去除首尾空白
func (e *TenantEntry) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		e.Name = strings.TrimSpace(s)
		return nil
	}

	var obj struct {
		Name *string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("tenant entry: unsupported format %s", string(data))
	}
	if obj.Name == nil {
		return fmt.Errorf("tenant entry: missing name in %s", string(data))
	}
	e.Name = strings.TrimSpace(*obj.Name)
	return nil
}

// MarshalJSON 写回纯字符串
func (e TenantEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Name)
}

// DecodeTenantList 解析持久化的角色列表
// 单个无效项（格式错误或名称为空）会被跳过并返回在 skipped 中，不影响其他项。
func DecodeTenantList(data []byte) (entries []TenantEntry, skipped []string, err error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("tenant list: %w", err)
	}

	entries = make([]TenantEntry, 0, len(raw))
	for _, item := range raw {
		var entry TenantEntry
		if err := json.Unmarshal(item, &entry); err != nil || entry.Name == "" {
			skipped = append(skipped, string(item))
			continue
		}
		entries = append(entries, entry)
	}
	return entries, skipped, nil
}
