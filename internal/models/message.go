package models

import "time"

// CrossTenantMessage 跨角色消息
// 发送方存储：IsCrossCharacter=true
// 接收方镜像：额外带 ReceiverCharacter / IsReceivedCrossCharacter，且 SenderID 改写为
// 接收方文档中发送方对应的联系人 ID。
// UID 全局唯一，也是镜像的幂等键。
type CrossTenantMessage struct {
	UID                  string    `json:"uid"`
	Timestamp            time.Time `json:"timestamp"`
	SenderID             string    `json:"sender_id"`
	Content              string    `json:"content"`
	SourceMsgID          *string   `json:"sourceMsgId"`
	IsSystemNotification bool      `json:"isSystemNotification"`

	SenderCharacter  string `json:"sender_character"`
	ReceiverID       string `json:"receiver_id"`
	IsCrossCharacter bool   `json:"isCrossCharacter"`

	ReceiverCharacter        string `json:"receiver_character,omitempty"`
	IsReceivedCrossCharacter bool   `json:"isReceivedCrossCharacter,omitempty"`
}

// ReceiverCopy 生成接收方视角的副本
func (m CrossTenantMessage) ReceiverCopy(localSenderID, receiverCharacter string) CrossTenantMessage {
	out := m
	if m.SourceMsgID != nil {
		id := *m.SourceMsgID
		out.SourceMsgID = &id
	}
	out.SenderID = localSenderID
	out.ReceiverCharacter = receiverCharacter
	out.IsReceivedCrossCharacter = true
	return out
}
