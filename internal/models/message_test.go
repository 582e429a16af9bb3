package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReceiverCopy(t *testing.T) {
	src := "orig"
	msg := CrossTenantMessage{
		UID:              "m1",
		Timestamp:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		SenderID:         "player",
		Content:          "hi",
		SourceMsgID:      &src,
		SenderCharacter:  "Alice",
		ReceiverID:       "bob_contact",
		IsCrossCharacter: true,
	}

	cp := msg.ReceiverCopy("alice_contact", "Bob")
	assert.Equal(t, "m1", cp.UID)
	assert.Equal(t, "alice_contact", cp.SenderID)
	assert.Equal(t, "Bob", cp.ReceiverCharacter)
	assert.True(t, cp.IsReceivedCrossCharacter)
	assert.True(t, cp.IsCrossCharacter)

	// 原消息不受影响
	assert.Equal(t, "player", msg.SenderID)
	assert.False(t, msg.IsReceivedCrossCharacter)
	*cp.SourceMsgID = "changed"
	assert.Equal(t, "orig", src)
}
