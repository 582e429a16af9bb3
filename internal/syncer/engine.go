package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"phonesim-core/internal/events"
	"phonesim-core/internal/mapping"
	"phonesim-core/internal/models"
	"phonesim-core/internal/state"
	"phonesim-core/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrSenderWrite 发送方文档写入失败（唯一会让 Send 返回错误的情况）
	ErrSenderWrite = errors.New("sender-side write failed")
	// ErrInvalidMessage 消息缺少接收方或发送角色
	ErrInvalidMessage = errors.New("invalid cross-tenant message")
	// ErrNoMapping 接收方联系人没有对应的角色
	ErrNoMapping = errors.New("no tenant mapped to receiver contact")
	// ErrNoSenderContact 接收方文档中找不到代表发送角色的联系人
	ErrNoSenderContact = errors.New("receiver document has no contact for sender tenant")
)

// MirrorStatus 镜像步骤的结果
type MirrorStatus int

const (
	MirrorDelivered MirrorStatus = iota
	MirrorDuplicate
	MirrorNoMapping
	MirrorNoSenderContact
	MirrorFailed
)

func (s MirrorStatus) String() string {
	switch s {
	case MirrorDelivered:
		return "delivered"
	case MirrorDuplicate:
		return "duplicate"
	case MirrorNoMapping:
		return "no_mapping"
	case MirrorNoSenderContact:
		return "no_sender_contact"
	case MirrorFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result 一次发送的结果
// 镜像失败不影响发送方写入，通过 Mirror / MirrorErr 报告给调用方。
type Result struct {
	UID             string
	SenderTenant    string
	ReceiverTenant  string
	ReceiverContact string
	SenderDuplicate bool
	Mirror          MirrorStatus
	MirrorErr       error
}

// Mirrored 镜像是否已在接收方存在（本次写入或之前已写入）
func (r Result) Mirrored() bool {
	return r.Mirror == MirrorDelivered || r.Mirror == MirrorDuplicate
}

// Options 引擎配置
type Options struct {
	ChatApp string // 会话所在的应用，如 WeChat
	Retries int    // 版本冲突时的重试次数
}

// Engine 跨角色消息同步
type Engine struct {
	docs      store.DocumentStore
	mapping   *mapping.Table
	state     *state.Store
	publisher events.Publisher
	logger    *zap.Logger
	opts      Options
	now       func() time.Time
}

// NewEngine creates a sync engine
func NewEngine(docs store.DocumentStore, table *mapping.Table, st *state.Store, publisher events.Publisher, opts Options, logger *zap.Logger) *Engine {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if opts.ChatApp == "" {
		opts.ChatApp = "WeChat"
	}
	if opts.Retries < 0 {
		opts.Retries = store.DefaultUpdateRetries
	}
	return &Engine{
		docs:      docs,
		mapping:   table,
		state:     st,
		publisher: publisher,
		logger:    logger,
		opts:      opts,
		now:       time.Now,
	}
}

// Send 写入发送方会话并镜像到接收角色
// 只有发送方写入失败时返回错误（包装 ErrSenderWrite）。
func (e *Engine) Send(ctx context.Context, msg models.CrossTenantMessage) (Result, error) {
	ctx = context.WithoutCancel(ctx)

	msg.ReceiverID = strings.TrimSpace(msg.ReceiverID)
	msg.SenderCharacter = strings.TrimSpace(msg.SenderCharacter)
	if msg.SenderCharacter == "" && e.state != nil {
		msg.SenderCharacter = e.state.CurrentTenant()
	}
	if msg.ReceiverID == "" || msg.SenderCharacter == "" {
		return Result{}, fmt.Errorf("%w: receiver_id and sender_character are required", ErrInvalidMessage)
	}
	if msg.UID == "" {
		msg.UID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = e.now()
	}
	msg.IsCrossCharacter = true
	msg.ReceiverCharacter = ""
	msg.IsReceivedCrossCharacter = false

	result := Result{UID: msg.UID, SenderTenant: msg.SenderCharacter}

	// 1. 发送方文档
	dup, err := e.writeSender(ctx, msg)
	if err != nil {
		e.logger.Error("Failed to write message to sender document",
			zap.String("tenant", msg.SenderCharacter),
			zap.String("uid", msg.UID),
			zap.Error(err),
		)
		return result, fmt.Errorf("%w: %w", ErrSenderWrite, err)
	}
	result.SenderDuplicate = dup
	if !dup {
		e.publish(ctx, events.Event{
			Type:   events.TypeMessageSent,
			Tenant: msg.SenderCharacter,
			UID:    msg.UID,
			Detail: map[string]string{"receiver_id": msg.ReceiverID},
		})
	}

	// 2. 解析接收角色
	receiver, ok := e.mapping.Get(ctx, msg.ReceiverID)
	if !ok {
		result.Mirror = MirrorNoMapping
		result.MirrorErr = fmt.Errorf("%w: %s", ErrNoMapping, msg.ReceiverID)
		e.logger.Warn("Mirror skipped: receiver contact is not mapped to a tenant",
			zap.String("tenant", msg.SenderCharacter),
			zap.String("contact_id", msg.ReceiverID),
			zap.String("uid", msg.UID),
		)
		return result, nil
	}
	result.ReceiverTenant = receiver

	// 3-6. 接收方文档
	localID, mirrorDup, err := e.writeReceiver(ctx, receiver, msg)
	result.ReceiverContact = localID
	switch {
	case errors.Is(err, ErrNoSenderContact):
		result.Mirror = MirrorNoSenderContact
		result.MirrorErr = err
		e.logger.Warn("Mirror skipped: sender tenant not found in receiver document",
			zap.String("tenant", receiver),
			zap.String("sender", msg.SenderCharacter),
			zap.String("uid", msg.UID),
		)
	case err != nil:
		result.Mirror = MirrorFailed
		result.MirrorErr = err
		e.logger.Error("Failed to mirror message",
			zap.String("tenant", receiver),
			zap.String("uid", msg.UID),
			zap.Error(err),
		)
	case mirrorDup:
		result.Mirror = MirrorDuplicate
		e.logger.Info("Mirror already present",
			zap.String("tenant", receiver),
			zap.String("uid", msg.UID),
		)
	default:
		result.Mirror = MirrorDelivered
		e.publish(ctx, events.Event{
			Type:   events.TypeMessageMirrored,
			Tenant: receiver,
			UID:    msg.UID,
			Detail: map[string]string{"contact_id": localID, "sender": msg.SenderCharacter},
		})
		e.logger.Info("Message mirrored",
			zap.String("sender", msg.SenderCharacter),
			zap.String("tenant", receiver),
			zap.String("contact_id", localID),
			zap.String("uid", msg.UID),
		)
	}
	return result, nil
}

// writeSender 追加到发送方会话（uid 幂等），联系人或会话不存在时创建
func (e *Engine) writeSender(ctx context.Context, msg models.CrossTenantMessage) (bool, error) {
	dup := false
	doc, changed, err := store.Update(ctx, e.docs, models.DocumentName(msg.SenderCharacter), e.opts.Retries,
		func(doc models.Document) (bool, error) {
			dup = false
			rec := doc[msg.ReceiverID]
			if rec == nil {
				rec = &models.ContactRecord{}
				doc[msg.ReceiverID] = rec
			}
			conv := rec.Conversation(e.opts.ChatApp, true)
			if conv.HasMessage(msg.UID) {
				dup = true
				return false, nil
			}
			conv.Messages = append(conv.Messages, msg)
			return true, nil
		})
	if err != nil {
		return false, err
	}
	if changed {
		e.refreshActive(msg.SenderCharacter, msg.ReceiverID, doc[msg.ReceiverID])
	}
	return dup, nil
}

// writeReceiver 在接收角色文档中按 character_name 反查发送角色并追加镜像
func (e *Engine) writeReceiver(ctx context.Context, receiver string, msg models.CrossTenantMessage) (string, bool, error) {
	var localID string
	dup := false
	doc, changed, err := store.Update(ctx, e.docs, models.DocumentName(receiver), e.opts.Retries,
		func(doc models.Document) (bool, error) {
			dup = false
			id, ok := doc.FindContactByTenant(msg.SenderCharacter)
			if !ok {
				return false, fmt.Errorf("%w: %s in %s", ErrNoSenderContact, msg.SenderCharacter, receiver)
			}
			localID = id
			conv := doc[id].Conversation(e.opts.ChatApp, true)
			if conv.HasMessage(msg.UID) {
				dup = true
				return false, nil
			}
			conv.Messages = append(conv.Messages, msg.ReceiverCopy(id, receiver))
			return true, nil
		})
	if err != nil {
		return localID, false, err
	}
	if changed {
		e.refreshActive(receiver, localID, doc[localID])
	}
	return localID, dup, nil
}

// refreshActive 被修改的文档属于激活角色时，同步内存中的联系人记录
func (e *Engine) refreshActive(tenant, contactID string, rec *models.ContactRecord) {
	if e.state == nil || rec == nil {
		return
	}
	clone, err := models.Document{contactID: rec}.Clone()
	if err != nil {
		e.logger.Warn("Failed to refresh active tenant state", zap.String("tenant", tenant), zap.Error(err))
		return
	}
	e.state.Update(func(st *models.TenantState) {
		if st.CurrentCharacter != tenant {
			return
		}
		if st.Contacts == nil {
			st.Contacts = map[string]*models.ContactRecord{}
		}
		st.Contacts[contactID] = clone[contactID]
	})
}

func (e *Engine) publish(ctx context.Context, event events.Event) {
	if err := e.publisher.Publish(ctx, event); err != nil {
		e.logger.Warn("Failed to publish event",
			zap.String("type", event.Type),
			zap.String("tenant", event.Tenant),
			zap.Error(err),
		)
	}
}
