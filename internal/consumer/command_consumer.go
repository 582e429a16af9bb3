package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	commonredis "phonesim-core/common/redis"
	"phonesim-core/internal/models"
	"phonesim-core/internal/syncer"
	"phonesim-core/internal/tenant"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// 命令类型
const (
	CommandSwitch       = "switch"
	CommandSend         = "send"
	CommandAddTenant    = "add_tenant"
	CommandRemoveTenant = "remove_tenant"
	CommandMapContact   = "map_contact"
)

// errPermanent 重试也无法成功的命令（格式错误、业务拒绝），处理后直接确认
var errPermanent = errors.New("permanent command failure")

// Command 命令流中的一条命令（JSON 位于 data 字段）
type Command struct {
	Type      string                     `json:"type"`
	Tenant    string                     `json:"tenant,omitempty"`
	ContactID string                     `json:"contact_id,omitempty"`
	Message   *models.CrossTenantMessage `json:"message,omitempty"`
}

// Handlers 命令的执行者
type Handlers struct {
	Switcher interface {
		Switch(ctx context.Context, name string) error
	}
	Sender interface {
		Send(ctx context.Context, msg models.CrossTenantMessage) (syncer.Result, error)
	}
	Tenants interface {
		Add(ctx context.Context, name string) error
	}
	Remover interface {
		Remove(ctx context.Context, name string) (string, error)
	}
	Mapping interface {
		Set(ctx context.Context, contactID, tenantName string) bool
	}
}

// CommandConsumer 从 Redis Streams 消费命令
type CommandConsumer struct {
	redisClient  *redis.Client
	handlers     Handlers
	logger       *zap.Logger
	stream       string
	groupName    string
	consumerName string
	batchSize    int64
	blockTimeout time.Duration

	// 未确认命令的重试：每隔 retryInterval 重读本消费者的 pending 列表，
	// 同一条命令最多尝试 maxAttempts 次后确认丢弃
	retryInterval time.Duration
	maxAttempts   int
	lastRetry     time.Time
	attempts      map[string]int
}

// NewCommandConsumer 创建命令消费者
func NewCommandConsumer(
	redisClient *redis.Client,
	handlers Handlers,
	logger *zap.Logger,
	stream string,
	groupName string,
	consumerName string,
	batchSize int64,
) *CommandConsumer {
	return &CommandConsumer{
		redisClient:  redisClient,
		handlers:     handlers,
		logger:       logger,
		stream:       stream,
		groupName:    groupName,
		consumerName: consumerName,
		batchSize:     batchSize,
		blockTimeout:  2 * time.Second,
		retryInterval: 5 * time.Second,
		maxAttempts:   5,
		attempts:      make(map[string]int),
	}
}

// Start 启动命令消费者，ctx 取消时返回
func (c *CommandConsumer) Start(ctx context.Context) error {
	// 创建消费者组
	if err := commonredis.CreateConsumerGroup(ctx, c.redisClient, c.stream, c.groupName); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("Command consumer started",
		zap.String("stream", c.stream),
		zap.String("consumer_group", c.groupName),
		zap.String("consumer_name", c.consumerName),
	)

	// 消费命令（带指数退避）
	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			if err := c.consumeCommands(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.logger.Error("Failed to consume commands",
					zap.Error(err),
					zap.Duration("backoff", backoffDuration),
				)

				select {
				case <-ctx.Done():
					return nil
				case <-time.After(backoffDuration):
					backoffDuration *= 2
					if backoffDuration > maxBackoff {
						backoffDuration = maxBackoff
					}
				}
			} else {
				backoffDuration = time.Second
			}
		}
	}
}

// consumeCommands 先按间隔重试 pending 命令，再读取一批新命令并逐条处理
func (c *CommandConsumer) consumeCommands(ctx context.Context) error {
	if c.retryDue() {
		pending, err := commonredis.ReadPendingFromStream(
			ctx,
			c.redisClient,
			c.stream,
			c.groupName,
			c.consumerName,
			c.batchSize,
		)
		if err != nil {
			return fmt.Errorf("failed to read pending commands: %w", err)
		}
		c.lastRetry = time.Now()
		if len(pending) > 0 {
			c.logger.Info("Retrying pending commands", zap.Int("count", len(pending)))
		}
		c.handleBatch(ctx, pending)
	}

	messages, err := commonredis.ReadFromStream(
		ctx,
		c.redisClient,
		c.stream,
		c.groupName,
		c.consumerName,
		c.batchSize,
		c.blockTimeout,
	)
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}

	c.handleBatch(ctx, messages)
	return nil
}

func (c *CommandConsumer) retryDue() bool {
	return c.lastRetry.IsZero() || time.Since(c.lastRetry) >= c.retryInterval
}

// handleBatch 处理并确认；可重试的失败留在 pending 列表，超过次数上限后确认丢弃
func (c *CommandConsumer) handleBatch(ctx context.Context, messages []commonredis.StreamMessage) {
	for _, msg := range messages {
		err := c.processCommand(ctx, msg)
		switch {
		case err == nil:
		case errors.Is(err, errPermanent):
			c.logger.Warn("Command rejected",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		default:
			c.attempts[msg.ID]++
			attempts := c.attempts[msg.ID]
			if attempts < c.maxAttempts {
				c.logger.Error("Failed to process command, will retry",
					zap.String("message_id", msg.ID),
					zap.Int("attempts", attempts),
					zap.Error(err),
				)
				continue
			}
			c.logger.Error("Dropping command after repeated failures",
				zap.String("message_id", msg.ID),
				zap.Int("attempts", attempts),
				zap.Error(err),
			)
		}

		delete(c.attempts, msg.ID)
		if err := commonredis.Ack(ctx, c.redisClient, c.stream, c.groupName, msg.ID); err != nil {
			c.logger.Warn("Failed to ack message",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		}
	}
}

// processCommand 处理单条命令
func (c *CommandConsumer) processCommand(ctx context.Context, msg commonredis.StreamMessage) error {
	cmd, err := parseCommand(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", errPermanent, err)
	}

	c.logger.Info("Processing command",
		zap.String("message_id", msg.ID),
		zap.String("type", cmd.Type),
		zap.String("tenant", cmd.Tenant),
	)

	switch cmd.Type {
	case CommandSwitch:
		return classify(c.handlers.Switcher.Switch(ctx, cmd.Tenant))

	case CommandSend:
		if cmd.Message == nil {
			return fmt.Errorf("%w: send command without message", errPermanent)
		}
		if cmd.Message.UID == "" {
			// 重试时沿用同一 uid，保证写入幂等
			cmd.Message.UID = "cmd-" + msg.ID
		}
		result, err := c.handlers.Sender.Send(ctx, *cmd.Message)
		if err != nil {
			return classify(err)
		}
		if result.Mirror == syncer.MirrorFailed {
			// 发送方已写入；按 uid 幂等，重试只会补齐镜像
			return fmt.Errorf("mirror of %s to %s failed: %v", result.UID, result.ReceiverTenant, result.MirrorErr)
		}
		if !result.Mirrored() {
			c.logger.Warn("Message stored without mirror",
				zap.String("uid", result.UID),
				zap.String("mirror", result.Mirror.String()),
				zap.Error(result.MirrorErr),
			)
		}
		return nil

	case CommandAddTenant:
		return classify(c.handlers.Tenants.Add(ctx, cmd.Tenant))

	case CommandRemoveTenant:
		_, err := c.handlers.Remover.Remove(ctx, cmd.Tenant)
		return classify(err)

	case CommandMapContact:
		if !c.handlers.Mapping.Set(ctx, cmd.ContactID, cmd.Tenant) {
			return fmt.Errorf("%w: mapping %s -> %s not saved", errPermanent, cmd.ContactID, cmd.Tenant)
		}
		return nil

	default:
		return fmt.Errorf("%w: unknown command type %q", errPermanent, cmd.Type)
	}
}

// classify 业务拒绝标记为永久失败，其余错误保持可重试
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, target := range []error{
		tenant.ErrInvalidTenantName,
		tenant.ErrDuplicateTenant,
		tenant.ErrTenantNotFound,
		tenant.ErrSwitchSuperseded,
		syncer.ErrInvalidMessage,
	} {
		if errors.Is(err, target) {
			return fmt.Errorf("%w: %w", errPermanent, err)
		}
	}
	return err
}

// parseCommand 从 data 字段解析命令
func parseCommand(msg commonredis.StreamMessage) (*Command, error) {
	dataStr, ok := msg.Values["data"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid command: missing data field")
	}
	var cmd Command
	if err := json.Unmarshal([]byte(dataStr), &cmd); err != nil {
		return nil, fmt.Errorf("invalid command: %w", err)
	}
	if cmd.Type == "" {
		return nil, fmt.Errorf("invalid command: missing type")
	}
	return &cmd, nil
}
