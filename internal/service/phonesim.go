package service

import (
	"context"
	"database/sql"
	"fmt"

	"phonesim-core/common/database"
	"phonesim-core/common/mqtt"
	rediscommon "phonesim-core/common/redis"
	"phonesim-core/internal/config"
	"phonesim-core/internal/consumer"
	"phonesim-core/internal/events"
	"phonesim-core/internal/mapping"
	"phonesim-core/internal/state"
	"phonesim-core/internal/store"
	"phonesim-core/internal/syncer"
	"phonesim-core/internal/tenant"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// PhoneSimService 角色隔离与跨角色消息同步服务
type PhoneSimService struct {
	config      *config.Config
	logger      *zap.Logger
	redisClient *redis.Client
	db          *sql.DB
	mqttClient  *mqtt.Client

	kv          store.KV
	docs        *store.CachedDocumentStore
	state       *state.Store
	persistence *state.Persistence
	mapping     *mapping.Table
	list        *tenant.List
	switcher    *tenant.Switcher
	remover     *tenant.Remover
	engine      *syncer.Engine
	consumer    *consumer.CommandConsumer
}

// NewPhoneSimService 创建服务并连接后端
func NewPhoneSimService(cfg *config.Config, logger *zap.Logger) (*PhoneSimService, error) {
	// 初始化 Redis（文档存储、命令流、事件流）
	redisClient, err := rediscommon.Connect(context.Background(), &cfg.Redis)
	if err != nil {
		return nil, err
	}

	// KV 后端为 postgres 时初始化数据库
	var db *sql.DB
	if cfg.KVBackend == "postgres" {
		db, err = database.NewPostgresDB(&cfg.Database)
		if err != nil {
			redisClient.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
	}

	// 事件后端为 mqtt 时连接 broker
	var mqttClient *mqtt.Client
	if cfg.Events.Backend == "mqtt" {
		mqttClient, err = mqtt.NewClient(&cfg.MQTT, logger)
		if err != nil {
			redisClient.Close()
			database.Close(db)
			return nil, fmt.Errorf("failed to connect to mqtt: %w", err)
		}
	}

	svc, err := assemble(context.Background(), cfg, logger, redisClient, db, mqttClient)
	if err != nil {
		redisClient.Close()
		database.Close(db)
		if mqttClient != nil {
			mqttClient.Disconnect()
		}
		return nil, err
	}
	return svc, nil
}

// assemble 在已建立的连接上组装各组件
func assemble(ctx context.Context, cfg *config.Config, logger *zap.Logger, redisClient *redis.Client, db *sql.DB, mqttClient *mqtt.Client) (*PhoneSimService, error) {
	var kv store.KV
	switch cfg.KVBackend {
	case "redis", "":
		kv = store.NewRedisKV(redisClient)
	case "postgres":
		if db == nil {
			return nil, fmt.Errorf("postgres kv backend requires a database connection")
		}
		pg := store.NewPostgresKV(db, logger)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		kv = pg
	default:
		return nil, fmt.Errorf("unsupported kv backend: %s", cfg.KVBackend)
	}

	var publisher events.Publisher
	switch cfg.Events.Backend {
	case "redis", "":
		publisher = events.NewStreamPublisher(redisClient, cfg.Events.Stream, logger)
	case "mqtt":
		if mqttClient == nil {
			return nil, fmt.Errorf("mqtt events backend requires an mqtt connection")
		}
		publisher = events.NewMQTTPublisher(mqttClient, cfg.MQTT.Topic, cfg.MQTT.QoS, logger)
	case "none":
		publisher = events.NopPublisher{}
	default:
		return nil, fmt.Errorf("unsupported events backend: %s", cfg.Events.Backend)
	}

	st := state.NewStore()
	persistence := state.NewPersistence(kv, cfg.PhoneSim.KeyPrefix, logger)
	docs := store.NewCachedDocumentStore(store.NewRedisDocumentStore(redisClient, cfg.PhoneSim.DocPrefix), logger)
	table := mapping.NewTable(persistence, logger)
	list := tenant.NewList(st, persistence, logger)
	fetcher := tenant.NewDocumentFetcher(docs, persistence, logger)
	switcher := tenant.NewSwitcher(st, persistence, list, docs, fetcher, publisher, logger)
	remover := tenant.NewRemover(list, persistence, table, switcher, publisher, logger)
	engine := syncer.NewEngine(docs, table, st, publisher, syncer.Options{
		ChatApp: cfg.PhoneSim.ChatApp,
		Retries: cfg.PhoneSim.SyncRetries,
	}, logger)

	cmdConsumer := consumer.NewCommandConsumer(
		redisClient,
		consumer.Handlers{
			Switcher: switcher,
			Sender:   engine,
			Tenants:  list,
			Remover:  remover,
			Mapping:  table,
		},
		logger,
		cfg.PhoneSim.CommandStream,
		cfg.PhoneSim.ConsumerGroup,
		cfg.PhoneSim.ConsumerName,
		int64(cfg.PhoneSim.BatchSize),
	)

	return &PhoneSimService{
		config:      cfg,
		logger:      logger,
		redisClient: redisClient,
		db:          db,
		mqttClient:  mqttClient,
		kv:          kv,
		docs:        docs,
		state:       st,
		persistence: persistence,
		mapping:     table,
		list:        list,
		switcher:    switcher,
		remover:     remover,
		engine:      engine,
		consumer:    cmdConsumer,
	}, nil
}

// Bootstrap 恢复上次激活的角色，返回角色名（可能为空）
func (s *PhoneSimService) Bootstrap(ctx context.Context) string {
	return s.switcher.Resume(ctx)
}

// Start 启动服务：恢复角色后消费命令流，直到 ctx 取消
func (s *PhoneSimService) Start(ctx context.Context) error {
	s.logger.Info("Starting phonesim sync service",
		zap.String("kv_backend", s.config.KVBackend),
		zap.String("events_backend", s.config.Events.Backend),
		zap.String("command_stream", s.config.PhoneSim.CommandStream),
	)

	current := s.Bootstrap(ctx)
	s.logger.Info("Active tenant", zap.String("tenant", current))

	return s.consumer.Start(ctx)
}

// Stop 停止服务
func (s *PhoneSimService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping phonesim sync service")

	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if err := database.Close(s.db); err != nil {
		s.logger.Warn("Failed to close database", zap.Error(err))
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			return fmt.Errorf("failed to close redis: %w", err)
		}
	}
	return nil
}

func (s *PhoneSimService) State() *state.Store        { return s.state }
func (s *PhoneSimService) Switcher() *tenant.Switcher { return s.switcher }
func (s *PhoneSimService) Remover() *tenant.Remover   { return s.remover }
func (s *PhoneSimService) Tenants() *tenant.List      { return s.list }
func (s *PhoneSimService) Mapping() *mapping.Table    { return s.mapping }
func (s *PhoneSimService) Engine() *syncer.Engine     { return s.engine }
func (s *PhoneSimService) Documents() store.DocumentStore {
	return s.docs
}
