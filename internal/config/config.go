package config

import (
	"os"
	"strconv"

	"phonesim-core/common/config"
)

// Config phonesim 服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	// KV 后端：redis 或 postgres
	KVBackend string

	PhoneSim struct {
		KeyPrefix string // 所有 KV key 的命名空间前缀，如 "phonesim:"
		DocPrefix string // 文档存储前缀，如 "phonesim:doc:"
		ChatApp   string // 跨角色消息写入的应用会话，默认 WeChat

		// Redis Streams 命令入口
		CommandStream string
		ConsumerGroup string
		ConsumerName  string
		BatchSize     int

		// 文档写入版本冲突时的重试次数
		SyncRetries int
	}

	Events struct {
		Backend string // redis / mqtt / none
		Stream  string // redis 后端的事件流名称
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = 5432
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "phonesim")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = 10
	cfg.Database.MaxIdle = 2
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.KVBackend = getEnv("KV_BACKEND", "redis")

	cfg.PhoneSim.KeyPrefix = getEnv("PHONESIM_KEY_PREFIX", "phonesim:")
	cfg.PhoneSim.DocPrefix = getEnv("PHONESIM_DOC_PREFIX", "phonesim:doc:")
	cfg.PhoneSim.ChatApp = getEnv("PHONESIM_CHAT_APP", "WeChat")
	cfg.PhoneSim.CommandStream = getEnv("PHONESIM_COMMAND_STREAM", "phonesim:commands")
	cfg.PhoneSim.ConsumerGroup = getEnv("PHONESIM_CONSUMER_GROUP", "phonesim-sync-group")
	cfg.PhoneSim.ConsumerName = getEnv("PHONESIM_CONSUMER_NAME", "phonesim-sync-1")
	cfg.PhoneSim.BatchSize = getEnvInt("PHONESIM_BATCH_SIZE", 10)
	cfg.PhoneSim.SyncRetries = getEnvInt("PHONESIM_SYNC_RETRIES", 3)

	cfg.Events.Backend = getEnv("EVENTS_BACKEND", "redis")
	cfg.Events.Stream = getEnv("PHONESIM_EVENT_STREAM", "phonesim:events")

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "phonesim-sync")
	cfg.MQTT.Topic = getEnv("MQTT_TOPIC", "phonesim/events")
	cfg.MQTT.QoS = 1
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil && v >= 0 {
		return v
	}
	return defaultValue
}
