package config

import (
	"os"
	"testing"
)

func TestLoad_DefaultValues(t *testing.T) {
	// 清除环境变量
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("Expected REDIS_ADDR default 'localhost:6379', got '%s'", cfg.Redis.Addr)
	}

	if cfg.KVBackend != "redis" {
		t.Errorf("Expected KV_BACKEND default 'redis', got '%s'", cfg.KVBackend)
	}

	if cfg.Database.Port != 5432 {
		t.Errorf("Expected DB_PORT default 5432, got %d", cfg.Database.Port)
	}

	if cfg.PhoneSim.KeyPrefix != "phonesim:" {
		t.Errorf("Expected PHONESIM_KEY_PREFIX default 'phonesim:', got '%s'", cfg.PhoneSim.KeyPrefix)
	}

	if cfg.PhoneSim.DocPrefix != "phonesim:doc:" {
		t.Errorf("Expected PHONESIM_DOC_PREFIX default 'phonesim:doc:', got '%s'", cfg.PhoneSim.DocPrefix)
	}

	if cfg.PhoneSim.ChatApp != "WeChat" {
		t.Errorf("Expected PHONESIM_CHAT_APP default 'WeChat', got '%s'", cfg.PhoneSim.ChatApp)
	}

	if cfg.PhoneSim.BatchSize != 10 {
		t.Errorf("Expected batch size default 10, got %d", cfg.PhoneSim.BatchSize)
	}

	if cfg.PhoneSim.SyncRetries != 3 {
		t.Errorf("Expected sync retries default 3, got %d", cfg.PhoneSim.SyncRetries)
	}

	if cfg.Events.Backend != "redis" {
		t.Errorf("Expected EVENTS_BACKEND default 'redis', got '%s'", cfg.Events.Backend)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Expected LOG_LEVEL default 'info', got '%s'", cfg.Log.Level)
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	os.Clearenv()
	os.Setenv("KV_BACKEND", "postgres")
	os.Setenv("DB_HOST", "db")
	os.Setenv("DB_PORT", "6543")
	os.Setenv("REDIS_DB", "2")
	os.Setenv("PHONESIM_KEY_PREFIX", "test:")
	os.Setenv("PHONESIM_BATCH_SIZE", "25")
	os.Setenv("PHONESIM_SYNC_RETRIES", "0")
	os.Setenv("EVENTS_BACKEND", "mqtt")
	os.Setenv("MQTT_TOPIC", "sim/ui")
	os.Setenv("LOG_LEVEL", "debug")
	defer os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if cfg.KVBackend != "postgres" {
		t.Errorf("Expected KV_BACKEND 'postgres', got '%s'", cfg.KVBackend)
	}
	if cfg.Database.Host != "db" || cfg.Database.Port != 6543 {
		t.Errorf("Expected db:6543, got %s:%d", cfg.Database.Host, cfg.Database.Port)
	}
	if cfg.Redis.DB != 2 {
		t.Errorf("Expected REDIS_DB 2, got %d", cfg.Redis.DB)
	}
	if cfg.PhoneSim.KeyPrefix != "test:" {
		t.Errorf("Expected key prefix 'test:', got '%s'", cfg.PhoneSim.KeyPrefix)
	}
	if cfg.PhoneSim.BatchSize != 25 {
		t.Errorf("Expected batch size 25, got %d", cfg.PhoneSim.BatchSize)
	}
	if cfg.PhoneSim.SyncRetries != 0 {
		t.Errorf("Expected sync retries 0, got %d", cfg.PhoneSim.SyncRetries)
	}
	if cfg.Events.Backend != "mqtt" {
		t.Errorf("Expected EVENTS_BACKEND 'mqtt', got '%s'", cfg.Events.Backend)
	}
	if cfg.MQTT.Topic != "sim/ui" {
		t.Errorf("Expected MQTT_TOPIC 'sim/ui', got '%s'", cfg.MQTT.Topic)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected LOG_LEVEL 'debug', got '%s'", cfg.Log.Level)
	}
}

func TestLoad_InvalidNumbersFallBack(t *testing.T) {
	os.Clearenv()
	os.Setenv("PHONESIM_BATCH_SIZE", "abc")
	os.Setenv("PHONESIM_SYNC_RETRIES", "-4")
	defer os.Clearenv()

	cfg, _ := Load()
	if cfg.PhoneSim.BatchSize != 10 {
		t.Errorf("Expected fallback batch size 10, got %d", cfg.PhoneSim.BatchSize)
	}
	if cfg.PhoneSim.SyncRetries != 3 {
		t.Errorf("Expected fallback sync retries 3, got %d", cfg.PhoneSim.SyncRetries)
	}
}
