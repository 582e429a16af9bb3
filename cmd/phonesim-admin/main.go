// Command phonesim-admin 运维工具：查看角色数据、向同步服务投递命令、订阅事件
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"phonesim-core/common/database"
	logpkg "phonesim-core/common/logger"
	rediscommon "phonesim-core/common/redis"
	"phonesim-core/internal/config"
	"phonesim-core/internal/state"
	"phonesim-core/internal/store"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const appName = "phonesim-admin"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// env 子命令共享的连接
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	redis  *redis.Client
	db     *sql.DB
}

func (e *env) close() {
	database.Close(e.db)
	if e.redis != nil {
		e.redis.Close()
	}
	e.logger.Sync()
}

// persistence 按配置的 KV 后端构造 ScopedPersistence
func (e *env) persistence(ctx context.Context) (*state.Persistence, error) {
	var kv store.KV
	switch e.cfg.KVBackend {
	case "postgres":
		db, err := database.NewPostgresDB(&e.cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		e.db = db
		kv = store.NewPostgresKV(db, e.logger)
	case "redis", "":
		kv = store.NewRedisKV(e.redis)
	default:
		return nil, fmt.Errorf("unsupported kv backend: %s", e.cfg.KVBackend)
	}
	return state.NewPersistence(kv, e.cfg.PhoneSim.KeyPrefix, e.logger), nil
}

func openEnv(ctx context.Context, logLevel string) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel == "" {
		logLevel = cfg.Log.Level
	}
	logger, err := logpkg.NewLogger(logLevel, "console", appName)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	client, err := rediscommon.Connect(ctx, &cfg.Redis)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, redis: client}, nil
}

func rootCmd() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Inspect and drive the phonesim sync service",
		Long: `phonesim-admin reads tenant data from the same stores as phonesim-sync
and enqueues commands on its command stream.

Read-only:  tenants, mappings, doc
Commands:   switch, add, remove, map, send
Events:     watch`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	// withEnv 打开连接后执行 fn，结束时释放
	withEnv := func(fn func(ctx context.Context, e *env, args []string) error) func(*cobra.Command, []string) error {
		return func(c *cobra.Command, args []string) error {
			ctx := c.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			e, err := openEnv(ctx, logLevel)
			if err != nil {
				return err
			}
			defer e.close()
			return fn(ctx, e, args)
		}
	}

	cmd.AddCommand(
		tenantsCmd(withEnv),
		mappingsCmd(withEnv),
		docCmd(withEnv),
		switchCmd(withEnv),
		addCmd(withEnv),
		removeCmd(withEnv),
		mapCmd(withEnv),
		sendCmd(withEnv),
		watchCmd(withEnv),
	)
	return cmd
}
