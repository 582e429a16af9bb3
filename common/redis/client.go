package redis

import (
	"context"
	"fmt"
	"time"

	"phonesim-core/common/config"

	"github.com/go-redis/redis/v8"
)

// connectTimeout 启动时连接检查的超时
const connectTimeout = 5 * time.Second

// Connect 创建客户端并检查连通性；检查失败时关闭客户端并返回错误
// 服务与运维工具共用，避免各自重复 ping / 关闭逻辑。
func Connect(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}
