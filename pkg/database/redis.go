package database

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"querytube-go/pkg/log"
)

var RDB *redis.Client

// InitRedis 初始化 Redis 客户端连接；addr 为空时不连接，RDB 保持 nil。
func InitRedis(addr, password string, db int) error {
	if addr == "" {
		log.Warnf("[Redis] 未配置地址，缓存和进度发布将被禁用")
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	RDB = client
	log.Info("Redis client connected successfully")
	return nil
}
