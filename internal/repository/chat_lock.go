// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ChatLocker 定义了会话级的咨询锁。
// 同一会话同时只允许一轮对话在途，双重提交在进入生成流程前即被拒绝。
type ChatLocker interface {
	// TryLock 尝试获取会话锁，已被占用时返回 false。
	TryLock(ctx context.Context, chatID uint, ttl time.Duration) (bool, error)
	// Unlock 释放会话锁。
	Unlock(ctx context.Context, chatID uint) error
}

// redisChatLocker 基于 Redis SETNX 实现 ChatLocker。
type redisChatLocker struct {
	redisClient *redis.Client
}

// NewChatLocker 创建一个新的 ChatLocker 实例。
func NewChatLocker(redisClient *redis.Client) ChatLocker {
	return &redisChatLocker{redisClient: redisClient}
}

func lockKey(chatID uint) string {
	return fmt.Sprintf("chat:lock:%d", chatID)
}

// TryLock 以 SETNX 语义抢占会话锁，TTL 防止异常退出时锁被永久持有。
func (l *redisChatLocker) TryLock(ctx context.Context, chatID uint, ttl time.Duration) (bool, error) {
	ok, err := l.redisClient.SetNX(ctx, lockKey(chatID), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire chat lock: %w", err)
	}
	return ok, nil
}

// Unlock 删除会话锁。
func (l *redisChatLocker) Unlock(ctx context.Context, chatID uint) error {
	return l.redisClient.Del(ctx, lockKey(chatID)).Err()
}
