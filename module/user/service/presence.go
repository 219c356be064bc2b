package service

import (
	"context"
	"time"

	usermodel "ChatX/module/user/model"
	"ChatX/tools/errs"

	"github.com/redis/go-redis/v9"
)

// PresenceStore 在线状态。标记带 TTL，网关心跳续租，
// 到期自然下线，节点崩溃不留脏在线。
type PresenceStore interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string) error
	Get(ctx context.Context, userID string) (string, error)
}

const presenceTTL = 90 * time.Second

type RedisPresence struct {
	Rdb redis.Cmdable
}

func NewRedisPresence(rdb redis.Cmdable) *RedisPresence {
	return &RedisPresence{Rdb: rdb}
}

func presenceKey(userID string) string { return "presence:" + userID }

func (p *RedisPresence) SetOnline(ctx context.Context, userID string) error {
	if err := p.Rdb.Set(ctx, presenceKey(userID), usermodel.PresenceOnline, presenceTTL).Err(); err != nil {
		return errs.WrapMsg(err, "set presence", "user", userID)
	}
	return nil
}

func (p *RedisPresence) SetOffline(ctx context.Context, userID string) error {
	if err := p.Rdb.Del(ctx, presenceKey(userID)).Err(); err != nil {
		return errs.WrapMsg(err, "clear presence", "user", userID)
	}
	return nil
}

func (p *RedisPresence) Get(ctx context.Context, userID string) (string, error) {
	v, err := p.Rdb.Get(ctx, presenceKey(userID)).Result()
	if err == redis.Nil {
		return usermodel.PresenceOffline, nil
	}
	if err != nil {
		return "", errs.WrapMsg(err, "get presence", "user", userID)
	}
	return v, nil
}
