package alertstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"funding-depth-monitor/internal/core/model"
)

// RedisStore Redis hash 存储
// 键: {key}，field 为告警 ID，value 为 JSON。
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore 创建 Redis 存储并验证连接
// 参数 redisURL: redis://host:port/db
// 参数 password: 非空时覆盖 URL 中的密码
// 参数 key: hash 键名
func NewRedisStore(ctx context.Context, redisURL, password, key string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis 地址非法: %w", err)
	}
	if password != "" {
		opt.Password = password
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping 失败: %w", err)
	}
	return &RedisStore{client: client, key: key}, nil
}

// Load 实现 Store
func (s *RedisStore) Load(ctx context.Context) ([]model.Alert, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis HGETALL 失败: %w", err)
	}
	return decodeFields(fields)
}

// Save 实现 Store
// 在一个事务中删除旧 hash 并写入全部告警。
func (s *RedisStore) Save(ctx context.Context, alerts []model.Alert) error {
	values, err := encodeFields(alerts)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		if len(values) > 0 {
			pipe.HSet(ctx, s.key, values)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis 写入告警失败: %w", err)
	}
	return nil
}

// Close 关闭 Redis 连接
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func encodeFields(alerts []model.Alert) (map[string]any, error) {
	values := make(map[string]any, len(alerts))
	for _, a := range alerts {
		b, err := json.Marshal(toRecord(a))
		if err != nil {
			return nil, fmt.Errorf("序列化告警失败: %w", err)
		}
		values[a.ID.String()] = string(b)
	}
	return values, nil
}

func decodeFields(fields map[string]string) ([]model.Alert, error) {
	alerts := make([]model.Alert, 0, len(fields))
	for id, raw := range fields {
		var r record
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("解析告警 %s 失败: %w", id, err)
		}
		a, err := r.toAlert()
		if err != nil {
			return nil, fmt.Errorf("告警 %s: %w", id, err)
		}
		alerts = append(alerts, a)
	}
	sortAlerts(alerts)
	return alerts, nil
}
