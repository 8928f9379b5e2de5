package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/Anurag-006/SketchSaga/internal/config"
)

// KeyValue ephemeral 계층이 사용하는 키-값 연산
type KeyValue interface {
	Exists(ctx context.Context, key string) (bool, error)
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	RPush(ctx context.Context, key, value string) error
	LRange(ctx context.Context, key string) ([]string, error)
	Del(ctx context.Context, key string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// FilterList keep이 false인 항목을 지우고 TTL을 갱신한다. 지운 개수를 반환한다.
	FilterList(ctx context.Context, key string, keep func(string) bool, ttl time.Duration) (int, error)
}

// ErrListContended 재시도 횟수 안에 리스트 갱신을 끝내지 못함
var ErrListContended = errors.New("list modified concurrently")

const maxWatchRetries = 5

// NewRedisClient Redis 연결 생성 및 Ping 확인
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	logrus.WithField("component", "redis").Infof("Connected to %s", cfg.Addr)
	return client, nil
}

// RedisKV go-redis 기반 KeyValue 구현
type RedisKV struct {
	client *redis.Client
}

// NewRedisKV RedisKV 생성
func NewRedisKV(client *redis.Client) *RedisKV {
	return &RedisKV{client: client}
}

func (r *RedisKV) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisKV) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisKV) RPush(ctx context.Context, key, value string) error {
	return r.client.RPush(ctx, key, value).Err()
}

func (r *RedisKV) LRange(ctx context.Context, key string) ([]string, error) {
	values, err := r.client.LRange(ctx, key, 0, -1).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return values, err
}

func (r *RedisKV) Del(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisKV) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.client.Expire(ctx, key, ttl).Err()
}

// FilterList WATCH로 읽기-거르기-다시쓰기를 묶는다. 중간에 다른 프로세스가 쓰면 처음부터 다시 한다.
func (r *RedisKV) FilterList(ctx context.Context, key string, keep func(string) bool, ttl time.Duration) (int, error) {
	var removed int
	txf := func(tx *redis.Tx) error {
		values, err := tx.LRange(ctx, key, 0, -1).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		remaining := make([]interface{}, 0, len(values))
		for _, v := range values {
			if keep(v) {
				remaining = append(remaining, v)
			}
		}
		removed = len(values) - len(remaining)
		if removed == 0 {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			if len(remaining) > 0 {
				pipe.RPush(ctx, key, remaining...)
				pipe.Expire(ctx, key, ttl)
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return 0, err
		}
		return removed, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrListContended, key)
}
