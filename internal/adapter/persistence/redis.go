package persistence

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/berfenger/aggbatt2mqtt/internal/config"
	"github.com/berfenger/aggbatt2mqtt/internal/core/domain"
	"github.com/berfenger/aggbatt2mqtt/internal/core/port"

	"github.com/redis/go-redis/v9"
)

const redisTimeout = 2 * time.Second

type RedisPersistence struct {
	client *redis.Client
	prefix string
}

var _ port.Persistence = (*RedisPersistence)(nil)

func NewRedisPersistence(cfg config.RedisConfig) *RedisPersistence {
	return &RedisPersistence{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		prefix: cfg.KeyPrefix,
	}
}

func (p *RedisPersistence) ChargeKey() string {
	return p.prefix + "charge"
}

func (p *RedisPersistence) LastBalancingDayKey() string {
	return p.prefix + "last_balancing_day"
}

func (p *RedisPersistence) LoadCharge() (float64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	charge, err := p.client.Get(ctx, p.ChargeKey()).Float64()
	if errors.Is(err, redis.Nil) {
		return 0, domain.ErrNotStored
	}
	return charge, err
}

func (p *RedisPersistence) SaveCharge(charge float64) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	return p.client.Set(ctx, p.ChargeKey(), strconv.FormatFloat(charge, 'f', 3, 64), 0).Err()
}

func (p *RedisPersistence) LoadLastBalancingDay() (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	day, err := p.client.Get(ctx, p.LastBalancingDayKey()).Int()
	if errors.Is(err, redis.Nil) {
		return 0, domain.ErrNotStored
	}
	return day, err
}

func (p *RedisPersistence) SaveLastBalancingDay(day int) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	return p.client.Set(ctx, p.LastBalancingDayKey(), day, 0).Err()
}

func (p *RedisPersistence) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *RedisPersistence) Close() error {
	return p.client.Close()
}
