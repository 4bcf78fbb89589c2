package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"tradepulse/internal/application/port"
	"tradepulse/internal/domain"
)

// TickSink 将最新行情写入 hash，并把波动率信号发到 stream + pubsub。
type TickSink struct {
	rdb          *redis.Client
	prefix       string
	ttl          time.Duration
	keyTicks     string // prefix + ":ticks"
	signalStream string
	signalChan   string
}

type latestTick struct {
	InstID string  `json:"instId"`
	Price  float64 `json:"price"`
	Ts     int64   `json:"ts"`
}

func NewTickSink(rdb *redis.Client, prefix string, ttl time.Duration, signalStream, signalChan string) *TickSink {
	if strings.TrimSpace(signalStream) == "" {
		signalStream = prefix + ":signals"
	}
	if strings.TrimSpace(signalChan) == "" {
		signalChan = prefix + ":signals:pub"
	}
	return &TickSink{
		rdb:          rdb,
		prefix:       prefix,
		ttl:          ttl,
		keyTicks:     prefix + ":ticks",
		signalStream: signalStream,
		signalChan:   signalChan,
	}
}

func (s *TickSink) CacheTick(ctx context.Context, instID string, price float64, ts int64) error {
	if price <= 0 {
		return nil
	}
	b, _ := json.Marshal(latestTick{InstID: instID, Price: price, Ts: ts})

	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, s.keyTicks, instID, string(b))
	if s.ttl > 0 {
		pipe.Expire(ctx, s.keyTicks, s.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *TickSink) PublishVolatilitySignal(ctx context.Context, instID string, delta domain.PriceDeltaSnapshot) error {
	// 1) Stream: XADD <stream> * instId price_now base_price delta_bps
	_, err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.signalStream,
		Values: map[string]any{
			"inst_id":    instID,
			"price_now":  delta.PriceNow,
			"base_price": delta.BasePrice,
			"delta_bps":  delta.DeltaBps,
			"ts_ms":      time.Now().UnixMilli(),
		},
	}).Result()
	if err != nil {
		return err
	}

	// 2) PubSub: PUBLISH <channel> json
	// 用最简单的 JSON，便于消费者
	msg := fmt.Sprintf(`{"instId":"%s","priceNow":%.8f,"basePrice":%.8f,"deltaBps":%.4f}`,
		instID, delta.PriceNow, delta.BasePrice, delta.DeltaBps)
	return s.rdb.Publish(ctx, s.signalChan, msg).Err()
}

var _ port.TickSink = (*TickSink)(nil)
