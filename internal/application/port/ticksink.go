package port

import (
	"context"

	"tradepulse/internal/domain"
)

// TickSink 行情旁路输出：缓存最新价、发布波动信号（redis 或 noop）
type TickSink interface {
	CacheTick(ctx context.Context, instID string, price float64, ts int64) error
	PublishVolatilitySignal(ctx context.Context, instID string, delta domain.PriceDeltaSnapshot) error
}

// NoopTickSink drops everything; used when redis is disabled.
type NoopTickSink struct{}

func (NoopTickSink) CacheTick(ctx context.Context, instID string, price float64, ts int64) error {
	return nil
}

func (NoopTickSink) PublishVolatilitySignal(ctx context.Context, instID string, delta domain.PriceDeltaSnapshot) error {
	return nil
}
