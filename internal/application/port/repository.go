package port

import (
	"context"

	"tradepulse/internal/domain"
)

type Repository interface {
	// Order/fill reconciliation
	UpsertOrderEvent(ctx context.Context, event *domain.OrderEvent) error
	InsertTradeRecord(ctx context.Context, record *domain.TradeRecord) error // no-op when fingerprint exists

	// Position snapshots, unique on (inst_id, pos_side)
	UpsertPositionSnapshot(ctx context.Context, snapshot *domain.PositionSnapshot) error
	OpenPositionSnapshots(ctx context.Context, instIDs []string) ([]*domain.PositionSnapshot, error)
	MarkPositionClosed(ctx context.Context, instID, posSide string) error

	// Analysis results pushed by the agent
	InsertStrategyMessage(ctx context.Context, summary string) error

	// Connection management
	Close() error
}
