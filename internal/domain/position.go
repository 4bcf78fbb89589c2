package domain

import (
	"encoding/json"
	"time"
)

// PositionSnapshot 交易所当前持仓视图，按 (inst_id, pos_side) 唯一
type PositionSnapshot struct {
	InstID        string          `json:"inst_id"`
	PosSide       string          `json:"pos_side"` // long / short / net
	TdMode        *string         `json:"td_mode,omitempty"`
	Size          float64         `json:"size"`
	AvgPrice      *float64        `json:"avg_price,omitempty"`
	MarkPrice     *float64        `json:"mark_price,omitempty"`
	Margin        *float64        `json:"margin,omitempty"`
	UnrealizedPnl *float64        `json:"unrealized_pnl,omitempty"`
	LastTradeAt   *time.Time      `json:"last_trade_at,omitempty"`
	ClosedAt      *time.Time      `json:"closed_at,omitempty"` // 仓位归零或 sweep 判定消失时写入
	Raw           json.RawMessage `json:"raw,omitempty"`
}

// Key identifies a position row.
type PositionKey struct {
	InstID  string
	PosSide string
}

func (p *PositionSnapshot) Key() PositionKey {
	return PositionKey{InstID: p.InstID, PosSide: p.PosSide}
}
