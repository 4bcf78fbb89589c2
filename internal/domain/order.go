package domain

import (
	"encoding/json"
	"time"
)

// OrderEvent 由交易所订单历史条目派生的订单事件，按 OrdID 幂等落库
type OrderEvent struct {
	OrdID      string          `json:"ord_id"`
	InstID     string          `json:"inst_id"`
	Side       string          `json:"side"` // buy / sell
	OrderType  string          `json:"order_type"`
	Price      *float64        `json:"price,omitempty"`
	Size       float64         `json:"size"`
	FilledSize *float64        `json:"filled_size,omitempty"`
	Status     string          `json:"status"`
	TdMode     *string         `json:"td_mode,omitempty"`
	PosSide    *string         `json:"pos_side,omitempty"`
	Leverage   *float64        `json:"leverage,omitempty"`
	ActionKind *string         `json:"action_kind,omitempty"` // "exit" 表示 reduce-only 平仓单
	Raw        json.RawMessage `json:"raw,omitempty"`         // 原始交易所 payload，仅作审计
}

// Terminal reports whether the order status means the order will not change
// again on the exchange side.
func (e *OrderEvent) Terminal() bool {
	switch e.Status {
	case "filled", "canceled", "cancelled", "mmp_canceled":
		return true
	}
	return false
}

// AnalysisResult 分析服务返回的结果
type AnalysisResult struct {
	Summary     string   `json:"summary"`
	Suggestions []string `json:"suggestions,omitempty"`
	ReceivedAt  time.Time
}
