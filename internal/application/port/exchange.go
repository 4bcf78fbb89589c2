package port

import "context"

// OKX 风格的行情/账户数据：数值全部为字符串，由调用方按需解析。

// Ticker 最新行情
type Ticker struct {
	InstID string `json:"instId"`
	Last   string `json:"last"`
	Ts     string `json:"ts"` // unix ms
}

// PositionDetail 交易所持仓明细
type PositionDetail struct {
	InstID   string `json:"instId"`
	InstType string `json:"instType,omitempty"`
	PosSide  string `json:"posSide,omitempty"`
	Pos      string `json:"pos,omitempty"`
	AvgPx    string `json:"avgPx,omitempty"`
	MarkPx   string `json:"markPx,omitempty"`
	Margin   string `json:"margin,omitempty"`
	Upl      string `json:"upl,omitempty"`
	Lever    string `json:"lever,omitempty"`
	CTime    string `json:"cTime,omitempty"`
}

// OrderHistoryEntry 订单历史条目
type OrderHistoryEntry struct {
	InstType   string `json:"instType,omitempty"`
	InstID     string `json:"instId"`
	OrdID      string `json:"ordId"`
	ClOrdID    string `json:"clOrdId,omitempty"`
	Tag        string `json:"tag,omitempty"`
	Side       string `json:"side"`
	PosSide    string `json:"posSide,omitempty"`
	OrdType    string `json:"ordType"`
	TdMode     string `json:"tdMode,omitempty"`
	Sz         string `json:"sz"`
	Px         string `json:"px,omitempty"`
	AccFillSz  string `json:"accFillSz,omitempty"`
	FillPx     string `json:"fillPx,omitempty"`
	State      string `json:"state"`
	Lever      string `json:"lever,omitempty"`
	ReduceOnly string `json:"reduceOnly,omitempty"` // "true"/"false"
	CTime      string `json:"cTime,omitempty"`
	UTime      string `json:"uTime,omitempty"`
}

// FillDetail 成交明细
type FillDetail struct {
	InstType string `json:"instType,omitempty"`
	InstID   string `json:"instId"`
	TradeID  string `json:"tradeId,omitempty"`
	OrdID    string `json:"ordId,omitempty"`
	FillPx   string `json:"fillPx,omitempty"`
	FillSz   string `json:"fillSz,omitempty"`
	Side     string `json:"side,omitempty"`
	PosSide  string `json:"posSide,omitempty"`
	ExecType string `json:"execType,omitempty"`
	FillPnl  string `json:"fillPnl,omitempty"`
	Fee      string `json:"fee,omitempty"`
	Ts       string `json:"ts,omitempty"`
}

// ExchangeClient 交易所只读能力：行情、持仓、订单历史、成交
type ExchangeClient interface {
	GetTicker(ctx context.Context, instID string) (*Ticker, error)
	GetPositions(ctx context.Context, instType string) ([]PositionDetail, error)
	GetOrderHistory(ctx context.Context, instType, instID, ordID string, limit int) ([]OrderHistoryEntry, error)
	GetFills(ctx context.Context, instID, ordID string, limit int) ([]FillDetail, error)
}
