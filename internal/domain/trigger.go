package domain

import "fmt"

// TriggerSource 触发来源：定时调度、手动请求、波动触发
type TriggerSource int

const (
	TriggerScheduled TriggerSource = iota
	TriggerManual
	TriggerVolatility
)

func (s TriggerSource) String() string {
	switch s {
	case TriggerScheduled:
		return "scheduled"
	case TriggerManual:
		return "manual"
	case TriggerVolatility:
		return "volatility"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// PriceDeltaSnapshot 当前价相对基准价的偏移快照
type PriceDeltaSnapshot struct {
	PriceNow  float64 `json:"price_now"`
	BasePrice float64 `json:"base_price"`
	DeltaBps  float64 `json:"delta_bps"` // 绝对偏移，基点（1bp = 0.01%）
}

// DueSymbol 当前需要执行分析的交易对及其触发来源
type DueSymbol struct {
	InstID string
	Source TriggerSource
}
