// Package metrics exposes the coordination core's Prometheus counters.
// Registered once at import; served by the host process at /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// TriggersCompleted 按来源统计完成的触发次数
	TriggersCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradepulse_triggers_completed_total",
			Help: "Completed analysis triggers by source",
		},
		[]string{"source"},
	)

	// VolatilitySignals 波动阈值命中次数
	VolatilitySignals = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tradepulse_volatility_signals_total",
			Help: "Volatility threshold breaches that scheduled an analysis",
		},
	)

	// TickerFetchFailures 行情拉取最终失败次数（重试耗尽后）
	TickerFetchFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tradepulse_ticker_fetch_failures_total",
			Help: "Ticker fetches that failed after exhausting retries",
		},
	)

	// OrdersReconciled 已落库的订单事件数
	OrdersReconciled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tradepulse_orders_reconciled_total",
			Help: "Order events upserted from exchange history",
		},
	)

	// FillsRecorded 已落库的成交数（去重后）
	FillsRecorded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tradepulse_fills_recorded_total",
			Help: "Trade records written (deduplicated by fingerprint)",
		},
	)

	// PositionsClosedBySweep sweep 判定消失而关闭的持仓数
	PositionsClosedBySweep = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tradepulse_positions_closed_by_sweep_total",
			Help: "Positions marked closed because a sweep no longer saw them",
		},
	)

	// AgentReconnects 分析服务 websocket 重连次数
	AgentReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tradepulse_agent_reconnects_total",
			Help: "Reconnection attempts to the analysis service websocket",
		},
	)

	// AnalysisTimeouts 等待分析结果超时次数
	AnalysisTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tradepulse_analysis_timeouts_total",
			Help: "trigger_analysis calls that timed out waiting for a result",
		},
	)
)

func init() {
	prometheus.MustRegister(
		TriggersCompleted,
		VolatilitySignals,
		TickerFetchFailures,
		OrdersReconciled,
		FillsRecorded,
		PositionsClosedBySweep,
		AgentReconnects,
		AnalysisTimeouts,
	)
}
