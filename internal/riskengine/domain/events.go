package domain

import "time"

// 事件主题
const (
	TopicActionFired     = "risk.action.fired"
	TopicOrdersBlocked   = "risk.orders.blocked"
	TopicOrdersUnblocked = "risk.orders.unblocked"
	TopicTradingHalted   = "risk.trading.halted"
	TopicTradingResumed  = "risk.trading.resumed"
	TopicAlertGenerated  = "risk.alert.generated"
	TopicMetricsUpdated  = "risk.metrics.updated"
)

// ActionFiredEvent 风控动作触发事件
type ActionFiredEvent struct {
	PortfolioID string             `json:"portfolio_id"`
	Action      *RiskControlAction `json:"action"`
	Timestamp   time.Time          `json:"timestamp"`
}

// OrdersBlockedEvent 订单冻结事件
type OrdersBlockedEvent struct {
	PortfolioID string    `json:"portfolio_id"`
	Reason      string    `json:"reason"`
	Timestamp   time.Time `json:"timestamp"`
}

// OrdersUnblockedEvent 订单解冻事件（操作员触发）
type OrdersUnblockedEvent struct {
	PortfolioID string    `json:"portfolio_id"`
	Operator    string    `json:"operator"`
	Reason      string    `json:"reason"`
	Timestamp   time.Time `json:"timestamp"`
}

// TradingHaltedEvent 紧急停止事件
type TradingHaltedEvent struct {
	PortfolioID string    `json:"portfolio_id"`
	Reason      string    `json:"reason"`
	Timestamp   time.Time `json:"timestamp"`
}

// TradingResumedEvent 恢复交易事件（操作员触发）
type TradingResumedEvent struct {
	PortfolioID string    `json:"portfolio_id"`
	Operator    string    `json:"operator"`
	Reason      string    `json:"reason"`
	Timestamp   time.Time `json:"timestamp"`
}

// AlertGeneratedEvent 风险告警事件
type AlertGeneratedEvent struct {
	PortfolioID string    `json:"portfolio_id"`
	Alert       RiskAlert `json:"alert"`
	Timestamp   time.Time `json:"timestamp"`
}

// MetricsUpdatedEvent 指标快照更新事件
type MetricsUpdatedEvent struct {
	PortfolioID string               `json:"portfolio_id"`
	Snapshot    *RiskMetricsSnapshot `json:"snapshot"`
	Timestamp   time.Time            `json:"timestamp"`
}
