// Package application 组合领域引擎并维护每组合的可变状态与互斥
package application

import (
	"context"

	"github.com/kaenozu/Ult-sub007/internal/riskengine/domain"
)

// EvaluateTickResult 一次评估 tick 的完整输出
type EvaluateTickResult struct {
	Snapshot      *domain.RiskMetricsSnapshot `json:"snapshot"`
	Actions       []*domain.RiskControlAction `json:"actions"`
	OrdersBlocked bool                        `json:"orders_blocked"`
	TradingHalted bool                        `json:"trading_halted"`
}

// ControllerStatus 组合当前风控状态
type ControllerStatus struct {
	PortfolioID             string                 `json:"portfolio_id"`
	OrdersBlocked           bool                   `json:"orders_blocked"`
	TradingHalted           bool                   `json:"trading_halted"`
	MarketCondition         domain.MarketCondition `json:"market_condition"`
	ConsecutiveLosses       int                    `json:"consecutive_losses"`
	CumulativeProfitPercent float64                `json:"cumulative_profit_percent"`
}

// ArchiveRepository 告警与动作的归档仓储，由基础设施层实现。
// 归档失败只记录不回传，风控主流程不依赖归档成功
type ArchiveRepository interface {
	SaveAlerts(ctx context.Context, alerts []domain.RiskAlert) error
	SaveAction(ctx context.Context, action *domain.RiskControlAction) error
	ListAlerts(ctx context.Context, portfolioID string, limit int) ([]domain.RiskAlert, error)
	ListActions(ctx context.Context, portfolioID string, limit int) ([]*domain.RiskControlAction, error)
}
