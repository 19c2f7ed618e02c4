package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kaenozu/Ult-sub007/pkg/config"
)

// ActionType 风控动作类型
type ActionType string

const (
	ActionBlockOrders    ActionType = "BLOCK_ORDERS"
	ActionReducePosition ActionType = "REDUCE_POSITION"
	ActionClosePosition  ActionType = "CLOSE_POSITION"
	ActionEmergencyHalt  ActionType = "EMERGENCY_HALT"
	ActionWarning        ActionType = "WARNING"
)

// ActionUrgency 动作紧迫程度
type ActionUrgency string

const (
	UrgencyLow       ActionUrgency = "LOW"
	UrgencyMedium    ActionUrgency = "MEDIUM"
	UrgencyHigh      ActionUrgency = "HIGH"
	UrgencyImmediate ActionUrgency = "IMMEDIATE"
)

// RiskControlAction 风控动作。仅由控制器产生，指标/仓位组件不产生动作
type RiskControlAction struct {
	ID              string        `json:"id"`
	PortfolioID     string        `json:"portfolio_id"`
	Type            ActionType    `json:"type"`
	Severity        AlertSeverity `json:"severity"`
	Reason          string        `json:"reason"`
	Symbols         []string      `json:"symbols,omitempty"`
	Recommendations []string      `json:"recommendations,omitempty"`
	Urgency         ActionUrgency `json:"urgency"`
	Executed        bool          `json:"executed"`
	CreatedAt       time.Time     `json:"created_at"`
}

// crashState 崩盘检测的单标的基准
type crashState struct {
	lastPrice float64
	lastSeen  time.Time
}

// AutomaticRiskController 自动风控状态机。每个组合一个实例，
// 两个独立的布尔标志（ordersBlocked / tradingHalted）可分别解除。
// 恢复必须由操作员显式调用 UnblockOrders / ResumeTrading，
// 控制器绝不因为后续 tick 看起来安全而自行清除，以免反复震荡放大亏损。
// 非并发安全，由组合级互斥保护
type AutomaticRiskController struct {
	cfg         config.ControlConfig
	portfolioID string

	ordersBlocked bool
	tradingHalted bool
	blockReason   string
	haltReason    string

	consecutiveLossDays int

	crash        map[string]*crashState
	pendingCrash []string

	actionLog     []*RiskControlAction
	recentActions map[string]time.Time
}

// NewAutomaticRiskController 创建自动风控控制器
func NewAutomaticRiskController(portfolioID string, cfg config.ControlConfig) *AutomaticRiskController {
	return &AutomaticRiskController{
		cfg:           cfg,
		portfolioID:   portfolioID,
		crash:         make(map[string]*crashState),
		recentActions: make(map[string]time.Time),
	}
}

// OrdersBlocked 当前是否冻结下单
func (c *AutomaticRiskController) OrdersBlocked() bool { return c.ordersBlocked }

// TradingHalted 当前是否紧急停止
func (c *AutomaticRiskController) TradingHalted() bool { return c.tradingHalted }

// ObservePrice 崩盘检测：对每个标的维护 (lastPrice, lastTimestamp)，
// 仅当距上次观测不超过时间窗口且跌幅达到阈值时判定崩盘。
// 某标的的首个观测只建立基准，绝不判定为崩盘
func (c *AutomaticRiskController) ObservePrice(symbol string, price float64, ts time.Time) bool {
	prev, ok := c.crash[symbol]
	c.crash[symbol] = &crashState{lastPrice: price, lastSeen: ts}
	if !ok || prev.lastPrice <= 0 {
		return false
	}

	elapsed := ts.Sub(prev.lastSeen)
	if elapsed < 0 || elapsed > c.cfg.CrashWindow {
		return false
	}

	dropPercent := (prev.lastPrice - price) / prev.lastPrice * 100
	if dropPercent < c.cfg.CrashDropPercent {
		return false
	}

	c.pendingCrash = append(c.pendingCrash, symbol)
	return true
}

// RecordDailyClose 记录一个交易日收盘盈亏，维护连续亏损天数
func (c *AutomaticRiskController) RecordDailyClose(pnlPercent float64) {
	if pnlPercent < 0 {
		c.consecutiveLossDays++
	} else {
		c.consecutiveLossDays = 0
	}
}

// EvaluateTick 消费最新指标快照执行一轮状态机转移，返回本轮触发的动作。
// 已处于冻结/停止状态时不会重复发出同类动作
func (c *AutomaticRiskController) EvaluateTick(snap *RiskMetricsSnapshot, p *Portfolio) []*RiskControlAction {
	var actions []*RiskControlAction
	now := snap.GeneratedAt

	crashed := c.pendingCrash
	c.pendingCrash = nil

	// 单日亏损 -> 冻结下单
	dailyLoss := -p.DailyPnLPercent()
	if !c.ordersBlocked && dailyLoss >= c.cfg.MaxDailyLossPercent {
		reason := fmt.Sprintf("daily loss %.2f%% reached limit %.2f%%", dailyLoss, c.cfg.MaxDailyLossPercent)
		if a := c.emit(ActionBlockOrders, SeverityCritical, reason, nil, nil, UrgencyImmediate, now); a != nil {
			c.ordersBlocked = true
			c.blockReason = reason
			actions = append(actions, a)
		}
	}

	// 连续亏损天数 -> 冻结下单
	if !c.ordersBlocked && c.cfg.MaxConsecutiveLossDays > 0 && c.consecutiveLossDays >= c.cfg.MaxConsecutiveLossDays {
		reason := fmt.Sprintf("%d consecutive losing days reached limit %d", c.consecutiveLossDays, c.cfg.MaxConsecutiveLossDays)
		if a := c.emit(ActionBlockOrders, SeverityCritical, reason, nil, nil, UrgencyHigh, now); a != nil {
			c.ordersBlocked = true
			c.blockReason = reason
			actions = append(actions, a)
		}
	}

	// 回撤 -> 减仓（阈值的 80% 处仅警告）
	if c.cfg.MaxDrawdownPercent > 0 {
		switch {
		case snap.CurrentDrawdown >= c.cfg.MaxDrawdownPercent:
			reason := fmt.Sprintf("drawdown %.2f%% reached limit %.2f%%", snap.CurrentDrawdown, c.cfg.MaxDrawdownPercent)
			symbols, recs := c.reductionProposals(p, snap)
			if a := c.emit(ActionReducePosition, SeverityCritical, reason, symbols, recs, UrgencyImmediate, now); a != nil {
				actions = append(actions, a)
			}
		case snap.CurrentDrawdown >= c.cfg.MaxDrawdownPercent*0.8:
			reason := fmt.Sprintf("drawdown %.2f%% approaching limit %.2f%%", snap.CurrentDrawdown, c.cfg.MaxDrawdownPercent)
			if a := c.emit(ActionWarning, SeverityHigh, reason, nil, nil, UrgencyMedium, now); a != nil {
				actions = append(actions, a)
			}
		}
	}

	// 紧急停止：回撤/总风险越过紧急阈值，或崩盘检测触发。
	// 需配置显式开启；已停止时绝不重复发出
	if c.cfg.EnableEmergencyHalt && !c.tradingHalted {
		var reason string
		switch {
		case snap.CurrentDrawdown >= c.cfg.EmergencyDrawdownPercent:
			reason = fmt.Sprintf("drawdown %.2f%% reached emergency limit %.2f%%", snap.CurrentDrawdown, c.cfg.EmergencyDrawdownPercent)
		case snap.TotalRiskPercent >= c.cfg.EmergencyRiskPercent:
			reason = fmt.Sprintf("total risk %.1f reached emergency limit %.1f", snap.TotalRiskPercent, c.cfg.EmergencyRiskPercent)
		case len(crashed) > 0:
			reason = fmt.Sprintf("market crash detected: %v", crashed)
		}
		if reason != "" {
			if a := c.emit(ActionEmergencyHalt, SeverityCritical, reason, crashed, nil, UrgencyImmediate, now); a != nil {
				c.tradingHalted = true
				c.haltReason = reason
				actions = append(actions, a)
			}
		}
	}

	// 危险/严重等级 -> 建议性减仓提案（不强制执行）
	if snap.RiskLevel == RiskLevelDanger || snap.RiskLevel == RiskLevelCritical {
		symbols, recs := c.reductionProposals(p, snap)
		if len(symbols) > 0 {
			urgency := UrgencyHigh
			if snap.RiskLevel == RiskLevelCritical {
				urgency = UrgencyImmediate
			}
			reason := fmt.Sprintf("risk level %s, advisory position reduction", snap.RiskLevel)
			if a := c.emit(ActionReducePosition, SeverityHigh, reason, symbols, recs, urgency, now); a != nil {
				actions = append(actions, a)
			}
		}
	}

	return actions
}

// reductionProposals 找出权重或浮亏越限的持仓并给出减仓建议
func (c *AutomaticRiskController) reductionProposals(p *Portfolio, snap *RiskMetricsSnapshot) ([]string, []string) {
	var symbols []string
	var recs []string
	for i := range p.Positions {
		pos := &p.Positions[i]
		weight := p.PositionWeight(pos.Symbol) * 100
		lossPct := pos.UnrealizedPnLPercent()

		switch {
		case weight >= c.cfg.ReductionWeightPercent:
			symbols = append(symbols, pos.Symbol)
			recs = append(recs, fmt.Sprintf("reduce %s by at least 50%% (weight %.1f%% exceeds %.1f%%)",
				pos.Symbol, weight, c.cfg.ReductionWeightPercent))
		case lossPct <= c.cfg.ReductionLossPercent:
			symbols = append(symbols, pos.Symbol)
			recs = append(recs, fmt.Sprintf("reduce %s (unrealized loss %.1f%% beyond %.1f%%)",
				pos.Symbol, lossPct, c.cfg.ReductionLossPercent))
		}
	}
	return symbols, recs
}

// UnblockOrders 操作员显式解除订单冻结。未冻结时返回 nil
func (c *AutomaticRiskController) UnblockOrders(reason string, now time.Time) *RiskControlAction {
	if !c.ordersBlocked {
		return nil
	}
	c.ordersBlocked = false
	c.blockReason = ""
	a := &RiskControlAction{
		ID:          uuid.NewString(),
		PortfolioID: c.portfolioID,
		Type:        ActionWarning,
		Severity:    SeverityMedium,
		Reason:      fmt.Sprintf("orders unblocked by operator: %s", reason),
		Urgency:     UrgencyLow,
		Executed:    true,
		CreatedAt:   now,
	}
	c.appendToLog(a)
	return a
}

// ResumeTrading 操作员显式恢复交易。未停止时返回 nil
func (c *AutomaticRiskController) ResumeTrading(reason string, now time.Time) *RiskControlAction {
	if !c.tradingHalted {
		return nil
	}
	c.tradingHalted = false
	c.haltReason = ""
	a := &RiskControlAction{
		ID:          uuid.NewString(),
		PortfolioID: c.portfolioID,
		Type:        ActionWarning,
		Severity:    SeverityMedium,
		Reason:      fmt.Sprintf("trading resumed by operator: %s", reason),
		Urgency:     UrgencyLow,
		Executed:    true,
		CreatedAt:   now,
	}
	c.appendToLog(a)
	return a
}

// Actions 返回最近 limit 条动作记录（limit <= 0 返回全部）
func (c *AutomaticRiskController) Actions(limit int) []*RiskControlAction {
	if limit <= 0 || limit >= len(c.actionLog) {
		out := make([]*RiskControlAction, len(c.actionLog))
		copy(out, c.actionLog)
		return out
	}
	out := make([]*RiskControlAction, limit)
	copy(out, c.actionLog[len(c.actionLog)-limit:])
	return out
}

// emit 构造并记录一个动作。去重以 (类型, 涉及标的) 为键：
// 原因文本含实时数值，逐 tick 抖动，不能参与去重判定
func (c *AutomaticRiskController) emit(t ActionType, sev AlertSeverity, reason string, symbols, recs []string, urgency ActionUrgency, now time.Time) *RiskControlAction {
	key := string(t) + "|" + strings.Join(symbols, ",")
	if last, ok := c.recentActions[key]; ok && now.Sub(last) < c.cfg.ActionDedupWindow {
		return nil
	}
	c.recentActions[key] = now

	a := &RiskControlAction{
		ID:              uuid.NewString(),
		PortfolioID:     c.portfolioID,
		Type:            t,
		Severity:        sev,
		Reason:          reason,
		Symbols:         symbols,
		Recommendations: recs,
		Urgency:         urgency,
		CreatedAt:       now,
	}
	c.appendToLog(a)
	return a
}

// appendToLog 追加到有界动作日志
func (c *AutomaticRiskController) appendToLog(a *RiskControlAction) {
	c.actionLog = append(c.actionLog, a)
	capacity := c.cfg.ActionLogCapacity
	if capacity <= 0 {
		capacity = 500
	}
	if len(c.actionLog) > capacity {
		c.actionLog = c.actionLog[len(c.actionLog)-capacity:]
	}
}
