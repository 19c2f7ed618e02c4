package domain

import (
	"fmt"
	"math"

	"github.com/kaenozu/Ult-sub007/pkg/config"
)

// MarketCondition 市场状态
type MarketCondition string

const (
	MarketConditionBull     MarketCondition = "BULL"
	MarketConditionBear     MarketCondition = "BEAR"
	MarketConditionSideways MarketCondition = "SIDEWAYS"
	MarketConditionVolatile MarketCondition = "VOLATILE"
	MarketConditionStable   MarketCondition = "STABLE"
)

// RiskAdjustment 一次动态调整的结果。每个因子都附带可读的理由，
// 自动化资金决策必须可审计
type RiskAdjustment struct {
	BaseRiskPercent     float64         `json:"base_risk_percent"`
	AdjustedRiskPercent float64         `json:"adjusted_risk_percent"`
	Multiplier          float64         `json:"multiplier"`
	Condition           MarketCondition `json:"condition"`
	ConsecutiveLosses   int             `json:"consecutive_losses"`
	Reasons             []string        `json:"reasons"`
}

// DynamicRiskAdjuster 动态风险调整器：依据市场状态与连胜/连亏记录
// 对基础风险占比施加乘法调整。非并发安全，由组合级互斥保护
type DynamicRiskAdjuster struct {
	cfg config.AdjusterConfig

	consecutiveWins   int
	consecutiveLosses int
	cumProfitPercent  float64
	condition         MarketCondition
}

// NewDynamicRiskAdjuster 创建动态风险调整器
func NewDynamicRiskAdjuster(cfg config.AdjusterConfig) *DynamicRiskAdjuster {
	return &DynamicRiskAdjuster{
		cfg:       cfg,
		condition: MarketConditionSideways,
	}
}

// RecordTradeResult 记录一笔已平仓交易的盈亏百分比，更新连胜/连亏与累计盈利
func (a *DynamicRiskAdjuster) RecordTradeResult(profitPercent float64) {
	switch {
	case profitPercent > 0:
		a.consecutiveWins++
		a.consecutiveLosses = 0
	case profitPercent < 0:
		a.consecutiveLosses++
		a.consecutiveWins = 0
	}
	a.cumProfitPercent += profitPercent
}

// UpdateMarketCondition 更新市场状态：先按波动率判定 volatile/stable，
// 否则按当日盈亏方向判定 bull/bear/sideways
func (a *DynamicRiskAdjuster) UpdateMarketCondition(annualizedVolatility, dailyPnLPercent float64) MarketCondition {
	switch {
	case annualizedVolatility > a.cfg.HighVolatilityThreshold:
		a.condition = MarketConditionVolatile
	case annualizedVolatility > 0 && annualizedVolatility < a.cfg.LowVolatilityThreshold:
		a.condition = MarketConditionStable
	case dailyPnLPercent > a.cfg.BullPnLPercent:
		a.condition = MarketConditionBull
	case dailyPnLPercent < a.cfg.BearPnLPercent:
		a.condition = MarketConditionBear
	default:
		a.condition = MarketConditionSideways
	}
	return a.condition
}

// Adjust 对基础风险占比施加四个独立有界因子的乘法调整：
// 波动率 × 市场状态 × 连亏 × 累计盈利，结果截断到配置边界
func (a *DynamicRiskAdjuster) Adjust(baseRiskPercent, annualizedVolatility float64) *RiskAdjustment {
	adj := &RiskAdjustment{
		BaseRiskPercent:   baseRiskPercent,
		Condition:         a.condition,
		ConsecutiveLosses: a.consecutiveLosses,
	}

	volAdj := a.volatilityAdjustment(annualizedVolatility, adj)
	condAdj := a.conditionAdjustment(adj)
	lossAdj := a.lossStreakAdjustment(adj)
	profitAdj := a.profitAdjustment(adj)

	adj.Multiplier = volAdj * condAdj * lossAdj * profitAdj

	adjusted := baseRiskPercent * adj.Multiplier
	clamped := math.Max(a.cfg.MinRiskPercent, math.Min(a.cfg.MaxRiskPercent, adjusted))
	if clamped != adjusted {
		adj.Reasons = append(adj.Reasons,
			fmt.Sprintf("clamped %.2f%% to bounds [%.2f%%, %.2f%%]", adjusted, a.cfg.MinRiskPercent, a.cfg.MaxRiskPercent))
	}
	adj.AdjustedRiskPercent = clamped

	return adj
}

// volatilityAdjustment 波动率低于目标时放大风险、高于时缩小，限幅 [0.5, 2.0]。
// 目标取高低阈值的中点
func (a *DynamicRiskAdjuster) volatilityAdjustment(vol float64, adj *RiskAdjustment) float64 {
	if vol <= 0 {
		adj.Reasons = append(adj.Reasons, "volatility unavailable, volatility factor 1.00")
		return 1.0
	}
	target := (a.cfg.HighVolatilityThreshold + a.cfg.LowVolatilityThreshold) / 2
	if target <= 0 {
		return 1.0
	}
	factor := math.Max(0.5, math.Min(2.0, target/vol))
	adj.Reasons = append(adj.Reasons,
		fmt.Sprintf("volatility factor %.2f (target %.2f vs actual %.2f)", factor, target, vol))
	return factor
}

// conditionAdjustment 市场状态固定乘数
func (a *DynamicRiskAdjuster) conditionAdjustment(adj *RiskAdjustment) float64 {
	factor := 1.0
	switch a.condition {
	case MarketConditionBull:
		factor = a.cfg.BullMultiplier
	case MarketConditionBear:
		factor = a.cfg.BearMultiplier
	case MarketConditionVolatile:
		factor = a.cfg.VolatileMultiplier
	case MarketConditionStable:
		factor = a.cfg.StableMultiplier
	default:
		factor = a.cfg.SidewaysMultiplier
	}
	if factor <= 0 {
		factor = 1.0
	}
	adj.Reasons = append(adj.Reasons,
		fmt.Sprintf("market condition %s factor %.2f", a.condition, factor))
	return factor
}

// lossStreakAdjustment 连亏调整：1 - min(连亏笔数 × 每笔减少, 最大减少)
func (a *DynamicRiskAdjuster) lossStreakAdjustment(adj *RiskAdjustment) float64 {
	if a.consecutiveLosses == 0 {
		return 1.0
	}
	reduction := math.Min(float64(a.consecutiveLosses)*a.cfg.PerLossReduction, a.cfg.MaxLossReduction)
	factor := 1 - reduction
	adj.Reasons = append(adj.Reasons,
		fmt.Sprintf("consecutive losses %d factor %.2f", a.consecutiveLosses, factor))
	return factor
}

// profitAdjustment 盈利调整：1 + min(floor(累计盈利%/步长) × 增幅, 最大增幅)
func (a *DynamicRiskAdjuster) profitAdjustment(adj *RiskAdjustment) float64 {
	if a.cumProfitPercent <= 0 || a.cfg.ProfitStepPercent <= 0 {
		return 1.0
	}
	steps := math.Floor(a.cumProfitPercent / a.cfg.ProfitStepPercent)
	if steps <= 0 {
		return 1.0
	}
	increase := math.Min(steps*a.cfg.ProfitIncreaseRate, a.cfg.MaxProfitIncrease)
	factor := 1 + increase
	adj.Reasons = append(adj.Reasons,
		fmt.Sprintf("cumulative profit %.1f%% factor %.2f", a.cumProfitPercent, factor))
	return factor
}

// Condition 当前市场状态
func (a *DynamicRiskAdjuster) Condition() MarketCondition {
	return a.condition
}

// ConsecutiveLosses 当前连亏笔数
func (a *DynamicRiskAdjuster) ConsecutiveLosses() int {
	return a.consecutiveLosses
}

// CumulativeProfitPercent 累计盈利百分比
func (a *DynamicRiskAdjuster) CumulativeProfitPercent() float64 {
	return a.cumProfitPercent
}
