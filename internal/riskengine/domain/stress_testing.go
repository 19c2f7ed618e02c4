package domain

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"github.com/kaenozu/Ult-sub007/pkg/config"
)

// StressScenario 压力测试情景定义
type StressScenario struct {
	Name string `json:"name"`
	// 市场整体冲击幅度（%，负数为下跌）
	MarketShockPercent float64 `json:"market_shock_percent"`
	// 波动率放大倍数
	VolatilityMultiplier float64 `json:"volatility_multiplier"`
	// 相关性上升幅度（情景描述用，0-1）
	CorrelationChange float64 `json:"correlation_change"`
}

// DefaultScenarios 内置情景库
func DefaultScenarios() []StressScenario {
	return []StressScenario{
		{Name: "mild_pullback", MarketShockPercent: -5, VolatilityMultiplier: 1.5, CorrelationChange: 0.1},
		{Name: "market_correction", MarketShockPercent: -10, VolatilityMultiplier: 2, CorrelationChange: 0.2},
		{Name: "flash_crash", MarketShockPercent: -7, VolatilityMultiplier: 2.5, CorrelationChange: 0.25},
		{Name: "financial_crisis", MarketShockPercent: -20, VolatilityMultiplier: 3, CorrelationChange: 0.3},
		{Name: "black_swan", MarketShockPercent: -30, VolatilityMultiplier: 4, CorrelationChange: 0.5},
	}
}

// PositionImpact 情景下单个持仓的冲击
type PositionImpact struct {
	Symbol        string          `json:"symbol"`
	CurrentValue  decimal.Decimal `json:"current_value"`
	ImpactAmount  decimal.Decimal `json:"impact_amount"`
	ImpactPercent float64         `json:"impact_percent"`
}

// StressTestResult 情景测试结果
type StressTestResult struct {
	Scenario           StressScenario   `json:"scenario"`
	PortfolioID        string           `json:"portfolio_id"`
	PortfolioValue     decimal.Decimal  `json:"portfolio_value"`
	TotalImpact        decimal.Decimal  `json:"total_impact"`
	ImpactPercent      float64          `json:"impact_percent"`
	PositionImpacts    []PositionImpact `json:"position_impacts"`
	ShockedVaR95       decimal.Decimal  `json:"shocked_var_95"`
	ShockedCVaR95      decimal.Decimal  `json:"shocked_cvar_95"`
	ShockedMaxDrawdown float64          `json:"shocked_max_drawdown"`
	GeneratedAt        time.Time        `json:"generated_at"`
}

// WorstCaseResult 最坏情况分析结果。ProbabilityOfRuin 为启发式近似值，
// 基于带漂移布朗运动的越界概率 exp(-2·μ·L/σ²)，并非严格破产模型
type WorstCaseResult struct {
	PortfolioID       string    `json:"portfolio_id"`
	WorstDayPercent   float64   `json:"worst_day_percent"`
	WorstWeekPercent  float64   `json:"worst_week_percent"`
	WorstMonthPercent float64   `json:"worst_month_percent"`
	ProbabilityOfRuin float64   `json:"probability_of_ruin"`
	SampleCount       int       `json:"sample_count"`
	GeneratedAt       time.Time `json:"generated_at"`
}

// 最坏情况滚动窗口（交易日）
const (
	worstWeekWindow  = 5
	worstMonthWindow = 20
	// 破产启发式的亏损边界（组合净值跌去一半）
	ruinBarrier = 0.5
)

// StressTestEngine 压力测试引擎。只读：任何入口都不修改组合或持仓
type StressTestEngine struct {
	cfg config.StressConfig
}

// NewStressTestEngine 创建压力测试引擎
func NewStressTestEngine(cfg config.StressConfig) *StressTestEngine {
	return &StressTestEngine{cfg: cfg}
}

// RunScenario 对组合施加一个情景：
// 单仓位冲击 = 市值 × (冲击%/100 + 历史日波动率 × 波动率倍数)，
// 组合冲击为各仓位冲击之和，并在冲击后的收益率序列上重算 VaR/CVaR/最大回撤
func (e *StressTestEngine) RunScenario(sc StressScenario, p *Portfolio, hist *ReturnHistory) *StressTestResult {
	result := &StressTestResult{
		Scenario:       sc,
		PortfolioID:    p.ID,
		PortfolioValue: p.TotalValue,
		TotalImpact:    decimal.Zero,
		ShockedVaR95:   decimal.Zero,
		ShockedCVaR95:  decimal.Zero,
		GeneratedAt:    time.Now(),
	}

	shockFraction := sc.MarketShockPercent / 100

	for i := range p.Positions {
		pos := &p.Positions[i]
		value := pos.MarketValue()

		dailyVol := symbolDailyVolatility(hist, pos.Symbol)
		factor := shockFraction + dailyVol*sc.VolatilityMultiplier

		impact := value.Mul(decimal.NewFromFloat(factor))
		result.TotalImpact = result.TotalImpact.Add(impact)
		result.PositionImpacts = append(result.PositionImpacts, PositionImpact{
			Symbol:        pos.Symbol,
			CurrentValue:  value,
			ImpactAmount:  impact,
			ImpactPercent: factor * 100,
		})
	}

	if p.TotalValue.IsPositive() {
		pct, _ := result.TotalImpact.Div(p.TotalValue).Mul(decimal.NewFromInt(100)).Float64()
		result.ImpactPercent = pct
	}

	e.shockedTailMetrics(sc, p, result)

	return result
}

// RunAll 依次执行内置情景库
func (e *StressTestEngine) RunAll(p *Portfolio, hist *ReturnHistory) []*StressTestResult {
	scenarios := DefaultScenarios()
	results := make([]*StressTestResult, 0, len(scenarios))
	for _, sc := range scenarios {
		results = append(results, e.RunScenario(sc, p, hist))
	}
	return results
}

// shockedTailMetrics 构造冲击后的收益率序列并重算尾部指标：
// 历史收益率按波动率倍数放大，再在序列末尾追加一次性冲击
func (e *StressTestEngine) shockedTailMetrics(sc StressScenario, p *Portfolio, result *StressTestResult) {
	returns := p.DailyReturns()
	if len(returns) < 2 {
		return
	}

	shocked := make([]float64, 0, len(returns)+1)
	for _, r := range returns {
		shocked = append(shocked, r*sc.VolatilityMultiplier)
	}
	shocked = append(shocked, sc.MarketShockPercent/100)

	totalValue, _ := p.TotalValue.Float64()
	if totalValue > 0 {
		varValue, cvarValue := historicalVaR(shocked, totalValue, 0.95)
		result.ShockedVaR95 = decimal.NewFromFloat(varValue)
		result.ShockedCVaR95 = decimal.NewFromFloat(cvarValue)
	}

	result.ShockedMaxDrawdown = maxDrawdownFromReturns(shocked)
}

// WorstCase 滚动窗口扫描历史收益率找出最坏单日/周/月表现，
// 并给出启发式破产概率估计
func (e *StressTestEngine) WorstCase(p *Portfolio) *WorstCaseResult {
	returns := p.DailyReturns()
	result := &WorstCaseResult{
		PortfolioID: p.ID,
		SampleCount: len(returns),
		GeneratedAt: time.Now(),
	}
	if len(returns) == 0 {
		return result
	}

	worstDay := returns[0]
	for _, r := range returns {
		if r < worstDay {
			worstDay = r
		}
	}
	result.WorstDayPercent = worstDay * 100
	result.WorstWeekPercent = worstRollingSum(returns, worstWeekWindow) * 100
	result.WorstMonthPercent = worstRollingSum(returns, worstMonthWindow) * 100
	result.ProbabilityOfRuin = probabilityOfRuin(returns)

	return result
}

// worstRollingSum 窗口内收益率之和的最小值。样本不足一个窗口时退化为全序列之和
func worstRollingSum(returns []float64, window int) float64 {
	if len(returns) == 0 {
		return 0
	}
	if len(returns) <= window {
		var sum float64
		for _, r := range returns {
			sum += r
		}
		return math.Min(0, sum)
	}

	var sum float64
	for i := 0; i < window; i++ {
		sum += returns[i]
	}
	worst := sum
	for i := window; i < len(returns); i++ {
		sum += returns[i] - returns[i-window]
		if sum < worst {
			worst = sum
		}
	}
	return math.Min(0, worst)
}

// probabilityOfRuin 带漂移布朗运动的越界概率近似：
// 正漂移时 exp(-2·μ·L/σ²)，非正漂移时保守返回 1
func probabilityOfRuin(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := stat.Mean(returns, nil)
	variance := stat.Variance(returns, nil)
	if variance <= 0 || math.IsNaN(variance) {
		return 0
	}
	if mean <= 0 {
		return 1
	}
	p := math.Exp(-2 * mean * ruinBarrier / variance)
	return math.Max(0, math.Min(1, p))
}

// maxDrawdownFromReturns 按序复利累积收益率序列并计算最大回撤（%）
func maxDrawdownFromReturns(returns []float64) float64 {
	equity := 1.0
	peak := 1.0
	var maxDD float64
	for _, r := range returns {
		equity *= 1 + r
		if equity <= 0 {
			return 100
		}
		if equity > peak {
			peak = equity
		}
		dd := (peak - equity) / peak * 100
		if dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// symbolDailyVolatility 标的日波动率（收益率样本标准差）
func symbolDailyVolatility(hist *ReturnHistory, symbol string) float64 {
	if hist == nil {
		return 0
	}
	returns := hist.Returns(symbol)
	if len(returns) < 2 {
		return 0
	}
	sigma := stat.StdDev(returns, nil)
	if math.IsNaN(sigma) {
		return 0
	}
	return sigma
}
