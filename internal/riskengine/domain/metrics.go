package domain

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/kaenozu/Ult-sub007/pkg/config"
)

// RiskLevel 组合风险等级
type RiskLevel string

const (
	RiskLevelSafe     RiskLevel = "SAFE"
	RiskLevelCaution  RiskLevel = "CAUTION"
	RiskLevelWarning  RiskLevel = "WARNING"
	RiskLevelDanger   RiskLevel = "DANGER"
	RiskLevelCritical RiskLevel = "CRITICAL"
)

// AlertSeverity 告警严重级别
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "LOW"
	SeverityMedium   AlertSeverity = "MEDIUM"
	SeverityHigh     AlertSeverity = "HIGH"
	SeverityCritical AlertSeverity = "CRITICAL"
)

// 告警类型
const (
	AlertTypeTotalRisk     = "TOTAL_RISK"
	AlertTypeDrawdown      = "DRAWDOWN"
	AlertTypeDailyLoss     = "DAILY_LOSS"
	AlertTypeConcentration = "CONCENTRATION"
	AlertTypeCorrelation   = "CORRELATION"
)

// RiskAlert 风险告警，生成后不可变
type RiskAlert struct {
	ID             string        `json:"id"`
	PortfolioID    string        `json:"portfolio_id"`
	Type           string        `json:"type"`
	Severity       AlertSeverity `json:"severity"`
	Message        string        `json:"message"`
	CurrentValue   float64       `json:"current_value"`
	ThresholdValue float64       `json:"threshold_value"`
	Timestamp      time.Time     `json:"timestamp"`
}

// RiskMetricsSnapshot 一次评估产生的全量风险指标，生成后不再修改
type RiskMetricsSnapshot struct {
	PortfolioID         string          `json:"portfolio_id"`
	TotalRiskPercent    float64         `json:"total_risk_percent"`    // 综合风险评分 0-100
	UsedCapitalPercent  float64         `json:"used_capital_percent"`  // 资金使用率 %
	VaR95               decimal.Decimal `json:"var_95"`                // 95% 置信度 VaR（货币单位）
	VaR99               decimal.Decimal `json:"var_99"`                // 99% 置信度 VaR
	CVaR95              decimal.Decimal `json:"cvar_95"`               // 95% 置信度预期亏损
	PortfolioVolatility float64         `json:"portfolio_volatility"`  // 年化波动率 %
	CurrentDrawdown     float64         `json:"current_drawdown"`      // 当前回撤 %
	MaxDrawdown         float64         `json:"max_drawdown"`          // 历史最大回撤 %
	ConcentrationRisk   float64         `json:"concentration_risk"`    // 集中度 0-1
	CorrelationRisk     float64         `json:"correlation_risk"`      // 平均相关性 0-1
	SharpeRatio         float64         `json:"sharpe_ratio"`          // 年化夏普比率（无风险利率取 0）
	RiskLevel           RiskLevel       `json:"risk_level"`
	Alerts              []RiskAlert     `json:"alerts"`
	GeneratedAt         time.Time       `json:"generated_at"`
}

// AlertLog 有界告警日志，容量满后淘汰最旧记录。
// 非并发安全，由调用方在组合级互斥下访问
type AlertLog struct {
	capacity int
	entries  []RiskAlert
}

// NewAlertLog 创建有界告警日志
func NewAlertLog(capacity int) *AlertLog {
	if capacity <= 0 {
		capacity = 1000
	}
	return &AlertLog{capacity: capacity}
}

// Append 追加告警，超出容量时淘汰最旧记录
func (l *AlertLog) Append(alerts ...RiskAlert) {
	l.entries = append(l.entries, alerts...)
	if len(l.entries) > l.capacity {
		l.entries = l.entries[len(l.entries)-l.capacity:]
	}
}

// List 按时间顺序返回最近 limit 条告警（limit <= 0 返回全部）
func (l *AlertLog) List(limit int) []RiskAlert {
	if limit <= 0 || limit >= len(l.entries) {
		out := make([]RiskAlert, len(l.entries))
		copy(out, l.entries)
		return out
	}
	out := make([]RiskAlert, limit)
	copy(out, l.entries[len(l.entries)-limit:])
	return out
}

// RiskMetricsEngine 风险指标引擎。纯计算：给定组合快照与收益率历史产出指标快照，
// 不持有任何可变状态
type RiskMetricsEngine struct {
	cfg config.RiskConfig
}

// NewRiskMetricsEngine 创建风险指标引擎
func NewRiskMetricsEngine(cfg config.RiskConfig) *RiskMetricsEngine {
	return &RiskMetricsEngine{cfg: cfg}
}

// Evaluate 对组合执行一次完整评估
func (e *RiskMetricsEngine) Evaluate(p *Portfolio, hist *ReturnHistory) *RiskMetricsSnapshot {
	snap := &RiskMetricsSnapshot{
		PortfolioID: p.ID,
		VaR95:       decimal.Zero,
		VaR99:       decimal.Zero,
		CVaR95:      decimal.Zero,
		GeneratedAt: time.Now(),
	}

	totalValue, _ := p.TotalValue.Float64()
	if totalValue > 0 {
		positionsValue, _ := p.PositionsValue().Float64()
		snap.UsedCapitalPercent = positionsValue / totalValue * 100
	}

	returns := p.DailyReturns()

	var95, cvar95 := e.valueAtRisk(returns, totalValue, 0.95)
	var99, _ := e.valueAtRisk(returns, totalValue, 0.99)
	// 同一评估内两档 VaR 使用同一方法，经验分位保证 VaR95 <= VaR99
	snap.VaR95 = decimal.NewFromFloat(var95)
	snap.VaR99 = decimal.NewFromFloat(math.Max(var99, var95))
	snap.CVaR95 = decimal.NewFromFloat(math.Max(cvar95, var95))

	snap.PortfolioVolatility = annualizedVolatility(returns) * 100
	snap.SharpeRatio = sharpeRatio(returns)
	snap.CurrentDrawdown, snap.MaxDrawdown = drawdowns(p.EquityHistory)
	snap.ConcentrationRisk = concentrationRisk(p.Positions)
	snap.CorrelationRisk = correlationRisk(p.Positions, hist)

	snap.TotalRiskPercent = e.compositeScore(snap)
	snap.RiskLevel = e.classify(snap.TotalRiskPercent)
	snap.Alerts = e.generateAlerts(p, snap)

	return snap
}

// valueAtRisk 计算 VaR 与 CVaR（货币单位，恒 >= 0）。
// 样本充足时使用历史法（经验分位 + 尾部均值），否则退化为参数法（正态近似），
// 两者均保证 CVaR >= VaR
func (e *RiskMetricsEngine) valueAtRisk(returns []float64, totalValue, confidence float64) (varValue, cvarValue float64) {
	if totalValue <= 0 || len(returns) == 0 {
		return 0, 0
	}

	if len(returns) >= e.cfg.HistoricalVaRMinSamples {
		return historicalVaR(returns, totalValue, confidence)
	}
	return parametricVaR(returns, totalValue, confidence)
}

// historicalVaR 历史模拟法：排序收益率取经验分位，CVaR 为分位以下尾部均值
func historicalVaR(returns []float64, totalValue, confidence float64) (float64, float64) {
	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	idx := int(math.Floor(float64(len(sorted)) * (1 - confidence)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}

	varValue := math.Max(0, -sorted[idx]) * totalValue

	var sumTail float64
	for i := 0; i <= idx; i++ {
		sumTail += sorted[i]
	}
	cvarValue := math.Max(0, -sumTail/float64(idx+1)) * totalValue

	return varValue, math.Max(cvarValue, varValue)
}

// parametricVaR 参数法：z·σ 近似，CVaR 使用正态尾部解析式 σ·φ(z)/(1-c)
func parametricVaR(returns []float64, totalValue, confidence float64) (float64, float64) {
	if len(returns) < 2 {
		return 0, 0
	}
	sigma := stat.StdDev(returns, nil)
	if sigma <= 0 || math.IsNaN(sigma) {
		return 0, 0
	}

	z := 1.645
	if confidence >= 0.99 {
		z = 2.326
	}

	varValue := z * sigma * totalValue
	phi := distuv.UnitNormal.Prob(z)
	cvarValue := sigma * phi / (1 - confidence) * totalValue

	return varValue, math.Max(cvarValue, varValue)
}

// annualizedVolatility 样本标准差 × √252。样本不足 2 个时返回 0
func annualizedVolatility(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	sigma := stat.StdDev(returns, nil)
	if math.IsNaN(sigma) {
		return 0
	}
	return sigma * math.Sqrt(252)
}

// sharpeRatio 年化夏普比率，无风险利率取 0
func sharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := stat.Mean(returns, nil)
	sigma := stat.StdDev(returns, nil)
	if sigma <= 0 || math.IsNaN(sigma) {
		return 0
	}
	return mean / sigma * math.Sqrt(252)
}

// drawdowns 基于权益曲线计算当前回撤与历史最大回撤（%）。
// 不变式：currentDrawdown <= maxDrawdown
func drawdowns(history []EquityPoint) (current, maxDD float64) {
	if len(history) == 0 {
		return 0, 0
	}

	peak := history[0].Value
	for i := range history {
		v := history[i].Value
		if v.GreaterThan(peak) {
			peak = v
		}
		if peak.IsZero() {
			continue
		}
		dd, _ := peak.Sub(v).Div(peak).Mul(decimal.NewFromInt(100)).Float64()
		if dd > maxDD {
			maxDD = dd
		}
		if i == len(history)-1 {
			current = dd
		}
	}
	return current, maxDD
}

// concentrationRisk HHI 集中度，归一化到 [0,1]：(HHI - 1/n)/(1 - 1/n)。
// 单一持仓直接返回 1，避免 0/0
func concentrationRisk(positions []Position) float64 {
	n := len(positions)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return 1
	}

	total := decimal.Zero
	for i := range positions {
		total = total.Add(positions[i].MarketValue())
	}
	if total.IsZero() {
		return 0
	}

	hhi := 0.0
	for i := range positions {
		w, _ := positions[i].MarketValue().Div(total).Float64()
		hhi += w * w
	}

	minHHI := 1.0 / float64(n)
	normalized := (hhi - minHHI) / (1 - minHHI)
	return math.Max(0, math.Min(1, normalized))
}

// correlationRisk 持仓收益率两两 Pearson 相关系数的绝对值均值。
// 持仓少于 2 个或样本不足时返回 0
func correlationRisk(positions []Position, hist *ReturnHistory) float64 {
	if hist == nil || len(positions) < 2 {
		return 0
	}

	series := make([][]float64, 0, len(positions))
	for i := range positions {
		r := hist.Returns(positions[i].Symbol)
		if len(r) >= 2 {
			series = append(series, r)
		}
	}
	if len(series) < 2 {
		return 0
	}

	var sum float64
	var pairs int
	for i := 0; i < len(series); i++ {
		for j := i + 1; j < len(series); j++ {
			// 对齐到较短序列的末段
			n := len(series[i])
			if len(series[j]) < n {
				n = len(series[j])
			}
			a := series[i][len(series[i])-n:]
			b := series[j][len(series[j])-n:]
			corr := stat.Correlation(a, b, nil)
			if math.IsNaN(corr) {
				continue
			}
			sum += math.Abs(corr)
			pairs++
		}
	}
	if pairs == 0 {
		return 0
	}
	return math.Min(1, sum/float64(pairs))
}

// compositeScore 加权综合评分：资金使用 30% + 波动率 25% + 集中度 20% + 相关性 15% + 回撤 10%，
// 各项归一化后求和并截断到 [0,100]
func (e *RiskMetricsEngine) compositeScore(snap *RiskMetricsSnapshot) float64 {
	capitalTerm := math.Min(snap.UsedCapitalPercent/100, 1)

	volRef := e.cfg.VolatilityReference
	if volRef <= 0 {
		volRef = 0.40
	}
	volTerm := math.Min(snap.PortfolioVolatility/100/volRef, 1)

	ddRef := e.cfg.MaxDrawdownPercent
	if ddRef <= 0 {
		ddRef = 15
	}
	ddTerm := math.Min(snap.CurrentDrawdown/ddRef, 1)

	score := capitalTerm*30 + volTerm*25 + snap.ConcentrationRisk*20 + snap.CorrelationRisk*15 + ddTerm*10
	return math.Max(0, math.Min(100, score))
}

// classify 按配置阈值将综合评分映射为风险等级
func (e *RiskMetricsEngine) classify(score float64) RiskLevel {
	switch {
	case score < e.cfg.SafeThreshold:
		return RiskLevelSafe
	case score < e.cfg.CautionThreshold:
		return RiskLevelCaution
	case score < e.cfg.WarningThreshold:
		return RiskLevelWarning
	case score < e.cfg.DangerThreshold:
		return RiskLevelDanger
	default:
		return RiskLevelCritical
	}
}

// generateAlerts 对每个接近或突破阈值的指标生成一条告警，
// 严重级别随突破幅度在阈值的 80%/100%/120% 处逐级升高
func (e *RiskMetricsEngine) generateAlerts(p *Portfolio, snap *RiskMetricsSnapshot) []RiskAlert {
	var alerts []RiskAlert

	check := func(alertType string, current, threshold float64, format string) {
		if threshold <= 0 {
			return
		}
		ratio := current / threshold
		if ratio < 0.8 {
			return
		}
		severity := SeverityMedium
		if ratio >= 1.2 {
			severity = SeverityCritical
		} else if ratio >= 1.0 {
			severity = SeverityHigh
		}
		alerts = append(alerts, RiskAlert{
			ID:             uuid.NewString(),
			PortfolioID:    p.ID,
			Type:           alertType,
			Severity:       severity,
			Message:        fmt.Sprintf(format, current, threshold),
			CurrentValue:   current,
			ThresholdValue: threshold,
			Timestamp:      snap.GeneratedAt,
		})
	}

	check(AlertTypeTotalRisk, snap.TotalRiskPercent, e.cfg.MaxTotalRiskPercent,
		"Total risk score %.1f approaching/exceeding limit %.1f")
	check(AlertTypeDrawdown, snap.CurrentDrawdown, e.cfg.MaxDrawdownPercent,
		"Current drawdown %.2f%% approaching/exceeding limit %.2f%%")

	dailyLoss := -p.DailyPnLPercent()
	if dailyLoss > 0 {
		check(AlertTypeDailyLoss, dailyLoss, e.cfg.MaxDailyLossPercent,
			"Daily loss %.2f%% approaching/exceeding limit %.2f%%")
	}

	check(AlertTypeConcentration, snap.ConcentrationRisk, e.cfg.MaxConcentration,
		"Concentration risk %.2f approaching/exceeding limit %.2f")
	check(AlertTypeCorrelation, snap.CorrelationRisk, e.cfg.MaxCorrelation,
		"Correlation risk %.2f approaching/exceeding limit %.2f")

	return alerts
}
