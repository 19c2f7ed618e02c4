package domain

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaenozu/Ult-sub007/pkg/config"
)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		SafeThreshold:           20,
		CautionThreshold:        40,
		WarningThreshold:        60,
		DangerThreshold:         80,
		MaxTotalRiskPercent:     80,
		MaxDrawdownPercent:      15,
		MaxDailyLossPercent:     5,
		MaxConcentration:        0.5,
		MaxCorrelation:          0.7,
		VolatilityReference:     0.40,
		HistoricalVaRMinSamples: 30,
		ReturnWindow:            252,
		AlertLogCapacity:        1000,
	}
}

// syntheticReturns 确定性伪随机收益率序列
func syntheticReturns(n int) []float64 {
	returns := make([]float64, n)
	for i := 0; i < n; i++ {
		returns[i] = 0.015*math.Sin(float64(i)*1.7) - 0.002
	}
	return returns
}

func portfolioFromReturns(returns []float64, startValue float64) *Portfolio {
	equity := startValue
	history := []EquityPoint{{Timestamp: time.Now().AddDate(0, 0, -len(returns) - 1), Value: decimal.NewFromFloat(equity)}}
	for i, r := range returns {
		equity *= 1 + r
		history = append(history, EquityPoint{
			Timestamp: time.Now().AddDate(0, 0, -len(returns)+i),
			Value:     decimal.NewFromFloat(equity),
		})
	}
	return &Portfolio{
		ID:            "p1",
		Cash:          decimal.NewFromFloat(equity * 0.3),
		TotalValue:    decimal.NewFromFloat(equity),
		EquityHistory: history,
		Positions: []Position{
			{Symbol: "AAPL", Sector: "tech", Side: PositionSideLong, Quantity: decimal.NewFromInt(100), EntryPrice: decimal.NewFromInt(150), CurrentPrice: decimal.NewFromInt(160)},
			{Symbol: "MSFT", Sector: "tech", Side: PositionSideLong, Quantity: decimal.NewFromInt(50), EntryPrice: decimal.NewFromInt(300), CurrentPrice: decimal.NewFromInt(310)},
		},
	}
}

// 历史法与参数法下 VaR95 <= VaR99 且 CVaR >= VaR 恒成立
func TestValueAtRiskInvariants(t *testing.T) {
	totalValue := 100000.0

	tests := []struct {
		name    string
		samples int
	}{
		{"historical method", 120},
		{"parametric fallback", 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := NewRiskMetricsEngine(testRiskConfig())
			returns := syntheticReturns(tt.samples)

			var95, cvar95 := engine.valueAtRisk(returns, totalValue, 0.95)
			var99, cvar99 := engine.valueAtRisk(returns, totalValue, 0.99)

			assert.GreaterOrEqual(t, var95, 0.0)
			assert.LessOrEqual(t, var95, var99, "VaR95 must not exceed VaR99")
			assert.GreaterOrEqual(t, cvar95, var95, "CVaR95 must be at least VaR95")
			assert.GreaterOrEqual(t, cvar99, var99, "CVaR99 must be at least VaR99")
		})
	}
}

func TestValueAtRiskEmptyReturns(t *testing.T) {
	engine := NewRiskMetricsEngine(testRiskConfig())
	varValue, cvarValue := engine.valueAtRisk(nil, 100000, 0.95)
	assert.Zero(t, varValue)
	assert.Zero(t, cvarValue)
}

// 快照层面同样满足尾部指标不变式
func TestEvaluateSnapshotInvariants(t *testing.T) {
	engine := NewRiskMetricsEngine(testRiskConfig())
	p := portfolioFromReturns(syntheticReturns(100), 100000)

	snap := engine.Evaluate(p, nil)
	require.NotNil(t, snap)

	assert.True(t, snap.VaR95.LessThanOrEqual(snap.VaR99))
	assert.True(t, snap.CVaR95.GreaterThanOrEqual(snap.VaR95))
	assert.GreaterOrEqual(t, snap.TotalRiskPercent, 0.0)
	assert.LessOrEqual(t, snap.TotalRiskPercent, 100.0)
	assert.LessOrEqual(t, snap.CurrentDrawdown, snap.MaxDrawdown)
}

// 任意权益序列下 currentDrawdown <= maxDrawdown
func TestDrawdownInvariant(t *testing.T) {
	sequences := [][]float64{
		{100, 110, 105, 120, 90, 95},
		{100, 90, 80, 70, 60},
		{100, 100, 100},
		{50, 100, 150, 200},
		{100},
	}

	for _, seq := range sequences {
		history := make([]EquityPoint, 0, len(seq))
		for i, v := range seq {
			history = append(history, EquityPoint{Timestamp: time.Now().AddDate(0, 0, i), Value: decimal.NewFromFloat(v)})
		}
		current, maxDD := drawdowns(history)
		assert.LessOrEqual(t, current, maxDD)
		assert.GreaterOrEqual(t, current, 0.0)
	}
}

func TestDrawdownRecoversAfterNewPeak(t *testing.T) {
	history := []EquityPoint{
		{Value: decimal.NewFromInt(100)},
		{Value: decimal.NewFromInt(80)},
		{Value: decimal.NewFromInt(120)},
	}
	current, maxDD := drawdowns(history)
	assert.Zero(t, current, "new peak means zero current drawdown")
	assert.InDelta(t, 20.0, maxDD, 1e-9)
}

// 集中度落在 [0,1]，单一持仓恰好为 1
func TestConcentrationRisk(t *testing.T) {
	single := []Position{
		{Symbol: "AAPL", Quantity: decimal.NewFromInt(100), CurrentPrice: decimal.NewFromInt(150)},
	}
	assert.Equal(t, 1.0, concentrationRisk(single))

	equal := []Position{
		{Symbol: "A", Quantity: decimal.NewFromInt(10), CurrentPrice: decimal.NewFromInt(100)},
		{Symbol: "B", Quantity: decimal.NewFromInt(10), CurrentPrice: decimal.NewFromInt(100)},
		{Symbol: "C", Quantity: decimal.NewFromInt(10), CurrentPrice: decimal.NewFromInt(100)},
		{Symbol: "D", Quantity: decimal.NewFromInt(10), CurrentPrice: decimal.NewFromInt(100)},
	}
	assert.InDelta(t, 0.0, concentrationRisk(equal), 1e-9, "equal weights are minimally concentrated")

	skewed := []Position{
		{Symbol: "A", Quantity: decimal.NewFromInt(90), CurrentPrice: decimal.NewFromInt(100)},
		{Symbol: "B", Quantity: decimal.NewFromInt(10), CurrentPrice: decimal.NewFromInt(100)},
	}
	c := concentrationRisk(skewed)
	assert.Greater(t, c, 0.5)
	assert.LessOrEqual(t, c, 1.0)

	assert.Zero(t, concentrationRisk(nil))
}

// 持仓少于 2 个或样本不足时相关性为 0
func TestCorrelationRiskDegenerateInputs(t *testing.T) {
	hist := NewReturnHistory(252)
	positions := []Position{{Symbol: "AAPL"}}
	assert.Zero(t, correlationRisk(positions, hist))
	assert.Zero(t, correlationRisk(nil, hist))
	assert.Zero(t, correlationRisk([]Position{{Symbol: "A"}, {Symbol: "B"}}, nil))
}

func TestCorrelationRiskIdenticalSeries(t *testing.T) {
	hist := NewReturnHistory(252)
	price := 100.0
	for i := 0; i < 40; i++ {
		price *= 1 + 0.01*math.Sin(float64(i))
		hist.AddPrice("A", price)
		hist.AddPrice("B", price)
	}

	positions := []Position{{Symbol: "A"}, {Symbol: "B"}}
	corr := correlationRisk(positions, hist)
	assert.InDelta(t, 1.0, corr, 1e-9, "identical return series are perfectly correlated")
}

func TestClassifyThresholds(t *testing.T) {
	engine := NewRiskMetricsEngine(testRiskConfig())

	tests := []struct {
		score float64
		level RiskLevel
	}{
		{0, RiskLevelSafe},
		{19.9, RiskLevelSafe},
		{20, RiskLevelCaution},
		{45, RiskLevelWarning},
		{70, RiskLevelDanger},
		{85, RiskLevelCritical},
		{100, RiskLevelCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.level, engine.classify(tt.score), "score %.1f", tt.score)
	}
}

// 告警严重级别在阈值的 80%/100%/120% 处逐级升高
func TestGenerateAlertsSeverityLadder(t *testing.T) {
	cfg := testRiskConfig()
	engine := NewRiskMetricsEngine(cfg)
	p := &Portfolio{ID: "p1", TotalValue: decimal.NewFromInt(100000)}

	tests := []struct {
		drawdown float64
		severity AlertSeverity
		expected bool
	}{
		{cfg.MaxDrawdownPercent * 0.5, "", false},
		{cfg.MaxDrawdownPercent * 0.85, SeverityMedium, true},
		{cfg.MaxDrawdownPercent * 1.05, SeverityHigh, true},
		{cfg.MaxDrawdownPercent * 1.3, SeverityCritical, true},
	}

	for _, tt := range tests {
		snap := &RiskMetricsSnapshot{PortfolioID: "p1", CurrentDrawdown: tt.drawdown, GeneratedAt: time.Now()}
		alerts := engine.generateAlerts(p, snap)

		var found *RiskAlert
		for i := range alerts {
			if alerts[i].Type == AlertTypeDrawdown {
				found = &alerts[i]
			}
		}
		if !tt.expected {
			assert.Nil(t, found, "drawdown %.1f should not alert", tt.drawdown)
			continue
		}
		require.NotNil(t, found, "drawdown %.1f should alert", tt.drawdown)
		assert.Equal(t, tt.severity, found.Severity)
	}
}

func TestAlertLogBoundedEviction(t *testing.T) {
	log := NewAlertLog(3)
	for i := 0; i < 5; i++ {
		log.Append(RiskAlert{ID: string(rune('a' + i))})
	}

	entries := log.List(0)
	require.Len(t, entries, 3)
	assert.Equal(t, "c", entries[0].ID, "oldest entries are evicted first")
	assert.Equal(t, "e", entries[2].ID)

	limited := log.List(2)
	require.Len(t, limited, 2)
	assert.Equal(t, "d", limited[0].ID)
}

func TestReturnHistoryFirstSampleOnlySetsBaseline(t *testing.T) {
	hist := NewReturnHistory(10)
	hist.AddPrice("AAPL", 100)
	assert.Zero(t, hist.SampleCount("AAPL"), "first price must not produce a return")

	hist.AddPrice("AAPL", 110)
	require.Equal(t, 1, hist.SampleCount("AAPL"))
	assert.InDelta(t, 0.10, hist.Returns("AAPL")[0], 1e-9)
}

func TestReturnHistoryRollingWindow(t *testing.T) {
	hist := NewReturnHistory(5)
	price := 100.0
	for i := 0; i < 20; i++ {
		price *= 1.01
		hist.AddPrice("AAPL", price)
	}
	assert.Equal(t, 5, hist.SampleCount("AAPL"))
}

// 快照是深拷贝，原缓冲区的后续写入不会透传
func TestReturnHistorySnapshotIndependent(t *testing.T) {
	hist := NewReturnHistory(10)
	hist.AddPrice("AAPL", 100)
	hist.AddPrice("AAPL", 110)

	snap := hist.Snapshot()
	hist.AddPrice("AAPL", 99)
	hist.AddPrice("MSFT", 200)
	hist.AddPrice("MSFT", 210)

	assert.Equal(t, 1, snap.SampleCount("AAPL"))
	assert.Zero(t, snap.SampleCount("MSFT"))
	assert.InDelta(t, 0.10, snap.Returns("AAPL")[0], 1e-9)
	assert.Equal(t, 2, hist.SampleCount("AAPL"))
}
