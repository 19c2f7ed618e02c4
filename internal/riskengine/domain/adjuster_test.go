package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaenozu/Ult-sub007/pkg/config"
)

func testAdjusterConfig() config.AdjusterConfig {
	return config.AdjusterConfig{
		HighVolatilityThreshold: 0.30,
		LowVolatilityThreshold:  0.10,
		BullPnLPercent:          2,
		BearPnLPercent:          -2,
		BullMultiplier:          1.2,
		BearMultiplier:          0.6,
		SidewaysMultiplier:      1.0,
		VolatileMultiplier:      0.7,
		StableMultiplier:        1.1,
		PerLossReduction:        0.1,
		MaxLossReduction:        0.5,
		ProfitStepPercent:       10,
		ProfitIncreaseRate:      0.1,
		MaxProfitIncrease:       0.5,
		MinRiskPercent:          0.5,
		MaxRiskPercent:          5,
	}
}

// 波动率优先于盈亏方向判定市场状态
func TestUpdateMarketCondition(t *testing.T) {
	tests := []struct {
		name      string
		vol       float64
		pnl       float64
		condition MarketCondition
	}{
		{"high volatility wins over bull pnl", 0.50, 5, MarketConditionVolatile},
		{"low volatility", 0.05, 0, MarketConditionStable},
		{"bull", 0.20, 3, MarketConditionBull},
		{"bear", 0.20, -3, MarketConditionBear},
		{"sideways", 0.20, 0.5, MarketConditionSideways},
		{"zero volatility falls through to pnl", 0, 3, MarketConditionBull},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewDynamicRiskAdjuster(testAdjusterConfig())
			assert.Equal(t, tt.condition, a.UpdateMarketCondition(tt.vol, tt.pnl))
			assert.Equal(t, tt.condition, a.Condition())
		})
	}
}

func TestRecordTradeResultStreaks(t *testing.T) {
	a := NewDynamicRiskAdjuster(testAdjusterConfig())

	a.RecordTradeResult(-1)
	a.RecordTradeResult(-2)
	a.RecordTradeResult(-0.5)
	assert.Equal(t, 3, a.ConsecutiveLosses())

	a.RecordTradeResult(1.5)
	assert.Zero(t, a.ConsecutiveLosses(), "a win resets the losing streak")

	// 盈亏为零不影响连胜/连亏
	a.RecordTradeResult(-1)
	a.RecordTradeResult(0)
	assert.Equal(t, 1, a.ConsecutiveLosses())
}

// 连亏调整：每笔减 10%，上限 50%
func TestLossStreakAdjustment(t *testing.T) {
	a := NewDynamicRiskAdjuster(testAdjusterConfig())
	a.UpdateMarketCondition(0.20, 0) // sideways, 乘数 1

	for i := 0; i < 3; i++ {
		a.RecordTradeResult(-1)
	}
	adj := a.Adjust(2, 0)
	assert.InDelta(t, 2*0.7, adj.AdjustedRiskPercent, 1e-9)

	for i := 0; i < 10; i++ {
		a.RecordTradeResult(-1)
	}
	adj = a.Adjust(2, 0)
	assert.InDelta(t, 2*0.5, adj.AdjustedRiskPercent, 1e-9, "reduction saturates at the configured cap")
}

// 盈利调整：每累计 10% 盈利加 10%，上限 50%
func TestProfitAdjustment(t *testing.T) {
	a := NewDynamicRiskAdjuster(testAdjusterConfig())
	a.RecordTradeResult(25)

	adj := a.Adjust(2, 0)
	assert.InDelta(t, 2*1.2, adj.AdjustedRiskPercent, 1e-9, "25%% cumulative profit = 2 full steps")

	a.RecordTradeResult(100)
	adj = a.Adjust(2, 0)
	assert.InDelta(t, 2*1.5, adj.AdjustedRiskPercent, 1e-9, "increase saturates at the configured cap")
}

func TestConditionMultipliers(t *testing.T) {
	tests := []struct {
		vol        float64
		pnl        float64
		multiplier float64
	}{
		{0.20, 3, 1.2},  // bull
		{0.20, -3, 0.6}, // bear
		{0.50, 0, 0.7},  // volatile
		{0.05, 0, 1.1},  // stable
		{0.20, 0, 1.0},  // sideways
	}

	for _, tt := range tests {
		a := NewDynamicRiskAdjuster(testAdjusterConfig())
		a.UpdateMarketCondition(tt.vol, tt.pnl)
		adj := a.Adjust(2, 0)
		assert.InDelta(t, 2*tt.multiplier, adj.AdjustedRiskPercent, 1e-9, "condition %s", a.Condition())
	}
}

// 调整结果始终落在配置边界内
func TestAdjustClampedToBounds(t *testing.T) {
	cfg := testAdjusterConfig()
	a := NewDynamicRiskAdjuster(cfg)

	// 全部利好因子叠加在高基数上
	a.UpdateMarketCondition(0.20, 3)
	a.RecordTradeResult(100)
	adj := a.Adjust(10, 0.08)
	assert.LessOrEqual(t, adj.AdjustedRiskPercent, cfg.MaxRiskPercent)

	// 全部利空因子叠加在低基数上
	b := NewDynamicRiskAdjuster(cfg)
	b.UpdateMarketCondition(0.60, 0)
	for i := 0; i < 10; i++ {
		b.RecordTradeResult(-1)
	}
	adj = b.Adjust(0.6, 0.60)
	assert.GreaterOrEqual(t, adj.AdjustedRiskPercent, cfg.MinRiskPercent)
}

// 每个生效因子都要有可读的理由
func TestAdjustReasonsArePopulated(t *testing.T) {
	a := NewDynamicRiskAdjuster(testAdjusterConfig())
	a.UpdateMarketCondition(0.20, 3)
	a.RecordTradeResult(-1)

	adj := a.Adjust(2, 0.25)
	require.NotEmpty(t, adj.Reasons)
	assert.Equal(t, MarketConditionBull, adj.Condition)
	assert.Equal(t, 1, adj.ConsecutiveLosses)
	assert.Positive(t, adj.Multiplier)
}
