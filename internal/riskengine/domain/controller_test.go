package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaenozu/Ult-sub007/pkg/config"
)

func testControlConfig() config.ControlConfig {
	return config.ControlConfig{
		MaxDailyLossPercent:      5,
		MaxDrawdownPercent:       15,
		MaxConsecutiveLossDays:   5,
		EmergencyDrawdownPercent: 25,
		EmergencyRiskPercent:     90,
		EnableEmergencyHalt:      true,
		CrashDropPercent:         10,
		CrashWindow:              15 * time.Minute,
		ReductionWeightPercent:   25,
		ReductionLossPercent:     -10,
		ActionDedupWindow:        5 * time.Minute,
		ActionLogCapacity:        500,
	}
}

func snapshotAt(ts time.Time) *RiskMetricsSnapshot {
	return &RiskMetricsSnapshot{
		PortfolioID: "p1",
		VaR95:       decimal.Zero,
		VaR99:       decimal.Zero,
		CVaR95:      decimal.Zero,
		RiskLevel:   RiskLevelSafe,
		GeneratedAt: ts,
	}
}

func calmPortfolio() *Portfolio {
	return &Portfolio{
		ID:         "p1",
		TotalValue: decimal.NewFromInt(100000),
		DailyPnL:   decimal.Zero,
	}
}

func findAction(actions []*RiskControlAction, t ActionType) *RiskControlAction {
	for _, a := range actions {
		if a.Type == t {
			return a
		}
	}
	return nil
}

// 单日亏损越限 -> 冻结下单
func TestDailyLossBlocksOrders(t *testing.T) {
	c := NewAutomaticRiskController("p1", testControlConfig())
	p := calmPortfolio()
	p.DailyPnL = decimal.NewFromInt(-6000) // 前日权益 106000，亏 5.66%

	actions := c.EvaluateTick(snapshotAt(time.Now()), p)
	require.NotNil(t, findAction(actions, ActionBlockOrders))
	assert.True(t, c.OrdersBlocked())
	assert.False(t, c.TradingHalted(), "blocking orders must not halt trading")
}

// 已冻结后重复 tick 不再发出冻结动作
func TestBlockNotReEmittedWhileBlocked(t *testing.T) {
	c := NewAutomaticRiskController("p1", testControlConfig())
	p := calmPortfolio()
	p.DailyPnL = decimal.NewFromInt(-6000)

	now := time.Now()
	first := c.EvaluateTick(snapshotAt(now), p)
	require.NotNil(t, findAction(first, ActionBlockOrders))

	second := c.EvaluateTick(snapshotAt(now.Add(time.Minute)), p)
	assert.Nil(t, findAction(second, ActionBlockOrders))
	assert.True(t, c.OrdersBlocked())
}

// 恢复必须由操作员显式触发，且为幂等操作
func TestManualUnblockOnly(t *testing.T) {
	c := NewAutomaticRiskController("p1", testControlConfig())
	p := calmPortfolio()
	p.DailyPnL = decimal.NewFromInt(-6000)
	c.EvaluateTick(snapshotAt(time.Now()), p)
	require.True(t, c.OrdersBlocked())

	// 后续平静 tick 不会自动解除
	c.EvaluateTick(snapshotAt(time.Now()), calmPortfolio())
	assert.True(t, c.OrdersBlocked())

	action := c.UnblockOrders("reviewed by desk", time.Now())
	require.NotNil(t, action)
	assert.False(t, c.OrdersBlocked())

	assert.Nil(t, c.UnblockOrders("again", time.Now()), "unblocking twice is a no-op")
}

// 紧急停止一旦触发即保持，重复 tick 不再发出第二个停止动作
func TestHaltLatchedUntilResume(t *testing.T) {
	c := NewAutomaticRiskController("p1", testControlConfig())
	p := calmPortfolio()

	now := time.Now()
	snap := snapshotAt(now)
	snap.CurrentDrawdown = 30
	snap.MaxDrawdown = 30

	first := c.EvaluateTick(snap, p)
	require.NotNil(t, findAction(first, ActionEmergencyHalt))
	require.True(t, c.TradingHalted())

	for i := 1; i <= 3; i++ {
		later := snapshotAt(now.Add(time.Duration(i) * 10 * time.Minute))
		later.CurrentDrawdown = 30
		later.MaxDrawdown = 30
		actions := c.EvaluateTick(later, p)
		assert.Nil(t, findAction(actions, ActionEmergencyHalt), "tick %d must not re-halt", i)
		assert.True(t, c.TradingHalted())
	}

	require.NotNil(t, c.ResumeTrading("drawdown recovered", now.Add(time.Hour)))
	assert.False(t, c.TradingHalted())
	assert.Nil(t, c.ResumeTrading("again", now.Add(time.Hour)))
}

// 紧急停止默认关闭，需配置显式开启
func TestEmergencyHaltDisabledByConfig(t *testing.T) {
	cfg := testControlConfig()
	cfg.EnableEmergencyHalt = false
	c := NewAutomaticRiskController("p1", cfg)

	snap := snapshotAt(time.Now())
	snap.CurrentDrawdown = 30
	actions := c.EvaluateTick(snap, calmPortfolio())
	assert.Nil(t, findAction(actions, ActionEmergencyHalt))
	assert.False(t, c.TradingHalted())
}

// 首个价格观测只建立基准，绝不判定崩盘
func TestCrashDetectorFirstObservation(t *testing.T) {
	c := NewAutomaticRiskController("p1", testControlConfig())
	assert.False(t, c.ObservePrice("AAPL", 50, time.Now()), "first sample has no baseline")
}

func TestCrashDetectorWindowAndThreshold(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		drop    float64
		elapsed time.Duration
		crash   bool
	}{
		{"sharp drop inside window", 12, 5 * time.Minute, true},
		{"threshold exactly met", 10, 5 * time.Minute, true},
		{"drop below threshold", 8, 5 * time.Minute, false},
		{"sharp drop outside window", 12, 20 * time.Minute, false},
		{"price rise", -5, 5 * time.Minute, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewAutomaticRiskController("p1", testControlConfig())
			require.False(t, c.ObservePrice("AAPL", 100, now))
			next := 100 * (1 - tt.drop/100)
			assert.Equal(t, tt.crash, c.ObservePrice("AAPL", next, now.Add(tt.elapsed)))
		})
	}
}

// 崩盘检测触发紧急停止
func TestCrashTriggersEmergencyHalt(t *testing.T) {
	c := NewAutomaticRiskController("p1", testControlConfig())
	now := time.Now()
	c.ObservePrice("AAPL", 100, now)
	require.True(t, c.ObservePrice("AAPL", 85, now.Add(5*time.Minute)))

	actions := c.EvaluateTick(snapshotAt(now.Add(6*time.Minute)), calmPortfolio())
	halt := findAction(actions, ActionEmergencyHalt)
	require.NotNil(t, halt)
	assert.Contains(t, halt.Symbols, "AAPL")
	assert.True(t, c.TradingHalted())
}

// 连续亏损天数越限 -> 冻结下单
func TestConsecutiveLossDaysBlockOrders(t *testing.T) {
	c := NewAutomaticRiskController("p1", testControlConfig())

	for i := 0; i < 4; i++ {
		c.RecordDailyClose(-1)
	}
	actions := c.EvaluateTick(snapshotAt(time.Now()), calmPortfolio())
	assert.Nil(t, findAction(actions, ActionBlockOrders), "4 losing days is under the limit")

	c.RecordDailyClose(-0.5)
	actions = c.EvaluateTick(snapshotAt(time.Now()), calmPortfolio())
	require.NotNil(t, findAction(actions, ActionBlockOrders))

	// 盈利日重置计数
	c2 := NewAutomaticRiskController("p2", testControlConfig())
	for i := 0; i < 4; i++ {
		c2.RecordDailyClose(-1)
	}
	c2.RecordDailyClose(2)
	c2.RecordDailyClose(-1)
	actions = c2.EvaluateTick(snapshotAt(time.Now()), calmPortfolio())
	assert.Nil(t, findAction(actions, ActionBlockOrders))
}

// 总值 100000、单仓位 25000（25%）触发减仓提案，建议至少砍半
func TestReductionProposalForOverweightPosition(t *testing.T) {
	c := NewAutomaticRiskController("p1", testControlConfig())
	p := &Portfolio{
		ID:         "p1",
		TotalValue: decimal.NewFromInt(100000),
		Positions: []Position{
			{Symbol: "AAPL", Side: PositionSideLong, Quantity: decimal.NewFromInt(100), EntryPrice: decimal.NewFromInt(250), CurrentPrice: decimal.NewFromInt(250)},
			{Symbol: "MSFT", Side: PositionSideLong, Quantity: decimal.NewFromInt(10), EntryPrice: decimal.NewFromInt(300), CurrentPrice: decimal.NewFromInt(300)},
		},
	}

	snap := snapshotAt(time.Now())
	snap.RiskLevel = RiskLevelDanger

	actions := c.EvaluateTick(snap, p)
	reduce := findAction(actions, ActionReducePosition)
	require.NotNil(t, reduce)
	assert.Contains(t, reduce.Symbols, "AAPL")
	assert.NotContains(t, reduce.Symbols, "MSFT")

	var found bool
	for _, rec := range reduce.Recommendations {
		if strings.Contains(rec, "AAPL") && strings.Contains(rec, "at least 50%") {
			found = true
		}
	}
	assert.True(t, found, "proposal must recommend cutting AAPL by at least half")
}

// 去重窗口内相同动作只发出一次，窗口过后可再次发出
func TestActionDedupWindow(t *testing.T) {
	cfg := testControlConfig()
	c := NewAutomaticRiskController("p1", cfg)
	now := time.Now()

	snap := snapshotAt(now)
	snap.CurrentDrawdown = 13 // 15 的 80% 以上，仅警告
	first := c.EvaluateTick(snap, calmPortfolio())
	require.NotNil(t, findAction(first, ActionWarning))

	within := snapshotAt(now.Add(time.Minute))
	within.CurrentDrawdown = 13
	assert.Nil(t, findAction(c.EvaluateTick(within, calmPortfolio()), ActionWarning))

	after := snapshotAt(now.Add(cfg.ActionDedupWindow + time.Minute))
	after.CurrentDrawdown = 13
	assert.NotNil(t, findAction(c.EvaluateTick(after, calmPortfolio()), ActionWarning))
}

// 原因文本里的实时数值逐 tick 抖动，不得绕过去重
func TestActionDedupWithFluctuatingDrawdown(t *testing.T) {
	cfg := testControlConfig()
	c := NewAutomaticRiskController("p1", cfg)
	now := time.Now()

	snap := snapshotAt(now)
	snap.CurrentDrawdown = 13.01
	require.NotNil(t, findAction(c.EvaluateTick(snap, calmPortfolio()), ActionWarning))

	within := snapshotAt(now.Add(time.Minute))
	within.CurrentDrawdown = 13.47
	assert.Nil(t, findAction(c.EvaluateTick(within, calmPortfolio()), ActionWarning),
		"same condition with a changed reading must not re-fire inside the window")
}

func TestActionLogBounded(t *testing.T) {
	cfg := testControlConfig()
	cfg.ActionLogCapacity = 3
	cfg.ActionDedupWindow = 0
	c := NewAutomaticRiskController("p1", cfg)

	now := time.Now()
	for i := 0; i < 6; i++ {
		snap := snapshotAt(now.Add(time.Duration(i) * time.Hour))
		snap.CurrentDrawdown = 13
		c.EvaluateTick(snap, calmPortfolio())
	}

	assert.Len(t, c.Actions(0), 3)
	assert.Len(t, c.Actions(2), 2)
}
