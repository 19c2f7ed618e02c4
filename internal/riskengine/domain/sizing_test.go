package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaenozu/Ult-sub007/pkg/config"
)

func testSizingConfig() config.SizingConfig {
	return config.SizingConfig{
		KellyFraction:      0.5,
		MaxPositionPercent: 20,
		MaxSectorPercent:   30,
		DefaultRiskPercent: 2,
		TargetVolatility:   0.15,
		MinVolatilityScale: 0.5,
		MaxVolatilityScale: 2.0,
	}
}

func sizingPortfolio(totalValue float64) *Portfolio {
	return &Portfolio{
		ID:         "p1",
		Cash:       decimal.NewFromFloat(totalValue),
		TotalValue: decimal.NewFromFloat(totalValue),
	}
}

// 半凯利：p=0.6 b=2 -> f*=0.4 -> 0.2，资金 100000 按入场价 50 得 400 股
func TestKellySizeWorkedExample(t *testing.T) {
	engine := NewPositionSizingEngine(testSizingConfig())
	resp := engine.Size(&PositionSizingRequest{
		Symbol:     "AAPL",
		Method:     SizingMethodKelly,
		EntryPrice: decimal.NewFromInt(50),
		WinRate:    0.6,
		AvgWin:     200,
		AvgLoss:    100,
	}, sizingPortfolio(100000))

	require.Empty(t, resp.Warnings)
	assert.True(t, resp.RiskAmount.Equal(decimal.NewFromInt(20000)), "got %s", resp.RiskAmount)
	assert.True(t, resp.RecommendedShares.Equal(decimal.NewFromInt(400)), "got %s", resp.RecommendedShares)
}

// p·b - q <= 0 时必须返回零仓位
func TestKellySizeNoEdge(t *testing.T) {
	engine := NewPositionSizingEngine(testSizingConfig())
	resp := engine.Size(&PositionSizingRequest{
		Symbol:     "AAPL",
		Method:     SizingMethodKelly,
		EntryPrice: decimal.NewFromInt(50),
		WinRate:    0.4,
		AvgWin:     100,
		AvgLoss:    100,
	}, sizingPortfolio(100000))

	assert.True(t, resp.RecommendedShares.IsZero())
	assert.NotEmpty(t, resp.Warnings)
}

// 非法参数一律降级为零仓位并附带警告，绝不报错
func TestKellySizeInvalidParameters(t *testing.T) {
	engine := NewPositionSizingEngine(testSizingConfig())

	tests := []struct {
		name string
		req  *PositionSizingRequest
		p    *Portfolio
	}{
		{"win rate above 1", &PositionSizingRequest{EntryPrice: decimal.NewFromInt(50), WinRate: 1.5, AvgWin: 100, AvgLoss: 100}, sizingPortfolio(100000)},
		{"win rate below 0", &PositionSizingRequest{EntryPrice: decimal.NewFromInt(50), WinRate: -0.1, AvgWin: 100, AvgLoss: 100}, sizingPortfolio(100000)},
		{"zero avg win", &PositionSizingRequest{EntryPrice: decimal.NewFromInt(50), WinRate: 0.6, AvgWin: 0, AvgLoss: 100}, sizingPortfolio(100000)},
		{"negative avg loss", &PositionSizingRequest{EntryPrice: decimal.NewFromInt(50), WinRate: 0.6, AvgWin: 100, AvgLoss: -5}, sizingPortfolio(100000)},
		{"zero entry price", &PositionSizingRequest{EntryPrice: decimal.Zero, WinRate: 0.6, AvgWin: 100, AvgLoss: 50}, sizingPortfolio(100000)},
		{"zero portfolio value", &PositionSizingRequest{EntryPrice: decimal.NewFromInt(50), WinRate: 0.6, AvgWin: 100, AvgLoss: 50}, sizingPortfolio(0)},
		{"nil portfolio", &PositionSizingRequest{EntryPrice: decimal.NewFromInt(50), WinRate: 0.6, AvgWin: 100, AvgLoss: 50}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := engine.Size(tt.req, tt.p)
			assert.True(t, resp.RecommendedShares.IsZero())
			assert.NotEmpty(t, resp.Warnings)
		})
	}
}

// 强优势下凯利分配也被封顶在资金占比上限
func TestKellySizeCappedAtMaxPosition(t *testing.T) {
	cfg := testSizingConfig()
	engine := NewPositionSizingEngine(cfg)
	p := sizingPortfolio(100000)

	resp := engine.Size(&PositionSizingRequest{
		Symbol:     "AAPL",
		Method:     SizingMethodKelly,
		EntryPrice: decimal.NewFromInt(10),
		WinRate:    0.9,
		AvgWin:     500,
		AvgLoss:    100,
	}, p)

	maxValue := p.TotalValue.Mul(decimal.NewFromFloat(cfg.MaxPositionPercent / 100))
	positionValue := resp.RecommendedShares.Mul(decimal.NewFromInt(10))
	assert.True(t, positionValue.LessThanOrEqual(maxValue),
		"position %s exceeds cap %s", positionValue, maxValue)
}

func TestVolatilitySizeWithExplicitStop(t *testing.T) {
	engine := NewPositionSizingEngine(testSizingConfig())
	resp := engine.Size(&PositionSizingRequest{
		Symbol:          "AAPL",
		Method:          SizingMethodVolatility,
		EntryPrice:      decimal.NewFromInt(100),
		StopLoss:        decimal.NewFromInt(90),
		AssetVolatility: 0.15,
		RiskPercent:     2,
	}, sizingPortfolio(100000))

	// 2% 风险 = 2000，目标波动率等于实际波动率缩放为 1，止损距离 10 -> 200 股
	require.Empty(t, resp.Warnings)
	assert.True(t, resp.RecommendedShares.Equal(decimal.NewFromInt(200)), "got %s", resp.RecommendedShares)
}

func TestVolatilitySizeZeroStopDistance(t *testing.T) {
	engine := NewPositionSizingEngine(testSizingConfig())
	resp := engine.Size(&PositionSizingRequest{
		Symbol:     "AAPL",
		Method:     SizingMethodVolatility,
		EntryPrice: decimal.NewFromInt(100),
		StopLoss:   decimal.NewFromInt(100),
	}, sizingPortfolio(100000))

	assert.True(t, resp.RecommendedShares.IsZero())
	assert.NotEmpty(t, resp.Warnings)
}

func TestRiskParitySize(t *testing.T) {
	engine := NewPositionSizingEngine(testSizingConfig())
	resp := engine.Size(&PositionSizingRequest{
		Symbol:          "AAPL",
		Method:          SizingMethodRiskParity,
		EntryPrice:      decimal.NewFromInt(100),
		AssetVolatility: 0.20,
		RiskPercent:     2,
	}, sizingPortfolio(100000))

	// 2000 / (100 × 0.20) = 100 股
	require.Empty(t, resp.Warnings)
	assert.True(t, resp.RecommendedShares.Equal(decimal.NewFromInt(100)), "got %s", resp.RecommendedShares)
}

func TestRiskParitySizeZeroVolatility(t *testing.T) {
	engine := NewPositionSizingEngine(testSizingConfig())
	resp := engine.Size(&PositionSizingRequest{
		Symbol:     "AAPL",
		Method:     SizingMethodRiskParity,
		EntryPrice: decimal.NewFromInt(100),
	}, sizingPortfolio(100000))

	assert.True(t, resp.RecommendedShares.IsZero())
	assert.NotEmpty(t, resp.Warnings)
}

// 行业敞口上限扣除既有持仓后生效，并按触发顺序记录
func TestApplyConcentrationLimitsSectorCap(t *testing.T) {
	engine := NewPositionSizingEngine(testSizingConfig())
	p := &Portfolio{
		ID:         "p1",
		TotalValue: decimal.NewFromInt(100000),
		Positions: []Position{
			{Symbol: "MSFT", Sector: "tech", Quantity: decimal.NewFromInt(100), CurrentPrice: decimal.NewFromInt(250)},
		},
	}

	// tech 行业已占 25%，上限 30%，新仓位最多 5% = 5000 -> 50 股
	resp := engine.Size(&PositionSizingRequest{
		Symbol:     "AAPL",
		Sector:     "tech",
		Method:     SizingMethodKelly,
		EntryPrice: decimal.NewFromInt(100),
		WinRate:    0.9,
		AvgWin:     500,
		AvgLoss:    100,
	}, p)

	assert.True(t, resp.RecommendedShares.Equal(decimal.NewFromInt(50)), "got %s", resp.RecommendedShares)
	require.Len(t, resp.AppliedLimits, 1)
	assert.Equal(t, LimitMaxSector, resp.AppliedLimits[0])
}

// 止损极窄时波动率法的仓位被单仓位上限截断
func TestApplyConcentrationLimitsPositionCap(t *testing.T) {
	cfg := testSizingConfig()
	engine := NewPositionSizingEngine(cfg)
	p := sizingPortfolio(100000)

	resp := engine.Size(&PositionSizingRequest{
		Symbol:          "AAPL",
		Method:          SizingMethodVolatility,
		EntryPrice:      decimal.NewFromInt(100),
		StopLoss:        decimal.NewFromFloat(99.9),
		AssetVolatility: 0.15,
		RiskPercent:     2,
	}, p)

	// 2000 / 0.1 = 20000 股远超 20% 上限，截断为 200 股
	assert.True(t, resp.RecommendedShares.Equal(decimal.NewFromInt(200)), "got %s", resp.RecommendedShares)
	require.NotEmpty(t, resp.AppliedLimits)
	assert.Equal(t, LimitMaxPosition, resp.AppliedLimits[0])
}

// 任何方法、任何输入下建议股数恒 >= 0
func TestSizeNeverNegative(t *testing.T) {
	engine := NewPositionSizingEngine(testSizingConfig())
	methods := []SizingMethod{SizingMethodKelly, SizingMethodVolatility, SizingMethodRiskParity}

	for _, m := range methods {
		resp := engine.Size(&PositionSizingRequest{
			Symbol:          "X",
			Method:          m,
			EntryPrice:      decimal.NewFromFloat(0.01),
			StopLoss:        decimal.NewFromFloat(-1),
			WinRate:         0,
			AvgWin:          -1,
			AvgLoss:         0,
			AssetVolatility: -0.5,
			RiskPercent:     -3,
		}, sizingPortfolio(1))
		assert.False(t, resp.RecommendedShares.IsNegative(), "method %s", m)
	}
}
