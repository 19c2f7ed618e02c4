package domain

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/kaenozu/Ult-sub007/pkg/config"
)

// SizingMethod 仓位计算方法
type SizingMethod string

const (
	SizingMethodKelly      SizingMethod = "KELLY"
	SizingMethodVolatility SizingMethod = "VOLATILITY"
	SizingMethodRiskParity SizingMethod = "RISK_PARITY"
)

// 触发的集中度限制标识
const (
	LimitMaxPosition = "MAX_POSITION_PERCENT"
	LimitMaxSector   = "MAX_SECTOR_PERCENT"
)

// PositionSizingRequest 仓位计算请求
type PositionSizingRequest struct {
	Symbol string       `json:"symbol"`
	Sector string       `json:"sector"`
	Method SizingMethod `json:"method"`
	// 计划买入价
	EntryPrice decimal.Decimal `json:"entry_price"`
	// 止损价，零表示未设置（波动率法将以波动率估算止损距离）
	StopLoss decimal.Decimal `json:"stop_loss"`
	// 凯利参数
	WinRate float64 `json:"win_rate"`
	AvgWin  float64 `json:"avg_win"`
	AvgLoss float64 `json:"avg_loss"`
	// 标的年化波动率（波动率法 / 风险平价法）
	AssetVolatility float64 `json:"asset_volatility"`
	// 单笔风险占比（%），零则使用配置默认值
	RiskPercent float64 `json:"risk_percent"`
}

// PositionSizingResponse 仓位计算响应。任何输入下均可构造，不抛出异常：
// 参数非法或分母为零时返回零仓位并附带警告
type PositionSizingResponse struct {
	Symbol            string          `json:"symbol"`
	Method            SizingMethod    `json:"method"`
	RecommendedShares decimal.Decimal `json:"recommended_shares"` // 恒 >= 0
	RiskAmount        decimal.Decimal `json:"risk_amount"`        // 恒 >= 0
	AppliedLimits     []string        `json:"applied_limits"`     // 按触发顺序记录
	Reasoning         []string        `json:"reasoning"`
	Warnings          []string        `json:"warnings"`
}

// PositionSizingEngine 仓位计算引擎。无内部状态，方法均为全函数
type PositionSizingEngine struct {
	cfg config.SizingConfig
}

// NewPositionSizingEngine 创建仓位计算引擎
func NewPositionSizingEngine(cfg config.SizingConfig) *PositionSizingEngine {
	return &PositionSizingEngine{cfg: cfg}
}

// Size 根据请求的方法计算建议仓位，随后统一套用集中度限制
func (e *PositionSizingEngine) Size(req *PositionSizingRequest, p *Portfolio) *PositionSizingResponse {
	resp := &PositionSizingResponse{
		Symbol:            req.Symbol,
		Method:            req.Method,
		RecommendedShares: decimal.Zero,
		RiskAmount:        decimal.Zero,
	}

	if p == nil || !p.TotalValue.IsPositive() {
		resp.Warnings = append(resp.Warnings, "portfolio value is not positive, sizing degraded to zero")
		return resp
	}
	if !req.EntryPrice.IsPositive() {
		resp.Warnings = append(resp.Warnings, "entry price must be positive, sizing degraded to zero")
		return resp
	}

	switch req.Method {
	case SizingMethodVolatility:
		e.volatilitySize(req, p, resp)
	case SizingMethodRiskParity:
		e.riskParitySize(req, p, resp)
	default:
		resp.Method = SizingMethodKelly
		e.kellySize(req, p, resp)
	}

	e.applyConcentrationLimits(req, p, resp)

	if resp.RecommendedShares.IsNegative() {
		resp.RecommendedShares = decimal.Zero
	}
	return resp
}

// kellySize 凯利公式：f* = (p·b - q)/b。无统计优势时返回零仓位，
// 正优势时套用分数凯利系数并以资金占比上限封顶
func (e *PositionSizingEngine) kellySize(req *PositionSizingRequest, p *Portfolio, resp *PositionSizingResponse) {
	if req.WinRate < 0 || req.WinRate > 1 {
		resp.Warnings = append(resp.Warnings, fmt.Sprintf("win rate %.2f outside [0,1], sizing degraded to zero", req.WinRate))
		return
	}
	if req.AvgWin <= 0 || req.AvgLoss <= 0 {
		resp.Warnings = append(resp.Warnings, "average win/loss must be positive, sizing degraded to zero")
		return
	}

	b := req.AvgWin / req.AvgLoss
	q := 1 - req.WinRate
	fStar := (req.WinRate*b - q) / b
	resp.Reasoning = append(resp.Reasoning,
		fmt.Sprintf("Kelly: p=%.2f b=%.2f f*=%.4f", req.WinRate, b, fStar))

	if fStar <= 0 {
		resp.Warnings = append(resp.Warnings, "no statistical edge (p·b - q <= 0), recommending zero shares")
		return
	}

	fraction := fStar * e.cfg.KellyFraction
	resp.Reasoning = append(resp.Reasoning,
		fmt.Sprintf("fractional Kelly %.2f applied: %.4f", e.cfg.KellyFraction, fraction))

	ceiling := e.cfg.MaxPositionPercent / 100
	if fraction > ceiling {
		fraction = ceiling
		resp.Reasoning = append(resp.Reasoning,
			fmt.Sprintf("capped at %.0f%% of capital", e.cfg.MaxPositionPercent))
	}

	riskAmount := p.TotalValue.Mul(decimal.NewFromFloat(fraction))
	resp.RiskAmount = riskAmount
	resp.RecommendedShares = riskAmount.Div(req.EntryPrice).Floor()
	resp.Reasoning = append(resp.Reasoning,
		fmt.Sprintf("allocation %s at entry %s -> %s shares", riskAmount.StringFixed(2), req.EntryPrice, resp.RecommendedShares))
}

// volatilitySize 波动率法：风险金额按目标/实际波动率比例缩放（限幅），
// 再除以止损距离得到股数。止损缺失时以日波动幅度估算
func (e *PositionSizingEngine) volatilitySize(req *PositionSizingRequest, p *Portfolio, resp *PositionSizingResponse) {
	riskPercent := req.RiskPercent
	if riskPercent <= 0 {
		riskPercent = e.cfg.DefaultRiskPercent
	}
	riskAmount := p.TotalValue.Mul(decimal.NewFromFloat(riskPercent / 100))
	resp.Reasoning = append(resp.Reasoning,
		fmt.Sprintf("base risk %.2f%% of capital = %s", riskPercent, riskAmount.StringFixed(2)))

	if req.AssetVolatility > 0 && e.cfg.TargetVolatility > 0 {
		scale := e.cfg.TargetVolatility / req.AssetVolatility
		scale = math.Max(e.cfg.MinVolatilityScale, math.Min(e.cfg.MaxVolatilityScale, scale))
		riskAmount = riskAmount.Mul(decimal.NewFromFloat(scale))
		resp.Reasoning = append(resp.Reasoning,
			fmt.Sprintf("volatility scale %.2f (target %.2f / actual %.2f, clamped)", scale, e.cfg.TargetVolatility, req.AssetVolatility))
	} else {
		resp.Warnings = append(resp.Warnings, "asset volatility unavailable, skipping volatility scaling")
	}

	stopDistance := decimal.Zero
	if req.StopLoss.IsPositive() {
		stopDistance = req.EntryPrice.Sub(req.StopLoss).Abs()
	} else if req.AssetVolatility > 0 {
		// 无显式止损时以一日波动幅度估算止损距离
		daily := req.AssetVolatility / math.Sqrt(252)
		stopDistance = req.EntryPrice.Mul(decimal.NewFromFloat(daily))
		resp.Reasoning = append(resp.Reasoning,
			fmt.Sprintf("stop distance estimated from volatility: %s", stopDistance.StringFixed(4)))
	}

	if !stopDistance.IsPositive() {
		resp.Warnings = append(resp.Warnings, "stop loss distance is zero, sizing degraded to zero")
		return
	}

	resp.RiskAmount = riskAmount
	resp.RecommendedShares = riskAmount.Div(stopDistance).Floor()
	resp.Reasoning = append(resp.Reasoning,
		fmt.Sprintf("risk %s / stop distance %s -> %s shares", riskAmount.StringFixed(2), stopDistance.StringFixed(4), resp.RecommendedShares))
}

// riskParitySize 风险平价法：每个仓位承担等量风险，
// shares = 资金 × 风险占比 / (价格 × 波动率)
func (e *PositionSizingEngine) riskParitySize(req *PositionSizingRequest, p *Portfolio, resp *PositionSizingResponse) {
	if req.AssetVolatility <= 0 {
		resp.Warnings = append(resp.Warnings, "asset volatility must be positive for risk parity, sizing degraded to zero")
		return
	}

	riskPercent := req.RiskPercent
	if riskPercent <= 0 {
		riskPercent = e.cfg.DefaultRiskPercent
	}
	riskAmount := p.TotalValue.Mul(decimal.NewFromFloat(riskPercent / 100))

	denom := req.EntryPrice.Mul(decimal.NewFromFloat(req.AssetVolatility))
	if !denom.IsPositive() {
		resp.Warnings = append(resp.Warnings, "degenerate price/volatility denominator, sizing degraded to zero")
		return
	}

	resp.RiskAmount = riskAmount
	resp.RecommendedShares = riskAmount.Div(denom).Floor()
	resp.Reasoning = append(resp.Reasoning,
		fmt.Sprintf("risk parity: %.2f%% risk / (price %s x vol %.2f) -> %s shares",
			riskPercent, req.EntryPrice, req.AssetVolatility, resp.RecommendedShares))
}

// applyConcentrationLimits 任何方法计算出的仓位都要套用集中度上限：
// 先检查单仓位占比，再检查行业占比（扣除同行业既有敞口），按触发顺序记录
func (e *PositionSizingEngine) applyConcentrationLimits(req *PositionSizingRequest, p *Portfolio, resp *PositionSizingResponse) {
	if !resp.RecommendedShares.IsPositive() {
		return
	}

	positionValue := resp.RecommendedShares.Mul(req.EntryPrice)

	maxPositionValue := p.TotalValue.Mul(decimal.NewFromFloat(e.cfg.MaxPositionPercent / 100))
	if positionValue.GreaterThan(maxPositionValue) {
		resp.RecommendedShares = maxPositionValue.Div(req.EntryPrice).Floor()
		positionValue = resp.RecommendedShares.Mul(req.EntryPrice)
		resp.AppliedLimits = append(resp.AppliedLimits, LimitMaxPosition)
		resp.Reasoning = append(resp.Reasoning,
			fmt.Sprintf("position capped at %.0f%% of portfolio -> %s shares", e.cfg.MaxPositionPercent, resp.RecommendedShares))
	}

	if req.Sector != "" && e.cfg.MaxSectorPercent > 0 {
		existing := p.SectorExposurePercent(req.Sector)
		allowedPercent := e.cfg.MaxSectorPercent - existing
		if allowedPercent < 0 {
			allowedPercent = 0
		}
		allowedValue := p.TotalValue.Mul(decimal.NewFromFloat(allowedPercent / 100))
		if positionValue.GreaterThan(allowedValue) {
			resp.RecommendedShares = allowedValue.Div(req.EntryPrice).Floor()
			resp.AppliedLimits = append(resp.AppliedLimits, LimitMaxSector)
			resp.Reasoning = append(resp.Reasoning,
				fmt.Sprintf("sector %s exposure capped at %.0f%% (existing %.1f%%) -> %s shares",
					req.Sector, e.cfg.MaxSectorPercent, existing, resp.RecommendedShares))
		}
	}
}
