// Package domain 包含风险引擎的领域模型：组合快照、风险指标、仓位计算、动态调整、自动风控与压力测试
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionSide 持仓方向
type PositionSide string

const (
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
)

// Position 单个持仓。由外部订单/成交层维护，风险引擎只读
type Position struct {
	Symbol       string          `json:"symbol"`
	Sector       string          `json:"sector"`
	Side         PositionSide    `json:"side"`
	Quantity     decimal.Decimal `json:"quantity"`      // 数量，恒为正
	EntryPrice   decimal.Decimal `json:"entry_price"`   // 平均建仓价
	CurrentPrice decimal.Decimal `json:"current_price"` // 最新价
	StopLoss     decimal.Decimal `json:"stop_loss"`     // 止损价，零表示未设置
}

// MarketValue 持仓市值
func (p *Position) MarketValue() decimal.Decimal {
	return p.CurrentPrice.Mul(p.Quantity)
}

// UnrealizedPnL 浮动盈亏，按方向取号
func (p *Position) UnrealizedPnL() decimal.Decimal {
	diff := p.CurrentPrice.Sub(p.EntryPrice)
	if p.Side == PositionSideShort {
		diff = diff.Neg()
	}
	return diff.Mul(p.Quantity)
}

// UnrealizedPnLPercent 浮动盈亏百分比，建仓价为零时返回 0
func (p *Position) UnrealizedPnLPercent() float64 {
	if p.EntryPrice.IsZero() {
		return 0
	}
	cost := p.EntryPrice.Mul(p.Quantity)
	pct, _ := p.UnrealizedPnL().Div(cost).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}

// EquityPoint 权益曲线上的一个快照点
type EquityPoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Value     decimal.Decimal `json:"value"`
}

// Portfolio 组合快照。由外部交易应用构造并按次传入，引擎不持有其所有权。
// 不变式：TotalValue ≈ Cash + Σ(持仓市值)；EquityHistory 只追加且时间有序
type Portfolio struct {
	ID            string          `json:"id"`
	Cash          decimal.Decimal `json:"cash"`
	Positions     []Position      `json:"positions"`
	TotalValue    decimal.Decimal `json:"total_value"`
	DailyPnL      decimal.Decimal `json:"daily_pnl"`
	EquityHistory []EquityPoint   `json:"equity_history"`
}

// PositionsValue 全部持仓市值之和
func (p *Portfolio) PositionsValue() decimal.Decimal {
	total := decimal.Zero
	for i := range p.Positions {
		total = total.Add(p.Positions[i].MarketValue())
	}
	return total
}

// DailyPnLPercent 当日盈亏百分比，以前一日权益为基准
func (p *Portfolio) DailyPnLPercent() float64 {
	base := p.TotalValue.Sub(p.DailyPnL)
	if base.IsZero() {
		return 0
	}
	pct, _ := p.DailyPnL.Div(base).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}

// PositionWeight 单个持仓占组合总值的比例（0-1）
func (p *Portfolio) PositionWeight(symbol string) float64 {
	if p.TotalValue.IsZero() {
		return 0
	}
	for i := range p.Positions {
		if p.Positions[i].Symbol == symbol {
			w, _ := p.Positions[i].MarketValue().Div(p.TotalValue).Float64()
			return w
		}
	}
	return 0
}

// SectorExposurePercent 某行业现有持仓占组合总值的百分比
func (p *Portfolio) SectorExposurePercent(sector string) float64 {
	if p.TotalValue.IsZero() || sector == "" {
		return 0
	}
	exposure := decimal.Zero
	for i := range p.Positions {
		if p.Positions[i].Sector == sector {
			exposure = exposure.Add(p.Positions[i].MarketValue())
		}
	}
	pct, _ := exposure.Div(p.TotalValue).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}

// DailyReturns 从权益曲线推导组合日收益率序列
func (p *Portfolio) DailyReturns() []float64 {
	if len(p.EquityHistory) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(p.EquityHistory)-1)
	for i := 1; i < len(p.EquityHistory); i++ {
		prev := p.EquityHistory[i-1].Value
		if prev.IsZero() {
			continue
		}
		r, _ := p.EquityHistory[i].Value.Sub(prev).Div(prev).Float64()
		returns = append(returns, r)
	}
	return returns
}

// ReturnHistory 按标的维护的滚动收益率缓冲区，窗口满后淘汰最旧样本。
// 非并发安全，由调用方在组合级互斥下更新
type ReturnHistory struct {
	window    int
	lastPrice map[string]float64
	returns   map[string][]float64
}

// NewReturnHistory 创建滚动收益率缓冲区
func NewReturnHistory(window int) *ReturnHistory {
	if window <= 0 {
		window = 252
	}
	return &ReturnHistory{
		window:    window,
		lastPrice: make(map[string]float64),
		returns:   make(map[string][]float64),
	}
}

// AddPrice 记录一个新价格并推导简单收益率。首个样本只建立基准，不产生收益率
func (h *ReturnHistory) AddPrice(symbol string, price float64) {
	if price <= 0 {
		return
	}
	last, ok := h.lastPrice[symbol]
	h.lastPrice[symbol] = price
	if !ok || last <= 0 {
		return
	}

	series := append(h.returns[symbol], (price-last)/last)
	if len(series) > h.window {
		series = series[len(series)-h.window:]
	}
	h.returns[symbol] = series
}

// Returns 某标的的收益率序列（底层切片，调用方不得修改）
func (h *ReturnHistory) Returns(symbol string) []float64 {
	return h.returns[symbol]
}

// Snapshot 深拷贝全部序列，供持锁方把只读副本交给锁外的计算使用
func (h *ReturnHistory) Snapshot() *ReturnHistory {
	clone := &ReturnHistory{
		window:    h.window,
		lastPrice: make(map[string]float64, len(h.lastPrice)),
		returns:   make(map[string][]float64, len(h.returns)),
	}
	for symbol, price := range h.lastPrice {
		clone.lastPrice[symbol] = price
	}
	for symbol, series := range h.returns {
		clone.returns[symbol] = append([]float64(nil), series...)
	}
	return clone
}

// SampleCount 某标的的样本数
func (h *ReturnHistory) SampleCount(symbol string) int {
	return len(h.returns[symbol])
}
