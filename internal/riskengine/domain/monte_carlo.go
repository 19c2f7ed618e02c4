package domain

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// MonteCarloInput 蒙特卡洛模拟参数
type MonteCarloInput struct {
	PortfolioID string  `json:"portfolio_id"`
	Simulations int     `json:"simulations"`
	HorizonDays int     `json:"horizon_days"`
	Confidence  float64 `json:"confidence"`
}

// MonteCarloResult 蒙特卡洛模拟结果。百分位与收益均为时间跨度内的累计收益率（%）
type MonteCarloResult struct {
	PortfolioID         string             `json:"portfolio_id"`
	Simulations         int                `json:"simulations"`
	HorizonDays         int                `json:"horizon_days"`
	MeanReturnPercent   float64            `json:"mean_return_percent"`
	MedianReturnPercent float64            `json:"median_return_percent"`
	Percentiles         map[string]float64 `json:"percentiles"`
	VaR                 decimal.Decimal    `json:"var"`
	CVaR                decimal.Decimal    `json:"cvar"`
	ProbabilityOfProfit float64            `json:"probability_of_profit"`
	BestCasePercent     float64            `json:"best_case_percent"`
	WorstCasePercent    float64            `json:"worst_case_percent"`
	Warnings            []string           `json:"warnings,omitempty"`
	GeneratedAt         time.Time          `json:"generated_at"`
}

// 每模拟多少次检查一次取消信号
const cancelCheckInterval = 256

// ResolveInput 用配置默认值补全未指定的模拟参数。
// 补全后的参数即为实际执行参数，调用方可据此做缓存等价性判断
func (e *StressTestEngine) ResolveInput(in MonteCarloInput) MonteCarloInput {
	if in.Simulations <= 0 {
		in.Simulations = e.cfg.Simulations
	}
	if in.HorizonDays <= 0 {
		in.HorizonDays = e.cfg.HorizonDays
	}
	if in.Confidence <= 0 || in.Confidence >= 1 {
		in.Confidence = e.cfg.ConfidenceLevel
	}
	return in
}

// RunMonteCarlo 对组合未来收益做 N 次独立模拟：
// 从历史日收益率估计均值与标准差，正态抽样后在时间跨度内复利，
// 对全部累计收益排序得到百分位表、经验 VaR/CVaR 与盈利概率。
// 计算量与 simulations × horizon 成正比，通过 ctx 支持协作式取消
func (e *StressTestEngine) RunMonteCarlo(ctx context.Context, in MonteCarloInput, p *Portfolio) (*MonteCarloResult, error) {
	in = e.ResolveInput(in)
	simulations := in.Simulations
	horizon := in.HorizonDays
	confidence := in.Confidence

	result := &MonteCarloResult{
		PortfolioID: p.ID,
		Simulations: simulations,
		HorizonDays: horizon,
		Percentiles: make(map[string]float64),
		VaR:         decimal.Zero,
		CVaR:        decimal.Zero,
		GeneratedAt: time.Now(),
	}

	returns := p.DailyReturns()
	if len(returns) < 2 {
		result.Warnings = append(result.Warnings, "insufficient return history, simulation degraded to zero result")
		return result, nil
	}

	mean := stat.Mean(returns, nil)
	sigma := stat.StdDev(returns, nil)
	if sigma <= 0 || math.IsNaN(sigma) {
		result.Warnings = append(result.Warnings, "zero volatility in return history, simulation degraded to zero result")
		return result, nil
	}

	dist := distuv.Normal{Mu: mean, Sigma: sigma}

	samples := make([]float64, 0, simulations)
	for i := 0; i < simulations; i++ {
		if i%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		cumulative := 1.0
		for d := 0; d < horizon; d++ {
			cumulative *= 1 + dist.Rand()
		}
		samples = append(samples, cumulative-1)
	}

	sort.Float64s(samples)

	result.MeanReturnPercent = stat.Mean(samples, nil) * 100
	result.MedianReturnPercent = percentileOf(samples, 0.50) * 100
	result.BestCasePercent = samples[len(samples)-1] * 100
	result.WorstCasePercent = samples[0] * 100

	for _, q := range []struct {
		key string
		p   float64
	}{
		{"p5", 0.05}, {"p10", 0.10}, {"p25", 0.25}, {"p50", 0.50},
		{"p75", 0.75}, {"p90", 0.90}, {"p95", 0.95},
	} {
		result.Percentiles[q.key] = percentileOf(samples, q.p) * 100
	}

	profitable := sort.SearchFloat64s(samples, 0)
	for profitable < len(samples) && samples[profitable] <= 0 {
		profitable++
	}
	result.ProbabilityOfProfit = float64(len(samples)-profitable) / float64(len(samples))

	totalValue, _ := p.TotalValue.Float64()
	if totalValue > 0 {
		varValue, cvarValue := historicalVaR(samples, totalValue, confidence)
		result.VaR = decimal.NewFromFloat(varValue)
		result.CVaR = decimal.NewFromFloat(cvarValue)
	}

	return result, nil
}

// percentileOf 已排序样本的经验分位数
func percentileOf(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Floor(float64(len(sorted)) * p))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
