// Package metrics 提供 Prometheus helper，覆盖风险引擎的评估、告警与风控动作指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 风险引擎指标集合
type Metrics struct {
	// 评估 tick 计数
	EvaluationsTotal prometheus.Counter
	// 评估耗时
	EvaluationDuration prometheus.Histogram
	// 告警计数（按严重级别）
	AlertsTotal *prometheus.CounterVec
	// 风控动作计数（按类型）
	ActionsTotal *prometheus.CounterVec
	// 当前被冻结下单的组合数
	PortfoliosBlocked prometheus.Gauge
	// 当前被紧急停止的组合数
	PortfoliosHalted prometheus.Gauge
	// 仓位计算请求计数（按方法）
	SizingRequestsTotal *prometheus.CounterVec
	// 蒙特卡洛模拟计数
	MonteCarloRunsTotal prometheus.Counter
	// 蒙特卡洛模拟耗时
	MonteCarloDuration prometheus.Histogram
	// 蒙特卡洛缓存命中计数
	MonteCarloCacheHits prometheus.Counter
	// 压力测试场景计数
	StressScenariosTotal prometheus.Counter
}

// New 创建指标实例
func New(serviceName string) *Metrics {
	return &Metrics{
		EvaluationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "evaluations_total",
			Help:      "Total risk evaluation ticks",
		}),
		EvaluationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "evaluation_duration_seconds",
			Help:      "Risk evaluation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "alerts_total",
			Help:      "Total risk alerts generated",
		}, []string{"severity"}),
		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "control_actions_total",
			Help:      "Total risk control actions fired",
		}, []string{"type"}),
		PortfoliosBlocked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "portfolios_blocked",
			Help:      "Number of portfolios with orders blocked",
		}),
		PortfoliosHalted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "portfolios_halted",
			Help:      "Number of portfolios with trading halted",
		}),
		SizingRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "sizing_requests_total",
			Help:      "Total position sizing requests",
		}, []string{"method"}),
		MonteCarloRunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "montecarlo_runs_total",
			Help:      "Total Monte Carlo simulations executed",
		}),
		MonteCarloDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "montecarlo_duration_seconds",
			Help:      "Monte Carlo simulation duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),
		MonteCarloCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "montecarlo_cache_hits_total",
			Help:      "Total Monte Carlo results served from cache",
		}),
		StressScenariosTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trading",
			Subsystem: serviceName,
			Name:      "stress_scenarios_total",
			Help:      "Total stress test scenarios executed",
		}),
	}
}

// Register 注册所有指标
func (m *Metrics) Register() error {
	collectors := []prometheus.Collector{
		m.EvaluationsTotal,
		m.EvaluationDuration,
		m.AlertsTotal,
		m.ActionsTotal,
		m.PortfoliosBlocked,
		m.PortfoliosHalted,
		m.SizingRequestsTotal,
		m.MonteCarloRunsTotal,
		m.MonteCarloDuration,
		m.MonteCarloCacheHits,
		m.StressScenariosTotal,
	}

	for _, c := range collectors {
		if err := prometheus.DefaultRegisterer.Register(c); err != nil {
			return err
		}
	}
	return nil
}
