package application

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	"golang.org/x/sync/semaphore"

	"github.com/kaenozu/Ult-sub007/internal/riskengine/domain"
	"github.com/kaenozu/Ult-sub007/pkg/config"
	"github.com/kaenozu/Ult-sub007/pkg/logger"
	"github.com/kaenozu/Ult-sub007/pkg/metrics"
)

// MonteCarloRunner 蒙特卡洛模拟执行器：
// 模拟是唯一的 CPU 密集型长任务，施加超时、并发上限与结果缓存，
// 避免高频重复调用阻塞实时评估路径
type MonteCarloRunner struct {
	cfg     config.StressConfig
	engine  *domain.StressTestEngine
	cache   *bigcache.BigCache
	sem     *semaphore.Weighted
	metrics *metrics.Metrics
}

// NewMonteCarloRunner 创建执行器
func NewMonteCarloRunner(cfg config.StressConfig, engine *domain.StressTestEngine, m *metrics.Metrics) (*MonteCarloRunner, error) {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	cache, err := bigcache.New(context.Background(), bigcache.DefaultConfig(ttl))
	if err != nil {
		return nil, fmt.Errorf("failed to create result cache: %w", err)
	}

	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}

	return &MonteCarloRunner{
		cfg:     cfg,
		engine:  engine,
		cache:   cache,
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		metrics: m,
	}, nil
}

// Run 执行一次模拟。时效窗口内相同参数直接返回缓存结果。
// 缓存键基于补全默认值后的实际执行参数，零值请求与显式默认值请求命中同一条目
func (r *MonteCarloRunner) Run(ctx context.Context, in domain.MonteCarloInput, p *domain.Portfolio) (*domain.MonteCarloResult, error) {
	in = r.engine.ResolveInput(in)
	key := fmt.Sprintf("%s|%d|%d|%.4f", p.ID, in.Simulations, in.HorizonDays, in.Confidence)

	if data, err := r.cache.Get(key); err == nil {
		var cached domain.MonteCarloResult
		if err := json.Unmarshal(data, &cached); err == nil {
			if r.metrics != nil {
				r.metrics.MonteCarloCacheHits.Inc()
			}
			logger.Debug(ctx, "monte carlo result served from cache", "portfolio_id", p.ID)
			return &cached, nil
		}
	}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("simulation slot unavailable: %w", err)
	}
	defer r.sem.Release(1)

	timeout := r.cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := r.engine.RunMonteCarlo(runCtx, in, p)
	if err != nil {
		return nil, fmt.Errorf("monte carlo simulation aborted: %w", err)
	}

	if r.metrics != nil {
		r.metrics.MonteCarloRunsTotal.Inc()
		r.metrics.MonteCarloDuration.Observe(time.Since(start).Seconds())
	}

	if data, err := json.Marshal(result); err == nil {
		if err := r.cache.Set(key, data); err != nil {
			logger.Warn(ctx, "failed to cache monte carlo result", "portfolio_id", p.ID, "error", err)
		}
	}

	logger.Info(ctx, "monte carlo simulation completed",
		"portfolio_id", p.ID,
		"simulations", result.Simulations,
		"horizon_days", result.HorizonDays,
		"duration", time.Since(start),
	)
	return result, nil
}

// Close 释放缓存资源
func (r *MonteCarloRunner) Close() error {
	return r.cache.Close()
}
