package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kaenozu/Ult-sub007/internal/riskengine/domain"
	"github.com/kaenozu/Ult-sub007/pkg/config"
	"github.com/kaenozu/Ult-sub007/pkg/logger"
	"github.com/kaenozu/Ult-sub007/pkg/metrics"
)

// portfolioContext 单个组合的全部可变状态，持锁访问。
// 评估 tick、价格观测与状态变更在同一把锁下串行，不同组合完全并行
type portfolioContext struct {
	mu         sync.Mutex
	history    *domain.ReturnHistory
	adjuster   *domain.DynamicRiskAdjuster
	controller *domain.AutomaticRiskController
	alertLog   *domain.AlertLog
	lastSnap   *domain.RiskMetricsSnapshot
}

// RiskEngineService 风险引擎应用服务，聚合全部领域引擎并负责事件发布、
// 归档与指标上报
type RiskEngineService struct {
	cfg *config.Config

	metricsEngine *domain.RiskMetricsEngine
	sizingEngine  *domain.PositionSizingEngine
	stressEngine  *domain.StressTestEngine
	mcRunner      *MonteCarloRunner

	publisher domain.EventPublisher
	archive   ArchiveRepository
	metrics   *metrics.Metrics

	mu         sync.RWMutex
	portfolios map[string]*portfolioContext
}

// NewRiskEngineService 创建风险引擎服务。publisher、archive、m 均可为 nil
func NewRiskEngineService(cfg *config.Config, publisher domain.EventPublisher, archive ArchiveRepository, m *metrics.Metrics) (*RiskEngineService, error) {
	if publisher == nil {
		publisher = domain.NoopEventPublisher{}
	}

	stressEngine := domain.NewStressTestEngine(cfg.Stress)
	mcRunner, err := NewMonteCarloRunner(cfg.Stress, stressEngine, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create monte carlo runner: %w", err)
	}

	return &RiskEngineService{
		cfg:           cfg,
		metricsEngine: domain.NewRiskMetricsEngine(cfg.Risk),
		sizingEngine:  domain.NewPositionSizingEngine(cfg.Sizing),
		stressEngine:  stressEngine,
		mcRunner:      mcRunner,
		publisher:     publisher,
		archive:       archive,
		metrics:       m,
		portfolios:    make(map[string]*portfolioContext),
	}, nil
}

// contextFor 获取或创建组合上下文
func (s *RiskEngineService) contextFor(portfolioID string) *portfolioContext {
	s.mu.RLock()
	pc, ok := s.portfolios[portfolioID]
	s.mu.RUnlock()
	if ok {
		return pc
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if pc, ok = s.portfolios[portfolioID]; ok {
		return pc
	}
	pc = &portfolioContext{
		history:    domain.NewReturnHistory(s.cfg.Risk.ReturnWindow),
		adjuster:   domain.NewDynamicRiskAdjuster(s.cfg.Adjuster),
		controller: domain.NewAutomaticRiskController(portfolioID, s.cfg.Control),
		alertLog:   domain.NewAlertLog(s.cfg.Risk.AlertLogCapacity),
	}
	s.portfolios[portfolioID] = pc
	return pc
}

// EvaluateTick 对组合快照执行一轮完整评估：指标计算、市场状态更新、
// 自动风控状态机转移，随后发布事件并归档
func (s *RiskEngineService) EvaluateTick(ctx context.Context, p *domain.Portfolio) (*EvaluateTickResult, error) {
	if p == nil || p.ID == "" {
		return nil, fmt.Errorf("portfolio with id is required")
	}

	start := time.Now()
	pc := s.contextFor(p.ID)

	pc.mu.Lock()
	wasBlocked := pc.controller.OrdersBlocked()
	wasHalted := pc.controller.TradingHalted()

	snap := s.metricsEngine.Evaluate(p, pc.history)
	pc.adjuster.UpdateMarketCondition(snap.PortfolioVolatility/100, p.DailyPnLPercent())
	actions := pc.controller.EvaluateTick(snap, p)

	pc.alertLog.Append(snap.Alerts...)
	pc.lastSnap = snap

	result := &EvaluateTickResult{
		Snapshot:      snap,
		Actions:       actions,
		OrdersBlocked: pc.controller.OrdersBlocked(),
		TradingHalted: pc.controller.TradingHalted(),
	}
	pc.mu.Unlock()

	s.recordTickMetrics(snap, actions, wasBlocked, wasHalted, result, start)
	s.publishTickEvents(ctx, p.ID, snap, actions, wasBlocked, wasHalted, result)
	s.archiveTick(ctx, snap, actions)

	logger.Debug(ctx, "risk evaluation tick completed",
		"portfolio_id", p.ID,
		"risk_level", snap.RiskLevel,
		"total_risk", snap.TotalRiskPercent,
		"actions", len(actions),
	)
	return result, nil
}

// ObservePrice 接收一条价格更新：驱动崩盘检测并累积收益率历史
func (s *RiskEngineService) ObservePrice(ctx context.Context, portfolioID, symbol string, price float64, ts time.Time) bool {
	pc := s.contextFor(portfolioID)
	pc.mu.Lock()
	defer pc.mu.Unlock()

	crashed := pc.controller.ObservePrice(symbol, price, ts)
	pc.history.AddPrice(symbol, price)

	if crashed {
		logger.Warn(ctx, "market crash detected",
			"portfolio_id", portfolioID,
			"symbol", symbol,
			"price", price,
		)
	}
	return crashed
}

// SizePosition 仓位计算。全函数：任何输入下返回可用响应，绝不报错
func (s *RiskEngineService) SizePosition(ctx context.Context, portfolioID string, req *domain.PositionSizingRequest, p *domain.Portfolio) *domain.PositionSizingResponse {
	resp := s.sizingEngine.Size(req, p)
	if s.metrics != nil {
		s.metrics.SizingRequestsTotal.WithLabelValues(string(resp.Method)).Inc()
	}
	for _, w := range resp.Warnings {
		logger.Warn(ctx, "position sizing degraded", "portfolio_id", portfolioID, "symbol", req.Symbol, "warning", w)
	}
	return resp
}

// AdjustRisk 按当前市场状态与连胜/连亏记录调整基础风险占比
func (s *RiskEngineService) AdjustRisk(portfolioID string, baseRiskPercent, annualizedVolatility float64) *domain.RiskAdjustment {
	pc := s.contextFor(portfolioID)
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.adjuster.Adjust(baseRiskPercent, annualizedVolatility)
}

// RecordTradeResult 记录一笔已平仓交易结果，更新调整器的连胜/连亏状态
func (s *RiskEngineService) RecordTradeResult(portfolioID string, profitPercent float64) {
	pc := s.contextFor(portfolioID)
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.adjuster.RecordTradeResult(profitPercent)
}

// RecordDailyClose 记录一个交易日收盘盈亏，驱动连续亏损天数统计
func (s *RiskEngineService) RecordDailyClose(portfolioID string, pnlPercent float64) {
	pc := s.contextFor(portfolioID)
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.controller.RecordDailyClose(pnlPercent)
}

// UnblockOrders 操作员解除订单冻结。未冻结时为幂等空操作
func (s *RiskEngineService) UnblockOrders(ctx context.Context, portfolioID, operator, reason string) error {
	pc := s.contextFor(portfolioID)

	pc.mu.Lock()
	action := pc.controller.UnblockOrders(reason, time.Now())
	pc.mu.Unlock()

	if action == nil {
		return nil
	}

	if s.metrics != nil {
		s.metrics.PortfoliosBlocked.Dec()
	}
	s.archiveAction(ctx, action)

	event := &domain.OrdersUnblockedEvent{
		PortfolioID: portfolioID,
		Operator:    operator,
		Reason:      reason,
		Timestamp:   action.CreatedAt,
	}
	if err := s.publisher.PublishOrdersUnblocked(ctx, event); err != nil {
		logger.Error(ctx, "failed to publish orders unblocked event", "portfolio_id", portfolioID, "error", err)
	}

	logger.Info(ctx, "orders unblocked by operator", "portfolio_id", portfolioID, "operator", operator, "reason", reason)
	return nil
}

// ResumeTrading 操作员恢复交易。未停止时为幂等空操作
func (s *RiskEngineService) ResumeTrading(ctx context.Context, portfolioID, operator, reason string) error {
	pc := s.contextFor(portfolioID)

	pc.mu.Lock()
	action := pc.controller.ResumeTrading(reason, time.Now())
	pc.mu.Unlock()

	if action == nil {
		return nil
	}

	if s.metrics != nil {
		s.metrics.PortfoliosHalted.Dec()
	}
	s.archiveAction(ctx, action)

	event := &domain.TradingResumedEvent{
		PortfolioID: portfolioID,
		Operator:    operator,
		Reason:      reason,
		Timestamp:   action.CreatedAt,
	}
	if err := s.publisher.PublishTradingResumed(ctx, event); err != nil {
		logger.Error(ctx, "failed to publish trading resumed event", "portfolio_id", portfolioID, "error", err)
	}

	logger.Info(ctx, "trading resumed by operator", "portfolio_id", portfolioID, "operator", operator, "reason", reason)
	return nil
}

// Status 组合当前风控状态
func (s *RiskEngineService) Status(portfolioID string) *ControllerStatus {
	pc := s.contextFor(portfolioID)
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return &ControllerStatus{
		PortfolioID:             portfolioID,
		OrdersBlocked:           pc.controller.OrdersBlocked(),
		TradingHalted:           pc.controller.TradingHalted(),
		MarketCondition:         pc.adjuster.Condition(),
		ConsecutiveLosses:       pc.adjuster.ConsecutiveLosses(),
		CumulativeProfitPercent: pc.adjuster.CumulativeProfitPercent(),
	}
}

// LastSnapshot 最近一次评估的指标快照，尚未评估过时返回 nil
func (s *RiskEngineService) LastSnapshot(portfolioID string) *domain.RiskMetricsSnapshot {
	pc := s.contextFor(portfolioID)
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.lastSnap
}

// Alerts 最近的告警记录
func (s *RiskEngineService) Alerts(portfolioID string, limit int) []domain.RiskAlert {
	pc := s.contextFor(portfolioID)
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.alertLog.List(limit)
}

// Actions 最近的风控动作记录
func (s *RiskEngineService) Actions(portfolioID string, limit int) []*domain.RiskControlAction {
	pc := s.contextFor(portfolioID)
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.controller.Actions(limit)
}

// RunScenario 执行单个压力测试情景。
// 收益率历史在锁内深拷贝，情景计算在锁外进行，不与价格观测竞争
func (s *RiskEngineService) RunScenario(ctx context.Context, sc domain.StressScenario, p *domain.Portfolio) *domain.StressTestResult {
	pc := s.contextFor(p.ID)
	pc.mu.Lock()
	hist := pc.history.Snapshot()
	pc.mu.Unlock()

	if s.metrics != nil {
		s.metrics.StressScenariosTotal.Inc()
	}
	result := s.stressEngine.RunScenario(sc, p, hist)
	logger.Info(ctx, "stress scenario executed",
		"portfolio_id", p.ID,
		"scenario", sc.Name,
		"impact_percent", result.ImpactPercent,
	)
	return result
}

// RunAllScenarios 执行内置情景库
func (s *RiskEngineService) RunAllScenarios(ctx context.Context, p *domain.Portfolio) []*domain.StressTestResult {
	pc := s.contextFor(p.ID)
	pc.mu.Lock()
	hist := pc.history.Snapshot()
	pc.mu.Unlock()

	results := s.stressEngine.RunAll(p, hist)
	if s.metrics != nil {
		s.metrics.StressScenariosTotal.Add(float64(len(results)))
	}
	return results
}

// WorstCase 最坏情况分析
func (s *RiskEngineService) WorstCase(p *domain.Portfolio) *domain.WorstCaseResult {
	return s.stressEngine.WorstCase(p)
}

// RunMonteCarlo 蒙特卡洛模拟，经由带缓存与并发限制的后台执行器
func (s *RiskEngineService) RunMonteCarlo(ctx context.Context, in domain.MonteCarloInput, p *domain.Portfolio) (*domain.MonteCarloResult, error) {
	return s.mcRunner.Run(ctx, in, p)
}

// recordTickMetrics 上报一轮评估的 Prometheus 指标
func (s *RiskEngineService) recordTickMetrics(snap *domain.RiskMetricsSnapshot, actions []*domain.RiskControlAction, wasBlocked, wasHalted bool, result *EvaluateTickResult, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.EvaluationsTotal.Inc()
	s.metrics.EvaluationDuration.Observe(time.Since(start).Seconds())
	for _, a := range snap.Alerts {
		s.metrics.AlertsTotal.WithLabelValues(string(a.Severity)).Inc()
	}
	for _, a := range actions {
		s.metrics.ActionsTotal.WithLabelValues(string(a.Type)).Inc()
	}
	if !wasBlocked && result.OrdersBlocked {
		s.metrics.PortfoliosBlocked.Inc()
	}
	if !wasHalted && result.TradingHalted {
		s.metrics.PortfoliosHalted.Inc()
	}
}

// publishTickEvents 发布一轮评估产生的全部事件。发布失败只记录
func (s *RiskEngineService) publishTickEvents(ctx context.Context, portfolioID string, snap *domain.RiskMetricsSnapshot, actions []*domain.RiskControlAction, wasBlocked, wasHalted bool, result *EvaluateTickResult) {
	now := snap.GeneratedAt

	if err := s.publisher.PublishMetricsUpdated(ctx, &domain.MetricsUpdatedEvent{
		PortfolioID: portfolioID,
		Snapshot:    snap,
		Timestamp:   now,
	}); err != nil {
		logger.Error(ctx, "failed to publish metrics updated event", "portfolio_id", portfolioID, "error", err)
	}

	for _, alert := range snap.Alerts {
		if err := s.publisher.PublishAlertGenerated(ctx, &domain.AlertGeneratedEvent{
			PortfolioID: portfolioID,
			Alert:       alert,
			Timestamp:   now,
		}); err != nil {
			logger.Error(ctx, "failed to publish alert event", "portfolio_id", portfolioID, "error", err)
		}
	}

	for _, action := range actions {
		if err := s.publisher.PublishActionFired(ctx, &domain.ActionFiredEvent{
			PortfolioID: portfolioID,
			Action:      action,
			Timestamp:   now,
		}); err != nil {
			logger.Error(ctx, "failed to publish action event", "portfolio_id", portfolioID, "error", err)
		}
	}

	if !wasBlocked && result.OrdersBlocked {
		reason := blockReasonFromActions(actions)
		if err := s.publisher.PublishOrdersBlocked(ctx, &domain.OrdersBlockedEvent{
			PortfolioID: portfolioID,
			Reason:      reason,
			Timestamp:   now,
		}); err != nil {
			logger.Error(ctx, "failed to publish orders blocked event", "portfolio_id", portfolioID, "error", err)
		}
		logger.Warn(ctx, "orders blocked", "portfolio_id", portfolioID, "reason", reason)
	}

	if !wasHalted && result.TradingHalted {
		reason := haltReasonFromActions(actions)
		if err := s.publisher.PublishTradingHalted(ctx, &domain.TradingHaltedEvent{
			PortfolioID: portfolioID,
			Reason:      reason,
			Timestamp:   now,
		}); err != nil {
			logger.Error(ctx, "failed to publish trading halted event", "portfolio_id", portfolioID, "error", err)
		}
		logger.Error(ctx, "trading halted", "portfolio_id", portfolioID, "reason", reason)
	}
}

// archiveTick 归档一轮评估的告警与动作
func (s *RiskEngineService) archiveTick(ctx context.Context, snap *domain.RiskMetricsSnapshot, actions []*domain.RiskControlAction) {
	if s.archive == nil {
		return
	}
	if len(snap.Alerts) > 0 {
		if err := s.archive.SaveAlerts(ctx, snap.Alerts); err != nil {
			logger.Error(ctx, "failed to archive alerts", "portfolio_id", snap.PortfolioID, "error", err)
		}
	}
	for _, action := range actions {
		s.archiveAction(ctx, action)
	}
}

func (s *RiskEngineService) archiveAction(ctx context.Context, action *domain.RiskControlAction) {
	if s.archive == nil {
		return
	}
	if err := s.archive.SaveAction(ctx, action); err != nil {
		logger.Error(ctx, "failed to archive action", "portfolio_id", action.PortfolioID, "error", err)
	}
}

func blockReasonFromActions(actions []*domain.RiskControlAction) string {
	for _, a := range actions {
		if a.Type == domain.ActionBlockOrders {
			return a.Reason
		}
	}
	return ""
}

func haltReasonFromActions(actions []*domain.RiskControlAction) string {
	for _, a := range actions {
		if a.Type == domain.ActionEmergencyHalt {
			return a.Reason
		}
	}
	return ""
}
