// Package http 风险引擎的运维 HTTP 接口
package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kaenozu/Ult-sub007/internal/riskengine/application"
	"github.com/kaenozu/Ult-sub007/internal/riskengine/domain"
	"github.com/kaenozu/Ult-sub007/pkg/logger"
)

// RiskEngineHandler 负责处理风险引擎相关的 HTTP 请求
type RiskEngineHandler struct {
	service *application.RiskEngineService
}

// NewRiskEngineHandler 创建 HTTP 处理器
func NewRiskEngineHandler(service *application.RiskEngineService) *RiskEngineHandler {
	return &RiskEngineHandler{service: service}
}

// RegisterRoutes 注册路由
func (h *RiskEngineHandler) RegisterRoutes(router *gin.RouterGroup) {
	api := router.Group("/api/v1/riskengine")
	{
		api.POST("/evaluate", h.EvaluateTick)
		api.POST("/prices", h.ObservePrice)
		api.POST("/sizing", h.SizePosition)
		api.POST("/adjust", h.AdjustRisk)
		api.POST("/trades", h.RecordTradeResult)
		api.POST("/daily-close", h.RecordDailyClose)
		api.POST("/stress/scenario", h.RunScenario)
		api.POST("/stress/all", h.RunAllScenarios)
		api.POST("/stress/worstcase", h.WorstCase)
		api.POST("/stress/montecarlo", h.RunMonteCarlo)
		api.POST("/control/unblock", h.UnblockOrders)
		api.POST("/control/resume", h.ResumeTrading)
		api.GET("/status", h.Status)
		api.GET("/snapshot", h.LastSnapshot)
		api.GET("/alerts", h.Alerts)
		api.GET("/actions", h.Actions)
	}
}

// evaluateRequest 评估请求：完整组合快照由调用方随请求传入
type evaluateRequest struct {
	Portfolio *domain.Portfolio `json:"portfolio" binding:"required"`
}

// EvaluateTick 执行一轮风险评估
func (h *RiskEngineHandler) EvaluateTick(c *gin.Context) {
	var req evaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.service.EvaluateTick(c.Request.Context(), req.Portfolio)
	if err != nil {
		logger.Error(c.Request.Context(), "risk evaluation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// observePriceRequest 价格观测请求
type observePriceRequest struct {
	PortfolioID string  `json:"portfolio_id" binding:"required"`
	Symbol      string  `json:"symbol" binding:"required"`
	Price       float64 `json:"price" binding:"required"`
	Timestamp   int64   `json:"timestamp"`
}

// ObservePrice 接收价格更新并返回是否触发崩盘检测
func (h *RiskEngineHandler) ObservePrice(c *gin.Context) {
	var req observePriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ts := time.Now()
	if req.Timestamp > 0 {
		ts = time.UnixMilli(req.Timestamp)
	}

	crashed := h.service.ObservePrice(c.Request.Context(), req.PortfolioID, req.Symbol, req.Price, ts)
	c.JSON(http.StatusOK, gin.H{"is_market_crash": crashed})
}

// sizingRequest 仓位计算请求
type sizingRequest struct {
	PortfolioID string                        `json:"portfolio_id" binding:"required"`
	Portfolio   *domain.Portfolio             `json:"portfolio" binding:"required"`
	Request     *domain.PositionSizingRequest `json:"request" binding:"required"`
}

// SizePosition 仓位计算
func (h *RiskEngineHandler) SizePosition(c *gin.Context) {
	var req sizingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp := h.service.SizePosition(c.Request.Context(), req.PortfolioID, req.Request, req.Portfolio)
	c.JSON(http.StatusOK, resp)
}

// adjustRequest 风险调整请求
type adjustRequest struct {
	PortfolioID          string  `json:"portfolio_id" binding:"required"`
	BaseRiskPercent      float64 `json:"base_risk_percent" binding:"required"`
	AnnualizedVolatility float64 `json:"annualized_volatility"`
}

// AdjustRisk 动态风险调整
func (h *RiskEngineHandler) AdjustRisk(c *gin.Context) {
	var req adjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	adj := h.service.AdjustRisk(req.PortfolioID, req.BaseRiskPercent, req.AnnualizedVolatility)
	c.JSON(http.StatusOK, adj)
}

// tradeResultRequest 交易结果上报
type tradeResultRequest struct {
	PortfolioID   string  `json:"portfolio_id" binding:"required"`
	ProfitPercent float64 `json:"profit_percent"`
}

// RecordTradeResult 记录已平仓交易结果
func (h *RiskEngineHandler) RecordTradeResult(c *gin.Context) {
	var req tradeResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.service.RecordTradeResult(req.PortfolioID, req.ProfitPercent)
	c.JSON(http.StatusOK, gin.H{"recorded": true})
}

// dailyCloseRequest 每日收盘上报
type dailyCloseRequest struct {
	PortfolioID string  `json:"portfolio_id" binding:"required"`
	PnLPercent  float64 `json:"pnl_percent"`
}

// RecordDailyClose 记录每日收盘盈亏
func (h *RiskEngineHandler) RecordDailyClose(c *gin.Context) {
	var req dailyCloseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.service.RecordDailyClose(req.PortfolioID, req.PnLPercent)
	c.JSON(http.StatusOK, gin.H{"recorded": true})
}

// scenarioRequest 压力测试情景请求
type scenarioRequest struct {
	Portfolio *domain.Portfolio     `json:"portfolio" binding:"required"`
	Scenario  domain.StressScenario `json:"scenario" binding:"required"`
}

// RunScenario 执行单个压力测试情景
func (h *RiskEngineHandler) RunScenario(c *gin.Context) {
	var req scenarioRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result := h.service.RunScenario(c.Request.Context(), req.Scenario, req.Portfolio)
	c.JSON(http.StatusOK, result)
}

// RunAllScenarios 执行内置情景库
func (h *RiskEngineHandler) RunAllScenarios(c *gin.Context) {
	var req evaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	results := h.service.RunAllScenarios(c.Request.Context(), req.Portfolio)
	c.JSON(http.StatusOK, results)
}

// WorstCase 最坏情况分析
func (h *RiskEngineHandler) WorstCase(c *gin.Context) {
	var req evaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, h.service.WorstCase(req.Portfolio))
}

// monteCarloRequest 蒙特卡洛模拟请求
type monteCarloRequest struct {
	Portfolio   *domain.Portfolio `json:"portfolio" binding:"required"`
	Simulations int               `json:"simulations"`
	HorizonDays int               `json:"horizon_days"`
	Confidence  float64           `json:"confidence"`
}

// RunMonteCarlo 蒙特卡洛模拟
func (h *RiskEngineHandler) RunMonteCarlo(c *gin.Context) {
	var req monteCarloRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	in := domain.MonteCarloInput{
		PortfolioID: req.Portfolio.ID,
		Simulations: req.Simulations,
		HorizonDays: req.HorizonDays,
		Confidence:  req.Confidence,
	}
	result, err := h.service.RunMonteCarlo(c.Request.Context(), in, req.Portfolio)
	if err != nil {
		logger.Error(c.Request.Context(), "monte carlo simulation failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// operatorRequest 操作员恢复请求
type operatorRequest struct {
	PortfolioID string `json:"portfolio_id" binding:"required"`
	Operator    string `json:"operator" binding:"required"`
	Reason      string `json:"reason" binding:"required"`
}

// UnblockOrders 操作员解除订单冻结
func (h *RiskEngineHandler) UnblockOrders(c *gin.Context) {
	var req operatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.service.UnblockOrders(c.Request.Context(), req.PortfolioID, req.Operator, req.Reason); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.service.Status(req.PortfolioID))
}

// ResumeTrading 操作员恢复交易
func (h *RiskEngineHandler) ResumeTrading(c *gin.Context) {
	var req operatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.service.ResumeTrading(c.Request.Context(), req.PortfolioID, req.Operator, req.Reason); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.service.Status(req.PortfolioID))
}

// Status 组合当前风控状态
func (h *RiskEngineHandler) Status(c *gin.Context) {
	portfolioID := c.Query("portfolio_id")
	if portfolioID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "portfolio_id is required"})
		return
	}
	c.JSON(http.StatusOK, h.service.Status(portfolioID))
}

// LastSnapshot 最近一次评估的指标快照
func (h *RiskEngineHandler) LastSnapshot(c *gin.Context) {
	portfolioID := c.Query("portfolio_id")
	if portfolioID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "portfolio_id is required"})
		return
	}

	snap := h.service.LastSnapshot(portfolioID)
	if snap == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no evaluation has run for this portfolio"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Alerts 最近的告警记录
func (h *RiskEngineHandler) Alerts(c *gin.Context) {
	portfolioID := c.Query("portfolio_id")
	if portfolioID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "portfolio_id is required"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	c.JSON(http.StatusOK, h.service.Alerts(portfolioID, limit))
}

// Actions 最近的风控动作记录
func (h *RiskEngineHandler) Actions(c *gin.Context) {
	portfolioID := c.Query("portfolio_id")
	if portfolioID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "portfolio_id is required"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	c.JSON(http.StatusOK, h.service.Actions(portfolioID, limit))
}
