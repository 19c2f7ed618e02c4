// Package config 提供 TOML 配置加载、环境变量覆盖、默认值与校验
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/kaenozu/Ult-sub007/pkg/logger"
)

// Config 风险引擎服务配置
type Config struct {
	// 服务名称
	ServiceName string `mapstructure:"service_name"`
	// 服务版本
	Version string `mapstructure:"version"`
	// 环境：dev, staging, prod
	Environment string `mapstructure:"environment"`
	// HTTP 服务配置
	HTTP HTTPConfig `mapstructure:"http"`
	// 数据库配置（告警/动作归档，可选）
	Database DatabaseConfig `mapstructure:"database"`
	// Kafka 配置（事件发布，可选）
	Kafka KafkaConfig `mapstructure:"kafka"`
	// 日志配置
	Logger logger.Config `mapstructure:"logger"`
	// 指标配置
	Metrics MetricsConfig `mapstructure:"metrics"`
	// 风险指标引擎配置
	Risk RiskConfig `mapstructure:"risk"`
	// 仓位计算引擎配置
	Sizing SizingConfig `mapstructure:"sizing"`
	// 动态风险调整配置
	Adjuster AdjusterConfig `mapstructure:"adjuster"`
	// 自动风控配置
	Control ControlConfig `mapstructure:"control"`
	// 压力测试配置
	Stress StressConfig `mapstructure:"stress"`
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	// 监听地址
	Host string `mapstructure:"host"`
	// 监听端口
	Port int `mapstructure:"port"`
	// 读超时（秒）
	ReadTimeout int `mapstructure:"read_timeout"`
	// 写超时（秒）
	WriteTimeout int `mapstructure:"write_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 是否启用归档仓储
	Enabled bool `mapstructure:"enabled"`
	// 数据源名称
	DSN string `mapstructure:"dsn"`
	// 最大连接数
	MaxOpenConns int `mapstructure:"max_open_conns"`
	// 最大空闲连接数
	MaxIdleConns int `mapstructure:"max_idle_conns"`
	// 连接最大生命周期（秒）
	ConnMaxLifetime int `mapstructure:"conn_max_lifetime"`
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	// 是否启用事件发布
	Enabled bool `mapstructure:"enabled"`
	// Broker 地址列表
	Brokers []string `mapstructure:"brokers"`
	// 最大重试次数
	MaxRetries int `mapstructure:"max_retries"`
	// 重试退避（毫秒）
	RetryBackoff int `mapstructure:"retry_backoff"`
}

// MetricsConfig Prometheus 指标配置
type MetricsConfig struct {
	// 是否启用
	Enabled bool `mapstructure:"enabled"`
	// 指标路径
	Path string `mapstructure:"path"`
}

// RiskConfig 风险指标引擎配置。所有阈值均为业务策略，禁止硬编码
type RiskConfig struct {
	// 综合评分分级阈值（0-100）
	SafeThreshold    float64 `mapstructure:"safe_threshold"`
	CautionThreshold float64 `mapstructure:"caution_threshold"`
	WarningThreshold float64 `mapstructure:"warning_threshold"`
	DangerThreshold  float64 `mapstructure:"danger_threshold"`
	// 告警阈值
	MaxTotalRiskPercent float64 `mapstructure:"max_total_risk_percent"`
	MaxDrawdownPercent  float64 `mapstructure:"max_drawdown_percent"`
	MaxDailyLossPercent float64 `mapstructure:"max_daily_loss_percent"`
	MaxConcentration    float64 `mapstructure:"max_concentration"`
	MaxCorrelation      float64 `mapstructure:"max_correlation"`
	// 综合评分中波动率的归一化基准（年化，如 0.40 表示 40% 记满分）
	VolatilityReference float64 `mapstructure:"volatility_reference"`
	// 历史法 VaR 所需最少样本数，不足时退化为参数法
	HistoricalVaRMinSamples int `mapstructure:"historical_var_min_samples"`
	// 收益率滚动窗口（交易日）
	ReturnWindow int `mapstructure:"return_window"`
	// 告警日志容量（超出后淘汰最旧记录）
	AlertLogCapacity int `mapstructure:"alert_log_capacity"`
}

// SizingConfig 仓位计算引擎配置
type SizingConfig struct {
	// 分数凯利安全系数（默认半凯利）
	KellyFraction float64 `mapstructure:"kelly_fraction"`
	// 单仓位占总资金上限（%）
	MaxPositionPercent float64 `mapstructure:"max_position_percent"`
	// 单行业占总资金上限（%）
	MaxSectorPercent float64 `mapstructure:"max_sector_percent"`
	// 默认单笔风险占比（%）
	DefaultRiskPercent float64 `mapstructure:"default_risk_percent"`
	// 波动率目标（年化）
	TargetVolatility float64 `mapstructure:"target_volatility"`
	// 波动率缩放下限/上限
	MinVolatilityScale float64 `mapstructure:"min_volatility_scale"`
	MaxVolatilityScale float64 `mapstructure:"max_volatility_scale"`
}

// AdjusterConfig 动态风险调整配置
type AdjusterConfig struct {
	// 市场状态判定：波动率高/低阈值（年化）
	HighVolatilityThreshold float64 `mapstructure:"high_volatility_threshold"`
	LowVolatilityThreshold  float64 `mapstructure:"low_volatility_threshold"`
	// 牛/熊判定的当日盈亏阈值（%）
	BullPnLPercent float64 `mapstructure:"bull_pnl_percent"`
	BearPnLPercent float64 `mapstructure:"bear_pnl_percent"`
	// 各市场状态的风险乘数
	BullMultiplier     float64 `mapstructure:"bull_multiplier"`
	BearMultiplier     float64 `mapstructure:"bear_multiplier"`
	SidewaysMultiplier float64 `mapstructure:"sideways_multiplier"`
	VolatileMultiplier float64 `mapstructure:"volatile_multiplier"`
	StableMultiplier   float64 `mapstructure:"stable_multiplier"`
	// 连亏调整：每笔减少比例与最大减少比例
	PerLossReduction float64 `mapstructure:"per_loss_reduction"`
	MaxLossReduction float64 `mapstructure:"max_loss_reduction"`
	// 盈利调整：每累计 N% 盈利增加的比例与最大增加比例
	ProfitStepPercent    float64 `mapstructure:"profit_step_percent"`
	ProfitIncreaseRate   float64 `mapstructure:"profit_increase_rate"`
	MaxProfitIncrease    float64 `mapstructure:"max_profit_increase"`
	// 调整后风险占比边界（%）
	MinRiskPercent float64 `mapstructure:"min_risk_percent"`
	MaxRiskPercent float64 `mapstructure:"max_risk_percent"`
}

// ControlConfig 自动风控配置
type ControlConfig struct {
	// 单日最大亏损（%），触发订单冻结
	MaxDailyLossPercent float64 `mapstructure:"max_daily_loss_percent"`
	// 最大回撤（%），触发减仓
	MaxDrawdownPercent float64 `mapstructure:"max_drawdown_percent"`
	// 滚动窗口内最大连续亏损天数，触发订单冻结
	MaxConsecutiveLossDays int `mapstructure:"max_consecutive_loss_days"`
	// 紧急停止：回撤/总风险阈值（%）
	EmergencyDrawdownPercent float64 `mapstructure:"emergency_drawdown_percent"`
	EmergencyRiskPercent     float64 `mapstructure:"emergency_risk_percent"`
	// 是否允许紧急停止（比冻结更具破坏性，需显式开启）
	EnableEmergencyHalt bool `mapstructure:"enable_emergency_halt"`
	// 崩盘检测：窗口内跌幅阈值（%）与时间窗口
	CrashDropPercent float64       `mapstructure:"crash_drop_percent"`
	CrashWindow      time.Duration `mapstructure:"crash_window"`
	// 减仓建议：单仓位权重阈值（%）与浮亏阈值（%，负数）
	ReductionWeightPercent float64 `mapstructure:"reduction_weight_percent"`
	ReductionLossPercent   float64 `mapstructure:"reduction_loss_percent"`
	// 相同动作去重窗口
	ActionDedupWindow time.Duration `mapstructure:"action_dedup_window"`
	// 动作日志容量
	ActionLogCapacity int `mapstructure:"action_log_capacity"`
}

// StressConfig 压力测试配置
type StressConfig struct {
	// 蒙特卡洛模拟次数
	Simulations int `mapstructure:"simulations"`
	// 模拟时间跨度（交易日）
	HorizonDays int `mapstructure:"horizon_days"`
	// 置信度
	ConfidenceLevel float64 `mapstructure:"confidence_level"`
	// 单次模拟的最长执行时间
	Timeout time.Duration `mapstructure:"timeout"`
	// 结果缓存时效窗口（同参数重复调用不重算）
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	// 最大并发模拟任务数
	MaxConcurrent int `mapstructure:"max_concurrent"`
}

// Load 从 TOML 文件加载配置，支持环境变量覆盖
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.SetEnvPrefix("APP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTP.Port)
	}
	if c.Database.Enabled && c.Database.DSN == "" {
		return fmt.Errorf("database DSN is required when archive is enabled")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required when kafka is enabled")
	}
	if !(c.Risk.SafeThreshold < c.Risk.CautionThreshold &&
		c.Risk.CautionThreshold < c.Risk.WarningThreshold &&
		c.Risk.WarningThreshold < c.Risk.DangerThreshold) {
		return fmt.Errorf("risk level thresholds must be strictly increasing")
	}
	if c.Sizing.KellyFraction <= 0 || c.Sizing.KellyFraction > 1 {
		return fmt.Errorf("sizing kelly_fraction must be in (0, 1]")
	}
	if c.Stress.Simulations <= 0 {
		return fmt.Errorf("stress simulations must be positive")
	}
	return nil
}

// setDefaults 设置默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8087)
	v.SetDefault("http.read_timeout", 30)
	v.SetDefault("http.write_timeout", 30)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.max_retries", 3)
	v.SetDefault("kafka.retry_backoff", 100)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.file_path", "logs/riskengine.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 10)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.with_caller", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("risk.safe_threshold", 20.0)
	v.SetDefault("risk.caution_threshold", 40.0)
	v.SetDefault("risk.warning_threshold", 60.0)
	v.SetDefault("risk.danger_threshold", 80.0)
	v.SetDefault("risk.max_total_risk_percent", 80.0)
	v.SetDefault("risk.max_drawdown_percent", 15.0)
	v.SetDefault("risk.max_daily_loss_percent", 5.0)
	v.SetDefault("risk.max_concentration", 0.5)
	v.SetDefault("risk.max_correlation", 0.7)
	v.SetDefault("risk.volatility_reference", 0.40)
	v.SetDefault("risk.historical_var_min_samples", 30)
	v.SetDefault("risk.return_window", 252)
	v.SetDefault("risk.alert_log_capacity", 1000)

	v.SetDefault("sizing.kelly_fraction", 0.5)
	v.SetDefault("sizing.max_position_percent", 20.0)
	v.SetDefault("sizing.max_sector_percent", 30.0)
	v.SetDefault("sizing.default_risk_percent", 2.0)
	v.SetDefault("sizing.target_volatility", 0.15)
	v.SetDefault("sizing.min_volatility_scale", 0.5)
	v.SetDefault("sizing.max_volatility_scale", 2.0)

	v.SetDefault("adjuster.high_volatility_threshold", 0.30)
	v.SetDefault("adjuster.low_volatility_threshold", 0.10)
	v.SetDefault("adjuster.bull_pnl_percent", 2.0)
	v.SetDefault("adjuster.bear_pnl_percent", -2.0)
	v.SetDefault("adjuster.bull_multiplier", 1.2)
	v.SetDefault("adjuster.bear_multiplier", 0.6)
	v.SetDefault("adjuster.sideways_multiplier", 1.0)
	v.SetDefault("adjuster.volatile_multiplier", 0.7)
	v.SetDefault("adjuster.stable_multiplier", 1.1)
	v.SetDefault("adjuster.per_loss_reduction", 0.1)
	v.SetDefault("adjuster.max_loss_reduction", 0.5)
	v.SetDefault("adjuster.profit_step_percent", 10.0)
	v.SetDefault("adjuster.profit_increase_rate", 0.1)
	v.SetDefault("adjuster.max_profit_increase", 0.5)
	v.SetDefault("adjuster.min_risk_percent", 0.5)
	v.SetDefault("adjuster.max_risk_percent", 5.0)

	v.SetDefault("control.max_daily_loss_percent", 5.0)
	v.SetDefault("control.max_drawdown_percent", 15.0)
	v.SetDefault("control.max_consecutive_loss_days", 5)
	v.SetDefault("control.emergency_drawdown_percent", 25.0)
	v.SetDefault("control.emergency_risk_percent", 90.0)
	v.SetDefault("control.enable_emergency_halt", false)
	v.SetDefault("control.crash_drop_percent", 10.0)
	v.SetDefault("control.crash_window", "15m")
	v.SetDefault("control.reduction_weight_percent", 25.0)
	v.SetDefault("control.reduction_loss_percent", -10.0)
	v.SetDefault("control.action_dedup_window", "5m")
	v.SetDefault("control.action_log_capacity", 500)

	v.SetDefault("stress.simulations", 10000)
	v.SetDefault("stress.horizon_days", 20)
	v.SetDefault("stress.confidence_level", 0.95)
	v.SetDefault("stress.timeout", "10s")
	v.SetDefault("stress.cache_ttl", "30s")
	v.SetDefault("stress.max_concurrent", 2)
}
