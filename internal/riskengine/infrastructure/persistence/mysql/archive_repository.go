// Package mysql 告警与风控动作的 MySQL 归档仓储
package mysql

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/kaenozu/Ult-sub007/internal/riskengine/domain"
)

// AlertRecord 告警归档记录
type AlertRecord struct {
	ID             string    `gorm:"type:varchar(36);primaryKey"`
	PortfolioID    string    `gorm:"type:varchar(64);index"`
	Type           string    `gorm:"type:varchar(32);index"`
	Severity       string    `gorm:"type:varchar(16);index"`
	Message        string    `gorm:"type:varchar(512)"`
	CurrentValue   float64   `gorm:"type:double"`
	ThresholdValue float64   `gorm:"type:double"`
	Timestamp      time.Time `gorm:"index"`
	CreatedAt      time.Time
}

// TableName 指定表名
func (AlertRecord) TableName() string {
	return "risk_alert_archive"
}

// ActionRecord 风控动作归档记录
type ActionRecord struct {
	ID              string    `gorm:"type:varchar(36);primaryKey"`
	PortfolioID     string    `gorm:"type:varchar(64);index"`
	Type            string    `gorm:"type:varchar(32);index"`
	Severity        string    `gorm:"type:varchar(16)"`
	Reason          string    `gorm:"type:varchar(512)"`
	Symbols         string    `gorm:"type:text"`
	Recommendations string    `gorm:"type:text"`
	Urgency         string    `gorm:"type:varchar(16)"`
	Executed        bool      `gorm:"type:tinyint(1)"`
	CreatedAt       time.Time `gorm:"index"`
}

// TableName 指定表名
func (ActionRecord) TableName() string {
	return "risk_action_archive"
}

// ArchiveRepository 实现 application.ArchiveRepository
type ArchiveRepository struct {
	db *gorm.DB
}

// NewArchiveRepository 创建归档仓储
func NewArchiveRepository(db *gorm.DB) *ArchiveRepository {
	return &ArchiveRepository{db: db}
}

// AutoMigrate 建表
func (r *ArchiveRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&AlertRecord{}, &ActionRecord{})
}

// SaveAlerts 批量归档告警
func (r *ArchiveRepository) SaveAlerts(ctx context.Context, alerts []domain.RiskAlert) error {
	if len(alerts) == 0 {
		return nil
	}
	records := make([]AlertRecord, 0, len(alerts))
	for _, a := range alerts {
		records = append(records, AlertRecord{
			ID:             a.ID,
			PortfolioID:    a.PortfolioID,
			Type:           a.Type,
			Severity:       string(a.Severity),
			Message:        a.Message,
			CurrentValue:   a.CurrentValue,
			ThresholdValue: a.ThresholdValue,
			Timestamp:      a.Timestamp,
		})
	}
	if err := r.db.WithContext(ctx).Create(&records).Error; err != nil {
		return fmt.Errorf("failed to archive alerts: %w", err)
	}
	return nil
}

// SaveAction 归档单条风控动作
func (r *ArchiveRepository) SaveAction(ctx context.Context, action *domain.RiskControlAction) error {
	symbols, _ := json.Marshal(action.Symbols)
	recommendations, _ := json.Marshal(action.Recommendations)

	record := ActionRecord{
		ID:              action.ID,
		PortfolioID:     action.PortfolioID,
		Type:            string(action.Type),
		Severity:        string(action.Severity),
		Reason:          action.Reason,
		Symbols:         string(symbols),
		Recommendations: string(recommendations),
		Urgency:         string(action.Urgency),
		Executed:        action.Executed,
		CreatedAt:       action.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to archive action: %w", err)
	}
	return nil
}

// ListAlerts 按时间倒序查询归档告警
func (r *ArchiveRepository) ListAlerts(ctx context.Context, portfolioID string, limit int) ([]domain.RiskAlert, error) {
	if limit <= 0 {
		limit = 100
	}
	var records []AlertRecord
	err := r.db.WithContext(ctx).
		Where("portfolio_id = ?", portfolioID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list archived alerts: %w", err)
	}

	alerts := make([]domain.RiskAlert, 0, len(records))
	for _, rec := range records {
		alerts = append(alerts, domain.RiskAlert{
			ID:             rec.ID,
			PortfolioID:    rec.PortfolioID,
			Type:           rec.Type,
			Severity:       domain.AlertSeverity(rec.Severity),
			Message:        rec.Message,
			CurrentValue:   rec.CurrentValue,
			ThresholdValue: rec.ThresholdValue,
			Timestamp:      rec.Timestamp,
		})
	}
	return alerts, nil
}

// ListActions 按时间倒序查询归档动作
func (r *ArchiveRepository) ListActions(ctx context.Context, portfolioID string, limit int) ([]*domain.RiskControlAction, error) {
	if limit <= 0 {
		limit = 100
	}
	var records []ActionRecord
	err := r.db.WithContext(ctx).
		Where("portfolio_id = ?", portfolioID).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list archived actions: %w", err)
	}

	actions := make([]*domain.RiskControlAction, 0, len(records))
	for _, rec := range records {
		action := &domain.RiskControlAction{
			ID:          rec.ID,
			PortfolioID: rec.PortfolioID,
			Type:        domain.ActionType(rec.Type),
			Severity:    domain.AlertSeverity(rec.Severity),
			Reason:      rec.Reason,
			Urgency:     domain.ActionUrgency(rec.Urgency),
			Executed:    rec.Executed,
			CreatedAt:   rec.CreatedAt,
		}
		_ = json.Unmarshal([]byte(rec.Symbols), &action.Symbols)
		_ = json.Unmarshal([]byte(rec.Recommendations), &action.Recommendations)
		actions = append(actions, action)
	}
	return actions, nil
}
