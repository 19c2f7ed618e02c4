// Package messaging 基于 Kafka 的领域事件发布实现
package messaging

import (
	"context"

	"github.com/kaenozu/Ult-sub007/internal/riskengine/domain"
	"github.com/kaenozu/Ult-sub007/pkg/mq"
)

// KafkaEventPublisher 实现 domain.EventPublisher，每类事件发布到独立主题，
// 消息 key 为组合 ID 以保证同组合事件的分区内有序
type KafkaEventPublisher struct {
	producer *mq.KafkaProducer
}

// NewKafkaEventPublisher 创建 Kafka 事件发布器
func NewKafkaEventPublisher(producer *mq.KafkaProducer) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer}
}

// PublishActionFired 发布风控动作触发事件
func (p *KafkaEventPublisher) PublishActionFired(ctx context.Context, event *domain.ActionFiredEvent) error {
	return p.producer.SendMessage(ctx, domain.TopicActionFired, event.PortfolioID, event)
}

// PublishOrdersBlocked 发布订单冻结事件
func (p *KafkaEventPublisher) PublishOrdersBlocked(ctx context.Context, event *domain.OrdersBlockedEvent) error {
	return p.producer.SendMessage(ctx, domain.TopicOrdersBlocked, event.PortfolioID, event)
}

// PublishOrdersUnblocked 发布订单解冻事件
func (p *KafkaEventPublisher) PublishOrdersUnblocked(ctx context.Context, event *domain.OrdersUnblockedEvent) error {
	return p.producer.SendMessage(ctx, domain.TopicOrdersUnblocked, event.PortfolioID, event)
}

// PublishTradingHalted 发布紧急停止事件
func (p *KafkaEventPublisher) PublishTradingHalted(ctx context.Context, event *domain.TradingHaltedEvent) error {
	return p.producer.SendMessage(ctx, domain.TopicTradingHalted, event.PortfolioID, event)
}

// PublishTradingResumed 发布恢复交易事件
func (p *KafkaEventPublisher) PublishTradingResumed(ctx context.Context, event *domain.TradingResumedEvent) error {
	return p.producer.SendMessage(ctx, domain.TopicTradingResumed, event.PortfolioID, event)
}

// PublishAlertGenerated 发布风险告警事件
func (p *KafkaEventPublisher) PublishAlertGenerated(ctx context.Context, event *domain.AlertGeneratedEvent) error {
	return p.producer.SendMessage(ctx, domain.TopicAlertGenerated, event.PortfolioID, event)
}

// PublishMetricsUpdated 发布指标快照更新事件
func (p *KafkaEventPublisher) PublishMetricsUpdated(ctx context.Context, event *domain.MetricsUpdatedEvent) error {
	return p.producer.SendMessage(ctx, domain.TopicMetricsUpdated, event.PortfolioID, event)
}
