package domain

import "context"

// EventPublisher 领域事件发布接口，由基础设施层实现。
// 发布失败只记录不回传：风控判定结果不因下游消息系统故障而失效
type EventPublisher interface {
	PublishActionFired(ctx context.Context, event *ActionFiredEvent) error
	PublishOrdersBlocked(ctx context.Context, event *OrdersBlockedEvent) error
	PublishOrdersUnblocked(ctx context.Context, event *OrdersUnblockedEvent) error
	PublishTradingHalted(ctx context.Context, event *TradingHaltedEvent) error
	PublishTradingResumed(ctx context.Context, event *TradingResumedEvent) error
	PublishAlertGenerated(ctx context.Context, event *AlertGeneratedEvent) error
	PublishMetricsUpdated(ctx context.Context, event *MetricsUpdatedEvent) error
}

// NoopEventPublisher 空实现，未配置消息系统时使用
type NoopEventPublisher struct{}

func (NoopEventPublisher) PublishActionFired(context.Context, *ActionFiredEvent) error       { return nil }
func (NoopEventPublisher) PublishOrdersBlocked(context.Context, *OrdersBlockedEvent) error   { return nil }
func (NoopEventPublisher) PublishOrdersUnblocked(context.Context, *OrdersUnblockedEvent) error {
	return nil
}
func (NoopEventPublisher) PublishTradingHalted(context.Context, *TradingHaltedEvent) error   { return nil }
func (NoopEventPublisher) PublishTradingResumed(context.Context, *TradingResumedEvent) error { return nil }
func (NoopEventPublisher) PublishAlertGenerated(context.Context, *AlertGeneratedEvent) error { return nil }
func (NoopEventPublisher) PublishMetricsUpdated(context.Context, *MetricsUpdatedEvent) error { return nil }
