package events

import (
	"context"

	"github.com/medflow/nurse-station/pkg/logger"
	"github.com/medflow/nurse-station/pkg/messaging"
)

// Publisher is what InventoryEventPublisher publishes through.
type Publisher interface {
	Publish(ctx context.Context, eventType string, data any) error
}

// InventoryEventPublisher publishes stock events. A nil publisher is valid
// and drops every event, which is how the service runs without a broker.
type InventoryEventPublisher struct {
	publisher Publisher
	logger    *logger.Logger
}

// NewInventoryEventPublisher creates a publisher on the inventory exchange.
func NewInventoryEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*InventoryEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeInventoryEvents, "nurse-station", log)
	if err != nil {
		return nil, err
	}
	return NewWithPublisher(publisher, log), nil
}

// NewWithPublisher wraps an existing publisher.
func NewWithPublisher(p Publisher, log *logger.Logger) *InventoryEventPublisher {
	return &InventoryEventPublisher{publisher: p, logger: log}
}

// PublishStockAdjusted publishes a stock adjusted event. Failures are logged
// and never reach the caller.
func (p *InventoryEventPublisher) PublishStockAdjusted(ctx context.Context, ev messaging.StockAdjustedEvent) {
	if p == nil {
		return
	}
	if err := p.publisher.Publish(ctx, messaging.EventStockAdjusted, ev); err != nil {
		p.logger.Error().Err(err).
			Str("lot_table", ev.LotTable).
			Str("lot_id", ev.LotID).
			Msg("failed to publish stock adjusted event")
	}
}

// PublishLotReceived publishes a lot received event.
func (p *InventoryEventPublisher) PublishLotReceived(ctx context.Context, ev messaging.LotReceivedEvent) {
	if p == nil {
		return
	}
	if err := p.publisher.Publish(ctx, messaging.EventLotReceived, ev); err != nil {
		p.logger.Error().Err(err).
			Str("lot_table", ev.LotTable).
			Str("lot_id", ev.LotID).
			Msg("failed to publish lot received event")
	}
}

// PublishAlert publishes an alert raised or cleared event.
func (p *InventoryEventPublisher) PublishAlert(ctx context.Context, eventType string, ev messaging.AlertEvent) {
	if p == nil {
		return
	}
	if err := p.publisher.Publish(ctx, eventType, ev); err != nil {
		p.logger.Error().Err(err).
			Str("event_type", eventType).
			Str("alert", ev.Key).
			Msg("failed to publish alert event")
	}
}
