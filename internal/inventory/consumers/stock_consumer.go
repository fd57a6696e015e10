package consumers

import (
	"context"
	"strings"

	"github.com/medflow/nurse-station/internal/sheet"
	"github.com/medflow/nurse-station/pkg/logger"
	"github.com/medflow/nurse-station/pkg/messaging"
)

// Invalidator drops cached reads of a table.
type Invalidator interface {
	Invalidate(table string)
}

// StockEventConsumer keeps this process's read cache in step with stock
// writes made by other processes sharing the same backend. Every event,
// including this process's own, purges the tables it touched.
type StockEventConsumer struct {
	consumer *messaging.Consumer
	cache    Invalidator
	logger   *logger.Logger
}

// NewStockEventConsumer subscribes a per-process queue to the inventory
// exchange.
func NewStockEventConsumer(rmq *messaging.RabbitMQ, cache Invalidator, log *logger.Logger) (*StockEventConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, log)
	if err != nil {
		return nil, err
	}
	if err := consumer.Subscribe(messaging.ExchangeInventoryEvents, "inventory.#"); err != nil {
		return nil, err
	}
	return newStockEventConsumer(consumer, cache, log), nil
}

func newStockEventConsumer(consumer *messaging.Consumer, cache Invalidator, log *logger.Logger) *StockEventConsumer {
	c := &StockEventConsumer{
		consumer: consumer,
		cache:    cache,
		logger:   log.WithComponent("stock-consumer"),
	}
	consumer.RegisterHandler(messaging.EventStockAdjusted, c.handleStockAdjusted)
	consumer.RegisterHandler(messaging.EventLotReceived, c.handleLotReceived)
	return c
}

// Start starts consuming messages
func (c *StockEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

func (c *StockEventConsumer) handleStockAdjusted(_ context.Context, event *messaging.Event) error {
	var data messaging.StockAdjustedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	c.invalidate(data.LotTable)
	if strings.HasPrefix(data.Reason, "treatment.") {
		c.cache.Invalidate(sheet.TableTreatment)
	}

	c.logger.Debug().
		Str("lot_table", data.LotTable).
		Str("lot_id", data.LotID).
		Str("reason", data.Reason).
		Msg("received stock adjusted event")
	return nil
}

func (c *StockEventConsumer) handleLotReceived(_ context.Context, event *messaging.Event) error {
	var data messaging.LotReceivedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	c.invalidate(data.LotTable)

	c.logger.Debug().
		Str("lot_table", data.LotTable).
		Str("lot_id", data.LotID).
		Msg("received lot received event")
	return nil
}

// invalidate ignores tables this service does not own.
func (c *StockEventConsumer) invalidate(table string) {
	switch table {
	case sheet.TableMedicineLot, sheet.TableOtherLot:
		c.cache.Invalidate(table)
	default:
		c.logger.Warn().Str("lot_table", table).Msg("stock event for unknown table")
	}
}
