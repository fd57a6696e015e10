package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medflow/nurse-station/internal/inventory/events"
	"github.com/medflow/nurse-station/pkg/logger"
	"github.com/medflow/nurse-station/pkg/messaging"
)

// MockPublisher captures published events for testing
type MockPublisher struct {
	events []PublishedEvent
	err    error
}

type PublishedEvent struct {
	EventType string
	Data      []byte
}

func (m *MockPublisher) Publish(_ context.Context, eventType string, data any) error {
	if m.err != nil {
		return m.err
	}
	jsonData, _ := json.Marshal(data)
	m.events = append(m.events, PublishedEvent{EventType: eventType, Data: jsonData})
	return nil
}

func TestPublishStockAdjusted(t *testing.T) {
	mock := &MockPublisher{}
	p := events.NewWithPublisher(mock, logger.Nop())

	p.PublishStockAdjusted(context.Background(), messaging.StockAdjustedEvent{
		LotTable: "other_lot", LotID: "2", Delta: 3, NewRemain: 13, Reason: messaging.ReasonTreatmentDelete,
	})

	require.Len(t, mock.events, 1)
	assert.Equal(t, messaging.EventStockAdjusted, mock.events[0].EventType)
	assert.JSONEq(t,
		`{"lot_table":"other_lot","lot_id":"2","delta":3,"new_remain":13,"reason":"treatment.delete"}`,
		string(mock.events[0].Data))
}

func TestPublishLotReceived(t *testing.T) {
	mock := &MockPublisher{}
	p := events.NewWithPublisher(mock, logger.Nop())

	p.PublishLotReceived(context.Background(), messaging.LotReceivedEvent{LotID: "1", Quantity: 10, Price: "100"})

	require.Len(t, mock.events, 1)
	assert.Equal(t, messaging.EventLotReceived, mock.events[0].EventType)
}

func TestPublisher_FailuresAreSwallowed(t *testing.T) {
	p := events.NewWithPublisher(&MockPublisher{err: errors.New("broker down")}, logger.Nop())
	assert.NotPanics(t, func() {
		p.PublishStockAdjusted(context.Background(), messaging.StockAdjustedEvent{LotID: "1"})
	})
}

func TestPublisher_NilIsNoop(t *testing.T) {
	var p *events.InventoryEventPublisher
	assert.NotPanics(t, func() {
		p.PublishStockAdjusted(context.Background(), messaging.StockAdjustedEvent{LotID: "1"})
		p.PublishLotReceived(context.Background(), messaging.LotReceivedEvent{LotID: "1"})
	})
}
