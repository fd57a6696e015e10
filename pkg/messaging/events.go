package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	EventStockAdjusted = "inventory.stock.adjusted"
	EventLotReceived   = "inventory.lot.received"
	EventAlertRaised   = "inventory.alert.raised"
	EventAlertCleared  = "inventory.alert.cleared"
)

// ExchangeInventoryEvents is the topic exchange stock events go to.
const ExchangeInventoryEvents = "inventory.events"

// Event is the envelope every message carries.
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data any) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v any) error {
	return json.Unmarshal(e.Data, v)
}

// Stock adjustment reasons
const (
	ReasonTreatmentCommit = "treatment.commit"
	ReasonTreatmentEdit   = "treatment.edit"
	ReasonTreatmentDelete = "treatment.delete"
	ReasonCut             = "cut"
)

// StockAdjustedEvent is published after a lot's remaining quantity changed.
type StockAdjustedEvent struct {
	LotTable    string `json:"lot_table"`
	LotID       string `json:"lot_id"`
	Delta       int    `json:"delta"`
	NewRemain   int    `json:"new_remain"`
	Reason      string `json:"reason"`
	TreatmentID string `json:"treatment_id,omitempty"`
	PerformedBy string `json:"performed_by,omitempty"`
}

// LotReceivedEvent is published after stock was added to a lot.
type LotReceivedEvent struct {
	LotTable     string `json:"lot_table"`
	LotID        string `json:"lot_id"`
	ItemRef      string `json:"item_ref"`
	ExpireDate   string `json:"expire_date,omitempty"`
	Quantity     int    `json:"quantity"`
	Price        string `json:"price"`
	Merged       bool   `json:"merged"`
	QtyRemain    int    `json:"qty_remain"`
	PricePerUnit string `json:"price_per_unit"`
}

// AlertEvent is published when a stock alert appears or goes away.
type AlertEvent struct {
	Key      string `json:"key"`
	Type     string `json:"type"`
	Severity string `json:"severity"`
	ItemName string `json:"item_name"`
	LotTable string `json:"lot_table,omitempty"`
	LotID    string `json:"lot_id,omitempty"`
	Message  string `json:"message"`
}
