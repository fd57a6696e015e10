package service

import (
	"context"
	"sync"
	"time"

	"github.com/medflow/nurse-station/internal/inventory/events"
	"github.com/medflow/nurse-station/pkg/logger"
	"github.com/medflow/nurse-station/pkg/messaging"
)

// AlertScheduler runs alert scans periodically and announces changes: an
// alert is published once when it first appears and once more when a later
// scan no longer finds it.
type AlertScheduler struct {
	alerts    *AlertService
	publisher *events.InventoryEventPublisher
	interval  time.Duration
	logger    *logger.Logger
	cancel    context.CancelFunc

	mu     sync.Mutex
	active map[string]Alert
}

// NewAlertScheduler creates a new alert scheduler. publisher may be nil.
func NewAlertScheduler(alerts *AlertService, publisher *events.InventoryEventPublisher, interval time.Duration, log *logger.Logger) *AlertScheduler {
	return &AlertScheduler{
		alerts:    alerts,
		publisher: publisher,
		interval:  interval,
		logger:    log.WithComponent("alert-scheduler"),
		active:    make(map[string]Alert),
	}
}

// Start starts the scheduler in a background goroutine.
func (s *AlertScheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	go func() {
		s.logger.Info().Dur("interval", s.interval).Msg("alert scheduler started")

		// Run an initial scan immediately
		s.runScanCycle(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("alert scheduler stopped")
				return
			case <-ticker.C:
				s.runScanCycle(ctx)
			}
		}
	}()
}

// Stop stops the scheduler goroutine
func (s *AlertScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *AlertScheduler) runScanCycle(ctx context.Context) {
	start := time.Now()
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error().Err(err).Msg("alert scan failed")
		return
	}
	s.logger.Debug().Dur("duration", time.Since(start)).Msg("alert scan cycle completed")
}

// RunOnce scans and publishes what changed since the previous scan. A
// failed scan leaves the known alerts untouched.
func (s *AlertScheduler) RunOnce(ctx context.Context) error {
	alerts, err := s.alerts.Scan(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := make(map[string]Alert, len(alerts))
	for _, a := range alerts {
		key := a.Key()
		current[key] = a
		if _, known := s.active[key]; known {
			continue
		}
		s.logger.Warn().
			Str("alert", key).
			Str("severity", a.Severity).
			Str("item", a.ItemName).
			Msg(a.Message)
		s.publisher.PublishAlert(ctx, messaging.EventAlertRaised, alertEvent(key, a))
	}

	for key, a := range s.active {
		if _, still := current[key]; still {
			continue
		}
		s.logger.Info().Str("alert", key).Msg("alert cleared")
		s.publisher.PublishAlert(ctx, messaging.EventAlertCleared, alertEvent(key, a))
	}

	s.active = current
	return nil
}

func alertEvent(key string, a Alert) messaging.AlertEvent {
	return messaging.AlertEvent{
		Key:      key,
		Type:     a.Type,
		Severity: a.Severity,
		ItemName: a.ItemName,
		LotTable: a.LotTable,
		LotID:    a.LotID,
		Message:  a.Message,
	}
}
