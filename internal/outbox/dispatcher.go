package outbox

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/drluca/orderflow/internal/eventbus"
	"github.com/drluca/orderflow/internal/events"
	"github.com/drluca/orderflow/internal/metrics"
)

// Dispatcher drains pending outbox rows to the event bus. A row that fails to
// publish stays pending and is retried on the next tick; ordering within the
// outbox is preserved by stopping the batch at the first failure.
type Dispatcher struct {
	queue    Queue
	bus      eventbus.Bus
	interval time.Duration
	batch    int
	metrics  *metrics.Metrics
}

func NewDispatcher(queue Queue, bus eventbus.Bus, interval time.Duration, batch int, m *metrics.Metrics) *Dispatcher {
	if interval <= 0 {
		interval = time.Second
	}
	if batch <= 0 {
		batch = 50
	}
	return &Dispatcher{queue: queue, bus: bus, interval: interval, batch: batch, metrics: m}
}

// Run loops until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Outbox dispatcher stopping")
			return
		case <-ticker.C:
			if err := d.Flush(ctx); err != nil {
				log.Warn().Err(err).Msg("Outbox flush failed, will retry")
			}
		}
	}
}

// Flush publishes one batch of pending rows.
func (d *Dispatcher) Flush(ctx context.Context) error {
	rows, err := d.queue.FetchPending(ctx, d.batch)
	if err != nil {
		return err
	}
	for _, row := range rows {
		env, err := events.Decode(row.Payload)
		if err != nil {
			// Undecodable rows can never publish; park them on the dead
			// marker so they stay queryable for inspection instead of
			// blending into sent rows.
			log.Error().Err(err).Int64("outboxId", row.ID).Msg("Parking undecodable outbox row")
			if err := d.queue.MarkDead(ctx, row.ID); err != nil {
				return err
			}
			continue
		}
		if err := d.bus.Publish(ctx, env); err != nil {
			return err
		}
		if err := d.queue.MarkSent(ctx, row.ID); err != nil {
			return err
		}
		d.metrics.Published(row.EventType)
		log.Debug().Str("eventId", row.EventID).Str("eventType", row.EventType).Msg("Outbox row published")
	}
	return nil
}
