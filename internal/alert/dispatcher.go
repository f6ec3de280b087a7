package alert

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/suwandre/arbwatch/internal/models"
)

const (
	DefaultQueueSize       = 256
	defaultDeliveryTimeout = 15 * time.Second
)

type Deliverer interface {
	Deliver(ctx context.Context, alert *models.Alert) error
}

type StatusUpdater interface {
	UpdateAlertStatus(ctx context.Context, id string, status models.AlertStatus) error
}

// Dispatcher delivers alerts on its own goroutines. Enqueue never blocks.
type Dispatcher struct {
	deliverer Deliverer
	status    StatusUpdater
	workers   int
	timeout   time.Duration

	mu     sync.Mutex
	queue  chan *models.Alert
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(deliverer Deliverer, status StatusUpdater, queueSize, workers int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{
		deliverer: deliverer,
		status:    status,
		workers:   workers,
		timeout:   defaultDeliveryTimeout,
		queue:     make(chan *models.Alert, queueSize),
	}
}

// Start launches the workers. ctx bounds each delivery; Stop drains the queue.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for a := range d.queue {
				d.deliver(ctx, a)
			}
		}()
	}
}

// Enqueue queues a for delivery and reports whether it was accepted. A full
// or stopped queue drops the alert and marks it failed.
func (d *Dispatcher) Enqueue(a *models.Alert) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.closed {
		select {
		case d.queue <- a:
			return true
		default:
		}
	}

	log.Warn().Str("alert", a.ID).Int64("user", a.UserID).Msg("alert queue full, dropping")
	go d.markStatus(context.Background(), a, models.AlertFailed)
	return false
}

// Stop refuses new alerts and waits until queued ones are delivered.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, a *models.Alert) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	status := models.AlertSent
	if err := d.deliverer.Deliver(dctx, a); err != nil {
		log.Error().Err(err).Str("alert", a.ID).Int64("user", a.UserID).Msg("alert delivery failed")
		status = models.AlertFailed
	}
	d.markStatus(dctx, a, status)
}

func (d *Dispatcher) markStatus(ctx context.Context, a *models.Alert, status models.AlertStatus) {
	if d.status == nil {
		return
	}
	if err := d.status.UpdateAlertStatus(ctx, a.ID, status); err != nil {
		log.Warn().Err(err).Str("alert", a.ID).Msg("failed to update alert status")
	}
}
