package forward

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cypher-asi/z-billing/internal/billing"
)

// Forwarder drains a bounded queue of committed usage events into a sink.
// Enqueue never blocks: when the queue is full the oldest event is
// dropped, so an analytics outage cannot grow memory without bound.
type Forwarder struct {
	sink    AnalyticsSink
	queue   chan *billing.UsageEvent
	timeout time.Duration
	logger  *slog.Logger

	wg sync.WaitGroup
}

// ForwarderOptions tunes queue depth and per-event delivery timeout.
type ForwarderOptions struct {
	QueueSize int
	Timeout   time.Duration
}

func NewForwarder(sink AnalyticsSink, opts ForwarderOptions, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Forwarder{
		sink:    sink,
		queue:   make(chan *billing.UsageEvent, opts.QueueSize),
		timeout: opts.Timeout,
		logger:  logger,
	}
}

// Enqueue hands an event to the forwarder. Called after the ledger batch
// committed; never blocks the caller.
func (f *Forwarder) Enqueue(event *billing.UsageEvent) {
	if f == nil || f.sink == nil || event == nil {
		return
	}
	for {
		select {
		case f.queue <- event:
			return
		default:
		}
		select {
		case dropped := <-f.queue:
			f.logger.Warn("analytics queue full, dropping oldest event",
				"dropped_event_id", dropped.EventID)
		default:
		}
	}
}

// Run drains the queue until ctx is cancelled.
func (f *Forwarder) Run(ctx context.Context) {
	if f == nil || f.sink == nil {
		return
	}
	f.wg.Add(1)
	defer f.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-f.queue:
			f.deliver(ctx, event)
		}
	}
}

func (f *Forwarder) deliver(ctx context.Context, event *billing.UsageEvent) {
	deliverCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if err := f.sink.Forward(deliverCtx, event); err != nil {
		f.logger.Warn("analytics forward failed",
			"event_id", event.EventID,
			"error", err)
	}
}

// Wait blocks until Run has returned. Used during shutdown.
func (f *Forwarder) Wait() {
	if f == nil {
		return
	}
	f.wg.Wait()
}
