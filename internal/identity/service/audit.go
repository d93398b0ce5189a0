package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fluxgate/tenancy/internal/identity/domain"
	"github.com/fluxgate/tenancy/internal/identity/store"
	"github.com/fluxgate/tenancy/pkg/idx"
)

// AuditDispatcher writes audit events to the store asynchronously so the
// primary operation never waits on, or fails because of, the audit trail.
// When the buffer is full the event is dropped and counted.
//
// A nil *AuditDispatcher is valid and discards everything, which keeps
// service construction simple in tests.
type AuditDispatcher struct {
	store  store.Store
	logger *slog.Logger

	ch        chan domain.AuditEvent
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewAuditDispatcher starts the background writer. bufferSize defaults to
// 256 when non-positive.
func NewAuditDispatcher(st store.Store, logger *slog.Logger, bufferSize int) *AuditDispatcher {
	if bufferSize <= 0 {
		bufferSize = 256
	}

	d := &AuditDispatcher{
		store:  st,
		logger: logger,
		ch:     make(chan domain.AuditEvent, bufferSize),
		done:   make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *AuditDispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.write(event)
		case <-d.done:
			// Drain whatever is already buffered before exiting.
			for {
				select {
				case event := <-d.ch:
					d.write(event)
				default:
					return
				}
			}
		}
	}
}

func (d *AuditDispatcher) write(event domain.AuditEvent) {
	if err := d.store.AuditEvents().Append(context.Background(), event); err != nil {
		d.logger.Error("failed to write audit event",
			slog.Any("error", err),
			slog.String("action", event.Action),
		)
	}
}

// Emit queues one event. It fills in the id and timestamp, and never blocks:
// a full buffer drops the event.
func (d *AuditDispatcher) Emit(ctx context.Context, event domain.AuditEvent) {
	if d == nil || d.closed.Load() {
		return
	}

	if event.ID == "" {
		event.ID = idx.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	select {
	case d.ch <- event:
	case <-d.done:
	default:
		d.dropped.Add(1)
	}
}

// Close stops the worker after draining the buffer. Safe to call twice and
// on a nil dispatcher.
func (d *AuditDispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped reports how many events were discarded due to a full buffer.
func (d *AuditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
