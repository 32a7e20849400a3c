package authcore

import (
	"context"
	"sync"
	"sync/atomic"
)

// securityEvents are the event types that must not be shed silently: each
// one records a revocation or a credential change that incident response
// needs. Under DropIfFull these block until queued or the caller's context
// ends; routine events are dropped and counted instead.
var securityEvents = map[string]struct{}{
	AuditRefreshReuse:    {},
	AuditSessionRevoked:  {},
	AuditLogoutAll:       {},
	AuditPasswordChanged: {},
}

// auditDispatcher keeps audit emission off the request path: events are
// queued and forwarded to the sink by one background goroutine. Close stops
// intake, lets the worker drain whatever is queued, and then returns.
type auditDispatcher struct {
	cfg  AuditConfig
	sink AuditSink

	mu     sync.RWMutex
	closed bool
	ch     chan AuditEvent

	workerDone chan struct{}
	dropped    atomic.Uint64
}

func newAuditDispatcher(cfg AuditConfig, sink AuditSink) *auditDispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &auditDispatcher{
		cfg:        cfg,
		sink:       sink,
		ch:         make(chan AuditEvent, cfg.BufferSize),
		workerDone: make(chan struct{}),
	}

	go d.run()

	return d
}

// run forwards queued events until the channel is closed, then signals the
// drain is complete. Ranging over the channel is what makes Close draining:
// everything queued before the close is still delivered.
func (d *auditDispatcher) run() {
	defer close(d.workerDone)

	for event := range d.ch {
		d.sink.Emit(context.Background(), event)
	}
}

func (d *auditDispatcher) Emit(ctx context.Context, event AuditEvent) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	// The read lock pins the channel open: Close takes the write lock
	// before closing, so no send can race the close.
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	if d.cfg.DropIfFull && !isSecurityEvent(event.EventType) {
		select {
		case d.ch <- event:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.ch <- event:
	case <-ctx.Done():
		d.dropped.Add(1)
	}
}

func isSecurityEvent(eventType string) bool {
	_, ok := securityEvents[eventType]
	return ok
}

func (d *auditDispatcher) Close() {
	if d == nil {
		return
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.ch)
	d.mu.Unlock()

	<-d.workerDone
}

// Dropped reports how many events were shed because the buffer was full (or
// the emitting context ended first).
func (d *auditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
