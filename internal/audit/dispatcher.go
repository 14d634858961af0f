package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Config sizes the queue between authentication flows and the sink.
type Config struct {
	// Enabled turns dispatch on. Disabled builds return a nil
	// Dispatcher; every method is safe to call on nil.
	Enabled bool

	// BufferSize is how many events may queue while the sink is busy.
	// Values below 1 are raised to 1.
	BufferSize int

	// DropIfFull sheds events when the queue is full instead of
	// blocking the caller. Shed events are counted and reported by
	// Dropped so they stay visible to operators.
	DropIfFull bool
}

// Dispatcher hands events from authentication flows to a Sink on a
// single background goroutine. Sink latency never delays an OTP
// request or a token refresh; at worst events queue, and under
// DropIfFull they are counted and shed.
type Dispatcher struct {
	sink       Sink
	queue      chan Event
	stop       chan struct{}
	dropIfFull bool

	stopping atomic.Bool
	dropped  atomic.Uint64
	stopOnce sync.Once
	worker   sync.WaitGroup
}

// NewDispatcher starts the forwarding goroutine. A disabled config
// yields nil, which callers treat as dispatch-off.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}

	size := cfg.BufferSize
	if size < 1 {
		size = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		sink:       sink,
		queue:      make(chan Event, size),
		stop:       make(chan struct{}),
		dropIfFull: cfg.DropIfFull,
	}
	d.worker.Add(1)
	go d.forward()
	return d
}

func (d *Dispatcher) forward() {
	defer d.worker.Done()
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-d.stop:
			d.drain()
			return
		}
	}
}

// drain empties whatever is queued at shutdown so accepted events are
// never silently lost.
func (d *Dispatcher) drain() {
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		default:
			return
		}
	}
}

// deliver stamps events that arrive without a timestamp so sinks
// always see when the event reached them.
func (d *Dispatcher) deliver(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	d.sink.Emit(context.Background(), ev)
}

// Emit queues an event for delivery. With DropIfFull set a full queue
// increments the drop counter and returns immediately; otherwise the
// caller blocks until there is room, the context is canceled, or the
// dispatcher shuts down.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.stopping.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.dropIfFull {
		select {
		case d.queue <- event:
		case <-d.stop:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.queue <- event:
	case <-ctx.Done():
	case <-d.stop:
	}
}

// Close stops intake, flushes queued events to the sink, and waits for
// the forwarding goroutine to exit. Safe to call more than once.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.stopOnce.Do(func() {
		d.stopping.Store(true)
		close(d.stop)
		d.worker.Wait()
	})
}

// Dropped reports how many events were shed because the queue was full.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
