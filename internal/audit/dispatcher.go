package audit

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/authkit/store"
)

// blockedSendLimit bounds how long Forward waits for queue space when
// DropIfFull is off. Forward runs after the transaction committed, so it
// must not hold the caller indefinitely.
const blockedSendLimit = time.Second

// Config controls the mirror queue. A disabled config yields a nil
// Dispatcher, whose methods are no-ops.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// Dispatcher mirrors committed audit rows to a Sink on one goroutine, in
// commit order.
type Dispatcher struct {
	cfg     Config
	sink    Sink
	log     *zap.Logger
	queue   chan Event
	stop    chan struct{}
	stopped chan struct{}
	dropped atomic.Uint64
	closing atomic.Bool
	once    sync.Once
}

// NewDispatcher starts the mirror goroutine.
func NewDispatcher(cfg Config, sink Sink, log *zap.Logger) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	d := &Dispatcher{
		cfg:     cfg,
		sink:    sink,
		log:     log,
		queue:   make(chan Event, cfg.BufferSize),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go d.run()
	return d
}

// FromRecord converts a stored audit row into its mirrored form.
func FromRecord(r *store.AuditRecord) Event {
	ev := Event{
		ID:           r.ID,
		Timestamp:    r.CreatedAt,
		Action:       r.Action,
		ActorID:      r.ActorID,
		ResourceType: r.ResourceType,
		ResourceID:   r.ResourceID,
		Outcome:      r.Outcome,
		Reason:       r.Reason,
		IP:           r.IP,
		UserAgent:    r.UserAgent,
	}
	if r.Changes != "" {
		ev.Changes = json.RawMessage(r.Changes)
	}
	return ev
}

// Forward queues committed records. Nil records are skipped.
func (d *Dispatcher) Forward(recs ...*store.AuditRecord) {
	if d == nil || d.closing.Load() {
		return
	}
	for _, r := range recs {
		if r != nil {
			d.enqueue(FromRecord(r))
		}
	}
}

func (d *Dispatcher) enqueue(ev Event) {
	if d.cfg.DropIfFull {
		select {
		case d.queue <- ev:
		default:
			d.drop(ev)
		}
		return
	}

	timer := time.NewTimer(blockedSendLimit)
	defer timer.Stop()
	select {
	case d.queue <- ev:
	case <-timer.C:
		d.drop(ev)
	case <-d.stop:
		d.drop(ev)
	}
}

func (d *Dispatcher) drop(ev Event) {
	if n := d.dropped.Add(1); n == 1 || n%100 == 0 {
		d.log.Warn("audit mirror dropping events",
			zap.Uint64("dropped", n),
			zap.String("action", ev.Action),
			zap.String("id", ev.ID))
	}
}

func (d *Dispatcher) run() {
	defer close(d.stopped)
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-d.stop:
			for {
				select {
				case ev := <-d.queue:
					d.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

// deliver shields the mirror goroutine from a panicking sink.
func (d *Dispatcher) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("audit sink panicked", zap.String("action", ev.Action), zap.Any("panic", r))
		}
	}()
	d.sink.Emit(context.Background(), ev)
}

// Close delivers what is queued and stops the goroutine.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		d.closing.Store(true)
		close(d.stop)
		<-d.stopped
	})
}

// Dropped reports how many events never reached the sink.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
