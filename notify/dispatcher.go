package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DispatcherConfig tunes the async mail queue.
type DispatcherConfig struct {
	BufferSize  int
	RatePerSec  float64
	Burst       int
	SendTimeout time.Duration
}

// DefaultDispatcherConfig queues 256 messages and sends at most 10 per second.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{BufferSize: 256, RatePerSec: 10, Burst: 5, SendTimeout: 30 * time.Second}
}

// Dispatcher sends mail on a background goroutine. Enqueue never blocks:
// a full queue drops the message.
type Dispatcher struct {
	sender  Sender
	log     *zap.Logger
	limiter *rate.Limiter
	timeout time.Duration

	ch        chan Message
	done      chan struct{}
	wg        sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once

	sent    atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewDispatcher starts the worker.
func NewDispatcher(cfg DispatcherConfig, sender Sender, log *zap.Logger) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	d := &Dispatcher{
		sender:  sender,
		log:     log.Named("mail"),
		limiter: rate.NewLimiter(limit, cfg.Burst),
		timeout: cfg.SendTimeout,
		ch:      make(chan Message, cfg.BufferSize),
		done:    make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Enqueue queues m and reports whether it was accepted.
func (d *Dispatcher) Enqueue(m Message) bool {
	if d == nil || d.closed.Load() {
		return false
	}
	select {
	case d.ch <- m:
		return true
	default:
		d.dropped.Add(1)
		d.log.Warn("mail queue full, dropping message", zap.String("kind", m.Kind))
		return false
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case m := <-d.ch:
			d.send(m)
		case <-d.done:
			for {
				select {
				case m := <-d.ch:
					d.send(m)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) send(m Message) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.limiter.Wait(ctx); err != nil {
		d.failed.Add(1)
		d.log.Warn("mail throttle wait failed", zap.String("kind", m.Kind), zap.Error(err))
		return
	}
	if err := d.sender.Send(ctx, m); err != nil {
		d.failed.Add(1)
		d.log.Error("mail send failed", zap.String("kind", m.Kind), zap.Error(err))
		return
	}
	d.sent.Add(1)
}

// Close flushes queued messages and stops the worker.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Stats reports sent, dropped and failed counts.
func (d *Dispatcher) Stats() (sent, dropped, failed uint64) {
	if d == nil {
		return 0, 0, 0
	}
	return d.sent.Load(), d.dropped.Load(), d.failed.Load()
}
