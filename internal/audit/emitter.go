package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	plog "github.com/straja-ai/piiguard/internal/log"
	"github.com/straja-ai/piiguard/internal/redact"
)

const (
	defaultQueueSize       = 1000
	defaultWorkers         = 1
	defaultShutdownTimeout = 2 * time.Second
)

// Sink receives audit events from an Emitter.
type Sink interface {
	Name() string
	Deliver(context.Context, *Event) error
	Close(context.Context) error
}

// Stats is a point-in-time copy of an emitter's delivery counters. The
// per-sink maps are keyed by Sink.Name.
type Stats struct {
	Enqueued  uint64
	Dropped   uint64
	Delivered map[string]uint64
	Failed    map[string]uint64
}

type sinkState struct {
	sink      Sink
	delivered atomic.Uint64
	failed    atomic.Uint64
}

// EmitterConfig sizes the queue and worker pool. Zero values use defaults.
type EmitterConfig struct {
	QueueSize       int
	Workers         int
	ShutdownTimeout time.Duration
	Logger          *zap.Logger
}

// Emitter is an audit Logger that queues events and hands them to its sinks
// from background workers. LogEvent never waits on sink I/O; when the queue
// is full the event is dropped and counted.
type Emitter struct {
	queue    chan *Event
	sinks    []*sinkState
	log      *zap.Logger
	shutdown time.Duration

	// deliverCtx is cancelled when Close gives up waiting, aborting
	// in-flight webhook retries.
	deliverCtx    context.Context
	cancelDeliver context.CancelFunc

	enqueued atomic.Uint64
	dropped  atomic.Uint64

	mu      sync.RWMutex
	closed  bool
	workers sync.WaitGroup
}

// NewEmitter starts the worker pool for sinks.
func NewEmitter(cfg EmitterConfig, sinks []Sink) *Emitter {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	cfg.Logger = plog.OrNop(cfg.Logger)

	e := &Emitter{
		queue:    make(chan *Event, cfg.QueueSize),
		sinks:    make([]*sinkState, 0, len(sinks)),
		log:      cfg.Logger,
		shutdown: cfg.ShutdownTimeout,
	}
	e.deliverCtx, e.cancelDeliver = context.WithCancel(context.Background())
	for _, s := range sinks {
		e.sinks = append(e.sinks, &sinkState{sink: s})
	}

	e.workers.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go e.run()
	}
	return e
}

// LogEvent queues ev for delivery. It returns ErrQueueFull or ErrClosed when
// the event is dropped.
func (e *Emitter) LogEvent(_ context.Context, ev *Event) error {
	if e == nil || ev == nil {
		return nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		e.dropped.Add(1)
		return ErrClosed
	}
	select {
	case e.queue <- ev:
		e.enqueued.Add(1)
		return nil
	default:
		e.dropped.Add(1)
		return ErrQueueFull
	}
}

// Close stops intake, waits up to the shutdown timeout (or ctx) for queued
// events to be delivered, then closes every sink. Calling Close again is a
// no-op.
func (e *Emitter) Close(ctx context.Context) {
	if e == nil {
		return
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, e.shutdown)
	defer cancel()

	drained := make(chan struct{})
	go func() {
		e.workers.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		e.log.Warn("audit: shutdown timed out, abandoning queued events",
			zap.Int("pending", len(e.queue)))
	}
	e.cancelDeliver()

	for _, st := range e.sinks {
		if err := st.sink.Close(ctx); err != nil {
			e.log.Warn("audit: closing sink failed",
				zap.String("sink", redact.String(st.sink.Name())),
				redact.Error(err))
		}
	}
}

// Stats copies the current counters.
func (e *Emitter) Stats() Stats {
	if e == nil {
		return Stats{}
	}
	s := Stats{
		Enqueued:  e.enqueued.Load(),
		Dropped:   e.dropped.Load(),
		Delivered: make(map[string]uint64, len(e.sinks)),
		Failed:    make(map[string]uint64, len(e.sinks)),
	}
	for _, st := range e.sinks {
		name := st.sink.Name()
		s.Delivered[name] += st.delivered.Load()
		s.Failed[name] += st.failed.Load()
	}
	return s
}

func (e *Emitter) run() {
	defer e.workers.Done()
	for ev := range e.queue {
		for _, st := range e.sinks {
			e.deliver(st, ev)
		}
	}
}

func (e *Emitter) deliver(st *sinkState, ev *Event) {
	if err := st.sink.Deliver(e.deliverCtx, ev); err != nil {
		st.failed.Add(1)
		e.log.Warn("audit: delivery failed",
			zap.String("sink", redact.String(st.sink.Name())),
			zap.String("event_id", ev.ID),
			zap.String("event_type", ev.Type),
			redact.Error(err))
		return
	}
	st.delivered.Add(1)
}
