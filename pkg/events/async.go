package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Async hands events to a slow sink on a background goroutine so Publish never waits
// on the network. When the buffer is full the event is dropped and counted.
type Async struct {
	next Sink
	log  *zap.SugaredLogger

	ch   chan Event
	done chan struct{}
	once sync.Once

	mu      sync.Mutex
	dropped uint64
}

func NewAsync(next Sink, buffer int, log *zap.SugaredLogger) *Async {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if buffer <= 0 {
		buffer = 1024
	}
	a := &Async{
		next: next,
		log:  log,
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) run() {
	defer close(a.done)
	for ev := range a.ch {
		a.next.Publish(context.Background(), ev)
	}
}

func (a *Async) Publish(_ context.Context, ev Event) {
	select {
	case a.ch <- ev:
	default:
		a.mu.Lock()
		a.dropped++
		n := a.dropped
		a.mu.Unlock()
		a.log.Warnw("event_dropped", "seq", ev.Seq, "kind", ev.Kind, "dropped_total", n)
	}
}

// Dropped reports how many events were lost to a full buffer.
func (a *Async) Dropped() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

// Close drains the buffer and stops the worker. Publish must not be called after.
func (a *Async) Close() {
	a.once.Do(func() { close(a.ch) })
	<-a.done
}
