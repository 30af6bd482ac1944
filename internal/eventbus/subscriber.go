package eventbus

import (
	"context"
	"encoding/json"
	"sync"
)

// ProgressSubscriber fans out decoded ProgressEvents from a single
// "vlog:progress:all" subscription to any number of per-request listeners,
// so an SSE handler per connected client does not each open its own Redis
// subscription.
type ProgressSubscriber struct {
	bus *Bus

	mu        sync.Mutex
	listeners map[int]chan ProgressEvent
	nextID    int
	sub       *Subscription
	cancel    context.CancelFunc
}

// NewProgressSubscriber opens the shared "all" subscription and begins
// dispatching to registered listeners until ctx is cancelled.
func NewProgressSubscriber(ctx context.Context, bus *Bus) *ProgressSubscriber {
	ctx, cancel := context.WithCancel(ctx)
	sub := bus.Subscribe(ctx, ChannelName(ChannelProgress, "all"))
	p := &ProgressSubscriber{
		bus:       bus,
		listeners: make(map[int]chan ProgressEvent),
		sub:       sub,
		cancel:    cancel,
	}
	go p.loop(ctx)
	return p
}

func (p *ProgressSubscriber) loop(ctx context.Context) {
	ch := p.sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var evt ProgressEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				continue
			}
			p.dispatch(evt)
		}
	}
}

func (p *ProgressSubscriber) dispatch(evt ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.listeners {
		select {
		case ch <- evt:
		default:
			// Slow listener: drop rather than block the shared fan-out loop.
		}
	}
}

// Listen registers a new listener channel and returns it along with a
// function to unregister it.
func (p *ProgressSubscriber) Listen() (<-chan ProgressEvent, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	ch := make(chan ProgressEvent, 16)
	p.listeners[id] = ch

	return ch, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
		close(ch)
	}
}

// Close stops the dispatch loop and closes the underlying subscription.
func (p *ProgressSubscriber) Close() error {
	p.cancel()
	return p.sub.Close()
}
