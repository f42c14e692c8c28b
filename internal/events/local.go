package events

import (
	"context"
	"sync"
)

// LocalBus is an in-process Publisher and Subscriber for single-replica
// deployments without Redis. Handlers run synchronously on the publishing
// goroutine.
type LocalBus struct {
	mu       sync.RWMutex
	handlers map[string][]*localSub
}

type localSub struct {
	handler func(Event)
}

func NewLocalBus() *LocalBus {
	return &LocalBus{handlers: make(map[string][]*localSub)}
}

func (b *LocalBus) Publish(_ context.Context, stream string, event Event) error {
	b.mu.RLock()
	subs := append([]*localSub(nil), b.handlers[stream]...)
	b.mu.RUnlock()
	for _, s := range subs {
		s.handler(event)
	}
	return nil
}

// Subscribe registers handler until ctx is done.
func (b *LocalBus) Subscribe(ctx context.Context, stream string, handler func(Event)) error {
	sub := &localSub{handler: handler}
	b.mu.Lock()
	b.handlers[stream] = append(b.handlers[stream], sub)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.handlers[stream]
		for i, s := range subs {
			if s == sub {
				b.handlers[stream] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}()
	return nil
}
