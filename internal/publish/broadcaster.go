package publish

import (
	"context"
	"sync"

	"github.com/deenoize/crypto-p2p-ai/internal/logger"
	"github.com/deenoize/crypto-p2p-ai/internal/poller"
)

// subscriber is one output channel. An empty pair receives every result.
type subscriber struct {
	pair string
	ch   chan poller.Result
}

// Broadcaster fans completed polling cycles out to any number of
// subscribers: the Redis writer, the alerter, the Kafka publisher and each
// websocket client.
type Broadcaster struct {
	source <-chan poller.Result
	log    *logger.Logger

	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
	closed bool
}

// NewBroadcaster creates a Broadcaster reading from source, typically
// Poller.Results.
func NewBroadcaster(source <-chan poller.Result, log *logger.Logger) *Broadcaster {
	return &Broadcaster{
		source: source,
		log:    log.With(logger.F("component", "broadcaster")),
		subs:   make(map[int]*subscriber),
	}
}

// Subscribe returns a buffered channel of results for pair (a PairSpec key
// such as "USDT-USD"), or for every pair when pair is empty. The returned
// func unsubscribes and closes the channel. The caller must drain the
// channel; a full buffer drops results.
func (b *Broadcaster) Subscribe(pair string, buffer int) (<-chan poller.Result, func()) {
	if buffer < 1 {
		buffer = 16
	}
	ch := make(chan poller.Result, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = &subscriber{pair: pair, ch: ch}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if s, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(s.ch)
			}
			b.mu.Unlock()
		})
	}
}

// Run distributes results until ctx is cancelled or the source closes, then
// closes every subscriber channel.
func (b *Broadcaster) Run(ctx context.Context) {
	defer b.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-b.source:
			if !ok {
				return
			}
			b.distribute(res)
		}
	}
}

// distribute never blocks: slow subscribers lose the result.
func (b *Broadcaster) distribute(res poller.Result) {
	key := res.Pair.Key()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, s := range b.subs {
		if s.pair != "" && s.pair != key {
			continue
		}
		select {
		case s.ch <- res:
		default:
			b.log.Warn("dropping result for slow subscriber",
				logger.F("subscriber", id), logger.F("cycle_id", res.CycleID))
		}
	}
}

func (b *Broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, s := range b.subs {
		close(s.ch)
		delete(b.subs, id)
	}
	b.closed = true
}
