package publish

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/deenoize/crypto-p2p-ai/internal/engine"
	"github.com/deenoize/crypto-p2p-ai/internal/logger"
	"github.com/deenoize/crypto-p2p-ai/internal/poller"
)

// RedisClient abstracts the Redis operations used by RedisWriter.
// In production this is satisfied by NewRedisClient; in tests by a mock.
type RedisClient interface {
	HSet(ctx context.Context, key string, values ...any) error
}

type goRedis struct {
	c *redis.Client
}

// NewRedisClient connects to Redis and adapts the client to RedisClient.
// The returned close func releases the connection pool.
func NewRedisClient(ctx context.Context, addr, password string, db int) (RedisClient, func() error, error) {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := c.Ping(ctx).Err(); err != nil {
		c.Close()
		return nil, nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return goRedis{c: c}, c.Close, nil
}

func (g goRedis) HSet(ctx context.Context, key string, values ...any) error {
	return g.c.HSet(ctx, key, values...).Err()
}

// bestQuote holds the last-written best prices for a key so we can skip
// duplicate writes.
type bestQuote struct {
	Buy  string
	Sell string
}

// RedisWriter persists the latest best prices of every cycle into Redis
// using the schema:
//
//	Key:    p2p:{exchange}:{asset}-{fiat}
//	Fields: buy, sell, ts
//
//	Key:    p2p:spot:{asset}-{fiat}
//	Fields: price, source, ts
//
// Writes are non-blocking: results are buffered in an internal channel and
// flushed by a dedicated goroutine. Unchanged prices are suppressed.
type RedisWriter struct {
	client RedisClient
	feed   <-chan poller.Result
	buf    chan poller.Result
	log    *logger.Logger

	mu   sync.Mutex
	last map[string]bestQuote // keyed by Redis key
}

// NewRedisWriter creates a RedisWriter that reads from a Broadcaster
// subscription and writes to the given Redis client.
func NewRedisWriter(client RedisClient, feed <-chan poller.Result, log *logger.Logger) *RedisWriter {
	return &RedisWriter{
		client: client,
		feed:   feed,
		buf:    make(chan poller.Result, 64),
		log:    log.With(logger.F("component", "redis_writer")),
		last:   make(map[string]bestQuote),
	}
}

// Run starts two goroutines: one to drain the feed into an internal buffer,
// and one to flush buffered results to Redis. It blocks until ctx is
// cancelled or the feed closes.
func (rw *RedisWriter) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer close(rw.buf)
		for {
			select {
			case <-ctx.Done():
				return
			case res, ok := <-rw.feed:
				if !ok {
					return
				}
				select {
				case rw.buf <- res:
				default:
					rw.log.Warn("write buffer full, dropping cycle", logger.F("cycle_id", res.CycleID))
				}
			}
		}
	}()

	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case res, ok := <-rw.buf:
				if !ok {
					return
				}
				rw.write(ctx, res)
			}
		}
	}()

	wg.Wait()
}

// write issues one HSET per snapshot whose best prices moved, plus the spot
// price when it resolved. Sides that were unavailable this cycle keep their
// previous value. An available side with no orders is written as an empty
// string. A key is only marked as written once its HSET succeeds, so failed
// writes are retried on the next cycle.
func (rw *RedisWriter) write(ctx context.Context, res poller.Result) {
	pair := res.Pair.Key()
	ts := strconv.FormatInt(res.StartedAt.UnixMilli(), 10)

	for _, snap := range res.Snapshots {
		if !snap.BuyAvailable && !snap.SellAvailable {
			continue
		}
		key := fmt.Sprintf("p2p:%s:%s", snap.Exchange, pair)

		rw.mu.Lock()
		prev, seen := rw.last[key]
		rw.mu.Unlock()

		q := prev
		if snap.BuyAvailable {
			q.Buy = bestPrice(snap.BuyOrders)
		}
		if snap.SellAvailable {
			q.Sell = bestPrice(snap.SellOrders)
		}
		if seen && q == prev {
			continue
		}

		values := []any{"ts", ts}
		if snap.BuyAvailable {
			values = append(values, "buy", q.Buy)
		}
		if snap.SellAvailable {
			values = append(values, "sell", q.Sell)
		}
		if err := rw.client.HSet(ctx, key, values...); err != nil {
			rw.log.Error(err, logger.F("key", key))
			continue
		}
		rw.remember(key, q)
	}

	if !res.SpotResolved {
		return
	}
	key := "p2p:spot:" + pair
	price := res.Spot.Price.String()

	rw.mu.Lock()
	prev, seen := rw.last[key]
	rw.mu.Unlock()
	if seen && prev.Buy == price {
		return
	}

	if err := rw.client.HSet(ctx, key, "price", price, "source", res.Spot.Source.String(), "ts", ts); err != nil {
		rw.log.Error(err, logger.F("key", key))
		return
	}
	rw.remember(key, bestQuote{Buy: price})
}

func (rw *RedisWriter) remember(key string, q bestQuote) {
	rw.mu.Lock()
	rw.last[key] = q
	rw.mu.Unlock()
}

// bestPrice is the first order's price; orders arrive sorted best first.
func bestPrice(orders []engine.Order) string {
	if len(orders) == 0 {
		return ""
	}
	return orders[0].Price.String()
}
