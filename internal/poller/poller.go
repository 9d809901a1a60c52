package poller

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/deenoize/crypto-p2p-ai/internal/adapter"
	"github.com/deenoize/crypto-p2p-ai/internal/engine"
	"github.com/deenoize/crypto-p2p-ai/internal/logger"
)

var (
	// ErrStaleCycle is returned by Cycle when a newer cycle started before
	// this one finished. Stale results are neither committed nor emitted.
	ErrStaleCycle = errors.New("cycle superseded by a newer cycle")

	// ErrAllSourcesUnavailable is the cycle-level failure: no source
	// produced data for the requested pair.
	ErrAllSourcesUnavailable = errors.New("all sources unavailable")
)

// SpotQuoter provides an external spot price. *binance.SpotQuoter
// satisfies it.
type SpotQuoter interface {
	Quote(ctx context.Context, pair adapter.PairSpec) (decimal.Decimal, error)
}

// Config holds poller settings.
type Config struct {
	Interval            time.Duration
	FetchTimeout        time.Duration
	Buckets             int
	Filters             engine.Filters
	IncludeSameExchange bool
	Breaker             adapter.BreakerConfig
}

// SourceStatus reports how one (exchange, side) fetch went. Skipped means
// the circuit breaker held the fetch back.
type SourceStatus struct {
	Exchange  adapter.Exchange `json:"exchange"`
	Side      adapter.Side     `json:"side"`
	Available bool             `json:"available"`
	Skipped   bool             `json:"skipped,omitempty"`
	Offers    int              `json:"offers"`
	Err       string           `json:"error,omitempty"`
}

// Result is everything one polling cycle produced for a pair.
type Result struct {
	CycleID           string                   `json:"cycleId"`
	Pair              adapter.PairSpec         `json:"pair"`
	StartedAt         time.Time                `json:"startedAt"`
	Duration          time.Duration            `json:"durationNs"`
	Snapshots         []engine.Snapshot        `json:"snapshots"`
	Depth             engine.DepthChart        `json:"depth"`
	Spot              engine.SpotPrice         `json:"spot"`
	SpotResolved      bool                     `json:"spotResolved"`
	Opportunities     []engine.Opportunity     `json:"opportunities"`
	SpotOpportunities []engine.SpotOpportunity `json:"spotOpportunities"`
	Sources           []SourceStatus           `json:"sources"`
	Warnings          []engine.Warning         `json:"warnings,omitempty"`
	Error             string                   `json:"error,omitempty"`

	// Err is ErrAllSourcesUnavailable when the cycle produced no data.
	Err error `json:"-"`

	gen uint64
}

// Poller runs polling cycles for one pair at a time across all sources.
type Poller struct {
	cfg         Config
	sources     []adapter.Source
	normalizers map[adapter.Exchange]*engine.Normalizer
	spot        SpotQuoter
	store       engine.IDStore
	breaker     *adapter.Breaker
	crossbook   *engine.CrossBook
	log         *logger.Logger

	gen atomic.Uint64

	cancelMu sync.Mutex
	cancel   context.CancelFunc

	// commitMu makes the poller the single writer of the IDStore.
	commitMu sync.Mutex

	results chan Result

	nowFunc func() time.Time // injectable clock for testing
}

// New creates a Poller. spot may be nil, in which case spot prices are
// derived from the order books only.
func New(cfg Config, sources []adapter.Source, spot SpotQuoter, store engine.IDStore, log *logger.Logger) (*Poller, error) {
	if len(sources) == 0 {
		return nil, errors.New("poller: at least one source is required")
	}
	if cfg.Buckets < 1 {
		return nil, fmt.Errorf("poller: %w", engine.ErrInvalidBucketCount)
	}
	if err := cfg.Filters.Validate(); err != nil {
		return nil, fmt.Errorf("poller: %w", err)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 5 * time.Second
	}
	if store == nil {
		store = engine.NewMemoryIDStore()
	}

	log = log.With(logger.F("component", "poller"))
	normalizers := make(map[adapter.Exchange]*engine.Normalizer, len(sources))
	for _, src := range sources {
		normalizers[src.Exchange()] = engine.NewNormalizer(src.Exchange(), log)
	}

	return &Poller{
		cfg:         cfg,
		sources:     sources,
		normalizers: normalizers,
		spot:        spot,
		store:       store,
		breaker:     adapter.NewBreaker(cfg.Breaker),
		crossbook:   engine.NewCrossBook(cfg.Filters, cfg.IncludeSameExchange),
		log:         log,
		results:     make(chan Result, 8),
		nowFunc:     time.Now,
	}, nil
}

// Results returns the channel of completed cycles. It is closed when Run
// returns.
func (p *Poller) Results() <-chan Result { return p.results }

// Run polls pair every interval until ctx is cancelled. A value received on
// pairs switches the pair and starts a cycle immediately, superseding any
// cycle still in flight.
func (p *Poller) Run(ctx context.Context, pair adapter.PairSpec, pairs <-chan adapter.PairSpec) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		close(p.results)
	}()

	start := func(pair adapter.PairSpec) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := p.Cycle(ctx, pair)
			if errors.Is(err, ErrStaleCycle) || ctx.Err() != nil {
				return
			}
			p.emit(res)
		}()
	}

	p.log.Info("polling started", logger.F("pair", pair.String()), logger.F("interval", p.cfg.Interval.String()))
	start(pair)

	for {
		select {
		case <-ctx.Done():
			p.log.Info("polling stopped")
			return
		case <-ticker.C:
			start(pair)
		case next, ok := <-pairs:
			if !ok {
				pairs = nil
				continue
			}
			p.log.Info("pair changed", logger.F("from", pair.String()), logger.F("to", next.String()))
			pair = next
			ticker.Reset(p.cfg.Interval)
			start(pair)
		}
	}
}

func (p *Poller) emit(res Result) {
	if res.gen != p.gen.Load() {
		return
	}
	select {
	case p.results <- res:
	default:
		p.log.Warn("dropping cycle result for slow consumer", logger.F("cycle_id", res.CycleID))
	}
}

type fetchOutcome struct {
	exchange adapter.Exchange
	side     adapter.Side
	offers   []adapter.RawOffer
	skipped  bool
	err      error
}

// Cycle runs one polling cycle for pair. It cancels the previous cycle if
// that one is still in flight. A non-nil Result accompanies
// ErrAllSourcesUnavailable.
func (p *Poller) Cycle(ctx context.Context, pair adapter.PairSpec) (Result, error) {
	gen := p.gen.Add(1)

	cycleCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.cancelMu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.cancel = cancel
	p.cancelMu.Unlock()

	started := p.nowFunc()
	res := Result{
		CycleID:   uuid.NewString(),
		Pair:      pair,
		StartedAt: started,
		gen:       gen,
	}
	log := p.log.With(logger.F("cycle_id", res.CycleID), logger.F("pair", pair.String()))

	outcomes, external := p.fetchAll(cycleCtx, pair)

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if cycleCtx.Err() != nil || gen != p.gen.Load() {
		log.Debug("discarding superseded cycle")
		return Result{}, ErrStaleCycle
	}

	snaps := p.buildSnapshots(pair, outcomes, &res)
	if !p.commit(gen, pair, snaps) {
		log.Debug("discarding superseded cycle before commit")
		return Result{}, ErrStaleCycle
	}
	res.Snapshots = snaps

	var allBuy, allSell []engine.Order
	for _, s := range snaps {
		allBuy = append(allBuy, s.BuyOrders...)
		allSell = append(allSell, s.SellOrders...)
	}

	spot, err := engine.ResolveSpot(pair, allBuy, allSell, external)
	res.Spot = spot
	res.SpotResolved = err == nil

	depth, err := engine.Bucketize(allBuy, allSell, p.cfg.Buckets)
	if err != nil {
		return Result{}, err
	}
	res.Depth = depth

	res.Opportunities = p.crossbook.Opportunities(p.matchable(snaps, spot, res.SpotResolved))
	for _, s := range snaps {
		res.SpotOpportunities = append(res.SpotOpportunities,
			engine.SpotArbitrage(s, spot, p.cfg.Filters.MinSpreadPercent)...)
	}
	res.Duration = p.nowFunc().Sub(started)

	if !anyAvailable(res.Sources) {
		res.Err = ErrAllSourcesUnavailable
		res.Error = ErrAllSourcesUnavailable.Error()
		log.Warn("cycle produced no data")
		return res, ErrAllSourcesUnavailable
	}

	log.Info("cycle complete",
		logger.F("buy_orders", len(allBuy)),
		logger.F("sell_orders", len(allSell)),
		logger.F("opportunities", len(res.Opportunities)),
		logger.F("spot_source", spot.Source.String()),
		logger.F("duration_ms", res.Duration.Milliseconds()))
	return res, nil
}

// fetchAll runs every (source, side) fetch and the spot quote in parallel
// and waits for all of them. Outcomes keep source order, buy before sell.
func (p *Poller) fetchAll(ctx context.Context, pair adapter.PairSpec) ([]fetchOutcome, *decimal.Decimal) {
	sides := []adapter.Side{adapter.Buy, adapter.Sell}
	outcomes := make([]fetchOutcome, len(p.sources)*len(sides))

	var wg sync.WaitGroup
	for i, src := range p.sources {
		for j, side := range sides {
			idx := i*len(sides) + j
			outcomes[idx] = fetchOutcome{exchange: src.Exchange(), side: side}

			if !p.breaker.Allow(src.Exchange(), side) {
				outcomes[idx].skipped = true
				outcomes[idx].err = fmt.Errorf("%w: circuit open", adapter.ErrSourceUnavailable)
				continue
			}

			wg.Add(1)
			go func(src adapter.Source, side adapter.Side, out *fetchOutcome) {
				defer wg.Done()
				fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
				defer cancel()

				out.offers, out.err = src.Fetch(fetchCtx, pair, side)

				switch {
				case ctx.Err() != nil:
					p.breaker.Abandon(src.Exchange(), side)
				case out.err != nil:
					p.breaker.Failure(src.Exchange(), side)
				default:
					p.breaker.Success(src.Exchange(), side)
				}
			}(src, side, &outcomes[idx])
		}
	}

	var external *decimal.Decimal
	if p.spot != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
			defer cancel()
			price, err := p.spot.Quote(fetchCtx, pair)
			if err != nil {
				p.log.Debug("spot quote unavailable", logger.F("pair", pair.String()), logger.F("reason", err.Error()))
				return
			}
			external = &price
		}()
	}

	wg.Wait()
	return outcomes, external
}

func (p *Poller) buildSnapshots(pair adapter.PairSpec, outcomes []fetchOutcome, res *Result) []engine.Snapshot {
	snaps := make([]engine.Snapshot, 0, len(p.sources))
	index := make(map[adapter.Exchange]int, len(p.sources))

	for _, o := range outcomes {
		i, ok := index[o.exchange]
		if !ok {
			i = len(snaps)
			index[o.exchange] = i
			snaps = append(snaps, engine.Snapshot{
				Exchange:   o.exchange,
				Pair:       pair.Key(),
				BuyOrders:  []engine.Order{},
				SellOrders: []engine.Order{},
			})
		}

		status := SourceStatus{Exchange: o.exchange, Side: o.side, Skipped: o.skipped}
		if o.err != nil {
			status.Err = o.err.Error()
			res.Sources = append(res.Sources, status)
			if !o.skipped {
				p.log.Warn("source unavailable",
					logger.F("exchange", o.exchange), logger.F("side", o.side.String()), logger.F("reason", o.err.Error()))
			}
			continue
		}

		orders, warnings := p.normalizers[o.exchange].NormalizeBatch(o.offers, o.side)
		res.Warnings = append(res.Warnings, warnings...)
		status.Available = true
		status.Offers = len(orders)
		res.Sources = append(res.Sources, status)

		snap := &snaps[i]
		if o.side == adapter.Buy {
			slices.SortStableFunc(orders, func(a, b engine.Order) int { return a.Price.Cmp(b.Price) })
			snap.BuyOrders = orders
			snap.BuyAvailable = true
		} else {
			slices.SortStableFunc(orders, func(a, b engine.Order) int { return b.Price.Cmp(a.Price) })
			snap.SellOrders = orders
			snap.SellAvailable = true
		}
	}
	return snaps
}

// commit diffs each available side against the previous cycle and records
// the new id sets. It refuses to write for a superseded generation.
func (p *Poller) commit(gen uint64, pair adapter.PairSpec, snaps []engine.Snapshot) bool {
	p.commitMu.Lock()
	defer p.commitMu.Unlock()

	if gen != p.gen.Load() {
		return false
	}

	for i := range snaps {
		s := &snaps[i]
		if s.BuyAvailable {
			s.HasChanges = p.diff(engine.SnapshotKey{Exchange: s.Exchange, Pair: pair.Key(), Side: adapter.Buy}, s.BuyOrders) || s.HasChanges
		}
		if s.SellAvailable {
			s.HasChanges = p.diff(engine.SnapshotKey{Exchange: s.Exchange, Pair: pair.Key(), Side: adapter.Sell}, s.SellOrders) || s.HasChanges
		}
	}
	return true
}

func (p *Poller) diff(key engine.SnapshotKey, orders []engine.Order) bool {
	changed := engine.HasChanged(orders, p.store.Previous(key))
	p.store.Commit(key, engine.IDsOf(orders))
	return changed
}

// matchable drops orders too far from a resolved spot price before
// matching. The published snapshots keep every order.
func (p *Poller) matchable(snaps []engine.Snapshot, spot engine.SpotPrice, resolved bool) []engine.Snapshot {
	maxDev := p.cfg.Filters.MaxPriceDeviationPercent
	if !resolved || maxDev <= 0 {
		return snaps
	}
	out := make([]engine.Snapshot, len(snaps))
	for i, s := range snaps {
		s.BuyOrders = engine.WithinDeviation(s.BuyOrders, spot, maxDev)
		s.SellOrders = engine.WithinDeviation(s.SellOrders, spot, maxDev)
		out[i] = s
	}
	return out
}

func anyAvailable(sources []SourceStatus) bool {
	for _, s := range sources {
		if s.Available {
			return true
		}
	}
	return false
}
