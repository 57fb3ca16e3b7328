// Package ticker drives the engine's pure tick function against live market
// snapshots, one Driver per symbol, persisting position/trailing state to
// Redis between ticks and auditing emitted orders to Postgres.
package ticker

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gridtrader/internal/engine"
	"gridtrader/internal/secrets"
	"gridtrader/internal/snapshot"
	"gridtrader/internal/store"
)

// Config is the per-symbol configuration a Driver ticks against.
type Config struct {
	Symbol       string
	ExchangeName string
	TestNet      bool
	Exchange     engine.ExchangeParams
	Long         engine.SideConfig
	Short        engine.SideConfig
}

// State is the Driver's last observed snapshot, exposed to the control-plane
// API for read-only inspection.
type State struct {
	Symbol                string                     `json:"symbol"`
	LongPosition          engine.Position            `json:"long_position"`
	ShortPosition         engine.Position            `json:"short_position"`
	LongTrailing          engine.TrailingPriceBundle `json:"long_trailing"`
	ShortTrailing         engine.TrailingPriceBundle `json:"short_trailing"`
	LastTick              time.Time                  `json:"last_tick"`
	LastResult            engine.TickResult          `json:"last_result"`
	PrevUnstuckCloseLong  int64                      `json:"prev_unstuck_close_long_ms"`
	PrevUnstuckCloseShort int64                      `json:"prev_unstuck_close_short_ms"`
}

// Driver runs the grid/trailing engine for a single symbol, owning the
// caller-side state (positions, trailing bundles, unstuck-close timestamps)
// the pure engine functions require between calls.
type Driver struct {
	cfg      Config
	snapshot *snapshot.Store
	audit    *store.Store
	logger   zerolog.Logger

	mu          sync.RWMutex
	state       State
	credentials *secrets.ExchangeCredentials
}

// NewDriver constructs a Driver for a symbol, loading any persisted position
// and trailing state from Redis so a restart resumes cleanly, and fetching
// the symbol's exchange API credentials from Vault so the driver has what an
// order-placing adapter needs to trade this symbol.
func NewDriver(ctx context.Context, cfg Config, snap *snapshot.Store, audit *store.Store, secretsClient *secrets.Client, logger zerolog.Logger) *Driver {
	d := &Driver{
		cfg:      cfg,
		snapshot: snap,
		audit:    audit,
		logger:   logger.With().Str("component", "ticker").Str("symbol", cfg.Symbol).Logger(),
		state: State{
			Symbol:        cfg.Symbol,
			LongTrailing:  engine.NewTrailingPriceBundle(),
			ShortTrailing: engine.NewTrailingPriceBundle(),
		},
	}

	if snap != nil {
		if pos, ok, err := snap.LoadPosition(ctx, cfg.Symbol, "long"); err == nil && ok {
			d.state.LongPosition = pos
		}
		if pos, ok, err := snap.LoadPosition(ctx, cfg.Symbol, "short"); err == nil && ok {
			d.state.ShortPosition = pos
		}
		if tb, err := snap.LoadTrailing(ctx, cfg.Symbol, "long"); err == nil {
			d.state.LongTrailing = tb
		}
		if tb, err := snap.LoadTrailing(ctx, cfg.Symbol, "short"); err == nil {
			d.state.ShortTrailing = tb
		}
	}

	if secretsClient != nil && cfg.ExchangeName != "" {
		creds, err := secretsClient.Get(ctx, cfg.ExchangeName, cfg.TestNet)
		if err != nil {
			d.logger.Warn().Err(err).Str("exchange", cfg.ExchangeName).Msg("no exchange credentials available for symbol")
		} else {
			d.credentials = creds
		}
	}

	return d
}

// Credentials returns the exchange API credentials loaded for this symbol,
// or nil if none were found.
func (d *Driver) Credentials() *secrets.ExchangeCredentials {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.credentials
}

// Tick runs the engine against a fresh market snapshot, persists updated
// state, and audits the emitted orders. The trailing bundles are the
// caller-owned state the engine's trailing FSM depends on (spec §6): this
// driver is that caller, so it folds the snapshot's observed mid price into
// each side's bundle before ticking, and resets a side's bundle once its
// position goes flat.
func (d *Driver) Tick(ctx context.Context, market engine.MarketSnapshot) (engine.TickResult, error) {
	observedPrice := midPrice(market)

	d.mu.Lock()
	longTrailing := engine.UpdateTrailingPriceBundle(d.state.LongTrailing, observedPrice)
	shortTrailing := engine.UpdateTrailingPriceBundle(d.state.ShortTrailing, observedPrice)

	in := engine.TickInput{
		Exchange:                    d.cfg.Exchange,
		Snapshot:                    market,
		Long:                        d.cfg.Long,
		Short:                       d.cfg.Short,
		LongPosition:                d.state.LongPosition,
		ShortPosition:               d.state.ShortPosition,
		LongTrailing:                longTrailing,
		ShortTrailing:               shortTrailing,
		NowMs:                       time.Now().UnixMilli(),
		PrevUnstuckFillTsCloseLong:  d.state.PrevUnstuckCloseLong,
		PrevUnstuckFillTsCloseShort: d.state.PrevUnstuckCloseShort,
	}
	d.mu.Unlock()

	result := engine.Tick(in)

	if in.LongPosition.Size == 0 {
		in.LongTrailing = engine.NewTrailingPriceBundle()
	}
	if in.ShortPosition.Size == 0 {
		in.ShortTrailing = engine.NewTrailingPriceBundle()
	}

	d.mu.Lock()
	d.state.LongTrailing = in.LongTrailing
	d.state.ShortTrailing = in.ShortTrailing
	d.state.LastTick = time.Now()
	d.state.LastResult = result
	d.mu.Unlock()

	if d.snapshot != nil {
		if err := d.snapshot.SavePosition(ctx, d.cfg.Symbol, "long", in.LongPosition); err != nil {
			d.logger.Warn().Err(err).Msg("failed to persist long position")
		}
		if err := d.snapshot.SavePosition(ctx, d.cfg.Symbol, "short", in.ShortPosition); err != nil {
			d.logger.Warn().Err(err).Msg("failed to persist short position")
		}
		if err := d.snapshot.SaveTrailing(ctx, d.cfg.Symbol, "long", in.LongTrailing); err != nil {
			d.logger.Warn().Err(err).Msg("failed to persist long trailing bundle")
		}
		if err := d.snapshot.SaveTrailing(ctx, d.cfg.Symbol, "short", in.ShortTrailing); err != nil {
			d.logger.Warn().Err(err).Msg("failed to persist short trailing bundle")
		}
	}

	if d.audit != nil {
		if len(result.EntriesLong) > 0 || len(result.ClosesLong) > 0 {
			if err := d.audit.RecordOrders(ctx, d.cfg.Symbol, "long", append(result.EntriesLong, result.ClosesLong...)); err != nil {
				d.logger.Warn().Err(err).Msg("failed to audit long orders")
			}
		}
		if len(result.EntriesShort) > 0 || len(result.ClosesShort) > 0 {
			if err := d.audit.RecordOrders(ctx, d.cfg.Symbol, "short", append(result.EntriesShort, result.ClosesShort...)); err != nil {
				d.logger.Warn().Err(err).Msg("failed to audit short orders")
			}
		}
	}

	d.logger.Debug().
		Int("entries_long", len(result.EntriesLong)).
		Int("entries_short", len(result.EntriesShort)).
		Int("closes_long", len(result.ClosesLong)).
		Int("closes_short", len(result.ClosesShort)).
		Msg("tick complete")

	return result, nil
}

// midPrice derives the observed price fed into the trailing bundles from a
// snapshot's top of book, falling back to whichever side of the book is
// populated when the other is empty.
func midPrice(market engine.MarketSnapshot) float64 {
	bid := market.OrderBook.BestBid()
	ask := market.OrderBook.BestAsk()
	switch {
	case bid > 0 && ask < math.MaxFloat64:
		return (bid + ask) / 2
	case bid > 0:
		return bid
	case ask < math.MaxFloat64:
		return ask
	default:
		return 0
	}
}

// State returns a snapshot of the driver's last observed state.
func (d *Driver) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Run ticks the driver on a fixed interval using fetch to obtain the latest
// market snapshot, until ctx is cancelled. onTick, when non-nil, is invoked
// with every tick result (used by the control plane to push order-stream
// updates).
func (d *Driver) Run(ctx context.Context, interval time.Duration, fetch func(ctx context.Context) (engine.MarketSnapshot, error), onTick func(symbol string, result engine.TickResult)) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			market, err := fetch(ctx)
			if err != nil {
				d.logger.Warn().Err(err).Msg("failed to fetch market snapshot")
				continue
			}
			result, err := d.Tick(ctx, market)
			if err != nil {
				d.logger.Error().Err(err).Msg("tick failed")
				continue
			}
			if onTick != nil {
				onTick(d.cfg.Symbol, result)
			}
		}
	}
}

// Registry holds one Driver per traded symbol.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]*Driver
}

// NewRegistry creates an empty driver registry.
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]*Driver)}
}

// Add registers a driver under its configured symbol.
func (r *Registry) Add(d *Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[d.cfg.Symbol] = d
}

// Get returns the driver for a symbol, if registered.
func (r *Registry) Get(symbol string) (*Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[symbol]
	return d, ok
}

// Symbols lists every registered symbol.
func (r *Registry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	symbols := make([]string, 0, len(r.drivers))
	for s := range r.drivers {
		symbols = append(symbols, s)
	}
	return symbols
}

// All returns every registered driver.
func (r *Registry) All() []*Driver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	drivers := make([]*Driver, 0, len(r.drivers))
	for _, d := range r.drivers {
		drivers = append(drivers, d)
	}
	return drivers
}
