package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"
	"github.com/clambin/go-common/set"
	"github.com/clambin/radialight-monitor/internal/energy"
	"github.com/clambin/radialight-monitor/internal/energy/store"
	"github.com/clambin/radialight-monitor/pkg/pubsub"
	"github.com/clambin/radialight-monitor/pkg/radialight"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Poller is the read side of the RadialightPoller, as used by the exporter, health & bot components.
type Poller interface {
	Subscribe() <-chan Update
	Unsubscribe(ch <-chan Update)
	Refresh()
	Snapshot() *Snapshot
}

// RadialightGetter is the part of the Radialight API that the poller needs.
type RadialightGetter interface {
	GetZones(ctx context.Context) (radialight.Listing, error)
	GetUsage(ctx context.Context, request radialight.UsageRequest) (radialight.UsageSeries, error)
}

type State int32

const (
	Idle State = iota
	Fetching
	Settling
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	case Settling:
		return "settling"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const errorLogInterval = 5 * time.Minute

type Config struct {
	Interval             time.Duration
	Jitter               time.Duration
	ListingAttempts      uint
	RetryDelay           time.Duration
	MaxConcurrentFetches int
	Usage                UsageConfig
}

type UsageConfig struct {
	Enabled  bool
	Account  bool
	Products bool
	// Scopes limits the product scopes to the listed product IDs. If empty, all products are tracked.
	Scopes    set.Set[string]
	Period    string
	Scale     energy.Scale
	Location  *time.Location
	Retention time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:             time.Minute,
		Jitter:               10 * time.Second,
		ListingAttempts:      3,
		RetryDelay:           time.Second,
		MaxConcurrentFetches: 2,
		Usage: UsageConfig{
			Enabled:   true,
			Account:   true,
			Period:    radialight.PeriodDay,
			Scale:     energy.ScaleDeciWh,
			Location:  time.UTC,
			Retention: energy.DefaultRetention,
		},
	}
}

var _ Poller = &RadialightPoller{}

// RadialightPoller periodically collects the zone listing & usage series, folds the usage into the energy totals
// and publishes the result as a Snapshot.
type RadialightPoller struct {
	Client RadialightGetter
	Store  store.Store
	*pubsub.Publisher[Update]
	cfg         Config
	logger      *slog.Logger
	refresh     chan struct{}
	state       atomic.Int32
	snapshot    atomic.Pointer[Snapshot]
	accumulator energy.Accumulator
	aggregator  energy.Aggregator
	history     energy.History
	// only accessed by the cycle goroutine
	states   map[Scope]energy.State
	samples  map[Scope][]energy.Sample
	backoff  backoff
	errorLog errorLimiter
	now      func() time.Time
}

func New(client RadialightGetter, s store.Store, cfg Config, logger *slog.Logger) *RadialightPoller {
	if cfg.ListingAttempts == 0 {
		cfg.ListingAttempts = 1
	}
	if cfg.MaxConcurrentFetches <= 0 {
		cfg.MaxConcurrentFetches = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &RadialightPoller{
		Client:      client,
		Store:       s,
		Publisher:   pubsub.New[Update](logger.With(slog.String("component", "pubsub"))),
		cfg:         cfg,
		logger:      logger,
		refresh:     make(chan struct{}, 1),
		accumulator: energy.Accumulator{Scale: cfg.Usage.Scale, Logger: logger.With(slog.String("component", "accumulator"))},
		aggregator:  energy.Aggregator{Scale: cfg.Usage.Scale, Location: cfg.Usage.Location},
		history:     energy.History{Retention: cfg.Usage.Retention},
		states:      make(map[Scope]energy.State),
		samples:     make(map[Scope][]energy.Sample),
		backoff:     backoff{base: cfg.RetryDelay, max: cfg.Interval},
		errorLog:    errorLimiter{interval: errorLogInterval},
		now:         time.Now,
	}
}

// Run polls immediately and then every interval (plus jitter), until ctx is cancelled.
func (p *RadialightPoller) Run(ctx context.Context) error {
	p.logger.Debug("started", slog.Duration("interval", p.cfg.Interval))
	defer p.logger.Debug("stopped")
	defer p.state.Store(int32(Stopped))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		case <-p.refresh:
			timer.Stop()
		}
		timer.Reset(p.cycle(ctx))
	}
}

// Refresh triggers a cycle. If a cycle is already in flight, the request is dropped.
func (p *RadialightPoller) Refresh() {
	if state := p.State(); state != Idle {
		p.logger.Debug("refresh dropped", slog.String("state", state.String()))
		return
	}
	select {
	case p.refresh <- struct{}{}:
	default:
	}
}

func (p *RadialightPoller) State() State {
	return State(p.state.Load())
}

// Snapshot returns the last successful snapshot, or nil if no cycle has completed yet.
func (p *RadialightPoller) Snapshot() *Snapshot {
	return p.snapshot.Load()
}

// cycle performs one poll cycle and returns the delay until the next one.
func (p *RadialightPoller) cycle(ctx context.Context) time.Duration {
	start := time.Now()
	cycleID := uuid.NewString()
	logger := p.logger.With(slog.String("cycle", cycleID))

	p.state.Store(int32(Fetching))
	defer p.state.Store(int32(Idle))

	listing, err := p.getListing(ctx, logger)
	if err != nil {
		if ctx.Err() != nil {
			return p.interval()
		}
		p.fail(logger, err)
		if radialight.IsTransient(err) {
			return p.backoff.Next()
		}
		return p.interval()
	}

	series, fetchErrors := p.getUsage(ctx, listing, logger)
	if ctx.Err() != nil {
		logger.Debug("cycle cancelled before settling")
		return p.interval()
	}

	p.state.Store(int32(Settling))
	snapshot, ok := p.settle(ctx, cycleID, listing, series, fetchErrors, logger)
	if !ok {
		logger.Debug("cycle cancelled while settling")
		return p.interval()
	}

	p.snapshot.Store(snapshot)
	p.Publish(Update{Snapshot: snapshot})
	p.backoff.Reset()
	logger.Debug("poll completed", slog.Any("snapshot", snapshot), slog.Duration("duration", time.Since(start)))
	return p.interval()
}

func (p *RadialightPoller) interval() time.Duration {
	if p.cfg.Jitter <= 0 {
		return p.cfg.Interval
	}
	return p.cfg.Interval + rand.N(p.cfg.Jitter)
}

// fail publishes the error, along with the last good snapshot.
func (p *RadialightPoller) fail(logger *slog.Logger, err error) {
	if p.errorLog.Allow(p.now()) {
		logger.Error("poll failed", slog.Any("err", err), slog.Bool("transient", radialight.IsTransient(err)))
	} else {
		logger.Debug("poll failed", slog.Any("err", err), slog.Bool("transient", radialight.IsTransient(err)))
	}
	p.Publish(Update{Snapshot: p.snapshot.Load(), Err: err})
}

func (p *RadialightPoller) getListing(ctx context.Context, logger *slog.Logger) (radialight.Listing, error) {
	var listing radialight.Listing
	err := retry.Do(
		func() error {
			var err error
			listing, err = p.Client.GetZones(ctx)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(p.cfg.ListingAttempts),
		retry.Delay(p.cfg.RetryDelay),
		retry.MaxDelay(10*p.cfg.RetryDelay),
		retry.MaxJitter(p.cfg.RetryDelay),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.RetryIf(radialight.IsTransient),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Debug("zone listing failed. retrying", slog.Uint64("attempt", uint64(n)+1), slog.Any("err", err))
		}),
	)
	if err != nil {
		return radialight.Listing{}, fmt.Errorf("zones: %w", err)
	}
	if listing.Dropped > 0 {
		logger.Warn("zone listing had malformed entries", slog.Int("dropped", listing.Dropped), slog.Any("err", errors.Join(listing.Errors...)))
	}
	return listing, nil
}

type usageRequest struct {
	scope   Scope
	request radialight.UsageRequest
}

func (p *RadialightPoller) usageRequests(listing radialight.Listing) []usageRequest {
	if !p.cfg.Usage.Enabled {
		return nil
	}
	var requests []usageRequest
	if p.cfg.Usage.Account {
		requests = append(requests, usageRequest{
			scope:   AccountScope,
			request: radialight.UsageRequest{Period: p.cfg.Usage.Period},
		})
	}
	if p.cfg.Usage.Products {
		for _, product := range listing.Products {
			if len(p.cfg.Usage.Scopes) > 0 && !p.cfg.Usage.Scopes.Contains(product.ID) {
				continue
			}
			requests = append(requests, usageRequest{
				scope:   ProductScope(product.ID),
				request: radialight.UsageRequest{Period: p.cfg.Usage.Period, ProductID: product.ID},
			})
		}
	}
	return requests
}

// getUsage fetches all usage series in parallel. A failing scope doesn't affect the others.
func (p *RadialightPoller) getUsage(ctx context.Context, listing radialight.Listing, logger *slog.Logger) (map[Scope]radialight.UsageSeries, map[Scope]error) {
	series := make(map[Scope]radialight.UsageSeries)
	fetchErrors := make(map[Scope]error)
	var lock sync.Mutex

	var g errgroup.Group
	g.SetLimit(p.cfg.MaxConcurrentFetches)
	for _, r := range p.usageRequests(listing) {
		g.Go(func() error {
			s, err := p.Client.GetUsage(ctx, r.request)
			lock.Lock()
			defer lock.Unlock()
			if err != nil {
				logger.Warn("usage fetch failed", slog.String("scope", string(r.scope)), slog.Any("err", err))
				fetchErrors[r.scope] = err
				return nil
			}
			series[r.scope] = s
			return nil
		})
	}
	_ = g.Wait()
	return series, fetchErrors
}

// settle folds the fetched usage into the energy totals and builds the snapshot. If ctx is cancelled before the
// totals are persisted, nothing is persisted and settle returns false. If ctx is cancelled while persisting,
// the in-memory totals follow the store, but the snapshot is dropped and settle returns false.
func (p *RadialightPoller) settle(ctx context.Context, cycleID string, listing radialight.Listing, series map[Scope]radialight.UsageSeries, fetchErrors map[Scope]error, logger *slog.Logger) (*Snapshot, bool) {
	now := p.now()
	snapshot := Snapshot{
		CycleID:        cycleID,
		Timestamp:      now.UTC(),
		Zones:          listing.Zones,
		Products:       listing.Products,
		Usage:          make(map[Scope]ScopeUsage, len(series)),
		FetchErrors:    fetchErrors,
		DroppedEntries: listing.Dropped,
	}

	states := make(map[Scope]energy.State, len(series))
	samples := make(map[Scope][]energy.Sample, len(series))
	changed := make(map[Scope]energy.State)

	for _, scope := range slices.Sorted(maps.Keys(series)) {
		s := series[scope]
		if s.Dropped > 0 {
			logger.Warn("usage had malformed samples", slog.String("scope", string(scope)), slog.Int("dropped", s.Dropped))
		}
		state, err := p.loadState(ctx, scope)
		if err != nil {
			// skip the scope until its state can be loaded
			logger.Warn("failed to load energy state", slog.String("scope", string(scope)), slog.Any("err", err))
			snapshot.Warnings = append(snapshot.Warnings, err.Error())
			snapshot.FetchErrors[scope] = err
			continue
		}
		incoming := toSamples(s.Samples)
		history := p.history.Merge(p.samples[scope], incoming, now)
		next := p.accumulator.Absorb(incoming, state)
		if next != state {
			changed[scope] = next
		}
		states[scope] = next
		samples[scope] = history
		snapshot.Usage[scope] = ScopeUsage{
			Samples: history,
			Energy:  next,
			Windows: p.aggregator.Windows(history, now),
			Dropped: s.Dropped,
		}
	}

	// scopes that failed this cycle keep their last known totals
	if prev := p.snapshot.Load(); prev != nil {
		for scope := range snapshot.FetchErrors {
			if usage, ok := prev.Usage[scope]; ok {
				usage.Windows = p.aggregator.Windows(usage.Samples, now)
				snapshot.Usage[scope] = usage
			}
		}
	}

	if ctx.Err() != nil {
		return nil, false
	}

	for _, scope := range slices.Sorted(maps.Keys(changed)) {
		if err := p.Store.Save(ctx, string(scope), changed[scope]); err != nil {
			logger.Warn("failed to persist energy state", slog.String("scope", string(scope)), slog.Any("err", err))
			snapshot.Warnings = append(snapshot.Warnings, err.Error())
		}
	}
	for scope, state := range states {
		p.states[scope] = state
		p.samples[scope] = samples[scope]
	}
	if ctx.Err() != nil {
		return nil, false
	}
	return &snapshot, true
}

// loadState returns the energy state of a scope. The store is only consulted the first time a scope is seen.
func (p *RadialightPoller) loadState(ctx context.Context, scope Scope) (energy.State, error) {
	if state, ok := p.states[scope]; ok {
		return state, nil
	}
	state, err := store.LoadOrDefault(ctx, p.Store, string(scope))
	if err != nil {
		return energy.State{}, err
	}
	p.logger.Debug("energy state loaded", slog.String("scope", string(scope)), slog.Any("state", state))
	p.states[scope] = state
	return state, nil
}

func toSamples(samples []radialight.Sample) []energy.Sample {
	result := make([]energy.Sample, len(samples))
	for i, s := range samples {
		result[i] = energy.Sample{Timestamp: s.Timestamp, Value: s.Value}
	}
	return result
}
