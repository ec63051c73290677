package synth

import (
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/luxfi/log"
	metric "github.com/luxfi/metric"
)

// Engine is the synthetic-asset accounting and risk engine. All state lives
// behind a single lock: each public operation runs as one indivisible
// transaction, with concurrent callers serialized behind the lock. A
// re-entrant mutating call from inside a collateral-transfer callback is
// rejected rather than left to deadlock.
type Engine struct {
	owner      string
	auth       Authorizer
	collateral CollateralLedger
	sink       EventSink
	logger     log.Logger

	assets     map[AssetKey]*SyntheticAsset
	assetOrder []AssetKey                        // creation order, for enumeration
	positions  map[string]map[AssetKey]*Position // user -> asset key -> position

	penaltyBps uint64

	metrics engineMetrics

	inFlightG atomic.Int64 // id of the goroutine holding the engine, 0 when idle
	mu        sync.RWMutex
}

// engineMetrics tracks operation counts
type engineMetrics struct {
	AssetsCreated metric.Counter
	PriceUpdates  metric.Counter
	Mints         metric.Counter
	Burns         metric.Counter
	Liquidations  metric.Counter
}

// Config configures a new engine
type Config struct {
	Owner      string
	Authorizer Authorizer
	Collateral CollateralLedger
	Sink       EventSink
	PenaltyBps uint64 // 0 means DefaultLiquidationPenaltyBps
}

// NewEngine creates a new engine. Collateral ledger is required; sink and
// authorizer default to NopSink and single-owner authorization.
func NewEngine(cfg Config) *Engine {
	auth := cfg.Authorizer
	if auth == nil {
		auth = NewOwnerAuthorizer(cfg.Owner)
	}
	sink := cfg.Sink
	if sink == nil {
		sink = NopSink{}
	}
	penalty := cfg.PenaltyBps
	if penalty == 0 {
		penalty = DefaultLiquidationPenaltyBps
	}

	return &Engine{
		owner:      cfg.Owner,
		auth:       auth,
		collateral: cfg.Collateral,
		sink:       sink,
		logger:     log.Root().New("module", "synth"),
		assets:     make(map[AssetKey]*SyntheticAsset),
		positions:  make(map[string]map[AssetKey]*Position),
		penaltyBps: penalty,
		metrics: engineMetrics{
			AssetsCreated: metric.NewCounter("synth_assets_created"),
			PriceUpdates:  metric.NewCounter("synth_price_updates"),
			Mints:         metric.NewCounter("synth_mints"),
			Burns:         metric.NewCounter("synth_burns"),
			Liquidations:  metric.NewCounter("synth_liquidations"),
		},
	}
}

// begin acquires the engine for one mutating operation. Distinct goroutines
// simply queue on the lock; only a call from the goroutine already holding
// the engine (re-entry from inside an external transfer callback) is
// rejected, since letting it block would deadlock.
func (e *Engine) begin() error {
	gid := goroutineID()
	if e.inFlightG.Load() == gid {
		return ErrReentrantCall
	}
	e.mu.Lock()
	e.inFlightG.Store(gid)
	return nil
}

// end releases the engine after a mutating operation
func (e *Engine) end() {
	e.inFlightG.Store(0)
	e.mu.Unlock()
}

// goroutineID parses the current goroutine's id from its stack header
// ("goroutine <id> [...]"). Ids are never 0 and never reused while the
// goroutine is alive.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := strings.Fields(string(buf[:n]))
	if len(fields) < 2 {
		return -1
	}
	id, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return -1
	}
	return id
}

// Owner returns the protocol owner identity
func (e *Engine) Owner() string {
	return e.owner
}

// LiquidationPenaltyBps returns the current liquidation penalty
func (e *Engine) LiquidationPenaltyBps() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.penaltyBps
}

// SetLiquidationPenalty updates the liquidation penalty. Owner only;
// must not exceed 10000 bps.
func (e *Engine) SetLiquidationPenalty(caller string, bps uint64) error {
	if err := e.auth.Authorize(caller, RoleOwner); err != nil {
		return err
	}
	if bps > RatioScale {
		return ErrPenaltyTooHigh
	}
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()

	e.penaltyBps = bps
	e.logger.Info("liquidation penalty updated", "bps", bps)
	return nil
}

// activeAsset looks up an asset by symbol, requiring it to exist and be
// active. Callers hold the lock.
func (e *Engine) activeAsset(symbol string) (*SyntheticAsset, error) {
	asset, ok := e.assets[DeriveAssetKey(symbol)]
	if !ok || !asset.Active {
		return nil, ErrAssetNotFound
	}
	return asset, nil
}

// position returns the target's open position for an asset, or nil.
// Callers hold the lock.
func (e *Engine) position(user string, key AssetKey) *Position {
	byAsset, ok := e.positions[user]
	if !ok {
		return nil
	}
	return byAsset[key]
}

// setPosition stores or clears a position entry. Callers hold the lock.
func (e *Engine) setPosition(user string, key AssetKey, pos *Position) {
	if pos == nil {
		if byAsset, ok := e.positions[user]; ok {
			delete(byAsset, key)
			if len(byAsset) == 0 {
				delete(e.positions, user)
			}
		}
		return
	}
	byAsset, ok := e.positions[user]
	if !ok {
		byAsset = make(map[AssetKey]*Position)
		e.positions[user] = byAsset
	}
	byAsset[key] = pos
}

// GetPosition returns a snapshot of a user's position and whether it exists
func (e *Engine) GetPosition(user, symbol string) (Position, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	pos := e.position(user, DeriveAssetKey(symbol))
	if pos == nil {
		return Position{}, false
	}
	return pos.clone(), true
}

// Positions returns snapshots of all open positions for an asset
func (e *Engine) Positions(symbol string) []Position {
	e.mu.RLock()
	defer e.mu.RUnlock()

	key := DeriveAssetKey(symbol)
	var out []Position
	for _, byAsset := range e.positions {
		if pos, ok := byAsset[key]; ok {
			out = append(out, pos.clone())
		}
	}
	return out
}
