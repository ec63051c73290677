package synth

import (
	"math/big"
	"time"
)

// EventType identifies the kind of a ledger event
type EventType string

const (
	EventAssetCreated       EventType = "asset_created"
	EventPriceUpdated       EventType = "price_updated"
	EventPositionOpened     EventType = "position_opened"
	EventPositionClosed     EventType = "position_closed"
	EventPositionLiquidated EventType = "position_liquidated"
)

// Event is a deterministic notification constructed by the engine. The
// engine does not manage delivery; sinks do.
type Event interface {
	Type() EventType
}

// EventSink receives events emitted by the engine
type EventSink interface {
	Emit(Event)
}

// AssetCreated is emitted when a new synthetic asset is registered
type AssetCreated struct {
	Key       AssetKey  `json:"key"`
	Symbol    string    `json:"symbol"`
	Price     *big.Int  `json:"price"`
	RatioBps  uint64    `json:"ratioBps"`
	Timestamp time.Time `json:"timestamp"`
}

func (AssetCreated) Type() EventType { return EventAssetCreated }

// PriceUpdated is emitted when the price authority pushes a new price
type PriceUpdated struct {
	Key       AssetKey  `json:"key"`
	Symbol    string    `json:"symbol"`
	OldPrice  *big.Int  `json:"oldPrice"`
	NewPrice  *big.Int  `json:"newPrice"`
	Timestamp time.Time `json:"timestamp"`
}

func (PriceUpdated) Type() EventType { return EventPriceUpdated }

// PositionOpened is emitted on every successful mint
type PositionOpened struct {
	User       string    `json:"user"`
	Key        AssetKey  `json:"key"`
	Symbol     string    `json:"symbol"`
	Collateral *big.Int  `json:"collateral"`
	Synthetic  *big.Int  `json:"synthetic"`
	Timestamp  time.Time `json:"timestamp"`
}

func (PositionOpened) Type() EventType { return EventPositionOpened }

// PositionClosed is emitted on every successful burn, partial or full
type PositionClosed struct {
	User               string    `json:"user"`
	Key                AssetKey  `json:"key"`
	Symbol             string    `json:"symbol"`
	Burned             *big.Int  `json:"burned"`
	CollateralReturned *big.Int  `json:"collateralReturned"`
	FullClose          bool      `json:"fullClose"`
	Timestamp          time.Time `json:"timestamp"`
}

func (PositionClosed) Type() EventType { return EventPositionClosed }

// PositionLiquidated is emitted when a position is liquidated
type PositionLiquidated struct {
	User             string    `json:"user"`
	Key              AssetKey  `json:"key"`
	Symbol           string    `json:"symbol"`
	Liquidator       string    `json:"liquidator"`
	Penalty          *big.Int  `json:"penalty"`
	LiquidatorReward *big.Int  `json:"liquidatorReward"`
	ProtocolFee      *big.Int  `json:"protocolFee"`
	Returned         *big.Int  `json:"returned"`
	Timestamp        time.Time `json:"timestamp"`
}

func (PositionLiquidated) Type() EventType { return EventPositionLiquidated }

// NopSink discards all events
type NopSink struct{}

func (NopSink) Emit(Event) {}

// ChanSink buffers events on a channel for streaming consumers. Emit drops
// when the buffer is full rather than blocking a ledger operation.
type ChanSink struct {
	C chan Event
}

// NewChanSink creates a buffered channel sink
func NewChanSink(size int) *ChanSink {
	return &ChanSink{C: make(chan Event, size)}
}

func (s *ChanSink) Emit(ev Event) {
	select {
	case s.C <- ev:
	default:
	}
}
