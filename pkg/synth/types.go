// Package synth implements a collateralized synthetic-asset ledger:
// asset registration with authoritative prices, minting synthetic balances
// against deposited collateral, proportional redemption, and liquidation of
// under-collateralized positions.
package synth

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/sha3"
)

const (
	// PriceScale is the fixed-point scale for prices (18 fractional digits)
	PriceScale = 1e18

	// RatioScale is the basis-point scale (10000 = 100%)
	RatioScale = 10000

	// MinCollateralRatioBps is the floor for asset collateral ratios (110%)
	MinCollateralRatioBps = 1100

	// DefaultLiquidationPenaltyBps is the default liquidation penalty (5%)
	DefaultLiquidationPenaltyBps = 500
)

// AssetKey identifies a synthetic asset, derived from its symbol
type AssetKey [32]byte

// DeriveAssetKey derives the asset key as the SHA3-256 hash of the symbol
func DeriveAssetKey(symbol string) AssetKey {
	return AssetKey(sha3.Sum256([]byte(symbol)))
}

// String returns the hex encoding of the key
func (k AssetKey) String() string {
	return hex.EncodeToString(k[:])
}

// MarshalText renders the key as hex for JSON and text encoders
func (k AssetKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses a hex-encoded key
func (k *AssetKey) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	if len(b) != len(k) {
		return fmt.Errorf("asset key must be %d bytes, got %d", len(k), len(b))
	}
	copy(k[:], b)
	return nil
}

// SyntheticAsset is a registered synthetic instrument pegged to an
// externally pushed price
type SyntheticAsset struct {
	Key                AssetKey
	Symbol             string
	Price              *big.Int // Fixed-point, PriceScale
	TotalSupply        *big.Int // Sum of all position synthetic amounts
	CollateralRatioBps uint64   // Required collateral ratio, basis points
	Active             bool
	CreatedAt          time.Time
	LastPriceUpdate    time.Time
}

// clone returns a deep copy safe to hand to callers
func (a *SyntheticAsset) clone() SyntheticAsset {
	c := *a
	c.Price = new(big.Int).Set(a.Price)
	c.TotalSupply = new(big.Int).Set(a.TotalSupply)
	return c
}

// Position is a user's collateral/synthetic exposure in one asset.
// A position with zero synthetic amount is closed and removed.
type Position struct {
	User            string
	Asset           AssetKey
	Collateral      *big.Int // Collateral-token smallest unit
	Synthetic       *big.Int // Synthetic-token smallest unit
	LastUpdatePrice *big.Int // Price at last mint
	Liquidatable    bool     // Advisory only; eligibility is always recomputed
	OpenedAt        time.Time
	LastUpdate      time.Time
}

// clone returns a deep copy safe to hand to callers
func (p *Position) clone() Position {
	c := *p
	c.Collateral = new(big.Int).Set(p.Collateral)
	c.Synthetic = new(big.Int).Set(p.Synthetic)
	c.LastUpdatePrice = new(big.Int).Set(p.LastUpdatePrice)
	return c
}

// Role identifies a privileged capability required by an operation
type Role int

const (
	RoleOwner Role = iota
	RolePriceAuthority
)

// Authorizer gates owner-privileged operations. Injected so tests can
// substitute authority.
type Authorizer interface {
	Authorize(caller string, role Role) error
}

// CollateralLedger is the external token-balance service positions draw
// collateral from and release it to. Both calls either fully apply or fail
// with no effect.
type CollateralLedger interface {
	Debit(user string, amount *big.Int) error
	Credit(user string, amount *big.Int) error
}
