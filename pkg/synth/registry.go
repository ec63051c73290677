package synth

import (
	"fmt"
	"math/big"
	"time"
)

// CreateAsset registers a new synthetic asset. Owner only. The asset key is
// derived from the symbol; an active asset under the same key blocks
// re-creation.
func (e *Engine) CreateAsset(caller, symbol string, initialPrice *big.Int, ratioBps uint64) (AssetKey, error) {
	var zero AssetKey
	if err := e.auth.Authorize(caller, RoleOwner); err != nil {
		return zero, err
	}
	if !isPositive(initialPrice) {
		return zero, fmt.Errorf("%w: %s", ErrInvalidPrice, symbol)
	}
	if ratioBps < MinCollateralRatioBps {
		return zero, fmt.Errorf("%w: %d", ErrRatioTooLow, ratioBps)
	}
	if err := e.begin(); err != nil {
		return zero, err
	}
	defer e.end()

	key := DeriveAssetKey(symbol)
	if existing, ok := e.assets[key]; ok && existing.Active {
		return zero, fmt.Errorf("%w: %s", ErrAssetExists, symbol)
	}

	now := time.Now()
	asset := &SyntheticAsset{
		Key:                key,
		Symbol:             symbol,
		Price:              new(big.Int).Set(initialPrice),
		TotalSupply:        big.NewInt(0),
		CollateralRatioBps: ratioBps,
		Active:             true,
		CreatedAt:          now,
		LastPriceUpdate:    now,
	}
	e.assets[key] = asset
	e.assetOrder = append(e.assetOrder, key)

	e.metrics.AssetsCreated.Inc()
	e.logger.Info("asset created", "symbol", symbol, "key", key.String(),
		"price", initialPrice.String(), "ratioBps", ratioBps)
	e.sink.Emit(AssetCreated{
		Key:       key,
		Symbol:    symbol,
		Price:     new(big.Int).Set(initialPrice),
		RatioBps:  ratioBps,
		Timestamp: now,
	})
	return key, nil
}

// UpdatePrice pushes a new authoritative price for an asset. This is the
// sole price mutation path; the engine never polls.
func (e *Engine) UpdatePrice(caller, symbol string, newPrice *big.Int) error {
	if err := e.auth.Authorize(caller, RolePriceAuthority); err != nil {
		return err
	}
	if !isPositive(newPrice) {
		return fmt.Errorf("%w: %s", ErrInvalidPrice, symbol)
	}
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()

	asset, err := e.activeAsset(symbol)
	if err != nil {
		return fmt.Errorf("%w: %s", err, symbol)
	}

	old := new(big.Int).Set(asset.Price)
	asset.Price.Set(newPrice)
	asset.LastPriceUpdate = time.Now()

	e.metrics.PriceUpdates.Inc()
	e.logger.Debug("price updated", "symbol", symbol,
		"old", old.String(), "new", newPrice.String())
	e.sink.Emit(PriceUpdated{
		Key:       asset.Key,
		Symbol:    symbol,
		OldPrice:  old,
		NewPrice:  new(big.Int).Set(newPrice),
		Timestamp: asset.LastPriceUpdate,
	})
	return nil
}

// GetAsset returns a snapshot of an asset. An absent key returns a
// zero-valued record; callers check Active.
func (e *Engine) GetAsset(symbol string) SyntheticAsset {
	e.mu.RLock()
	defer e.mu.RUnlock()

	asset, ok := e.assets[DeriveAssetKey(symbol)]
	if !ok {
		return SyntheticAsset{
			Price:       big.NewInt(0),
			TotalSupply: big.NewInt(0),
		}
	}
	return asset.clone()
}

// ListAssets returns snapshots of all registered assets in creation order
func (e *Engine) ListAssets() []SyntheticAsset {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]SyntheticAsset, 0, len(e.assetOrder))
	for _, key := range e.assetOrder {
		out = append(out, e.assets[key].clone())
	}
	return out
}
