package synth

import (
	"fmt"
	"math/big"
)

// RequiredCollateral computes the collateral an exposure of syntheticAmount
// must hold at the asset's current price and ratio.
func RequiredCollateral(asset *SyntheticAsset, syntheticAmount *big.Int) *big.Int {
	return ApplyRatio(ScaledValue(syntheticAmount, asset.Price), asset.CollateralRatioBps)
}

// liquidatable reports whether a position is under-collateralized at the
// asset's current price. Always recomputed fresh; the advisory flag on the
// position never gates this. Callers hold the lock.
func liquidatable(pos *Position, asset *SyntheticAsset) bool {
	return pos.Collateral.Cmp(RequiredCollateral(asset, pos.Synthetic)) < 0
}

// IsLiquidatable reports whether a user's position can be liquidated at the
// asset's current price. Returns ErrNoPosition when the user has no open
// position for the asset.
func (e *Engine) IsLiquidatable(user, symbol string) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	asset, err := e.activeAsset(symbol)
	if err != nil {
		return false, fmt.Errorf("%w: %s", err, symbol)
	}
	pos := e.position(user, asset.Key)
	if pos == nil {
		return false, fmt.Errorf("%w: %s/%s", ErrNoPosition, user, symbol)
	}
	return liquidatable(pos, asset), nil
}
