package synth

import (
	"fmt"
	"math/big"
	"time"
)

// Mint locks collateral and issues synthetic balance against it. The
// collateral debit happens before any ledger mutation, so a failed debit
// leaves the engine untouched.
func (e *Engine) Mint(user, symbol string, collateralAmount, syntheticAmount *big.Int) error {
	if !isPositive(collateralAmount) || !isPositive(syntheticAmount) {
		return fmt.Errorf("%w: mint %s", ErrInvalidAmount, symbol)
	}
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()

	asset, err := e.activeAsset(symbol)
	if err != nil {
		return fmt.Errorf("%w: %s", err, symbol)
	}

	required := ApplyRatio(ScaledValue(syntheticAmount, asset.Price), asset.CollateralRatioBps)
	if collateralAmount.Cmp(required) < 0 {
		return fmt.Errorf("%w: have %s, need %s",
			ErrInsufficientCollateral, collateralAmount, required)
	}

	// External debit first; a failure here aborts with zero state change.
	if err := e.collateral.Debit(user, collateralAmount); err != nil {
		return fmt.Errorf("%w: debit %s: %v", ErrTransferFailed, user, err)
	}

	now := time.Now()
	key := asset.Key
	pos := e.position(user, key)
	if pos == nil {
		pos = &Position{
			User:            user,
			Asset:           key,
			Collateral:      big.NewInt(0),
			Synthetic:       big.NewInt(0),
			LastUpdatePrice: big.NewInt(0),
			OpenedAt:        now,
		}
		e.setPosition(user, key, pos)
	}
	pos.Collateral.Add(pos.Collateral, collateralAmount)
	pos.Synthetic.Add(pos.Synthetic, syntheticAmount)
	pos.LastUpdatePrice.Set(asset.Price)
	pos.LastUpdate = now

	asset.TotalSupply.Add(asset.TotalSupply, syntheticAmount)

	e.metrics.Mints.Inc()
	e.logger.Info("position minted", "user", user, "symbol", symbol,
		"collateral", collateralAmount.String(), "synthetic", syntheticAmount.String())
	e.sink.Emit(PositionOpened{
		User:       user,
		Key:        key,
		Symbol:     symbol,
		Collateral: new(big.Int).Set(collateralAmount),
		Synthetic:  new(big.Int).Set(syntheticAmount),
		Timestamp:  now,
	})
	return nil
}

// Burn redeems synthetic balance for a proportional share of the position's
// collateral: floor(collateral * amount / synthetic). The floor is
// intentional; a remainder stranded by partial burns is recovered exactly
// by the final full burn, where numerator and denominator coincide.
func (e *Engine) Burn(user, symbol string, syntheticAmount *big.Int) (*big.Int, error) {
	if !isPositive(syntheticAmount) {
		return nil, fmt.Errorf("%w: burn %s", ErrInvalidAmount, symbol)
	}
	if err := e.begin(); err != nil {
		return nil, err
	}
	defer e.end()

	asset, err := e.activeAsset(symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, symbol)
	}

	key := asset.Key
	pos := e.position(user, key)
	if pos == nil || pos.Synthetic.Cmp(syntheticAmount) < 0 {
		return nil, fmt.Errorf("%w: burn %s", ErrInsufficientSynthetic, symbol)
	}

	toReturn := proportionalShare(pos.Collateral, syntheticAmount, pos.Synthetic)

	// Snapshot for rollback if the external credit fails.
	prevCollateral := new(big.Int).Set(pos.Collateral)
	prevSynthetic := new(big.Int).Set(pos.Synthetic)
	prevSupply := new(big.Int).Set(asset.TotalSupply)

	pos.Collateral.Sub(pos.Collateral, toReturn)
	pos.Synthetic.Sub(pos.Synthetic, syntheticAmount)
	asset.TotalSupply.Sub(asset.TotalSupply, syntheticAmount)

	fullClose := pos.Synthetic.Sign() == 0
	if fullClose {
		e.setPosition(user, key, nil)
	} else {
		pos.LastUpdate = time.Now()
	}

	if err := e.collateral.Credit(user, toReturn); err != nil {
		// All-or-nothing: restore the ledger exactly as it was.
		pos.Collateral.Set(prevCollateral)
		pos.Synthetic.Set(prevSynthetic)
		asset.TotalSupply.Set(prevSupply)
		if fullClose {
			e.setPosition(user, key, pos)
		}
		return nil, fmt.Errorf("%w: credit %s: %v", ErrTransferFailed, user, err)
	}

	e.metrics.Burns.Inc()
	e.logger.Info("position burned", "user", user, "symbol", symbol,
		"burned", syntheticAmount.String(), "returned", toReturn.String(),
		"fullClose", fullClose)
	e.sink.Emit(PositionClosed{
		User:               user,
		Key:                key,
		Symbol:             symbol,
		Burned:             new(big.Int).Set(syntheticAmount),
		CollateralReturned: new(big.Int).Set(toReturn),
		FullClose:          fullClose,
		Timestamp:          time.Now(),
	})
	return toReturn, nil
}
