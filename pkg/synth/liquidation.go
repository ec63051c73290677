package synth

import (
	"fmt"
	"math/big"
	"time"
)

// Liquidate closes an under-collateralized position. The penalty is split
// between the liquidator and the protocol owner; the rest of the collateral
// goes back to the position owner. The three payouts are validated to sum
// exactly to the pre-liquidation collateral before any transfer is made,
// and a failed transfer unwinds the ones already sent, leaving the engine
// unchanged.
func (e *Engine) Liquidate(liquidator, targetUser, symbol string) error {
	if err := e.begin(); err != nil {
		return err
	}
	defer e.end()

	asset, err := e.activeAsset(symbol)
	if err != nil {
		return fmt.Errorf("%w: %s", err, symbol)
	}

	key := asset.Key
	pos := e.position(targetUser, key)
	if pos == nil || pos.Synthetic.Sign() == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNoPosition, targetUser, symbol)
	}
	if !liquidatable(pos, asset) {
		return fmt.Errorf("%w: %s/%s", ErrNotLiquidatable, targetUser, symbol)
	}

	collateral := new(big.Int).Set(pos.Collateral)
	penalty := ApplyRatio(collateral, e.penaltyBps)
	reward := new(big.Int).Rsh(penalty, 1)
	fee := new(big.Int).Sub(penalty, reward) // absorbs the odd unit
	remaining := new(big.Int).Sub(collateral, penalty)

	// Conservation check before anything leaves the engine.
	total := new(big.Int).Add(reward, fee)
	total.Add(total, remaining)
	if total.Cmp(collateral) != 0 {
		return fmt.Errorf("liquidation payout mismatch: %s != %s", total, collateral)
	}

	if err := e.payout(liquidator, reward, nil); err != nil {
		return err
	}
	if err := e.payout(e.owner, fee, []refund{{liquidator, reward}}); err != nil {
		return err
	}
	if err := e.payout(targetUser, remaining, []refund{{liquidator, reward}, {e.owner, fee}}); err != nil {
		return err
	}

	burned := new(big.Int).Set(pos.Synthetic)
	asset.TotalSupply.Sub(asset.TotalSupply, burned)
	e.setPosition(targetUser, key, nil)

	e.metrics.Liquidations.Inc()
	e.logger.Warn("position liquidated", "target", targetUser, "symbol", symbol,
		"liquidator", liquidator, "penalty", penalty.String(),
		"reward", reward.String(), "fee", fee.String(), "returned", remaining.String())
	e.sink.Emit(PositionLiquidated{
		User:             targetUser,
		Key:              key,
		Symbol:           symbol,
		Liquidator:       liquidator,
		Penalty:          penalty,
		LiquidatorReward: reward,
		ProtocolFee:      fee,
		Returned:         remaining,
		Timestamp:        time.Now(),
	})
	return nil
}

// refund records a credit that must be clawed back if a later leg fails
type refund struct {
	user   string
	amount *big.Int
}

// payout credits one liquidation leg. On failure it reverses the earlier
// legs so the operation aborts with no net external effect.
func (e *Engine) payout(user string, amount *big.Int, undo []refund) error {
	err := e.collateral.Credit(user, amount)
	if err == nil {
		return nil
	}
	for _, r := range undo {
		if derr := e.collateral.Debit(r.user, r.amount); derr != nil {
			e.logger.Error("liquidation unwind failed",
				"user", r.user, "amount", r.amount.String(), "error", derr)
		}
	}
	return fmt.Errorf("%w: credit %s: %v", ErrTransferFailed, user, err)
}
