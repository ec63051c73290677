package synth

import "math/big"

// Fixed-point helpers. Amounts and prices are non-negative integers;
// products are computed on big.Int so intermediate values never wrap, and
// division truncates toward zero.

var (
	priceScale = new(big.Int).SetUint64(1e18)
	ratioScale = new(big.Int).SetUint64(RatioScale)
)

// ScaledValue converts a synthetic amount at a fixed-point price into
// collateral-denominated value: amount * price / 1e18.
func ScaledValue(amount, price *big.Int) *big.Int {
	v := new(big.Int).Mul(amount, price)
	return v.Quo(v, priceScale)
}

// ApplyRatio applies a basis-point ratio to a value: value * bps / 10000.
func ApplyRatio(value *big.Int, ratioBps uint64) *big.Int {
	v := new(big.Int).Mul(value, new(big.Int).SetUint64(ratioBps))
	return v.Quo(v, ratioScale)
}

// proportionalShare computes floor(total * part / whole). Used for the
// collateral released by a partial burn; the floor means repeated partial
// burns can strand a remainder until the final full burn, where part ==
// whole returns the remainder exactly.
func proportionalShare(total, part, whole *big.Int) *big.Int {
	v := new(big.Int).Mul(total, part)
	return v.Quo(v, whole)
}

// isPositive reports whether v is a usable positive amount
func isPositive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}
