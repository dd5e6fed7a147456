// Package fixedpoint converts raw integer token amounts between decimal
// precisions. Every monetary value in the protocol is normalized to a single
// shared precision before it is summed or compared, so the rounding direction
// of each conversion is part of the protocol's solvency guarantees: dropping
// precision always truncates (collateral is never overvalued), and the inverse
// conversion always rounds up (a user can never post less than required).
package fixedpoint

import (
	"cosmossdk.io/errors"
	"cosmossdk.io/math"
)

// Module error codes
var (
	ErrOverflow     = errors.Register("fixedpoint", 1, "value exceeds 128-bit working width")
	ErrInvalidPrice = errors.Register("fixedpoint", 2, "price must be positive")
	ErrAmountRange  = errors.Register("fixedpoint", 3, "amount does not fit in uint64")
)

// workingWidthBits is the width every intermediate and final value must fit.
const workingWidthBits = 128

var ten = math.NewInt(10)

// Pow10 returns 10^n as a big integer.
func Pow10(n uint8) math.Int {
	out := math.OneInt()
	for i := uint8(0); i < n; i++ {
		out = out.Mul(ten)
	}
	return out
}

func fitsWorkingWidth(v math.Int) bool {
	return v.BigInt().BitLen() < workingWidthBits
}

// floorDiv divides n by d rounding toward negative infinity. math.Int.Quo
// truncates toward zero, which would round negative PnL in the account's
// favor.
func floorDiv(n, d math.Int) math.Int {
	q := n.Quo(d)
	if n.IsNegative() && !q.Mul(d).Equal(n) {
		q = q.Sub(math.OneInt())
	}
	return q
}

// ceilDiv divides n by d rounding toward positive infinity. Callers only pass
// non-negative n.
func ceilDiv(n, d math.Int) math.Int {
	q := n.Quo(d)
	if !q.Mul(d).Equal(n) {
		q = q.Add(math.OneInt())
	}
	return q
}

// Normalize converts raw from fromDecimals to toDecimals precision.
// Dropping precision truncates (floor); gaining precision is exact but fails
// with ErrOverflow if the scaled value leaves the working width. Signed
// inputs are supported for PnL values; truncation then rounds toward
// negative infinity.
func Normalize(raw math.Int, fromDecimals, toDecimals uint8) (math.Int, error) {
	switch {
	case fromDecimals == toDecimals:
		return raw, nil
	case fromDecimals > toDecimals:
		return floorDiv(raw, Pow10(fromDecimals-toDecimals)), nil
	default:
		out := raw.Mul(Pow10(toDecimals - fromDecimals))
		if !fitsWorkingWidth(out) {
			return math.ZeroInt(), errors.Wrapf(ErrOverflow, "scaling %s from %d to %d decimals", raw, fromDecimals, toDecimals)
		}
		return out, nil
	}
}

// NormalizeRawValue normalizes rawAmount*price, carried at
// tokenDecimals+priceDecimals, down or up to sharedDecimals. This is the
// valuation path for collateral and notional: truncation undervalues, never
// overvalues.
func NormalizeRawValue(rawAmount, price uint64, tokenDecimals, priceDecimals, sharedDecimals uint8) (math.Int, error) {
	product := math.NewIntFromUint64(rawAmount).Mul(math.NewIntFromUint64(price))
	return Normalize(product, tokenDecimals+priceDecimals, sharedDecimals)
}

// AmountForTargetValue returns the minimal raw token amount whose normalized
// value is >= targetValue. For any amount a returned with a > 0:
//
//	Normalize(price*a, tokenDecimals+priceDecimals, sharedDecimals) >= targetValue
//	Normalize(price*(a-1), ...) < targetValue
//
// A non-positive target returns 0.
func AmountForTargetValue(tokenDecimals uint8, price uint64, priceDecimals uint8, targetValue math.Int, sharedDecimals uint8) (uint64, error) {
	if price == 0 {
		return 0, ErrInvalidPrice
	}
	if !targetValue.IsPositive() {
		return 0, nil
	}

	localDecimals := tokenDecimals + priceDecimals
	p := math.NewIntFromUint64(price)

	var amount math.Int
	if localDecimals >= sharedDecimals {
		// Normalization truncates by 10^(local-shared): floor(price*a/scale)
		// >= target exactly when price*a >= target*scale.
		scaled := targetValue.Mul(Pow10(localDecimals - sharedDecimals))
		if !fitsWorkingWidth(scaled) {
			return 0, errors.Wrapf(ErrOverflow, "target %s at %d local decimals", targetValue, localDecimals)
		}
		amount = ceilDiv(scaled, p)
	} else {
		// Normalization multiplies by 10^(shared-local): price*a*scale >=
		// target exactly when a >= target/(price*scale).
		amount = ceilDiv(targetValue, p.Mul(Pow10(sharedDecimals-localDecimals)))
	}

	if !amount.IsUint64() {
		return 0, errors.Wrapf(ErrAmountRange, "amount %s for target %s", amount, targetValue)
	}
	return amount.Uint64(), nil
}

// AmountForValueAtMost returns the maximal raw token amount whose normalized
// value is <= capValue. This is the payout direction: flooring guarantees the
// protocol never pays out more than the owed value.
func AmountForValueAtMost(tokenDecimals uint8, price uint64, priceDecimals uint8, capValue math.Int, sharedDecimals uint8) (uint64, error) {
	if price == 0 {
		return 0, ErrInvalidPrice
	}
	if !capValue.IsPositive() {
		return 0, nil
	}

	localDecimals := tokenDecimals + priceDecimals
	p := math.NewIntFromUint64(price)

	var amount math.Int
	if localDecimals >= sharedDecimals {
		// floor(price*a/scale) <= cap for all a <= floor((cap+1)*scale-1 / price);
		// the largest such a satisfies price*a < (cap+1)*scale.
		scale := Pow10(localDecimals - sharedDecimals)
		bound := capValue.Add(math.OneInt()).Mul(scale).Sub(math.OneInt())
		if !fitsWorkingWidth(bound) {
			return 0, errors.Wrapf(ErrOverflow, "cap %s at %d local decimals", capValue, localDecimals)
		}
		amount = bound.Quo(p)
	} else {
		amount = capValue.Quo(p.Mul(Pow10(sharedDecimals - localDecimals)))
	}

	if !amount.IsUint64() {
		return 0, errors.Wrapf(ErrAmountRange, "amount %s for cap %s", amount, capValue)
	}
	return amount.Uint64(), nil
}
