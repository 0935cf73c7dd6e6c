// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dex

import (
	"fmt"
	"math/big"
)

// NextSqrtPriceFromAmount0RoundingUp returns the price after adding or
// removing amount of currency0 at the given price and liquidity. Rounds up
// so the pool never gives out more than it received.
func NextSqrtPriceFromAmount0RoundingUp(sqrtPX96, liquidity, amount *big.Int, add bool) (*big.Int, error) {
	if amount.Sign() == 0 {
		return new(big.Int).Set(sqrtPX96), nil
	}

	numerator := new(big.Int).Lsh(liquidity, 96)
	product := new(big.Int).Mul(amount, sqrtPX96)

	if add {
		denominator := new(big.Int).Add(numerator, product)
		return MulDivRoundingUp(numerator, sqrtPX96, denominator), nil
	}

	if numerator.Cmp(product) <= 0 {
		return nil, fmt.Errorf("%w: amount0 removal exceeds reserves", ErrInvalidSqrtPrice)
	}
	denominator := new(big.Int).Sub(numerator, product)
	return MulDivRoundingUp(numerator, sqrtPX96, denominator), nil
}

// NextSqrtPriceFromAmount1RoundingDown returns the price after adding or
// removing amount of currency1. Rounds down, again in the pool's favor.
func NextSqrtPriceFromAmount1RoundingDown(sqrtPX96, liquidity, amount *big.Int, add bool) (*big.Int, error) {
	quotient := MulDiv(amount, Q96, liquidity)
	if add {
		return new(big.Int).Add(sqrtPX96, quotient), nil
	}

	// Removing rounds the quotient up to take more from the price.
	quotient = MulDivRoundingUp(amount, Q96, liquidity)
	if sqrtPX96.Cmp(quotient) <= 0 {
		return nil, fmt.Errorf("%w: amount1 removal exceeds reserves", ErrInvalidSqrtPrice)
	}
	return new(big.Int).Sub(sqrtPX96, quotient), nil
}

// NextSqrtPriceFromInput returns the price after swapping in amountIn of the
// direction's input currency.
func NextSqrtPriceFromInput(sqrtPX96, liquidity, amountIn *big.Int, zeroForOne bool) (*big.Int, error) {
	if sqrtPX96.Sign() <= 0 || liquidity.Sign() <= 0 {
		return nil, ErrNoLiquidity
	}
	if zeroForOne {
		return NextSqrtPriceFromAmount0RoundingUp(sqrtPX96, liquidity, amountIn, true)
	}
	return NextSqrtPriceFromAmount1RoundingDown(sqrtPX96, liquidity, amountIn, true)
}

// NextSqrtPriceFromOutput returns the price after swapping out amountOut of
// the direction's output currency.
func NextSqrtPriceFromOutput(sqrtPX96, liquidity, amountOut *big.Int, zeroForOne bool) (*big.Int, error) {
	if sqrtPX96.Sign() <= 0 || liquidity.Sign() <= 0 {
		return nil, ErrNoLiquidity
	}
	if zeroForOne {
		return NextSqrtPriceFromAmount1RoundingDown(sqrtPX96, liquidity, amountOut, false)
	}
	return NextSqrtPriceFromAmount0RoundingUp(sqrtPX96, liquidity, amountOut, false)
}

// Amount0Delta returns the currency0 amount between two prices for the given
// liquidity: liquidity * (sqrtB - sqrtA) / (sqrtA * sqrtB), in Q64.96.
func Amount0Delta(sqrtRatioAX96, sqrtRatioBX96, liquidity *big.Int, roundUp bool) *big.Int {
	lower, upper := sqrtRatioAX96, sqrtRatioBX96
	if lower.Cmp(upper) > 0 {
		lower, upper = upper, lower
	}

	numerator1 := new(big.Int).Lsh(liquidity, 96)
	numerator2 := new(big.Int).Sub(upper, lower)

	if roundUp {
		return DivRoundingUp(MulDivRoundingUp(numerator1, numerator2, upper), lower)
	}
	return new(big.Int).Div(MulDiv(numerator1, numerator2, upper), lower)
}

// Amount1Delta returns the currency1 amount between two prices for the given
// liquidity: liquidity * (sqrtB - sqrtA) / 2^96.
func Amount1Delta(sqrtRatioAX96, sqrtRatioBX96, liquidity *big.Int, roundUp bool) *big.Int {
	lower, upper := sqrtRatioAX96, sqrtRatioBX96
	if lower.Cmp(upper) > 0 {
		lower, upper = upper, lower
	}

	diff := new(big.Int).Sub(upper, lower)
	if roundUp {
		return MulDivRoundingUp(liquidity, diff, Q96)
	}
	return MulDiv(liquidity, diff, Q96)
}

// SignedAmount0Delta mirrors Amount0Delta for a signed liquidity change:
// negative liquidity rounds down (amount leaving the pool), positive rounds
// up (amount owed to the pool).
func SignedAmount0Delta(sqrtRatioAX96, sqrtRatioBX96, liquidity *big.Int) *big.Int {
	if liquidity.Sign() < 0 {
		abs := new(big.Int).Neg(liquidity)
		return new(big.Int).Neg(Amount0Delta(sqrtRatioAX96, sqrtRatioBX96, abs, false))
	}
	return Amount0Delta(sqrtRatioAX96, sqrtRatioBX96, liquidity, true)
}

// SignedAmount1Delta mirrors Amount1Delta for a signed liquidity change.
func SignedAmount1Delta(sqrtRatioAX96, sqrtRatioBX96, liquidity *big.Int) *big.Int {
	if liquidity.Sign() < 0 {
		abs := new(big.Int).Neg(liquidity)
		return new(big.Int).Neg(Amount1Delta(sqrtRatioAX96, sqrtRatioBX96, abs, false))
	}
	return Amount1Delta(sqrtRatioAX96, sqrtRatioBX96, liquidity, true)
}
