// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dex

import "math/big"

var pipsDenominator = big.NewInt(int64(MaxLPFee))

// SwapStepResult is the outcome of swapping as far as possible within one
// tick-bounded price segment.
type SwapStepResult struct {
	SqrtRatioNextX96 *big.Int // price after the step
	AmountIn         *big.Int // input consumed, fee excluded
	AmountOut        *big.Int // output produced
	FeeAmount        *big.Int // fee taken from the input currency
}

// ComputeSwapStep advances the price from current toward target, bounded by
// the remaining amount. A negative amountRemaining fixes the input amount, a
// positive one fixes the output amount. feePips is the combined swap fee.
func ComputeSwapStep(sqrtRatioCurrentX96, sqrtRatioTargetX96, liquidity, amountRemaining *big.Int, feePips uint32) (SwapStepResult, error) {
	zeroForOne := sqrtRatioCurrentX96.Cmp(sqrtRatioTargetX96) >= 0
	exactIn := amountRemaining.Sign() < 0

	fee := big.NewInt(int64(feePips))
	oneMinusFee := new(big.Int).Sub(pipsDenominator, fee)

	var (
		next      *big.Int
		amountIn  *big.Int
		amountOut *big.Int
		err       error
	)

	if exactIn {
		absRemaining := new(big.Int).Neg(amountRemaining)
		remainingLessFee := MulDiv(absRemaining, oneMinusFee, pipsDenominator)
		if zeroForOne {
			amountIn = Amount0Delta(sqrtRatioTargetX96, sqrtRatioCurrentX96, liquidity, true)
		} else {
			amountIn = Amount1Delta(sqrtRatioCurrentX96, sqrtRatioTargetX96, liquidity, true)
		}
		if remainingLessFee.Cmp(amountIn) >= 0 {
			next = new(big.Int).Set(sqrtRatioTargetX96)
		} else {
			next, err = NextSqrtPriceFromInput(sqrtRatioCurrentX96, liquidity, remainingLessFee, zeroForOne)
			if err != nil {
				return SwapStepResult{}, err
			}
		}
	} else {
		if zeroForOne {
			amountOut = Amount1Delta(sqrtRatioTargetX96, sqrtRatioCurrentX96, liquidity, false)
		} else {
			amountOut = Amount0Delta(sqrtRatioCurrentX96, sqrtRatioTargetX96, liquidity, false)
		}
		if amountRemaining.Cmp(amountOut) >= 0 {
			next = new(big.Int).Set(sqrtRatioTargetX96)
		} else {
			next, err = NextSqrtPriceFromOutput(sqrtRatioCurrentX96, liquidity, amountRemaining, zeroForOne)
			if err != nil {
				return SwapStepResult{}, err
			}
		}
	}

	reachedTarget := next.Cmp(sqrtRatioTargetX96) == 0

	if zeroForOne {
		if !(reachedTarget && exactIn) {
			amountIn = Amount0Delta(next, sqrtRatioCurrentX96, liquidity, true)
		}
		if !(reachedTarget && !exactIn) {
			amountOut = Amount1Delta(next, sqrtRatioCurrentX96, liquidity, false)
		}
	} else {
		if !(reachedTarget && exactIn) {
			amountIn = Amount1Delta(sqrtRatioCurrentX96, next, liquidity, true)
		}
		if !(reachedTarget && !exactIn) {
			amountOut = Amount0Delta(sqrtRatioCurrentX96, next, liquidity, false)
		}
	}

	// An exact-output step never produces more than was asked for.
	if !exactIn && amountOut.Cmp(amountRemaining) > 0 {
		amountOut = new(big.Int).Set(amountRemaining)
	}

	var feeAmount *big.Int
	if exactIn && !reachedTarget {
		// Price stopped short of the target, so the whole remainder is
		// consumed; the fee is whatever the input did not fill.
		absRemaining := new(big.Int).Neg(amountRemaining)
		feeAmount = new(big.Int).Sub(absRemaining, amountIn)
	} else if oneMinusFee.Sign() == 0 {
		feeAmount = new(big.Int)
	} else {
		feeAmount = MulDivRoundingUp(amountIn, fee, oneMinusFee)
	}

	return SwapStepResult{
		SqrtRatioNextX96: next,
		AmountIn:         amountIn,
		AmountOut:        amountOut,
		FeeAmount:        feeAmount,
	}, nil
}
