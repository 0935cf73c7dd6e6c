// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dex

import (
	"fmt"
	"math/big"
)

// TickInfo is the state tracked for one initialized tick.
type TickInfo struct {
	// LiquidityGross is the total position liquidity referencing this tick
	// as a lower or upper bound. The tick is initialized iff it is nonzero.
	LiquidityGross *big.Int

	// LiquidityNet is added to the pool's active liquidity when the tick is
	// crossed left to right, subtracted right to left.
	LiquidityNet *big.Int

	// Fee growth on the far side of this tick relative to the current tick,
	// Q128. Only meaningful relative to a fixed point in time.
	FeeGrowthOutside0X128 *big.Int
	FeeGrowthOutside1X128 *big.Int
}

func newTickInfo() *TickInfo {
	return &TickInfo{
		LiquidityGross:        new(big.Int),
		LiquidityNet:          new(big.Int),
		FeeGrowthOutside0X128: new(big.Int),
		FeeGrowthOutside1X128: new(big.Int),
	}
}

func (t *TickInfo) clone() *TickInfo {
	return &TickInfo{
		LiquidityGross:        new(big.Int).Set(t.LiquidityGross),
		LiquidityNet:          new(big.Int).Set(t.LiquidityNet),
		FeeGrowthOutside0X128: new(big.Int).Set(t.FeeGrowthOutside0X128),
		FeeGrowthOutside1X128: new(big.Int).Set(t.FeeGrowthOutside1X128),
	}
}

// Position is the state of one liquidity position: its live liquidity plus
// the fee-growth-inside checkpoints taken at the last touch.
type Position struct {
	Liquidity                *big.Int
	FeeGrowthInside0LastX128 *big.Int
	FeeGrowthInside1LastX128 *big.Int
}

func newPosition() *Position {
	return &Position{
		Liquidity:                new(big.Int),
		FeeGrowthInside0LastX128: new(big.Int),
		FeeGrowthInside1LastX128: new(big.Int),
	}
}

func (p *Position) clone() *Position {
	return &Position{
		Liquidity:                new(big.Int).Set(p.Liquidity),
		FeeGrowthInside0LastX128: new(big.Int).Set(p.FeeGrowthInside0LastX128),
		FeeGrowthInside1LastX128: new(big.Int).Set(p.FeeGrowthInside1LastX128),
	}
}

// update applies a liquidity delta and returns the fees accrued since the
// last touch, computed from the advance of fee growth inside the range.
func (p *Position) update(liquidityDelta, feeGrowthInside0X128, feeGrowthInside1X128 *big.Int) (feesOwed0, feesOwed1 *big.Int, err error) {
	newLiquidity := new(big.Int).Add(p.Liquidity, liquidityDelta)
	if newLiquidity.Sign() < 0 {
		return nil, nil, fmt.Errorf("%w: position %s + %s", ErrLiquidityUnderflow, p.Liquidity, liquidityDelta)
	}

	// Fees accrue on the liquidity held before this update. Growth deltas
	// are taken modulo 2^256 so checkpoints may lag wrapped counters.
	growth0 := wrappingSub256(feeGrowthInside0X128, p.FeeGrowthInside0LastX128)
	growth1 := wrappingSub256(feeGrowthInside1X128, p.FeeGrowthInside1LastX128)
	feesOwed0 = MulDiv(growth0, p.Liquidity, Q128)
	feesOwed1 = MulDiv(growth1, p.Liquidity, Q128)

	p.Liquidity = newLiquidity
	p.FeeGrowthInside0LastX128 = new(big.Int).Set(feeGrowthInside0X128)
	p.FeeGrowthInside1LastX128 = new(big.Int).Set(feeGrowthInside1X128)
	return feesOwed0, feesOwed1, nil
}

// wrappingSub256 returns (a - b) mod 2^256. Fee growth counters are allowed
// to wrap; only differences are meaningful.
func wrappingSub256(a, b *big.Int) *big.Int {
	diff := new(big.Int).Sub(a, b)
	if diff.Sign() < 0 {
		diff.Add(diff, new(big.Int).Lsh(big.NewInt(1), 256))
	}
	return diff
}

func checkTicks(tickLower, tickUpper int32) error {
	if tickLower >= tickUpper {
		return fmt.Errorf("%w: lower %d >= upper %d", ErrInvalidTickRange, tickLower, tickUpper)
	}
	if tickLower < MinTick {
		return fmt.Errorf("%w: lower %d", ErrTickOutOfRange, tickLower)
	}
	if tickUpper > MaxTick {
		return fmt.Errorf("%w: upper %d", ErrTickOutOfRange, tickUpper)
	}
	return nil
}
