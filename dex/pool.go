// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dex

import (
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"
)

// =============================================================================
// Pool State
// =============================================================================

// Pool is the full state of one concentrated-liquidity pool: top-of-book
// slot, active liquidity, global fee growth, the initialized-tick structure
// and all positions. Pools are only mutated inside a session; the manager
// clones them copy-on-write so a failed session leaves no trace.
type Pool struct {
	key PoolKey

	slot0     Slot0
	liquidity *big.Int

	feeGrowthGlobal0X128 *big.Int
	feeGrowthGlobal1X128 *big.Int

	// Protocol fees accrued and not yet collected, per currency.
	protocolFeesAccrued0 *big.Int
	protocolFeesAccrued1 *big.Int

	ticks     map[int32]*TickInfo
	bitmap    *TickBitmap
	positions map[[32]byte]*Position

	maxLiquidityPerTick *big.Int
}

// NewPool initializes a pool at the given sqrt price. The initial tick is
// derived from the price via TickAtSqrtRatio.
func NewPool(key PoolKey, sqrtPriceX96 *big.Int, protocolFee ProtocolFee, lpFee uint32) (*Pool, error) {
	tick, err := TickAtSqrtRatio(sqrtPriceX96)
	if err != nil {
		return nil, err
	}
	return &Pool{
		key:                  key,
		slot0:                NewSlot0(sqrtPriceX96, tick, protocolFee, lpFee),
		liquidity:            new(big.Int),
		feeGrowthGlobal0X128: new(big.Int),
		feeGrowthGlobal1X128: new(big.Int),
		protocolFeesAccrued0: new(big.Int),
		protocolFeesAccrued1: new(big.Int),
		ticks:                make(map[int32]*TickInfo),
		bitmap:               NewTickBitmap(),
		positions:            make(map[[32]byte]*Position),
		maxLiquidityPerTick:  MaxLiquidityPerTick(key.TickSpacing),
	}, nil
}

// Key returns the pool's identifying key.
func (p *Pool) Key() PoolKey { return p.key }

// Slot0 returns the pool's top-of-book state.
func (p *Pool) Slot0() Slot0 { return p.slot0 }

// Liquidity returns a copy of the active in-range liquidity.
func (p *Pool) Liquidity() *big.Int { return new(big.Int).Set(p.liquidity) }

// FeeGrowthGlobal returns copies of both global fee growth counters.
func (p *Pool) FeeGrowthGlobal() (*big.Int, *big.Int) {
	return new(big.Int).Set(p.feeGrowthGlobal0X128), new(big.Int).Set(p.feeGrowthGlobal1X128)
}

// ProtocolFeesAccrued returns copies of the uncollected protocol fees.
func (p *Pool) ProtocolFeesAccrued() (*big.Int, *big.Int) {
	return new(big.Int).Set(p.protocolFeesAccrued0), new(big.Int).Set(p.protocolFeesAccrued1)
}

// TickInfoAt returns a copy of the state for an initialized tick, or nil.
func (p *Pool) TickInfoAt(tick int32) *TickInfo {
	info, ok := p.ticks[tick]
	if !ok {
		return nil
	}
	return info.clone()
}

// PositionAt returns a copy of a position, or nil if it has never been
// touched.
func (p *Pool) PositionAt(key [32]byte) *Position {
	pos, ok := p.positions[key]
	if !ok {
		return nil
	}
	return pos.clone()
}

// Clone deep-copies the pool.
func (p *Pool) Clone() *Pool {
	out := &Pool{
		key:                  p.key,
		slot0:                p.slot0,
		liquidity:            new(big.Int).Set(p.liquidity),
		feeGrowthGlobal0X128: new(big.Int).Set(p.feeGrowthGlobal0X128),
		feeGrowthGlobal1X128: new(big.Int).Set(p.feeGrowthGlobal1X128),
		protocolFeesAccrued0: new(big.Int).Set(p.protocolFeesAccrued0),
		protocolFeesAccrued1: new(big.Int).Set(p.protocolFeesAccrued1),
		ticks:                make(map[int32]*TickInfo, len(p.ticks)),
		bitmap:               p.bitmap.clone(),
		positions:            make(map[[32]byte]*Position, len(p.positions)),
		maxLiquidityPerTick:  p.maxLiquidityPerTick,
	}
	for t, info := range p.ticks {
		out.ticks[t] = info.clone()
	}
	for k, pos := range p.positions {
		out.positions[k] = pos.clone()
	}
	return out
}

// SetProtocolFee replaces the pool's protocol fee pair.
func (p *Pool) SetProtocolFee(fee ProtocolFee) error {
	if !fee.Valid() {
		return ErrProtocolFeeTooLarge
	}
	p.slot0 = p.slot0.WithProtocolFee(fee)
	return nil
}

// SetLPFee replaces the pool's active LP fee.
func (p *Pool) SetLPFee(fee uint32) error {
	if fee > MaxLPFee {
		return fmt.Errorf("%w: %d", ErrFeeTooLarge, fee)
	}
	p.slot0 = p.slot0.WithLPFee(fee)
	return nil
}

func wrappingAdd256(a, b *big.Int) *big.Int {
	sum := new(big.Int).Add(a, b)
	if sum.BitLen() > 256 {
		sum.Sub(sum, new(big.Int).Lsh(big.NewInt(1), 256))
	}
	return sum
}

// =============================================================================
// Liquidity Modification
// =============================================================================

// ModifyLiquidityResult reports the outcome of a liquidity change.
type ModifyLiquidityResult struct {
	// PrincipalDelta is the caller's delta for the liquidity itself:
	// negative when adding (caller owes tokens), positive when removing.
	PrincipalDelta BalanceDelta

	// FeesAccrued is the caller's delta for fees collected by this touch,
	// always non-negative.
	FeesAccrued BalanceDelta
}

// ModifyLiquidity applies a liquidity delta to the owner's position on the
// given range. A zero delta collects fees without changing liquidity.
func (p *Pool) ModifyLiquidity(owner common.Address, params ModifyLiquidityParams) (ModifyLiquidityResult, error) {
	if err := checkTicks(params.TickLower, params.TickUpper); err != nil {
		return ModifyLiquidityResult{}, err
	}
	if params.TickLower%p.key.TickSpacing != 0 || params.TickUpper%p.key.TickSpacing != 0 {
		return ModifyLiquidityResult{}, fmt.Errorf("%w: range [%d, %d] spacing %d",
			ErrTickNotOnSpacing, params.TickLower, params.TickUpper, p.key.TickSpacing)
	}

	delta := params.LiquidityDelta
	currentTick := p.slot0.Tick()

	var flippedLower, flippedUpper bool
	if delta.Sign() != 0 {
		var err error
		flippedLower, err = p.updateTick(params.TickLower, delta, false)
		if err != nil {
			return ModifyLiquidityResult{}, err
		}
		flippedUpper, err = p.updateTick(params.TickUpper, delta, true)
		if err != nil {
			return ModifyLiquidityResult{}, err
		}
		if flippedLower {
			if err := p.bitmap.FlipTick(params.TickLower, p.key.TickSpacing); err != nil {
				return ModifyLiquidityResult{}, err
			}
		}
		if flippedUpper {
			if err := p.bitmap.FlipTick(params.TickUpper, p.key.TickSpacing); err != nil {
				return ModifyLiquidityResult{}, err
			}
		}
	}

	inside0, inside1 := p.feeGrowthInside(params.TickLower, params.TickUpper)

	posKey := positionKeyFor(owner, params)
	pos, ok := p.positions[posKey]
	if !ok {
		pos = newPosition()
		p.positions[posKey] = pos
	}
	feesOwed0, feesOwed1, err := pos.update(delta, inside0, inside1)
	if err != nil {
		return ModifyLiquidityResult{}, err
	}
	if pos.Liquidity.Sign() == 0 && delta.Sign() <= 0 {
		// Fully withdrawn positions are pruned once their fees are paid.
		delete(p.positions, posKey)
	}

	// Ticks whose gross liquidity dropped to zero carry no state.
	if delta.Sign() < 0 {
		if flippedLower {
			delete(p.ticks, params.TickLower)
		}
		if flippedUpper {
			delete(p.ticks, params.TickUpper)
		}
	}

	var amount0, amount1 *big.Int
	if delta.Sign() != 0 {
		sqrtLower, err := SqrtRatioAtTick(params.TickLower)
		if err != nil {
			return ModifyLiquidityResult{}, err
		}
		sqrtUpper, err := SqrtRatioAtTick(params.TickUpper)
		if err != nil {
			return ModifyLiquidityResult{}, err
		}

		switch {
		case currentTick < params.TickLower:
			// Range entirely above the price: currency0 only.
			amount0 = SignedAmount0Delta(sqrtLower, sqrtUpper, delta)
			amount1 = new(big.Int)
		case currentTick < params.TickUpper:
			sqrtCurrent := p.slot0.SqrtPriceX96()
			amount0 = SignedAmount0Delta(sqrtCurrent, sqrtUpper, delta)
			amount1 = SignedAmount1Delta(sqrtLower, sqrtCurrent, delta)

			newLiquidity := new(big.Int).Add(p.liquidity, delta)
			if newLiquidity.Sign() < 0 {
				return ModifyLiquidityResult{}, fmt.Errorf("%w: active %s + %s",
					ErrLiquidityUnderflow, p.liquidity, delta)
			}
			p.liquidity = newLiquidity
		default:
			// Range entirely below the price: currency1 only.
			amount0 = new(big.Int)
			amount1 = SignedAmount1Delta(sqrtLower, sqrtUpper, delta)
		}
	} else {
		amount0 = new(big.Int)
		amount1 = new(big.Int)
	}

	// Amounts are owed to the pool when positive; the caller's delta is the
	// negation.
	principal, err := ToBalanceDelta(new(big.Int).Neg(amount0), new(big.Int).Neg(amount1))
	if err != nil {
		return ModifyLiquidityResult{}, err
	}
	fees, err := ToBalanceDelta(feesOwed0, feesOwed1)
	if err != nil {
		return ModifyLiquidityResult{}, err
	}
	return ModifyLiquidityResult{PrincipalDelta: principal, FeesAccrued: fees}, nil
}

func positionKeyFor(owner common.Address, params ModifyLiquidityParams) [32]byte {
	return PositionKey(owner, params.TickLower, params.TickUpper, params.Salt)
}

// updateTick applies a liquidity delta to one tick bound and reports whether
// the tick flipped between initialized and uninitialized.
func (p *Pool) updateTick(tick int32, liquidityDelta *big.Int, upper bool) (bool, error) {
	info, ok := p.ticks[tick]
	if !ok {
		info = newTickInfo()
		p.ticks[tick] = info
	}

	grossBefore := info.LiquidityGross
	grossAfter := new(big.Int).Add(grossBefore, liquidityDelta)
	if grossAfter.Sign() < 0 {
		return false, fmt.Errorf("%w: tick %d gross %s + %s",
			ErrLiquidityUnderflow, tick, grossBefore, liquidityDelta)
	}
	if grossAfter.Cmp(p.maxLiquidityPerTick) > 0 {
		return false, fmt.Errorf("%w: tick %d", ErrLiquidityOverflow, tick)
	}

	flipped := (grossAfter.Sign() == 0) != (grossBefore.Sign() == 0)

	if grossBefore.Sign() == 0 && tick <= p.slot0.Tick() {
		// Convention: a fresh tick at or below the current tick assumes all
		// prior growth happened on its far side.
		info.FeeGrowthOutside0X128 = new(big.Int).Set(p.feeGrowthGlobal0X128)
		info.FeeGrowthOutside1X128 = new(big.Int).Set(p.feeGrowthGlobal1X128)
	}

	info.LiquidityGross = grossAfter
	if upper {
		info.LiquidityNet = new(big.Int).Sub(info.LiquidityNet, liquidityDelta)
	} else {
		info.LiquidityNet = new(big.Int).Add(info.LiquidityNet, liquidityDelta)
	}
	return flipped, nil
}

// feeGrowthInside returns the fee growth accumulated inside a tick range,
// per unit of liquidity, Q128. Values wrap modulo 2^256.
func (p *Pool) feeGrowthInside(tickLower, tickUpper int32) (*big.Int, *big.Int) {
	currentTick := p.slot0.Tick()

	lowerOut0, lowerOut1 := new(big.Int), new(big.Int)
	if info, ok := p.ticks[tickLower]; ok {
		lowerOut0.Set(info.FeeGrowthOutside0X128)
		lowerOut1.Set(info.FeeGrowthOutside1X128)
	}
	upperOut0, upperOut1 := new(big.Int), new(big.Int)
	if info, ok := p.ticks[tickUpper]; ok {
		upperOut0.Set(info.FeeGrowthOutside0X128)
		upperOut1.Set(info.FeeGrowthOutside1X128)
	}

	var below0, below1 *big.Int
	if currentTick >= tickLower {
		below0, below1 = lowerOut0, lowerOut1
	} else {
		below0 = wrappingSub256(p.feeGrowthGlobal0X128, lowerOut0)
		below1 = wrappingSub256(p.feeGrowthGlobal1X128, lowerOut1)
	}

	var above0, above1 *big.Int
	if currentTick < tickUpper {
		above0, above1 = upperOut0, upperOut1
	} else {
		above0 = wrappingSub256(p.feeGrowthGlobal0X128, upperOut0)
		above1 = wrappingSub256(p.feeGrowthGlobal1X128, upperOut1)
	}

	inside0 := wrappingSub256(wrappingSub256(p.feeGrowthGlobal0X128, below0), above0)
	inside1 := wrappingSub256(wrappingSub256(p.feeGrowthGlobal1X128, below1), above1)
	return inside0, inside1
}

// =============================================================================
// Swap
// =============================================================================

// SwapResult reports a completed swap's state transition.
type SwapResult struct {
	Delta BalanceDelta // caller's delta: negative input, positive output

	AmountToProtocol *big.Int // protocol's cut, in the input currency
	SwapFee          uint32   // effective combined fee applied, in pips

	SqrtPriceX96 *big.Int // price after the swap
	Tick         int32    // tick after the swap
	Liquidity    *big.Int // active liquidity after the swap
}

// Swap runs the tick-walking swap loop. lpFee is the effective LP fee for
// this call (the stored fee, or a hook override on dynamic-fee pools).
func (p *Pool) Swap(params SwapParams, lpFee uint32) (SwapResult, error) {
	if params.AmountSpecified == nil || params.AmountSpecified.Sign() == 0 {
		return SwapResult{}, ErrSwapAmountZero
	}
	if lpFee > MaxLPFee {
		return SwapResult{}, fmt.Errorf("%w: %d", ErrFeeTooLarge, lpFee)
	}

	zeroForOne := params.ZeroForOne
	exactInput := params.AmountSpecified.Sign() < 0
	sqrtPriceCurrent := p.slot0.SqrtPriceX96()
	limit := params.SqrtPriceLimitX96

	if zeroForOne {
		if limit.Cmp(sqrtPriceCurrent) >= 0 || limit.Cmp(MinSqrtRatio) <= 0 {
			return SwapResult{}, fmt.Errorf("%w: limit %s current %s",
				ErrPriceLimitInvalid, limit, sqrtPriceCurrent)
		}
	} else {
		if limit.Cmp(sqrtPriceCurrent) <= 0 || limit.Cmp(MaxSqrtRatio) >= 0 {
			return SwapResult{}, fmt.Errorf("%w: limit %s current %s",
				ErrPriceLimitInvalid, limit, sqrtPriceCurrent)
		}
	}

	protocolFee := uint32(p.slot0.ProtocolFee().ForDirection(zeroForOne))
	swapFee := lpFee
	if protocolFee > 0 {
		// Protocol fee is taken from the input first; the LP fee applies to
		// the remainder, so the combined rate composes rather than adds.
		swapFee = protocolFee + lpFee*(MaxLPFee-protocolFee)/MaxLPFee
	}
	if swapFee >= MaxLPFee && !exactInput {
		return SwapResult{}, fmt.Errorf("%w: %d pips leaves no input for exact output", ErrFeeTooLarge, swapFee)
	}

	var (
		remaining        = new(big.Int).Set(params.AmountSpecified)
		calculated       = new(big.Int)
		sqrtPrice        = sqrtPriceCurrent
		tick             = p.slot0.Tick()
		liquidity        = new(big.Int).Set(p.liquidity)
		amountToProtocol = new(big.Int)
	)

	feeGrowthGlobalInput := new(big.Int)
	if zeroForOne {
		feeGrowthGlobalInput.Set(p.feeGrowthGlobal0X128)
	} else {
		feeGrowthGlobalInput.Set(p.feeGrowthGlobal1X128)
	}

	for remaining.Sign() != 0 && sqrtPrice.Cmp(limit) != 0 {
		nextTick, initialized := p.bitmap.NextInitializedTickWithinOneWord(tick, p.key.TickSpacing, zeroForOne)
		if nextTick < MinTick {
			nextTick = MinTick
		}
		if nextTick > MaxTick {
			nextTick = MaxTick
		}

		sqrtNext, err := SqrtRatioAtTick(nextTick)
		if err != nil {
			return SwapResult{}, err
		}

		target := sqrtNext
		if zeroForOne {
			if sqrtNext.Cmp(limit) < 0 {
				target = limit
			}
		} else {
			if sqrtNext.Cmp(limit) > 0 {
				target = limit
			}
		}

		step, err := ComputeSwapStep(sqrtPrice, target, liquidity, remaining, swapFee)
		if err != nil {
			return SwapResult{}, err
		}
		sqrtPrice = step.SqrtRatioNextX96
		feeAmount := step.FeeAmount

		if exactInput {
			remaining.Add(remaining, new(big.Int).Add(step.AmountIn, feeAmount))
			calculated.Add(calculated, step.AmountOut)
		} else {
			remaining.Sub(remaining, step.AmountOut)
			calculated.Sub(calculated, new(big.Int).Add(step.AmountIn, feeAmount))
		}

		if protocolFee > 0 {
			var cut *big.Int
			if swapFee == protocolFee {
				// LP fee is zero; the whole fee is the protocol's.
				cut = feeAmount
			} else {
				gross := new(big.Int).Add(step.AmountIn, feeAmount)
				cut = MulDiv(gross, big.NewInt(int64(protocolFee)), pipsDenominator)
			}
			feeAmount = new(big.Int).Sub(feeAmount, cut)
			amountToProtocol.Add(amountToProtocol, cut)
		}

		if liquidity.Sign() > 0 && feeAmount.Sign() > 0 {
			growth := MulDiv(feeAmount, Q128, liquidity)
			feeGrowthGlobalInput = wrappingAdd256(feeGrowthGlobalInput, growth)
		}

		if sqrtPrice.Cmp(sqrtNext) == 0 {
			if initialized {
				liquidityNet := p.crossTick(nextTick, feeGrowthGlobalInput, zeroForOne)
				if zeroForOne {
					liquidityNet = new(big.Int).Neg(liquidityNet)
				}
				liquidity = new(big.Int).Add(liquidity, liquidityNet)
				if liquidity.Sign() < 0 {
					return SwapResult{}, fmt.Errorf("%w: crossing tick %d", ErrLiquidityUnderflow, nextTick)
				}
			}
			if zeroForOne {
				tick = nextTick - 1
			} else {
				tick = nextTick
			}
		} else if sqrtPrice.Cmp(sqrtPriceCurrent) != 0 {
			tick, err = TickAtSqrtRatio(sqrtPrice)
			if err != nil {
				return SwapResult{}, err
			}
		}
	}

	p.slot0 = p.slot0.WithPrice(sqrtPrice, tick)
	p.liquidity = liquidity
	if zeroForOne {
		p.feeGrowthGlobal0X128 = feeGrowthGlobalInput
		p.protocolFeesAccrued0 = new(big.Int).Add(p.protocolFeesAccrued0, amountToProtocol)
	} else {
		p.feeGrowthGlobal1X128 = feeGrowthGlobalInput
		p.protocolFeesAccrued1 = new(big.Int).Add(p.protocolFeesAccrued1, amountToProtocol)
	}

	consumed := new(big.Int).Sub(params.AmountSpecified, remaining)
	var delta BalanceDelta
	var err error
	if zeroForOne != exactInput {
		delta, err = ToBalanceDelta(calculated, consumed)
	} else {
		delta, err = ToBalanceDelta(consumed, calculated)
	}
	if err != nil {
		return SwapResult{}, err
	}

	return SwapResult{
		Delta:            delta,
		AmountToProtocol: amountToProtocol,
		SwapFee:          swapFee,
		SqrtPriceX96:     new(big.Int).Set(sqrtPrice),
		Tick:             tick,
		Liquidity:        new(big.Int).Set(liquidity),
	}, nil
}

// crossTick flips a tick's outside fee growth and returns its net liquidity.
// feeGrowthGlobalInput is the live counter for the swap's input currency.
func (p *Pool) crossTick(tick int32, feeGrowthGlobalInput *big.Int, zeroForOne bool) *big.Int {
	info, ok := p.ticks[tick]
	if !ok {
		return new(big.Int)
	}

	global0 := p.feeGrowthGlobal0X128
	global1 := p.feeGrowthGlobal1X128
	if zeroForOne {
		global0 = feeGrowthGlobalInput
	} else {
		global1 = feeGrowthGlobalInput
	}

	info.FeeGrowthOutside0X128 = wrappingSub256(global0, info.FeeGrowthOutside0X128)
	info.FeeGrowthOutside1X128 = wrappingSub256(global1, info.FeeGrowthOutside1X128)
	return new(big.Int).Set(info.LiquidityNet)
}

// =============================================================================
// Donate
// =============================================================================

// Donate pushes amounts directly into the fee growth counters, crediting the
// currently in-range liquidity providers. Both amounts must be non-negative
// and the pool must have active liquidity.
func (p *Pool) Donate(amount0, amount1 *big.Int) (BalanceDelta, error) {
	if p.liquidity.Sign() == 0 {
		return BalanceDelta{}, ErrNoLiquidity
	}
	if amount0.Sign() > 0 {
		growth := MulDiv(amount0, Q128, p.liquidity)
		p.feeGrowthGlobal0X128 = wrappingAdd256(p.feeGrowthGlobal0X128, growth)
	}
	if amount1.Sign() > 0 {
		growth := MulDiv(amount1, Q128, p.liquidity)
		p.feeGrowthGlobal1X128 = wrappingAdd256(p.feeGrowthGlobal1X128, growth)
	}
	return ToBalanceDelta(new(big.Int).Neg(amount0), new(big.Int).Neg(amount1))
}

// CollectProtocolFees withdraws up to amount of accrued protocol fees in one
// currency, zero meaning everything. Returns the amount collected.
func (p *Pool) CollectProtocolFees(currencyIs0 bool, amount *big.Int) *big.Int {
	accrued := p.protocolFeesAccrued1
	if currencyIs0 {
		accrued = p.protocolFeesAccrued0
	}

	collected := new(big.Int).Set(accrued)
	if amount.Sign() > 0 && amount.Cmp(accrued) < 0 {
		collected.Set(amount)
	}

	if currencyIs0 {
		p.protocolFeesAccrued0 = new(big.Int).Sub(p.protocolFeesAccrued0, collected)
	} else {
		p.protocolFeesAccrued1 = new(big.Int).Sub(p.protocolFeesAccrued1, collected)
	}
	return collected
}
