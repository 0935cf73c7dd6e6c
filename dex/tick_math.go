// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dex

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// Tick bounds for sqrt prices representable in Q64.96.
const (
	MinTick int32 = -887272
	MaxTick int32 = 887272
)

// Sqrt price bounds: SqrtRatioAtTick(MinTick) and SqrtRatioAtTick(MaxTick).
var (
	MinSqrtRatio, _ = new(big.Int).SetString("4295128739", 10)
	MaxSqrtRatio, _ = new(big.Int).SetString("1461446703485210103287273052203988822378723970342", 10)
)

// Per-bit multipliers for sqrt(1.0001)^(-2^i) in Q128. Index i corresponds
// to bit i of the absolute tick.
var tickRatios = func() []*uint256.Int {
	hexes := []string{
		"0xfffcb933bd6fad37aa2d162d1a594001",
		"0xfff97272373d413259a46990580e213a",
		"0xfff2e50f5f656932ef12357cf3c7fdcc",
		"0xffe5caca7e10e4e61c3624eaa0941cd0",
		"0xffcb9843d60f6159c9db58835c926644",
		"0xff973b41fa98c081472e6896dfb254c0",
		"0xff2ea16466c96a3843ec78b326b52861",
		"0xfe5dee046a99a2a811c461f1969c3053",
		"0xfcbe86c7900a88aedcffc83b479aa3a4",
		"0xf987a7253ac413176f2b074cf7815e54",
		"0xf3392b0822b70005940c7a398e4b70f3",
		"0xe7159475a2c29b7443b29c7fa6e889d9",
		"0xd097f3bdfd2022b8845ad8f792aa5825",
		"0xa9f746462d870fdf8a65dc1f90e061e5",
		"0x70d869a156d2a1b890bb3df62baf32f7",
		"0x31be135f97d08fd981231505542fcfa6",
		"0x9aa508b5b7a84e1c677de54f3e99bc9",
		"0x5d6af8dedb81196699c329225ee604",
		"0x2216e584f5fa1ea926041bedfe98",
		"0x48a170391f7dc42444e8fa2",
	}
	out := make([]*uint256.Int, len(hexes))
	for i, s := range hexes {
		out[i] = uint256.MustFromHex(s)
	}
	return out
}()

// SqrtRatioAtTick returns sqrt(1.0001^tick) * 2^96 as a Q64.96 value.
func SqrtRatioAtTick(tick int32) (*big.Int, error) {
	if tick < MinTick || tick > MaxTick {
		return nil, fmt.Errorf("%w: %d", ErrTickOutOfRange, tick)
	}

	absTick := uint32(tick)
	if tick < 0 {
		absTick = uint32(-tick)
	}

	// Squaring-free ladder: one Q128 multiply per set bit. Products stay
	// below 2^256 because the running ratio never exceeds 2^128.
	ratio := new(uint256.Int).Lsh(uint256.NewInt(1), 128)
	if absTick&1 != 0 {
		ratio.Set(tickRatios[0])
	}
	for i := 1; i < len(tickRatios); i++ {
		if absTick&(1<<uint(i)) != 0 {
			ratio.Mul(ratio, tickRatios[i])
			ratio.Rsh(ratio, 128)
		}
	}

	if tick > 0 {
		max := new(uint256.Int).Not(uint256.NewInt(0))
		ratio.Div(max, ratio)
	}

	// Round up from Q128 to Q96 so TickAtSqrtRatio of the result is exact.
	remainder := new(uint256.Int).And(ratio, uint256.NewInt(0xFFFFFFFF))
	ratio.Rsh(ratio, 32)
	if !remainder.IsZero() {
		ratio.AddUint64(ratio, 1)
	}
	return ratio.ToBig(), nil
}

// TickAtSqrtRatio returns the largest tick whose sqrt ratio is at most the
// given Q64.96 price. The price must lie in [MinSqrtRatio, MaxSqrtRatio).
func TickAtSqrtRatio(sqrtPriceX96 *big.Int) (int32, error) {
	if sqrtPriceX96.Cmp(MinSqrtRatio) < 0 || sqrtPriceX96.Cmp(MaxSqrtRatio) >= 0 {
		return 0, fmt.Errorf("%w: %s", ErrInvalidSqrtPrice, sqrtPriceX96)
	}

	lo, hi := MinTick, MaxTick
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		ratio, err := SqrtRatioAtTick(mid)
		if err != nil {
			return 0, err
		}
		if ratio.Cmp(sqrtPriceX96) <= 0 {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo, nil
}

// MaxLiquidityPerTick returns the cap on gross liquidity referencing any one
// usable tick for a given spacing, so summed liquidity cannot overflow.
func MaxLiquidityPerTick(tickSpacing int32) *big.Int {
	// Integer division truncates toward zero, rounding both bounds inward
	// to the nearest usable tick.
	minUsable := (MinTick / tickSpacing) * tickSpacing
	maxUsable := (MaxTick / tickSpacing) * tickSpacing
	numTicks := int64((maxUsable-minUsable)/tickSpacing) + 1

	maxUint128 := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
	return maxUint128.Div(maxUint128, big.NewInt(numTicks))
}
