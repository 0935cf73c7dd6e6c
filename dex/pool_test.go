// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dex

import (
	"math/big"
	"testing"

	"github.com/luxfi/geth/common"
)

var testOwner = common.HexToAddress("0xabcdef0000000000000000000000000000000001")

// wideKey uses the maximum tick spacing so the liquidity range below sits in
// the bitmap words adjacent to tick zero and swaps cross no intermediate
// initialized ticks.
func wideKey(fee uint32) PoolKey {
	return PoolKey{
		Currency0:   Currency{Address: common.HexToAddress("0x1000000000000000000000000000000000000001")},
		Currency1:   Currency{Address: common.HexToAddress("0x2000000000000000000000000000000000000002")},
		Fee:         fee,
		TickSpacing: MaxTickSpacing,
	}
}

// newWidePool creates a pool at price 2^96 with liquidity 3*2^96 spread over
// [-819150, 819150]. With these values the swaps between 2^96 and 3*2^94 are
// exact in both directions.
func newWidePool(t *testing.T, fee uint32, protocolFee ProtocolFee) *Pool {
	t.Helper()
	p, err := NewPool(wideKey(fee), priceOne, protocolFee, fee)
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.ModifyLiquidity(testOwner, ModifyLiquidityParams{
		TickLower:      -819150,
		TickUpper:      819150,
		LiquidityDelta: liqThree,
	})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestNewPoolDerivesTick(t *testing.T) {
	ratio100, err := SqrtRatioAtTick(100)
	if err != nil {
		t.Fatal(err)
	}

	p, err := NewPool(wideKey(0), ratio100, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if p.Slot0().Tick() != 100 {
		t.Fatalf("tick = %d, want 100", p.Slot0().Tick())
	}

	below := new(big.Int).Sub(ratio100, big.NewInt(1))
	p, err = NewPool(wideKey(0), below, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if p.Slot0().Tick() != 99 {
		t.Fatalf("tick = %d, want 99", p.Slot0().Tick())
	}

	if _, err := NewPool(wideKey(0), big.NewInt(1), 0, 0); err == nil {
		t.Fatal("expected error for out-of-range price")
	}
}

func TestModifyLiquidityValidation(t *testing.T) {
	p, err := NewPool(wideKey(0), priceOne, 0, 0)
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name         string
		lower, upper int32
	}{
		{"inverted", 16383, -16383},
		{"equal", 16383, 16383},
		{"below min", MinTick - 16383, 16383},
		{"above max", -16383, MaxTick + 16383},
		{"off spacing", -16383, 100},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.ModifyLiquidity(testOwner, ModifyLiquidityParams{
				TickLower:      tt.lower,
				TickUpper:      tt.upper,
				LiquidityDelta: big.NewInt(1000),
			})
			if err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestModifyLiquidityRoundTrip(t *testing.T) {
	p := newWidePool(t, 0, 0)

	if p.Liquidity().Cmp(liqThree) != 0 {
		t.Fatalf("active liquidity = %s, want 3*2^96", p.Liquidity())
	}
	if !p.bitmap.IsInitialized(-819150, MaxTickSpacing) || !p.bitmap.IsInitialized(819150, MaxTickSpacing) {
		t.Fatal("bound ticks must be initialized")
	}

	// Removing everything returns the principal, minus at most one unit of
	// rounding dust per currency which stays with the pool.
	res, err := p.ModifyLiquidity(testOwner, ModifyLiquidityParams{
		TickLower:      -819150,
		TickUpper:      819150,
		LiquidityDelta: new(big.Int).Neg(liqThree),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.PrincipalDelta.Amount0().Sign() <= 0 || res.PrincipalDelta.Amount1().Sign() <= 0 {
		t.Fatal("removal must credit the caller in both currencies")
	}
	if p.Liquidity().Sign() != 0 {
		t.Fatal("active liquidity must drop to zero")
	}
	if p.TickInfoAt(-819150) != nil || p.TickInfoAt(819150) != nil {
		t.Fatal("emptied ticks must be pruned")
	}
	if len(p.positions) != 0 {
		t.Fatal("emptied position must be pruned")
	}
	if p.bitmap.IsInitialized(-819150, MaxTickSpacing) {
		t.Fatal("bitmap bit must clear when the tick empties")
	}
}

func TestModifyLiquidityAddIsDebit(t *testing.T) {
	p := newWidePool(t, 0, 0)

	res, err := p.ModifyLiquidity(testOwner, ModifyLiquidityParams{
		TickLower:      -819150,
		TickUpper:      819150,
		LiquidityDelta: big.NewInt(1_000_000),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.PrincipalDelta.Amount0().Sign() >= 0 || res.PrincipalDelta.Amount1().Sign() >= 0 {
		t.Fatal("adding in-range liquidity must debit both currencies")
	}
	if !res.FeesAccrued.IsZero() {
		t.Fatal("no fees accrued yet")
	}
}

func TestSingleSidedLiquidity(t *testing.T) {
	p, err := NewPool(wideKey(0), priceOne, 0, 0)
	if err != nil {
		t.Fatal(err)
	}

	// Range entirely above the current price takes only currency0.
	res, err := p.ModifyLiquidity(testOwner, ModifyLiquidityParams{
		TickLower:      16383,
		TickUpper:      32766,
		LiquidityDelta: big.NewInt(1_000_000),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.PrincipalDelta.Amount0().Sign() >= 0 {
		t.Fatal("expected currency0 debit")
	}
	if res.PrincipalDelta.Amount1().Sign() != 0 {
		t.Fatal("expected no currency1 movement")
	}
	if p.Liquidity().Sign() != 0 {
		t.Fatal("out-of-range liquidity must not activate")
	}

	// Range entirely below the current price takes only currency1.
	res, err = p.ModifyLiquidity(testOwner, ModifyLiquidityParams{
		TickLower:      -32766,
		TickUpper:      -16383,
		LiquidityDelta: big.NewInt(1_000_000),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.PrincipalDelta.Amount0().Sign() != 0 {
		t.Fatal("expected no currency0 movement")
	}
	if res.PrincipalDelta.Amount1().Sign() >= 0 {
		t.Fatal("expected currency1 debit")
	}
}

func TestSwapExactInZeroForOne(t *testing.T) {
	p := newWidePool(t, 0, 0)

	res, err := p.Swap(SwapParams{
		ZeroForOne:        true,
		AmountSpecified:   new(big.Int).Neg(amount0Exact),
		SqrtPriceLimitX96: priceThreeQtr,
	}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Delta.Amount0().Cmp(new(big.Int).Neg(amount0Exact)) != 0 {
		t.Fatalf("amount0 = %s, want -2^96", res.Delta.Amount0())
	}
	if res.Delta.Amount1().Cmp(amount1Exact) != 0 {
		t.Fatalf("amount1 = %s, want 3*2^94", res.Delta.Amount1())
	}
	if res.SqrtPriceX96.Cmp(priceThreeQtr) != 0 {
		t.Fatalf("price = %s, want 3*2^94", res.SqrtPriceX96)
	}
	if res.Liquidity.Cmp(liqThree) != 0 {
		t.Fatal("liquidity must be unchanged inside the range")
	}
	if p.Slot0().SqrtPriceX96().Cmp(priceThreeQtr) != 0 {
		t.Fatal("slot0 price not committed")
	}
	wantTick, err := TickAtSqrtRatio(priceThreeQtr)
	if err != nil {
		t.Fatal(err)
	}
	if res.Tick != wantTick {
		t.Fatalf("tick = %d, want %d", res.Tick, wantTick)
	}
}

func TestSwapRoundTripExact(t *testing.T) {
	p := newWidePool(t, 0, 0)

	res1, err := p.Swap(SwapParams{
		ZeroForOne:        true,
		AmountSpecified:   new(big.Int).Neg(amount0Exact),
		SqrtPriceLimitX96: priceThreeQtr,
	}, 0)
	if err != nil {
		t.Fatal(err)
	}
	res2, err := p.Swap(SwapParams{
		ZeroForOne:        false,
		AmountSpecified:   new(big.Int).Neg(amount1Exact),
		SqrtPriceLimitX96: priceOne,
	}, 0)
	if err != nil {
		t.Fatal(err)
	}

	// With zero fee and exact divisions the two legs cancel to the token.
	net0 := new(big.Int).Add(res1.Delta.Amount0(), res2.Delta.Amount0())
	net1 := new(big.Int).Add(res1.Delta.Amount1(), res2.Delta.Amount1())
	if net0.Sign() != 0 || net1.Sign() != 0 {
		t.Fatalf("round trip nets (%s, %s), want (0, 0)", net0, net1)
	}
	if p.Slot0().SqrtPriceX96().Cmp(priceOne) != 0 {
		t.Fatal("price must return to 2^96")
	}
	if p.Slot0().Tick() != 0 {
		t.Fatalf("tick = %d, want 0", p.Slot0().Tick())
	}
}

func TestSwapExactOut(t *testing.T) {
	p := newWidePool(t, 0, 0)

	// Positive specified amount demands output currency1.
	res, err := p.Swap(SwapParams{
		ZeroForOne:        true,
		AmountSpecified:   new(big.Int).Set(amount1Exact),
		SqrtPriceLimitX96: priceThreeQtr,
	}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Delta.Amount1().Cmp(amount1Exact) != 0 {
		t.Fatalf("amount1 = %s, want 3*2^94", res.Delta.Amount1())
	}
	if res.Delta.Amount0().Cmp(new(big.Int).Neg(amount0Exact)) != 0 {
		t.Fatalf("amount0 = %s, want -2^96", res.Delta.Amount0())
	}
}

func TestSwapValidation(t *testing.T) {
	p := newWidePool(t, 0, 0)

	if _, err := p.Swap(SwapParams{
		ZeroForOne:        true,
		AmountSpecified:   big.NewInt(0),
		SqrtPriceLimitX96: priceThreeQtr,
	}, 0); err != ErrSwapAmountZero {
		t.Fatalf("zero amount gave %v", err)
	}

	// Limit on the wrong side of the current price.
	above := new(big.Int).Add(priceOne, big.NewInt(1))
	if _, err := p.Swap(SwapParams{
		ZeroForOne:        true,
		AmountSpecified:   big.NewInt(-1000),
		SqrtPriceLimitX96: above,
	}, 0); err == nil {
		t.Fatal("expected price limit error for zeroForOne")
	}
	if _, err := p.Swap(SwapParams{
		ZeroForOne:        false,
		AmountSpecified:   big.NewInt(-1000),
		SqrtPriceLimitX96: priceThreeQtr,
	}, 0); err == nil {
		t.Fatal("expected price limit error for oneForZero")
	}

	// Limits at or beyond the representable bounds.
	if _, err := p.Swap(SwapParams{
		ZeroForOne:        true,
		AmountSpecified:   big.NewInt(-1000),
		SqrtPriceLimitX96: new(big.Int).Set(MinSqrtRatio),
	}, 0); err == nil {
		t.Fatal("expected error at MinSqrtRatio limit")
	}
	if _, err := p.Swap(SwapParams{
		ZeroForOne:        false,
		AmountSpecified:   big.NewInt(-1000),
		SqrtPriceLimitX96: new(big.Int).Set(MaxSqrtRatio),
	}, 0); err == nil {
		t.Fatal("expected error at MaxSqrtRatio limit")
	}
}

func TestSwapCrossesTick(t *testing.T) {
	key := PoolKey{
		Currency0:   Currency{Address: common.HexToAddress("0x1000000000000000000000000000000000000001")},
		Currency1:   Currency{Address: common.HexToAddress("0x2000000000000000000000000000000000000002")},
		Fee:         0,
		TickSpacing: 60,
	}
	p, err := NewPool(key, priceOne, 0, 0)
	if err != nil {
		t.Fatal(err)
	}

	wide := big.NewInt(1_000_000_000)
	narrow := big.NewInt(500_000_000)
	if _, err := p.ModifyLiquidity(testOwner, ModifyLiquidityParams{
		TickLower: -887220, TickUpper: 887220, LiquidityDelta: wide,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := p.ModifyLiquidity(testOwner, ModifyLiquidityParams{
		TickLower: -60, TickUpper: 60, LiquidityDelta: narrow,
	}); err != nil {
		t.Fatal(err)
	}
	wantCombined := new(big.Int).Add(wide, narrow)
	if p.Liquidity().Cmp(wantCombined) != 0 {
		t.Fatalf("combined liquidity = %s, want %s", p.Liquidity(), wantCombined)
	}

	// Push the price below tick -60; the narrow position deactivates.
	limit, err := SqrtRatioAtTick(-120)
	if err != nil {
		t.Fatal(err)
	}
	res, err := p.Swap(SwapParams{
		ZeroForOne:        true,
		AmountSpecified:   new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 80)),
		SqrtPriceLimitX96: limit,
	}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Liquidity.Cmp(wide) != 0 {
		t.Fatalf("liquidity after crossing = %s, want %s", res.Liquidity, wide)
	}
	if res.Tick >= -60 || res.Tick < -120 {
		t.Fatalf("tick after swap = %d, want in [-120, -61]", res.Tick)
	}

	// Swapping back above tick -60 reactivates it.
	res, err = p.Swap(SwapParams{
		ZeroForOne:        false,
		AmountSpecified:   new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 80)),
		SqrtPriceLimitX96: priceOne,
	}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Liquidity.Cmp(wantCombined) != 0 {
		t.Fatalf("liquidity after re-crossing = %s, want %s", res.Liquidity, wantCombined)
	}
}

func TestDonateAndCollectExact(t *testing.T) {
	p := newWidePool(t, 0, 0)

	// Amounts divisible by the liquidity make the growth and the collection
	// exact: growth0 = 2^52, growth1 = 2^53.
	donate0 := new(big.Int).Lsh(big.NewInt(3), 20)
	donate1 := new(big.Int).Lsh(big.NewInt(3), 21)
	delta, err := p.Donate(donate0, donate1)
	if err != nil {
		t.Fatal(err)
	}
	if delta.Amount0().Cmp(new(big.Int).Neg(donate0)) != 0 ||
		delta.Amount1().Cmp(new(big.Int).Neg(donate1)) != 0 {
		t.Fatal("donor delta must be the negated amounts")
	}

	g0, g1 := p.FeeGrowthGlobal()
	if g0.Cmp(new(big.Int).Lsh(big.NewInt(1), 52)) != 0 {
		t.Fatalf("feeGrowthGlobal0 = %s, want 2^52", g0)
	}
	if g1.Cmp(new(big.Int).Lsh(big.NewInt(1), 53)) != 0 {
		t.Fatalf("feeGrowthGlobal1 = %s, want 2^53", g1)
	}

	// A zero-delta touch collects the full donation as fees.
	res, err := p.ModifyLiquidity(testOwner, ModifyLiquidityParams{
		TickLower:      -819150,
		TickUpper:      819150,
		LiquidityDelta: new(big.Int),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.FeesAccrued.Amount0().Cmp(donate0) != 0 {
		t.Fatalf("fees0 = %s, want %s", res.FeesAccrued.Amount0(), donate0)
	}
	if res.FeesAccrued.Amount1().Cmp(donate1) != 0 {
		t.Fatalf("fees1 = %s, want %s", res.FeesAccrued.Amount1(), donate1)
	}
	if !res.PrincipalDelta.IsZero() {
		t.Fatal("zero delta must not move principal")
	}

	// A second touch finds nothing left.
	res, err = p.ModifyLiquidity(testOwner, ModifyLiquidityParams{
		TickLower:      -819150,
		TickUpper:      819150,
		LiquidityDelta: new(big.Int),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.FeesAccrued.IsZero() {
		t.Fatal("fees must only pay out once")
	}
}

func TestDonateRequiresLiquidity(t *testing.T) {
	p, err := NewPool(wideKey(0), priceOne, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Donate(big.NewInt(1), big.NewInt(0)); err != ErrNoLiquidity {
		t.Fatalf("donate to empty pool gave %v", err)
	}
}

func TestSwapProtocolFee(t *testing.T) {
	fee, err := NewProtocolFee(MaxProtocolFee, MaxProtocolFee)
	if err != nil {
		t.Fatal(err)
	}
	p := newWidePool(t, 0, fee)

	// With a zero LP fee the whole swap fee is the protocol's. An exact
	// input of 1e6 at 1000 pips yields exactly 1000.
	res, err := p.Swap(SwapParams{
		ZeroForOne:        true,
		AmountSpecified:   big.NewInt(-1_000_000),
		SqrtPriceLimitX96: priceThreeQtr,
	}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.SwapFee != uint32(MaxProtocolFee) {
		t.Fatalf("swapFee = %d, want %d", res.SwapFee, MaxProtocolFee)
	}
	if res.AmountToProtocol.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("protocol cut = %s, want 1000", res.AmountToProtocol)
	}
	accrued0, accrued1 := p.ProtocolFeesAccrued()
	if accrued0.Cmp(big.NewInt(1000)) != 0 || accrued1.Sign() != 0 {
		t.Fatalf("accrued = (%s, %s), want (1000, 0)", accrued0, accrued1)
	}

	// Protocol fees never feed LP fee growth.
	g0, g1 := p.FeeGrowthGlobal()
	if g0.Sign() != 0 || g1.Sign() != 0 {
		t.Fatal("fee growth must stay zero when the LP fee is zero")
	}

	collected := p.CollectProtocolFees(true, big.NewInt(0))
	if collected.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("collected = %s, want 1000", collected)
	}
	accrued0, _ = p.ProtocolFeesAccrued()
	if accrued0.Sign() != 0 {
		t.Fatal("accrued must be zero after collection")
	}
}

func TestSwapProtocolFeeDirectional(t *testing.T) {
	fee, err := NewProtocolFee(100, 200)
	if err != nil {
		t.Fatal(err)
	}
	p := newWidePool(t, 0, fee)

	// oneForZero uses the oneForZero rate and accrues in currency1. The
	// price step rounds down and the consumed input rounds back up, so the
	// two input units the step leaves behind join the 200-pip charge.
	maxPrice := new(big.Int).Lsh(big.NewInt(2), 96)
	res, err := p.Swap(SwapParams{
		ZeroForOne:        false,
		AmountSpecified:   big.NewInt(-1_000_000),
		SqrtPriceLimitX96: maxPrice,
	}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.SwapFee != 200 {
		t.Fatalf("swapFee = %d, want 200", res.SwapFee)
	}
	if res.AmountToProtocol.Cmp(big.NewInt(202)) != 0 {
		t.Fatalf("protocol cut = %s, want 202", res.AmountToProtocol)
	}
	accrued0, accrued1 := p.ProtocolFeesAccrued()
	if accrued0.Sign() != 0 || accrued1.Cmp(big.NewInt(202)) != 0 {
		t.Fatalf("accrued = (%s, %s), want (0, 202)", accrued0, accrued1)
	}
}

func TestSwapLPFeeGrowth(t *testing.T) {
	p := newWidePool(t, Fee030, 0)

	res, err := p.Swap(SwapParams{
		ZeroForOne:        true,
		AmountSpecified:   big.NewInt(-1_000_000),
		SqrtPriceLimitX96: priceThreeQtr,
	}, Fee030)
	if err != nil {
		t.Fatal(err)
	}
	if res.SwapFee != Fee030 {
		t.Fatalf("swapFee = %d, want %d", res.SwapFee, Fee030)
	}

	g0, g1 := p.FeeGrowthGlobal()
	if g0.Sign() <= 0 {
		t.Fatal("input-side fee growth must advance")
	}
	if g1.Sign() != 0 {
		t.Fatal("output-side fee growth must not move")
	}

	// The fee charged on the input divides evenly by the liquidity, so the
	// position collects exactly the 3000 pips.
	colRes, err := p.ModifyLiquidity(testOwner, ModifyLiquidityParams{
		TickLower:      -819150,
		TickUpper:      819150,
		LiquidityDelta: new(big.Int),
	})
	if err != nil {
		t.Fatal(err)
	}
	if colRes.FeesAccrued.Amount0().Cmp(big.NewInt(3000)) != 0 {
		t.Fatalf("fees0 = %s, want 3000", colRes.FeesAccrued.Amount0())
	}
}

func TestPoolCloneIsolated(t *testing.T) {
	p := newWidePool(t, 0, 0)
	clone := p.Clone()

	if _, err := clone.Swap(SwapParams{
		ZeroForOne:        true,
		AmountSpecified:   new(big.Int).Neg(amount0Exact),
		SqrtPriceLimitX96: priceThreeQtr,
	}, 0); err != nil {
		t.Fatal(err)
	}

	if p.Slot0().SqrtPriceX96().Cmp(priceOne) != 0 {
		t.Fatal("swap on the clone must not move the original's price")
	}
	if clone.Slot0().SqrtPriceX96().Cmp(priceThreeQtr) != 0 {
		t.Fatal("clone must carry the swap")
	}
	if _, err := clone.ModifyLiquidity(testOwner, ModifyLiquidityParams{
		TickLower:      -819150,
		TickUpper:      819150,
		LiquidityDelta: new(big.Int).Neg(liqThree),
	}); err != nil {
		t.Fatal(err)
	}
	if p.TickInfoAt(-819150) == nil {
		t.Fatal("removing on the clone must not prune the original's ticks")
	}
}
