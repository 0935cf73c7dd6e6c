// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dex

import (
	"fmt"
	"math/big"
)

// int128 bounds for delta range checks.
var (
	maxInt128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minInt128 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

func checkInt128(v *big.Int) error {
	if v.Cmp(minInt128) < 0 || v.Cmp(maxInt128) > 0 {
		return fmt.Errorf("%w: %s", ErrDeltaOverflow, v)
	}
	return nil
}

// BalanceDelta is a signed amount pair for the two currencies of a pool,
// ordered (currency0, currency1). Positive means the counterparty is owed,
// negative means the counterparty owes. Each component is bounded to the
// signed 128-bit range; access goes through Amount0/Amount1 rather than raw
// fields so callers never see a half-constructed pair.
type BalanceDelta struct {
	amount0 *big.Int
	amount1 *big.Int
}

// ZeroDelta is the additive identity.
func ZeroDelta() BalanceDelta {
	return BalanceDelta{amount0: new(big.Int), amount1: new(big.Int)}
}

// ToBalanceDelta constructs a delta, range-checking both components.
func ToBalanceDelta(amount0, amount1 *big.Int) (BalanceDelta, error) {
	if err := checkInt128(amount0); err != nil {
		return BalanceDelta{}, err
	}
	if err := checkInt128(amount1); err != nil {
		return BalanceDelta{}, err
	}
	return BalanceDelta{
		amount0: new(big.Int).Set(amount0),
		amount1: new(big.Int).Set(amount1),
	}, nil
}

// Amount0 returns a copy of the currency0 component.
func (d BalanceDelta) Amount0() *big.Int {
	if d.amount0 == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(d.amount0)
}

// Amount1 returns a copy of the currency1 component.
func (d BalanceDelta) Amount1() *big.Int {
	if d.amount1 == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(d.amount1)
}

// IsZero reports whether both components are zero.
func (d BalanceDelta) IsZero() bool {
	return d.Amount0().Sign() == 0 && d.Amount1().Sign() == 0
}

// Add returns d + other, failing if either component leaves int128 range.
func (d BalanceDelta) Add(other BalanceDelta) (BalanceDelta, error) {
	return ToBalanceDelta(
		new(big.Int).Add(d.Amount0(), other.Amount0()),
		new(big.Int).Add(d.Amount1(), other.Amount1()),
	)
}

// Sub returns d - other, failing if either component leaves int128 range.
func (d BalanceDelta) Sub(other BalanceDelta) (BalanceDelta, error) {
	return ToBalanceDelta(
		new(big.Int).Sub(d.Amount0(), other.Amount0()),
		new(big.Int).Sub(d.Amount1(), other.Amount1()),
	)
}

// Neg returns the componentwise negation.
func (d BalanceDelta) Neg() BalanceDelta {
	out, _ := ToBalanceDelta(new(big.Int).Neg(d.Amount0()), new(big.Int).Neg(d.Amount1()))
	return out
}

func (d BalanceDelta) String() string {
	return fmt.Sprintf("(%s, %s)", d.Amount0(), d.Amount1())
}

// BeforeSwapDelta is the amount pair a beforeSwap hook may return, keyed by
// role rather than currency order: the specified component applies to the
// currency the swapper fixed the amount of, the unspecified component to the
// other one.
type BeforeSwapDelta struct {
	specified   *big.Int
	unspecified *big.Int
}

// ZeroBeforeSwapDelta is the no-adjustment response.
func ZeroBeforeSwapDelta() BeforeSwapDelta {
	return BeforeSwapDelta{specified: new(big.Int), unspecified: new(big.Int)}
}

// ToBeforeSwapDelta constructs a hook swap delta, range-checking components.
func ToBeforeSwapDelta(specified, unspecified *big.Int) (BeforeSwapDelta, error) {
	if err := checkInt128(specified); err != nil {
		return BeforeSwapDelta{}, err
	}
	if err := checkInt128(unspecified); err != nil {
		return BeforeSwapDelta{}, err
	}
	return BeforeSwapDelta{
		specified:   new(big.Int).Set(specified),
		unspecified: new(big.Int).Set(unspecified),
	}, nil
}

// Specified returns a copy of the specified-currency component.
func (d BeforeSwapDelta) Specified() *big.Int {
	if d.specified == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(d.specified)
}

// Unspecified returns a copy of the unspecified-currency component.
func (d BeforeSwapDelta) Unspecified() *big.Int {
	if d.unspecified == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(d.unspecified)
}

// IsZero reports whether both components are zero.
func (d BeforeSwapDelta) IsZero() bool {
	return d.Specified().Sign() == 0 && d.Unspecified().Sign() == 0
}
