// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dex

import (
	"fmt"
	"math/big"
)

// ProtocolFee packs the two directional protocol fees into one word: the
// lower 12 bits apply to zero-for-one swaps, the upper 12 bits to
// one-for-zero swaps. Each is in pips taken from the input amount.
type ProtocolFee uint32

// NewProtocolFee packs and validates a directional fee pair.
func NewProtocolFee(zeroForOne, oneForZero uint16) (ProtocolFee, error) {
	if zeroForOne > MaxProtocolFee || oneForZero > MaxProtocolFee {
		return 0, fmt.Errorf("%w: %d/%d", ErrProtocolFeeTooLarge, zeroForOne, oneForZero)
	}
	return ProtocolFee(uint32(oneForZero)<<12 | uint32(zeroForOne)), nil
}

// ZeroForOne returns the fee applied to zero-for-one swaps.
func (f ProtocolFee) ZeroForOne() uint16 {
	return uint16(f & 0xFFF)
}

// OneForZero returns the fee applied to one-for-zero swaps.
func (f ProtocolFee) OneForZero() uint16 {
	return uint16(f>>12) & 0xFFF
}

// ForDirection selects the fee for the given swap direction.
func (f ProtocolFee) ForDirection(zeroForOne bool) uint16 {
	if zeroForOne {
		return f.ZeroForOne()
	}
	return f.OneForZero()
}

// Valid reports whether both packed fields are within bounds.
func (f ProtocolFee) Valid() bool {
	return f.ZeroForOne() <= MaxProtocolFee && f.OneForZero() <= MaxProtocolFee
}

// Slot0 is a pool's top-of-book state: the current Q64.96 sqrt price, the
// active tick, the protocol fee pair and the active LP fee. Mutation goes
// through the With* setters so a pool can be cloned and restored wholesale.
type Slot0 struct {
	sqrtPriceX96 *big.Int
	tick         int32
	protocolFee  ProtocolFee
	lpFee        uint32
}

// NewSlot0 builds the initial slot for a freshly initialized pool.
func NewSlot0(sqrtPriceX96 *big.Int, tick int32, protocolFee ProtocolFee, lpFee uint32) Slot0 {
	return Slot0{
		sqrtPriceX96: new(big.Int).Set(sqrtPriceX96),
		tick:         tick,
		protocolFee:  protocolFee,
		lpFee:        lpFee,
	}
}

// SqrtPriceX96 returns a copy of the current sqrt price.
func (s Slot0) SqrtPriceX96() *big.Int {
	if s.sqrtPriceX96 == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(s.sqrtPriceX96)
}

// Tick returns the active tick.
func (s Slot0) Tick() int32 { return s.tick }

// ProtocolFee returns the packed protocol fee pair.
func (s Slot0) ProtocolFee() ProtocolFee { return s.protocolFee }

// LPFee returns the active LP fee in pips.
func (s Slot0) LPFee() uint32 { return s.lpFee }

// WithPrice returns the slot with a new price and tick.
func (s Slot0) WithPrice(sqrtPriceX96 *big.Int, tick int32) Slot0 {
	s.sqrtPriceX96 = new(big.Int).Set(sqrtPriceX96)
	s.tick = tick
	return s
}

// WithProtocolFee returns the slot with a new protocol fee pair.
func (s Slot0) WithProtocolFee(fee ProtocolFee) Slot0 {
	s.protocolFee = fee
	return s
}

// WithLPFee returns the slot with a new LP fee.
func (s Slot0) WithLPFee(fee uint32) Slot0 {
	s.lpFee = fee
	return s
}
