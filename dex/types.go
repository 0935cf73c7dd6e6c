// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package dex implements the accounting-and-matching core of a singleton
// concentrated-liquidity AMM. All pools live in one PoolManager, token
// movement is deferred into a per-session ledger of signed deltas that must
// net to zero before the session closes (flash accounting), and optional
// hook extensions are dispatched at fixed lifecycle points of each
// operation.
package dex

import (
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"
)

// Fee constants. LP fees are expressed in pips (hundredths of a basis
// point); 1_000_000 pips is 100%.
const (
	// MaxLPFee is the largest static or dynamic LP fee a pool may carry.
	MaxLPFee uint32 = 1_000_000

	// DynamicFeeFlag marks a pool key's fee as dynamic; the active fee is
	// whatever was most recently pushed by the pool's hook.
	DynamicFeeFlag uint32 = 0x800000

	// OverrideFeeFlag is set on the fee returned by beforeSwap when the hook
	// wants the returned value to replace the stored LP fee for this swap
	// only. Honored on dynamic-fee pools.
	OverrideFeeFlag uint32 = 0x400000

	// MaxProtocolFee is the largest per-direction protocol fee, in pips.
	MaxProtocolFee uint16 = 1000
)

// Common fee tiers.
const (
	Fee001 uint32 = 100   // 0.01%
	Fee005 uint32 = 500   // 0.05%
	Fee030 uint32 = 3000  // 0.30%
	Fee100 uint32 = 10000 // 1.00%
)

// Tick spacing bounds.
const (
	MinTickSpacing int32 = 1
	MaxTickSpacing int32 = 16383
)

// Currency identifies a token. The zero address is the native asset.
type Currency struct {
	Address common.Address
}

// NativeCurrency is the chain-native asset.
var NativeCurrency = Currency{Address: common.Address{}}

// IsNative returns true if this currency is the native asset.
func (c Currency) IsNative() bool {
	return c.Address == (common.Address{})
}

// ToBytes serializes the currency for hashing and storage.
func (c Currency) ToBytes() []byte {
	return c.Address.Bytes()
}

// CurrencyFromBytes deserializes a currency.
func CurrencyFromBytes(data []byte) Currency {
	return Currency{Address: common.BytesToAddress(data)}
}

// Less reports whether c sorts strictly before other. Pool keys require
// Currency0 < Currency1 under this order.
func (c Currency) Less(other Currency) bool {
	return addressCompare(c.Address, other.Address) < 0
}

func addressCompare(a, b common.Address) int {
	for i := 0; i < common.AddressLength; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// PoolId is the digest identifying one pool's state.
type PoolId [32]byte

// PoolKey uniquely identifies a pool. Immutable once constructed; two
// structurally equal keys always map to the same PoolId.
type PoolKey struct {
	Currency0   Currency       // lower-sorting currency
	Currency1   Currency       // higher-sorting currency
	Fee         uint32         // static LP fee in pips, or DynamicFeeFlag
	TickSpacing int32          // tick granularity, [1, 16383]
	Hooks       common.Address // hook identity, zero = no hooks
}

// ID computes the pool identifier as a blake3 digest over all five fields.
func (pk PoolKey) ID() PoolId {
	h := blake3.New()
	h.Write(pk.Currency0.ToBytes())
	h.Write(pk.Currency1.ToBytes())

	var fee [4]byte
	binary.BigEndian.PutUint32(fee[:], pk.Fee)
	h.Write(fee[1:])

	var spacing [4]byte
	binary.BigEndian.PutUint32(spacing[:], uint32(pk.TickSpacing))
	h.Write(spacing[1:])

	h.Write(pk.Hooks.Bytes())

	var id PoolId
	h.Digest().Read(id[:])
	return id
}

// IsDynamicFee reports whether the key selects hook-driven fees.
func (pk PoolKey) IsDynamicFee() bool {
	return pk.Fee == DynamicFeeFlag
}

// SwapParams describes one swap request.
type SwapParams struct {
	ZeroForOne        bool     // true sells currency0 for currency1
	AmountSpecified   *big.Int // negative = exact input, positive = exact output
	SqrtPriceLimitX96 *big.Int // Q64.96 price the swap may not cross
}

// ModifyLiquidityParams describes a liquidity change on a tick range.
type ModifyLiquidityParams struct {
	TickLower      int32
	TickUpper      int32
	LiquidityDelta *big.Int // positive adds, negative removes, zero collects fees
	Salt           [32]byte // distinguishes positions of one owner on one range
}

// PositionKey computes the digest identifying a position within a pool.
func PositionKey(owner common.Address, tickLower, tickUpper int32, salt [32]byte) [32]byte {
	h := blake3.New()
	h.Write(owner.Bytes())

	var ticks [8]byte
	binary.BigEndian.PutUint32(ticks[:4], uint32(tickLower))
	binary.BigEndian.PutUint32(ticks[4:], uint32(tickUpper))
	h.Write(ticks[:])
	h.Write(salt[:])

	var key [32]byte
	h.Digest().Read(key[:])
	return key
}

// ============================================================================
// Errors
// ============================================================================

// Session discipline
var (
	ErrAlreadyUnlocked    = errors.New("manager already unlocked")
	ErrManagerLocked      = errors.New("manager locked")
	ErrCurrencyNotSettled = errors.New("currency not settled")
	ErrCurrencyNotSynced  = errors.New("no currency synced")
)

// Pool lifecycle
var (
	ErrPoolNotInitialized     = errors.New("pool not initialized")
	ErrPoolAlreadyInitialized = errors.New("pool already initialized")
	ErrCurrencyNotSorted      = errors.New("currencies not sorted")
	ErrTickSpacingOutOfRange  = errors.New("tick spacing out of range")
	ErrInvalidSqrtPrice       = errors.New("invalid sqrt price")
)

// Swap and fees
var (
	ErrSwapAmountZero        = errors.New("swap amount cannot be zero")
	ErrPriceLimitInvalid     = errors.New("price limit out of range")
	ErrNoLiquidity           = errors.New("no liquidity in pool")
	ErrFeeTooLarge           = errors.New("lp fee exceeds maximum")
	ErrProtocolFeeTooLarge   = errors.New("protocol fee exceeds maximum")
	ErrNotDynamicFee         = errors.New("pool does not use dynamic fees")
	ErrUnauthorizedFeeUpdate = errors.New("fee update not from pool hook")
)

// Hook contract
var (
	ErrInvalidHookResponse        = errors.New("invalid hook response")
	ErrHookAddressMismatch        = errors.New("hook address does not encode declared permissions")
	ErrHookNotRegistered          = errors.New("hook not registered")
	ErrHookDeltaExceedsSwapAmount = errors.New("hook delta exceeds swap amount")
)

// Ledger
var (
	ErrMustClearExactPositiveDelta = errors.New("must clear exact positive delta")
	ErrInsufficientClaimBalance    = errors.New("insufficient claim balance")
)

// Arithmetic and tick structure
var (
	ErrDeltaOverflow      = errors.New("balance delta overflow")
	ErrLiquidityUnderflow = errors.New("liquidity underflow")
	ErrLiquidityOverflow  = errors.New("liquidity per tick exceeded")
	ErrInvalidTickRange   = errors.New("invalid tick range")
	ErrTickOutOfRange     = errors.New("tick out of range")
	ErrTickNotOnSpacing   = errors.New("tick not a multiple of spacing")
)

// Fixed-point constants.
var (
	Q96  = new(big.Int).Lsh(big.NewInt(1), 96)
	Q128 = new(big.Int).Lsh(big.NewInt(1), 128)
)
