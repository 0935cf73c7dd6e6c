// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dex

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"
)

// =============================================================================
// Hook Permissions
// =============================================================================

// HookFlags encodes a hook's lifecycle permissions in the low-order 14 bits
// of its address. A hook is only invoked at points its address declares.
type HookFlags uint16

const (
	BeforeInitializeFlag          HookFlags = 1 << 13
	AfterInitializeFlag           HookFlags = 1 << 12
	BeforeAddLiquidityFlag        HookFlags = 1 << 11
	AfterAddLiquidityFlag         HookFlags = 1 << 10
	BeforeRemoveLiquidityFlag     HookFlags = 1 << 9
	AfterRemoveLiquidityFlag      HookFlags = 1 << 8
	BeforeSwapFlag                HookFlags = 1 << 7
	AfterSwapFlag                 HookFlags = 1 << 6
	BeforeDonateFlag              HookFlags = 1 << 5
	AfterDonateFlag               HookFlags = 1 << 4
	BeforeSwapReturnsDeltaFlag    HookFlags = 1 << 3
	AfterSwapReturnsDeltaFlag     HookFlags = 1 << 2
	AfterAddReturnsDeltaFlag      HookFlags = 1 << 1
	AfterRemoveReturnsDeltaFlag   HookFlags = 1 << 0

	allHookFlags HookFlags = 1<<14 - 1
)

// Has reports whether all given flags are set.
func (f HookFlags) Has(flag HookFlags) bool {
	return f&flag == flag
}

// FlagsFromAddress extracts the permission bits from a hook address.
func FlagsFromAddress(addr common.Address) HookFlags {
	return HookFlags(binary.BigEndian.Uint16(addr[18:20])) & allHookFlags
}

// validFlagCombination checks structural constraints: a returns-delta flag is
// meaningless without the callback it rides on.
func validFlagCombination(f HookFlags) bool {
	if f.Has(BeforeSwapReturnsDeltaFlag) && !f.Has(BeforeSwapFlag) {
		return false
	}
	if f.Has(AfterSwapReturnsDeltaFlag) && !f.Has(AfterSwapFlag) {
		return false
	}
	if f.Has(AfterAddReturnsDeltaFlag) && !f.Has(AfterAddLiquidityFlag) {
		return false
	}
	if f.Has(AfterRemoveReturnsDeltaFlag) && !f.Has(AfterRemoveLiquidityFlag) {
		return false
	}
	return true
}

// =============================================================================
// Hook Acknowledgments
// =============================================================================

// HookAck is the fixed value a hook must echo back from a callback. Any
// other value aborts the operation with ErrInvalidHookResponse.
type HookAck [4]byte

func ackFor(name string) HookAck {
	digest := blake3.Sum256([]byte(name))
	var ack HookAck
	copy(ack[:], digest[:4])
	return ack
}

var (
	AckBeforeInitialize      = ackFor("beforeInitialize")
	AckAfterInitialize       = ackFor("afterInitialize")
	AckBeforeAddLiquidity    = ackFor("beforeAddLiquidity")
	AckAfterAddLiquidity     = ackFor("afterAddLiquidity")
	AckBeforeRemoveLiquidity = ackFor("beforeRemoveLiquidity")
	AckAfterRemoveLiquidity  = ackFor("afterRemoveLiquidity")
	AckBeforeSwap            = ackFor("beforeSwap")
	AckAfterSwap             = ackFor("afterSwap")
	AckBeforeDonate          = ackFor("beforeDonate")
	AckAfterDonate           = ackFor("afterDonate")
)

// =============================================================================
// Hook Interfaces
// =============================================================================

// Hook is the identity every extension implements. The lifecycle callbacks
// are optional interfaces asserted at registration against the declared
// permission set, so a hook only implements the points it uses.
type Hook interface {
	// HookAddress is the hook's identity; its low-order bits must encode
	// exactly the permissions the hook declares.
	HookAddress() common.Address

	// Permissions is the hook's self-declared capability set.
	Permissions() HookFlags
}

// BeforeInitializeHook runs before a pool using this hook is initialized.
type BeforeInitializeHook interface {
	BeforeInitialize(s *Session, key PoolKey, sqrtPriceX96 *big.Int) (HookAck, error)
}

// AfterInitializeHook runs after a pool is initialized.
type AfterInitializeHook interface {
	AfterInitialize(s *Session, key PoolKey, sqrtPriceX96 *big.Int, tick int32) (HookAck, error)
}

// BeforeAddLiquidityHook runs before liquidity is added.
type BeforeAddLiquidityHook interface {
	BeforeAddLiquidity(s *Session, key PoolKey, params ModifyLiquidityParams, hookData []byte) (HookAck, error)
}

// AfterAddLiquidityHook runs after liquidity is added. With
// AfterAddReturnsDeltaFlag the returned delta is charged to the hook and
// deducted from the caller's.
type AfterAddLiquidityHook interface {
	AfterAddLiquidity(s *Session, key PoolKey, params ModifyLiquidityParams, delta, feesAccrued BalanceDelta, hookData []byte) (HookAck, BalanceDelta, error)
}

// BeforeRemoveLiquidityHook runs before liquidity is removed.
type BeforeRemoveLiquidityHook interface {
	BeforeRemoveLiquidity(s *Session, key PoolKey, params ModifyLiquidityParams, hookData []byte) (HookAck, error)
}

// AfterRemoveLiquidityHook runs after liquidity is removed, with the same
// delta-returning contract as AfterAddLiquidityHook.
type AfterRemoveLiquidityHook interface {
	AfterRemoveLiquidity(s *Session, key PoolKey, params ModifyLiquidityParams, delta, feesAccrued BalanceDelta, hookData []byte) (HookAck, BalanceDelta, error)
}

// BeforeSwapHook runs before a swap. With BeforeSwapReturnsDeltaFlag the
// returned delta's specified component is folded into the amount the pool
// swaps. On dynamic-fee pools a returned fee with OverrideFeeFlag set
// replaces the LP fee for this swap only.
type BeforeSwapHook interface {
	BeforeSwap(s *Session, key PoolKey, params SwapParams, hookData []byte) (HookAck, BeforeSwapDelta, uint32, error)
}

// AfterSwapHook runs after a swap. With AfterSwapReturnsDeltaFlag the
// returned amount adjusts the unspecified currency of the caller's delta.
type AfterSwapHook interface {
	AfterSwap(s *Session, key PoolKey, params SwapParams, delta BalanceDelta, hookData []byte) (HookAck, *big.Int, error)
}

// BeforeDonateHook runs before a donation.
type BeforeDonateHook interface {
	BeforeDonate(s *Session, key PoolKey, amount0, amount1 *big.Int, hookData []byte) (HookAck, error)
}

// AfterDonateHook runs after a donation.
type AfterDonateHook interface {
	AfterDonate(s *Session, key PoolKey, amount0, amount1 *big.Int, hookData []byte) (HookAck, error)
}

// =============================================================================
// Hook Registry
// =============================================================================

// HookRegistry maps hook addresses to implementations. Registration is the
// single point where a hook's declared permissions, its address bits and the
// callbacks it actually implements are checked against each other; dispatch
// afterward trusts the registry.
type HookRegistry struct {
	hooks map[common.Address]hookRecord
}

// hookRecord is a registered hook with its validated capability set. Flags
// are fixed at registration; dispatch never re-derives them.
type hookRecord struct {
	hook  Hook
	flags HookFlags
}

// NewHookRegistry creates an empty registry.
func NewHookRegistry() *HookRegistry {
	return &HookRegistry{hooks: make(map[common.Address]hookRecord)}
}

// Register validates and installs a hook.
func (r *HookRegistry) Register(h Hook) error {
	addr := h.HookAddress()
	declared := h.Permissions()

	if FlagsFromAddress(addr) != declared {
		return fmt.Errorf("%w: address bits %014b declared %014b",
			ErrHookAddressMismatch, FlagsFromAddress(addr), declared)
	}
	if !validFlagCombination(declared) {
		return fmt.Errorf("%w: returns-delta flag without its callback", ErrHookAddressMismatch)
	}

	checks := []struct {
		flag HookFlags
		ok   bool
		name string
	}{
		{BeforeInitializeFlag, implementsBeforeInitialize(h), "beforeInitialize"},
		{AfterInitializeFlag, implementsAfterInitialize(h), "afterInitialize"},
		{BeforeAddLiquidityFlag, implementsBeforeAddLiquidity(h), "beforeAddLiquidity"},
		{AfterAddLiquidityFlag, implementsAfterAddLiquidity(h), "afterAddLiquidity"},
		{BeforeRemoveLiquidityFlag, implementsBeforeRemoveLiquidity(h), "beforeRemoveLiquidity"},
		{AfterRemoveLiquidityFlag, implementsAfterRemoveLiquidity(h), "afterRemoveLiquidity"},
		{BeforeSwapFlag, implementsBeforeSwap(h), "beforeSwap"},
		{AfterSwapFlag, implementsAfterSwap(h), "afterSwap"},
		{BeforeDonateFlag, implementsBeforeDonate(h), "beforeDonate"},
		{AfterDonateFlag, implementsAfterDonate(h), "afterDonate"},
	}
	for _, c := range checks {
		if declared.Has(c.flag) && !c.ok {
			return fmt.Errorf("%w: %s declared but not implemented", ErrHookAddressMismatch, c.name)
		}
	}

	r.hooks[addr] = hookRecord{hook: h, flags: declared}
	return nil
}

// Lookup returns the hook registered at addr and its capability set.
func (r *HookRegistry) Lookup(addr common.Address) (Hook, HookFlags, error) {
	rec, ok := r.hooks[addr]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrHookNotRegistered, addr)
	}
	return rec.hook, rec.flags, nil
}

func implementsBeforeInitialize(h Hook) bool      { _, ok := h.(BeforeInitializeHook); return ok }
func implementsAfterInitialize(h Hook) bool       { _, ok := h.(AfterInitializeHook); return ok }
func implementsBeforeAddLiquidity(h Hook) bool    { _, ok := h.(BeforeAddLiquidityHook); return ok }
func implementsAfterAddLiquidity(h Hook) bool     { _, ok := h.(AfterAddLiquidityHook); return ok }
func implementsBeforeRemoveLiquidity(h Hook) bool { _, ok := h.(BeforeRemoveLiquidityHook); return ok }
func implementsAfterRemoveLiquidity(h Hook) bool  { _, ok := h.(AfterRemoveLiquidityHook); return ok }
func implementsBeforeSwap(h Hook) bool            { _, ok := h.(BeforeSwapHook); return ok }
func implementsAfterSwap(h Hook) bool             { _, ok := h.(AfterSwapHook); return ok }
func implementsBeforeDonate(h Hook) bool          { _, ok := h.(BeforeDonateHook); return ok }
func implementsAfterDonate(h Hook) bool           { _, ok := h.(AfterDonateHook); return ok }
