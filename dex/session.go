// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dex

import (
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"
)

// =============================================================================
// Session
// =============================================================================

// Session is one unlocked interval of the manager. All pool operations and
// token movement run through it: per-account, per-currency deltas accumulate
// in its ledger, pools are mutated on copy-on-write clones, and the session
// only commits if every delta has been settled back to zero. An error from
// any operation aborts the whole session.
type Session struct {
	mgr    *Manager
	caller common.Address

	// actor is the account operations are attributed to. It is the caller,
	// except while a hook callback runs, when it is the hook's address, so
	// hooks settle their own deltas.
	actor common.Address

	// active is set only while Unlock runs the session's callback. Ledger
	// and pool operations on an inactive session fail with ErrManagerLocked.
	active bool

	deltas  map[deltaKey]*big.Int
	nonzero int

	// Copy-on-write pool clones, committed to the manager on success.
	pools map[PoolId]*Pool

	syncedCurrency *Currency
	syncedReserves *big.Int
}

type deltaKey struct {
	account  common.Address
	currency Currency
}

func newSession(mgr *Manager, caller common.Address) *Session {
	return &Session{
		mgr:    mgr,
		caller: caller,
		actor:  caller,
		deltas: make(map[deltaKey]*big.Int),
		pools:  make(map[PoolId]*Pool),
	}
}

// Caller returns the account that opened the session.
func (s *Session) Caller() common.Address { return s.caller }

// Actor returns the account current operations are attributed to: the
// caller, or the hook address while a hook callback runs.
func (s *Session) Actor() common.Address { return s.actor }

// CurrencyDelta returns a copy of the account's outstanding delta in the
// currency. Positive means the manager owes the account.
func (s *Session) CurrencyDelta(account common.Address, currency Currency) *big.Int {
	if d, ok := s.deltas[deltaKey{account, currency}]; ok {
		return new(big.Int).Set(d)
	}
	return new(big.Int)
}

// NonzeroDeltaCount returns how many (account, currency) deltas are open.
func (s *Session) NonzeroDeltaCount() int { return s.nonzero }

// accountDelta applies a signed delta to an account's ledger entry,
// maintaining the count of open entries.
func (s *Session) accountDelta(account common.Address, currency Currency, delta *big.Int) error {
	if delta.Sign() == 0 {
		return nil
	}
	key := deltaKey{account, currency}
	current, ok := s.deltas[key]
	if !ok {
		current = new(big.Int)
	}
	next := new(big.Int).Add(current, delta)
	if err := checkInt128(next); err != nil {
		return err
	}

	wasZero := current.Sign() == 0
	isZero := next.Sign() == 0
	switch {
	case wasZero && !isZero:
		s.nonzero++
	case !wasZero && isZero:
		s.nonzero--
	}

	s.deltas[key] = next
	return nil
}

func (s *Session) accountPoolDelta(account common.Address, key PoolKey, delta BalanceDelta) error {
	if err := s.accountDelta(account, key.Currency0, delta.Amount0()); err != nil {
		return err
	}
	return s.accountDelta(account, key.Currency1, delta.Amount1())
}

// poolFor returns the session's working clone of a pool, creating it from
// the committed state on first touch.
func (s *Session) poolFor(id PoolId) (*Pool, error) {
	if p, ok := s.pools[id]; ok {
		return p, nil
	}
	committed, ok := s.mgr.pools[id]
	if !ok {
		return nil, ErrPoolNotInitialized
	}
	clone := committed.Clone()
	s.pools[id] = clone
	return clone, nil
}

// opMark captures everything a pool operation can touch: the working pool
// clone, the delta ledger, the sync checkpoint, and the token and claim
// journals. A failed operation is rewound to its mark, so no partial effects
// survive even if the session's callback swallows the error.
type opMark struct {
	poolID PoolId
	pool   *Pool

	deltas  map[deltaKey]*big.Int
	nonzero int

	syncedCurrency *Currency
	syncedReserves *big.Int

	tokens int
	claims int
}

func (s *Session) mark(id PoolId) opMark {
	m := opMark{
		poolID:  id,
		deltas:  make(map[deltaKey]*big.Int, len(s.deltas)),
		nonzero: s.nonzero,
		tokens:  s.mgr.tokens.Snapshot(),
		claims:  s.mgr.claims.Snapshot(),
	}
	if p, ok := s.pools[id]; ok {
		m.pool = p.Clone()
	}
	for k, v := range s.deltas {
		m.deltas[k] = new(big.Int).Set(v)
	}
	if s.syncedCurrency != nil {
		c := *s.syncedCurrency
		m.syncedCurrency = &c
		m.syncedReserves = new(big.Int).Set(s.syncedReserves)
	}
	return m
}

func (s *Session) rewind(m opMark) {
	if m.pool != nil {
		s.pools[m.poolID] = m.pool
	} else {
		delete(s.pools, m.poolID)
	}
	s.deltas = m.deltas
	s.nonzero = m.nonzero
	s.syncedCurrency = m.syncedCurrency
	s.syncedReserves = m.syncedReserves
	s.mgr.tokens.RevertToSnapshot(m.tokens)
	s.mgr.claims.RevertToSnapshot(m.claims)
}

// hookFor resolves a pool key's hook and the capability set recorded at
// registration. A zero hook address means no hooks.
func (s *Session) hookFor(key PoolKey) (Hook, HookFlags, error) {
	if key.Hooks == (common.Address{}) {
		return nil, 0, nil
	}
	return s.mgr.registry.Lookup(key.Hooks)
}

// asHook attributes operations inside fn to the hook address.
func (s *Session) asHook(hookAddr common.Address, fn func() error) error {
	prev := s.actor
	s.actor = hookAddr
	err := fn()
	s.actor = prev
	return err
}

func validateAck(got, want HookAck, name string) error {
	if got != want {
		return fmt.Errorf("%w: %s returned %x", ErrInvalidHookResponse, name, got)
	}
	return nil
}

// =============================================================================
// Swap
// =============================================================================

// Swap executes a swap against a pool, dispatching the pool's swap hooks and
// accounting the resulting delta to the actor. Returns the actor's delta. A
// failed swap leaves the session untouched.
func (s *Session) Swap(key PoolKey, params SwapParams, hookData []byte) (BalanceDelta, error) {
	if !s.active {
		return BalanceDelta{}, ErrManagerLocked
	}
	if params.AmountSpecified == nil || params.AmountSpecified.Sign() == 0 {
		return BalanceDelta{}, ErrSwapAmountZero
	}

	mark := s.mark(key.ID())
	delta, err := s.swap(key, params, hookData)
	if err != nil {
		s.rewind(mark)
		return BalanceDelta{}, err
	}
	return delta, nil
}

func (s *Session) swap(key PoolKey, params SwapParams, hookData []byte) (BalanceDelta, error) {
	pool, err := s.poolFor(key.ID())
	if err != nil {
		return BalanceDelta{}, err
	}
	hook, flags, err := s.hookFor(key)
	if err != nil {
		return BalanceDelta{}, err
	}

	swapper := s.actor
	exactInput := params.AmountSpecified.Sign() < 0
	amountToSwap := new(big.Int).Set(params.AmountSpecified)
	lpFee := pool.Slot0().LPFee()

	hookDeltaSpecified := new(big.Int)
	hookDeltaUnspecified := new(big.Int)

	if flags.Has(BeforeSwapFlag) {
		var (
			ack           HookAck
			hookSwapDelta BeforeSwapDelta
			feeOverride   uint32
		)
		err := s.asHook(key.Hooks, func() error {
			var hookErr error
			ack, hookSwapDelta, feeOverride, hookErr = hook.(BeforeSwapHook).BeforeSwap(s, key, params, hookData)
			return hookErr
		})
		if err != nil {
			return BalanceDelta{}, err
		}
		if err := validateAck(ack, AckBeforeSwap, "beforeSwap"); err != nil {
			return BalanceDelta{}, err
		}

		if key.IsDynamicFee() && feeOverride&OverrideFeeFlag != 0 {
			override := feeOverride &^ OverrideFeeFlag
			if override > MaxLPFee {
				return BalanceDelta{}, fmt.Errorf("%w: override %d", ErrFeeTooLarge, override)
			}
			lpFee = override
		}

		if flags.Has(BeforeSwapReturnsDeltaFlag) {
			hookDeltaSpecified = hookSwapDelta.Specified()
			hookDeltaUnspecified = hookSwapDelta.Unspecified()
			amountToSwap.Add(amountToSwap, hookDeltaSpecified)
			// The hook may consume part of the swap amount, never flip an
			// exact-input swap into exact-output or vice versa.
			if amountToSwap.Sign() == -params.AmountSpecified.Sign() {
				return BalanceDelta{}, fmt.Errorf("%w: hook delta %s against %s",
					ErrHookDeltaExceedsSwapAmount, hookDeltaSpecified, params.AmountSpecified)
			}
		} else if !hookSwapDelta.IsZero() {
			return BalanceDelta{}, fmt.Errorf("%w: beforeSwap delta without permission", ErrInvalidHookResponse)
		}
	}

	result, err := pool.Swap(SwapParams{
		ZeroForOne:        params.ZeroForOne,
		AmountSpecified:   amountToSwap,
		SqrtPriceLimitX96: params.SqrtPriceLimitX96,
	}, lpFee)
	if err != nil {
		return BalanceDelta{}, err
	}
	swapDelta := result.Delta

	if flags.Has(AfterSwapFlag) {
		var (
			ack             HookAck
			hookUnspecified *big.Int
		)
		err := s.asHook(key.Hooks, func() error {
			var hookErr error
			ack, hookUnspecified, hookErr = hook.(AfterSwapHook).AfterSwap(s, key, params, swapDelta, hookData)
			return hookErr
		})
		if err != nil {
			return BalanceDelta{}, err
		}
		if err := validateAck(ack, AckAfterSwap, "afterSwap"); err != nil {
			return BalanceDelta{}, err
		}
		if hookUnspecified != nil && hookUnspecified.Sign() != 0 {
			if !flags.Has(AfterSwapReturnsDeltaFlag) {
				return BalanceDelta{}, fmt.Errorf("%w: afterSwap delta without permission", ErrInvalidHookResponse)
			}
			hookDeltaUnspecified.Add(hookDeltaUnspecified, hookUnspecified)
		}
	}

	if hookDeltaSpecified.Sign() != 0 || hookDeltaUnspecified.Sign() != 0 {
		// The specified currency is currency0 exactly when direction and
		// amount sign agree (selling 0 exact-in, or buying 0 exact-out).
		specifiedIs0 := params.ZeroForOne == exactInput
		var hookDelta BalanceDelta
		if specifiedIs0 {
			hookDelta, err = ToBalanceDelta(hookDeltaSpecified, hookDeltaUnspecified)
		} else {
			hookDelta, err = ToBalanceDelta(hookDeltaUnspecified, hookDeltaSpecified)
		}
		if err != nil {
			return BalanceDelta{}, err
		}

		swapDelta, err = swapDelta.Sub(hookDelta)
		if err != nil {
			return BalanceDelta{}, err
		}
		if err := s.accountPoolDelta(key.Hooks, key, hookDelta); err != nil {
			return BalanceDelta{}, err
		}
	}

	if err := s.accountPoolDelta(swapper, key, swapDelta); err != nil {
		return BalanceDelta{}, err
	}
	return swapDelta, nil
}

// =============================================================================
// Liquidity
// =============================================================================

// ModifyLiquidity changes the actor's position on a pool, dispatching the
// add- or remove-liquidity hooks as appropriate. Returns the actor's total
// delta and the fee portion of it. A failed change leaves the session
// untouched.
func (s *Session) ModifyLiquidity(key PoolKey, params ModifyLiquidityParams, hookData []byte) (BalanceDelta, BalanceDelta, error) {
	if !s.active {
		return BalanceDelta{}, BalanceDelta{}, ErrManagerLocked
	}
	if params.LiquidityDelta == nil {
		params.LiquidityDelta = new(big.Int)
	}

	mark := s.mark(key.ID())
	delta, fees, err := s.modifyLiquidity(key, params, hookData)
	if err != nil {
		s.rewind(mark)
		return BalanceDelta{}, BalanceDelta{}, err
	}
	return delta, fees, nil
}

func (s *Session) modifyLiquidity(key PoolKey, params ModifyLiquidityParams, hookData []byte) (BalanceDelta, BalanceDelta, error) {
	pool, err := s.poolFor(key.ID())
	if err != nil {
		return BalanceDelta{}, BalanceDelta{}, err
	}
	hook, flags, err := s.hookFor(key)
	if err != nil {
		return BalanceDelta{}, BalanceDelta{}, err
	}

	owner := s.actor
	adding := params.LiquidityDelta.Sign() > 0

	if adding && flags.Has(BeforeAddLiquidityFlag) {
		var ack HookAck
		err := s.asHook(key.Hooks, func() error {
			var hookErr error
			ack, hookErr = hook.(BeforeAddLiquidityHook).BeforeAddLiquidity(s, key, params, hookData)
			return hookErr
		})
		if err != nil {
			return BalanceDelta{}, BalanceDelta{}, err
		}
		if err := validateAck(ack, AckBeforeAddLiquidity, "beforeAddLiquidity"); err != nil {
			return BalanceDelta{}, BalanceDelta{}, err
		}
	}
	if !adding && flags.Has(BeforeRemoveLiquidityFlag) {
		var ack HookAck
		err := s.asHook(key.Hooks, func() error {
			var hookErr error
			ack, hookErr = hook.(BeforeRemoveLiquidityHook).BeforeRemoveLiquidity(s, key, params, hookData)
			return hookErr
		})
		if err != nil {
			return BalanceDelta{}, BalanceDelta{}, err
		}
		if err := validateAck(ack, AckBeforeRemoveLiquidity, "beforeRemoveLiquidity"); err != nil {
			return BalanceDelta{}, BalanceDelta{}, err
		}
	}

	result, err := pool.ModifyLiquidity(owner, params)
	if err != nil {
		return BalanceDelta{}, BalanceDelta{}, err
	}

	callerDelta, err := result.PrincipalDelta.Add(result.FeesAccrued)
	if err != nil {
		return BalanceDelta{}, BalanceDelta{}, err
	}

	// The after hooks may claim part of the owner's delta; the add and
	// remove sides follow the same contract.
	if adding && flags.Has(AfterAddLiquidityFlag) {
		callerDelta, err = s.afterModifyHook(key, params, callerDelta, result.FeesAccrued, hookData, true, hook, flags)
		if err != nil {
			return BalanceDelta{}, BalanceDelta{}, err
		}
	}
	if !adding && flags.Has(AfterRemoveLiquidityFlag) {
		callerDelta, err = s.afterModifyHook(key, params, callerDelta, result.FeesAccrued, hookData, false, hook, flags)
		if err != nil {
			return BalanceDelta{}, BalanceDelta{}, err
		}
	}

	if err := s.accountPoolDelta(owner, key, callerDelta); err != nil {
		return BalanceDelta{}, BalanceDelta{}, err
	}
	return callerDelta, result.FeesAccrued, nil
}

func (s *Session) afterModifyHook(key PoolKey, params ModifyLiquidityParams, callerDelta, fees BalanceDelta, hookData []byte, adding bool, hook Hook, flags HookFlags) (BalanceDelta, error) {
	var (
		ack       HookAck
		hookDelta BalanceDelta
		want      HookAck
		name      string
		permitted bool
	)
	err := s.asHook(key.Hooks, func() error {
		var hookErr error
		if adding {
			ack, hookDelta, hookErr = hook.(AfterAddLiquidityHook).AfterAddLiquidity(s, key, params, callerDelta, fees, hookData)
		} else {
			ack, hookDelta, hookErr = hook.(AfterRemoveLiquidityHook).AfterRemoveLiquidity(s, key, params, callerDelta, fees, hookData)
		}
		return hookErr
	})
	if adding {
		want, name = AckAfterAddLiquidity, "afterAddLiquidity"
		permitted = flags.Has(AfterAddReturnsDeltaFlag)
	} else {
		want, name = AckAfterRemoveLiquidity, "afterRemoveLiquidity"
		permitted = flags.Has(AfterRemoveReturnsDeltaFlag)
	}
	if err != nil {
		return BalanceDelta{}, err
	}
	if err := validateAck(ack, want, name); err != nil {
		return BalanceDelta{}, err
	}

	if hookDelta.IsZero() {
		return callerDelta, nil
	}
	if !permitted {
		return BalanceDelta{}, fmt.Errorf("%w: %s delta without permission", ErrInvalidHookResponse, name)
	}

	callerDelta, err = callerDelta.Sub(hookDelta)
	if err != nil {
		return BalanceDelta{}, err
	}
	if err := s.accountPoolDelta(key.Hooks, key, hookDelta); err != nil {
		return BalanceDelta{}, err
	}
	return callerDelta, nil
}

// =============================================================================
// Donate
// =============================================================================

// Donate credits amounts to the pool's in-range liquidity providers. The
// actor owes both amounts. A failed donation leaves the session untouched.
func (s *Session) Donate(key PoolKey, amount0, amount1 *big.Int, hookData []byte) (BalanceDelta, error) {
	if !s.active {
		return BalanceDelta{}, ErrManagerLocked
	}
	if amount0 == nil {
		amount0 = new(big.Int)
	}
	if amount1 == nil {
		amount1 = new(big.Int)
	}
	if amount0.Sign() < 0 || amount1.Sign() < 0 {
		return BalanceDelta{}, fmt.Errorf("negative donate amount (%s, %s)", amount0, amount1)
	}

	mark := s.mark(key.ID())
	delta, err := s.donate(key, amount0, amount1, hookData)
	if err != nil {
		s.rewind(mark)
		return BalanceDelta{}, err
	}
	return delta, nil
}

func (s *Session) donate(key PoolKey, amount0, amount1 *big.Int, hookData []byte) (BalanceDelta, error) {
	pool, err := s.poolFor(key.ID())
	if err != nil {
		return BalanceDelta{}, err
	}
	hook, flags, err := s.hookFor(key)
	if err != nil {
		return BalanceDelta{}, err
	}

	donor := s.actor

	if flags.Has(BeforeDonateFlag) {
		var ack HookAck
		err := s.asHook(key.Hooks, func() error {
			var hookErr error
			ack, hookErr = hook.(BeforeDonateHook).BeforeDonate(s, key, amount0, amount1, hookData)
			return hookErr
		})
		if err != nil {
			return BalanceDelta{}, err
		}
		if err := validateAck(ack, AckBeforeDonate, "beforeDonate"); err != nil {
			return BalanceDelta{}, err
		}
	}

	delta, err := pool.Donate(amount0, amount1)
	if err != nil {
		return BalanceDelta{}, err
	}

	if flags.Has(AfterDonateFlag) {
		var ack HookAck
		err := s.asHook(key.Hooks, func() error {
			var hookErr error
			ack, hookErr = hook.(AfterDonateHook).AfterDonate(s, key, amount0, amount1, hookData)
			return hookErr
		})
		if err != nil {
			return BalanceDelta{}, err
		}
		if err := validateAck(ack, AckAfterDonate, "afterDonate"); err != nil {
			return BalanceDelta{}, err
		}
	}

	if err := s.accountPoolDelta(donor, key, delta); err != nil {
		return BalanceDelta{}, err
	}
	return delta, nil
}

// =============================================================================
// Settlement
// =============================================================================

// Take withdraws amount of currency from the manager to the recipient,
// charging the actor's delta.
func (s *Session) Take(currency Currency, to common.Address, amount *big.Int) error {
	if !s.active {
		return ErrManagerLocked
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative take amount %s", amount)
	}
	if err := s.accountDelta(s.actor, currency, new(big.Int).Neg(amount)); err != nil {
		return err
	}
	return s.mgr.tokens.Transfer(currency, s.mgr.address, to, amount)
}

// Sync records the manager's current reserves of a currency so a following
// Settle can measure what was paid in.
func (s *Session) Sync(currency Currency) error {
	if !s.active {
		return ErrManagerLocked
	}
	c := currency
	s.syncedCurrency = &c
	s.syncedReserves = s.mgr.tokens.BalanceOf(currency, s.mgr.address)
	return nil
}

// Settle credits the actor with whatever was transferred to the manager in
// the synced currency since Sync. Returns the amount credited.
func (s *Session) Settle() (*big.Int, error) {
	if !s.active {
		return nil, ErrManagerLocked
	}
	if s.syncedCurrency == nil {
		return nil, ErrCurrencyNotSynced
	}
	currency := *s.syncedCurrency

	reserves := s.mgr.tokens.BalanceOf(currency, s.mgr.address)
	paid := new(big.Int).Sub(reserves, s.syncedReserves)
	if paid.Sign() < 0 {
		return nil, fmt.Errorf("%w: reserves decreased since sync", ErrCurrencyNotSynced)
	}

	s.syncedCurrency = nil
	s.syncedReserves = nil

	if err := s.accountDelta(s.actor, currency, paid); err != nil {
		return nil, err
	}
	return paid, nil
}

// Pay is a convenience that transfers amount from the actor to the manager
// between Sync and Settle.
func (s *Session) Pay(currency Currency, amount *big.Int) error {
	if !s.active {
		return ErrManagerLocked
	}
	return s.mgr.tokens.Transfer(currency, s.actor, s.mgr.address, amount)
}

// Mint creates claim tokens for the recipient against currency held by the
// manager, charging the actor's delta.
func (s *Session) Mint(currency Currency, to common.Address, amount *big.Int) error {
	if !s.active {
		return ErrManagerLocked
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative mint amount %s", amount)
	}
	if err := s.accountDelta(s.actor, currency, new(big.Int).Neg(amount)); err != nil {
		return err
	}
	s.mgr.claims.Mint(currency, to, amount)
	return nil
}

// Burn destroys claim tokens held by from, crediting the actor's delta.
// The actor must be from or an approved operator.
func (s *Session) Burn(currency Currency, from common.Address, amount *big.Int) error {
	if !s.active {
		return ErrManagerLocked
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative burn amount %s", amount)
	}
	if !s.mgr.claims.IsOperator(from, s.actor) {
		return fmt.Errorf("%w: %s is not an operator for %s", ErrInsufficientClaimBalance, s.actor, from)
	}
	if err := s.mgr.claims.Burn(currency, from, amount); err != nil {
		return err
	}
	return s.accountDelta(s.actor, currency, amount)
}

// Clear forfeits a positive delta instead of taking it. The amount must
// match the actor's open delta exactly.
func (s *Session) Clear(currency Currency, amount *big.Int) error {
	if !s.active {
		return ErrManagerLocked
	}
	current := s.CurrencyDelta(s.actor, currency)
	if amount.Sign() <= 0 || current.Cmp(amount) != 0 {
		return fmt.Errorf("%w: delta %s, clear %s", ErrMustClearExactPositiveDelta, current, amount)
	}
	return s.accountDelta(s.actor, currency, new(big.Int).Neg(amount))
}
