// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dex

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"
)

// managerAddress is the account holding the manager's token reserves.
var managerAddress = common.BytesToAddress([]byte("singleton-pool-manager"))

// =============================================================================
// Manager
// =============================================================================

// Manager is the singleton owning every pool. It is locked by default; all
// pool operations and token movement happen inside Unlock, whose session
// must settle every currency delta to zero before it commits. Committed
// pools are persisted to the backing database.
type Manager struct {
	mu sync.Mutex

	address common.Address
	pools   map[PoolId]*Pool

	registry *HookRegistry
	tokens   *TokenState
	claims   *ClaimLedger

	// feeController may set protocol fees and collect accrued protocol
	// fees. Zero means no controller is installed.
	feeController common.Address

	unlocked bool

	store *poolStore
	log   log.Logger
}

// NewManager creates a manager backed by db. Previously persisted pools are
// loaded eagerly; a corrupt record fails construction.
func NewManager(db database.Database) (*Manager, error) {
	m := &Manager{
		address:  managerAddress,
		pools:    make(map[PoolId]*Pool),
		registry: NewHookRegistry(),
		tokens:   NewTokenState(),
		claims:   NewClaimLedger(),
		store:    newPoolStore(db),
		log:      log.NewTestLogger(log.InfoLevel),
	}

	pools, err := m.store.LoadAll()
	if err != nil {
		return nil, fmt.Errorf("loading pools: %w", err)
	}
	for _, p := range pools {
		m.pools[p.Key().ID()] = p
	}
	return m, nil
}

// SetLogger replaces the manager's logger.
func (m *Manager) SetLogger(logger log.Logger) {
	m.log = logger
}

// Address returns the account holding the manager's reserves.
func (m *Manager) Address() common.Address { return m.address }

// Tokens returns the token state the manager settles against.
func (m *Manager) Tokens() *TokenState { return m.tokens }

// Claims returns the claim ledger.
func (m *Manager) Claims() *ClaimLedger { return m.claims }

// RegisterHook validates and installs a hook extension.
func (m *Manager) RegisterHook(h Hook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.registry.Register(h); err != nil {
		return err
	}
	m.log.Debug("hook registered", "address", h.HookAddress(), "permissions", fmt.Sprintf("%014b", h.Permissions()))
	return nil
}

// SetFeeController installs the account allowed to administer protocol fees.
func (m *Manager) SetFeeController(controller common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feeController = controller
}

// =============================================================================
// Unlock
// =============================================================================

// Unlock opens a session for caller and runs fn inside it. On success every
// pool touched is committed and persisted atomically with the token and
// claim movements; on any error, or if a currency delta is left open, all of
// it is rolled back and nothing happened.
func (m *Manager) Unlock(ctx context.Context, caller common.Address, fn func(s *Session) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// The mutex guards only the flag flip and the commit; fn runs outside it
	// so a nested Unlock observes the flag and fails instead of deadlocking.
	m.mu.Lock()
	if m.unlocked {
		m.mu.Unlock()
		return ErrAlreadyUnlocked
	}
	m.unlocked = true
	tokenSnap := m.tokens.Snapshot()
	claimSnap := m.claims.Snapshot()
	m.mu.Unlock()

	s := newSession(m, caller)
	s.active = true
	err := fn(s)
	s.active = false

	m.mu.Lock()
	defer m.mu.Unlock()
	m.unlocked = false

	if err == nil && s.nonzero != 0 {
		err = fmt.Errorf("%w: %d deltas open", ErrCurrencyNotSettled, s.nonzero)
	}
	if err == nil {
		err = m.commit(s)
	}
	if err != nil {
		m.tokens.RevertToSnapshot(tokenSnap)
		m.claims.RevertToSnapshot(claimSnap)
		m.log.Debug("session aborted", "caller", caller, "err", err)
		return err
	}

	m.log.Debug("session committed", "caller", caller, "pools", len(s.pools))
	return nil
}

func (m *Manager) commit(s *Session) error {
	for id, pool := range s.pools {
		if err := m.store.Save(pool); err != nil {
			return fmt.Errorf("persisting pool %x: %w", id, err)
		}
	}
	for id, pool := range s.pools {
		m.pools[id] = pool
	}
	return nil
}

// =============================================================================
// Initialize
// =============================================================================

func validatePoolKey(key PoolKey) error {
	if !key.Currency0.Less(key.Currency1) {
		return ErrCurrencyNotSorted
	}
	if key.TickSpacing < MinTickSpacing || key.TickSpacing > MaxTickSpacing {
		return fmt.Errorf("%w: %d", ErrTickSpacingOutOfRange, key.TickSpacing)
	}
	if !key.IsDynamicFee() && key.Fee > MaxLPFee {
		return fmt.Errorf("%w: %d", ErrFeeTooLarge, key.Fee)
	}
	return nil
}

// initializePool builds the pool and runs the initialize hooks through s.
// exists reports whether an id is already taken.
func initializePool(s *Session, key PoolKey, sqrtPriceX96 *big.Int, exists func(PoolId) bool) (*Pool, int32, error) {
	if err := validatePoolKey(key); err != nil {
		return nil, 0, err
	}
	hook, flags, err := s.hookFor(key)
	if err != nil {
		return nil, 0, err
	}
	if exists(key.ID()) {
		return nil, 0, ErrPoolAlreadyInitialized
	}

	if flags.Has(BeforeInitializeFlag) {
		var ack HookAck
		err := s.asHook(key.Hooks, func() error {
			var hookErr error
			ack, hookErr = hook.(BeforeInitializeHook).BeforeInitialize(s, key, sqrtPriceX96)
			return hookErr
		})
		if err != nil {
			return nil, 0, err
		}
		if err := validateAck(ack, AckBeforeInitialize, "beforeInitialize"); err != nil {
			return nil, 0, err
		}
	}

	lpFee := key.Fee
	if key.IsDynamicFee() {
		// Dynamic pools start at zero; the hook pushes the first fee.
		lpFee = 0
	}
	pool, err := NewPool(key, sqrtPriceX96, 0, lpFee)
	if err != nil {
		return nil, 0, err
	}
	tick := pool.Slot0().Tick()

	// The after hook sees the created pool, so dynamic-fee pushes from
	// afterInitialize land on it.
	s.pools[key.ID()] = pool

	if flags.Has(AfterInitializeFlag) {
		var ack HookAck
		err := s.asHook(key.Hooks, func() error {
			var hookErr error
			ack, hookErr = hook.(AfterInitializeHook).AfterInitialize(s, key, sqrtPriceX96, tick)
			return hookErr
		})
		if err != nil {
			return nil, 0, err
		}
		if err := validateAck(ack, AckAfterInitialize, "afterInitialize"); err != nil {
			return nil, 0, err
		}
	}
	return pool, tick, nil
}

// Initialize creates a pool outside any session and commits it immediately.
// Returns the initial tick derived from the price.
func (m *Manager) Initialize(caller common.Address, key PoolKey, sqrtPriceX96 *big.Int) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Initialize hooks observe but cannot touch a ledger: the dispatch
	// session is never activated, so session operations inside the hook
	// fail with ErrManagerLocked.
	s := newSession(m, caller)
	pool, tick, err := initializePool(s, key, sqrtPriceX96, func(id PoolId) bool {
		_, ok := m.pools[id]
		return ok
	})
	if err != nil {
		return 0, err
	}

	if err := m.store.Save(pool); err != nil {
		return 0, fmt.Errorf("persisting pool: %w", err)
	}
	m.pools[key.ID()] = pool
	m.log.Info("pool initialized", "id", fmt.Sprintf("%x", key.ID()), "tick", tick, "fee", key.Fee)
	return tick, nil
}

// Initialize creates a pool inside the session; it commits only if the
// session does. A failed initialize leaves the session untouched.
func (s *Session) Initialize(key PoolKey, sqrtPriceX96 *big.Int) (int32, error) {
	if !s.active {
		return 0, ErrManagerLocked
	}

	mark := s.mark(key.ID())
	_, tick, err := initializePool(s, key, sqrtPriceX96, func(id PoolId) bool {
		if _, ok := s.pools[id]; ok {
			return true
		}
		_, ok := s.mgr.pools[id]
		return ok
	})
	if err != nil {
		s.rewind(mark)
		return 0, err
	}
	return tick, nil
}

// =============================================================================
// Fee Administration
// =============================================================================

// SetProtocolFee sets a pool's directional protocol fee pair. Only the
// installed fee controller may call it.
func (m *Manager) SetProtocolFee(caller common.Address, key PoolKey, fee ProtocolFee) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if caller != m.feeController || caller == (common.Address{}) {
		return fmt.Errorf("%w: %s is not the fee controller", ErrUnauthorizedFeeUpdate, caller)
	}
	pool, ok := m.pools[key.ID()]
	if !ok {
		return ErrPoolNotInitialized
	}
	if err := pool.SetProtocolFee(fee); err != nil {
		return err
	}
	return m.store.Save(pool)
}

// UpdateDynamicLPFee sets a dynamic-fee pool's LP fee. Only the pool's own
// hook, during one of its callbacks, may push a fee, and only on dynamic-fee
// pools.
func (s *Session) UpdateDynamicLPFee(key PoolKey, newFee uint32) error {
	if !key.IsDynamicFee() {
		return ErrNotDynamicFee
	}
	if s.actor != key.Hooks {
		return fmt.Errorf("%w: %s", ErrUnauthorizedFeeUpdate, s.actor)
	}
	pool, err := s.poolFor(key.ID())
	if err != nil {
		return err
	}
	return pool.SetLPFee(newFee)
}

// CollectProtocolFees withdraws accrued protocol fees in one of the pool's
// currencies to the recipient. A zero amount collects everything. Only the
// fee controller may call it.
func (m *Manager) CollectProtocolFees(caller common.Address, key PoolKey, currency Currency, recipient common.Address, amount *big.Int) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if caller != m.feeController || caller == (common.Address{}) {
		return nil, fmt.Errorf("%w: %s is not the fee controller", ErrUnauthorizedFeeUpdate, caller)
	}
	pool, ok := m.pools[key.ID()]
	if !ok {
		return nil, ErrPoolNotInitialized
	}
	if currency != key.Currency0 && currency != key.Currency1 {
		return nil, fmt.Errorf("currency %s not in pool", currency.Address)
	}

	collected := pool.CollectProtocolFees(currency == key.Currency0, amount)
	if collected.Sign() > 0 {
		if err := m.tokens.Transfer(currency, m.address, recipient, collected); err != nil {
			return nil, err
		}
		if err := m.store.Save(pool); err != nil {
			return nil, err
		}
	}
	return collected, nil
}

// =============================================================================
// Views
// =============================================================================

// PoolState returns a read-only clone of a pool's committed state.
func (m *Manager) PoolState(id PoolId) (*Pool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// PoolSlot0 returns a pool's committed top-of-book state.
func (m *Manager) PoolSlot0(id PoolId) (Slot0, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[id]
	if !ok {
		return Slot0{}, ErrPoolNotInitialized
	}
	return p.Slot0(), nil
}

// PoolLiquidity returns a pool's committed active liquidity.
func (m *Manager) PoolLiquidity(id PoolId) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[id]
	if !ok {
		return nil, ErrPoolNotInitialized
	}
	return p.Liquidity(), nil
}
