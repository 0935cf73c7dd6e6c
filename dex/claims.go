// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dex

import (
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"
)

// ClaimLedger tracks claim tokens: transferable IOUs against currency held
// by the manager, minted and burned through the session ledger. Like
// TokenState it journals writes so an aborted session rolls back cleanly.
type ClaimLedger struct {
	balances  map[Currency]map[common.Address]*big.Int
	operators map[common.Address]map[common.Address]bool
	journal   []claimChange
}

type claimChange struct {
	currency Currency
	account  common.Address
	prev     *big.Int
}

// NewClaimLedger creates an empty claim ledger.
func NewClaimLedger() *ClaimLedger {
	return &ClaimLedger{
		balances:  make(map[Currency]map[common.Address]*big.Int),
		operators: make(map[common.Address]map[common.Address]bool),
	}
}

// BalanceOf returns a copy of the account's claim balance in the currency.
func (c *ClaimLedger) BalanceOf(currency Currency, account common.Address) *big.Int {
	if byAccount, ok := c.balances[currency]; ok {
		if bal, ok := byAccount[account]; ok {
			return new(big.Int).Set(bal)
		}
	}
	return new(big.Int)
}

// SetOperator grants or revokes an operator's right to move the owner's
// claims. Approvals are not journaled; they are account settings, not
// session state.
func (c *ClaimLedger) SetOperator(owner, operator common.Address, approved bool) {
	byOwner, ok := c.operators[owner]
	if !ok {
		byOwner = make(map[common.Address]bool)
		c.operators[owner] = byOwner
	}
	byOwner[operator] = approved
}

// IsOperator reports whether operator may act for owner.
func (c *ClaimLedger) IsOperator(owner, operator common.Address) bool {
	return owner == operator || c.operators[owner][operator]
}

// Mint creates amount of claims for the account.
func (c *ClaimLedger) Mint(currency Currency, account common.Address, amount *big.Int) {
	if amount.Sign() <= 0 {
		return
	}
	c.set(currency, account, new(big.Int).Add(c.BalanceOf(currency, account), amount))
}

// Burn destroys amount of the account's claims.
func (c *ClaimLedger) Burn(currency Currency, account common.Address, amount *big.Int) error {
	bal := c.BalanceOf(currency, account)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: burn %s of %s", ErrInsufficientClaimBalance, amount, bal)
	}
	c.set(currency, account, bal.Sub(bal, amount))
	return nil
}

// Transfer moves claims between accounts; sender must be the owner or an
// approved operator.
func (c *ClaimLedger) Transfer(currency Currency, sender, from, to common.Address, amount *big.Int) error {
	if !c.IsOperator(from, sender) {
		return fmt.Errorf("%w: %s is not an operator for %s", ErrInsufficientClaimBalance, sender, from)
	}
	bal := c.BalanceOf(currency, from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: transfer %s of %s", ErrInsufficientClaimBalance, amount, bal)
	}
	c.set(currency, from, bal.Sub(bal, amount))
	c.set(currency, to, new(big.Int).Add(c.BalanceOf(currency, to), amount))
	return nil
}

func (c *ClaimLedger) set(currency Currency, account common.Address, value *big.Int) {
	byAccount, ok := c.balances[currency]
	if !ok {
		byAccount = make(map[common.Address]*big.Int)
		c.balances[currency] = byAccount
	}

	var prev *big.Int
	if existing, ok := byAccount[account]; ok {
		prev = new(big.Int).Set(existing)
	}
	c.journal = append(c.journal, claimChange{currency: currency, account: account, prev: prev})
	byAccount[account] = value
}

// Snapshot returns a marker for the current journal position.
func (c *ClaimLedger) Snapshot() int {
	return len(c.journal)
}

// RevertToSnapshot undoes every change after the marker.
func (c *ClaimLedger) RevertToSnapshot(snapshot int) {
	for i := len(c.journal) - 1; i >= snapshot; i-- {
		change := c.journal[i]
		byAccount := c.balances[change.currency]
		if change.prev == nil {
			delete(byAccount, change.account)
		} else {
			byAccount[change.account] = change.prev
		}
	}
	c.journal = c.journal[:snapshot]
}
