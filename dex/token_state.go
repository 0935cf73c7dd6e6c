// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dex

import (
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"
)

// TokenState models the token balances visible to the manager: per-currency
// holdings of every account, including the manager's own reserves. Writes
// are journaled so an aborted session can be rolled back to the snapshot
// taken when it opened.
type TokenState struct {
	balances map[Currency]map[common.Address]*big.Int
	journal  []balanceChange
}

type balanceChange struct {
	currency Currency
	account  common.Address
	prev     *big.Int // nil means the entry did not exist
}

// NewTokenState creates an empty token state.
func NewTokenState() *TokenState {
	return &TokenState{balances: make(map[Currency]map[common.Address]*big.Int)}
}

// BalanceOf returns a copy of the account's balance in the currency.
func (t *TokenState) BalanceOf(currency Currency, account common.Address) *big.Int {
	if byAccount, ok := t.balances[currency]; ok {
		if bal, ok := byAccount[account]; ok {
			return new(big.Int).Set(bal)
		}
	}
	return new(big.Int)
}

// Credit adds amount to the account's balance. Used to fund accounts in
// tests and by deposit flows.
func (t *TokenState) Credit(currency Currency, account common.Address, amount *big.Int) {
	if amount.Sign() <= 0 {
		return
	}
	t.set(currency, account, new(big.Int).Add(t.BalanceOf(currency, account), amount))
}

// Transfer moves amount from one account to another.
func (t *TokenState) Transfer(currency Currency, from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("negative transfer amount %s", amount)
	}
	fromBal := t.BalanceOf(currency, from)
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("transfer of %s exceeds balance %s", amount, fromBal)
	}
	t.set(currency, from, fromBal.Sub(fromBal, amount))
	t.set(currency, to, new(big.Int).Add(t.BalanceOf(currency, to), amount))
	return nil
}

func (t *TokenState) set(currency Currency, account common.Address, value *big.Int) {
	byAccount, ok := t.balances[currency]
	if !ok {
		byAccount = make(map[common.Address]*big.Int)
		t.balances[currency] = byAccount
	}

	var prev *big.Int
	if existing, ok := byAccount[account]; ok {
		prev = new(big.Int).Set(existing)
	}
	t.journal = append(t.journal, balanceChange{currency: currency, account: account, prev: prev})
	byAccount[account] = value
}

// Snapshot returns a marker for the current journal position.
func (t *TokenState) Snapshot() int {
	return len(t.journal)
}

// RevertToSnapshot undoes every change after the marker.
func (t *TokenState) RevertToSnapshot(snapshot int) {
	for i := len(t.journal) - 1; i >= snapshot; i-- {
		change := t.journal[i]
		byAccount := t.balances[change.currency]
		if change.prev == nil {
			delete(byAccount, change.account)
		} else {
			byAccount[change.account] = change.prev
		}
	}
	t.journal = t.journal[:snapshot]
}
