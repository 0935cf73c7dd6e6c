// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dex

import (
	"math/big"
	"testing"

	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"
)

func TestTokenTransfer(t *testing.T) {
	ts := NewTokenState()
	c := Currency{Address: common.HexToAddress("0x1000000000000000000000000000000000000001")}

	ts.Credit(c, alice, big.NewInt(1000))
	require.NoError(t, ts.Transfer(c, alice, bob, big.NewInt(400)))
	require.Zero(t, ts.BalanceOf(c, alice).Cmp(big.NewInt(600)))
	require.Zero(t, ts.BalanceOf(c, bob).Cmp(big.NewInt(400)))

	require.Error(t, ts.Transfer(c, alice, bob, big.NewInt(601)))
	require.Error(t, ts.Transfer(c, alice, bob, big.NewInt(-1)))
	require.Zero(t, ts.BalanceOf(c, alice).Cmp(big.NewInt(600)), "failed transfer must not move funds")
}

func TestTokenSnapshotRevert(t *testing.T) {
	ts := NewTokenState()
	c := Currency{Address: common.HexToAddress("0x1000000000000000000000000000000000000001")}
	native := NativeCurrency

	ts.Credit(c, alice, big.NewInt(1000))
	snap := ts.Snapshot()

	ts.Credit(c, bob, big.NewInt(50))
	ts.Credit(native, carol, big.NewInt(75))
	require.NoError(t, ts.Transfer(c, alice, bob, big.NewInt(400)))

	ts.RevertToSnapshot(snap)
	require.Zero(t, ts.BalanceOf(c, alice).Cmp(big.NewInt(1000)))
	require.Zero(t, ts.BalanceOf(c, bob).Sign())
	require.Zero(t, ts.BalanceOf(native, carol).Sign())

	// Changes before the snapshot survive, and the journal can keep going.
	ts.Credit(c, bob, big.NewInt(5))
	require.Zero(t, ts.BalanceOf(c, bob).Cmp(big.NewInt(5)))
}

func TestTokenNestedSnapshots(t *testing.T) {
	ts := NewTokenState()
	c := Currency{Address: common.HexToAddress("0x1000000000000000000000000000000000000001")}

	ts.Credit(c, alice, big.NewInt(100))
	outer := ts.Snapshot()
	ts.Credit(c, alice, big.NewInt(10))
	inner := ts.Snapshot()
	ts.Credit(c, alice, big.NewInt(1))

	ts.RevertToSnapshot(inner)
	require.Zero(t, ts.BalanceOf(c, alice).Cmp(big.NewInt(110)))
	ts.RevertToSnapshot(outer)
	require.Zero(t, ts.BalanceOf(c, alice).Cmp(big.NewInt(100)))
}

func TestClaimLedger(t *testing.T) {
	cl := NewClaimLedger()
	c := Currency{Address: common.HexToAddress("0x1000000000000000000000000000000000000001")}

	cl.Mint(c, alice, big.NewInt(500))
	require.Zero(t, cl.BalanceOf(c, alice).Cmp(big.NewInt(500)))

	require.ErrorIs(t, cl.Burn(c, alice, big.NewInt(501)), ErrInsufficientClaimBalance)
	require.NoError(t, cl.Burn(c, alice, big.NewInt(200)))
	require.Zero(t, cl.BalanceOf(c, alice).Cmp(big.NewInt(300)))
}

func TestClaimTransferOperator(t *testing.T) {
	cl := NewClaimLedger()
	c := Currency{Address: common.HexToAddress("0x1000000000000000000000000000000000000001")}
	cl.Mint(c, alice, big.NewInt(500))

	// Owners always move their own claims.
	require.NoError(t, cl.Transfer(c, alice, alice, bob, big.NewInt(100)))
	require.Zero(t, cl.BalanceOf(c, bob).Cmp(big.NewInt(100)))

	// Third parties need operator approval.
	require.Error(t, cl.Transfer(c, carol, alice, bob, big.NewInt(100)))
	cl.SetOperator(alice, carol, true)
	require.NoError(t, cl.Transfer(c, carol, alice, bob, big.NewInt(100)))
	cl.SetOperator(alice, carol, false)
	require.Error(t, cl.Transfer(c, carol, alice, bob, big.NewInt(100)))
}

func TestClaimSnapshotRevert(t *testing.T) {
	cl := NewClaimLedger()
	c := Currency{Address: common.HexToAddress("0x1000000000000000000000000000000000000001")}

	cl.Mint(c, alice, big.NewInt(500))
	snap := cl.Snapshot()
	cl.Mint(c, bob, big.NewInt(50))
	require.NoError(t, cl.Burn(c, alice, big.NewInt(500)))

	cl.RevertToSnapshot(snap)
	require.Zero(t, cl.BalanceOf(c, alice).Cmp(big.NewInt(500)))
	require.Zero(t, cl.BalanceOf(c, bob).Sign())
}
