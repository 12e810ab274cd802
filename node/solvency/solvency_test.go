// Copyright (c) 2021 The Hydranet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package solvency

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/hydranet/core/stake.core/types"
	"gitlab.com/hydranet/core/stake.core/types/chainhash"
	"gitlab.com/hydranet/core/stake.core/types/wire"
)

type fixedOracle struct {
	locked  map[types.Address]types.Amount
	queries int
}

func (o *fixedOracle) LockedAmount(addr types.Address) (types.Amount, error) {
	o.queries++
	return o.locked[addr], nil
}

type fixedBalances map[types.Address]types.Amount

func (b fixedBalances) MatureBalance(addr types.Address) (types.Amount, error) {
	return b[addr], nil
}

type utxoView map[wire.OutPoint]wire.TxOut

func (v utxoView) ResolveInput(op wire.OutPoint) (types.Address, types.Amount, bool) {
	txOut, ok := v[op]
	if !ok {
		return types.Address{}, 0, false
	}
	addr, ok := wire.ExtractKeyHash(txOut.PkScript)
	if !ok {
		return types.Address{}, 0, false
	}
	return addr, types.Amount(txOut.Value), true
}

func outpoint(b byte, index uint32) wire.OutPoint {
	var hash chainhash.Hash
	hash[0] = b
	return wire.OutPoint{Hash: hash, Index: index}
}

func transfer(from wire.OutPoint, to types.Address, value int64) *wire.MsgTx {
	tx := wire.NewMsgTx(1)
	tx.AddTxIn(wire.NewTxIn(&from, []byte{0x01}))
	tx.AddTxOut(wire.NewTxOut(value, wire.PayToKeyHashScript(to)))
	return tx
}

func TestPackageWithinLock(t *testing.T) {
	alice := types.Address{0xa1}
	bob := types.Address{0xb1}

	view := utxoView{
		outpoint(1, 0): {Value: 10000, PkScript: wire.PayToKeyHashScript(alice)},
	}
	oracle := &fixedOracle{locked: map[types.Address]types.Amount{alice: 5000}}
	tracker := NewTracker(oracle, fixedBalances{alice: 20000})

	// Alice sends 9000 to Bob and keeps 1000 change: net -9000 against a
	// 20000 balance with 5000 locked.
	tx := transfer(outpoint(1, 0), bob, 9000)
	tx.AddTxOut(wire.NewTxOut(1000, wire.PayToKeyHashScript(alice)))

	delta, err := tracker.TestPackage([]*wire.MsgTx{tx}, view)
	require.NoError(t, err)
	tracker.Apply(delta)

	assert.Equal(t, types.Amount(11000), tracker.running[alice])
	assert.Equal(t, types.Amount(9000), tracker.running[bob])
}

func TestPackageBreachesLock(t *testing.T) {
	alice := types.Address{0xa1}
	bob := types.Address{0xb1}

	view := utxoView{
		outpoint(1, 0): {Value: 10000, PkScript: wire.PayToKeyHashScript(alice)},
	}
	oracle := &fixedOracle{locked: map[types.Address]types.Amount{alice: 5000}}
	tracker := NewTracker(oracle, fixedBalances{alice: 12000})

	tx := transfer(outpoint(1, 0), bob, 10000)
	_, err := tracker.TestPackage([]*wire.MsgTx{tx}, view)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsolvent))

	// The rejection must leave no package state behind: the same spend
	// against a smaller lock passes afterwards.
	oracle.locked[alice] = 1000
	delta, err := tracker.TestPackage([]*wire.MsgTx{tx}, view)
	require.NoError(t, err)
	tracker.Apply(delta)
	assert.Equal(t, types.Amount(2000), tracker.running[alice])
}

func TestPackageInternalSpends(t *testing.T) {
	alice := types.Address{0xa1}
	bob := types.Address{0xb1}

	view := utxoView{
		outpoint(1, 0): {Value: 10000, PkScript: wire.PayToKeyHashScript(alice)},
	}
	oracle := &fixedOracle{locked: map[types.Address]types.Amount{}}
	tracker := NewTracker(oracle, fixedBalances{alice: 10000})

	// Parent pays Bob, child inside the same package spends that
	// output straight back to Alice.  Net effect on Bob is zero.
	parent := transfer(outpoint(1, 0), bob, 10000)
	parentHash := parent.TxHash()
	child := transfer(wire.OutPoint{Hash: parentHash, Index: 0}, alice, 10000)

	delta, err := tracker.TestPackage([]*wire.MsgTx{parent, child}, view)
	require.NoError(t, err)
	tracker.Apply(delta)

	assert.Equal(t, types.Amount(10000), tracker.running[alice])
	assert.Equal(t, types.Amount(0), tracker.running[bob])
}

func TestCachedOracle(t *testing.T) {
	alice := types.Address{0xa1}
	backend := &fixedOracle{locked: map[types.Address]types.Amount{alice: 7000}}
	oracle, err := NewCachedOracle(backend, 16)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		locked, err := oracle.LockedAmount(alice)
		require.NoError(t, err)
		assert.Equal(t, types.Amount(7000), locked)
	}
	assert.Equal(t, 1, backend.queries)

	oracle.Invalidate(alice)
	_, err = oracle.LockedAmount(alice)
	require.NoError(t, err)
	assert.Equal(t, 2, backend.queries)
}
