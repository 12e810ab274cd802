// Copyright (c) 2021 The Hydranet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/hydranet/core/stake.core/chaincfg"
	"gitlab.com/hydranet/core/stake.core/types"
	"gitlab.com/hydranet/core/stake.core/types/chainhash"
	"gitlab.com/hydranet/core/stake.core/types/wire"
)

func newTestPool(minGasPrice uint64) *TxPool {
	return New(&Config{
		ChainParams:   &chaincfg.RegressionNetParams,
		MinRelayTxFee: types.NewFeeRate(1000),
		MinGasPrice:   func() uint64 { return minGasPrice },
		BestHeight:    func() int32 { return 100 },
		SigOpCost:     func(*wire.MsgTx) int64 { return 4 },
	})
}

// spendTx builds a transaction spending the given outpoint to a throwaway
// key hash output.
func spendTx(prevHash chainhash.Hash, prevIndex uint32, value int64) *wire.MsgTx {
	tx := wire.NewMsgTx(1)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prevHash, prevIndex), []byte{0x01}))
	tx.AddTxOut(wire.NewTxOut(value, wire.PayToKeyHashScript(types.Address{0x11})))
	return tx
}

func confirmedOutpoint(b byte) chainhash.Hash {
	var hash chainhash.Hash
	hash[0] = b
	return hash
}

func TestAcceptAndQuery(t *testing.T) {
	pool := newTestPool(0)

	tx := spendTx(confirmedOutpoint(1), 0, 10000)
	desc, err := pool.MaybeAcceptTransaction(tx, 2000)
	require.NoError(t, err)

	txHash := tx.TxHash()
	assert.True(t, pool.HaveTransaction(&txHash))
	assert.Equal(t, 1, pool.Count())
	assert.Equal(t, types.Amount(2000), desc.Fee)
	assert.Equal(t, int64(1), desc.AncestorCount)
	assert.False(t, pool.LastUpdated().IsZero())

	// Accepting the same transaction twice must fail.
	_, err = pool.MaybeAcceptTransaction(tx, 2000)
	require.Error(t, err)
	assert.True(t, IsRejectCode(err, RejectDuplicate))
}

func TestRejectDoubleSpend(t *testing.T) {
	pool := newTestPool(0)

	first := spendTx(confirmedOutpoint(1), 0, 10000)
	_, err := pool.MaybeAcceptTransaction(first, 2000)
	require.NoError(t, err)

	conflict := spendTx(confirmedOutpoint(1), 0, 9000)
	conflict.AddTxOut(wire.NewTxOut(500, wire.PayToKeyHashScript(types.Address{0x22})))
	_, err = pool.MaybeAcceptTransaction(conflict, 2000)
	require.Error(t, err)
	assert.True(t, IsRejectCode(err, RejectDuplicate))
}

func TestRejectCoinbaseAndCoinstake(t *testing.T) {
	pool := newTestPool(0)

	coinbase := wire.NewMsgTx(1)
	coinbase.AddTxIn(wire.NewTxIn(&wire.OutPoint{
		Index: wire.MaxPrevOutIndex,
	}, []byte{0x01}))
	coinbase.AddTxOut(wire.NewTxOut(5000000000, wire.PayToKeyHashScript(types.Address{0x11})))
	_, err := pool.MaybeAcceptTransaction(coinbase, 0)
	require.Error(t, err)
	assert.True(t, IsRejectCode(err, RejectInvalid))

	coinstake := spendTx(confirmedOutpoint(2), 0, 10000)
	coinstake.TxOut[0].SetEmpty()
	coinstake.AddTxOut(wire.NewTxOut(10000, wire.PayToKeyHashScript(types.Address{0x11})))
	_, err = pool.MaybeAcceptTransaction(coinstake, 0)
	require.Error(t, err)
	assert.True(t, IsRejectCode(err, RejectInvalid))
}

func TestRejectBelowFeeFloors(t *testing.T) {
	pool := newTestPool(40)

	cheap := spendTx(confirmedOutpoint(1), 0, 10000)
	_, err := pool.MaybeAcceptTransaction(cheap, 1)
	require.Error(t, err)
	assert.True(t, IsRejectCode(err, RejectInsufficientFee))

	// Contract call priced below the governed gas price floor.
	lowGas := spendTx(confirmedOutpoint(2), 0, 10000)
	lowGas.AddTxOut(wire.NewTxOut(0, wire.ContractCallScript(
		100000, 10, []byte{0xaa}, types.Address{0x42})))
	_, err = pool.MaybeAcceptTransaction(lowGas, 100000)
	require.Error(t, err)
	assert.True(t, IsRejectCode(err, RejectInsufficientFee))

	// The same call at the floor is acceptable.
	okGas := spendTx(confirmedOutpoint(3), 0, 10000)
	okGas.AddTxOut(wire.NewTxOut(0, wire.ContractCallScript(
		100000, 40, []byte{0xaa}, types.Address{0x42})))
	desc, err := pool.MaybeAcceptTransaction(okGas, 100000)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), desc.GasPrice)
}

func TestAncestorAggregates(t *testing.T) {
	pool := newTestPool(0)

	parent := spendTx(confirmedOutpoint(1), 0, 100000)
	parentDesc, err := pool.MaybeAcceptTransaction(parent, 1000)
	require.NoError(t, err)

	child := spendTx(parentDesc.TxHash, 0, 90000)
	childDesc, err := pool.MaybeAcceptTransaction(child, 5000)
	require.NoError(t, err)

	grandchild := spendTx(childDesc.TxHash, 0, 80000)
	grandDesc, err := pool.MaybeAcceptTransaction(grandchild, 20000)
	require.NoError(t, err)

	assert.Equal(t, int64(3), grandDesc.AncestorCount)
	assert.Equal(t, types.Amount(26000), grandDesc.AncestorFee)
	assert.Equal(t, parentDesc.Size+childDesc.Size+grandDesc.Size,
		grandDesc.AncestorSize)
	assert.Equal(t, []chainhash.Hash{childDesc.TxHash}, grandDesc.ParentHashes)
}

func TestAncestorLimits(t *testing.T) {
	pool := New(&Config{
		ChainParams:      &chaincfg.RegressionNetParams,
		MinRelayTxFee:    types.NewFeeRate(0),
		MaxAncestorCount: 2,
		MaxAncestorSize:  DefaultMaxAncestorSize,
	})

	parent := spendTx(confirmedOutpoint(1), 0, 100000)
	parentDesc, err := pool.MaybeAcceptTransaction(parent, 1000)
	require.NoError(t, err)

	child := spendTx(parentDesc.TxHash, 0, 90000)
	childDesc, err := pool.MaybeAcceptTransaction(child, 1000)
	require.NoError(t, err)

	grandchild := spendTx(childDesc.TxHash, 0, 80000)
	_, err = pool.MaybeAcceptTransaction(grandchild, 1000)
	require.Error(t, err)
	assert.True(t, IsRejectCode(err, RejectNonstandard))
}

func TestMiningDescOrder(t *testing.T) {
	pool := newTestPool(0)

	// A low-fee parent whose high-fee child lifts the package rate above
	// a mid-fee standalone transaction.
	parent := spendTx(confirmedOutpoint(1), 0, 100000)
	parentDesc, err := pool.MaybeAcceptTransaction(parent, 100)
	require.NoError(t, err)

	child := spendTx(parentDesc.TxHash, 0, 90000)
	childDesc, err := pool.MaybeAcceptTransaction(child, 50000)
	require.NoError(t, err)

	standalone := spendTx(confirmedOutpoint(2), 0, 100000)
	standaloneDesc, err := pool.MaybeAcceptTransaction(standalone, 10000)
	require.NoError(t, err)

	descs := pool.MiningDescs()
	require.Len(t, descs, 3)
	assert.Equal(t, childDesc.TxHash, descs[0].TxHash)
	assert.Equal(t, standaloneDesc.TxHash, descs[1].TxHash)
	assert.Equal(t, parentDesc.TxHash, descs[2].TxHash)
}

func TestRemoveRedeemers(t *testing.T) {
	pool := newTestPool(0)

	parent := spendTx(confirmedOutpoint(1), 0, 100000)
	parentDesc, err := pool.MaybeAcceptTransaction(parent, 2000)
	require.NoError(t, err)

	child := spendTx(parentDesc.TxHash, 0, 90000)
	childDesc, err := pool.MaybeAcceptTransaction(child, 2000)
	require.NoError(t, err)

	pool.RemoveTransaction(&parentDesc.TxHash, true)
	assert.False(t, pool.HaveTransaction(&parentDesc.TxHash))
	assert.False(t, pool.HaveTransaction(&childDesc.TxHash))
	assert.Equal(t, 0, pool.Count())
}

func TestRemoveConfirmedRestatesAggregates(t *testing.T) {
	pool := newTestPool(0)

	parent := spendTx(confirmedOutpoint(1), 0, 100000)
	parentDesc, err := pool.MaybeAcceptTransaction(parent, 2000)
	require.NoError(t, err)

	child := spendTx(parentDesc.TxHash, 0, 90000)
	childDesc, err := pool.MaybeAcceptTransaction(child, 3000)
	require.NoError(t, err)
	require.Equal(t, int64(2), childDesc.AncestorCount)

	block := &wire.MsgBlock{Transactions: []*wire.MsgTx{parent}}
	pool.RemoveConfirmedTransactions(block)

	assert.False(t, pool.HaveTransaction(&parentDesc.TxHash))
	descs := pool.MiningDescs()
	require.Len(t, descs, 1)
	assert.Equal(t, childDesc.TxHash, descs[0].TxHash)
	assert.Equal(t, int64(1), descs[0].AncestorCount)
	assert.Equal(t, types.Amount(3000), descs[0].AncestorFee)
	assert.Empty(t, descs[0].ParentHashes)
}
