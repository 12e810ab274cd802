// Copyright (c) 2021 The Hydranet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package staker implements the proof-of-stake mining loop: kernel search
// over the wallet's stakeable coins, candidate block assembly through the
// block template generator, and submission of signed stake blocks.
package staker

import (
	"bytes"
	"encoding/binary"
	"math/big"

	"github.com/pkg/errors"

	"gitlab.com/hydranet/core/stake.core/node/chaindata"
	"gitlab.com/hydranet/core/stake.core/types"
	"gitlab.com/hydranet/core/stake.core/types/chainhash"
	"gitlab.com/hydranet/core/stake.core/types/pow"
	"gitlab.com/hydranet/core/stake.core/types/wire"
)

// StakeCoin is one spendable output offered to the kernel search.
type StakeCoin struct {
	// OutPoint identifies the staked output.
	OutPoint wire.OutPoint

	// Value is the output's amount; it weights the kernel target.
	Value types.Amount

	// Delegate marks coins staked on behalf of a delegator.
	Delegate bool

	// PoD carries the delegator's proof-of-delegation for delegate
	// coins.
	PoD []byte
}

// kernelHash computes the deterministic proof hash binding the previous
// block's stake modifier, the staked outpoint, and the candidate timestamp.
func kernelHash(stakeModifier chainhash.Hash, op wire.OutPoint, timestamp uint32) chainhash.Hash {
	var buf bytes.Buffer
	buf.Write(stakeModifier[:])
	buf.Write(op.Hash[:])

	var scratch [4]byte
	binary.LittleEndian.PutUint32(scratch[:], op.Index)
	buf.Write(scratch[:])
	binary.LittleEndian.PutUint32(scratch[:], timestamp)
	buf.Write(scratch[:])

	return chainhash.DoubleHashH(buf.Bytes())
}

// stakeTarget derives the weighted kernel target: the compact difficulty
// target scaled by the coin's value, so larger stakes solve
// proportionally more often.
func stakeTarget(bits uint32, value types.Amount) *big.Int {
	target := pow.CompactToBig(bits)
	return target.Mul(target, big.NewInt(int64(value)))
}

// CheckKernel tests a single (coin, timestamp) pair against the stake
// target.  It returns the proof hash, the weighted target, and whether the
// pair is a valid kernel.
func CheckKernel(prev *chaindata.BlockNode, bits, timestamp uint32, coin *StakeCoin) (chainhash.Hash, *big.Int, bool) {
	proofHash := kernelHash(prev.StakeModifier, coin.OutPoint, timestamp)
	target := stakeTarget(bits, coin.Value)
	ok := pow.HashToBig(&proofHash).Cmp(target) <= 0
	return proofHash, target, ok
}

// CheckProofOfStake validates the stake proof of a candidate coinstake
// transaction against the previous block index.  The value resolver maps
// the staked outpoint back to its amount; the proof and target hashes are
// returned for logging.
func CheckProofOfStake(prev *chaindata.BlockNode, coinstake *wire.MsgTx,
	bits, timestamp uint32, pod []byte,
	resolveValue func(op wire.OutPoint) (types.Amount, bool)) (chainhash.Hash, *big.Int, error) {

	var zeroHash chainhash.Hash
	if !coinstake.IsCoinStake() {
		return zeroHash, nil, errors.New("transaction is not a coinstake")
	}
	stakeOut := coinstake.TxIn[0].PreviousOutPoint
	value, ok := resolveValue(stakeOut)
	if !ok {
		return zeroHash, nil, errors.Errorf("staked outpoint %s not found", stakeOut)
	}

	coin := &StakeCoin{OutPoint: stakeOut, Value: value, PoD: pod}
	proofHash, target, ok := CheckKernel(prev, bits, timestamp, coin)
	if !ok {
		return proofHash, target, errors.New("kernel hash does not meet stake target")
	}
	return proofHash, target, nil
}
