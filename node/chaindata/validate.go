// Copyright (c) 2021 The Hydranet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaindata

import (
	"gitlab.com/hydranet/core/stake.core/types/wire"
)

// LockTimeThreshold is the number below which a transaction lock time is
// interpreted as a block height instead of a unix timestamp.
const LockTimeThreshold = 5e8

// BehaviorFlags is a bitmask defining tweaks to the normal behavior when
// performing chain processing and consensus rules checks.
type BehaviorFlags uint32

const (
	// BFNone is a convenience value to specifically indicate no flags.
	BFNone BehaviorFlags = 0

	// BFNoPoWCheck signifies the proof of work/stake check should not be
	// performed when processing the block.
	BFNoPoWCheck BehaviorFlags = 1 << iota
)

// IsFinalizedTransaction determines whether or not a transaction is final
// based on the passed block height and time.
func IsFinalizedTransaction(tx *wire.MsgTx, blockHeight int32, blockTime int64) bool {
	// Lock time of zero means the transaction is finalized.
	lockTime := tx.LockTime
	if lockTime == 0 {
		return true
	}

	// The lock time field of a transaction is either a block height at
	// which the transaction is finalized or a timestamp depending on if
	// the value is before the LockTimeThreshold.
	blockTimeOrHeight := int64(blockHeight)
	if lockTime >= LockTimeThreshold {
		blockTimeOrHeight = blockTime
	}
	if int64(lockTime) < blockTimeOrHeight {
		return true
	}

	// At this point, the transaction's lock time hasn't occurred yet, but
	// the transaction might still be finalized if the sequence number for
	// all transaction inputs is maxed out.
	for _, txIn := range tx.TxIn {
		if txIn.Sequence != wire.MaxTxInSequenceNum {
			return false
		}
	}
	return true
}
