// Copyright (c) 2014-2016 The btcsuite developers
// Copyright (c) 2021 The Hydranet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mining

import (
	"time"

	"gitlab.com/hydranet/core/stake.core/types"
	"gitlab.com/hydranet/core/stake.core/types/chainhash"
	"gitlab.com/hydranet/core/stake.core/types/wire"
)

const (
	// CoinbaseFlags is added to the coinbase script of a generated block.
	CoinbaseFlags = "/P2SH/hydranet/"

	// BlockHeaderOverhead is the max number of bytes it takes to serialize
	// a block header and max possible transaction count.
	BlockHeaderOverhead = 168 + 9

	// CoinbaseSigScriptMaxSize bounds the signature script of a generated
	// coinbase transaction.
	CoinbaseSigScriptMaxSize = 100
)

// TxDesc is a descriptor about a transaction in a transaction source along
// with additional metadata the block assembler orders by.  A descriptor is a
// point-in-time snapshot: the ancestor aggregates are valid for the moment
// the source produced it and the assembler tracks its own deltas afterwards.
type TxDesc struct {
	// Tx is the transaction associated with the entry.
	Tx *wire.MsgTx

	// TxHash caches the transaction hash.
	TxHash chainhash.Hash

	// Added is the time when the entry was added to the source pool.
	Added time.Time

	// Height is the block height when the entry was added to the source
	// pool.
	Height int32

	// Fee is the total fee the transaction pays.
	Fee types.Amount

	// FeeRate is the fee the transaction pays on a per-kilobyte basis.
	FeeRate types.FeeRate

	// GasPrice is the minimum gas price across the transaction's contract
	// calls, or zero when it carries none.
	GasPrice uint64

	// Size is the stripped serialized size of the transaction.
	Size int64

	// SigOpCost is the cost of the signature operations the transaction
	// performs.
	SigOpCost int64

	// Sequence is the insertion order of the entry in the source pool.
	// It breaks ordering ties deterministically.
	Sequence uint64

	// ParentHashes lists the in-pool transactions this entry spends from.
	ParentHashes []chainhash.Hash

	// AncestorFee, AncestorSize, AncestorSigOps and AncestorCount
	// aggregate the entry together with all of its unconfirmed ancestors.
	AncestorFee    types.Amount
	AncestorSize   int64
	AncestorSigOps int64
	AncestorCount  int64
}

// AncestorFeeRate returns the fee rate of the entry's ancestor package.
func (d *TxDesc) AncestorFeeRate() types.FeeRate {
	return types.NewFeeRateWithSize(d.AncestorFee, d.AncestorSize)
}

// TxSource represents a source of transactions to consider for inclusion in
// new blocks.
//
// The interface contract requires that all of these methods are safe for
// concurrent access with respect to the source.
type TxSource interface {
	// LastUpdated returns the last time a transaction was added to or
	// removed from the source pool.
	LastUpdated() time.Time

	// MiningDescs returns a slice of mining descriptors for all the
	// transactions in the source pool.
	MiningDescs() []*TxDesc

	// HaveTransaction returns whether or not the passed transaction hash
	// exists in the source pool.
	HaveTransaction(hash *chainhash.Hash) bool
}

// BlockTemplate houses a block that has yet to be solved along with
// additional details about the fees and the number of signature operations
// for each transaction in the block.
type BlockTemplate struct {
	// Block is a block that is ready to be solved by stakers.  Thus, it is
	// completely valid with the exception of satisfying the stake kernel
	// requirement.
	Block *wire.MsgBlock

	// Fees contains the amount of fees each transaction in the generated
	// template pays in base units.  Since the first transaction is the
	// coinbase, the first entry (offset 0) will contain the negative of
	// the sum of the fees of all other transactions.
	Fees []int64

	// SigOpCosts contains the number of signature operations each
	// transaction in the generated template performs.
	SigOpCosts []int64

	// Height is the height at which the block template connects to the
	// main chain.
	Height int32

	// TotalGasUsed is the gas consumed by the contract executions
	// embedded in the template.
	TotalGasUsed uint64

	// ValidPayAddress indicates whether or not the template coinbase pays
	// to an address or is redeemable by anyone.
	ValidPayAddress bool
}
