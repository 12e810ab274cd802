// Copyright (c) 2021 The Hydranet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"gitlab.com/hydranet/core/stake.core/types/chainhash"
)

// MsgBlock implements the Message interface and represents a block message.
// It is used to deliver block and transaction information.
type MsgBlock struct {
	Header       BlockHeader
	Transactions []*MsgTx
}

// NewMsgBlock returns a new block message with the provided header.
func NewMsgBlock(blockHeader *BlockHeader) *MsgBlock {
	return &MsgBlock{
		Header:       *blockHeader,
		Transactions: make([]*MsgTx, 0, 16),
	}
}

// AddTransaction adds a transaction to the message.
func (msg *MsgBlock) AddTransaction(tx *MsgTx) {
	msg.Transactions = append(msg.Transactions, tx)
}

// BlockHash computes the block identifier hash for this block.
func (msg *MsgBlock) BlockHash() chainhash.Hash {
	return msg.Header.BlockHash()
}

// IsProofOfStake reports whether the block is a stake block: its header
// commits to a staked prevout and its second transaction is a coinstake.
func (msg *MsgBlock) IsProofOfStake() bool {
	return msg.Header.IsProofOfStake() &&
		len(msg.Transactions) > 1 && msg.Transactions[1].IsCoinStake()
}

// TxHashes returns a slice of hashes of all of transactions in this block.
func (msg *MsgBlock) TxHashes() []chainhash.Hash {
	hashList := make([]chainhash.Hash, 0, len(msg.Transactions))
	for _, tx := range msg.Transactions {
		hashList = append(hashList, tx.TxHash())
	}
	return hashList
}

// SerializeSize returns the number of bytes it would take to serialize the
// block.
func (msg *MsgBlock) SerializeSize() int {
	n := msg.Header.serializeSize() +
		varIntSerializeSize(uint64(len(msg.Transactions)))
	for _, tx := range msg.Transactions {
		n += tx.SerializeSize()
	}
	return n
}

// GetBlockWeight computes the weight metric of the block: the sum of the
// transaction weights plus the scaled header and count overhead.
func GetBlockWeight(blk *MsgBlock) int64 {
	base := int64(blk.Header.serializeSize() +
		varIntSerializeSize(uint64(len(blk.Transactions))))
	weight := base * WitnessScaleFactor
	for _, tx := range blk.Transactions {
		weight += GetTransactionWeight(tx)
	}
	return weight
}
