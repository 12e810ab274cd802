// Copyright (c) 2021 The Hydranet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaindata

import (
	"sort"

	"gitlab.com/hydranet/core/stake.core/types/chainhash"
)

// medianTimeBlocks is the number of previous blocks which should be used to
// calculate the median time used to validate block timestamps.
const medianTimeBlocks = 11

// BlockNode represents a block within the block chain index.  Nodes form a
// tree rooted at the genesis block through their parent pointers.
type BlockNode struct {
	parent *BlockNode

	// Hash is the block identifier.
	Hash chainhash.Hash

	// Height is the position in the block chain.
	Height int32

	// Bits is the difficulty target of the block.
	Bits uint32

	// Version is the block version.
	Version int32

	// Timestamp is the block time in unix seconds.
	Timestamp int64

	// ProofOfStake marks stake blocks.
	ProofOfStake bool

	// StakeModifier feeds the stake kernel of descendant blocks.
	StakeModifier chainhash.Hash
}

// NewBlockNode returns a new block node linked to the given parent.
func NewBlockNode(parent *BlockNode, hash chainhash.Hash, height int32,
	bits uint32, timestamp int64) *BlockNode {

	return &BlockNode{
		parent:    parent,
		Hash:      hash,
		Height:    height,
		Bits:      bits,
		Timestamp: timestamp,
	}
}

// Parent returns the parent node, or nil for the genesis block.
func (node *BlockNode) Parent() *BlockNode {
	return node.parent
}

// Ancestor returns the ancestor block node at the provided height by
// following the chain backwards from this node.  The returned block will be
// nil when a height is requested that is after the height of the passed node
// or is less than zero.
func (node *BlockNode) Ancestor(height int32) *BlockNode {
	if height < 0 || height > node.Height {
		return nil
	}

	n := node
	for ; n != nil && n.Height != height; n = n.parent {
		// Intentionally left blank.
	}
	return n
}

// CalcPastMedianTime calculates the median time of the previous few blocks
// prior to, and including, this block node.
func (node *BlockNode) CalcPastMedianTime() int64 {
	timestamps := make([]int64, 0, medianTimeBlocks)
	iterNode := node
	for i := 0; i < medianTimeBlocks && iterNode != nil; i++ {
		timestamps = append(timestamps, iterNode.Timestamp)
		iterNode = iterNode.parent
	}

	sort.Slice(timestamps, func(i, j int) bool {
		return timestamps[i] < timestamps[j]
	})
	return timestamps[len(timestamps)/2]
}

// ComputeStakeModifier derives the stake modifier a block contributes to its
// descendants.  Stake blocks mix in the hash of their staked outpoint, work
// blocks mix in the block hash itself.
func ComputeStakeModifier(prevModifier, kernel chainhash.Hash) chainhash.Hash {
	var buf [chainhash.HashSize * 2]byte
	copy(buf[:chainhash.HashSize], kernel[:])
	copy(buf[chainhash.HashSize:], prevModifier[:])
	return chainhash.DoubleHashH(buf[:])
}
