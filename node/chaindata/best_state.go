// Copyright (c) 2021 The Hydranet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaindata

import (
	"gitlab.com/hydranet/core/stake.core/types/chainhash"
)

// BestState houses information about the current best block as it exists
// from the point of view of the current chain tip.  Returned snapshots must
// be treated as immutable since they are shared by all callers.
type BestState struct {
	Hash       chainhash.Hash // The hash of the block.
	Height     int32          // The height of the block.
	Bits       uint32         // The difficulty bits of the block.
	BlockTime  int64          // The timestamp of the block.
	MedianTime int64          // Median time as per CalcPastMedianTime.
}

// NewBestState returns a new best state snapshot for the given tip node.
func NewBestState(node *BlockNode) *BestState {
	return &BestState{
		Hash:       node.Hash,
		Height:     node.Height,
		Bits:       node.Bits,
		BlockTime:  node.Timestamp,
		MedianTime: node.CalcPastMedianTime(),
	}
}
