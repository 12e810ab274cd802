// Copyright (c) 2021 The Hydranet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"encoding/binary"

	"gitlab.com/hydranet/core/stake.core/types/chainhash"
)

// BlockHeader defines information about a block.  Beyond the usual
// proof-of-work fields it commits to the contract-state and UTXO-state
// roots and, for proof-of-stake blocks, the staked prevout and the block
// signature.
type BlockHeader struct {
	// Version of the block.  This is not the same as the protocol version.
	Version int32

	// Hash of the previous block header in the block chain.
	PrevBlock chainhash.Hash

	// Merkle tree reference to hash of all transactions for the block.
	MerkleRoot chainhash.Hash

	// Time the block was created, in unix seconds.
	Timestamp uint32

	// Difficulty target for the block.
	Bits uint32

	// Nonce used to generate the block.  Always zero for stake blocks.
	Nonce uint32

	// Root of the global contract state after connecting this block.
	StateRoot chainhash.Hash

	// Root of the contract-visible UTXO state after connecting this block.
	UTXORoot chainhash.Hash

	// PrevoutStake identifies the staked output for proof-of-stake blocks.
	// It is the null outpoint for proof-of-work blocks.
	PrevoutStake OutPoint

	// Signature over the block hash by the staker's key.  Not part of the
	// hashed header.
	Signature []byte
}

// BlockHash computes the block identifier hash for the given block header.
// The signature is excluded so signing does not alter the hash.
func (h *BlockHeader) BlockHash() chainhash.Hash {
	var buf bytes.Buffer
	var scratch [4]byte

	binary.LittleEndian.PutUint32(scratch[:], uint32(h.Version))
	buf.Write(scratch[:])
	buf.Write(h.PrevBlock[:])
	buf.Write(h.MerkleRoot[:])
	binary.LittleEndian.PutUint32(scratch[:], h.Timestamp)
	buf.Write(scratch[:])
	binary.LittleEndian.PutUint32(scratch[:], h.Bits)
	buf.Write(scratch[:])
	binary.LittleEndian.PutUint32(scratch[:], h.Nonce)
	buf.Write(scratch[:])
	buf.Write(h.StateRoot[:])
	buf.Write(h.UTXORoot[:])
	buf.Write(h.PrevoutStake.Hash[:])
	binary.LittleEndian.PutUint32(scratch[:], h.PrevoutStake.Index)
	buf.Write(scratch[:])

	return chainhash.DoubleHashH(buf.Bytes())
}

// IsProofOfStake reports whether the header commits to a staked prevout.
func (h *BlockHeader) IsProofOfStake() bool {
	return !h.PrevoutStake.IsNull()
}

// serializeSize returns the serialized byte size of the header.
func (h *BlockHeader) serializeSize() int {
	// Fixed fields plus the variable-length signature.
	return 4 + 32 + 32 + 4 + 4 + 4 + 32 + 32 + 36 +
		varIntSerializeSize(uint64(len(h.Signature))) + len(h.Signature)
}
