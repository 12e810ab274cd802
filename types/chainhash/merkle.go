// Copyright (c) 2021 The Hydranet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainhash

// HashMerkleBranches takes two hashes, treated as the left and right tree
// nodes, and returns the hash of their concatenation.
func HashMerkleBranches(left *Hash, right *Hash) *Hash {
	var hash [HashSize * 2]byte
	copy(hash[:HashSize], left[:])
	copy(hash[HashSize:], right[:])

	newHash := DoubleHashH(hash[:])
	return &newHash
}

// CalcMerkleRoot computes the merkle root over the given leaf hashes.  When
// a level has an odd number of nodes the last one is paired with itself, as
// in the bitcoin merkle tree.
func CalcMerkleRoot(leaves []Hash) Hash {
	if len(leaves) == 0 {
		return Hash{}
	}

	level := make([]*Hash, len(leaves))
	for i := range leaves {
		h := leaves[i]
		level[i] = &h
	}

	for len(level) > 1 {
		next := make([]*Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, HashMerkleBranches(left, right))
		}
		level = next
	}
	return *level[0]
}
