// Copyright (c) 2021 The Hydranet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package staker

import (
	"math/big"
	"runtime"
	"sort"
	"sync"

	"go.uber.org/zap"

	"gitlab.com/hydranet/core/stake.core/node/chaindata"
	"gitlab.com/hydranet/core/stake.core/types/chainhash"
)

// SolveItem is one valid stake kernel found by the search: a coin and the
// timestamp at which its proof hash meets the weighted target.
type SolveItem struct {
	Coin      *StakeCoin
	Timestamp uint32
	ProofHash chainhash.Hash
	Target    *big.Int
}

// Solver caches kernel search results for the current chain tip.  A
// timestamp searched once is never searched again until the tip changes,
// so repeated sweeps over an overlapping timestamp window cost only the
// fresh timestamps.  Search work is split across workers by coin; the
// merged result set is identical regardless of worker count.
type Solver struct {
	workers int
	log     *zap.Logger

	mtx       sync.Mutex
	tipHash   chainhash.Hash
	attempted map[uint32]struct{}
	solutions map[uint32][]*SolveItem
}

// NewSolver returns a solver running the kernel search on the given number
// of workers.  workers <= 0 uses one worker per CPU.
func NewSolver(workers int, log *zap.Logger) *Solver {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Solver{
		workers:   workers,
		log:       log,
		attempted: make(map[uint32]struct{}),
		solutions: make(map[uint32][]*SolveItem),
	}
}

// reset drops all cached results when the search moves to a new tip.
// Must be called with the mutex held.
func (s *Solver) reset(tipHash chainhash.Hash) {
	s.tipHash = tipHash
	s.attempted = make(map[uint32]struct{})
	s.solutions = make(map[uint32][]*SolveItem)
}

// Search runs the kernel check for every (coin, timestamp) pair not yet
// attempted at the given tip and records the solutions.  It returns the
// number of new solutions found.
func (s *Solver) Search(prev *chaindata.BlockNode, bits uint32, coins []*StakeCoin, timestamps []uint32) int {
	s.mtx.Lock()
	if s.tipHash != prev.Hash {
		s.reset(prev.Hash)
	}
	fresh := make([]uint32, 0, len(timestamps))
	for _, ts := range timestamps {
		if _, ok := s.attempted[ts]; ok {
			continue
		}
		s.attempted[ts] = struct{}{}
		fresh = append(fresh, ts)
	}
	s.mtx.Unlock()

	if len(fresh) == 0 || len(coins) == 0 {
		return 0
	}

	workers := s.workers
	if workers > len(coins) {
		workers = len(coins)
	}
	span := (len(coins) + workers - 1) / workers

	var wg sync.WaitGroup
	found := make([][]*SolveItem, workers)
	for w := 0; w < workers; w++ {
		lo := w * span
		hi := lo + span
		if hi > len(coins) {
			hi = len(coins)
		}
		wg.Add(1)
		go func(w int, part []*StakeCoin) {
			defer wg.Done()
			var hits []*SolveItem
			for _, coin := range part {
				for _, ts := range fresh {
					proofHash, target, ok := CheckKernel(prev, bits, ts, coin)
					if !ok {
						continue
					}
					hits = append(hits, &SolveItem{
						Coin:      coin,
						Timestamp: ts,
						ProofHash: proofHash,
						Target:    target,
					})
				}
			}
			found[w] = hits
		}(w, coins[lo:hi])
	}
	wg.Wait()

	total := 0
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.tipHash != prev.Hash {
		// Tip moved while searching, results are stale.
		return 0
	}
	touched := make(map[uint32]struct{})
	for _, hits := range found {
		for _, item := range hits {
			s.solutions[item.Timestamp] = append(s.solutions[item.Timestamp], item)
			touched[item.Timestamp] = struct{}{}
			total++
		}
	}
	for ts := range touched {
		sortSolutions(s.solutions[ts])
	}
	if total > 0 {
		s.log.Debug("stake kernel search found solutions",
			zap.Int("solutions", total),
			zap.Int("timestamps", len(fresh)),
			zap.Int("coins", len(coins)))
	}
	return total
}

// Solutions returns the cached kernels for a timestamp, ordered ascending
// by proof hash.  The returned slice is shared; callers must not mutate it.
func (s *Solver) Solutions(timestamp uint32) []*SolveItem {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.solutions[timestamp]
}

// Remove discards a cached solution, typically after a failed attempt to
// build or sign a block with it, so the next sweep tries the runner-up.
func (s *Solver) Remove(item *SolveItem) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	sols := s.solutions[item.Timestamp]
	for i, cand := range sols {
		if cand == item {
			s.solutions[item.Timestamp] = append(sols[:i], sols[i+1:]...)
			return
		}
	}
}

// sortSolutions orders kernels ascending by proof hash so the strongest
// proof is tried first, breaking ties on the staked outpoint.
func sortSolutions(sols []*SolveItem) {
	sort.Slice(sols, func(i, j int) bool {
		if c := sols[i].ProofHash.Cmp(&sols[j].ProofHash); c != 0 {
			return c < 0
		}
		a, b := &sols[i].Coin.OutPoint, &sols[j].Coin.OutPoint
		if c := a.Hash.Cmp(&b.Hash); c != 0 {
			return c < 0
		}
		return a.Index < b.Index
	})
}
