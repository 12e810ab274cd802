// Copyright (c) 2021 The Hydranet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mining

import (
	"sort"

	"github.com/google/btree"
	"go.uber.org/zap"

	"gitlab.com/hydranet/core/stake.core/node/chaindata"
	"gitlab.com/hydranet/core/stake.core/node/solvency"
	"gitlab.com/hydranet/core/stake.core/types"
	"gitlab.com/hydranet/core/stake.core/types/chainhash"
	"gitlab.com/hydranet/core/stake.core/types/wire"
)

// candidate is one selection-view entry.  The ancestor aggregates start as
// the source snapshot and are decremented in place as ancestors make it
// into the block, so the view always ranks by the fee rate of what is
// still left to add.
type candidate struct {
	desc     *TxDesc
	parents  map[*candidate]struct{}
	children map[*candidate]struct{}
}

// candidateItem orders candidates by descending ancestor-package fee rate
// with fee-rate, gas-price, then insertion-order tie-breaks.  The ordering
// is total, so selection is reproducible across runs.
type candidateItem struct {
	c *candidate
}

func (i candidateItem) Less(than btree.Item) bool {
	self, other := i.c.desc, than.(candidateItem).c.desc

	selfRate := self.AncestorFeeRate()
	otherRate := other.AncestorFeeRate()
	if selfRate.SatoshisPerK != otherRate.SatoshisPerK {
		return otherRate.Less(selfRate)
	}
	if self.FeeRate.SatoshisPerK != other.FeeRate.SatoshisPerK {
		return other.FeeRate.Less(self.FeeRate)
	}
	if self.GasPrice != other.GasPrice {
		return self.GasPrice > other.GasPrice
	}
	return self.Sequence < other.Sequence
}

// buildCandidateGraph snapshots the transaction source into a selection
// view with parent/child links resolved against the snapshot itself.
func buildCandidateGraph(descs []*TxDesc) (map[chainhash.Hash]*candidate, *btree.BTree) {
	byHash := make(map[chainhash.Hash]*candidate, len(descs))
	for _, desc := range descs {
		byHash[desc.TxHash] = &candidate{
			desc:     desc,
			parents:  make(map[*candidate]struct{}),
			children: make(map[*candidate]struct{}),
		}
	}

	view := btree.New(32)
	for _, c := range byHash {
		for _, parentHash := range c.desc.ParentHashes {
			if parent, ok := byHash[parentHash]; ok {
				c.parents[parent] = struct{}{}
				parent.children[c] = struct{}{}
			}
		}
		view.ReplaceOrInsert(candidateItem{c: c})
	}
	return byHash, view
}

// packageAncestors returns the not-yet-included ancestors of the candidate,
// and reports whether any of them previously failed (which poisons the
// whole package).
func (ba *blockAssembler) packageAncestors(c *candidate,
	failed map[chainhash.Hash]struct{}) ([]*candidate, bool) {

	var ancestors []*candidate
	seen := map[*candidate]struct{}{c: {}}
	queue := make([]*candidate, 0, len(c.parents))
	for parent := range c.parents {
		queue = append(queue, parent)
	}
	for len(queue) > 0 {
		next := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		if _, ok := seen[next]; ok {
			continue
		}
		seen[next] = struct{}{}
		if _, ok := ba.inBlock[next.desc.TxHash]; ok {
			continue
		}
		if _, ok := failed[next.desc.TxHash]; ok {
			return nil, true
		}
		ancestors = append(ancestors, next)
		for parent := range next.parents {
			queue = append(queue, parent)
		}
	}
	return ancestors, false
}

// testPackage reports whether a package of the given size and sigop cost
// still fits the remaining block budget.
func (ba *blockAssembler) testPackage(packageSize, packageSigOps int64) bool {
	if ba.blockWeight+uint64(packageSize)*wire.WitnessScaleFactor > ba.maxBlockWeight {
		return false
	}
	if ba.blockSigOps+packageSigOps > ba.maxSigOpCost {
		return false
	}
	return true
}

// testPackageTransactions checks the locktime finality of every package
// member against the template's height and cutoff time.
func (ba *blockAssembler) testPackageTransactions(pkg []*candidate) bool {
	for _, c := range pkg {
		if !chaindata.IsFinalizedTransaction(c.desc.Tx, ba.height, ba.lockTimeCutoff) {
			return false
		}
	}
	return true
}

// addToBlock unconditionally appends a plain transaction to the block and
// charges its costs to the running totals.
func (ba *blockAssembler) addToBlock(desc *TxDesc) {
	ba.block.Transactions = append(ba.block.Transactions, desc.Tx)
	ba.template.Fees = append(ba.template.Fees, int64(desc.Fee))
	ba.template.SigOpCosts = append(ba.template.SigOpCosts, desc.SigOpCost)
	ba.blockWeight += uint64(wire.GetTransactionWeight(desc.Tx))
	ba.blockSigOps += desc.SigOpCost
	ba.blockTxCount++
	ba.fees += desc.Fee
	ba.inBlock[desc.TxHash] = struct{}{}
	ba.recordBlockOutputs(desc.Tx)
}

// recordBlockOutputs indexes a newly included transaction's outputs so
// later packages and the solvency rule can resolve in-block spends.
func (ba *blockAssembler) recordBlockOutputs(tx *wire.MsgTx) {
	txHash := tx.TxHash()
	for i, txOut := range tx.TxOut {
		ba.blockOutputs[wire.OutPoint{Hash: txHash, Index: uint32(i)}] = txOut
	}
}

// ResolveInput resolves an outpoint against the in-progress block first,
// then the confirmed UTXO view.  It satisfies the solvency resolver
// contract.
func (ba *blockAssembler) ResolveInput(op wire.OutPoint) (types.Address, types.Amount, bool) {
	if txOut, ok := ba.blockOutputs[op]; ok {
		if addr, ok := wire.ExtractKeyHash(txOut.PkScript); ok {
			return addr, types.Amount(txOut.Value), true
		}
		return types.Address{}, 0, false
	}
	if ba.cfg.ResolveInput != nil {
		return ba.cfg.ResolveInput(op)
	}
	return types.Address{}, 0, false
}

// updatePackagesForAdded subtracts the newly included package from the
// ancestor aggregates of its remaining descendants and reindexes them, so
// later iterations rank by what is actually left to add.
func (ba *blockAssembler) updatePackagesForAdded(view *btree.BTree, added []*candidate) int {
	updated := 0
	for _, a := range added {
		for descendant := range descendantsOf(a) {
			if _, ok := ba.inBlock[descendant.desc.TxHash]; ok {
				continue
			}
			if view.Delete(candidateItem{c: descendant}) == nil {
				continue
			}
			descendant.desc.AncestorFee -= a.desc.Fee
			descendant.desc.AncestorSize -= a.desc.Size
			descendant.desc.AncestorSigOps -= a.desc.SigOpCost
			descendant.desc.AncestorCount--
			view.ReplaceOrInsert(candidateItem{c: descendant})
			updated++
		}
	}
	return updated
}

func descendantsOf(c *candidate) map[*candidate]struct{} {
	descendants := make(map[*candidate]struct{})
	queue := make([]*candidate, 0, len(c.children))
	for child := range c.children {
		queue = append(queue, child)
	}
	for len(queue) > 0 {
		next := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		if _, ok := descendants[next]; ok {
			continue
		}
		descendants[next] = struct{}{}
		for child := range next.children {
			queue = append(queue, child)
		}
	}
	return descendants
}

// testSolvency runs the package, in dependency order, through the solvency
// tracker.  The returned delta commits the package's balance effects once
// every member is actually in the block.
func (ba *blockAssembler) testSolvency(pkg []*candidate) (*solvency.Delta, error) {
	if ba.tracker == nil {
		return nil, nil
	}
	txs := make([]*wire.MsgTx, len(pkg))
	for i, c := range pkg {
		txs[i] = c.desc.Tx
	}
	return ba.tracker.TestPackage(txs, ba)
}

// deadlineReached reports whether the assembly wall-clock cutoff passed.
func (ba *blockAssembler) deadlineReached() bool {
	return !ba.deadline.IsZero() && !ba.cfg.TimeSource().Before(ba.deadline)
}

// addPackageTxs fills the block body from the transaction source.
//
// The view orders packages by ancestor fee rate; the loop repeatedly takes
// the best remaining package, checks it against the weight, sigop, finality
// and solvency budgets, then adds its members in dependency order, running
// contract members through tentative execution.  Since transactions stay in
// the source while selection runs, the aggregates of descendants are
// corrected in place after every accepted package.
func (ba *blockAssembler) addPackageTxs() (packagesSelected, descendantsUpdated int) {
	_, view := buildCandidateGraph(ba.cfg.TxSource.MiningDescs())
	failed := make(map[chainhash.Hash]struct{})
	consecutiveFailed := 0

	for view.Len() > 0 && packagesSelected < maxPackagesPerBlock {
		if ba.deadlineReached() {
			return
		}

		c := view.DeleteMin().(candidateItem).c
		if _, ok := ba.inBlock[c.desc.TxHash]; ok {
			continue
		}
		if _, ok := failed[c.desc.TxHash]; ok {
			continue
		}

		// Everything ranked after this package pays an equal or lower
		// rate, so the first package under the floor ends selection.
		if c.desc.AncestorFee < ba.minFeeRate.GetFee(c.desc.AncestorSize) {
			return
		}

		if !ba.testPackage(c.desc.AncestorSize, c.desc.AncestorSigOps) {
			failed[c.desc.TxHash] = struct{}{}
			consecutiveFailed++
			if consecutiveFailed > maxConsecutiveFailures &&
				ba.blockWeight > ba.maxBlockWeight-nearlyFullWeightMargin {
				return
			}
			continue
		}

		ancestors, poisoned := ba.packageAncestors(c, failed)
		if poisoned {
			failed[c.desc.TxHash] = struct{}{}
			continue
		}
		pkg := append(ancestors, c)

		// Dependency order: an ancestor's count is always lower than
		// its descendant's, with insertion order as the tie-break.
		sort.Slice(pkg, func(i, j int) bool {
			if pkg[i].desc.AncestorCount != pkg[j].desc.AncestorCount {
				return pkg[i].desc.AncestorCount < pkg[j].desc.AncestorCount
			}
			return pkg[i].desc.Sequence < pkg[j].desc.Sequence
		})

		if !ba.testPackageTransactions(pkg) {
			failed[c.desc.TxHash] = struct{}{}
			continue
		}

		delta, err := ba.testSolvency(pkg)
		if err != nil {
			ba.gen.log.Debug("package rejected by solvency rule",
				zap.Stringer("txHash", &c.desc.TxHash),
				zap.Error(err))
			failed[c.desc.TxHash] = struct{}{}
			continue
		}

		// This package will make it in; reset the failed counter.
		consecutiveFailed = 0

		wasAdded := true
		for _, member := range pkg {
			if !wasAdded || ba.deadlineReached() {
				wasAdded = false
				view.Delete(candidateItem{c: member})
				continue
			}
			if member.desc.Tx.HasContractCalls() {
				wasAdded = ba.attemptToAddContract(member.desc)
			} else {
				ba.addToBlock(member.desc)
			}
			view.Delete(candidateItem{c: member})
		}
		if !wasAdded {
			failed[c.desc.TxHash] = struct{}{}
			continue
		}

		if delta != nil {
			ba.tracker.Apply(delta)
		}
		packagesSelected++
		descendantsUpdated += ba.updatePackagesForAdded(view, pkg)
	}
	return
}
