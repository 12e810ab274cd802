// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2021 The Hydranet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/btree"
	"go.uber.org/zap"

	"gitlab.com/hydranet/core/stake.core/chaincfg"
	"gitlab.com/hydranet/core/stake.core/node/mining"
	"gitlab.com/hydranet/core/stake.core/types"
	"gitlab.com/hydranet/core/stake.core/types/chainhash"
	"gitlab.com/hydranet/core/stake.core/types/wire"
)

const (
	// DefaultMaxAncestorCount is the default cap on the number of
	// unconfirmed ancestors a pool entry may have.
	DefaultMaxAncestorCount = 25

	// DefaultMaxAncestorSize is the default cap on the aggregate stripped
	// size of a pool entry together with its unconfirmed ancestors.
	DefaultMaxAncestorSize = 101000
)

// Config is a descriptor containing the memory pool configuration.
type Config struct {
	// ChainParams identifies which chain parameters the pool is
	// associated with.
	ChainParams *chaincfg.Params

	// MinRelayTxFee defines the minimum transaction fee in satoshi/1000
	// bytes to be considered a non-zero fee.
	MinRelayTxFee types.FeeRate

	// MinGasPrice returns the current governed minimum gas price for
	// contract-bearing transactions.
	MinGasPrice func() uint64

	// BestHeight returns the current best chain height.
	BestHeight func() int32

	// SigOpCost returns the signature operation cost of a transaction.
	SigOpCost func(tx *wire.MsgTx) int64

	// MaxAncestorCount and MaxAncestorSize bound unconfirmed ancestor
	// packages.  Zero values fall back to the defaults.
	MaxAncestorCount int64
	MaxAncestorSize  int64

	// Log is the pool logger.
	Log *zap.Logger
}

// poolEntry couples a mining descriptor with the unconfirmed dependency
// links the pool maintains for it.
type poolEntry struct {
	desc mining.TxDesc

	parents  map[*poolEntry]struct{}
	children map[*poolEntry]struct{}
}

// scoreItem orders pool entries by ancestor-package fee rate inside the
// mining index.  Ties break on the entry's own fee rate, then gas price,
// then insertion order so that two pools holding the same transactions
// produce the same ordering.
type scoreItem struct {
	entry *poolEntry
}

func (i scoreItem) Less(than btree.Item) bool {
	other := than.(scoreItem).entry
	self := i.entry

	selfRate := self.desc.AncestorFeeRate()
	otherRate := other.desc.AncestorFeeRate()
	if selfRate.SatoshisPerK != otherRate.SatoshisPerK {
		return otherRate.Less(selfRate)
	}
	if self.desc.FeeRate.SatoshisPerK != other.desc.FeeRate.SatoshisPerK {
		return other.desc.FeeRate.Less(self.desc.FeeRate)
	}
	if self.desc.GasPrice != other.desc.GasPrice {
		return self.desc.GasPrice > other.desc.GasPrice
	}
	return self.desc.Sequence < other.desc.Sequence
}

// TxPool is used as a source of transactions that need to be assembled into
// blocks.  It is safe for concurrent access.
type TxPool struct {
	// The following variables must only be used atomically.
	lastUpdated int64 // last time pool was updated

	mtx       sync.RWMutex
	cfg       Config
	pool      map[chainhash.Hash]*poolEntry
	outpoints map[wire.OutPoint]*poolEntry
	index     *btree.BTree
	sequence  uint64
}

// Ensure the TxPool type implements the mining.TxSource interface.
var _ mining.TxSource = (*TxPool)(nil)

// New returns a new memory pool for validating and storing standalone
// transactions until they are included in a block.
func New(cfg *Config) *TxPool {
	pool := &TxPool{
		cfg:       *cfg,
		pool:      make(map[chainhash.Hash]*poolEntry),
		outpoints: make(map[wire.OutPoint]*poolEntry),
		index:     btree.New(32),
	}
	if pool.cfg.MaxAncestorCount == 0 {
		pool.cfg.MaxAncestorCount = DefaultMaxAncestorCount
	}
	if pool.cfg.MaxAncestorSize == 0 {
		pool.cfg.MaxAncestorSize = DefaultMaxAncestorSize
	}
	if pool.cfg.Log == nil {
		pool.cfg.Log = zap.NewNop()
	}
	return pool
}

// haveTransaction returns whether or not the passed transaction already
// exists in the main pool.
//
// This function MUST be called with the mempool lock held (for reads).
func (mp *TxPool) haveTransaction(hash *chainhash.Hash) bool {
	_, exists := mp.pool[*hash]
	return exists
}

// HaveTransaction returns whether or not the passed transaction already
// exists in the main pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) HaveTransaction(hash *chainhash.Hash) bool {
	mp.mtx.RLock()
	haveTx := mp.haveTransaction(hash)
	mp.mtx.RUnlock()

	return haveTx
}

// checkPoolDoubleSpend checks whether or not the passed transaction is
// attempting to spend coins already spent by other transactions in the pool.
//
// This function MUST be called with the mempool lock held (for reads).
func (mp *TxPool) checkPoolDoubleSpend(tx *wire.MsgTx) error {
	for _, txIn := range tx.TxIn {
		if conflict, exists := mp.outpoints[txIn.PreviousOutPoint]; exists {
			return txRuleError(RejectDuplicate,
				"output "+txIn.PreviousOutPoint.String()+
					" already spent by transaction "+
					conflict.desc.TxHash.String()+" in the pool")
		}
	}
	return nil
}

// calculateAncestors walks the in-pool parent links of the given entry and
// returns the full unconfirmed ancestor set.
//
// This function MUST be called with the mempool lock held (for reads).
func (mp *TxPool) calculateAncestors(entry *poolEntry) map[*poolEntry]struct{} {
	ancestors := make(map[*poolEntry]struct{})
	queue := make([]*poolEntry, 0, len(entry.parents))
	for parent := range entry.parents {
		queue = append(queue, parent)
	}
	for len(queue) > 0 {
		next := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		if _, seen := ancestors[next]; seen {
			continue
		}
		ancestors[next] = struct{}{}
		for parent := range next.parents {
			queue = append(queue, parent)
		}
	}
	return ancestors
}

// calculateDescendants walks the in-pool child links of the given entry and
// returns the full unconfirmed descendant set.
//
// This function MUST be called with the mempool lock held (for reads).
func (mp *TxPool) calculateDescendants(entry *poolEntry) map[*poolEntry]struct{} {
	descendants := make(map[*poolEntry]struct{})
	queue := make([]*poolEntry, 0, len(entry.children))
	for child := range entry.children {
		queue = append(queue, child)
	}
	for len(queue) > 0 {
		next := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		if _, seen := descendants[next]; seen {
			continue
		}
		descendants[next] = struct{}{}
		for child := range next.children {
			queue = append(queue, child)
		}
	}
	return descendants
}

// minCallGasPrice returns the lowest gas price across the transaction's
// contract calls, or zero when it carries none.
func minCallGasPrice(tx *wire.MsgTx) uint64 {
	var min uint64
	for _, txOut := range tx.TxOut {
		cs, ok := wire.ParseContractScript(txOut.PkScript)
		if !ok {
			continue
		}
		if min == 0 || cs.GasPrice < min {
			min = cs.GasPrice
		}
	}
	return min
}

// MaybeAcceptTransaction validates the passed transaction against the pool's
// acceptance rules and inserts it on success.  The returned descriptor is a
// snapshot valid at insertion time.
//
// This function is safe for concurrent access.
func (mp *TxPool) MaybeAcceptTransaction(tx *wire.MsgTx, fee types.Amount) (*mining.TxDesc, error) {
	mp.mtx.Lock()
	defer mp.mtx.Unlock()

	txHash := tx.TxHash()
	if mp.haveTransaction(&txHash) {
		return nil, txRuleError(RejectDuplicate,
			"already have transaction "+txHash.String())
	}

	// A standalone transaction must not be a coinbase or coinstake.
	if tx.IsCoinBase() {
		return nil, txRuleError(RejectInvalid,
			"transaction "+txHash.String()+" is an individual coinbase")
	}
	if tx.IsCoinStake() {
		return nil, txRuleError(RejectInvalid,
			"transaction "+txHash.String()+" is an individual coinstake")
	}

	if err := mp.checkPoolDoubleSpend(tx); err != nil {
		return nil, err
	}

	size := int64(tx.SerializeSizeStripped())
	if fee < mp.cfg.MinRelayTxFee.GetFee(size) {
		return nil, txRuleError(RejectInsufficientFee,
			"transaction "+txHash.String()+" pays below the relay fee floor")
	}

	gasPrice := minCallGasPrice(tx)
	if tx.HasContractCalls() && mp.cfg.MinGasPrice != nil {
		if floor := mp.cfg.MinGasPrice(); gasPrice < floor {
			return nil, txRuleError(RejectInsufficientFee,
				"transaction "+txHash.String()+" pays below the gas price floor")
		}
	}

	var sigOpCost int64
	if mp.cfg.SigOpCost != nil {
		sigOpCost = mp.cfg.SigOpCost(tx)
	}

	var height int32
	if mp.cfg.BestHeight != nil {
		height = mp.cfg.BestHeight()
	}

	entry := &poolEntry{
		desc: mining.TxDesc{
			Tx:        tx,
			TxHash:    txHash,
			Added:     time.Now(),
			Height:    height,
			Fee:       fee,
			FeeRate:   types.NewFeeRateWithSize(fee, size),
			GasPrice:  gasPrice,
			Size:      size,
			SigOpCost: sigOpCost,
			Sequence:  mp.sequence,
		},
		parents:  make(map[*poolEntry]struct{}),
		children: make(map[*poolEntry]struct{}),
	}
	mp.sequence++

	// Resolve in-pool parents.  Inputs spending confirmed outputs have no
	// pool entry and do not contribute to the ancestor package.
	for _, txIn := range tx.TxIn {
		if parent, exists := mp.pool[txIn.PreviousOutPoint.Hash]; exists {
			entry.parents[parent] = struct{}{}
		}
	}

	// Aggregate the full ancestor set and enforce the package limits
	// before linking anything.
	ancestors := mp.calculateAncestors(entry)
	entry.desc.AncestorFee = fee
	entry.desc.AncestorSize = size
	entry.desc.AncestorSigOps = sigOpCost
	entry.desc.AncestorCount = 1
	for ancestor := range ancestors {
		entry.desc.AncestorFee += ancestor.desc.Fee
		entry.desc.AncestorSize += ancestor.desc.Size
		entry.desc.AncestorSigOps += ancestor.desc.SigOpCost
		entry.desc.AncestorCount++
	}
	if entry.desc.AncestorCount > mp.cfg.MaxAncestorCount {
		return nil, txRuleError(RejectNonstandard,
			"transaction "+txHash.String()+" exceeds the ancestor count limit")
	}
	if entry.desc.AncestorSize > mp.cfg.MaxAncestorSize {
		return nil, txRuleError(RejectNonstandard,
			"transaction "+txHash.String()+" exceeds the ancestor size limit")
	}

	for parent := range entry.parents {
		parent.children[entry] = struct{}{}
		entry.desc.ParentHashes = append(entry.desc.ParentHashes,
			parent.desc.TxHash)
	}
	mp.pool[txHash] = entry
	for _, txIn := range tx.TxIn {
		mp.outpoints[txIn.PreviousOutPoint] = entry
	}
	mp.index.ReplaceOrInsert(scoreItem{entry: entry})
	atomic.StoreInt64(&mp.lastUpdated, time.Now().Unix())

	mp.cfg.Log.Debug("accepted transaction",
		zap.Stringer("txHash", &txHash),
		zap.Int64("fee", int64(fee)),
		zap.Int("poolSize", len(mp.pool)))

	desc := entry.desc
	return &desc, nil
}

// removeTransaction is the internal function which implements the public
// RemoveTransaction.
//
// This function MUST be called with the mempool lock held (for writes).
func (mp *TxPool) removeTransaction(hash *chainhash.Hash, removeRedeemers bool) {
	entry, exists := mp.pool[*hash]
	if !exists {
		return
	}

	if removeRedeemers {
		for descendant := range mp.calculateDescendants(entry) {
			descHash := descendant.desc.TxHash
			mp.removeTransaction(&descHash, false)
		}
	}

	// Restate the ancestor aggregates of the surviving descendants and
	// reindex them so the mining order stays truthful.
	for descendant := range mp.calculateDescendants(entry) {
		mp.index.Delete(scoreItem{entry: descendant})
		descendant.desc.AncestorFee -= entry.desc.Fee
		descendant.desc.AncestorSize -= entry.desc.Size
		descendant.desc.AncestorSigOps -= entry.desc.SigOpCost
		descendant.desc.AncestorCount--
		if _, direct := descendant.parents[entry]; direct {
			hashes := descendant.desc.ParentHashes[:0]
			for _, parentHash := range descendant.desc.ParentHashes {
				if parentHash != entry.desc.TxHash {
					hashes = append(hashes, parentHash)
				}
			}
			descendant.desc.ParentHashes = hashes
		}
		mp.index.ReplaceOrInsert(scoreItem{entry: descendant})
	}

	for parent := range entry.parents {
		delete(parent.children, entry)
	}
	for child := range entry.children {
		delete(child.parents, entry)
	}
	mp.index.Delete(scoreItem{entry: entry})
	for _, txIn := range entry.desc.Tx.TxIn {
		delete(mp.outpoints, txIn.PreviousOutPoint)
	}
	delete(mp.pool, *hash)
	atomic.StoreInt64(&mp.lastUpdated, time.Now().Unix())
}

// RemoveTransaction removes the passed transaction from the mempool.  When
// the removeRedeemers flag is set, any transactions that redeem outputs of
// the removed transaction are also removed recursively.
//
// This function is safe for concurrent access.
func (mp *TxPool) RemoveTransaction(hash *chainhash.Hash, removeRedeemers bool) {
	mp.mtx.Lock()
	mp.removeTransaction(hash, removeRedeemers)
	mp.mtx.Unlock()
}

// RemoveConfirmedTransactions removes every transaction included in the
// passed block from the pool, along with any now double-spent entries.
//
// This function is safe for concurrent access.
func (mp *TxPool) RemoveConfirmedTransactions(block *wire.MsgBlock) {
	mp.mtx.Lock()
	defer mp.mtx.Unlock()

	for _, tx := range block.Transactions {
		txHash := tx.TxHash()
		mp.removeTransaction(&txHash, false)

		// Evict pool entries now conflicting with a confirmed spend.
		for _, txIn := range tx.TxIn {
			if conflict, exists := mp.outpoints[txIn.PreviousOutPoint]; exists {
				conflictHash := conflict.desc.TxHash
				mp.removeTransaction(&conflictHash, true)
			}
		}
	}
}

// Count returns the number of transactions in the main pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) Count() int {
	mp.mtx.RLock()
	count := len(mp.pool)
	mp.mtx.RUnlock()

	return count
}

// LastUpdated returns the last time a transaction was added to or removed
// from the main pool.
//
// This function is safe for concurrent access.
func (mp *TxPool) LastUpdated() time.Time {
	return time.Unix(atomic.LoadInt64(&mp.lastUpdated), 0)
}

// MiningDescs returns a slice of mining descriptors for all transactions in
// the pool, ordered by descending ancestor-package fee rate.  Each
// descriptor is a copy; the caller owns it.
//
// This function is safe for concurrent access.
func (mp *TxPool) MiningDescs() []*mining.TxDesc {
	mp.mtx.RLock()
	defer mp.mtx.RUnlock()

	descs := make([]*mining.TxDesc, 0, len(mp.pool))
	mp.index.Ascend(func(item btree.Item) bool {
		desc := item.(scoreItem).entry.desc
		desc.ParentHashes = append([]chainhash.Hash(nil),
			desc.ParentHashes...)
		descs = append(descs, &desc)
		return true
	})
	return descs
}
