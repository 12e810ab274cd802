// Copyright (c) 2021 The Hydranet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"gitlab.com/hydranet/core/stake.core/chaincfg"
	"gitlab.com/hydranet/core/stake.core/config"
	"gitlab.com/hydranet/core/stake.core/node/chaindata"
	"gitlab.com/hydranet/core/stake.core/node/delegation"
	"gitlab.com/hydranet/core/stake.core/node/dgp"
	"gitlab.com/hydranet/core/stake.core/node/economy"
	"gitlab.com/hydranet/core/stake.core/node/mempool"
	"gitlab.com/hydranet/core/stake.core/node/mining"
	"gitlab.com/hydranet/core/stake.core/node/mining/cpuminer"
	"gitlab.com/hydranet/core/stake.core/node/mining/staker"
	"gitlab.com/hydranet/core/stake.core/node/vm"
	"gitlab.com/hydranet/core/stake.core/types"
	"gitlab.com/hydranet/core/stake.core/types/chainhash"
	"gitlab.com/hydranet/core/stake.core/types/wire"
)

// runNode assembles the block production pipeline over an in-memory chain
// and runs it until the context is cancelled.  Peer networking and a
// persistent block database are outside this daemon; it is the development
// harness for the staking and assembly core.
func runNode(ctx context.Context, cfg *config.Config) error {
	params, err := cfg.NetParams()
	if err != nil {
		return err
	}

	log := config.NodeLog
	chain := newMemoryChain(params)

	caller := vm.NewStaticCaller()
	governance := dgp.New(caller)
	owners := economy.New(caller, func() uint64 {
		return governance.MinGasPrice(chain.Height() + 1)
	})

	pool := mempool.New(&mempool.Config{
		ChainParams:   params,
		MinRelayTxFee: types.NewFeeRate(cfg.Staker.BlockMinTxFee),
		MinGasPrice: func() uint64 {
			return governance.MinGasPrice(chain.Height() + 1)
		},
		BestHeight: chain.Height,
		SigOpCost:  sigOpCost,
		Log:        config.PoolLog,
	})

	state := vm.NewNaiveState(
		chainhash.HashH([]byte("dev-state")),
		chainhash.HashH([]byte("dev-utxo")))
	generator := mining.NewBlkTmplGenerator(&mining.Config{
		ChainParams:  params,
		Policy:       cfg.Staker.Policy(),
		TxSource:     pool,
		BestTip:      chain.Tip,
		NextBits:     chain.NextBits,
		TimeSource:   time.Now,
		Executor:     &vm.NaiveExecutor{State: state},
		State:        state,
		Governance:   governance,
		Owners:       owners,
		ResolveInput: chain.ResolveInput,
		SigOpCost:    sigOpCost,
		Log:          config.MinrLog,
	})

	wallet := newDevWallet(types.Amount(cfg.Staker.ReserveBalance))
	for _, coin := range wallet.coins {
		chain.AddUTXO(coin.OutPoint, wallet.address, coin.Value)
	}

	delegations, err := delegation.OpenCache(&delegation.CacheConfig{
		Path:           filepath.Join(cfg.DataDir, "delegations"),
		Source:         emptyDelegationSource{},
		CheckpointSpan: cfg.Staker.CheckpointSpan,
		Log:            config.DelegLog,
	})
	if err != nil {
		return err
	}
	defer delegations.Close()

	processBlock := func(block *wire.MsgBlock) (bool, error) {
		accepted, err := chain.Connect(block)
		if accepted {
			pool.RemoveConfirmedTransactions(block)
			log.Info("block connected",
				zap.Int32("height", chain.Height()),
				zap.Stringer("hash", chain.Tip().Hash))
		}
		return accepted, err
	}

	isCurrent := func() bool {
		// Without peers the in-memory chain is as current as it gets;
		// emergency staking keeps the override explicit in the config.
		return true
	}

	if cfg.Staker.Enable {
		miner := staker.New(&staker.Config{
			ChainParams:            params,
			BlockTemplateGenerator: generator,
			Wallet:                 wallet,
			DelegatedCoins: func(height int32) ([]*staker.StakeCoin, error) {
				return delegatedCoins(delegations, wallet.address, height)
			},
			BestTip:           chain.Tip,
			NextBits:          chain.NextBits,
			TimeSource:        time.Now,
			ProcessBlock:      processBlock,
			ConnectedCount:    func() int32 { return 1 },
			IsCurrent:         isCurrent,
			IsStakeSpent:      chain.IsSpent,
			Workers:           cfg.Staker.Workers,
			AggressiveStaking: cfg.Staker.AggressiveStaking,
			Log:               config.StakeLog,
		})
		miner.Start()
		defer miner.Stop()
	} else if params.MineBlocksOnDemand {
		miner := cpuminer.New(&cpuminer.Config{
			ChainParams:            params,
			BlockTemplateGenerator: generator,
			RewardScript:           wallet.RewardScript(),
			BestTip:                chain.Tip,
			ProcessBlock:           processBlock,
			ConnectedCount:         func() int32 { return 1 },
			IsCurrent:              isCurrent,
		}, config.MinrLog)
		miner.Start()
		defer miner.Stop()
	} else {
		log.Info("staking disabled, running idle")
	}

	<-ctx.Done()
	return nil
}

// delegatedCoins maps the cached delegation assignments active at the given
// height onto stakeable coins.  Without delegator UTXO discovery the set is
// empty, but the cache round-trip keeps its checkpointing exercised.
func delegatedCoins(cache *delegation.Cache, stakerAddr types.Address,
	height int32) ([]*staker.StakeCoin, error) {

	if _, err := cache.Delegations(stakerAddr, height); err != nil {
		return nil, err
	}
	return nil, nil
}

// emptyDelegationSource is the delegation source of a node with no contract
// event access.
type emptyDelegationSource struct{}

func (emptyDelegationSource) DelegationsForStaker(types.Address) ([]delegation.Delegation, error) {
	return nil, nil
}

func sigOpCost(tx *wire.MsgTx) int64 {
	return int64(len(tx.TxIn)) * 4
}

// memoryChain is a minimal in-memory chain state: a tip, an output index
// for input resolution, and a spent set.
type memoryChain struct {
	mtx    sync.RWMutex
	params *chaincfg.Params
	tip    *chaindata.BlockNode
	utxos  map[wire.OutPoint]memoryUTXO
	spent  map[wire.OutPoint]struct{}
}

type memoryUTXO struct {
	addr  types.Address
	value types.Amount
}

func newMemoryChain(params *chaincfg.Params) *memoryChain {
	genesisHash := chainhash.HashH([]byte(params.Name + "-dev-genesis"))
	tip := chaindata.NewBlockNode(nil, genesisHash, 0, params.PowLimitBits,
		time.Now().Unix()-int64(params.StakeTimestampMask+1))
	tip.StakeModifier = chainhash.HashH(genesisHash[:])

	return &memoryChain{
		params: params,
		tip:    tip,
		utxos:  make(map[wire.OutPoint]memoryUTXO),
		spent:  make(map[wire.OutPoint]struct{}),
	}
}

func (c *memoryChain) Tip() *chaindata.BlockNode {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.tip
}

func (c *memoryChain) Height() int32 {
	return c.Tip().Height
}

func (c *memoryChain) NextBits(*chaindata.BlockNode, bool) uint32 {
	return c.params.PowLimitBits
}

func (c *memoryChain) AddUTXO(op wire.OutPoint, addr types.Address, value types.Amount) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.utxos[op] = memoryUTXO{addr: addr, value: value}
}

func (c *memoryChain) ResolveInput(op wire.OutPoint) (types.Address, types.Amount, bool) {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	utxo, ok := c.utxos[op]
	return utxo.addr, utxo.value, ok
}

func (c *memoryChain) IsSpent(op wire.OutPoint) bool {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	_, ok := c.spent[op]
	return ok
}

// Connect extends the chain with the block, marks its inputs spent, and
// indexes its key-hash outputs for later input resolution.
func (c *memoryChain) Connect(block *wire.MsgBlock) (bool, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if block.Header.PrevBlock != c.tip.Hash {
		return false, nil
	}

	hash := block.BlockHash()
	node := chaindata.NewBlockNode(c.tip, hash, c.tip.Height+1,
		block.Header.Bits, int64(block.Header.Timestamp))
	if block.IsProofOfStake() {
		node.ProofOfStake = true
		node.StakeModifier = chaindata.ComputeStakeModifier(
			c.tip.StakeModifier, block.Header.PrevoutStake.Hash)
	} else {
		node.StakeModifier = chaindata.ComputeStakeModifier(
			c.tip.StakeModifier, hash)
	}

	for _, tx := range block.Transactions {
		if !tx.IsCoinBase() {
			for _, in := range tx.TxIn {
				c.spent[in.PreviousOutPoint] = struct{}{}
			}
		}
		txHash := tx.TxHash()
		for i, out := range tx.TxOut {
			addr, ok := wire.ExtractKeyHash(out.PkScript)
			if !ok || out.Value <= 0 {
				continue
			}
			op := wire.OutPoint{Hash: txHash, Index: uint32(i)}
			c.utxos[op] = memoryUTXO{addr: addr, value: types.Amount(out.Value)}
		}
	}

	c.tip = node
	return true, nil
}
