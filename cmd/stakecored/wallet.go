// Copyright (c) 2021 The Hydranet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"gitlab.com/hydranet/core/stake.core/node/mining/staker"
	"gitlab.com/hydranet/core/stake.core/types"
	"gitlab.com/hydranet/core/stake.core/types/chainhash"
	"gitlab.com/hydranet/core/stake.core/types/wire"
)

// devWallet is the built-in development wallet: a deterministic premined
// coin set and placeholder block signatures.  It exists so the daemon can
// produce blocks without a key store; a real wallet plugs in through the
// staker.StakingWallet interface.
type devWallet struct {
	address types.Address
	coins   []*staker.StakeCoin
	reserve types.Amount
}

func newDevWallet(reserve types.Amount) *devWallet {
	seed := chainhash.HashH([]byte("stakecored-dev-wallet"))
	wallet := &devWallet{
		address: types.NewAddress(seed[:types.AddressSize]),
		reserve: reserve,
	}

	for i := 0; i < 8; i++ {
		hash := chainhash.HashH(append(seed[:], byte(i)))
		wallet.coins = append(wallet.coins, &staker.StakeCoin{
			OutPoint: wire.OutPoint{Hash: hash, Index: 0},
			Value:    types.Amount((i + 1) * 10 * 100000000),
		})
	}
	return wallet
}

func (w *devWallet) IsLocked() bool       { return false }
func (w *devWallet) StakingEnabled() bool { return true }

func (w *devWallet) Balance() types.Amount {
	var total types.Amount
	for _, coin := range w.coins {
		total += coin.Value
	}
	return total
}

func (w *devWallet) ReserveBalance() types.Amount { return w.reserve }

func (w *devWallet) SelectCoinsForStaking(target types.Amount) ([]*staker.StakeCoin, types.Amount, error) {
	var selected []*staker.StakeCoin
	var total types.Amount
	for _, coin := range w.coins {
		if total >= target {
			break
		}
		selected = append(selected, coin)
		total += coin.Value
	}
	return selected, total, nil
}

func (w *devWallet) RewardScript() []byte {
	return wire.PayToKeyHashScript(w.address)
}

func (w *devWallet) SignBlock(block *wire.MsgBlock, totalFees types.Amount,
	blockTime uint32, stake *staker.SolveItem) error {

	block.Header.PrevoutStake = stake.Coin.OutPoint
	block.Header.Timestamp = blockTime
	if len(block.Transactions) > 1 && len(block.Transactions[1].TxIn) == 0 {
		block.Transactions[1].AddTxIn(wire.NewTxIn(&stake.Coin.OutPoint, nil))
		block.Header.MerkleRoot = chainhash.CalcMerkleRoot(block.TxHashes())
	}

	// Roll the staked coin forward to the coinstake reward output so the
	// wallet keeps staking past its premine.  A signing attempt whose
	// block is later abandoned forfeits the coin; tolerable for a dev
	// wallet with no chain rescan.
	txHash := block.Transactions[1].TxHash()
	for i, coin := range w.coins {
		if coin.OutPoint != stake.Coin.OutPoint {
			continue
		}
		if value := block.Transactions[1].TxOut[1].Value; value > 0 {
			w.coins[i] = &staker.StakeCoin{
				OutPoint: wire.OutPoint{Hash: txHash, Index: 1},
				Value:    types.Amount(value),
			}
		}
		break
	}

	// Placeholder signature: the hash of the final block hash.  Consensus
	// signature checks are outside this daemon.
	hash := block.BlockHash()
	sig := chainhash.HashH(hash[:])
	block.Header.Signature = sig[:]
	return nil
}
