// Copyright (c) 2021 The Hydranet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package staker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/hydranet/core/stake.core/chaincfg"
	"gitlab.com/hydranet/core/stake.core/node/chaindata"
	"gitlab.com/hydranet/core/stake.core/node/mining"
	"gitlab.com/hydranet/core/stake.core/node/vm"
	"gitlab.com/hydranet/core/stake.core/types"
	"gitlab.com/hydranet/core/stake.core/types/chainhash"
	"gitlab.com/hydranet/core/stake.core/types/wire"
)

// fakeWallet satisfies StakingWallet with a fixed coin set and records the
// blocks it was asked to sign.
type fakeWallet struct {
	locked   bool
	enabled  bool
	balance  types.Amount
	reserve  types.Amount
	coins    []*StakeCoin
	signErr  error
	signedAt uint32
	signed   *SolveItem
}

func (w *fakeWallet) IsLocked() bool               { return w.locked }
func (w *fakeWallet) StakingEnabled() bool         { return w.enabled }
func (w *fakeWallet) Balance() types.Amount        { return w.balance }
func (w *fakeWallet) ReserveBalance() types.Amount { return w.reserve }

func (w *fakeWallet) SelectCoinsForStaking(target types.Amount) ([]*StakeCoin, types.Amount, error) {
	var total types.Amount
	for _, coin := range w.coins {
		total += coin.Value
	}
	return w.coins, total, nil
}

func (w *fakeWallet) RewardScript() []byte {
	var raw [types.AddressSize]byte
	raw[0] = 0x77
	return wire.PayToKeyHashScript(types.NewAddress(raw[:]))
}

func (w *fakeWallet) SignBlock(block *wire.MsgBlock, totalFees types.Amount,
	blockTime uint32, stake *SolveItem) error {

	if w.signErr != nil {
		return w.signErr
	}
	block.Header.PrevoutStake = stake.Coin.OutPoint
	block.Header.Timestamp = blockTime
	w.signedAt = blockTime
	w.signed = stake
	return nil
}

// minerGovernance mirrors the governed assembly bounds with fixed values.
type minerGovernance struct{}

func (minerGovernance) BlockSize(int32) uint64               { return 2000000 }
func (minerGovernance) BlockGasLimit(int32) uint64           { return 40000000 }
func (minerGovernance) MinGasPrice(int32) uint64             { return 1 }
func (minerGovernance) BurnRate(int32) uint64                { return 0 }
func (minerGovernance) HasVoteInProgress() (bool, error)     { return false, nil }
func (minerGovernance) VoteBlockExpiration() (uint64, error) { return 0, nil }
func (minerGovernance) FinishVoteScript() []byte             { return nil }

// emptySource serves no pending transactions.
type emptySource struct{}

func (emptySource) LastUpdated() time.Time                   { return time.Time{} }
func (emptySource) MiningDescs() []*mining.TxDesc            { return nil }
func (emptySource) HaveTransaction(*chainhash.Hash) bool     { return false }

// minerHarness assembles a stake miner over an in-memory chain and VM.
type minerHarness struct {
	wallet    *fakeWallet
	tip       *chaindata.BlockNode
	now       time.Time
	processed []*wire.MsgBlock
	miner     *StakeMiner
}

func newMinerHarness(t *testing.T) *minerHarness {
	t.Helper()

	now := time.Unix(1700000000, 0)
	h := &minerHarness{
		now: now,
		tip: testTip(9, 120, now.Unix()-600),
		wallet: &fakeWallet{
			enabled: true,
			balance: 10 * 100000000,
			coins:   testCoins(3),
		},
	}

	state := vm.NewNaiveState(
		chainhash.HashH([]byte("root")), chainhash.HashH([]byte("utxo")))
	generator := mining.NewBlkTmplGenerator(&mining.Config{
		ChainParams: &chaincfg.RegressionNetParams,
		TxSource:    emptySource{},
		BestTip:     func() *chaindata.BlockNode { return h.tip },
		NextBits: func(*chaindata.BlockNode, bool) uint32 {
			return easyBits
		},
		TimeSource: func() time.Time { return h.now },
		Executor:   &vm.NaiveExecutor{State: state},
		State:      state,
		Governance: minerGovernance{},
	})

	h.miner = New(&Config{
		ChainParams:            &chaincfg.RegressionNetParams,
		BlockTemplateGenerator: generator,
		Wallet:                 h.wallet,
		BestTip:                func() *chaindata.BlockNode { return h.tip },
		NextBits: func(*chaindata.BlockNode, bool) uint32 {
			return easyBits
		},
		TimeSource: func() time.Time { return h.now },
		ProcessBlock: func(block *wire.MsgBlock) (bool, error) {
			h.processed = append(h.processed, block)
			return true, nil
		},
		Workers: 2,
	})
	h.miner.quit = make(chan struct{})
	return h
}

func TestStakeRoundProducesBlock(t *testing.T) {
	h := newMinerHarness(t)
	require.NoError(t, h.miner.stakeRound())
	require.Len(t, h.processed, 1)

	block := h.processed[0]
	assert.True(t, block.Header.IsProofOfStake())
	assert.Equal(t, h.tip.Hash, block.Header.PrevBlock)
	assert.Zero(t, block.Header.Timestamp&chaincfg.RegressionNetParams.StakeTimestampMask)

	// The wallet signed the very solution the block embeds.
	require.NotNil(t, h.wallet.signed)
	assert.Equal(t, h.wallet.signed.Coin.OutPoint, block.Header.PrevoutStake)
	assert.Equal(t, h.wallet.signedAt, block.Header.Timestamp)
}

func TestStakeRoundSkipsWithoutBalance(t *testing.T) {
	h := newMinerHarness(t)
	h.wallet.reserve = h.wallet.balance

	require.NoError(t, h.miner.stakeRound())
	assert.Empty(t, h.processed)
}

func TestStakeRoundSurvivesSigningFailure(t *testing.T) {
	h := newMinerHarness(t)
	h.wallet.signErr = assert.AnError

	require.NoError(t, h.miner.stakeRound())
	assert.Empty(t, h.processed)
}

func TestReadyGates(t *testing.T) {
	h := newMinerHarness(t)
	assert.True(t, h.miner.readyToStake())

	h.wallet.locked = true
	assert.False(t, h.miner.readyToStake())
	h.wallet.locked = false

	h.wallet.enabled = false
	assert.False(t, h.miner.readyToStake())
	h.wallet.enabled = true

	// Outside regtest, staking needs peers and a current chain.
	h.miner.cfg.ChainParams = &chaincfg.MainNetParams
	h.miner.cfg.ConnectedCount = func() int32 { return 0 }
	assert.False(t, h.miner.readyToStake())

	h.miner.cfg.ConnectedCount = func() int32 { return 3 }
	h.miner.cfg.IsCurrent = func() bool { return false }
	assert.False(t, h.miner.readyToStake())

	h.miner.cfg.IsCurrent = func() bool { return true }
	assert.True(t, h.miner.readyToStake())
}

func TestDelegatedCoinsJoinTheSearch(t *testing.T) {
	h := newMinerHarness(t)
	delegated := &StakeCoin{
		OutPoint: wire.OutPoint{Hash: chainhash.HashH([]byte("pod")), Index: 7},
		Value:    5 * 100000000,
		Delegate: true,
		PoD:      []byte{1, 2, 3},
	}
	h.miner.cfg.DelegatedCoins = func(height int32) ([]*StakeCoin, error) {
		return []*StakeCoin{delegated}, nil
	}

	// Offline staking activates at height 1 on regtest.
	coins, err := h.miner.stakeableCoins(h.tip.Height + 1)
	require.NoError(t, err)
	require.Len(t, coins, len(h.wallet.coins)+1)
	assert.True(t, coins[len(coins)-1].Delegate)
}

func TestWaitForBlockTimeStaleTip(t *testing.T) {
	h := newMinerHarness(t)
	oldTip := h.tip
	h.tip = testTip(10, 121, h.now.Unix()-60)

	err := h.miner.waitForBlockTime(oldTip, uint32(h.now.Unix()))
	assert.True(t, chaindata.IsRuleErrorCode(err, chaindata.ErrStaleTip))
}

func TestWaitForBlockTimeExpired(t *testing.T) {
	h := newMinerHarness(t)

	// A block time at or before the tip's can no longer be submitted.
	err := h.miner.waitForBlockTime(h.tip, uint32(h.tip.Timestamp))
	assert.True(t, chaindata.IsRuleErrorCode(err, chaindata.ErrTimestampExpired))
}

func TestSubmitBlockRejectsSpentStake(t *testing.T) {
	h := newMinerHarness(t)
	h.miner.cfg.IsStakeSpent = func(wire.OutPoint) bool { return true }

	require.NoError(t, h.miner.stakeRound())
	assert.Empty(t, h.processed)
}

func TestStartStop(t *testing.T) {
	h := newMinerHarness(t)
	h.wallet.enabled = false // idle loop only

	m := h.miner
	m.Start()
	assert.True(t, m.IsRunning())
	m.Start() // no-op
	m.Stop()
	assert.False(t, m.IsRunning())
	m.Stop() // no-op
}
