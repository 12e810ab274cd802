// Copyright (c) 2021 The Hydranet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package staker

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"gitlab.com/hydranet/core/stake.core/node/chaindata"
	"gitlab.com/hydranet/core/stake.core/node/mining"
	"gitlab.com/hydranet/core/stake.core/types"
	"gitlab.com/hydranet/core/stake.core/chaincfg"
	"gitlab.com/hydranet/core/stake.core/types/wire"
)

const (
	// defaultMinerSleep is the pause between staking rounds.
	defaultMinerSleep = 500 * time.Millisecond

	// idleSleep is the pause while staking preconditions are not met
	// (locked wallet, no peers, chain not current).
	idleSleep = 10 * time.Second

	// blockTimeWaitSleep is the pause while a solved block waits for its
	// timestamp to enter the acceptance window.
	blockTimeWaitSleep = 3 * time.Second

	// aggressiveWaitSleep replaces blockTimeWaitSleep when aggressive
	// staking is enabled, trading CPU for submission latency.
	aggressiveWaitSleep = 100 * time.Millisecond
)

// StakingWallet is the narrow wallet capability the staking loop needs.
// The wallet owns key material; the miner only selects coins and asks for
// signatures.
type StakingWallet interface {
	// IsLocked reports whether the wallet's keys are unavailable.
	IsLocked() bool

	// StakingEnabled reports the operator's staking switch.
	StakingEnabled() bool

	// Balance returns the wallet's mature spendable balance.
	Balance() types.Amount

	// ReserveBalance returns the amount the operator keeps out of
	// staking.
	ReserveBalance() types.Amount

	// SelectCoinsForStaking returns mature coins, up to the target
	// amount, eligible to enter the kernel search.
	SelectCoinsForStaking(target types.Amount) ([]*StakeCoin, types.Amount, error)

	// RewardScript returns the script the block reward pays to.
	RewardScript() []byte

	// SignBlock replaces the template's coinstake placeholder with a
	// signed coinstake spending the solved stake and signs the block
	// header.
	SignBlock(block *wire.MsgBlock, totalFees types.Amount, blockTime uint32,
		stake *SolveItem) error
}

// Config is a descriptor containing the stake miner configuration.
type Config struct {
	// ChainParams identifies which chain parameters the miner is
	// associated with.
	ChainParams *chaincfg.Params

	// BlockTemplateGenerator identifies the instance to use in order to
	// generate block templates that the miner will attempt to solve.
	BlockTemplateGenerator *mining.BlkTmplGenerator

	// Wallet provides coins and signatures.
	Wallet StakingWallet

	// DelegatedCoins returns coins staked with this node by delegators,
	// consulted once offline staking activates.  Nil disables delegated
	// staking.
	DelegatedCoins func(height int32) ([]*StakeCoin, error)

	// BestTip returns the block node new blocks build on.
	BestTip func() *chaindata.BlockNode

	// NextBits returns the stake difficulty target of the next block.
	NextBits func(prev *chaindata.BlockNode, proofOfStake bool) uint32

	// TimeSource returns the network-adjusted time.
	TimeSource func() time.Time

	// ProcessBlock defines the function to call with solved blocks.  It
	// typically must run the provided block through the same set of
	// rules and handling as any other block coming from the network.
	ProcessBlock func(*wire.MsgBlock) (bool, error)

	// ConnectedCount defines the function to use to obtain how many
	// other peers the server is connected to.  There is no point in
	// staking with no one to send found blocks to.
	ConnectedCount func() int32

	// IsCurrent defines the function to use to obtain whether or not
	// the block chain is current.
	IsCurrent func() bool

	// IsStakeSpent reports whether the staked outpoint was spent while
	// the block waited for its timestamp, which would orphan it.
	IsStakeSpent func(op wire.OutPoint) bool

	// Workers is the number of kernel search workers.  Zero or negative
	// uses one per CPU.
	Workers int

	// AggressiveStaking shortens the waits between submission attempts.
	AggressiveStaking bool

	// MinerSleep overrides the pause between staking rounds.
	MinerSleep time.Duration

	// Log is the miner logger.
	Log *zap.Logger
}

// StakeMiner drives proof-of-stake block production: it sweeps the kernel
// search over the wallet's coins and a window of future timestamps, builds
// a full template for each solution, has the wallet sign it, and submits
// the block once its timestamp becomes acceptable.
type StakeMiner struct {
	sync.Mutex
	cfg     Config
	solver  *Solver
	started bool
	wg      sync.WaitGroup
	quit    chan struct{}
	log     *zap.Logger
}

// New returns a new stake miner for the provided configuration.  The miner
// is stopped until Start is called.
func New(cfg *Config) *StakeMiner {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &StakeMiner{
		cfg:    *cfg,
		solver: NewSolver(cfg.Workers, log),
		log:    log,
	}
}

// Start begins the staking loop.  Calling Start on an already started
// miner is a no-op.
func (m *StakeMiner) Start() {
	m.Lock()
	defer m.Unlock()
	if m.started {
		return
	}
	m.quit = make(chan struct{})
	m.wg.Add(1)
	go m.stakingLoop()
	m.started = true
	m.log.Info("stake miner started")
}

// Stop terminates the staking loop and waits for it to finish.  Calling
// Stop on a stopped miner is a no-op.
func (m *StakeMiner) Stop() {
	m.Lock()
	defer m.Unlock()
	if !m.started {
		return
	}
	close(m.quit)
	m.wg.Wait()
	m.started = false
	m.log.Info("stake miner stopped")
}

// IsRunning reports whether the staking loop is active.
func (m *StakeMiner) IsRunning() bool {
	m.Lock()
	defer m.Unlock()
	return m.started
}

// stakingLoop is the main staking goroutine.  It must be run as a
// goroutine.
func (m *StakeMiner) stakingLoop() {
	defer m.wg.Done()

	sleep := m.cfg.MinerSleep
	if sleep <= 0 {
		sleep = defaultMinerSleep
	}

	for {
		select {
		case <-m.quit:
			return
		default:
		}

		if !m.readyToStake() {
			if !m.sleepOrQuit(idleSleep) {
				return
			}
			continue
		}

		if err := m.stakeRound(); err != nil {
			if chaindata.IsRuleErrorCode(err, chaindata.ErrStaleTip) ||
				chaindata.IsRuleErrorCode(err, chaindata.ErrStakeSpent) ||
				chaindata.IsRuleErrorCode(err, chaindata.ErrTimestampExpired) {
				// Lost the race for this tip or stake, keep going.
				m.log.Debug("stake attempt abandoned", zap.Error(err))
			} else {
				m.log.Error("staking round failed", zap.Error(err))
			}
		}

		if !m.sleepOrQuit(sleep) {
			return
		}
	}
}

// readyToStake checks the gates that must hold before any staking work is
// worth doing.
func (m *StakeMiner) readyToStake() bool {
	if !m.cfg.Wallet.StakingEnabled() || m.cfg.Wallet.IsLocked() {
		return false
	}
	if !m.cfg.ChainParams.MineBlocksOnDemand {
		if m.cfg.ConnectedCount != nil && m.cfg.ConnectedCount() == 0 {
			return false
		}
		if m.cfg.IsCurrent != nil && !m.cfg.IsCurrent() {
			return false
		}
	}
	return m.cfg.BestTip() != nil
}

// stakeableCoins gathers the wallet's own coins, minus the reserve, plus
// delegated coins once offline staking is active at the next height.
func (m *StakeMiner) stakeableCoins(height int32) ([]*StakeCoin, error) {
	target := m.cfg.Wallet.Balance() - m.cfg.Wallet.ReserveBalance()
	if target <= 0 {
		return nil, nil
	}
	coins, _, err := m.cfg.Wallet.SelectCoinsForStaking(target)
	if err != nil {
		return nil, errors.Wrap(err, "selecting coins for staking")
	}
	if m.cfg.DelegatedCoins != nil && m.cfg.ChainParams.IsOfflineStakingActive(height) {
		delegated, err := m.cfg.DelegatedCoins(height)
		if err != nil {
			m.log.Warn("delegated coin lookup failed", zap.Error(err))
		} else {
			coins = append(coins, delegated...)
		}
	}
	return coins, nil
}

// searchWindow lists the candidate stake timestamps for the current sweep:
// masked timestamps from now through the lookahead horizon, all strictly
// after the previous block.
func (m *StakeMiner) searchWindow(prev *chaindata.BlockNode) []uint32 {
	params := m.cfg.ChainParams
	now := uint32(m.cfg.TimeSource().Unix())
	base := now &^ params.StakeTimestampMask
	step := params.StakeTimestampMask + 1

	var window []uint32
	for ts := base; ts < base+params.MaxStakeLookahead; ts += step {
		if int64(ts) <= prev.Timestamp {
			continue
		}
		window = append(window, ts)
	}
	return window
}

// stakeRound runs one sweep: search the timestamp window for kernels and
// try to turn the best solution of the earliest usable timestamp into a
// block.
func (m *StakeMiner) stakeRound() error {
	prev := m.cfg.BestTip()
	if prev == nil {
		return chaindata.NewRuleError(chaindata.ErrNoChainTip, "no chain tip to stake on")
	}
	height := prev.Height + 1

	coins, err := m.stakeableCoins(height)
	if err != nil {
		return err
	}
	if len(coins) == 0 {
		return nil
	}

	bits := m.cfg.NextBits(prev, true)
	window := m.searchWindow(prev)
	m.solver.Search(prev, bits, coins, window)

	// Timestamps ascend, so the first usable solution is also the
	// earliest block this node can produce.
	for _, ts := range window {
		for _, item := range m.solver.Solutions(ts) {
			err := m.tryStake(prev, item)
			if err == nil {
				return nil
			}
			if chaindata.IsRuleErrorCode(err, chaindata.ErrStaleTip) {
				return err
			}
			// This solution is bad, the next one may not be.
			m.log.Debug("stake solution rejected",
				zap.Uint32("timestamp", item.Timestamp),
				zap.Error(err))
		}
	}
	return nil
}

// tryStake builds, signs, and submits a block for one kernel solution.
func (m *StakeMiner) tryStake(prev *chaindata.BlockNode, item *SolveItem) error {
	params := m.cfg.ChainParams

	// Assembly must finish early enough for the block to still be
	// signable and relayed inside the drift window.
	deadline := time.Unix(params.FutureDrift(m.cfg.TimeSource().Unix()), 0).
		Add(-time.Duration(params.StakeTimeBuffer) * time.Second)

	template, totalFees, err := m.cfg.BlockTemplateGenerator.NewBlockTemplate(
		m.cfg.Wallet.RewardScript(), true, item.Timestamp, deadline)
	if err != nil {
		return err
	}
	block := template.Block

	if err := m.cfg.Wallet.SignBlock(block, totalFees, item.Timestamp, item); err != nil {
		m.solver.Remove(item)
		return errors.Wrap(err, "signing stake block")
	}

	if err := m.waitForBlockTime(prev, item.Timestamp); err != nil {
		return err
	}
	return m.submitBlock(prev, block, item)
}

// waitForBlockTime blocks until the solved timestamp enters the acceptance
// window, or reports why the block can no longer be submitted.
func (m *StakeMiner) waitForBlockTime(prev *chaindata.BlockNode, blockTime uint32) error {
	params := m.cfg.ChainParams
	wait := blockTimeWaitSleep
	if m.cfg.AggressiveStaking {
		wait = aggressiveWaitSleep
	}

	for {
		tip := m.cfg.BestTip()
		if tip == nil || tip.Hash != prev.Hash {
			return chaindata.NewRuleError(chaindata.ErrStaleTip,
				"chain tip changed while waiting for block time")
		}
		if int64(blockTime) <= tip.Timestamp {
			return chaindata.NewRuleError(chaindata.ErrTimestampExpired,
				"stake timestamp no longer after the chain tip")
		}
		if int64(blockTime) <= params.FutureDrift(m.cfg.TimeSource().Unix()) {
			return nil
		}
		if !m.sleepOrQuit(wait) {
			return chaindata.NewRuleError(chaindata.ErrTimestampExpired,
				"miner stopped while waiting for block time")
		}
	}
}

// submitBlock re-checks staleness and stake spendability, then hands the
// signed block to consensus processing.
func (m *StakeMiner) submitBlock(prev *chaindata.BlockNode, block *wire.MsgBlock, item *SolveItem) error {
	if tip := m.cfg.BestTip(); tip == nil || tip.Hash != prev.Hash {
		return chaindata.NewRuleError(chaindata.ErrStaleTip,
			"chain tip changed before block submission")
	}
	if m.cfg.IsStakeSpent != nil && m.cfg.IsStakeSpent(item.Coin.OutPoint) {
		m.solver.Remove(item)
		return chaindata.NewRuleError(chaindata.ErrStakeSpent,
			"staked output was spent before block submission")
	}

	accepted, err := m.cfg.ProcessBlock(block)
	if err != nil {
		return errors.Wrap(err, "processing staked block")
	}
	if !accepted {
		return errors.New("staked block was not accepted to the main chain")
	}

	m.log.Info("staked block accepted",
		zap.Int32("height", prev.Height+1),
		zap.Uint32("blockTime", item.Timestamp),
		zap.String("proofHash", item.ProofHash.String()),
		zap.Bool("delegated", item.Coin.Delegate),
		zap.Int64("stakeValue", int64(item.Coin.Value)))
	return nil
}

// sleepOrQuit pauses for the given duration, returning false if the miner
// was stopped during the pause.
func (m *StakeMiner) sleepOrQuit(d time.Duration) bool {
	select {
	case <-m.quit:
		return false
	case <-time.After(d):
		return true
	}
}
