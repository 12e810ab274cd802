// Copyright (c) 2014-2016 The btcsuite developers
// Copyright (c) 2021 The Hydranet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mining

import (
	"time"

	"go.uber.org/zap"

	"gitlab.com/hydranet/core/stake.core/chaincfg"
	"gitlab.com/hydranet/core/stake.core/node/chaindata"
	"gitlab.com/hydranet/core/stake.core/node/economy"
	"gitlab.com/hydranet/core/stake.core/node/solvency"
	"gitlab.com/hydranet/core/stake.core/node/vm"
	"gitlab.com/hydranet/core/stake.core/types"
	"gitlab.com/hydranet/core/stake.core/types/chainhash"
	"gitlab.com/hydranet/core/stake.core/types/wire"
)

const (
	// generatedBlockVersion is the version of the block being generated.
	generatedBlockVersion = 0x20000000

	// coinbaseReservedWeight and coinbaseReservedSigOps reserve template
	// budget for the reward transactions before selection starts.
	coinbaseReservedWeight = 4000
	coinbaseReservedSigOps = 400

	// maxPackagesPerBlock bounds the selection loop.
	maxPackagesPerBlock = 65000

	// maxConsecutiveFailures is the number of consecutive package
	// failures tolerated once the block is nearly full.
	maxConsecutiveFailures = 1000

	// nearlyFullWeightMargin is the remaining-weight threshold below
	// which the consecutive-failure bound applies.
	nearlyFullWeightMargin = 4000

	// bytecodeTimeBuffer is subtracted from the assembly deadline before
	// starting a contract execution, since executions cannot be
	// interrupted once started.
	bytecodeTimeBuffer = 6 * time.Second

	// sigOpCostPerWeightDivisor derives the sigop budget from the weight
	// budget.
	sigOpCostPerWeightDivisor = 50
)

// GovernanceState provides the governed assembly bounds.  Implementations
// clamp on-chain values before returning them.
type GovernanceState interface {
	BlockSize(height int32) uint64
	BlockGasLimit(height int32) uint64
	MinGasPrice(height int32) uint64
	BurnRate(height int32) uint64
	HasVoteInProgress() (bool, error)
	VoteBlockExpiration() (uint64, error)
	FinishVoteScript() []byte
}

// OwnerRegistry resolves contract ownership for dividend payout and builds
// the owner-registration script for contracts created in a block.
type OwnerRegistry interface {
	ResolveDividends(obligations map[types.Address]types.Amount) ([]economy.Dividend, error)
	AddOwnersScript(contracts, owners []types.Address) []byte
}

// CoinstakeSigner builds a signed coinstake transaction for a template.
// The staking loop owns the wallet; the assembler only sees this narrow
// capability.
type CoinstakeSigner interface {
	CreateCoinstake(bits uint32, totalFees types.Amount, blockTime uint32,
		template *wire.MsgTx) (*wire.MsgTx, error)
}

// Policy houses the operator-configurable policy knobs of block assembly.
type Policy struct {
	// BlockMaxWeight is the maximum block weight to generate.  The
	// governed block size may lower the effective cap, never raise it.
	BlockMaxWeight uint64

	// BlockMinFeeRate is the fee rate below which packages stop being
	// considered.
	BlockMinFeeRate types.FeeRate

	// TxGasLimit caps the gas a single transaction's calls may declare.
	// Zero falls back to the soft block gas limit.
	TxGasLimit uint64

	// SoftBlockGasLimit caps the gas the whole block may consume.  Zero
	// falls back to the governed hard limit; values above it are
	// lowered to it.
	SoftBlockGasLimit uint64

	// MinTxGasPrice raises the governed minimum gas price when higher.
	MinTxGasPrice uint64

	// DisableContractStaking excludes contract transactions entirely.
	DisableContractStaking bool
}

// Config is a descriptor containing the block template generator
// configuration.
type Config struct {
	// ChainParams identifies which chain parameters the generator is
	// associated with.
	ChainParams *chaincfg.Params

	// Policy houses the policy knobs.
	Policy Policy

	// TxSource defines the source of pending transactions.
	TxSource TxSource

	// BestTip returns the block node the template builds on.
	BestTip func() *chaindata.BlockNode

	// NextBits returns the difficulty target of the next block.
	NextBits func(prev *chaindata.BlockNode, proofOfStake bool) uint32

	// TimeSource returns the network-adjusted time.
	TimeSource func() time.Time

	// Executor runs contract calls against the global VM state.
	Executor vm.Executor

	// State is the global VM state-root handle.  Assembly saves the
	// roots on entry and restores them on every exit path.
	State vm.StateRoots

	// Governance provides governed assembly bounds.
	Governance GovernanceState

	// Owners resolves contract ownership.  Required for stake blocks.
	Owners OwnerRegistry

	// NewSolvencyTracker builds the per-pass solvency tracker.  Nil
	// disables the solvency rule.
	NewSolvencyTracker func() *solvency.Tracker

	// ResolveInput resolves confirmed outpoints for solvency and
	// sender attribution.
	ResolveInput func(op wire.OutPoint) (types.Address, types.Amount, bool)

	// SigOpCost returns the signature operation cost of a transaction.
	SigOpCost func(tx *wire.MsgTx) int64

	// ValidateBlock self-checks a generated proof-of-work block against
	// consensus rules.  A failure here is a bug in assembly.
	ValidateBlock func(block *wire.MsgBlock, prev *chaindata.BlockNode) error

	// Signer builds signed coinstakes for post-assembly contract
	// execution.  Only needed when stake blocks may carry
	// administrative calls.
	Signer CoinstakeSigner

	// Log is the generator logger.
	Log *zap.Logger
}

// BlkTmplGenerator provides a type that can be used to generate block
// templates based on a given mining policy and source of transactions to
// choose from.  It is safe for a single concurrent invocation at a time;
// template generation mutates the shared VM state and must be serialized
// with block validation by the caller.
type BlkTmplGenerator struct {
	cfg *Config
	log *zap.Logger
}

// NewBlkTmplGenerator returns a new block template generator for the given
// configuration.
func NewBlkTmplGenerator(cfg *Config) *BlkTmplGenerator {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &BlkTmplGenerator{cfg: cfg, log: log}
}

// TxSource returns the associated transaction source.
func (g *BlkTmplGenerator) TxSource() TxSource {
	return g.cfg.TxSource
}

// blockAssembler carries the working state of one template generation.  A
// fresh assembler is created per invocation and discarded with it.
type blockAssembler struct {
	gen *BlkTmplGenerator
	cfg *Config

	proofOfStake bool
	prev         *chaindata.BlockNode
	height       int32

	block    *wire.MsgBlock
	template *BlockTemplate
	rewardTx *wire.MsgTx

	blockWeight    uint64
	blockSigOps    int64
	blockTxCount   int
	fees           types.Amount
	lockTimeCutoff int64
	deadline       time.Time

	maxBlockWeight uint64
	maxSigOpCost   int64
	minFeeRate     types.FeeRate

	minGasPrice       uint64
	txGasLimit        uint64
	softBlockGasLimit uint64
	hardBlockGasLimit uint64

	inBlock      map[chainhash.Hash]struct{}
	blockOutputs map[wire.OutPoint]*wire.TxOut

	execResult *vm.ExecResult
	tracker    *solvency.Tracker
}

// newAssembler seeds the per-invocation state: reward placeholders, budget
// reservations, and the governed bounds for the next height.
func (g *BlkTmplGenerator) newAssembler(proofOfStake bool, proofTime uint32, deadline time.Time) (*blockAssembler, error) {
	prev := g.cfg.BestTip()
	if prev == nil {
		return nil, chaindata.NewRuleError(chaindata.ErrNoChainTip,
			"no chain tip to build on")
	}
	height := prev.Height + 1

	ba := &blockAssembler{
		gen:          g,
		cfg:          g.cfg,
		proofOfStake: proofOfStake,
		prev:         prev,
		height:       height,
		blockWeight:  coinbaseReservedWeight,
		blockSigOps:  coinbaseReservedSigOps,
		deadline:     deadline,
		inBlock:      make(map[chainhash.Hash]struct{}),
		blockOutputs: make(map[wire.OutPoint]*wire.TxOut),
		execResult:   vm.NewExecResult(),
	}
	if g.cfg.NewSolvencyTracker != nil {
		ba.tracker = g.cfg.NewSolvencyTracker()
	}

	// Governed bounds, already clamped by the registry proxy, further
	// bounded by local policy.
	governedWeight := g.cfg.Governance.BlockSize(height) * wire.WitnessScaleFactor
	ba.maxBlockWeight = g.cfg.Policy.BlockMaxWeight
	if ba.maxBlockWeight == 0 || governedWeight < ba.maxBlockWeight {
		ba.maxBlockWeight = governedWeight
	}
	ba.maxSigOpCost = int64(ba.maxBlockWeight / sigOpCostPerWeightDivisor)
	ba.minFeeRate = g.cfg.Policy.BlockMinFeeRate

	ba.minGasPrice = g.cfg.Governance.MinGasPrice(height)
	if g.cfg.Policy.MinTxGasPrice > ba.minGasPrice {
		ba.minGasPrice = g.cfg.Policy.MinTxGasPrice
	}
	ba.hardBlockGasLimit = g.cfg.Governance.BlockGasLimit(height)
	ba.softBlockGasLimit = g.cfg.Policy.SoftBlockGasLimit
	if ba.softBlockGasLimit == 0 || ba.softBlockGasLimit > ba.hardBlockGasLimit {
		ba.softBlockGasLimit = ba.hardBlockGasLimit
	}
	ba.txGasLimit = g.cfg.Policy.TxGasLimit
	if ba.txGasLimit == 0 || ba.txGasLimit > ba.softBlockGasLimit {
		ba.txGasLimit = ba.softBlockGasLimit
	}

	ba.block = &wire.MsgBlock{
		Header: wire.BlockHeader{
			Version:   generatedBlockVersion,
			PrevBlock: prev.Hash,
			Timestamp: proofTime,
		},
	}
	ba.block.Header.Bits = g.cfg.NextBits(prev, proofOfStake)
	if proofOfStake {
		// Non-null stake prevout marks the header as proof of stake;
		// the real outpoint is filled in during signing.
		ba.block.Header.PrevoutStake = wire.OutPoint{}
	} else {
		ba.block.Header.PrevoutStake = wire.NullOutPoint()
	}

	ba.lockTimeCutoff = prev.CalcPastMedianTime()

	ba.template = &BlockTemplate{
		Block:  ba.block,
		Height: height,
	}
	return ba, nil
}

// addRewardPlaceholders installs the dummy coinbase (and, for stake blocks,
// the dummy coinstake) carrying the reward script.  The reward value is
// computed after selection.
func (ba *blockAssembler) addRewardPlaceholders(rewardScript []byte) {
	coinbaseTx := wire.NewMsgTx(wire.TxVersion)
	coinbaseTx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.NullOutPoint(),
		SignatureScript:  StandardCoinbaseScript(ba.height, 0),
		Sequence:         wire.MaxTxInSequenceNum,
	})
	coinbaseOut := wire.NewTxOut(0, rewardScript)
	if ba.proofOfStake {
		coinbaseOut.SetEmpty()
	}
	coinbaseTx.AddTxOut(coinbaseOut)

	ba.block.Transactions = append(ba.block.Transactions, coinbaseTx)
	// Both are updated once selection finishes.
	ba.template.Fees = append(ba.template.Fees, -1)
	ba.template.SigOpCosts = append(ba.template.SigOpCosts, -1)
	ba.rewardTx = coinbaseTx

	if ba.proofOfStake {
		coinstakeTx := wire.NewMsgTx(wire.TxVersion)
		empty := &wire.TxOut{}
		empty.SetEmpty()
		coinstakeTx.AddTxOut(empty)
		coinstakeTx.AddTxOut(wire.NewTxOut(0, rewardScript))

		ba.block.Transactions = append(ba.block.Transactions, coinstakeTx)
		ba.template.Fees = append(ba.template.Fees, 0)
		ba.template.SigOpCosts = append(ba.template.SigOpCosts, 0)
		ba.rewardTx = coinstakeTx
	}
}

// rewardIndex returns the index of the reward-bearing transaction: the
// coinbase for work blocks, the coinstake for stake blocks.
func (ba *blockAssembler) rewardIndex() int {
	if ba.proofOfStake {
		return 1
	}
	return 0
}

// NewBlockTemplate returns a new block template that is ready to be solved
// using the transactions from the configured source and a coinbase (plus,
// for proof of stake, a placeholder coinstake) paying to the passed script.
//
// The global VM state roots are saved on entry and restored on every exit
// path: a returned template never leaves residue in the VM state.  The
// returned amount is the spendable fee total (collected fees minus sender
// refunds) the reward transaction may claim on top of the subsidy.
func (g *BlkTmplGenerator) NewBlockTemplate(rewardScript []byte, proofOfStake bool,
	proofTime uint32, deadline time.Time) (*BlockTemplate, types.Amount, error) {

	start := time.Now()

	if proofTime == 0 {
		proofTime = uint32(g.cfg.TimeSource().Unix())
	}
	if proofOfStake {
		proofTime &^= g.cfg.ChainParams.StakeTimestampMask
	}

	ba, err := g.newAssembler(proofOfStake, proofTime, deadline)
	if err != nil {
		return nil, 0, err
	}
	ba.addRewardPlaceholders(rewardScript)

	oldRoot := g.cfg.State.Root()
	oldUTXORoot := g.cfg.State.UTXORoot()
	restoreRoots := func() {
		g.cfg.State.SetRoot(oldRoot)
		g.cfg.State.SetUTXORoot(oldUTXORoot)
	}

	// A concluding governance vote freezes selection: the block carries
	// only the vote finalization so the outcome cannot be front-run.
	voteInProgress, err := g.cfg.Governance.HasVoteInProgress()
	if err != nil {
		voteInProgress = false
	}
	var voteExpiration uint64
	if voteInProgress {
		voteExpiration, err = g.cfg.Governance.VoteBlockExpiration()
		if err != nil {
			voteInProgress = false
		}
	}

	packagesSelected, descendantsUpdated := 0, 0
	if !voteInProgress || uint64(ba.height) < voteExpiration {
		packagesSelected, descendantsUpdated = ba.addPackageTxs()
	}

	// Reward value and protocol deductions, in fixed order: refunds,
	// dividends, burn.  The burn acts on the residual after the first
	// two.
	ba.calcRewardWithoutDividends()
	ba.addRefundOutputs()

	hasCoinstakeCall := false
	if proofOfStake {
		if len(ba.execResult.ContractAddresses) != len(ba.execResult.ContractOwners) {
			restoreRoots()
			g.log.Error("contract address and owner bookkeeping diverged",
				zap.Int("addresses", len(ba.execResult.ContractAddresses)),
				zap.Int("owners", len(ba.execResult.ContractOwners)))
			return nil, 0, chaindata.NewRuleError(chaindata.ErrOwnerMismatch,
				"contract addresses and owners differ in count")
		}

		if err := ba.addDividends(); err != nil {
			restoreRoots()
			return nil, 0, err
		}
		if len(ba.execResult.ContractAddresses) != 0 {
			ba.addOwnerRegistrationOutput()
			hasCoinstakeCall = true
		}
		if voteInProgress && uint64(ba.height) >= voteExpiration {
			ba.addVoteFinalizationOutput()
			hasCoinstakeCall = true
		}
		ba.burnFees()
	}

	ba.template.Fees[0] = -int64(ba.fees)
	totalFees := ba.fees - ba.execResult.RefundSender

	if proofOfStake && hasCoinstakeCall {
		if err := ba.executeCoinstakeCalls(totalFees, proofTime); err != nil {
			restoreRoots()
			g.log.Error("coinstake contract execution failed", zap.Error(err))
			return nil, 0, err
		}
	}

	// Commit the executed state roots to the header, then restore the
	// global state: the roots become real only if the block connects.
	ba.block.Header.StateRoot = g.cfg.State.Root()
	ba.block.Header.UTXORoot = g.cfg.State.UTXORoot()
	restoreRoots()

	ba.block.Header.MerkleRoot = chainhash.CalcMerkleRoot(ba.block.TxHashes())
	ba.template.TotalGasUsed = ba.execResult.UsedGas
	ba.template.ValidPayAddress = len(rewardScript) > 0

	if !proofOfStake && g.cfg.ValidateBlock != nil {
		if err := g.cfg.ValidateBlock(ba.block, ba.prev); err != nil {
			g.log.Error("generated block failed self validation", zap.Error(err))
			return nil, 0, chaindata.NewRuleError(chaindata.ErrBlockValidity,
				"generated block failed validation: "+err.Error())
		}
	}

	g.log.Info("assembled block template",
		zap.Int32("height", ba.height),
		zap.Bool("proofOfStake", proofOfStake),
		zap.Int("txs", ba.blockTxCount),
		zap.Uint64("weight", ba.blockWeight),
		zap.Int64("sigOps", ba.blockSigOps),
		zap.Int64("fees", int64(ba.fees)),
		zap.Uint64("gasUsed", ba.execResult.UsedGas),
		zap.Int("packages", packagesSelected),
		zap.Int("updatedDescendants", descendantsUpdated),
		zap.Duration("elapsed", time.Since(start)))

	return ba.template, totalFees, nil
}

// NewEmptyBlockTemplate returns a template containing only the reward
// placeholder transaction(s).  The staking loop uses it to seed reward
// computation before a kernel solution exists.
func (g *BlkTmplGenerator) NewEmptyBlockTemplate(rewardScript []byte, proofOfStake bool,
	proofTime uint32) (*BlockTemplate, error) {

	if proofTime == 0 {
		proofTime = uint32(g.cfg.TimeSource().Unix())
	}
	if proofOfStake {
		proofTime &^= g.cfg.ChainParams.StakeTimestampMask
	}

	ba, err := g.newAssembler(proofOfStake, proofTime, time.Time{})
	if err != nil {
		return nil, err
	}
	ba.addRewardPlaceholders(rewardScript)
	ba.calcRewardWithoutDividends()
	ba.template.Fees[0] = 0
	ba.block.Header.MerkleRoot = chainhash.CalcMerkleRoot(ba.block.TxHashes())
	return ba.template, nil
}
