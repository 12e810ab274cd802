// Copyright (c) 2021 The Hydranet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mining

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

// fakeGovernance returns fixed assembly bounds without consulting any
// on-chain registry.
type fakeGovernance struct {
	blockSize      uint64
	blockGasLimit  uint64
	minGasPrice    uint64
	burnRate       uint64
	voteInProgress bool
	voteExpiration uint64
	voteContract   types.Address
}

func (g *fakeGovernance) BlockSize(int32) uint64     { return g.blockSize }
func (g *fakeGovernance) BlockGasLimit(int32) uint64 { return g.blockGasLimit }
func (g *fakeGovernance) MinGasPrice(int32) uint64   { return g.minGasPrice }
func (g *fakeGovernance) BurnRate(int32) uint64      { return g.burnRate }

func (g *fakeGovernance) HasVoteInProgress() (bool, error) {
	return g.voteInProgress, nil
}

func (g *fakeGovernance) VoteBlockExpiration() (uint64, error) {
	return g.voteExpiration, nil
}

func (g *fakeGovernance) FinishVoteScript() []byte {
	return wire.ContractCallScript(250000, 1, []byte{0xc2}, g.voteContract)
}

// fakeOwners maps contracts to owners from a fixed table.  Contracts
// missing from the table are treated as ownerless and dropped.
type fakeOwners struct {
	owners   map[types.Address]types.Address
	registry types.Address
}

func (o *fakeOwners) ResolveDividends(obligations map[types.Address]types.Amount) ([]economy.Dividend, error) {
	var dividends []economy.Dividend
	for contract, amount := range obligations {
		owner, ok := o.owners[contract]
		if !ok || amount <= 0 {
			continue
		}
		dividends = append(dividends, economy.Dividend{
			Contract: contract,
			Owner:    owner,
			Amount:   amount,
		})
	}
	return dividends, nil
}

func (o *fakeOwners) AddOwnersScript(contracts, owners []types.Address) []byte {
	data := []byte{byte(len(contracts))}
	for i := range contracts {
		data = append(data, contracts[i].Bytes()...)
		data = append(data, owners[i].Bytes()...)
	}
	return wire.ContractCallScript(250000, 1, data, o.registry)
}

// fakeTxSource serves a fixed snapshot of transaction descriptors.
type fakeTxSource struct {
	descs []*TxDesc
}

func (s *fakeTxSource) LastUpdated() time.Time { return time.Time{} }

func (s *fakeTxSource) MiningDescs() []*TxDesc {
	out := make([]*TxDesc, len(s.descs))
	copy(out, s.descs)
	return out
}

func (s *fakeTxSource) HaveTransaction(hash *chainhash.Hash) bool {
	for _, desc := range s.descs {
		if desc.TxHash == *hash {
			return true
		}
	}
	return false
}

type utxoEntry struct {
	addr  types.Address
	value types.Amount
}

// harness wires a template generator against in-memory fakes: a static
// governance registry, a naive VM, and a map-backed UTXO view.
type harness struct {
	t      *testing.T
	params *chaincfg.Params
	gov    *fakeGovernance
	owners *fakeOwners
	source *fakeTxSource
	state  *vm.NaiveState
	exec   *vm.NaiveExecutor
	utxos  map[wire.OutPoint]utxoEntry
	cfg    *Config
	gen    *BlkTmplGenerator
	tip    *chaindata.BlockNode

	now time.Time
	seq uint64
}

func testAddress(b byte) types.Address {
	var raw [types.AddressSize]byte
	for i := range raw {
		raw[i] = b
	}
	return types.NewAddress(raw[:])
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		t:      t,
		params: &chaincfg.RegressionNetParams,
		gov: &fakeGovernance{
			blockSize:     2000000,
			blockGasLimit: 40000000,
			minGasPrice:   1,
			voteContract:  testAddress(0xd0),
		},
		owners: &fakeOwners{
			owners:   make(map[types.Address]types.Address),
			registry: testAddress(0xd1),
		},
		source: &fakeTxSource{},
		state:  vm.NewNaiveState(chainhash.HashH([]byte("state")), chainhash.HashH([]byte("utxo"))),
		utxos:  make(map[wire.OutPoint]utxoEntry),
		now:    time.Unix(1700000000, 0),
	}
	h.exec = &vm.NaiveExecutor{State: h.state}

	// A short chain so the past-median-time cutoff is meaningful.
	var prev *chaindata.BlockNode
	for height := int32(0); height <= 12; height++ {
		hash := chainhash.HashH([]byte{byte(height), 0xab})
		node := chaindata.NewBlockNode(prev, hash, height, 0x207fffff,
			h.now.Unix()-int64(13-height)*60)
		prev = node
	}
	h.tip = prev

	h.cfg = &Config{
		ChainParams: h.params,
		TxSource:    h.source,
		BestTip:     func() *chaindata.BlockNode { return h.tip },
		NextBits: func(*chaindata.BlockNode, bool) uint32 {
			return 0x207fffff
		},
		TimeSource: func() time.Time { return h.now },
		Executor:   h.exec,
		State:      h.state,
		Governance: h.gov,
		Owners:     h.owners,
		ResolveInput: func(op wire.OutPoint) (types.Address, types.Amount, bool) {
			entry, ok := h.utxos[op]
			return entry.addr, entry.value, ok
		},
		SigOpCost: func(tx *wire.MsgTx) int64 {
			return int64(len(tx.TxIn)) * wire.WitnessScaleFactor
		},
		Log: zap.NewNop(),
	}
	h.gen = NewBlkTmplGenerator(h.cfg)
	return h
}

// addUTXO registers a confirmed output and returns its outpoint.
func (h *harness) addUTXO(addr types.Address, value types.Amount) wire.OutPoint {
	h.seq++
	var seed [8]byte
	binary.LittleEndian.PutUint64(seed[:], h.seq)
	op := wire.OutPoint{Hash: chainhash.HashH(seed[:]), Index: 0}
	h.utxos[op] = utxoEntry{addr: addr, value: value}
	return op
}

// addTx snapshots a transaction into the source with the aggregates the
// pool would have computed.
func (h *harness) addTx(tx *wire.MsgTx, fee types.Amount, gasPrice uint64, parents ...*TxDesc) *TxDesc {
	size := int64(tx.SerializeSizeStripped())
	desc := &TxDesc{
		Tx:             tx,
		TxHash:         tx.TxHash(),
		Height:         h.tip.Height + 1,
		Fee:            fee,
		FeeRate:        types.NewFeeRateWithSize(fee, size),
		GasPrice:       gasPrice,
		Size:           size,
		SigOpCost:      int64(len(tx.TxIn)) * wire.WitnessScaleFactor,
		Sequence:       h.seq,
		AncestorFee:    fee,
		AncestorSize:   size,
		AncestorSigOps: int64(len(tx.TxIn)) * wire.WitnessScaleFactor,
		AncestorCount:  1,
	}
	h.seq++
	for _, parent := range parents {
		desc.ParentHashes = append(desc.ParentHashes, parent.TxHash)
		desc.AncestorFee += parent.AncestorFee
		desc.AncestorSize += parent.AncestorSize
		desc.AncestorSigOps += parent.AncestorSigOps
		desc.AncestorCount += parent.AncestorCount
	}
	h.source.descs = append(h.source.descs, desc)
	return desc
}

// spendTx builds a single-input payment of value minus fee to the given
// address.
func spendTx(op wire.OutPoint, value, fee types.Amount, to types.Address) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(&op, nil))
	tx.AddTxOut(wire.NewTxOut(int64(value-fee), wire.PayToKeyHashScript(to)))
	return tx
}

// contractCallTx builds a single-input transaction carrying one contract
// call output.
func contractCallTx(op wire.OutPoint, gasLimit, gasPrice uint64, data []byte, contract types.Address) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(&op, nil))
	tx.AddTxOut(wire.NewTxOut(0, wire.ContractCallScript(gasLimit, gasPrice, data, contract)))
	return tx
}

// contractCreateTx builds a single-input transaction carrying one contract
// creation output.
func contractCreateTx(op wire.OutPoint, gasLimit, gasPrice uint64, code []byte) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(&op, nil))
	tx.AddTxOut(wire.NewTxOut(0, wire.ContractCreateScript(gasLimit, gasPrice, code)))
	return tx
}

func blockTxHashes(block *wire.MsgBlock) []chainhash.Hash {
	return block.TxHashes()
}

func containsTx(block *wire.MsgBlock, hash chainhash.Hash) bool {
	for _, got := range blockTxHashes(block) {
		if got == hash {
			return true
		}
	}
	return false
}

func TestWorkTemplateEmptySource(t *testing.T) {
	h := newHarness(t)
	rewardScript := wire.PayToKeyHashScript(testAddress(0x01))

	template, totalFees, err := h.gen.NewBlockTemplate(rewardScript, false, 0, time.Time{})
	require.NoError(t, err)
	require.Len(t, template.Block.Transactions, 1)

	subsidy := chaincfg.CalcBlockSubsidy(h.tip.Height+1, h.params)
	coinbase := template.Block.Transactions[0]
	assert.True(t, coinbase.IsCoinBase())
	assert.Equal(t, int64(subsidy), coinbase.TxOut[0].Value)
	assert.Equal(t, types.Amount(0), totalFees)
	assert.Equal(t, int64(0), template.Fees[0])
	assert.True(t, template.ValidPayAddress)

	header := template.Block.Header
	assert.False(t, header.IsProofOfStake())
	assert.Equal(t, h.state.Root(), header.StateRoot)
	assert.Equal(t, h.tip.Hash, header.PrevBlock)
	assert.Equal(t, chainhash.CalcMerkleRoot(template.Block.TxHashes()), header.MerkleRoot)
}

func TestStakeTemplateMasksTimestamp(t *testing.T) {
	h := newHarness(t)
	rewardScript := wire.PayToKeyHashScript(testAddress(0x01))

	proofTime := uint32(h.now.Unix()) | 0x7
	template, _, err := h.gen.NewBlockTemplate(rewardScript, true, proofTime, time.Time{})
	require.NoError(t, err)

	header := template.Block.Header
	assert.True(t, header.IsProofOfStake())
	assert.Zero(t, header.Timestamp&h.params.StakeTimestampMask)

	// Stake templates carry an empty coinbase output and put the reward
	// on the coinstake placeholder.
	require.Len(t, template.Block.Transactions, 2)
	assert.True(t, template.Block.Transactions[0].TxOut[0].IsEmpty())
	subsidy := chaincfg.CalcBlockSubsidy(h.tip.Height+1, h.params)
	assert.Equal(t, int64(subsidy), template.Block.Transactions[1].TxOut[1].Value)
}

func TestMinFeeRateEndsSelection(t *testing.T) {
	h := newHarness(t)
	h.cfg.Policy.BlockMinFeeRate = types.NewFeeRate(100000)

	payer := testAddress(0x02)
	opRich := h.addUTXO(payer, 1000000)
	opPoor := h.addUTXO(payer, 1000000)

	rich := h.addTx(spendTx(opRich, 1000000, 50000, testAddress(0x03)), 50000, 0)
	poor := h.addTx(spendTx(opPoor, 1000000, 100, testAddress(0x03)), 100, 0)

	template, _, err := h.gen.NewBlockTemplate(wire.PayToKeyHashScript(testAddress(0x01)), false, 0, time.Time{})
	require.NoError(t, err)

	assert.True(t, containsTx(template.Block, rich.TxHash))
	assert.False(t, containsTx(template.Block, poor.TxHash))
	require.Len(t, template.Block.Transactions, 2)
}

func TestPackageTopologicalOrder(t *testing.T) {
	h := newHarness(t)
	payer := testAddress(0x02)
	op := h.addUTXO(payer, 2000000)

	// A cheap parent lifted into the block by its well-paying child: the
	// pair must appear in dependency order regardless of fee ranking.
	parentTx := spendTx(op, 2000000, 200, payer)
	parent := h.addTx(parentTx, 200, 0)
	childOp := wire.OutPoint{Hash: parentTx.TxHash(), Index: 0}
	child := h.addTx(spendTx(childOp, 1999800, 80000, testAddress(0x03)), 80000, 0, parent)

	// A mid-rate standalone to interleave with the package.
	opLoner := h.addUTXO(payer, 1000000)
	loner := h.addTx(spendTx(opLoner, 1000000, 30000, testAddress(0x03)), 30000, 0)

	template, _, err := h.gen.NewBlockTemplate(wire.PayToKeyHashScript(testAddress(0x01)), false, 0, time.Time{})
	require.NoError(t, err)
	require.Len(t, template.Block.Transactions, 4)

	hashes := blockTxHashes(template.Block)
	indexOf := func(hash chainhash.Hash) int {
		for i, got := range hashes {
			if got == hash {
				return i
			}
		}
		return -1
	}
	assert.Less(t, indexOf(parent.TxHash), indexOf(child.TxHash))
	assert.NotEqual(t, -1, indexOf(loner.TxHash))
}

func TestWeightBudgetExcludesOversizePackage(t *testing.T) {
	h := newHarness(t)
	h.cfg.Policy.BlockMaxWeight = 21000

	payer := testAddress(0x02)
	opBig := h.addUTXO(payer, 10000000)
	opSmall := h.addUTXO(payer, 1000000)

	// An output script large enough that the transaction alone exceeds
	// the remaining weight budget.
	bigTx := wire.NewMsgTx(wire.TxVersion)
	bigTx.AddTxIn(wire.NewTxIn(&opBig, nil))
	bigTx.AddTxOut(wire.NewTxOut(1000, make([]byte, 6000)))
	big := h.addTx(bigTx, 500000, 0)

	small := h.addTx(spendTx(opSmall, 1000000, 10000, testAddress(0x03)), 10000, 0)

	template, _, err := h.gen.NewBlockTemplate(wire.PayToKeyHashScript(testAddress(0x01)), false, 0, time.Time{})
	require.NoError(t, err)

	assert.False(t, containsTx(template.Block, big.TxHash))
	assert.True(t, containsTx(template.Block, small.TxHash))
}

func TestSigOpBudgetExcludesExpensiveTx(t *testing.T) {
	h := newHarness(t)

	expensiveHash := chainhash.Hash{}
	h.cfg.SigOpCost = func(tx *wire.MsgTx) int64 {
		if tx.TxHash() == expensiveHash {
			return 10000000
		}
		return int64(len(tx.TxIn)) * wire.WitnessScaleFactor
	}

	payer := testAddress(0x02)
	opExpensive := h.addUTXO(payer, 1000000)
	opCheap := h.addUTXO(payer, 1000000)

	expensiveTx := spendTx(opExpensive, 1000000, 50000, testAddress(0x03))
	expensiveHash = expensiveTx.TxHash()
	expensive := h.addTx(expensiveTx, 50000, 0)
	expensive.SigOpCost = 10000000
	expensive.AncestorSigOps = 10000000

	cheap := h.addTx(spendTx(opCheap, 1000000, 10000, testAddress(0x03)), 10000, 0)

	template, _, err := h.gen.NewBlockTemplate(wire.PayToKeyHashScript(testAddress(0x01)), false, 0, time.Time{})
	require.NoError(t, err)

	assert.False(t, containsTx(template.Block, expensive.TxHash))
	assert.True(t, containsTx(template.Block, cheap.TxHash))
}

func TestDeadlineStopsSelection(t *testing.T) {
	h := newHarness(t)
	payer := testAddress(0x02)
	op := h.addUTXO(payer, 1000000)
	pending := h.addTx(spendTx(op, 1000000, 50000, testAddress(0x03)), 50000, 0)

	deadline := h.now.Add(-time.Second)
	template, _, err := h.gen.NewBlockTemplate(wire.PayToKeyHashScript(testAddress(0x01)), false, 0, deadline)
	require.NoError(t, err)

	assert.False(t, containsTx(template.Block, pending.TxHash))
	require.Len(t, template.Block.Transactions, 1)
}

func TestContractExecutionRefundAndRestore(t *testing.T) {
	h := newHarness(t)
	sender := testAddress(0x04)
	contract := testAddress(0x05)
	op := h.addUTXO(sender, 10000000)

	const (
		gasLimit = uint64(100000)
		gasPrice = uint64(10)
		dataLen  = 10
	)
	fee := types.Amount(1000000)
	tx := contractCallTx(op, gasLimit, gasPrice, make([]byte, dataLen), contract)
	desc := h.addTx(tx, fee, gasPrice)

	rootBefore := h.state.Root()
	template, totalFees, err := h.gen.NewBlockTemplate(wire.PayToKeyHashScript(testAddress(0x01)), false, 0, time.Time{})
	require.NoError(t, err)
	require.True(t, containsTx(template.Block, desc.TxHash))

	usedGas := uint64(21000 + dataLen*68)
	refund := types.Amount((gasLimit - usedGas) * gasPrice)
	assert.Equal(t, usedGas, template.TotalGasUsed)
	assert.Equal(t, fee-refund, totalFees)

	// The refund rides on the coinbase, addressed back to the sender.
	coinbase := template.Block.Transactions[0]
	require.Len(t, coinbase.TxOut, 2)
	refundAddr, ok := wire.ExtractKeyHash(coinbase.TxOut[1].PkScript)
	require.True(t, ok)
	assert.Equal(t, sender, refundAddr)
	assert.Equal(t, int64(refund), coinbase.TxOut[1].Value)

	subsidy := chaincfg.CalcBlockSubsidy(h.tip.Height+1, h.params)
	assert.Equal(t, int64(subsidy)+int64(totalFees), coinbase.TxOut[0].Value)

	// The header captures the executed roots while the live state is
	// rolled back.
	assert.NotEqual(t, rootBefore, template.Block.Header.StateRoot)
	assert.Equal(t, rootBefore, h.state.Root())
}

func TestContractOverTxGasLimitExcluded(t *testing.T) {
	h := newHarness(t)
	h.cfg.Policy.TxGasLimit = 50000

	sender := testAddress(0x04)
	opContract := h.addUTXO(sender, 10000000)
	opPlain := h.addUTXO(sender, 1000000)

	greedy := h.addTx(contractCallTx(opContract, 200000, 10, []byte{1}, testAddress(0x05)),
		1000000, 10)
	plain := h.addTx(spendTx(opPlain, 1000000, 10000, testAddress(0x03)), 10000, 0)

	rootBefore := h.state.Root()
	template, _, err := h.gen.NewBlockTemplate(wire.PayToKeyHashScript(testAddress(0x01)), false, 0, time.Time{})
	require.NoError(t, err)

	// The greedy transaction is refused without touching the state, and
	// selection keeps going.
	assert.False(t, containsTx(template.Block, greedy.TxHash))
	assert.True(t, containsTx(template.Block, plain.TxHash))
	assert.Equal(t, rootBefore, h.state.Root())
	assert.Equal(t, rootBefore, template.Block.Header.StateRoot)
	assert.Zero(t, template.TotalGasUsed)
}

func TestContractExceptionRollsBack(t *testing.T) {
	h := newHarness(t)
	poison := []byte{0xde, 0xad}
	h.exec.FailData = poison

	sender := testAddress(0x04)
	opBad := h.addUTXO(sender, 10000000)
	opGood := h.addUTXO(sender, 10000000)

	bad := h.addTx(contractCallTx(opBad, 100000, 10, poison, testAddress(0x05)), 500000, 10)
	good := h.addTx(contractCallTx(opGood, 100000, 10, []byte{1}, testAddress(0x05)), 400000, 10)

	rootBefore := h.state.Root()
	template, _, err := h.gen.NewBlockTemplate(wire.PayToKeyHashScript(testAddress(0x01)), false, 0, time.Time{})
	require.NoError(t, err)

	assert.False(t, containsTx(template.Block, bad.TxHash))
	assert.True(t, containsTx(template.Block, good.TxHash))
	assert.Equal(t, rootBefore, h.state.Root())
}

func TestDisableContractStaking(t *testing.T) {
	h := newHarness(t)
	h.cfg.Policy.DisableContractStaking = true

	sender := testAddress(0x04)
	op := h.addUTXO(sender, 10000000)
	blocked := h.addTx(contractCallTx(op, 100000, 10, []byte{1}, testAddress(0x05)), 500000, 10)

	template, _, err := h.gen.NewBlockTemplate(wire.PayToKeyHashScript(testAddress(0x01)), false, 0, time.Time{})
	require.NoError(t, err)
	assert.False(t, containsTx(template.Block, blocked.TxHash))
}

func TestStakeRewardConservation(t *testing.T) {
	h := newHarness(t)
	h.gov.burnRate = 10
	h.exec.DividendRate = 10

	sender := testAddress(0x04)
	contract := testAddress(0x05)
	owner := testAddress(0x06)
	h.owners.owners[contract] = owner

	op := h.addUTXO(sender, 10000000)
	const (
		gasLimit = uint64(100000)
		gasPrice = uint64(10)
		dataLen  = 10
	)
	fee := types.Amount(1000000)
	h.addTx(contractCallTx(op, gasLimit, gasPrice, make([]byte, dataLen), contract), fee, gasPrice)

	template, totalFees, err := h.gen.NewBlockTemplate(
		wire.PayToKeyHashScript(testAddress(0x01)), true, uint32(h.now.Unix()), time.Time{})
	require.NoError(t, err)

	usedGas := uint64(21000 + dataLen*68)
	refund := types.Amount((gasLimit - usedGas) * gasPrice)
	dividend := fee * 10 / 100
	feesAfterDividend := fee - dividend
	burned := (feesAfterDividend - refund) / 100 * 10
	wantFees := feesAfterDividend - burned

	assert.Equal(t, wantFees-refund, totalFees)
	assert.Equal(t, -int64(wantFees), template.Fees[0])

	coinstake := template.Block.Transactions[1]
	subsidy := chaincfg.CalcBlockSubsidy(h.tip.Height+1, h.params)
	assert.Equal(t, int64(subsidy)+int64(totalFees), coinstake.TxOut[1].Value)

	// Refund and dividend ride as extra coinstake outputs.
	require.Len(t, coinstake.TxOut, 4)
	refundAddr, _ := wire.ExtractKeyHash(coinstake.TxOut[2].PkScript)
	assert.Equal(t, sender, refundAddr)
	dividendAddr, _ := wire.ExtractKeyHash(coinstake.TxOut[3].PkScript)
	assert.Equal(t, owner, dividendAddr)
	assert.Equal(t, int64(dividend), coinstake.TxOut[3].Value)
}

// stubSigner returns the reward transaction with a resolvable input so its
// administrative call outputs can be executed.
type stubSigner struct {
	stakeInput wire.OutPoint
	err        error
}

func (s *stubSigner) CreateCoinstake(bits uint32, totalFees types.Amount, blockTime uint32,
	template *wire.MsgTx) (*wire.MsgTx, error) {

	if s.err != nil {
		return nil, s.err
	}
	coinstake := wire.NewMsgTx(wire.TxVersion)
	coinstake.AddTxIn(wire.NewTxIn(&s.stakeInput, nil))
	for _, out := range template.TxOut {
		coinstake.AddTxOut(out)
	}
	return coinstake, nil
}

func TestStakeOwnerRegistration(t *testing.T) {
	h := newHarness(t)
	staker := testAddress(0x07)
	stakeOp := h.addUTXO(staker, 100000000)
	h.cfg.Signer = &stubSigner{stakeInput: stakeOp}

	sender := testAddress(0x04)
	op := h.addUTXO(sender, 10000000)
	create := h.addTx(contractCreateTx(op, 100000, 10, []byte{0x60, 0x60}), 500000, 10)

	rootBefore := h.state.Root()
	template, _, err := h.gen.NewBlockTemplate(
		wire.PayToKeyHashScript(testAddress(0x01)), true, uint32(h.now.Unix()), time.Time{})
	require.NoError(t, err)
	require.True(t, containsTx(template.Block, create.TxHash))

	// The coinstake gains a zero-value owner-registration call output.
	coinstake := template.Block.Transactions[1]
	last := coinstake.TxOut[len(coinstake.TxOut)-1]
	assert.Zero(t, last.Value)
	cs, ok := wire.ParseContractScript(last.PkScript)
	require.True(t, ok)
	assert.Equal(t, h.owners.registry, *cs.Contract)

	assert.Equal(t, rootBefore, h.state.Root())
	assert.NotEqual(t, rootBefore, template.Block.Header.StateRoot)
}

func TestVoteFinalizationFreezesSelection(t *testing.T) {
	h := newHarness(t)
	h.gov.voteInProgress = true
	h.gov.voteExpiration = uint64(h.tip.Height) // already expired

	staker := testAddress(0x07)
	stakeOp := h.addUTXO(staker, 100000000)
	h.cfg.Signer = &stubSigner{stakeInput: stakeOp}

	payer := testAddress(0x02)
	op := h.addUTXO(payer, 1000000)
	pending := h.addTx(spendTx(op, 1000000, 50000, testAddress(0x03)), 50000, 0)

	template, _, err := h.gen.NewBlockTemplate(
		wire.PayToKeyHashScript(testAddress(0x01)), true, uint32(h.now.Unix()), time.Time{})
	require.NoError(t, err)

	// Selection is frozen: only the reward transactions made it in.
	assert.False(t, containsTx(template.Block, pending.TxHash))
	require.Len(t, template.Block.Transactions, 2)

	coinstake := template.Block.Transactions[1]
	last := coinstake.TxOut[len(coinstake.TxOut)-1]
	assert.Zero(t, last.Value)
	cs, ok := wire.ParseContractScript(last.PkScript)
	require.True(t, ok)
	assert.Equal(t, h.gov.voteContract, *cs.Contract)
}

func TestVoteNotExpiredKeepsSelecting(t *testing.T) {
	h := newHarness(t)
	h.gov.voteInProgress = true
	h.gov.voteExpiration = uint64(h.tip.Height + 100)

	payer := testAddress(0x02)
	op := h.addUTXO(payer, 1000000)
	pending := h.addTx(spendTx(op, 1000000, 50000, testAddress(0x03)), 50000, 0)

	template, _, err := h.gen.NewBlockTemplate(
		wire.PayToKeyHashScript(testAddress(0x01)), false, 0, time.Time{})
	require.NoError(t, err)
	assert.True(t, containsTx(template.Block, pending.TxHash))
}

// mismatchExecutor produces a contract address without a matching owner,
// exercising the bookkeeping guard.
type mismatchExecutor struct {
	state *vm.NaiveState
}

func (e *mismatchExecutor) Execute(ctx *vm.BlockContext, calls []vm.Call, hardGasLimit uint64) (*vm.ExecResult, error) {
	result := vm.NewExecResult()
	result.Exceptions = make([]bool, len(calls))
	result.UsedGas = 21000
	result.ContractAddresses = append(result.ContractAddresses, testAddress(0xee))
	e.state.SetRoot(chainhash.HashH([]byte("mutated")))
	return result, nil
}

func TestOwnerMismatchAbortsStakeBlock(t *testing.T) {
	h := newHarness(t)
	h.cfg.Executor = &mismatchExecutor{state: h.state}
	h.gen = NewBlkTmplGenerator(h.cfg)

	sender := testAddress(0x04)
	op := h.addUTXO(sender, 10000000)
	h.addTx(contractCreateTx(op, 100000, 10, []byte{0x60}), 500000, 10)

	rootBefore := h.state.Root()
	_, _, err := h.gen.NewBlockTemplate(
		wire.PayToKeyHashScript(testAddress(0x01)), true, uint32(h.now.Unix()), time.Time{})
	require.Error(t, err)
	assert.True(t, chaindata.IsRuleErrorCode(err, chaindata.ErrOwnerMismatch))
	assert.Equal(t, rootBefore, h.state.Root())
}

// lockedOracle locks a fixed amount for one address.
type lockedOracle struct {
	addr   types.Address
	amount types.Amount
}

func (o *lockedOracle) LockedAmount(addr types.Address) (types.Amount, error) {
	if addr == o.addr {
		return o.amount, nil
	}
	return 0, nil
}

// chainBalances serves mature balances from a fixed table.
type chainBalances map[types.Address]types.Amount

func (b chainBalances) MatureBalance(addr types.Address) (types.Amount, error) {
	return b[addr], nil
}

func TestSolvencyRuleExcludesLockedSpend(t *testing.T) {
	h := newHarness(t)
	payer := testAddress(0x02)
	oracle := &lockedOracle{addr: payer, amount: 900000}
	balances := chainBalances{payer: 1000000}
	h.cfg.NewSolvencyTracker = func() *solvency.Tracker {
		return solvency.NewTracker(oracle, balances)
	}

	op := h.addUTXO(payer, 1000000)
	// Spending 800000 away would leave the payer under its locked
	// amount.
	locked := h.addTx(spendTx(op, 1000000, 200000, testAddress(0x03)), 200000, 0)

	template, _, err := h.gen.NewBlockTemplate(
		wire.PayToKeyHashScript(testAddress(0x01)), false, 0, time.Time{})
	require.NoError(t, err)
	assert.False(t, containsTx(template.Block, locked.TxHash))
}

func TestEmptyTemplateSkipsSelection(t *testing.T) {
	h := newHarness(t)
	payer := testAddress(0x02)
	op := h.addUTXO(payer, 1000000)
	pending := h.addTx(spendTx(op, 1000000, 50000, testAddress(0x03)), 50000, 0)

	template, err := h.gen.NewEmptyBlockTemplate(
		wire.PayToKeyHashScript(testAddress(0x01)), true, uint32(h.now.Unix()))
	require.NoError(t, err)
	assert.False(t, containsTx(template.Block, pending.TxHash))
	require.Len(t, template.Block.Transactions, 2)

	subsidy := chaincfg.CalcBlockSubsidy(h.tip.Height+1, h.params)
	assert.Equal(t, int64(subsidy), template.Block.Transactions[1].TxOut[1].Value)
}
