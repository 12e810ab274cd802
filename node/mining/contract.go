// Copyright (c) 2021 The Hydranet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mining

import (
	"math"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"gitlab.com/hydranet/core/stake.core/node/vm"
	"gitlab.com/hydranet/core/stake.core/types"
	"gitlab.com/hydranet/core/stake.core/types/wire"
)

// blockContext builds the execution context for the in-progress block.
func (ba *blockAssembler) blockContext() *vm.BlockContext {
	var coinbase types.Address
	if rewardOut := ba.rewardTx.TxOut[len(ba.rewardTx.TxOut)-1]; rewardOut != nil {
		if addr, ok := wire.ExtractKeyHash(rewardOut.PkScript); ok {
			coinbase = addr
		}
	}
	return &vm.BlockContext{
		Height:     ba.height,
		Time:       ba.block.Header.Timestamp,
		Coinbase:   coinbase,
		GasLimit:   ba.hardBlockGasLimit,
		Difficulty: ba.block.Header.Bits,
	}
}

// senderOf attributes a transaction's contract calls to the key hash behind
// its first input.  Unresolvable senders yield the zero address, matching
// how execution treats anonymous callers.
func (ba *blockAssembler) senderOf(tx *wire.MsgTx) types.Address {
	if len(tx.TxIn) == 0 {
		return types.Address{}
	}
	addr, _, ok := ba.ResolveInput(tx.TxIn[0].PreviousOutPoint)
	if !ok {
		return types.Address{}
	}
	return addr
}

// attemptToAddContract tentatively executes a contract-bearing transaction
// and admits it only if the execution and the resulting block still satisfy
// every budget.  On any rejection the VM state roots are restored, so a
// refused transaction leaves no trace.
func (ba *blockAssembler) attemptToAddContract(desc *TxDesc) bool {
	// Executions cannot be interrupted once started, so stop accepting
	// them a buffer ahead of the deadline.
	if !ba.deadline.IsZero() &&
		!ba.cfg.TimeSource().Before(ba.deadline.Add(-bytecodeTimeBuffer)) {
		return false
	}
	if ba.cfg.Policy.DisableContractStaking {
		return false
	}

	oldRoot := ba.cfg.State.Root()
	oldUTXORoot := ba.cfg.State.UTXORoot()
	restore := func() {
		ba.cfg.State.SetRoot(oldRoot)
		ba.cfg.State.SetUTXORoot(oldUTXORoot)
	}

	calls, err := vm.ExtractCalls(desc.Tx, ba.senderOf(desc.Tx), desc.Fee)
	if err != nil {
		// Decoding already succeeded on pool admission; a failure here
		// means a raw transaction was handed to the staker directly.
		return false
	}

	var txGas uint64
	for _, call := range calls {
		txGas += call.Gas
		if txGas > ba.txGasLimit {
			return false
		}
		if ba.execResult.UsedGas+call.Gas > ba.softBlockGasLimit {
			return false
		}
		if call.GasPrice < ba.minGasPrice {
			return false
		}
	}

	// The hard limit, not the soft one, bounds execution: the hard limit
	// is consensus critical.
	result, err := ba.cfg.Executor.Execute(ba.blockContext(), calls, ba.hardBlockGasLimit)
	if err != nil {
		restore()
		return false
	}
	if result.HasExceptions() {
		restore()
		return false
	}
	if ba.execResult.UsedGas+result.UsedGas > ba.softBlockGasLimit {
		restore()
		return false
	}

	// Simulate the full cost of admission on local copies: the
	// transaction itself, its value-transfer sub-transactions, and the
	// refund outputs that grow the reward transaction.
	blockWeight := ba.blockWeight + uint64(wire.GetTransactionWeight(desc.Tx))
	blockSigOps := ba.blockSigOps + desc.SigOpCost
	for _, transfer := range result.ValueTransfers {
		blockWeight += uint64(wire.GetTransactionWeight(transfer))
		blockSigOps += ba.sigOpCost(transfer)
	}
	blockSigOps += int64(len(result.RefundOutputs)) * wire.WitnessScaleFactor

	if blockSigOps > ba.maxSigOpCost || blockWeight > ba.maxBlockWeight {
		restore()
		return false
	}

	// Admission is now certain: fold the tentative execution into the
	// block aggregate and append the transactions.
	ba.execResult.Merge(result)

	ba.block.Transactions = append(ba.block.Transactions, desc.Tx)
	ba.template.Fees = append(ba.template.Fees, int64(desc.Fee))
	ba.template.SigOpCosts = append(ba.template.SigOpCosts, desc.SigOpCost)
	ba.blockWeight += uint64(wire.GetTransactionWeight(desc.Tx))
	ba.blockSigOps += desc.SigOpCost
	ba.blockTxCount++
	ba.fees += desc.Fee
	ba.inBlock[desc.TxHash] = struct{}{}
	ba.recordBlockOutputs(desc.Tx)

	for _, transfer := range ba.execResult.ValueTransfers {
		ba.block.Transactions = append(ba.block.Transactions, transfer)
		ba.template.Fees = append(ba.template.Fees, 0)
		ba.template.SigOpCosts = append(ba.template.SigOpCosts, ba.sigOpCost(transfer))
		ba.blockWeight += uint64(wire.GetTransactionWeight(transfer))
		ba.blockSigOps += ba.sigOpCost(transfer)
		ba.blockTxCount++
		ba.recordBlockOutputs(transfer)
	}
	ba.execResult.ValueTransfers = nil

	ba.gen.log.Debug("admitted contract transaction",
		zap.Stringer("txHash", &desc.TxHash),
		zap.Uint64("usedGas", result.UsedGas),
		zap.Uint64("blockGas", ba.execResult.UsedGas))
	return true
}

// sigOpCost returns the configured sigop cost of a transaction, zero when
// no cost function is wired.
func (ba *blockAssembler) sigOpCost(tx *wire.MsgTx) int64 {
	if ba.cfg.SigOpCost == nil {
		return 0
	}
	return ba.cfg.SigOpCost(tx)
}

// executeCoinstakeCalls signs the coinstake carrying the block's
// administrative outputs and executes its contract calls against the VM
// state.  Administrative calls are consensus bookkeeping; a failure or
// exception here aborts the whole block.
func (ba *blockAssembler) executeCoinstakeCalls(totalFees types.Amount, proofTime uint32) error {
	if ba.cfg.Signer == nil {
		return errors.New("block carries coinstake calls but no signer is configured")
	}

	blockTime := proofTime &^ ba.cfg.ChainParams.StakeTimestampMask
	coinstake, err := ba.cfg.Signer.CreateCoinstake(ba.block.Header.Bits,
		totalFees, blockTime, ba.rewardTx)
	if err != nil {
		return errors.Wrap(err, "create coinstake for contract calls")
	}

	calls, err := vm.ExtractCalls(coinstake, ba.senderOf(coinstake), 0)
	if err != nil {
		return errors.Wrap(err, "decode coinstake contract calls")
	}

	result, err := ba.cfg.Executor.Execute(ba.blockContext(), calls, math.MaxInt64)
	if err != nil {
		return errors.Wrap(err, "execute coinstake contract calls")
	}
	if result.HasExceptions() {
		return errors.New("exception raised during coinstake contract execution")
	}
	return nil
}
