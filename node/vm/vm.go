// Copyright (c) 2021 The Hydranet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package vm defines the call contract between the block assembler and the
// embedded contract virtual machine.  The interpreter itself is an external
// collaborator; this package only models its inputs, outputs, and the
// state-root rollback primitive the assembler relies on.
package vm

import (
	"github.com/pkg/errors"

	"gitlab.com/hydranet/core/stake.core/types"
	"gitlab.com/hydranet/core/stake.core/types/chainhash"
	"gitlab.com/hydranet/core/stake.core/types/wire"
)

// Call is a single decoded contract invocation extracted from a
// contract-bearing transaction output.
type Call struct {
	// Sender is the refund and ownership attribution address.
	Sender types.Address

	// To is the callee contract.  Nil for contract creation.
	To *types.Address

	// Gas is the gas limit declared by the call.
	Gas uint64

	// GasPrice is the price per gas unit in base units.
	GasPrice uint64

	// Value is the coin value transferred into the contract.
	Value types.Amount

	// Data is the call input or creation code.
	Data []byte

	// Fee is the fee paid by the enclosing transaction; used by the
	// executor for refund accounting.
	Fee types.Amount
}

// ExecResult aggregates the outcome of executing a batch of contract calls.
// During block assembly one ExecResult accumulates across all admitted
// contract transactions.
type ExecResult struct {
	// UsedGas is the total gas consumed.
	UsedGas uint64

	// RefundSender is the total unspent-gas value owed back to senders.
	RefundSender types.Amount

	// RefundOutputs are the individual refund outputs to append to the
	// reward transaction.
	RefundOutputs []*wire.TxOut

	// ContractAddresses lists contracts created by the batch, index
	// aligned with ContractOwners.
	ContractAddresses []types.Address

	// ContractOwners lists the owners of the created contracts.
	ContractOwners []types.Address

	// Dividends accrues protocol dividends per contract address.
	Dividends map[types.Address]types.Amount

	// ValueTransfers are VM-generated transactions moving coin value out
	// of contracts; they become additional block transactions.
	ValueTransfers []*wire.MsgTx

	// Exceptions records, per call, whether execution raised an
	// exception.  Any true entry invalidates the batch for block
	// inclusion.
	Exceptions []bool
}

// NewExecResult returns an empty result ready for accumulation.
func NewExecResult() *ExecResult {
	return &ExecResult{
		Dividends: make(map[types.Address]types.Amount),
	}
}

// HasExceptions reports whether any call in the batch raised an exception.
func (r *ExecResult) HasExceptions() bool {
	for _, raised := range r.Exceptions {
		if raised {
			return true
		}
	}
	return false
}

// Merge folds other into r.  Value transfers are replaced, not appended;
// the assembler moves them into the block between merges.
func (r *ExecResult) Merge(other *ExecResult) {
	r.UsedGas += other.UsedGas
	r.RefundSender += other.RefundSender
	r.RefundOutputs = append(r.RefundOutputs, other.RefundOutputs...)
	r.ContractAddresses = append(r.ContractAddresses, other.ContractAddresses...)
	r.ContractOwners = append(r.ContractOwners, other.ContractOwners...)
	for addr, amount := range other.Dividends {
		r.Dividends[addr] += amount
	}
	r.ValueTransfers = other.ValueTransfers
}

// BlockContext carries the header-level facts an execution needs.
type BlockContext struct {
	Height     int32
	Time       uint32
	Coinbase   types.Address
	GasLimit   uint64
	Difficulty uint32
}

// Executor runs batches of contract calls against the global VM state.
//
// Execute must be callable repeatedly against the mutable global state;
// callers save the state roots before calling and restore them to roll a
// tentative execution back.
type Executor interface {
	Execute(ctx *BlockContext, calls []Call, hardGasLimit uint64) (*ExecResult, error)
}

// StateRoots exposes the get/set-root rollback primitive of the global VM
// state.  It is the only sanctioned way to undo contract execution.
type StateRoots interface {
	Root() chainhash.Hash
	UTXORoot() chainhash.Hash
	SetRoot(chainhash.Hash)
	SetUTXORoot(chainhash.Hash)
}

// ContractCaller performs a read-only contract call against current state.
// The governance registry and economy proxies depend on this capability.
type ContractCaller interface {
	CallContract(contract types.Address, data []byte) ([]byte, error)
}

// ErrNoCalls is returned when a supposedly contract-bearing transaction
// yields no decodable calls.
var ErrNoCalls = errors.New("transaction carries no contract calls")

// ExtractCalls decodes every contract create/call output of the transaction
// into VM call objects.  The sender is attributed from the first input's
// witness-resolved key hash, which the caller supplies since input
// resolution requires UTXO access.
func ExtractCalls(tx *wire.MsgTx, sender types.Address, fee types.Amount) ([]Call, error) {
	var calls []Call
	for _, txOut := range tx.TxOut {
		cs, ok := wire.ParseContractScript(txOut.PkScript)
		if !ok {
			continue
		}
		call := Call{
			Sender:   sender,
			Gas:      cs.GasLimit,
			GasPrice: cs.GasPrice,
			Value:    types.Amount(txOut.Value),
			Data:     cs.Data,
			Fee:      fee,
		}
		if !cs.IsCreate() {
			to := *cs.Contract
			call.To = &to
		}
		calls = append(calls, call)
	}
	if len(calls) == 0 {
		return nil, ErrNoCalls
	}
	return calls, nil
}
