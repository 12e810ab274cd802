// Copyright (c) 2021 The Hydranet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package vm

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ripemd160"

	"gitlab.com/hydranet/core/stake.core/types"
	"gitlab.com/hydranet/core/stake.core/types/chainhash"
	"gitlab.com/hydranet/core/stake.core/types/wire"
)

const (
	// callBaseGas is the flat gas cost charged per call by the naive
	// executor.
	callBaseGas = 21000

	// callDataGas is the gas cost charged per byte of call data.
	callDataGas = 68
)

// NaiveState is an in-memory implementation of the global VM state roots.
// It backs tests and the staking simulator; the production node plugs the
// real state database in behind the same interface.
type NaiveState struct {
	mtx      sync.Mutex
	root     chainhash.Hash
	utxoRoot chainhash.Hash
}

// NewNaiveState returns a state handle seeded with the given roots.
func NewNaiveState(root, utxoRoot chainhash.Hash) *NaiveState {
	return &NaiveState{root: root, utxoRoot: utxoRoot}
}

// Root returns the current contract state root.
func (s *NaiveState) Root() chainhash.Hash {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.root
}

// UTXORoot returns the current contract-visible UTXO root.
func (s *NaiveState) UTXORoot() chainhash.Hash {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.utxoRoot
}

// SetRoot rewinds or advances the contract state root.
func (s *NaiveState) SetRoot(root chainhash.Hash) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.root = root
}

// SetUTXORoot rewinds or advances the contract-visible UTXO root.
func (s *NaiveState) SetUTXORoot(root chainhash.Hash) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.utxoRoot = root
}

// advance folds the serialized call into the current roots, making every
// execution observable through the rollback primitive.
func (s *NaiveState) advance(callBytes []byte) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.root = chainhash.DoubleHashH(append(s.root.CloneBytes(), callBytes...))
	s.utxoRoot = chainhash.DoubleHashH(append(s.utxoRoot.CloneBytes(), callBytes...))
}

// NaiveExecutor deterministically "executes" contract calls by charging a
// size-proportional gas cost and evolving the state roots.  It implements
// the Executor contract faithfully enough for assembler and staking-loop
// testing: gas metering, refunds, contract creation with owners, dividend
// accrual, and exceptions all behave as the assembler expects.
type NaiveExecutor struct {
	State *NaiveState

	// DividendRate is the percentage of a call's fee accrued as a
	// dividend to the callee contract.
	DividendRate uint64

	// FailData, when non-nil, raises an exception for any call whose
	// data matches it.  Used to exercise rollback paths.
	FailData []byte
}

// Execute applies the batch to the naive state and reports the aggregate
// result.  The state roots move on every successful call, so a caller that
// saved them beforehand can roll the whole batch back.
func (e *NaiveExecutor) Execute(ctx *BlockContext, calls []Call, hardGasLimit uint64) (*ExecResult, error) {
	result := NewExecResult()
	result.Exceptions = make([]bool, len(calls))

	for i, call := range calls {
		if e.FailData != nil && bytes.Equal(call.Data, e.FailData) {
			result.Exceptions[i] = true
			result.UsedGas += call.Gas
			continue
		}

		used := uint64(callBaseGas) + uint64(len(call.Data))*callDataGas
		if used > call.Gas {
			// Out of gas consumes the entire declared gas and
			// yields no refund.
			result.Exceptions[i] = true
			result.UsedGas += call.Gas
			continue
		}
		result.UsedGas += used

		if refund := types.Amount((call.Gas - used) * call.GasPrice); refund > 0 {
			result.RefundSender += refund
			result.RefundOutputs = append(result.RefundOutputs,
				wire.NewTxOut(int64(refund), wire.PayToKeyHashScript(call.Sender)))
		}

		if call.To == nil {
			addr := CreateContractAddress(call.Sender, call.Data)
			result.ContractAddresses = append(result.ContractAddresses, addr)
			result.ContractOwners = append(result.ContractOwners, call.Sender)
		} else if e.DividendRate > 0 {
			dividend := call.Fee * types.Amount(e.DividendRate) / 100
			if dividend > 0 {
				result.Dividends[*call.To] += dividend
			}
		}

		e.State.advance(serializeCall(ctx, &call))
	}

	if result.UsedGas > hardGasLimit {
		return nil, errors.Errorf("batch used %d gas, limit %d",
			result.UsedGas, hardGasLimit)
	}
	return result, nil
}

// CreateContractAddress derives the address of a newly created contract
// from its creator and creation code.
func CreateContractAddress(sender types.Address, code []byte) types.Address {
	first := chainhash.HashB(append(sender.Bytes(), code...))
	h := ripemd160.New()
	h.Write(first)
	return types.NewAddress(h.Sum(nil))
}

func serializeCall(ctx *BlockContext, call *Call) []byte {
	var buf bytes.Buffer
	var scratch [8]byte

	binary.LittleEndian.PutUint32(scratch[:4], uint32(ctx.Height))
	buf.Write(scratch[:4])
	buf.Write(call.Sender[:])
	if call.To != nil {
		buf.Write(call.To[:])
	}
	binary.LittleEndian.PutUint64(scratch[:], call.Gas)
	buf.Write(scratch[:])
	binary.LittleEndian.PutUint64(scratch[:], call.GasPrice)
	buf.Write(scratch[:])
	buf.Write(call.Data)
	return buf.Bytes()
}

// StaticCaller is a ContractCaller backed by a fixed response table keyed by
// contract address and call data.  Governance and economy proxies consume it
// in tests and in the simulator.
type StaticCaller struct {
	mtx       sync.RWMutex
	responses map[string][]byte
}

// NewStaticCaller returns an empty response table.
func NewStaticCaller() *StaticCaller {
	return &StaticCaller{responses: make(map[string][]byte)}
}

// SetResponse installs the reply for a (contract, data) pair.
func (c *StaticCaller) SetResponse(contract types.Address, data, response []byte) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.responses[callKey(contract, data)] = response
}

// CallContract returns the installed reply, or an error when none exists.
func (c *StaticCaller) CallContract(contract types.Address, data []byte) ([]byte, error) {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	response, ok := c.responses[callKey(contract, data)]
	if !ok {
		return nil, errors.Errorf("no response for contract %s", contract)
	}
	return response, nil
}

func callKey(contract types.Address, data []byte) string {
	return contract.String() + "/" + hex.EncodeToString(data)
}
