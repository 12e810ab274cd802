// Copyright (c) 2021 The Hydranet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package economy resolves contract ownership and turns the dividend
// obligations accrued during contract execution into concrete coinbase
// outputs.  Ownership lives in an on-chain registry contract; like the
// governance registry, everything read from it is untrusted.
package economy

import (
	"sort"

	"github.com/pkg/errors"

	"gitlab.com/hydranet/core/stake.core/node/vm"
	"gitlab.com/hydranet/core/stake.core/types"
	"gitlab.com/hydranet/core/stake.core/types/wire"
)

// Contract is the fixed address of the ownership registry contract.
var Contract = types.NewAddress([]byte{
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x92,
})

// ownerCallGasLimit bounds the registry maintenance calls embedded in blocks.
const ownerCallGasLimit = 250000

var selGetOwner = []byte{0x3c, 0x1e, 0x7c, 0x35}
var selAddOwners = []byte{0xe8, 0x97, 0x3a, 0x11}

// Dividend is one resolved dividend obligation: the owner of the contract
// that accrued it and the amount owed.
type Dividend struct {
	Contract types.Address
	Owner    types.Address
	Amount   types.Amount
}

// Economy resolves ownership through a contract-call capability.
type Economy struct {
	caller      vm.ContractCaller
	minGasPrice func() uint64
}

// New returns an ownership resolver bound to the given call capability.
// The gas price hook prices the registry maintenance scripts.
func New(caller vm.ContractCaller, minGasPrice func() uint64) *Economy {
	if minGasPrice == nil {
		minGasPrice = func() uint64 { return 1 }
	}
	return &Economy{caller: caller, minGasPrice: minGasPrice}
}

// ContractOwner returns the registered owner of the given contract.  A
// contract with no registered owner resolves to the zero address.
func (e *Economy) ContractOwner(contract types.Address) (types.Address, error) {
	data := make([]byte, 0, len(selGetOwner)+types.AddressSize)
	data = append(data, selGetOwner...)
	data = append(data, contract.Bytes()...)

	reply, err := e.caller.CallContract(Contract, data)
	if err != nil {
		return types.Address{}, errors.Wrapf(err, "owner lookup for %s", contract)
	}
	if len(reply) < types.AddressSize {
		return types.Address{}, nil
	}
	return types.NewAddress(reply[len(reply)-types.AddressSize:]), nil
}

// ResolveDividends resolves the per-contract dividend obligations from a
// block's execution into owner-addressed dividends, ordered by contract
// address so every node derives the same output order.  Obligations owed by
// contracts with no registered owner are dropped; their amounts stay with
// the block reward.
func (e *Economy) ResolveDividends(obligations map[types.Address]types.Amount) ([]Dividend, error) {
	contracts := make([]types.Address, 0, len(obligations))
	for contract := range obligations {
		contracts = append(contracts, contract)
	}
	sort.Slice(contracts, func(i, j int) bool {
		return contracts[i].String() < contracts[j].String()
	})

	dividends := make([]Dividend, 0, len(contracts))
	for _, contract := range contracts {
		amount := obligations[contract]
		if amount <= 0 {
			continue
		}
		owner, err := e.ContractOwner(contract)
		if err != nil {
			return nil, err
		}
		if owner.IsZero() {
			continue
		}
		dividends = append(dividends, Dividend{
			Contract: contract,
			Owner:    owner,
			Amount:   amount,
		})
	}
	return dividends, nil
}

// DividendOutputs converts resolved dividends into coinbase outputs and
// returns the total amount they pay.
func DividendOutputs(dividends []Dividend) ([]*wire.TxOut, types.Amount) {
	outputs := make([]*wire.TxOut, 0, len(dividends))
	var total types.Amount
	for _, dividend := range dividends {
		outputs = append(outputs, wire.NewTxOut(int64(dividend.Amount),
			wire.PayToKeyHashScript(dividend.Owner)))
		total += dividend.Amount
	}
	return outputs, total
}

// AddOwnersScript builds the zero-value administrative output script that
// registers the owners of contracts created in the block.  Contracts and
// owners are parallel slices.
func (e *Economy) AddOwnersScript(contracts, owners []types.Address) []byte {
	data := make([]byte, 0,
		len(selAddOwners)+1+len(contracts)*2*types.AddressSize)
	data = append(data, selAddOwners...)
	data = append(data, byte(len(contracts)))
	for i, contract := range contracts {
		data = append(data, contract.Bytes()...)
		data = append(data, owners[i].Bytes()...)
	}
	return wire.ContractCallScript(ownerCallGasLimit, e.minGasPrice(),
		data, Contract)
}
