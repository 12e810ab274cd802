// Copyright (c) 2021 The Hydranet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package economy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/hydranet/core/stake.core/node/vm"
	"gitlab.com/hydranet/core/stake.core/types"
	"gitlab.com/hydranet/core/stake.core/types/wire"
)

func ownerLookupData(contract types.Address) []byte {
	data := append([]byte(nil), selGetOwner...)
	return append(data, contract.Bytes()...)
}

func TestResolveDividends(t *testing.T) {
	contractA := types.Address{0x0a}
	contractB := types.Address{0x0b}
	orphanContract := types.Address{0x0c}
	ownerA := types.Address{0xa1}
	ownerB := types.Address{0xb1}

	caller := vm.NewStaticCaller()
	caller.SetResponse(Contract, ownerLookupData(contractA), ownerA.Bytes())
	caller.SetResponse(Contract, ownerLookupData(contractB), ownerB.Bytes())
	caller.SetResponse(Contract, ownerLookupData(orphanContract), make([]byte, types.AddressSize))

	e := New(caller, nil)
	dividends, err := e.ResolveDividends(map[types.Address]types.Amount{
		contractB:      700,
		contractA:      300,
		orphanContract: 500,
	})
	require.NoError(t, err)

	// Ordered by contract address, ownerless obligation dropped.
	require.Len(t, dividends, 2)
	assert.Equal(t, ownerA, dividends[0].Owner)
	assert.Equal(t, types.Amount(300), dividends[0].Amount)
	assert.Equal(t, ownerB, dividends[1].Owner)
	assert.Equal(t, types.Amount(700), dividends[1].Amount)

	outputs, total := DividendOutputs(dividends)
	require.Len(t, outputs, 2)
	assert.Equal(t, types.Amount(1000), total)
	recipient, ok := wire.ExtractKeyHash(outputs[0].PkScript)
	require.True(t, ok)
	assert.Equal(t, ownerA, recipient)
}

func TestResolveDividendsLookupFailure(t *testing.T) {
	e := New(vm.NewStaticCaller(), nil)
	_, err := e.ResolveDividends(map[types.Address]types.Amount{
		{0x0a}: 100,
	})
	require.Error(t, err)
}

func TestAddOwnersScript(t *testing.T) {
	e := New(vm.NewStaticCaller(), func() uint64 { return 40 })
	script := e.AddOwnersScript(
		[]types.Address{{0x0a}}, []types.Address{{0xa1}})

	cs, ok := wire.ParseContractScript(script)
	require.True(t, ok)
	assert.False(t, cs.IsCreate())
	assert.Equal(t, uint64(40), cs.GasPrice)
	require.NotNil(t, cs.Contract)
	assert.Equal(t, Contract, *cs.Contract)
}
