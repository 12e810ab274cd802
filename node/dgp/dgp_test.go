// Copyright (c) 2021 The Hydranet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dgp

import (
	"encoding/binary"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/hydranet/core/stake.core/types"
)

// stubCaller replies with a fixed value for every registry query, or fails.
type stubCaller struct {
	value uint64
	err   error
}

func (s *stubCaller) CallContract(contract types.Address, data []byte) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	var reply [32]byte
	binary.BigEndian.PutUint64(reply[24:], s.value)
	return reply[:], nil
}

func TestParamClamping(t *testing.T) {
	tests := []struct {
		name  string
		value uint64
		err   error
		query func(*Dgp) uint64
		want  uint64
	}{
		{"burn rate in range", 20, nil,
			func(d *Dgp) uint64 { return d.BurnRate(100) }, 20},
		{"burn rate above max", 80, nil,
			func(d *Dgp) uint64 { return d.BurnRate(100) }, DefaultBurnRatePercentage},
		{"burn rate lookup failure", 0, errors.New("no state"),
			func(d *Dgp) uint64 { return d.BurnRate(100) }, DefaultBurnRatePercentage},
		{"block size in range", 4000000, nil,
			func(d *Dgp) uint64 { return d.BlockSize(100) }, 4000000},
		{"block size below min", 100, nil,
			func(d *Dgp) uint64 { return d.BlockSize(100) }, DefaultBlockSize},
		{"block size above max", 64000000, nil,
			func(d *Dgp) uint64 { return d.BlockSize(100) }, DefaultBlockSize},
		{"gas limit in range", 8000000, nil,
			func(d *Dgp) uint64 { return d.BlockGasLimit(100) }, 8000000},
		{"gas limit above max", 2000000000, nil,
			func(d *Dgp) uint64 { return d.BlockGasLimit(100) }, DefaultBlockGasLimit},
		{"min gas price zero", 0, nil,
			func(d *Dgp) uint64 { return d.MinGasPrice(100) }, DefaultMinGasPrice},
		{"min gas price set", 40, nil,
			func(d *Dgp) uint64 { return d.MinGasPrice(100) }, 40},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			d := New(&stubCaller{value: test.value, err: test.err})
			assert.Equal(t, test.want, test.query(d))
		})
	}
}

func TestVoteQueries(t *testing.T) {
	d := New(&stubCaller{value: 1})
	open, err := d.HasVoteInProgress()
	require.NoError(t, err)
	assert.True(t, open)

	d = New(&stubCaller{value: 0})
	open, err = d.HasVoteInProgress()
	require.NoError(t, err)
	assert.False(t, open)

	d = New(&stubCaller{value: 123456})
	expiration, err := d.VoteBlockExpiration()
	require.NoError(t, err)
	assert.Equal(t, uint64(123456), expiration)
}

func TestFinishVoteScript(t *testing.T) {
	d := New(&stubCaller{})
	script := d.FinishVoteScript()
	require.NotEmpty(t, script)
	// The finishing output must be a contract call to the registry.
	assert.Equal(t, byte(0xc2), script[len(script)-1])
}
