// Copyright (c) 2021 The Hydranet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package dgp proxies the on-chain decentralized governance protocol
// contract.  The registry stores protocol parameters that bound block
// assembly: block size, gas limits, minimum gas price, and the fee burn
// rate.  All values read from the contract are untrusted and clamped to
// hardcoded bounds before use.
package dgp

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"gitlab.com/hydranet/core/stake.core/node/vm"
	"gitlab.com/hydranet/core/stake.core/types"
	"gitlab.com/hydranet/core/stake.core/types/wire"
)

// Param identifies a governance parameter slot.
type Param uint8

const (
	ParamAdminVote Param = iota
	ParamRemoveAdminVote
	ParamFiatGasPrice
	ParamBurnRate
	ParamEconomyDividend
	ParamBlockSize
	ParamBlockGasLimit
	ParamBytePrice
)

// Clamp bounds for untrusted registry values.
const (
	DefaultBurnRatePercentage = 0
	MinBurnRatePercentage     = 0
	MaxBurnRatePercentage     = 50

	DefaultDividendPercentage = 50
	MinDividendPercentage     = 0
	MaxDividendPercentage     = 50

	MinBlockSize     = 500000
	MaxBlockSize     = 32000000
	DefaultBlockSize = 2000000

	MinBlockGasLimit     = 1000000
	MaxBlockGasLimit     = 1000000000
	DefaultBlockGasLimit = 40000000

	DefaultMinGasPrice = 1
)

// Contract is the fixed address of the governance registry contract.
var Contract = types.NewAddress([]byte{
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x91,
})

// callGasLimit bounds the read-only registry queries embedded in blocks.
const callGasLimit = 250000

// Dgp reads governance parameters through a contract-call capability.
type Dgp struct {
	caller vm.ContractCaller
}

// New returns a registry proxy bound to the given call capability.
func New(caller vm.ContractCaller) *Dgp {
	return &Dgp{caller: caller}
}

// GetParam fetches a raw parameter value for the given height.  Missing or
// malformed replies surface as errors; callers fall back to defaults.
func (d *Dgp) GetParam(param Param, height int32) (uint64, error) {
	reply, err := d.caller.CallContract(Contract, paramCallData(param, height))
	if err != nil {
		return 0, errors.Wrapf(err, "dgp param %d lookup", param)
	}
	if len(reply) < 8 {
		return 0, errors.Errorf("dgp param %d reply too short: %d bytes",
			param, len(reply))
	}
	return binary.BigEndian.Uint64(reply[len(reply)-8:]), nil
}

// BurnRate returns the fee burn percentage, clamped to its legal range.
func (d *Dgp) BurnRate(height int32) uint64 {
	value, err := d.GetParam(ParamBurnRate, height)
	if err != nil || value > MaxBurnRatePercentage || value < MinBurnRatePercentage {
		return DefaultBurnRatePercentage
	}
	return value
}

// BlockSize returns the governed block size cap in bytes, clamped.
func (d *Dgp) BlockSize(height int32) uint64 {
	value, err := d.GetParam(ParamBlockSize, height)
	if err != nil || value > MaxBlockSize || value < MinBlockSize {
		return DefaultBlockSize
	}
	return value
}

// BlockGasLimit returns the governed per-block gas limit, clamped.
func (d *Dgp) BlockGasLimit(height int32) uint64 {
	value, err := d.GetParam(ParamBlockGasLimit, height)
	if err != nil || value > MaxBlockGasLimit || value < MinBlockGasLimit {
		return DefaultBlockGasLimit
	}
	return value
}

// MinGasPrice returns the governed minimum gas price.
func (d *Dgp) MinGasPrice(height int32) uint64 {
	value, err := d.GetParam(ParamFiatGasPrice, height)
	if err != nil || value == 0 {
		return DefaultMinGasPrice
	}
	return value
}

// HasVoteInProgress reports whether a governance vote is currently open.
func (d *Dgp) HasVoteInProgress() (bool, error) {
	reply, err := d.caller.CallContract(Contract, voteInProgressCallData())
	if err != nil {
		return false, errors.Wrap(err, "dgp vote-in-progress lookup")
	}
	return len(reply) > 0 && reply[len(reply)-1] != 0, nil
}

// VoteBlockExpiration returns the height at which the open vote concludes.
func (d *Dgp) VoteBlockExpiration() (uint64, error) {
	reply, err := d.caller.CallContract(Contract, voteExpirationCallData())
	if err != nil {
		return 0, errors.Wrap(err, "dgp vote-expiration lookup")
	}
	if len(reply) < 8 {
		return 0, errors.Errorf("dgp vote-expiration reply too short: %d bytes",
			len(reply))
	}
	return binary.BigEndian.Uint64(reply[len(reply)-8:]), nil
}

// FinishVoteScript builds the zero-value administrative output script that
// concludes the open vote when embedded in a coinstake.
func (d *Dgp) FinishVoteScript() []byte {
	return wire.ContractCallScript(callGasLimit, DefaultMinGasPrice,
		finishVoteCallData(), Contract)
}

// Call-data selectors for the registry contract.  The registry ABI is
// stable, so selectors are baked rather than derived from an ABI document.
var (
	selGetParam       = []byte{0x3c, 0x7a, 0x3a, 0xff}
	selVoteInProgress = []byte{0x0c, 0x31, 0xb9, 0x10}
	selVoteExpiration = []byte{0x55, 0x9c, 0xf2, 0xc2}
	selFinishVote     = []byte{0xcb, 0x76, 0x28, 0x41}
)

func paramCallData(param Param, height int32) []byte {
	data := make([]byte, 0, 16)
	data = append(data, selGetParam...)
	data = append(data, byte(param))
	var h [4]byte
	binary.BigEndian.PutUint32(h[:], uint32(height))
	return append(data, h[:]...)
}

func voteInProgressCallData() []byte { return selVoteInProgress }

func voteExpirationCallData() []byte { return selVoteExpiration }

func finishVoteCallData() []byte { return selFinishVote }
