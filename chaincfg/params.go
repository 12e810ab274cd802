// Copyright (c) 2021 The Hydranet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincfg

import (
	"math/big"

	"gitlab.com/hydranet/core/stake.core/types/pow"
)

// Params defines the network-dependent consensus parameters consumed by the
// block assembler and the staking loop.
type Params struct {
	// Name defines a human-readable identifier for the network.
	Name string

	// MineBlocksOnDemand (regtest) relaxes readiness gates and allows the
	// block version to be overridden.
	MineBlocksOnDemand bool

	// PowLimitBits is the compact form of the highest allowed target.
	PowLimitBits uint32

	// SubsidyHalvingInterval is the number of blocks between subsidy
	// reductions.
	SubsidyHalvingInterval int32

	// BaseSubsidy is the starting block subsidy in base units.
	BaseSubsidy int64

	// CoinbaseMaturity is the number of confirmations before a reward
	// output can be spent or staked.
	CoinbaseMaturity uint16

	// LastPoWHeight is the last height at which proof-of-work blocks are
	// accepted.  Heights above it are stake only.
	LastPoWHeight int32

	// StakeTimestampMask constrains stake block timestamps: valid
	// timestamps have the masked bits cleared.  The mask also defines the
	// kernel-search step.
	StakeTimestampMask uint32

	// MaxStakeLookahead bounds, in seconds, how far ahead of the current
	// time the staking loop searches for a valid kernel.
	MaxStakeLookahead uint32

	// StakeTimeBuffer is the safety margin, in seconds, subtracted from
	// the future-drift deadline when filling a stake block.
	StakeTimeBuffer uint32

	// MaxFutureBlockTime is the allowed clock drift, in seconds, of a
	// block timestamp past the current adjusted time.
	MaxFutureBlockTime uint32

	// OfflineStakingHeight is the activation height for delegated
	// (offline) staking.  Zero disables the feature.
	OfflineStakingHeight int32
}

// PowLimit returns the highest allowed target as a big integer.
func (p *Params) PowLimit() *big.Int {
	return pow.CompactToBig(p.PowLimitBits)
}

// FutureDrift returns the latest acceptable adjusted time for a block with
// the given timestamp.
func (p *Params) FutureDrift(blockTime int64) int64 {
	return blockTime + int64(p.MaxFutureBlockTime)
}

// IsOfflineStakingActive reports whether delegated staking applies at the
// given height.
func (p *Params) IsOfflineStakingActive(height int32) bool {
	return p.OfflineStakingHeight != 0 && height >= p.OfflineStakingHeight
}

// MainNetParams defines the network parameters for the main network.
var MainNetParams = Params{
	Name:                   "mainnet",
	MineBlocksOnDemand:     false,
	PowLimitBits:           0x1d00ffff,
	SubsidyHalvingInterval: 985500,
	BaseSubsidy:            4 * 1e8,
	CoinbaseMaturity:       500,
	LastPoWHeight:          5000,
	StakeTimestampMask:     15,
	MaxStakeLookahead:      960,
	StakeTimeBuffer:        2,
	MaxFutureBlockTime:     15,
	OfflineStakingHeight:   680000,
}

// RegressionNetParams defines the network parameters for the regression test
// network.  Difficulty is kept at the minimum and readiness gates are
// relaxed so blocks can be created on demand.
var RegressionNetParams = Params{
	Name:                   "regtest",
	MineBlocksOnDemand:     true,
	PowLimitBits:           0x207fffff,
	SubsidyHalvingInterval: 150,
	BaseSubsidy:            50 * 1e8,
	CoinbaseMaturity:       100,
	LastPoWHeight:          0x7fffffff,
	StakeTimestampMask:     15,
	MaxStakeLookahead:      960,
	StakeTimeBuffer:        2,
	MaxFutureBlockTime:     15,
	OfflineStakingHeight:   1,
}
