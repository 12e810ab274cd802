// Copyright (c) 2021 The Hydranet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package types

import "fmt"

// FeeRate is a fee expressed in base units per 1000 bytes of serialized
// transaction size.
type FeeRate struct {
	SatoshisPerK int64
}

// NewFeeRate returns a fee rate of satoshisPerK base units per 1000 bytes.
func NewFeeRate(satoshisPerK int64) FeeRate {
	return FeeRate{SatoshisPerK: satoshisPerK}
}

// NewFeeRateWithSize derives the rate paid by a transaction of the given
// serialized size that carried the given fee.
func NewFeeRateWithSize(fee Amount, size int64) FeeRate {
	if size == 0 {
		return FeeRate{}
	}
	return FeeRate{SatoshisPerK: int64(fee) * 1000 / size}
}

// GetFee returns the minimum fee for the given transaction size at this rate.
// A non-zero rate always charges at least one base unit.
func (r FeeRate) GetFee(size int64) Amount {
	fee := Amount(r.SatoshisPerK * size / 1000)
	if fee == 0 && size != 0 && r.SatoshisPerK != 0 {
		fee = 1
	}
	return fee
}

// Less reports whether r pays less per kilobyte than other.
func (r FeeRate) Less(other FeeRate) bool {
	return r.SatoshisPerK < other.SatoshisPerK
}

func (r FeeRate) String() string {
	return fmt.Sprintf("%d sat/kB", r.SatoshisPerK)
}
