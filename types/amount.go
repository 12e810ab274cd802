// Copyright (c) 2021 The Hydranet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package types

import "fmt"

const (
	// SatoshiPerCoin is the number of base units in one coin.
	SatoshiPerCoin = 1e8

	// MaxSatoshi is the maximum transaction amount allowed in base units.
	MaxSatoshi = 21e6 * 1e8 * 5
)

// Amount represents the base coin monetary unit (colloquially referred to as
// a `Satoshi`).  A single Amount is equal to 1e-8 of a coin.
type Amount int64

// ToCoin is the exchange value of the monetary amount in coins.
func (a Amount) ToCoin() float64 {
	return float64(a) / SatoshiPerCoin
}

// String formats the amount as a fixed-point coin value.
func (a Amount) String() string {
	return fmt.Sprintf("%.8f", a.ToCoin())
}
