// Copyright (c) 2021 The Hydranet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package types

import "encoding/hex"

// AddressSize is the length in bytes of a key-hash or contract address.
const AddressSize = 20

// Address is a 20-byte key hash or contract address.  The zero value marks
// an absent address.
type Address [AddressSize]byte

// IsZero returns true when the address is the zero value.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Bytes returns a copy of the address as a byte slice.
func (a Address) Bytes() []byte {
	b := make([]byte, AddressSize)
	copy(b, a[:])
	return b
}

func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// NewAddress builds an Address from a byte slice, truncating or
// zero-padding to AddressSize.
func NewAddress(b []byte) Address {
	var a Address
	copy(a[:], b)
	return a
}
