// Copyright (c) 2021 The Hydranet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package delegation tracks offline-staking assignments: a coin owner
// grants staking rights over their coins to a staker address for a fee
// percentage.  Assignments are derived from on-chain contract state and
// cached on disk per staker, invalidated whenever the chain advances into
// a new checkpoint span.
package delegation

import (
	"gitlab.com/hydranet/core/stake.core/types"
)

// Delegation maps a delegating address to the staker granted its staking
// rights.
type Delegation struct {
	// Delegator owns the staked coins.
	Delegator types.Address

	// Staker holds the staking rights and signs the coinstake.
	Staker types.Address

	// Fee is the percentage of the stake reward kept by the staker.
	Fee uint8

	// BlockHeight is the height at which the assignment activates.
	BlockHeight int32

	// PoD is the delegator's proof-of-delegation signature over the
	// staker address.
	PoD []byte
}

// Source produces the current delegation assignments of a staker, typically
// by querying the delegation contract's event logs.
type Source interface {
	DelegationsForStaker(staker types.Address) ([]Delegation, error)
}

// FilterKind selects the policy a staker applies to incoming delegations.
type FilterKind uint8

const (
	// NoFilter accepts every delegation.
	NoFilter FilterKind = iota

	// AllowList accepts only delegators on the configured list.
	AllowList

	// DenyList accepts every delegator except those on the list.
	DenyList

	// PerStakerConfig accepts only delegators with an explicit local
	// configuration entry.
	PerStakerConfig
)

// Filter is a delegation acceptance policy.  The zero value accepts
// everything.
type Filter struct {
	Kind      FilterKind
	Addresses map[types.Address]struct{}
}

// NewAllowList returns a filter accepting only the listed delegators.
func NewAllowList(addrs []types.Address) *Filter {
	return &Filter{Kind: AllowList, Addresses: addressSet(addrs)}
}

// NewDenyList returns a filter rejecting the listed delegators.
func NewDenyList(addrs []types.Address) *Filter {
	return &Filter{Kind: DenyList, Addresses: addressSet(addrs)}
}

// NewPerStakerConfig returns a filter accepting only explicitly
// configured delegators.
func NewPerStakerConfig(addrs []types.Address) *Filter {
	return &Filter{Kind: PerStakerConfig, Addresses: addressSet(addrs)}
}

func addressSet(addrs []types.Address) map[types.Address]struct{} {
	set := make(map[types.Address]struct{}, len(addrs))
	for _, addr := range addrs {
		set[addr] = struct{}{}
	}
	return set
}

// Accepts reports whether the delegation passes the filter policy.
func (f *Filter) Accepts(d *Delegation) bool {
	if f == nil {
		return true
	}
	_, listed := f.Addresses[d.Delegator]
	switch f.Kind {
	case NoFilter:
		return true
	case AllowList, PerStakerConfig:
		return listed
	case DenyList:
		return !listed
	}
	return false
}

// ApplyFilter returns the delegations accepted by the filter, preserving
// input order.
func ApplyFilter(delegations []Delegation, filter *Filter) []Delegation {
	accepted := make([]Delegation, 0, len(delegations))
	for _, d := range delegations {
		if filter.Accepts(&d) {
			accepted = append(accepted, d)
		}
	}
	return accepted
}
