// Copyright (c) 2021 The Hydranet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package solvency enforces the lock/burn invariant during block assembly:
// a spending address may not let its balance fall below its externally
// declared locked amount.  Balances are tracked per assembly pass and
// updated incrementally as packages are accepted; a rejected package leaves
// no trace in the tracker.
package solvency

import (
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"gitlab.com/hydranet/core/stake.core/types"
	"gitlab.com/hydranet/core/stake.core/types/wire"
)

// Oracle reports the externally declared locked amount of an address.
type Oracle interface {
	LockedAmount(addr types.Address) (types.Amount, error)
}

// BalanceSource reports the mature confirmed balance of an address.  The
// tracker seeds its running balances from it lazily, once per address per
// assembly pass.
type BalanceSource interface {
	MatureBalance(addr types.Address) (types.Amount, error)
}

// InputResolver resolves a confirmed outpoint to its owning address and
// value.  Unresolvable outpoints (contract outputs, exotic scripts) do not
// participate in the solvency check.
type InputResolver interface {
	ResolveInput(op wire.OutPoint) (types.Address, types.Amount, bool)
}

// ErrInsolvent marks a package whose acceptance would push an address
// below its locked amount.
var ErrInsolvent = errors.New("package would breach a locked balance")

// CachedOracle memoizes locked-amount lookups.  Locked amounts change
// rarely relative to assembly passes, so a small LRU in front of the
// external query removes it from the hot path.
type CachedOracle struct {
	backend Oracle
	cache   *lru.Cache
}

// NewCachedOracle wraps the backend oracle with an LRU of the given size.
func NewCachedOracle(backend Oracle, size int) (*CachedOracle, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, errors.Wrap(err, "solvency oracle cache")
	}
	return &CachedOracle{backend: backend, cache: cache}, nil
}

// LockedAmount returns the cached locked amount, querying the backend on a
// miss.  Lookup failures are not cached.
func (o *CachedOracle) LockedAmount(addr types.Address) (types.Amount, error) {
	if cached, ok := o.cache.Get(addr); ok {
		return cached.(types.Amount), nil
	}
	amount, err := o.backend.LockedAmount(addr)
	if err != nil {
		return 0, err
	}
	o.cache.Add(addr, amount)
	return amount, nil
}

// Invalidate drops the cached locked amount of an address, forcing the
// next lookup through the backend.
func (o *CachedOracle) Invalidate(addr types.Address) {
	o.cache.Remove(addr)
}

// Delta is the net per-address effect of a tested package.  It is produced
// by TestPackage and only mutates the tracker when passed to Apply.
type Delta struct {
	changes map[types.Address]types.Amount
}

// Tracker holds the running balances of one block-assembly pass.  It is not
// safe for concurrent use; each pass owns its tracker.
type Tracker struct {
	oracle   Oracle
	balances BalanceSource
	running  map[types.Address]types.Amount
}

// NewTracker returns a tracker seeded lazily from the given balance source.
func NewTracker(oracle Oracle, balances BalanceSource) *Tracker {
	return &Tracker{
		oracle:   oracle,
		balances: balances,
		running:  make(map[types.Address]types.Amount),
	}
}

// balance returns the running balance of an address, seeding it from the
// balance source on first touch.
func (t *Tracker) balance(addr types.Address) (types.Amount, error) {
	if balance, ok := t.running[addr]; ok {
		return balance, nil
	}
	balance, err := t.balances.MatureBalance(addr)
	if err != nil {
		return 0, errors.Wrapf(err, "seed balance for %s", addr)
	}
	t.running[addr] = balance
	return balance, nil
}

// TestPackage computes the net per-address effect of the package and checks
// every touched address against its locked amount.  On success it returns
// the delta for a later Apply; on failure the tracker is unchanged except
// for balances seeded along the way, which are facts rather than package
// state.
func (t *Tracker) TestPackage(pkg []*wire.MsgTx, resolver InputResolver) (*Delta, error) {
	scratch := make(map[types.Address]types.Amount)

	// Outputs created earlier in the package are spendable by later
	// members, so resolve package-internal outpoints first.
	internal := make(map[wire.OutPoint]wire.TxOut)
	for _, tx := range pkg {
		txHash := tx.TxHash()
		for i, txOut := range tx.TxOut {
			internal[wire.OutPoint{Hash: txHash, Index: uint32(i)}] = *txOut
		}
	}

	for _, tx := range pkg {
		for _, txIn := range tx.TxIn {
			prevOut := txIn.PreviousOutPoint
			if txOut, ok := internal[prevOut]; ok {
				if addr, ok := wire.ExtractKeyHash(txOut.PkScript); ok {
					scratch[addr] -= types.Amount(txOut.Value)
				}
				continue
			}
			if addr, value, ok := resolver.ResolveInput(prevOut); ok {
				scratch[addr] -= value
			}
		}
		for _, txOut := range tx.TxOut {
			if addr, ok := wire.ExtractKeyHash(txOut.PkScript); ok {
				scratch[addr] += types.Amount(txOut.Value)
			}
		}
	}

	for addr, change := range scratch {
		balance, err := t.balance(addr)
		if err != nil {
			return nil, err
		}
		if change >= 0 {
			continue
		}
		locked, err := t.oracle.LockedAmount(addr)
		if err != nil {
			return nil, errors.Wrapf(err, "locked amount for %s", addr)
		}
		if balance+change < locked {
			return nil, errors.Wrapf(ErrInsolvent,
				"address %s: balance %d%+d below locked %d",
				addr, balance, change, locked)
		}
	}

	return &Delta{changes: scratch}, nil
}

// Apply commits an accepted package's delta to the running balances.  Every
// address in the delta was seeded during TestPackage.
func (t *Tracker) Apply(delta *Delta) {
	for addr, change := range delta.changes {
		t.running[addr] += change
	}
}
