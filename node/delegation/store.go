// Copyright (c) 2021 The Hydranet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package delegation

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	ldbErrors "github.com/syndtr/goleveldb/leveldb/errors"
	"go.uber.org/zap"

	"gitlab.com/hydranet/core/stake.core/types"
)

// DefaultCheckpointSpan is the number of blocks a cached delegation set
// remains valid for.  Delegation contract state only needs re-deriving when
// the chain crosses into a new span.
const DefaultCheckpointSpan = 500

var (
	delegationKeyPrefix = []byte("delegations/")
	heightKeyPrefix     = []byte("derived-height/")
)

// Cache is a disk-backed delegation cache for one wallet.  Lookups inside
// the same checkpoint span are served from leveldb; crossing a span
// boundary re-derives from the source.
type Cache struct {
	db     *leveldb.DB
	source Source
	filter *Filter
	span   int32
	log    *zap.Logger
}

// CacheConfig configures a delegation cache.
type CacheConfig struct {
	// Path is the leveldb directory.
	Path string

	// Source derives fresh delegation sets.
	Source Source

	// Filter is the staker's acceptance policy; nil accepts everything.
	Filter *Filter

	// CheckpointSpan overrides DefaultCheckpointSpan when non-zero.
	CheckpointSpan int32

	// Log is the cache logger.
	Log *zap.Logger
}

// OpenCache opens (creating or recovering as needed) the delegation cache
// at the configured path.
func OpenCache(cfg *CacheConfig) (*Cache, error) {
	db, err := leveldb.OpenFile(cfg.Path, nil)
	if _, corrupted := err.(*ldbErrors.ErrCorrupted); corrupted {
		db, err = leveldb.RecoverFile(cfg.Path, nil)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open delegation cache at %s", cfg.Path)
	}

	span := cfg.CheckpointSpan
	if span == 0 {
		span = DefaultCheckpointSpan
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{
		db:     db,
		source: cfg.Source,
		filter: cfg.Filter,
		span:   span,
		log:    log,
	}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Delegations returns the staker's accepted delegations at the given tip
// height, re-deriving from the source when the cached set was computed in
// an earlier checkpoint span.
func (c *Cache) Delegations(staker types.Address, tipHeight int32) ([]Delegation, error) {
	derivedHeight, haveCached, err := c.derivedHeight(staker)
	if err != nil {
		return nil, err
	}
	if haveCached && derivedHeight/c.span == tipHeight/c.span {
		cached, err := c.load(staker)
		if err == nil {
			return cached, nil
		}
		c.log.Warn("discarding unreadable delegation cache entry",
			zap.String("staker", staker.String()),
			zap.Error(err))
	}

	derived, err := c.source.DelegationsForStaker(staker)
	if err != nil {
		return nil, errors.Wrapf(err, "derive delegations for %s", staker)
	}
	accepted := ApplyFilter(derived, c.filter)

	if err := c.store(staker, tipHeight, accepted); err != nil {
		return nil, err
	}
	c.log.Debug("refreshed delegation cache",
		zap.String("staker", staker.String()),
		zap.Int32("tipHeight", tipHeight),
		zap.Int("derived", len(derived)),
		zap.Int("accepted", len(accepted)))
	return accepted, nil
}

// Invalidate drops the cached set of a staker, forcing the next lookup
// through the source regardless of checkpoint span.
func (c *Cache) Invalidate(staker types.Address) error {
	batch := new(leveldb.Batch)
	batch.Delete(delegationKey(staker))
	batch.Delete(heightKey(staker))
	return c.db.Write(batch, nil)
}

func (c *Cache) derivedHeight(staker types.Address) (int32, bool, error) {
	raw, err := c.db.Get(heightKey(staker), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "read delegation cache height")
	}
	if len(raw) != 4 {
		return 0, false, nil
	}
	return int32(binary.LittleEndian.Uint32(raw)), true, nil
}

func (c *Cache) load(staker types.Address) ([]Delegation, error) {
	raw, err := c.db.Get(delegationKey(staker), nil)
	if err != nil {
		return nil, errors.Wrap(err, "read delegation cache entry")
	}
	return deserializeDelegations(raw)
}

func (c *Cache) store(staker types.Address, tipHeight int32, delegations []Delegation) error {
	var height [4]byte
	binary.LittleEndian.PutUint32(height[:], uint32(tipHeight))

	batch := new(leveldb.Batch)
	batch.Put(delegationKey(staker), serializeDelegations(delegations))
	batch.Put(heightKey(staker), height[:])
	if err := c.db.Write(batch, nil); err != nil {
		return errors.Wrap(err, "write delegation cache entry")
	}
	return nil
}

func delegationKey(staker types.Address) []byte {
	return append(append([]byte(nil), delegationKeyPrefix...), staker.Bytes()...)
}

func heightKey(staker types.Address) []byte {
	return append(append([]byte(nil), heightKeyPrefix...), staker.Bytes()...)
}

func serializeDelegations(delegations []Delegation) []byte {
	var buf bytes.Buffer
	var scratch [4]byte

	binary.LittleEndian.PutUint32(scratch[:], uint32(len(delegations)))
	buf.Write(scratch[:])
	for _, d := range delegations {
		buf.Write(d.Delegator.Bytes())
		buf.Write(d.Staker.Bytes())
		buf.WriteByte(d.Fee)
		binary.LittleEndian.PutUint32(scratch[:], uint32(d.BlockHeight))
		buf.Write(scratch[:])
		binary.LittleEndian.PutUint32(scratch[:], uint32(len(d.PoD)))
		buf.Write(scratch[:])
		buf.Write(d.PoD)
	}
	return buf.Bytes()
}

func deserializeDelegations(raw []byte) ([]Delegation, error) {
	if len(raw) < 4 {
		return nil, errors.New("delegation cache entry truncated")
	}
	count := binary.LittleEndian.Uint32(raw)
	raw = raw[4:]

	delegations := make([]Delegation, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(raw) < 2*types.AddressSize+9 {
			return nil, errors.New("delegation cache entry truncated")
		}
		var d Delegation
		d.Delegator = types.NewAddress(raw[:types.AddressSize])
		raw = raw[types.AddressSize:]
		d.Staker = types.NewAddress(raw[:types.AddressSize])
		raw = raw[types.AddressSize:]
		d.Fee = raw[0]
		d.BlockHeight = int32(binary.LittleEndian.Uint32(raw[1:5]))
		podLen := binary.LittleEndian.Uint32(raw[5:9])
		raw = raw[9:]
		if uint32(len(raw)) < podLen {
			return nil, errors.New("delegation cache entry truncated")
		}
		if podLen > 0 {
			d.PoD = append([]byte(nil), raw[:podLen]...)
			raw = raw[podLen:]
		}
		delegations = append(delegations, d)
	}
	return delegations, nil
}
