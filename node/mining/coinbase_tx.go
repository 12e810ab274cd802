// Copyright (c) 2017 The btcsuite developers
// Copyright (c) 2021 The Hydranet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mining

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"gitlab.com/hydranet/core/stake.core/chaincfg"
	"gitlab.com/hydranet/core/stake.core/types"
	"gitlab.com/hydranet/core/stake.core/types/wire"
)

// StandardCoinbaseScript returns a standard script suitable for use as the
// signature script of the coinbase transaction of a new block.  In
// particular, it starts with the block height that is required by version 2
// blocks and adds the extra nonce as well as additional coinbase flags.
func StandardCoinbaseScript(nextBlockHeight int32, extraNonce uint64) []byte {
	var buf bytes.Buffer
	var scratch [8]byte

	binary.LittleEndian.PutUint32(scratch[:4], uint32(nextBlockHeight))
	buf.Write(scratch[:4])
	binary.LittleEndian.PutUint64(scratch[:], extraNonce)
	buf.Write(scratch[:])
	buf.WriteString(CoinbaseFlags)
	return buf.Bytes()
}

// CreateCoinbaseTx returns a coinbase transaction paying an appropriate
// subsidy based on the passed block height to the provided address.  When
// the address is zero, the coinbase is redeemable by anyone, which is
// useful for generating templates before a pay address is configured.
func CreateCoinbaseTx(params *chaincfg.Params, value types.Amount,
	nextHeight int32, addr types.Address) (*wire.MsgTx, error) {

	coinbaseScript := StandardCoinbaseScript(nextHeight, 0)
	if len(coinbaseScript) > CoinbaseSigScriptMaxSize {
		return nil, errors.Errorf("coinbase signature script exceeds %d bytes",
			CoinbaseSigScriptMaxSize)
	}

	var pkScript []byte
	if addr.IsZero() {
		pkScript = []byte{wire.OpTrue}
	} else {
		pkScript = wire.PayToKeyHashScript(addr)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.NullOutPoint(),
		SignatureScript:  coinbaseScript,
		Sequence:         wire.MaxTxInSequenceNum,
	})
	tx.AddTxOut(wire.NewTxOut(int64(value), pkScript))
	return tx, nil
}
