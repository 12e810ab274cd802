// Copyright (c) 2021 The Hydranet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"gitlab.com/hydranet/core/stake.core/types/chainhash"
)

const (
	// TxVersion is the current latest supported transaction version.
	TxVersion = 2

	// MaxTxInSequenceNum is the maximum sequence number the sequence field
	// of a transaction input can be.
	MaxTxInSequenceNum uint32 = 0xffffffff

	// MaxPrevOutIndex is the maximum index the index field of a previous
	// outpoint can be.
	MaxPrevOutIndex uint32 = 0xffffffff

	// WitnessScaleFactor determines the level of "discount" witness data
	// receives compared to "base" data.
	WitnessScaleFactor = 4
)

// OutPoint defines a data type that is used to track previous transaction
// outputs.
type OutPoint struct {
	Hash  chainhash.Hash
	Index uint32
}

// NewOutPoint returns a new transaction outpoint point with the
// provided hash and index.
func NewOutPoint(hash *chainhash.Hash, index uint32) *OutPoint {
	return &OutPoint{
		Hash:  *hash,
		Index: index,
	}
}

// IsNull reports whether the outpoint is the designated null reference, used
// for coinbase inputs and absent stake prevouts.
func (o OutPoint) IsNull() bool {
	return o.Hash.IsZero() && o.Index == MaxPrevOutIndex
}

// NullOutPoint returns the designated null outpoint.
func NullOutPoint() OutPoint {
	return OutPoint{Index: MaxPrevOutIndex}
}

// String returns the OutPoint in the human-readable form "hash:index".
func (o OutPoint) String() string {
	return fmt.Sprintf("%s:%d", o.Hash, o.Index)
}

// TxIn defines a transaction input.
type TxIn struct {
	PreviousOutPoint OutPoint
	SignatureScript  []byte
	Witness          [][]byte
	Sequence         uint32
}

// NewTxIn returns a new transaction input with the provided previous outpoint
// point and signature script with a default sequence of MaxTxInSequenceNum.
func NewTxIn(prevOut *OutPoint, signatureScript []byte) *TxIn {
	return &TxIn{
		PreviousOutPoint: *prevOut,
		SignatureScript:  signatureScript,
		Sequence:         MaxTxInSequenceNum,
	}
}

// TxOut defines a transaction output.
type TxOut struct {
	Value    int64
	PkScript []byte
}

// NewTxOut returns a new transaction output with the provided value and
// public key script.
func NewTxOut(value int64, pkScript []byte) *TxOut {
	return &TxOut{
		Value:    value,
		PkScript: pkScript,
	}
}

// SetEmpty clears the output.  Empty first outputs mark coinbase
// transactions in proof-of-stake blocks and the coinstake marker output.
func (t *TxOut) SetEmpty() {
	t.Value = 0
	t.PkScript = nil
}

// IsEmpty reports whether the output carries no value and no script.
func (t *TxOut) IsEmpty() bool {
	return t.Value == 0 && len(t.PkScript) == 0
}

// MsgTx implements the Message interface and represents a transaction
// message.  Use the AddTxIn and AddTxOut functions to build up the list of
// transaction inputs and outputs.
type MsgTx struct {
	Version  int32
	TxIn     []*TxIn
	TxOut    []*TxOut
	LockTime uint32
}

// NewMsgTx returns a new tx message with the provided version.
func NewMsgTx(version int32) *MsgTx {
	return &MsgTx{
		Version: version,
		TxIn:    make([]*TxIn, 0, 2),
		TxOut:   make([]*TxOut, 0, 2),
	}
}

// AddTxIn adds a transaction input to the message.
func (msg *MsgTx) AddTxIn(ti *TxIn) {
	msg.TxIn = append(msg.TxIn, ti)
}

// AddTxOut adds a transaction output to the message.
func (msg *MsgTx) AddTxOut(to *TxOut) {
	msg.TxOut = append(msg.TxOut, to)
}

// IsCoinBase determines whether or not a transaction is a coinbase.  A
// coinbase is a special transaction created without inputs referencing real
// outputs.
func (msg *MsgTx) IsCoinBase() bool {
	return len(msg.TxIn) == 1 && msg.TxIn[0].PreviousOutPoint.IsNull()
}

// IsCoinStake determines whether or not a transaction is a coinstake: it
// spends at least one real input and its first output is empty.
func (msg *MsgTx) IsCoinStake() bool {
	return len(msg.TxIn) > 0 && !msg.TxIn[0].PreviousOutPoint.IsNull() &&
		len(msg.TxOut) >= 2 && msg.TxOut[0].IsEmpty()
}

// HasWitness reports whether any input of the transaction carries witness
// data.
func (msg *MsgTx) HasWitness() bool {
	for _, txIn := range msg.TxIn {
		if len(txIn.Witness) != 0 {
			return true
		}
	}
	return false
}

// HasContractCalls reports whether any output script ends in a contract
// create or call opcode.
func (msg *MsgTx) HasContractCalls() bool {
	for _, txOut := range msg.TxOut {
		if ScriptHasContractOp(txOut.PkScript) {
			return true
		}
	}
	return false
}

// ValueOut returns the sum of all output values.
func (msg *MsgTx) ValueOut() int64 {
	var total int64
	for _, txOut := range msg.TxOut {
		total += txOut.Value
	}
	return total
}

// TxHash generates the Hash for the transaction.  Witness data is excluded,
// matching the txid convention.
func (msg *MsgTx) TxHash() chainhash.Hash {
	var buf bytes.Buffer
	buf.Grow(msg.SerializeSizeStripped())
	msg.serialize(&buf, false)
	return chainhash.DoubleHashH(buf.Bytes())
}

// Copy creates a deep copy of a transaction so that the original does not get
// modified when the copy is manipulated.
func (msg *MsgTx) Copy() *MsgTx {
	newTx := MsgTx{
		Version:  msg.Version,
		TxIn:     make([]*TxIn, 0, len(msg.TxIn)),
		TxOut:    make([]*TxOut, 0, len(msg.TxOut)),
		LockTime: msg.LockTime,
	}

	for _, oldTxIn := range msg.TxIn {
		newScript := make([]byte, len(oldTxIn.SignatureScript))
		copy(newScript, oldTxIn.SignatureScript)

		newTxIn := TxIn{
			PreviousOutPoint: oldTxIn.PreviousOutPoint,
			SignatureScript:  newScript,
			Sequence:         oldTxIn.Sequence,
		}
		if len(oldTxIn.Witness) != 0 {
			newTxIn.Witness = make([][]byte, len(oldTxIn.Witness))
			for i, item := range oldTxIn.Witness {
				w := make([]byte, len(item))
				copy(w, item)
				newTxIn.Witness[i] = w
			}
		}
		newTx.TxIn = append(newTx.TxIn, &newTxIn)
	}

	for _, oldTxOut := range msg.TxOut {
		newScript := make([]byte, len(oldTxOut.PkScript))
		copy(newScript, oldTxOut.PkScript)
		newTx.TxOut = append(newTx.TxOut, &TxOut{
			Value:    oldTxOut.Value,
			PkScript: newScript,
		})
	}

	return &newTx
}

func (msg *MsgTx) serialize(buf *bytes.Buffer, includeWitness bool) {
	var scratch [8]byte

	binary.LittleEndian.PutUint32(scratch[:4], uint32(msg.Version))
	buf.Write(scratch[:4])

	doWitness := includeWitness && msg.HasWitness()
	if doWitness {
		// Marker and flag bytes of the witness encoding.
		buf.WriteByte(0x00)
		buf.WriteByte(0x01)
	}

	writeVarInt(buf, uint64(len(msg.TxIn)))
	for _, ti := range msg.TxIn {
		buf.Write(ti.PreviousOutPoint.Hash[:])
		binary.LittleEndian.PutUint32(scratch[:4], ti.PreviousOutPoint.Index)
		buf.Write(scratch[:4])
		writeVarBytes(buf, ti.SignatureScript)
		binary.LittleEndian.PutUint32(scratch[:4], ti.Sequence)
		buf.Write(scratch[:4])
	}

	writeVarInt(buf, uint64(len(msg.TxOut)))
	for _, to := range msg.TxOut {
		binary.LittleEndian.PutUint64(scratch[:], uint64(to.Value))
		buf.Write(scratch[:])
		writeVarBytes(buf, to.PkScript)
	}

	if doWitness {
		for _, ti := range msg.TxIn {
			writeVarInt(buf, uint64(len(ti.Witness)))
			for _, item := range ti.Witness {
				writeVarBytes(buf, item)
			}
		}
	}

	binary.LittleEndian.PutUint32(scratch[:4], msg.LockTime)
	buf.Write(scratch[:4])
}

// Serialize encodes the transaction, witness data included, and returns the
// raw bytes.
func (msg *MsgTx) Serialize() []byte {
	var buf bytes.Buffer
	buf.Grow(msg.SerializeSize())
	msg.serialize(&buf, true)
	return buf.Bytes()
}

// SerializeSize returns the number of bytes it would take to serialize the
// transaction, witness data included.
func (msg *MsgTx) SerializeSize() int {
	n := msg.SerializeSizeStripped()
	if msg.HasWitness() {
		n += 2
		for _, ti := range msg.TxIn {
			n += varIntSerializeSize(uint64(len(ti.Witness)))
			for _, item := range ti.Witness {
				n += varIntSerializeSize(uint64(len(item))) + len(item)
			}
		}
	}
	return n
}

// SerializeSizeStripped returns the number of bytes it would take to
// serialize the transaction with any witness data omitted.
func (msg *MsgTx) SerializeSizeStripped() int {
	// Version 4 bytes + LockTime 4 bytes + serialized varint size for the
	// number of transaction inputs and outputs.
	n := 8 + varIntSerializeSize(uint64(len(msg.TxIn))) +
		varIntSerializeSize(uint64(len(msg.TxOut)))

	for _, ti := range msg.TxIn {
		// Outpoint hash 32 bytes + index 4 bytes + sequence 4 bytes.
		n += 40 + varIntSerializeSize(uint64(len(ti.SignatureScript))) +
			len(ti.SignatureScript)
	}
	for _, to := range msg.TxOut {
		n += 8 + varIntSerializeSize(uint64(len(to.PkScript))) +
			len(to.PkScript)
	}
	return n
}

// GetTransactionWeight computes the value of the weight metric for a given
// transaction: (baseSize * 3) + totalSize.
func GetTransactionWeight(tx *MsgTx) int64 {
	baseSize := tx.SerializeSizeStripped()
	totalSize := tx.SerializeSize()
	return int64(baseSize*(WitnessScaleFactor-1) + totalSize)
}

func writeVarInt(buf *bytes.Buffer, val uint64) {
	var scratch [8]byte
	switch {
	case val < 0xfd:
		buf.WriteByte(byte(val))
	case val <= 0xffff:
		buf.WriteByte(0xfd)
		binary.LittleEndian.PutUint16(scratch[:2], uint16(val))
		buf.Write(scratch[:2])
	case val <= 0xffffffff:
		buf.WriteByte(0xfe)
		binary.LittleEndian.PutUint32(scratch[:4], uint32(val))
		buf.Write(scratch[:4])
	default:
		buf.WriteByte(0xff)
		binary.LittleEndian.PutUint64(scratch[:], val)
		buf.Write(scratch[:])
	}
}

func writeVarBytes(buf *bytes.Buffer, b []byte) {
	writeVarInt(buf, uint64(len(b)))
	buf.Write(b)
}

func varIntSerializeSize(val uint64) int {
	switch {
	case val < 0xfd:
		return 1
	case val <= 0xffff:
		return 3
	case val <= 0xffffffff:
		return 5
	default:
		return 9
	}
}
