// Copyright (c) 2021 The Hydranet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"encoding/binary"

	"gitlab.com/hydranet/core/stake.core/types"
)

// Script opcodes used by this package.  Script execution itself lives in the
// full script engine; only the opcodes needed for template construction and
// contract-call recognition are defined here.
const (
	OpDup         = 0x76
	OpHash160     = 0xa9
	OpEqualVerify = 0x88
	OpCheckSig    = 0xac
	OpReturn      = 0x6a
	OpTrue        = 0x51

	// Contract opcodes.  A contract-bearing output script always ends in
	// one of these.
	OpCreate = 0xc1
	OpCall   = 0xc2
)

// ContractScriptVersion is the in-script VM version tag for EVM calls.
const ContractScriptVersion = 0x04

// ContractScript is the decoded form of a contract create or call output
// script.
type ContractScript struct {
	VMVersion byte
	GasLimit  uint64
	GasPrice  uint64
	Data      []byte

	// Contract is the callee address.  Nil for create scripts.
	Contract *types.Address
}

// IsCreate reports whether the script creates a new contract.
func (cs *ContractScript) IsCreate() bool {
	return cs.Contract == nil
}

// ScriptHasContractOp reports whether a pkScript ends in a contract create
// or call opcode.
func ScriptHasContractOp(script []byte) bool {
	if len(script) == 0 {
		return false
	}
	op := script[len(script)-1]
	return op == OpCreate || op == OpCall
}

// ContractCallScript assembles an output script invoking the given contract.
func ContractCallScript(gasLimit, gasPrice uint64, data []byte, contract types.Address) []byte {
	var buf bytes.Buffer
	writeContractPrefix(&buf, gasLimit, gasPrice, data)
	buf.Write(contract[:])
	buf.WriteByte(OpCall)
	return buf.Bytes()
}

// ContractCreateScript assembles an output script deploying the given code.
func ContractCreateScript(gasLimit, gasPrice uint64, code []byte) []byte {
	var buf bytes.Buffer
	writeContractPrefix(&buf, gasLimit, gasPrice, code)
	buf.WriteByte(OpCreate)
	return buf.Bytes()
}

func writeContractPrefix(buf *bytes.Buffer, gasLimit, gasPrice uint64, data []byte) {
	var scratch [8]byte
	buf.WriteByte(ContractScriptVersion)
	binary.LittleEndian.PutUint64(scratch[:], gasLimit)
	buf.Write(scratch[:])
	binary.LittleEndian.PutUint64(scratch[:], gasPrice)
	buf.Write(scratch[:])
	writeVarBytes(buf, data)
}

// ParseContractScript decodes a contract create or call script.  It returns
// false for scripts that do not carry a contract opcode or are malformed.
func ParseContractScript(script []byte) (*ContractScript, bool) {
	if !ScriptHasContractOp(script) {
		return nil, false
	}
	op := script[len(script)-1]
	body := script[:len(script)-1]

	// Version byte, gas limit, gas price.
	if len(body) < 17 {
		return nil, false
	}
	cs := &ContractScript{VMVersion: body[0]}
	cs.GasLimit = binary.LittleEndian.Uint64(body[1:9])
	cs.GasPrice = binary.LittleEndian.Uint64(body[9:17])
	body = body[17:]

	data, rest, ok := readVarBytes(body)
	if !ok {
		return nil, false
	}
	cs.Data = data

	if op == OpCall {
		if len(rest) != types.AddressSize {
			return nil, false
		}
		addr := types.NewAddress(rest)
		cs.Contract = &addr
	} else if len(rest) != 0 {
		return nil, false
	}
	return cs, true
}

// PayToKeyHashScript assembles a standard pay-to-key-hash output script.
func PayToKeyHashScript(addr types.Address) []byte {
	script := make([]byte, 0, 25)
	script = append(script, OpDup, OpHash160, types.AddressSize)
	script = append(script, addr[:]...)
	script = append(script, OpEqualVerify, OpCheckSig)
	return script
}

// ExtractKeyHash returns the key hash of a standard pay-to-key-hash script.
func ExtractKeyHash(script []byte) (types.Address, bool) {
	if len(script) != 25 || script[0] != OpDup || script[1] != OpHash160 ||
		script[2] != types.AddressSize ||
		script[23] != OpEqualVerify || script[24] != OpCheckSig {
		return types.Address{}, false
	}
	return types.NewAddress(script[3:23]), true
}

func readVarBytes(b []byte) (data, rest []byte, ok bool) {
	if len(b) == 0 {
		return nil, nil, false
	}
	var n uint64
	var hdr int
	switch b[0] {
	case 0xfd:
		if len(b) < 3 {
			return nil, nil, false
		}
		n = uint64(binary.LittleEndian.Uint16(b[1:3]))
		hdr = 3
	case 0xfe:
		if len(b) < 5 {
			return nil, nil, false
		}
		n = uint64(binary.LittleEndian.Uint32(b[1:5]))
		hdr = 5
	case 0xff:
		if len(b) < 9 {
			return nil, nil, false
		}
		n = binary.LittleEndian.Uint64(b[1:9])
		hdr = 9
	default:
		n = uint64(b[0])
		hdr = 1
	}
	if uint64(len(b)-hdr) < n {
		return nil, nil, false
	}
	return b[hdr : hdr+int(n)], b[hdr+int(n):], true
}
