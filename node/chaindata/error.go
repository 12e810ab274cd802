// Copyright (c) 2021 The Hydranet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaindata

import "fmt"

// ErrorCode identifies a kind of rule error.
type ErrorCode int

const (
	// ErrBlockWeight indicates the assembled block exceeds the maximum
	// allowed weight.
	ErrBlockWeight ErrorCode = iota

	// ErrSigOpsCost indicates the assembled block exceeds the maximum
	// allowed signature operation cost.
	ErrSigOpsCost

	// ErrTxNotFinal indicates a transaction failed the locktime finality
	// check for the template height.
	ErrTxNotFinal

	// ErrOwnerMismatch indicates the contract address and contract owner
	// bookkeeping lists diverged during block assembly.
	ErrOwnerMismatch

	// ErrBlockValidity indicates the assembled block failed its own
	// self-validation pass.
	ErrBlockValidity

	// ErrStaleTip indicates the chain tip advanced underneath an
	// in-progress operation.
	ErrStaleTip

	// ErrTimestampExpired indicates a stake block timestamp fell outside
	// the allowed window before the block could be finished.
	ErrTimestampExpired

	// ErrStakeSpent indicates a staked input was spent before the block
	// could be submitted.
	ErrStakeSpent

	// ErrNoChainTip indicates the chain index has no tip to build on.
	ErrNoChainTip
)

var errorCodeStrings = map[ErrorCode]string{
	ErrBlockWeight:      "ErrBlockWeight",
	ErrSigOpsCost:       "ErrSigOpsCost",
	ErrTxNotFinal:       "ErrTxNotFinal",
	ErrOwnerMismatch:    "ErrOwnerMismatch",
	ErrBlockValidity:    "ErrBlockValidity",
	ErrStaleTip:         "ErrStaleTip",
	ErrTimestampExpired: "ErrTimestampExpired",
	ErrStakeSpent:       "ErrStakeSpent",
	ErrNoChainTip:       "ErrNoChainTip",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s, ok := errorCodeStrings[e]; ok {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// RuleError identifies a rule violation.  It is used to indicate that
// processing of a block or transaction failed due to one of the many
// validation rules.  The caller can use type assertions to detect a rule
// violation and access the ErrorCode to distinguish recoverable conditions
// from fatal ones.
type RuleError struct {
	ErrorCode   ErrorCode
	Description string
}

// Error satisfies the error interface and prints human-readable errors.
func (e RuleError) Error() string {
	return e.Description
}

// NewRuleError creates a RuleError given a set of arguments.
func NewRuleError(c ErrorCode, desc string) RuleError {
	return RuleError{ErrorCode: c, Description: desc}
}

// IsRuleErrorCode reports whether err is a RuleError carrying the given
// code.
func IsRuleErrorCode(err error, code ErrorCode) bool {
	ruleErr, ok := err.(RuleError)
	return ok && ruleErr.ErrorCode == code
}

// AssertError identifies an error that indicates an internal code
// consistency issue and should be treated as a critical, unrecoverable
// error.
type AssertError string

// Error returns the assertion error as a human-readable string and satisfies
// the error interface.
func (e AssertError) Error() string {
	return "assertion failed: " + string(e)
}
