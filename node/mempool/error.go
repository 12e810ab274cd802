// Copyright (c) 2014-2016 The btcsuite developers
// Copyright (c) 2021 The Hydranet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"fmt"
)

// RejectCode represents the reason a transaction was rejected by the pool.
type RejectCode uint8

const (
	RejectInvalid RejectCode = iota
	RejectDuplicate
	RejectNonstandard
	RejectInsufficientFee
)

// String returns the RejectCode in human-readable form.
func (code RejectCode) String() string {
	switch code {
	case RejectInvalid:
		return "RejectInvalid"
	case RejectDuplicate:
		return "RejectDuplicate"
	case RejectNonstandard:
		return "RejectNonstandard"
	case RejectInsufficientFee:
		return "RejectInsufficientFee"
	}
	return fmt.Sprintf("Unknown RejectCode (%d)", uint8(code))
}

// RuleError identifies a transaction that failed the pool's acceptance
// rules.  It is used to indicate that processing failed due to the
// transaction itself rather than an unexpected condition.
type RuleError struct {
	Code        RejectCode
	Description string
}

// Error satisfies the error interface and prints human-readable errors.
func (e RuleError) Error() string {
	return e.Description
}

// txRuleError creates a RuleError given a reject code and description.
func txRuleError(code RejectCode, desc string) RuleError {
	return RuleError{Code: code, Description: desc}
}

// IsRejectCode returns whether or not the passed error is a RuleError with
// the given reject code.
func IsRejectCode(err error, code RejectCode) bool {
	ruleErr, ok := err.(RuleError)
	return ok && ruleErr.Code == code
}
