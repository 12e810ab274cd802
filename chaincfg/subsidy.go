// Copyright (c) 2021 The Hydranet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincfg

import "gitlab.com/hydranet/core/stake.core/types"

// CalcBlockSubsidy returns the subsidy amount a block at the provided height
// should have.  The subsidy halves every SubsidyHalvingInterval blocks and
// eventually reaches zero.
func CalcBlockSubsidy(height int32, params *Params) types.Amount {
	if params.SubsidyHalvingInterval == 0 {
		return types.Amount(params.BaseSubsidy)
	}

	halvings := uint(height / params.SubsidyHalvingInterval)
	if halvings >= 64 {
		return 0
	}

	// Equivalent to: baseSubsidy / 2^halvings
	return types.Amount(params.BaseSubsidy >> halvings)
}
