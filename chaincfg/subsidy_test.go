// Copyright (c) 2021 The Hydranet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincfg

import (
	"testing"

	"gitlab.com/hydranet/core/stake.core/types"
)

func TestCalcBlockSubsidy(t *testing.T) {
	tests := []struct {
		name   string
		height int32
		params *Params
		want   types.Amount
	}{
		{"regtest genesis", 0, &RegressionNetParams, 50 * 1e8},
		{"regtest before halving", 149, &RegressionNetParams, 50 * 1e8},
		{"regtest first halving", 150, &RegressionNetParams, 25 * 1e8},
		{"regtest second halving", 300, &RegressionNetParams, 125e7},
		{"mainnet base", 1000, &MainNetParams, 4 * 1e8},
		{"mainnet first halving", 985500, &MainNetParams, 2 * 1e8},
	}

	for _, test := range tests {
		got := CalcBlockSubsidy(test.height, test.params)
		if got != test.want {
			t.Errorf("%s: subsidy mismatch, got %d want %d",
				test.name, got, test.want)
		}
	}
}

func TestFutureDrift(t *testing.T) {
	if got := MainNetParams.FutureDrift(1000); got != 1015 {
		t.Errorf("FutureDrift: got %d want 1015", got)
	}
}
