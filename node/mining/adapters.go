// Copyright (c) 2017 The btcsuite developers
// Copyright (c) 2021 The Hydranet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mining

import (
	"gitlab.com/hydranet/core/stake.core/node/dgp"
	"gitlab.com/hydranet/core/stake.core/node/economy"
)

// The registry proxies are the canonical implementations of the assembler's
// governance and ownership capabilities.
var (
	_ GovernanceState = (*dgp.Dgp)(nil)
	_ OwnerRegistry   = (*economy.Economy)(nil)
)
