// Copyright (c) 2021 The Hydranet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mining

import (
	"go.uber.org/zap"

	"gitlab.com/hydranet/core/stake.core/chaincfg"
	"gitlab.com/hydranet/core/stake.core/node/economy"
	"gitlab.com/hydranet/core/stake.core/types"
	"gitlab.com/hydranet/core/stake.core/types/wire"
)

// rewardOut returns the reward-bearing output: output 0 of the coinbase for
// work blocks, output 1 of the coinstake for stake blocks.
func (ba *blockAssembler) rewardOut() *wire.TxOut {
	if ba.proofOfStake {
		return ba.rewardTx.TxOut[1]
	}
	return ba.rewardTx.TxOut[0]
}

// calcRewardWithoutDividends sets the reward output to collected fees plus
// subsidy, minus the refunds already owed back to contract senders.
// Dividends and burn are deducted afterwards, in that order.
func (ba *blockAssembler) calcRewardWithoutDividends() {
	subsidy := chaincfg.CalcBlockSubsidy(ba.height, ba.cfg.ChainParams)
	ba.rewardOut().Value = int64(ba.fees + subsidy - ba.execResult.RefundSender)
}

// addRefundOutputs appends the gas refund outputs accumulated during
// contract execution to the reward transaction.
func (ba *blockAssembler) addRefundOutputs() {
	for _, refund := range ba.execResult.RefundOutputs {
		ba.rewardTx.AddTxOut(refund)
	}
}

// addDividends deducts the dividend obligations from the reward and fee
// totals and pays them out as additional reward outputs addressed to the
// registered contract owners.  Obligations of ownerless contracts stay
// with the staker.
func (ba *blockAssembler) addDividends() error {
	if len(ba.execResult.Dividends) == 0 {
		return nil
	}
	dividends, err := ba.cfg.Owners.ResolveDividends(ba.execResult.Dividends)
	if err != nil {
		return err
	}

	rewardOut := ba.rewardOut()
	for _, dividend := range dividends {
		rewardOut.Value -= int64(dividend.Amount)
		ba.fees -= dividend.Amount
	}
	outputs, total := economy.DividendOutputs(dividends)
	for _, out := range outputs {
		ba.rewardTx.AddTxOut(out)
	}
	if total > 0 {
		ba.gen.log.Debug("paid contract dividends",
			zap.Int("owners", len(outputs)),
			zap.Int64("total", int64(total)))
	}
	return nil
}

// addOwnerRegistrationOutput appends the zero-value administrative output
// that registers the owners of contracts created in this block.
func (ba *blockAssembler) addOwnerRegistrationOutput() {
	script := ba.cfg.Owners.AddOwnersScript(
		ba.execResult.ContractAddresses, ba.execResult.ContractOwners)
	ba.rewardTx.AddTxOut(&wire.TxOut{Value: 0, PkScript: script})
}

// addVoteFinalizationOutput appends the zero-value administrative output
// that concludes the open governance vote at this height.
func (ba *blockAssembler) addVoteFinalizationOutput() {
	ba.rewardTx.AddTxOut(&wire.TxOut{
		Value:    0,
		PkScript: ba.cfg.Governance.FinishVoteScript(),
	})
}

// burnFees deducts the governed burn percentage from the fee residual of a
// stake block.  The residual excludes sender refunds; dividends were
// already removed from the fee total.
func (ba *blockAssembler) burnFees() {
	burnRate := ba.cfg.Governance.BurnRate(ba.height)
	if burnRate == 0 {
		return
	}
	burned := ((ba.fees - ba.execResult.RefundSender) / 100) * types.Amount(burnRate)
	if burned <= 0 {
		return
	}
	ba.rewardOut().Value -= int64(burned)
	ba.fees -= burned
	ba.gen.log.Debug("burned fee residual",
		zap.Int64("burned", int64(burned)),
		zap.Uint64("burnRate", burnRate))
}
