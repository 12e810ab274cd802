// Copyright (c) 2021 The Hydranet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// stakesim exercises the block assembly and staking pipeline against an
// in-memory regression test chain.  It is a development tool: no networking,
// no database, no real signatures.  Results go to stdout and optionally to a
// CSV report.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"gitlab.com/hydranet/core/stake.core/chaincfg"
	"gitlab.com/hydranet/core/stake.core/node/chaindata"
	"gitlab.com/hydranet/core/stake.core/node/mempool"
	"gitlab.com/hydranet/core/stake.core/node/mining"
	"gitlab.com/hydranet/core/stake.core/node/mining/cpuminer"
	"gitlab.com/hydranet/core/stake.core/node/mining/staker"
	"gitlab.com/hydranet/core/stake.core/node/vm"
	"gitlab.com/hydranet/core/stake.core/types"
	"gitlab.com/hydranet/core/stake.core/types/chainhash"
	"gitlab.com/hydranet/core/stake.core/types/wire"
)

// easyBits is a regression test difficulty that nearly every kernel and
// header satisfies, so simulations never stall.
const easyBits = uint32(0x207fffff)

func main() {
	app := &App{}
	cliApp := &cli.App{
		Name:   "stakesim",
		Usage:  "simulate staking and block assembly on an in-memory chain",
		Flags:  app.InitFlags(),
		Before: app.InitSim,
		Commands: []*cli.Command{
			{
				Name:   "stake",
				Usage:  "produce proof-of-stake blocks and report them",
				Action: app.StakeCmd,
				Flags:  app.StakeFlags(),
			},
			{
				Name:   "generate",
				Usage:  "mine proof-of-work blocks on the simulated chain",
				Action: app.GenerateCmd,
				Flags:  app.GenerateFlags(),
			},
			{
				Name:   "report",
				Usage:  "summarize a CSV report produced by the stake command",
				Action: app.ReportCmd,
				Flags:  app.ReportFlags(),
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		println(err.Error())
		os.Exit(1)
	}
}

type App struct {
	params  *chaincfg.Params
	rng     *rand.Rand
	verbose bool

	now  int64
	tip  *chaindata.BlockNode
	pool *mempool.TxPool

	generator    *mining.BlkTmplGenerator
	solver       *staker.Solver
	coins        []*staker.StakeCoin
	rewardScript []byte
	txsPerBlock  int
}

func (app *App) InitFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:    "seed",
			Aliases: []string{"s"},
			Value:   1,
			Usage:   "seed for the deterministic transaction and coin generator",
		},
		&cli.IntFlag{
			Name:  "coins",
			Value: 16,
			Usage: "number of stakeable coins in the simulated wallet",
		},
		&cli.IntFlag{
			Name:    "workers",
			Aliases: []string{"w"},
			Value:   2,
			Usage:   "kernel solver worker count",
		},
		&cli.IntFlag{
			Name:  "txs-per-block",
			Value: 8,
			Usage: "pending transactions injected before each round",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "dump the first winning solution and template",
		},
	}
}

func (app *App) InitSim(c *cli.Context) error {
	app.params = &chaincfg.RegressionNetParams
	app.rng = rand.New(rand.NewSource(c.Int64("seed")))
	app.verbose = c.Bool("verbose")
	app.txsPerBlock = c.Int("txs-per-block")

	app.now = time.Now().Unix()
	genesisHash := chainhash.HashH([]byte(fmt.Sprintf("stakesim-genesis-%d", c.Int64("seed"))))
	app.tip = chaindata.NewBlockNode(nil, genesisHash, 0, easyBits, app.now-600)
	app.tip.StakeModifier = chainhash.HashH(genesisHash[:])

	app.coins = app.makeCoins(c.Int("coins"))
	app.rewardScript = wire.PayToKeyHashScript(app.randomAddress())
	app.solver = staker.NewSolver(c.Int("workers"), nil)

	app.pool = mempool.New(&mempool.Config{
		ChainParams:   app.params,
		MinRelayTxFee: types.NewFeeRate(1000),
		MinGasPrice:   func() uint64 { return 1 },
		BestHeight:    func() int32 { return app.tip.Height },
		SigOpCost:     simSigOpCost,
	})

	state := vm.NewNaiveState(
		chainhash.HashH([]byte("stakesim-state")),
		chainhash.HashH([]byte("stakesim-utxo")))
	app.generator = mining.NewBlkTmplGenerator(&mining.Config{
		ChainParams: app.params,
		TxSource:    app.pool,
		BestTip:     func() *chaindata.BlockNode { return app.tip },
		NextBits: func(*chaindata.BlockNode, bool) uint32 {
			return easyBits
		},
		TimeSource: func() time.Time { return time.Unix(app.now, 0) },
		Executor:   &vm.NaiveExecutor{State: state},
		State:      state,
		Governance: simGovernance{},
		ResolveInput: func(op wire.OutPoint) (types.Address, types.Amount, bool) {
			return types.NewAddress(op.Hash[:types.AddressSize]), 5 * 100000000, true
		},
		SigOpCost: simSigOpCost,
	})
	return nil
}

func (app *App) StakeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:    "blocks",
			Aliases: []string{"n"},
			Value:   10,
			Usage:   "number of stake blocks to produce",
		},
		&cli.StringFlag{
			Name:    "out",
			Aliases: []string{"o"},
			Value:   "",
			Usage:   "path of the CSV report, empty skips the report",
		},
	}
}

func (app *App) StakeCmd(c *cli.Context) error {
	blocks := c.Int("blocks")
	rows := make([]BlockRow, 0, blocks)

	for i := 0; i < blocks; i++ {
		app.injectTransactions()

		row, err := app.stakeOneBlock(i == 0)
		if err != nil {
			return cli.Exit(errors.Wrap(err, "staking round failed"), 1)
		}
		rows = append(rows, row)

		fmt.Printf("block %d  %s  stake %s:%d  fees %d  txs %d\n",
			row.Height, row.Hash[:16], row.StakeHash[:16], row.StakeIndex,
			row.Fees, row.TxCount)
	}

	if out := c.String("out"); out != "" {
		if err := NewCSVStorage(out).SaveRows(rows); err != nil {
			return cli.Exit(errors.Wrap(err, "unable to write report"), 1)
		}
		fmt.Printf("report written to %s\n", out)
	}
	return nil
}

// stakeOneBlock runs one full round: kernel search over the fresh timestamp
// window, template assembly on the winning solution, and chain extension.
func (app *App) stakeOneBlock(dump bool) (BlockRow, error) {
	mask := int64(app.params.StakeTimestampMask)
	step := uint32(mask + 1)

	tries := 0
	for {
		tries++
		base := uint32(app.now & ^mask)
		limit := base + app.params.MaxStakeLookahead

		var timestamps []uint32
		for ts := base; ts < limit; ts += step {
			if int64(ts) > app.tip.Timestamp {
				timestamps = append(timestamps, ts)
			}
		}

		app.solver.Search(app.tip, easyBits, app.coins, timestamps)
		for _, ts := range timestamps {
			sols := app.solver.Solutions(ts)
			if len(sols) == 0 {
				continue
			}
			return app.connectStakeBlock(sols[0], ts, tries, dump)
		}

		// No kernel in the whole window, slide the clock and retry.
		app.now += int64(app.params.MaxStakeLookahead)
		if tries > 100 {
			return BlockRow{}, errors.New("no stake kernel found")
		}
	}
}

func (app *App) connectStakeBlock(sol *staker.SolveItem, ts uint32,
	tries int, dump bool) (BlockRow, error) {

	template, totalFees, err := app.generator.NewBlockTemplate(
		app.rewardScript, true, ts, time.Time{})
	if err != nil {
		return BlockRow{}, err
	}

	block := template.Block
	block.Header.PrevoutStake = sol.Coin.OutPoint
	if len(block.Transactions[1].TxIn) == 0 {
		block.Transactions[1].AddTxIn(wire.NewTxIn(&sol.Coin.OutPoint, nil))
		block.Header.MerkleRoot = chainhash.CalcMerkleRoot(block.TxHashes())
	}

	if dump && app.verbose {
		fmt.Print(spew.Sdump(sol))
		fmt.Print(spew.Sdump(template.Fees))
	}

	var reward int64
	for _, out := range block.Transactions[1].TxOut {
		reward += out.Value
	}

	hash := block.BlockHash()
	node := chaindata.NewBlockNode(app.tip, hash, app.tip.Height+1,
		block.Header.Bits, int64(block.Header.Timestamp))
	node.ProofOfStake = true
	node.StakeModifier = chaindata.ComputeStakeModifier(
		app.tip.StakeModifier, sol.Coin.OutPoint.Hash)
	app.tip = node

	app.pool.RemoveConfirmedTransactions(block)
	if int64(ts) > app.now {
		app.now = int64(ts)
	}
	app.now += int64(app.params.StakeTimestampMask) + 1

	return BlockRow{
		Height:     node.Height,
		Hash:       hash.String(),
		Timestamp:  block.Header.Timestamp,
		StakeHash:  sol.Coin.OutPoint.Hash.String(),
		StakeIndex: sol.Coin.OutPoint.Index,
		StakeValue: int64(sol.Coin.Value),
		ProofHash:  sol.ProofHash.String(),
		Reward:     reward,
		Fees:       int64(totalFees),
		TxCount:    len(block.Transactions),
		Tries:      tries,
	}, nil
}

func (app *App) GenerateFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:    "blocks",
			Aliases: []string{"n"},
			Value:   1,
			Usage:   "number of work blocks to mine",
		},
	}
}

func (app *App) GenerateCmd(c *cli.Context) error {
	miner := cpuminer.New(&cpuminer.Config{
		ChainParams:            app.params,
		BlockTemplateGenerator: app.generator,
		RewardScript:           app.rewardScript,
		BestTip:                func() *chaindata.BlockNode { return app.tip },
		ProcessBlock:           app.connectWorkBlock,
		ConnectedCount:         func() int32 { return 1 },
		IsCurrent:              func() bool { return true },
	}, nil)

	hashes, err := miner.GenerateNBlocks(uint32(c.Int("blocks")))
	if err != nil {
		return cli.Exit(errors.Wrap(err, "mining failed"), 1)
	}
	for _, hash := range hashes {
		fmt.Println(hash)
	}
	return nil
}

func (app *App) connectWorkBlock(block *wire.MsgBlock) (bool, error) {
	hash := block.BlockHash()
	node := chaindata.NewBlockNode(app.tip, hash, app.tip.Height+1,
		block.Header.Bits, int64(block.Header.Timestamp))
	node.StakeModifier = chaindata.ComputeStakeModifier(
		app.tip.StakeModifier, hash)
	app.tip = node
	app.pool.RemoveConfirmedTransactions(block)
	return true, nil
}

func (app *App) ReportFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "in",
			Aliases:  []string{"i"},
			Required: true,
			Usage:    "path of the CSV report to summarize",
		},
	}
}

func (app *App) ReportCmd(c *cli.Context) error {
	rows, err := NewCSVStorage(c.String("in")).FetchRows()
	if err != nil {
		return cli.Exit(errors.Wrap(err, "unable to read report"), 1)
	}

	var fees, reward int64
	var txs int
	staked := make(map[string]int)
	for _, row := range rows {
		fees += row.Fees
		reward += row.Reward
		txs += row.TxCount
		staked[fmt.Sprintf("%s:%d", row.StakeHash, row.StakeIndex)]++
	}

	fmt.Printf("blocks:         %d\n", len(rows))
	fmt.Printf("transactions:   %d\n", txs)
	fmt.Printf("total fees:     %d\n", fees)
	fmt.Printf("total reward:   %d\n", reward)
	fmt.Printf("distinct coins: %d\n", len(staked))
	return nil
}

// injectTransactions feeds the pool a batch of synthetic payments so every
// round has packages to select from.
func (app *App) injectTransactions() {
	for i := 0; i < app.txsPerBlock; i++ {
		tx := wire.NewMsgTx(wire.TxVersion)
		var prev chainhash.Hash
		app.rng.Read(prev[:])
		tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: prev}, nil))
		tx.AddTxOut(wire.NewTxOut(
			int64(app.rng.Intn(100000000)+10000),
			wire.PayToKeyHashScript(app.randomAddress())))

		fee := types.Amount(app.rng.Intn(90000) + 10000)
		// Rejections (duplicates, weight) are fine in a simulation.
		_, _ = app.pool.MaybeAcceptTransaction(tx, fee)
	}
}

func (app *App) makeCoins(n int) []*staker.StakeCoin {
	coins := make([]*staker.StakeCoin, n)
	for i := range coins {
		var hash chainhash.Hash
		app.rng.Read(hash[:])
		coins[i] = &staker.StakeCoin{
			OutPoint: wire.OutPoint{Hash: hash, Index: uint32(i % 3)},
			Value:    types.Amount((app.rng.Intn(40) + 1) * 100000000),
		}
	}
	return coins
}

func (app *App) randomAddress() types.Address {
	var raw [types.AddressSize]byte
	app.rng.Read(raw[:])
	return types.NewAddress(raw[:])
}

func simSigOpCost(tx *wire.MsgTx) int64 {
	return int64(len(tx.TxIn)) * 4
}

// simGovernance serves fixed governed bounds, no votes.
type simGovernance struct{}

func (simGovernance) BlockSize(int32) uint64               { return 2000000 }
func (simGovernance) BlockGasLimit(int32) uint64           { return 40000000 }
func (simGovernance) MinGasPrice(int32) uint64             { return 1 }
func (simGovernance) BurnRate(int32) uint64                { return 0 }
func (simGovernance) HasVoteInProgress() (bool, error)     { return false, nil }
func (simGovernance) VoteBlockExpiration() (uint64, error) { return 0, nil }
func (simGovernance) FinishVoteScript() []byte             { return nil }
