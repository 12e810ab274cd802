// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2021 The Hydranet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"

	"go.uber.org/zap"

	"gitlab.com/hydranet/core/stake.core/config"
)

const version = "0.1.0"

func main() {
	// Use all processor cores.
	runtime.GOMAXPROCS(runtime.NumCPU())

	// Block and transaction processing can cause bursty allocations.  This
	// limits the garbage collector from excessively overallocating during
	// bursts.
	debug.SetGCPercent(10)

	// Work around defer not working after os.Exit()
	if err := stakeCoreMain(); err != nil {
		fmt.Println("FATAL:", err)
		os.Exit(1)
	}
}

// stakeCoreMain is the real main function for stakecored.  It is necessary
// to work around the fact that deferred functions do not run when os.Exit()
// is called.
func stakeCoreMain() error {
	cfg, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		return err
	}

	if cfg.ShowVersion {
		fmt.Println("stakecored version", version)
		return nil
	}

	if err := config.SetupLoggers(cfg.LogConfig, cfg.DebugLevel); err != nil {
		return err
	}

	log := config.NodeLog
	defer log.Info("Shutdown complete")

	log.Info("Starting stakecored", zap.String("version", version))

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := interruptListener(log)
	go func() {
		<-sigChan
		log.Info("propagate stop signal")
		cancel()
	}()

	if err := runNode(ctx, cfg); err != nil {
		log.Error("node terminated", zap.Error(err))
		os.Exit(2)
	}

	return nil
}
