// Command execcore boots the execution service for local development:
// it materializes a genesis with a funded account, starts the service,
// and keeps it running until interrupted.
package main

import (
	"context"
	"flag"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/ethcore/execution-core/common"
	"github.com/ethcore/execution-core/consensus"
	"github.com/ethcore/execution-core/core/types"
	"github.com/ethcore/execution-core/engineapi/authrpc"
	"github.com/ethcore/execution-core/eth"
	"github.com/ethcore/execution-core/eth/ethconfig"
	"github.com/ethcore/execution-core/log"
	"github.com/ethcore/execution-core/params"
)

func main() {
	var (
		mine      = flag.Bool("mine", false, "run the proof-of-work miner")
		chainID   = flag.Int64("chainid", 1337, "chain id of the development network")
		jwtPath   = flag.String("authrpc.jwtsecret", ethconfig.Defaults.JWTSecretPath, "path to the engine endpoint's JWT secret")
		journal   = flag.String("txpool.journal", "", "path to the local transaction journal (empty disables)")
		verbosity = flag.Int("verbosity", 3, "log verbosity (0=error .. 4=debug)")
	)
	flag.Parse()

	logger := log.New(slogLevel(*verbosity))
	log.SetDefault(logger)

	banner()

	faucet := common.HexToAddress("0xf10ce7000000000000000000000000000000000a")
	genesis := &types.Genesis{
		Config: &params.ChainConfig{
			ChainID:        big.NewInt(*chainID),
			HomesteadBlock: big.NewInt(0),
			EIP150Block:    big.NewInt(0),
			EIP155Block:    big.NewInt(0),
			EIP158Block:    big.NewInt(0),
			ByzantiumBlock: big.NewInt(0),
			LondonBlock:    big.NewInt(0),
		},
		GasLimit:   params.GenesisGasLimit,
		Difficulty: big.NewInt(1),
		BaseFee:    big.NewInt(int64(params.InitialBaseFee)),
		Alloc: types.GenesisAlloc{
			faucet: {Balance: new(big.Int).Mul(big.NewInt(1000), big.NewInt(int64(params.Ether)))},
		},
	}

	config := ethconfig.Defaults
	config.Genesis = genesis
	config.Mine = *mine
	config.TxPoolJournal = *journal
	config.JWTSecretPath = *jwtPath

	if _, err := authrpc.LoadOrGenerateSecret(config.JWTSecretPath, logger); err != nil {
		logger.Error("jwt secret unavailable", "err", err)
		os.Exit(1)
	}

	var solver devSolver
	service, err := eth.New(&config, solver, logger)
	if err != nil {
		logger.Error("failed to assemble execution service", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	service.Start(ctx)
	logger.Info("devnet genesis ready", "chainid", *chainID, "faucet", faucet)

	<-ctx.Done()
	service.Stop()
	logger.Info("execution service stopped")
}

func banner() {
	c := color.New(color.FgCyan, color.Bold)
	c.Fprintln(os.Stderr, "execcore — execution-layer core devnet node")
}

func slogLevel(verbosity int) slog.Level {
	switch verbosity {
	case 0:
		return slog.LevelError
	case 1:
		return slog.LevelWarn
	case 2, 3:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// devSolver seals instantly with an empty nonce, standing in for the
// external proof-of-work capability on single-node development chains.
type devSolver struct{}

func (devSolver) Seal(header *types.Header, stop <-chan struct{}) (common.Hash, [8]byte, error) {
	select {
	case <-stop:
		return common.Hash{}, [8]byte{}, consensus.ErrSealCancelled
	default:
	}
	return header.MixDigest, [8]byte{}, nil
}

func (devSolver) Hashrate() float64 { return 0 }
