// Package ethconfig bundles the configuration of the execution service
// and its sub-components into one struct with usable defaults.
package ethconfig

import (
	"github.com/ethcore/execution-core/core/txpool"
	"github.com/ethcore/execution-core/core/types"
	"github.com/ethcore/execution-core/miner"
)

// Config is the top-level configuration of the execution service.
type Config struct {
	// Genesis seeds the chain when no prior state exists.
	Genesis *types.Genesis

	// TxPool configures the transaction pool's capacity and pricing.
	TxPool txpool.Config

	// Miner configures the proof-of-work block producer; only consulted
	// when Mine is set.
	Miner miner.Config
	Mine  bool

	// TxPoolJournal is the path local transactions are journaled to;
	// empty disables journaling.
	TxPoolJournal string

	// JWTSecretPath locates the engine endpoint's shared secret file. A
	// missing file is populated with a fresh random secret at startup.
	JWTSecretPath string
}

// Defaults holds the configuration every field falls back to.
var Defaults = Config{
	TxPool:        txpool.DefaultConfig,
	Miner:         miner.DefaultConfig(),
	JWTSecretPath: "jwt.hex",
}
