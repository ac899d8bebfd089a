// Package eth assembles the execution service: it constructs the chain
// store, execution engine, transaction pool, block builder, sync
// skeleton and miner bottom-up, and connects them through event
// subscriptions rather than mutual references.
package eth

import (
	"context"
	"errors"
	"sync"

	"github.com/holiman/uint256"

	"github.com/ethcore/execution-core/common"
	"github.com/ethcore/execution-core/consensus"
	"github.com/ethcore/execution-core/core/chainstore"
	"github.com/ethcore/execution-core/core/state"
	"github.com/ethcore/execution-core/core/txpool"
	"github.com/ethcore/execution-core/core/types"
	"github.com/ethcore/execution-core/core/vmengine"
	"github.com/ethcore/execution-core/engineapi"
	"github.com/ethcore/execution-core/eth/ethconfig"
	"github.com/ethcore/execution-core/log"
	"github.com/ethcore/execution-core/miner"
	"github.com/ethcore/execution-core/skeleton"
)

// Ethereum is the execution service: the owner of every core component
// and the only place they are wired together.
type Ethereum struct {
	config *ethconfig.Config

	chain   *chainstore.ChainStore
	engine  *vmengine.Engine
	pool    *txpool.Pool
	builder *miner.Builder
	sk      *skeleton.Skeleton
	miner   *miner.Miner
	merger  *consensus.Merger
	capi    *engineapi.ConsensusAPI

	log *log.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs and opens the execution service. solver is the
// proof-of-work capability the pre-merge miner seals with; it may be nil
// when Mine is unset.
func New(config *ethconfig.Config, solver consensus.Solver, logger *log.Logger) (*Ethereum, error) {
	if config.Genesis == nil || config.Genesis.Config == nil {
		return nil, errors.New("eth: missing genesis configuration")
	}
	chainCfg := config.Genesis.Config

	genesisBlock := config.Genesis.ToBlock()
	chain := chainstore.New(genesisBlock)

	engine := vmengine.New(chainCfg, chain, state.NewMemTrieBackend(), vmengine.NewSimpleEVM(), config.Genesis, logger)
	if err := engine.Open(); err != nil {
		return nil, err
	}

	signer := types.MakeSigner(chainCfg, genesisBlock.Number(), config.Genesis.Timestamp)
	pool := txpool.New(config.TxPool, engineView{engine}, signer, logger)
	if config.TxPoolJournal != "" {
		if err := pool.OpenJournal(txpool.NewJournal(config.TxPoolJournal)); err != nil {
			logger.Warn("transaction journal unusable", "path", config.TxPoolJournal, "err", err)
		}
	}

	merger := consensus.NewMerger()
	var cengine consensus.Engine
	var powEngine consensus.PoW
	if solver != nil {
		powEngine = consensus.NewPoWEngine(chainCfg, solver, logger)
		cengine = consensus.NewBeacon(powEngine, merger)
	} else {
		cengine = consensus.NewBeacon(nil, merger)
		merger.FinalizePoS()
	}

	builder := miner.NewBuilder(chainCfg, chain, pool, engine, cengine, vmengine.NewSimpleEVM(), logger)
	sk := skeleton.New(chain, logger)
	capi := engineapi.NewConsensusAPI(chainCfg, chain, engine, builder, sk, pool, merger, logger)

	svc := &Ethereum{
		config:  config,
		chain:   chain,
		engine:  engine,
		pool:    pool,
		builder: builder,
		sk:      sk,
		merger:  merger,
		capi:    capi,
		log:     logger,
	}
	if config.Mine {
		if powEngine == nil {
			return nil, errors.New("eth: mining requested without a proof-of-work solver")
		}
		svc.miner = miner.New(config.Miner, chainCfg, chain, pool, engine, powEngine, merger, vmengine.NewSimpleEVM(), logger)
	}
	return svc, nil
}

// Start launches the background event loop and, when configured, the
// miner. Calling Start twice is a no-op.
func (e *Ethereum) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.started = true
	ctx, e.cancel = context.WithCancel(ctx)

	sub := e.chain.Subscribe(32)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.Chan():
				if !ok {
					return
				}
				e.handleChainEvent(ev)
			}
		}
	}()

	if e.miner != nil {
		e.miner.Start(ctx)
	}
	e.log.Info("execution service started", "mining", e.miner != nil)
}

// handleChainEvent keeps the pool consistent with canonical chain
// movements: a reorg re-injects dropped transactions, a plain head
// advance strips the included ones.
func (e *Ethereum) handleChainEvent(ev any) {
	switch ev := ev.(type) {
	case chainstore.ChainReorgEvent:
		e.pool.HandleReorg(ev.OldBlocks, ev.NewBlocks)
	case chainstore.ChainUpdatedEvent:
		e.pool.RemoveNewBlockTxs([]*types.Block{ev.Head})
		e.pool.DemoteUnexecutables()
		e.pool.PromoteExecutables()
	}
}

// Stop halts the miner and the event loop, blocking until both have
// exited.
func (e *Ethereum) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	cancel := e.cancel
	e.mu.Unlock()

	if e.miner != nil {
		e.miner.Stop()
	}
	cancel()
	e.wg.Wait()
}

func (e *Ethereum) ChainStore() *chainstore.ChainStore    { return e.chain }
func (e *Ethereum) Engine() *vmengine.Engine              { return e.engine }
func (e *Ethereum) TxPool() *txpool.Pool                  { return e.pool }
func (e *Ethereum) Builder() *miner.Builder               { return e.builder }
func (e *Ethereum) Skeleton() *skeleton.Skeleton          { return e.sk }
func (e *Ethereum) Merger() *consensus.Merger             { return e.merger }
func (e *Ethereum) ConsensusAPI() *engineapi.ConsensusAPI { return e.capi }
func (e *Ethereum) Miner() *miner.Miner                   { return e.miner }

// engineView adapts the execution engine's committed head state to the
// account lookups the pool validates against.
type engineView struct{ engine *vmengine.Engine }

func (v engineView) GetNonce(addr common.Address) uint64 {
	st, err := v.engine.ShallowCopyAt(v.engine.ChainStatus().Hash)
	if err != nil {
		return 0
	}
	return st.GetNonce(addr)
}

func (v engineView) GetBalance(addr common.Address) *uint256.Int {
	st, err := v.engine.ShallowCopyAt(v.engine.ChainStatus().Hash)
	if err != nil {
		return new(uint256.Int)
	}
	return st.GetBalance(addr)
}
