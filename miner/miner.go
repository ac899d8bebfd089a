package miner

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethcore/execution-core/common"
	"github.com/ethcore/execution-core/consensus"
	"github.com/ethcore/execution-core/core/chainstore"
	"github.com/ethcore/execution-core/core/txpool"
	"github.com/ethcore/execution-core/core/types"
	"github.com/ethcore/execution-core/core/vmengine"
	"github.com/ethcore/execution-core/log"
	"github.com/ethcore/execution-core/params"
)

// Config bundles the pre-merge miner's tunables: how often
// it tries to assemble a new block and who the block reward/fees flow
// to when no attributes are supplied by a consensus client.
type Config struct {
	Recommit  time.Duration
	Coinbase  common.Address
	GasLimit  uint64
	ExtraData []byte
}

func DefaultConfig() Config {
	return Config{Recommit: 3 * time.Second, GasLimit: params.GenesisGasLimit}
}

// Miner is the pre-merge proof-of-work block producer:
// assembles a candidate block against the current canonical head,
// hands it to the consensus engine's Seal, and inserts the sealed
// result back into the chain store once found. It stops producing as
// soon as the Merger reports the PoS transition is finalized — from
// that point the Engine API drives block production instead.
//
// Same loop discipline as go-ethereum's miner worker: a recommit timer
// plus new-work-on-chain-head-change, feeding a sealing-results channel.
type Miner struct {
	config   Config
	chainCfg *params.ChainConfig
	chain    *chainstore.ChainStore
	pool     *txpool.Pool
	engine   *vmengine.Engine
	cengine  consensus.PoW
	merger   *consensus.Merger
	evm      vmengine.EVM
	log      *log.Logger

	mining atomic.Bool

	mu    sync.Mutex
	abort chan struct{}
	wg    sync.WaitGroup

	// pendingReceipts carries each assembled block's receipts across the
	// Seal round trip, keyed by transactions root (sealing rewrites the
	// nonce and mix digest, so the block hash is not stable).
	pendingReceipts map[common.Hash]types.Receipts
}

func New(config Config, chainCfg *params.ChainConfig, chain *chainstore.ChainStore, pool *txpool.Pool,
	engine *vmengine.Engine, cengine consensus.PoW, merger *consensus.Merger, evm vmengine.EVM, logger *log.Logger) *Miner {
	return &Miner{
		config:          config,
		chainCfg:        chainCfg,
		chain:           chain,
		pool:            pool,
		engine:          engine,
		cengine:         cengine,
		merger:          merger,
		evm:             evm,
		log:             logger,
		pendingReceipts: make(map[common.Hash]types.Receipts),
	}
}

// Start launches the mining loop in the background. Calling Start while
// already running is a no-op.
func (m *Miner) Start(ctx context.Context) {
	if !m.mining.CompareAndSwap(false, true) {
		return
	}
	m.mu.Lock()
	m.abort = make(chan struct{})
	abort := m.abort
	m.mu.Unlock()

	sub := m.chain.Subscribe(8)
	m.wg.Add(1)
	go m.loop(ctx, abort, sub)
}

// Stop halts the mining loop; blocks until the current attempt, if any,
// has been interrupted and the loop goroutine has exited.
func (m *Miner) Stop() {
	if !m.mining.CompareAndSwap(true, false) {
		return
	}
	m.mu.Lock()
	close(m.abort)
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Miner) Mining() bool { return m.mining.Load() }

func (m *Miner) loop(ctx context.Context, abort chan struct{}, sub interface {
	Chan() <-chan any
	Unsubscribe()
}) {
	defer m.wg.Done()
	defer sub.Unsubscribe()

	ticker := time.NewTicker(m.config.Recommit)
	defer ticker.Stop()

	var sealAbort chan struct{}
	results := make(chan *types.Block, 1)

	commit := func() {
		if m.merger.PoSFinalized() {
			return
		}
		if sealAbort != nil {
			close(sealAbort)
		}
		sealAbort = make(chan struct{})
		if err := m.commit(sealAbort, results); err != nil {
			m.log.Debug("mining: skip commit", "err", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-abort:
			if sealAbort != nil {
				close(sealAbort)
			}
			return
		case <-ticker.C:
			commit()
		case ev := <-sub.Chan():
			if _, ok := ev.(chainstore.ChainUpdatedEvent); ok {
				commit()
			}
		case block := <-results:
			m.insert(block)
		}
	}
}

// commit assembles a candidate on top of the canonical head and asks
// the consensus engine to seal it.
func (m *Miner) commit(stop <-chan struct{}, results chan<- *types.Block) error {
	parent, ok := m.chain.GetCanonicalHeadBlock()
	if !ok {
		return errNoCanonicalHead
	}

	reader := newChainReader(m.chainCfg, m.chain)
	header := &types.Header{
		ParentHash: parent.Hash(),
		Number:     new(big.Int).Add(parent.Number(), common.Big1),
		GasLimit:   m.config.GasLimit,
		Time:       uint64(buildTime().Unix()),
		Coinbase:   m.config.Coinbase,
		Extra:      m.config.ExtraData,
	}
	if m.chainCfg.IsLondon(header.Number) {
		header.BaseFee = calcBaseFee(m.chainCfg, parent.Header())
	}
	if err := m.cengine.Prepare(reader, header); err != nil {
		return err
	}

	st, err := m.engine.ShallowCopyAt(parent.Hash())
	if err != nil {
		return err
	}
	builder := &blockBuilder{
		config: m.chainCfg,
		chain:  reader,
		engine: m.cengine,
		signer: types.MakeSigner(m.chainCfg, header.Number, header.Time),
		header: header,
		state:  st,
	}
	gp := GasPool(header.GasLimit)
	builder.gasPool = &gp

	it := m.pool.TransactionsByPriceAndNonce(txpool.IteratorOptions{BaseFee: header.BaseFee})
	builder.fillTransactions(m.evm, it)

	block, err := builder.assemble(nil)
	if err != nil {
		return err
	}
	receipts := builder.receipts
	if receipts == nil {
		receipts = types.Receipts{}
	}
	m.mu.Lock()
	m.pendingReceipts[block.Header().TxHash] = receipts
	m.mu.Unlock()
	return m.cengine.Seal(reader, block, results, stop)
}

// insert commits a freshly sealed block to the chain store and advances
// the VM engine's head to it.
func (m *Miner) insert(block *types.Block) {
	m.mu.Lock()
	receipts := m.pendingReceipts[block.Header().TxHash]
	delete(m.pendingReceipts, block.Header().TxHash)
	m.mu.Unlock()

	// The assembly overlay already committed this block's state; the
	// receipts carry the execution result, so no replay is needed.
	ok, err := m.engine.RunWithoutSetHead(block, vmengine.RunWithoutSetHeadOptions{Receipts: receipts, Blocking: true})
	if err != nil || !ok {
		m.log.Warn("mined block rejected", "number", block.NumberU64(), "err", err)
		return
	}
	if err := m.engine.SetHead([]*types.Block{block}, nil, nil); err != nil {
		m.log.Warn("mined block set head failed", "number", block.NumberU64(), "err", err)
		return
	}
	m.log.Info("mined new block", "number", block.NumberU64(), "hash", block.Hash(), "txs", len(block.Transactions()))
}

var errNoCanonicalHead = errors.New("miner: no canonical head")
