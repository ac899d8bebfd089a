package miner

import (
	"math/big"
	"sync"
	"time"

	"github.com/ethcore/execution-core/common"
	"github.com/ethcore/execution-core/consensus"
	"github.com/ethcore/execution-core/core/chainstore"
	"github.com/ethcore/execution-core/core/txpool"
	"github.com/ethcore/execution-core/core/types"
	"github.com/ethcore/execution-core/core/vmengine"
	"github.com/ethcore/execution-core/coreerr"
	"github.com/ethcore/execution-core/log"
	"github.com/ethcore/execution-core/params"
)

// Payload is a resolved build: the best block assembled so far for a
// given PayloadID, plus everything the Engine API hands back alongside
// it. Resolve may be called more than once; each call returns the most
// recently completed block.
type Payload struct {
	ID       PayloadID
	Block    *types.Block
	Receipts types.Receipts

	// Fees is the total priority fee earned by the coinbase across the
	// included transactions (the Engine API's blockValue).
	Fees *big.Int

	// Sidecars holds the blob sidecars of the included type-3
	// transactions, in inclusion order.
	Sidecars []*types.BlobTxSidecar
}

// Builder implements the Block Builder: given forkchoice
// parameters it starts an in-progress build, fills it from the
// transaction pool against a private state overlay forked off the VM
// engine's current head, and caches the result under the derived
// PayloadID until getPayload claims it or the entry expires. Where
// op-geth's payloadQueue blocks getPayload on a sync.Cond until an
// updated build lands, this cache has no waiter to signal — resolving
// simply returns the best block seen so far — so a map plus insertion
// order is enough.
type Builder struct {
	mu sync.Mutex

	config  *params.ChainConfig
	chain   *chainstore.ChainStore
	pool    *txpool.Pool
	engine  *vmengine.Engine
	cengine consensus.Engine
	evm     vmengine.EVM
	log     *log.Logger

	cache map[PayloadID]*cacheEntry
	order []PayloadID
}

func NewBuilder(config *params.ChainConfig, chain *chainstore.ChainStore, pool *txpool.Pool,
	engine *vmengine.Engine, cengine consensus.Engine, evm vmengine.EVM, logger *log.Logger) *Builder {
	return &Builder{
		config:  config,
		chain:   chain,
		pool:    pool,
		engine:  engine,
		cengine: cengine,
		evm:     evm,
		log:     logger,
		cache:   make(map[PayloadID]*cacheEntry),
	}
}

// Start begins building a payload on top of parentHash for the given
// attributes: computes the PayloadID, forks a
// private state overlay, fills it from the pool, and caches the running
// builder under its ID, pruning to payloadCacheMaxEntries.
func (b *Builder) Start(parentHash common.Hash, attrs BuildAttributes, gasLimit uint64, coinbase common.Address) (PayloadID, error) {
	parentBlock, ok := b.chain.GetBlock(parentHash)
	if !ok {
		return PayloadID{}, coreerr.New(coreerr.KindPermanentValidation, "start building: unknown parent", coreerr.ErrUnknownHeader)
	}

	id := ComputePayloadID(parentHash, attrs, gasLimit)

	// An identical build already in flight and still fresh is reused
	// rather than restarted.
	b.mu.Lock()
	if entry, ok := b.cache[id]; ok && entry.parentHash == parentHash && buildTime().Sub(entry.createdAt) < payloadCacheTTL {
		b.mu.Unlock()
		return id, nil
	}
	b.mu.Unlock()

	st, err := b.engine.ShallowCopyAt(parentHash)
	if err != nil {
		return PayloadID{}, err
	}

	reader := newChainReader(b.config, b.chain)
	builder, err := newBlockBuilder(b.config, reader, b.cengine, parentBlock.Header(), st, attrs, gasLimit, coinbase)
	if err != nil {
		return PayloadID{}, err
	}

	it := b.pool.TransactionsByPriceAndNonce(txpool.IteratorOptions{BaseFee: builder.header.BaseFee})
	builder.fillTransactions(b.evm, it)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.cache[id] = &cacheEntry{builder: builder, parentHash: parentHash, attrs: attrs, createdAt: buildTime()}
	b.removeFromOrderLocked(id)
	b.order = append(b.order, id)
	b.evictLocked()

	b.log.Debug("started building payload", "id", id.Hex(), "parent", parentHash, "txs", len(builder.txs))
	return id, nil
}

// Build re-runs the selection loop against the cached builder's current
// state, picking up any transactions that arrived in the pool since
// Start.
func (b *Builder) Build(id PayloadID) error {
	b.mu.Lock()
	entry, ok := b.cache[id]
	b.mu.Unlock()
	if !ok {
		return coreerr.New(coreerr.KindRecoverableValidation, "build: unknown payload", coreerr.ErrUnknownPayload)
	}
	it := b.pool.TransactionsByPriceAndNonce(txpool.IteratorOptions{BaseFee: entry.builder.header.BaseFee})
	entry.builder.fillTransactions(b.evm, it)
	return nil
}

// Resolve assembles and returns the best block built so far for id:
// finalizes via the consensus engine without mutating the cached
// builder's running txs/receipts, so a later Build call can keep
// extending it.
func (b *Builder) Resolve(id PayloadID) (*Payload, error) {
	b.mu.Lock()
	entry, ok := b.cache[id]
	b.mu.Unlock()
	if !ok {
		return nil, coreerr.New(coreerr.KindRecoverableValidation, "resolve: unknown payload", coreerr.ErrUnknownPayload)
	}
	if buildTime().Sub(entry.createdAt) > payloadCacheTTL*30 {
		b.log.Warn("resolving stale payload", "id", id.Hex(), "age", buildTime().Sub(entry.createdAt))
	}
	block, err := entry.builder.assemble(entry.attrs.Withdrawals)
	if err != nil {
		return nil, err
	}
	fees := new(big.Int)
	for i, tx := range entry.builder.txs {
		gasUsed := new(big.Int).SetUint64(entry.builder.receipts[i].GasUsed)
		fees.Add(fees, gasUsed.Mul(gasUsed, tx.EffectiveGasTip(entry.builder.header.BaseFee)))
	}
	return &Payload{
		ID:       id,
		Block:    block,
		Receipts: append(types.Receipts(nil), entry.builder.receipts...),
		Fees:     fees,
		Sidecars: append([]*types.BlobTxSidecar(nil), entry.builder.sidecars...),
	}, nil
}

// Stop discards a cached build once the CL has claimed it or abandoned
// it.
func (b *Builder) Stop(id PayloadID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.cache, id)
	for i, v := range b.order {
		if v == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// evictLocked enforces the cache size cap and the TTL on cached builds,
// called with b.mu held.
func (b *Builder) evictLocked() {
	now := buildTime()
	for id, entry := range b.cache {
		if now.Sub(entry.createdAt) > payloadCacheTTL {
			delete(b.cache, id)
			b.removeFromOrderLocked(id)
		}
	}
	for len(b.order) > payloadCacheMaxEntries {
		oldest := b.order[0]
		b.order = b.order[1:]
		delete(b.cache, oldest)
	}
}

func (b *Builder) removeFromOrderLocked(id PayloadID) {
	for i, v := range b.order {
		if v == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			return
		}
	}
}

// buildTime is the package's sole wall-clock read, isolated in one
// function so every caller above goes through it.
func buildTime() time.Time { return time.Now() }
