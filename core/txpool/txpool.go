// Package txpool implements the Transaction Pool: per-sender
// pending/queued partitions ordered by nonce, a price-sorted iterator for
// block builders, and capacity-bounded eviction.
package txpool

import (
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/holiman/uint256"

	"github.com/ethcore/execution-core/common"
	"github.com/ethcore/execution-core/core/types"
	"github.com/ethcore/execution-core/core/vmengine"
	"github.com/ethcore/execution-core/coreerr"
	"github.com/ethcore/execution-core/event"
	"github.com/ethcore/execution-core/log"
)

// Config holds the pool's capacity and eviction knobs.
type Config struct {
	PriceLimit uint64 // minimum gas tip accepted at all
	PriceBump  uint64 // percentage a replacement must exceed the old tx by

	AccountSlots uint64 // max executable txs per account; not enforced by the pool
	AccountQueue uint64 // max non-executable txs per account
	GlobalSlots  uint64 // max executable txs across all accounts
	GlobalQueue  uint64 // max non-executable txs across all accounts; not enforced by the pool
}

// DefaultConfig mirrors go-ethereum's legacypool.DefaultConfig values.
var DefaultConfig = Config{
	PriceLimit:   1,
	PriceBump:    10,
	AccountSlots: 16,
	AccountQueue: 64,
	GlobalSlots:  4096,
	GlobalQueue:  1024,
}

// Entry is a tx pool entry: the transaction plus its pool
// metadata.
type Entry struct {
	Tx    *types.Transaction
	Hash  common.Hash
	Added int64 // unix millis
	Err   error
}

// ChainView is the read-only account/head view the pool validates
// against — satisfied by core/state.StateManager without this package
// importing vmengine and creating a cycle.
type ChainView interface {
	GetNonce(addr common.Address) uint64
	GetBalance(addr common.Address) *uint256.Int
}

// Pool is the transaction pool, following go-ethereum's legacypool
// shape: two nonce-ordered partitions per sender plus a flat hash index.
type Pool struct {
	mu sync.RWMutex

	config Config
	chain  ChainView
	signer types.Signer

	pending map[common.Address][]*Entry
	queued  map[common.Address][]*Entry
	all     map[common.Hash]*Entry

	// Sidecar material indexed by versioned hash, one map per proof
	// flavor: full KZG blob proofs and PeerDAS cell proofs.
	blobProofs map[common.Hash]*Entry
	cellProofs map[common.Hash]*Entry

	// priceHeap is the unordered set of sender addresses that have added
	// entries; lowestTipSenderLocked scans it to pick eviction candidates
	// under global pressure.
	priceHeap mapset.Set[common.Address]

	feed event.Feed
	log  *log.Logger

	journal *Journal
}

func New(config Config, chain ChainView, signer types.Signer, logger *log.Logger) *Pool {
	return &Pool{
		config:    config,
		chain:     chain,
		signer:    signer,
		pending:    make(map[common.Address][]*Entry),
		queued:     make(map[common.Address][]*Entry),
		all:        make(map[common.Hash]*Entry),
		blobProofs: make(map[common.Hash]*Entry),
		cellProofs: make(map[common.Hash]*Entry),
		priceHeap: mapset.NewSet[common.Address](),
		log:       logger,
	}
}

func (p *Pool) Subscribe(buffer int) *event.Subscription { return p.feed.Subscribe(buffer) }

var (
	ErrAlreadyKnown       = coreerr.New(coreerr.KindRecoverableValidation, "already known", nil)
	ErrUnderpriced        = coreerr.New(coreerr.KindRecoverableValidation, "transaction underpriced", nil)
	ErrReplaceUnderpriced = coreerr.New(coreerr.KindRecoverableValidation, "replacement transaction underpriced", nil)
	ErrNonceTooLow        = coreerr.New(coreerr.KindRecoverableValidation, "nonce too low", nil)
	ErrInsufficientFunds  = coreerr.New(coreerr.KindRecoverableValidation, "insufficient funds", nil)
	ErrAccountSlotsFull   = coreerr.New(coreerr.KindRecoverableValidation, "account slots full", nil)
	ErrChainIDMismatch    = coreerr.New(coreerr.KindPermanentValidation, "transaction chain id does not match pool chain", nil)
	ErrIntrinsicGas       = coreerr.New(coreerr.KindRecoverableValidation, "gas limit below intrinsic gas", nil)
)

// Add validates and inserts tx, placing it in pending if its nonce is
// immediately executable against the sender's current account state, or
// queued otherwise. isLocal transactions are exempt from the PriceLimit
// floor and are persisted to the journal so they survive a restart.
func (p *Pool) Add(tx *types.Transaction, isLocal bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addLocked(tx, isLocal)
}

func (p *Pool) addLocked(tx *types.Transaction, isLocal bool) error {
	hash := tx.Hash()
	if _, ok := p.all[hash]; ok {
		return ErrAlreadyKnown
	}
	if p.signer != nil {
		// Legacy pre-EIP-155 transactions carry no chain id and are
		// accepted on any chain; everything else must match the pool's.
		if cid := tx.ChainId(); cid != nil && cid.Cmp(p.signer.ChainID()) != 0 {
			return ErrChainIDMismatch
		}
	}
	if tx.Gas() < vmengine.IntrinsicGas(tx.Data(), tx.To() == nil) {
		return ErrIntrinsicGas
	}
	sender, err := p.senderOf(tx)
	if err != nil {
		return coreerr.New(coreerr.KindPermanentValidation, "add: sender recovery", err)
	}
	if tx.GasTipCap().Uint64() < p.config.PriceLimit && !isLocal {
		return ErrUnderpriced
	}
	balance := p.chain.GetBalance(sender)
	cost, overflow := uint256.FromBig(tx.Cost())
	if overflow || balance.Lt(cost) {
		return ErrInsufficientFunds
	}
	currentNonce := p.chain.GetNonce(sender)
	if tx.Nonce() < currentNonce {
		return ErrNonceTooLow
	}
	if tx.Type() == types.BlobTxType {
		if err := validateBlobTx(tx); err != nil {
			return err
		}
	}

	entry := &Entry{Tx: tx, Hash: hash, Added: time.Now().UnixMilli()}
	if err := p.insertReplacing(sender, entry); err != nil {
		return err
	}
	p.all[hash] = entry
	p.indexBlobsLocked(entry)
	p.priceHeap.Add(sender)
	p.reclassifySender(sender, currentNonce)
	p.enforceCapsLocked()
	if isLocal && p.journal != nil {
		if err := p.journal.Insert(tx); err != nil {
			p.log.Warn("failed to journal local transaction", "hash", hash, "err", err)
		}
	}
	return nil
}

// senderOf recovers (and caches) tx's sender through the pool's signer;
// a pool constructed without one relies on the transaction's cached
// sender alone.
func (p *Pool) senderOf(tx *types.Transaction) (common.Address, error) {
	if p.signer != nil {
		return types.Sender(p.signer, tx)
	}
	return tx.Sender()
}

// OpenJournal attaches a local-transaction journal and replays it,
// re-adding every transaction it can still decode and validate.
func (p *Pool) OpenJournal(j *Journal) error {
	p.journal = j
	return j.Load(p.log, func(tx *types.Transaction) error {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.addLocked(tx, false)
	})
}

// insertReplacing places entry into whichever list already has an entry
// at the same (sender, nonce), replacing it only if entry's gas tip
// exceeds the old one by at least config.PriceBump percent.
func (p *Pool) insertReplacing(sender common.Address, entry *Entry) error {
	for _, list := range [2]map[common.Address][]*Entry{p.pending, p.queued} {
		for i, e := range list[sender] {
			if e.Tx.Nonce() == entry.Tx.Nonce() {
				bump := new(uint256.Int).Mul(tipOf(e.Tx), uint256.NewInt(100+p.config.PriceBump))
				bump.Div(bump, uint256.NewInt(100))
				if tipOf(entry.Tx).Lt(bump) {
					return ErrReplaceUnderpriced
				}
				delete(p.all, e.Hash)
				p.dropBlobsLocked(e)
				list[sender][i] = entry
				return nil
			}
		}
	}
	p.queued[sender] = append(p.queued[sender], entry)
	sortByNonce(p.queued[sender])
	return nil
}

func tipOf(tx *types.Transaction) *uint256.Int {
	v, _ := uint256.FromBig(tx.GasTipCap())
	return v
}

func sortByNonce(list []*Entry) {
	sort.Slice(list, func(i, j int) bool { return list[i].Tx.Nonce() < list[j].Tx.Nonce() })
}

// reclassifySender moves every contiguous-nonce-from-current entry for
// sender from queued to pending, splitting off the rest.
func (p *Pool) reclassifySender(sender common.Address, currentNonce uint64) {
	merged := append(append([]*Entry{}, p.pending[sender]...), p.queued[sender]...)
	sortByNonce(merged)

	var pending, queued []*Entry
	next := currentNonce
	for _, e := range merged {
		if e.Tx.Nonce() == next {
			pending = append(pending, e)
			next++
		} else {
			queued = append(queued, e)
		}
	}
	p.pending[sender] = pending
	p.queued[sender] = queued
	if len(pending) == 0 {
		delete(p.pending, sender)
	}
	if len(queued) == 0 {
		delete(p.queued, sender)
	}
}

// enforceCapsLocked trims the pool back under its caps: each sender's
// queued list is cut to AccountQueue by dropping its highest nonces, and
// while pending entries exceed GlobalSlots the last pending entry of the
// sender whose last pending tip is lowest is evicted. AccountSlots and
// GlobalQueue are not enforced.
func (p *Pool) enforceCapsLocked() {
	for sender, list := range p.queued {
		for uint64(len(list)) > p.config.AccountQueue {
			victim := list[len(list)-1]
			delete(p.all, victim.Hash)
			p.dropBlobsLocked(victim)
			list = list[:len(list)-1]
		}
		p.queued[sender] = list
	}

	total := 0
	for _, list := range p.pending {
		total += len(list)
	}
	for total > int(p.config.GlobalSlots) {
		sender := p.lowestTipSenderLocked()
		if sender == (common.Address{}) {
			break
		}
		list := p.pending[sender]
		if len(list) == 0 {
			break
		}
		victim := list[len(list)-1]
		delete(p.all, victim.Hash)
		p.dropBlobsLocked(victim)
		p.pending[sender] = list[:len(list)-1]
		total--
	}
}

func (p *Pool) lowestTipSenderLocked() common.Address {
	var (
		lowest  *uint256.Int
		chosen  common.Address
		found   bool
	)
	p.priceHeap.Each(func(sender common.Address) bool {
		list := p.pending[sender]
		if len(list) == 0 {
			return false
		}
		tip := tipOf(list[len(list)-1].Tx)
		if !found || tip.Lt(lowest) {
			lowest, chosen, found = tip, sender, true
		}
		return false
	})
	return chosen
}

// RemoveByHash removes a single entry by hash, transferring ownership
// away from the pool.
func (p *Pool) RemoveByHash(hash common.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeByHashLocked(hash)
}

func (p *Pool) removeByHashLocked(hash common.Hash) {
	entry, ok := p.all[hash]
	if !ok {
		return
	}
	p.dropBlobsLocked(entry)
	sender, err := entry.Tx.Sender()
	if err != nil {
		delete(p.all, hash)
		return
	}
	p.pending[sender] = removeEntry(p.pending[sender], hash)
	p.queued[sender] = removeEntry(p.queued[sender], hash)
	if len(p.pending[sender]) == 0 {
		delete(p.pending, sender)
	}
	if len(p.queued[sender]) == 0 {
		delete(p.queued, sender)
	}
	delete(p.all, hash)
}

func removeEntry(list []*Entry, hash common.Hash) []*Entry {
	out := list[:0]
	for _, e := range list {
		if e.Hash != hash {
			out = append(out, e)
		}
	}
	return out
}

// RemoveNewBlockTxs removes every transaction included in newly canonical
// blocks, called after the VM execution engine advances vm.
func (p *Pool) RemoveNewBlockTxs(blocks []*types.Block) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, b := range blocks {
		for _, tx := range b.Transactions() {
			p.removeByHashLocked(tx.Hash())
		}
	}
}

// PromoteExecutables re-evaluates every sender's queued list against the
// current account nonce, promoting any now-contiguous prefix to pending.
func (p *Pool) PromoteExecutables() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for sender := range p.queued {
		p.reclassifySender(sender, p.chain.GetNonce(sender))
	}
}

// DemoteUnexecutables drops pending entries whose nonce has fallen below
// the sender's current account nonce (already included) or whose cost
// now exceeds the sender's balance, demoting the remainder back to
// queued if a gap opened up.
func (p *Pool) DemoteUnexecutables() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for sender := range p.pending {
		current := p.chain.GetNonce(sender)
		balance := p.chain.GetBalance(sender)
		var kept []*Entry
		for _, e := range p.pending[sender] {
			cost, overflow := uint256.FromBig(e.Tx.Cost())
			if e.Tx.Nonce() < current || overflow || balance.Lt(cost) {
				delete(p.all, e.Hash)
				p.dropBlobsLocked(e)
				continue
			}
			kept = append(kept, e)
		}
		p.pending[sender] = kept
		p.reclassifySender(sender, current)
	}
}

// HandleReorg re-injects transactions dropped from the old canonical
// branch and removes those now included in the new one.
func (p *Pool) HandleReorg(oldBlocks, newBlocks []*types.Block) {
	included := make(map[common.Hash]bool)
	for _, b := range newBlocks {
		for _, tx := range b.Transactions() {
			included[tx.Hash()] = true
		}
	}
	for _, b := range oldBlocks {
		for _, tx := range b.Transactions() {
			if included[tx.Hash()] {
				continue
			}
			_ = p.Add(tx, false)
		}
	}
	p.RemoveNewBlockTxs(newBlocks)
	p.PromoteExecutables()
}

// Pending returns a snapshot of every sender's pending list, the input to
// the block builder's price-sorted iterator.
func (p *Pool) Pending() map[common.Address][]*types.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[common.Address][]*types.Transaction, len(p.pending))
	for sender, list := range p.pending {
		txs := make([]*types.Transaction, len(list))
		for i, e := range list {
			txs[i] = e.Tx
		}
		out[sender] = txs
	}
	return out
}

// TransactionsByPriceAndNonce returns the price-sorted incremental
// iterator over pending transactions, the block builder's
// only read path into the pool.
func (p *Pool) TransactionsByPriceAndNonce(opts IteratorOptions) *PriceAndNonceIterator {
	p.mu.RLock()
	defer p.mu.RUnlock()
	snapshot := make(map[common.Address][]*Entry, len(p.pending))
	for sender, list := range p.pending {
		snapshot[sender] = append([]*Entry(nil), list...)
	}
	return TransactionsByPriceAndNonce(snapshot, opts)
}

func (p *Pool) Get(hash common.Hash) (*types.Transaction, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.all[hash]
	if !ok {
		return nil, false
	}
	return e.Tx, true
}

func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.all)
}
