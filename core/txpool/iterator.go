package txpool

import (
	"container/heap"
	"math/big"

	"github.com/ethcore/execution-core/common"
	"github.com/ethcore/execution-core/core/types"
)

// IteratorOptions bundles the filters the block builder applies while
// pulling transactions from the pool.
type IteratorOptions struct {
	MinGasPrice      *big.Int
	BaseFee          *big.Int
	AllowedBlobs     int
	PriorityAddresses map[common.Address]bool
}

// txHeads is a priority heap of per-sender transaction queues, ordered by
// effective priority fee descending, with ties broken by earliest Added
// timestamp — the block-builder's view over pending transactions. Same
// heap discipline as go-ethereum's transactionsByPriceAndNonce, carried
// by this package's own Entry type.
type txHeads struct {
	heads    []*Entry
	txs      map[common.Address][]*Entry // remaining entries per sender, head already popped into heads
	baseFee  *big.Int
	priority map[common.Address]bool
}

func (h *txHeads) Len() int { return len(h.heads) }

func (h *txHeads) Less(i, j int) bool {
	pi, pj := h.priority[senderOf(h.heads[i])], h.priority[senderOf(h.heads[j])]
	if pi != pj {
		return pi // priority senders sort first
	}
	ti := h.heads[i].Tx.EffectiveGasTip(h.baseFee)
	tj := h.heads[j].Tx.EffectiveGasTip(h.baseFee)
	if cmp := ti.Cmp(tj); cmp != 0 {
		return cmp > 0 // descending by tip
	}
	return h.heads[i].Added < h.heads[j].Added // earlier added wins ties
}

func (h *txHeads) Swap(i, j int) { h.heads[i], h.heads[j] = h.heads[j], h.heads[i] }

func (h *txHeads) Push(x any) { h.heads = append(h.heads, x.(*Entry)) }

func (h *txHeads) Pop() any {
	old := h.heads
	n := len(old)
	item := old[n-1]
	h.heads = old[:n-1]
	return item
}

// senderOf recovers the cached sender of an entry's transaction; the pool
// only ever builds entries from transactions whose sender has already
// been recovered on Add, so this never returns the zero address for a
// live entry.
func senderOf(e *Entry) common.Address {
	addr, _ := e.Tx.Sender()
	return addr
}

// PriceAndNonceIterator is the block builder's incremental view:
// peek reveals the current best candidate, shift accepts it and advances
// that sender to its next nonce, pop drops the sender entirely (used
// when its head transaction was rejected for a non-recoverable reason).
type PriceAndNonceIterator struct {
	heads *txHeads
}

// TransactionsByPriceAndNonce returns an iterator over pending,
// grouped by sender, in profit-maximizing order.
func TransactionsByPriceAndNonce(pending map[common.Address][]*Entry, opts IteratorOptions) *PriceAndNonceIterator {
	baseFee := opts.BaseFee
	if baseFee == nil {
		baseFee = new(big.Int)
	}
	h := &txHeads{
		txs:      make(map[common.Address][]*Entry, len(pending)),
		baseFee:  baseFee,
		priority: opts.PriorityAddresses,
	}
	for sender, list := range pending {
		if len(list) == 0 {
			continue
		}
		if opts.MinGasPrice != nil && list[0].Tx.GasTipCap().Cmp(opts.MinGasPrice) < 0 {
			continue
		}
		h.heads = append(h.heads, list[0])
		h.txs[sender] = list[1:]
	}
	heap.Init(h)
	return &PriceAndNonceIterator{heads: h}
}

// Empty reports whether no more candidate transactions remain.
func (it *PriceAndNonceIterator) Empty() bool { return it.heads.Len() == 0 }

// Peek returns the current best candidate without consuming it.
func (it *PriceAndNonceIterator) Peek() *types.Transaction {
	if it.heads.Len() == 0 {
		return nil
	}
	return it.heads.heads[0].Tx
}

// Shift commits acceptance of the peeked transaction, replacing the head
// with the same sender's next nonce if one remains.
func (it *PriceAndNonceIterator) Shift() {
	if it.heads.Len() == 0 {
		return
	}
	top := it.heads.heads[0]
	sender := senderOf(top)
	if rest := it.heads.txs[sender]; len(rest) > 0 {
		it.heads.heads[0] = rest[0]
		it.heads.txs[sender] = rest[1:]
		heap.Fix(it.heads, 0)
		return
	}
	heap.Pop(it.heads)
}

// Pop drops the whole sender — every remaining queued nonce for it
// becomes non-executable once its head transaction is rejected for a
// non-recoverable reason.
func (it *PriceAndNonceIterator) Pop() {
	if it.heads.Len() == 0 {
		return
	}
	sender := senderOf(it.heads.heads[0])
	delete(it.heads.txs, sender)
	heap.Pop(it.heads)
}
