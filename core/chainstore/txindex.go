package chainstore

import (
	"encoding/binary"

	bloomfilter "github.com/holiman/bloomfilter/v2"

	"github.com/ethcore/execution-core/common"
	"github.com/ethcore/execution-core/core/types"
)

// TxLookup locates a transaction inside a stored block.
type TxLookup struct {
	BlockHash common.Hash
	Index     int
}

const (
	// txBloomBits/txBloomHashes size the negative-lookup filter in front
	// of the transaction index; at these parameters the false-positive
	// rate stays negligible for the index sizes an in-memory store holds.
	txBloomBits   = 1 << 22
	txBloomHashes = 4
)

func newTxBloom() *bloomfilter.Filter {
	f, err := bloomfilter.New(txBloomBits, txBloomHashes)
	if err != nil {
		panic("chainstore: tx bloom parameters invalid: " + err.Error())
	}
	return f
}

// bloomHasher feeds a 32-byte hash into the bloom filter as a
// hash.Hash64 without re-hashing: the leading 8 bytes of a keccak hash
// are already uniformly distributed.
type bloomHasher common.Hash

func (h bloomHasher) Write(p []byte) (int, error) { panic("not implemented") }
func (h bloomHasher) Sum(b []byte) []byte         { panic("not implemented") }
func (h bloomHasher) Reset()                      { panic("not implemented") }
func (h bloomHasher) Size() int                   { return 8 }
func (h bloomHasher) BlockSize() int              { return 8 }
func (h bloomHasher) Sum64() uint64               { return binary.BigEndian.Uint64(h[:8]) }

// indexTransactionsLocked records every transaction of b in the lookup
// index, called with cs.mu held.
func (cs *ChainStore) indexTransactionsLocked(b *types.Block) {
	blockHash := b.Hash()
	for i, tx := range b.Transactions() {
		txHash := tx.Hash()
		cs.txIndex[txHash] = TxLookup{BlockHash: blockHash, Index: i}
		cs.txBloom.Add(bloomHasher(txHash))
	}
}

// GetTransactionLookup resolves a transaction hash to its containing
// block and position. The bloom filter answers the common negative case
// without touching the index; a positive filter answer still consults
// the exact index, so false positives only cost a map lookup.
func (cs *ChainStore) GetTransactionLookup(txHash common.Hash) (TxLookup, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if !cs.txBloom.Contains(bloomHasher(txHash)) {
		return TxLookup{}, false
	}
	lookup, ok := cs.txIndex[txHash]
	return lookup, ok
}

// GetTransaction returns the indexed transaction itself along with its
// location, if known.
func (cs *ChainStore) GetTransaction(txHash common.Hash) (*types.Transaction, TxLookup, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if !cs.txBloom.Contains(bloomHasher(txHash)) {
		return nil, TxLookup{}, false
	}
	lookup, ok := cs.txIndex[txHash]
	if !ok {
		return nil, TxLookup{}, false
	}
	block, ok := cs.getBlockLocked(lookup.BlockHash)
	if !ok || lookup.Index >= len(block.Transactions()) {
		return nil, TxLookup{}, false
	}
	return block.Transactions()[lookup.Index], lookup, true
}
