package types

import (
	"math/big"
	"sync/atomic"

	"github.com/ethcore/execution-core/common"
)

// Body holds everything about a block that is hashed separately from its
// header: transactions, withdrawals, and (pre-merge only) uncle headers.
type Body struct {
	Transactions Transactions
	Uncles       []*Header
	Withdrawals  Withdrawals
}

// Block represents an entire block, a header plus its body. Fields are
// immutable after construction; anything that needs to change (e.g.
// during assembly) operates on a Header/Body copy and rebuilds the Block.
type Block struct {
	header       *Header
	transactions Transactions
	uncles       []*Header
	withdrawals  Withdrawals

	hash atomic.Pointer[common.Hash]
	size atomic.Uint64
}

// NewBlockWithHeader creates a block with the given header and no body,
// mirroring go-ethereum's NewBlockWithHeader — used as the starting point
// for incremental body assembly during block building.
func NewBlockWithHeader(h *Header) *Block {
	return &Block{header: h.Copy()}
}

// WithBody returns a new block with the given body attached, recomputing
// nothing else: callers are responsible for keeping TxHash/WithdrawalsHash
// in the header consistent with the attached body.
func (b *Block) WithBody(body Body) *Block {
	cp := &Block{
		header:       b.header,
		transactions: append(Transactions(nil), body.Transactions...),
		uncles:       append([]*Header(nil), body.Uncles...),
		withdrawals:  append(Withdrawals(nil), body.Withdrawals...),
	}
	return cp
}

func (b *Block) Header() *Header             { return b.header }
func (b *Block) Transactions() Transactions   { return b.transactions }
func (b *Block) Uncles() []*Header            { return b.uncles }
func (b *Block) Withdrawals() Withdrawals     { return b.withdrawals }

func (b *Block) Number() *big.Int       { return b.header.Number }
func (b *Block) NumberU64() uint64      { return b.header.NumberU64() }
func (b *Block) GasLimit() uint64       { return b.header.GasLimit }
func (b *Block) GasUsed() uint64        { return b.header.GasUsed }
func (b *Block) Time() uint64           { return b.header.Time }
func (b *Block) ParentHash() common.Hash { return b.header.ParentHash }
func (b *Block) Root() common.Hash      { return b.header.Root }
func (b *Block) Coinbase() common.Address { return b.header.Coinbase }
func (b *Block) BaseFee() *big.Int {
	if b.header.BaseFee == nil {
		return nil
	}
	return new(big.Int).Set(b.header.BaseFee)
}

// Hash returns the header hash, caching it on the block for repeated
// lookups (e.g. chain store indexing by hash).
func (b *Block) Hash() common.Hash {
	if cached := b.hash.Load(); cached != nil {
		return *cached
	}
	h := b.header.Hash()
	b.hash.Store(&h)
	return h
}

// Transaction returns the transaction with the given hash if present in
// this block's body.
func (b *Block) Transaction(hash common.Hash) *Transaction {
	for _, tx := range b.transactions {
		if tx.Hash() == hash {
			return tx
		}
	}
	return nil
}
