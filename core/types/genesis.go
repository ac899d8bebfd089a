package types

import (
	"math/big"

	"github.com/ethcore/execution-core/common"
	"github.com/ethcore/execution-core/params"
)

// GenesisAccount is the initial balance/code/storage state for one
// account at genesis, the seed the VM execution engine's state manager
// opens from.
type GenesisAccount struct {
	Code    []byte
	Storage map[common.Hash]common.Hash
	Balance *big.Int
	Nonce   uint64
}

// GenesisAlloc maps addresses to their genesis account state.
type GenesisAlloc map[common.Address]GenesisAccount

// Genesis specifies the header fields and accounts of the genesis block,
// the chain store's fixed point with no parent.
type Genesis struct {
	Config     *params.ChainConfig
	Nonce      uint64
	Timestamp  uint64
	ExtraData  []byte
	GasLimit   uint64
	Difficulty *big.Int
	MixHash    common.Hash
	Coinbase   common.Address
	Alloc      GenesisAlloc

	BaseFee       *big.Int
	ExcessBlobGas *uint64
	BlobGasUsed   *uint64
}

// ToBlock assembles the genesis block's header. Root, TxHash and
// ReceiptHash are left zero: this package has no trie to compute roots
// with, and the VM engine's Open writes the genesis allocation into the
// state manager without rewriting this header.
func (g *Genesis) ToBlock() *Block {
	head := &Header{
		Number:     new(big.Int),
		Nonce:      encodeNonce(g.Nonce),
		Time:       g.Timestamp,
		ParentHash: common.Hash{},
		Extra:      g.ExtraData,
		GasLimit:   g.GasLimit,
		GasUsed:    0,
		Difficulty: g.Difficulty,
		MixDigest:  g.MixHash,
		Coinbase:   g.Coinbase,
		BaseFee:    g.BaseFee,
	}
	if g.Difficulty == nil {
		head.Difficulty = new(big.Int)
	}
	if g.Config != nil && g.Config.IsShanghai(head.Number, g.Timestamp) {
		withdrawalsHash := EmptyWithdrawalsHash
		head.WithdrawalsHash = &withdrawalsHash
	}
	if g.Config != nil && g.Config.IsCancun(head.Number, g.Timestamp) {
		head.ExcessBlobGas = g.ExcessBlobGas
		head.BlobGasUsed = g.BlobGasUsed
		parentBeaconRoot := common.Hash{}
		head.ParentBeaconRoot = &parentBeaconRoot
	}
	return NewBlockWithHeader(head)
}

func encodeNonce(n uint64) [8]byte {
	var b [8]byte
	for i := 7; i >= 0; i-- {
		b[i] = byte(n)
		n >>= 8
	}
	return b
}
