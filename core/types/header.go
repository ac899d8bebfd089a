package types

import (
	"math/big"
	"sync/atomic"

	"github.com/ethcore/execution-core/common"
)

// Header represents a block header across every activated fork —
// variant fields (difficulty vs. prevRandao, baseFee,
// withdrawalsRoot, excessBlobGas/blobGasUsed, parentBeaconBlockRoot,
// requestsHash) are all present; a zero value means "not applicable to
// this hardfork" rather than "absent", matching go-ethereum's own header
// representation.
type Header struct {
	ParentHash  common.Hash    `json:"parentHash"`
	Coinbase    common.Address `json:"miner"`
	Root        common.Hash    `json:"stateRoot"`
	TxHash      common.Hash    `json:"transactionsRoot"`
	ReceiptHash common.Hash    `json:"receiptsRoot"`
	Bloom       common.Bloom   `json:"logsBloom"`
	Difficulty  *big.Int       `json:"difficulty"`
	Number      *big.Int       `json:"number"`
	GasLimit    uint64         `json:"gasLimit"`
	GasUsed     uint64         `json:"gasUsed"`
	Time        uint64         `json:"timestamp"`
	Extra       []byte         `json:"extraData"`
	MixDigest   common.Hash    `json:"mixHash"` // prevRandao post-merge
	Nonce       [8]byte        `json:"nonce"`

	// BaseFee is present from London onward (EIP-1559).
	BaseFee *big.Int `json:"baseFeePerGas,omitempty"`

	// WithdrawalsHash is present from Shanghai onward (EIP-4895).
	WithdrawalsHash *common.Hash `json:"withdrawalsRoot,omitempty"`

	// BlobGasUsed / ExcessBlobGas are present from Cancun onward (EIP-4844).
	BlobGasUsed   *uint64 `json:"blobGasUsed,omitempty"`
	ExcessBlobGas *uint64 `json:"excessBlobGas,omitempty"`

	// ParentBeaconRoot is present from Cancun onward (EIP-4788).
	ParentBeaconRoot *common.Hash `json:"parentBeaconBlockRoot,omitempty"`

	// RequestsHash is present from Prague onward (EIP-7685).
	RequestsHash *common.Hash `json:"requestsHash,omitempty"`

	hash atomic.Pointer[common.Hash]
}

// Hash computes and caches the keccak256 hash of the header's
// canonicalEncoder serialization.
func (h *Header) Hash() common.Hash {
	if cached := h.hash.Load(); cached != nil {
		return *cached
	}
	e := newCanonicalEncoder().
		hash(h.ParentHash).
		address(h.Coinbase).
		hash(h.Root).
		hash(h.TxHash).
		hash(h.ReceiptHash).
		bytes(h.Bloom[:]).
		bigInt(h.Difficulty).
		bigInt(h.Number).
		uint64(h.GasLimit).
		uint64(h.GasUsed).
		uint64(h.Time).
		bytes(h.Extra).
		hash(h.MixDigest).
		bytes(h.Nonce[:])
	if h.BaseFee != nil {
		e.bigInt(h.BaseFee)
	}
	if h.WithdrawalsHash != nil {
		e.hash(*h.WithdrawalsHash)
	}
	if h.BlobGasUsed != nil {
		e.uint64(*h.BlobGasUsed)
	}
	if h.ExcessBlobGas != nil {
		e.uint64(*h.ExcessBlobGas)
	}
	if h.ParentBeaconRoot != nil {
		e.hash(*h.ParentBeaconRoot)
	}
	if h.RequestsHash != nil {
		e.hash(*h.RequestsHash)
	}
	sum := e.sum()
	h.hash.Store(&sum)
	return sum
}

// NumberU64 returns the header number as a uint64.
func (h *Header) NumberU64() uint64 {
	if h.Number == nil {
		return 0
	}
	return h.Number.Uint64()
}

// Copy returns a deep copy of the header, used whenever a component
// needs to mutate a header without aliasing the original (block
// assembly, in particular).
func (h *Header) Copy() *Header {
	cp := Header{
		ParentHash:  h.ParentHash,
		Coinbase:    h.Coinbase,
		Root:        h.Root,
		TxHash:      h.TxHash,
		ReceiptHash: h.ReceiptHash,
		Bloom:       h.Bloom,
		GasLimit:    h.GasLimit,
		GasUsed:     h.GasUsed,
		Time:        h.Time,
		MixDigest:   h.MixDigest,
		Nonce:       h.Nonce,
	}
	if h.Difficulty != nil {
		cp.Difficulty = new(big.Int).Set(h.Difficulty)
	}
	if h.Number != nil {
		cp.Number = new(big.Int).Set(h.Number)
	}
	if h.BaseFee != nil {
		cp.BaseFee = new(big.Int).Set(h.BaseFee)
	}
	if h.Extra != nil {
		cp.Extra = append([]byte(nil), h.Extra...)
	}
	if h.WithdrawalsHash != nil {
		v := *h.WithdrawalsHash
		cp.WithdrawalsHash = &v
	}
	if h.BlobGasUsed != nil {
		v := *h.BlobGasUsed
		cp.BlobGasUsed = &v
	}
	if h.ExcessBlobGas != nil {
		v := *h.ExcessBlobGas
		cp.ExcessBlobGas = &v
	}
	if h.ParentBeaconRoot != nil {
		v := *h.ParentBeaconRoot
		cp.ParentBeaconRoot = &v
	}
	if h.RequestsHash != nil {
		v := *h.RequestsHash
		cp.RequestsHash = &v
	}
	return &cp
}

// EmptyUncleHash is a fixed placeholder (the keccak256 hash of a tag
// string) standing for an empty uncle list, retained as a constant for
// post-merge blocks whose uncle list is always empty.
var EmptyUncleHash = Keccak256([]byte("uncle-list-empty"))

// EmptyWithdrawalsHash is a fixed placeholder (the keccak256 hash of a
// tag string) that Genesis.ToBlock writes as a Shanghai genesis header's
// withdrawals root; it differs from CalcWithdrawalsRoot of an empty list.
var EmptyWithdrawalsHash = Keccak256([]byte("withdrawals-empty"))

// EmptyTxsHash is a fixed placeholder (the keccak256 hash of a tag
// string) for an empty transaction list; it differs from CalcTxsRoot of
// an empty list.
var EmptyTxsHash = Keccak256([]byte("transactions-empty"))
