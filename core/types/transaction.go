package types

import (
	"errors"
	"math/big"
	"sync/atomic"

	"github.com/ethcore/execution-core/common"
)

// Transaction type tags.
const (
	LegacyTxType     = 0x00
	AccessListTxType = 0x01
	DynamicFeeTxType = 0x02
	BlobTxType       = 0x03
	SetCodeTxType    = 0x04
)

var (
	ErrInvalidSig       = errors.New("invalid transaction v, r, s values")
	ErrTxTypeNotSupported = errors.New("transaction type not supported")
)

// AccessTuple is one entry of an EIP-2930 access list.
type AccessTuple struct {
	Address     common.Address
	StorageKeys []common.Hash
}

type AccessList []AccessTuple

// Authorization is an EIP-7702 authorization tuple.
type Authorization struct {
	ChainID *big.Int
	Address common.Address
	Nonce   uint64
	V       uint8
	R, S    *big.Int
}

// TxData is the tagged-variant interface every concrete transaction type
// implements; type switches at the encode/decode boundaries dispatch on
// the tag.
type TxData interface {
	txType() byte
	copy() TxData

	chainID() *big.Int
	accessList() AccessList
	data() []byte
	gas() uint64
	gasPrice() *big.Int
	gasTipCap() *big.Int
	gasFeeCap() *big.Int
	value() *big.Int
	nonce() uint64
	to() *common.Address

	rawSignatureValues() (v, r, s *big.Int)
	setSignatureValues(chainID, v, r, s *big.Int)

	// effectivePriorityFee returns the priority fee per gas actually
	// earned by the miner given a block base fee.
	effectivePriorityFee(baseFee *big.Int) *big.Int
	effectiveGasPrice(baseFee *big.Int) *big.Int

	blobGas() uint64
	blobHashes() []common.Hash
}

// Transaction wraps a TxData variant with a cached hash and sender.
type Transaction struct {
	inner   TxData
	time    int64 // unix millis this transaction object was constructed, not pool-added
	sidecar *BlobTxSidecar

	hash atomic.Pointer[common.Hash]
	from atomic.Pointer[common.Address]
}

func NewTx(inner TxData) *Transaction {
	tx := new(Transaction)
	tx.setDecoded(inner.copy())
	return tx
}

func (tx *Transaction) setDecoded(inner TxData) {
	tx.inner = inner
}

func (tx *Transaction) Type() uint8 { return tx.inner.txType() }

func (tx *Transaction) ChainId() *big.Int      { return tx.inner.chainID() }
func (tx *Transaction) Data() []byte           { return tx.inner.data() }
func (tx *Transaction) AccessList() AccessList { return tx.inner.accessList() }
func (tx *Transaction) Gas() uint64            { return tx.inner.gas() }
func (tx *Transaction) GasPrice() *big.Int     { return new(big.Int).Set(tx.inner.gasPrice()) }
func (tx *Transaction) GasTipCap() *big.Int    { return new(big.Int).Set(tx.inner.gasTipCap()) }
func (tx *Transaction) GasFeeCap() *big.Int    { return new(big.Int).Set(tx.inner.gasFeeCap()) }
func (tx *Transaction) Value() *big.Int        { return new(big.Int).Set(tx.inner.value()) }
func (tx *Transaction) Nonce() uint64          { return tx.inner.nonce() }
func (tx *Transaction) To() *common.Address    { return tx.inner.to() }
func (tx *Transaction) BlobGas() uint64        { return tx.inner.blobGas() }
func (tx *Transaction) BlobHashes() []common.Hash { return tx.inner.blobHashes() }

// Cost returns gas * gasPrice + value, the maximum amount of wei this
// transaction could consume, used by the pool's balance check.
func (tx *Transaction) Cost() *big.Int {
	total := new(big.Int).Mul(tx.inner.gasFeeCap(), new(big.Int).SetUint64(tx.Gas()))
	total.Add(total, tx.inner.value())
	return total
}

// EffectiveGasTip returns the priority fee per gas the miner actually
// earns given a block's base fee.
func (tx *Transaction) EffectiveGasTip(baseFee *big.Int) *big.Int {
	return tx.inner.effectivePriorityFee(baseFee)
}

// EffectiveGasPrice returns the gas price the sender actually pays per
// gas given a block's base fee.
func (tx *Transaction) EffectiveGasPrice(baseFee *big.Int) *big.Int {
	return tx.inner.effectiveGasPrice(baseFee)
}

// RawSignatureValues returns the raw v, r, s signature values.
func (tx *Transaction) RawSignatureValues() (v, r, s *big.Int) {
	return tx.inner.rawSignatureValues()
}

// WithSignature returns a new transaction with the given signature.
func (tx *Transaction) WithSignature(signer Signer, sig []byte) (*Transaction, error) {
	r, s, v, err := signer.SignatureValues(tx, sig)
	if err != nil {
		return nil, err
	}
	cp := tx.inner.copy()
	cp.setSignatureValues(signer.ChainID(), v, r, s)
	return &Transaction{inner: cp}, nil
}

// Hash returns the keccak256 hash of the canonical transaction encoding,
// caching the result.
func (tx *Transaction) Hash() common.Hash {
	if cached := tx.hash.Load(); cached != nil {
		return *cached
	}
	v, r, s := tx.inner.rawSignatureValues()
	e := newCanonicalEncoder().
		uint64(uint64(tx.Type())).
		bigInt(tx.inner.chainID()).
		uint64(tx.Nonce()).
		bigInt(tx.inner.gasPrice()).
		bigInt(tx.inner.gasTipCap()).
		bigInt(tx.inner.gasFeeCap()).
		uint64(tx.Gas())
	if to := tx.To(); to != nil {
		e.address(*to)
	} else {
		e.bytes(nil)
	}
	e.bigInt(tx.Value()).bytes(tx.Data()).bigInt(v).bigInt(r).bigInt(s)
	for _, bh := range tx.BlobHashes() {
		e.hash(bh)
	}
	sum := e.sum()
	tx.hash.Store(&sum)
	return sum
}

// SetSender caches a sender address already derived by a Signer, so
// repeated lookups (e.g. across pool iteration) avoid re-running
// signature recovery.
func (tx *Transaction) SetSender(addr common.Address) {
	tx.from.Store(&addr)
}

func (tx *Transaction) cachedSender() (common.Address, bool) {
	if p := tx.from.Load(); p != nil {
		return *p, true
	}
	return common.Address{}, false
}

// ErrSenderNotRecovered is returned by Sender when no signature recovery
// has populated the cached sender yet. Recovery happens through
// Sender(signer, tx) — this accessor is for call sites that run strictly
// after it (pool iteration, block building).
var ErrSenderNotRecovered = errors.New("transaction sender not recovered")

// Sender returns the cached sender address populated by a prior
// Sender(signer, tx) recovery or an explicit SetSender call.
func (tx *Transaction) Sender() (common.Address, error) {
	if addr, ok := tx.cachedSender(); ok {
		return addr, nil
	}
	return common.Address{}, ErrSenderNotRecovered
}

// Transactions implements a simple slice-of-pointer collection, used by
// DeriveSha and block bodies.
type Transactions []*Transaction

// Withdrawal represents an EIP-4895 validator withdrawal.
type Withdrawal struct {
	Index     uint64
	Validator uint64
	Address   common.Address
	Amount    uint64 // in gwei
}

type Withdrawals []*Withdrawal

// DeriveSha computes a canonical root hash over an ordered list of
// encodable items, standing in for the Merkle-Patricia trie root that
// backs transactionsRoot/receiptsRoot/withdrawalsRoot when a real trie
// implementation is wired in.
func DeriveSha[T any](items []T, encode func(T) []byte) common.Hash {
	e := newCanonicalEncoder().uint64(uint64(len(items)))
	for _, it := range items {
		e.bytes(encode(it))
	}
	return e.sum()
}

// CalcTxsRoot derives the transactions root committed to by a header.
func CalcTxsRoot(txs Transactions) common.Hash {
	return DeriveSha(txs, func(tx *Transaction) []byte {
		h := tx.Hash()
		return h[:]
	})
}

// CalcReceiptsRoot derives the receipts root committed to by a header.
func CalcReceiptsRoot(receipts Receipts) common.Hash {
	return DeriveSha(receipts, func(r *Receipt) []byte {
		return append(append([]byte{byte(r.Status)}, r.TxHash[:]...), r.Bloom[:]...)
	})
}

// CalcWithdrawalsRoot derives the withdrawals root committed to by a
// header.
func CalcWithdrawalsRoot(withdrawals Withdrawals) common.Hash {
	return DeriveSha(withdrawals, func(w *Withdrawal) []byte {
		var buf [44]byte
		putBE(buf[0:8], w.Index)
		putBE(buf[8:16], w.Validator)
		copy(buf[16:36], w.Address[:])
		putBE(buf[36:44], w.Amount)
		return buf[:]
	})
}

func putBE(b []byte, v uint64) {
	for i := len(b) - 1; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}
