package types

import (
	"math/big"

	"github.com/ethcore/execution-core/common"
)

// Receipt status codes, post EIP-658 (the legacy intermediate state root
// field is kept only for the encoder's shape, never populated).
const (
	ReceiptStatusFailed    = uint64(0)
	ReceiptStatusSuccessful = uint64(1)
)

// Log represents a single EVM log entry, emitted by the VM execution
// engine's black-box interpreter and consumed here
// purely as an opaque record for bloom/receipt bookkeeping.
type Log struct {
	Address common.Address
	Topics  []common.Hash
	Data    []byte

	BlockNumber uint64
	TxHash      common.Hash
	TxIndex     uint
	BlockHash   common.Hash
	Index       uint
	Removed     bool
}

// Receipt contains the results of a transaction's execution: the
// cumulative gas used up to and including this transaction, the bloom
// filter over its logs, the logs themselves, and a success/failure
// status.
type Receipt struct {
	Type              uint8
	PostState         []byte // unused post-Byzantium, kept for shape parity
	Status            uint64
	CumulativeGasUsed uint64
	Bloom             common.Bloom
	Logs              []*Log

	TxHash          common.Hash
	ContractAddress common.Address
	GasUsed         uint64

	// EIP-4844 blob fields, populated only for blob transactions.
	BlobGasUsed  uint64
	BlobGasPrice *big.Int

	BlockHash   common.Hash
	BlockNumber *big.Int
	TransactionIndex uint
}

// Receipts is a collection used by DeriveSha to compute the receipts root.
type Receipts []*Receipt

// Failed reports whether the transaction this receipt belongs to reverted.
func (r *Receipt) Failed() bool { return r.Status == ReceiptStatusFailed }

// LogsBloom computes the block-level logs bloom over every log of the
// given receipts, the value committed to Header.Bloom.
func LogsBloom(receipts Receipts) common.Bloom {
	var logs []*Log
	for _, r := range receipts {
		logs = append(logs, r.Logs...)
	}
	return CreateBloom(logs)
}

// CreateBloom computes the logs bloom from a receipt's logs, using the
// same deterministic accumulator the chain store and block assembly use
// for the block-level bloom.
func CreateBloom(logs []*Log) common.Bloom {
	var bin [256]byte
	for _, log := range logs {
		addBloomItem(bin[:], log.Address.Bytes())
		for _, topic := range log.Topics {
			addBloomItem(bin[:], topic.Bytes())
		}
	}
	return bin
}

func addBloomItem(bloom []byte, item []byte) {
	h := Keccak256(item)
	for i := 0; i < 3; i++ {
		bitIdx := (uint(h[2*i])<<8 | uint(h[2*i+1])) & 2047
		byteIdx := 255 - bitIdx/8
		bloom[byteIdx] |= 1 << (bitIdx % 8)
	}
}
