package txpool

import (
	"bufio"
	"encoding/gob"
	"io"
	"math/big"
	"os"
	"sync"

	"github.com/ethcore/execution-core/common"
	"github.com/ethcore/execution-core/core/types"
	"github.com/ethcore/execution-core/log"
)

// Journal persists locally-submitted transactions across restarts, as
// go-ethereum's legacypool journal does; where that one writes an RLP
// line per local transaction, this one records the same information with
// stdlib encoding/gob.
type Journal struct {
	path string
	mu   sync.Mutex
}

// NewJournal returns a Journal backed by the given file path. An empty
// path disables persistence (Insert/Load become no-ops), matching
// go-ethereum's "journal disabled" convention for in-memory-only nodes.
func NewJournal(path string) *Journal { return &Journal{path: path} }

// journalRecord is the flattened, gob-encodable shape of one local
// transaction. It holds the fields of legacy, access-list and
// dynamic-fee transactions; it carries no blob fee cap, sidecar or
// authorization list, and fromRecord rebuilds any other type tag as a
// legacy transaction.
type journalRecord struct {
	Type       uint8
	ChainID    *big.Int
	Nonce      uint64
	GasPrice   *big.Int
	GasTipCap  *big.Int
	GasFeeCap  *big.Int
	Gas        uint64
	To         *common.Address
	Value      *big.Int
	Data       []byte
	AccessList AccessListRecord
	BlobHashes []common.Hash
	V, R, S    *big.Int
}

// AccessListRecord is the journal's own copy of the types.AccessList
// shape, so the journal's wire format does not depend on the types
// package's struct definitions.
type AccessListRecord []struct {
	Address     common.Address
	StorageKeys []common.Hash
}

func toRecord(tx *types.Transaction) journalRecord {
	var to *common.Address
	if t := tx.To(); t != nil {
		addr := *t
		to = &addr
	}
	v, r, s := tx.RawSignatureValues()
	rec := journalRecord{
		Type:       tx.Type(),
		ChainID:    tx.ChainId(),
		Nonce:      tx.Nonce(),
		GasPrice:   tx.GasPrice(),
		GasTipCap:  tx.GasTipCap(),
		GasFeeCap:  tx.GasFeeCap(),
		Gas:        tx.Gas(),
		To:         to,
		Value:      tx.Value(),
		Data:       tx.Data(),
		BlobHashes: tx.BlobHashes(),
		V:          v, R: r, S: s,
	}
	for _, t := range tx.AccessList() {
		rec.AccessList = append(rec.AccessList, struct {
			Address     common.Address
			StorageKeys []common.Hash
		}{t.Address, t.StorageKeys})
	}
	return rec
}

func fromRecord(rec journalRecord) *types.Transaction {
	var accessList types.AccessList
	for _, t := range rec.AccessList {
		accessList = append(accessList, types.AccessTuple{Address: t.Address, StorageKeys: t.StorageKeys})
	}
	switch rec.Type {
	case types.AccessListTxType:
		return types.NewTx(&types.AccessListTx{
			ChainID: rec.ChainID, Nonce: rec.Nonce, GasPrice: rec.GasPrice, Gas: rec.Gas,
			To: rec.To, Value: rec.Value, Data: rec.Data, AccessList: accessList,
			V: rec.V, R: rec.R, S: rec.S,
		})
	case types.DynamicFeeTxType:
		return types.NewTx(&types.DynamicFeeTx{
			ChainID: rec.ChainID, Nonce: rec.Nonce, GasTipCap: rec.GasTipCap, GasFeeCap: rec.GasFeeCap,
			Gas: rec.Gas, To: rec.To, Value: rec.Value, Data: rec.Data, AccessList: accessList,
			V: rec.V, R: rec.R, S: rec.S,
		})
	default:
		return types.NewTx(&types.LegacyTx{
			Nonce: rec.Nonce, GasPrice: rec.GasPrice, Gas: rec.Gas, To: rec.To, Value: rec.Value,
			Data: rec.Data, V: rec.V, R: rec.R, S: rec.S,
		})
	}
}

// Insert appends tx to the journal file.
func (j *Journal) Insert(tx *types.Transaction) error {
	if j.path == "" {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	return gob.NewEncoder(f).Encode(toRecord(tx))
}

// Load replays every journaled transaction into add, skipping records
// that fail to decode (a truncated journal from an unclean shutdown),
// mirroring go-ethereum's "best effort" journal load.
func (j *Journal) Load(logger *log.Logger, add func(*types.Transaction) error) error {
	if j.path == "" {
		return nil
	}
	f, err := os.Open(j.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	dec := gob.NewDecoder(bufio.NewReader(f))
	var loaded, failed int
	for {
		var rec journalRecord
		if err := dec.Decode(&rec); err != nil {
			if err == io.EOF {
				break
			}
			failed++
			continue
		}
		if err := add(fromRecord(rec)); err != nil {
			failed++
			continue
		}
		loaded++
	}
	logger.Info("loaded local transaction journal", "transactions", loaded, "failed", failed)
	return nil
}
