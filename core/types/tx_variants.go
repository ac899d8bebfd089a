package types

import (
	"math/big"

	"github.com/ethcore/execution-core/common"
	"github.com/ethcore/execution-core/params"
)

// LegacyTx is the original Ethereum transaction type (type 0x00).
type LegacyTx struct {
	Nonce    uint64
	GasPrice *big.Int
	Gas      uint64
	To       *common.Address
	Value    *big.Int
	Data     []byte
	V, R, S  *big.Int
}

func (tx *LegacyTx) txType() byte   { return LegacyTxType }
func (tx *LegacyTx) copy() TxData {
	cp := *tx
	cp.GasPrice = copyBig(tx.GasPrice)
	cp.Value = copyBig(tx.Value)
	cp.Data = append([]byte(nil), tx.Data...)
	cp.V, cp.R, cp.S = copyBig(tx.V), copyBig(tx.R), copyBig(tx.S)
	return &cp
}
func (tx *LegacyTx) chainID() *big.Int      { return deriveChainID(tx.V) }
func (tx *LegacyTx) accessList() AccessList { return nil }
func (tx *LegacyTx) data() []byte          { return tx.Data }
func (tx *LegacyTx) gas() uint64           { return tx.Gas }
func (tx *LegacyTx) gasPrice() *big.Int    { return tx.GasPrice }
func (tx *LegacyTx) gasTipCap() *big.Int   { return tx.GasPrice }
func (tx *LegacyTx) gasFeeCap() *big.Int   { return tx.GasPrice }
func (tx *LegacyTx) value() *big.Int       { return tx.Value }
func (tx *LegacyTx) nonce() uint64         { return tx.Nonce }
func (tx *LegacyTx) to() *common.Address   { return tx.To }
func (tx *LegacyTx) blobGas() uint64              { return 0 }
func (tx *LegacyTx) blobHashes() []common.Hash    { return nil }
func (tx *LegacyTx) rawSignatureValues() (v, r, s *big.Int) { return tx.V, tx.R, tx.S }
func (tx *LegacyTx) setSignatureValues(chainID, v, r, s *big.Int) {
	tx.V, tx.R, tx.S = v, r, s
}
func (tx *LegacyTx) effectivePriorityFee(baseFee *big.Int) *big.Int {
	if baseFee == nil {
		return new(big.Int).Set(tx.GasPrice)
	}
	return new(big.Int).Sub(tx.GasPrice, baseFee)
}
func (tx *LegacyTx) effectiveGasPrice(*big.Int) *big.Int { return new(big.Int).Set(tx.GasPrice) }

// AccessListTx is the EIP-2930 transaction type (type 0x01).
type AccessListTx struct {
	ChainID    *big.Int
	Nonce      uint64
	GasPrice   *big.Int
	Gas        uint64
	To         *common.Address
	Value      *big.Int
	Data       []byte
	AccessList AccessList
	V, R, S    *big.Int
}

func (tx *AccessListTx) txType() byte { return AccessListTxType }
func (tx *AccessListTx) copy() TxData {
	cp := *tx
	cp.ChainID = copyBig(tx.ChainID)
	cp.GasPrice = copyBig(tx.GasPrice)
	cp.Value = copyBig(tx.Value)
	cp.Data = append([]byte(nil), tx.Data...)
	cp.AccessList = append(AccessList(nil), tx.AccessList...)
	cp.V, cp.R, cp.S = copyBig(tx.V), copyBig(tx.R), copyBig(tx.S)
	return &cp
}
func (tx *AccessListTx) chainID() *big.Int      { return tx.ChainID }
func (tx *AccessListTx) accessList() AccessList { return tx.AccessList }
func (tx *AccessListTx) data() []byte           { return tx.Data }
func (tx *AccessListTx) gas() uint64            { return tx.Gas }
func (tx *AccessListTx) gasPrice() *big.Int     { return tx.GasPrice }
func (tx *AccessListTx) gasTipCap() *big.Int    { return tx.GasPrice }
func (tx *AccessListTx) gasFeeCap() *big.Int    { return tx.GasPrice }
func (tx *AccessListTx) value() *big.Int        { return tx.Value }
func (tx *AccessListTx) nonce() uint64          { return tx.Nonce }
func (tx *AccessListTx) to() *common.Address    { return tx.To }
func (tx *AccessListTx) blobGas() uint64        { return 0 }
func (tx *AccessListTx) blobHashes() []common.Hash { return nil }
func (tx *AccessListTx) rawSignatureValues() (v, r, s *big.Int) { return tx.V, tx.R, tx.S }
func (tx *AccessListTx) setSignatureValues(chainID, v, r, s *big.Int) {
	tx.ChainID, tx.V, tx.R, tx.S = chainID, v, r, s
}
func (tx *AccessListTx) effectivePriorityFee(baseFee *big.Int) *big.Int {
	if baseFee == nil {
		return new(big.Int).Set(tx.GasPrice)
	}
	return new(big.Int).Sub(tx.GasPrice, baseFee)
}
func (tx *AccessListTx) effectiveGasPrice(*big.Int) *big.Int { return new(big.Int).Set(tx.GasPrice) }

// DynamicFeeTx is the EIP-1559 transaction type (type 0x02).
type DynamicFeeTx struct {
	ChainID    *big.Int
	Nonce      uint64
	GasTipCap  *big.Int
	GasFeeCap  *big.Int
	Gas        uint64
	To         *common.Address
	Value      *big.Int
	Data       []byte
	AccessList AccessList
	V, R, S    *big.Int
}

func (tx *DynamicFeeTx) txType() byte { return DynamicFeeTxType }
func (tx *DynamicFeeTx) copy() TxData {
	cp := *tx
	cp.ChainID = copyBig(tx.ChainID)
	cp.GasTipCap = copyBig(tx.GasTipCap)
	cp.GasFeeCap = copyBig(tx.GasFeeCap)
	cp.Value = copyBig(tx.Value)
	cp.Data = append([]byte(nil), tx.Data...)
	cp.AccessList = append(AccessList(nil), tx.AccessList...)
	cp.V, cp.R, cp.S = copyBig(tx.V), copyBig(tx.R), copyBig(tx.S)
	return &cp
}
func (tx *DynamicFeeTx) chainID() *big.Int      { return tx.ChainID }
func (tx *DynamicFeeTx) accessList() AccessList { return tx.AccessList }
func (tx *DynamicFeeTx) data() []byte           { return tx.Data }
func (tx *DynamicFeeTx) gas() uint64            { return tx.Gas }
func (tx *DynamicFeeTx) gasPrice() *big.Int     { return tx.GasFeeCap }
func (tx *DynamicFeeTx) gasTipCap() *big.Int    { return tx.GasTipCap }
func (tx *DynamicFeeTx) gasFeeCap() *big.Int    { return tx.GasFeeCap }
func (tx *DynamicFeeTx) value() *big.Int        { return tx.Value }
func (tx *DynamicFeeTx) nonce() uint64          { return tx.Nonce }
func (tx *DynamicFeeTx) to() *common.Address    { return tx.To }
func (tx *DynamicFeeTx) blobGas() uint64        { return 0 }
func (tx *DynamicFeeTx) blobHashes() []common.Hash { return nil }
func (tx *DynamicFeeTx) rawSignatureValues() (v, r, s *big.Int) { return tx.V, tx.R, tx.S }
func (tx *DynamicFeeTx) setSignatureValues(chainID, v, r, s *big.Int) {
	tx.ChainID, tx.V, tx.R, tx.S = chainID, v, r, s
}
func (tx *DynamicFeeTx) effectivePriorityFee(baseFee *big.Int) *big.Int {
	return effective1559Tip(tx.GasTipCap, tx.GasFeeCap, baseFee)
}
func (tx *DynamicFeeTx) effectiveGasPrice(baseFee *big.Int) *big.Int {
	return effective1559GasPrice(tx.GasTipCap, tx.GasFeeCap, baseFee)
}

// BlobTx is the EIP-4844 blob-carrying transaction type (type 0x03).
type BlobTx struct {
	ChainID    *big.Int
	Nonce      uint64
	GasTipCap  *big.Int
	GasFeeCap  *big.Int
	Gas        uint64
	To         common.Address // blob txs always have a recipient
	Value      *big.Int
	Data       []byte
	AccessList AccessList
	BlobFeeCap *big.Int
	BlobHashes_ []common.Hash
	V, R, S    *big.Int
}

func (tx *BlobTx) txType() byte { return BlobTxType }
func (tx *BlobTx) copy() TxData {
	cp := *tx
	cp.ChainID = copyBig(tx.ChainID)
	cp.GasTipCap = copyBig(tx.GasTipCap)
	cp.GasFeeCap = copyBig(tx.GasFeeCap)
	cp.Value = copyBig(tx.Value)
	cp.Data = append([]byte(nil), tx.Data...)
	cp.AccessList = append(AccessList(nil), tx.AccessList...)
	cp.BlobFeeCap = copyBig(tx.BlobFeeCap)
	cp.BlobHashes_ = append([]common.Hash(nil), tx.BlobHashes_...)
	cp.V, cp.R, cp.S = copyBig(tx.V), copyBig(tx.R), copyBig(tx.S)
	return &cp
}
func (tx *BlobTx) chainID() *big.Int      { return tx.ChainID }
func (tx *BlobTx) accessList() AccessList { return tx.AccessList }
func (tx *BlobTx) data() []byte           { return tx.Data }
func (tx *BlobTx) gas() uint64            { return tx.Gas }
func (tx *BlobTx) gasPrice() *big.Int     { return tx.GasFeeCap }
func (tx *BlobTx) gasTipCap() *big.Int    { return tx.GasTipCap }
func (tx *BlobTx) gasFeeCap() *big.Int    { return tx.GasFeeCap }
func (tx *BlobTx) value() *big.Int        { return tx.Value }
func (tx *BlobTx) nonce() uint64          { return tx.Nonce }
func (tx *BlobTx) to() *common.Address    { addr := tx.To; return &addr }
func (tx *BlobTx) blobGas() uint64 {
	return uint64(len(tx.BlobHashes_)) * params.BlobTxBlobGasPerBlob
}
func (tx *BlobTx) blobHashes() []common.Hash { return tx.BlobHashes_ }
func (tx *BlobTx) rawSignatureValues() (v, r, s *big.Int) { return tx.V, tx.R, tx.S }
func (tx *BlobTx) setSignatureValues(chainID, v, r, s *big.Int) {
	tx.ChainID, tx.V, tx.R, tx.S = chainID, v, r, s
}
func (tx *BlobTx) effectivePriorityFee(baseFee *big.Int) *big.Int {
	return effective1559Tip(tx.GasTipCap, tx.GasFeeCap, baseFee)
}
func (tx *BlobTx) effectiveGasPrice(baseFee *big.Int) *big.Int {
	return effective1559GasPrice(tx.GasTipCap, tx.GasFeeCap, baseFee)
}

// SetCodeTx is the EIP-7702 authorization transaction type (type 0x04).
type SetCodeTx struct {
	ChainID       *big.Int
	Nonce         uint64
	GasTipCap     *big.Int
	GasFeeCap     *big.Int
	Gas           uint64
	To            common.Address
	Value         *big.Int
	Data          []byte
	AccessList    AccessList
	AuthList      []Authorization
	V, R, S       *big.Int
}

func (tx *SetCodeTx) txType() byte { return SetCodeTxType }
func (tx *SetCodeTx) copy() TxData {
	cp := *tx
	cp.ChainID = copyBig(tx.ChainID)
	cp.GasTipCap = copyBig(tx.GasTipCap)
	cp.GasFeeCap = copyBig(tx.GasFeeCap)
	cp.Value = copyBig(tx.Value)
	cp.Data = append([]byte(nil), tx.Data...)
	cp.AccessList = append(AccessList(nil), tx.AccessList...)
	cp.AuthList = append([]Authorization(nil), tx.AuthList...)
	cp.V, cp.R, cp.S = copyBig(tx.V), copyBig(tx.R), copyBig(tx.S)
	return &cp
}
func (tx *SetCodeTx) chainID() *big.Int      { return tx.ChainID }
func (tx *SetCodeTx) accessList() AccessList { return tx.AccessList }
func (tx *SetCodeTx) data() []byte           { return tx.Data }
func (tx *SetCodeTx) gas() uint64            { return tx.Gas }
func (tx *SetCodeTx) gasPrice() *big.Int     { return tx.GasFeeCap }
func (tx *SetCodeTx) gasTipCap() *big.Int    { return tx.GasTipCap }
func (tx *SetCodeTx) gasFeeCap() *big.Int    { return tx.GasFeeCap }
func (tx *SetCodeTx) value() *big.Int        { return tx.Value }
func (tx *SetCodeTx) nonce() uint64          { return tx.Nonce }
func (tx *SetCodeTx) to() *common.Address    { addr := tx.To; return &addr }
func (tx *SetCodeTx) blobGas() uint64        { return 0 }
func (tx *SetCodeTx) blobHashes() []common.Hash { return nil }
func (tx *SetCodeTx) rawSignatureValues() (v, r, s *big.Int) { return tx.V, tx.R, tx.S }
func (tx *SetCodeTx) setSignatureValues(chainID, v, r, s *big.Int) {
	tx.ChainID, tx.V, tx.R, tx.S = chainID, v, r, s
}
func (tx *SetCodeTx) effectivePriorityFee(baseFee *big.Int) *big.Int {
	return effective1559Tip(tx.GasTipCap, tx.GasFeeCap, baseFee)
}
func (tx *SetCodeTx) effectiveGasPrice(baseFee *big.Int) *big.Int {
	return effective1559GasPrice(tx.GasTipCap, tx.GasFeeCap, baseFee)
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// deriveChainID recovers the chain ID encoded in a legacy EIP-155
// signature's V value, or nil for a pre-EIP-155 unprotected signature.
func deriveChainID(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	if v.BitLen() <= 8 {
		vv := v.Uint64()
		if vv == 27 || vv == 28 {
			return nil
		}
	}
	x := new(big.Int).Sub(v, big.NewInt(35))
	return x.Div(x, common.Big2)
}

func effective1559Tip(tip, feeCap, baseFee *big.Int) *big.Int {
	if baseFee == nil {
		return new(big.Int).Set(tip)
	}
	headroom := new(big.Int).Sub(feeCap, baseFee)
	if headroom.Cmp(tip) < 0 {
		return headroom
	}
	return new(big.Int).Set(tip)
}

func effective1559GasPrice(tip, feeCap, baseFee *big.Int) *big.Int {
	if baseFee == nil {
		return new(big.Int).Set(feeCap)
	}
	return new(big.Int).Add(baseFee, effective1559Tip(tip, feeCap, baseFee))
}
