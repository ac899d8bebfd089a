package vmengine

import (
	"math/big"

	"github.com/ethcore/execution-core/common"
	"github.com/ethcore/execution-core/core/types"
)

// Message is the VM-facing, EIP-1559-aware view of a transaction; it
// only names the fields this package's EVM interface needs.
type Message struct {
	From       common.Address
	To         *common.Address
	Nonce      uint64
	Value      *big.Int
	GasLimit   uint64
	GasPrice   *big.Int
	GasFeeCap  *big.Int
	GasTipCap  *big.Int
	Data       []byte
	AccessList types.AccessList
	BlobHashes []common.Hash

	// SkipNonceChecks/SkipBalanceChecks let system-level calls (beacon
	// root storage, withdrawal/consolidation queue calls) bypass normal
	// account validation.
	SkipNonceChecks   bool
	SkipBalanceChecks bool
}

// TransactionToMessage converts a signed transaction into the VM-facing
// Message, recovering the sender through signer and resolving the
// effective gas price against baseFee. A nil signer falls back to the
// transaction's cached sender.
func TransactionToMessage(tx *types.Transaction, signer types.Signer, baseFee *big.Int) (*Message, error) {
	var (
		from common.Address
		err  error
	)
	if signer != nil {
		from, err = types.Sender(signer, tx)
	} else {
		from, err = tx.Sender()
	}
	if err != nil {
		return nil, err
	}
	msg := &Message{
		From:       from,
		To:         tx.To(),
		Nonce:      tx.Nonce(),
		Value:      tx.Value(),
		GasLimit:   tx.Gas(),
		GasFeeCap:  tx.GasFeeCap(),
		GasTipCap:  tx.GasTipCap(),
		Data:       tx.Data(),
		AccessList: tx.AccessList(),
		BlobHashes: tx.BlobHashes(),
	}
	msg.GasPrice = new(big.Int).Set(msg.GasFeeCap)
	if baseFee != nil {
		msg.GasPrice = tx.EffectiveGasPrice(baseFee)
	}
	return msg, nil
}

// SystemMessage builds the internal call message used for the post-block
// system operations (beacon root storage, history storage, withdrawal
// and consolidation queue calls).
func SystemMessage(to common.Address, data []byte, gas uint64) *Message {
	return &Message{
		From:              systemAddress,
		To:                &to,
		GasLimit:          gas,
		GasPrice:          new(big.Int),
		GasFeeCap:         new(big.Int),
		GasTipCap:         new(big.Int),
		Data:              data,
		SkipNonceChecks:   true,
		SkipBalanceChecks: true,
	}
}

// systemAddress is the sentinel caller used for protocol system calls,
// matching go-ethereum's params.SystemAddress.
var systemAddress = common.HexToAddress("0xfffffffffffffffffffffffffffffffffffffffe")
