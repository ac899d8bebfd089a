package miner

import (
	"errors"
	"math/big"

	"github.com/ethcore/execution-core/common"
	"github.com/ethcore/execution-core/consensus"
	"github.com/ethcore/execution-core/core/state"
	"github.com/ethcore/execution-core/core/txpool"
	"github.com/ethcore/execution-core/core/types"
	"github.com/ethcore/execution-core/core/vmengine"
	"github.com/ethcore/execution-core/coreerr"
	"github.com/ethcore/execution-core/params"
)

// Sentinel errors of the block builder. GasPool.SubGas returns
// ErrGasLimitReached; the selection loop decides between advancing past
// a sender (Shift) and dropping it (Pop) from the TxResult that
// AddTransaction returns, not from these errors.
var (
	ErrGasLimitReached     = errors.New("miner: gas limit reached for block")
	ErrNonceTooLow         = errors.New("miner: transaction nonce too low")
	ErrNonceTooHigh        = errors.New("miner: transaction nonce too high")
	ErrInsufficientFunds   = errors.New("miner: insufficient funds for gas * price + value")
	ErrBlobGasLimitReached = errors.New("miner: blob gas limit reached for block")
)

// TxResult is the outcome the selection loop assigns each
// candidate transaction, driving which of Shift/Pop it performs next.
type TxResult int

const (
	TxSuccess TxResult = iota
	TxBlockFull
	TxSkippedGasLimit
	TxSkippedError
	TxRemovedError
)

// blockBuilder accumulates a candidate block against a private state
// overlay: header + state + running tx/receipt lists + gas pool, with an
// explicit AddTransaction that returns a TxResult instead of a bare
// error so the caller's selection loop can decide Shift vs Pop without
// string-matching errors.
type blockBuilder struct {
	config *params.ChainConfig
	chain  consensus.ChainHeaderReader
	engine consensus.Engine
	signer types.Signer

	header  *types.Header
	state   *state.StateManager
	gasPool *GasPool
	usedGas uint64

	txs      types.Transactions
	receipts types.Receipts
	sidecars []*types.BlobTxSidecar

	blobGasUsed    uint64
	blobsRemaining int

	full bool
}

func newBlockBuilder(config *params.ChainConfig, chain consensus.ChainHeaderReader, engine consensus.Engine,
	parent *types.Header, st *state.StateManager, attrs BuildAttributes, gasLimit uint64, coinbase common.Address) (*blockBuilder, error) {

	header := &types.Header{
		ParentHash: parent.Hash(),
		Number:     new(big.Int).Add(parent.Number, common.Big1),
		GasLimit:   gasLimit,
		Time:       attrs.Timestamp,
		Coinbase:   coinbase,
		MixDigest:  attrs.Random,
	}
	if config.IsLondon(header.Number) {
		header.BaseFee = calcBaseFee(config, parent)
	}
	allowedBlobs := 0
	if config.IsCancun(header.Number, header.Time) {
		header.ParentBeaconRoot = attrs.ParentBeaconBlockRoot
		excess := calcExcessBlobGas(config, parent, header.Time)
		header.ExcessBlobGas = &excess
		maxBlobGas := params.CancunMaxBlobGasPerBlock
		if config.IsPrague(header.Number, header.Time) {
			maxBlobGas = params.PragueMaxBlobGasPerBlock
		}
		allowedBlobs = int(maxBlobGas / params.BlobTxBlobGasPerBlob)
	}
	if err := engine.Prepare(chain, header); err != nil {
		return nil, coreerr.New(coreerr.KindPermanentValidation, "prepare header", err)
	}

	gp := GasPool(header.GasLimit)
	return &blockBuilder{
		config:         config,
		chain:          chain,
		engine:         engine,
		signer:         types.MakeSigner(config, header.Number, header.Time),
		header:         header,
		state:          st,
		gasPool:        &gp,
		blobsRemaining: allowedBlobs,
	}, nil
}

// AddTransaction attempts to apply tx against the builder's running
// state, returning the TxResult the caller's selection loop acts on.
func (b *blockBuilder) AddTransaction(evm vmengine.EVM, tx *types.Transaction) TxResult {
	if b.full {
		return TxBlockFull
	}
	if tx.Gas() > b.gasPool.Gas() {
		return TxSkippedGasLimit
	}
	if tx.Type() == types.BlobTxType {
		if b.header.ExcessBlobGas == nil || tx.Sidecar() == nil {
			return TxRemovedError
		}
		if len(tx.BlobHashes()) > b.blobsRemaining {
			return TxSkippedGasLimit
		}
	}

	sender, err := types.Sender(b.signer, tx)
	if err != nil {
		return TxRemovedError
	}
	stateNonce := b.state.GetNonce(sender)
	switch {
	case tx.Nonce() < stateNonce:
		// Already applied (e.g. included during an earlier fill pass);
		// shift past it to the sender's next nonce.
		return TxSkippedError
	case tx.Nonce() > stateNonce:
		// Nonce gap: every higher nonce from this sender is
		// non-executable too, so the sender is dropped outright.
		return TxRemovedError
	}
	if b.state.GetBalance(sender).ToBig().Cmp(tx.Cost()) < 0 {
		return TxRemovedError
	}

	snapshotState := b.state.ShallowCopy()
	snapshotGas := *b.gasPool
	snapshotUsed := b.usedGas

	if err := b.gasPool.SubGas(tx.Gas()); err != nil {
		*b.gasPool = snapshotGas
		return TxSkippedGasLimit
	}
	receipt, err := vmengine.ApplyTransaction(evm, b.signer, b.state, b.header, tx, &b.usedGas)
	if err != nil {
		b.state = snapshotState
		*b.gasPool = snapshotGas
		b.usedGas = snapshotUsed
		return TxRemovedError
	}
	b.txs = append(b.txs, tx)
	b.receipts = append(b.receipts, receipt)
	if tx.Type() == types.BlobTxType {
		b.sidecars = append(b.sidecars, tx.Sidecar())
		b.blobsRemaining -= len(tx.BlobHashes())
		b.blobGasUsed += tx.BlobGas()
	}
	// No transaction costs less than the base intrinsic gas, so a pool
	// below it cannot fit any further candidate.
	if b.gasPool.Gas() < params.TxGas {
		b.full = true
	}
	return TxSuccess
}

// fillTransactions drains it against the builder's state: peek the best
// candidate, apply it, and Shift/Pop depending on the outcome.
func (b *blockBuilder) fillTransactions(evm vmengine.EVM, it *txpool.PriceAndNonceIterator) {
	for !it.Empty() && !b.full {
		tx := it.Peek()
		if tx == nil {
			break
		}
		switch b.AddTransaction(evm, tx) {
		case TxSuccess:
			it.Shift()
		case TxSkippedError, TxSkippedGasLimit:
			it.Shift()
		case TxRemovedError:
			it.Pop()
		case TxBlockFull:
			return
		}
	}
}

// assemble finalizes and assembles the block via the consensus engine.
func (b *blockBuilder) assemble(withdrawals types.Withdrawals) (*types.Block, error) {
	b.header.GasUsed = b.usedGas
	if b.header.ExcessBlobGas != nil {
		used := b.blobGasUsed
		b.header.BlobGasUsed = &used
	}
	block, err := b.engine.FinalizeAndAssemble(b.chain, b.header, b.state, b.txs, b.receipts, withdrawals)
	if err != nil {
		return nil, coreerr.New(coreerr.KindFatalSystem, "finalize and assemble", err)
	}
	return block, nil
}

// calcBaseFee implements EIP-1559's base fee adjustment, ported from
// go-ethereum's core/eip1559.CalcBaseFee.
func calcBaseFee(config *params.ChainConfig, parent *types.Header) *big.Int {
	if !config.IsLondon(parent.Number) {
		return new(big.Int).SetUint64(params.InitialBaseFee)
	}
	parentGasTarget := parent.GasLimit / params.ElasticityMultiplier
	if parent.GasUsed == parentGasTarget {
		return new(big.Int).Set(parent.BaseFee)
	}
	var (
		num = new(big.Int)
		den = new(big.Int)
	)
	if parent.GasUsed > parentGasTarget {
		num.SetUint64(parent.GasUsed - parentGasTarget)
		num.Mul(num, parent.BaseFee)
		num.Div(num, den.SetUint64(parentGasTarget))
		num.Div(num, den.SetUint64(params.BaseFeeChangeDenominator))
		baseFeeDelta := bigMax(num, common.Big1)
		return new(big.Int).Add(parent.BaseFee, baseFeeDelta)
	}
	num.SetUint64(parentGasTarget - parent.GasUsed)
	num.Mul(num, parent.BaseFee)
	num.Div(num, den.SetUint64(parentGasTarget))
	num.Div(num, den.SetUint64(params.BaseFeeChangeDenominator))
	baseFee := new(big.Int).Sub(parent.BaseFee, num)
	return bigMax(baseFee, common.Big1)
}

func bigMax(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// calcExcessBlobGas implements EIP-4844's excess blob gas update rule,
// ported from go-ethereum's eip4844.CalcExcessBlobGas.
func calcExcessBlobGas(config *params.ChainConfig, parent *types.Header, headTime uint64) uint64 {
	var parentExcess, parentBlobGasUsed uint64
	if parent.ExcessBlobGas != nil {
		parentExcess = *parent.ExcessBlobGas
	}
	if parent.BlobGasUsed != nil {
		parentBlobGasUsed = *parent.BlobGasUsed
	}
	target := params.CancunMaxBlobGasPerBlock / 2
	if config.IsPrague(new(big.Int).Add(parent.Number, common.Big1), headTime) {
		target = params.PragueMaxBlobGasPerBlock / 2
	}
	excess := parentExcess + parentBlobGasUsed
	if excess < target {
		return 0
	}
	return excess - target
}

