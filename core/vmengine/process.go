package vmengine

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"github.com/ethcore/execution-core/common"
	"github.com/ethcore/execution-core/core/state"
	"github.com/ethcore/execution-core/core/types"
	"github.com/ethcore/execution-core/params"
)

// ProcessResult is the bundle Process returns alongside any error.
type ProcessResult struct {
	Receipts types.Receipts
	Requests [][]byte
	Logs     []*types.Log
	GasUsed  uint64
}

// Process runs every transaction in block against st, applies post-block
// system operations per the active hardfork, and returns the accumulated
// receipts/logs/gas. The shape matches go-ethereum's StateProcessor:
// per-tx loop first, then Finalise, with the opcode interpreter behind
// the EVM interface.
func Process(cfg *params.ChainConfig, evm EVM, st *state.StateManager, block *types.Block) (*ProcessResult, error) {
	header := block.Header()
	number, t := header.Number, header.Time

	if cfg.IsCancun(number, t) {
		applyBeaconRoot(evm, st, header)
	}

	var (
		signer   = types.MakeSigner(cfg, number, t)
		gasPool  = header.GasLimit
		receipts = make(types.Receipts, 0, len(block.Transactions()))
		usedGas  uint64
		allLogs  []*types.Log
	)
	for i, tx := range block.Transactions() {
		msg, err := TransactionToMessage(tx, signer, header.BaseFee)
		if err != nil {
			return nil, fmt.Errorf("could not build message for tx %d [%v]: %w", i, tx.Hash(), err)
		}
		if msg.GasLimit > gasPool {
			return nil, fmt.Errorf("could not apply tx %d [%v]: %w", i, tx.Hash(), errGasLimitReached)
		}
		receipt, err := applyTransaction(evm, st, header, tx, msg, &usedGas)
		if err != nil {
			return nil, fmt.Errorf("could not apply tx %d [%v]: %w", i, tx.Hash(), err)
		}
		gasPool -= receipt.GasUsed
		receipts = append(receipts, receipt)
		allLogs = append(allLogs, receipt.Logs...)
	}

	if err := applyWithdrawals(st, block.Withdrawals()); err != nil {
		return nil, err
	}

	var requests [][]byte
	if cfg.IsPrague(number, t) {
		requests = [][]byte{}
	}

	st.Finalise(cfg.IsEIP158(number))

	return &ProcessResult{Receipts: receipts, Requests: requests, Logs: allLogs, GasUsed: usedGas}, nil
}

// ApplyTransaction runs a single transaction against st and returns its
// receipt, the exported single-tx entry point the block builder uses to
// apply candidates incrementally without replaying a whole block through
// Process.
func ApplyTransaction(evm EVM, signer types.Signer, st *state.StateManager, header *types.Header, tx *types.Transaction, usedGas *uint64) (*types.Receipt, error) {
	msg, err := TransactionToMessage(tx, signer, header.BaseFee)
	if err != nil {
		return nil, err
	}
	return applyTransaction(evm, st, header, tx, msg, usedGas)
}

// IntrinsicGas computes the fixed pre-execution gas charge of a message:
// the base transfer or creation cost plus the calldata charge.
func IntrinsicGas(data []byte, isCreate bool) uint64 {
	gas := params.TxGas
	if isCreate {
		gas = params.TxGasContractCreation
	}
	for _, b := range data {
		if b == 0 {
			gas += 4
		} else {
			gas += 16
		}
	}
	return gas
}

var (
	errIntrinsicGas       = fmt.Errorf("intrinsic gas too low")
	errInsufficientForGas = fmt.Errorf("insufficient funds for gas * price + value")
	errGasLimitReached    = fmt.Errorf("gas limit reached for block")
	errNonceTooLow        = fmt.Errorf("nonce too low")
	errNonceTooHigh       = fmt.Errorf("nonce too high")
)

func applyTransaction(evm EVM, st *state.StateManager, header *types.Header, tx *types.Transaction, msg *Message, usedGas *uint64) (*types.Receipt, error) {
	intrinsic := IntrinsicGas(msg.Data, msg.To == nil)
	if msg.GasLimit < intrinsic {
		return nil, errIntrinsicGas
	}
	if !msg.SkipNonceChecks {
		switch stateNonce := st.GetNonce(msg.From); {
		case msg.Nonce < stateNonce:
			return nil, fmt.Errorf("%w: address %s, tx %d, state %d", errNonceTooLow, msg.From, msg.Nonce, stateNonce)
		case msg.Nonce > stateNonce:
			return nil, fmt.Errorf("%w: address %s, tx %d, state %d", errNonceTooHigh, msg.From, msg.Nonce, stateNonce)
		}
	}

	// Buy the whole gas allowance up front; the unused remainder is
	// refunded after execution.
	if !msg.SkipBalanceChecks {
		cost, overflow := uint256.FromBig(new(big.Int).Mul(msg.GasPrice, new(big.Int).SetUint64(msg.GasLimit)))
		if overflow {
			return nil, errInsufficientForGas
		}
		if st.GetBalance(msg.From).Lt(cost) {
			return nil, errInsufficientForGas
		}
		st.SubBalance(msg.From, cost)
	}

	st.SetNonce(msg.From, st.GetNonce(msg.From)+1)

	execMsg := *msg
	execMsg.GasLimit = msg.GasLimit - intrinsic

	var (
		ret          []byte
		gasLeft      uint64
		err          error
		contractAddr common.Address
	)
	if msg.To == nil {
		contractAddr, gasLeft, err = evm.Create(st, &execMsg)
	} else {
		ret, gasLeft, err = evm.Call(st, &execMsg)
	}
	_ = ret
	if err != nil {
		gasLeft = 0
	}

	gasUsed := msg.GasLimit - gasLeft
	*usedGas += gasUsed

	if !msg.SkipBalanceChecks {
		// Refund the unused allowance and pay the coinbase its tip.
		refund, _ := uint256.FromBig(new(big.Int).Mul(msg.GasPrice, new(big.Int).SetUint64(gasLeft)))
		st.AddBalance(msg.From, refund)
		tipPerGas := new(big.Int).Set(msg.GasPrice)
		if header.BaseFee != nil {
			tipPerGas.Sub(tipPerGas, header.BaseFee)
		}
		if tipPerGas.Sign() > 0 {
			tip, overflow := uint256.FromBig(tipPerGas.Mul(tipPerGas, new(big.Int).SetUint64(gasUsed)))
			if !overflow {
				st.AddBalance(header.Coinbase, tip)
			}
		}
	}

	receipt := &types.Receipt{
		Type:              tx.Type(),
		CumulativeGasUsed: *usedGas,
		TxHash:            tx.Hash(),
		GasUsed:           gasUsed,
		BlockHash:         header.Hash(),
		BlockNumber:       new(big.Int).Set(header.Number),
	}
	if err != nil {
		receipt.Status = types.ReceiptStatusFailed
	} else {
		receipt.Status = types.ReceiptStatusSuccessful
		if msg.To == nil {
			receipt.ContractAddress = contractAddr
		}
	}
	receipt.Bloom = types.CreateBloom(receipt.Logs)
	if tx.Type() == types.BlobTxType {
		receipt.BlobGasUsed = tx.BlobGas()
	}
	return receipt, nil
}

// applyBeaconRoot stores the parent beacon block root in the EIP-4788
// history contract via a direct system call with the system address as
// caller.
func applyBeaconRoot(evm EVM, st *state.StateManager, header *types.Header) {
	if header.ParentBeaconRoot == nil || header.ParentBeaconRoot.IsZero() {
		return
	}
	msg := SystemMessage(beaconRootsAddress, header.ParentBeaconRoot.Bytes(), 30_000_000)
	_, _, _ = evm.Call(st, msg)
}

func applyWithdrawals(st *state.StateManager, withdrawals types.Withdrawals) error {
	for _, w := range withdrawals {
		amount := new(uint256.Int).Mul(uint256.NewInt(w.Amount), uint256.NewInt(params.Ether/1e9))
		st.AddBalance(w.Address, amount)
	}
	return nil
}

var beaconRootsAddress = common.HexToAddress("0x000F3df6D732807Ef1319fB7B8bB8522d0Beac02")
