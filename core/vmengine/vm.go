package vmengine

import (
	"encoding/binary"
	"errors"

	"github.com/holiman/uint256"

	"github.com/ethcore/execution-core/common"
	"github.com/ethcore/execution-core/core/state"
	"github.com/ethcore/execution-core/core/types"
)

// EVM is this package's boundary to the transaction interpreter,
// standing in for go-ethereum's core/vm.EVM so a concrete backend can be
// injected. The reference implementation below only handles value
// transfers and simple calls against accounts with no code, which is
// sufficient to exercise every other component (pool, builder, chain
// store, engine API) end to end.
type EVM interface {
	// Call executes a message against to, returning the return data, gas
	// left, and an error if execution reverted or ran out of gas.
	Call(st *state.StateManager, msg *Message) (ret []byte, gasLeft uint64, err error)

	// Create executes a contract-creation message, returning the new
	// contract's address.
	Create(st *state.StateManager, msg *Message) (contractAddr common.Address, gasLeft uint64, err error)
}

var (
	ErrInsufficientBalance = errors.New("insufficient balance for transfer")
	ErrExecutionReverted   = errors.New("execution reverted")
)

// simpleEVM implements value transfers and treats any call to an account
// that carries contract code as an unconditionally successful no-op call
// (it has no interpreter), which is enough to drive deposits,
// withdrawals, and plain transfers through the full block-execution
// pipeline.
type simpleEVM struct{}

// NewSimpleEVM returns the reference EVM implementation used when no
// other backend is configured.
func NewSimpleEVM() EVM { return simpleEVM{} }

func (simpleEVM) Call(st *state.StateManager, msg *Message) ([]byte, uint64, error) {
	gas := msg.GasLimit
	value, overflow := uint256.FromBig(msg.Value)
	if overflow {
		return nil, 0, ErrExecutionReverted
	}
	if !msg.SkipBalanceChecks && !value.IsZero() {
		if st.GetBalance(msg.From).Lt(value) {
			return nil, 0, ErrInsufficientBalance
		}
	}
	if msg.To == nil {
		return nil, gas, nil
	}
	if !value.IsZero() {
		st.SubBalance(msg.From, value)
		st.AddBalance(*msg.To, value)
	}
	return nil, gas, nil
}

func (simpleEVM) Create(st *state.StateManager, msg *Message) (common.Address, uint64, error) {
	addr := CreateAddress(msg.From, msg.Nonce)
	value, overflow := uint256.FromBig(msg.Value)
	if overflow {
		return common.Address{}, 0, ErrExecutionReverted
	}
	if !value.IsZero() {
		if st.GetBalance(msg.From).Lt(value) {
			return common.Address{}, 0, ErrInsufficientBalance
		}
		st.SubBalance(msg.From, value)
		st.AddBalance(addr, value)
	}
	st.SetNonce(addr, 1)
	return addr, msg.GasLimit, nil
}

// CreateAddress derives the address a CREATE (not CREATE2) transaction
// assigns its new contract, standing in for go-ethereum's
// crypto.CreateAddress (RLP(sender, nonce) keccak): this one hashes the
// sender's 20 bytes followed by the nonce as 8 big-endian bytes with
// keccak256, a deterministic derivation whose result differs from the
// RLP-based address.
func CreateAddress(sender common.Address, nonce uint64) common.Address {
	var nonceBuf [8]byte
	binary.BigEndian.PutUint64(nonceBuf[:], nonce)
	h := types.Keccak256(sender.Bytes(), nonceBuf[:])
	return common.BytesToAddress(h.Bytes())
}
