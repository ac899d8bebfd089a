// Package state implements the account/storage model the VM execution
// engine reads and writes while replaying blocks.
package state

import (
	"github.com/holiman/uint256"

	"github.com/ethcore/execution-core/common"
	"github.com/ethcore/execution-core/core/types"
)

// Account is the in-memory representation of one address's basic state:
// balance, nonce, and code hash, plus the storage slots touched this
// session. Balance uses uint256.Int rather than big.Int since account
// balances never exceed 256 bits and uint256 arithmetic avoids
// per-operation heap allocation in the hot execution path.
type Account struct {
	Nonce    uint64
	Balance  *uint256.Int
	CodeHash common.Hash
	Code     []byte

	storage map[common.Hash]common.Hash

	// selfDestructed marks an account removed during this block's
	// execution; it is pruned from the backing trie at commit.
	selfDestructed bool
}

// EmptyCodeHash is the keccak256 hash of the empty byte slice, the
// CodeHash value for any account with no contract code.
var EmptyCodeHash = types.Keccak256(nil)

func newAccount() *Account {
	return &Account{
		Balance:  new(uint256.Int),
		CodeHash: EmptyCodeHash,
		storage:  make(map[common.Hash]common.Hash),
	}
}

// Empty reports whether the account is the EIP-161 "empty" account: zero
// nonce, zero balance, and no code. The vm execution engine uses this to
// decide whether to prune an account touched but not meaningfully
// changed during a block.
func (a *Account) Empty() bool {
	return a.Nonce == 0 && a.Balance.IsZero() && a.CodeHash == EmptyCodeHash
}

func (a *Account) copy() *Account {
	cp := &Account{
		Nonce:    a.Nonce,
		Balance:  new(uint256.Int).Set(a.Balance),
		CodeHash: a.CodeHash,
		Code:     append([]byte(nil), a.Code...),
		storage:  make(map[common.Hash]common.Hash, len(a.storage)),
	}
	for k, v := range a.storage {
		cp.storage[k] = v
	}
	return cp
}
