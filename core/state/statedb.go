package state

import (
	"bytes"
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/holiman/uint256"

	"github.com/ethcore/execution-core/common"
	"github.com/ethcore/execution-core/core/types"
)

// TrieBackend is the persistent storage this package reads through and
// commits to. The trie itself (a Merkle-Patricia trie keyed by account/
// storage hash) lives behind this interface; StateManager only needs a
// flat key/value view of the last-committed state to seed its caches
// from and a place to persist a new root.
type TrieBackend interface {
	GetAccount(addr common.Address) (*Account, bool)
	GetStorage(addr common.Address, slot common.Hash) (common.Hash, bool)
	Commit(dirty map[common.Address]*Account) (common.Hash, error)
}

// memTrieBackend is a minimal in-memory TrieBackend used where no real
// backend is wired in (tests, and the reference node before a persistent
// store is configured). It is explicitly not a trie: root derivation goes
// through types.DeriveSha the same stand-in used for block roots.
type memTrieBackend struct {
	accounts map[common.Address]*Account
	storage  map[common.Address]map[common.Hash]common.Hash
}

func NewMemTrieBackend() TrieBackend {
	return &memTrieBackend{
		accounts: make(map[common.Address]*Account),
		storage:  make(map[common.Address]map[common.Hash]common.Hash),
	}
}

func (m *memTrieBackend) GetAccount(addr common.Address) (*Account, bool) {
	a, ok := m.accounts[addr]
	if !ok {
		return nil, false
	}
	return a.copy(), true
}

func (m *memTrieBackend) GetStorage(addr common.Address, slot common.Hash) (common.Hash, bool) {
	slots, ok := m.storage[addr]
	if !ok {
		return common.Hash{}, false
	}
	v, ok := slots[slot]
	return v, ok
}

func (m *memTrieBackend) Commit(dirty map[common.Address]*Account) (common.Hash, error) {
	type encoded struct {
		addr common.Address
		acc  *Account
	}
	items := make([]encoded, 0, len(dirty))
	for addr, acc := range dirty {
		if acc.selfDestructed {
			delete(m.accounts, addr)
			delete(m.storage, addr)
			continue
		}
		m.accounts[addr] = acc.copy()
		if len(acc.storage) > 0 {
			slots := m.storage[addr]
			if slots == nil {
				slots = make(map[common.Hash]common.Hash)
				m.storage[addr] = slots
			}
			for k, v := range acc.storage {
				slots[k] = v
			}
		}
		items = append(items, encoded{addr, acc})
	}
	sort.Slice(items, func(i, j int) bool {
		return bytes.Compare(items[i].addr[:], items[j].addr[:]) < 0
	})
	return types.DeriveSha(items, func(e encoded) []byte {
		var nonce [8]byte
		for i := 7; i >= 0; i-- {
			nonce[i] = byte(e.acc.Nonce >> (8 * (7 - i)))
		}
		out := append([]byte{}, e.addr[:]...)
		out = append(out, e.acc.Balance.Bytes()...)
		out = append(out, nonce[:]...)
		out = append(out, e.acc.CodeHash[:]...)
		return out
	}), nil
}

const (
	accountCacheSize = 4096
	codeCacheSize    = 1024
)

// StateManager is the per-block-execution account/storage view the VM
// execution engine reads and writes through. It layers an in-memory
// dirty set over cached reads from TrieBackend.
type StateManager struct {
	backend TrieBackend

	accountCache *lru.Cache[common.Address, *Account]
	codeCache    *lru.Cache[common.Hash, []byte]

	dirty map[common.Address]*Account
}

func New(backend TrieBackend) *StateManager {
	accCache, err := lru.New[common.Address, *Account](accountCacheSize)
	if err != nil {
		panic(fmt.Sprintf("state: account cache: %v", err))
	}
	codeCache, err := lru.New[common.Hash, []byte](codeCacheSize)
	if err != nil {
		panic(fmt.Sprintf("state: code cache: %v", err))
	}
	return &StateManager{
		backend:      backend,
		accountCache: accCache,
		codeCache:    codeCache,
		dirty:        make(map[common.Address]*Account),
	}
}

func (s *StateManager) getOrLoad(addr common.Address) *Account {
	if acc, ok := s.dirty[addr]; ok {
		return acc
	}
	if acc, ok := s.accountCache.Get(addr); ok {
		return acc
	}
	if acc, ok := s.backend.GetAccount(addr); ok {
		s.accountCache.Add(addr, acc)
		return acc
	}
	return newAccount()
}

func (s *StateManager) touch(addr common.Address) *Account {
	acc := s.getOrLoad(addr).copy()
	s.dirty[addr] = acc
	return acc
}

func (s *StateManager) GetBalance(addr common.Address) *uint256.Int {
	return new(uint256.Int).Set(s.getOrLoad(addr).Balance)
}

func (s *StateManager) SetBalance(addr common.Address, balance *uint256.Int) {
	s.touch(addr).Balance = new(uint256.Int).Set(balance)
}

func (s *StateManager) AddBalance(addr common.Address, amount *uint256.Int) {
	acc := s.touch(addr)
	acc.Balance = new(uint256.Int).Add(acc.Balance, amount)
}

func (s *StateManager) SubBalance(addr common.Address, amount *uint256.Int) {
	acc := s.touch(addr)
	acc.Balance = new(uint256.Int).Sub(acc.Balance, amount)
}

func (s *StateManager) GetNonce(addr common.Address) uint64 {
	return s.getOrLoad(addr).Nonce
}

func (s *StateManager) SetNonce(addr common.Address, nonce uint64) {
	s.touch(addr).Nonce = nonce
}

func (s *StateManager) GetCode(addr common.Address) []byte {
	acc := s.getOrLoad(addr)
	if acc.CodeHash == EmptyCodeHash {
		return nil
	}
	if code, ok := s.codeCache.Get(acc.CodeHash); ok {
		return code
	}
	return acc.Code
}

func (s *StateManager) GetCodeHash(addr common.Address) common.Hash {
	return s.getOrLoad(addr).CodeHash
}

func (s *StateManager) SetCode(addr common.Address, code []byte) {
	hash := types.Keccak256(code)
	acc := s.touch(addr)
	acc.Code = code
	acc.CodeHash = hash
	s.codeCache.Add(hash, code)
}

func (s *StateManager) GetState(addr common.Address, slot common.Hash) common.Hash {
	if acc, ok := s.dirty[addr]; ok {
		if v, ok := acc.storage[slot]; ok {
			return v
		}
	}
	if v, ok := s.backend.GetStorage(addr, slot); ok {
		return v
	}
	return common.Hash{}
}

func (s *StateManager) SetState(addr common.Address, slot, value common.Hash) {
	s.touch(addr).storage[slot] = value
}

func (s *StateManager) SelfDestruct(addr common.Address) {
	s.touch(addr).selfDestructed = true
}

func (s *StateManager) Exist(addr common.Address) bool {
	_, ok := s.dirty[addr]
	if ok {
		return true
	}
	if _, ok := s.accountCache.Get(addr); ok {
		return true
	}
	_, ok = s.backend.GetAccount(addr)
	return ok
}

// Finalise prunes empty accounts touched this block (EIP-161).
func (s *StateManager) Finalise(deleteEmptyObjects bool) {
	if !deleteEmptyObjects {
		return
	}
	for addr, acc := range s.dirty {
		if acc.Empty() {
			acc.selfDestructed = true
			s.dirty[addr] = acc
		}
	}
}

// IntermediateRoot commits the dirty set to the backend and returns the
// resulting state root, without clearing the dirty set (used for the
// post-tx root check some forks require before the block-level commit).
func (s *StateManager) IntermediateRoot() common.Hash {
	root, err := s.backend.Commit(s.dirty)
	if err != nil {
		panic(fmt.Sprintf("state: commit: %v", err))
	}
	return root
}

// Commit flushes the dirty set to the backend, clears it, and invalidates
// cached reads for touched accounts so the next read goes through the
// backend again.
func (s *StateManager) Commit() (common.Hash, error) {
	root, err := s.backend.Commit(s.dirty)
	if err != nil {
		return common.Hash{}, err
	}
	for addr := range s.dirty {
		s.accountCache.Remove(addr)
	}
	s.dirty = make(map[common.Address]*Account)
	return root, nil
}

// DiscardDirty drops the uncommitted overlay so subsequent reads fall
// through to the backend. Called when the committed state becomes
// authoritative, e.g. after a head switch onto a block whose state was
// committed by another overlay.
func (s *StateManager) DiscardDirty() {
	for addr := range s.dirty {
		s.accountCache.Remove(addr)
	}
	s.dirty = make(map[common.Address]*Account)
}

// ShallowCopy returns a new StateManager sharing this one's backend and
// read caches but with an independent dirty set — the cheap fork the
// block builder needs to speculatively extend a block without mutating
// the canonical state.
func (s *StateManager) ShallowCopy() *StateManager {
	dirty := make(map[common.Address]*Account, len(s.dirty))
	for addr, acc := range s.dirty {
		dirty[addr] = acc.copy()
	}
	return &StateManager{
		backend:      s.backend,
		accountCache: s.accountCache,
		codeCache:    s.codeCache,
		dirty:        dirty,
	}
}
