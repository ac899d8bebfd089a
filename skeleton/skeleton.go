// Package skeleton tracks the header ranges ("subchains") being
// downloaded backward from a beacon-announced head toward the locally
// known chain, and merges them into the chain once their tail links up.
package skeleton

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/ethcore/execution-core/common"
	"github.com/ethcore/execution-core/core/chainstore"
	"github.com/ethcore/execution-core/core/types"
	"github.com/ethcore/execution-core/log"
)

// FillState names the backfill state advertised to the consensus client.
type FillState int

const (
	FillValid FillState = iota
	FillInvalid
	FillSyncing
)

func (s FillState) String() string {
	switch s {
	case FillValid:
		return "VALID"
	case FillInvalid:
		return "INVALID"
	case FillSyncing:
		return "SYNCING"
	default:
		return "UNKNOWN"
	}
}

// FillStatus is the continuously updated backfill report. An INVALID
// status propagates to the consensus client as an INVALID payload
// response.
type FillStatus struct {
	Status          FillState
	Height          uint64
	ValidationError error
}

// subchain is one contiguous header range (tail..head) known to the
// skeleton. Head and Tail are block numbers; the blocks themselves are
// held in the Skeleton's shared block map so that touching subchains can
// merge without copying.
type subchain struct {
	Head uint64
	Tail uint64

	HeadHash common.Hash
	TailHash common.Hash

	// parentOfTail is the hash the subchain is waiting for: once the
	// local chain's head reaches it, the subchain can be filled.
	parentOfTail common.Hash
}

// Skeleton maintains the set of subchains between beacon-announced heads
// and the locally known chain. Multiple disjoint subchains coexist
// transiently; ranges are merged when they touch.
type Skeleton struct {
	mu sync.Mutex

	chain *chainstore.ChainStore
	log   *log.Logger

	subchains []*subchain
	blocks    map[common.Hash]*types.Block
	hashes    mapset.Set[common.Hash]

	fill FillStatus
}

func New(chain *chainstore.ChainStore, logger *log.Logger) *Skeleton {
	return &Skeleton{
		chain:  chain,
		log:    logger,
		blocks: make(map[common.Hash]*types.Block),
		hashes: mapset.NewSet[common.Hash](),
	}
}

// SetHead announces a new consensus-selected head. It extends the newest
// subchain if the new head links directly onto it; otherwise it starts a
// fresh subchain when force is set and returns false when not, signaling
// the caller to answer the consensus client with SYNCING so it backs off.
func (s *Skeleton) SetHead(block *types.Block, force bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := block.Hash()
	if s.hashes.Contains(hash) {
		return true
	}

	if last := s.newestLocked(); last != nil && block.ParentHash() == last.HeadHash {
		s.putLocked(block)
		last.Head = block.NumberU64()
		last.HeadHash = hash
		s.log.Debug("extended beacon subchain", "head", last.Head, "tail", last.Tail)
		return true
	}

	if !force {
		return false
	}

	s.putLocked(block)
	s.subchains = append(s.subchains, &subchain{
		Head:         block.NumberU64(),
		Tail:         block.NumberU64(),
		HeadHash:     hash,
		TailHash:     hash,
		parentOfTail: block.ParentHash(),
	})
	s.fill.Status = FillSyncing
	s.log.Info("new beacon subchain", "number", block.NumberU64(), "hash", hash)
	return true
}

// AddBlock records a backfilled block, extending whichever subchain's
// tail it links onto, then merges any subchains whose ranges now touch.
func (s *Skeleton) AddBlock(block *types.Block) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := block.Hash()
	linked := false
	for _, sc := range s.subchains {
		if sc.parentOfTail == hash {
			s.putLocked(block)
			sc.Tail = block.NumberU64()
			sc.TailHash = hash
			sc.parentOfTail = block.ParentHash()
			linked = true
			break
		}
	}
	if linked {
		s.mergeLocked()
	}
	return linked
}

// ForkchoiceUpdate advances the skeleton's view of the head; safeHash
// and finalizedHash are accepted but not recorded. A head that diverges
// from the newest subchain drops every subchain block numbered above the
// new head and restarts tracking from the new head.
func (s *Skeleton) ForkchoiceUpdate(head *types.Block, safeHash, finalizedHash common.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := head.Hash()
	last := s.newestLocked()
	switch {
	case last == nil:
		// Nothing tracked; the head is either already canonical or will
		// arrive via SetHead.
	case last.HeadHash == hash || last.HeadHash == head.ParentHash():
		// Consistent with what we're already tracking.
	default:
		s.log.Warn("beacon head reorged subchains", "old", last.HeadHash, "new", hash)
		s.dropAboveLocked(head.NumberU64())
		s.putLocked(head)
		s.subchains = append(s.subchains, &subchain{
			Head:         head.NumberU64(),
			Tail:         head.NumberU64(),
			HeadHash:     hash,
			TailHash:     hash,
			parentOfTail: head.ParentHash(),
		})
		s.fill.Status = FillSyncing
	}
	_ = safeHash
	_ = finalizedHash
}

// GetBlockByHash returns a block held by the skeleton, if any.
func (s *Skeleton) GetBlockByHash(hash common.Hash) (*types.Block, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[hash]
	return b, ok
}

// DeleteBlock drops a block from the skeleton's bookkeeping, shrinking
// any subchain it headed. Used to purge payloads that turned out invalid.
func (s *Skeleton) DeleteBlock(hash common.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.blocks[hash]
	if !ok {
		return
	}
	delete(s.blocks, hash)
	s.hashes.Remove(hash)

	kept := s.subchains[:0]
	for _, sc := range s.subchains {
		switch {
		case sc.HeadHash == hash && sc.TailHash == hash:
			// Single-block subchain disappears entirely.
		case sc.HeadHash == hash:
			sc.Head = b.NumberU64() - 1
			sc.HeadHash = b.ParentHash()
			kept = append(kept, sc)
		default:
			kept = append(kept, sc)
		}
	}
	s.subchains = kept
}

// Fill attempts to merge every subchain whose tail links onto the local
// chain head, handing contiguous ascending blocks to exec. A failing
// exec marks the subchain INVALID and retains the validation error in
// the fill status; success advances the status height.
func (s *Skeleton) Fill(exec func(blocks []*types.Block) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	head, ok := s.chain.GetCanonicalHeadBlock()
	if !ok {
		return errors.New("skeleton: no canonical head to fill against")
	}

	kept := s.subchains[:0]
	var firstErr error
	for _, sc := range s.subchains {
		if sc.parentOfTail != head.Hash() {
			kept = append(kept, sc)
			continue
		}
		blocks, err := s.collectLocked(sc)
		if err != nil {
			kept = append(kept, sc)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := exec(blocks); err != nil {
			s.fill = FillStatus{Status: FillInvalid, Height: sc.Tail, ValidationError: err}
			kept = append(kept, sc)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, b := range blocks {
			delete(s.blocks, b.Hash())
			s.hashes.Remove(b.Hash())
		}
		s.fill = FillStatus{Status: FillValid, Height: sc.Head}
		head, _ = s.chain.GetCanonicalHeadBlock()
	}
	s.subchains = kept
	if len(s.subchains) == 0 && s.fill.Status == FillSyncing {
		s.fill.Status = FillValid
	}
	return firstErr
}

// Status returns the current backfill status snapshot.
func (s *Skeleton) Status() FillStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fill
}

// collectLocked walks one subchain from tail to head, validating the
// hash linkage block by block, and returns the blocks in ascending
// order.
func (s *Skeleton) collectLocked(sc *subchain) ([]*types.Block, error) {
	// Walk down from head to tail, then reverse.
	var desc []*types.Block
	h := sc.HeadHash
	for {
		b, ok := s.blocks[h]
		if !ok {
			return nil, fmt.Errorf("skeleton: subchain block %s missing", h)
		}
		desc = append(desc, b)
		if h == sc.TailHash {
			break
		}
		h = b.ParentHash()
	}
	out := make([]*types.Block, len(desc))
	for i, b := range desc {
		out[len(desc)-1-i] = b
	}
	for i := 1; i < len(out); i++ {
		if out[i].ParentHash() != out[i-1].Hash() {
			return nil, fmt.Errorf("skeleton: broken linkage at %d", out[i].NumberU64())
		}
	}
	return out, nil
}

func (s *Skeleton) newestLocked() *subchain {
	if len(s.subchains) == 0 {
		return nil
	}
	return s.subchains[len(s.subchains)-1]
}

func (s *Skeleton) putLocked(b *types.Block) {
	s.blocks[b.Hash()] = b
	s.hashes.Add(b.Hash())
}

// mergeLocked joins subchains whose ranges touch: when one subchain's
// tail parent is another's head, the two collapse into a single range.
func (s *Skeleton) mergeLocked() {
	for merged := true; merged; {
		merged = false
		for i, a := range s.subchains {
			for j, b := range s.subchains {
				if i == j {
					continue
				}
				if a.parentOfTail == b.HeadHash {
					b.Head = a.Head
					b.HeadHash = a.HeadHash
					s.subchains = append(s.subchains[:i], s.subchains[i+1:]...)
					merged = true
					break
				}
			}
			if merged {
				break
			}
		}
	}
}

// dropAboveLocked discards every subchain block above number, trimming
// or removing subchains as needed.
func (s *Skeleton) dropAboveLocked(number uint64) {
	kept := s.subchains[:0]
	for _, sc := range s.subchains {
		if sc.Tail > number {
			h := sc.HeadHash
			for {
				b, ok := s.blocks[h]
				if !ok {
					break
				}
				delete(s.blocks, h)
				s.hashes.Remove(h)
				if h == sc.TailHash {
					break
				}
				h = b.ParentHash()
			}
			continue
		}
		if sc.Head > number {
			// Trim the head side down to number.
			h := sc.HeadHash
			for {
				b, ok := s.blocks[h]
				if !ok || b.NumberU64() <= number {
					if ok {
						sc.Head = b.NumberU64()
						sc.HeadHash = h
					}
					break
				}
				delete(s.blocks, h)
				s.hashes.Remove(h)
				h = b.ParentHash()
			}
		}
		kept = append(kept, sc)
	}
	s.subchains = kept
}

// journalEntry is the serialized form of one subchain range, produced by
// MarshalJSON and read back by UnmarshalJSON. This package does not write
// it to any store.
type journalEntry struct {
	Head     uint64      `json:"head"`
	Tail     uint64      `json:"tail"`
	HeadHash common.Hash `json:"headHash"`
	TailHash common.Hash `json:"tailHash"`
	Parent   common.Hash `json:"parentOfTail"`
}

// MarshalJSON serializes the subchain ranges, not the blocks.
func (s *Skeleton) MarshalJSON() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]journalEntry, len(s.subchains))
	for i, sc := range s.subchains {
		entries[i] = journalEntry{Head: sc.Head, Tail: sc.Tail, HeadHash: sc.HeadHash, TailHash: sc.TailHash, Parent: sc.parentOfTail}
	}
	return json.Marshal(entries)
}

// UnmarshalJSON restores subchain ranges serialized by MarshalJSON. The
// blocks themselves are absent until they are added again with SetHead
// or AddBlock.
func (s *Skeleton) UnmarshalJSON(data []byte) error {
	var entries []journalEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subchains = make([]*subchain, len(entries))
	for i, e := range entries {
		s.subchains[i] = &subchain{Head: e.Head, Tail: e.Tail, HeadHash: e.HeadHash, TailHash: e.TailHash, parentOfTail: e.Parent}
	}
	if len(s.subchains) > 0 {
		s.fill.Status = FillSyncing
	}
	return nil
}
