package skeleton_test

import (
	"math/big"
	"testing"

	"github.com/ethcore/execution-core/common"
	"github.com/ethcore/execution-core/core/chainstore"
	"github.com/ethcore/execution-core/core/types"
	"github.com/ethcore/execution-core/log"
	"github.com/ethcore/execution-core/params"
	"github.com/ethcore/execution-core/skeleton"
)

func testGenesis() *types.Block {
	g := &types.Genesis{
		Config:   &params.ChainConfig{ChainID: big.NewInt(1337)},
		GasLimit: params.GenesisGasLimit,
	}
	return g.ToBlock()
}

func childOf(parent *types.Block, extra byte) *types.Block {
	header := &types.Header{
		ParentHash: parent.Hash(),
		Number:     new(big.Int).Add(parent.Number(), common.Big1),
		GasLimit:   parent.GasLimit(),
		Time:       parent.Time() + 12,
		Difficulty: new(big.Int),
		Extra:      []byte{extra},
	}
	return types.NewBlockWithHeader(header)
}

func TestSetHeadRequiresForceForDisjointHead(t *testing.T) {
	genesis := testGenesis()
	chain := chainstore.New(genesis)
	sk := skeleton.New(chain, log.Discard())

	// A head whose parent we know nothing about must be refused without
	// force, so the consensus client keeps getting SYNCING.
	b1 := childOf(genesis, 1)
	b2 := childOf(b1, 2)
	if sk.SetHead(b2, false) {
		t.Fatalf("expected SetHead without force to refuse a disjoint head")
	}
	if !sk.SetHead(b2, true) {
		t.Fatalf("expected SetHead with force to accept")
	}
	if _, ok := sk.GetBlockByHash(b2.Hash()); !ok {
		t.Fatalf("forced head not retrievable")
	}
}

func TestSetHeadExtendsNewestSubchain(t *testing.T) {
	genesis := testGenesis()
	chain := chainstore.New(genesis)
	sk := skeleton.New(chain, log.Discard())

	b1 := childOf(genesis, 1)
	b2 := childOf(b1, 2)
	b3 := childOf(b2, 3)

	if !sk.SetHead(b2, true) {
		t.Fatalf("force head rejected")
	}
	// b3 links directly onto the tracked head, so no force is needed.
	if !sk.SetHead(b3, false) {
		t.Fatalf("expected linking head to extend subchain without force")
	}
}

func TestFillMergesSubchainIntoChain(t *testing.T) {
	genesis := testGenesis()
	chain := chainstore.New(genesis)
	sk := skeleton.New(chain, log.Discard())

	b1 := childOf(genesis, 1)
	b2 := childOf(b1, 2)

	if !sk.SetHead(b2, true) {
		t.Fatalf("force head rejected")
	}
	// Backfill delivers b1, closing the gap down to genesis.
	if !sk.AddBlock(b1) {
		t.Fatalf("backfilled block did not link onto subchain tail")
	}

	var got []*types.Block
	err := sk.Fill(func(blocks []*types.Block) error {
		got = append(got, blocks...)
		return chain.PutBlocks(blocks, false, true)
	})
	if err != nil {
		t.Fatalf("fill: %v", err)
	}
	if len(got) != 2 || got[0].Hash() != b1.Hash() || got[1].Hash() != b2.Hash() {
		t.Fatalf("fill delivered wrong blocks: %d", len(got))
	}
	if st := sk.Status(); st.Status != skeleton.FillValid || st.Height != b2.NumberU64() {
		t.Fatalf("fill status = %v height %d, want VALID height %d", st.Status, st.Height, b2.NumberU64())
	}
	head, _ := chain.GetCanonicalHeadBlock()
	if head.Hash() != b2.Hash() {
		t.Fatalf("chain head not advanced by fill")
	}
}

func TestFillInvalidPropagates(t *testing.T) {
	genesis := testGenesis()
	chain := chainstore.New(genesis)
	sk := skeleton.New(chain, log.Discard())

	b1 := childOf(genesis, 1)
	if !sk.SetHead(b1, true) {
		t.Fatalf("force head rejected")
	}

	wantErr := chainErr("bad state transition")
	err := sk.Fill(func([]*types.Block) error { return wantErr })
	if err == nil {
		t.Fatalf("expected fill to surface the execution error")
	}
	st := sk.Status()
	if st.Status != skeleton.FillInvalid {
		t.Fatalf("fill status = %v, want INVALID", st.Status)
	}
	if st.ValidationError == nil {
		t.Fatalf("missing validation error on INVALID status")
	}
}

func TestDeleteBlockShrinksSubchain(t *testing.T) {
	genesis := testGenesis()
	chain := chainstore.New(genesis)
	sk := skeleton.New(chain, log.Discard())

	b1 := childOf(genesis, 1)
	b2 := childOf(b1, 2)
	if !sk.SetHead(b1, true) || !sk.SetHead(b2, false) {
		t.Fatalf("set head failed")
	}
	sk.DeleteBlock(b2.Hash())
	if _, ok := sk.GetBlockByHash(b2.Hash()); ok {
		t.Fatalf("deleted block still retrievable")
	}
	if _, ok := sk.GetBlockByHash(b1.Hash()); !ok {
		t.Fatalf("sibling block dropped by delete")
	}
}

func TestJournalRoundTrip(t *testing.T) {
	genesis := testGenesis()
	chain := chainstore.New(genesis)
	sk := skeleton.New(chain, log.Discard())

	b1 := childOf(genesis, 1)
	if !sk.SetHead(b1, true) {
		t.Fatalf("force head rejected")
	}
	data, err := sk.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	restored := skeleton.New(chain, log.Discard())
	if err := restored.UnmarshalJSON(data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if st := restored.Status(); st.Status != skeleton.FillSyncing {
		t.Fatalf("restored skeleton should report SYNCING, got %v", st.Status)
	}
}

type chainErr string

func (e chainErr) Error() string { return string(e) }
