package chainstore_test

import (
	"math/big"
	"testing"

	"github.com/ethcore/execution-core/common"
	"github.com/ethcore/execution-core/core/chainstore"
	"github.com/ethcore/execution-core/core/types"
	"github.com/ethcore/execution-core/params"
)

func testGenesis() *types.Block {
	g := &types.Genesis{
		Config:     &params.ChainConfig{ChainID: big.NewInt(1337)},
		GasLimit:   params.GenesisGasLimit,
		Difficulty: big.NewInt(1),
	}
	return g.ToBlock()
}

func childOf(parent *types.Block, extra byte) *types.Block {
	header := &types.Header{
		ParentHash: parent.Hash(),
		Number:     new(big.Int).Add(parent.Number(), common.Big1),
		GasLimit:   parent.GasLimit(),
		Time:       parent.Time() + 12,
		Difficulty: big.NewInt(2),
		Extra:      []byte{extra},
	}
	return types.NewBlockWithHeader(header)
}

func TestPutBlocksExtendsCanonical(t *testing.T) {
	genesis := testGenesis()
	cs := chainstore.New(genesis)

	b1 := childOf(genesis, 1)
	b2 := childOf(b1, 2)
	if err := cs.PutBlocks([]*types.Block{b1, b2}, false, true); err != nil {
		t.Fatalf("put blocks: %v", err)
	}

	head, ok := cs.GetCanonicalHeadBlock()
	if !ok || head.Hash() != b2.Hash() {
		t.Fatalf("canonical head not advanced to b2")
	}
	byNum, ok := cs.GetBlockByNumber(1)
	if !ok || byNum.Hash() != b1.Hash() {
		t.Fatalf("canonical index lookup for number 1 failed")
	}

	// Total difficulty accumulates along the chain: 1 + 2 + 2.
	td, ok := cs.GetTd(b2.Hash())
	if !ok || td.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("td = %v, want 5", td)
	}
}

func TestPutBlocksRejectsBrokenLinkage(t *testing.T) {
	genesis := testGenesis()
	cs := chainstore.New(genesis)

	orphan := childOf(childOf(genesis, 1), 2) // parent never written
	if err := cs.PutBlocks([]*types.Block{orphan}, false, true); err == nil {
		t.Fatalf("expected missing-parent write to fail")
	}

	bad := types.NewBlockWithHeader(&types.Header{
		ParentHash: genesis.Hash(),
		Number:     big.NewInt(7), // skips numbers
		Difficulty: big.NewInt(1),
	})
	if err := cs.PutBlocks([]*types.Block{bad}, false, true); err == nil {
		t.Fatalf("expected number-linkage write to fail")
	}
}

func TestReorgEmitsOldAndNewBlocks(t *testing.T) {
	genesis := testGenesis()
	cs := chainstore.New(genesis)
	sub := cs.Subscribe(8)
	defer sub.Unsubscribe()

	a1 := childOf(genesis, 1)
	a2 := childOf(a1, 2)
	if err := cs.PutBlocks([]*types.Block{a1, a2}, false, true); err != nil {
		t.Fatalf("put branch a: %v", err)
	}

	b1 := childOf(genesis, 10)
	b2 := childOf(b1, 20)
	if err := cs.PutBlocks([]*types.Block{b1, b2}, false, false); err != nil {
		t.Fatalf("put branch b: %v", err)
	}

	head, _ := cs.GetCanonicalHeadBlock()
	if head.Hash() != b2.Hash() {
		t.Fatalf("head not switched to reorg branch")
	}

	ev := <-sub.Chan()
	reorg, ok := ev.(chainstore.ChainReorgEvent)
	if !ok {
		t.Fatalf("first event %T, want ChainReorgEvent", ev)
	}
	if len(reorg.OldBlocks) != 2 || len(reorg.NewBlocks) != 2 {
		t.Fatalf("reorg delta = %d old / %d new, want 2/2", len(reorg.OldBlocks), len(reorg.NewBlocks))
	}
	if reorg.OldBlocks[0].Hash() != a1.Hash() || reorg.NewBlocks[1].Hash() != b2.Hash() {
		t.Fatalf("reorg delta contents wrong")
	}

	ev = <-sub.Chan()
	if _, ok := ev.(chainstore.ChainUpdatedEvent); !ok {
		t.Fatalf("second event %T, want ChainUpdatedEvent", ev)
	}
}

func TestSetIteratorHead(t *testing.T) {
	genesis := testGenesis()
	cs := chainstore.New(genesis)

	b1 := childOf(genesis, 1)
	if err := cs.PutBlocks([]*types.Block{b1}, false, true); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := cs.SetIteratorHead(chainstore.IteratorVM, b1.Hash()); err != nil {
		t.Fatalf("set vm head: %v", err)
	}
	if cs.VMHead() != b1.Hash() {
		t.Fatalf("vm head not moved")
	}
	if err := cs.SetIteratorHead(chainstore.IteratorSafe, common.HexToHash("0xdead")); err == nil {
		t.Fatalf("expected unknown hash to be rejected")
	}
}

func TestInvalidBlockCacheShortCircuits(t *testing.T) {
	genesis := testGenesis()
	cs := chainstore.New(genesis)

	hash := common.HexToHash("0xbad")
	if _, ok := cs.InvalidReason(hash); ok {
		t.Fatalf("fresh store should not know the hash")
	}
	cs.MarkInvalid(hash, errBoom)
	reason, ok := cs.InvalidReason(hash)
	if !ok || reason != errBoom {
		t.Fatalf("invalid reason not retained")
	}
}

func TestDelBlockRemovesSideBlock(t *testing.T) {
	genesis := testGenesis()
	cs := chainstore.New(genesis)

	b1 := childOf(genesis, 1)
	if err := cs.PutBlocks([]*types.Block{b1}, true, true); err != nil {
		t.Fatalf("put: %v", err)
	}
	cs.DelBlock(b1.Hash())
	if _, ok := cs.GetBlock(b1.Hash()); ok {
		t.Fatalf("deleted block still retrievable")
	}
}

func TestTransactionLookup(t *testing.T) {
	genesis := testGenesis()
	cs := chainstore.New(genesis)

	to := common.HexToAddress("0xb0b")
	tx := types.NewTx(&types.LegacyTx{Nonce: 0, GasPrice: big.NewInt(1), Gas: 21000, To: &to, Value: big.NewInt(1)})
	tx.SetSender(common.HexToAddress("0xa11ce"))

	header := &types.Header{
		ParentHash: genesis.Hash(),
		Number:     big.NewInt(1),
		GasLimit:   genesis.GasLimit(),
		Difficulty: big.NewInt(1),
		TxHash:     types.CalcTxsRoot(types.Transactions{tx}),
	}
	block := types.NewBlockWithHeader(header).WithBody(types.Body{Transactions: types.Transactions{tx}})
	if err := cs.PutBlocks([]*types.Block{block}, false, true); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, lookup, ok := cs.GetTransaction(tx.Hash())
	if !ok || got.Hash() != tx.Hash() {
		t.Fatalf("indexed transaction not found")
	}
	if lookup.BlockHash != block.Hash() || lookup.Index != 0 {
		t.Fatalf("lookup = %+v, want block %s index 0", lookup, block.Hash())
	}

	if _, _, ok := cs.GetTransaction(common.HexToHash("0x404")); ok {
		t.Fatalf("unknown hash should miss")
	}
}

var errBoom = testError("boom")

type testError string

func (e testError) Error() string { return string(e) }
