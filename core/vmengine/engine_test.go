package vmengine_test

import (
	"math/big"
	"testing"

	"github.com/ethcore/execution-core/common"
	"github.com/ethcore/execution-core/core/chainstore"
	"github.com/ethcore/execution-core/core/state"
	"github.com/ethcore/execution-core/core/types"
	"github.com/ethcore/execution-core/core/vmengine"
	"github.com/ethcore/execution-core/log"
	"github.com/ethcore/execution-core/params"
)

func testConfig() *params.ChainConfig {
	return &params.ChainConfig{
		ChainID:        big.NewInt(1337),
		HomesteadBlock: big.NewInt(0),
		EIP150Block:    big.NewInt(0),
		EIP155Block:    big.NewInt(0),
		EIP158Block:    big.NewInt(0),
		ByzantiumBlock: big.NewInt(0),
		LondonBlock:    big.NewInt(0),
	}
}

var sender = common.HexToAddress("0xa11ce")

func newEngine(t *testing.T) (*vmengine.Engine, *chainstore.ChainStore, *types.Block) {
	t.Helper()
	genesis := &types.Genesis{
		Config:   testConfig(),
		GasLimit: params.GenesisGasLimit,
		BaseFee:  big.NewInt(int64(params.InitialBaseFee)),
		Alloc: types.GenesisAlloc{
			sender: {Balance: big.NewInt(1_000_000_000_000_000_000), Nonce: 3},
		},
	}
	genesisBlock := genesis.ToBlock()
	chain := chainstore.New(genesisBlock)
	engine := vmengine.New(testConfig(), chain, state.NewMemTrieBackend(), vmengine.NewSimpleEVM(), genesis, log.Discard())
	if err := engine.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	return engine, chain, genesisBlock
}

func TestOpenSeedsGenesisAlloc(t *testing.T) {
	engine, _, genesisBlock := newEngine(t)

	st, err := engine.ShallowCopyAt(genesisBlock.Hash())
	if err != nil {
		t.Fatalf("shallow copy: %v", err)
	}
	if st.GetNonce(sender) != 3 {
		t.Fatalf("genesis nonce = %d, want 3", st.GetNonce(sender))
	}
	if st.GetBalance(sender).IsZero() {
		t.Fatalf("genesis balance not seeded")
	}

	status := engine.ChainStatus()
	if status.Status != vmengine.Opened || status.Height != 0 {
		t.Fatalf("chain status = %+v, want opened at genesis", status)
	}
}

func TestShallowCopyAtUnknownParent(t *testing.T) {
	engine, _, _ := newEngine(t)
	if _, err := engine.ShallowCopyAt(common.HexToHash("0x1234")); err == nil {
		t.Fatalf("expected missing parent state error")
	}
}

func TestRunWithoutSetHeadStoresProvidedReceipts(t *testing.T) {
	engine, chain, genesisBlock := newEngine(t)

	block := types.NewBlockWithHeader(&types.Header{
		ParentHash: genesisBlock.Hash(),
		Number:     big.NewInt(1),
		GasLimit:   genesisBlock.GasLimit(),
		Time:       genesisBlock.Time() + 12,
		Difficulty: new(big.Int),
	})
	receipts := types.Receipts{{Status: types.ReceiptStatusSuccessful}}

	ok, err := engine.RunWithoutSetHead(block, vmengine.RunWithoutSetHeadOptions{Receipts: receipts, Blocking: true})
	if err != nil || !ok {
		t.Fatalf("run without set head: ok=%v err=%v", ok, err)
	}
	got, found := chain.GetReceipts(block.Hash())
	if !found || len(got) != 1 {
		t.Fatalf("receipts not recorded under block hash")
	}
	if !chain.WasExecuted(block.Hash()) {
		t.Fatalf("block not marked executed")
	}
	if chain.VMHead() != genesisBlock.Hash() {
		t.Fatalf("vm head moved by runWithoutSetHead")
	}
}

func TestSetHeadAdvancesIterators(t *testing.T) {
	engine, chain, genesisBlock := newEngine(t)

	block := types.NewBlockWithHeader(&types.Header{
		ParentHash: genesisBlock.Hash(),
		Number:     big.NewInt(1),
		GasLimit:   genesisBlock.GasLimit(),
		Time:       genesisBlock.Time() + 12,
		Difficulty: new(big.Int),
	})
	if ok, err := engine.RunWithoutSetHead(block, vmengine.RunWithoutSetHeadOptions{Receipts: types.Receipts{}, Blocking: true}); err != nil || !ok {
		t.Fatalf("seed block: ok=%v err=%v", ok, err)
	}

	hash := block.Hash()
	if err := engine.SetHead([]*types.Block{block}, &hash, &hash); err != nil {
		t.Fatalf("set head: %v", err)
	}
	if chain.VMHead() != hash {
		t.Fatalf("vm head not advanced")
	}
	safe, _ := chain.GetCanonicalSafeBlock()
	finalized, _ := chain.GetCanonicalFinalizedBlock()
	if safe.Hash() != hash || finalized.Hash() != hash {
		t.Fatalf("safe/finalized pointers not advanced")
	}
	if status := engine.ChainStatus(); status.Hash != hash || status.Height != 1 {
		t.Fatalf("chain status not updated: %+v", status)
	}
}

func TestRunCatchesUpToCanonicalHead(t *testing.T) {
	engine, chain, genesisBlock := newEngine(t)

	// Pre-compute the state root an empty block would commit by flushing
	// the genesis allocation through a shared overlay.
	st, err := engine.ShallowCopyAt(genesisBlock.Hash())
	if err != nil {
		t.Fatalf("shallow copy: %v", err)
	}
	root, err := st.Commit()
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	block := types.NewBlockWithHeader(&types.Header{
		ParentHash:  genesisBlock.Hash(),
		Number:      big.NewInt(1),
		GasLimit:    genesisBlock.GasLimit(),
		Time:        genesisBlock.Time() + 12,
		Difficulty:  new(big.Int),
		Root:        root,
		ReceiptHash: types.CalcReceiptsRoot(nil),
		Bloom:       types.LogsBloom(nil),
		BaseFee:     big.NewInt(int64(params.InitialBaseFee)),
	})
	if err := chain.PutBlocks([]*types.Block{block}, false, true); err != nil {
		t.Fatalf("put canonical block: %v", err)
	}

	if err := engine.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if chain.VMHead() != block.Hash() {
		t.Fatalf("vm head did not catch up to canonical head")
	}
}

func TestRunMarksInvalidOnRootMismatch(t *testing.T) {
	engine, chain, genesisBlock := newEngine(t)

	block := types.NewBlockWithHeader(&types.Header{
		ParentHash:  genesisBlock.Hash(),
		Number:      big.NewInt(1),
		GasLimit:    genesisBlock.GasLimit(),
		Time:        genesisBlock.Time() + 12,
		Difficulty:  new(big.Int),
		Root:        common.HexToHash("0xffff"),
		ReceiptHash: types.CalcReceiptsRoot(nil),
	})
	if err := chain.PutBlocks([]*types.Block{block}, false, true); err != nil {
		t.Fatalf("put canonical block: %v", err)
	}

	if err := engine.Run(); err == nil {
		t.Fatalf("expected run to fail on state root mismatch")
	}
	if status := engine.ChainStatus(); status.Status != vmengine.Invalid {
		t.Fatalf("chain status = %v, want invalid", status.Status)
	}
	if _, ok := chain.InvalidReason(block.Hash()); !ok {
		t.Fatalf("failed block not cached as invalid")
	}
}
