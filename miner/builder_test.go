package miner_test

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"

	"github.com/ethcore/execution-core/common"
	"github.com/ethcore/execution-core/consensus"
	"github.com/ethcore/execution-core/core/chainstore"
	"github.com/ethcore/execution-core/core/state"
	"github.com/ethcore/execution-core/core/txpool"
	"github.com/ethcore/execution-core/core/types"
	"github.com/ethcore/execution-core/core/vmengine"
	"github.com/ethcore/execution-core/log"
	"github.com/ethcore/execution-core/miner"
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

func setup(t *testing.T) (*chainstore.ChainStore, *txpool.Pool, *vmengine.Engine, common.Address) {
	t.Helper()
	cfg := testConfig()
	sender := common.HexToAddress("0xa11ce")

	genesis := &types.Genesis{
		Config:   cfg,
		GasLimit: params.GenesisGasLimit,
		BaseFee:  big.NewInt(int64(params.InitialBaseFee)),
		Alloc: types.GenesisAlloc{
			sender: {Balance: big.NewInt(1_000_000_000_000_000_000)},
		},
	}
	genesisBlock := genesis.ToBlock()
	chain := chainstore.New(genesisBlock)

	backend := state.NewMemTrieBackend()
	engine := vmengine.New(cfg, chain, backend, vmengine.NewSimpleEVM(), genesis, log.Discard())
	if err := engine.Open(); err != nil {
		t.Fatalf("open engine: %v", err)
	}

	pool := txpool.New(txpool.DefaultConfig, engineChainView{engine}, nil, log.Discard())
	return chain, pool, engine, sender
}

// engineChainView adapts *vmengine.Engine's committed state to the
// txpool.ChainView the pool needs for nonce/balance lookups at Add time.
type engineChainView struct{ engine *vmengine.Engine }

func (v engineChainView) GetNonce(addr common.Address) uint64 {
	st, err := v.engine.ShallowCopyAt(v.engine.ChainStatus().Hash)
	if err != nil {
		return 0
	}
	return st.GetNonce(addr)
}

func (v engineChainView) GetBalance(addr common.Address) *uint256.Int {
	st, err := v.engine.ShallowCopyAt(v.engine.ChainStatus().Hash)
	if err != nil {
		return new(uint256.Int)
	}
	return st.GetBalance(addr)
}

func legacyTx(nonce uint64, gasPrice int64, sender, to common.Address) *types.Transaction {
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: big.NewInt(gasPrice),
		Gas:      21000,
		To:       &to,
		Value:    big.NewInt(1000),
	})
	tx.SetSender(sender)
	return tx
}

func TestComputePayloadIDDeterministic(t *testing.T) {
	parent := common.HexToHash("0x01")
	attrs := miner.BuildAttributes{Timestamp: 100, SuggestedFeeRecipient: common.HexToAddress("0x02")}

	id1 := miner.ComputePayloadID(parent, attrs, 30_000_000)
	id2 := miner.ComputePayloadID(parent, attrs, 30_000_000)
	if id1 != id2 {
		t.Fatalf("payload id not deterministic: %s vs %s", id1.Hex(), id2.Hex())
	}

	attrs.Timestamp = 101
	id3 := miner.ComputePayloadID(parent, attrs, 30_000_000)
	if id1 == id3 {
		t.Fatalf("expected different timestamp to change payload id")
	}
}

func TestBuilderStartFillsFromPool(t *testing.T) {
	chain, pool, engine, sender := setup(t)
	to := common.HexToAddress("0xb0b")

	for i := uint64(0); i < 3; i++ {
		if err := pool.Add(legacyTx(i, 10, sender, to), true); err != nil {
			t.Fatalf("add tx %d: %v", i, err)
		}
	}

	merger := consensus.NewMerger()
	cengine := consensus.NewBeacon(consensus.NewPoWEngine(testConfig(), fakeSolver{}, log.Discard()), merger)
	b := miner.NewBuilder(testConfig(), chain, pool, engine, cengine, vmengine.NewSimpleEVM(), log.Discard())

	parent, ok := chain.GetCanonicalHeadBlock()
	if !ok {
		t.Fatalf("missing canonical head")
	}

	id, err := b.Start(parent.Hash(), miner.BuildAttributes{Timestamp: parent.Header().Time + 12}, params.GenesisGasLimit, common.HexToAddress("0xfee"))
	if err != nil {
		t.Fatalf("start building: %v", err)
	}

	payload, err := b.Resolve(id)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(payload.Block.Transactions()) != 3 {
		t.Fatalf("expected 3 transactions in built block, got %d", len(payload.Block.Transactions()))
	}
}

func TestBuilderStartUnknownParent(t *testing.T) {
	chain, pool, engine, _ := setup(t)
	merger := consensus.NewMerger()
	cengine := consensus.NewBeacon(consensus.NewPoWEngine(testConfig(), fakeSolver{}, log.Discard()), merger)
	b := miner.NewBuilder(testConfig(), chain, pool, engine, cengine, vmengine.NewSimpleEVM(), log.Discard())

	_, err := b.Start(common.HexToHash("0xdead"), miner.BuildAttributes{}, params.GenesisGasLimit, common.Address{})
	if err == nil {
		t.Fatalf("expected error building on unknown parent")
	}
}

type fakeSolver struct{}

func (fakeSolver) Seal(header *types.Header, stop <-chan struct{}) (common.Hash, [8]byte, error) {
	return common.Hash{}, [8]byte{}, nil
}

func (fakeSolver) Hashrate() float64 { return 0 }
