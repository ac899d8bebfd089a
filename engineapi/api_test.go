package engineapi_test

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
	"github.com/ethcore/execution-core/coreerr"
	"github.com/ethcore/execution-core/engineapi"
	"github.com/ethcore/execution-core/log"
	"github.com/ethcore/execution-core/miner"
	"github.com/ethcore/execution-core/params"
	"github.com/ethcore/execution-core/skeleton"
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

type harness struct {
	api    *engineapi.ConsensusAPI
	chain  *chainstore.ChainStore
	engine *vmengine.Engine
	pool   *txpool.Pool
	sender common.Address
}

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

func newHarness(t *testing.T) *harness {
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

	engine := vmengine.New(cfg, chain, state.NewMemTrieBackend(), vmengine.NewSimpleEVM(), genesis, log.Discard())
	if err := engine.Open(); err != nil {
		t.Fatalf("open engine: %v", err)
	}

	pool := txpool.New(txpool.DefaultConfig, engineChainView{engine}, nil, log.Discard())
	merger := consensus.NewMerger()
	cengine := consensus.NewBeacon(consensus.NewPoWEngine(cfg, nopSolver{}, log.Discard()), merger)
	builder := miner.NewBuilder(cfg, chain, pool, engine, cengine, vmengine.NewSimpleEVM(), log.Discard())
	sk := skeleton.New(chain, log.Discard())

	api := engineapi.NewConsensusAPI(cfg, chain, engine, builder, sk, pool, merger, log.Discard())
	return &harness{api: api, chain: chain, engine: engine, pool: pool, sender: sender}
}

type nopSolver struct{}

func (nopSolver) Seal(*types.Header, <-chan struct{}) (common.Hash, [8]byte, error) {
	return common.Hash{}, [8]byte{}, nil
}

func (nopSolver) Hashrate() float64 { return 0 }

func addTx(t *testing.T, h *harness, nonce uint64) {
	t.Helper()
	to := common.HexToAddress("0xb0b")
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: big.NewInt(2_000_000_000),
		Gas:      21000,
		To:       &to,
		Value:    big.NewInt(1000),
	})
	tx.SetSender(h.sender)
	if err := h.pool.Add(tx, true); err != nil {
		t.Fatalf("add tx %d: %v", nonce, err)
	}
}

func fcuState(head common.Hash) engineapi.ForkchoiceStateV1 {
	return engineapi.ForkchoiceStateV1{HeadBlockHash: head, SafeBlockHash: head, FinalizedBlockHash: head}
}

// buildPayload drives forkchoiceUpdated-with-attributes and getPayload,
// returning the envelope for a block on top of the current head.
func buildPayload(t *testing.T, h *harness) *engineapi.ExecutionPayloadEnvelope {
	t.Helper()
	head, _ := h.chain.GetCanonicalHeadBlock()

	resp, err := h.api.ForkchoiceUpdatedV2(fcuState(head.Hash()), &engineapi.PayloadAttributes{
		Timestamp:             head.Time() + 12,
		Random:                common.HexToHash("0x52"),
		SuggestedFeeRecipient: common.HexToAddress("0xfee"),
	})
	if err != nil {
		t.Fatalf("forkchoiceUpdated: %v", err)
	}
	if resp.PayloadStatus.Status != engineapi.StatusValid {
		t.Fatalf("forkchoice status = %s, want VALID", resp.PayloadStatus.Status)
	}
	if resp.PayloadID == nil {
		t.Fatalf("missing payload id in forkchoice response")
	}

	env, err := h.api.GetPayloadV2(*resp.PayloadID)
	if err != nil {
		t.Fatalf("getPayload: %v", err)
	}
	return env
}

func TestForkchoiceWithAttributesBuildsPayload(t *testing.T) {
	h := newHarness(t)
	for i := uint64(0); i < 3; i++ {
		addTx(t, h, i)
	}

	env := buildPayload(t, h)
	data := env.ExecutionPayload
	if data.Number != 1 {
		t.Fatalf("built payload number = %d, want 1", data.Number)
	}
	if len(data.Transactions) != 3 {
		t.Fatalf("built payload has %d txs, want 3", len(data.Transactions))
	}
	if env.BlockValue == nil || env.BlockValue.Sign() <= 0 {
		t.Fatalf("block value should be positive, got %v", env.BlockValue)
	}
}

func TestNewPayloadRoundTripAdvancesHead(t *testing.T) {
	h := newHarness(t)
	addTx(t, h, 0)

	env := buildPayload(t, h)
	data := *env.ExecutionPayload

	status, err := h.api.NewPayloadV2(data)
	if err != nil {
		t.Fatalf("newPayload: %v", err)
	}
	if status.Status != engineapi.StatusValid {
		t.Fatalf("newPayload status = %s (%v), want VALID", status.Status, status.ValidationError)
	}
	if status.LatestValidHash == nil || *status.LatestValidHash != data.BlockHash {
		t.Fatalf("latestValidHash mismatch")
	}

	resp, err := h.api.ForkchoiceUpdatedV2(fcuState(data.BlockHash), nil)
	if err != nil {
		t.Fatalf("forkchoiceUpdated to new head: %v", err)
	}
	if resp.PayloadStatus.Status != engineapi.StatusValid {
		t.Fatalf("forkchoice status = %s, want VALID", resp.PayloadStatus.Status)
	}

	head, _ := h.chain.GetCanonicalHeadBlock()
	if head.Hash() != data.BlockHash {
		t.Fatalf("canonical head did not advance to the new payload")
	}
	if h.chain.VMHead() != data.BlockHash {
		t.Fatalf("vm head did not advance to the new payload")
	}
	if h.pool.Len() != 0 {
		t.Fatalf("included transaction still in pool")
	}
}

func TestNewPayloadUnknownParentIsAccepted(t *testing.T) {
	h := newHarness(t)

	header := &types.Header{
		ParentHash: common.HexToHash("0xdead"),
		Number:     big.NewInt(5),
		GasLimit:   params.GenesisGasLimit,
		Time:       1000,
		Difficulty: new(big.Int),
		TxHash:     types.CalcTxsRoot(nil),
	}
	block := types.NewBlockWithHeader(header).WithBody(types.Body{})
	env := engineapi.BlockToExecutableData(block, new(big.Int), nil, nil)

	status, err := h.api.NewPayloadV2(*env.ExecutionPayload)
	if err != nil {
		t.Fatalf("newPayload: %v", err)
	}
	if status.Status != engineapi.StatusAccepted && status.Status != engineapi.StatusSyncing {
		t.Fatalf("status = %s, want ACCEPTED or SYNCING", status.Status)
	}
}

func TestNewPayloadBadBlockHash(t *testing.T) {
	h := newHarness(t)

	env := buildPayload(t, h)
	data := *env.ExecutionPayload
	data.BlockHash = common.HexToHash("0xbadc0de")

	status, err := h.api.NewPayloadV2(data)
	if err != nil {
		t.Fatalf("newPayload: %v", err)
	}
	if status.Status != engineapi.StatusInvalid {
		t.Fatalf("status = %s, want INVALID for bad block hash", status.Status)
	}
}

func TestNewPayloadExecutionFailureIsCachedInvalid(t *testing.T) {
	h := newHarness(t)
	genesisBlock, _ := h.chain.GetCanonicalHeadBlock()

	// A structurally fine block whose state root cannot possibly match.
	header := &types.Header{
		ParentHash:  genesisBlock.Hash(),
		Number:      big.NewInt(1),
		GasLimit:    params.GenesisGasLimit,
		Time:        genesisBlock.Time() + 12,
		Difficulty:  new(big.Int),
		Root:        common.HexToHash("0xffff"),
		TxHash:      types.CalcTxsRoot(nil),
		ReceiptHash: types.CalcReceiptsRoot(nil),
		BaseFee:     big.NewInt(int64(params.InitialBaseFee)),
	}
	block := types.NewBlockWithHeader(header).WithBody(types.Body{})
	env := engineapi.BlockToExecutableData(block, new(big.Int), nil, nil)

	status, err := h.api.NewPayloadV2(*env.ExecutionPayload)
	if err != nil {
		t.Fatalf("newPayload: %v", err)
	}
	if status.Status != engineapi.StatusInvalid {
		t.Fatalf("status = %s, want INVALID", status.Status)
	}
	if _, ok := h.chain.InvalidReason(block.Hash()); !ok {
		t.Fatalf("failed block not recorded in invalid cache")
	}

	// Resubmission short-circuits from the invalid cache.
	status, err = h.api.NewPayloadV2(*env.ExecutionPayload)
	if err != nil {
		t.Fatalf("newPayload resubmission: %v", err)
	}
	if status.Status != engineapi.StatusInvalid {
		t.Fatalf("resubmission status = %s, want INVALID", status.Status)
	}
}

func TestForkchoiceRejectsFinalizedWithoutSafe(t *testing.T) {
	h := newHarness(t)
	head, _ := h.chain.GetCanonicalHeadBlock()

	state := engineapi.ForkchoiceStateV1{
		HeadBlockHash:      head.Hash(),
		FinalizedBlockHash: head.Hash(),
	}
	_, err := h.api.ForkchoiceUpdatedV2(state, nil)
	if err != coreerr.ErrInvalidFcState {
		t.Fatalf("expected invalid forkchoice state error, got %v", err)
	}
}

func TestNewPayloadV3OutsideCancunIsUnsupported(t *testing.T) {
	h := newHarness(t)

	env := buildPayload(t, h)
	data := *env.ExecutionPayload
	data.Withdrawals = types.Withdrawals{}
	zero := uint64(0)
	data.BlobGasUsed, data.ExcessBlobGas = &zero, &zero
	root := common.Hash{}

	_, err := h.api.NewPayloadV3(data, []common.Hash{}, &root)
	rpcErr, ok := err.(*coreerr.RPCError)
	if !ok || rpcErr.Code != coreerr.CodeUnsupportedFork {
		t.Fatalf("expected UNSUPPORTED_FORK, got %v", err)
	}
}

func TestGetPayloadUnknownID(t *testing.T) {
	h := newHarness(t)
	_, err := h.api.GetPayloadV2(miner.PayloadID{1, 2, 3})
	if err != coreerr.ErrUnknownPayload {
		t.Fatalf("expected unknown payload error, got %v", err)
	}
}
