package txpool_test

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/ethcore/execution-core/common"
	"github.com/ethcore/execution-core/core/txpool"
	"github.com/ethcore/execution-core/core/types"
	"github.com/ethcore/execution-core/log"
)

// fakeChainView is a minimal in-memory ChainView, standing in for
// core/state.StateManager in these unit tests so the pool can be tested
// without wiring a full VM engine.
type fakeChainView struct {
	nonces   map[common.Address]uint64
	balances map[common.Address]*uint256.Int
}

func newFakeChainView() *fakeChainView {
	return &fakeChainView{nonces: map[common.Address]uint64{}, balances: map[common.Address]*uint256.Int{}}
}

func (f *fakeChainView) GetNonce(addr common.Address) uint64 { return f.nonces[addr] }
func (f *fakeChainView) GetBalance(addr common.Address) *uint256.Int {
	if b, ok := f.balances[addr]; ok {
		return b
	}
	return new(uint256.Int)
}

func legacyTx(nonce uint64, gasPrice int64, sender common.Address) *types.Transaction {
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: big.NewInt(gasPrice),
		Gas:      21000,
		To:       &common.Address{0x99},
		Value:    big.NewInt(1),
	})
	tx.SetSender(sender)
	return tx
}

func newTestPool(t *testing.T) (*txpool.Pool, *fakeChainView) {
	t.Helper()
	chain := newFakeChainView()
	pool := txpool.New(txpool.DefaultConfig, chain, nil, log.Discard())
	return pool, chain
}

func TestAddPendingContiguousFromAccountNonce(t *testing.T) {
	pool, chain := newTestPool(t)
	sender := common.HexToAddress("0x1")
	chain.balances[sender] = uint256.NewInt(1_000_000_000_000)

	require.NoError(t, pool.Add(legacyTx(0, 10, sender), false))
	require.NoError(t, pool.Add(legacyTx(1, 10, sender), false))
	// nonce 3 leaves a gap above the account's next nonce (2): queued.
	require.NoError(t, pool.Add(legacyTx(3, 10, sender), false))

	pending := pool.Pending()
	require.Len(t, pending[sender], 2)
	require.Equal(t, uint64(0), pending[sender][0].Nonce())
	require.Equal(t, uint64(1), pending[sender][1].Nonce())
}

func TestReplacementRequiresPriceBump(t *testing.T) {
	pool, chain := newTestPool(t)
	sender := common.HexToAddress("0x2")
	chain.balances[sender] = uint256.NewInt(1_000_000_000_000)

	require.NoError(t, pool.Add(legacyTx(0, 100, sender), false))
	err := pool.Add(legacyTx(0, 105, sender), false) // 5% bump, below the 10% default
	require.ErrorIs(t, err, txpool.ErrReplaceUnderpriced)

	require.NoError(t, pool.Add(legacyTx(0, 111, sender), false)) // >=10% bump succeeds
	pending := pool.Pending()
	require.Equal(t, big.NewInt(111), pending[sender][0].GasPrice())
}

func TestNonceTooLowRejected(t *testing.T) {
	pool, chain := newTestPool(t)
	sender := common.HexToAddress("0x3")
	chain.balances[sender] = uint256.NewInt(1_000_000_000_000)
	chain.nonces[sender] = 5

	err := pool.Add(legacyTx(4, 10, sender), false)
	require.ErrorIs(t, err, txpool.ErrNonceTooLow)
}

func TestTransactionsByPriceAndNonceOrdersByTipDescending(t *testing.T) {
	pool, chain := newTestPool(t)
	a, b := common.HexToAddress("0xa"), common.HexToAddress("0xb")
	chain.balances[a] = uint256.NewInt(1_000_000_000_000)
	chain.balances[b] = uint256.NewInt(1_000_000_000_000)

	require.NoError(t, pool.Add(legacyTx(0, 10, a), false))
	require.NoError(t, pool.Add(legacyTx(0, 50, b), false))
	require.NoError(t, pool.Add(legacyTx(1, 10, a), false))

	it := pool.TransactionsByPriceAndNonce(txpool.IteratorOptions{})
	var order []common.Address
	for !it.Empty() {
		tx := it.Peek()
		sender, _ := tx.Sender()
		order = append(order, sender)
		it.Shift()
	}
	require.Equal(t, []common.Address{b, a, a}, order)
}

func TestPopDropsWholeSender(t *testing.T) {
	pool, chain := newTestPool(t)
	a, b := common.HexToAddress("0xa"), common.HexToAddress("0xb")
	chain.balances[a] = uint256.NewInt(1_000_000_000_000)
	chain.balances[b] = uint256.NewInt(1_000_000_000_000)
	require.NoError(t, pool.Add(legacyTx(0, 50, a), false))
	require.NoError(t, pool.Add(legacyTx(1, 50, a), false))
	require.NoError(t, pool.Add(legacyTx(0, 10, b), false))

	it := pool.TransactionsByPriceAndNonce(txpool.IteratorOptions{})
	it.Pop() // drop a's whole queue after its first tx is rejected
	require.False(t, it.Empty())
	tx := it.Peek()
	sender, _ := tx.Sender()
	require.Equal(t, b, sender)
	it.Shift()
	require.True(t, it.Empty())
}

func TestHandleReorgReinjectsDroppedTxs(t *testing.T) {
	pool, chain := newTestPool(t)
	sender := common.HexToAddress("0x4")
	chain.balances[sender] = uint256.NewInt(1_000_000_000_000)

	tx := legacyTx(0, 10, sender)
	oldBlock := blockWithTxs(1, tx)
	newBlock := blockWithTxs(1) // same height, doesn't include tx: a reorg

	pool.HandleReorg([]*types.Block{oldBlock}, []*types.Block{newBlock})

	pending := pool.Pending()
	require.Len(t, pending[sender], 1)
	require.Equal(t, tx.Hash(), pending[sender][0].Hash())
}

func blockWithTxs(number uint64, txs ...*types.Transaction) *types.Block {
	h := &types.Header{Number: big.NewInt(int64(number)), Difficulty: big.NewInt(1)}
	return types.NewBlockWithHeader(h).WithBody(types.Body{Transactions: txs})
}

func blobTx(nonce uint64, sender common.Address, sidecar *types.BlobTxSidecar) *types.Transaction {
	inner := &types.BlobTx{
		ChainID:    big.NewInt(1337),
		Nonce:      nonce,
		GasTipCap:  big.NewInt(10),
		GasFeeCap:  big.NewInt(100),
		Gas:        21000,
		To:         common.Address{0x99},
		Value:      big.NewInt(0),
		BlobFeeCap: big.NewInt(1),
	}
	if sidecar != nil {
		inner.BlobHashes_ = sidecar.BlobHashes()
	}
	tx := types.NewTx(inner)
	if sidecar != nil {
		tx.WithSidecar(sidecar)
	}
	tx.SetSender(sender)
	return tx
}

func TestBlobTxRequiresSidecar(t *testing.T) {
	pool, chain := newTestPool(t)
	sender := common.HexToAddress("0x7")
	chain.balances[sender] = uint256.NewInt(1_000_000_000_000)

	err := pool.Add(blobTx(0, sender, nil), false)
	require.ErrorIs(t, err, txpool.ErrMissingBlobSidecar)

	sidecar := &types.BlobTxSidecar{
		Blobs:       [][]byte{{1, 2, 3}},
		Commitments: [][]byte{{4, 5, 6}},
		Proofs:      [][]byte{{7, 8, 9}},
	}
	require.NoError(t, pool.Add(blobTx(0, sender, sidecar), false))

	got := pool.GetBlobs(sidecar.BlobHashes())
	require.Len(t, got, 1)
	require.NotNil(t, got[0])

	// Removing the transaction drops the sidecar index with it.
	tx := blobTx(0, sender, sidecar)
	pool.RemoveByHash(tx.Hash())
	got = pool.GetBlobs(sidecar.BlobHashes())
	require.Nil(t, got[0])
}
