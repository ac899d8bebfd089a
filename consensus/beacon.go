package consensus

import (
	"errors"
	"math/big"

	"github.com/ethcore/execution-core/core/state"
	"github.com/ethcore/execution-core/core/types"
)

// Beacon wraps a pre-merge Engine and switches its behavior once the
// Merger reports the transition is finalized: Prepare/CalcDifficulty
// become the fixed post-merge rules (zero difficulty, prevRandao instead
// of a PoW seal) and Seal is never called — the Engine API's
// forkchoiceUpdated path builds and delivers blocks directly instead of
// through a Seal callback. Follows go-ethereum's consensus/beacon.Beacon
// wrapper shape ("beacon.New(ethash.New(...))").
type Beacon struct {
	inner  Engine
	merger *Merger
}

func NewBeacon(inner Engine, merger *Merger) *Beacon {
	return &Beacon{inner: inner, merger: merger}
}

func (b *Beacon) InnerEngine() Engine { return b.inner }

func (b *Beacon) Prepare(chain ChainHeaderReader, header *types.Header) error {
	if !b.merger.PoSFinalized() {
		return b.inner.Prepare(chain, header)
	}
	header.Difficulty = new(big.Int)
	return nil
}

func (b *Beacon) Finalize(chain ChainHeaderReader, header *types.Header, st *state.StateManager, withdrawals types.Withdrawals) error {
	if !b.merger.PoSFinalized() {
		return b.inner.Finalize(chain, header, st, withdrawals)
	}
	for _, w := range withdrawals {
		amount := new(big.Int).Mul(new(big.Int).SetUint64(w.Amount), big.NewInt(1_000_000_000))
		rewardU256, overflow := uint256FromBig(amount)
		if overflow {
			continue
		}
		st.AddBalance(w.Address, rewardU256)
	}
	return nil
}

func (b *Beacon) FinalizeAndAssemble(chain ChainHeaderReader, header *types.Header, st *state.StateManager, txs types.Transactions,
	receipts types.Receipts, withdrawals types.Withdrawals) (*types.Block, error) {
	if !b.merger.PoSFinalized() {
		return b.inner.FinalizeAndAssemble(chain, header, st, txs, receipts, withdrawals)
	}
	if err := b.Finalize(chain, header, st, withdrawals); err != nil {
		return nil, err
	}
	root, err := st.Commit()
	if err != nil {
		return nil, err
	}
	header.Root = root
	header.TxHash = types.CalcTxsRoot(txs)
	header.ReceiptHash = types.CalcReceiptsRoot(receipts)
	header.Bloom = types.LogsBloom(receipts)
	if len(withdrawals) > 0 || header.WithdrawalsHash != nil {
		wHash := types.CalcWithdrawalsRoot(withdrawals)
		header.WithdrawalsHash = &wHash
	}
	return types.NewBlockWithHeader(header).WithBody(types.Body{Transactions: txs, Withdrawals: withdrawals}), nil
}

var errBeaconSealUnsupported = errors.New("consensus: beacon engine does not seal; blocks are delivered via the Engine API")

func (b *Beacon) Seal(chain ChainHeaderReader, block *types.Block, results chan<- *types.Block, stop <-chan struct{}) error {
	if !b.merger.PoSFinalized() {
		return b.inner.Seal(chain, block, results, stop)
	}
	return errBeaconSealUnsupported
}

func (b *Beacon) CalcDifficulty(chain ChainHeaderReader, time uint64, parent *types.Header) *big.Int {
	if !b.merger.PoSFinalized() {
		return b.inner.CalcDifficulty(chain, time, parent)
	}
	return new(big.Int)
}

