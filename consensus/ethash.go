package consensus

import (
	"errors"
	"math/big"

	"github.com/ethcore/execution-core/common"
	"github.com/ethcore/execution-core/core/state"
	"github.com/ethcore/execution-core/core/types"
	"github.com/ethcore/execution-core/log"
	"github.com/ethcore/execution-core/params"
)

// Solver is the external PoW capability a PoWEngine delegates sealing
// to. The actual hash-rate search (ethash's DAG-based proof-of-work)
// lives behind this black-box boundary.
type Solver interface {
	// Seal searches for a nonce/mixHash pair satisfying header's
	// difficulty target, blocking until found or stop is closed.
	Seal(header *types.Header, stop <-chan struct{}) (mixHash common.Hash, nonce [8]byte, err error)
	Hashrate() float64
}

var ErrSealCancelled = errors.New("consensus: seal cancelled")

// bigMinus99 and the difficulty bomb constants below mirror
// go-ethereum's consensus/ethash difficulty calculator, the reference
// pre-merge difficulty adjustment algorithm this package's CalcDifficulty
// reimplements in pure arithmetic.
var (
	bigMinus99      = big.NewInt(-99)
	big2999999      = big.NewInt(2999999)
	expDiffPeriod   = big.NewInt(100000)
	minimumDifficulty = big.NewInt(131072)
)

// PoWEngine is the pre-merge proof-of-work consensus engine, in the
// mold of go-ethereum's consensus/ethash.Ethash: CalcDifficulty
// implements the homestead/Byzantium difficulty-bomb formula, Seal
// delegates the actual search to an injected Solver.
type PoWEngine struct {
	config *params.ChainConfig
	solver Solver
	log    *log.Logger
}

func NewPoWEngine(config *params.ChainConfig, solver Solver, logger *log.Logger) *PoWEngine {
	return &PoWEngine{config: config, solver: solver, log: logger}
}

func (e *PoWEngine) Prepare(chain ChainHeaderReader, header *types.Header) error {
	parent, ok := chain.GetHeader(header.ParentHash)
	if !ok {
		return errors.New("consensus: unknown ancestor")
	}
	header.Difficulty = e.CalcDifficulty(chain, header.Time, parent)
	return nil
}

func (e *PoWEngine) Finalize(chain ChainHeaderReader, header *types.Header, st *state.StateManager, withdrawals types.Withdrawals) error {
	accumulateRewards(e.config, st, header)
	return nil
}

func (e *PoWEngine) FinalizeAndAssemble(chain ChainHeaderReader, header *types.Header, st *state.StateManager, txs types.Transactions,
	receipts types.Receipts, withdrawals types.Withdrawals) (*types.Block, error) {
	if err := e.Finalize(chain, header, st, withdrawals); err != nil {
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
	return types.NewBlockWithHeader(header).WithBody(types.Body{Transactions: txs}), nil
}

func (e *PoWEngine) Seal(chain ChainHeaderReader, block *types.Block, results chan<- *types.Block, stop <-chan struct{}) error {
	header := block.Header().Copy()
	go func() {
		mixHash, nonce, err := e.solver.Seal(header, stop)
		if err != nil {
			if !errors.Is(err, ErrSealCancelled) {
				e.log.Warn("sealing failed", "err", err)
			}
			return
		}
		header.MixDigest = mixHash
		header.Nonce = nonce
		sealed := types.NewBlockWithHeader(header).WithBody(types.Body{Transactions: block.Transactions(), Withdrawals: block.Withdrawals()})
		select {
		case results <- sealed:
		case <-stop:
		}
	}()
	return nil
}

func (e *PoWEngine) Hashrate() float64 { return e.solver.Hashrate() }

// CalcDifficulty is the difficulty adjustment algorithm, dispatching to
// go-ethereum's calcDifficultyByzantium (time divisor 9, bomb delayed by
// 2999999 blocks) once Byzantium is active for the new block and to
// calcDifficultyHomestead (time divisor 10, no bomb delay) before it.
// Blocks here never carry uncles, so the Byzantium "uncle present" term
// is always treated as absent.
func (e *PoWEngine) CalcDifficulty(chain ChainHeaderReader, time uint64, parent *types.Header) *big.Int {
	next := new(big.Int).Add(parent.Number, common.Big1)
	if e.config.IsByzantium(next) {
		return calcDifficultyByzantium(time, parent)
	}
	return calcDifficultyHomestead(time, parent)
}

func calcDifficultyHomestead(time uint64, parent *types.Header) *big.Int {
	bigTime := new(big.Int).SetUint64(time)
	bigParentTime := new(big.Int).SetUint64(parent.Time)

	x := new(big.Int).Sub(bigTime, bigParentTime)
	x.Div(x, big.NewInt(10))
	x.Sub(big.NewInt(1), x)
	if x.Cmp(bigMinus99) < 0 {
		x.Set(bigMinus99)
	}
	y := new(big.Int).Div(parent.Difficulty, params_DifficultyBoundDivisor)
	x.Mul(y, x)
	x.Add(parent.Difficulty, x)

	if x.Cmp(minimumDifficulty) < 0 {
		x.Set(minimumDifficulty)
	}
	return addDifficultyBomb(x, parent.Number)
}

func calcDifficultyByzantium(time uint64, parent *types.Header) *big.Int {
	bigTime := new(big.Int).SetUint64(time)
	bigParentTime := new(big.Int).SetUint64(parent.Time)

	x := new(big.Int).Sub(bigTime, bigParentTime)
	x.Div(x, big.NewInt(9))
	x.Sub(big.NewInt(1), x)
	if x.Cmp(bigMinus99) < 0 {
		x.Set(bigMinus99)
	}
	y := new(big.Int).Div(parent.Difficulty, params_DifficultyBoundDivisor)
	x.Mul(y, x)
	x.Add(parent.Difficulty, x)

	if x.Cmp(minimumDifficulty) < 0 {
		x.Set(minimumDifficulty)
	}

	fakeBlockNumber := new(big.Int)
	if parent.Number.Cmp(big2999999) >= 0 {
		fakeBlockNumber = new(big.Int).Sub(parent.Number, big2999999)
	}
	return addDifficultyBombAt(x, fakeBlockNumber)
}

var params_DifficultyBoundDivisor = big.NewInt(2048)

func addDifficultyBomb(x *big.Int, parentNumber *big.Int) *big.Int {
	return addDifficultyBombAt(x, parentNumber)
}

func addDifficultyBombAt(x *big.Int, fakeBlockNumber *big.Int) *big.Int {
	periodCount := new(big.Int).Add(fakeBlockNumber, common.Big1)
	periodCount.Div(periodCount, expDiffPeriod)
	if periodCount.Cmp(common.Big1) > 0 {
		y := new(big.Int).Sub(periodCount, common.Big2)
		y.Exp(common.Big2, y, nil)
		x.Add(x, y)
	}
	return x
}

// blockReward is the static pre-merge miner subsidy; Ethereum mainnet
// history has three values (5, 3, 2 ether) selected by fork. This node's
// chain config only needs one since it targets a post-Byzantium chain by
// construction.
var blockReward = new(big.Int).Mul(big.NewInt(2), big.NewInt(int64(params.Ether)))

func accumulateRewards(config *params.ChainConfig, st *state.StateManager, header *types.Header) {
	reward := new(big.Int).Set(blockReward)
	rewardU256, overflow := uint256FromBig(reward)
	if overflow {
		return
	}
	st.AddBalance(header.Coinbase, rewardU256)
}
