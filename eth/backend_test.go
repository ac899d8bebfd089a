package eth_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethcore/execution-core/common"
	"github.com/ethcore/execution-core/consensus"
	"github.com/ethcore/execution-core/core/chainstore"
	"github.com/ethcore/execution-core/core/types"
	"github.com/ethcore/execution-core/eth"
	"github.com/ethcore/execution-core/eth/ethconfig"
	"github.com/ethcore/execution-core/log"
	"github.com/ethcore/execution-core/params"
)

var (
	sender = common.HexToAddress("0xa11ce")
	dest   = common.HexToAddress("0xb0b")
)

func testGenesis() *types.Genesis {
	return &types.Genesis{
		Config: &params.ChainConfig{
			ChainID:        big.NewInt(1337),
			HomesteadBlock: big.NewInt(0),
			EIP150Block:    big.NewInt(0),
			EIP155Block:    big.NewInt(0),
			EIP158Block:    big.NewInt(0),
			ByzantiumBlock: big.NewInt(0),
			LondonBlock:    big.NewInt(0),
		},
		GasLimit:   params.GenesisGasLimit,
		Difficulty: big.NewInt(1),
		BaseFee:    big.NewInt(int64(params.InitialBaseFee)),
		Alloc: types.GenesisAlloc{
			sender: {Balance: big.NewInt(1_000_000_000_000_000_000)},
		},
	}
}

type instantSolver struct{}

func (instantSolver) Seal(header *types.Header, stop <-chan struct{}) (common.Hash, [8]byte, error) {
	select {
	case <-stop:
		return common.Hash{}, [8]byte{}, consensus.ErrSealCancelled
	default:
	}
	return header.MixDigest, [8]byte{}, nil
}

func (instantSolver) Hashrate() float64 { return 1 }

func TestServiceStartStop(t *testing.T) {
	config := ethconfig.Defaults
	config.Genesis = testGenesis()

	svc, err := eth.New(&config, instantSolver{}, log.Discard())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	svc.Start(context.Background())
	svc.Start(context.Background()) // repeated Start is a no-op
	svc.Stop()
	svc.Stop()
}

func TestServiceRequiresGenesis(t *testing.T) {
	config := ethconfig.Defaults
	if _, err := eth.New(&config, nil, log.Discard()); err == nil {
		t.Fatalf("expected missing genesis to be rejected")
	}
}

func TestMinerProducesBlockWithTransaction(t *testing.T) {
	config := ethconfig.Defaults
	config.Genesis = testGenesis()
	config.Mine = true
	config.Miner.Recommit = 25 * time.Millisecond
	config.Miner.GasLimit = params.GenesisGasLimit
	config.Miner.Coinbase = common.HexToAddress("0xc01base")

	svc, err := eth.New(&config, instantSolver{}, log.Discard())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    0,
		GasPrice: big.NewInt(2_000_000_000),
		Gas:      21000,
		To:       &dest,
		Value:    big.NewInt(1000),
	})
	tx.SetSender(sender)
	if err := svc.TxPool().Add(tx, true); err != nil {
		t.Fatalf("add tx: %v", err)
	}

	sub := svc.ChainStore().Subscribe(16)
	defer sub.Unsubscribe()

	svc.Start(context.Background())
	defer svc.Stop()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-sub.Chan():
			updated, ok := ev.(chainstore.ChainUpdatedEvent)
			if !ok {
				continue
			}
			if updated.Head.Transaction(tx.Hash()) == nil {
				continue
			}
			receipts, ok := svc.ChainStore().GetReceipts(updated.Head.Hash())
			if !ok || len(receipts) != 1 {
				t.Fatalf("mined block missing receipts")
			}
			if receipts[0].Status != types.ReceiptStatusSuccessful {
				t.Fatalf("transfer receipt status = %d, want success", receipts[0].Status)
			}
			return
		case <-deadline:
			t.Fatalf("no mined block containing the transaction within deadline")
		}
	}
}
