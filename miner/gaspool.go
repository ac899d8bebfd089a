package miner

import "fmt"

// GasPool tracks the gas available for the block under construction, a
// single mutable counter the selection loop debits per accepted
// transaction and refunds on revert.
type GasPool uint64

func (gp *GasPool) AddGas(amount uint64) *GasPool {
	if uint64(*gp) > ^uint64(0)-amount {
		panic("gas pool pushed above uint64")
	}
	*gp += GasPool(amount)
	return gp
}

func (gp *GasPool) SubGas(amount uint64) error {
	if uint64(*gp) < amount {
		return ErrGasLimitReached
	}
	*gp -= GasPool(amount)
	return nil
}

func (gp *GasPool) Gas() uint64 { return uint64(*gp) }

func (gp *GasPool) String() string { return fmt.Sprintf("%d", uint64(*gp)) }
