package consensus

import (
	"math/big"

	"github.com/holiman/uint256"
)

func uint256FromBig(v *big.Int) (*uint256.Int, bool) {
	return uint256.FromBig(v)
}
