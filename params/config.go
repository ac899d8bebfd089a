// Package params holds chain configuration and the protocol constants the
// rest of the core depends on to decide which hardfork rules apply to a
// given block.
package params

import (
	"fmt"
	"math/big"
)

// ChainConfig is the core config which determines the blockchain settings.
//
// ChainConfig is stored in the database on a per block basis. This means
// any network, identified by its genesis block, can have its own set of
// configuration options.
type ChainConfig struct {
	ChainID *big.Int `json:"chainId"`

	HomesteadBlock *big.Int `json:"homesteadBlock,omitempty"`
	EIP150Block    *big.Int `json:"eip150Block,omitempty"`
	EIP155Block    *big.Int `json:"eip155Block,omitempty"`
	EIP158Block    *big.Int `json:"eip158Block,omitempty"`
	ByzantiumBlock *big.Int `json:"byzantiumBlock,omitempty"`
	LondonBlock    *big.Int `json:"londonBlock,omitempty"`

	// TerminalTotalDifficulty is the amount of total difficulty reached by
	// the network that triggers the consensus upgrade to proof-of-stake.
	TerminalTotalDifficulty *big.Int `json:"terminalTotalDifficulty,omitempty"`

	ShanghaiTime *uint64 `json:"shanghaiTime,omitempty"`
	CancunTime   *uint64 `json:"cancunTime,omitempty"`
	PragueTime   *uint64 `json:"pragueTime,omitempty"`
	OsakaTime    *uint64 `json:"osakaTime,omitempty"`

	DepositContractAddress [20]byte `json:"depositContractAddress,omitempty"`
}

func (c *ChainConfig) String() string {
	return fmt.Sprintf("{ChainID: %v London: %v Shanghai: %v Cancun: %v Prague: %v}",
		c.ChainID, c.LondonBlock, c.ShanghaiTime, c.CancunTime, c.PragueTime)
}

// IsLondon returns whether num is either equal to the London fork block or greater.
func (c *ChainConfig) IsLondon(num *big.Int) bool {
	return isBlockForked(c.LondonBlock, num)
}

// IsByzantium returns whether num is either equal to the Byzantium fork block or greater.
func (c *ChainConfig) IsByzantium(num *big.Int) bool {
	return isBlockForked(c.ByzantiumBlock, num)
}

// IsEIP158 returns whether num is either equal to the EIP158 fork block or greater.
func (c *ChainConfig) IsEIP158(num *big.Int) bool {
	return isBlockForked(c.EIP158Block, num)
}

// IsShanghai returns whether time is either equal to the Shanghai fork time or greater.
func (c *ChainConfig) IsShanghai(num *big.Int, time uint64) bool {
	return c.IsLondon(num) && isTimestampForked(c.ShanghaiTime, time)
}

// IsCancun returns whether time is either equal to the Cancun fork time or greater.
func (c *ChainConfig) IsCancun(num *big.Int, time uint64) bool {
	return c.IsShanghai(num, time) && isTimestampForked(c.CancunTime, time)
}

// IsPrague returns whether time is either equal to the Prague fork time or greater.
func (c *ChainConfig) IsPrague(num *big.Int, time uint64) bool {
	return c.IsCancun(num, time) && isTimestampForked(c.PragueTime, time)
}

// IsOsaka returns whether time is either equal to the Osaka fork time or greater.
func (c *ChainConfig) IsOsaka(num *big.Int, time uint64) bool {
	return c.IsPrague(num, time) && isTimestampForked(c.OsakaTime, time)
}

// IsTerminalPoWBlock returns whether the given block is the last block of PoW stage.
func (c *ChainConfig) IsTerminalPoWBlock(parentTotalDiff, totalDiff *big.Int) bool {
	if c.TerminalTotalDifficulty == nil {
		return false
	}
	return parentTotalDiff.Cmp(c.TerminalTotalDifficulty) < 0 && totalDiff.Cmp(c.TerminalTotalDifficulty) >= 0
}

func isBlockForked(s, head *big.Int) bool {
	if s == nil || head == nil {
		return false
	}
	return s.Cmp(head) <= 0
}

func isTimestampForked(s *uint64, head uint64) bool {
	if s == nil {
		return false
	}
	return *s <= head
}

// Rules is a one-time interface meaning that it's only intended to be used
// in one specific fork of the chain, during which time all its
// parameters are fixed. Use Rules when creating an EVM for a block.
type Rules struct {
	ChainID                                   *big.Int
	IsHomestead, IsEIP150, IsEIP155, IsEIP158  bool
	IsByzantium, IsLondon                      bool
	IsShanghai, IsCancun, IsPrague, IsOsaka    bool
}

// Rules ensures c's ChainID is not nil.
func (c *ChainConfig) Rules(num *big.Int, time uint64) Rules {
	chainID := c.ChainID
	if chainID == nil {
		chainID = new(big.Int)
	}
	return Rules{
		ChainID:     new(big.Int).Set(chainID),
		IsHomestead: isBlockForked(c.HomesteadBlock, num),
		IsEIP150:    isBlockForked(c.EIP150Block, num),
		IsEIP155:    isBlockForked(c.EIP155Block, num),
		IsEIP158:    isBlockForked(c.EIP158Block, num),
		IsByzantium: c.IsByzantium(num),
		IsLondon:    c.IsLondon(num),
		IsShanghai:  c.IsShanghai(num, time),
		IsCancun:    c.IsCancun(num, time),
		IsPrague:    c.IsPrague(num, time),
		IsOsaka:     c.IsOsaka(num, time),
	}
}
