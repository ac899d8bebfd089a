// Package common holds the fixed-size primitive types shared across the
// whole core: addresses, hashes, and the small conversion helpers every
// other package builds on.
package common

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

const (
	HashLength    = 32
	AddressLength = 20
)

// Hash represents the 32 byte output of a keccak256 hash.
type Hash [HashLength]byte

// BytesToHash sets b to hash, left-padding or truncating from the left
// as needed.
func BytesToHash(b []byte) Hash {
	var h Hash
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
	return h
}

func HexToHash(s string) Hash { return BytesToHash(FromHex(s)) }

func (h Hash) Bytes() []byte  { return h[:] }
func (h Hash) Hex() string    { return "0x" + hex.EncodeToString(h[:]) }
func (h Hash) String() string { return h.Hex() }
func (h Hash) IsZero() bool   { return h == (Hash{}) }

// Cmp compares two hashes lexically.
func (h Hash) Cmp(other Hash) int {
	for i := range h {
		if h[i] != other[i] {
			if h[i] < other[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// MarshalText encodes the hash as 0x-prefixed hex for JSON bodies.
func (h Hash) MarshalText() ([]byte, error) { return []byte(h.Hex()), nil }

// UnmarshalText decodes a 0x-prefixed hex string into the hash.
func (h *Hash) UnmarshalText(input []byte) error {
	b := FromHex(string(input))
	if len(b) != HashLength {
		return fmt.Errorf("invalid hash length %d", len(b))
	}
	copy(h[:], b)
	return nil
}

// Address represents the 20 byte address of an Ethereum account.
type Address [AddressLength]byte

func BytesToAddress(b []byte) Address {
	var a Address
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	copy(a[AddressLength-len(b):], b)
	return a
}

func HexToAddress(s string) Address { return BytesToAddress(FromHex(s)) }

func (a Address) Bytes() []byte  { return a[:] }
func (a Address) Hex() string    { return "0x" + hex.EncodeToString(a[:]) }
func (a Address) String() string { return a.Hex() }
func (a Address) IsZero() bool   { return a == (Address{}) }

// MarshalText encodes the address as 0x-prefixed hex for JSON bodies.
func (a Address) MarshalText() ([]byte, error) { return []byte(a.Hex()), nil }

// UnmarshalText decodes a 0x-prefixed hex string into the address.
func (a *Address) UnmarshalText(input []byte) error {
	b := FromHex(string(input))
	if len(b) != AddressLength {
		return fmt.Errorf("invalid address length %d", len(b))
	}
	copy(a[:], b)
	return nil
}

// FromHex decodes a 0x-prefixed (or bare) hex string, returning nil on
// error instead of panicking — callers that need strictness should use
// hex.DecodeString directly.
func FromHex(s string) []byte {
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

// Big0/Big1 are convenience big.Int constants mirroring common usage
// throughout the block-assembly and fee arithmetic code.
var (
	Big0 = big.NewInt(0)
	Big1 = big.NewInt(1)
	Big2 = big.NewInt(2)
)
