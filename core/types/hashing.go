package types

import (
	"encoding/binary"
	"math/big"

	"golang.org/x/crypto/sha3"

	"github.com/ethcore/execution-core/common"
)

// Keccak256 is the black-box cryptographic primitive this package
// depends on for every hash it computes. golang.org/x/crypto/sha3 stands in for the
// production keccak implementation go-ethereum's own crypto package
// wraps.
func Keccak256(data ...[]byte) common.Hash {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	var h common.Hash
	d.Sum(h[:0])
	return h
}

// canonicalEncoder accumulates a deterministic byte serialization of a
// value for hashing purposes. It is not a general-purpose RLP encoder —
// it only needs to be injective over the small set of field shapes this
// package hashes (headers, transactions, withdrawals).
type canonicalEncoder struct {
	buf []byte
}

func newCanonicalEncoder() *canonicalEncoder { return &canonicalEncoder{} }

func (e *canonicalEncoder) bytes(b []byte) *canonicalEncoder {
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(b)))
	e.buf = append(e.buf, lenBuf[:]...)
	e.buf = append(e.buf, b...)
	return e
}

func (e *canonicalEncoder) uint64(v uint64) *canonicalEncoder {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
	return e
}

func (e *canonicalEncoder) bigInt(v *big.Int) *canonicalEncoder {
	if v == nil {
		return e.bytes(nil)
	}
	return e.bytes(v.Bytes())
}

func (e *canonicalEncoder) hash(h common.Hash) *canonicalEncoder { return e.bytes(h[:]) }

func (e *canonicalEncoder) address(a common.Address) *canonicalEncoder { return e.bytes(a[:]) }

func (e *canonicalEncoder) sum() common.Hash { return Keccak256(e.buf) }
