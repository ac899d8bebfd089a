package types

import (
	"errors"
	"math/big"

	"github.com/ethcore/execution-core/common"
	"github.com/ethcore/execution-core/params"
)

var ErrInvalidChainID = errors.New("invalid chain id for signer")

// Signer encapsulates transaction signature handling. A Signer is tied to a
// specific chain ID and hardfork, since EIP-155, EIP-2930, EIP-1559, EIP-4844
// and EIP-7702 each changed what a valid signed transaction looks like.
// Generalizing go-ethereum's own signer hierarchy into a single
// interface keeps the per-type dispatch in one place rather than
// scattered across per-fork signer structs.
type Signer interface {
	// Sender recovers the signing address from tx's signature, failing
	// on malformed components or a chain id that does not match this
	// signer's.
	Sender(tx *Transaction) (common.Address, error)

	// SignatureValues returns the v, r, s values for a raw 65 byte secp256k1
	// signature produced over tx's signing hash.
	SignatureValues(tx *Transaction, sig []byte) (r, s, v *big.Int, err error)

	// Hash returns the signing hash for the given transaction.
	Hash(tx *Transaction) [32]byte

	ChainID() *big.Int

	// Equal reports whether two signers describe the same chain/fork.
	Equal(Signer) bool
}

// Sender returns tx's signing address, reusing the cached value when one
// is present and otherwise recovering it through signer and caching the
// result for later lookups.
func Sender(signer Signer, tx *Transaction) (common.Address, error) {
	if addr, ok := tx.cachedSender(); ok {
		return addr, nil
	}
	addr, err := signer.Sender(tx)
	if err != nil {
		return common.Address{}, err
	}
	tx.SetSender(addr)
	return addr, nil
}

// latestSigner accepts every transaction type this package defines and is
// the only signer MakeSigner constructs; there are no earlier-fork
// signers.
type latestSigner struct {
	chainID *big.Int
}

// MakeSigner returns the Signer for config's chain id, taking the
// arguments of go-ethereum's types.MakeSigner. Every fork gets the same
// latestSigner; blockNumber and blockTime are not consulted.
func MakeSigner(config *params.ChainConfig, blockNumber *big.Int, blockTime uint64) Signer {
	return &latestSigner{chainID: config.ChainID}
}

func (s *latestSigner) ChainID() *big.Int { return s.chainID }

// Sender recovers the signing address, normalizing the per-type V
// encoding (EIP-155 or plain 27/28 for legacy transactions, a bare
// parity bit for typed ones) into the recovery id before handing off to
// the curve recovery.
func (s *latestSigner) Sender(tx *Transaction) (common.Address, error) {
	v, r, sv := tx.RawSignatureValues()
	if v == nil || r == nil || sv == nil {
		return common.Address{}, ErrInvalidSig
	}
	var recid byte
	switch tx.Type() {
	case LegacyTxType:
		if cid := tx.ChainId(); cid != nil {
			if s.chainID == nil || cid.Cmp(s.chainID) != 0 {
				return common.Address{}, ErrInvalidChainID
			}
			rv := new(big.Int).Sub(v, new(big.Int).Add(new(big.Int).Mul(cid, common.Big2), big.NewInt(35)))
			if rv.Sign() < 0 || rv.BitLen() > 8 {
				return common.Address{}, ErrInvalidSig
			}
			recid = byte(rv.Uint64())
		} else {
			if v.BitLen() > 8 || v.Uint64() < 27 {
				return common.Address{}, ErrInvalidSig
			}
			recid = byte(v.Uint64() - 27)
		}
	default:
		cid := tx.ChainId()
		if cid == nil || s.chainID == nil || cid.Cmp(s.chainID) != 0 {
			return common.Address{}, ErrInvalidChainID
		}
		if v.BitLen() > 8 {
			return common.Address{}, ErrInvalidSig
		}
		recid = byte(v.Uint64())
	}
	return recoverPlain(s.Hash(tx), r, sv, recid)
}

func (s *latestSigner) Equal(other Signer) bool {
	o, ok := other.(*latestSigner)
	return ok && o.chainID.Cmp(s.chainID) == 0
}

func (s *latestSigner) Hash(tx *Transaction) [32]byte {
	e := newCanonicalEncoder().
		uint64(uint64(tx.Type())).
		bigInt(s.chainID).
		uint64(tx.Nonce()).
		bigInt(tx.inner.gasPrice()).
		bigInt(tx.inner.gasTipCap()).
		bigInt(tx.inner.gasFeeCap()).
		uint64(tx.Gas())
	if to := tx.To(); to != nil {
		e.address(*to)
	} else {
		e.bytes(nil)
	}
	e.bigInt(tx.Value()).bytes(tx.Data())
	return e.sum()
}

func (s *latestSigner) SignatureValues(tx *Transaction, sig []byte) (r, s_, v *big.Int, err error) {
	if len(sig) != 65 {
		return nil, nil, nil, errors.New("wrong size for signature")
	}
	r = new(big.Int).SetBytes(sig[:32])
	s_ = new(big.Int).SetBytes(sig[32:64])
	switch tx.Type() {
	case LegacyTxType:
		v = big.NewInt(int64(sig[64] + 35))
		v.Add(v, new(big.Int).Mul(s.chainID, common.Big2))
	default:
		v = big.NewInt(int64(sig[64]))
	}
	return r, s_, v, nil
}
