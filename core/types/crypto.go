package types

import (
	"math/big"

	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/ethcore/execution-core/common"
)

var (
	secpN     = secp256k1.S256().Params().N
	secpHalfN = new(big.Int).Rsh(new(big.Int).Set(secpN), 1)
)

// ValidateSignatureValues reports whether the given signature components
// are valid for sender recovery: r and s on the curve order, s in the
// lower half (EIP-2 malleability rule), and a binary recovery id.
func ValidateSignatureValues(recid byte, r, s *big.Int) bool {
	if r == nil || s == nil || r.Sign() <= 0 || s.Sign() <= 0 {
		return false
	}
	if r.Cmp(secpN) >= 0 || s.Cmp(secpHalfN) > 0 {
		return false
	}
	return recid == 0 || recid == 1
}

// recoverPlain recovers the signing address from a signature over
// sighash. The curve math itself is the external secp256k1 capability;
// this function only packs the components into the compact layout the
// library recovers from and derives the address from the public key.
func recoverPlain(sighash [32]byte, r, s *big.Int, recid byte) (common.Address, error) {
	if !ValidateSignatureValues(recid, r, s) {
		return common.Address{}, ErrInvalidSig
	}
	sig := make([]byte, 65)
	sig[0] = 27 + recid
	r.FillBytes(sig[1:33])
	s.FillBytes(sig[33:65])
	pub, _, err := secpecdsa.RecoverCompact(sig, sighash[:])
	if err != nil {
		return common.Address{}, err
	}
	return PubkeyToAddress(pub), nil
}

// PubkeyToAddress derives the account address of a public key: the last
// 20 bytes of the keccak256 hash of its uncompressed encoding without
// the format prefix.
func PubkeyToAddress(pub *secp256k1.PublicKey) common.Address {
	raw := pub.SerializeUncompressed()
	h := Keccak256(raw[1:])
	return common.BytesToAddress(h[12:])
}
