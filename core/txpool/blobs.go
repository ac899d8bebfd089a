package txpool

import (
	"github.com/ethcore/execution-core/common"
	"github.com/ethcore/execution-core/coreerr"
	"github.com/ethcore/execution-core/core/types"
	"github.com/ethcore/execution-core/params"
)

// Blob validation errors surfaced by Add for type-3 transactions.
var (
	ErrMissingBlobSidecar = coreerr.New(coreerr.KindRecoverableValidation, "blob transaction without sidecar", nil)
	ErrTooManyBlobs       = coreerr.New(coreerr.KindRecoverableValidation, "blob count exceeds per-block maximum", nil)
	ErrBlobHashMismatch   = coreerr.New(coreerr.KindPermanentValidation, "sidecar commitments do not match versioned hashes", nil)
)

// maxBlobsPerTransaction is the per-block blob budget, which also bounds
// any single transaction.
const maxBlobsPerTransaction = int(params.CancunMaxBlobGasPerBlock / params.BlobTxBlobGasPerBlob)

// validateBlobTx checks the sidecar invariants for a type-3 transaction:
// a sidecar must be present, the blob count must fit the per-block
// budget, and the sidecar's derived versioned hashes must match the
// transaction's.
func validateBlobTx(tx *types.Transaction) error {
	sidecar := tx.Sidecar()
	if sidecar == nil {
		return ErrMissingBlobSidecar
	}
	hashes := tx.BlobHashes()
	if len(hashes) == 0 || len(hashes) > maxBlobsPerTransaction {
		return ErrTooManyBlobs
	}
	derived := sidecar.BlobHashes()
	if len(derived) != len(hashes) {
		return ErrBlobHashMismatch
	}
	for i := range hashes {
		if derived[i] != hashes[i] {
			return ErrBlobHashMismatch
		}
	}
	return nil
}

// indexBlobsLocked registers the entry's sidecar under each versioned
// hash: one index for the KZG blob proofs and one for the per-cell
// proofs carried by PeerDAS-era wrappers.
func (p *Pool) indexBlobsLocked(entry *Entry) {
	sidecar := entry.Tx.Sidecar()
	if sidecar == nil {
		return
	}
	for _, vh := range entry.Tx.BlobHashes() {
		p.blobProofs[vh] = entry
		if len(sidecar.CellProofs) > 0 {
			p.cellProofs[vh] = entry
		}
	}
}

// dropBlobsLocked removes the entry's versioned hashes from both indices.
func (p *Pool) dropBlobsLocked(entry *Entry) {
	for _, vh := range entry.Tx.BlobHashes() {
		if p.blobProofs[vh] == entry {
			delete(p.blobProofs, vh)
		}
		if p.cellProofs[vh] == entry {
			delete(p.cellProofs, vh)
		}
	}
}

// GetBlobs returns the sidecar material for the requested versioned
// hashes, with a nil slot for any hash the pool does not hold. Used by
// the consensus client's blob retrieval path.
func (p *Pool) GetBlobs(hashes []common.Hash) []*types.BlobTxSidecar {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*types.BlobTxSidecar, len(hashes))
	for i, vh := range hashes {
		if e, ok := p.blobProofs[vh]; ok {
			out[i] = e.Tx.Sidecar()
		}
	}
	return out
}

// HasCellProofs reports whether the pool holds per-cell proofs for the
// given versioned hash.
func (p *Pool) HasCellProofs(vh common.Hash) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.cellProofs[vh]
	return ok
}
