// Package miner implements the block builder behind the engine API's
// payload lifecycle and the optional pre-merge proof-of-work miner.
// Builds run against a private state overlay and are cached under an
// 8-byte payload ID until claimed or expired.
package miner

import (
	"encoding/binary"
	"time"

	"github.com/ethcore/execution-core/common"
	"github.com/ethcore/execution-core/core/types"
)

// PayloadID is the 8-byte handle the Engine API uses to key an
// in-progress block build.
type PayloadID [8]byte

func (id PayloadID) Hex() string { return "0x" + hexEncode(id[:]) }

func hexEncode(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = digits[v>>4]
		out[i*2+1] = digits[v&0xf]
	}
	return string(out)
}

// BuildAttributes bundles the payload attributes the CL supplies with
// forkchoiceUpdated, the inputs the payload ID hashes
// over.
type BuildAttributes struct {
	Timestamp             uint64
	Random                common.Hash // prevRandao
	SuggestedFeeRecipient common.Address
	Withdrawals           types.Withdrawals
	ParentBeaconBlockRoot *common.Hash
}

// ComputePayloadID derives the 8-byte payload ID of a build
// configuration: a prefix of keccak(parentHash || mixHash || timestamp
// || gasLimit || parentBeaconBlockRoot || coinbase ||
// encoded(withdrawals)), with fields not applicable to the active
// hardfork replaced by canonical zeroes.
func ComputePayloadID(parentHash common.Hash, attrs BuildAttributes, gasLimit uint64) PayloadID {
	var tsBuf, glBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], attrs.Timestamp)
	binary.BigEndian.PutUint64(glBuf[:], gasLimit)

	var beaconRoot common.Hash
	if attrs.ParentBeaconBlockRoot != nil {
		beaconRoot = *attrs.ParentBeaconBlockRoot
	}
	withdrawalsHash := types.DeriveSha(attrs.Withdrawals, encodeWithdrawal)

	sum := types.Keccak256(
		parentHash.Bytes(),
		attrs.Random.Bytes(),
		tsBuf[:],
		glBuf[:],
		beaconRoot.Bytes(),
		attrs.SuggestedFeeRecipient.Bytes(),
		withdrawalsHash.Bytes(),
	)
	var id PayloadID
	copy(id[:], sum[:8])
	return id
}

func encodeWithdrawal(w *types.Withdrawal) []byte {
	var buf [44]byte
	binary.BigEndian.PutUint64(buf[0:8], w.Index)
	binary.BigEndian.PutUint64(buf[8:16], w.Validator)
	copy(buf[16:36], w.Address[:])
	binary.BigEndian.PutUint64(buf[36:44], w.Amount)
	return buf[:]
}

// cacheEntry is the payload cache's value: the in-progress builder, the
// parent hash and attributes it was started against, and its creation
// time for the TTL check.
type cacheEntry struct {
	builder    *blockBuilder
	parentHash common.Hash
	attrs      BuildAttributes
	createdAt  time.Time
}

const payloadCacheMaxEntries = 2
const payloadCacheTTL = 2 * time.Second
