package engineapi

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethcore/execution-core/common"
	"github.com/ethcore/execution-core/core/types"
	"github.com/ethcore/execution-core/miner"
)

// Payload status values returned to the consensus client.
const (
	StatusValid            = "VALID"
	StatusInvalid          = "INVALID"
	StatusSyncing          = "SYNCING"
	StatusAccepted         = "ACCEPTED"
	StatusInvalidBlockHash = "INVALID_BLOCK_HASH"
)

// PayloadStatusV1 is the response shape of newPayload and the status arm
// of forkchoiceUpdated.
type PayloadStatusV1 struct {
	Status          string       `json:"status"`
	LatestValidHash *common.Hash `json:"latestValidHash"`
	ValidationError *string      `json:"validationError"`
}

// ForkchoiceStateV1 is the consensus client's declaration of head, safe
// and finalized block hashes.
type ForkchoiceStateV1 struct {
	HeadBlockHash      common.Hash `json:"headBlockHash"`
	SafeBlockHash      common.Hash `json:"safeBlockHash"`
	FinalizedBlockHash common.Hash `json:"finalizedBlockHash"`
}

// PayloadAttributes are the optional build instructions attached to a
// forkchoiceUpdated call.
type PayloadAttributes struct {
	Timestamp             uint64            `json:"timestamp"`
	Random                common.Hash       `json:"prevRandao"`
	SuggestedFeeRecipient common.Address    `json:"suggestedFeeRecipient"`
	Withdrawals           types.Withdrawals `json:"withdrawals"`
	BeaconRoot            *common.Hash      `json:"parentBeaconBlockRoot"`
}

// ExecutableData is the payload body exchanged over newPayload and
// getPayload. Transactions are carried as decoded objects: the RLP wire
// encoding belongs to the external transport codec, and everything this
// module validates (hashes, roots, gas) is derived from the decoded
// form.
type ExecutableData struct {
	ParentHash    common.Hash        `json:"parentHash"`
	FeeRecipient  common.Address     `json:"feeRecipient"`
	StateRoot     common.Hash        `json:"stateRoot"`
	ReceiptsRoot  common.Hash        `json:"receiptsRoot"`
	LogsBloom     []byte             `json:"logsBloom"`
	Random        common.Hash        `json:"prevRandao"`
	Number        uint64             `json:"blockNumber"`
	GasLimit      uint64             `json:"gasLimit"`
	GasUsed       uint64             `json:"gasUsed"`
	Timestamp     uint64             `json:"timestamp"`
	ExtraData     []byte             `json:"extraData"`
	BaseFeePerGas *big.Int           `json:"baseFeePerGas"`
	BlockHash     common.Hash        `json:"blockHash"`
	Transactions  types.Transactions `json:"transactions"`
	Withdrawals   types.Withdrawals  `json:"withdrawals"`
	BlobGasUsed   *uint64            `json:"blobGasUsed,omitempty"`
	ExcessBlobGas *uint64            `json:"excessBlobGas,omitempty"`
}

// BlobsBundleV1 carries the sidecar material of a built payload,
// flattened across the included blob transactions in inclusion order.
type BlobsBundleV1 struct {
	Commitments [][]byte `json:"commitments"`
	Proofs      [][]byte `json:"proofs"`
	Blobs       [][]byte `json:"blobs"`
}

// ExecutionPayloadEnvelope wraps an ExecutableData with the extras added
// by the later getPayload versions.
type ExecutionPayloadEnvelope struct {
	ExecutionPayload *ExecutableData `json:"executionPayload"`
	BlockValue       *big.Int        `json:"blockValue,omitempty"`
	BlobsBundle      *BlobsBundleV1  `json:"blobsBundle,omitempty"`
	Requests         [][]byte        `json:"executionRequests,omitempty"`
}

// ForkChoiceResponse is forkchoiceUpdated's response: the head status
// plus the payload ID when build attributes were supplied.
type ForkChoiceResponse struct {
	PayloadStatus PayloadStatusV1  `json:"payloadStatus"`
	PayloadID     *miner.PayloadID `json:"payloadId"`
}

var errInvalidBlockHash = errors.New("blockHash does not match assembled header")

// ExecutableDataToBlock reassembles a block from its payload form and
// verifies the committed block hash. versionedHashes, when non-nil, must
// match the concatenated blob hashes of the payload's transactions.
func ExecutableDataToBlock(data ExecutableData, versionedHashes []common.Hash, beaconRoot *common.Hash) (*types.Block, error) {
	var blobHashes []common.Hash
	for _, tx := range data.Transactions {
		blobHashes = append(blobHashes, tx.BlobHashes()...)
	}
	if versionedHashes != nil {
		if len(blobHashes) != len(versionedHashes) {
			return nil, fmt.Errorf("invalid number of versionedHashes: %d, blobHashes: %d", len(versionedHashes), len(blobHashes))
		}
		for i := range blobHashes {
			if blobHashes[i] != versionedHashes[i] {
				return nil, fmt.Errorf("invalid versionedHash at %d: %s != %s", i, versionedHashes[i], blobHashes[i])
			}
		}
	}

	header := &types.Header{
		ParentHash:       data.ParentHash,
		Coinbase:         data.FeeRecipient,
		Root:             data.StateRoot,
		TxHash:           types.CalcTxsRoot(data.Transactions),
		ReceiptHash:      data.ReceiptsRoot,
		Bloom:            common.BytesToBloom(data.LogsBloom),
		Difficulty:       new(big.Int),
		Number:           new(big.Int).SetUint64(data.Number),
		GasLimit:         data.GasLimit,
		GasUsed:          data.GasUsed,
		Time:             data.Timestamp,
		Extra:            data.ExtraData,
		MixDigest:        data.Random,
		BaseFee:          data.BaseFeePerGas,
		BlobGasUsed:      data.BlobGasUsed,
		ExcessBlobGas:    data.ExcessBlobGas,
		ParentBeaconRoot: beaconRoot,
	}
	if data.Withdrawals != nil {
		wHash := types.CalcWithdrawalsRoot(data.Withdrawals)
		header.WithdrawalsHash = &wHash
	}
	block := types.NewBlockWithHeader(header).WithBody(types.Body{Transactions: data.Transactions, Withdrawals: data.Withdrawals})
	if block.Hash() != data.BlockHash {
		return nil, errInvalidBlockHash
	}
	return block, nil
}

// BlockToExecutableData flattens a built block, its fee total, and its
// blob sidecars into the envelope getPayload returns.
func BlockToExecutableData(block *types.Block, fees *big.Int, sidecars []*types.BlobTxSidecar, requests [][]byte) *ExecutionPayloadEnvelope {
	data := &ExecutableData{
		ParentHash:    block.ParentHash(),
		FeeRecipient:  block.Coinbase(),
		StateRoot:     block.Root(),
		ReceiptsRoot:  block.Header().ReceiptHash,
		LogsBloom:     block.Header().Bloom.Bytes(),
		Random:        block.Header().MixDigest,
		Number:        block.NumberU64(),
		GasLimit:      block.GasLimit(),
		GasUsed:       block.GasUsed(),
		Timestamp:     block.Time(),
		ExtraData:     block.Header().Extra,
		BaseFeePerGas: block.BaseFee(),
		BlockHash:     block.Hash(),
		Transactions:  block.Transactions(),
		Withdrawals:   block.Withdrawals(),
		BlobGasUsed:   block.Header().BlobGasUsed,
		ExcessBlobGas: block.Header().ExcessBlobGas,
	}
	var bundle *BlobsBundleV1
	if len(sidecars) > 0 {
		bundle = &BlobsBundleV1{}
		for _, sc := range sidecars {
			bundle.Commitments = append(bundle.Commitments, sc.Commitments...)
			bundle.Proofs = append(bundle.Proofs, sc.Proofs...)
			bundle.Blobs = append(bundle.Blobs, sc.Blobs...)
		}
	}
	return &ExecutionPayloadEnvelope{ExecutionPayload: data, BlockValue: fees, BlobsBundle: bundle, Requests: requests}
}
