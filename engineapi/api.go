// Package engineapi implements the consensus-client-facing semantics of
// newPayload, forkchoiceUpdated and getPayload across their versioned
// variants, translating internal outcomes into payload statuses instead
// of letting errors escape the method boundary.
package engineapi

import (
	"fmt"
	"math"
	"math/big"
	"sync"

	"github.com/ethcore/execution-core/common"
	"github.com/ethcore/execution-core/consensus"
	"github.com/ethcore/execution-core/core/chainstore"
	"github.com/ethcore/execution-core/core/txpool"
	"github.com/ethcore/execution-core/core/types"
	"github.com/ethcore/execution-core/core/vmengine"
	"github.com/ethcore/execution-core/coreerr"
	"github.com/ethcore/execution-core/log"
	"github.com/ethcore/execution-core/miner"
	"github.com/ethcore/execution-core/params"
	"github.com/ethcore/execution-core/skeleton"
)

const (
	// maxExecutePerCall bounds how many unexecuted ancestors a single
	// newPayload or forkchoiceUpdated call will replay before answering
	// SYNCING and letting the consensus client retry.
	maxExecutePerCall = 32

	// maxTxsPerExecutedBlock bounds the transaction count of any block
	// replayed inline by an Engine API call.
	maxTxsPerExecutedBlock = 500

	// maxAncestorWalk caps the parent walk when locating the chain
	// segment between the vm head and a submitted payload.
	maxAncestorWalk = 256
)

// ConsensusAPI answers the authenticated engine namespace. One instance
// exists per node; the per-verb mutexes keep the two stateful verbs from
// interleaving with themselves.
type ConsensusAPI struct {
	config  *params.ChainConfig
	chain   *chainstore.ChainStore
	engine  *vmengine.Engine
	builder *miner.Builder
	sk      *skeleton.Skeleton
	pool    *txpool.Pool
	merger  *consensus.Merger
	log     *log.Logger

	forkchoiceLock sync.Mutex
	newPayloadLock sync.Mutex
}

func NewConsensusAPI(config *params.ChainConfig, chain *chainstore.ChainStore, engine *vmengine.Engine,
	builder *miner.Builder, sk *skeleton.Skeleton, pool *txpool.Pool, merger *consensus.Merger, logger *log.Logger) *ConsensusAPI {
	return &ConsensusAPI{
		config:  config,
		chain:   chain,
		engine:  engine,
		builder: builder,
		sk:      sk,
		pool:    pool,
		merger:  merger,
		log:     logger,
	}
}

// fork names the post-merge hardfork active at (number, time), the unit
// every version gate below compares against.
type fork int

const (
	forkParis fork = iota
	forkShanghai
	forkCancun
	forkPrague
	forkOsaka
)

// maxBlockNumber stands in for "any sufficiently late block" when only
// a timestamp is available, as with payload attributes: every
// block-gated fork is long active by the time the merge forks matter.
var maxBlockNumber = new(big.Int).SetUint64(math.MaxUint64)

// forkAtTime gates on timestamp alone, for inputs that carry no block
// number.
func (api *ConsensusAPI) forkAtTime(time uint64) fork {
	return api.forkAt(maxBlockNumber, time)
}

func (api *ConsensusAPI) forkAt(number *big.Int, time uint64) fork {
	switch {
	case api.config.IsOsaka(number, time):
		return forkOsaka
	case api.config.IsPrague(number, time):
		return forkPrague
	case api.config.IsCancun(number, time):
		return forkCancun
	case api.config.IsShanghai(number, time):
		return forkShanghai
	default:
		return forkParis
	}
}

func invalidParams(format string, args ...any) *coreerr.RPCError {
	return &coreerr.RPCError{Code: coreerr.CodeInvalidParams, Message: fmt.Sprintf(format, args...)}
}

func unsupportedFork(method string) *coreerr.RPCError {
	return &coreerr.RPCError{Code: coreerr.CodeUnsupportedFork, Message: method + ": timestamp outside supported fork range"}
}

// NewPayloadV1 accepts pre-Shanghai payloads only.
func (api *ConsensusAPI) NewPayloadV1(data ExecutableData) (PayloadStatusV1, error) {
	if data.Withdrawals != nil {
		return PayloadStatusV1{}, invalidParams("withdrawals not supported in V1")
	}
	if api.forkAt(new(big.Int).SetUint64(data.Number), data.Timestamp) != forkParis {
		return PayloadStatusV1{}, unsupportedFork("newPayloadV1")
	}
	return api.newPayload(data, nil, nil, nil, true)
}

// NewPayloadV2 accepts payloads up to (and including) Shanghai.
func (api *ConsensusAPI) NewPayloadV2(data ExecutableData) (PayloadStatusV1, error) {
	f := api.forkAt(new(big.Int).SetUint64(data.Number), data.Timestamp)
	switch {
	case f >= forkCancun:
		return PayloadStatusV1{}, unsupportedFork("newPayloadV2")
	case f == forkShanghai && data.Withdrawals == nil:
		return PayloadStatusV1{}, invalidParams("nil withdrawals post-shanghai")
	case f == forkParis && data.Withdrawals != nil:
		return PayloadStatusV1{}, invalidParams("withdrawals before shanghai")
	}
	return api.newPayload(data, nil, nil, nil, false)
}

// NewPayloadV3 accepts Cancun payloads only and requires the blob
// versioned hashes and parent beacon block root parameters.
func (api *ConsensusAPI) NewPayloadV3(data ExecutableData, versionedHashes []common.Hash, beaconRoot *common.Hash) (PayloadStatusV1, error) {
	if data.Withdrawals == nil {
		return PayloadStatusV1{}, invalidParams("nil withdrawals post-shanghai")
	}
	if data.ExcessBlobGas == nil || data.BlobGasUsed == nil {
		return PayloadStatusV1{}, invalidParams("nil blob gas fields post-cancun")
	}
	if versionedHashes == nil {
		return PayloadStatusV1{}, invalidParams("nil versionedHashes post-cancun")
	}
	if beaconRoot == nil {
		return PayloadStatusV1{}, invalidParams("nil parentBeaconBlockRoot post-cancun")
	}
	if api.forkAt(new(big.Int).SetUint64(data.Number), data.Timestamp) != forkCancun {
		return PayloadStatusV1{}, unsupportedFork("newPayloadV3")
	}
	return api.newPayload(data, versionedHashes, beaconRoot, nil, false)
}

// NewPayloadV4 accepts Prague payloads only and additionally requires
// the execution requests parameter.
func (api *ConsensusAPI) NewPayloadV4(data ExecutableData, versionedHashes []common.Hash, beaconRoot *common.Hash, executionRequests [][]byte) (PayloadStatusV1, error) {
	if data.Withdrawals == nil {
		return PayloadStatusV1{}, invalidParams("nil withdrawals post-shanghai")
	}
	if data.ExcessBlobGas == nil || data.BlobGasUsed == nil {
		return PayloadStatusV1{}, invalidParams("nil blob gas fields post-cancun")
	}
	if versionedHashes == nil || beaconRoot == nil {
		return PayloadStatusV1{}, invalidParams("nil cancun parameters")
	}
	if executionRequests == nil {
		return PayloadStatusV1{}, invalidParams("nil executionRequests post-prague")
	}
	if api.forkAt(new(big.Int).SetUint64(data.Number), data.Timestamp) != forkPrague {
		return PayloadStatusV1{}, unsupportedFork("newPayloadV4")
	}
	return api.newPayload(data, versionedHashes, beaconRoot, executionRequests, false)
}

// newPayload is the shared core behind every NewPayloadVx.
// legacyBlockHashStatus keeps V1's distinct INVALID_BLOCK_HASH status;
// later versions fold it into INVALID.
func (api *ConsensusAPI) newPayload(data ExecutableData, versionedHashes []common.Hash, beaconRoot *common.Hash,
	executionRequests [][]byte, legacyBlockHashStatus bool) (PayloadStatusV1, error) {
	api.newPayloadLock.Lock()
	defer api.newPayloadLock.Unlock()
	_ = executionRequests

	// Resubmission of a block already known bad short-circuits without
	// re-executing anything.
	if reason, ok := api.chain.InvalidReason(data.BlockHash); ok {
		return api.invalidStatus(data.ParentHash, reason), nil
	}

	block, err := ExecutableDataToBlock(data, versionedHashes, beaconRoot)
	if err != nil {
		status := StatusInvalid
		if legacyBlockHashStatus {
			status = StatusInvalidBlockHash
		}
		msg := err.Error()
		return PayloadStatusV1{Status: status, ValidationError: &msg}, nil
	}
	api.log.Debug("engine payload received", "number", block.NumberU64(), "hash", block.Hash())

	// Locate the parent: blocks tracked by the sync skeleton, payloads
	// remembered from prior newPayload calls, then the chain itself.
	parent := api.resolveBlock(block.ParentHash())
	if parent == nil {
		api.chain.RememberRemote(block)
		if api.sk.SetHead(block, false) {
			return PayloadStatusV1{Status: StatusSyncing}, nil
		}
		return PayloadStatusV1{Status: StatusAccepted}, nil
	}

	// Replay any unexecuted ancestors between the vm head and the
	// payload's parent, bounded so a single call cannot stall the
	// consensus client indefinitely.
	ancestors, err := api.recursivelyFindParents(block.ParentHash())
	if err != nil {
		return PayloadStatusV1{Status: StatusSyncing}, nil
	}
	if len(ancestors) > maxExecutePerCall {
		return PayloadStatusV1{Status: StatusSyncing}, nil
	}
	for _, a := range ancestors {
		if len(a.Transactions()) > maxTxsPerExecutedBlock {
			return PayloadStatusV1{Status: StatusSyncing}, nil
		}
		if api.chain.WasExecuted(a.Hash()) {
			continue
		}
		if _, err := api.engine.RunWithoutSetHead(a, vmengine.RunWithoutSetHeadOptions{Blocking: true}); err != nil {
			api.purgeInvalid(a)
			return api.invalidStatus(a.ParentHash(), err), nil
		}
	}

	if api.chain.WasExecuted(block.Hash()) {
		// Already executed through getPayload or an earlier submission;
		// make sure the block itself is stored before reporting VALID.
		if _, ok := api.chain.GetBlock(block.Hash()); !ok {
			if err := api.chain.PutBlocks([]*types.Block{block}, true, true); err != nil {
				return api.invalidStatus(block.ParentHash(), err), nil
			}
		}
		h := block.Hash()
		return PayloadStatusV1{Status: StatusValid, LatestValidHash: &h}, nil
	}
	if len(block.Transactions()) > maxTxsPerExecutedBlock {
		return PayloadStatusV1{Status: StatusSyncing}, nil
	}
	if _, err := api.engine.RunWithoutSetHead(block, vmengine.RunWithoutSetHeadOptions{Blocking: true}); err != nil {
		api.purgeInvalid(block)
		return api.invalidStatus(block.ParentHash(), err), nil
	}
	h := block.Hash()
	return PayloadStatusV1{Status: StatusValid, LatestValidHash: &h}, nil
}

// ForkchoiceUpdatedV1 serves pre-Shanghai forkchoice updates.
func (api *ConsensusAPI) ForkchoiceUpdatedV1(state ForkchoiceStateV1, attrs *PayloadAttributes) (ForkChoiceResponse, error) {
	if attrs != nil {
		if attrs.Withdrawals != nil || attrs.BeaconRoot != nil {
			return invalidFcuResponse(), invalidParams("withdrawals and beacon root not supported in V1")
		}
		if api.forkAtTime(attrs.Timestamp) != forkParis {
			return invalidFcuResponse(), unsupportedFork("forkchoiceUpdatedV1")
		}
	}
	return api.forkchoiceUpdated(state, attrs)
}

// ForkchoiceUpdatedV2 serves forkchoice updates up to Shanghai.
func (api *ConsensusAPI) ForkchoiceUpdatedV2(state ForkchoiceStateV1, attrs *PayloadAttributes) (ForkChoiceResponse, error) {
	if attrs != nil {
		switch api.forkAtTime(attrs.Timestamp) {
		case forkParis:
			if attrs.Withdrawals != nil {
				return invalidFcuResponse(), invalidParams("withdrawals before shanghai")
			}
		case forkShanghai:
			if attrs.Withdrawals == nil {
				return invalidFcuResponse(), invalidParams("missing withdrawals")
			}
		default:
			return invalidFcuResponse(), unsupportedFork("forkchoiceUpdatedV2")
		}
		if attrs.BeaconRoot != nil {
			return invalidFcuResponse(), invalidParams("unexpected beacon root")
		}
	}
	return api.forkchoiceUpdated(state, attrs)
}

// ForkchoiceUpdatedV3 serves Cancun-and-later forkchoice updates and
// requires the parent beacon block root attribute.
func (api *ConsensusAPI) ForkchoiceUpdatedV3(state ForkchoiceStateV1, attrs *PayloadAttributes) (ForkChoiceResponse, error) {
	if attrs != nil {
		if attrs.Withdrawals == nil || attrs.BeaconRoot == nil {
			return invalidFcuResponse(), invalidParams("missing withdrawals or beacon root")
		}
		if api.forkAtTime(attrs.Timestamp) < forkCancun {
			return invalidFcuResponse(), unsupportedFork("forkchoiceUpdatedV3")
		}
	}
	return api.forkchoiceUpdated(state, attrs)
}

func invalidFcuResponse() ForkChoiceResponse {
	return ForkChoiceResponse{PayloadStatus: PayloadStatusV1{Status: StatusInvalid}}
}

func (api *ConsensusAPI) forkchoiceUpdated(state ForkchoiceStateV1, attrs *PayloadAttributes) (ForkChoiceResponse, error) {
	api.forkchoiceLock.Lock()
	defer api.forkchoiceLock.Unlock()

	if state.HeadBlockHash.IsZero() {
		api.log.Warn("forkchoice requested update to zero hash")
		return invalidFcuResponse(), nil
	}
	// A finalized declaration without a safe one is structurally invalid.
	if !state.FinalizedBlockHash.IsZero() && state.SafeBlockHash.IsZero() {
		return invalidFcuResponse(), coreerr.ErrInvalidFcState
	}

	head := api.resolveBlock(state.HeadBlockHash)
	if head == nil {
		api.log.Warn("forkchoice requested unknown head", "hash", state.HeadBlockHash)
		return ForkChoiceResponse{PayloadStatus: PayloadStatusV1{Status: StatusSyncing}}, nil
	}

	api.sk.ForkchoiceUpdate(head, state.SafeBlockHash, state.FinalizedBlockHash)
	if st := api.sk.Status(); st.Status == skeleton.FillInvalid {
		var msg *string
		if st.ValidationError != nil {
			s := st.ValidationError.Error()
			msg = &s
		}
		return ForkChoiceResponse{PayloadStatus: PayloadStatusV1{Status: StatusInvalid, ValidationError: msg}}, nil
	}

	var safePtr, finalizedPtr *common.Hash
	if !state.SafeBlockHash.IsZero() {
		s := state.SafeBlockHash
		safePtr = &s
	}
	if !state.FinalizedBlockHash.IsZero() {
		f := state.FinalizedBlockHash
		finalizedPtr = &f
	}

	if head.Hash() == api.chain.VMHead() {
		// Head unchanged: only the safe/finalized pointers move.
		if safePtr != nil {
			if err := api.chain.SetIteratorHead(chainstore.IteratorSafe, *safePtr); err != nil {
				return invalidFcuResponse(), coreerr.ErrInvalidFcState
			}
		}
		if finalizedPtr != nil {
			if err := api.chain.SetIteratorHead(chainstore.IteratorFinalized, *finalizedPtr); err != nil {
				return invalidFcuResponse(), coreerr.ErrInvalidFcState
			}
		}
	} else {
		// Make the head and its unexecuted ancestry canonical.
		ancestors, err := api.recursivelyFindParents(head.ParentHash())
		if err != nil || len(ancestors) > maxExecutePerCall {
			return ForkChoiceResponse{PayloadStatus: PayloadStatusV1{Status: StatusSyncing}}, nil
		}
		for _, a := range ancestors {
			if len(a.Transactions()) > maxTxsPerExecutedBlock {
				return ForkChoiceResponse{PayloadStatus: PayloadStatusV1{Status: StatusSyncing}}, nil
			}
			if api.chain.WasExecuted(a.Hash()) {
				continue
			}
			if _, err := api.engine.RunWithoutSetHead(a, vmengine.RunWithoutSetHeadOptions{Blocking: true}); err != nil {
				api.purgeInvalid(a)
				return ForkChoiceResponse{PayloadStatus: api.invalidStatus(a.ParentHash(), err)}, nil
			}
		}
		if !api.chain.WasExecuted(head.Hash()) {
			if len(head.Transactions()) > maxTxsPerExecutedBlock {
				return ForkChoiceResponse{PayloadStatus: PayloadStatusV1{Status: StatusSyncing}}, nil
			}
			if _, err := api.engine.RunWithoutSetHead(head, vmengine.RunWithoutSetHeadOptions{Blocking: true}); err != nil {
				api.purgeInvalid(head)
				return ForkChoiceResponse{PayloadStatus: api.invalidStatus(head.ParentHash(), err)}, nil
			}
		}

		setBlocks := append(ancestors, head)
		if err := api.engine.SetHead(setBlocks, safePtr, finalizedPtr); err != nil {
			return invalidFcuResponse(), err
		}

		// The pool is synchronized with the new head: strip included
		// transactions and re-partition the rest against the fresh state.
		api.pool.RemoveNewBlockTxs(setBlocks)
		api.pool.DemoteUnexecutables()
		api.pool.PromoteExecutables()
	}
	api.merger.FinalizePoS()

	headHash := head.Hash()
	resp := ForkChoiceResponse{PayloadStatus: PayloadStatusV1{Status: StatusValid, LatestValidHash: &headHash}}

	if attrs != nil {
		if attrs.Timestamp <= head.Time() {
			return invalidFcuResponse(), coreerr.ErrInvalidAttr
		}
		id, err := api.builder.Start(headHash, miner.BuildAttributes{
			Timestamp:             attrs.Timestamp,
			Random:                attrs.Random,
			SuggestedFeeRecipient: attrs.SuggestedFeeRecipient,
			Withdrawals:           attrs.Withdrawals,
			ParentBeaconBlockRoot: attrs.BeaconRoot,
		}, head.GasLimit(), attrs.SuggestedFeeRecipient)
		if err != nil {
			return invalidFcuResponse(), coreerr.ErrInvalidAttr
		}
		resp.PayloadID = &id
	}
	return resp, nil
}

// GetPayloadV1 returns the bare payload of a pre-Shanghai build.
func (api *ConsensusAPI) GetPayloadV1(id miner.PayloadID) (*ExecutableData, error) {
	env, err := api.getPayload(id, forkParis, forkParis)
	if err != nil {
		return nil, err
	}
	return env.ExecutionPayload, nil
}

// GetPayloadV2 adds the block value; it covers Paris and Shanghai builds.
func (api *ConsensusAPI) GetPayloadV2(id miner.PayloadID) (*ExecutionPayloadEnvelope, error) {
	return api.getPayload(id, forkParis, forkShanghai)
}

// GetPayloadV3 adds the blobs bundle; Cancun builds only.
func (api *ConsensusAPI) GetPayloadV3(id miner.PayloadID) (*ExecutionPayloadEnvelope, error) {
	return api.getPayload(id, forkCancun, forkCancun)
}

// GetPayloadV4 adds the execution requests; Prague builds only.
func (api *ConsensusAPI) GetPayloadV4(id miner.PayloadID) (*ExecutionPayloadEnvelope, error) {
	return api.getPayload(id, forkPrague, forkPrague)
}

// GetPayloadV5 serves Osaka builds.
func (api *ConsensusAPI) GetPayloadV5(id miner.PayloadID) (*ExecutionPayloadEnvelope, error) {
	return api.getPayload(id, forkOsaka, forkOsaka)
}

func (api *ConsensusAPI) getPayload(id miner.PayloadID, minFork, maxFork fork) (*ExecutionPayloadEnvelope, error) {
	// Pick up any transactions that arrived since the build started,
	// then freeze the best block seen so far.
	if err := api.builder.Build(id); err != nil {
		return nil, coreerr.ErrUnknownPayload
	}
	payload, err := api.builder.Resolve(id)
	if err != nil {
		return nil, coreerr.ErrUnknownPayload
	}
	block := payload.Block
	if f := api.forkAt(block.Number(), block.Time()); f < minFork || f > maxFork {
		return nil, unsupportedFork("getPayload")
	}

	// Seed the state and receipts under the new hash without touching
	// the canonical pointers, so an immediate newPayload for this block
	// is a cache hit.
	if _, err := api.engine.RunWithoutSetHead(block, vmengine.RunWithoutSetHeadOptions{
		Receipts:       payload.Receipts,
		Blocking:       true,
		SkipBlockchain: true,
	}); err != nil {
		return nil, err
	}
	api.chain.RememberRemote(block)
	api.builder.Stop(id)

	var requests [][]byte
	if api.forkAt(block.Number(), block.Time()) >= forkPrague {
		requests = [][]byte{}
	}
	return BlockToExecutableData(block, payload.Fees, payload.Sidecars, requests), nil
}

// ExchangeCapabilities answers the method-discovery handshake with the
// verbs this API serves.
func (api *ConsensusAPI) ExchangeCapabilities([]string) []string {
	return []string{
		"engine_newPayloadV1", "engine_newPayloadV2", "engine_newPayloadV3", "engine_newPayloadV4",
		"engine_forkchoiceUpdatedV1", "engine_forkchoiceUpdatedV2", "engine_forkchoiceUpdatedV3",
		"engine_getPayloadV1", "engine_getPayloadV2", "engine_getPayloadV3", "engine_getPayloadV4", "engine_getPayloadV5",
	}
}

// resolveBlock looks a hash up across the three places a referenced
// block can live: the sync skeleton, the remote-payload cache, and the
// chain store.
func (api *ConsensusAPI) resolveBlock(hash common.Hash) *types.Block {
	if b, ok := api.sk.GetBlockByHash(hash); ok {
		return b
	}
	if b, ok := api.chain.GetRemote(hash); ok {
		return b
	}
	if b, ok := api.chain.GetBlock(hash); ok {
		return b
	}
	return nil
}

// recursivelyFindParents collects the chain segment from parentHash back
// towards the vm head, ascending, ending at parentHash itself. The walk
// stops at the first block whose parent is the vm head or already
// executed, so only the block at parentHash may itself be executed. An
// empty result means parentHash is the vm head.
func (api *ConsensusAPI) recursivelyFindParents(parentHash common.Hash) ([]*types.Block, error) {
	vmHead := api.chain.VMHead()
	if parentHash == vmHead {
		return nil, nil
	}
	var chain []*types.Block
	h := parentHash
	for depth := 0; depth < maxAncestorWalk; depth++ {
		b := api.resolveBlock(h)
		if b == nil {
			return nil, fmt.Errorf("engineapi: missing ancestor %s", h)
		}
		chain = append([]*types.Block{b}, chain...)
		if b.ParentHash() == vmHead {
			return chain, nil
		}
		if api.chain.WasExecuted(b.ParentHash()) {
			return chain, nil
		}
		h = b.ParentHash()
	}
	return nil, fmt.Errorf("engineapi: ancestor walk exceeded %d blocks", maxAncestorWalk)
}

// invalidStatus builds the INVALID response, resolving latestValidHash
// to the deepest canonical ancestor known valid, or all-zero when none
// is.
func (api *ConsensusAPI) invalidStatus(parentHash common.Hash, cause error) PayloadStatusV1 {
	valid := api.validHash(parentHash)
	var msg *string
	if cause != nil {
		s := cause.Error()
		msg = &s
	}
	return PayloadStatusV1{Status: StatusInvalid, LatestValidHash: valid, ValidationError: msg}
}

// validHash walks up from hash to the nearest executed canonical block,
// returning the zero hash when nothing on the path is known valid.
func (api *ConsensusAPI) validHash(hash common.Hash) *common.Hash {
	h := hash
	for depth := 0; depth < maxAncestorWalk; depth++ {
		if api.chain.WasExecuted(h) {
			out := h
			return &out
		}
		hdr, ok := api.chain.GetHeader(h)
		if !ok {
			break
		}
		if hdr.NumberU64() == 0 {
			out := h
			return &out
		}
		h = hdr.ParentHash
	}
	zero := common.Hash{}
	return &zero
}

// purgeInvalid records a failed block and removes it from every place a
// resubmission could be served from.
func (api *ConsensusAPI) purgeInvalid(block *types.Block) {
	api.sk.DeleteBlock(block.Hash())
	api.chain.DelBlock(block.Hash())
}
