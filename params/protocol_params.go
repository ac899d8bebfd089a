package params

const (
	// TxGas is the per-transaction intrinsic gas cost for value transfers with no data.
	TxGas uint64 = 21000
	// TxGasContractCreation is the per-transaction intrinsic gas cost for contract creation.
	TxGasContractCreation uint64 = 53000

	// MaximumExtraDataSize is the maximum size extra data may be after Genesis.
	MaximumExtraDataSize uint64 = 32

	// ElasticityMultiplier bounds the maximum gas limit an EIP-1559 block may have.
	ElasticityMultiplier uint64 = 2
	// BaseFeeChangeDenominator bounds the amount the base fee can change between blocks.
	BaseFeeChangeDenominator uint64 = 8
	// InitialBaseFee is the base fee used in the first EIP-1559 block.
	InitialBaseFee uint64 = 1000000000

	// BlobTxBlobGasPerBlob is the fixed amount of blob gas consumed per blob.
	BlobTxBlobGasPerBlob uint64 = 1 << 17
	// BlobTxMinBlobGasprice is the floor price for the blob gas, used by the EIP-4844 pricing function.
	BlobTxMinBlobGasprice uint64 = 1
	// BlobTxBlobGaspriceUpdateFraction controls the rate of the blob base-fee adjustment.
	BlobTxBlobGaspriceUpdateFraction uint64 = 3338477

	// GenesisGasLimit is the default gas limit of the genesis block.
	GenesisGasLimit uint64 = 30_000_000

	// Ether is the number of wei in one ether.
	Ether uint64 = 1_000_000_000_000_000_000
)

// Per-fork maximum blob gas per block for EIP-4844 (6 and 9 blobs of
// BlobTxBlobGasPerBlob each), named by fork. ChainConfig has no field to
// override them, so these mainnet values always apply.
const (
	CancunMaxBlobGasPerBlock = 6 * BlobTxBlobGasPerBlob
	PragueMaxBlobGasPerBlock = 9 * BlobTxBlobGasPerBlob
)
