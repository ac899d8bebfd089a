package common

// BloomByteLength is the number of bytes in a standard Ethereum logs
// bloom filter (2048 bits).
const BloomByteLength = 256

// Bloom represents a 2048 bit bloom filter.
type Bloom [BloomByteLength]byte

func BytesToBloom(b []byte) Bloom {
	var bl Bloom
	if len(b) > BloomByteLength {
		b = b[len(b)-BloomByteLength:]
	}
	copy(bl[BloomByteLength-len(b):], b)
	return bl
}

func (b Bloom) Bytes() []byte { return b[:] }
