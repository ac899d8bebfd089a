package types_test

import (
	"math/big"
	"testing"

	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/ethcore/execution-core/common"
	"github.com/ethcore/execution-core/core/types"
	"github.com/ethcore/execution-core/params"
)

func testSigner() types.Signer {
	cfg := &params.ChainConfig{ChainID: big.NewInt(1337), LondonBlock: big.NewInt(0)}
	return types.MakeSigner(cfg, big.NewInt(0), 0)
}

// signTx signs tx with key and returns the signed copy, going through
// the same SignatureValues path a wallet would.
func signTx(t *testing.T, signer types.Signer, tx *types.Transaction, key *secp256k1.PrivateKey) *types.Transaction {
	t.Helper()
	sighash := signer.Hash(tx)
	compact := secpecdsa.SignCompact(key, sighash[:], false)

	// Compact layout is [recovery header, r, s]; SignatureValues expects
	// [r, s, recid].
	sig := make([]byte, 65)
	copy(sig[:64], compact[1:])
	sig[64] = compact[0] - 27

	signed, err := tx.WithSignature(signer, sig)
	if err != nil {
		t.Fatalf("with signature: %v", err)
	}
	return signed
}

func TestSenderRecoversSignedLegacyTx(t *testing.T) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	want := types.PubkeyToAddress(key.PubKey())

	signer := testSigner()
	to := common.HexToAddress("0xb0b")
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    1,
		GasPrice: big.NewInt(1_000_000_000),
		Gas:      21000,
		To:       &to,
		Value:    big.NewInt(42),
	})
	signed := signTx(t, signer, tx, key)

	got, err := types.Sender(signer, signed)
	if err != nil {
		t.Fatalf("sender: %v", err)
	}
	if got != want {
		t.Fatalf("recovered sender = %s, want %s", got, want)
	}

	// The recovery result is cached on the transaction.
	cached, err := signed.Sender()
	if err != nil || cached != want {
		t.Fatalf("cached sender = %s (%v), want %s", cached, err, want)
	}
}

func TestSenderRecoversSignedDynamicFeeTx(t *testing.T) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	want := types.PubkeyToAddress(key.PubKey())

	signer := testSigner()
	to := common.HexToAddress("0xb0b")
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(1337),
		Nonce:     0,
		GasTipCap: big.NewInt(1_000_000_000),
		GasFeeCap: big.NewInt(2_000_000_000),
		Gas:       21000,
		To:        &to,
		Value:     big.NewInt(1),
	})
	signed := signTx(t, signer, tx, key)

	got, err := types.Sender(signer, signed)
	if err != nil {
		t.Fatalf("sender: %v", err)
	}
	if got != want {
		t.Fatalf("recovered sender = %s, want %s", got, want)
	}
}

func TestSenderRejectsWrongChainID(t *testing.T) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer := testSigner()
	to := common.HexToAddress("0xb0b")
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(9999),
		Nonce:     0,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(2),
		Gas:       21000,
		To:        &to,
		Value:     big.NewInt(1),
	})
	// Sign against a foreign-chain signer, then try to recover with ours.
	foreign := types.MakeSigner(&params.ChainConfig{ChainID: big.NewInt(9999)}, big.NewInt(0), 0)
	signed := signTx(t, foreign, tx, key)

	if _, err := signer.Sender(signed); err != types.ErrInvalidChainID {
		t.Fatalf("expected chain id mismatch, got %v", err)
	}
}

func TestSenderRejectsGarbageSignature(t *testing.T) {
	signer := testSigner()
	to := common.HexToAddress("0xb0b")
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    0,
		GasPrice: big.NewInt(1),
		Gas:      21000,
		To:       &to,
		Value:    big.NewInt(1),
		V:        big.NewInt(27),
		R:        new(big.Int),
		S:        big.NewInt(1),
	})
	if _, err := signer.Sender(tx); err != types.ErrInvalidSig {
		t.Fatalf("expected invalid signature error, got %v", err)
	}
}
