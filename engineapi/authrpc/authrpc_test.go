package authrpc_test

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/ethcore/execution-core/engineapi/authrpc"
	"github.com/ethcore/execution-core/log"
)

func makeToken(t *testing.T, secret [authrpc.SecretLength]byte, iat time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"iat": iat.Unix()})
	signed, err := token.SignedString(secret[:])
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestValidateAcceptsFreshToken(t *testing.T) {
	var secret [authrpc.SecretLength]byte
	secret[0] = 0xaa

	now := time.Now()
	if err := authrpc.Validate(makeToken(t, secret, now), secret, now); err != nil {
		t.Fatalf("fresh token rejected: %v", err)
	}
}

func TestValidateRejectsStaleToken(t *testing.T) {
	var secret [authrpc.SecretLength]byte
	now := time.Now()
	if err := authrpc.Validate(makeToken(t, secret, now.Add(-5*time.Minute)), secret, now); err == nil {
		t.Fatalf("expected stale iat to be rejected")
	}
	if err := authrpc.Validate(makeToken(t, secret, now.Add(5*time.Minute)), secret, now); err == nil {
		t.Fatalf("expected future iat to be rejected")
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	var good, bad [authrpc.SecretLength]byte
	bad[0] = 1
	now := time.Now()
	if err := authrpc.Validate(makeToken(t, bad, now), good, now); err == nil {
		t.Fatalf("expected wrong-secret token to be rejected")
	}
}

func TestHandlerRefusesWithoutToken(t *testing.T) {
	var secret [authrpc.SecretLength]byte
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	h := authrpc.Handler(secret, inner, log.Discard())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+makeToken(t, secret, time.Now()))
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d", rec.Code)
	}
}

func TestLoadOrGenerateSecretRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jwt.hex")

	generated, err := authrpc.LoadOrGenerateSecret(path, log.Discard())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	loaded, err := authrpc.LoadOrGenerateSecret(path, log.Discard())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if generated != loaded {
		t.Fatalf("reloaded secret differs from generated one")
	}
}

func TestLoadSecretAcceptsBarePrefixAndWhitespace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jwt.hex")
	if err := os.WriteFile(path, []byte("  0xnothex"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := authrpc.LoadOrGenerateSecret(path, log.Discard()); err == nil {
		t.Fatalf("expected malformed secret to be rejected")
	}

	if err := os.WriteFile(path, []byte("1111111111111111111111111111111111111111111111111111111111111111\n"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	secret, err := authrpc.LoadOrGenerateSecret(path, log.Discard())
	if err != nil {
		t.Fatalf("load bare hex: %v", err)
	}
	if secret[0] != 0x11 {
		t.Fatalf("decoded secret wrong: %x", secret[0])
	}
}
