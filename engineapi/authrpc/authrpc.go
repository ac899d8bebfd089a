// Package authrpc implements the authentication boundary of the engine
// endpoint: an HS256 JWT per request, signed with a shared 32-byte
// secret, whose issued-at claim must sit within a minute of wall clock.
package authrpc

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/ethcore/execution-core/coreerr"
	"github.com/ethcore/execution-core/log"
)

// SecretLength is the required byte length of the shared JWT secret.
const SecretLength = 32

// iatTolerance is how far an iat claim may drift from local wall clock
// in either direction.
const iatTolerance = 60 * time.Second

var ErrInvalidSecretLength = fmt.Errorf("jwt secret must be %d bytes (%d hex chars)", SecretLength, SecretLength*2)

// LoadOrGenerateSecret reads the hex-encoded secret from path, accepting
// an optional 0x prefix and trimming surrounding whitespace. If the file
// does not exist, a fresh random secret is generated and written there.
func LoadOrGenerateSecret(path string, logger *log.Logger) ([SecretLength]byte, error) {
	var secret [SecretLength]byte
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		s := strings.TrimSpace(string(data))
		s = strings.TrimPrefix(s, "0x")
		s = strings.TrimPrefix(s, "0X")
		raw, err := hex.DecodeString(s)
		if err != nil {
			return secret, fmt.Errorf("decode jwt secret: %w", err)
		}
		if len(raw) != SecretLength {
			return secret, ErrInvalidSecretLength
		}
		copy(secret[:], raw)
		return secret, nil
	case errors.Is(err, os.ErrNotExist):
		if _, err := rand.Read(secret[:]); err != nil {
			return secret, fmt.Errorf("generate jwt secret: %w", err)
		}
		if err := os.WriteFile(path, []byte("0x"+hex.EncodeToString(secret[:])+"\n"), 0600); err != nil {
			return secret, fmt.Errorf("persist jwt secret: %w", err)
		}
		logger.Info("generated new jwt secret", "path", path)
		return secret, nil
	default:
		return secret, fmt.Errorf("read jwt secret: %w", err)
	}
}

// Validate checks one compact JWT against the secret: HS256 only, and an
// iat claim within iatTolerance of now.
func Validate(token string, secret [SecretLength]byte, now time.Time) error {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}), jwt.WithoutClaimsValidation())
	if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret[:], nil
	}); err != nil {
		return fmt.Errorf("invalid token: %w", err)
	}
	iat, ok := claims["iat"]
	if !ok {
		return errors.New("missing iat claim")
	}
	issued, ok := iat.(float64)
	if !ok {
		return errors.New("malformed iat claim")
	}
	drift := now.Sub(time.Unix(int64(issued), 0))
	if drift < 0 {
		drift = -drift
	}
	if drift > iatTolerance {
		return fmt.Errorf("stale token: iat drift %s", drift)
	}
	return nil
}

// Handler wraps inner so every request must carry a valid bearer token;
// failures are refused with the JSON-RPC auth error code.
func Handler(secret [SecretLength]byte, inner http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok {
			refuse(w, "missing bearer token")
			return
		}
		if err := Validate(token, secret, time.Now()); err != nil {
			logger.Debug("engine auth refused", "err", err)
			refuse(w, err.Error())
			return
		}
		inner.ServeHTTP(w, r)
	})
}

func refuse(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, `{"jsonrpc":"2.0","id":null,"error":{"code":%d,"message":%q}}`, coreerr.CodeInvalidPayloadAttribute, msg)
}
