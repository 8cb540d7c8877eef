// Package adminauth guards the reference HTTP driver's rule-registration and
// bookmark-binding endpoints with a single hashed admin token, scoped to one
// token rather than a full identity/role store.
package adminauth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
)

// ErrInvalidToken is returned when a presented token does not match the
// configured admin token hash.
var ErrInvalidToken = errors.New("adminauth: invalid token")

// ErrUnknownHashType is returned when a stored hash has an unrecognized format.
var ErrUnknownHashType = errors.New("adminauth: unknown hash type")

// argon2idParams follows OWASP's minimum recommendation for interactive
// logins: 46 MiB memory, 1 iteration, 1 degree of parallelism.
var argon2idParams = &argon2id.Params{
	Memory:      46 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashToken returns the SHA-256 hex hash of a raw admin token, for operators
// who provision the token hash directly in a config file.
func HashToken(rawToken string) string {
	sum := sha256.Sum256([]byte(rawToken))
	return hex.EncodeToString(sum[:])
}

// HashTokenArgon2id returns an Argon2id PHC-formatted hash of rawToken, the
// preferred format for newly generated tokens (see cmd/hookengine hash-key).
func HashTokenArgon2id(rawToken string) (string, error) {
	return argon2id.CreateHash(rawToken, argon2idParams)
}

// Verify checks rawToken against storedHash, which may be either an
// Argon2id PHC string or a bare/sha256-prefixed SHA-256 hex digest.
func Verify(rawToken, storedHash string) (bool, error) {
	switch detectHashType(storedHash) {
	case "argon2id":
		return safeArgon2idCompare(rawToken, storedHash)
	case "sha256":
		expected := strings.TrimPrefix(storedHash, "sha256:")
		got := HashToken(rawToken)
		return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1, nil
	default:
		return false, ErrUnknownHashType
	}
}

// Checker authenticates admin requests against one configured token hash.
type Checker struct {
	storedHash string
}

// NewChecker constructs a Checker bound to storedHash (from config).
func NewChecker(storedHash string) *Checker {
	return &Checker{storedHash: storedHash}
}

// Authenticate returns ErrInvalidToken if rawToken does not match the
// configured hash.
func (c *Checker) Authenticate(rawToken string) error {
	if rawToken == "" {
		return ErrInvalidToken
	}
	ok, err := Verify(rawToken, c.storedHash)
	if err != nil {
		return fmt.Errorf("adminauth: %w", err)
	}
	if !ok {
		return ErrInvalidToken
	}
	return nil
}

func detectHashType(storedHash string) string {
	if strings.HasPrefix(storedHash, "$argon2id$") {
		return "argon2id"
	}
	if strings.HasPrefix(storedHash, "sha256:") {
		return "sha256"
	}
	if len(storedHash) == 64 && isHexString(storedHash) {
		return "sha256"
	}
	return "unknown"
}

func isHexString(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// safeArgon2idCompare wraps argon2id.ComparePasswordAndHash with panic
// recovery: the underlying library panics on malformed parameter strings.
func safeArgon2idCompare(rawToken, storedHash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(rawToken, storedHash)
}
