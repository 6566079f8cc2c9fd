package store

import (
	"crypto/rand"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/ktra-go/registry/internal/domain/regerr"
)

const (
	saltAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	saltLength   = 32

	argon2Time   = 1
	argon2Memory = 64 * 1024
	argon2Lanes  = 4
	argon2KeyLen = 32
)

// HashPassword argon2id-hashes password under a fresh random
// alphanumeric salt and returns the "<salt>$<hex digest>" encoding
// every backend stores.
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", regerr.WrapIO(err)
	}

	for i, b := range salt {
		salt[i] = saltAlphabet[int(b)%len(saltAlphabet)]
	}

	sum := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Lanes, argon2KeyLen)

	return fmt.Sprintf("%s$%x", salt, sum), nil
}

// VerifyEncodedPassword reports whether password hashes (under the
// salt embedded in encoded) to the digest embedded in encoded.
func VerifyEncodedPassword(encoded, password string) (bool, error) {
	salt, hexSum, ok := strings.Cut(encoded, "$")
	if !ok {
		return false, regerr.WrapArgon2(fmt.Errorf("malformed encoded password"))
	}

	sum := argon2.IDKey([]byte(password), []byte(salt), argon2Time, argon2Memory, argon2Lanes, argon2KeyLen)

	return fmt.Sprintf("%x", sum) == hexSum, nil
}
