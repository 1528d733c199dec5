package user

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
)

var codeRange = big.NewInt(900000)

// newCode returns a six digit code and its hash.
func newCode() (plain, hash string, err error) {
	n, err := rand.Int(rand.Reader, codeRange)
	if err != nil {
		return "", "", fmt.Errorf("generate code: %w", err)
	}
	plain = fmt.Sprintf("%06d", n.Int64()+100000)
	return plain, hashCode(plain), nil
}

func hashCode(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

func (c *Code) matches(plain string) bool {
	if c == nil || c.Hash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.Hash), []byte(hashCode(plain))) == 1
}

func (c *Code) expired(now time.Time) bool {
	return c == nil || !now.Before(c.ExpiresAt)
}
