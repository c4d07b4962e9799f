package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword produces a bcrypt hash suitable for storing in an account record.
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPassword compares a presented password with the stored value. Stored
// values may be bcrypt hashes or plaintext.
func CheckPassword(presented, stored string) bool {
	if stored == "" {
		return false
	}
	if isBcrypt(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(presented)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(stored)) == 1
}

func isBcrypt(s string) bool {
	return len(s) == 60 && strings.HasPrefix(s, "$2")
}

// HashFingerprint returns the hex SHA-256 of a device fingerprint. Only this
// hash ever leaves the server inside a session.
func HashFingerprint(hwid string) string {
	hash := sha256.Sum256([]byte(hwid))
	return hex.EncodeToString(hash[:])
}
