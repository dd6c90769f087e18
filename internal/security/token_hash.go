package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// HashProofToken returns the hex SHA-256 of a proof token. The attempt ledger stores
// this instead of the token itself.
func HashProofToken(token string) string {
	if token == "" {
		return ""
	}
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// ProofTokenMatches compares a presented token with a stored hash in constant time.
func ProofTokenMatches(presented, storedHash string) bool {
	if presented == "" || storedHash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashProofToken(presented)), []byte(storedHash)) == 1
}
