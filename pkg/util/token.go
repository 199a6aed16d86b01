package util

import (
	"crypto/rand"
	"encoding/hex"
)

// GenerateToken mints an opaque capability token. Tokens carry no claims;
// the HTTP layer resolves them against its in-memory session store.
func GenerateToken() string {
	b := make([]byte, 24)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
