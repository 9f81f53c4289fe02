package registry

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/pilab-dev/biolock/domain"
)

// HashToken hashes a token so the expired set never holds raw token values.
func HashToken(token domain.Token) string {
	hasher := sha256.New()
	hasher.Write([]byte(token))
	return hex.EncodeToString(hasher.Sum(nil))
}
