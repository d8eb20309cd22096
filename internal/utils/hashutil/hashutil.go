package hashutil

import (
	"encoding/hex"

	"lukechampine.com/blake3"
)

// Blake3Hash returns the hex encoded 256 bit blake3 digest of the
// concatenated parts.
func Blake3Hash(parts ...[]byte) string {
	hasher := blake3.New(32, nil)
	for _, part := range parts {
		hasher.Write(part)
	}

	return hex.EncodeToString(hasher.Sum(nil))
}
