package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Key derives a stable cache key from an ordered argument list. The key
// depends only on the JSON encoding of the arguments, not on call-site
// formatting.
func Key(parts ...any) string {
	data, err := json.Marshal(parts)
	if err != nil {
		// fall back to the fmt rendering; still deterministic for the
		// argument types used as cache keys here
		data = []byte(fmt.Sprint(parts...))
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
