package curriculum

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
)

// HashManifestBytes returns the 32-bit FNV-1a fingerprint of a serialized manifest as 8 lowercase
// hex characters. It detects change; it is not an integrity check.
func HashManifestBytes(serialized []byte) string {
	hasher := fnv.New32a()
	_, _ = hasher.Write(serialized)
	return fmt.Sprintf("%08x", hasher.Sum32())
}

// HashManifest serializes the manifest with its canonical JSON encoding and fingerprints it.
func HashManifest(manifest Manifest) (string, error) {
	serialized, err := json.Marshal(manifest)
	if err != nil {
		return "", err
	}
	return HashManifestBytes(serialized), nil
}
