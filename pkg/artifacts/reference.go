package artifacts

import "strings"

// Content identifiers start with "Qm" (CIDv0) or "bafy" (CIDv1 base32 dag-pb).
var contentIDPrefixes = []string{"Qm", "bafy"}

// NormalizeReference turns an ipfs:// URI or a metadata path into a bare CID.
func NormalizeReference(ref string) string {
	ref = strings.TrimSpace(ref)
	ref = strings.TrimPrefix(ref, "ipfs://")
	ref = strings.TrimSuffix(ref, "/metadata.json")
	ref = strings.TrimSuffix(ref, "/metadata")
	return strings.TrimSpace(ref)
}

// IsContentID reports whether s starts like a content identifier. This is a
// prefix check: plaintext that happens to start with "Qm" matches too.
func IsContentID(s string) bool {
	for _, p := range contentIDPrefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
