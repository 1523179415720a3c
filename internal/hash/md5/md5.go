// Package md5 computes the content fingerprints used to deduplicate opportunities.
package md5

import (
	"crypto/md5" //nolint:gosec // fingerprint, not a security boundary
	"encoding/hex"
)

// Fingerprint is the uniqueness key of an opportunity: the digest of title,
// description, and source URL concatenated without separators.
func Fingerprint(title, description, sourceURL string) string {
	buf := make([]byte, 0, len(title)+len(description)+len(sourceURL))
	buf = append(buf, title...)
	buf = append(buf, description...)
	buf = append(buf, sourceURL...)
	sum := md5.Sum(buf) //nolint:gosec // see import
	return hex.EncodeToString(sum[:])
}
