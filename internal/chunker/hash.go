package chunker

import (
	"crypto/md5"
	"encoding/hex"
)

// HashContent returns the lower-case hex MD5 digest of content. Per spec
// 4.C, cryptographic strength is not required here — equality of hashes
// is the sole criterion for "file unchanged".
func HashContent(content []byte) string {
	sum := md5.Sum(content)
	return hex.EncodeToString(sum[:])
}
