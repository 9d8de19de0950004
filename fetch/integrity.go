package fetch

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
)

// IntegrityError reports a checksum mismatch on downloaded content. It is
// fatal for the fetch: nothing is unpacked and the fetch is never retried
// automatically.
type IntegrityError struct {
	URL      string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for %s: expected %s, got %s", e.URL, e.Expected, e.Actual)
}

// digest incrementally computes a content checksum. The algorithm is chosen
// from the shape of the declared checksum: an SRI prefix ("sha1-", "sha256-",
// "sha512-") selects that algorithm with base64 output, a 64- or 128-char
// hex string selects sha256/sha512 hex, and anything else (including no
// declared checksum) gets a hex sha1, the registry shasum convention.
type digest struct {
	prefix string // SRI prefix, "" for hex output
	hash   hash.Hash
}

func newDigest(expected string) *digest {
	switch {
	case strings.HasPrefix(expected, "sha512-"):
		return &digest{prefix: "sha512-", hash: sha512.New()}
	case strings.HasPrefix(expected, "sha256-"):
		return &digest{prefix: "sha256-", hash: sha256.New()}
	case strings.HasPrefix(expected, "sha1-"):
		return &digest{prefix: "sha1-", hash: sha1.New()}
	case len(expected) == 2*sha256.Size && isHex(expected):
		return &digest{hash: sha256.New()}
	case len(expected) == 2*sha512.Size && isHex(expected):
		return &digest{hash: sha512.New()}
	default:
		return &digest{hash: sha1.New()}
	}
}

func (d *digest) Write(p []byte) (int, error) {
	return d.hash.Write(p)
}

// Sum returns the checksum in the same shape the expected value used.
func (d *digest) Sum() string {
	raw := d.hash.Sum(nil)
	if d.prefix != "" {
		return d.prefix + base64.StdEncoding.EncodeToString(raw)
	}
	return hex.EncodeToString(raw)
}

func isHex(s string) bool {
	_, err := hex.DecodeString(s)
	return err == nil
}
