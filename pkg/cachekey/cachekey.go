// Package cachekey builds deterministic cache keys from argument tuples, the
// way Store's read paths (get_tracebacks, get_matching_tracebacks,
// get_matching_tickets) are cached by their full argument tuple per
// spec.md §4.7/§4.13.
package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Build returns a stable hex digest for the given ordered arguments. Equal
// argument sequences (same values, same order) always produce the same key;
// differing values or order produce a different one.
func Build(prefix string, args ...any) string {
	h := sha256.New()
	_, _ = h.Write([]byte(prefix))
	_, _ = h.Write([]byte{0})
	for _, a := range args {
		_, _ = h.Write([]byte(fmt.Sprintf("%#v", a)))
		_, _ = h.Write([]byte{0x1f})
	}
	return hex.EncodeToString(h.Sum(nil))
}
