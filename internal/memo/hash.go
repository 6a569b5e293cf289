package memo

import (
	"encoding/hex"
	"io"
	"os"
	"sync"

	"golang.org/x/crypto/sha3"
)

// hashKey identifies a file state. A file whose path, mtime and size are
// unchanged is assumed to have unchanged content within one invocation.
type hashKey struct {
	path  string
	mtime int64
	size  int64
}

// Hasher computes SHA3-512 content hashes with a per-invocation cache,
// so a value-tracked file consumed by many rules is read once. Safe for
// concurrent use.
type Hasher struct {
	mu    sync.Mutex
	cache map[hashKey]string
}

// NewHasher returns an empty Hasher.
func NewHasher() *Hasher {
	return &Hasher{cache: make(map[hashKey]string)}
}

// Sum returns the hex-encoded content hash of the file at path.
func (h *Hasher) Sum(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	key := hashKey{path: path, mtime: info.ModTime().UnixNano(), size: info.Size()}

	h.mu.Lock()
	sum, ok := h.cache[key]
	h.mu.Unlock()
	if ok {
		return sum, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	digest := sha3.New512()
	if _, err := io.Copy(digest, f); err != nil {
		return "", err
	}
	sum = hex.EncodeToString(digest.Sum(nil))

	h.mu.Lock()
	h.cache[key] = sum
	h.mu.Unlock()
	return sum, nil
}
