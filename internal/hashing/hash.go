// Package hashing computes the content hashes that identify every emitted
// artifact. A hash is a cryptographic digest rendered as lowercase hex and
// truncated to a fixed length.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// Algorithm names a supported digest.
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	BLAKE3 Algorithm = "blake3"
)

const (
	// DefaultLength is the number of hex characters kept from a digest.
	DefaultLength = 15
	// MinLength and MaxLength bound configurable truncation.
	MinLength = 8
	MaxLength = 64
)

// Calculator hashes byte buffers. The zero value is not usable; use New or
// Default.
type Calculator struct {
	algorithm Algorithm
	length    int
}

// New returns a calculator for algorithm truncated to length hex characters.
func New(algorithm Algorithm, length int) (*Calculator, error) {
	switch algorithm {
	case SHA256, BLAKE3:
	case "":
		algorithm = SHA256
	default:
		return nil, fmt.Errorf("unknown hash algorithm %q", algorithm)
	}
	if length == 0 {
		length = DefaultLength
	}
	if length < MinLength || length > MaxLength {
		return nil, fmt.Errorf("hash length %d outside [%d, %d]", length, MinLength, MaxLength)
	}
	return &Calculator{algorithm: algorithm, length: length}, nil
}

// Default returns the sha256/15 calculator.
func Default() *Calculator {
	return &Calculator{algorithm: SHA256, length: DefaultLength}
}

// Algorithm returns the digest in use.
func (c *Calculator) Algorithm() Algorithm {
	return c.algorithm
}

// Length returns the number of hex characters in every hash.
func (c *Calculator) Length() int {
	return c.length
}

func (c *Calculator) newHash() hash.Hash {
	if c.algorithm == BLAKE3 {
		return blake3.New()
	}
	return sha256.New()
}

// Hash returns the truncated hex digest of content.
func (c *Calculator) Hash(content []byte) string {
	h := c.newHash()
	h.Write(content)
	return c.format(h.Sum(nil))
}

// HashString is Hash for text buffers.
func (c *Calculator) HashString(content string) string {
	h := c.newHash()
	_, _ = io.WriteString(h, content)
	return c.format(h.Sum(nil))
}

// HashFile streams the file at path through the digest.
func (c *Calculator) HashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer file.Close()

	h := c.newHash()
	if _, err := io.Copy(h, file); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return c.format(h.Sum(nil)), nil
}

// Matches reports whether hash has the shape this calculator produces.
func (c *Calculator) Matches(hash string) bool {
	if len(hash) != c.length {
		return false
	}
	for i := 0; i < len(hash); i++ {
		ch := hash[i]
		if !(ch >= '0' && ch <= '9' || ch >= 'a' && ch <= 'f') {
			return false
		}
	}
	return true
}

func (c *Calculator) format(sum []byte) string {
	full := hex.EncodeToString(sum)
	if c.length >= len(full) {
		return full
	}
	return full[:c.length]
}
