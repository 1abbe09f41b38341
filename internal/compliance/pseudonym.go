package compliance

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"

	"golang.org/x/crypto/sha3"
)

// Pseudonymizer hashes personal-data values before they leave the engine in
// audit metadata or exported reports.
type Pseudonymizer struct {
	algorithm string
	factory   func() hash.Hash
}

// NewPseudonymizer selects the hash algorithm. Unsupported algorithm names
// fail synchronously.
func NewPseudonymizer(algorithm string) (*Pseudonymizer, error) {
	var factory func() hash.Hash
	switch algorithm {
	case "sha256":
		factory = sha256.New
	case "sha512":
		factory = sha512.New
	case "sha3-256":
		factory = sha3.New256
	default:
		return nil, fmt.Errorf("compliance: unsupported hash algorithm %q", algorithm)
	}
	return &Pseudonymizer{algorithm: algorithm, factory: factory}, nil
}

// Algorithm reports the configured algorithm name.
func (p *Pseudonymizer) Algorithm() string { return p.algorithm }

// Mask returns the hex digest of value.
func (p *Pseudonymizer) Mask(value string) string {
	h := p.factory()
	h.Write([]byte(value))
	return hex.EncodeToString(h.Sum(nil))
}
