// Package randsource provides the repository.RandomSource devicecore's
// pairing PIN generation runs against, backed by crypto/rand rather
// than math/rand's package-level global.
package randsource

import (
	"crypto/rand"
	"math/big"
)

// CryptoSource is the production repository.RandomSource.
type CryptoSource struct{}

// New returns the crypto/rand-backed source.
func New() CryptoSource { return CryptoSource{} }

// Intn returns a uniform random integer in [0, n) using crypto/rand,
// returning 0 if n <= 0 (a programmer error) or if crypto/rand fails.
func (CryptoSource) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}

// Bytes fills and returns n cryptographically random bytes.
func (CryptoSource) Bytes(n int) []byte {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return b
}
