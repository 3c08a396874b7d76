package identity

import (
	cryptorand "crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strings"

	digest "github.com/opencontainers/go-digest"
)

var (
	// idReader is used for random id generation. This declaration allows us to
	// replace it for testing.
	idReader = cryptorand.Reader
)

const (
	randomIDEntropyBytes = 17
	randomIDBase         = 36

	// Identifiers are padded out or truncated to 25 characters, the length
	// of 2^128 - 1 in base36. The extra byte of entropy fills the high bits
	// so the first character is evenly distributed.
	maxRandomIDLength = 25

	// contentIDLength is the number of hex characters of the content digest
	// kept in a content identifier.
	contentIDLength = 16
)

// NewID generates a new identifier for use where random identifiers with low
// collision probability are required.
func NewID() string {
	var p [randomIDEntropyBytes]byte

	if _, err := io.ReadFull(idReader, p[:]); err != nil {
		panic(fmt.Errorf("failed to read random bytes: %v", err))
	}

	p[0] |= 0x80 // set high bit to avoid the need for padding
	return (&big.Int{}).SetBytes(p[:]).Text(randomIDBase)[1 : maxRandomIDLength+1]
}

// ContentID returns an identifier derived from the sha256 digest of parts.
// Parts are joined with a separator that cannot appear in a base36 or hex
// identifier, so ("ab", "c") and ("a", "bc") produce different results.
func ContentID(parts ...string) string {
	d := digest.FromString(strings.Join(parts, "\x00"))
	return d.Encoded()[:contentIDLength]
}
