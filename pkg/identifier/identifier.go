// Package identifier generates collision-resistant textual identifiers with a
// short type prefix. The cache mints its upload reservation keys with it.
// Prefixes for job run identifiers and confirmation tokens are defined too,
// but nothing in the module mints those; the tracer numbers confirmations
// with an integer counter.
package identifier

import (
	"errors"
	"strings"

	"github.com/eknkc/basex"

	"github.com/cesar-douady/open-lmake-sub004/pkg/random"
)

const (
	// PrefixJob is the prefix for job run identifiers.
	PrefixJob = "job_"
	// PrefixUpload is the prefix used for cache upload reservation keys
	// returned by Cache.UploadReserve.
	PrefixUpload = "upl_"
	// PrefixConfirm is the prefix for confirmation tokens.
	PrefixConfirm = "cnf_"

	// requiredPrefixLength is the required length for identifier prefixes,
	// including the trailing underscore.
	requiredPrefixLength = 4
	// collisionResistantLength is the number of random bytes needed to ensure
	// collision-resistance in an identifier.
	collisionResistantLength = 32
	// targetEncodedLength is the target length for the Base62-encoded portion
	// of the identifier: the maximum length a collisionResistantLength byte
	// array can take in Base62, computed as ceil(n*8*ln(2)/ln(62)).
	targetEncodedLength = 43

	base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
)

// encoding is the shared Base62 codec used to render random identifier
// payloads as filesystem- and socket-message-safe text.
var encoding = mustBasex(base62Alphabet)

func mustBasex(alphabet string) *basex.Encoding {
	enc, err := basex.NewEncoding(alphabet)
	if err != nil {
		panic(err)
	}
	return enc
}

// New generates a new collision-resistant identifier with the specified
// prefix (which must include its trailing underscore, e.g. PrefixJob).
func New(prefix string) (string, error) {
	if len(prefix) != requiredPrefixLength || prefix[requiredPrefixLength-1] != '_' {
		return "", errors.New("invalid identifier prefix")
	}
	for _, r := range prefix[:requiredPrefixLength-1] {
		if !('a' <= r && r <= 'z') {
			return "", errors.New("invalid prefix character")
		}
	}

	payload, err := random.New(collisionResistantLength)
	if err != nil {
		return "", err
	}

	encoded := encoding.Encode(payload)
	if len(encoded) > targetEncodedLength {
		panic("encoded random data length longer than expected")
	}

	builder := &strings.Builder{}
	builder.WriteString(prefix)
	for i := targetEncodedLength - len(encoded); i > 0; i-- {
		builder.WriteByte(base62Alphabet[0])
	}
	builder.WriteString(encoded)

	return builder.String(), nil
}

// IsValid determines whether or not a string has the shape of an identifier
// minted by New: a four-character prefix ending in '_' followed by exactly
// targetEncodedLength alphanumeric characters.
func IsValid(value string) bool {
	if len(value) != requiredPrefixLength+targetEncodedLength {
		return false
	}
	if value[requiredPrefixLength-1] != '_' {
		return false
	}
	for _, r := range value[:requiredPrefixLength-1] {
		if !('a' <= r && r <= 'z') {
			return false
		}
	}
	for _, r := range value[requiredPrefixLength:] {
		if !('0' <= r && r <= '9' || 'A' <= r && r <= 'Z' || 'a' <= r && r <= 'z') {
			return false
		}
	}
	return true
}
