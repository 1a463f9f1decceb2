package depmodel

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/pkg/errors"
)

// crcTag distinguishes Crc sentinel values from a real content hash.
type crcTag uint8

const (
	// crcTagNone indicates the file was absent.
	crcTagNone crcTag = iota
	// crcTagEmpty indicates a file known to be empty.
	crcTagEmpty
	// crcTagUnknown indicates the file's content identity could not be
	// established (e.g. it changed during the job, or only a Stat access
	// was performed and no stronger identity is available).
	crcTagUnknown
	// crcTagHash indicates a real content hash is present.
	crcTagHash
)

// Crc is a content hash over a regular file's bytes or a symlink's target
// text, or one of three sentinel values: None (file absent), Empty (file
// known to be empty), Unknown (identity indeterminate).
type Crc struct {
	tag  crcTag
	hash [sha256.Size]byte
}

// CrcNone is the sentinel Crc for an absent file.
var CrcNone = Crc{tag: crcTagNone}

// CrcEmpty is the sentinel Crc for a file known to be empty.
var CrcEmpty = Crc{tag: crcTagEmpty}

// CrcUnknown is the sentinel Crc for a file whose content identity could not
// be established.
var CrcUnknown = Crc{tag: crcTagUnknown}

// NewCrc computes a Crc over the given content bytes (a regular file's bytes
// or a symlink's target text).
func NewCrc(content []byte) Crc {
	if len(content) == 0 {
		return CrcEmpty
	}
	return Crc{tag: crcTagHash, hash: sha256.Sum256(content)}
}

// IsSentinel reports whether the Crc is one of None/Empty/Unknown rather
// than a real content hash.
func (c Crc) IsSentinel() bool {
	return c.tag != crcTagHash
}

// String renders the Crc for logging.
func (c Crc) String() string {
	switch c.tag {
	case crcTagNone:
		return "none"
	case crcTagEmpty:
		return "empty"
	case crcTagUnknown:
		return "unknown"
	default:
		return hex.EncodeToString(c.hash[:])
	}
}

// MarshalBinary renders c as a fixed-width record (1 tag byte followed by
// the raw hash bytes, zero for sentinel values), letting the cache package
// persist deps/info records without reaching into Crc's internals.
func (c Crc) MarshalBinary() ([]byte, error) {
	out := make([]byte, 1+sha256.Size)
	out[0] = byte(c.tag)
	copy(out[1:], c.hash[:])
	return out, nil
}

// UnmarshalBinary is the inverse of MarshalBinary.
func (c *Crc) UnmarshalBinary(data []byte) error {
	if len(data) != 1+sha256.Size {
		return errors.Errorf("invalid crc record length %d", len(data))
	}
	c.tag = crcTag(data[0])
	if c.tag > crcTagHash {
		return errors.Errorf("invalid crc tag %d", data[0])
	}
	copy(c.hash[:], data[1:])
	return nil
}

// Match reports whether c matches other under the given access mask. Content
// hashes must be byte-identical to match. The match is relaxed when the
// access kind cannot distinguish the compared variants: a Stat-only access
// cannot tell an empty file from one with unknown content, and it cannot
// tell two different real hashes apart at all (stat never reads content), so
// under AccessStat alone any two non-None Crcs are considered a match,
// matching spec semantics that stat-level accesses don't pin down content.
func (c Crc) Match(other Crc, accesses Accesses) bool {
	if c.tag == crcTagNone || other.tag == crcTagNone {
		return c.tag == other.tag
	}
	if accesses.Has(AccessReg) || accesses.Has(AccessLnk) {
		if c.tag == crcTagUnknown || other.tag == crcTagUnknown {
			return false
		}
		if c.tag == crcTagEmpty || other.tag == crcTagEmpty {
			return c.tag == other.tag
		}
		return c.hash == other.hash
	}
	// Stat-only: existence agrees (neither is None), which is all a pure
	// stat access can certify.
	return true
}
