package depmodel

import "golang.org/x/sys/unix"

// FileKind classifies the kind of filesystem entry a FileSig was observed
// against.
type FileKind uint8

const (
	// KindNone indicates the file did not exist at observation time.
	KindNone FileKind = iota
	// KindReg indicates a regular file.
	KindReg
	// KindLnk indicates a symbolic link.
	KindLnk
	// KindDir indicates a directory.
	KindDir
	// KindEmpty indicates a regular file known to be empty; kept distinct
	// from KindReg so that two empty files never compare as matching unless
	// they are in fact the same inode (Empty compares equal to itself only
	// through identity of device/inode, never through content-blindness).
	KindEmpty
	// KindExe indicates a regular file with at least one executable bit set.
	KindExe
)

// String returns a human-readable name for the file kind.
func (k FileKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindReg:
		return "reg"
	case KindLnk:
		return "lnk"
	case KindDir:
		return "dir"
	case KindEmpty:
		return "empty"
	case KindExe:
		return "exe"
	default:
		return "unknown"
	}
}

// FileSig is a lightweight, cheaply comparable fingerprint of a file's
// identity and metadata, used to decide whether a dep might have changed
// without hashing its content.
type FileSig struct {
	// Device is the device number of the filesystem holding the file.
	Device uint64
	// Inode is the file's inode number.
	Inode uint64
	// ModTimeNs is the file's modification time in nanoseconds since the
	// Unix epoch.
	ModTimeNs int64
	// Kind is the kind of filesystem entry observed.
	Kind FileKind
}

// NoneSig is the FileSig recorded when a file does not exist.
var NoneSig = FileSig{Kind: KindNone}

// Equal reports whether two FileSigs certify identical file content at
// observation time. A KindNone FileSig equals only another KindNone FileSig
// (both certify "absent", which is a single, stable piece of content
// identity); a KindEmpty FileSig is equal to another KindEmpty FileSig only
// when they share a device and inode, so two distinct empty files never
// spuriously match.
func (s FileSig) Equal(other FileSig) bool {
	if s.Kind != other.Kind {
		return false
	}
	if s.Kind == KindNone {
		return true
	}
	return s.Device == other.Device && s.Inode == other.Inode && s.ModTimeNs == other.ModTimeNs
}

// FileSigFromStat builds a FileSig from a raw unix.Stat_t, as returned by
// unix.Lstat/unix.Fstatat during path resolution or tracer interception.
func FileSigFromStat(stat *unix.Stat_t) FileSig {
	kind := KindReg
	switch stat.Mode & unix.S_IFMT {
	case unix.S_IFLNK:
		kind = KindLnk
	case unix.S_IFDIR:
		kind = KindDir
	case unix.S_IFREG:
		if stat.Size == 0 {
			kind = KindEmpty
		} else if stat.Mode&0o111 != 0 {
			kind = KindExe
		} else {
			kind = KindReg
		}
	}
	return FileSig{
		Device:    uint64(stat.Dev),
		Inode:     stat.Ino,
		ModTimeNs: stat.Mtim.Nano(),
		Kind:      kind,
	}
}
