package depmodel

// ProcKind classifies the kind of access event the tracer emits.
type ProcKind uint8

const (
	ProcAccess ProcKind = iota
	ProcConfirm
	ProcChkDeps
	ProcDepDirect
	ProcDepVerbose
	ProcList
	ProcTmp
	ProcMount
	ProcChroot
	ProcGuard
	ProcPanic
	ProcTrace
	ProcAccessPattern
)

// String returns a human-readable name for the proc kind.
func (p ProcKind) String() string {
	switch p {
	case ProcAccess:
		return "access"
	case ProcConfirm:
		return "confirm"
	case ProcChkDeps:
		return "chk-deps"
	case ProcDepDirect:
		return "dep-direct"
	case ProcDepVerbose:
		return "dep-verbose"
	case ProcList:
		return "list"
	case ProcTmp:
		return "tmp"
	case ProcMount:
		return "mount"
	case ProcChroot:
		return "chroot"
	case ProcGuard:
		return "guard"
	case ProcPanic:
		return "panic"
	case ProcTrace:
		return "trace"
	case ProcAccessPattern:
		return "access-pattern"
	default:
		return "unknown"
	}
}

// Write is a tri-state write indicator: a write may be provisional (Maybe)
// until a later Confirm event resolves it to Yes or No.
type Write uint8

const (
	WriteNo Write = iota
	WriteYes
	WriteMaybe
)

// String returns a human-readable name for the write state.
func (w Write) String() string {
	switch w {
	case WriteNo:
		return "no"
	case WriteYes:
		return "yes"
	case WriteMaybe:
		return "maybe"
	default:
		return "unknown"
	}
}

// Digest carries the per-access fields attached to an AccessEvent.
type Digest struct {
	// Accesses records how the file was consulted.
	Accesses Accesses
	// Write indicates whether this access also wrote to the file.
	Write Write
	// Dflags is the set of dep flags in force for this access, applicable
	// when the file is ultimately classified as a dep.
	Dflags Dflag
	// ExtraDflags is the set of secondary dep flags in force.
	ExtraDflags ExtraDflag
	// Tflags is the set of target flags in force, applicable when the file
	// is ultimately classified as a target.
	Tflags Tflag
	// ExtraTflags is the set of secondary target flags in force.
	ExtraTflags ExtraTflag
	// ReadDir indicates the access was a directory listing (readdir) rather
	// than a file open/stat.
	ReadDir bool
	// ForceIsDep overrides classification heuristics to force this file to
	// be treated as a dep regardless of other observed accesses.
	ForceIsDep bool
	// ID is the confirmation id correlating a provisional write with its
	// later Confirm event. It is set on a WriteMaybe Access event and on the
	// Confirm event that resolves it, whose Write field is WriteYes when the
	// write happened.
	ID uint64
}

// FileInfo is the observed file signature attached to some access events. A
// nil *FileInfo indicates no signature was captured for this event (e.g. a
// pure Confirm carries none).
type FileInfo struct {
	Sig FileSig
}

// AccessEvent is the record emitted by the tracer for a single intercepted
// syscall (or synthesized by policy/diagnostic machinery), and consumed by
// the gatherer.
type AccessEvent struct {
	// TimestampNs is monotonic within the process tree being traced.
	TimestampNs int64
	// Proc classifies the kind of event.
	Proc ProcKind
	// File is the canonical path the event pertains to, possibly virtual
	// through a configured view.
	File Path
	// Digest carries the per-access fields. It is the zero Digest for event
	// kinds that don't pertain to a single access (e.g. ProcTrace).
	Digest Digest
	// FileInfo is the observed file signature, if one was captured.
	FileInfo *FileInfo
	// Message carries a human-readable payload for ProcPanic/ProcTrace
	// events and the regex/flags payload for ProcAccessPattern (encoded by
	// the caller; the gatherer interprets it per Proc).
	Message string
}
