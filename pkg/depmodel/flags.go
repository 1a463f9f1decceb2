package depmodel

import "strings"

// Accesses is a bitmask recording how a file was consulted: by reading its
// content, by reading a symlink's target, or by merely stat-ing it. Per
// design note (c), a file observed through more than one access kind during
// a job carries the union of those kinds, not just the strongest one.
type Accesses uint8

const (
	AccessReg Accesses = 1 << iota
	AccessLnk
	AccessStat
)

// Has reports whether all bits in mask are set.
func (a Accesses) Has(mask Accesses) bool { return a&mask == mask }

// Any reports whether any bit in mask is set.
func (a Accesses) Any(mask Accesses) bool { return a&mask != 0 }

// Union returns the union of two access sets.
func (a Accesses) Union(other Accesses) Accesses { return a | other }

// IsEmpty reports whether no access kind has been recorded.
func (a Accesses) IsEmpty() bool { return a == 0 }

// String renders the access set as a "|"-separated list of kinds.
func (a Accesses) String() string {
	var parts []string
	if a.Has(AccessReg) {
		parts = append(parts, "reg")
	}
	if a.Has(AccessLnk) {
		parts = append(parts, "lnk")
	}
	if a.Has(AccessStat) {
		parts = append(parts, "stat")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Dflag qualifies a dep with the engine's core dependency semantics.
type Dflag uint16

const (
	// DflagCritical causes downstream jobs to wait for this dep's producer
	// even in speculative execution modes.
	DflagCritical Dflag = 1 << iota
	// DflagEssential marks a dep whose absence is always an error, even if
	// the accessing job otherwise tolerates missing files.
	DflagEssential
	// DflagRequired marks a dep that must exist by the time the job
	// completes successfully.
	DflagRequired
)

// ExtraDflag qualifies a dep with secondary, rarer semantics.
type ExtraDflag uint16

const (
	// ExtraDflagIgnoreError suppresses errors stemming from this dep's
	// absence or unreadability.
	ExtraDflagIgnoreError ExtraDflag = 1 << iota
	// ExtraDflagNoHot disables hot-dep detection for this dep even if its
	// file date falls within the hot-dep precision window.
	ExtraDflagNoHot
	// ExtraDflagIgnore excludes the dep entirely from the final digest.
	ExtraDflagIgnore
	// ExtraDflagCreateEncode records that this dep was accessed through a
	// create-and-encode style open (O_CREAT without O_EXCL on a file that
	// did not previously exist), which affects how its dep_info is
	// interpreted.
	ExtraDflagCreateEncode
	// ExtraDflagReaddirOk permits this dep to have been observed solely
	// through a directory-listing (readdir) access.
	ExtraDflagReaddirOk
)

// Tflag qualifies a target with the engine's core target semantics.
type Tflag uint16

const (
	// TflagTarget marks the file as an authorized output of the job.
	TflagTarget Tflag = 1 << iota
	// TflagStatic marks a target declared ahead of time by the rule (as
	// opposed to one discovered dynamically during execution).
	TflagStatic
	// TflagPhony marks a target that need not exist on disk after the job
	// completes.
	TflagPhony
	// TflagIncremental marks a target whose previous content, if any, the
	// job is allowed to read and build upon rather than fully overwrite.
	TflagIncremental
)

// ExtraTflag qualifies a target with secondary, rarer semantics.
type ExtraTflag uint16

const (
	// ExtraTflagNoWarning suppresses the "unexpected write" warning that
	// would otherwise be attached to this target.
	ExtraTflagNoWarning ExtraTflag = 1 << iota
	// ExtraTflagAllow authorizes a write that would otherwise be flagged as
	// unexpected.
	ExtraTflagAllow
	// ExtraTflagIgnore excludes the target entirely from the final digest.
	ExtraTflagIgnore
	// ExtraTflagSourceOk permits this target to also be declared as a dep
	// without triggering the "write to a dep" error.
	ExtraTflagSourceOk
	// ExtraTflagLate marks a target only recognized as such after the job
	// has already completed (e.g. discovered during a deferred crc pass).
	ExtraTflagLate
)
