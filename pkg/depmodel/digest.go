package depmodel

// DepDigest is the per-file record produced by analysis for a file
// classified as a dep.
type DepDigest struct {
	// File is the dep's canonical path.
	File Path
	// Accesses is the union of access kinds observed for this file.
	Accesses Accesses
	// DepInfo is the file's signature or content crc as observed before the
	// job's first read of it.
	DepInfo FileSig
	// Crc is the content digest derived from DepInfo when the access kind
	// permits it; it is CrcUnknown when content identity could not be
	// established and CrcNone when the file never existed.
	Crc Crc
	// Parallel indicates this dep shares its sort_key timestamp with at
	// least one other dep in the same digest (S4: parallel deps).
	Parallel bool
	// Hot indicates the dep's file date falls within ddate_prec of the
	// first observation timestamp, requiring upstream confirmation that the
	// producing job had already completed.
	Hot bool
	// Unstable indicates the file changed during the job after DepInfo was
	// captured.
	Unstable bool
	// Dflags and ExtraDflags are the effective flags accumulated by union
	// across every access to this file.
	Dflags      Dflag
	ExtraDflags ExtraDflag
}

// TargetDigest is the per-file record produced by analysis for a file
// classified as a target.
type TargetDigest struct {
	// File is the target's canonical path.
	File Path
	// Tflags and ExtraTflags are the effective flags accumulated by union
	// across every access to this file.
	Tflags      Tflag
	ExtraTflags ExtraTflag
	// PreExisted indicates the file already existed, with the recorded Crc,
	// before the job's first write.
	PreExisted bool
	// Written indicates the job actually wrote (confirmed Yes) to this
	// file.
	Written bool
	// Crc is the target's resulting content digest. It may be deferred (see
	// DeferredCrc) when the final content must be hashed after the job
	// exits.
	Crc Crc
	// DeferredCrc indicates Crc has not yet been computed and must be
	// filled in from a later pass over the file on disk.
	DeferredCrc bool
	// Sig is the target's resulting file signature, recorded alongside or
	// instead of Crc when a full content hash isn't warranted.
	Sig FileSig
}

// JobDigest is the final canonicalized (deps, targets) record produced by
// analyze for a completed job, and the unit stored in and retrieved from the
// cache.
type JobDigest struct {
	// Deps lists every file classified as a dep, in final sorted order.
	Deps []DepDigest
	// Targets lists every file classified as a target, in final sorted
	// order.
	Targets []TargetDigest
	// Msg accumulates human-readable diagnostic/remediation messages
	// produced during analysis, carried verbatim to the upstream daemon.
	Msg string
}
