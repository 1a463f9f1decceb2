package gatherer

import (
	"sort"

	"github.com/cesar-douady/open-lmake-sub004/pkg/depmodel"
)

// ContentReader reads a dep or target's current on-disk content so analyze
// can compute a real Crc rather than falling back to CrcUnknown. real is the
// physical path the gatherer's path resolver maps a canonical Path to.
// Injecting this as an interface (rather than hard-coding os.ReadFile) keeps
// analyze unit-testable against synthetic AccessInfo without a filesystem.
type ContentReader interface {
	ReadContent(real string) ([]byte, error)
}

// AnalyzeConfig carries the parameters analyze needs beyond the accumulated
// AccessInfo records themselves.
type AnalyzeConfig struct {
	// StartNs is the job's start timestamp, the reference instant against
	// which hot-dep detection (§4.3.4) is computed.
	StartNs int64
	// DatePrecisionNs is ddate_prec: a dep is "hot" if its file date falls
	// within this many nanoseconds of StartNs.
	DatePrecisionNs int64
	// Resolve maps a canonical Path to the physical path ContentReader
	// should be asked to read, or returns ok=false if no physical mapping
	// is available (content hashing is then skipped for that file).
	Resolve func(depmodel.Path) (real string, ok bool)
	// Content reads file bytes for Crc computation. May be nil, in which
	// case every Crc is either a sentinel or CrcUnknown.
	Content ContentReader
}

// seenErrorClasses deduplicates remediation hints within one job (spec §7,
// supplemented from original_source/ per DESIGN.md).
type seenErrorClasses map[ErrorClass]bool

// analyze runs the end-of-job analysis pipeline described in spec §4.3.4:
// pattern application, stable sort, dep/target classification and
// digesting, followed by the uphill-directory reorder pass.
func analyze(infos map[depmodel.Path]*AccessInfo, patterns []accessPatternRule, cfg AnalyzeConfig) depmodel.JobDigest {
	// Step 1: apply AccessPattern rules.
	for _, rule := range patterns {
		rule.apply(infos)
	}

	// Step 2: stable sort by (sort_key, write-ness).
	ordered := make([]*AccessInfo, 0, len(infos))
	for _, info := range infos {
		info.sortKey = computeSortKey(info)
		ordered = append(ordered, info)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.sortKey != b.sortKey {
			return a.sortKey < b.sortKey
		}
		_, aWrite := a.FirstWrite()
		_, bWrite := b.FirstWrite()
		if aWrite != bWrite {
			return !aWrite && bWrite // reads before writes at equal sort_key
		}
		return false
	})

	// Detect parallel groups: contiguous runs sharing a sort_key.
	parallelOf := make(map[depmodel.Path]bool, len(ordered))
	for i := range ordered {
		shared := false
		if i > 0 && ordered[i-1].sortKey == ordered[i].sortKey {
			shared = true
		}
		if i+1 < len(ordered) && ordered[i+1].sortKey == ordered[i].sortKey {
			shared = true
		}
		parallelOf[ordered[i].File] = shared
	}

	hints := make(seenErrorClasses)
	var deps []depmodel.DepDigest
	var targets []depmodel.TargetDigest
	var msg msgBuffer

	for _, info := range ordered {
		isDep, isTarget := classify(info)
		if isTarget {
			td := buildTargetDigest(info, cfg, &hints, &msg)
			targets = append(targets, td)
		}
		if isDep {
			dd := buildDepDigest(info, cfg, parallelOf[info.File])
			deps = append(deps, dd)
		}
	}

	// Step 5 (reorder): suppress uphill directory entries.
	deps = reorderDeps(deps)

	return depmodel.JobDigest{
		Deps:    deps,
		Targets: targets,
		Msg:     msg.String(),
	}
}

// computeSortKey implements "sort_key is the earliest read if any else the
// earliest write" (spec §4.3.4 step 2).
func computeSortKey(info *AccessInfo) int64 {
	if date, ok := info.FirstRead(); ok {
		return date
	}
	if date, ok := info.FirstWrite(); ok {
		return date
	}
	return info.firstSeen
}

// classify decides whether a file is a dep, a target, both, or neither,
// per spec §4.3.4 step 3 and invariant 2 (reads after a confirmed write are
// excluded from the dep set unless the file is also declared a dep via
// dep_and_target_ok / SourceOk).
func classify(info *AccessInfo) (isDep bool, isTarget bool) {
	if info.extraTflags&depmodel.ExtraTflagIgnore != 0 {
		return false, false
	}

	_, wasWritten := info.FirstWrite()
	isTarget = wasWritten || info.tflags&depmodel.TflagTarget != 0

	if info.extraDflags&depmodel.ExtraDflagIgnore != 0 {
		return false, isTarget
	}

	hadRead := !info.accesses.IsEmpty() || info.forceIsDep
	if !hadRead {
		return false, isTarget
	}

	if !wasWritten {
		return true, isTarget
	}

	readDate, hasRead := info.FirstRead()
	writeDate, _ := info.FirstWrite()
	readBeforeWrite := hasRead && readDate < writeDate
	sourceOk := info.extraTflags&depmodel.ExtraTflagSourceOk != 0

	isDep = info.forceIsDep || readBeforeWrite || sourceOk
	return isDep, isTarget
}

// buildDepDigest computes the DepDigest for a file classified as a dep.
func buildDepDigest(info *AccessInfo, cfg AnalyzeConfig, parallel bool) depmodel.DepDigest {
	dd := depmodel.DepDigest{
		File:        info.File,
		Accesses:    info.accesses,
		Parallel:    parallel,
		Dflags:      info.dflags,
		ExtraDflags: info.extraDflags,
	}

	if info.depInfoValid {
		dd.DepInfo = info.depInfo
	} else {
		dd.DepInfo = depmodel.NoneSig
	}

	dd.Crc = resolveCrc(info, dd.DepInfo, cfg)

	if info.lastSeenInfoValid && info.depInfoValid && !info.lastSeenInfo.Equal(info.depInfo) {
		dd.Unstable = true
	}

	if info.extraDflags&depmodel.ExtraDflagNoHot == 0 {
		dd.Hot = info.IsHot(cfg.StartNs, cfg.DatePrecisionNs)
	}

	return dd
}

// buildTargetDigest computes the TargetDigest for a file classified as a
// target, attaching the "unexpected write" remediation hint the first time
// that error class is seen in this job (spec §7). No hint is attached for an
// unlink of a static dep.
func buildTargetDigest(info *AccessInfo, cfg AnalyzeConfig, hints *seenErrorClasses, msg *msgBuffer) depmodel.TargetDigest {
	writeDate, written := info.FirstWrite()

	td := depmodel.TargetDigest{
		File:        info.File,
		Tflags:      info.tflags,
		ExtraTflags: info.extraTflags,
		Written:     written,
	}

	if info.depInfoValid && (!written || info.depInfo.ModTimeNs < writeDate) {
		td.PreExisted = info.depInfo.Kind != depmodel.KindNone
	}

	if written {
		if info.lastSeenInfoValid {
			td.Sig = info.lastSeenInfo
			td.Crc = resolveCrc(info, info.lastSeenInfo, cfg)
		} else {
			td.DeferredCrc = true
		}
	}

	allowed := info.tflags&depmodel.TflagTarget != 0 || info.extraTflags&depmodel.ExtraTflagAllow != 0
	if written && !allowed && info.extraTflags&depmodel.ExtraTflagNoWarning == 0 {
		hint(hints, msg, ErrorClassUnexpectedWrite)
	}

	return td
}

// resolveCrc computes a Crc for sig according to the access kind, falling
// back to CrcUnknown when content identity cannot be established from the
// observed accesses alone and no ContentReader is available to settle it.
func resolveCrc(info *AccessInfo, sig depmodel.FileSig, cfg AnalyzeConfig) depmodel.Crc {
	if sig.Kind == depmodel.KindNone {
		return depmodel.CrcNone
	}
	if sig.Kind == depmodel.KindEmpty {
		return depmodel.CrcEmpty
	}
	// A stat-only access never reads content, so content identity is
	// irrelevant to what the job observed; report Unknown rather than
	// pretend a hash was computed.
	if info.accesses != 0 && !info.accesses.Has(depmodel.AccessReg) && !info.accesses.Has(depmodel.AccessLnk) {
		return depmodel.CrcUnknown
	}
	if cfg.Content == nil || cfg.Resolve == nil {
		return depmodel.CrcUnknown
	}
	real, ok := cfg.Resolve(info.File)
	if !ok {
		return depmodel.CrcUnknown
	}
	content, err := cfg.Content.ReadContent(real)
	if err != nil {
		return depmodel.CrcUnknown
	}
	return depmodel.NewCrc(content)
}

// hint appends the remediation hint for class to msg, but only the first
// time class is seen for this job.
func hint(hints *seenErrorClasses, msg *msgBuffer, class ErrorClass) {
	if (*hints)[class] {
		return
	}
	(*hints)[class] = true
	msg.Add(remediationHint(class))
}

// msgBuffer accumulates newline-separated diagnostic/remediation messages
// for the job's final digest (spec §7, "the Gatherer accumulates messages
// in a single msg buffer").
type msgBuffer struct {
	lines []string
}

func (m *msgBuffer) Add(line string) {
	if line == "" {
		return
	}
	m.lines = append(m.lines, line)
}

func (m *msgBuffer) String() string {
	out := ""
	for i, l := range m.lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}

// isDirOnlyAccess reports whether a dep's accesses amount to nothing more
// than a directory-presence check: a pure Stat, or a pure Lnk access to the
// directory entry itself (spec §4.3.4 reorder: "or is accessed only as a
// link and the dir-entry is accessed as a link").
func isDirOnlyAccess(d depmodel.DepDigest) bool {
	return d.Accesses == depmodel.AccessStat || d.Accesses == depmodel.AccessLnk
}

// reorderDeps implements the uphill-directory suppression pass: a dep that
// is merely a directory-presence check for the parent of another, already
// present dep is redundant and is dropped. The pass walks the sorted list
// backward once (dropping preceding dir-entries) and forward once (dropping
// following dir-entries), maintaining a "dirs" map of directories known to
// contain an already-recorded child, populated incrementally as the walk
// proceeds (spec §4.3.4 step 5).
func reorderDeps(deps []depmodel.DepDigest) []depmodel.DepDigest {
	n := len(deps)
	if n == 0 {
		return deps
	}
	suppressed := make([]bool, n)

	backwardDirs := make(map[depmodel.Path]bool)
	for i := n - 1; i >= 0; i-- {
		d := deps[i]
		if d.Crc != depmodel.CrcNone {
			backwardDirs[d.File.Dir()] = true
		}
		if isDirOnlyAccess(d) && backwardDirs[d.File] {
			suppressed[i] = true
		}
	}

	forwardDirs := make(map[depmodel.Path]bool)
	for i := 0; i < n; i++ {
		if suppressed[i] {
			continue
		}
		d := deps[i]
		if d.Crc != depmodel.CrcNone {
			forwardDirs[d.File.Dir()] = true
		}
		if isDirOnlyAccess(d) && forwardDirs[d.File] {
			suppressed[i] = true
		}
	}

	result := make([]depmodel.DepDigest, 0, n)
	for i, d := range deps {
		if !suppressed[i] {
			result = append(result, d)
		}
	}
	return result
}
