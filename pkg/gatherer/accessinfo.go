// Package gatherer implements the access gatherer: it hosts the event
// server a traced job reports to, merges the resulting stream of
// depmodel.AccessEvents into a per-file AccessInfo record with temporal
// ordering, supervises the job's lifecycle (timeout, kill cascade,
// heartbeat), and at job end runs analyze() to produce the canonicalized
// (deps, targets) digest used to decide rebuilds and to key the cache.
package gatherer

import (
	"github.com/cesar-douady/open-lmake-sub004/pkg/depmodel"
)

// noDate is the sentinel "never observed" value for the date fields below:
// zero is a legal timestamp (the epoch), so -1 marks "not yet seen" instead.
const noDate int64 = -1

// AccessInfo is the per-file record the gatherer maintains for the
// lifetime of a single job, built up incrementally as AccessEvents arrive
// and consumed wholesale by analyze() at job end.
type AccessInfo struct {
	// File is the canonical path this record pertains to.
	File depmodel.Path

	// firstReadReg/firstReadLnk/firstReadStat hold the earliest observed
	// date for each access kind, or noDate if that kind was never
	// observed.
	firstReadReg  int64
	firstReadLnk  int64
	firstReadStat int64

	// firstWrite is the earliest date at which write==Yes was confirmed
	// for this file, or noDate if the file was never (confirmed) written.
	firstWrite int64
	// washed indicates the first write happened before any on-disk state
	// mattered to the job: no read of this file preceded firstWrite.
	washed bool

	// firstSeen is the earliest date at which the file was observed to
	// exist (file_info reported a kind other than KindNone), or noDate.
	firstSeen int64
	// firstRequired is the earliest date at which DflagRequired was in
	// force for an access to this file, or noDate.
	firstRequired int64
	// firstReadDir is the earliest date at which a readdir access was
	// recorded, or noDate.
	firstReadDir int64

	// accesses is the union of access kinds ever observed.
	accesses depmodel.Accesses

	// dflags/extraDflags/tflags/extraTflags are the effective flag sets,
	// accumulated by union across every access to this file (spec §3
	// invariant: flags accumulate by union, never overwrite).
	dflags      depmodel.Dflag
	extraDflags depmodel.ExtraDflag
	tflags      depmodel.Tflag
	extraTflags depmodel.ExtraTflag

	// forceIsDep mirrors Digest.ForceIsDep: once set by any access, it
	// stays set.
	forceIsDep bool

	// depInfo is the FileSig or Crc snapshot recorded on the first read,
	// i.e. whatever state existed before the job ever consulted this
	// file. It is never overwritten by later accesses (spec §3 invariant
	// 4).
	depInfo      depmodel.FileSig
	depInfoValid bool

	// lastSeenInfo is the most recently observed FileSig for this file,
	// used by analyze to detect whether the file changed again after
	// depInfo was captured (the "unstable" dep case).
	lastSeenInfo      depmodel.FileSig
	lastSeenInfoValid bool

	// pendingWrites tracks Access events recorded with Write==WriteMaybe,
	// keyed by confirmation id, so a later Confirm can resolve them.
	// Until confirmed, such a write does not count toward firstWrite.
	pendingWrites map[uint64]int64

	// sortKey is populated by analyze(): the earliest read date if any,
	// else the earliest write date. It drives the final stable sort
	// (spec §4.3.4 step 2).
	sortKey int64
}

// newAccessInfo creates an empty record for file.
func newAccessInfo(file depmodel.Path) *AccessInfo {
	return &AccessInfo{
		File:          file,
		firstReadReg:  noDate,
		firstReadLnk:  noDate,
		firstReadStat: noDate,
		firstWrite:    noDate,
		firstSeen:     noDate,
		firstRequired: noDate,
		firstReadDir:  noDate,
		pendingWrites: make(map[uint64]int64),
	}
}

// Accesses returns the union of access kinds ever observed for this file.
func (a *AccessInfo) Accesses() depmodel.Accesses {
	return a.accesses
}

// FirstRead returns the earliest date at which any read-class access
// (Reg, Lnk, or Stat) was recorded, and whether one was ever recorded.
func (a *AccessInfo) FirstRead() (int64, bool) {
	date := noDate
	for _, d := range []int64{a.firstReadReg, a.firstReadLnk, a.firstReadStat} {
		if d != noDate && (date == noDate || d < date) {
			date = d
		}
	}
	return date, date != noDate
}

// FirstWrite returns the earliest confirmed-write date and whether a
// confirmed write was ever recorded.
func (a *AccessInfo) FirstWrite() (int64, bool) {
	return a.firstWrite, a.firstWrite != noDate
}

// IsHot reports whether this file's observed date falls within prec
// nanoseconds of the given reference instant (typically the job's start
// timestamp), indicating upstream confirmation is required before the
// dep can safely be treated as stable (spec §4.3.4, "hot-dep detection").
func (a *AccessInfo) IsHot(referenceNs int64, precNs int64) bool {
	if !a.lastSeenInfoValid {
		return false
	}
	delta := a.lastSeenInfo.ModTimeNs - referenceNs
	if delta < 0 {
		delta = -delta
	}
	return delta <= precNs
}

// Seen reports whether the file was ever observed to exist.
func (a *AccessInfo) Seen() bool {
	return a.firstSeen != noDate
}

// recordAccess folds a single Access-class AccessEvent into this record.
// Per invariant 2, once a confirmed write has happened, subsequent reads
// are still recorded here (so dep_and_target_ok can see them) but analyze
// is responsible for excluding them from the final dep set unless the
// file is also a declared dep.
func (a *AccessInfo) recordAccess(event depmodel.AccessEvent) {
	d := event.Digest
	date := event.TimestampNs

	a.accesses = a.accesses.Union(d.Accesses)
	a.dflags |= d.Dflags
	a.extraDflags |= d.ExtraDflags
	a.tflags |= d.Tflags
	a.extraTflags |= d.ExtraTflags
	if d.ForceIsDep {
		a.forceIsDep = true
	}

	if d.Accesses.Has(depmodel.AccessReg) {
		a.noteEarliest(&a.firstReadReg, date)
	}
	if d.Accesses.Has(depmodel.AccessLnk) {
		a.noteEarliest(&a.firstReadLnk, date)
	}
	if d.Accesses.Has(depmodel.AccessStat) {
		a.noteEarliest(&a.firstReadStat, date)
	}
	if d.ReadDir {
		a.noteEarliest(&a.firstReadDir, date)
	}
	if d.Dflags&depmodel.DflagRequired != 0 {
		a.noteEarliest(&a.firstRequired, date)
	}

	if event.FileInfo != nil {
		a.lastSeenInfo = event.FileInfo.Sig
		a.lastSeenInfoValid = true
		if event.FileInfo.Sig.Kind != depmodel.KindNone {
			a.noteEarliest(&a.firstSeen, date)
		}
		if !a.depInfoValid && !d.Accesses.IsEmpty() {
			a.depInfo = event.FileInfo.Sig
			a.depInfoValid = true
		}
	}

	switch d.Write {
	case depmodel.WriteYes:
		a.noteEarliest(&a.firstWrite, date)
		if _, hasRead := a.FirstRead(); !hasRead {
			a.washed = true
		}
	case depmodel.WriteMaybe:
		a.pendingWrites[d.ID] = date
	}
}

// recordConfirm resolves a pending provisional write: ok==true promotes it
// to a confirmed write at its original timestamp; ok==false discards it.
func (a *AccessInfo) recordConfirm(id uint64, ok bool) {
	date, pending := a.pendingWrites[id]
	if !pending {
		return
	}
	delete(a.pendingWrites, id)
	if ok {
		a.noteEarliest(&a.firstWrite, date)
		if _, hasRead := a.FirstRead(); !hasRead {
			a.washed = true
		}
	}
}

func (a *AccessInfo) noteEarliest(field *int64, date int64) {
	if *field == noDate || date < *field {
		*field = date
	}
}
