package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"os"

	"github.com/pkg/errors"

	"github.com/cesar-douady/open-lmake-sub004/pkg/depmodel"
)

// MatchStatus is the three-way outcome of Match (spec §4.4.2).
type MatchStatus int

const (
	MatchMiss MatchStatus = iota
	MatchHit
	MatchNear
)

// MatchResult is the outcome of probing the cache for a job's current deps.
type MatchResult struct {
	Status MatchStatus
	// Key identifies the matched entry when Status == MatchHit.
	Key Key
	// Additional lists deps the caller should resolve and re-query with
	// when Status == MatchNear (spec: "Near with the list of additional
	// deps to query, truncated at the first Critical dep whose presence
	// is unknown").
	Additional []CacheDep
}

// depsHint computes the hex digest used to name a job's deps_hint symlink.
// The original engine uses an xxHash-family digest for speed; this
// implementation substitutes sha256 truncated to the same role, since the
// symlink only ever serves as a lookup hint, never as a content identity
// guarantee (see DESIGN.md).
func depsHint(repoDeps []depmodel.DepDigest) string {
	h := sha256.New()
	for _, d := range repoDeps {
		h.Write([]byte(d.File))
		h.Write([]byte{0})
		hashed, _ := d.Crc.MarshalBinary()
		h.Write(hashed)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Match implements spec §4.4.2's lookup rule.
func (c *Cache) Match(job string, repoDeps []depmodel.DepDigest) (MatchResult, error) {
	var result MatchResult
	err := c.withExclusive(func() error {
		result = c.matchLocked(job, repoDeps)
		return nil
	})
	return result, err
}

func (c *Cache) matchLocked(job string, repoDeps []depmodel.DepDigest) MatchResult {
	candidates := c.orderedCandidates(job, repoDeps)

	var best MatchResult
	best.Status = MatchMiss

	for _, repoCrc := range candidates {
		cacheDeps, err := c.readDeps(job, repoCrc)
		if err != nil {
			c.logger.Warn(errors.Wrapf(err, "skipping corrupt deps file for candidate %s", repoCrc))
			continue
		}

		status, additional := matchAgainst(cacheDeps, repoDeps)
		if status == MatchHit {
			return MatchResult{Status: MatchHit, Key: Key{Job: job, RepoCrc: repoCrc}}
		}
		if status == MatchNear && best.Status == MatchMiss {
			best = MatchResult{Status: MatchNear, Additional: additional}
		}
	}

	return best
}

// orderedCandidates returns a job's candidate repo_crcs with the
// deps_hint-resolved candidate (if any, and if it still exists) tried
// first (spec step 1: "read the deps_hint symlink for an exact match
// seed").
func (c *Cache) orderedCandidates(job string, repoDeps []depmodel.DepDigest) []string {
	all := c.jobCandidates(job)

	hintTarget, err := os.Readlink(depsHintPath(c.root, job, depsHint(repoDeps)))
	if err != nil {
		return all
	}

	ordered := make([]string, 0, len(all))
	for _, candidate := range all {
		if candidate == hintTarget {
			ordered = append([]string{candidate}, ordered...)
		} else {
			ordered = append(ordered, candidate)
		}
	}
	return ordered
}

func (c *Cache) readDeps(job, repoCrc string) ([]CacheDep, error) {
	data, err := os.ReadFile(entryDepsPath(c.root, job, repoCrc))
	if err != nil {
		return nil, errors.Wrap(err, "unable to read deps file")
	}
	return decodeDeps(data)
}

// matchAgainst implements steps 2-5 of spec §4.4.2 for a single candidate.
// It walks cacheDeps and repoDeps left-to-right while file names agree;
// on first divergence it falls back to comparing each remaining cache dep
// by name against a map of repoDeps, since a job's deps may be recorded in
// a different relative order across two runs (e.g. due to the
// parallel-access sort_key tie-breaking) without that meaning the
// candidate no longer applies.
func matchAgainst(cacheDeps []CacheDep, repoDeps []depmodel.DepDigest) (MatchStatus, []CacheDep) {
	repoByFile := make(map[depmodel.Path]depmodel.DepDigest, len(repoDeps))
	for _, d := range repoDeps {
		repoByFile[d.File] = d
	}

	var missing []CacheDep
	sequential := true

	for i, cd := range cacheDeps {
		var rd depmodel.DepDigest
		var ok bool

		if sequential && i < len(repoDeps) && repoDeps[i].File == cd.File {
			rd, ok = repoDeps[i], true
		} else {
			sequential = false
			rd, ok = repoByFile[cd.File]
		}

		if !ok {
			// Absent from the current repo state: only acceptable if the
			// cache dep's own crc certifies "file did not exist" (spec
			// step 4: "absent-with-compatible-crc").
			if cd.Crc == depmodel.CrcNone {
				continue
			}
			missing = append(missing, cd)
			continue
		}

		if !cd.Crc.Match(rd.Crc, cd.Accesses) {
			return MatchMiss, nil
		}
	}

	if len(missing) == 0 {
		return MatchHit, nil
	}

	// Truncate at the first Critical dep whose presence is unknown (spec
	// step 5).
	for i, cd := range missing {
		if cd.Dflags&depmodel.DflagCritical != 0 {
			return MatchNear, missing[:i+1]
		}
	}
	return MatchNear, missing
}
