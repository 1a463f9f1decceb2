package cache

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/cesar-douady/open-lmake-sub004/pkg/logging"
)

// Repair rebuilds ADMIN/lru by walking every entry directory under root and
// relinking them most-recently-modified first, each sized by its data
// file's on-disk (compressed) size (spec
// §4.4.5: "if ADMIN/lru is corrupt or missing, a repair pass rebuilds it by
// walking the cache tree; entries survive, only recency order is lost").
// It also sweeps stale files left behind in ADMIN/reserved by a process that
// crashed between upload_reserve and commit/dismiss.
func Repair(root string, logger *logging.Logger) error {
	type found struct {
		name    string
		size    uint64
		modTime time.Time
	}
	var entries []found

	jobDirs, err := os.ReadDir(root)
	if err != nil {
		return errors.Wrap(err, "unable to list cache root")
	}

	for _, jd := range jobDirs {
		if !jd.IsDir() || jd.Name() == "ADMIN" {
			continue
		}
		jobPath := filepath.Join(root, jd.Name())
		repoCrcs, err := os.ReadDir(jobPath)
		if err != nil {
			logger.Warn(errors.Wrapf(err, "unable to list job directory %s", jd.Name()))
			continue
		}
		for _, rc := range repoCrcs {
			if !rc.IsDir() {
				continue
			}
			name := jd.Name() + "/" + rc.Name()
			dataPath := filepath.Join(jobPath, rc.Name(), "data")
			info, err := os.Stat(dataPath)
			if err != nil {
				logger.Warn(errors.Wrapf(err, "entry %s has no data file; skipping", name))
				continue
			}
			entries = append(entries, found{name: name, size: uint64(info.Size()), modTime: info.ModTime()})
		}
	}

	rebuilt := LruRecord{Prev: headName, Next: headName}
	if err := writeLruRecordAt(adminLruPath(root), rebuilt); err != nil {
		return errors.Wrap(err, "unable to reset admin lru record")
	}

	// Link oldest first, so the most recently modified entry ends at the head.
	sort.Slice(entries, func(i, j int) bool { return entries[i].modTime.Before(entries[j].modTime) })

	c := &Cache{root: root, sizeMax: ^uint64(0)}
	for _, e := range entries {
		if err := c.linkAtHead(e.name, e.size, e.modTime.UnixNano()); err != nil {
			return errors.Wrapf(err, "unable to relink entry %s", e.name)
		}
	}

	return sweepReservations(root, logger)
}

// sweepReservations removes files under ADMIN/reserved that no longer
// correspond to a live reservation, left behind by a process that crashed
// between UploadReserve and Commit/Dismiss.
func sweepReservations(root string, logger *logging.Logger) error {
	dir := reservedDir(root)
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".data") {
			return nil
		}
		if err := os.Remove(path); err != nil {
			logger.Warn(errors.Wrapf(err, "unable to remove stale reservation %s", path))
		}
		return nil
	})
}
