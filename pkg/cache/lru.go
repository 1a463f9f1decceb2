package cache

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// headName is the sentinel list-name identifying the ADMIN/lru head record
// itself, as opposed to a per-entry record (spec §4.4.1: "ADMIN/lru holds a
// head record whose prev/next chain every entry").
const headName = ""

// recordPathForName resolves a list-name (as produced by Key.listName, or
// headName for the sentinel) to the lru record file backing it.
func (c *Cache) recordPathForName(name string) string {
	if name == headName {
		return adminLruPath(c.root)
	}
	return filepath.Join(c.root, name, "lru")
}

func readLruRecordAt(path string) (LruRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return LruRecord{}, errors.Wrapf(err, "unable to read lru record %s", path)
	}
	rec, err := decodeLru(data)
	if err != nil {
		return LruRecord{}, errors.Wrapf(err, "corrupt lru record %s", path)
	}
	return rec, nil
}

func writeLruRecordAt(path string, rec LruRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return errors.Wrap(err, "unable to create lru record directory")
	}
	return os.WriteFile(path, encodeLru(rec), filePermissions)
}

func (c *Cache) readRecord(name string) (LruRecord, error) {
	return readLruRecordAt(c.recordPathForName(name))
}

func (c *Cache) writeRecord(name string, rec LruRecord) error {
	return writeLruRecordAt(c.recordPathForName(name), rec)
}

// ensureAdminList creates the ADMIN/lru head sentinel if it doesn't already
// exist, representing an empty list (prev == next == headName, size 0).
func (c *Cache) ensureAdminList() error {
	if _, err := os.Stat(adminLruPath(c.root)); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return errors.Wrap(err, "unable to stat admin lru record")
	}
	return c.writeRecord(headName, LruRecord{Prev: headName, Next: headName})
}

// headSize returns the aggregate size recorded on the head sentinel
// (spec invariant 4: "head.sz == Σ entries.sz at every point outside a
// critical section").
func (c *Cache) headSize() (uint64, error) {
	head, err := c.readRecord(headName)
	if err != nil {
		return 0, err
	}
	return head.Size, nil
}

// linkAtHead splices name in as the most-recently-used entry, with the
// given size, and updates the head sentinel's aggregate size. It does not
// check capacity; callers must call mkRoom first.
func (c *Cache) linkAtHead(name string, size uint64, lastAccessNs int64) error {
	head, err := c.readRecord(headName)
	if err != nil {
		return err
	}

	oldFirst := head.Next
	if err := c.writeRecord(name, LruRecord{Prev: headName, Next: oldFirst, Size: size, LastAccessNs: lastAccessNs}); err != nil {
		return err
	}
	if oldFirst != headName {
		first, err := c.readRecord(oldFirst)
		if err != nil {
			return err
		}
		first.Prev = name
		if err := c.writeRecord(oldFirst, first); err != nil {
			return err
		}
	}
	head.Next = name
	if head.Prev == headName {
		head.Prev = name // list was empty; name is now both head and tail
	}
	head.Size += size
	return c.writeRecord(headName, head)
}

// unlink removes name from the list, adjusting its neighbors and the head
// sentinel's aggregate size. It is a no-op error if name's own record is
// missing (already removed).
func (c *Cache) unlink(name string) error {
	rec, err := c.readRecord(name)
	if err != nil {
		return err
	}

	if rec.Prev == headName {
		head, err := c.readRecord(headName)
		if err != nil {
			return err
		}
		head.Next = rec.Next
		if err := c.writeRecord(headName, head); err != nil {
			return err
		}
	} else {
		prev, err := c.readRecord(rec.Prev)
		if err != nil {
			return err
		}
		prev.Next = rec.Next
		if err := c.writeRecord(rec.Prev, prev); err != nil {
			return err
		}
	}

	if rec.Next == headName {
		head, err := c.readRecord(headName)
		if err != nil {
			return err
		}
		head.Prev = rec.Prev
		if err := c.writeRecord(headName, head); err != nil {
			return err
		}
	} else {
		next, err := c.readRecord(rec.Next)
		if err != nil {
			return err
		}
		next.Prev = rec.Prev
		if err := c.writeRecord(rec.Next, next); err != nil {
			return err
		}
	}

	head, err := c.readRecord(headName)
	if err != nil {
		return err
	}
	head.Size -= rec.Size
	if err := c.writeRecord(headName, head); err != nil {
		return err
	}

	c.index.Remove(name)
	return nil
}

// touch moves an existing entry to the head of the list without changing
// its size, used by download's "reinserts at head" step (spec §4.4.2).
func (c *Cache) touch(name string, lastAccessNs int64) error {
	rec, err := c.readRecord(name)
	if err != nil {
		return err
	}
	if err := c.unlink(name); err != nil {
		return err
	}
	if err := c.linkAtHead(name, rec.Size, lastAccessNs); err != nil {
		return err
	}
	c.index.Add(name, rec.Size)
	return nil
}

// mkRoom implements _mk_room(old_sz, new_sz) (spec §4.4.3): drops entries
// from the tail until head.sz - old_sz + new_sz <= sz_max. new_sz exceeding
// sz_max outright is rejected.
func (c *Cache) mkRoom(oldSz, newSz uint64) error {
	if newSz > c.sizeMax {
		return errors.Errorf("entry size %d exceeds cache capacity %d", newSz, c.sizeMax)
	}

	head, err := c.readRecord(headName)
	if err != nil {
		return err
	}

	for head.Size-oldSz+newSz > c.sizeMax {
		if head.Prev == headName {
			return errors.New("cache has no more entries to evict but still lacks room")
		}
		tail := head.Prev
		// unlink reads the entry's own lru record, so it runs before the
		// entry's directory is removed.
		if err := c.unlink(tail); err != nil {
			return err
		}
		if err := c.removeEntryFiles(tail); err != nil {
			return err
		}
		head, err = c.readRecord(headName)
		if err != nil {
			return err
		}
	}
	return nil
}

// removeEntryFiles deletes an entry's directory (info/deps/data/lru) given
// its list name.
func (c *Cache) removeEntryFiles(name string) error {
	dir := filepath.Join(c.root, name)
	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrapf(err, "unable to remove evicted cache entry %s", name)
	}
	return nil
}

// loadIndex rebuilds the in-memory mirror by walking the on-disk list from
// the head, without a full filesystem walk (spec §4 domain stack: "avoiding
// a full directory walk on every match").
func (c *Cache) loadIndex() error {
	head, err := c.readRecord(headName)
	if err != nil {
		return err
	}

	seen := make(map[string]bool)
	name := head.Next
	for name != headName {
		if seen[name] {
			return errors.New("cycle detected in on-disk lru list")
		}
		seen[name] = true

		rec, err := c.readRecord(name)
		if err != nil {
			return err
		}
		c.index.Add(name, rec.Size)
		name = rec.Next
	}
	return nil
}

// jobCandidates returns every repo_crc directory found on disk in the given
// job identity's own directory.
func (c *Cache) jobCandidates(job string) []string {
	prefix := jobDirName(job) + "/"
	var candidates []string
	// groupcache/lru.Cache has no iteration API, so candidates are tracked
	// alongside it via a directory listing of the job's own shard, which is
	// already narrowed to just this job's entries rather than the whole
	// cache root.
	entries, err := os.ReadDir(filepath.Join(c.root, strings.TrimSuffix(prefix, "/")))
	if err != nil {
		return nil
	}
	for _, e := range entries {
		if e.IsDir() {
			candidates = append(candidates, e.Name())
		}
	}
	return candidates
}
