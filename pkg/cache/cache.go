// Package cache implements the content-addressed job cache (spec §4.4): a
// size-bounded LRU store mapping (job identity, deps content) to a job's
// recorded outputs. It offers Match, Download, UploadReserve, Commit, and
// Dismiss, and is safe for concurrent use from multiple processes sharing
// the same cache root via a single advisory file lock (spec §4.4.4).
package cache

import (
	"os"
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/pkg/errors"

	"github.com/cesar-douady/open-lmake-sub004/pkg/lockfile"
	"github.com/cesar-douady/open-lmake-sub004/pkg/logging"
	"github.com/cesar-douady/open-lmake-sub004/pkg/must"
)

// dirPermissions and filePermissions are applied to every path the cache
// creates under its root.
const (
	dirPermissions  = 0o755
	filePermissions = 0o644
)

// Cache is a single content-addressed job cache rooted at a directory on
// disk. One *Cache should be constructed per process per cache root; the
// advisory lock it holds coordinates with other processes sharing the same
// root, while its internal mutex coordinates goroutines within this process.
type Cache struct {
	root   string
	sizeMax uint64
	logger *logging.Logger

	locker *lockfile.Locker

	// mu serializes structural cache operations within this process; the
	// Locker additionally serializes them across processes (spec §4.4.4:
	// "a single LockedFd on the cache root serializes structural changes").
	mu sync.Mutex

	// index mirrors the on-disk ADMIN/lru list in memory, keyed by list
	// name ("<job-dir>/<repo_crc>") with each entry's size as value. Match
	// does not consult it: its candidates come from a listing of the job's
	// own directory (jobCandidates). The on-disk records remain the source
	// of truth; index is filled from them by Open and kept in sync
	// incrementally by Commit, touch and unlink. MaxEntries 0 disables
	// size-based eviction of the mirror itself: eviction is driven
	// entirely by the on-disk LRU list and _mk_room, not by this index.
	index *lru.Cache

	// reservations tracks the size reserved by each outstanding
	// upload_reserve key; Commit rejects keys absent from it and accounts
	// the new entry at that size, and Commit/Dismiss remove the key.
	// mkRoom does not count outstanding reservations: it compares only the
	// committed size on the head record against sz_max.
	reservations map[string]uint64
}

// Open opens (creating if necessary) the cache rooted at root, with sz_max
// bytes as the total size budget enforced by eviction.
func Open(root string, sizeMax uint64, logger *logging.Logger) (*Cache, error) {
	if err := os.MkdirAll(root, dirPermissions); err != nil {
		return nil, errors.Wrap(err, "unable to create cache root")
	}
	if err := os.MkdirAll(reservedDir(root), dirPermissions); err != nil {
		return nil, errors.Wrap(err, "unable to create reserved-upload directory")
	}

	locker, err := lockfile.NewLocker(adminLockPath(root), filePermissions)
	if err != nil {
		return nil, errors.Wrap(err, "unable to open cache lock file")
	}

	c := &Cache{
		root:         root,
		sizeMax:      sizeMax,
		logger:       logger.Sublogger("cache"),
		locker:       locker,
		index:        lru.New(0),
		reservations: make(map[string]uint64),
	}

	if err := c.ensureAdminList(); err != nil {
		must.Close(locker, c.logger)
		return nil, err
	}

	if err := c.loadIndex(); err != nil {
		c.logger.Warn(errors.Wrap(err, "unable to load cache index; a repair pass may be needed"))
	}

	return c, nil
}

// Close releases the cache's advisory lock.
func (c *Cache) Close() error {
	return c.locker.Close()
}

// withExclusive runs fn while holding both the in-process mutex and the
// cross-process exclusive advisory lock, matching spec §4.4.4: "download
// upgrades to exclusive because it touches LRU", and commit/eviction are
// always exclusive.
func (c *Cache) withExclusive(fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.locker.Lock(true); err != nil {
		return errors.Wrap(err, "unable to acquire exclusive cache lock")
	}
	defer must.Unlock(c.locker, c.logger)

	return fn()
}

