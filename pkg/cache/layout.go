package cache

import (
	"crypto/sha1"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"
)

// On-disk layout (spec §4.4.1):
//
//	<root>/ADMIN/lock          — advisory lock file
//	<root>/ADMIN/lru           — global LRU head sentinel record
//	<root>/ADMIN/reserved/     — pending upload_reserve data files
//	<root>/<job-dir>/<repo_crc>/info
//	<root>/<job-dir>/<repo_crc>/deps
//	<root>/<job-dir>/<repo_crc>/data
//	<root>/<job-dir>/<repo_crc>/lru
//	<root>/<job-dir>/deps_hint-<hex>  — relative symlink to a repo_crc dir
//
// A job identity is an arbitrary string (typically a rule name plus
// argument digest) that may contain characters unsafe for a path
// component, so it is sharded into a directory name the same way the
// teacher's pkg/staging shards by content digest: a fixed-width hash of the
// identity used directly as the directory name, rather than the identity
// text itself.

func adminDir(root string) string       { return filepath.Join(root, "ADMIN") }
func adminLockPath(root string) string  { return filepath.Join(adminDir(root), "lock") }
func adminLruPath(root string) string   { return filepath.Join(adminDir(root), "lru") }
func reservedDir(root string) string    { return filepath.Join(adminDir(root), "reserved") }
func reservedDataPath(root, uploadKey string) string {
	return filepath.Join(reservedDir(root), uploadKey+".data")
}

// jobDirName computes the sharded directory name for a job identity.
func jobDirName(job string) string {
	sum := sha1.Sum([]byte(job))
	return fmt.Sprintf("%x", sum)
}

func jobDir(root, job string) string {
	return filepath.Join(root, jobDirName(job))
}

func entryDir(root, job, repoCrc string) string {
	return filepath.Join(jobDir(root, job), repoCrc)
}

func entryInfoPath(root, job, repoCrc string) string { return filepath.Join(entryDir(root, job, repoCrc), "info") }
func entryDepsPath(root, job, repoCrc string) string { return filepath.Join(entryDir(root, job, repoCrc), "deps") }
func entryDataPath(root, job, repoCrc string) string { return filepath.Join(entryDir(root, job, repoCrc), "data") }
func entryLruPath(root, job, repoCrc string) string  { return filepath.Join(entryDir(root, job, repoCrc), "lru") }

func depsHintPath(root, job, hex string) string {
	return filepath.Join(jobDir(root, job), "deps_hint-"+hex)
}

// Key identifies one cache entry: a logical job identity plus the repo_crc
// distinguishing this particular recorded execution of it from others with
// the same job identity but different inputs.
type Key struct {
	Job     string
	RepoCrc string
}

// listName is the string the in-memory LRU mirror and the on-disk linked
// list both use to name an entry: "<job-dir>/<repo_crc>", which doubles as
// the relative path from root to the entry's directory.
func (k Key) listName() string {
	return jobDirName(k.Job) + "/" + k.RepoCrc
}

// isCrossDeviceError reports whether err is os.Rename's EXDEV, the one
// rename failure worth falling back on rather than surfacing.
func isCrossDeviceError(err error) bool {
	linkErr, ok := err.(*os.LinkError)
	return ok && linkErr.Err == syscall.EXDEV
}

// renameAcrossDevices moves src to dst, falling back to a copy-then-remove
// when the reserved-upload area and the cache root live on different
// filesystems (ADMIN/reserved is expected to share the cache root's device,
// but nothing enforces that for a caller-supplied root).
func renameAcrossDevices(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	} else if !isCrossDeviceError(err) {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePermissions)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return errors.Wrap(err, "unable to copy across devices")
	}
	if err := out.Close(); err != nil {
		return errors.Wrap(err, "unable to close copied file")
	}
	return os.Remove(src)
}
