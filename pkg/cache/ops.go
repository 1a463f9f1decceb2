package cache

import (
	"io"
	"os"

	"github.com/DataDog/zstd"
	"github.com/pkg/errors"

	"github.com/cesar-douady/open-lmake-sub004/pkg/depmodel"
	"github.com/cesar-douady/open-lmake-sub004/pkg/identifier"
	"github.com/cesar-douady/open-lmake-sub004/pkg/must"
	"github.com/cesar-douady/open-lmake-sub004/pkg/timeutil"
)

// compressedWriter compresses everything written to it with zstd before it
// reaches the underlying reserved-upload file, so cache entries store
// compressed target data on disk (spec §9 supplemented feature).
type compressedWriter struct {
	zw *zstd.Writer
	f  *os.File
}

func (w *compressedWriter) Write(p []byte) (int, error) { return w.zw.Write(p) }

func (w *compressedWriter) Close() error {
	zErr := w.zw.Close()
	fErr := w.f.Close()
	if zErr != nil {
		return errors.Wrap(zErr, "unable to flush compressed upload data")
	}
	return fErr
}

// decompressedReader transparently decompresses a cache entry's on-disk
// data file as it is downloaded.
type decompressedReader struct {
	zr *zstd.Reader
	f  *os.File
}

func (r *decompressedReader) Read(p []byte) (int, error) { return r.zr.Read(p) }

func (r *decompressedReader) Close() error {
	zErr := r.zr.Close()
	fErr := r.f.Close()
	if zErr != nil {
		return errors.Wrap(zErr, "unable to close decompressed cache entry reader")
	}
	return fErr
}

// Download implements spec §4.4.2's download: it removes the entry from the
// LRU list and reinserts it at the head, then returns a reader over its
// data file, transparently decompressed, alongside the decoded JobInfo. The
// returned reader must be closed by the caller.
func (c *Cache) Download(key Key) (JobInfo, io.ReadCloser, error) {
	var info JobInfo
	var data io.ReadCloser

	err := c.withExclusive(func() error {
		name := key.listName()

		infoBytes, err := os.ReadFile(entryInfoPath(c.root, key.Job, key.RepoCrc))
		if err != nil {
			return errors.Wrap(err, "unable to read cache entry info")
		}
		info, err = decodeInfo(infoBytes)
		if err != nil {
			return errors.Wrap(err, "corrupt cache entry info")
		}

		f, err := os.Open(entryDataPath(c.root, key.Job, key.RepoCrc))
		if err != nil {
			return errors.Wrap(err, "unable to open cache entry data")
		}
		zr, err := zstd.NewReader(f)
		if err != nil {
			must.Close(f, c.logger)
			return errors.Wrap(err, "unable to open compressed cache entry data")
		}
		data = &decompressedReader{zr: zr, f: f}

		if err := c.touch(name, nowFunc()); err != nil {
			must.Close(data, c.logger)
			data = nil
			return errors.Wrap(err, "unable to promote cache entry in lru list")
		}

		return nil
	})
	if err != nil {
		return JobInfo{}, nil, err
	}
	return info, data, nil
}

// UploadReserve implements spec §4.4.2's upload_reserve: it reserves maxSz
// bytes immediately, evicting older entries if needed, and returns an
// upload key alongside a writer under ADMIN/reserved where the caller
// should stream the job's concatenated target data; the stream is
// compressed with zstd as it is written (spec §9 supplemented feature).
func (c *Cache) UploadReserve(maxSz uint64) (string, io.WriteCloser, error) {
	var uploadKey string
	var writer io.WriteCloser

	err := c.withExclusive(func() error {
		if err := c.mkRoom(0, maxSz); err != nil {
			return errors.Wrap(err, "unable to reserve cache space")
		}

		key, err := identifier.New(identifier.PrefixUpload)
		if err != nil {
			return errors.Wrap(err, "unable to mint upload reservation key")
		}
		uploadKey = key
		path := reservedDataPath(c.root, uploadKey)

		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, filePermissions)
		if err != nil {
			return errors.Wrap(err, "unable to create reserved upload file")
		}
		zw, err := zstd.NewWriter(f)
		if err != nil {
			must.Close(f, c.logger)
			return errors.Wrap(err, "unable to open compressed upload writer")
		}
		writer = &compressedWriter{zw: zw, f: f}
		c.reservations[uploadKey] = maxSz
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	return uploadKey, writer, nil
}

// Dismiss implements spec §4.4.2's dismiss: it releases a reservation and
// reclaims the space it held, discarding any partially written data.
func (c *Cache) Dismiss(uploadKey string) error {
	return c.withExclusive(func() error {
		return c.dismissLocked(uploadKey)
	})
}

func (c *Cache) dismissLocked(uploadKey string) error {
	delete(c.reservations, uploadKey)
	if err := os.Remove(reservedDataPath(c.root, uploadKey)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "unable to remove reserved upload file")
	}
	return nil
}

// Commit implements spec §4.4.2's commit: under the exclusive lock, it
// evicts any previous entry for the same key, writes info and deps, renames
// the reserved data file into place, inserts the new entry at the LRU
// head, and refreshes the job's deps_hint symlink. Any failure dismisses
// the reservation rather than leaving it dangling (spec: "all failures
// dismiss").
func (c *Cache) Commit(uploadKey string, key Key, info JobInfo, deps []CacheDep) error {
	return c.withExclusive(func() error {
		if err := c.commitLocked(uploadKey, key, info, deps); err != nil {
			_ = c.dismissLocked(uploadKey)
			return err
		}
		return nil
	})
}

func (c *Cache) commitLocked(uploadKey string, key Key, info JobInfo, deps []CacheDep) error {
	reservedSz, ok := c.reservations[uploadKey]
	if !ok {
		return errors.Errorf("unknown upload key %q", uploadKey)
	}

	reservedPath := reservedDataPath(c.root, uploadKey)
	if _, err := os.Stat(reservedPath); err != nil {
		return errors.Wrap(err, "unable to stat reserved upload data")
	}
	// The entry is accounted at the size mkRoom made room for when it was
	// reserved, not at the size of the compressed data file.
	size := reservedSz

	name := key.listName()
	if _, err := os.Stat(entryDir(c.root, key.Job, key.RepoCrc)); err == nil {
		// unlink reads the entry's own lru record, so it runs before the
		// entry's directory is removed.
		if err := c.unlink(name); err != nil {
			return err
		}
		if err := c.removeEntryFiles(name); err != nil {
			return err
		}
	}

	dir := entryDir(c.root, key.Job, key.RepoCrc)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return errors.Wrap(err, "unable to create cache entry directory")
	}

	if err := os.WriteFile(entryInfoPath(c.root, key.Job, key.RepoCrc), encodeInfo(info), filePermissions); err != nil {
		return errors.Wrap(err, "unable to write cache entry info")
	}
	if err := os.WriteFile(entryDepsPath(c.root, key.Job, key.RepoCrc), encodeDeps(deps), filePermissions); err != nil {
		return errors.Wrap(err, "unable to write cache entry deps")
	}

	committedPath := entryDataPath(c.root, key.Job, key.RepoCrc)
	if err := renameAcrossDevices(reservedPath, committedPath); err != nil {
		return errors.Wrap(err, "unable to commit cache entry data")
	}
	delete(c.reservations, uploadKey)

	if err := c.linkAtHead(name, size, nowFunc()); err != nil {
		return err
	}
	c.index.Add(name, size)

	if err := c.refreshDepsHint(key, deps); err != nil {
		c.logger.Warn(errors.Wrap(err, "unable to refresh deps_hint symlink"))
	}

	return nil
}

// refreshDepsHint points the job's deps_hint symlink at this entry. The
// hint key is computed from deps rather than the original repo_deps the
// job was matched against, since by commit time deps is the authoritative
// record of what this entry actually contains.
func (c *Cache) refreshDepsHint(key Key, deps []CacheDep) error {
	asDigests := make([]depmodel.DepDigest, len(deps))
	for i, d := range deps {
		asDigests[i] = depmodel.DepDigest{File: d.File, Crc: d.Crc}
	}
	hintPath := depsHintPath(c.root, key.Job, depsHint(asDigests))

	if err := os.MkdirAll(jobDir(c.root, key.Job), dirPermissions); err != nil {
		return err
	}
	if err := os.Remove(hintPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return os.Symlink(key.RepoCrc, hintPath)
}

var nowFunc = timeutil.NowNanoseconds
