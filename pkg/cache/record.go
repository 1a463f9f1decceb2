package cache

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/cesar-douady/open-lmake-sub004/pkg/depmodel"
	"github.com/cesar-douady/open-lmake-sub004/pkg/lmake"
)

// CacheDep is the compact, match-relevant projection of a depmodel.DepDigest
// persisted in an entry's "deps" file (spec §4.4.1: "compact serialized
// deps for fast matching").
type CacheDep struct {
	File     depmodel.Path
	Crc      depmodel.Crc
	Accesses depmodel.Accesses
	Dflags   depmodel.Dflag
}

// CacheTarget is the per-target record persisted in an entry's "info" file,
// giving the byte range of each target's content within the concatenated
// "data" file (spec §6: "boundaries are given by per-target sizes inside
// info").
type CacheTarget struct {
	File depmodel.Path
	Size uint64
	Crc  depmodel.Crc
	Sig  depmodel.FileSig
}

// JobInfo is the job meta-data blob persisted as an entry's "info" file.
type JobInfo struct {
	Targets []CacheTarget
	Msg     string
}

// LruRecord is the link record persisted per spec §6, with the four fields
// {prev, next, size, last_access}. The global ADMIN/lru head sentinel uses
// the same record shape; a Prev or Next equal to headName (the empty list
// name) points at the head during a list walk.
type LruRecord struct {
	Prev        string
	Next        string
	Size        uint64
	LastAccessNs int64
}

// --- shared little encoding helpers, mirroring pkg/autodep/event's
// self-contained marshal style: each wire/on-disk format owns its own
// append/reader helpers rather than sharing a generic codec. ---

func appendUvarint(buf []byte, v uint64) []byte {
	var scratch [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(scratch[:], v)
	return append(buf, scratch[:n]...)
}

func appendString(buf []byte, s string) []byte {
	buf = appendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var scratch [8]byte
	binary.BigEndian.PutUint64(scratch[:], v)
	return append(buf, scratch[:]...)
}

func appendInt64(buf []byte, v int64) []byte {
	return appendUint64(buf, uint64(v))
}

func appendCrc(buf []byte, c depmodel.Crc) []byte {
	encoded, _ := c.MarshalBinary()
	return append(buf, encoded...)
}

func appendFileSig(buf []byte, sig depmodel.FileSig) []byte {
	buf = appendUint64(buf, sig.Device)
	buf = appendUint64(buf, sig.Inode)
	buf = appendInt64(buf, sig.ModTimeNs)
	return append(buf, byte(sig.Kind))
}

type recordReader struct {
	data []byte
	pos  int
}

func (r *recordReader) byte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, errors.New("unexpected end of record")
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *recordReader) ReadByte() (byte, error) { return r.byte() }

func (r *recordReader) bytesN(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) {
		return nil, errors.New("unexpected end of record")
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *recordReader) uvarint() (uint64, error) {
	v, err := binary.ReadUvarint(r)
	if err != nil {
		return 0, errors.Wrap(err, "unable to read varint")
	}
	return v, nil
}

func (r *recordReader) string() (string, error) {
	length, err := r.uvarint()
	if err != nil {
		return "", err
	}
	b, err := r.bytesN(int(length))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *recordReader) uint64() (uint64, error) {
	b, err := r.bytesN(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *recordReader) int64() (int64, error) {
	v, err := r.uint64()
	return int64(v), err
}

func (r *recordReader) crc() (depmodel.Crc, error) {
	b, err := r.bytesN(1 + 32) // crcTag byte + sha256.Size
	if err != nil {
		return depmodel.Crc{}, err
	}
	var c depmodel.Crc
	if err := c.UnmarshalBinary(b); err != nil {
		return depmodel.Crc{}, err
	}
	return c, nil
}

func (r *recordReader) fileSig() (depmodel.FileSig, error) {
	device, err := r.uint64()
	if err != nil {
		return depmodel.FileSig{}, err
	}
	inode, err := r.uint64()
	if err != nil {
		return depmodel.FileSig{}, err
	}
	modTimeNs, err := r.int64()
	if err != nil {
		return depmodel.FileSig{}, err
	}
	kind, err := r.byte()
	if err != nil {
		return depmodel.FileSig{}, err
	}
	return depmodel.FileSig{Device: device, Inode: inode, ModTimeNs: modTimeNs, Kind: depmodel.FileKind(kind)}, nil
}

func checkVersion(r *recordReader) error {
	version, err := r.byte()
	if err != nil {
		return err
	}
	if version != lmake.CacheFormatVersion {
		return errors.Errorf("unsupported cache record format version %d", version)
	}
	return nil
}

// encodeDeps serializes an entry's []CacheDep (spec §6: "deps ... serialized by a
// stable, endian-independent, versioned encoding").
func encodeDeps(deps []CacheDep) []byte {
	buf := []byte{lmake.CacheFormatVersion}
	buf = appendUvarint(buf, uint64(len(deps)))
	for _, d := range deps {
		buf = appendString(buf, string(d.File))
		buf = appendCrc(buf, d.Crc)
		buf = append(buf, byte(d.Accesses))
		buf = appendUvarint(buf, uint64(d.Dflags))
	}
	return buf
}

// decodeDeps is the inverse of encodeDeps. A corrupt deps file yields an
// error; callers must treat that as "skip this candidate", not fatal (spec
// §4.4.5).
func decodeDeps(data []byte) ([]CacheDep, error) {
	r := &recordReader{data: data}
	if err := checkVersion(r); err != nil {
		return nil, err
	}
	n, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	deps := make([]CacheDep, 0, n)
	for i := uint64(0); i < n; i++ {
		file, err := r.string()
		if err != nil {
			return nil, err
		}
		crc, err := r.crc()
		if err != nil {
			return nil, err
		}
		accesses, err := r.byte()
		if err != nil {
			return nil, err
		}
		dflags, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		deps = append(deps, CacheDep{
			File:     depmodel.Path(file),
			Crc:      crc,
			Accesses: depmodel.Accesses(accesses),
			Dflags:   depmodel.Dflag(dflags),
		})
	}
	return deps, nil
}

// encodeInfo serializes a JobInfo.
func encodeInfo(info JobInfo) []byte {
	buf := []byte{lmake.CacheFormatVersion}
	buf = appendUvarint(buf, uint64(len(info.Targets)))
	for _, tg := range info.Targets {
		buf = appendString(buf, string(tg.File))
		buf = appendUvarint(buf, tg.Size)
		buf = appendCrc(buf, tg.Crc)
		buf = appendFileSig(buf, tg.Sig)
	}
	buf = appendString(buf, info.Msg)
	return buf
}

// decodeInfo is the inverse of encodeInfo.
func decodeInfo(data []byte) (JobInfo, error) {
	r := &recordReader{data: data}
	if err := checkVersion(r); err != nil {
		return JobInfo{}, err
	}
	n, err := r.uvarint()
	if err != nil {
		return JobInfo{}, err
	}
	targets := make([]CacheTarget, 0, n)
	for i := uint64(0); i < n; i++ {
		file, err := r.string()
		if err != nil {
			return JobInfo{}, err
		}
		size, err := r.uvarint()
		if err != nil {
			return JobInfo{}, err
		}
		crc, err := r.crc()
		if err != nil {
			return JobInfo{}, err
		}
		sig, err := r.fileSig()
		if err != nil {
			return JobInfo{}, err
		}
		targets = append(targets, CacheTarget{File: depmodel.Path(file), Size: size, Crc: crc, Sig: sig})
	}
	msg, err := r.string()
	if err != nil {
		return JobInfo{}, err
	}
	return JobInfo{Targets: targets, Msg: msg}, nil
}

// encodeLru serializes an LruRecord.
func encodeLru(rec LruRecord) []byte {
	buf := []byte{lmake.CacheFormatVersion}
	buf = appendString(buf, rec.Prev)
	buf = appendString(buf, rec.Next)
	buf = appendUint64(buf, rec.Size)
	buf = appendInt64(buf, rec.LastAccessNs)
	return buf
}

// decodeLru is the inverse of encodeLru. A corrupt lru record must trigger
// the repair pass rather than being treated as fatal (spec §4.4.5).
func decodeLru(data []byte) (LruRecord, error) {
	r := &recordReader{data: data}
	if err := checkVersion(r); err != nil {
		return LruRecord{}, err
	}
	prev, err := r.string()
	if err != nil {
		return LruRecord{}, err
	}
	next, err := r.string()
	if err != nil {
		return LruRecord{}, err
	}
	size, err := r.uint64()
	if err != nil {
		return LruRecord{}, err
	}
	lastAccessNs, err := r.int64()
	if err != nil {
		return LruRecord{}, err
	}
	return LruRecord{Prev: prev, Next: next, Size: size, LastAccessNs: lastAccessNs}, nil
}
