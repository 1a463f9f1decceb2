package event

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/cesar-douady/open-lmake-sub004/pkg/depmodel"
	"github.com/cesar-douady/open-lmake-sub004/pkg/lmake"
)

// Wire representation of Digest.Dflags/Tflags: the tracer only ever knows
// the core flag bits at access time (extra flags and the dep/target split
// itself are resolved later by the gatherer against rule configuration), so
// the wire "flags" field packs Dflags into the low 16 bits and Tflags into
// the high 16 bits; ExtraDflags/ExtraTflags never cross the wire and are
// zero on decode.
const (
	bitReadDir    = 1 << 0
	bitForceIsDep = 1 << 1
	bitHasFile    = 1 << 2
)

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

func appendUint32(buf []byte, v uint32) []byte {
	var scratch [4]byte
	binary.BigEndian.PutUint32(scratch[:], v)
	return append(buf, scratch[:]...)
}

func appendUint16(buf []byte, v uint16) []byte {
	var scratch [2]byte
	binary.BigEndian.PutUint16(scratch[:], v)
	return append(buf, scratch[:]...)
}

func marshalMessage(buf []byte, msg *Message) []byte {
	buf = append(buf, lmake.WireFormatVersion)
	buf = append(buf, byte(msg.Event.Proc))
	buf = appendInt64(buf, msg.Event.TimestampNs)
	buf = appendString(buf, string(msg.Event.File))

	d := msg.Event.Digest
	buf = append(buf, byte(d.Accesses))
	buf = append(buf, byte(d.Write))
	flags := uint32(d.Dflags) | uint32(d.Tflags)<<16
	buf = appendUint32(buf, flags)
	var bits byte
	if d.ReadDir {
		bits |= bitReadDir
	}
	if d.ForceIsDep {
		bits |= bitForceIsDep
	}
	if msg.Event.FileInfo != nil {
		bits |= bitHasFile
	}
	buf = append(buf, bits)
	buf = appendUint64(buf, d.ID)

	if msg.Event.FileInfo != nil {
		sig := msg.Event.FileInfo.Sig
		buf = appendUint64(buf, sig.Device)
		buf = appendUint64(buf, sig.Inode)
		buf = appendInt64(buf, sig.ModTimeNs)
		buf = append(buf, byte(sig.Kind))
	}

	buf = append(buf, msg.Comment)
	buf = appendUint16(buf, msg.CommentExts)
	buf = append(buf, byte(msg.Sync))
	buf = appendString(buf, msg.Event.Message)

	return buf
}

// reader is a minimal cursor over a fixed byte slice, used for unmarshaling
// a single message payload already fully buffered in memory.
type reader struct {
	data []byte
	pos  int
}

func (r *reader) byte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, errors.New("unexpected end of message")
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) bytesN(n int) ([]byte, error) {
	if r.pos+n > len(r.data) {
		return nil, errors.New("unexpected end of message")
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) uint64() (uint64, error) {
	b, err := r.bytesN(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *reader) int64() (int64, error) {
	v, err := r.uint64()
	return int64(v), err
}

func (r *reader) uint32() (uint32, error) {
	b, err := r.bytesN(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *reader) uint16() (uint16, error) {
	b, err := r.bytesN(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *reader) uvarint() (uint64, error) {
	v, err := binary.ReadUvarint(r)
	if err != nil {
		return 0, errors.Wrap(err, "unable to read varint")
	}
	return v, nil
}

// ReadByte implements io.ByteReader so reader can back binary.ReadUvarint.
func (r *reader) ReadByte() (byte, error) {
	return r.byte()
}

func (r *reader) string() (string, error) {
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

func unmarshalMessage(payload []byte) (*Message, error) {
	r := &reader{data: payload}

	version, err := r.byte()
	if err != nil {
		return nil, err
	}
	if version != lmake.WireFormatVersion {
		return nil, errors.Errorf("unsupported wire format version %d", version)
	}

	procByte, err := r.byte()
	if err != nil {
		return nil, err
	}
	timestamp, err := r.int64()
	if err != nil {
		return nil, err
	}
	file, err := r.string()
	if err != nil {
		return nil, err
	}

	accessesByte, err := r.byte()
	if err != nil {
		return nil, err
	}
	writeByte, err := r.byte()
	if err != nil {
		return nil, err
	}
	flags, err := r.uint32()
	if err != nil {
		return nil, err
	}
	bits, err := r.byte()
	if err != nil {
		return nil, err
	}
	id, err := r.uint64()
	if err != nil {
		return nil, err
	}

	var fileInfo *depmodel.FileInfo
	if bits&bitHasFile != 0 {
		device, err := r.uint64()
		if err != nil {
			return nil, err
		}
		inode, err := r.uint64()
		if err != nil {
			return nil, err
		}
		modTimeNs, err := r.int64()
		if err != nil {
			return nil, err
		}
		kindByte, err := r.byte()
		if err != nil {
			return nil, err
		}
		fileInfo = &depmodel.FileInfo{Sig: depmodel.FileSig{
			Device:    device,
			Inode:     inode,
			ModTimeNs: modTimeNs,
			Kind:      depmodel.FileKind(kindByte),
		}}
	}

	comment, err := r.byte()
	if err != nil {
		return nil, err
	}
	commentExts, err := r.uint16()
	if err != nil {
		return nil, err
	}
	syncByte, err := r.byte()
	if err != nil {
		return nil, err
	}
	message, err := r.string()
	if err != nil {
		return nil, err
	}

	return &Message{
		Event: depmodel.AccessEvent{
			TimestampNs: timestamp,
			Proc:        depmodel.ProcKind(procByte),
			File:        depmodel.Path(file),
			Digest: depmodel.Digest{
				Accesses:   depmodel.Accesses(accessesByte),
				Write:      depmodel.Write(writeByte),
				Dflags:     depmodel.Dflag(flags & 0xffff),
				Tflags:     depmodel.Tflag(flags >> 16),
				ReadDir:    bits&bitReadDir != 0,
				ForceIsDep: bits&bitForceIsDep != 0,
				ID:         id,
			},
			FileInfo: fileInfo,
			Message:  message,
		},
		Comment:     comment,
		CommentExts: commentExts,
		Sync:        Sync(syncByte),
	}, nil
}
