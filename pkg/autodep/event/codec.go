// Package event implements the length-prefixed wire framing used between a
// traced job and the gatherer: "u32 length | payload", where payload encodes
// a depmodel.AccessEvent. The encoding is hand-rolled rather than generated
// from a schema (no protoc is available in this module), but follows the
// same streaming-encoder/streaming-decoder shape as a generated codec would:
// a persistent, size-capped buffer reused across messages so a long-lived
// connection doesn't allocate per event.
package event

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/cesar-douady/open-lmake-sub004/pkg/depmodel"
)

const (
	// encoderInitialBufferSize is the initial buffer size for encoders.
	encoderInitialBufferSize = 4 * 1024
	// encoderMaximumPersistentBufferSize is the maximum buffer size that the
	// encoder will keep allocated between messages.
	encoderMaximumPersistentBufferSize = 256 * 1024

	// decoderReaderBufferSize is the size of the buffered reader used by
	// Decoder.
	decoderReaderBufferSize = 32 * 1024
	// decoderInitialBufferSize is the initial buffer size for decoders.
	decoderInitialBufferSize = 4 * 1024
	// decoderMaximumAllowedMessageSize is the maximum message size that will
	// be read from the wire; anything larger is treated as a protocol
	// error rather than an allocation hazard.
	decoderMaximumAllowedMessageSize = 16 * 1024 * 1024
	// decoderMaximumPersistentBufferSize is the maximum buffer size that the
	// decoder will keep allocated between messages.
	decoderMaximumPersistentBufferSize = 256 * 1024
)

// Sync classifies whether a reply is expected on the same connection after a
// given AccessEvent.
type Sync uint8

const (
	SyncNo Sync = iota
	SyncMaybe
	SyncYes
)

// Message is a single framed unit of the child-gatherer wire protocol: an
// AccessEvent plus the diagnostic/sync metadata that rides alongside it.
type Message struct {
	Event        depmodel.AccessEvent
	Comment      uint8
	CommentExts  uint16
	Sync         Sync
}

// Encoder is a stream encoder for Messages.
type Encoder struct {
	writer io.Writer
	buffer []byte
}

// NewEncoder creates a new stream encoder writing to writer.
func NewEncoder(writer io.Writer) *Encoder {
	return &Encoder{
		writer: writer,
		buffer: make([]byte, 0, encoderInitialBufferSize),
	}
}

// Encode marshals msg and writes it, length-prefixed, to the underlying
// stream.
func (e *Encoder) Encode(msg *Message) error {
	e.buffer = e.buffer[:0]
	e.buffer = marshalMessage(e.buffer, msg)

	var lengthPrefix [4]byte
	binary.BigEndian.PutUint32(lengthPrefix[:], uint32(len(e.buffer)))
	if _, err := e.writer.Write(lengthPrefix[:]); err != nil {
		return errors.Wrap(err, "unable to write message length")
	}
	if _, err := e.writer.Write(e.buffer); err != nil {
		return errors.Wrap(err, "unable to write message")
	}

	if cap(e.buffer) > encoderMaximumPersistentBufferSize {
		e.buffer = make([]byte, 0, encoderInitialBufferSize)
	}

	return nil
}

// Decoder is a stream decoder for Messages. It wraps the underlying stream
// in a buffered reader and so, like a generated streaming decoder, should
// persist for the lifetime of the connection.
type Decoder struct {
	reader *bufio.Reader
	buffer []byte
}

// NewDecoder creates a new stream decoder reading from reader.
func NewDecoder(reader io.Reader) *Decoder {
	return &Decoder{
		reader: bufio.NewReaderSize(reader, decoderReaderBufferSize),
		buffer: make([]byte, decoderInitialBufferSize),
	}
}

func (d *Decoder) bufferWithSize(size int) []byte {
	if cap(d.buffer) >= size {
		return d.buffer[:size]
	}
	result := make([]byte, size)
	if size <= decoderMaximumPersistentBufferSize {
		d.buffer = result
	}
	return result
}

// Decode reads and unmarshals the next Message from the underlying stream.
func (d *Decoder) Decode() (*Message, error) {
	var lengthPrefix [4]byte
	if _, err := io.ReadFull(d.reader, lengthPrefix[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, errors.Wrap(err, "unable to read message length")
	}
	length := binary.BigEndian.Uint32(lengthPrefix[:])
	if length > decoderMaximumAllowedMessageSize {
		return nil, errors.New("message size too large")
	}

	payload := d.bufferWithSize(int(length))
	if _, err := io.ReadFull(d.reader, payload); err != nil {
		return nil, errors.Wrap(err, "unable to read message")
	}

	return unmarshalMessage(payload)
}
