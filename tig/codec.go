package tig

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/golang/snappy"
)

type Compression string

const SnappyCompression Compression = "snappy"
const NoCompression Compression = "none"

// A framed tig record is:
//
//	magic (4) | flags (1) | payload length (4, LE) | crc32c of payload (4, LE) | payload
//
// The payload is snappy-compressed when flagSnappy is set.
const (
	recordMagic = "TIG1"
	flagSnappy  = 1 << 0

	HeaderSize = 4 + 1 + 4 + 4

	fixedPayloadSize = 4 + 4 + 4 + 4 + 1 + 1 + 4 + 4
	childSize        = 12

	// MaxPayloadSize bounds a single stored payload, compressed or not.
	MaxPayloadSize = 1 << 31
)

var ErrCorrupt = errors.New("corrupt tig record")

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func ValidCompression(c Compression) bool {
	return c == SnappyCompression || c == NoCompression
}

// Marshal encodes t as one framed record.
func Marshal(t *Tig, compression Compression) ([]byte, error) {
	if !ValidCompression(compression) {
		return nil, fmt.Errorf("unrecognized compression: %q", compression)
	}

	payload := encodePayload(t)
	var flags byte
	if compression == SnappyCompression {
		payload = snappy.Encode(nil, payload)
		flags |= flagSnappy
	}

	if len(payload) >= MaxPayloadSize {
		return nil, fmt.Errorf("tig %d: payload of %d bytes is too large", t.ID, len(payload))
	}

	b := make([]byte, HeaderSize+len(payload))
	copy(b, recordMagic)
	b[4] = flags
	binary.LittleEndian.PutUint32(b[5:], uint32(len(payload)))
	binary.LittleEndian.PutUint32(b[9:], crc32.Checksum(payload, castagnoli))
	copy(b[HeaderSize:], payload)
	return b, nil
}

// Unmarshal decodes a single framed record that makes up all of b.
func Unmarshal(b []byte) (*Tig, error) {
	if len(b) < HeaderSize {
		return nil, ErrCorrupt
	}

	flags, length, sum, err := parseHeader(b[:HeaderSize])
	if err != nil {
		return nil, err
	}

	if int(length) != len(b)-HeaderSize {
		return nil, fmt.Errorf("%w: payload length %d, have %d bytes", ErrCorrupt, length, len(b)-HeaderSize)
	}

	return decodeFramed(flags, sum, b[HeaderSize:])
}

// ReadFrom reads one framed record from r, returning the tig and the number of
// bytes consumed. A clean end of stream before the header returns io.EOF.
func ReadFrom(r io.Reader) (*Tig, int64, error) {
	var header [HeaderSize]byte
	n, err := io.ReadFull(r, header[:])
	if err == io.EOF {
		return nil, 0, io.EOF
	} else if err != nil {
		return nil, int64(n), truncated(err)
	}

	flags, length, sum, err := parseHeader(header[:])
	if err != nil {
		return nil, int64(n), err
	}

	payload := make([]byte, length)
	m, err := io.ReadFull(r, payload)
	if err != nil {
		return nil, int64(n + m), truncated(err)
	}

	t, err := decodeFramed(flags, sum, payload)
	return t, int64(n + m), err
}

func truncated(err error) error {
	if err == io.ErrUnexpectedEOF {
		return fmt.Errorf("%w: truncated record", ErrCorrupt)
	}
	return err
}

func parseHeader(h []byte) (flags byte, length, sum uint32, err error) {
	if string(h[:4]) != recordMagic {
		return 0, 0, 0, fmt.Errorf("%w: bad magic %q", ErrCorrupt, h[:4])
	}

	flags = h[4]
	if flags&^flagSnappy != 0 {
		return 0, 0, 0, fmt.Errorf("%w: unknown flags %#x", ErrCorrupt, flags)
	}

	length = binary.LittleEndian.Uint32(h[5:])
	if length >= MaxPayloadSize {
		return 0, 0, 0, fmt.Errorf("%w: payload length %d", ErrCorrupt, length)
	}

	sum = binary.LittleEndian.Uint32(h[9:])
	return flags, length, sum, nil
}

func decodeFramed(flags byte, sum uint32, payload []byte) (*Tig, error) {
	if crc32.Checksum(payload, castagnoli) != sum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	if flags&flagSnappy != 0 {
		var err error
		payload, err = snappy.Decode(nil, payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrCorrupt, err)
		}
	}

	return decodePayload(payload)
}

func encodePayload(t *Tig) []byte {
	b := make([]byte, fixedPayloadSize+childSize*len(t.Children)+len(t.Body))
	le := binary.LittleEndian

	le.PutUint32(b[0:], t.ID)
	le.PutUint32(b[4:], t.SourceID)
	le.PutUint32(b[8:], t.SourceBgn)
	le.PutUint32(b[12:], t.SourceEnd)
	b[16] = byte(t.Class)
	b[17] = boolFlags(t.SuggestRepeat, t.SuggestCircular)
	le.PutUint32(b[18:], uint32(len(t.Children)))

	off := 22
	for _, c := range t.Children {
		le.PutUint32(b[off:], c.ReadID)
		le.PutUint32(b[off+4:], uint32(c.Bgn))
		le.PutUint32(b[off+8:], uint32(c.End))
		off += childSize
	}

	le.PutUint32(b[off:], uint32(len(t.Body)))
	copy(b[off+4:], t.Body)
	return b
}

func decodePayload(b []byte) (*Tig, error) {
	if len(b) < fixedPayloadSize {
		return nil, fmt.Errorf("%w: payload too short", ErrCorrupt)
	}

	le := binary.LittleEndian
	t := &Tig{
		ID:        le.Uint32(b[0:]),
		SourceID:  le.Uint32(b[4:]),
		SourceBgn: le.Uint32(b[8:]),
		SourceEnd: le.Uint32(b[12:]),
		Class:     Class(b[16]),
	}
	t.SuggestRepeat, t.SuggestCircular = splitFlags(b[17])

	numChildren := int(le.Uint32(b[18:]))
	off := 22
	if numChildren > (len(b)-fixedPayloadSize)/childSize {
		return nil, fmt.Errorf("%w: %d children don't fit in %d bytes", ErrCorrupt, numChildren, len(b))
	}

	if numChildren > 0 {
		t.Children = make([]Child, numChildren)
		for i := range t.Children {
			t.Children[i] = Child{
				ReadID: le.Uint32(b[off:]),
				Bgn:    int32(le.Uint32(b[off+4:])),
				End:    int32(le.Uint32(b[off+8:])),
			}
			off += childSize
		}
	}

	bodyLen := int(le.Uint32(b[off:]))
	off += 4
	if bodyLen != len(b)-off {
		return nil, fmt.Errorf("%w: body length %d, have %d bytes", ErrCorrupt, bodyLen, len(b)-off)
	}

	if bodyLen > 0 {
		t.Body = make([]byte, bodyLen)
		copy(t.Body, b[off:])
	}

	return t, nil
}

func boolFlags(repeat, circular bool) byte {
	var f byte
	if repeat {
		f |= 1
	}
	if circular {
		f |= 2
	}
	return f
}

func splitFlags(f byte) (repeat, circular bool) {
	return f&1 != 0, f&2 != 0
}
