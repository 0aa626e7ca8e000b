package tig

import (
	"fmt"
	"io"
)

// A Reader scans the framed tig records of a data file in order.
type Reader struct {
	brs    *bufferedReadSeeker
	closed bool
	err    error

	tig    *Tig
	offset int64
	size   int64

	// end is the length of the stream, found on the first header scan.
	end int64
}

// NewReader returns a Reader positioned wherever r currently is. Callers that
// know the file has a header should skip it before scanning.
func NewReader(r io.ReadSeeker) *Reader {
	return &Reader{brs: newBufferedReadSeekerSize(r, 1<<20), end: -1}
}

// Scan advances to the next record and decodes it. It returns false at the
// end of the stream or on error.
func (r *Reader) Scan() bool {
	return r.scan(true)
}

// ScanHeader works like Scan but only reads the record header, skipping over
// the payload. Tig returns nil afterwards.
func (r *Reader) ScanHeader() bool {
	return r.scan(false)
}

// Tig returns the record read by the last call to Scan.
func (r *Reader) Tig() *Tig {
	return r.tig
}

// Offset is the position of the current record in the stream.
func (r *Reader) Offset() int64 {
	return r.offset
}

// Size is the framed size of the current record.
func (r *Reader) Size() int64 {
	return r.size
}

// Err returns the first non-EOF error reached while scanning.
func (r *Reader) Err() error {
	return r.err
}

func (r *Reader) scan(decode bool) bool {
	if r.closed {
		return false
	}

	offset, err := r.brs.Seek(0, io.SeekCurrent)
	if err != nil {
		r.close(err)
		return false
	}
	r.offset = offset

	if decode {
		t, n, err := ReadFrom(r.brs)
		if err == io.EOF {
			r.closed = true
			return false
		} else if err != nil {
			r.close(fmt.Errorf("record at offset %d: %w", offset, err))
			return false
		}

		r.tig = t
		r.size = n
		return true
	}

	var header [HeaderSize]byte
	_, err = io.ReadFull(r.brs, header[:])
	if err == io.EOF {
		r.closed = true
		return false
	} else if err != nil {
		r.close(fmt.Errorf("record at offset %d: %w", offset, truncated(err)))
		return false
	}

	_, length, _, err := parseHeader(header[:])
	if err != nil {
		r.close(fmt.Errorf("record at offset %d: %w", offset, err))
		return false
	}

	end, err := r.streamEnd()
	if err != nil {
		r.close(err)
		return false
	} else if offset+HeaderSize+int64(length) > end {
		r.close(fmt.Errorf("record at offset %d: %w", offset, truncated(io.ErrUnexpectedEOF)))
		return false
	}

	_, err = r.brs.Seek(int64(length), io.SeekCurrent)
	if err != nil {
		r.close(err)
		return false
	}

	r.tig = nil
	r.size = HeaderSize + int64(length)
	return true
}

func (r *Reader) streamEnd() (int64, error) {
	if r.end >= 0 {
		return r.end, nil
	}

	current, err := r.brs.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}

	end, err := r.brs.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}

	if _, err := r.brs.Seek(current, io.SeekStart); err != nil {
		return 0, err
	}

	r.end = end
	return end, nil
}

func (r *Reader) close(err error) {
	r.closed = true
	r.err = err
}
