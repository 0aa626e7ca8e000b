package store

import (
	"io"

	"github.com/ncw/directio"
)

// alignedWriter buffers writes into an aligned block, so they can go to a
// file opened with O_DIRECT. Every write to w except the last is a whole
// block.
type alignedWriter struct {
	w   io.Writer
	buf []byte
	n   int
}

// newAlignedWriter returns an alignedWriter with a buffer of size bytes,
// which must be a multiple of directio.BlockSize.
func newAlignedWriter(w io.Writer, size int) *alignedWriter {
	return &alignedWriter{w: w, buf: directio.AlignedBlock(size)}
}

func (aw *alignedWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		n := copy(aw.buf[aw.n:], p)
		aw.n += n
		written += n
		p = p[n:]

		if aw.n == len(aw.buf) {
			if _, err := aw.w.Write(aw.buf); err != nil {
				return written, err
			}
			aw.n = 0
		}
	}

	return written, nil
}

// Flush writes out whatever is buffered, padded with zeroes to a multiple
// of directio.AlignSize. The caller truncates the padding away.
func (aw *alignedWriter) Flush() error {
	if aw.n == 0 {
		return nil
	}

	n := aw.n
	if directio.AlignSize > 0 {
		for ; n%directio.AlignSize != 0; n++ {
			aw.buf[n] = 0
		}
	}

	aw.n = 0
	_, err := aw.w.Write(aw.buf[:n])
	return err
}
