package tig

import (
	"bufio"
	"io"
)

type bufferedReadSeeker struct {
	*bufio.Reader
	r io.ReadSeeker
}

func newBufferedReadSeekerSize(r io.ReadSeeker, size int) *bufferedReadSeeker {
	return &bufferedReadSeeker{bufio.NewReaderSize(r, size), r}
}

// Seek normally just seeks the underlying ReadSeeker and resets the buffer;
// as a special case, it can 'tell' the current virtual offset, or skip forward
// within the buffer, while remaining buffered.
func (brs *bufferedReadSeeker) Seek(offset int64, whence int) (int64, error) {
	if whence != io.SeekCurrent {
		res, err := brs.r.Seek(offset, whence)
		brs.Reset(brs.r)
		return res, err
	}

	buffered := int64(brs.Buffered())
	current, err := brs.r.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}

	virtual := current - buffered
	if offset >= 0 && offset <= buffered {
		_, err = brs.Discard(int(offset))
		if err != nil {
			return virtual, err
		}

		return virtual + offset, nil
	}

	// Jump relative to the virtual position, which the underlying reader is
	// ahead of by the buffered amount.
	res, err := brs.r.Seek(offset-buffered, io.SeekCurrent)
	brs.Reset(brs.r)
	return res, err
}
