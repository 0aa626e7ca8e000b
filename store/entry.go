package store

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/duanyating0315/canu/tig"
)

// The location of a tig payload is packed into one 64-bit word:
//
//	63..52  unused
//	51      flushNeeded
//	50      isDeleted
//	49..40  version
//	39..0   file offset
const (
	offsetBits  = 40
	versionBits = 10

	MaxVersions   = 1 << versionBits
	MaxVersion    = MaxVersions - 1
	MaxFileOffset = 1<<offsetBits - 1

	versionShift = offsetBits
	deletedBit   = 1 << (offsetBits + versionBits)
	flushBit     = 1 << (offsetBits + versionBits + 1)

	offsetMask  = MaxFileOffset
	versionMask = MaxVersion
)

// A Location says where the current payload of a tig lives. The zero
// Location means the tig has never been written; data files start with a
// header, so no payload is ever stored at offset zero.
type Location struct {
	version uint32
	offset  uint64
}

// NewLocation returns the location of a payload at offset in the data file of
// version, failing if either doesn't fit in the packed index word.
func NewLocation(version uint32, offset uint64) (Location, error) {
	if err := checkVersion(version); err != nil {
		return Location{}, err
	}

	if offset > MaxFileOffset {
		return Location{}, errors.Wrapf(ErrCapacityExceeded, "file offset %d is past %d", offset, uint64(MaxFileOffset))
	}

	return Location{version: version, offset: offset}, nil
}

func checkVersion(version uint32) error {
	if version > MaxVersion {
		return errors.Wrapf(ErrCapacityExceeded, "version %d is past %d", version, MaxVersion)
	}

	return nil
}

func (l Location) Version() uint32 { return l.version }
func (l Location) Offset() uint64  { return l.offset }

// Written reports whether the location points at a stored payload.
func (l Location) Written() bool {
	return l.offset != 0
}

func (l Location) String() string {
	return fmt.Sprintf("v%03d@%d", l.version, l.offset)
}

// An Entry is the index record for one tig.
type Entry struct {
	Record      tig.Record
	FlushNeeded bool
	Deleted     bool
	Location    Location
}

func (e Entry) pack() uint64 {
	word := uint64(e.Location.version)<<versionShift | e.Location.offset
	if e.Deleted {
		word |= deletedBit
	}
	if e.FlushNeeded {
		word |= flushBit
	}

	return word
}

func unpackEntry(rec tig.Record, word uint64) Entry {
	return Entry{
		Record:      rec,
		FlushNeeded: word&flushBit != 0,
		Deleted:     word&deletedBit != 0,
		Location: Location{
			version: uint32(word>>versionShift) & versionMask,
			offset:  word & offsetMask,
		},
	}
}
