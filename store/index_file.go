package store

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/pkg/errors"

	"github.com/duanyating0315/canu/tig"
)

// An index snapshot is a little-endian uint32 entry count followed by one
// fixed-size record per tig:
//
//	sourceID | sourceBgn | sourceEnd | childrenLen  (uint32 each)
//	class (uint8) | flags (uint8) | 2 bytes zero
//	packed location word (uint64)
const indexRecordSize = 4*4 + 1 + 1 + 2 + 8

var indexFilePattern = regexp.MustCompile(`^seqDB\.v(\d{3,})\.tig$`)

func indexName(path string, version uint32) string {
	return filepath.Join(path, fmt.Sprintf("seqDB.v%03d.tig", version))
}

func dataName(path string, version uint32) string {
	return filepath.Join(path, fmt.Sprintf("seqDB.v%03d.dat", version))
}

func indexExists(path string, version uint32) bool {
	_, err := os.Stat(indexName(path, version))
	return err == nil
}

// listVersions returns the versions that have an index snapshot, in order.
func listVersions(path string) ([]uint32, error) {
	infos, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	versions := make([]uint32, 0, len(infos))
	for _, info := range infos {
		m := indexFilePattern.FindStringSubmatch(info.Name())
		if m == nil || info.IsDir() {
			continue
		}

		v, err := strconv.ParseUint(m[1], 10, 32)
		if err != nil || v > MaxVersion {
			continue
		}

		versions = append(versions, uint32(v))
	}

	// ReadDir sorts by name, and the names are zero-padded.
	return versions, nil
}

func writeIndex(path string, version uint32, entries []Entry) error {
	return writeIndexFile(indexName(path, version), entries)
}

func writeIndexFile(name string, entries []Entry) error {
	tmp := name + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	err = encodeIndex(f, entries)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "writing index %s", name)
	}

	return os.Rename(tmp, name)
}

func encodeIndex(w io.Writer, entries []Entry) error {
	bw := bufio.NewWriter(w)

	var count [4]byte
	binary.LittleEndian.PutUint32(count[:], uint32(len(entries)))
	if _, err := bw.Write(count[:]); err != nil {
		return err
	}

	var rec [indexRecordSize]byte
	for _, e := range entries {
		putIndexRecord(rec[:], e)
		if _, err := bw.Write(rec[:]); err != nil {
			return err
		}
	}

	return bw.Flush()
}

func readIndex(path string, version uint32) ([]Entry, error) {
	name := currentIndexName(path, version)
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	entries, err := decodeIndex(bufio.NewReader(f))
	if err != nil {
		return nil, errors.Wrapf(err, "reading index %s", name)
	}

	for i, e := range entries {
		if e.Location.version > version {
			return nil, errors.Wrapf(ErrCorrupt, "index %s: tig %d is in future version %d", name, i, e.Location.version)
		}
	}

	return entries, nil
}

func decodeIndex(r io.Reader) ([]Entry, error) {
	var count [4]byte
	if _, err := io.ReadFull(r, count[:]); err != nil {
		return nil, errors.Wrap(ErrCorrupt, "missing entry count")
	}

	n := binary.LittleEndian.Uint32(count[:])
	entries := make([]Entry, 0, min(n, 1<<16))

	var rec [indexRecordSize]byte
	for i := uint32(0); i < n; i++ {
		if _, err := io.ReadFull(r, rec[:]); err != nil {
			return nil, errors.Wrapf(ErrCorrupt, "short index: %d of %d entries", i, n)
		}

		entries = append(entries, getIndexRecord(rec[:]))
	}

	return entries, nil
}

// numTigsInIndex reads just the entry count of a snapshot.
func numTigsInIndex(path string, version uint32) (uint32, error) {
	f, err := os.Open(currentIndexName(path, version))
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var count [4]byte
	if _, err := io.ReadFull(f, count[:]); err != nil {
		return 0, errors.Wrap(ErrCorrupt, "missing entry count")
	}

	return binary.LittleEndian.Uint32(count[:]), nil
}

func putIndexRecord(b []byte, e Entry) {
	le := binary.LittleEndian
	le.PutUint32(b[0:], e.Record.SourceID)
	le.PutUint32(b[4:], e.Record.SourceBgn)
	le.PutUint32(b[8:], e.Record.SourceEnd)
	le.PutUint32(b[12:], e.Record.ChildrenLen)
	b[16] = byte(e.Record.Class)

	var flags byte
	if e.Record.SuggestRepeat {
		flags |= 1
	}
	if e.Record.SuggestCircular {
		flags |= 2
	}
	b[17] = flags
	b[18], b[19] = 0, 0

	le.PutUint64(b[20:], e.pack())
}

func getIndexRecord(b []byte) Entry {
	le := binary.LittleEndian
	rec := tig.Record{
		SourceID:        le.Uint32(b[0:]),
		SourceBgn:       le.Uint32(b[4:]),
		SourceEnd:       le.Uint32(b[8:]),
		ChildrenLen:     le.Uint32(b[12:]),
		Class:           tig.Class(b[16]),
		SuggestRepeat:   b[17]&1 != 0,
		SuggestCircular: b[17]&2 != 0,
	}

	return unpackEntry(rec, le.Uint64(b[20:]))
}
