package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ncw/directio"
	"github.com/pkg/errors"

	"github.com/duanyating0315/canu/log"
	"github.com/duanyating0315/canu/tig"
)

// A compaction of version v writes its new data and index files under
// temporary names, then renames them into place, data file first. Once the
// data file is in place, the temporary index is the only one that matches
// it, so readers use it until the second rename is done.
const compactSuffix = ".compact"

func compactDataName(path string, version uint32) string {
	return dataName(path, version) + compactSuffix
}

func compactIndexName(path string, version uint32) string {
	return indexName(path, version) + compactSuffix
}

func fileExists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

// currentIndexName is the index file that describes the data file of
// version, which differs from indexName only while a compaction is being
// committed.
func currentIndexName(path string, version uint32) string {
	pending := compactIndexName(path, version)
	if fileExists(pending) && !fileExists(compactDataName(path, version)) {
		return pending
	}

	return indexName(path, version)
}

// recoverCompaction cleans up after a compaction that stopped partway. One
// that never renamed its data file is rolled back; one that did is
// finished. It must be called with the store lock held.
func recoverCompaction(path string) error {
	names, err := filepath.Glob(filepath.Join(path, "seqDB.v*.dat"+compactSuffix))
	if err != nil {
		return err
	}

	for _, name := range names {
		index := strings.TrimSuffix(name, ".dat"+compactSuffix) + ".tig" + compactSuffix
		for _, n := range []string{index, name} {
			if err := os.Remove(n); err != nil && !os.IsNotExist(err) {
				return err
			}
		}

		log.Println("Rolled back an unfinished compaction:", name)
	}

	names, err = filepath.Glob(filepath.Join(path, "seqDB.v*.tig"+compactSuffix))
	if err != nil {
		return err
	}

	for _, name := range names {
		if err := os.Rename(name, strings.TrimSuffix(name, compactSuffix)); err != nil {
			return err
		}

		log.Println("Finished an unfinished compaction:", name)
	}

	return nil
}

// Compact rewrites the latest version so its data file holds exactly the
// live tigs, then removes every older version. Tig ids don't change; deleted
// tigs stay in the index without any stored data.
func (a *Admin) Compact(version uint32) error {
	s, err := a.lock()
	if err != nil {
		return err
	}
	defer s.release()

	if err := recoverCompaction(a.path); err != nil {
		return err
	}

	latest, err := a.Latest()
	if err != nil {
		return err
	} else if latest != version {
		return fmt.Errorf("can only compact the latest version (%d), not %d", latest, version)
	}

	compacted, size, err := a.prepareCompaction(s, version)
	if err != nil {
		return err
	}

	if err := os.Rename(compactDataName(a.path, version), dataName(a.path, version)); err != nil {
		return err
	}

	if err := os.Rename(compactIndexName(a.path, version), indexName(a.path, version)); err != nil {
		return err
	}

	versions, err := listVersions(a.path)
	if err != nil {
		return err
	}

	for _, v := range versions {
		if v >= version {
			continue
		}

		s.currentVersion = v
		if err := s.purgeCurrentVersion(); err != nil {
			return err
		}
	}

	log.LogWithKVs("Compacted tig store", log.KeyValue{
		"path":      a.path,
		"version":   version,
		"tigs":      len(compacted),
		"data_size": size,
	})

	return a.refreshManifest()
}

// prepareCompaction writes the compacted data and index files of version
// under their temporary names, and closes every open data file.
func (a *Admin) prepareCompaction(s *Store, version uint32) ([]Entry, uint64, error) {
	entries, err := readIndex(a.path, version)
	if err != nil {
		return nil, 0, err
	}

	data := compactDataName(a.path, version)
	compacted, size, err := a.rewrite(s.data, version, entries, data)
	if err != nil {
		os.Remove(data)
		return nil, 0, err
	}

	// The old files are about to go away.
	if err := s.data.closeAll(); err != nil {
		os.Remove(data)
		return nil, 0, err
	}

	if err := writeIndexFile(compactIndexName(a.path, version), compacted); err != nil {
		os.Remove(data)
		return nil, 0, err
	}

	return compacted, size, nil
}

// rewrite copies every live tig into a new data file at name, returning the
// index entries pointing into it.
func (a *Admin) rewrite(dfs *dataFiles, version uint32, entries []Entry, name string) ([]Entry, uint64, error) {
	f, err := createDirect(name)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	w := newAlignedWriter(f, 1<<20)
	if _, err := w.Write([]byte(dataHeader)); err != nil {
		return nil, 0, err
	}

	end := dataHeaderSize
	compacted := make([]Entry, len(entries))
	for i, e := range entries {
		id := uint32(i)
		compacted[i] = Entry{Record: e.Record, Deleted: e.Deleted}
		if e.Deleted || !e.Location.Written() {
			continue
		}

		df, err := dfs.forRead(e.Location.Version())
		if err != nil {
			return nil, 0, &IOError{Op: "open", TigID: id, Version: e.Location.Version(), Offset: e.Location.Offset(), Err: err}
		}

		t, err := df.readTig(e.Location.Offset())
		if err != nil {
			return nil, 0, &IOError{Op: "read", TigID: id, Version: e.Location.Version(), Offset: e.Location.Offset(), Err: err}
		} else if t.ID != id {
			return nil, 0, errors.Wrapf(ErrCorrupt, "tig %d: found tig %d in its place", id, t.ID)
		}
		t.ApplyRecord(e.Record)

		b, err := tig.Marshal(t, a.opts.Compression)
		if err != nil {
			return nil, 0, err
		}

		loc, err := NewLocation(version, end)
		if err != nil {
			return nil, 0, err
		} else if uint64(len(b)) > MaxFileOffset-end+1 {
			return nil, 0, errors.Wrapf(ErrCapacityExceeded, "compacting tig %d at offset %d", id, end)
		}

		if _, err := w.Write(b); err != nil {
			return nil, 0, &IOError{Op: "write", TigID: id, Version: version, Offset: end, Err: err}
		}

		compacted[i].Record = t.Record()
		compacted[i].Location = loc
		end += uint64(len(b))
	}

	if err := w.Flush(); err != nil {
		return nil, 0, err
	}

	// Flush padded the last block out to the alignment.
	if err := f.Truncate(int64(end)); err != nil {
		return nil, 0, err
	}

	if err := f.Sync(); err != nil {
		return nil, 0, err
	}

	return compacted, end, nil
}

// createDirect creates name for writing with O_DIRECT, so a compaction
// doesn't push the rest of the store out of the page cache. Filesystems that
// don't support it get a regular file.
func createDirect(name string) (*os.File, error) {
	flag := os.O_RDWR | os.O_CREATE | os.O_TRUNC
	f, err := directio.OpenFile(name, flag, 0644)
	if errors.Is(err, syscall.EINVAL) {
		return os.OpenFile(name, flag, 0644)
	}

	return f, err
}
