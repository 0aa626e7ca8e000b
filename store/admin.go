package store

import (
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/duanyating0315/canu/log"
	"github.com/duanyating0315/canu/tig"
)

// Admin runs the maintenance operations that rewrite or remove whole
// versions of a store. It works on the files directly, and holds the store
// lock while it does, so it can't run alongside a writer.
type Admin struct {
	path string
	opts Options
}

// VersionStats describes one version of a store.
type VersionStats struct {
	Version   uint32
	NumTigs   uint32
	Live      uint32
	Deleted   uint32
	Unwritten uint32

	// Records and DataSize describe the data file of the version; LiveSize is
	// the part of it the index still points to.
	Records  int
	DataSize int64
	LiveSize int64
}

func NewAdmin(path string, opts Options) (*Admin, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	versions, err := listVersions(path)
	if err != nil || len(versions) == 0 {
		return nil, errors.Wrapf(ErrNoStore, "%s", path)
	}

	return &Admin{path: path, opts: opts}, nil
}

// Versions lists the versions with an index snapshot, oldest first.
func (a *Admin) Versions() ([]uint32, error) {
	return listVersions(a.path)
}

// Latest returns the newest version of the store.
func (a *Admin) Latest() (uint32, error) {
	versions, err := listVersions(a.path)
	if err != nil {
		return 0, err
	} else if len(versions) == 0 {
		return 0, errors.Wrapf(ErrNoStore, "%s", a.path)
	}

	return versions[len(versions)-1], nil
}

func (a *Admin) lock() (*Store, error) {
	s := &Store{path: a.path, data: newDataFiles(a.path)}
	if err := s.acquireLock(); err != nil {
		return nil, err
	}

	return s, nil
}

// PurgeVersion deletes the index and data file of a version. It refuses to
// remove a version whose data a later version still uses.
func (a *Admin) PurgeVersion(version uint32) error {
	s, err := a.lock()
	if err != nil {
		return err
	}
	defer s.release()

	if err := recoverCompaction(a.path); err != nil {
		return err
	}

	versions, err := listVersions(a.path)
	if err != nil {
		return err
	}

	found := false
	for _, v := range versions {
		if v == version {
			found = true
		} else if v > version {
			entries, err := readIndex(a.path, v)
			if err != nil {
				return err
			}

			for id, e := range entries {
				if !e.Deleted && e.Location.Written() && e.Location.Version() == version {
					return errors.Wrapf(ErrVersionInUse, "version %d: tig %d of version %d is stored there", version, id, v)
				}
			}
		}
	}

	if !found {
		return errors.Wrapf(ErrNoVersion, "version %d of %s", version, a.path)
	}

	s.currentVersion = version
	if err := s.purgeCurrentVersion(); err != nil {
		return err
	}

	log.LogWithKVs("Purged tig store version", log.KeyValue{"path": a.path, "version": version})
	return a.refreshManifest()
}

// Scan calls fn for each tig stored in the data file of version, in the order
// they were written, along with the offset it was written at. That includes
// tigs that have since been replaced or deleted.
func (a *Admin) Scan(version uint32, fn func(offset uint64, t *tig.Tig) error) error {
	return ScanDataFile(dataName(a.path, version), fn)
}

// ScanDataFile walks the data file at name the same way Scan does, without
// needing the rest of the store.
func ScanDataFile(name string, fn func(offset uint64, t *tig.Tig) error) error {
	f, r, err := openData(name)
	if err != nil {
		return err
	}
	defer f.Close()

	for r.Scan() {
		if err := fn(uint64(r.Offset()), r.Tig()); err != nil {
			return err
		}
	}

	return r.Err()
}

// Stats summarizes the index and data file of version.
func (a *Admin) Stats(version uint32) (VersionStats, error) {
	stats := VersionStats{Version: version}

	entries, err := readIndex(a.path, version)
	if err != nil {
		return stats, err
	}

	stats.NumTigs = uint32(len(entries))
	live := make(map[uint64]bool)
	for _, e := range entries {
		switch {
		case e.Deleted:
			stats.Deleted++
		case !e.Location.Written():
			stats.Unwritten++
		default:
			stats.Live++
			if e.Location.Version() == version {
				live[e.Location.Offset()] = true
			}
		}
	}

	f, r, err := openData(dataName(a.path, version))
	if os.IsNotExist(errors.Cause(err)) {
		return stats, nil
	} else if err != nil {
		return stats, err
	}
	defer f.Close()

	for r.ScanHeader() {
		stats.Records++
		if live[uint64(r.Offset())] {
			stats.LiveSize += r.Size()
		}
	}

	if info, err := f.Stat(); err == nil {
		stats.DataSize = info.Size()
	}

	return stats, r.Err()
}

func openData(name string) (*os.File, *tig.Reader, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, nil, err
	}

	if err := checkDataHeader(f); err != nil {
		f.Close()
		return nil, nil, err
	}

	if _, err := f.Seek(int64(dataHeaderSize), io.SeekStart); err != nil {
		f.Close()
		return nil, nil, err
	}

	return f, tig.NewReader(f), nil
}

func (a *Admin) refreshManifest() error {
	m, err := readManifest(a.path)
	if os.IsNotExist(err) {
		m = newManifest(a.opts.Compression)
	} else if err != nil {
		return err
	}

	if err := m.refresh(a.path); err != nil {
		return err
	}

	return writeManifest(a.path, m)
}
