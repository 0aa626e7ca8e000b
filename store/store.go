// Package store implements a versioned, disk-resident store of tigs.
//
// Each version of a store has an index snapshot, holding one fixed-size
// entry per tig id, and an append-only data file holding the serialized tigs
// written in that version. The index of the open version is kept entirely in
// memory; tigs themselves are read from the data files on demand and kept in
// a cache until they're unloaded.
//
// A Store is owned by a single goroutine. Writable stores take a lock file
// in the store directory, so only one process writes to a store at a time.
package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/nightlyone/lockfile"
	"github.com/pkg/errors"

	"github.com/duanyating0315/canu/log"
)

const lockName = "tgstore.lock"

type Store struct {
	path string
	mode Mode
	opts Options

	originalVersion uint32
	currentVersion  uint32

	entries []Entry
	cache   cache
	data    *dataFiles

	// stored holds, for each entry with FlushNeeded set, the entry as it
	// was before the unflushed change.
	stored map[uint32]Entry

	manifest Manifest
	lock     lockfile.Lockfile
	locked   bool
	closed   bool

	// maxOffset is the last byte offset a payload may reach in a data file.
	maxOffset uint64
}

// Open opens the store at path. For ReadOnly and Modify, version is the
// version to open; for Write and Append it's the version to read from, and
// version+1 is written. Create ignores version and starts at 0.
func Open(path string, version uint32, mode Mode, opts Options) (*Store, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	s := &Store{
		path:      path,
		mode:      mode,
		opts:      opts,
		data:      newDataFiles(path),
		stored:    make(map[uint32]Entry),
		maxOffset: MaxFileOffset,
	}

	var err error
	switch mode {
	case Create:
		err = s.create()
	case ReadOnly:
		err = s.openVersion(version, version)
	case Write, Append:
		err = s.openVersion(version, version+1)
	case Modify:
		err = s.openVersion(version, version)
	default:
		err = fmt.Errorf("unknown store mode: %d", int(mode))
	}

	if err != nil {
		s.release()
		return nil, err
	}

	log.LogWithKVs("Opened tig store", log.KeyValue{
		"path":    path,
		"mode":    mode.String(),
		"version": s.currentVersion,
		"tigs":    len(s.entries),
	})

	return s, nil
}

func (s *Store) create() error {
	if _, err := os.Stat(manifestName(s.path)); err == nil {
		return errors.Wrapf(ErrStoreExists, "%s", s.path)
	}

	if versions, err := listVersions(s.path); err == nil && len(versions) > 0 {
		return errors.Wrapf(ErrStoreExists, "%s", s.path)
	}

	if err := os.MkdirAll(s.path, 0755|os.ModeDir); err != nil {
		return fmt.Errorf("creating store directory: %s", err)
	}

	if err := s.acquireLock(); err != nil {
		return err
	}

	s.manifest = newManifest(s.opts.Compression)
	s.originalVersion = 0
	s.currentVersion = 0

	if err := s.purgeCurrentVersion(); err != nil {
		return err
	}

	if _, err := s.data.forWrite(0); err != nil {
		return err
	}

	return s.commit()
}

// openVersion loads the index for read and prepares write for writing, if
// the store is writable.
func (s *Store) openVersion(read, write uint32) error {
	if err := checkVersion(read); err != nil {
		return err
	}

	if s.mode.writable() {
		if err := checkVersion(write); err != nil {
			return err
		}
	}

	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return errors.Wrapf(ErrNoStore, "%s", s.path)
	}

	if !indexExists(s.path, read) {
		return errors.Wrapf(ErrNoVersion, "version %d of %s", read, s.path)
	}

	manifest, err := readManifest(s.path)
	if os.IsNotExist(err) {
		manifest = newManifest(s.opts.Compression)
	} else if err != nil {
		return fmt.Errorf("reading manifest: %s", err)
	}
	s.manifest = manifest

	if s.mode.writable() {
		if err := s.acquireLock(); err != nil {
			return err
		}

		if err := recoverCompaction(s.path); err != nil {
			return err
		}
	}

	s.originalVersion = read
	s.currentVersion = write

	switch s.mode {
	case Write:
		if err := s.purgeCurrentVersion(); err != nil {
			return err
		}
	case Append:
		if indexExists(s.path, write) {
			read = write
		}
	}

	entries, err := readIndex(s.path, read)
	if err != nil {
		return err
	}

	// Nothing is cached yet, so nothing can be waiting for a flush.
	for i := range entries {
		entries[i].FlushNeeded = false
	}
	s.entries = entries

	if s.mode.writable() {
		if _, err := s.data.forWrite(s.currentVersion); err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) acquireLock() error {
	abs, err := filepath.Abs(filepath.Join(s.path, lockName))
	if err != nil {
		return err
	}

	lock, err := lockfile.New(abs)
	if err != nil {
		return err
	}

	if err := lock.TryLock(); err != nil {
		if p, err := lock.GetOwner(); err == nil {
			log.Printf("The tig store at %s is locked by process %d", s.path, p.Pid)
		}
		return errors.Wrapf(ErrLocked, "%s", s.path)
	}

	s.lock = lock
	s.locked = true
	return nil
}

// release closes every open file and drops the lock.
func (s *Store) release() error {
	var result *multierror.Error
	if err := s.data.closeAll(); err != nil {
		result = multierror.Append(result, err)
	}

	if s.locked {
		if err := s.lock.Unlock(); err != nil {
			result = multierror.Append(result, err)
		}
		s.locked = false
	}

	return result.ErrorOrNil()
}

// commit writes the index snapshot of the current version and refreshes the
// manifest.
func (s *Store) commit() error {
	if err := writeIndex(s.path, s.currentVersion, s.entries); err != nil {
		return err
	}

	if err := s.manifest.refresh(s.path); err != nil {
		return err
	}

	return writeManifest(s.path, s.manifest)
}

// purgeCurrentVersion removes anything already stored for the current
// version.
func (s *Store) purgeCurrentVersion() error {
	if err := s.data.remove(s.currentVersion); err != nil {
		return err
	}

	err := os.Remove(indexName(s.path, s.currentVersion))
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}

// NextVersion commits the current version and starts writing the next one.
// Tigs still in the cache are marked for writing again, so the next flush
// stores them in the new version.
func (s *Store) NextVersion() error {
	if !s.mode.writable() {
		return ErrReadOnly
	}

	next := s.currentVersion + 1
	if err := checkVersion(next); err != nil {
		return err
	}

	if err := s.FlushDiskAll(); err != nil {
		return err
	}

	if err := s.commit(); err != nil {
		return err
	}

	if err := s.data.release(s.currentVersion); err != nil {
		return err
	}

	s.currentVersion = next
	if err := s.purgeCurrentVersion(); err != nil {
		return err
	}

	if _, err := s.data.forWrite(s.currentVersion); err != nil {
		return err
	}

	for _, id := range s.cache.ids() {
		s.markDirty(id)
	}

	log.LogWithKVs("Advanced tig store version", log.KeyValue{
		"path":    s.path,
		"version": s.currentVersion,
		"cached":  s.cache.len(),
	})

	return nil
}

// Close flushes any pending changes, writes the index of the current
// version, and releases every file the store holds. The store can't be used
// afterwards.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var result *multierror.Error
	if s.mode.writable() {
		if err := s.FlushDiskAll(); err != nil {
			result = multierror.Append(result, err)
		}

		if err := s.data.syncAll(); err != nil {
			result = multierror.Append(result, err)
		}

		if err := s.commit(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	s.cache.clear()
	if err := s.release(); err != nil {
		result = multierror.Append(result, err)
	}

	log.LogWithKVs("Closed tig store", log.KeyValue{
		"path":    s.path,
		"version": s.currentVersion,
		"tigs":    len(s.entries),
	})

	return result.ErrorOrNil()
}

// NumTigs is the size of the index, including deleted tigs.
func (s *Store) NumTigs() uint32 {
	return uint32(len(s.entries))
}

// CurrentVersion is the version being written, or the version open for
// reading if the store is read-only.
func (s *Store) CurrentVersion() uint32 {
	return s.currentVersion
}

// OriginalVersion is the version the store was opened from.
func (s *Store) OriginalVersion() uint32 {
	return s.originalVersion
}

func (s *Store) Mode() Mode {
	return s.mode
}

func (s *Store) Path() string {
	return s.path
}

// NumCached is the number of tigs currently loaded.
func (s *Store) NumCached() int {
	return s.cache.len()
}
