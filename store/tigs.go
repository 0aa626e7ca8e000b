package store

import (
	"github.com/pkg/errors"

	"github.com/duanyating0315/canu/tig"
)

// InsertTig adds t to the store, or replaces the tig with the same id. A tig
// with id tig.NoID is given the next free id. The store owns t afterwards:
// with keepInCache it becomes the cached copy, otherwise it's written to disk
// immediately and dropped.
func (s *Store) InsertTig(t *tig.Tig, keepInCache bool) error {
	if !s.mode.writable() {
		return ErrReadOnly
	}

	if t == nil {
		return errors.New("inserting a nil tig")
	}

	assigned := false
	if t.ID == tig.NoID {
		if uint64(len(s.entries)) >= uint64(tig.NoID) {
			return errors.Wrapf(ErrCapacityExceeded, "no tig ids left after %d", len(s.entries))
		}
		t.ID = uint32(len(s.entries))
		assigned = true
	}

	id := t.ID
	old := s.entries
	s.grow(id)

	prev := s.entries[id]
	prevStored, hadStored := s.stored[id]
	prevCached := s.cache.get(id)

	s.markDirty(id)
	e := &s.entries[id]
	e.Record = t.Record()
	e.Deleted = false

	if keepInCache {
		s.cache.put(id, t)
		return nil
	}

	s.cache.evict(id)
	if err := s.writeTig(id, t); err != nil {
		s.entries = old
		if int(id) < len(old) {
			old[id] = prev
		}

		if hadStored {
			s.stored[id] = prevStored
		} else {
			delete(s.stored, id)
		}

		if prevCached != nil {
			s.cache.put(id, prevCached)
		}

		if assigned {
			t.ID = tig.NoID
		}

		return err
	}

	return nil
}

// grow extends the index so id is in range. New entries are zero: not
// deleted and never written.
func (s *Store) grow(id uint32) {
	n := int(id) + 1
	if n <= len(s.entries) {
		return
	}

	grown := make([]Entry, n, max(n, 2*len(s.entries)))
	copy(grown, s.entries)
	s.entries = grown
}

// markDirty sets FlushNeeded on an entry, remembering the entry as it was so
// the change can be discarded.
func (s *Store) markDirty(id uint32) {
	e := &s.entries[id]
	if e.FlushNeeded {
		return
	}

	s.stored[id] = *e
	e.FlushNeeded = true
}

// discard puts back the entry as it was when it was last marked dirty.
func (s *Store) discard(id uint32) {
	e := &s.entries[id]
	if saved, ok := s.stored[id]; ok {
		e.Record = saved.Record
		e.Deleted = saved.Deleted
		delete(s.stored, id)
	}
	e.FlushNeeded = false
}

// DeleteTig drops any cached copy of the tig, discarding unsaved changes, and
// marks it deleted. The index entry stays, as does the space it used on disk.
func (s *Store) DeleteTig(id uint32) error {
	if !s.mode.writable() {
		return ErrReadOnly
	}

	e, err := s.entry(id)
	if err != nil {
		return err
	}

	s.cache.evict(id)
	delete(s.stored, id)
	e.Deleted = true
	e.FlushNeeded = false
	return nil
}

// LoadTig returns the cached tig for id, reading it from disk first if it
// isn't loaded. The tig still belongs to the store: it stays valid until it's
// unloaded, deleted or the store is closed, and changes to it are saved the
// next time it's flushed, if it was inserted to be kept in the cache.
func (s *Store) LoadTig(id uint32) (*tig.Tig, error) {
	e, err := s.liveEntry(id)
	if err != nil {
		return nil, err
	}

	if t := s.cache.get(id); t != nil {
		return t, nil
	}

	if !e.Location.Written() {
		return nil, errors.Wrapf(ErrNotFound, "tig %d was never written", id)
	}

	t, err := s.readTig(id)
	if err != nil {
		return nil, err
	}

	s.cache.put(id, t)
	return t, nil
}

// UnloadTig removes the tig from the cache. Pending changes are written to
// the current version first, unless discardChanges is set, in which case the
// stored copy is left as it was and the index goes back to describing it.
func (s *Store) UnloadTig(id uint32, discardChanges bool) error {
	e, err := s.entry(id)
	if err != nil {
		return err
	}

	t := s.cache.get(id)
	if t == nil {
		return nil
	}

	if e.FlushNeeded {
		if discardChanges {
			s.discard(id)
		} else if err := s.writeTig(id, t); err != nil {
			return err
		}
	}

	s.cache.evict(id)
	return nil
}

// CopyTig returns a new copy of the tig that the caller owns. It isn't
// cached. Unless the cached copy has unsaved changes, the copy is read from
// disk.
func (s *Store) CopyTig(id uint32) (*tig.Tig, error) {
	e, err := s.liveEntry(id)
	if err != nil {
		return nil, err
	}

	if t := s.cache.get(id); t != nil && e.FlushNeeded {
		return t.Clone(), nil
	}

	if !e.Location.Written() {
		return nil, errors.Wrapf(ErrNotFound, "tig %d was never written", id)
	}

	return s.readTig(id)
}

// FlushDisk writes the cached tig to disk if it has unsaved changes, and
// keeps it cached.
func (s *Store) FlushDisk(id uint32) error {
	e, err := s.entry(id)
	if err != nil {
		return err
	}

	t := s.cache.get(id)
	if t == nil || !e.FlushNeeded {
		return nil
	}

	return s.writeTig(id, t)
}

// FlushDiskAll writes every cached tig with unsaved changes.
func (s *Store) FlushDiskAll() error {
	for _, id := range s.cache.ids() {
		if err := s.FlushDisk(id); err != nil {
			return err
		}
	}

	if s.opts.Sync {
		return s.data.syncAll()
	}

	return nil
}

// FlushCache is UnloadTig.
func (s *Store) FlushCache(id uint32, discard bool) error {
	return s.UnloadTig(id, discard)
}

// FlushCacheAll saves and unloads every cached tig. Tigs touched afterwards
// have to be read from disk again.
func (s *Store) FlushCacheAll() error {
	for _, id := range s.cache.ids() {
		if err := s.UnloadTig(id, false); err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) entry(id uint32) (*Entry, error) {
	if int(id) >= len(s.entries) {
		return nil, errors.Wrapf(ErrNotFound, "tig %d is past the end of the store (%d tigs)", id, len(s.entries))
	}

	return &s.entries[id], nil
}

func (s *Store) liveEntry(id uint32) (*Entry, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}

	if e.Deleted {
		return nil, errors.Wrapf(ErrNotFound, "tig %d is deleted", id)
	}

	return e, nil
}

// writeTig appends t to the data file of the current version and points its
// entry there. The entry is untouched if the write fails.
func (s *Store) writeTig(id uint32, t *tig.Tig) error {
	t.ID = id
	b, err := tig.Marshal(t, s.opts.Compression)
	if err != nil {
		return err
	}

	df, err := s.data.forWrite(s.currentVersion)
	if err != nil {
		return &IOError{Op: "open", TigID: id, Version: s.currentVersion, Err: err}
	}

	offset, err := df.append(b, s.maxOffset)
	if errors.Is(err, ErrCapacityExceeded) {
		return errors.Wrapf(err, "writing tig %d", id)
	} else if err != nil {
		return &IOError{Op: "write", TigID: id, Version: s.currentVersion, Offset: df.end, Err: err}
	}

	loc, err := NewLocation(s.currentVersion, offset)
	if err != nil {
		return err
	}

	e := &s.entries[id]
	e.Record = t.Record()
	e.Location = loc
	e.FlushNeeded = false
	delete(s.stored, id)
	return nil
}

// readTig reads the stored copy of a tig, with the metadata from its index
// entry applied.
func (s *Store) readTig(id uint32) (*tig.Tig, error) {
	e := s.entries[id]
	loc := e.Location

	df, err := s.data.forRead(loc.Version())
	if err != nil {
		return nil, &IOError{Op: "open", TigID: id, Version: loc.Version(), Offset: loc.Offset(), Err: err}
	}

	t, err := df.readTig(loc.Offset())
	if err != nil {
		return nil, &IOError{Op: "read", TigID: id, Version: loc.Version(), Offset: loc.Offset(), Err: err}
	}

	if t.ID != id {
		return nil, &IOError{
			Op: "read", TigID: id, Version: loc.Version(), Offset: loc.Offset(),
			Err: errors.Wrapf(ErrCorrupt, "found tig %d instead", t.ID),
		}
	}

	t.ApplyRecord(e.Record)
	return t, nil
}
