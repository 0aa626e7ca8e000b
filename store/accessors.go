package store

import (
	"github.com/duanyating0315/canu/tig"
)

// The accessors below work on the index alone; they never read a tig from
// disk. Setters change the index entry and, if the tig is loaded, the cached
// tig in the same call.

func (s *Store) IsDeleted(id uint32) (bool, error) {
	e, err := s.entry(id)
	if err != nil {
		return false, err
	}
	return e.Deleted, nil
}

func (s *Store) SourceID(id uint32) (uint32, error) {
	e, err := s.entry(id)
	if err != nil {
		return 0, err
	}
	return e.Record.SourceID, nil
}

func (s *Store) SourceBgn(id uint32) (uint32, error) {
	e, err := s.entry(id)
	if err != nil {
		return 0, err
	}
	return e.Record.SourceBgn, nil
}

func (s *Store) SourceEnd(id uint32) (uint32, error) {
	e, err := s.entry(id)
	if err != nil {
		return 0, err
	}
	return e.Record.SourceEnd, nil
}

func (s *Store) Class(id uint32) (tig.Class, error) {
	e, err := s.entry(id)
	if err != nil {
		return tig.NoClass, err
	}
	return e.Record.Class, nil
}

func (s *Store) SuggestRepeat(id uint32) (bool, error) {
	e, err := s.entry(id)
	if err != nil {
		return false, err
	}
	return e.Record.SuggestRepeat, nil
}

func (s *Store) SuggestCircular(id uint32) (bool, error) {
	e, err := s.entry(id)
	if err != nil {
		return false, err
	}
	return e.Record.SuggestCircular, nil
}

// NumChildren is the number of reads in the tig. For a loaded tig, that's
// whatever the cached copy has now.
func (s *Store) NumChildren(id uint32) (uint32, error) {
	e, err := s.entry(id)
	if err != nil {
		return 0, err
	}

	if t := s.cache.get(id); t != nil {
		return uint32(t.NumChildren()), nil
	}
	return e.Record.ChildrenLen, nil
}

// Version is the version whose data file holds the stored copy of the tig.
func (s *Store) Version(id uint32) (uint32, error) {
	e, err := s.entry(id)
	if err != nil {
		return 0, err
	}
	return e.Location.Version(), nil
}

// Entry returns a copy of the index entry for id.
func (s *Store) Entry(id uint32) (Entry, error) {
	e, err := s.entry(id)
	if err != nil {
		return Entry{}, err
	}
	return *e, nil
}

func (s *Store) SetSourceID(id uint32, sourceID uint32) error {
	return s.update(id, func(r *tig.Record, t *tig.Tig) {
		r.SourceID = sourceID
		if t != nil {
			t.SourceID = sourceID
		}
	})
}

func (s *Store) SetSourceBgn(id uint32, bgn uint32) error {
	return s.update(id, func(r *tig.Record, t *tig.Tig) {
		r.SourceBgn = bgn
		if t != nil {
			t.SourceBgn = bgn
		}
	})
}

func (s *Store) SetSourceEnd(id uint32, end uint32) error {
	return s.update(id, func(r *tig.Record, t *tig.Tig) {
		r.SourceEnd = end
		if t != nil {
			t.SourceEnd = end
		}
	})
}

func (s *Store) SetClass(id uint32, c tig.Class) error {
	return s.update(id, func(r *tig.Record, t *tig.Tig) {
		r.Class = c
		if t != nil {
			t.Class = c
		}
	})
}

func (s *Store) SetSuggestRepeat(id uint32, enable bool) error {
	return s.update(id, func(r *tig.Record, t *tig.Tig) {
		r.SuggestRepeat = enable
		if t != nil {
			t.SuggestRepeat = enable
		}
	})
}

func (s *Store) SetSuggestCircular(id uint32, enable bool) error {
	return s.update(id, func(r *tig.Record, t *tig.Tig) {
		r.SuggestCircular = enable
		if t != nil {
			t.SuggestCircular = enable
		}
	})
}

func (s *Store) update(id uint32, set func(r *tig.Record, t *tig.Tig)) error {
	if !s.mode.writable() {
		return ErrReadOnly
	}

	e, err := s.entry(id)
	if err != nil {
		return err
	}

	set(&e.Record, s.cache.get(id))

	// Discarding the cached tig shouldn't undo the change.
	if saved, ok := s.stored[id]; ok {
		set(&saved.Record, nil)
		s.stored[id] = saved
	}

	return nil
}
