// Package tig defines the assembled contig/unitig object kept in a tig store,
// and the framed binary format used to write it to a version data file.
package tig

import (
	"bytes"
	"fmt"
)

// NoID marks a tig that hasn't been given an id yet. Inserting one into a
// store assigns it the next free id.
const NoID = ^uint32(0)

// Class is the assembly classification of a tig.
type Class uint8

const (
	NoClass Class = iota
	Unassembled
	Bubble
	Contig
)

func (c Class) String() string {
	switch c {
	case NoClass:
		return "noclass"
	case Unassembled:
		return "unassm"
	case Bubble:
		return "bubble"
	case Contig:
		return "contig"
	default:
		return fmt.Sprintf("class(%d)", uint8(c))
	}
}

// A Record holds the metadata of a tig that a store mirrors into its index,
// so it can be read and changed without loading the tig itself.
type Record struct {
	SourceID        uint32
	SourceBgn       uint32
	SourceEnd       uint32
	Class           Class
	SuggestRepeat   bool
	SuggestCircular bool
	ChildrenLen     uint32
}

// A Child is the placement of one read in a tig. Bgn > End means the read is
// reverse-complemented.
type Child struct {
	ReadID uint32
	Bgn    int32
	End    int32
}

// Tig is one assembled sequence structure. Body is carried through the store
// without interpretation.
type Tig struct {
	ID uint32

	SourceID        uint32
	SourceBgn       uint32
	SourceEnd       uint32
	Class           Class
	SuggestRepeat   bool
	SuggestCircular bool

	Children []Child
	Body     []byte
}

// New returns an empty tig without an id.
func New() *Tig {
	return &Tig{ID: NoID}
}

// Record returns the mirrored metadata of the tig.
func (t *Tig) Record() Record {
	return Record{
		SourceID:        t.SourceID,
		SourceBgn:       t.SourceBgn,
		SourceEnd:       t.SourceEnd,
		Class:           t.Class,
		SuggestRepeat:   t.SuggestRepeat,
		SuggestCircular: t.SuggestCircular,
		ChildrenLen:     uint32(len(t.Children)),
	}
}

// ApplyRecord overwrites the mutable mirrored fields with r. ChildrenLen is
// derived from Children and is left alone.
func (t *Tig) ApplyRecord(r Record) {
	t.SourceID = r.SourceID
	t.SourceBgn = r.SourceBgn
	t.SourceEnd = r.SourceEnd
	t.Class = r.Class
	t.SuggestRepeat = r.SuggestRepeat
	t.SuggestCircular = r.SuggestCircular
}

// NumChildren is the number of reads placed in the tig.
func (t *Tig) NumChildren() int {
	return len(t.Children)
}

// Clone returns a deep copy of t.
func (t *Tig) Clone() *Tig {
	c := *t
	if t.Children != nil {
		c.Children = make([]Child, len(t.Children))
		copy(c.Children, t.Children)
	}
	if t.Body != nil {
		c.Body = make([]byte, len(t.Body))
		copy(c.Body, t.Body)
	}
	return &c
}

// Equal reports whether two tigs carry the same metadata, children and body.
func (t *Tig) Equal(o *Tig) bool {
	if t == nil || o == nil {
		return t == o
	}

	if t.ID != o.ID || t.Record() != o.Record() || !bytes.Equal(t.Body, o.Body) {
		return false
	}

	for i := range t.Children {
		if t.Children[i] != o.Children[i] {
			return false
		}
	}

	return true
}
