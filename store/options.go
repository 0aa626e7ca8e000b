package store

import (
	"fmt"

	"github.com/duanyating0315/canu/tig"
)

type Mode int

const (
	// Create makes a new store at version 0, then behaves like Write.
	Create Mode = iota
	// ReadOnly opens version v for reading.
	ReadOnly
	// Write reads version v and writes version v+1, purging v+1 first.
	Write
	// Append reads version v and writes version v+1, keeping what's there.
	Append
	// Modify reads and writes version v in place.
	Modify
)

func (m Mode) String() string {
	switch m {
	case Create:
		return "create"
	case ReadOnly:
		return "read-only"
	case Write:
		return "write"
	case Append:
		return "append"
	case Modify:
		return "modify"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func (m Mode) writable() bool {
	return m != ReadOnly
}

type Options struct {
	// Compression is used for newly written tigs. Existing records are
	// readable whatever they were written with.
	Compression tig.Compression
	// Sync fsyncs the data files whenever the whole cache is flushed to disk.
	Sync bool
}

func DefaultOptions() Options {
	return Options{
		Compression: tig.SnappyCompression,
		Sync:        false,
	}
}

func (o Options) validate() error {
	if !tig.ValidCompression(o.Compression) {
		return fmt.Errorf("unrecognized compression option: %s", o.Compression)
	}
	return nil
}
