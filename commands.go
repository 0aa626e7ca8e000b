package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/duanyating0315/canu/store"
	"github.com/duanyating0315/canu/tig"
)

func runCreate(w io.Writer, path string, opts store.Options) error {
	s, err := store.Open(path, 0, store.Create, opts)
	if err != nil {
		return err
	}

	if err := s.Close(); err != nil {
		return err
	}

	fmt.Fprintf(w, "Created an empty tig store at %s (compression: %s)\n", path, opts.Compression)
	return nil
}

// runStats prints a summary of one version, or of every version if version
// is negative.
func runStats(w io.Writer, path string, version int, opts store.Options) error {
	a, err := store.NewAdmin(path, opts)
	if err != nil {
		return err
	}

	versions, err := a.Versions()
	if err != nil {
		return err
	}

	if version >= 0 {
		versions = []uint32{uint32(version)}
	}

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "version\ttigs\tlive\tdeleted\tunwritten\trecords\tdata\tlive data\t")
	for _, v := range versions {
		stats, err := a.Stats(v)
		if err != nil {
			return fmt.Errorf("version %d: %s", v, err)
		}

		fmt.Fprintf(tw, "%03d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			stats.Version,
			humanize.Comma(int64(stats.NumTigs)),
			humanize.Comma(int64(stats.Live)),
			humanize.Comma(int64(stats.Deleted)),
			humanize.Comma(int64(stats.Unwritten)),
			humanize.Comma(int64(stats.Records)),
			humanize.Bytes(uint64(stats.DataSize)),
			humanize.Bytes(uint64(stats.LiveSize)),
		)
	}

	return tw.Flush()
}

// runDump prints one line per tig in version. With withTigs, the children
// of each tig are printed below it.
func runDump(w io.Writer, path string, version uint32, withTigs, withDeleted bool, opts store.Options) error {
	s, err := store.Open(path, version, store.ReadOnly, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	for id := uint32(0); id < s.NumTigs(); id++ {
		e, err := s.Entry(id)
		if err != nil {
			return err
		}

		if e.Deleted && !withDeleted {
			continue
		}

		status := "live"
		if e.Deleted {
			status = "deleted"
		} else if !e.Location.Written() {
			status = "unwritten"
		}

		r := e.Record
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d:%d-%d\t%d\t%s\n",
			id, status, e.Location, r.Class, r.SourceID, r.SourceBgn, r.SourceEnd, r.ChildrenLen, flagString(r))

		if !withTigs || status != "live" {
			continue
		}

		t, err := s.CopyTig(id)
		if err != nil {
			return err
		}

		for _, c := range t.Children {
			fmt.Fprintf(w, "\t%d\t%d\t%d\n", c.ReadID, c.Bgn, c.End)
		}
	}

	return nil
}

func flagString(r tig.Record) string {
	var flags []string
	if r.SuggestRepeat {
		flags = append(flags, "repeat")
	}
	if r.SuggestCircular {
		flags = append(flags, "circular")
	}

	if len(flags) == 0 {
		return "-"
	}
	return strings.Join(flags, ",")
}

func runPurge(w io.Writer, path string, version uint32, opts store.Options) error {
	a, err := store.NewAdmin(path, opts)
	if err != nil {
		return err
	}

	if err := a.PurgeVersion(version); err != nil {
		return err
	}

	fmt.Fprintf(w, "Purged version %d of %s\n", version, path)
	return nil
}

func runCompact(w io.Writer, path string, version uint32, opts store.Options) error {
	a, err := store.NewAdmin(path, opts)
	if err != nil {
		return err
	}

	if err := a.Compact(version); err != nil {
		return err
	}

	stats, err := a.Stats(version)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Compacted %s to version %d: %s live tigs in %s\n",
		path, version, humanize.Comma(int64(stats.Live)), humanize.Bytes(uint64(stats.DataSize)))
	return nil
}
