package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/alecthomas/kingpin/v2"

	"github.com/duanyating0315/canu/store"
	"github.com/duanyating0315/canu/tig"
)

var (
	version string

	ids      = kingpin.Flag("ids", "Display tig ids and offsets.").Short('i').Bool()
	children = kingpin.Flag("children", "Display the children of each tig.").Short('c').Bool()
	bodies   = kingpin.Flag("bodies", "Display tig bodies.").Short('b').Bool()

	path = kingpin.Arg("PATH", "Data file, or store directory, to dump").Required().String()
)

func main() {
	kingpin.Version("tgstore-dump version " + version)
	kingpin.Parse()

	// By default, display ids and children.
	if !*ids && !*children && !*bodies {
		*ids = true
		*children = true
	}

	stat, err := os.Stat(*path)
	if err != nil {
		fatal(err)
	}

	if stat.IsDir() {
		names, err := filepath.Glob(filepath.Join(*path, "seqDB.v*.dat"))
		if err != nil {
			fatal(err)
		}

		for _, name := range names {
			dump(name)
		}
	} else {
		dump(*path)
	}
}

func dump(path string) {
	err := store.ScanDataFile(path, func(offset uint64, t *tig.Tig) error {
		row := make([]string, 0)

		if *ids {
			row = append(row, fmt.Sprintf("%s@%d", filepath.Base(path), offset), fmt.Sprint(t.ID))
		}

		if *children {
			for _, c := range t.Children {
				row = append(row, fmt.Sprintf("%d:%d-%d", c.ReadID, c.Bgn, c.End))
			}
		}

		if *bodies {
			row = append(row, string(t.Body))
		}

		fmt.Println(strings.Join(row, "\t"))
		return nil
	})

	if err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
