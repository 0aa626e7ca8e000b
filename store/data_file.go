package store

import (
	"io"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/duanyating0315/canu/tig"
)

const dataHeader = "TGSTORE1"
const dataHeaderSize = uint64(len(dataHeader))

// A dataFile is the append-only payload file of one version.
type dataFile struct {
	version  uint32
	f        *os.File
	writable bool
	end      uint64
}

// dataFiles is the table of open data files, indexed by version. Files are
// opened on first use and held until closeAll.
type dataFiles struct {
	path  string
	files []*dataFile
}

func newDataFiles(path string) *dataFiles {
	return &dataFiles{path: path}
}

func (dfs *dataFiles) get(version uint32) *dataFile {
	if int(version) < len(dfs.files) {
		return dfs.files[version]
	}
	return nil
}

func (dfs *dataFiles) set(df *dataFile) {
	for int(df.version) >= len(dfs.files) {
		dfs.files = append(dfs.files, nil)
	}
	dfs.files[df.version] = df
}

// forRead returns the data file for version, opening it read-only if it isn't
// open already.
func (dfs *dataFiles) forRead(version uint32) (*dataFile, error) {
	if df := dfs.get(version); df != nil {
		return df, nil
	}

	f, err := os.Open(dataName(dfs.path, version))
	if err != nil {
		return nil, err
	}

	if err := checkDataHeader(f); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "data file for version %d", version)
	}

	df := &dataFile{version: version, f: f}
	dfs.set(df)
	return df, nil
}

// forWrite opens the data file for version for appending, creating it if
// needed. An already open read-only handle is replaced.
func (dfs *dataFiles) forWrite(version uint32) (*dataFile, error) {
	if df := dfs.get(version); df != nil {
		if df.writable {
			return df, nil
		}
		dfs.files[version] = nil
		if err := df.f.Close(); err != nil {
			return nil, err
		}
	}

	f, err := os.OpenFile(dataName(dfs.path, version), os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}

	df := &dataFile{version: version, f: f, writable: true}
	if err := df.init(); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "data file for version %d", version)
	}

	dfs.set(df)
	return df, nil
}

// release closes the handle for version, if any. It will be reopened
// read-only on the next access.
func (dfs *dataFiles) release(version uint32) error {
	df := dfs.get(version)
	if df == nil {
		return nil
	}

	dfs.files[version] = nil
	return df.f.Close()
}

// remove closes and deletes the data file for version.
func (dfs *dataFiles) remove(version uint32) error {
	if err := dfs.release(version); err != nil {
		return err
	}

	err := os.Remove(dataName(dfs.path, version))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (dfs *dataFiles) syncAll() error {
	var result *multierror.Error
	for _, df := range dfs.files {
		if df == nil || !df.writable {
			continue
		}
		if err := df.f.Sync(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}

func (dfs *dataFiles) closeAll() error {
	var result *multierror.Error
	for i, df := range dfs.files {
		if df != nil {
			if err := df.f.Close(); err != nil {
				result = multierror.Append(result, err)
			}
			dfs.files[i] = nil
		}
	}

	return result.ErrorOrNil()
}

// init writes the header into an empty file, or checks it and finds the end
// of an existing one.
func (df *dataFile) init() error {
	info, err := df.f.Stat()
	if err != nil {
		return err
	}

	if info.Size() == 0 {
		if _, err := df.f.WriteAt([]byte(dataHeader), 0); err != nil {
			return err
		}
		df.end = dataHeaderSize
		return nil
	}

	if err := checkDataHeader(df.f); err != nil {
		return err
	}

	df.end = uint64(info.Size())
	return nil
}

func checkDataHeader(r io.ReaderAt) error {
	var header [dataHeaderSize]byte
	if _, err := r.ReadAt(header[:], 0); err != nil {
		return errors.Wrap(ErrCorrupt, "missing data file header")
	}

	if string(header[:]) != dataHeader {
		return errors.Wrapf(ErrCorrupt, "bad data file header %q", header[:])
	}

	return nil
}

// append writes b at the end of the file and returns where it starts. Nothing
// is written if the record would reach past maxOffset.
func (df *dataFile) append(b []byte, maxOffset uint64) (uint64, error) {
	offset := df.end
	if offset > maxOffset || uint64(len(b)) > maxOffset-offset+1 {
		return 0, errors.Wrapf(ErrCapacityExceeded,
			"%d byte record at offset %d of version %d would pass offset %d", len(b), offset, df.version, maxOffset)
	}

	if _, err := df.f.WriteAt(b, int64(offset)); err != nil {
		// Don't leave a partial record behind for the next append to follow.
		if terr := df.f.Truncate(int64(offset)); terr != nil {
			return 0, multierror.Append(err, errors.Wrap(terr, "removing the partial record"))
		}
		return 0, err
	}

	df.end += uint64(len(b))
	return offset, nil
}

func (df *dataFile) readTig(offset uint64) (*tig.Tig, error) {
	r := io.NewSectionReader(df.f, int64(offset), 1<<62)
	t, _, err := tig.ReadFrom(r)
	if err == io.EOF {
		return nil, io.ErrUnexpectedEOF
	}
	return t, err
}
