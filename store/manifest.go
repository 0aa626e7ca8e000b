package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pborman/uuid"

	"github.com/duanyating0315/canu/tig"
)

const manifestVersion = 1

type Manifest struct {
	Version     int               `json:"version"`
	ID          string            `json:"id"`
	Created     time.Time         `json:"created"`
	Compression tig.Compression   `json:"compression"`
	Versions    []VersionManifest `json:"versions"`
}

type VersionManifest struct {
	Version  uint32 `json:"version"`
	NumTigs  uint32 `json:"num_tigs"`
	DataSize int64  `json:"data_size"`
}

func manifestName(path string) string {
	return filepath.Join(path, ".manifest")
}

func newManifest(compression tig.Compression) Manifest {
	return Manifest{
		Version:     manifestVersion,
		ID:          uuid.New(),
		Created:     time.Now().UTC(),
		Compression: compression,
	}
}

func readManifest(path string) (Manifest, error) {
	m := Manifest{}

	bytes, err := os.ReadFile(manifestName(path))
	if err != nil {
		return m, err
	}

	err = json.Unmarshal(bytes, &m)
	if err != nil {
		return m, err
	}

	if m.Version != manifestVersion {
		return m, ErrWrongVersion
	}

	return m, nil
}

// refresh rebuilds the per-version stats from what's on disk.
func (m *Manifest) refresh(path string) error {
	versions, err := listVersions(path)
	if err != nil {
		return err
	}

	m.Versions = make([]VersionManifest, 0, len(versions))
	for _, v := range versions {
		n, err := numTigsInIndex(path, v)
		if err != nil {
			return err
		}

		var size int64
		if info, err := os.Stat(dataName(path, v)); err == nil {
			size = info.Size()
		}

		m.Versions = append(m.Versions, VersionManifest{Version: v, NumTigs: n, DataSize: size})
	}

	return nil
}

func writeManifest(path string, m Manifest) error {
	bytes, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}

	name := manifestName(path)
	tmp := name + ".tmp"
	if err := os.WriteFile(tmp, bytes, 0644); err != nil {
		return err
	}

	return os.Rename(tmp, name)
}
