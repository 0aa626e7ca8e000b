package store

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duanyating0315/canu/tig"
)

func testTig(id uint32) *tig.Tig {
	return &tig.Tig{
		ID:        id,
		SourceID:  id + 1000,
		SourceBgn: 0,
		SourceEnd: 4000,
		Class:     tig.Unassembled,
		Children: []tig.Child{
			{ReadID: id * 2, Bgn: 0, End: 3000},
			{ReadID: id*2 + 1, Bgn: 4000, End: 900},
		},
		Body: bytes.Repeat([]byte(fmt.Sprintf("tig%d", id)), 64),
	}
}

func createStore(t *testing.T) (*Store, string) {
	tmpDir, err := os.MkdirTemp("", "tgstore-test-")
	require.NoError(t, err, "creating a test tmpdir")
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	path := filepath.Join(tmpDir, "asm.tigStore")
	s, err := Open(path, 0, Create, DefaultOptions())
	require.NoError(t, err, "creating the store")

	return s, path
}

// populate creates a store with n tigs written to version 0.
func populate(t *testing.T, n int) string {
	s, path := createStore(t)
	for i := 0; i < n; i++ {
		require.NoError(t, s.InsertTig(testTig(uint32(i)), false), "inserting tig %d", i)
	}
	require.NoError(t, s.Close(), "closing the store")

	return path
}

func openStore(t *testing.T, path string, version uint32, mode Mode) *Store {
	s, err := Open(path, version, mode, DefaultOptions())
	require.NoError(t, err, "opening version %d as %s", version, mode)
	t.Cleanup(func() { s.Close() })

	return s
}

func TestCreateAndReopen(t *testing.T) {
	s, path := createStore(t)

	orig := testTig(tig.NoID)
	orig.SuggestCircular = true
	inserted := orig.Clone()

	require.NoError(t, s.InsertTig(inserted, true), "inserting a tig")
	assert.Equal(t, uint32(0), inserted.ID, "the tig should be given the first id")
	assert.Equal(t, uint32(1), s.NumTigs())
	assert.Equal(t, 1, s.NumCached())

	require.NoError(t, s.FlushDisk(0), "flushing the tig")
	require.NoError(t, s.Close(), "closing the store")

	s = openStore(t, path, 0, ReadOnly)
	assert.Equal(t, uint32(1), s.NumTigs())

	loaded, err := s.LoadTig(0)
	require.NoError(t, err, "loading the tig")

	orig.ID = 0
	assert.True(t, orig.Equal(loaded), "the tig should be the same after a round trip")
}

func TestCreateExisting(t *testing.T) {
	path := populate(t, 1)

	_, err := Open(path, 0, Create, DefaultOptions())
	assert.ErrorIs(t, err, ErrStoreExists)
}

func TestOpenMissing(t *testing.T) {
	tmpDir := t.TempDir()

	_, err := Open(filepath.Join(tmpDir, "nothing"), 0, ReadOnly, DefaultOptions())
	assert.ErrorIs(t, err, ErrNoStore)

	path := populate(t, 1)
	_, err = Open(path, 3, ReadOnly, DefaultOptions())
	assert.ErrorIs(t, err, ErrNoVersion)
}

func TestWriteMode(t *testing.T) {
	path := populate(t, 5)

	s := openStore(t, path, 0, Write)
	assert.Equal(t, uint32(0), s.OriginalVersion())
	assert.Equal(t, uint32(1), s.CurrentVersion())
	assert.Equal(t, uint32(5), s.NumTigs())

	require.NoError(t, s.InsertTig(testTig(5), false), "inserting tig 5")
	assert.Equal(t, uint32(6), s.NumTigs())

	v, err := s.Version(5)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), v, "the new tig should be in the new version")

	v, err = s.Version(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), v, "untouched tigs should stay in the old version")

	require.NoError(t, s.Close())

	s = openStore(t, path, 1, ReadOnly)
	assert.Equal(t, uint32(6), s.NumTigs())
	for id := uint32(0); id < 6; id++ {
		loaded, err := s.LoadTig(id)
		require.NoError(t, err, "loading tig %d from version 1", id)
		assert.True(t, testTig(id).Equal(loaded), "tig %d should match", id)
	}

	s = openStore(t, path, 0, ReadOnly)
	assert.Equal(t, uint32(5), s.NumTigs(), "the old version should be unchanged")
}

func TestWriteModePurgesNextVersion(t *testing.T) {
	path := populate(t, 2)

	s := openStore(t, path, 0, Write)
	require.NoError(t, s.InsertTig(testTig(2), false))
	require.NoError(t, s.Close())

	s = openStore(t, path, 0, Write)
	assert.Equal(t, uint32(2), s.NumTigs(), "should read from version 0")
	assert.False(t, indexExists(path, 1), "the old version 1 should be gone")
	require.NoError(t, s.Close())

	s = openStore(t, path, 1, ReadOnly)
	assert.Equal(t, uint32(2), s.NumTigs())
}

func TestAppendMode(t *testing.T) {
	path := populate(t, 2)

	s := openStore(t, path, 0, Write)
	require.NoError(t, s.InsertTig(testTig(2), false))
	require.NoError(t, s.Close())

	s = openStore(t, path, 0, Append)
	assert.Equal(t, uint32(3), s.NumTigs(), "should pick up where version 1 left off")
	require.NoError(t, s.InsertTig(testTig(3), false))
	require.NoError(t, s.Close())

	s = openStore(t, path, 1, ReadOnly)
	assert.Equal(t, uint32(4), s.NumTigs())
	for id := uint32(0); id < 4; id++ {
		loaded, err := s.LoadTig(id)
		require.NoError(t, err, "loading tig %d", id)
		assert.True(t, testTig(id).Equal(loaded), "tig %d should match", id)
	}
}

func TestModifyMode(t *testing.T) {
	path := populate(t, 2)

	s := openStore(t, path, 0, Modify)
	assert.Equal(t, uint32(0), s.CurrentVersion())

	replacement := testTig(1)
	replacement.Body = []byte("replaced")
	require.NoError(t, s.InsertTig(replacement, false))
	require.NoError(t, s.Close())

	versions, err := listVersions(path)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0}, versions, "no new version should be written")

	s = openStore(t, path, 0, ReadOnly)
	loaded, err := s.LoadTig(1)
	require.NoError(t, err)
	assert.Equal(t, "replaced", string(loaded.Body))
}

func TestReadOnly(t *testing.T) {
	path := populate(t, 2)

	s := openStore(t, path, 0, ReadOnly)
	other := openStore(t, path, 0, ReadOnly)
	assert.Equal(t, s.NumTigs(), other.NumTigs(), "readers shouldn't need the lock")

	assert.ErrorIs(t, s.InsertTig(testTig(2), false), ErrReadOnly)
	assert.ErrorIs(t, s.DeleteTig(0), ErrReadOnly)
	assert.ErrorIs(t, s.SetClass(0, tig.Contig), ErrReadOnly)
	assert.ErrorIs(t, s.NextVersion(), ErrReadOnly)

	assert.Equal(t, uint32(2), s.NumTigs())
	deleted, err := s.IsDeleted(0)
	require.NoError(t, err)
	assert.False(t, deleted)

	require.NoError(t, s.Close())
	assert.Equal(t, []uint32{0}, mustVersions(t, path), "a reader shouldn't write anything")
}

func TestDelete(t *testing.T) {
	path := populate(t, 3)

	s := openStore(t, path, 0, Write)
	_, err := s.LoadTig(1)
	require.NoError(t, err)
	require.NoError(t, s.SetSourceID(1, 55))
	require.NoError(t, s.SetClass(1, tig.Contig))

	require.NoError(t, s.DeleteTig(1), "deleting tig 1")
	assert.Equal(t, 0, s.NumCached(), "the deleted tig should be evicted")
	assert.Equal(t, uint32(3), s.NumTigs(), "deleting shouldn't shrink the index")

	deleted, err := s.IsDeleted(1)
	require.NoError(t, err)
	assert.True(t, deleted)

	sourceID, err := s.SourceID(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(55), sourceID, "metadata should outlive the deletion")
	class, err := s.Class(1)
	require.NoError(t, err)
	assert.Equal(t, tig.Contig, class)
	n, err := s.NumChildren(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), n)

	_, err = s.LoadTig(1)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.CopyTig(1)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.DeleteTig(7), ErrNotFound)

	require.NoError(t, s.Close())

	s = openStore(t, path, 1, ReadOnly)
	deleted, err = s.IsDeleted(1)
	require.NoError(t, err)
	assert.True(t, deleted, "the deletion should persist")

	s = openStore(t, path, 0, ReadOnly)
	_, err = s.LoadTig(1)
	assert.NoError(t, err, "the old version should still have the tig")
}

func TestReinsertDeleted(t *testing.T) {
	s, _ := createStore(t)
	defer s.Close()

	require.NoError(t, s.InsertTig(testTig(0), false))
	require.NoError(t, s.DeleteTig(0))
	require.NoError(t, s.InsertTig(testTig(0), true))

	deleted, err := s.IsDeleted(0)
	require.NoError(t, err)
	assert.False(t, deleted, "inserting should undelete the tig")

	e, err := s.Entry(0)
	require.NoError(t, err)
	assert.True(t, e.FlushNeeded)
}

func TestInsertPastEnd(t *testing.T) {
	s, _ := createStore(t)
	defer s.Close()

	require.NoError(t, s.InsertTig(testTig(4), false))
	assert.Equal(t, uint32(5), s.NumTigs())

	for id := uint32(0); id < 4; id++ {
		deleted, err := s.IsDeleted(id)
		require.NoError(t, err)
		assert.False(t, deleted, "gap tig %d shouldn't be deleted", id)

		_, err = s.LoadTig(id)
		assert.ErrorIs(t, err, ErrNotFound, "gap tig %d was never written", id)
	}

	next := testTig(tig.NoID)
	require.NoError(t, s.InsertTig(next, false))
	assert.Equal(t, uint32(5), next.ID)
}

func TestLoadAndCopy(t *testing.T) {
	s, _ := createStore(t)
	defer s.Close()

	require.NoError(t, s.InsertTig(testTig(0), true))

	loaded, err := s.LoadTig(0)
	require.NoError(t, err)
	again, err := s.LoadTig(0)
	require.NoError(t, err)
	assert.True(t, loaded == again, "loading twice should return the cached tig")

	loaded.Body = []byte("edited")
	copied, err := s.CopyTig(0)
	require.NoError(t, err)
	assert.Equal(t, "edited", string(copied.Body), "a copy should include unsaved changes")
	assert.False(t, copied == loaded, "a copy shouldn't be the cached tig")

	copied.Body = []byte("scratch")
	assert.Equal(t, "edited", string(loaded.Body), "editing the copy shouldn't touch the cache")

	require.NoError(t, s.FlushDisk(0))
	require.NoError(t, s.UnloadTig(0, false))
	assert.Equal(t, 0, s.NumCached())

	copied, err = s.CopyTig(0)
	require.NoError(t, err)
	assert.Equal(t, "edited", string(copied.Body))
	assert.Equal(t, 0, s.NumCached(), "copying shouldn't load the tig")
}

func TestUnloadDiscard(t *testing.T) {
	path := populate(t, 1)

	s := openStore(t, path, 0, Write)
	require.NoError(t, s.InsertTig(testTig(0), true))

	loaded, err := s.LoadTig(0)
	require.NoError(t, err)
	loaded.Body = []byte("discard me")

	require.NoError(t, s.UnloadTig(0, true))

	reloaded, err := s.LoadTig(0)
	require.NoError(t, err)
	assert.True(t, testTig(0).Equal(reloaded), "the stored copy should be unchanged")

	v, err := s.Version(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), v, "nothing should be written to the new version")
}

func TestUnloadDiscardRestoresIndex(t *testing.T) {
	s, path := createStore(t)
	require.NoError(t, s.InsertTig(testTig(0), false))
	require.NoError(t, s.Close())

	s = openStore(t, path, 0, Write)
	replacement := testTig(0)
	replacement.SourceID = 42
	for i := uint32(2); i < 5; i++ {
		replacement.Children = append(replacement.Children, tig.Child{ReadID: 100 + i, Bgn: 0, End: 500})
	}
	require.NoError(t, s.InsertTig(replacement, true))

	n, err := s.NumChildren(0)
	require.NoError(t, err)
	require.Equal(t, uint32(5), n)

	require.NoError(t, s.UnloadTig(0, true))

	n, err = s.NumChildren(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), n, "the index should describe the stored tig again")

	sourceID, err := s.SourceID(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(1000), sourceID)

	e, err := s.Entry(0)
	require.NoError(t, err)
	assert.False(t, e.FlushNeeded)

	loaded, err := s.LoadTig(0)
	require.NoError(t, err)
	assert.Len(t, loaded.Children, 2)
	assert.Equal(t, uint32(1000), loaded.SourceID)
}

func TestUnloadDiscardKeepsSetters(t *testing.T) {
	path := populate(t, 1)

	s := openStore(t, path, 0, Write)
	replacement := testTig(0)
	replacement.Body = []byte("discard me")
	require.NoError(t, s.InsertTig(replacement, true))
	require.NoError(t, s.SetSourceEnd(0, 77))
	require.NoError(t, s.UnloadTig(0, true))

	end, err := s.SourceEnd(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(77), end, "setters change the index, not just the cached tig")

	loaded, err := s.LoadTig(0)
	require.NoError(t, err)
	assert.Equal(t, testTig(0).Body, loaded.Body)
	assert.Equal(t, uint32(77), loaded.SourceEnd)
}

func TestFlushCacheAll(t *testing.T) {
	s, path := createStore(t)

	for i := uint32(0); i < 4; i++ {
		require.NoError(t, s.InsertTig(testTig(i), true))
	}
	assert.Equal(t, 4, s.NumCached())

	require.NoError(t, s.FlushCacheAll())
	assert.Equal(t, 0, s.NumCached())

	for i := uint32(0); i < 4; i++ {
		e, err := s.Entry(i)
		require.NoError(t, err)
		assert.True(t, e.Location.Written(), "tig %d should be on disk", i)
		assert.False(t, e.FlushNeeded)
	}
	require.NoError(t, s.Close())

	s = openStore(t, path, 0, ReadOnly)
	for i := uint32(0); i < 4; i++ {
		loaded, err := s.LoadTig(i)
		require.NoError(t, err)
		assert.True(t, testTig(i).Equal(loaded))
	}
}

func TestNextVersion(t *testing.T) {
	s, path := createStore(t)

	require.NoError(t, s.InsertTig(testTig(0), true))
	require.NoError(t, s.InsertTig(testTig(1), false))
	require.NoError(t, s.NextVersion(), "advancing the version")
	assert.Equal(t, uint32(1), s.CurrentVersion())
	assert.True(t, indexExists(path, 0), "the old version should be committed")

	require.NoError(t, s.FlushDiskAll())

	v, err := s.Version(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), v, "cached tigs should be rewritten to the new version")

	v, err = s.Version(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), v, "unloaded tigs should stay where they are")

	require.NoError(t, s.Close())
	assert.Equal(t, []uint32{0, 1}, mustVersions(t, path))

	s = openStore(t, path, 1, ReadOnly)
	for i := uint32(0); i < 2; i++ {
		loaded, err := s.LoadTig(i)
		require.NoError(t, err)
		assert.True(t, testTig(i).Equal(loaded))
	}
}

func TestCapacityExceeded(t *testing.T) {
	s, path := createStore(t)
	defer s.Close()

	require.NoError(t, s.InsertTig(testTig(0), false))

	info, err := os.Stat(dataName(path, 0))
	require.NoError(t, err)

	s.maxOffset = uint64(info.Size()) + 16
	err = s.InsertTig(testTig(1), false)
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Equal(t, uint32(1), s.NumTigs(), "a failed insert shouldn't grow the index")

	after, err := os.Stat(dataName(path, 0))
	require.NoError(t, err)
	assert.Equal(t, info.Size(), after.Size(), "nothing should be written")

	unnumbered := testTig(tig.NoID)
	err = s.InsertTig(unnumbered, false)
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Equal(t, tig.NoID, unnumbered.ID, "a failed insert shouldn't use up an id")
	assert.Equal(t, uint32(1), s.NumTigs())

	s.maxOffset = MaxFileOffset
	assert.NoError(t, s.InsertTig(testTig(1), false))
	require.NoError(t, s.InsertTig(unnumbered, false))
	assert.Equal(t, uint32(2), unnumbered.ID)
}

func TestFailedReplaceKeepsEntry(t *testing.T) {
	s, path := createStore(t)
	defer s.Close()

	require.NoError(t, s.InsertTig(testTig(0), false))
	before, err := s.Entry(0)
	require.NoError(t, err)

	info, err := os.Stat(dataName(path, 0))
	require.NoError(t, err)
	s.maxOffset = uint64(info.Size())

	replacement := testTig(0)
	replacement.SourceID = 42
	assert.ErrorIs(t, s.InsertTig(replacement, false), ErrCapacityExceeded)

	after, err := s.Entry(0)
	require.NoError(t, err)
	assert.Equal(t, before, after, "the entry should be left as it was")
}

func TestVersionCapacity(t *testing.T) {
	s, path := createStore(t)
	require.NoError(t, s.Close())

	_, err := Open(path, MaxVersion, Write, DefaultOptions())
	assert.ErrorIs(t, err, ErrCapacityExceeded, "writing version %d needs one more", MaxVersion+1)

	_, err = Open(path, MaxVersion, Append, DefaultOptions())
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	s = openStore(t, path, 0, Modify)
	s.currentVersion = MaxVersion
	assert.ErrorIs(t, s.NextVersion(), ErrCapacityExceeded)
	assert.Equal(t, uint32(MaxVersion), s.CurrentVersion(), "a failed advance shouldn't change the version")
	s.currentVersion = 0
}

func TestInsertFarID(t *testing.T) {
	s, _ := createStore(t)
	defer s.Close()

	require.NoError(t, s.InsertTig(testTig(0), false))
	require.NoError(t, s.SetSourceID(0, 9))

	require.NoError(t, s.InsertTig(testTig(5000), true))
	assert.Equal(t, uint32(5001), s.NumTigs())
	assert.Equal(t, 5001, cap(s.entries), "growing to a far id should allocate once")

	sourceID, err := s.SourceID(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(9), sourceID, "existing entries should be kept")

	for _, id := range []uint32{1, 2500, 4999} {
		e, err := s.Entry(id)
		require.NoError(t, err)
		assert.Equal(t, Entry{}, e, "gap entry %d should be empty", id)
	}
}

func TestLocked(t *testing.T) {
	path := populate(t, 1)

	// Pretend another live process holds the lock.
	lock := filepath.Join(path, lockName)
	require.NoError(t, os.WriteFile(lock, []byte(fmt.Sprintf("%d\n", os.Getppid())), 0644))

	_, err := Open(path, 0, Write, DefaultOptions())
	assert.ErrorIs(t, err, ErrLocked)

	s := openStore(t, path, 0, ReadOnly)
	assert.Equal(t, uint32(1), s.NumTigs(), "readers should ignore the lock")

	require.NoError(t, os.Remove(lock))
	s = openStore(t, path, 0, Write)
	require.NoError(t, s.Close())

	_, err = os.Stat(lock)
	assert.True(t, os.IsNotExist(err), "closing should release the lock")
}

func TestCorruptData(t *testing.T) {
	path := populate(t, 1)

	s := openStore(t, path, 0, ReadOnly)
	e, err := s.Entry(0)
	require.NoError(t, err)

	f, err := os.OpenFile(dataName(path, 0), os.O_RDWR, 0)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte("XXXX"), int64(e.Location.Offset()))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = s.LoadTig(0)
	require.Error(t, err)

	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, uint32(0), ioErr.TigID)
	assert.Equal(t, e.Location.Offset(), ioErr.Offset)
}

func TestUncompressed(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "raw.tigStore")

	opts := Options{Compression: tig.NoCompression, Sync: true}
	s, err := Open(path, 0, Create, opts)
	require.NoError(t, err)
	require.NoError(t, s.InsertTig(testTig(0), false))
	require.NoError(t, s.Close())

	// Tigs are readable whatever they were written with.
	s = openStore(t, path, 0, ReadOnly)
	loaded, err := s.LoadTig(0)
	require.NoError(t, err)
	assert.True(t, testTig(0).Equal(loaded))

	m, err := readManifest(path)
	require.NoError(t, err)
	assert.Equal(t, tig.NoCompression, m.Compression)
	assert.NotEmpty(t, m.ID)
	require.Len(t, m.Versions, 1)
	assert.Equal(t, uint32(1), m.Versions[0].NumTigs)
}

func TestBadOptions(t *testing.T) {
	_, err := Open(t.TempDir(), 0, Create, Options{Compression: tig.Compression("lz4")})
	assert.Error(t, err)
}

func mustVersions(t *testing.T, path string) []uint32 {
	versions, err := listVersions(path)
	require.NoError(t, err)
	return versions
}
