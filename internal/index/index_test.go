package index

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	ctx := context.Background()
	idx, err := Open(ctx, filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func seedUserAndBox(t *testing.T, ctx context.Context, idx *Index, boxID string) string {
	t.Helper()
	userID := "user-1"
	require.NoError(t, CreateUser(ctx, idx, userID, "alice", time.Now().Unix()))
	require.NoError(t, CreateBox(ctx, idx, Box{
		BoxID:      boxID,
		Name:       "photos",
		Owner:      "alice",
		OwnerID:    userID,
		CreatedAt:  time.Now(),
		IsPublic:   false,
		KDFSalt:    []byte("0123456789abcdef"),
		WrappedDEK: []byte("wrapped-dek-bytes"),
	}))
	return userID
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")
	idx1, err := Open(ctx, path, nil)
	require.NoError(t, err)
	idx1.Close()

	idx2, err := Open(ctx, path, nil)
	require.NoError(t, err)
	idx2.Close()
}

func TestCreateAndGetBox(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	userID := seedUserAndBox(t, ctx, idx, "box-1")

	b, err := GetBox(ctx, idx, "box-1")
	require.NoError(t, err)
	assert.Equal(t, "photos", b.Name)
	assert.Equal(t, userID, b.OwnerID)
	assert.False(t, b.SoftDeleted)
}

func TestListBoxesFiltersDeleted(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	userID := seedUserAndBox(t, ctx, idx, "box-1")
	require.NoError(t, CreateBox(ctx, idx, Box{
		BoxID: "box-2", Name: "work", Owner: "alice", OwnerID: userID,
		CreatedAt: time.Now(), KDFSalt: []byte("x"), WrappedDEK: []byte("y"),
	}))
	require.NoError(t, SoftDeleteBox(ctx, idx, "box-2"))

	boxes, err := ListBoxes(ctx, idx, userID)
	require.NoError(t, err)
	require.Len(t, boxes, 1)
	assert.Equal(t, "box-1", boxes[0].BoxID)
}

func TestFileVersionLifecycle(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	seedUserAndBox(t, ctx, idx, "box-1")

	now := time.Now()
	require.NoError(t, CreateFile(ctx, idx, File{
		FileID: "file-1", BoxID: "box-1", Name: "a.txt", Description: "",
		CurrentVersionID: "v1", CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, CreateVersion(ctx, idx, Version{
		VersionID: "v1", FileID: "file-1", BoxID: "box-1", BlobHash: "hash1",
		Size: 5, Mime: "text/plain", FileType: "document", CreatedAt: now, Seq: 1,
	}))

	f, err := GetFile(ctx, idx, "file-1")
	require.NoError(t, err)
	assert.Equal(t, "a.txt", f.Name)
	assert.Equal(t, "v1", f.CurrentVersionID)

	max, err := MaxSeq(ctx, idx, "file-1")
	require.NoError(t, err)
	assert.Equal(t, 1, max)

	require.NoError(t, CreateVersion(ctx, idx, Version{
		VersionID: "v2", FileID: "file-1", BoxID: "box-1", BlobHash: "hash2",
		Size: 5, Mime: "text/plain", FileType: "document", CreatedAt: now, Seq: 2,
	}))
	require.NoError(t, SetFileCurrentVersion(ctx, idx, "file-1", "v2", now.Unix()))

	versions, err := ListVersions(ctx, idx, "file-1")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 2, versions[0].Seq) // seq DESC
	assert.Equal(t, 1, versions[1].Seq)
}

func TestBlobRefCounting(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	seedUserAndBox(t, ctx, idx, "box-1")

	require.NoError(t, CreateBlob(ctx, idx, Blob{
		BoxID: "box-1", BlobHash: "hash1", Nonce: []byte("n"), Tag: []byte("t"),
		CTSize: 10, PathOnDisk: "box-1/ha/sh1",
	}))
	require.NoError(t, IncRefBlob(ctx, idx, "box-1", "hash1"))

	b, err := GetBlob(ctx, idx, "box-1", "hash1")
	require.NoError(t, err)
	assert.Equal(t, 2, b.RefCount)

	removed, err := DecRefBlob(ctx, idx, "box-1", "hash1")
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = DecRefBlob(ctx, idx, "box-1", "hash1")
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = GetBlob(ctx, idx, "box-1", "hash1")
	require.Error(t, err)
}

func TestTagsNormalizeAndFilter(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	seedUserAndBox(t, ctx, idx, "box-1")
	now := time.Now()

	require.NoError(t, CreateFile(ctx, idx, File{
		FileID: "file-1", BoxID: "box-1", Name: "a.txt", CurrentVersionID: "v1",
		CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, CreateVersion(ctx, idx, Version{
		VersionID: "v1", FileID: "file-1", BoxID: "box-1", BlobHash: "hash1",
		Size: 1, CreatedAt: now, Seq: 1,
	}))

	tags := NormalizeTags([]string{"Vacation", " vacation ", "Beach"})
	assert.Equal(t, []string{"beach", "vacation"}, tags)
	require.NoError(t, SetTags(ctx, idx, "file-1", tags))

	got, err := GetTags(ctx, idx, "file-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"beach", "vacation"}, got)

	ids, err := FilterByTag(ctx, idx, "box-1", "Beach")
	require.NoError(t, err)
	assert.Equal(t, []string{"file-1"}, ids)
}

func TestSearchPrefixMatch(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	seedUserAndBox(t, ctx, idx, "box-1")
	now := time.Now()

	require.NoError(t, CreateFile(ctx, idx, File{
		FileID: "file-1", BoxID: "box-1", Name: "foobar.txt", Description: "vacation photos",
		CurrentVersionID: "v1", CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, CreateVersion(ctx, idx, Version{
		VersionID: "v1", FileID: "file-1", BoxID: "box-1", BlobHash: "hash1",
		Size: 1, CreatedAt: now, Seq: 1,
	}))

	ids, err := Search(ctx, idx, "box-1", "foo")
	require.NoError(t, err)
	assert.Equal(t, []string{"file-1"}, ids)

	ids, err = Search(ctx, idx, "box-1", "vacat")
	require.NoError(t, err)
	assert.Equal(t, []string{"file-1"}, ids)
}

func TestTransactionRollback(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	seedUserAndBox(t, ctx, idx, "box-1")

	tx, err := idx.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, SoftDeleteBox(ctx, tx, "box-1"))
	require.NoError(t, tx.Rollback())

	b, err := GetBox(ctx, idx, "box-1")
	require.NoError(t, err)
	assert.False(t, b.SoftDeleted)
}
