// Package blobstore implements a content-addressed ciphertext store: blobs
// live on disk under storage_root/<box_id>/<first-2-of-hash>/<rest-of-hash>,
// written atomically via write-to-temp-then-rename so a crash never leaves
// a partial file visible at its final path.
package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"shadowbox/internal/sberr"
)

// Store roots every Box's blobs under a single directory tree.
type Store struct {
	root   string
	logger *zap.SugaredLogger
}

// New returns a Store rooted at root, creating it if necessary.
func New(root string, logger *zap.SugaredLogger) (*Store, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, sberr.NewError("blobstore.New", sberr.KindIOError, err)
	}
	return &Store{root: root, logger: logger}, nil
}

// Path returns the on-disk path for a given box/hash pair without
// touching the filesystem.
func (s *Store) Path(boxID, hash string) string {
	prefix, rest := fanOut(hash)
	return filepath.Join(s.root, boxID, prefix, rest)
}

func fanOut(hash string) (prefix, rest string) {
	if len(hash) < 2 {
		return hash, hash
	}
	return hash[:2], hash[2:]
}

// Put writes ciphertext atomically to the blob's content-addressed path.
// If the path already exists with the same size, Put is a no-op —
// idempotent by design, since the same plaintext hash always produces the
// same box-scoped path once a blob has been written for it.
func (s *Store) Put(ctx context.Context, boxID, hash string, ciphertext []byte) error {
	if err := ctx.Err(); err != nil {
		return sberr.NewError("blobstore.Put", sberr.KindCancelled, err)
	}

	path := s.Path(boxID, hash)
	if info, err := os.Stat(path); err == nil {
		if info.Size() == int64(len(ciphertext)) {
			return nil
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return sberr.NewError("blobstore.Put", sberr.KindIOError, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return sberr.NewError("blobstore.Put", sberr.KindIOError, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(ciphertext); err != nil {
		tmp.Close()
		return sberr.NewError("blobstore.Put", sberr.KindIOError, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return sberr.NewError("blobstore.Put", sberr.KindIOError, err)
	}
	if err := tmp.Close(); err != nil {
		return sberr.NewError("blobstore.Put", sberr.KindIOError, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return sberr.NewError("blobstore.Put", sberr.KindIOError, err)
	}
	return nil
}

// Get reads a blob's ciphertext back. wantSize must match the on-disk file
// size (the ct_size recorded in the Metadata Index) or Get reports
// *sberr.Error with KindIntegrityFailure.
func (s *Store) Get(ctx context.Context, boxID, hash string, wantSize int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, sberr.NewError("blobstore.Get", sberr.KindCancelled, err)
	}

	path := s.Path(boxID, hash)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, sberr.NewError("blobstore.Get", sberr.KindNotFound, err)
		}
		return nil, sberr.NewError("blobstore.Get", sberr.KindIOError, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, sberr.NewError("blobstore.Get", sberr.KindIOError, err)
	}
	if info.Size() != wantSize {
		return nil, sberr.NewError("blobstore.Get", sberr.KindIntegrityFailure, nil)
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, sberr.NewError("blobstore.Get", sberr.KindIOError, err)
	}
	return data, nil
}

// Delete unlinks a blob file. It must only be called by the Box Engine
// after the corresponding Metadata Index row has been removed in the same
// transaction; Delete itself does not touch the index.
func (s *Store) Delete(boxID, hash string) error {
	path := s.Path(boxID, hash)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return sberr.NewError("blobstore.Delete", sberr.KindIOError, err)
	}
	return nil
}

// Reap removes a blob file that Put has already written — used by the Box
// Engine to undo a blob write on any later failure in the same
// transaction. (Put itself removes its temp file when it fails.)
func (s *Store) Reap(boxID, hash string) error {
	if s.logger != nil {
		s.logger.Debugw("reaping blob after aborted write", "box_id", boxID, "hash", hash)
	}
	return s.Delete(boxID, hash)
}

// DeleteBox removes every blob belonging to a Box in one shot, used when a
// Box itself is torn down.
func (s *Store) DeleteBox(boxID string) error {
	dir := filepath.Join(s.root, boxID)
	if err := os.RemoveAll(dir); err != nil {
		return sberr.NewError("blobstore.DeleteBox", sberr.KindIOError, err)
	}
	return nil
}
