// Package box implements the Box Engine: the single write path tying the
// Blob Store, Metadata Index, Crypto Primitives and Session Manager
// together, enforcing every storage invariant a Box depends on.
package box

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"shadowbox/internal/blobstore"
	"shadowbox/internal/cryptoprim"
	"shadowbox/internal/index"
	"shadowbox/internal/sberr"
	"shadowbox/internal/session"
)

// Engine is the Box Storage Engine: the only component allowed to write
// to the Blob Store or Metadata Index.
type Engine struct {
	idx      *index.Index
	blobs    *blobstore.Store
	sessions *session.Manager
	logger   *zap.SugaredLogger

	maxFileSize int64

	locksMu sync.Mutex
	locks   map[string]*sync.RWMutex
}

// New constructs a Box Engine over an already-open Metadata Index, Blob
// Store and Session Manager.
func New(idx *index.Index, blobs *blobstore.Store, sessions *session.Manager, maxFileSize int64, logger *zap.SugaredLogger) *Engine {
	return &Engine{
		idx:         idx,
		blobs:       blobs,
		sessions:    sessions,
		maxFileSize: maxFileSize,
		logger:      logger,
		locks:       make(map[string]*sync.RWMutex),
	}
}

func (e *Engine) lockFor(boxID string) *sync.RWMutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	l, ok := e.locks[boxID]
	if !ok {
		l = &sync.RWMutex{}
		e.locks[boxID] = l
	}
	return l
}

// CreateBox generates a fresh per-box salt and DEK, derives the owner's
// master key from password, wraps the DEK, and inserts the Box row.
func (e *Engine) CreateBox(ctx context.Context, owner, name, password string, public bool) (string, error) {
	const op = "box.CreateBox"

	salt, err := cryptoprim.NewSalt()
	if err != nil {
		return "", sberr.NewError(op, sberr.KindIOError, err)
	}
	dek, err := cryptoprim.RandomBytes(cryptoprim.KeySize)
	if err != nil {
		return "", sberr.NewError(op, sberr.KindIOError, err)
	}

	masterKey := cryptoprim.DeriveMasterKey([]byte(password), salt)
	wrapKey, err := cryptoprim.DeriveSubKey(masterKey, cryptoprim.InfoDEKWrap)
	if err != nil {
		return "", sberr.NewError(op, sberr.KindIOError, err)
	}
	wrapped, err := cryptoprim.WrapKey(wrapKey, dek)
	if err != nil {
		return "", sberr.NewError(op, sberr.KindIOError, err)
	}

	userID, err := e.ensureUser(ctx, owner)
	if err != nil {
		return "", err
	}

	boxID := uuid.NewString()
	err = index.CreateBox(ctx, e.idx, index.Box{
		BoxID:      boxID,
		Name:       name,
		Owner:      owner,
		OwnerID:    userID,
		CreatedAt:  time.Now(),
		IsPublic:   public,
		KDFSalt:    salt,
		WrappedDEK: wrapped,
	})
	if err != nil {
		return "", err
	}
	return boxID, nil
}

func (e *Engine) ensureUser(ctx context.Context, username string) (string, error) {
	userID, err := index.GetUserIDByUsername(ctx, e.idx, username)
	if err == nil {
		return userID, nil
	}
	var sbErr *sberr.Error
	if !errors.As(err, &sbErr) || sbErr.Kind != sberr.KindNotFound {
		return "", err
	}
	userID = uuid.NewString()
	if err := index.CreateUser(ctx, e.idx, userID, username, time.Now().Unix()); err != nil {
		return "", err
	}
	// Another writer may have raced us (ON CONFLICT DO NOTHING in
	// CreateUser); re-resolve to get the winning row's ID.
	return index.GetUserIDByUsername(ctx, e.idx, username)
}

// GetBox returns a single Box's row by ID.
func (e *Engine) GetBox(ctx context.Context, boxID string) (*index.Box, error) {
	return index.GetBox(ctx, e.idx, boxID)
}

// ListBoxes returns every live Box owned by owner.
func (e *Engine) ListBoxes(ctx context.Context, owner string) ([]index.Box, error) {
	userID, err := index.GetUserIDByUsername(ctx, e.idx, owner)
	if err != nil {
		return nil, err
	}
	return index.ListBoxes(ctx, e.idx, userID)
}

// OpenBox unlocks a Box for the session.
func (e *Engine) OpenBox(ctx context.Context, boxID, password string) error {
	const op = "box.OpenBox"

	b, err := index.GetBox(ctx, e.idx, boxID)
	if err != nil {
		return err
	}
	if b.WrappedDEK == nil {
		return sberr.NewError(op, sberr.KindIntegrityFailure, errors.New("box has no wrapped DEK"))
	}

	masterKey := cryptoprim.DeriveMasterKey([]byte(password), b.KDFSalt)
	wrapKey, err := cryptoprim.DeriveSubKey(masterKey, cryptoprim.InfoDEKWrap)
	if err != nil {
		return sberr.NewError(op, sberr.KindIOError, err)
	}
	dek, err := cryptoprim.UnwrapKey(wrapKey, b.WrappedDEK)
	if err != nil {
		return sberr.NewError(op, sberr.KindAuthFailure, err)
	}

	e.sessions.Put(boxID, dek)
	return nil
}

// CloseBox locks boxID.
func (e *Engine) CloseBox(boxID string) { e.sessions.Lock(boxID) }

// AddFile writes a file into a Box, including deduplication, versioning,
// and blob-reap-on-abort.
func (e *Engine) AddFile(ctx context.Context, boxID, name string, content []byte, mime, description string, tags []string) (string, error) {
	const op = "box.AddFile"

	if int64(len(content)) > e.maxFileSize {
		return "", sberr.NewError(op, sberr.KindQuotaExceeded, nil)
	}

	lock := e.lockFor(boxID)
	lock.Lock()
	defer lock.Unlock()

	dek, err := e.sessions.DEK(boxID)
	if err != nil {
		return "", err
	}

	hash := cryptoprim.SHA256Hex(content)

	tx, err := e.idx.Begin(ctx)
	if err != nil {
		return "", err
	}
	committed := false
	createdBlobHash := ""
	defer func() {
		tx.Rollback()
		if !committed && createdBlobHash != "" {
			if rerr := e.blobs.Reap(boxID, createdBlobHash); rerr != nil && e.logger != nil {
				e.logger.Warnw("failed to reap aborted blob", "box_id", boxID, "hash", createdBlobHash, "error", rerr)
			}
		}
	}()

	if ctx.Err() != nil {
		return "", sberr.NewError(op, sberr.KindCancelled, ctx.Err())
	}

	if _, err := index.GetBlob(ctx, tx, boxID, hash); err == nil {
		if err := index.IncRefBlob(ctx, tx, boxID, hash); err != nil {
			return "", err
		}
	} else {
		var sbErr *sberr.Error
		if !errors.As(err, &sbErr) || sbErr.Kind != sberr.KindNotFound {
			return "", err
		}

		nonce, ct, tag, err := cryptoprim.Seal(dek, content)
		if err != nil {
			return "", sberr.NewError(op, sberr.KindIOError, err)
		}
		if err := e.blobs.Put(ctx, boxID, hash, ct); err != nil {
			return "", err
		}
		createdBlobHash = hash

		if err := index.CreateBlob(ctx, tx, index.Blob{
			BoxID: boxID, BlobHash: hash, Nonce: nonce, Tag: tag,
			CTSize: int64(len(ct)), PathOnDisk: e.blobs.Path(boxID, hash),
		}); err != nil {
			return "", err
		}
	}

	fileID, err := e.upsertFileVersion(ctx, tx, boxID, name, hash, int64(len(content)), mime, description, tags)
	if err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	committed = true
	e.sessions.Touch(boxID)
	return fileID, nil
}

func (e *Engine) upsertFileVersion(ctx context.Context, tx *index.Tx, boxID, name, hash string, size int64, mime, description string, tags []string) (string, error) {
	now := time.Now()
	normTags := index.NormalizeTags(tags)
	filetype := classifyMime(mime)

	existing, err := index.GetFileByName(ctx, tx, boxID, name)
	if err != nil {
		var sbErr *sberr.Error
		if !errors.As(err, &sbErr) || sbErr.Kind != sberr.KindNotFound {
			return "", err
		}
		// New file: first version.
		fileID := uuid.NewString()
		versionID := uuid.NewString()
		if err := index.CreateFile(ctx, tx, index.File{
			FileID: fileID, BoxID: boxID, Name: name, Description: description,
			CurrentVersionID: versionID, CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			return "", err
		}
		if err := index.CreateVersion(ctx, tx, index.Version{
			VersionID: versionID, FileID: fileID, BoxID: boxID, BlobHash: hash,
			Size: size, Mime: mime, FileType: filetype, CreatedAt: now, Seq: 1,
		}); err != nil {
			return "", err
		}
		if err := index.SetTags(ctx, tx, fileID, normTags); err != nil {
			return "", err
		}
		return fileID, nil
	}

	// Existing file: accrete a new version. Duplicate names create a new
	// Version rather than overwriting the old one.
	maxSeq, err := index.MaxSeq(ctx, tx, existing.FileID)
	if err != nil {
		return "", err
	}
	versionID := uuid.NewString()
	if err := index.CreateVersion(ctx, tx, index.Version{
		VersionID: versionID, FileID: existing.FileID, BoxID: boxID, BlobHash: hash,
		Size: size, Mime: mime, FileType: filetype, CreatedAt: now, Seq: maxSeq + 1,
	}); err != nil {
		return "", err
	}
	if err := index.SetFileCurrentVersion(ctx, tx, existing.FileID, versionID, now.Unix()); err != nil {
		return "", err
	}
	if err := index.SetTags(ctx, tx, existing.FileID, normTags); err != nil {
		return "", err
	}
	return existing.FileID, nil
}

// ReadFile decrypts and returns a file's content, verifying it against
// blob_hash.
func (e *Engine) ReadFile(ctx context.Context, boxID, fileID, versionID string) ([]byte, error) {
	const op = "box.ReadFile"

	lock := e.lockFor(boxID)
	lock.RLock()
	defer lock.RUnlock()

	dek, err := e.sessions.DEK(boxID)
	if err != nil {
		return nil, err
	}

	if versionID == "" {
		f, err := index.GetFile(ctx, e.idx, fileID)
		if err != nil {
			return nil, err
		}
		versionID = f.CurrentVersionID
	}
	v, err := index.GetVersion(ctx, e.idx, versionID)
	if err != nil {
		return nil, err
	}
	b, err := index.GetBlob(ctx, e.idx, boxID, v.BlobHash)
	if err != nil {
		return nil, err
	}

	ciphertext, err := e.blobs.Get(ctx, boxID, v.BlobHash, b.CTSize)
	if err != nil {
		return nil, err
	}

	plain, err := cryptoprim.Open(dek, b.Nonce, ciphertext, b.Tag)
	if err != nil {
		return nil, sberr.NewError(op, sberr.KindIntegrityFailure, err)
	}
	if cryptoprim.SHA256Hex(plain) != v.BlobHash {
		return nil, sberr.NewError(op, sberr.KindIntegrityFailure, errors.New("plaintext hash mismatch"))
	}

	e.sessions.Touch(boxID)
	return plain, nil
}

// SoftDeleteFile marks a file as deleted without touching its blobs.
func (e *Engine) SoftDeleteFile(ctx context.Context, boxID, fileID string) error {
	lock := e.lockFor(boxID)
	lock.Lock()
	defer lock.Unlock()
	return index.SoftDeleteFile(ctx, e.idx, fileID, time.Now().Unix())
}

// HardDeleteFile permanently removes a file, decrementing every
// referenced Blob and reaping ones that reach zero refs.
func (e *Engine) HardDeleteFile(ctx context.Context, boxID, fileID string) error {
	lock := e.lockFor(boxID)
	lock.Lock()
	defer lock.Unlock()

	versions, err := index.ListVersions(ctx, e.idx, fileID)
	if err != nil {
		return err
	}

	tx, err := e.idx.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var toUnlink []string
	for _, v := range versions {
		removed, err := index.DecRefBlob(ctx, tx, boxID, v.BlobHash)
		if err != nil {
			return err
		}
		if removed {
			toUnlink = append(toUnlink, v.BlobHash)
		}
	}
	if err := index.HardDeleteFile(ctx, tx, fileID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	for _, hash := range toUnlink {
		if err := e.blobs.Delete(boxID, hash); err != nil && e.logger != nil {
			e.logger.Warnw("failed to unlink blob after hard delete", "box_id", boxID, "hash", hash, "error", err)
		}
	}
	return nil
}

// ListVersions returns every Version of fileID.
func (e *Engine) ListVersions(ctx context.Context, fileID string) ([]index.Version, error) {
	return index.ListVersions(ctx, e.idx, fileID)
}

// RestoreVersion points current_version_id at an existing Version without
// creating a new one.
func (e *Engine) RestoreVersion(ctx context.Context, boxID, fileID, versionID string) error {
	lock := e.lockFor(boxID)
	lock.Lock()
	defer lock.Unlock()

	v, err := index.GetVersion(ctx, e.idx, versionID)
	if err != nil {
		return err
	}
	if v.FileID != fileID {
		return sberr.NewError("box.RestoreVersion", sberr.KindNotFound, errors.New("version does not belong to file"))
	}
	return index.SetFileCurrentVersion(ctx, e.idx, fileID, versionID, time.Now().Unix())
}

// Search returns full File rows for the matched IDs, already filtered to
// non-deleted files, in the relevance order index.Search returns.
func (e *Engine) Search(ctx context.Context, boxID, query string) ([]index.File, error) {
	ids, err := index.Search(ctx, e.idx, boxID, query)
	if err != nil {
		return nil, err
	}
	return e.hydrateFiles(ctx, ids)
}

// FilterByTag returns files in boxID carrying tag.
func (e *Engine) FilterByTag(ctx context.Context, boxID, tag string) ([]index.File, error) {
	ids, err := index.FilterByTag(ctx, e.idx, boxID, tag)
	if err != nil {
		return nil, err
	}
	return e.hydrateFiles(ctx, ids)
}

// ListFiles returns every live File in boxID.
func (e *Engine) ListFiles(ctx context.Context, boxID string) ([]index.File, error) {
	return index.ListFiles(ctx, e.idx, boxID)
}

func (e *Engine) hydrateFiles(ctx context.Context, ids []string) ([]index.File, error) {
	out := make([]index.File, 0, len(ids))
	for _, id := range ids {
		f, err := index.GetFile(ctx, e.idx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, nil
}

func classifyMime(mime string) string {
	switch {
	case hasPrefix(mime, "image/"):
		return "image"
	case hasPrefix(mime, "video/"):
		return "video"
	case hasPrefix(mime, "audio/"):
		return "audio"
	case hasPrefix(mime, "text/x-"), mime == "application/json", mime == "application/javascript":
		return "code"
	case hasPrefix(mime, "text/"), mime == "application/pdf", mime == "application/msword":
		return "document"
	case mime == "application/zip", mime == "application/x-tar", mime == "application/gzip":
		return "archive"
	default:
		return "other"
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
