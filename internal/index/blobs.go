package index

import (
	"context"
	"database/sql"

	"shadowbox/internal/sberr"
)

// GetBlob fetches a (box_id, blob_hash) Blob row.
func GetBlob(ctx context.Context, q Querier, boxID, hash string) (*Blob, error) {
	row := q.q().QueryRowContext(ctx, `
		SELECT box_id, blob_hash, ref_count, nonce, tag, ct_size, path_on_disk
		FROM blobs WHERE box_id = ? AND blob_hash = ?`, boxID, hash)
	b, err := scanBlob(row)
	if err == sql.ErrNoRows {
		return nil, sberr.NewError("index.GetBlob", sberr.KindNotFound, err)
	}
	if err != nil {
		return nil, sberr.NewError("index.GetBlob", sberr.KindIOError, err)
	}
	return b, nil
}

// CreateBlob inserts a new Blob row with ref_count = 1, used the first
// time a given plaintext hash is seen in a Box.
func CreateBlob(ctx context.Context, q Querier, b Blob) error {
	_, err := q.q().ExecContext(ctx, `
		INSERT INTO blobs(box_id, blob_hash, ref_count, nonce, tag, ct_size, path_on_disk)
		VALUES(?, ?, 1, ?, ?, ?, ?)`,
		b.BoxID, b.BlobHash, b.Nonce, b.Tag, b.CTSize, b.PathOnDisk)
	if err != nil {
		return sberr.NewError("index.CreateBlob", sberr.KindIOError, err)
	}
	return nil
}

// IncRefBlob increments ref_count, used when add_file deduplicates onto an
// existing Blob.
func IncRefBlob(ctx context.Context, q Querier, boxID, hash string) error {
	_, err := q.q().ExecContext(ctx, `
		UPDATE blobs SET ref_count = ref_count + 1 WHERE box_id = ? AND blob_hash = ?`, boxID, hash)
	if err != nil {
		return sberr.NewError("index.IncRefBlob", sberr.KindIOError, err)
	}
	return nil
}

// DecRefBlob decrements ref_count and, if it reaches zero, deletes the
// row, returning whether the row was removed so the caller can unlink the
// on-disk file.
func DecRefBlob(ctx context.Context, q Querier, boxID, hash string) (removed bool, err error) {
	_, err = q.q().ExecContext(ctx, `
		UPDATE blobs SET ref_count = ref_count - 1 WHERE box_id = ? AND blob_hash = ?`, boxID, hash)
	if err != nil {
		return false, sberr.NewError("index.DecRefBlob", sberr.KindIOError, err)
	}

	var refCount int
	err = q.q().QueryRowContext(ctx, `
		SELECT ref_count FROM blobs WHERE box_id = ? AND blob_hash = ?`, boxID, hash).Scan(&refCount)
	if err != nil {
		return false, sberr.NewError("index.DecRefBlob", sberr.KindIOError, err)
	}
	if refCount > 0 {
		return false, nil
	}
	if _, err := q.q().ExecContext(ctx, `DELETE FROM blobs WHERE box_id = ? AND blob_hash = ?`, boxID, hash); err != nil {
		return false, sberr.NewError("index.DecRefBlob", sberr.KindIOError, err)
	}
	return true, nil
}

// DeleteBlobRow removes a Blob row outright, whatever its ref_count. The
// Box Engine's add_file does not call it: a Blob row inserted by an aborted
// add_file is undone by rolling back its transaction.
func DeleteBlobRow(ctx context.Context, q Querier, boxID, hash string) error {
	_, err := q.q().ExecContext(ctx, `DELETE FROM blobs WHERE box_id = ? AND blob_hash = ?`, boxID, hash)
	if err != nil {
		return sberr.NewError("index.DeleteBlobRow", sberr.KindIOError, err)
	}
	return nil
}

func scanBlob(s scanner) (*Blob, error) {
	var b Blob
	if err := s.Scan(&b.BoxID, &b.BlobHash, &b.RefCount, &b.Nonce, &b.Tag, &b.CTSize, &b.PathOnDisk); err != nil {
		return nil, err
	}
	return &b, nil
}
