package index

import (
	"context"
	"database/sql"

	"shadowbox/internal/sberr"
)

// CreateFile inserts a new File row with current_version_id already set to
// its first Version's ID (the caller inserts that Version row right after,
// in the same Tx, since versions.file_id references files).
func CreateFile(ctx context.Context, q Querier, f File) error {
	_, err := q.q().ExecContext(ctx, `
		INSERT INTO files(file_id, box_id, name, description, current_version_id, created_at, updated_at, soft_deleted)
		VALUES(?, ?, ?, ?, ?, ?, ?, 0)`,
		f.FileID, f.BoxID, f.Name, f.Description, f.CurrentVersionID, f.CreatedAt.Unix(), f.UpdatedAt.Unix())
	if err != nil {
		return sberr.NewError("index.CreateFile", sberr.KindIOError, err)
	}
	return nil
}

// GetFile fetches a File by ID along with its tag set.
func GetFile(ctx context.Context, q Querier, fileID string) (*File, error) {
	row := q.q().QueryRowContext(ctx, `
		SELECT file_id, box_id, name, description, current_version_id, created_at, updated_at, soft_deleted
		FROM files WHERE file_id = ?`, fileID)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, sberr.NewError("index.GetFile", sberr.KindNotFound, err)
	}
	if err != nil {
		return nil, sberr.NewError("index.GetFile", sberr.KindIOError, err)
	}
	tags, err := GetTags(ctx, q, fileID)
	if err != nil {
		return nil, err
	}
	f.Tags = tags
	return f, nil
}

// GetFileByName returns the live (non-deleted) File named name in boxID,
// or KindNotFound.
func GetFileByName(ctx context.Context, q Querier, boxID, name string) (*File, error) {
	row := q.q().QueryRowContext(ctx, `
		SELECT file_id, box_id, name, description, current_version_id, created_at, updated_at, soft_deleted
		FROM files WHERE box_id = ? AND name = ? AND soft_deleted = 0`, boxID, name)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, sberr.NewError("index.GetFileByName", sberr.KindNotFound, err)
	}
	if err != nil {
		return nil, sberr.NewError("index.GetFileByName", sberr.KindIOError, err)
	}
	tags, err := GetTags(ctx, q, f.FileID)
	if err != nil {
		return nil, err
	}
	f.Tags = tags
	return f, nil
}

// ListFiles returns every non-deleted File in boxID, ordered by
// updated_at DESC, name ASC.
func ListFiles(ctx context.Context, q Querier, boxID string) ([]File, error) {
	rows, err := q.q().QueryContext(ctx, `
		SELECT file_id, box_id, name, description, current_version_id, created_at, updated_at, soft_deleted
		FROM files WHERE box_id = ? AND soft_deleted = 0
		ORDER BY updated_at DESC, name ASC`, boxID)
	if err != nil {
		return nil, sberr.NewError("index.ListFiles", sberr.KindIOError, err)
	}
	defer rows.Close()

	var out []File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, sberr.NewError("index.ListFiles", sberr.KindIOError, err)
		}
		out = append(out, *f)
	}
	// Release the connection before the tag queries: the pool holds one.
	rows.Close()
	for i := range out {
		tags, err := GetTags(ctx, q, out[i].FileID)
		if err != nil {
			return nil, err
		}
		out[i].Tags = tags
	}
	return out, nil
}

// SetFileCurrentVersion updates current_version_id and bumps updated_at,
// used both by add_file (new version) and restore_version (existing one).
func SetFileCurrentVersion(ctx context.Context, q Querier, fileID, versionID string, updatedAtUnix int64) error {
	_, err := q.q().ExecContext(ctx, `
		UPDATE files SET current_version_id = ?, updated_at = ? WHERE file_id = ?`,
		versionID, updatedAtUnix, fileID)
	if err != nil {
		return sberr.NewError("index.SetFileCurrentVersion", sberr.KindIOError, err)
	}
	return nil
}

// SoftDeleteFile sets the soft_deleted flag without touching blobs.
func SoftDeleteFile(ctx context.Context, q Querier, fileID string, updatedAtUnix int64) error {
	_, err := q.q().ExecContext(ctx, `
		UPDATE files SET soft_deleted = 1, updated_at = ? WHERE file_id = ?`, updatedAtUnix, fileID)
	if err != nil {
		return sberr.NewError("index.SoftDeleteFile", sberr.KindIOError, err)
	}
	return nil
}

// HardDeleteFile removes the File row outright together with its Tags and
// Versions (Blob refcounting happens separately in the Box Engine).
func HardDeleteFile(ctx context.Context, q Querier, fileID string) error {
	if _, err := q.q().ExecContext(ctx, `DELETE FROM tags WHERE file_id = ?`, fileID); err != nil {
		return sberr.NewError("index.HardDeleteFile", sberr.KindIOError, err)
	}
	if _, err := q.q().ExecContext(ctx, `DELETE FROM versions WHERE file_id = ?`, fileID); err != nil {
		return sberr.NewError("index.HardDeleteFile", sberr.KindIOError, err)
	}
	if _, err := q.q().ExecContext(ctx, `DELETE FROM files WHERE file_id = ?`, fileID); err != nil {
		return sberr.NewError("index.HardDeleteFile", sberr.KindIOError, err)
	}
	return nil
}

func scanFile(s scanner) (*File, error) {
	var (
		f              File
		currentVersion sql.NullString
		createdUnix    int64
		updatedUnix    int64
	)
	if err := s.Scan(&f.FileID, &f.BoxID, &f.Name, &f.Description, &currentVersion, &createdUnix, &updatedUnix, &f.SoftDeleted); err != nil {
		return nil, err
	}
	f.CurrentVersionID = currentVersion.String
	f.CreatedAt = unixToTime(createdUnix)
	f.UpdatedAt = unixToTime(updatedUnix)
	return &f, nil
}
