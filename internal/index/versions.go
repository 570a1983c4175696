package index

import (
	"context"
	"database/sql"

	"shadowbox/internal/sberr"
)

// CreateVersion inserts a new Version row.
func CreateVersion(ctx context.Context, q Querier, v Version) error {
	_, err := q.q().ExecContext(ctx, `
		INSERT INTO versions(version_id, file_id, box_id, blob_hash, size, mime, filetype, created_at, seq)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.VersionID, v.FileID, v.BoxID, v.BlobHash, v.Size, v.Mime, v.FileType, v.CreatedAt.Unix(), v.Seq)
	if err != nil {
		return sberr.NewError("index.CreateVersion", sberr.KindIOError, err)
	}
	return nil
}

// GetVersion fetches a Version by ID.
func GetVersion(ctx context.Context, q Querier, versionID string) (*Version, error) {
	row := q.q().QueryRowContext(ctx, `
		SELECT version_id, file_id, box_id, blob_hash, size, mime, filetype, created_at, seq
		FROM versions WHERE version_id = ?`, versionID)
	v, err := scanVersion(row)
	if err == sql.ErrNoRows {
		return nil, sberr.NewError("index.GetVersion", sberr.KindNotFound, err)
	}
	if err != nil {
		return nil, sberr.NewError("index.GetVersion", sberr.KindIOError, err)
	}
	return v, nil
}

// ListVersions returns every Version of fileID, newest seq first.
func ListVersions(ctx context.Context, q Querier, fileID string) ([]Version, error) {
	rows, err := q.q().QueryContext(ctx, `
		SELECT version_id, file_id, box_id, blob_hash, size, mime, filetype, created_at, seq
		FROM versions WHERE file_id = ? ORDER BY seq DESC`, fileID)
	if err != nil {
		return nil, sberr.NewError("index.ListVersions", sberr.KindIOError, err)
	}
	defer rows.Close()

	var out []Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, sberr.NewError("index.ListVersions", sberr.KindIOError, err)
		}
		out = append(out, *v)
	}
	return out, nil
}

// MaxSeq returns the highest seq among fileID's versions, or 0 if it has
// none yet.
func MaxSeq(ctx context.Context, q Querier, fileID string) (int, error) {
	var max sql.NullInt64
	err := q.q().QueryRowContext(ctx, `SELECT MAX(seq) FROM versions WHERE file_id = ?`, fileID).Scan(&max)
	if err != nil {
		return 0, sberr.NewError("index.MaxSeq", sberr.KindIOError, err)
	}
	return int(max.Int64), nil
}

func scanVersion(s scanner) (*Version, error) {
	var (
		v           Version
		createdUnix int64
	)
	if err := s.Scan(&v.VersionID, &v.FileID, &v.BoxID, &v.BlobHash, &v.Size, &v.Mime, &v.FileType, &createdUnix, &v.Seq); err != nil {
		return nil, err
	}
	v.CreatedAt = unixToTime(createdUnix)
	return &v, nil
}
