package index

import (
	"context"
	"database/sql"

	"shadowbox/internal/sberr"
)

// CreateUser inserts a user row if one doesn't already exist for username;
// it returns only an error, so callers resolve the stored user_id with
// GetUserIDByUsername. Mirrors a getpass.getuser()-keyed user table rather
// than any remote account system.
func CreateUser(ctx context.Context, q Querier, userID, username string, createdAtUnix int64) error {
	_, err := q.q().ExecContext(ctx, `
		INSERT INTO users(user_id, username, created_at) VALUES(?, ?, ?)
		ON CONFLICT(username) DO NOTHING`,
		userID, username, createdAtUnix)
	if err != nil {
		return sberr.NewError("index.CreateUser", sberr.KindIOError, err)
	}
	return nil
}

// GetUserIDByUsername resolves a username to its stable user_id.
func GetUserIDByUsername(ctx context.Context, q Querier, username string) (string, error) {
	var userID string
	err := q.q().QueryRowContext(ctx, `SELECT user_id FROM users WHERE username = ?`, username).Scan(&userID)
	if err == sql.ErrNoRows {
		return "", sberr.NewError("index.GetUserIDByUsername", sberr.KindNotFound, err)
	}
	if err != nil {
		return "", sberr.NewError("index.GetUserIDByUsername", sberr.KindIOError, err)
	}
	return userID, nil
}

// CreateBox inserts a new Box row.
func CreateBox(ctx context.Context, q Querier, b Box) error {
	_, err := q.q().ExecContext(ctx, `
		INSERT INTO boxes(box_id, name, owner, owner_id, created_at, is_public, kdf_salt, wrapped_dek, soft_deleted)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		b.BoxID, b.Name, b.Owner, b.OwnerID, b.CreatedAt.Unix(), b.IsPublic, b.KDFSalt, b.WrappedDEK)
	if err != nil {
		return sberr.NewError("index.CreateBox", sberr.KindIOError, err)
	}
	return nil
}

// GetBox fetches a Box by ID, including soft-deleted ones (callers that
// care filter on SoftDeleted themselves).
func GetBox(ctx context.Context, q Querier, boxID string) (*Box, error) {
	row := q.q().QueryRowContext(ctx, `
		SELECT box_id, name, owner, owner_id, created_at, is_public, kdf_salt, wrapped_dek, soft_deleted
		FROM boxes WHERE box_id = ?`, boxID)
	b, err := scanBox(row)
	if err == sql.ErrNoRows {
		return nil, sberr.NewError("index.GetBox", sberr.KindNotFound, err)
	}
	if err != nil {
		return nil, sberr.NewError("index.GetBox", sberr.KindIOError, err)
	}
	return b, nil
}

// ListBoxes returns every non-deleted Box owned by ownerID, newest first.
func ListBoxes(ctx context.Context, q Querier, ownerID string) ([]Box, error) {
	rows, err := q.q().QueryContext(ctx, `
		SELECT box_id, name, owner, owner_id, created_at, is_public, kdf_salt, wrapped_dek, soft_deleted
		FROM boxes WHERE owner_id = ? AND soft_deleted = 0 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, sberr.NewError("index.ListBoxes", sberr.KindIOError, err)
	}
	defer rows.Close()

	var out []Box
	for rows.Next() {
		b, err := scanBox(rows)
		if err != nil {
			return nil, sberr.NewError("index.ListBoxes", sberr.KindIOError, err)
		}
		out = append(out, *b)
	}
	return out, nil
}

// SoftDeleteBox marks a Box deleted without touching its files or blobs.
func SoftDeleteBox(ctx context.Context, q Querier, boxID string) error {
	_, err := q.q().ExecContext(ctx, `UPDATE boxes SET soft_deleted = 1 WHERE box_id = ?`, boxID)
	if err != nil {
		return sberr.NewError("index.SoftDeleteBox", sberr.KindIOError, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBox(s scanner) (*Box, error) {
	var (
		b           Box
		createdUnix int64
	)
	if err := s.Scan(&b.BoxID, &b.Name, &b.Owner, &b.OwnerID, &createdUnix, &b.IsPublic, &b.KDFSalt, &b.WrappedDEK, &b.SoftDeleted); err != nil {
		return nil, err
	}
	b.CreatedAt = unixToTime(createdUnix)
	return &b, nil
}
