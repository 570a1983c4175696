package index

import (
	"context"
	"sort"
	"strings"

	"shadowbox/internal/sberr"
)

// NormalizeTags lowercases and dedupes a tag set.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// SetTags replaces fileID's tag set with tags (already normalized).
func SetTags(ctx context.Context, q Querier, fileID string, tags []string) error {
	if _, err := q.q().ExecContext(ctx, `DELETE FROM tags WHERE file_id = ?`, fileID); err != nil {
		return sberr.NewError("index.SetTags", sberr.KindIOError, err)
	}
	for _, t := range tags {
		if _, err := q.q().ExecContext(ctx, `INSERT INTO tags(file_id, tag_name) VALUES(?, ?)`, fileID, t); err != nil {
			return sberr.NewError("index.SetTags", sberr.KindIOError, err)
		}
	}
	return nil
}

// GetTags returns fileID's tag set, alphabetically sorted.
func GetTags(ctx context.Context, q Querier, fileID string) ([]string, error) {
	rows, err := q.q().QueryContext(ctx, `SELECT tag_name FROM tags WHERE file_id = ? ORDER BY tag_name`, fileID)
	if err != nil {
		return nil, sberr.NewError("index.GetTags", sberr.KindIOError, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, sberr.NewError("index.GetTags", sberr.KindIOError, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// FilterByTag returns the IDs of non-deleted files in boxID whose tag set
// contains tag (case-insensitive).
func FilterByTag(ctx context.Context, q Querier, boxID, tag string) ([]string, error) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	rows, err := q.q().QueryContext(ctx, `
		SELECT f.file_id FROM files f
		JOIN tags t ON t.file_id = f.file_id
		WHERE f.box_id = ? AND f.soft_deleted = 0 AND t.tag_name = ?
		ORDER BY f.updated_at DESC, f.name ASC`, boxID, tag)
	if err != nil {
		return nil, sberr.NewError("index.FilterByTag", sberr.KindIOError, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, sberr.NewError("index.FilterByTag", sberr.KindIOError, err)
		}
		out = append(out, id)
	}
	return out, nil
}
