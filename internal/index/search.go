package index

import (
	"context"
	"strings"

	"shadowbox/internal/sberr"
)

// maxSearchResults caps Search's result set.
const maxSearchResults = 500

// Search runs a full-text query over a Box's files, ranked by relevance,
// filtering out soft-deleted files. Each query token is expanded into an
// FTS5 prefix query (foo -> foo*) to get token-prefix fuzzy matching.
func Search(ctx context.Context, q Querier, boxID, query string) ([]string, error) {
	ftsQuery := toPrefixQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}

	rows, err := q.q().QueryContext(ctx, `
		SELECT f.file_id
		FROM files_fts
		JOIN files f ON f.rowid = files_fts.rowid
		WHERE files_fts MATCH ? AND f.box_id = ? AND f.soft_deleted = 0
		ORDER BY bm25(files_fts)
		LIMIT ?`, ftsQuery, boxID, maxSearchResults)
	if err != nil {
		return nil, sberr.NewError("index.Search", sberr.KindIOError, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, sberr.NewError("index.Search", sberr.KindIOError, err)
		}
		out = append(out, id)
	}
	return out, nil
}

// toPrefixQuery turns free text into an FTS5 query where every token is
// prefix-matched, e.g. "foo bar" -> `"foo"* "bar"*`. Tokens are quoted so
// punctuation in user input can't be interpreted as FTS5 query syntax.
func toPrefixQuery(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, "")
		if f == "" {
			continue
		}
		parts = append(parts, `"`+f+`"*`)
	}
	return strings.Join(parts, " ")
}
