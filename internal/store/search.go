package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/brandon/inboxengine/pkg/types"
)

// MessageSummary is a search result row.
type MessageSummary struct {
	ID          int64           `json:"id"`
	AccountID   int64           `json:"account_id"`
	MailboxPath string          `json:"mailbox_path"`
	Subject     string          `json:"subject"`
	From        []types.Address `json:"from,omitempty"`
	Date        string          `json:"date"`
	Snippet     string          `json:"snippet,omitempty"`
}

// SearchMessagesFTS performs a full-text search over subject, body and
// sender using the FTS5 index.
func (s *Store) SearchMessagesFTS(query string, accountID *int64, limit int) ([]MessageSummary, error) {
	var conditions []string
	var args []interface{}

	// Escape query for FTS5
	query = strings.ReplaceAll(query, "\"", "\"\"")
	query = strings.ReplaceAll(query, "'", "''")

	conditions = append(conditions, "m.id IN (SELECT rowid FROM messages_fts WHERE messages_fts MATCH ?)")
	args = append(args, query)

	if accountID != nil {
		conditions = append(conditions, "m.account_id = ?")
		args = append(args, *accountID)
	}

	whereClause := "WHERE " + strings.Join(conditions, " AND ")

	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	sqlQuery := fmt.Sprintf(`
		SELECT m.id, m.account_id, b.path, m.subject, m.from_addrs, m.date, m.body
		FROM messages m
		JOIN mailboxes b ON m.mailbox_id = b.id
		%s
		ORDER BY m.date DESC
		LIMIT ?
	`, whereClause)

	args = append(args, limit)

	rows, err := s.db.Query(sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to perform FTS search: %w", err)
	}
	defer rows.Close()

	var results []MessageSummary
	for rows.Next() {
		var summary MessageSummary
		var fromJSON, body string

		err := rows.Scan(
			&summary.ID,
			&summary.AccountID,
			&summary.MailboxPath,
			&summary.Subject,
			&fromJSON,
			&summary.Date,
			&body,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}

		summary.From = decodeAddrs(fromJSON)

		if len(body) > 200 {
			body = body[:200] + "..."
		}
		summary.Snippet = body

		results = append(results, summary)
	}

	return results, rows.Err()
}

func decodeAddrs(raw string) []types.Address {
	var addrs []types.Address
	if raw == "" {
		return nil
	}
	// Best effort; a malformed column yields an empty sender.
	if err := json.Unmarshal([]byte(raw), &addrs); err != nil {
		return nil
	}
	return addrs
}
