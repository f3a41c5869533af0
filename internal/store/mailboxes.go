package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/brandon/inboxengine/pkg/types"
)

const mailboxColumns = `id, account_id, path, name, total_messages, unseen_messages, last_fetched_at, updated_at`

// UpsertMailbox inserts a mailbox for (accountID, path) or updates the
// existing row when provider-reported counts differ. It reports whether a
// write happened, so reconciling twice with identical input performs zero
// writes the second time.
func (s *Store) UpsertMailbox(accountID int64, name, path string, totalMessages, unseenMessages int) (*types.Mailbox, bool, error) {
	existing, err := s.GetMailboxByPath(accountID, path)
	if err != nil {
		return nil, false, err
	}

	if existing != nil {
		if existing.TotalMessages == totalMessages && existing.UnseenMessages == unseenMessages {
			return existing, false, nil
		}
		_, err := s.db.Exec(
			"UPDATE mailboxes SET name = ?, total_messages = ?, unseen_messages = ?, updated_at = ? WHERE id = ?",
			name, totalMessages, unseenMessages, timeToDB(time.Now().UTC()), existing.ID,
		)
		if err != nil {
			return nil, false, fmt.Errorf("failed to update mailbox: %w", err)
		}
		existing.Name = name
		existing.TotalMessages = totalMessages
		existing.UnseenMessages = unseenMessages
		return existing, true, nil
	}

	result, err := s.db.Exec(
		"INSERT INTO mailboxes (account_id, path, name, total_messages, unseen_messages, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		accountID, path, name, totalMessages, unseenMessages, timeToDB(time.Now().UTC()),
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert mailbox: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get mailbox id: %w", err)
	}

	return &types.Mailbox{
		ID:             id,
		AccountID:      accountID,
		Path:           path,
		Name:           name,
		TotalMessages:  totalMessages,
		UnseenMessages: unseenMessages,
	}, true, nil
}

// GetMailboxByPath returns the mailbox for (accountID, path), or nil when
// none exists.
func (s *Store) GetMailboxByPath(accountID int64, path string) (*types.Mailbox, error) {
	row := s.db.QueryRow(
		"SELECT "+mailboxColumns+" FROM mailboxes WHERE account_id = ? AND path = ?",
		accountID, path,
	)
	mb, err := scanMailbox(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mailbox: %w", err)
	}
	return mb, nil
}

// ListMailboxes returns all mailboxes of an account in path order.
func (s *Store) ListMailboxes(accountID int64) ([]types.Mailbox, error) {
	rows, err := s.db.Query(
		"SELECT "+mailboxColumns+" FROM mailboxes WHERE account_id = ? ORDER BY path",
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query mailboxes: %w", err)
	}
	defer rows.Close()

	var mailboxes []types.Mailbox
	for rows.Next() {
		mb, err := scanMailbox(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mailbox: %w", err)
		}
		mailboxes = append(mailboxes, *mb)
	}
	return mailboxes, rows.Err()
}

// SetMailboxFetchedAt advances a mailbox's per-mailbox sync checkpoint.
// Only called after a successful fetch, so a failed mailbox keeps its older
// checkpoint and is re-covered on the next tick.
func (s *Store) SetMailboxFetchedAt(id int64, t time.Time) error {
	_, err := s.db.Exec(
		"UPDATE mailboxes SET last_fetched_at = ?, updated_at = ? WHERE id = ?",
		timeToDB(t.UTC()), timeToDB(time.Now().UTC()), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set mailbox fetch time: %w", err)
	}
	return nil
}

func scanMailbox(row rowScanner) (*types.Mailbox, error) {
	var mb types.Mailbox
	var lastFetched, updatedAt sql.NullString

	err := row.Scan(
		&mb.ID, &mb.AccountID, &mb.Path, &mb.Name,
		&mb.TotalMessages, &mb.UnseenMessages, &lastFetched, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastFetched.Valid {
		t := timeFromDB(lastFetched)
		mb.LastFetchedAt = &t
	}
	mb.UpdatedAt = timeFromDB(updatedAt)
	return &mb, nil
}
