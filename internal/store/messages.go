package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/brandon/inboxengine/pkg/types"
)

const messageColumns = `id, account_id, mailbox_id, uid, subject, from_addrs, to_addrs, cc_addrs, bcc_addrs,
	date, body, flags, size, headers, created_at, updated_at`

// UpsertMessage inserts a message keyed by (account, uid), or updates the
// mutable fields of the existing row when the message has been seen before.
// It reports whether a new row was created. Attachments are persisted only
// with the first sight of a message.
func (s *Store) UpsertMessage(msg *types.Message) (bool, error) {
	existing, err := s.GetMessageByUID(msg.AccountID, msg.UID)
	if err != nil {
		return false, err
	}

	if existing != nil {
		flagsJSON, err := json.Marshal(msg.Flags)
		if err != nil {
			return false, fmt.Errorf("failed to marshal flags: %w", err)
		}
		_, err = s.db.Exec(
			"UPDATE messages SET mailbox_id = ?, flags = ?, updated_at = ? WHERE id = ?",
			msg.MailboxID, string(flagsJSON), timeToDB(time.Now().UTC()), existing.ID,
		)
		if err != nil {
			return false, fmt.Errorf("failed to update message: %w", err)
		}
		msg.ID = existing.ID
		return false, nil
	}

	fromJSON, err := json.Marshal(addrsOrEmpty(msg.From))
	if err != nil {
		return false, fmt.Errorf("failed to marshal from: %w", err)
	}
	toJSON, err := json.Marshal(addrsOrEmpty(msg.To))
	if err != nil {
		return false, fmt.Errorf("failed to marshal to: %w", err)
	}
	ccJSON, err := json.Marshal(addrsOrEmpty(msg.Cc))
	if err != nil {
		return false, fmt.Errorf("failed to marshal cc: %w", err)
	}
	bccJSON, err := json.Marshal(addrsOrEmpty(msg.Bcc))
	if err != nil {
		return false, fmt.Errorf("failed to marshal bcc: %w", err)
	}
	flagsJSON, err := json.Marshal(flagsOrEmpty(msg.Flags))
	if err != nil {
		return false, fmt.Errorf("failed to marshal flags: %w", err)
	}
	headersJSON, err := json.Marshal(headersOrEmpty(msg.Headers))
	if err != nil {
		return false, fmt.Errorf("failed to marshal headers: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := timeToDB(time.Now().UTC())
	result, err := tx.Exec(`
		INSERT INTO messages (account_id, mailbox_id, uid, subject, from_addrs, to_addrs, cc_addrs, bcc_addrs,
			date, body, flags, size, headers, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.AccountID, msg.MailboxID, msg.UID, msg.Subject,
		string(fromJSON), string(toJSON), string(ccJSON), string(bccJSON),
		timeToDB(msg.Date), msg.Body, string(flagsJSON), msg.Size, string(headersJSON),
		now, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert message: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("failed to get message id: %w", err)
	}
	msg.ID = id

	for i := range msg.Attachments {
		att := &msg.Attachments[i]
		res, err := tx.Exec(
			"INSERT INTO attachments (message_id, filename, content_type, content, size) VALUES (?, ?, ?, ?, ?)",
			id, att.Filename, att.ContentType, att.Content, att.Size,
		)
		if err != nil {
			return false, fmt.Errorf("failed to insert attachment: %w", err)
		}
		if attID, err := res.LastInsertId(); err == nil {
			att.ID = attID
			att.MessageID = id
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit message: %w", err)
	}
	return true, nil
}

// GetMessageByUID returns the message for (accountID, uid), or nil when
// none exists.
func (s *Store) GetMessageByUID(accountID int64, uid string) (*types.Message, error) {
	row := s.db.QueryRow(
		"SELECT "+messageColumns+" FROM messages WHERE account_id = ? AND uid = ?",
		accountID, uid,
	)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

// GetMessage returns a message by id, with its attachment metadata.
func (s *Store) GetMessage(id int64) (*types.Message, error) {
	row := s.db.QueryRow("SELECT "+messageColumns+" FROM messages WHERE id = ?", id)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("message not found: %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	rows, err := s.db.Query(
		"SELECT id, message_id, filename, content_type, size FROM attachments WHERE message_id = ?", id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query attachments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var att types.Attachment
		if err := rows.Scan(&att.ID, &att.MessageID, &att.Filename, &att.ContentType, &att.Size); err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		msg.Attachments = append(msg.Attachments, att)
	}
	return msg, rows.Err()
}

// ListMessages returns one page of a mailbox's messages, newest first,
// optionally filtered by a case-insensitive substring over subject, body
// and sender.
func (s *Store) ListMessages(accountID, mailboxID int64, page, limit int, search string) ([]types.Message, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}

	where := "account_id = ? AND mailbox_id = ?"
	args := []interface{}{accountID, mailboxID}
	if search != "" {
		where += " AND (subject LIKE ? COLLATE NOCASE OR body LIKE ? COLLATE NOCASE OR from_addrs LIKE ? COLLATE NOCASE)"
		pattern := "%" + search + "%"
		args = append(args, pattern, pattern, pattern)
	}

	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM messages WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count messages: %w", err)
	}

	query := "SELECT " + messageColumns + " FROM messages WHERE " + where +
		" ORDER BY date DESC LIMIT ? OFFSET ?"
	args = append(args, limit, (page-1)*limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []types.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, *msg)
	}
	return messages, total, rows.Err()
}

// CountMessages returns the number of messages stored for an account.
func (s *Store) CountMessages(accountID int64) (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM messages WHERE account_id = ?", accountID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// DeleteMessages removes messages by provider uid. Attachment rows cascade.
func (s *Store) DeleteMessages(accountID int64, uids []string) error {
	if len(uids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(uids)), ",")
	args := make([]interface{}, 0, len(uids)+1)
	args = append(args, accountID)
	for _, uid := range uids {
		args = append(args, uid)
	}
	_, err := s.db.Exec(
		"DELETE FROM messages WHERE account_id = ? AND uid IN ("+placeholders+")", args...,
	)
	if err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return nil
}

// GetAttachment returns a single attachment with content.
func (s *Store) GetAttachment(id int64) (*types.Attachment, error) {
	var att types.Attachment
	err := s.db.QueryRow(
		"SELECT id, message_id, filename, content_type, content, size FROM attachments WHERE id = ?", id,
	).Scan(&att.ID, &att.MessageID, &att.Filename, &att.ContentType, &att.Content, &att.Size)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("attachment not found: %d", id)
		}
		return nil, fmt.Errorf("failed to get attachment: %w", err)
	}
	return &att, nil
}

func scanMessage(row rowScanner) (*types.Message, error) {
	var msg types.Message
	var fromJSON, toJSON, ccJSON, bccJSON, flagsJSON, headersJSON string
	var date, createdAt, updatedAt sql.NullString

	err := row.Scan(
		&msg.ID, &msg.AccountID, &msg.MailboxID, &msg.UID, &msg.Subject,
		&fromJSON, &toJSON, &ccJSON, &bccJSON,
		&date, &msg.Body, &flagsJSON, &msg.Size, &headersJSON,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(fromJSON), &msg.From); err != nil {
		return nil, fmt.Errorf("failed to unmarshal from: %w", err)
	}
	if err := json.Unmarshal([]byte(toJSON), &msg.To); err != nil {
		return nil, fmt.Errorf("failed to unmarshal to: %w", err)
	}
	if err := json.Unmarshal([]byte(ccJSON), &msg.Cc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cc: %w", err)
	}
	if err := json.Unmarshal([]byte(bccJSON), &msg.Bcc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bcc: %w", err)
	}
	if err := json.Unmarshal([]byte(flagsJSON), &msg.Flags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal flags: %w", err)
	}
	if err := json.Unmarshal([]byte(headersJSON), &msg.Headers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal headers: %w", err)
	}

	msg.Date = timeFromDB(date)
	msg.CreatedAt = timeFromDB(createdAt)
	msg.UpdatedAt = timeFromDB(updatedAt)
	return &msg, nil
}

func addrsOrEmpty(a []types.Address) []types.Address {
	if a == nil {
		return []types.Address{}
	}
	return a
}

func flagsOrEmpty(f []string) []string {
	if f == nil {
		return []string{}
	}
	return f
}

func headersOrEmpty(h map[string]string) map[string]string {
	if h == nil {
		return map[string]string{}
	}
	return h
}
