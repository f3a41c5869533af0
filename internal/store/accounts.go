package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/brandon/inboxengine/pkg/types"
)

const accountColumns = `id, org_id, email, name, type, state, smtp_ehlo_name,
	imap_host, imap_port, imap_secure, imap_user, imap_pass,
	smtp_host, smtp_port, smtp_secure, smtp_user, smtp_pass,
	oauth_authorized, oauth_client_id, oauth_client_secret, oauth_redirect_uri,
	oauth_access_token, oauth_refresh_token, oauth_scope, oauth_token_type, oauth_token_expiry,
	last_fetch_timestamp, created_at, updated_at`

// CreateAccount inserts a new account and returns its id.
func (s *Store) CreateAccount(acct *types.Account) (int64, error) {
	query := `
		INSERT INTO accounts (org_id, email, name, type, state, smtp_ehlo_name,
			imap_host, imap_port, imap_secure, imap_user, imap_pass,
			smtp_host, smtp_port, smtp_secure, smtp_user, smtp_pass,
			oauth_authorized, oauth_client_id, oauth_client_secret, oauth_redirect_uri,
			oauth_access_token, oauth_refresh_token, oauth_scope, oauth_token_type, oauth_token_expiry,
			last_fetch_timestamp, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := timeToDB(time.Now().UTC())
	result, err := s.db.Exec(query,
		acct.OrgID, acct.Email, acct.Name, acct.Type, acct.State, acct.SMTPEhloName,
		acct.IMAP.Host, acct.IMAP.Port, boolToDB(acct.IMAP.Secure), acct.IMAP.User, acct.IMAP.Pass,
		acct.SMTP.Host, acct.SMTP.Port, boolToDB(acct.SMTP.Secure), acct.SMTP.User, acct.SMTP.Pass,
		boolToDB(acct.OAuth2.Authorized), acct.OAuth2.ClientID, acct.OAuth2.ClientSecret, acct.OAuth2.RedirectURI,
		acct.OAuth2.Tokens.AccessToken, acct.OAuth2.Tokens.RefreshToken, acct.OAuth2.Tokens.Scope,
		acct.OAuth2.Tokens.TokenType, optTimeToDB(acct.OAuth2.Tokens.Expiry),
		ptrTimeToDB(acct.LastFetchTimestamp), now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create account: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get account id: %w", err)
	}
	acct.ID = id
	return id, nil
}

// UpdateAccount rewrites an existing account record.
func (s *Store) UpdateAccount(acct *types.Account) error {
	query := `
		UPDATE accounts SET org_id = ?, email = ?, name = ?, type = ?, state = ?, smtp_ehlo_name = ?,
			imap_host = ?, imap_port = ?, imap_secure = ?, imap_user = ?, imap_pass = ?,
			smtp_host = ?, smtp_port = ?, smtp_secure = ?, smtp_user = ?, smtp_pass = ?,
			oauth_authorized = ?, oauth_client_id = ?, oauth_client_secret = ?, oauth_redirect_uri = ?,
			oauth_access_token = ?, oauth_refresh_token = ?, oauth_scope = ?, oauth_token_type = ?, oauth_token_expiry = ?,
			updated_at = ?
		WHERE id = ?
	`
	_, err := s.db.Exec(query,
		acct.OrgID, acct.Email, acct.Name, acct.Type, acct.State, acct.SMTPEhloName,
		acct.IMAP.Host, acct.IMAP.Port, boolToDB(acct.IMAP.Secure), acct.IMAP.User, acct.IMAP.Pass,
		acct.SMTP.Host, acct.SMTP.Port, boolToDB(acct.SMTP.Secure), acct.SMTP.User, acct.SMTP.Pass,
		boolToDB(acct.OAuth2.Authorized), acct.OAuth2.ClientID, acct.OAuth2.ClientSecret, acct.OAuth2.RedirectURI,
		acct.OAuth2.Tokens.AccessToken, acct.OAuth2.Tokens.RefreshToken, acct.OAuth2.Tokens.Scope,
		acct.OAuth2.Tokens.TokenType, optTimeToDB(acct.OAuth2.Tokens.Expiry),
		timeToDB(time.Now().UTC()), acct.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	return nil
}

// SaveAccount creates or updates depending on whether the account has an id.
func (s *Store) SaveAccount(acct *types.Account) error {
	if acct.ID == 0 {
		_, err := s.CreateAccount(acct)
		return err
	}
	return s.UpdateAccount(acct)
}

// GetAccount returns an account by id.
func (s *Store) GetAccount(id int64) (*types.Account, error) {
	row := s.db.QueryRow("SELECT "+accountColumns+" FROM accounts WHERE id = ?", id)
	return scanAccount(row)
}

// GetAccountByEmail returns an account by email address.
func (s *Store) GetAccountByEmail(email string) (*types.Account, error) {
	row := s.db.QueryRow("SELECT "+accountColumns+" FROM accounts WHERE email = ?", email)
	return scanAccount(row)
}

// ListAccounts returns all accounts.
func (s *Store) ListAccounts() ([]types.Account, error) {
	rows, err := s.db.Query("SELECT " + accountColumns + " FROM accounts ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []types.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *acct)
	}
	return accounts, rows.Err()
}

// SearchAccounts returns accounts whose email contains the query,
// case-insensitively.
func (s *Store) SearchAccounts(query string) ([]types.Account, error) {
	rows, err := s.db.Query(
		"SELECT "+accountColumns+" FROM accounts WHERE email LIKE ? COLLATE NOCASE ORDER BY id",
		"%"+query+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search accounts: %w", err)
	}
	defer rows.Close()

	var accounts []types.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *acct)
	}
	return accounts, rows.Err()
}

// SetAccountState updates state and the EHLO-name field, which doubles as
// the failure-detail slot when state is "error".
func (s *Store) SetAccountState(id int64, state, ehloName string) error {
	_, err := s.db.Exec(
		"UPDATE accounts SET state = ?, smtp_ehlo_name = ?, updated_at = ? WHERE id = ?",
		state, ehloName, timeToDB(time.Now().UTC()), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set account state: %w", err)
	}
	return nil
}

// SetAuthorized flips the OAuth authorized flag. Flagging false marks the
// account as requiring re-consent; syncs short-circuit until then.
func (s *Store) SetAuthorized(id int64, authorized bool) error {
	_, err := s.db.Exec(
		"UPDATE accounts SET oauth_authorized = ?, updated_at = ? WHERE id = ?",
		boolToDB(authorized), timeToDB(time.Now().UTC()), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set authorized flag: %w", err)
	}
	return nil
}

// UpdateAccountTokens persists a rotated token set. The write is guarded by
// a compare-and-swap on the previous refresh token so two concurrent
// refreshes cannot clobber each other; it reports whether the swap applied.
func (s *Store) UpdateAccountTokens(id int64, prevRefreshToken string, ts types.TokenSet) (bool, error) {
	result, err := s.db.Exec(`
		UPDATE accounts SET
			oauth_access_token = ?,
			oauth_refresh_token = ?,
			oauth_scope = ?,
			oauth_token_type = ?,
			oauth_token_expiry = ?,
			oauth_authorized = 1,
			updated_at = ?
		WHERE id = ? AND oauth_refresh_token = ?`,
		ts.AccessToken, ts.RefreshToken, ts.Scope, ts.TokenType, optTimeToDB(ts.Expiry),
		timeToDB(time.Now().UTC()), id, prevRefreshToken,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update tokens: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// SetLastFetchTimestamp advances the account-level sync high-water mark.
func (s *Store) SetLastFetchTimestamp(id int64, t time.Time) error {
	_, err := s.db.Exec(
		"UPDATE accounts SET last_fetch_timestamp = ?, updated_at = ? WHERE id = ?",
		timeToDB(t.UTC()), timeToDB(time.Now().UTC()), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set last fetch timestamp: %w", err)
	}
	return nil
}

// DeleteAccount removes an account and, via the schema cascades, its
// mailboxes and messages. Attachment rows cascade from messages.
func (s *Store) DeleteAccount(id int64) error {
	if _, err := s.db.Exec("DELETE FROM accounts WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*types.Account, error) {
	var acct types.Account
	var imapSecure, smtpSecure, authorized int
	var tokenExpiry, lastFetch, createdAt, updatedAt sql.NullString

	err := row.Scan(
		&acct.ID, &acct.OrgID, &acct.Email, &acct.Name, &acct.Type, &acct.State, &acct.SMTPEhloName,
		&acct.IMAP.Host, &acct.IMAP.Port, &imapSecure, &acct.IMAP.User, &acct.IMAP.Pass,
		&acct.SMTP.Host, &acct.SMTP.Port, &smtpSecure, &acct.SMTP.User, &acct.SMTP.Pass,
		&authorized, &acct.OAuth2.ClientID, &acct.OAuth2.ClientSecret, &acct.OAuth2.RedirectURI,
		&acct.OAuth2.Tokens.AccessToken, &acct.OAuth2.Tokens.RefreshToken, &acct.OAuth2.Tokens.Scope,
		&acct.OAuth2.Tokens.TokenType, &tokenExpiry,
		&lastFetch, &createdAt, &updatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("account not found")
		}
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}

	acct.IMAP.Secure = imapSecure != 0
	acct.SMTP.Secure = smtpSecure != 0
	acct.OAuth2.Authorized = authorized != 0
	acct.OAuth2.Tokens.Expiry = timeFromDB(tokenExpiry)
	if lastFetch.Valid {
		t := timeFromDB(lastFetch)
		acct.LastFetchTimestamp = &t
	}
	acct.CreatedAt = timeFromDB(createdAt)
	acct.UpdatedAt = timeFromDB(updatedAt)
	return &acct, nil
}

func boolToDB(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timeToDB(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func optTimeToDB(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return timeToDB(t)
}

func ptrTimeToDB(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return timeToDB(*t)
}

func timeFromDB(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, s.String); err == nil {
		return t
	}
	// CURRENT_TIMESTAMP defaults are stored in SQLite's own format.
	if t, err := time.Parse("2006-01-02 15:04:05", s.String); err == nil {
		return t
	}
	return time.Time{}
}
