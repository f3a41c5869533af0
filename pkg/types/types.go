package types

import "time"

// Account provider types.
const (
	ProviderIMAP    = "imap"
	ProviderGmail   = "gmail"
	ProviderOutlook = "outlook"
)

// Account connection states.
const (
	StateInit      = "init"
	StateConnected = "connected"
	StateError     = "error"
)

// Address is a single {name, address} pair as it appears in a message header.
type Address struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// ServerConfig holds raw IMAP or SMTP connection settings.
type ServerConfig struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Secure bool   `json:"secure"`
	User   string `json:"user"`
	Pass   string `json:"pass,omitempty"`
}

// TokenSet is one OAuth2 token rotation. RefreshToken is preserved across
// rotations when the provider omits a new one.
type TokenSet struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Scope        string    `json:"scope,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry"`
}

// OAuth2Config is the OAuth credential block for gmail/outlook accounts.
type OAuth2Config struct {
	Authorized   bool     `json:"authorized"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret,omitempty"`
	RedirectURI  string   `json:"redirect_uri"`
	Tokens       TokenSet `json:"tokens"`
}

// Account is one mailbox identity. Exactly one credential shape is active
// depending on Type: imap accounts use IMAP/SMTP passwords, gmail/outlook
// accounts use the OAuth2 block. OAuth accounts still carry a synthetic
// IMAP.User (the address) for addressing but never a password.
type Account struct {
	ID    int64  `json:"id"`
	OrgID string `json:"org_id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Type  string `json:"type"`

	State        string `json:"state"`
	SMTPEhloName string `json:"smtp_ehlo_name,omitempty"`

	IMAP   ServerConfig `json:"imap"`
	SMTP   ServerConfig `json:"smtp"`
	OAuth2 OAuth2Config `json:"oauth2"`

	// LastFetchTimestamp is the account-level high-water mark for
	// incremental sync; nil before the first successful sync.
	LastFetchTimestamp *time.Time `json:"last_fetch_timestamp,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsOAuth reports whether the account authenticates with OAuth tokens.
func (a *Account) IsOAuth() bool {
	return a.Type == ProviderGmail || a.Type == ProviderOutlook
}

// Mailbox is one folder/label of an account. (AccountID, Path) is unique.
type Mailbox struct {
	ID             int64      `json:"id"`
	AccountID      int64      `json:"account_id"`
	Path           string     `json:"path"`
	Name           string     `json:"name"`
	TotalMessages  int        `json:"total_messages"`
	UnseenMessages int        `json:"unseen_messages"`
	LastFetchedAt  *time.Time `json:"last_fetched_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Message is the canonical shape all three providers normalize into.
// (AccountID, UID) is the sole deduplication key.
type Message struct {
	ID        int64  `json:"id"`
	AccountID int64  `json:"account_id"`
	MailboxID int64  `json:"mailbox_id"`
	UID       string `json:"uid"`

	Subject string    `json:"subject"`
	From    []Address `json:"from,omitempty"`
	To      []Address `json:"to,omitempty"`
	Cc      []Address `json:"cc,omitempty"`
	Bcc     []Address `json:"bcc,omitempty"`
	Date    time.Time `json:"date"`

	// Body is best-effort plain text, falling back to HTML or a provider
	// snippet.
	Body    string            `json:"body,omitempty"`
	Flags   []string          `json:"flags,omitempty"`
	Size    int               `json:"size,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`

	Attachments []Attachment `json:"attachments,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Attachment is owned exclusively by its Message.
type Attachment struct {
	ID          int64  `json:"id"`
	MessageID   int64  `json:"message_id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     []byte `json:"content,omitempty"`
	Size        int    `json:"size"`
}

// OutgoingMessage is a message to be submitted through an account's
// outbound transport.
type OutgoingMessage struct {
	To       []string `json:"to"`
	Cc       []string `json:"cc,omitempty"`
	Bcc      []string `json:"bcc,omitempty"`
	Subject  string   `json:"subject"`
	BodyText string   `json:"body_text,omitempty"`
	BodyHTML string   `json:"body_html,omitempty"`
}
