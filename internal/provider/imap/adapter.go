// Package imap implements the provider adapter for raw IMAP/SMTP accounts.
package imap

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/jhillyerd/enmime"
	"github.com/sirupsen/logrus"

	"github.com/brandon/inboxengine/internal/provider"
	"github.com/brandon/inboxengine/pkg/types"
)

const commandTimeout = 60 * time.Second

// Adapter speaks IMAP for mailbox discovery and message fetch, and SMTP for
// verification and outbound mail.
type Adapter struct {
	logger *logrus.Logger

	// firstSyncWindow caps the most-recent-N window fetched when a mailbox
	// has no checkpoint yet, bounding first-sync cost on large mailboxes.
	firstSyncWindow uint32
}

// New creates an IMAP adapter.
func New(logger *logrus.Logger, firstSyncWindow int) *Adapter {
	if firstSyncWindow < 1 {
		firstSyncWindow = 200
	}
	return &Adapter{
		logger:          logger,
		firstSyncWindow: uint32(firstSyncWindow),
	}
}

// connect establishes a logged-in IMAP connection. The caller owns the
// returned client and must Logout on every exit path.
func (a *Adapter) connect(acct *types.Account) (*client.Client, error) {
	addr := fmt.Sprintf("%s:%d", acct.IMAP.Host, acct.IMAP.Port)

	var c *client.Client
	var err error
	if acct.IMAP.Secure {
		c, err = client.DialTLS(addr, &tls.Config{
			ServerName: acct.IMAP.Host,
			MinVersion: tls.VersionTLS12,
		})
	} else {
		c, err = client.Dial(addr)
	}
	if err != nil {
		return nil, provider.Errorf(provider.KindTransient, "imap.connect",
			fmt.Errorf("failed to connect to IMAP server: %w", err))
	}
	c.Timeout = commandTimeout

	if err := c.Login(acct.IMAP.User, acct.IMAP.Pass); err != nil {
		c.Logout() //nolint:errcheck
		return nil, provider.Errorf(provider.KindAuthExpired, "imap.connect",
			fmt.Errorf("failed to login to IMAP server: %w", err))
	}

	return c, nil
}

// Verify performs the onboarding probe: IMAP connect+login+logout followed
// by an SMTP session.
func (a *Adapter) Verify(ctx context.Context, acct *types.Account) error {
	c, err := a.connect(acct)
	if err != nil {
		return err
	}
	if err := c.Logout(); err != nil {
		a.logger.WithError(err).Warn("IMAP logout failed during verification")
	}

	return a.verifySMTP(acct)
}

// ListMailboxes lists all folders with their message/unseen counts. A
// failed status lookup on one folder keeps the folder (with zero counts)
// and never aborts listing the rest.
func (a *Adapter) ListMailboxes(ctx context.Context, acct *types.Account) ([]provider.RemoteMailbox, error) {
	c, err := a.connect(acct)
	if err != nil {
		return nil, err
	}
	defer c.Logout() //nolint:errcheck

	infos := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.List("", "*", infos)
	}()

	var listed []imap.MailboxInfo
	for m := range infos {
		listed = append(listed, *m)
	}
	if err := <-done; err != nil {
		return nil, provider.Errorf(provider.KindTransient, "imap.ListMailboxes",
			fmt.Errorf("failed to list folders: %w", err))
	}

	var mailboxes []provider.RemoteMailbox
	for _, m := range listed {
		mb := provider.RemoteMailbox{Name: m.Name, Path: m.Name}

		if !hasAttr(m.Attributes, imap.NoSelectAttr) {
			status, err := c.Status(m.Name, []imap.StatusItem{imap.StatusMessages, imap.StatusUnseen})
			if err != nil {
				a.logger.WithError(err).WithField("folder", m.Name).Warn("Failed to get folder status")
			} else {
				mb.TotalMessages = int(status.Messages)
				mb.UnseenMessages = int(status.Unseen)
			}
		}

		mailboxes = append(mailboxes, mb)
	}

	return mailboxes, nil
}

// ListMessagesSince selects the mailbox exclusively for the duration of the
// fetch, searches SINCE the checkpoint (or falls back to a capped
// most-recent window on first sync), and parses each message's full source
// into the canonical shape.
func (a *Adapter) ListMessagesSince(ctx context.Context, acct *types.Account, mailbox *types.Mailbox, since time.Time) ([]*types.Message, error) {
	c, err := a.connect(acct)
	if err != nil {
		return nil, err
	}
	// Logout releases the selected mailbox on every exit path.
	defer c.Logout() //nolint:errcheck

	mbox, err := c.Select(mailbox.Path, false)
	if err != nil {
		a.logger.WithError(err).WithField("mailbox", mailbox.Path).Warn("Mailbox not selectable, treating as missing")
		return nil, nil
	}
	if mbox.Messages == 0 {
		return nil, nil
	}

	seqSet := new(imap.SeqSet)
	uidFetch := false
	if since.IsZero() {
		start := uint32(1)
		if mbox.Messages > a.firstSyncWindow {
			start = mbox.Messages - a.firstSyncWindow + 1
		}
		seqSet.AddRange(start, mbox.Messages)
	} else {
		uids, err := c.UidSearch(&imap.SearchCriteria{Since: since})
		if err != nil {
			return nil, provider.Errorf(provider.KindTransient, "imap.ListMessagesSince",
				fmt.Errorf("failed to search mailbox %s: %w", mailbox.Path, err))
		}
		if len(uids) == 0 {
			return nil, nil
		}
		seqSet.AddNum(uids...)
		uidFetch = true
	}

	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags, imap.FetchUid, imap.FetchRFC822}
	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		if uidFetch {
			done <- c.UidFetch(seqSet, items, messages)
		} else {
			done <- c.Fetch(seqSet, items, messages)
		}
	}()

	var result []*types.Message
	for msg := range messages {
		parsed, err := a.parseMessage(acct, mailbox, msg)
		if err != nil {
			a.logger.WithError(err).WithFields(logrus.Fields{
				"mailbox": mailbox.Path,
				"uid":     msg.Uid,
			}).Warn("Failed to parse message, skipping")
			continue
		}
		result = append(result, parsed)
	}

	if err := <-done; err != nil {
		return nil, provider.Errorf(provider.KindTransient, "imap.ListMessagesSince",
			fmt.Errorf("failed to fetch messages: %w", err))
	}

	return result, nil
}

// parseMessage normalizes one fetched IMAP message using its envelope and
// enmime-parsed RFC822 source.
func (a *Adapter) parseMessage(acct *types.Account, mailbox *types.Mailbox, msg *imap.Message) (*types.Message, error) {
	m := &types.Message{
		AccountID: acct.ID,
		MailboxID: mailbox.ID,
		UID:       strconv.FormatUint(uint64(msg.Uid), 10),
		Flags:     append([]string{}, msg.Flags...),
		Date:      time.Now().UTC(),
	}

	if msg.Envelope != nil {
		m.Subject = msg.Envelope.Subject
		if !msg.Envelope.Date.IsZero() {
			m.Date = msg.Envelope.Date
		}
		m.From = convertAddresses(msg.Envelope.From)
		m.To = convertAddresses(msg.Envelope.To)
		m.Cc = convertAddresses(msg.Envelope.Cc)
		m.Bcc = convertAddresses(msg.Envelope.Bcc)
	}

	raw := readBody(msg)
	if len(raw) == 0 {
		return m, nil
	}
	m.Size = len(raw)

	if err := fillFromSource(m, raw); err != nil {
		// Envelope fields are already populated; keep the raw text as body.
		a.logger.WithError(err).Debug("Failed to parse message source, using raw body")
		m.Body = string(raw)
	}
	return m, nil
}

// fillFromSource parses raw RFC822 source into body, headers and
// attachments.
func fillFromSource(m *types.Message, raw []byte) error {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to parse message source: %w", err)
	}

	m.Body = env.Text
	if m.Body == "" {
		m.Body = env.HTML
	}

	headers := make(map[string]string)
	for _, key := range env.GetHeaderKeys() {
		headers[key] = env.GetHeader(key)
	}
	m.Headers = headers

	for _, part := range env.Attachments {
		m.Attachments = append(m.Attachments, types.Attachment{
			Filename:    part.FileName,
			ContentType: part.ContentType,
			Content:     part.Content,
			Size:        len(part.Content),
		})
	}
	return nil
}

// readBody reads the RFC822 literal from whichever body section the server
// returned it under.
func readBody(msg *imap.Message) []byte {
	if msg.Body == nil {
		return nil
	}
	if literal, ok := msg.Body[nil]; ok {
		return readLiteral(literal)
	}
	for _, literal := range msg.Body {
		if b := readLiteral(literal); len(b) > 0 {
			return b
		}
	}
	return nil
}

func readLiteral(literal imap.Literal) []byte {
	if literal == nil {
		return nil
	}
	b, err := io.ReadAll(literal)
	if err != nil {
		return b
	}
	return b
}

func convertAddresses(addrs []*imap.Address) []types.Address {
	var out []types.Address
	for _, addr := range addrs {
		out = append(out, types.Address{
			Name:    addr.PersonalName,
			Address: addr.Address(),
		})
	}
	return out
}

func hasAttr(attrs []string, want string) bool {
	for _, attr := range attrs {
		if attr == want {
			return true
		}
	}
	return false
}
