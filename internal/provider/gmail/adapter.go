// Package gmail implements the provider adapter for Gmail accounts over the
// Gmail REST API.
package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/mail"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/inboxengine/internal/provider"
	"github.com/brandon/inboxengine/pkg/types"
)

const listPageSize = 100

// Adapter translates the generic mailbox/message operations into Gmail
// label and message calls. Labels play the role of mailboxes; a label id is
// the mailbox path.
type Adapter struct {
	creds  provider.Credentials
	logger *logrus.Logger
	client *apiClient
}

// New creates a Gmail adapter.
func New(creds provider.Credentials, logger *logrus.Logger) *Adapter {
	return &Adapter{
		creds:  creds,
		logger: logger,
		client: newAPIClient(),
	}
}

// Verify probes the account by fetching its Gmail profile.
func (a *Adapter) Verify(ctx context.Context, acct *types.Account) error {
	token, err := a.creds.Token(ctx, acct)
	if err != nil {
		return err
	}
	var p profile
	return a.client.get(ctx, token, "/profile", nil, &p)
}

// ListMailboxes lists labels with their message/unread counts. A failed
// count lookup keeps the label with zero counts.
func (a *Adapter) ListMailboxes(ctx context.Context, acct *types.Account) ([]provider.RemoteMailbox, error) {
	token, err := a.creds.Token(ctx, acct)
	if err != nil {
		return nil, err
	}

	var labels labelList
	if err := a.client.get(ctx, token, "/labels", nil, &labels); err != nil {
		return nil, err
	}

	var mailboxes []provider.RemoteMailbox
	for _, label := range labels.Labels {
		mb := provider.RemoteMailbox{Name: label.Name, Path: label.ID}

		var detail labelDetail
		if err := a.client.get(ctx, token, "/labels/"+label.ID, nil, &detail); err != nil {
			a.logger.WithError(err).WithField("label", label.ID).Warn("Failed to get label counts")
		} else {
			mb.TotalMessages = detail.MessagesTotal
			mb.UnseenMessages = detail.MessagesUnread
		}

		mailboxes = append(mailboxes, mb)
	}

	return mailboxes, nil
}

// ListMessagesSince pages through the label's message list (after: filter
// when a checkpoint exists) and fetches full detail per message id. A
// failed detail fetch skips that message only.
func (a *Adapter) ListMessagesSince(ctx context.Context, acct *types.Account, mailbox *types.Mailbox, since time.Time) ([]*types.Message, error) {
	token, err := a.creds.Token(ctx, acct)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("labelIds", mailbox.Path)
	query.Set("maxResults", strconv.Itoa(listPageSize))
	if !since.IsZero() {
		query.Set("q", fmt.Sprintf("after:%d", since.Unix()))
	}

	var result []*types.Message
	for {
		var page messageList
		if err := a.client.get(ctx, token, "/messages", query, &page); err != nil {
			if provider.IsNotFound(err) {
				return nil, nil
			}
			return nil, err
		}

		for _, ref := range page.Messages {
			var detail messageDetail
			if err := a.client.get(ctx, token, "/messages/"+ref.ID, url.Values{"format": []string{"full"}}, &detail); err != nil {
				a.logger.WithError(err).WithField("message_id", ref.ID).Warn("Failed to fetch message detail, skipping")
				continue
			}
			result = append(result, a.buildMessage(acct, mailbox, &detail))
		}

		if page.NextPageToken == "" {
			break
		}
		query.Set("pageToken", page.NextPageToken)
	}

	return result, nil
}

// Send submits a message through the Gmail send endpoint as base64url raw
// RFC822.
func (a *Adapter) Send(ctx context.Context, acct *types.Account, msg *types.OutgoingMessage) error {
	token, err := a.creds.Token(ctx, acct)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("From: %s\r\n", acct.Email))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(msg.To, ", ")))
	if len(msg.Cc) > 0 {
		buf.WriteString(fmt.Sprintf("Cc: %s\r\n", strings.Join(msg.Cc, ", ")))
	}
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", msg.Subject))
	if msg.BodyHTML != "" {
		buf.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
		buf.WriteString(msg.BodyHTML)
	} else {
		buf.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n\r\n")
		buf.WriteString(msg.BodyText)
	}

	body := map[string]string{
		"raw": base64.RawURLEncoding.EncodeToString(buf.Bytes()),
	}
	return a.client.post(ctx, token, "/messages/send", body, nil)
}

func (a *Adapter) buildMessage(acct *types.Account, mailbox *types.Mailbox, detail *messageDetail) *types.Message {
	headers := make(map[string]string, len(detail.Payload.Headers))
	for _, h := range detail.Payload.Headers {
		headers[strings.ToLower(h.Name)] = h.Value
	}

	msg := &types.Message{
		AccountID: acct.ID,
		MailboxID: mailbox.ID,
		UID:       detail.ID,
		Subject:   headers["subject"],
		From:      parseAddressList(headers["from"]),
		To:        parseAddressList(headers["to"]),
		Cc:        parseAddressList(headers["cc"]),
		Body:      detail.Snippet,
		Flags:     detail.LabelIDs,
		Size:      detail.SizeEstimate,
		Headers:   headers,
		Date:      time.Now().UTC(),
	}

	if ms, err := strconv.ParseInt(detail.InternalDate, 10, 64); err == nil {
		msg.Date = time.UnixMilli(ms).UTC()
	}
	return msg
}

// parseAddressList parses a comma-separated header value into {name,
// address} pairs, falling back to the bare string when it is not RFC 5322
// clean.
func parseAddressList(value string) []types.Address {
	if value == "" {
		return nil
	}
	parsed, err := mail.ParseAddressList(value)
	if err != nil {
		var out []types.Address
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, types.Address{Address: part})
			}
		}
		return out
	}

	out := make([]types.Address, 0, len(parsed))
	for _, addr := range parsed {
		out = append(out, types.Address{Name: addr.Name, Address: addr.Address})
	}
	return out
}
