// Package outlook implements the provider adapter for Outlook accounts over
// the Microsoft Graph API.
package outlook

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/inboxengine/internal/provider"
	"github.com/brandon/inboxengine/pkg/types"
)

const (
	folderPageSize  = 100
	messagePageSize = 50
)

// wellKnownFolders maps Graph display names of the standard folders to
// their stable well-known aliases, so the stored mailbox path survives
// display-name localization and folder id churn.
var wellKnownFolders = map[string]string{
	"Inbox":         "inbox",
	"Sent Items":    "sentitems",
	"Drafts":        "drafts",
	"Deleted Items": "deleteditems",
	"Junk Email":    "junkemail",
	"Archive":       "archive",
	"Outbox":        "outbox",
}

// defaultFolders is used when the folder listing comes back empty, which
// happens on freshly provisioned mailboxes.
var defaultFolders = []provider.RemoteMailbox{
	{Name: "Inbox", Path: "inbox"},
	{Name: "Sent Items", Path: "sentitems"},
	{Name: "Drafts", Path: "drafts"},
	{Name: "Deleted Items", Path: "deleteditems"},
	{Name: "Junk Email", Path: "junkemail"},
	{Name: "Archive", Path: "archive"},
}

// Adapter translates the generic mailbox/message operations into Graph
// mailFolder and message calls. A folder's well-known alias (or its raw
// folder id for custom folders) is the mailbox path.
type Adapter struct {
	creds  provider.Credentials
	logger *logrus.Logger
	client *apiClient
}

// New creates an Outlook adapter.
func New(creds provider.Credentials, logger *logrus.Logger) *Adapter {
	return &Adapter{
		creds:  creds,
		logger: logger,
		client: newAPIClient(),
	}
}

// Verify probes the account by fetching the signed-in user's profile.
func (a *Adapter) Verify(ctx context.Context, acct *types.Account) error {
	token, err := a.creds.Token(ctx, acct)
	if err != nil {
		return err
	}
	var p graphProfile
	return a.client.get(ctx, token, "", nil, &p)
}

// ListMailboxes lists mail folders with their item/unread counts.
func (a *Adapter) ListMailboxes(ctx context.Context, acct *types.Account) ([]provider.RemoteMailbox, error) {
	token, err := a.creds.Token(ctx, acct)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("$top", fmt.Sprintf("%d", folderPageSize))

	var folders folderList
	if err := a.client.get(ctx, token, "/mailFolders", query, &folders); err != nil {
		return nil, err
	}

	if len(folders.Value) == 0 {
		a.logger.WithField("email", acct.Email).Warn("Graph returned no mail folders, using defaults")
		return append([]provider.RemoteMailbox{}, defaultFolders...), nil
	}

	mailboxes := make([]provider.RemoteMailbox, 0, len(folders.Value))
	for _, folder := range folders.Value {
		path := folder.ID
		if alias, ok := wellKnownFolders[folder.DisplayName]; ok {
			path = alias
		}
		mailboxes = append(mailboxes, provider.RemoteMailbox{
			Name:           folder.DisplayName,
			Path:           path,
			TotalMessages:  folder.TotalItemCount,
			UnseenMessages: folder.UnreadItemCount,
		})
	}

	return mailboxes, nil
}

// ListMessagesSince fetches the newest page of a folder, filtered to
// messages received after the checkpoint when one exists. A continuation
// link is logged but not followed; the next tick picks up from the advanced
// checkpoint instead.
func (a *Adapter) ListMessagesSince(ctx context.Context, acct *types.Account, mailbox *types.Mailbox, since time.Time) ([]*types.Message, error) {
	token, err := a.creds.Token(ctx, acct)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("$top", fmt.Sprintf("%d", messagePageSize))
	query.Set("$orderby", "receivedDateTime desc")
	if !since.IsZero() {
		query.Set("$filter", fmt.Sprintf("receivedDateTime gt %s", since.UTC().Format(time.RFC3339)))
	}

	var page messageList
	path := fmt.Sprintf("/mailFolders/%s/messages", url.PathEscape(mailbox.Path))
	if err := a.client.get(ctx, token, path, query, &page); err != nil {
		if provider.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	if page.NextLink != "" {
		a.logger.WithFields(logrus.Fields{
			"mailbox": mailbox.Path,
			"fetched": len(page.Value),
		}).Info("More messages available beyond this page")
	}

	result := make([]*types.Message, 0, len(page.Value))
	for i := range page.Value {
		result = append(result, a.buildMessage(acct, mailbox, &page.Value[i]))
	}
	return result, nil
}

// Send submits a message through the Graph sendMail action.
func (a *Adapter) Send(ctx context.Context, acct *types.Account, msg *types.OutgoingMessage) error {
	token, err := a.creds.Token(ctx, acct)
	if err != nil {
		return err
	}

	contentType := "Text"
	content := msg.BodyText
	if msg.BodyHTML != "" {
		contentType = "HTML"
		content = msg.BodyHTML
	}

	payload := map[string]interface{}{
		"message": map[string]interface{}{
			"subject": msg.Subject,
			"body": map[string]string{
				"contentType": contentType,
				"content":     content,
			},
			"toRecipients":  toRecipients(msg.To),
			"ccRecipients":  toRecipients(msg.Cc),
			"bccRecipients": toRecipients(msg.Bcc),
		},
		"saveToSentItems": true,
	}
	return a.client.post(ctx, token, "/sendMail", payload)
}

func (a *Adapter) buildMessage(acct *types.Account, mailbox *types.Mailbox, gm *graphMessage) *types.Message {
	msg := &types.Message{
		AccountID: acct.ID,
		MailboxID: mailbox.ID,
		UID:       gm.ID,
		Subject:   gm.Subject,
		To:        convertRecipients(gm.ToRecipients),
		Cc:        convertRecipients(gm.CcRecipients),
		Bcc:       convertRecipients(gm.BccRecipients),
		Body:      gm.BodyPreview,
		Date:      time.Now().UTC(),
	}

	if gm.From != nil {
		msg.From = convertRecipients([]recipient{*gm.From})
	}
	if gm.Body != nil && gm.Body.Content != "" {
		msg.Body = gm.Body.Content
	}
	msg.Size = len(msg.Body)
	if !gm.IsRead {
		msg.Flags = []string{"unread"}
	}
	if t, err := time.Parse(time.RFC3339, gm.ReceivedDateTime); err == nil {
		msg.Date = t.UTC()
	}
	return msg
}

func convertRecipients(recipients []recipient) []types.Address {
	var out []types.Address
	for _, r := range recipients {
		addr := types.Address{Name: r.EmailAddress.Name, Address: r.EmailAddress.Address}
		if strings.TrimSpace(addr.Address) == "" && strings.TrimSpace(addr.Name) == "" {
			continue
		}
		out = append(out, addr)
	}
	return out
}

func toRecipients(addrs []string) []map[string]map[string]string {
	out := make([]map[string]map[string]string, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, map[string]map[string]string{
			"emailAddress": {"address": addr},
		})
	}
	return out
}
