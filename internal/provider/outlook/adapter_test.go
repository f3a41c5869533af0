package outlook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/inboxengine/internal/provider"
	"github.com/brandon/inboxengine/pkg/types"
)

type staticCreds struct {
	token string
}

func (c *staticCreds) Token(ctx context.Context, acct *types.Account) (string, error) {
	return c.token, nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestAdapter(t *testing.T, handler http.Handler) *Adapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	a := New(&staticCreds{token: "graph-token"}, testLogger())
	a.client.baseURL = server.URL
	return a
}

func testAccount() *types.Account {
	return &types.Account{ID: 2, Email: "user@outlook.com", Type: types.ProviderOutlook}
}

func TestVerify(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer graph-token", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(graphProfile{Mail: "user@outlook.com", DisplayName: "User"})
	}))

	require.NoError(t, a.Verify(context.Background(), testAccount()))
}

func TestListMailboxesWellKnownAliases(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/mailFolders", r.URL.Path)
		assert.Equal(t, "100", r.URL.Query().Get("$top"))
		json.NewEncoder(w).Encode(folderList{Value: []mailFolder{
			{ID: "AAMkAGI1", DisplayName: "Inbox", TotalItemCount: 20, UnreadItemCount: 4},
			{ID: "AAMkAGI2", DisplayName: "Sent Items", TotalItemCount: 9},
			{ID: "AAMkAGI3", DisplayName: "Project X", TotalItemCount: 2},
		}})
	}))

	mailboxes, err := a.ListMailboxes(context.Background(), testAccount())
	require.NoError(t, err)
	require.Len(t, mailboxes, 3)

	assert.Equal(t, "inbox", mailboxes[0].Path)
	assert.Equal(t, 20, mailboxes[0].TotalMessages)
	assert.Equal(t, 4, mailboxes[0].UnseenMessages)
	assert.Equal(t, "sentitems", mailboxes[1].Path)
	// Custom folders keep their Graph id as path.
	assert.Equal(t, "AAMkAGI3", mailboxes[2].Path)
	assert.Equal(t, "Project X", mailboxes[2].Name)
}

func TestListMailboxesEmptyFallsBackToDefaults(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(folderList{})
	}))

	mailboxes, err := a.ListMailboxes(context.Background(), testAccount())
	require.NoError(t, err)
	require.Len(t, mailboxes, len(defaultFolders))
	assert.Equal(t, "inbox", mailboxes[0].Path)
}

func TestListMessagesSince(t *testing.T) {
	since := time.Date(2026, 8, 30, 10, 30, 0, 0, time.UTC)

	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/mailFolders/inbox/messages", r.URL.Path)
		assert.Equal(t, "50", r.URL.Query().Get("$top"))
		assert.Equal(t, "receivedDateTime desc", r.URL.Query().Get("$orderby"))
		assert.Equal(t, "receivedDateTime gt 2026-08-30T10:30:00Z", r.URL.Query().Get("$filter"))

		json.NewEncoder(w).Encode(messageList{
			Value: []graphMessage{{
				ID:               "AAMkMsg1",
				Subject:          "Status update",
				From:             &recipient{EmailAddress: emailAddress{Name: "Carol", Address: "carol@example.com"}},
				ToRecipients:     []recipient{{EmailAddress: emailAddress{Address: "user@outlook.com"}}},
				ReceivedDateTime: "2026-08-31T08:00:00Z",
				BodyPreview:      "preview text",
				Body:             &itemBody{ContentType: "text", Content: "full body text"},
				IsRead:           false,
			}},
			NextLink: "https://graph.microsoft.com/v1.0/next-page",
		})
	}))

	mailbox := &types.Mailbox{ID: 9, Path: "inbox"}
	messages, err := a.ListMessagesSince(context.Background(), testAccount(), mailbox, since)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	msg := messages[0]
	assert.Equal(t, "AAMkMsg1", msg.UID)
	assert.Equal(t, int64(9), msg.MailboxID)
	assert.Equal(t, "Status update", msg.Subject)
	require.Len(t, msg.From, 1)
	assert.Equal(t, "carol@example.com", msg.From[0].Address)
	assert.Equal(t, "full body text", msg.Body)
	assert.Equal(t, []string{"unread"}, msg.Flags)
	assert.Equal(t, time.Date(2026, 8, 31, 8, 0, 0, 0, time.UTC), msg.Date)
}

func TestListMessagesSinceNoCheckpoint(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("$filter"))
		json.NewEncoder(w).Encode(messageList{})
	}))

	messages, err := a.ListMessagesSince(context.Background(), testAccount(),
		&types.Mailbox{Path: "inbox"}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestListMessagesSinceMissingFolder(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":"ErrorFolderNotFound"}}`, http.StatusNotFound)
	}))

	messages, err := a.ListMessagesSince(context.Background(), testAccount(),
		&types.Mailbox{Path: "gone"}, time.Time{})
	require.NoError(t, err)
	assert.Nil(t, messages)
}

func TestListMessagesSinceAuthExpired(t *testing.T) {
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":"InvalidAuthenticationToken"}}`, http.StatusUnauthorized)
	}))

	_, err := a.ListMessagesSince(context.Background(), testAccount(),
		&types.Mailbox{Path: "inbox"}, time.Time{})
	require.Error(t, err)
	assert.True(t, provider.IsAuthExpired(err))
}

func TestSend(t *testing.T) {
	var payload map[string]interface{}
	a := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sendMail", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusAccepted)
	}))

	err := a.Send(context.Background(), testAccount(), &types.OutgoingMessage{
		To:       []string{"dan@example.com"},
		Subject:  "hello",
		BodyHTML: "<p>hi</p>",
	})
	require.NoError(t, err)

	message := payload["message"].(map[string]interface{})
	assert.Equal(t, "hello", message["subject"])
	body := message["body"].(map[string]interface{})
	assert.Equal(t, "HTML", body["contentType"])
	assert.Equal(t, true, payload["saveToSentItems"])
}
