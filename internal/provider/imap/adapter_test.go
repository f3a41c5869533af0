package imap

import (
	"io"
	"testing"

	goimap "github.com/emersion/go-imap"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/inboxengine/pkg/types"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

const simpleMessage = "From: Alice <alice@example.com>\r\n" +
	"To: Bob <bob@example.com>\r\n" +
	"Subject: plain text\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"hello from the fixture\r\n"

const multipartMessage = "From: Carol <carol@example.com>\r\n" +
	"To: dave@example.com\r\n" +
	"Subject: with attachment\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"xyz\"\r\n" +
	"\r\n" +
	"--xyz\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"see attached\r\n" +
	"--xyz\r\n" +
	"Content-Type: application/octet-stream\r\n" +
	"Content-Disposition: attachment; filename=\"data.bin\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"aGVsbG8=\r\n" +
	"--xyz--\r\n"

const htmlOnlyMessage = "From: eve@example.com\r\n" +
	"Subject: html only\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>rendered body</p>\r\n"

func TestFillFromSourcePlainText(t *testing.T) {
	msg := &types.Message{}
	require.NoError(t, fillFromSource(msg, []byte(simpleMessage)))

	assert.Equal(t, "hello from the fixture", msg.Body)
	assert.Equal(t, "plain text", msg.Headers["Subject"])
	assert.Empty(t, msg.Attachments)
}

func TestFillFromSourceAttachments(t *testing.T) {
	msg := &types.Message{}
	require.NoError(t, fillFromSource(msg, []byte(multipartMessage)))

	assert.Equal(t, "see attached", msg.Body)
	require.Len(t, msg.Attachments, 1)
	att := msg.Attachments[0]
	assert.Equal(t, "data.bin", att.Filename)
	assert.Equal(t, []byte("hello"), att.Content)
	assert.Equal(t, 5, att.Size)
}

func TestFillFromSourceHTMLFallback(t *testing.T) {
	msg := &types.Message{}
	require.NoError(t, fillFromSource(msg, []byte(htmlOnlyMessage)))
	assert.Contains(t, msg.Body, "rendered body")
}

func TestConvertAddresses(t *testing.T) {
	addrs := convertAddresses([]*goimap.Address{
		{PersonalName: "Alice", MailboxName: "alice", HostName: "example.com"},
		{MailboxName: "bob", HostName: "example.org"},
	})
	require.Len(t, addrs, 2)
	assert.Equal(t, "Alice", addrs[0].Name)
	assert.Equal(t, "alice@example.com", addrs[0].Address)
	assert.Equal(t, "bob@example.org", addrs[1].Address)

	assert.Empty(t, convertAddresses(nil))
}

func TestHasAttr(t *testing.T) {
	attrs := []string{goimap.NoSelectAttr, "\\HasChildren"}
	assert.True(t, hasAttr(attrs, goimap.NoSelectAttr))
	assert.False(t, hasAttr(attrs, "\\Marked"))
	assert.False(t, hasAttr(nil, goimap.NoSelectAttr))
}

func TestBuildMIME(t *testing.T) {
	acct := &types.Account{
		SMTP: types.ServerConfig{User: "sender@example.com"},
	}

	body, err := buildMIME(acct, &types.OutgoingMessage{
		To:       []string{"a@example.com", "b@example.com"},
		Cc:       []string{"c@example.com"},
		Subject:  "greetings",
		BodyText: "plain content",
	})
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, "From: sender@example.com\r\n")
	assert.Contains(t, text, "To: a@example.com, b@example.com\r\n")
	assert.Contains(t, text, "Cc: c@example.com\r\n")
	assert.Contains(t, text, "Subject: greetings\r\n")
	assert.Contains(t, text, "text/plain")
	assert.Contains(t, text, "plain content")
}

func TestBuildMIMEPrefersHTML(t *testing.T) {
	acct := &types.Account{SMTP: types.ServerConfig{User: "sender@example.com"}}

	body, err := buildMIME(acct, &types.OutgoingMessage{
		To:       []string{"a@example.com"},
		Subject:  "rich",
		BodyText: "fallback",
		BodyHTML: "<b>rich content</b>",
	})
	require.NoError(t, err)
	assert.Contains(t, string(body), "text/html")
	assert.Contains(t, string(body), "<b>rich content</b>")
}

func TestBuildMIMERequiresRecipients(t *testing.T) {
	acct := &types.Account{SMTP: types.ServerConfig{User: "sender@example.com"}}
	_, err := buildMIME(acct, &types.OutgoingMessage{Subject: "empty"})
	require.Error(t, err)
}

func TestNewClampsFirstSyncWindow(t *testing.T) {
	a := New(testLogger(), 0)
	assert.Equal(t, uint32(200), a.firstSyncWindow)

	a = New(testLogger(), 50)
	assert.Equal(t, uint32(50), a.firstSyncWindow)
}
