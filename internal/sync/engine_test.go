package sync

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/brandon/inboxengine/internal/provider"
	"github.com/brandon/inboxengine/internal/store"
	"github.com/brandon/inboxengine/pkg/types"
)

type mockAdapter struct {
	mock.Mock
}

func (m *mockAdapter) Verify(ctx context.Context, acct *types.Account) error {
	args := m.Called(ctx, acct)
	return args.Error(0)
}

func (m *mockAdapter) ListMailboxes(ctx context.Context, acct *types.Account) ([]provider.RemoteMailbox, error) {
	args := m.Called(ctx, acct)
	if v := args.Get(0); v != nil {
		return v.([]provider.RemoteMailbox), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAdapter) ListMessagesSince(ctx context.Context, acct *types.Account, mailbox *types.Mailbox, since time.Time) ([]*types.Message, error) {
	args := m.Called(ctx, acct, mailbox, since)
	if v := args.Get(0); v != nil {
		return v.([]*types.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAdapter) Send(ctx context.Context, acct *types.Account, msg *types.OutgoingMessage) error {
	args := m.Called(ctx, acct, msg)
	return args.Error(0)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func newEngineWithAdapter(t *testing.T, st *store.Store, accountType string, adapter provider.Adapter) *Engine {
	t.Helper()
	return NewEngine(st, map[string]provider.Adapter{accountType: adapter}, testLogger())
}

func createIMAPAccount(t *testing.T, st *store.Store, email string) *types.Account {
	t.Helper()
	acct := &types.Account{
		Email: email,
		Type:  types.ProviderIMAP,
		State: types.StateConnected,
		IMAP:  types.ServerConfig{Host: "imap.example.com", Port: 993, Secure: true, User: email, Pass: "pw"},
		SMTP:  types.ServerConfig{Host: "smtp.example.com", Port: 465, Secure: true, User: email, Pass: "pw"},
	}
	_, err := st.CreateAccount(acct)
	require.NoError(t, err)
	return acct
}

func testMessage(acct *types.Account, uid, subject string) *types.Message {
	return &types.Message{
		AccountID: acct.ID,
		UID:       uid,
		Subject:   subject,
		Date:      time.Now().UTC(),
	}
}

func TestSyncAccountFirstSync(t *testing.T) {
	st := newTestStore(t)
	acct := createIMAPAccount(t, st, "first@example.com")

	adapter := &mockAdapter{}
	adapter.On("ListMailboxes", mock.Anything, mock.Anything).Return([]provider.RemoteMailbox{
		{Name: "Inbox", Path: "INBOX", TotalMessages: 2, UnseenMessages: 1},
	}, nil)
	adapter.On("ListMessagesSince", mock.Anything, mock.Anything, mock.Anything, time.Time{}).Return([]*types.Message{
		testMessage(acct, "1", "one"),
		testMessage(acct, "2", "two"),
	}, nil)

	engine := newEngineWithAdapter(t, st, types.ProviderIMAP, adapter)
	require.NoError(t, engine.SyncAccount(context.Background(), acct))

	count, err := st.CountMessages(acct.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	mb, err := st.GetMailboxByPath(acct.ID, "INBOX")
	require.NoError(t, err)
	require.NotNil(t, mb.LastFetchedAt, "successful fetch must advance the mailbox checkpoint")

	got, err := st.GetAccount(acct.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastFetchTimestamp, "completed tick must advance the account high-water mark")

	adapter.AssertExpectations(t)
}

func TestSyncAccountIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	acct := createIMAPAccount(t, st, "twice@example.com")

	adapter := &mockAdapter{}
	adapter.On("ListMailboxes", mock.Anything, mock.Anything).Return([]provider.RemoteMailbox{
		{Name: "Inbox", Path: "INBOX", TotalMessages: 1},
	}, nil)
	adapter.On("ListMessagesSince", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return([]*types.Message{
		testMessage(acct, "7", "same message"),
	}, nil)

	engine := newEngineWithAdapter(t, st, types.ProviderIMAP, adapter)
	require.NoError(t, engine.SyncAccount(context.Background(), acct))

	fresh, err := st.GetAccount(acct.ID)
	require.NoError(t, err)
	require.NoError(t, engine.SyncAccount(context.Background(), fresh))

	count, err := st.CountMessages(acct.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "re-delivered message must not duplicate")
}

func TestSyncAccountSkipsUnauthorizedOAuth(t *testing.T) {
	st := newTestStore(t)
	acct := &types.Account{
		Email:  "revoked@example.com",
		Type:   types.ProviderGmail,
		State:  types.StateConnected,
		OAuth2: types.OAuth2Config{Authorized: false},
	}
	_, err := st.CreateAccount(acct)
	require.NoError(t, err)

	adapter := &mockAdapter{}
	engine := newEngineWithAdapter(t, st, types.ProviderGmail, adapter)

	require.NoError(t, engine.SyncAccount(context.Background(), acct))
	adapter.AssertNotCalled(t, "ListMailboxes", mock.Anything, mock.Anything)
}

func TestSyncAccountSkipsEmptyMailboxes(t *testing.T) {
	st := newTestStore(t)
	acct := createIMAPAccount(t, st, "empty@example.com")

	adapter := &mockAdapter{}
	adapter.On("ListMailboxes", mock.Anything, mock.Anything).Return([]provider.RemoteMailbox{
		{Name: "Drafts", Path: "Drafts", TotalMessages: 0},
	}, nil)

	engine := newEngineWithAdapter(t, st, types.ProviderIMAP, adapter)
	require.NoError(t, engine.SyncAccount(context.Background(), acct))

	adapter.AssertNotCalled(t, "ListMessagesSince", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSyncAccountAuthExpiredAbortsTick(t *testing.T) {
	st := newTestStore(t)
	acct := createIMAPAccount(t, st, "expired@example.com")

	adapter := &mockAdapter{}
	adapter.On("ListMailboxes", mock.Anything, mock.Anything).Return([]provider.RemoteMailbox{
		{Name: "Inbox", Path: "INBOX", TotalMessages: 3},
	}, nil)
	adapter.On("ListMessagesSince", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, provider.Errorf(provider.KindAuthExpired, "test", errors.New("token rejected")))

	engine := newEngineWithAdapter(t, st, types.ProviderIMAP, adapter)
	err := engine.SyncAccount(context.Background(), acct)
	require.Error(t, err)
	assert.True(t, provider.IsAuthExpired(err))

	mb, err := st.GetMailboxByPath(acct.ID, "INBOX")
	require.NoError(t, err)
	assert.Nil(t, mb.LastFetchedAt, "aborted tick must not advance the mailbox checkpoint")

	got, err := st.GetAccount(acct.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LastFetchTimestamp, "aborted tick must not advance the account high-water mark")
}

func TestSyncAccountTransientFailureSkipsMailboxOnly(t *testing.T) {
	st := newTestStore(t)
	acct := createIMAPAccount(t, st, "partial@example.com")

	adapter := &mockAdapter{}
	adapter.On("ListMailboxes", mock.Anything, mock.Anything).Return([]provider.RemoteMailbox{
		{Name: "Broken", Path: "Broken", TotalMessages: 1},
		{Name: "Inbox", Path: "INBOX", TotalMessages: 1},
	}, nil)
	adapter.On("ListMessagesSince", mock.Anything, mock.Anything,
		mock.MatchedBy(func(mb *types.Mailbox) bool { return mb.Path == "Broken" }), mock.Anything).
		Return(nil, provider.Errorf(provider.KindTransient, "test", errors.New("timeout")))
	adapter.On("ListMessagesSince", mock.Anything, mock.Anything,
		mock.MatchedBy(func(mb *types.Mailbox) bool { return mb.Path == "INBOX" }), mock.Anything).
		Return([]*types.Message{testMessage(acct, "9", "ok")}, nil)

	engine := newEngineWithAdapter(t, st, types.ProviderIMAP, adapter)
	require.NoError(t, engine.SyncAccount(context.Background(), acct))

	broken, err := st.GetMailboxByPath(acct.ID, "Broken")
	require.NoError(t, err)
	assert.Nil(t, broken.LastFetchedAt, "failed mailbox keeps its old checkpoint")

	inbox, err := st.GetMailboxByPath(acct.ID, "INBOX")
	require.NoError(t, err)
	assert.NotNil(t, inbox.LastFetchedAt)

	count, err := st.CountMessages(acct.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSyncAccountUsesMailboxCheckpoint(t *testing.T) {
	st := newTestStore(t)
	acct := createIMAPAccount(t, st, "checkpoint@example.com")

	mb, _, err := st.UpsertMailbox(acct.ID, "Inbox", "INBOX", 5, 0)
	require.NoError(t, err)
	checkpoint := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	require.NoError(t, st.SetMailboxFetchedAt(mb.ID, checkpoint))

	adapter := &mockAdapter{}
	adapter.On("ListMailboxes", mock.Anything, mock.Anything).Return([]provider.RemoteMailbox{
		{Name: "Inbox", Path: "INBOX", TotalMessages: 5},
	}, nil)
	adapter.On("ListMessagesSince", mock.Anything, mock.Anything, mock.Anything,
		mock.MatchedBy(func(since time.Time) bool { return since.Equal(checkpoint) })).
		Return(nil, nil)

	engine := newEngineWithAdapter(t, st, types.ProviderIMAP, adapter)
	require.NoError(t, engine.SyncAccount(context.Background(), acct))
	adapter.AssertExpectations(t)
}

func TestSyncAccountUnknownTypeIsConfigError(t *testing.T) {
	st := newTestStore(t)
	acct := createIMAPAccount(t, st, "odd@example.com")
	acct.Type = "carrier-pigeon"

	engine := NewEngine(st, map[string]provider.Adapter{}, testLogger())
	err := engine.SyncAccount(context.Background(), acct)
	require.Error(t, err)
	assert.True(t, provider.IsConfig(err))
}

func TestMailboxForLabelResolution(t *testing.T) {
	engine := NewEngine(nil, nil, testLogger())

	inbox := &types.Mailbox{ID: 1, Path: "INBOX"}
	sent := &types.Mailbox{ID: 2, Path: "SENT"}
	byPath := map[string]*types.Mailbox{"INBOX": inbox, "SENT": sent}

	// Carries the current mailbox's label: stays put.
	assert.Equal(t, inbox, engine.mailboxFor([]string{"SENT", "INBOX"}, inbox, byPath))
	// Only another known label: files there.
	assert.Equal(t, sent, engine.mailboxFor([]string{"SENT"}, inbox, byPath))
	// Plain IMAP flags match nothing: stays put.
	assert.Equal(t, inbox, engine.mailboxFor([]string{"\\Seen"}, inbox, byPath))
	assert.Equal(t, inbox, engine.mailboxFor(nil, inbox, byPath))
}

func TestSendTest(t *testing.T) {
	st := newTestStore(t)
	acct := createIMAPAccount(t, st, "sender@example.com")

	msg := &types.OutgoingMessage{To: []string{"to@example.com"}, Subject: "hi", BodyText: "hello"}

	adapter := &mockAdapter{}
	adapter.On("Send", mock.Anything, acct, msg).Return(nil)

	engine := newEngineWithAdapter(t, st, types.ProviderIMAP, adapter)
	require.NoError(t, engine.SendTest(context.Background(), acct, msg))
	adapter.AssertExpectations(t)
}
