// Package provider defines the adapter contract the sync engine drives.
// One adapter exists per mail backend (IMAP, Gmail REST, Microsoft Graph);
// it is selected once per account so no provider type-switches leak into
// the reconciler or sync engine.
package provider

import (
	"context"
	"time"

	"github.com/brandon/inboxengine/pkg/types"
)

// RemoteMailbox is a freshly-fetched folder/label before reconciliation.
type RemoteMailbox struct {
	Name           string
	Path           string
	TotalMessages  int
	UnseenMessages int
}

// Credentials yields a usable bearer credential for an account: the stored
// password for imap accounts, a fresh access token for OAuth accounts.
type Credentials interface {
	Token(ctx context.Context, acct *types.Account) (string, error)
}

// Adapter translates the generic mailbox/message operations into
// provider-specific calls and normalizes the results.
//
// ListMessagesSince returns messages received after since; a zero since
// means "first sync" and adapters may cap the window to bound cost.
// Per-message failures inside a listing are skipped, not fatal; a missing
// mailbox yields an empty result (KindNotFound is swallowed to empty).
type Adapter interface {
	// Verify performs a one-shot connectivity probe used at onboarding.
	Verify(ctx context.Context, acct *types.Account) error

	ListMailboxes(ctx context.Context, acct *types.Account) ([]RemoteMailbox, error)

	ListMessagesSince(ctx context.Context, acct *types.Account, mailbox *types.Mailbox, since time.Time) ([]*types.Message, error)

	// Send submits a message through the account's outbound transport.
	Send(ctx context.Context, acct *types.Account, msg *types.OutgoingMessage) error
}
