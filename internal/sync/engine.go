package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/inboxengine/internal/provider"
	"github.com/brandon/inboxengine/internal/store"
	"github.com/brandon/inboxengine/pkg/types"
)

// Engine runs one sync pass per account: list remote mailboxes, reconcile
// them into the store, then fetch and upsert new messages per mailbox.
type Engine struct {
	store      *store.Store
	reconciler *Reconciler
	adapters   map[string]provider.Adapter
	logger     *logrus.Logger
}

// NewEngine creates an engine with one adapter per account type.
func NewEngine(st *store.Store, adapters map[string]provider.Adapter, logger *logrus.Logger) *Engine {
	return &Engine{
		store:      st,
		reconciler: NewReconciler(st, logger),
		adapters:   adapters,
		logger:     logger,
	}
}

// AdapterFor returns the adapter registered for an account type.
func (e *Engine) AdapterFor(accountType string) (provider.Adapter, error) {
	adapter, ok := e.adapters[accountType]
	if !ok {
		return nil, provider.Errorf(provider.KindConfig, "sync.AdapterFor",
			fmt.Errorf("no adapter for account type %q", accountType))
	}
	return adapter, nil
}

// SyncAccount performs a full sync tick for one account.
//
// An OAuth account whose authorization has been revoked is skipped without
// error until it is re-consented. Auth and config failures abort the tick
// without advancing any checkpoint; a transient failure on one mailbox
// skips that mailbox only, leaving its checkpoint behind so the next tick
// re-covers the gap.
func (e *Engine) SyncAccount(ctx context.Context, acct *types.Account) error {
	log := e.logger.WithFields(logrus.Fields{
		"account_id": acct.ID,
		"email":      acct.Email,
		"type":       acct.Type,
	})

	if acct.IsOAuth() && !acct.OAuth2.Authorized {
		log.Info("Account authorization revoked, skipping sync")
		return nil
	}

	adapter, err := e.AdapterFor(acct.Type)
	if err != nil {
		return err
	}

	tickStart := time.Now().UTC()

	remote, err := adapter.ListMailboxes(ctx, acct)
	if err != nil {
		return fmt.Errorf("failed to list mailboxes: %w", err)
	}

	mailboxes, _, err := e.reconciler.Reconcile(acct.ID, remote)
	if err != nil {
		return fmt.Errorf("failed to reconcile mailboxes: %w", err)
	}

	byPath := make(map[string]*types.Mailbox, len(mailboxes))
	for _, mb := range mailboxes {
		byPath[mb.Path] = mb
	}

	var fetched, created int
	for _, mb := range mailboxes {
		if mb.TotalMessages == 0 {
			continue
		}

		since := e.checkpointFor(acct, mb)
		messages, err := adapter.ListMessagesSince(ctx, acct, mb, since)
		if err != nil {
			if provider.IsAuthExpired(err) || provider.IsConfig(err) {
				return fmt.Errorf("failed to fetch mailbox %s: %w", mb.Path, err)
			}
			log.WithError(err).WithField("mailbox", mb.Path).Warn("Failed to fetch mailbox, skipping")
			continue
		}

		for _, msg := range messages {
			target := e.mailboxFor(msg.Flags, mb, byPath)
			msg.MailboxID = target.ID

			isNew, err := e.store.UpsertMessage(msg)
			if err != nil {
				log.WithError(err).WithField("uid", msg.UID).Warn("Failed to store message")
				continue
			}
			if isNew {
				created++
			}
		}
		fetched += len(messages)

		if err := e.store.SetMailboxFetchedAt(mb.ID, tickStart); err != nil {
			log.WithError(err).WithField("mailbox", mb.Path).Warn("Failed to advance mailbox checkpoint")
		}
	}

	if err := e.store.SetLastFetchTimestamp(acct.ID, tickStart); err != nil {
		return fmt.Errorf("failed to advance account checkpoint: %w", err)
	}

	log.WithFields(logrus.Fields{
		"mailboxes": len(mailboxes),
		"fetched":   fetched,
		"created":   created,
	}).Info("Account sync completed")
	return nil
}

// checkpointFor picks the fetch window start: the mailbox's own checkpoint
// when it has one, the account high-water mark otherwise, zero on the very
// first sync.
func (e *Engine) checkpointFor(acct *types.Account, mb *types.Mailbox) time.Time {
	if mb.LastFetchedAt != nil {
		return *mb.LastFetchedAt
	}
	if acct.LastFetchTimestamp != nil {
		return *acct.LastFetchTimestamp
	}
	return time.Time{}
}

// mailboxFor resolves where a fetched message belongs. Providers that
// label rather than file (Gmail) report label ids as flags; when a flag
// names a known mailbox other than the one being fetched, the message is
// filed there unless it also carries the current mailbox's label.
func (e *Engine) mailboxFor(flags []string, current *types.Mailbox, byPath map[string]*types.Mailbox) *types.Mailbox {
	var candidate *types.Mailbox
	for _, flag := range flags {
		if flag == current.Path {
			return current
		}
		if mb, ok := byPath[flag]; ok && candidate == nil {
			candidate = mb
		}
	}
	if candidate != nil {
		return candidate
	}
	return current
}

// SendTest sends an outbound message through the account's provider,
// exercising the full credential and transport path.
func (e *Engine) SendTest(ctx context.Context, acct *types.Account, msg *types.OutgoingMessage) error {
	adapter, err := e.AdapterFor(acct.Type)
	if err != nil {
		return err
	}
	return adapter.Send(ctx, acct, msg)
}
