// Package sync contains the mailbox reconciler, the per-account sync
// engine, the interval scheduler and the account lifecycle hook.
package sync

import (
	"github.com/sirupsen/logrus"

	"github.com/brandon/inboxengine/internal/provider"
	"github.com/brandon/inboxengine/internal/store"
	"github.com/brandon/inboxengine/pkg/types"
)

// Reconciler folds a provider's folder listing into the local mailbox
// table.
type Reconciler struct {
	store  *store.Store
	logger *logrus.Logger
}

// NewReconciler creates a reconciler on top of the store.
func NewReconciler(st *store.Store, logger *logrus.Logger) *Reconciler {
	return &Reconciler{store: st, logger: logger}
}

// Reconcile upserts every remote mailbox and returns the resulting local
// rows in listing order, plus the number of rows actually written.
// Reconciling the same listing twice writes nothing the second time.
// Mailboxes that exist locally but are absent from the listing are left
// alone.
func (r *Reconciler) Reconcile(accountID int64, remote []provider.RemoteMailbox) ([]*types.Mailbox, int, error) {
	mailboxes := make([]*types.Mailbox, 0, len(remote))
	writes := 0

	for _, rm := range remote {
		mb, changed, err := r.store.UpsertMailbox(accountID, rm.Name, rm.Path, rm.TotalMessages, rm.UnseenMessages)
		if err != nil {
			return nil, writes, err
		}
		if changed {
			writes++
		}
		mailboxes = append(mailboxes, mb)
	}

	if writes > 0 {
		r.logger.WithFields(logrus.Fields{
			"account_id": accountID,
			"mailboxes":  len(remote),
			"writes":     writes,
		}).Debug("Reconciled mailboxes")
	}
	return mailboxes, writes, nil
}
