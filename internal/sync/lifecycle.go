package sync

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/inboxengine/internal/store"
	"github.com/brandon/inboxengine/pkg/types"
)

const initialSyncTimeout = 10 * time.Minute

// Lifecycle handles account onboarding: verify credentials, persist the
// resulting state, and kick off the initial sync.
type Lifecycle struct {
	store  *store.Store
	engine *Engine
	logger *logrus.Logger
}

// NewLifecycle creates a lifecycle hook.
func NewLifecycle(st *store.Store, engine *Engine, logger *logrus.Logger) *Lifecycle {
	return &Lifecycle{store: st, engine: engine, logger: logger}
}

// VerifyAndSave probes the account's credentials and saves it with the
// outcome. On success the account lands in the connected state and an
// initial sync starts in the background; on failure it lands in the error
// state with the failure detail in the EHLO-name slot, and no sync runs.
//
// OAuth accounts that already carry a valid authorization grant skip the
// live probe; the grant exchange itself was the proof.
func (l *Lifecycle) VerifyAndSave(ctx context.Context, acct *types.Account) error {
	log := l.logger.WithFields(logrus.Fields{
		"email": acct.Email,
		"type":  acct.Type,
	})

	verifyErr := l.verify(ctx, acct)
	if verifyErr != nil {
		acct.State = types.StateError
		acct.SMTPEhloName = verifyErr.Error()
		if err := l.store.SaveAccount(acct); err != nil {
			return err
		}
		log.WithError(verifyErr).Warn("Account verification failed")
		return verifyErr
	}

	acct.State = types.StateConnected
	acct.SMTPEhloName = ""
	if err := l.store.SaveAccount(acct); err != nil {
		return err
	}
	log.Info("Account verified and connected")

	// Initial sync outlives the caller's request context.
	go l.initialSync(acct.ID)
	return nil
}

func (l *Lifecycle) verify(ctx context.Context, acct *types.Account) error {
	if acct.IsOAuth() && acct.OAuth2.Authorized {
		return nil
	}
	adapter, err := l.engine.AdapterFor(acct.Type)
	if err != nil {
		return err
	}
	return adapter.Verify(ctx, acct)
}

func (l *Lifecycle) initialSync(accountID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), initialSyncTimeout)
	defer cancel()

	acct, err := l.store.GetAccount(accountID)
	if err != nil {
		l.logger.WithError(err).WithField("account_id", accountID).Error("Failed to load account for initial sync")
		return
	}
	if err := l.engine.SyncAccount(ctx, acct); err != nil {
		l.logger.WithError(err).WithField("account_id", accountID).Error("Initial sync failed")
	}
}
