package sync

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/brandon/inboxengine/pkg/types"
)

// AccountSource lists the accounts eligible for scheduling.
type AccountSource interface {
	ListAccounts() ([]types.Account, error)
}

// AccountSyncer runs one sync pass for one account.
type AccountSyncer interface {
	SyncAccount(ctx context.Context, acct *types.Account) error
}

// Scheduler runs a sync pass over all connected accounts at a fixed
// interval. One account failing never stops the others; each account runs
// under its own timeout.
type Scheduler struct {
	source      AccountSource
	syncer      AccountSyncer
	interval    time.Duration
	tickTimeout time.Duration
	logger      *logrus.Logger
}

// NewScheduler creates a scheduler.
func NewScheduler(source AccountSource, syncer AccountSyncer, interval, tickTimeout time.Duration, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		source:      source,
		syncer:      syncer,
		interval:    interval,
		tickTimeout: tickTimeout,
		logger:      logger,
	}
}

// Run executes a pass immediately, then on every interval tick until the
// context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopping")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce syncs every connected account once. Accounts still onboarding or
// marked broken are skipped.
func (s *Scheduler) RunOnce(ctx context.Context) {
	runID := uuid.NewString()
	log := s.logger.WithField("run_id", runID)

	accounts, err := s.source.ListAccounts()
	if err != nil {
		log.WithError(err).Error("Failed to list accounts")
		return
	}

	var synced, failed, skipped int
	for i := range accounts {
		acct := &accounts[i]
		if acct.State != types.StateConnected {
			skipped++
			continue
		}
		if ctx.Err() != nil {
			return
		}

		acctCtx, cancel := context.WithTimeout(ctx, s.tickTimeout)
		err := s.syncer.SyncAccount(acctCtx, acct)
		cancel()

		if err != nil {
			failed++
			log.WithError(err).WithFields(logrus.Fields{
				"account_id": acct.ID,
				"email":      acct.Email,
			}).Error("Account sync failed")
			continue
		}
		synced++
	}

	log.WithFields(logrus.Fields{
		"accounts": len(accounts),
		"synced":   synced,
		"failed":   failed,
		"skipped":  skipped,
	}).Info("Sync pass completed")
}
