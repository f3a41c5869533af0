package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/brandon/inboxengine/internal/auth"
	"github.com/brandon/inboxengine/internal/config"
	"github.com/brandon/inboxengine/internal/provider"
	"github.com/brandon/inboxengine/internal/provider/gmail"
	imapprovider "github.com/brandon/inboxengine/internal/provider/imap"
	"github.com/brandon/inboxengine/internal/provider/outlook"
	"github.com/brandon/inboxengine/internal/store"
	syncengine "github.com/brandon/inboxengine/internal/sync"
	"github.com/brandon/inboxengine/pkg/types"
)

var version = "dev"

// app bundles everything a command needs.
type app struct {
	cfg       *config.Config
	logger    *logrus.Logger
	store     *store.Store
	creds     *auth.Provider
	engine    *syncengine.Engine
	scheduler *syncengine.Scheduler
	lifecycle *syncengine.Lifecycle
}

func newApp() (*app, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	st, err := store.Open(cfg.DatabasePath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	creds := auth.NewProvider(st, cfg, logger)
	adapters := map[string]provider.Adapter{
		types.ProviderIMAP:    imapprovider.New(logger, cfg.FirstSyncWindow),
		types.ProviderGmail:   gmail.New(creds, logger),
		types.ProviderOutlook: outlook.New(creds, logger),
	}

	engine := syncengine.NewEngine(st, adapters, logger)
	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		creds:     creds,
		engine:    engine,
		scheduler: syncengine.NewScheduler(st, engine, cfg.SyncInterval, cfg.TickTimeout, logger),
		lifecycle: syncengine.NewLifecycle(st, engine, logger),
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.WithError(err).Warn("Failed to close store")
	}
}

func main() {
	cliApp := &cli.App{
		Name:    "inboxengine",
		Usage:   "mailbox synchronization and account management backend",
		Version: version,
		Commands: []*cli.Command{
			runCommand(),
			syncCommand(),
			authURLCommand(),
			authExchangeCommand(),
			sendTestCommand(),
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "run the sync scheduler until interrupted",
		Action: func(c *cli.Context) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := context.WithCancel(c.Context)
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				sig := <-sigCh
				a.logger.WithField("signal", sig.String()).Info("Shutting down")
				cancel()
			}()

			a.logger.WithFields(logrus.Fields{
				"version":  version,
				"interval": a.cfg.SyncInterval.String(),
			}).Info("Starting sync scheduler")
			a.scheduler.Run(ctx)
			return nil
		},
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "run one sync pass and exit",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Usage: "sync only the account with this email"},
		},
		Action: func(c *cli.Context) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			if email := c.String("email"); email != "" {
				acct, err := a.store.GetAccountByEmail(email)
				if err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(c.Context, a.cfg.TickTimeout)
				defer cancel()
				return a.engine.SyncAccount(ctx, acct)
			}

			a.scheduler.RunOnce(c.Context)
			return nil
		},
	}
}

func authURLCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth-url",
		Usage: "print the OAuth consent URL for onboarding an account",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "type", Required: true, Usage: "account type: gmail or outlook"},
			&cli.StringFlag{Name: "state", Value: "cli", Usage: "opaque state passed through the flow"},
		},
		Action: func(c *cli.Context) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			url, err := a.creds.AuthCodeURL(c.String("type"), c.String("state"))
			if err != nil {
				return err
			}
			fmt.Println(url)
			return nil
		},
	}
}

func authExchangeCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth-exchange",
		Usage: "exchange an OAuth code, save the account and start its first sync",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "type", Required: true, Usage: "account type: gmail or outlook"},
			&cli.StringFlag{Name: "code", Required: true, Usage: "authorization code from the consent redirect"},
			&cli.StringFlag{Name: "org", Usage: "organization id to attach the account to"},
		},
		Action: func(c *cli.Context) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			acct, err := a.creds.Exchange(c.Context, c.String("type"), c.String("code"), c.String("org"))
			if err != nil {
				return err
			}
			if err := a.lifecycle.VerifyAndSave(c.Context, acct); err != nil {
				return err
			}
			fmt.Printf("account %d (%s) connected\n", acct.ID, acct.Email)
			return nil
		},
	}
}

func sendTestCommand() *cli.Command {
	return &cli.Command{
		Name:  "send-test",
		Usage: "send a test message through an account's provider",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Required: true, Usage: "account email to send from"},
			&cli.StringFlag{Name: "to", Required: true, Usage: "recipient address"},
			&cli.StringFlag{Name: "subject", Value: "inboxengine test message"},
			&cli.StringFlag{Name: "body", Value: "This is a test message."},
		},
		Action: func(c *cli.Context) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			acct, err := a.store.GetAccountByEmail(c.String("email"))
			if err != nil {
				return err
			}
			msg := &types.OutgoingMessage{
				To:       []string{c.String("to")},
				Subject:  c.String("subject"),
				BodyText: c.String("body"),
			}
			return a.engine.SendTest(c.Context, acct, msg)
		},
	}
}
