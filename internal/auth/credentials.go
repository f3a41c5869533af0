// Package auth obtains usable credentials for accounts: the stored password
// for imap accounts, refreshed OAuth access tokens for gmail/outlook.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/brandon/inboxengine/internal/config"
	"github.com/brandon/inboxengine/internal/provider"
	"github.com/brandon/inboxengine/internal/store"
	"github.com/brandon/inboxengine/pkg/types"
)

// refreshMargin is how close to expiry a token may get before it is
// refreshed eagerly.
const refreshMargin = 5 * time.Minute

var gmailScopes = []string{
	"https://www.googleapis.com/auth/gmail.readonly",
	"https://www.googleapis.com/auth/gmail.modify",
	"https://www.googleapis.com/auth/gmail.send",
	"https://www.googleapis.com/auth/userinfo.profile",
	"https://www.googleapis.com/auth/userinfo.email",
}

var outlookScopes = []string{
	"openid", "profile", "email", "offline_access",
	"https://graph.microsoft.com/Mail.Read",
	"https://graph.microsoft.com/Mail.Send",
	"https://graph.microsoft.com/User.Read",
}

// Provider hands out bearer credentials, hiding the provider-specific
// refresh flows. Refreshes for the same account are serialized in-process;
// the persisted write is additionally CAS-guarded in the store.
type Provider struct {
	store  *store.Store
	cfg    *config.Config
	logger *logrus.Logger

	mu    sync.Mutex
	locks map[int64]*sync.Mutex

	// endpoints are replaceable in tests.
	endpoints map[string]oauth2.Endpoint
}

// NewProvider creates a credential provider backed by the given store.
func NewProvider(st *store.Store, cfg *config.Config, logger *logrus.Logger) *Provider {
	return &Provider{
		store:  st,
		cfg:    cfg,
		logger: logger,
		locks:  make(map[int64]*sync.Mutex),
		endpoints: map[string]oauth2.Endpoint{
			types.ProviderGmail:   endpoints.Google,
			types.ProviderOutlook: endpoints.AzureAD("common"),
		},
	}
}

// Token returns a usable bearer credential for the account: the stored
// password for imap accounts, a valid (refreshed if necessary) access token
// for OAuth accounts. The refreshed token set is persisted on the account.
func (p *Provider) Token(ctx context.Context, acct *types.Account) (string, error) {
	switch acct.Type {
	case types.ProviderIMAP:
		if acct.IMAP.Pass == "" {
			return "", provider.Errorf(provider.KindConfig, "auth.Token",
				fmt.Errorf("account %d has no IMAP password", acct.ID))
		}
		return acct.IMAP.Pass, nil
	case types.ProviderGmail, types.ProviderOutlook:
		return p.accessToken(ctx, acct)
	}
	return "", provider.Errorf(provider.KindConfig, "auth.Token",
		fmt.Errorf("unsupported account type %q", acct.Type))
}

func (p *Provider) accessToken(ctx context.Context, acct *types.Account) (string, error) {
	lock := p.accountLock(acct.ID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read so a refresh finished while waiting on the lock is reused.
	fresh, err := p.store.GetAccount(acct.ID)
	if err == nil && fresh != nil {
		acct.OAuth2 = fresh.OAuth2
	}

	if !acct.OAuth2.Authorized {
		return "", provider.Errorf(provider.KindAuthExpired, "auth.Token",
			fmt.Errorf("account %d requires re-authorization", acct.ID))
	}

	tokens := acct.OAuth2.Tokens
	if tokens.AccessToken != "" && !tokens.Expiry.IsZero() && time.Until(tokens.Expiry) > refreshMargin {
		return tokens.AccessToken, nil
	}

	if tokens.RefreshToken == "" {
		return "", provider.Errorf(provider.KindConfig, "auth.Token",
			fmt.Errorf("account %d has no refresh token", acct.ID))
	}

	ocfg, err := p.oauthConfig(acct)
	if err != nil {
		return "", err
	}

	tok, err := ocfg.TokenSource(ctx, &oauth2.Token{RefreshToken: tokens.RefreshToken}).Token()
	if err != nil {
		return "", p.classifyRefreshError(acct, err)
	}

	rotated := types.TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}
	// Keep the old refresh token when the provider omits a new one.
	if rotated.RefreshToken == "" {
		rotated.RefreshToken = tokens.RefreshToken
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		rotated.Scope = scope
	} else {
		rotated.Scope = tokens.Scope
	}

	swapped, err := p.store.UpdateAccountTokens(acct.ID, tokens.RefreshToken, rotated)
	if err != nil {
		return "", provider.Errorf(provider.KindTransient, "auth.Token", err)
	}
	if !swapped {
		// Another writer rotated first; use what is now stored.
		p.logger.WithField("account_id", acct.ID).Warn("Token refresh lost compare-and-swap, using stored tokens")
		current, err := p.store.GetAccount(acct.ID)
		if err != nil {
			return "", provider.Errorf(provider.KindTransient, "auth.Token", err)
		}
		acct.OAuth2 = current.OAuth2
		return current.OAuth2.Tokens.AccessToken, nil
	}

	acct.OAuth2.Tokens = rotated
	p.logger.WithFields(logrus.Fields{
		"account_id": acct.ID,
		"expiry":     rotated.Expiry,
	}).Info("Refreshed OAuth token")
	return rotated.AccessToken, nil
}

// classifyRefreshError separates a rejected grant (re-consent needed) from
// transient provider trouble.
func (p *Provider) classifyRefreshError(acct *types.Account, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorCode == "invalid_grant" ||
			(re.Response != nil && re.Response.StatusCode == http.StatusUnauthorized) {
			if dbErr := p.store.SetAuthorized(acct.ID, false); dbErr != nil {
				p.logger.WithError(dbErr).WithField("account_id", acct.ID).Error("Failed to flag account unauthorized")
			}
			acct.OAuth2.Authorized = false
			p.logger.WithField("account_id", acct.ID).Warn("Refresh token rejected, account requires re-consent")
			return provider.Errorf(provider.KindAuthExpired, "auth.Token", err)
		}
	}
	return provider.Errorf(provider.KindTransient, "auth.Token", err)
}

func (p *Provider) oauthConfig(acct *types.Account) (*oauth2.Config, error) {
	endpoint, ok := p.endpoints[acct.Type]
	if !ok {
		return nil, provider.Errorf(provider.KindConfig, "auth.Token",
			fmt.Errorf("no OAuth endpoint for account type %q", acct.Type))
	}

	client := p.clientFor(acct.Type)
	clientID, clientSecret, redirectURI := acct.OAuth2.ClientID, acct.OAuth2.ClientSecret, acct.OAuth2.RedirectURI
	if clientID == "" {
		clientID, clientSecret, redirectURI = client.ClientID, client.ClientSecret, client.RedirectURI
	}
	if clientID == "" {
		return nil, provider.Errorf(provider.KindConfig, "auth.Token",
			fmt.Errorf("no OAuth client configured for account type %q", acct.Type))
	}

	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Endpoint:     endpoint,
		Scopes:       scopesFor(acct.Type),
	}, nil
}

func (p *Provider) clientFor(accountType string) config.OAuthClient {
	if accountType == types.ProviderOutlook {
		return p.cfg.Microsoft
	}
	return p.cfg.Google
}

func scopesFor(accountType string) []string {
	if accountType == types.ProviderOutlook {
		return outlookScopes
	}
	return gmailScopes
}

func (p *Provider) accountLock(id int64) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[id] = lock
	}
	return lock
}
