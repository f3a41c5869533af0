package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/brandon/inboxengine/internal/provider"
	"github.com/brandon/inboxengine/pkg/types"
)

const (
	googleUserinfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
	graphProfileURL   = "https://graph.microsoft.com/v1.0/me?$select=id,displayName,mail,userPrincipalName"
)

// Profile is the subset of the provider's user info used to key an account.
type Profile struct {
	Email string
	Name  string
}

// AuthCodeURL builds the provider consent URL for onboarding a gmail or
// outlook account. Offline access with forced consent so a refresh token is
// always issued.
func (p *Provider) AuthCodeURL(accountType, state string) (string, error) {
	ocfg, err := p.oauthConfig(&types.Account{Type: accountType})
	if err != nil {
		return "", err
	}
	return ocfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	), nil
}

// Exchange trades an authorization code for tokens, fetches the user's
// profile, and returns an account draft with authorized=true ready for the
// lifecycle hook. An existing account with the same email is updated in
// place rather than duplicated.
func (p *Provider) Exchange(ctx context.Context, accountType, code, orgID string) (*types.Account, error) {
	ocfg, err := p.oauthConfig(&types.Account{Type: accountType})
	if err != nil {
		return nil, err
	}

	tok, err := ocfg.Exchange(ctx, code)
	if err != nil {
		return nil, provider.Errorf(provider.KindTransient, "auth.Exchange",
			fmt.Errorf("failed to exchange code for tokens: %w", err))
	}

	profile, err := p.fetchProfile(ctx, accountType, tok.AccessToken)
	if err != nil {
		return nil, err
	}

	acct, err := p.store.GetAccountByEmail(profile.Email)
	if err != nil || acct == nil {
		acct = &types.Account{
			Email: profile.Email,
			Name:  profile.Name,
			OrgID: orgID,
			Type:  accountType,
			State: types.StateInit,
		}
	}

	tokens := types.TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = acct.OAuth2.Tokens.RefreshToken
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		tokens.Scope = scope
	}

	acct.OAuth2 = types.OAuth2Config{
		Authorized:   true,
		ClientID:     ocfg.ClientID,
		ClientSecret: ocfg.ClientSecret,
		RedirectURI:  ocfg.RedirectURL,
		Tokens:       tokens,
	}
	// Synthetic IMAP identity for addressing; OAuth accounts never carry a
	// password.
	acct.IMAP.User = profile.Email
	acct.SMTP.User = profile.Email

	return acct, nil
}

func (p *Provider) fetchProfile(ctx context.Context, accountType, accessToken string) (*Profile, error) {
	url := googleUserinfoURL
	if accountType == types.ProviderOutlook {
		url = graphProfileURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, provider.Errorf(provider.KindTransient, "auth.fetchProfile", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, provider.Errorf(provider.KindTransient, "auth.fetchProfile", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.Errorf(provider.KindTransient, "auth.fetchProfile",
			fmt.Errorf("profile endpoint returned %d", resp.StatusCode))
	}

	if accountType == types.ProviderOutlook {
		var body struct {
			DisplayName       string `json:"displayName"`
			Mail              string `json:"mail"`
			UserPrincipalName string `json:"userPrincipalName"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, provider.Errorf(provider.KindTransient, "auth.fetchProfile", err)
		}
		email := body.Mail
		if email == "" {
			email = body.UserPrincipalName
		}
		return &Profile{Email: email, Name: body.DisplayName}, nil
	}

	var body struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, provider.Errorf(provider.KindTransient, "auth.fetchProfile", err)
	}
	return &Profile{Email: body.Email, Name: body.Name}, nil
}
