package aps

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	authorizePath = "/authentication/v2/authorize"
	tokenPath     = "/authentication/v2/token"
)

// AuthConfig describes the registered APS application.
type AuthConfig struct {
	BaseURL        string
	ClientID       string
	ClientSecret   string
	CallbackURL    string
	UserInfoURL    string
	InternalScopes []string
	HTTPClient     *http.Client
}

// AuthClient issues two- and three-legged tokens against the APS
// authentication v2 endpoints.
type AuthClient struct {
	oauth      *oauth2.Config
	service    *clientcredentials.Config
	provider   *oidc.Provider
	httpClient *http.Client
}

func NewAuthClient(cfg AuthConfig) *AuthClient {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: DefaultTimeout}
	}

	endpoint := oauth2.Endpoint{
		AuthURL:   base + authorizePath,
		TokenURL:  base + tokenPath,
		AuthStyle: oauth2.AuthStyleInHeader,
	}

	providerConfig := &oidc.ProviderConfig{
		IssuerURL:   base,
		AuthURL:     endpoint.AuthURL,
		TokenURL:    endpoint.TokenURL,
		UserInfoURL: cfg.UserInfoURL,
	}

	return &AuthClient{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       cfg.InternalScopes,
		},
		service: &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     endpoint.TokenURL,
			Scopes:       cfg.InternalScopes,
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		provider:   providerConfig.NewProvider(oidc.ClientContext(context.Background(), hc)),
		httpClient: hc,
	}
}

func (a *AuthClient) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
}

// AuthorizationURL is the consent page the browser is redirected to.
func (a *AuthClient) AuthorizationURL(state string) string {
	return a.oauth.AuthCodeURL(state)
}

// ServiceTokenSource returns a cached client-credentials token source with
// the internal scopes.
func (a *AuthClient) ServiceTokenSource(ctx context.Context) oauth2.TokenSource {
	return a.service.TokenSource(a.clientContext(ctx))
}

// ExchangeCode trades an authorization code for internal-scope credentials.
func (a *AuthClient) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	return a.oauth.Exchange(a.clientContext(ctx), code)
}

// RefreshToken performs a refresh-token grant narrowed to scopes. Failures are
// returned as *oauth2.RetrieveError, as for the other grants.
func (a *AuthClient) RefreshToken(ctx context.Context, refreshToken string, scopes []string) (*oauth2.Token, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	if len(scopes) > 0 {
		form.Set("scope", strings.Join(scopes, " "))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.oauth.Endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(url.QueryEscape(a.oauth.ClientID), url.QueryEscape(a.oauth.ClientSecret))

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("refresh token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		parsed := gjson.ParseBytes(body)
		return nil, &oauth2.RetrieveError{
			Response:         resp,
			Body:             body,
			ErrorCode:        parsed.Get("error").String(),
			ErrorDescription: parsed.Get("error_description").String(),
		}
	}

	var tr struct {
		AccessToken  string `json:"access_token"`
		TokenType    string `json:"token_type"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("refresh token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("refresh token response: server response missing access_token")
	}

	tok := &oauth2.Token{
		AccessToken:  tr.AccessToken,
		TokenType:    tr.TokenType,
		RefreshToken: tr.RefreshToken,
		ExpiresIn:    tr.ExpiresIn,
	}
	if tr.ExpiresIn > 0 {
		tok.Expiry = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return tok, nil
}

// UserInfo fetches the profile of the user owning accessToken.
func (a *AuthClient) UserInfo(ctx context.Context, accessToken string) (*UserProfile, error) {
	ctx = oidc.ClientContext(ctx, a.httpClient)
	info, err := a.provider.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
	if err != nil {
		return nil, err
	}
	var profile UserProfile
	if err := info.Claims(&profile); err != nil {
		return nil, fmt.Errorf("failed to decode userinfo claims: %w", err)
	}
	if profile.Subject == "" {
		profile.Subject = info.Subject
	}
	return &profile, nil
}

// ExpiresIn returns the lifetime the token endpoint reported, falling back to
// the token's expiry.
func ExpiresIn(tok *oauth2.Token) time.Duration {
	if tok.ExpiresIn > 0 {
		return time.Duration(tok.ExpiresIn) * time.Second
	}
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		return time.Duration(v) * time.Second
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	if !tok.Expiry.IsZero() {
		return time.Until(tok.Expiry)
	}
	return 0
}
