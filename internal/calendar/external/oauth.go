// Package external talks to the third-party calendar service: the
// OAuth2 authorization-code flow and the events REST API. All URLs are
// overridable so tests can point at an httptest server.
package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var ErrRefreshDenied = errors.New("refresh_denied")

type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
}

type OAuth struct {
	cfg  OAuthConfig
	http *http.Client
}

func NewOAuth(cfg OAuthConfig) *OAuth {
	return &OAuth{cfg: cfg, http: &http.Client{Timeout: 15 * time.Second}}
}

type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Account      string
}

// LoginURL builds the authorization-code URL. Offline access is
// requested so a refresh token comes back with the code exchange.
func (o *OAuth) LoginURL(state string) string {
	params := url.Values{
		"client_id":     {o.cfg.ClientID},
		"redirect_uri":  {o.cfg.RedirectURL},
		"response_type": {"code"},
		"scope":         {"calendar.events"},
		"state":         {state},
		"access_type":   {"offline"},
	}
	return o.cfg.AuthURL + "?" + params.Encode()
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	Account      string `json:"account"`
}

func (o *OAuth) post(ctx context.Context, form url.Values) (*Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	res, err := o.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	if res.StatusCode == http.StatusBadRequest || res.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("%w: %s", ErrRefreshDenied, strings.TrimSpace(string(body)))
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token endpoint: %s (%d)", strings.TrimSpace(string(body)), res.StatusCode)
	}
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("parse token response: %w", err)
	}
	return &Token{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		Expiry:       time.Now().UTC().Add(time.Duration(tr.ExpiresIn) * time.Second),
		Account:      tr.Account,
	}, nil
}

// Exchange trades an authorization code for a token pair.
func (o *OAuth) Exchange(ctx context.Context, code string) (*Token, error) {
	return o.post(ctx, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {o.cfg.ClientID},
		"client_secret": {o.cfg.ClientSecret},
		"redirect_uri":  {o.cfg.RedirectURL},
	})
}

// Refresh obtains a fresh access token. ErrRefreshDenied means the
// provider revoked access and must reauthorize.
func (o *OAuth) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	tok, err := o.post(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {o.cfg.ClientID},
		"client_secret": {o.cfg.ClientSecret},
	})
	if err != nil {
		return nil, err
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	return tok, nil
}
