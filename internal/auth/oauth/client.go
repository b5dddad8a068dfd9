// Package oauth is a generic OAuth 2.0 authorization-code client with PKCE.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Togather-Foundation/appkit/internal/config"
	"github.com/Togather-Foundation/appkit/internal/httpclient"
)

// Config holds the provider endpoints and client credentials.
type Config struct {
	ClientID     string
	ClientSecret string
	AuthorizeURL string
	TokenURL     string
	UserInfoURL  string
	RedirectURL  string
	Scopes       []string
}

// ConfigFromConfig builds the client config. The redirect URL is derived
// from the server base URL.
func ConfigFromConfig(cfg config.Config) Config {
	scopes := cfg.OAuth.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "email", "profile"}
	}
	return Config{
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		AuthorizeURL: cfg.OAuth.AuthorizeURL,
		TokenURL:     cfg.OAuth.TokenURL,
		UserInfoURL:  cfg.OAuth.UserInfoURL,
		RedirectURL:  strings.TrimRight(cfg.Server.BaseURL, "/") + CallbackPath,
		Scopes:       scopes,
	}
}

const (
	StartPath    = "/auth/oauth/start"
	CallbackPath = "/auth/oauth/callback"
)

type Client struct {
	config     Config
	httpClient *http.Client
}

// Token is the subset of the token response the server uses.
type Token struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// UserInfo is the provider's view of the signed-in user.
type UserInfo struct {
	Subject           string `json:"sub"`
	Email             string `json:"email"`
	EmailVerified     Flag   `json:"email_verified"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
}

// VerifiedEmail returns the email only when the provider vouches for it.
func (u UserInfo) VerifiedEmail() string {
	if !u.EmailVerified {
		return ""
	}
	return u.Email
}

// Flag is a boolean claim some providers encode as the string "true".
type Flag bool

func (f *Flag) UnmarshalJSON(data []byte) error {
	switch strings.Trim(string(data), `"`) {
	case "true":
		*f = true
	case "false", "", "null":
		*f = false
	default:
		return fmt.Errorf("invalid boolean claim %s", data)
	}
	return nil
}

// Username picks the most specific handle the provider returned.
func (u UserInfo) Username() string {
	switch {
	case u.PreferredUsername != "":
		return u.PreferredUsername
	case u.Email != "":
		return u.Email
	default:
		return u.Subject
	}
}

// NewClient fails when any required endpoint is missing.
func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	var missing []string
	if cfg.ClientID == "" {
		missing = append(missing, "OAUTH_CLIENT_ID")
	}
	if cfg.AuthorizeURL == "" {
		missing = append(missing, "OAUTH_AUTHORIZE_URL")
	}
	if cfg.TokenURL == "" {
		missing = append(missing, "OAUTH_TOKEN_URL")
	}
	if cfg.UserInfoURL == "" {
		missing = append(missing, "OAUTH_USERINFO_URL")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("oauth: %s: %w", strings.Join(missing, ", "), config.ErrMissingRequired)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{config: cfg, httpClient: httpClient}, nil
}

// Issuer names the provider for identity links: the authorize URL's host.
func (c *Client) Issuer() string {
	if u, err := url.Parse(c.config.AuthorizeURL); err == nil && u.Host != "" {
		return u.Host
	}
	return c.config.AuthorizeURL
}

// AuthURL builds the authorization redirect for state and an S256 challenge.
func (c *Client) AuthURL(state, challenge string) string {
	params := url.Values{
		"response_type":         {"code"},
		"client_id":             {c.config.ClientID},
		"redirect_uri":          {c.config.RedirectURL},
		"scope":                 {strings.Join(c.config.Scopes, " ")},
		"state":                 {state},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
	}
	sep := "?"
	if strings.Contains(c.config.AuthorizeURL, "?") {
		sep = "&"
	}
	return c.config.AuthorizeURL + sep + params.Encode()
}

// Exchange trades an authorization code and PKCE verifier for a token.
func (c *Client) Exchange(ctx context.Context, code, verifier string) (*Token, error) {
	if code == "" {
		return nil, errors.New("oauth: missing authorization code")
	}
	data := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {c.config.RedirectURL},
		"client_id":     {c.config.ClientID},
		"code_verifier": {verifier},
	}
	if c.config.ClientSecret != "" {
		data.Set("client_secret", c.config.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}
	if err := httpclient.CheckStatus(resp); err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Token
		Error     string `json:"error"`
		ErrorDesc string `json:"error_description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if body.Error != "" {
		return nil, fmt.Errorf("oauth error: %s - %s", body.Error, body.ErrorDesc)
	}
	if body.AccessToken == "" {
		return nil, errors.New("no access token in response")
	}
	return &body.Token, nil
}

// FetchUser calls the userinfo endpoint with the access token.
func (c *Client) FetchUser(ctx context.Context, token *Token) (*UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}
	if err := httpclient.CheckStatus(resp); err != nil {
		return nil, fmt.Errorf("userinfo failed: %w", err)
	}
	defer resp.Body.Close()

	var user UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}
	if user.Subject == "" {
		return nil, errors.New("userinfo response missing sub")
	}
	return &user, nil
}
