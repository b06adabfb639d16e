// Package bnet talks to the Battle.net OAuth2 service and the World of
// Warcraft profile and game data APIs.
package bnet

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"wowsync/pkg/retrylimit"
)

type Options struct {
	ClientID     string
	ClientSecret string
	Scope        string
	RedirectURL  string
	// OAuthURL is the OAuth2 host, e.g. https://oauth.battle.net.
	OAuthURL string
	// APIURL replaces the per-region API host when set.
	APIURL     string
	NumRetries int
	RetryDelay time.Duration
	HTTPClient *http.Client
	// OnRequest is called after every HTTP request with the endpoint name
	// and the status code, 0 on transport errors.
	OnRequest func(endpoint string, status int)
}

// Clients holds the application client and creates user clients.
type Clients struct {
	opts    Options
	http    *http.Client
	oauth   *oauth2.Config
	app     oauth2.TokenSource
	limiter *retrylimit.AdaptiveLimiter
}

func New(opts Options) *Clients {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.NumRetries < 1 {
		opts.NumRetries = 1
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	opts.OAuthURL = strings.TrimRight(opts.OAuthURL, "/")
	opts.APIURL = strings.TrimRight(opts.APIURL, "/")

	endpoint := oauth2.Endpoint{
		AuthURL:   opts.OAuthURL + "/authorize",
		TokenURL:  opts.OAuthURL + "/token",
		AuthStyle: oauth2.AuthStyleInHeader,
	}

	cc := &clientcredentials.Config{
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		TokenURL:     endpoint.TokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	return &Clients{
		opts: opts,
		http: opts.HTTPClient,
		oauth: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  opts.RedirectURL,
			Scopes:       strings.Fields(opts.Scope),
		},
		app:     cc.TokenSource(context.WithValue(context.Background(), oauth2.HTTPClient, opts.HTTPClient)),
		limiter: retrylimit.NewAdaptiveLimiter(50, 1, 100, 1, 0.5),
	}
}

// AuthState is kept between the redirect to Battle.net and the callback.
type AuthState struct {
	Region Region `json:"region"`
	State  string `json:"state"`
	URL    string `json:"url"`
}

// UserClient carries a user access token for one region.
type UserClient struct {
	Region Region
	Token  *oauth2.Token
}

// Valid reports whether the access token can still be used.
func (u *UserClient) Valid() bool {
	return u != nil && u.Token.Valid()
}

// Scope returns the scope granted with the token.
func (u *UserClient) Scope() string {
	if u == nil || u.Token == nil {
		return ""
	}
	scope, _ := u.Token.Extra("scope").(string)
	return scope
}

// StartUserAuthorization creates a fresh state and the URL the user has
// to visit.
func (c *Clients) StartUserAuthorization(region Region) AuthState {
	state := uuid.NewString()
	return AuthState{
		Region: region,
		State:  state,
		URL:    c.oauth.AuthCodeURL(state),
	}
}

// FinishUserAuthorization exchanges the code from the callback query.
func (c *Clients) FinishUserAuthorization(ctx context.Context, st AuthState, query url.Values) (*UserClient, error) {
	if e := query.Get("error"); e != "" {
		reason := e
		if d := query.Get("error_description"); d != "" {
			reason += ": " + d
		}
		return nil, &UserAuthorizationError{Reason: reason}
	}
	if query.Get("state") != st.State {
		return nil, &UserAuthorizationError{Reason: "state mismatch"}
	}
	code := query.Get("code")
	if code == "" {
		return nil, &UserAuthorizationError{Reason: "missing code"}
	}

	tok, err := c.oauth.Exchange(context.WithValue(ctx, oauth2.HTTPClient, c.http), code)
	if err != nil {
		return nil, &UserAuthorizationError{Reason: "token exchange", Err: err}
	}

	uc := &UserClient{Region: st.Region, Token: tok}
	granted := strings.Fields(uc.Scope())
	for _, required := range c.oauth.Scopes {
		if !contains(granted, required) {
			return nil, &InvalidScopeError{Required: required, Granted: uc.Scope()}
		}
	}
	return uc, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (c *Clients) apiURL(region Region, path string) string {
	if c.opts.APIURL != "" {
		return c.opts.APIURL + path
	}
	return region.apiHost() + path
}

// get fetches one JSON document with retries. 4xx answers other than
// 429 are not retried.
func (c *Clients) get(ctx context.Context, endpoint string, ts oauth2.TokenSource, rawURL string, query url.Values, out any) error {
	if len(query) > 0 {
		rawURL += "?" + query.Encode()
	}

	cfg := retrylimit.DefaultRetryConfig()
	cfg.MaxAttempts = c.opts.NumRetries
	cfg.InitialDelay = c.opts.RetryDelay
	cfg.RateLimitDelay = c.opts.RetryDelay

	err := retrylimit.WithRetryConfig(ctx, func() error {
		tok, err := ts.Token()
		if err != nil {
			return fmt.Errorf("failed to get access token: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return retrylimit.Fatal(err)
		}
		tok.SetAuthHeader(req)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			c.observe(endpoint, 0)
			return err
		}
		defer resp.Body.Close()
		c.observe(endpoint, resp.StatusCode)

		body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return err
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			apiErr := &APIError{Code: resp.StatusCode, URL: rawURL, Body: truncate(body)}
			if !retryable(resp.StatusCode) {
				return retrylimit.Fatal(apiErr)
			}
			return apiErr
		}

		if err := json.Unmarshal(body, out); err != nil {
			return retrylimit.Fatal(fmt.Errorf("failed to decode %s: %w", endpoint, err))
		}
		return nil
	}, c.limiter, cfg)
	if err != nil {
		log.Printf("[ERR] Battle.net request %s failed: %v", endpoint, err)
	}
	return err
}

func (c *Clients) observe(endpoint string, status int) {
	if c.opts.OnRequest != nil {
		c.opts.OnRequest(endpoint, status)
	}
}

func truncate(b []byte) string {
	const limit = 300
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
