package bnet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBnet struct {
	rosterCalls  atomic.Int32
	missingCalls atomic.Int32
	requests     atomic.Int32
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (f *fakeBnet) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		switch r.Form.Get("grant_type") {
		case "client_credentials":
			writeJSON(w, map[string]any{"access_token": "app", "token_type": "bearer", "expires_in": 3600})
		case "authorization_code":
			scope := "openid wow.profile"
			if r.Form.Get("code") == "narrow" {
				scope = "openid"
			}
			if r.Form.Get("code") == "broken" {
				w.WriteHeader(http.StatusBadRequest)
				writeJSON(w, map[string]any{"error": "invalid_grant"})
				return
			}
			writeJSON(w, map[string]any{"access_token": "user", "token_type": "bearer", "expires_in": 3600, "scope": scope})
		}
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer user", r.Header.Get("Authorization"))
		writeJSON(w, map[string]any{"id": 42, "battletag": "Tester#1234"})
	})
	mux.HandleFunc("/profile/user/wow", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer user", r.Header.Get("Authorization"))
		assert.Equal(t, "profile-eu", r.URL.Query().Get("namespace"))
		assert.Equal(t, "en_GB", r.URL.Query().Get("locale"))
		writeJSON(w, map[string]any{"wow_accounts": []any{
			map[string]any{"characters": []any{
				map[string]any{"id": 1, "name": "Alpha", "realm": map[string]any{"slug": "blackhand"}},
			}},
			map[string]any{"characters": []any{
				map[string]any{"id": 2, "name": "Beta", "realm": map[string]any{"slug": "aegwynn"}},
			}},
		}})
	})
	mux.HandleFunc("/data/wow/guild/die-aldor/the-guild/roster", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer app", r.Header.Get("Authorization"))
		if f.rosterCalls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(w, map[string]any{"members": []any{
			map[string]any{"character": map[string]any{"id": 10, "name": "Leader", "realm": map[string]any{"slug": "die-aldor"}}, "rank": 0},
			map[string]any{"character": map[string]any{"id": 11, "name": "Raider", "realm": map[string]any{"slug": "die-aldor"}}, "rank": 4},
		}})
	})
	mux.HandleFunc("/data/wow/guild/die-aldor/missing/roster", func(w http.ResponseWriter, r *http.Request) {
		f.missingCalls.Add(1)
		http.NotFound(w, r)
	})
	return mux
}

func newTestClients(t *testing.T) (*Clients, *fakeBnet) {
	t.Helper()

	fake := &fakeBnet{}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	c := New(Options{
		ClientID:     "id",
		ClientSecret: "secret",
		Scope:        "wow.profile",
		RedirectURL:  "http://localhost/auth/finish",
		OAuthURL:     srv.URL,
		APIURL:       srv.URL,
		NumRetries:   3,
		RetryDelay:   time.Millisecond,
		HTTPClient:   srv.Client(),
		OnRequest:    func(string, int) { fake.requests.Add(1) },
	})
	return c, fake
}

func TestParseRegion(t *testing.T) {
	r, err := ParseRegion(" EU ")
	require.NoError(t, err)
	assert.Equal(t, EU, r)
	assert.Equal(t, "en_GB", r.Locale())

	_, err = ParseRegion("cn")
	assert.Error(t, err)
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "die-aldor", Slug("Die Aldor"))
	assert.Equal(t, "kaelthas", Slug("Kael'thas"))
	assert.Equal(t, "the-guild", Slug("  The  Guild "))
}

func TestStartUserAuthorization(t *testing.T) {
	c, _ := newTestClients(t)

	st := c.StartUserAuthorization(EU)
	assert.Equal(t, EU, st.Region)
	assert.NotEmpty(t, st.State)

	u, err := url.Parse(st.URL)
	require.NoError(t, err)
	assert.Equal(t, "/authorize", u.Path)
	assert.Equal(t, st.State, u.Query().Get("state"))
	assert.Equal(t, "wow.profile", u.Query().Get("scope"))
	assert.Equal(t, "http://localhost/auth/finish", u.Query().Get("redirect_uri"))

	assert.NotEqual(t, st.State, c.StartUserAuthorization(EU).State)
}

func TestFinishUserAuthorization(t *testing.T) {
	c, _ := newTestClients(t)
	ctx := context.Background()
	st := c.StartUserAuthorization(EU)

	uc, err := c.FinishUserAuthorization(ctx, st, url.Values{"state": {st.State}, "code": {"good"}})
	require.NoError(t, err)
	assert.True(t, uc.Valid())
	assert.Equal(t, EU, uc.Region)
	assert.Equal(t, "openid wow.profile", uc.Scope())
}

func TestFinishUserAuthorizationErrors(t *testing.T) {
	c, _ := newTestClients(t)
	ctx := context.Background()
	st := c.StartUserAuthorization(US)

	tests := []struct {
		name  string
		query url.Values
	}{
		{"denied", url.Values{"error": {"access_denied"}, "state": {st.State}}},
		{"state mismatch", url.Values{"state": {"other"}, "code": {"good"}}},
		{"missing code", url.Values{"state": {st.State}}},
		{"exchange fails", url.Values{"state": {st.State}, "code": {"broken"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.FinishUserAuthorization(ctx, st, tt.query)
			var authErr *UserAuthorizationError
			assert.ErrorAs(t, err, &authErr)
		})
	}

	_, err := c.FinishUserAuthorization(ctx, st, url.Values{"state": {st.State}, "code": {"narrow"}})
	var scopeErr *InvalidScopeError
	require.ErrorAs(t, err, &scopeErr)
	assert.Equal(t, "wow.profile", scopeErr.Required)
}

func TestUserRequests(t *testing.T) {
	c, _ := newTestClients(t)
	ctx := context.Background()
	st := c.StartUserAuthorization(EU)
	uc, err := c.FinishUserAuthorization(ctx, st, url.Values{"state": {st.State}, "code": {"good"}})
	require.NoError(t, err)

	p, err := c.ProfileInfo(ctx, uc)
	require.NoError(t, err)
	assert.Equal(t, &Profile{ID: 42, BattleTag: "Tester#1234"}, p)

	chars, err := c.WowCharacters(ctx, uc)
	require.NoError(t, err)
	require.Len(t, chars, 2)
	assert.Equal(t, WowCharacter{ID: 1, Name: "Alpha", RealmSlug: "blackhand"}, chars[0])
	assert.Nil(t, chars[1].GuildRank)
}

func TestGuildMembersRetries(t *testing.T) {
	c, fake := newTestClients(t)

	members, err := c.GuildMembers(context.Background(), EU, "Die Aldor", "The Guild")
	require.NoError(t, err)
	assert.EqualValues(t, 2, fake.rosterCalls.Load())
	assert.EqualValues(t, 2, fake.requests.Load())

	require.Len(t, members, 2)
	assert.Equal(t, "Raider", members[1].Name)
	require.NotNil(t, members[1].GuildRank)
	assert.Equal(t, 4, *members[1].GuildRank)
}

func TestGuildMembersNotFoundIsNotRetried(t *testing.T) {
	c, fake := newTestClients(t)

	_, err := c.GuildMembers(context.Background(), EU, "die-aldor", "missing")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode())
	assert.EqualValues(t, 1, fake.missingCalls.Load())
}

func TestNewUsesAdaptiveLimiter(t *testing.T) {
	c := New(Options{ClientID: "id", ClientSecret: "secret", OAuthURL: "https://oauth.example.org/"})
	require.NotNil(t, c.limiter)
	assert.Equal(t, 50.0, c.limiter.CurrentLimit())
	assert.Equal(t, 1, c.opts.NumRetries)
	assert.Equal(t, "https://oauth.example.org", c.opts.OAuthURL)
}
