package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Togather-Foundation/appkit/internal/auth"
	"github.com/Togather-Foundation/appkit/internal/auth/oauth"
)

type fakeProvider struct {
	info        *oauth.UserInfo
	exchangeErr error
	verifier    string
	code        string
}

func (f *fakeProvider) AuthURL(state, challenge string) string {
	return "https://idp.example/authorize?state=" + url.QueryEscape(state) + "&code_challenge=" + url.QueryEscape(challenge)
}

func (f *fakeProvider) Exchange(_ context.Context, code, verifier string) (*oauth.Token, error) {
	f.code, f.verifier = code, verifier
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return &oauth.Token{AccessToken: "at-1", TokenType: "Bearer"}, nil
}

func (f *fakeProvider) FetchUser(context.Context, *oauth.Token) (*oauth.UserInfo, error) {
	return f.info, nil
}

func (f *fakeProvider) Issuer() string { return "idp.example" }

// sessionUser returns the user ID the callback signed in.
func sessionUser(t *testing.T, m *auth.Manager, rec *httptest.ResponseRecorder) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		if c.Name == m.Cookies().SessionName && c.Value != "" {
			req.AddCookie(c)
		}
	}
	claims, err := m.Authenticate(req)
	require.NoError(t, err)
	return claims.Subject
}

// startFlow runs Start and returns the state and the flow cookies.
func startFlow(t *testing.T, h *OAuthHandler, returnTo string) (string, []*http.Cookie) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Start(rec, httptest.NewRequest(http.MethodGet, oauth.StartPath+"?return_to="+url.QueryEscape(returnTo), nil))
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "idp.example", loc.Host)
	assert.NotEmpty(t, loc.Query().Get("code_challenge"))
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)
	return state, rec.Result().Cookies()
}

func callback(h *OAuthHandler, query string, cookies []*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, oauth.CallbackPath+"?"+query, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.Callback(rec, req)
	return rec
}

func TestOAuth_CreatesUserOnFirstLogin(t *testing.T) {
	users := newUsers(t)
	provider := &fakeProvider{info: &oauth.UserInfo{Subject: "42", Email: "dave@example.com", EmailVerified: true, PreferredUsername: "dave"}}
	m := newManager(t)
	h := &OAuthHandler{Provider: provider, Auth: m, Users: users, Env: "test"}

	state, cookies := startFlow(t, h, "/agents/assistant")
	rec := callback(h, "code=abc&state="+url.QueryEscape(state), cookies)

	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())
	assert.Equal(t, "/agents/assistant", rec.Header().Get("Location"))
	assert.Equal(t, "abc", provider.code)
	assert.NotEmpty(t, provider.verifier)

	created, err := users.FindByLogin(context.Background(), "dave@example.com")
	require.NoError(t, err)
	assert.Equal(t, string(auth.RoleUser), created.Role)
	assert.Empty(t, created.PasswordHash, "provider accounts cannot use password login")

	var session *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == m.Cookies().SessionName && c.Value != "" {
			session = c
		}
	}
	require.NotNil(t, session)
}

func TestOAuth_LinksExistingUserByVerifiedEmail(t *testing.T) {
	users := newUsers(t)
	m := newManager(t)
	provider := &fakeProvider{info: &oauth.UserInfo{Subject: "c-7", Email: "carol@example.com", EmailVerified: true}}
	h := &OAuthHandler{Provider: provider, Auth: m, Users: users, Env: "test"}

	state, cookies := startFlow(t, h, "")
	rec := callback(h, "code=abc&state="+url.QueryEscape(state), cookies)

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
	assert.Equal(t, "u3", sessionUser(t, m, rec))
	assert.Len(t, users.users, 3, "no new account")

	linked, err := users.FindByIdentity(context.Background(), "idp.example", "c-7")
	require.NoError(t, err)
	assert.Equal(t, "u3", linked.ID)

	// Later sign-ins resolve by subject even if the email changes upstream.
	provider.info = &oauth.UserInfo{Subject: "c-7", Email: "carol@new.example"}
	state, cookies = startFlow(t, h, "")
	rec = callback(h, "code=abc&state="+url.QueryEscape(state), cookies)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "u3", sessionUser(t, m, rec))
}

func TestOAuth_NeverLinksByUsernameOrUnverifiedEmail(t *testing.T) {
	tests := []struct {
		name string
		info *oauth.UserInfo
	}{
		{"preferred username of admin", &oauth.UserInfo{Subject: "evil-1", Email: "mallory@evil.test", PreferredUsername: "alice"}},
		{"unverified admin email", &oauth.UserInfo{Subject: "evil-2", Email: "alice@example.com", PreferredUsername: "mallory"}},
		{"username equal to admin email", &oauth.UserInfo{Subject: "evil-3", PreferredUsername: "alice@example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users := newUsers(t)
			m := newManager(t)
			h := &OAuthHandler{Provider: &fakeProvider{info: tt.info}, Auth: m, Users: users, Env: "test"}

			state, cookies := startFlow(t, h, "")
			rec := callback(h, "code=abc&state="+url.QueryEscape(state), cookies)
			require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())

			id := sessionUser(t, m, rec)
			assert.NotEqual(t, "u1", id, "must not sign in as the admin")
			require.Len(t, users.users, 4)
			created := users.users[3]
			assert.Equal(t, id, created.ID)
			assert.Equal(t, string(auth.RoleUser), created.Role)
			assert.Empty(t, created.Email, "unverified email is not stored")
			assert.NotContains(t, created.Username, "@")
			assert.NotEqual(t, "alice", created.Username)
		})
	}
}

func TestOAuth_VerifiedEmailOfLinkedAccount(t *testing.T) {
	users := newUsers(t)
	require.NoError(t, users.LinkIdentity(context.Background(), "u3", "idp.example", "c-7"))
	provider := &fakeProvider{info: &oauth.UserInfo{Subject: "c-8", Email: "carol@example.com", EmailVerified: true}}
	h := &OAuthHandler{Provider: provider, Auth: newManager(t), Users: users, Env: "test"}

	state, cookies := startFlow(t, h, "")
	rec := callback(h, "code=abc&state="+url.QueryEscape(state), cookies)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestOAuth_CallbackFailures(t *testing.T) {
	tests := []struct {
		name     string
		info     *oauth.UserInfo
		exchange error
		query    func(state string) string
		cookies  bool
		wantCode int
	}{
		{
			name:     "provider denied",
			query:    func(string) string { return "error=access_denied" },
			cookies:  true,
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "state mismatch",
			query:    func(string) string { return "code=abc&state=forged" },
			cookies:  true,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "missing flow cookie",
			query:    func(state string) string { return "code=abc&state=" + url.QueryEscape(state) },
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "exchange fails",
			exchange: errors.New("invalid_grant"),
			query:    func(state string) string { return "code=abc&state=" + url.QueryEscape(state) },
			cookies:  true,
			wantCode: http.StatusBadGateway,
		},
		{
			name:     "missing subject",
			info:     &oauth.UserInfo{Email: "zed@example.com", EmailVerified: true},
			query:    func(state string) string { return "code=abc&state=" + url.QueryEscape(state) },
			cookies:  true,
			wantCode: http.StatusForbidden,
		},
		{
			name:     "inactive account",
			info:     &oauth.UserInfo{Subject: "b-1", Email: "bob@example.com", EmailVerified: true},
			query:    func(state string) string { return "code=abc&state=" + url.QueryEscape(state) },
			cookies:  true,
			wantCode: http.StatusForbidden,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &fakeProvider{info: tt.info, exchangeErr: tt.exchange}
			h := &OAuthHandler{Provider: provider, Auth: newManager(t), Users: newUsers(t), Env: "test"}

			state, cookies := startFlow(t, h, "/")
			if !tt.cookies {
				cookies = nil
			}
			rec := callback(h, tt.query(state), cookies)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
		})
	}
}
