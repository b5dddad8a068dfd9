package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/Togather-Foundation/appkit/internal/api/problem"
	"github.com/Togather-Foundation/appkit/internal/audit"
	"github.com/Togather-Foundation/appkit/internal/auth"
	"github.com/Togather-Foundation/appkit/internal/auth/oauth"
	"github.com/Togather-Foundation/appkit/internal/storage"
)

// OAuthProvider is the part of oauth.Client the handler drives.
type OAuthProvider interface {
	AuthURL(state, challenge string) string
	Exchange(ctx context.Context, code, verifier string) (*oauth.Token, error)
	FetchUser(ctx context.Context, token *oauth.Token) (*oauth.UserInfo, error)
	Issuer() string
}

// OAuthHandler runs the authorization-code flow with PKCE. Flow state lives
// in an encrypted cookie between Start and Callback.
type OAuthHandler struct {
	Provider OAuthProvider
	Auth     *auth.Manager
	Users    storage.UserStore
	Audit    *audit.Logger
	Env      string
}

// Start handles GET /auth/oauth/start?return_to=/path.
func (h *OAuthHandler) Start(w http.ResponseWriter, r *http.Request) {
	flow, pkce, err := h.Auth.Flow().Begin(w, r.URL.Query().Get("return_to"))
	if err != nil {
		problem.Internal(w, r, err, h.Env)
		return
	}
	http.Redirect(w, r, h.Provider.AuthURL(flow.State, pkce.Challenge), http.StatusFound)
}

// Callback handles GET /auth/oauth/callback.
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if providerErr := q.Get("error"); providerErr != "" {
		problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Authorization was denied",
			fmt.Errorf("provider returned %s: %s", providerErr, q.Get("error_description")), h.Env)
		return
	}

	flow, err := h.Auth.Flow().Complete(w, r, q.Get("state"))
	if err != nil {
		problem.BadRequest(w, r, err, h.Env)
		return
	}

	token, err := h.Provider.Exchange(r.Context(), q.Get("code"), flow.Verifier)
	if err != nil {
		problem.Write(w, r, http.StatusBadGateway, problem.TypeUpstream, "Token exchange failed", err, h.Env)
		return
	}
	info, err := h.Provider.FetchUser(r.Context(), token)
	if err != nil {
		problem.Write(w, r, http.StatusBadGateway, problem.TypeUpstream, "Fetching user failed", err, h.Env)
		return
	}

	user, err := h.linkUser(r.Context(), info)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			h.Audit.Request(r, info.Username(), "auth.oauth", err, nil)
			problem.Forbidden(w, r, err, h.Env)
			return
		}
		problem.Internal(w, r, err, h.Env)
		return
	}

	if _, _, err := h.Auth.Login(r.Context(), w, auth.User{
		ID:       user.ID,
		Username: user.Username,
		Email:    user.Email,
		Role:     user.Role,
	}); err != nil {
		problem.Internal(w, r, err, h.Env)
		return
	}
	h.Audit.Request(r, user.Username, "auth.oauth", nil, nil)
	http.Redirect(w, r, flow.ReturnTo, http.StatusFound)
}

// linkUser finds the local account for a provider identity. Accounts are
// matched by the provider subject, then by an email the provider reports as
// verified; otherwise a new account is created. Provider-created accounts have
// no password.
func (h *OAuthHandler) linkUser(ctx context.Context, info *oauth.UserInfo) (*storage.User, error) {
	if info.Subject == "" {
		return nil, fmt.Errorf("provider returned no subject: %w", auth.ErrInvalidCredentials)
	}
	issuer := h.Provider.Issuer()

	user, err := h.Users.FindByIdentity(ctx, issuer, info.Subject)
	if err == nil {
		return activeUser(user)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	if email := info.VerifiedEmail(); email != "" {
		user, err := h.Users.FindByEmail(ctx, email)
		switch {
		case err == nil:
			if _, err := activeUser(user); err != nil {
				return nil, err
			}
			if err := h.Users.LinkIdentity(ctx, user.ID, issuer, info.Subject); err != nil {
				if errors.Is(err, storage.ErrConflict) {
					return nil, fmt.Errorf("account already linked to another %s identity: %w", issuer, auth.ErrInvalidCredentials)
				}
				return nil, err
			}
			return user, nil
		case !errors.Is(err, storage.ErrNotFound):
			return nil, err
		}
	}

	user, err = h.createUser(ctx, info)
	if err != nil {
		return nil, err
	}
	if err := h.Users.LinkIdentity(ctx, user.ID, issuer, info.Subject); err != nil {
		return nil, err
	}
	return user, nil
}

const usernameAttempts = 3

// createUser inserts a provider account. A taken username gets a random
// suffix instead of matching the existing account.
func (h *OAuthHandler) createUser(ctx context.Context, info *oauth.UserInfo) (*storage.User, error) {
	base := localUsername(info)
	name := base
	for attempt := 0; ; attempt++ {
		user, err := h.Users.Create(ctx, storage.User{
			Username: name,
			Email:    info.VerifiedEmail(),
			Role:     string(auth.RoleUser),
			IsActive: true,
		})
		if err == nil || !errors.Is(err, storage.ErrConflict) || attempt+1 == usernameAttempts {
			return user, err
		}
		id := ulid.Make().String()
		name = base + "-" + strings.ToLower(id[len(id)-6:])
	}
}

// localUsername derives a handle that never looks like an email, so it
// cannot shadow another account's email login.
func localUsername(info *oauth.UserInfo) string {
	if pu := strings.TrimSpace(info.PreferredUsername); pu != "" && !strings.Contains(pu, "@") {
		return pu
	}
	if local, _, ok := strings.Cut(info.VerifiedEmail(), "@"); ok && local != "" {
		return local
	}
	return "user"
}

func activeUser(user *storage.User) (*storage.User, error) {
	if !user.IsActive {
		return nil, auth.ErrInvalidCredentials
	}
	return user, nil
}
