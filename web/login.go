package web

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/Togather-Foundation/appkit/internal/api/handlers"
	"github.com/Togather-Foundation/appkit/internal/api/problem"
	"github.com/Togather-Foundation/appkit/internal/audit"
	"github.com/Togather-Foundation/appkit/internal/auth"
	"github.com/Togather-Foundation/appkit/internal/auth/oauth"
	"github.com/Togather-Foundation/appkit/internal/storage"
)

type loginPages struct {
	Users storage.UserStore
	Auth  *auth.Manager
	OAuth bool
	Audit *audit.Logger
	Env   string
}

type loginData struct {
	ReturnTo string
	Failed   bool
	OAuthURL string
}

func (p *loginPages) load(r *http.Request) (any, error) {
	q := r.URL.Query()
	returnTo := auth.SafeReturnTo(q.Get("return_to"))
	data := loginData{ReturnTo: returnTo, Failed: q.Get("error") != ""}
	if p.OAuth {
		data.OAuthURL = oauth.StartPath + "?return_to=" + url.QueryEscape(returnTo)
	}
	return data, nil
}

// submit handles the login form. Failures go back to the form so the status
// line never reveals which part was wrong.
func (p *loginPages) submit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		problem.BadRequest(w, r, err, p.Env)
		return
	}
	returnTo := auth.SafeReturnTo(r.PostForm.Get("return_to"))

	user, err := handlers.Authenticate(r, p.Users, r.PostForm.Get("login"), r.PostForm.Get("password"))
	if errors.Is(err, auth.ErrInvalidCredentials) {
		p.Audit.Request(r, r.PostForm.Get("login"), "auth.login", err, nil)
		target := LoginPath + "?error=1&return_to=" + url.QueryEscape(returnTo)
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}
	if err != nil {
		problem.Internal(w, r, err, p.Env)
		return
	}

	if _, _, err := p.Auth.Login(r.Context(), w, auth.User{
		ID:       user.ID,
		Username: user.Username,
		Email:    user.Email,
		Role:     user.Role,
	}); err != nil {
		problem.Internal(w, r, err, p.Env)
		return
	}
	p.Audit.Request(r, user.Username, "auth.login", nil, nil)
	http.Redirect(w, r, returnTo, http.StatusSeeOther)
}

func (p *loginPages) logout(w http.ResponseWriter, r *http.Request) {
	if err := p.Auth.Logout(r.Context(), w, r); err != nil && !errors.Is(err, auth.ErrMissingToken) {
		problem.Internal(w, r, err, p.Env)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
