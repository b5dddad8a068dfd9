package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/Togather-Foundation/appkit/internal/api/middleware"
	"github.com/Togather-Foundation/appkit/internal/api/problem"
	"github.com/Togather-Foundation/appkit/internal/api/render"
	"github.com/Togather-Foundation/appkit/internal/audit"
	"github.com/Togather-Foundation/appkit/internal/auth"
	"github.com/Togather-Foundation/appkit/internal/storage"
)

// AuthHandler serves password login, logout and the current identity.
type AuthHandler struct {
	Users storage.UserStore
	Auth  *auth.Manager
	Audit *audit.Logger
	Env   string
}

type loginRequest struct {
	Login    string `json:"login" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token     string   `json:"token"`
	ExpiresAt string   `json:"expires_at"`
	User      userInfo `json:"user"`
}

type userInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role"`
}

// Authenticate checks a username-or-email and password pair. Unknown users,
// inactive users, accounts without a password and wrong passwords all map to
// auth.ErrInvalidCredentials.
func Authenticate(r *http.Request, users storage.UserStore, login, password string) (*storage.User, error) {
	user, err := users.FindByLogin(r.Context(), login)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, auth.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive || user.PasswordHash == "" {
		return nil, auth.ErrInvalidCredentials
	}
	if err := auth.CheckPassword(user.PasswordHash, password); err != nil {
		return nil, auth.ErrInvalidCredentials
	}
	return user, nil
}

// Login handles POST /api/v1/auth/login. The token is returned for API
// clients and also set as the session cookie for browsers.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := render.DecodeJSON(r, &req); err != nil {
		badRequest(w, r, err, h.Env)
		return
	}

	user, err := Authenticate(r, h.Users, req.Login, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		h.Audit.Request(r, req.Login, "auth.login", err, nil)
		problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Invalid credentials", err, h.Env)
		return
	}
	if err != nil {
		problem.Internal(w, r, err, h.Env)
		return
	}

	token, sess, err := h.Auth.Login(r.Context(), w, auth.User{
		ID:       user.ID,
		Username: user.Username,
		Email:    user.Email,
		Role:     user.Role,
	})
	if err != nil {
		problem.Internal(w, r, err, h.Env)
		return
	}
	h.Audit.Request(r, user.Username, "auth.login", nil, nil)

	render.JSON(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: sess.ExpiresAt.UTC().Format(time.RFC3339),
		User: userInfo{
			ID:       user.ID,
			Username: user.Username,
			Email:    user.Email,
			Role:     sess.Role,
		},
	})
}

// Logout handles POST /api/v1/auth/logout.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.Auth.Logout(r.Context(), w, r); err != nil && !errors.Is(err, auth.ErrMissingToken) {
		problem.Internal(w, r, err, h.Env)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /api/v1/auth/me.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := middleware.Claims(r)
	if claims == nil {
		problem.Unauthorized(w, r, auth.ErrMissingToken, h.Env)
		return
	}
	body := map[string]any{
		"id":         claims.Subject,
		"username":   claims.Username,
		"role":       claims.Role,
		"session_id": claims.SessionID,
	}
	if claims.ExpiresAt != nil {
		body["expires_at"] = claims.ExpiresAt.Time.UTC().Format(time.RFC3339)
	}
	render.JSON(w, http.StatusOK, body)
}

// badRequest maps decode failures to 400 and field failures to 422.
func badRequest(w http.ResponseWriter, r *http.Request, err error, env string) {
	var fields render.FieldErrors
	if errors.As(err, &fields) {
		problem.Write(w, r, http.StatusUnprocessableEntity, problem.TypeValidation, "Validation failed", err, env,
			problem.WithErrors(map[string]any(fields)))
		return
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		problem.Write(w, r, http.StatusRequestEntityTooLarge, problem.TypeTooLarge, "Request body too large", err, env)
		return
	}
	problem.BadRequest(w, r, err, env)
}
