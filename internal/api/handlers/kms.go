package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/Togather-Foundation/appkit/internal/api/middleware"
	"github.com/Togather-Foundation/appkit/internal/api/problem"
	"github.com/Togather-Foundation/appkit/internal/api/render"
	"github.com/Togather-Foundation/appkit/internal/audit"
	"github.com/Togather-Foundation/appkit/internal/kms"
)

// Cipher is the part of kms.Client the routes use.
type Cipher interface {
	Encrypt(ctx context.Context, plaintext []byte) (kms.Ciphertext, error)
	Decrypt(ctx context.Context, ciphertext string) ([]byte, error)
}

type KMSHandler struct {
	KMS   Cipher
	Audit *audit.Logger
	Env   string
}

type encryptRequest struct {
	// Plaintext is base64 so arbitrary bytes survive JSON.
	Plaintext string `json:"plaintext" validate:"required,base64"`
}

type decryptRequest struct {
	Ciphertext string `json:"ciphertext" validate:"required"`
}

// Encrypt handles POST /api/v1/kms/encrypt.
func (h *KMSHandler) Encrypt(w http.ResponseWriter, r *http.Request) {
	var req encryptRequest
	if err := render.DecodeJSON(r, &req); err != nil {
		badRequest(w, r, err, h.Env)
		return
	}
	plaintext, err := base64.StdEncoding.DecodeString(req.Plaintext)
	if err != nil {
		problem.BadRequest(w, r, err, h.Env)
		return
	}
	out, err := h.KMS.Encrypt(r.Context(), plaintext)
	h.Audit.Request(r, actor(r), "kms.encrypt", err, nil)
	if err != nil {
		kmsError(w, r, err, h.Env)
		return
	}
	render.JSON(w, http.StatusOK, out)
}

// Decrypt handles POST /api/v1/kms/decrypt.
func (h *KMSHandler) Decrypt(w http.ResponseWriter, r *http.Request) {
	var req decryptRequest
	if err := render.DecodeJSON(r, &req); err != nil {
		badRequest(w, r, err, h.Env)
		return
	}
	plaintext, err := h.KMS.Decrypt(r.Context(), req.Ciphertext)
	h.Audit.Request(r, actor(r), "kms.decrypt", err, nil)
	if err != nil {
		kmsError(w, r, err, h.Env)
		return
	}
	render.JSON(w, http.StatusOK, map[string]string{"plaintext": base64.StdEncoding.EncodeToString(plaintext)})
}

// kmsError passes client errors from the KMS through as 400 and everything
// else as 502.
func kmsError(w http.ResponseWriter, r *http.Request, err error, env string) {
	var apiErr *kms.APIError
	if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != http.StatusTooManyRequests {
		problem.BadRequest(w, r, err, env)
		return
	}
	upstreamError(w, r, err, env)
}

// actor names the signed-in user for audit entries.
func actor(r *http.Request) string {
	if claims := middleware.Claims(r); claims != nil {
		return claims.Username
	}
	return ""
}
