package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/Togather-Foundation/appkit/internal/api/problem"
	"github.com/Togather-Foundation/appkit/internal/api/render"
	"github.com/Togather-Foundation/appkit/internal/audit"
	"github.com/Togather-Foundation/appkit/internal/email"
	"github.com/Togather-Foundation/appkit/internal/jobs"
)

// MailHandler lets an admin check mail delivery end to end.
type MailHandler struct {
	Enqueuer jobs.Enqueuer
	BaseURL  string
	Audit    *audit.Logger
	Env      string
}

type testMailRequest struct {
	To string `json:"to" validate:"required,email"`
}

// SendTest handles POST /api/v1/mail/test. Delivery goes through the job
// queue when it runs, so 202 only means the message was accepted.
func (h *MailHandler) SendTest(w http.ResponseWriter, r *http.Request) {
	var req testMailRequest
	if err := render.DecodeJSON(r, &req); err != nil {
		badRequest(w, r, err, h.Env)
		return
	}

	msg := email.Message{
		To:       req.To,
		Subject:  "appkit mail check",
		Template: email.TemplateWelcome,
		Data:     map[string]any{"LoginURL": strings.TrimRight(h.BaseURL, "/") + "/login"},
	}
	err := h.Enqueuer.EnqueueEmail(r.Context(), msg)
	h.Audit.Request(r, actor(r), "mail.test", err, map[string]string{"to": req.To})
	if err != nil {
		if errors.Is(err, email.ErrInvalidAddress) {
			problem.BadRequest(w, r, err, h.Env)
			return
		}
		problem.Write(w, r, http.StatusBadGateway, problem.TypeUpstream, "Mail could not be queued", err, h.Env)
		return
	}
	render.JSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "to": req.To})
}
