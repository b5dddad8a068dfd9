package email

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Togather-Foundation/appkit/internal/config"
	"github.com/Togather-Foundation/appkit/internal/metrics"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	TemplateWelcome   = "welcome.html"
	TemplateLoginLink = "login_link.html"
)

var ErrInvalidAddress = errors.New("invalid email address")

// Message is a templated email. Data keys ending in "URL" or "Link" must be
// absolute http(s) URLs.
type Message struct {
	To       string         `json:"to"`
	Subject  string         `json:"subject"`
	Template string         `json:"template"`
	Data     map[string]any `json:"data,omitempty"`
}

// rendered is what a provider actually delivers.
type rendered struct {
	From    string
	To      string
	Subject string
	HTML    string
}

type provider interface {
	name() string
	send(ctx context.Context, msg rendered) (string, error)
}

// Service renders templates and hands them to the configured provider.
type Service struct {
	from      string
	provider  provider
	templates *template.Template
	limiter   *rate.Limiter
	logger    zerolog.Logger
}

// NewService picks the provider from cfg. A disabled service always uses the
// log provider so callers never need to branch on EMAIL_ENABLED.
func NewService(cfg config.EmailConfig, logger zerolog.Logger) (*Service, error) {
	logger = logger.With().Str("component", "email").Logger()

	templates, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse email templates: %w", err)
	}

	var p provider
	name := cfg.Provider
	if !cfg.Enabled {
		name = "log"
	}
	switch name {
	case "resend":
		if cfg.ResendAPIKey == "" {
			return nil, fmt.Errorf("RESEND_API_KEY: %w", config.ErrMissingRequired)
		}
		p = newResendProvider(cfg.ResendAPIKey, nil, logger)
	case "smtp":
		if cfg.SMTPHost == "" {
			return nil, fmt.Errorf("SMTP_HOST: %w", config.ErrMissingRequired)
		}
		p = &smtpProvider{host: cfg.SMTPHost, port: cfg.SMTPPort, user: cfg.SMTPUser, password: cfg.SMTPPassword}
	case "log", "":
		p = NewLogProvider(logger)
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Provider)
	}

	if cfg.Enabled {
		if err := validateEmailAddress(cfg.From); err != nil {
			return nil, fmt.Errorf("invalid sender email in config: %w", err)
		}
	}

	perSecond := cfg.RatePerSecond
	if perSecond <= 0 {
		perSecond = 2
	}

	return &Service{
		from:      cfg.From,
		provider:  p,
		templates: templates,
		limiter:   rate.NewLimiter(rate.Limit(perSecond), 1),
		logger:    logger,
	}, nil
}

func (s *Service) Provider() string { return s.provider.name() }

// Send validates, renders and delivers msg. It blocks while the outbound
// rate limit is exhausted.
func (s *Service) Send(ctx context.Context, msg Message) (string, error) {
	if err := validateEmailAddress(msg.To); err != nil {
		return "", fmt.Errorf("invalid recipient email: %w", err)
	}
	if strings.ContainsAny(msg.Subject, "\r\n") {
		return "", errors.New("subject contains newline characters")
	}
	for key, v := range msg.Data {
		link, ok := v.(string)
		if !ok || !(strings.HasSuffix(key, "URL") || strings.HasSuffix(key, "Link")) {
			continue
		}
		if err := validateLinkURL(link); err != nil {
			return "", fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	html, err := s.render(msg)
	if err != nil {
		return "", err
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("email rate limiter: %w", err)
	}

	id, err := s.provider.send(ctx, rendered{From: s.from, To: msg.To, Subject: msg.Subject, HTML: html})
	if err != nil {
		metrics.EmailsSent.WithLabelValues(s.provider.name(), "error").Inc()
		return "", err
	}
	metrics.EmailsSent.WithLabelValues(s.provider.name(), "success").Inc()
	s.logger.Info().
		Str("provider", s.provider.name()).
		Str("template", msg.Template).
		Str("email_id", id).
		Msg("email sent")
	return id, nil
}

func (s *Service) render(msg Message) (string, error) {
	name := msg.Template
	if name == "" {
		return "", errors.New("email template is required")
	}
	if s.templates.Lookup(name) == nil {
		return "", fmt.Errorf("unknown email template %q", name)
	}
	data := map[string]any{"Subject": msg.Subject, "CurrentYear": time.Now().Year()}
	for k, v := range msg.Data {
		data[k] = v
	}
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	return buf.String(), nil
}

// validateEmailAddress rejects malformed addresses and header injection.
func validateEmailAddress(email string) error {
	if strings.ContainsAny(email, "\r\n") {
		return fmt.Errorf("%w: contains newline characters", ErrInvalidAddress)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return nil
}

// validateLinkURL only allows absolute http(s) URLs in templated links.
func validateLinkURL(link string) error {
	u, err := url.Parse(link)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme: %s (must be http or https)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
