// Package kms is a client for an HTTP key management service that performs
// envelope encryption on behalf of the server. Key material never leaves the
// service.
package kms

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Togather-Foundation/appkit/internal/config"
	"github.com/Togather-Foundation/appkit/internal/httpclient"
)

type Options struct {
	URL         string
	AccessToken string
	KeyID       string
	Retries     int
	Backoff     time.Duration
	MaxBackoff  time.Duration
	Timeout     time.Duration
}

func OptionsFromConfig(cfg config.KMSConfig) Options {
	return Options{
		URL:         cfg.URL,
		AccessToken: cfg.AccessToken,
		KeyID:       cfg.KeyID,
		Retries:     cfg.Retries,
		Backoff:     time.Duration(cfg.BackoffMs) * time.Millisecond,
		MaxBackoff:  time.Duration(cfg.MaxBackoffMs) * time.Millisecond,
		Timeout:     time.Duration(cfg.TimeoutSeconds) * time.Second,
	}
}

// APIError is a non-2xx answer from the KMS.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kms: %d %s", e.Status, e.Message)
}

// Ciphertext is an opaque, base64 encoded blob plus the key version that
// produced it.
type Ciphertext struct {
	KeyID      string `json:"key_id"`
	KeyVersion int    `json:"key_version,omitempty"`
	Ciphertext string `json:"ciphertext"`
}

type Client struct {
	base   *url.URL
	token  string
	keyID  string
	http   *http.Client
	logger zerolog.Logger
}

func New(opts Options, logger zerolog.Logger) (*Client, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("KMS_URL: %w", config.ErrMissingRequired)
	}
	if opts.AccessToken == "" {
		return nil, fmt.Errorf("KMS_ACCESS_TOKEN: %w", config.ErrMissingRequired)
	}
	if opts.KeyID == "" {
		return nil, fmt.Errorf("KMS_KEY_ID: %w", config.ErrMissingRequired)
	}
	base, err := url.Parse(strings.TrimRight(opts.URL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid KMS_URL %q", opts.URL)
	}
	logger = logger.With().Str("component", "kms").Logger()
	return &Client{
		base:  base,
		token: opts.AccessToken,
		keyID: opts.KeyID,
		http: httpclient.New(httpclient.Options{
			Name:       "kms",
			Retries:    opts.Retries,
			Backoff:    opts.Backoff,
			MaxBackoff: opts.MaxBackoff,
			Timeout:    opts.Timeout,
		}, logger),
		logger: logger,
	}, nil
}

func (c *Client) KeyID() string { return c.keyID }

// Encrypt seals plaintext under the configured key.
func (c *Client) Encrypt(ctx context.Context, plaintext []byte) (Ciphertext, error) {
	var out Ciphertext
	req := map[string]string{"plaintext": base64.StdEncoding.EncodeToString(plaintext)}
	if err := c.do(ctx, "encrypt", req, &out); err != nil {
		return Ciphertext{}, err
	}
	if out.Ciphertext == "" {
		return Ciphertext{}, fmt.Errorf("kms: encrypt response missing ciphertext")
	}
	if out.KeyID == "" {
		out.KeyID = c.keyID
	}
	return out, nil
}

// Decrypt opens a ciphertext produced by Encrypt.
func (c *Client) Decrypt(ctx context.Context, ciphertext string) ([]byte, error) {
	if ciphertext == "" {
		return nil, fmt.Errorf("kms: ciphertext is required")
	}
	var out struct {
		Plaintext string `json:"plaintext"`
	}
	if err := c.do(ctx, "decrypt", map[string]string{"ciphertext": ciphertext}, &out); err != nil {
		return nil, err
	}
	plaintext, err := base64.StdEncoding.DecodeString(out.Plaintext)
	if err != nil {
		return nil, fmt.Errorf("kms: decode plaintext: %w", err)
	}
	return plaintext, nil
}

// Ping checks reachability and credentials via the key metadata endpoint.
func (c *Client) Ping(ctx context.Context) error {
	u := c.base.JoinPath("v1", "keys", c.keyID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("kms: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	return nil
}

func (c *Client) do(ctx context.Context, op string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("kms: encode request: %w", err)
	}
	u := c.base.JoinPath("v1", "keys", c.keyID, op)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("kms: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("kms %s: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("kms %s: read response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &apiErr) == nil {
			if apiErr.Message != "" {
				msg = apiErr.Message
			} else if apiErr.Error != "" {
				msg = apiErr.Error
			}
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("kms %s: decode response: %w", op, err)
	}

	c.logger.Debug().Str("op", op).Str("key_id", c.keyID).Dur("duration", time.Since(start)).Msg("kms call")
	return nil
}
