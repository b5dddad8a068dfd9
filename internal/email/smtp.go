package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
)

type smtpProvider struct {
	host     string
	port     int
	user     string
	password string
}

func (p *smtpProvider) name() string { return "smtp" }

// send speaks STARTTLS on the submission port. Certificates are always
// verified and TLS 1.2 is the floor.
func (p *smtpProvider) send(ctx context.Context, msg rendered) (string, error) {
	id := ulid.Make().String()

	var body bytes.Buffer
	headers := [][2]string{
		{"From", msg.From},
		{"To", msg.To},
		{"Subject", msg.Subject},
		{"Message-ID", fmt.Sprintf("<%s@%s>", id, p.host)},
		{"Date", time.Now().UTC().Format(time.RFC1123Z)},
		{"MIME-Version", "1.0"},
		{"Content-Type", "text/html; charset=UTF-8"},
	}
	for _, h := range headers {
		fmt.Fprintf(&body, "%s: %s\r\n", h[0], h[1])
	}
	body.WriteString("\r\n")
	body.WriteString(msg.HTML)

	addr := net.JoinHostPort(p.host, strconv.Itoa(p.port))
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, p.host)
	if err != nil {
		_ = conn.Close()
		return "", fmt.Errorf("failed to start SMTP session: %w", err)
	}
	defer func() { _ = client.Close() }()

	tlsConfig := &tls.Config{
		ServerName: p.host,
		MinVersion: tls.VersionTLS12,
	}
	if err := client.StartTLS(tlsConfig); err != nil {
		return "", fmt.Errorf("failed to start TLS: %w", err)
	}
	if p.user != "" {
		if err := client.Auth(smtp.PlainAuth("", p.user, p.password, p.host)); err != nil {
			return "", fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}
	if err := client.Mail(msg.From); err != nil {
		return "", fmt.Errorf("failed to set sender: %w", err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return "", fmt.Errorf("failed to set recipient: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return "", fmt.Errorf("failed to open data writer: %w", err)
	}
	if _, err := w.Write(body.Bytes()); err != nil {
		return "", fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close data writer: %w", err)
	}
	if err := client.Quit(); err != nil {
		return "", fmt.Errorf("failed to quit SMTP session: %w", err)
	}
	return id, nil
}
