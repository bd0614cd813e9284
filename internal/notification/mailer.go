package notification

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/mrz1836/postmark"
	"github.com/stanstork/herald/internal/config"
)

// NewMailTransport builds the transport selected by email.provider, or
// returns nil when email is not configured.
func NewMailTransport(cfg *config.Config) (MailTransport, error) {
	if !cfg.EmailEnabled() {
		return nil, nil
	}
	if cfg.Email.Provider == "postmark" {
		transport, err := NewPostmarkTransport(cfg.Email)
		if err != nil {
			return nil, err
		}
		return transport, nil
	}
	transport, err := NewSMTPTransport(cfg.Email)
	if err != nil {
		return nil, err
	}
	return transport, nil
}

// SMTPTransport sends mail through an SMTP relay.
type SMTPTransport struct {
	host     string
	port     int
	username string
	password string
	from     string
}

func NewSMTPTransport(cfg config.EmailConfig) (*SMTPTransport, error) {
	if strings.TrimSpace(cfg.SMTPHost) == "" {
		return nil, fmt.Errorf("smtp_host is required")
	}
	if cfg.SMTPPort == 0 {
		cfg.SMTPPort = 587
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, fmt.Errorf("email from address is required")
	}

	return &SMTPTransport{
		host:     strings.TrimSpace(cfg.SMTPHost),
		port:     cfg.SMTPPort,
		username: strings.TrimSpace(cfg.Username),
		password: cfg.Password,
		from:     strings.TrimSpace(cfg.From),
	}, nil
}

// Send dials with ctx so the channel timeout also bounds the SMTP session.
func (m *SMTPTransport) Send(ctx context.Context, mail Mail) error {
	message, err := buildMessage(m.from, mail)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(m.host, strconv.Itoa(m.port))
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, m.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: m.host}); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if m.username != "" {
		if err := client.Auth(smtp.PlainAuth("", m.username, m.password, m.host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.Mail(m.from); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, rcpt := range mail.To {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp rcpt %s: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(message); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp data close: %w", err)
	}
	return client.Quit()
}

// buildMessage renders plain text mail, or multipart/alternative when an
// HTML body is present.
func buildMessage(from string, mail Mail) ([]byte, error) {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\n",
		from, strings.Join(mail.To, ","), mail.Subject))

	if mail.HTML == "" {
		b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n\r\n")
		b.WriteString(mail.Text)
		return []byte(b.String()), nil
	}

	var body strings.Builder
	mw := multipart.NewWriter(&body)
	b.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mw.Boundary()))

	parts := []struct{ contentType, content string }{
		{"text/plain; charset=\"UTF-8\"", mail.Text},
		{"text/html; charset=\"UTF-8\"", mail.HTML},
	}
	for _, p := range parts {
		w, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {p.contentType}})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(p.content)); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	b.WriteString(body.String())
	return []byte(b.String()), nil
}

// PostmarkTransport sends mail through the Postmark API.
type PostmarkTransport struct {
	client *postmark.Client
	from   string
}

func NewPostmarkTransport(cfg config.EmailConfig) (*PostmarkTransport, error) {
	if strings.TrimSpace(cfg.PostmarkServerToken) == "" {
		return nil, fmt.Errorf("postmark_server_token is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, fmt.Errorf("email from address is required")
	}
	return &PostmarkTransport{
		client: postmark.NewClient(cfg.PostmarkServerToken, cfg.PostmarkAccountToken),
		from:   strings.TrimSpace(cfg.From),
	}, nil
}

func (p *PostmarkTransport) Send(ctx context.Context, mail Mail) error {
	resp, err := p.client.SendEmail(ctx, postmark.Email{
		From:       p.from,
		To:         strings.Join(mail.To, ","),
		Subject:    mail.Subject,
		Tag:        "notification",
		TextBody:   mail.Text,
		HTMLBody:   mail.HTML,
		TrackOpens: true,
	})
	if err != nil {
		return fmt.Errorf("postmark send: %w", err)
	}
	if resp.ErrorCode > 0 {
		return fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message)
	}
	return nil
}
