package dispatch

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net/smtp"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/time/rate"

	"relayd/internal/relay"
	logx "relayd/pkg/logx"
)

// MailConfig configures the SMTP backend.
type MailConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	RatePerSec int
}

// MailBackend delivers payloads over SMTP with STARTTLS and plain auth.
type MailBackend struct {
	cfg     MailConfig
	limiter *rate.Limiter
	log     logx.Logger
}

func NewMail(cfg MailConfig, log logx.Logger) *MailBackend {
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &MailBackend{cfg: cfg, limiter: newLimiter(cfg.RatePerSec), log: log}
}

func (m *MailBackend) Kind() relay.BackendKind { return relay.BackendMail }

func (m *MailBackend) Send(ctx context.Context, p relay.Payload) error {
	if len(p.Recipients) == 0 {
		return transportErr(relay.BackendMail, "no recipients", nil)
	}
	if err := waitLimiter(ctx, m.limiter); err != nil {
		return transportErr(relay.BackendMail, "rate limit wait aborted", err)
	}

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	c, err := smtp.Dial(addr)
	if err != nil {
		return transportErr(relay.BackendMail, "", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: m.cfg.Host}); err != nil {
			return transportErr(relay.BackendMail, "starttls failed", err)
		}
	}
	if ok, _ := c.Extension("AUTH"); ok {
		auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
		if err := c.Auth(auth); err != nil {
			return transportErr(relay.BackendMail, "auth failed", err)
		}
	}

	if err := c.Mail(m.cfg.From); err != nil {
		return transportErr(relay.BackendMail, "sender rejected", err)
	}
	for _, rcpt := range p.Recipients {
		if err := c.Rcpt(rcpt); err != nil {
			return transportErr(relay.BackendMail, "recipient rejected: "+rcpt, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return transportErr(relay.BackendMail, "", err)
	}
	if err := writeMailMessage(w, m.cfg.From, p); err != nil {
		_ = w.Close()
		return transportErr(relay.BackendMail, "message write failed", err)
	}
	if err := w.Close(); err != nil {
		return transportErr(relay.BackendMail, "", err)
	}
	if err := c.Quit(); err != nil {
		return transportErr(relay.BackendMail, "", err)
	}

	m.log.Debug("mail sent",
		logx.Int("recipients", len(p.Recipients)),
		logx.String("subject", p.Subject))
	return nil
}

const mailBoundary = "relayd-mime-boundary"

// writeMailMessage writes RFC 822 headers and body. Attachments are
// base64-streamed from the spool file, never buffered whole.
func writeMailMessage(w io.Writer, from string, p relay.Payload) error {
	var hdr strings.Builder
	hdr.WriteString("From: " + from + "\r\n")
	hdr.WriteString("To: " + strings.Join(p.Recipients, ", ") + "\r\n")
	hdr.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", p.Subject) + "\r\n")
	hdr.WriteString("MIME-Version: 1.0\r\n")

	if p.Attachment == nil {
		hdr.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
		if _, err := io.WriteString(w, hdr.String()); err != nil {
			return err
		}
		_, err := io.WriteString(w, p.Body+"\r\n")
		return err
	}

	hdr.WriteString("Content-Type: multipart/mixed; boundary=" + mailBoundary + "\r\n\r\n")
	hdr.WriteString("--" + mailBoundary + "\r\n")
	hdr.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	hdr.WriteString(p.Body + "\r\n")
	hdr.WriteString("--" + mailBoundary + "\r\n")
	hdr.WriteString("Content-Type: application/octet-stream\r\n")
	hdr.WriteString("Content-Transfer-Encoding: base64\r\n")
	hdr.WriteString(fmt.Sprintf("Content-Disposition: attachment; filename=%q\r\n\r\n",
		filepath.Base(p.Attachment.Name)))
	if _, err := io.WriteString(w, hdr.String()); err != nil {
		return err
	}

	f, err := os.Open(p.Attachment.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := base64.NewEncoder(base64.StdEncoding, w)
	if _, err := io.Copy(enc, f); err != nil {
		_ = enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	_, err = io.WriteString(w, "\r\n--"+mailBoundary+"--\r\n")
	return err
}
