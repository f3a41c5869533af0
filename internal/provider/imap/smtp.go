package imap

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/brandon/inboxengine/internal/provider"
	"github.com/brandon/inboxengine/pkg/types"
)

// smtpSession opens an authenticated SMTP session: implicit TLS on port
// 465, STARTTLS otherwise. The caller must Quit or Close the client.
func smtpSession(acct *types.Account) (*smtp.Client, error) {
	addr := fmt.Sprintf("%s:%d", acct.SMTP.Host, acct.SMTP.Port)
	tlsConfig := &tls.Config{ServerName: acct.SMTP.Host}

	var c *smtp.Client
	if acct.SMTP.Port == 465 {
		conn, err := tls.Dial("tcp", addr, tlsConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to SMTP server: %w", err)
		}
		c, err = smtp.NewClient(conn, acct.SMTP.Host)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create SMTP client: %w", err)
		}
	} else {
		var err error
		c, err = smtp.Dial(addr)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to SMTP server: %w", err)
		}
		if err := c.StartTLS(tlsConfig); err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	if acct.SMTP.Pass != "" {
		auth := smtp.PlainAuth("", acct.SMTP.User, acct.SMTP.Pass, acct.SMTP.Host)
		if err := c.Auth(auth); err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to authenticate: %w", err)
		}
	}

	return c, nil
}

// verifySMTP probes the SMTP half of the account's credentials.
func (a *Adapter) verifySMTP(acct *types.Account) error {
	c, err := smtpSession(acct)
	if err != nil {
		return provider.Errorf(provider.KindConfig, "imap.Verify", err)
	}
	if err := c.Quit(); err != nil {
		return provider.Errorf(provider.KindTransient, "imap.Verify",
			fmt.Errorf("failed to close SMTP session: %w", err))
	}
	return nil
}

// Send submits a message over SMTP.
func (a *Adapter) Send(ctx context.Context, acct *types.Account, msg *types.OutgoingMessage) error {
	body, err := buildMIME(acct, msg)
	if err != nil {
		return provider.Errorf(provider.KindConfig, "imap.Send", err)
	}

	c, err := smtpSession(acct)
	if err != nil {
		return provider.Errorf(provider.KindTransient, "imap.Send", err)
	}
	defer c.Close()

	if err := c.Mail(acct.SMTP.User); err != nil {
		return provider.Errorf(provider.KindTransient, "imap.Send",
			fmt.Errorf("failed to set sender: %w", err))
	}

	recipients := append(append(append([]string{}, msg.To...), msg.Cc...), msg.Bcc...)
	for _, to := range recipients {
		if err := c.Rcpt(to); err != nil {
			return provider.Errorf(provider.KindTransient, "imap.Send",
				fmt.Errorf("failed to set recipient %s: %w", to, err))
		}
	}

	w, err := c.Data()
	if err != nil {
		return provider.Errorf(provider.KindTransient, "imap.Send",
			fmt.Errorf("failed to send data command: %w", err))
	}
	if _, err := w.Write(body); err != nil {
		return provider.Errorf(provider.KindTransient, "imap.Send",
			fmt.Errorf("failed to write message: %w", err))
	}
	if err := w.Close(); err != nil {
		return provider.Errorf(provider.KindTransient, "imap.Send",
			fmt.Errorf("failed to close data writer: %w", err))
	}

	return c.Quit()
}

// buildMIME assembles a simple single-part MIME message.
func buildMIME(acct *types.Account, msg *types.OutgoingMessage) ([]byte, error) {
	if len(msg.To) == 0 {
		return nil, fmt.Errorf("message has no recipients")
	}

	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("From: %s\r\n", acct.SMTP.User))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(msg.To, ", ")))
	if len(msg.Cc) > 0 {
		buf.WriteString(fmt.Sprintf("Cc: %s\r\n", strings.Join(msg.Cc, ", ")))
	}
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", msg.Subject))

	if msg.BodyHTML != "" {
		buf.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
		buf.WriteString(msg.BodyHTML)
	} else {
		buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
		buf.WriteString(msg.BodyText)
	}

	return buf.Bytes(), nil
}
