package mailer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mailersend/mailersend-go"
)

type MailerSendMailer struct {
	client  *mailersend.Mailersend
	from    mailersend.From
	Enabled bool
}

func NewMailerSendMailer(apiKey, fromName, fromEmail string) *MailerSendMailer {
	m := &MailerSendMailer{
		Enabled: apiKey != "" && fromEmail != "",
		from: mailersend.From{
			Name:  fromName,
			Email: fromEmail,
		},
	}
	if m.Enabled {
		m.client = mailersend.NewMailersend(apiKey)
	}
	return m
}

func (m *MailerSendMailer) Send(toEmail, toName, subject, text, html string) (string, error) {
	if !m.Enabled {
		return "", errors.New("mailer disabled (missing MAILERSEND_API_KEY or SMTP_FROM)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msg := m.client.Email.NewMessage()
	msg.SetFrom(m.from)
	msg.SetRecipients([]mailersend.Recipient{{Name: toName, Email: toEmail}})
	msg.SetSubject(subject)
	if strings.TrimSpace(text) != "" {
		msg.SetText(text)
	}
	if strings.TrimSpace(html) != "" {
		msg.SetHTML(html)
	}

	res, err := m.client.Email.Send(ctx, msg)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(res.Body)
		return "", fmt.Errorf("mailersend error: status=%d body=%s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	// MailerSend uses X-Message-Id
	return res.Header.Get("X-Message-Id"), nil
}

func (m *MailerSendMailer) SendLoginCode(email, code string) error {
	subject := "Your sign-in code"
	text := fmt.Sprintf("Your sign-in code is %s. It expires in 10 minutes.", code)
	html := fmt.Sprintf(`<p>Your sign-in code is <b>%s</b></p><p>It expires in 10 minutes.</p>`, code)
	_, err := m.Send(email, "", subject, text, html)
	return err
}

func (m *MailerSendMailer) SendDocumentLink(email, clientName, number, link string) error {
	subject := fmt.Sprintf("Document %s", number)
	text := fmt.Sprintf("Hi %s, you have received document %s: %s", clientName, number, link)
	html := fmt.Sprintf(`<p>Hi %s,</p><p>You have received document <b>%s</b>.</p><p><a href="%s">%s</a></p>`,
		clientName, number, link, link)
	_, err := m.Send(email, clientName, subject, text, html)
	return err
}

var _ Service = (*MailerSendMailer)(nil)
