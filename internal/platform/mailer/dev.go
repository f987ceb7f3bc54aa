package mailer

import (
	"fmt"

	"github.com/fieldserve/fieldserve-api/pkg/logger"
)

// DevMailer prints outgoing mail to the log instead of sending it.
type DevMailer struct{}

func NewDevMailer() *DevMailer {
	return &DevMailer{}
}

func (d *DevMailer) Send(toEmail, toName, subject, text, html string) (string, error) {
	logger.Info("[DEV MAIL]", "to", toEmail, "subject", subject, "text", text)
	return "dev-mail", nil
}

func (d *DevMailer) SendLoginCode(email, code string) error {
	logger.Info("[DEV MAIL] Login code",
		"to", email,
		"code", code,
	)

	fmt.Printf("\n"+
		"=================================================\n"+
		"LOGIN CODE EMAIL (DEV MODE)\n"+
		"To: %s\n"+
		"Code: %s\n"+
		"=================================================\n\n",
		email, code)

	return nil
}

func (d *DevMailer) SendDocumentLink(email, clientName, number, link string) error {
	logger.Info("[DEV MAIL] Document link",
		"to", email,
		"number", number,
		"link", link,
	)

	fmt.Printf("\n"+
		"=================================================\n"+
		"DOCUMENT EMAIL (DEV MODE)\n"+
		"To: %s (%s)\n"+
		"Document: %s\n"+
		"Link: %s\n"+
		"=================================================\n\n",
		email, clientName, number, link)

	return nil
}

var _ Service = (*DevMailer)(nil)
