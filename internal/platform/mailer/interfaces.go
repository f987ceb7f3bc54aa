package mailer

// Service delivers the out-of-band pieces of the core flows: login
// codes for passwordless sign-in and public links for sent documents.
// Delivery failures are logged by callers, never fatal.
type Service interface {
	Send(toEmail, toName, subject, text, html string) (string, error)
	SendLoginCode(email, code string) error
	SendDocumentLink(email, clientName, number, link string) error
}
