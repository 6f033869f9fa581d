package transport

import "context"

// Mailer is the outbound email delivery port.
type Mailer interface {
	Send(ctx context.Context, email Email) (*SendResponse, error)
}

// Email is one fully rendered message ready for the wire.
type Email struct {
	To      string
	Subject string
	Body    string
}

// SendResponse stores transport call metadata for audit and persistence.
type SendResponse struct {
	StatusCode int
	Body       string
	MessageID  string
}
