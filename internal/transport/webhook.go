package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultMailTimeout = 10 * time.Second

type mailRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// WebhookMailer posts rendered emails to an HTTP mail-gateway endpoint.
type WebhookMailer struct {
	client   *resty.Client
	endpoint string
}

func NewWebhookMailer(endpoint string) (*WebhookMailer, error) {
	client := resty.New()
	client.SetTimeout(defaultMailTimeout)
	client.SetRetryCount(0)

	return NewWebhookMailerWithClient(endpoint, client)
}

func NewWebhookMailerWithClient(endpoint string, client *resty.Client) (*WebhookMailer, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("mail gateway endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid mail gateway endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultMailTimeout)
	}
	client.SetRetryCount(0)

	return &WebhookMailer{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

func (m *WebhookMailer) Send(ctx context.Context, email Email) (*SendResponse, error) {
	if m == nil || m.client == nil {
		return nil, fmt.Errorf("mailer is not initialized")
	}
	if strings.TrimSpace(email.To) == "" {
		return nil, &MailError{Message: "recipient is required"}
	}
	if strings.TrimSpace(email.Subject) == "" {
		return nil, &MailError{Message: "subject is required"}
	}

	reqBody := mailRequest{
		To:      email.To,
		Subject: email.Subject,
		Body:    email.Body,
	}

	response, err := m.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		Post(m.endpoint)
	if err != nil {
		return nil, &MailError{
			Message:   "mail gateway request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &MailError{
			Message:   "mail gateway returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(string(response.Body()))

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &SendResponse{
			StatusCode: statusCode,
			Body:       responseBody,
			MessageID:  gatewayMessageID(response),
		}, nil
	}

	return nil, &MailError{
		StatusCode: statusCode,
		Message:    gatewayErrorMessage(statusCode, responseBody),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func gatewayErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("mail gateway returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

func gatewayMessageID(response *resty.Response) string {
	if response == nil {
		return ""
	}

	for _, key := range []string{"X-Message-ID", "X-Message-Id", "X-Request-ID", "X-Request-Id"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}
