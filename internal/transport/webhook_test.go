package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWebhookMailerSendSuccess(t *testing.T) {
	t.Parallel()

	var gotBody mailRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}

		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}

		w.Header().Set("X-Message-ID", "mail-msg-1")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	mailer, err := NewWebhookMailer(server.URL)
	if err != nil {
		t.Fatalf("NewWebhookMailer() error = %v", err)
	}

	email := Email{
		To:      "u1@example.com",
		Subject: "New replies to your comment",
		Body:    "<p>hello</p>",
	}

	resp, err := mailer.Send(context.Background(), email)
	if err != nil {
		t.Fatalf("Send() unexpected error: %v", err)
	}

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("StatusCode = %d, want %d", resp.StatusCode, http.StatusAccepted)
	}
	if resp.MessageID != "mail-msg-1" {
		t.Fatalf("MessageID = %q, want %q", resp.MessageID, "mail-msg-1")
	}

	if gotBody.To != email.To {
		t.Fatalf("request.to = %q, want %q", gotBody.To, email.To)
	}
	if gotBody.Subject != email.Subject {
		t.Fatalf("request.subject = %q, want %q", gotBody.Subject, email.Subject)
	}
	if gotBody.Body != email.Body {
		t.Fatalf("request.body = %q, want %q", gotBody.Body, email.Body)
	}
}

func TestWebhookMailerStatusClassification(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name          string
		statusCode    int
		wantTransient bool
	}{
		{name: "too many requests is transient", statusCode: http.StatusTooManyRequests, wantTransient: true},
		{name: "bad request is permanent", statusCode: http.StatusBadRequest, wantTransient: false},
		{name: "internal server error is transient", statusCode: http.StatusInternalServerError, wantTransient: true},
		{name: "bad gateway is transient", statusCode: http.StatusBadGateway, wantTransient: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.statusCode)
				_, _ = w.Write([]byte("gateway failed"))
			}))
			defer server.Close()

			mailer, err := NewWebhookMailer(server.URL)
			if err != nil {
				t.Fatalf("NewWebhookMailer() error = %v", err)
			}

			_, err = mailer.Send(context.Background(), Email{
				To:      "u1@example.com",
				Subject: "s",
				Body:    "b",
			})
			if err == nil {
				t.Fatal("Send() error = nil, want error")
			}

			var mailErr *MailError
			if !errors.As(err, &mailErr) {
				t.Fatalf("error type = %T, want *MailError", err)
			}
			if mailErr.StatusCode != tc.statusCode {
				t.Fatalf("StatusCode = %d, want %d", mailErr.StatusCode, tc.statusCode)
			}
			if IsTransient(err) != tc.wantTransient {
				t.Fatalf("IsTransient() = %t, want %t", IsTransient(err), tc.wantTransient)
			}
		})
	}
}

func TestNewWebhookMailerValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewWebhookMailer(""); err == nil {
		t.Fatal("NewWebhookMailer(\"\") error = nil, want error")
	}
	if _, err := NewWebhookMailer("not a url"); err == nil {
		t.Fatal("NewWebhookMailer(invalid) error = nil, want error")
	}
}

func TestWebhookMailerRejectsEmptyRecipient(t *testing.T) {
	t.Parallel()

	mailer, err := NewWebhookMailer("http://localhost:9")
	if err != nil {
		t.Fatalf("NewWebhookMailer() error = %v", err)
	}

	if _, err := mailer.Send(context.Background(), Email{Subject: "s", Body: "b"}); err == nil {
		t.Fatal("Send() error = nil, want error for empty recipient")
	}
}
