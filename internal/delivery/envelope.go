package delivery

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/forumnotify/debounce-engine/internal/domain"
	"github.com/forumnotify/debounce-engine/internal/transport"
)

// Recipient is the resolved delivery target of a batch.
type Recipient struct {
	UserID string
	Email  string
}

// RecipientResolver maps a batch's grouping fields to a concrete recipient.
// Implemented against the forum's user store.
type RecipientResolver interface {
	Resolve(ctx context.Context, grouping map[string]string) (Recipient, error)
}

// UnsubscribeLinker produces the unsubscribe-all link embedded in every
// envelope footer.
type UnsubscribeLinker interface {
	Link(userID string) (string, error)
}

// HMACUnsubscribeLinker signs the user id so the unsubscribe endpoint can
// verify the link was minted by us.
type HMACUnsubscribeLinker struct {
	baseURL string
	secret  []byte
}

func NewHMACUnsubscribeLinker(baseURL string, secret string) (*HMACUnsubscribeLinker, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: unsubscribe base url is required", domain.ErrValidation)
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("%w: invalid unsubscribe base url: %v", domain.ErrValidation, err)
	}
	if secret == "" {
		return nil, fmt.Errorf("%w: unsubscribe secret is required", domain.ErrValidation)
	}

	return &HMACUnsubscribeLinker{baseURL: strings.TrimRight(trimmed, "/"), secret: []byte(secret)}, nil
}

func (l *HMACUnsubscribeLinker) Link(userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}

	mac := hmac.New(sha256.New, l.secret)
	mac.Write([]byte(userID))
	token := hex.EncodeToString(mac.Sum(nil))

	return fmt.Sprintf("%s/unsubscribe-all?user=%s&token=%s", l.baseURL, url.QueryEscape(userID), token), nil
}

// Envelope wraps consumer-rendered descriptors with the common presentation
// every outgoing email shares: the footer with the unsubscribe affordance.
type Envelope struct {
	siteName    string
	unsubscribe UnsubscribeLinker
}

func NewEnvelope(siteName string, unsubscribe UnsubscribeLinker) (*Envelope, error) {
	if strings.TrimSpace(siteName) == "" {
		return nil, fmt.Errorf("%w: site name is required", domain.ErrValidation)
	}
	if unsubscribe == nil {
		return nil, fmt.Errorf("%w: unsubscribe linker is required", domain.ErrValidation)
	}
	return &Envelope{siteName: strings.TrimSpace(siteName), unsubscribe: unsubscribe}, nil
}

// Wrap turns one descriptor into a sendable email for recipient.
func (e *Envelope) Wrap(recipient Recipient, descriptor domain.Descriptor) (transport.Email, error) {
	if err := descriptor.Validate(); err != nil {
		return transport.Email{}, err
	}
	if strings.TrimSpace(recipient.Email) == "" {
		return transport.Email{}, fmt.Errorf("%w: recipient email is required", domain.ErrValidation)
	}

	link, err := e.unsubscribe.Link(recipient.UserID)
	if err != nil {
		return transport.Email{}, fmt.Errorf("failed to build unsubscribe link: %w", err)
	}

	var body strings.Builder
	body.WriteString(descriptor.Body)
	body.WriteString("\n\n--\n")
	body.WriteString(fmt.Sprintf("You are receiving this email because of your %s notification settings.\n", e.siteName))
	body.WriteString(fmt.Sprintf("Unsubscribe from all emails: %s\n", link))

	return transport.Email{
		To:      recipient.Email,
		Subject: descriptor.Subject,
		Body:    body.String(),
	}, nil
}
