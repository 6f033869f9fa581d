package domain

import (
	"fmt"
	"strings"
	"time"
)

// DeliveryStatus is the terminal outcome of one descriptor delivery.
type DeliveryStatus string

const (
	DeliverySent   DeliveryStatus = "SENT"
	DeliveryFailed DeliveryStatus = "FAILED"
)

func (s DeliveryStatus) String() string { return string(s) }

func (s DeliveryStatus) IsValid() bool {
	switch s {
	case DeliverySent, DeliveryFailed:
		return true
	}
	return false
}

// Descriptor is one renderable message produced by a batch consumer. EventIDs
// records which batch events the descriptor covers; a combinable consumer
// returns one descriptor covering every event, a per-event consumer returns
// one descriptor per event id.
type Descriptor struct {
	Subject  string
	Body     string
	EventIDs []string
}

func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Subject) == "" {
		return fmt.Errorf("%w: descriptor subject is required", ErrValidation)
	}
	if strings.TrimSpace(d.Body) == "" {
		return fmt.Errorf("%w: descriptor body is required", ErrValidation)
	}
	return nil
}

// DeliveryRecord is one append-only delivery-log entry. The idempotency token
// is derived from recipient and rendered content so a manual replay of the
// same message is detected before the transport call.
type DeliveryRecord struct {
	ID               string
	BatchID          string
	DescriptorIndex  int
	Recipient        string
	Subject          string
	IdempotencyToken string
	Status           DeliveryStatus
	Error            *string
	CreatedAt        time.Time
}
