package handler

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/forumnotify/debounce-engine/internal/delivery"
	"github.com/forumnotify/debounce-engine/internal/domain"
	"github.com/forumnotify/debounce-engine/internal/service"
)

const adminTokenHeader = "X-Admin-Token"

// BatchFlusher force-flushes the open batch of one debounce key.
type BatchFlusher interface {
	ForceFlush(ctx context.Context, streamName string, grouping map[string]string) error
}

// EmailPreviewer renders would-be emails without sending anything.
type EmailPreviewer interface {
	Preview(ctx context.Context, viewer delivery.Recipient, query service.PreviewQuery) ([]service.RenderedPreview, error)
}

// DeliveryAuditor reads the append-only delivery log for one batch.
type DeliveryAuditor interface {
	ListByBatch(ctx context.Context, batchID string) ([]domain.DeliveryRecord, error)
}

type AdminHandler struct {
	flusher    BatchFlusher
	previewer  EmailPreviewer
	deliveries DeliveryAuditor
	token      string
}

func NewAdminHandler(flusher BatchFlusher, previewer EmailPreviewer, deliveries DeliveryAuditor, token string) (*AdminHandler, error) {
	if flusher == nil {
		return nil, fmt.Errorf("batch flusher is required")
	}
	if previewer == nil {
		return nil, fmt.Errorf("email previewer is required")
	}
	if deliveries == nil {
		return nil, fmt.Errorf("delivery auditor is required")
	}
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("admin token is required")
	}
	return &AdminHandler{flusher: flusher, previewer: previewer, deliveries: deliveries, token: token}, nil
}

func RegisterAdminRoutes(router fiber.Router, flusher BatchFlusher, previewer EmailPreviewer, deliveries DeliveryAuditor, token string) error {
	h, err := NewAdminHandler(flusher, previewer, deliveries, token)
	if err != nil {
		return err
	}

	admin := router.Group("/v1/admin", h.requireToken)
	admin.Post("/flush", h.FlushBatch)
	admin.Post("/email-preview", h.EmailPreview)
	admin.Get("/batches/:batchId/deliveries", h.ListBatchDeliveries)

	return nil
}

func (h *AdminHandler) requireToken(c *fiber.Ctx) error {
	presented := c.Get(adminTokenHeader)
	if subtle.ConstantTimeCompare([]byte(presented), []byte(h.token)) != 1 {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid admin token")
	}
	return c.Next()
}

type flushBatchRequest struct {
	StreamName string            `json:"streamName"`
	Grouping   map[string]string `json:"grouping"`
}

func (h *AdminHandler) FlushBatch(c *fiber.Ctx) error {
	var req flushBatchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	streamName := strings.TrimSpace(req.StreamName)
	if err := h.flusher.ForceFlush(c.Context(), streamName, req.Grouping); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"streamName": streamName,
		"status":     "flushed",
	})
}

type emailPreviewRequest struct {
	UserID          string   `json:"userId"`
	Email           string   `json:"email"`
	NotificationIDs []string `json:"notificationIds"`
	PostID          string   `json:"postId"`
}

type emailPreviewResponse struct {
	Previews []previewItem `json:"previews"`
}

type previewItem struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (h *AdminHandler) EmailPreview(c *fiber.Ctx) error {
	var req emailPreviewRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	viewer := delivery.Recipient{
		UserID: strings.TrimSpace(req.UserID),
		Email:  strings.TrimSpace(req.Email),
	}

	previews, err := h.previewer.Preview(c.Context(), viewer, service.PreviewQuery{
		NotificationIDs: req.NotificationIDs,
		PostID:          req.PostID,
	})
	if err != nil {
		return toHTTPError(err)
	}

	items := make([]previewItem, 0, len(previews))
	for _, preview := range previews {
		items = append(items, previewItem{
			To:      preview.To,
			Subject: preview.Subject,
			Body:    preview.Body,
		})
	}

	return c.Status(fiber.StatusOK).JSON(emailPreviewResponse{Previews: items})
}

type deliveryRecordResponse struct {
	ID               string    `json:"id"`
	DescriptorIndex  int       `json:"descriptorIndex"`
	Recipient        string    `json:"recipient"`
	Subject          string    `json:"subject"`
	IdempotencyToken string    `json:"idempotencyToken"`
	Status           string    `json:"status"`
	Error            *string   `json:"error,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

func (h *AdminHandler) ListBatchDeliveries(c *fiber.Ctx) error {
	batchID := strings.TrimSpace(c.Params("batchId"))
	if batchID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "batch id is required")
	}

	records, err := h.deliveries.ListByBatch(c.Context(), batchID)
	if err != nil {
		return toHTTPError(err)
	}

	items := make([]deliveryRecordResponse, 0, len(records))
	for _, record := range records {
		items = append(items, deliveryRecordResponse{
			ID:               record.ID,
			DescriptorIndex:  record.DescriptorIndex,
			Recipient:        record.Recipient,
			Subject:          record.Subject,
			IdempotencyToken: record.IdempotencyToken,
			Status:           record.Status.String(),
			Error:            record.Error,
			CreatedAt:        record.CreatedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"batchId":    batchID,
		"deliveries": items,
	})
}
