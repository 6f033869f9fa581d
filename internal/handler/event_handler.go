package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/forumnotify/debounce-engine/internal/domain"
)

// EventRegistrar accepts discrete events into pending batches.
type EventRegistrar interface {
	Register(ctx context.Context, streamName string, grouping map[string]string, eventID string) error
}

// StreamDirectory lists the stream names configured at startup.
type StreamDirectory interface {
	Names() []string
}

type EventHandler struct {
	registrar EventRegistrar
	streams   StreamDirectory
}

func NewEventHandler(registrar EventRegistrar, streams StreamDirectory) (*EventHandler, error) {
	if registrar == nil {
		return nil, fmt.Errorf("event registrar is required")
	}
	if streams == nil {
		return nil, fmt.Errorf("stream directory is required")
	}
	return &EventHandler{registrar: registrar, streams: streams}, nil
}

func RegisterEventRoutes(router fiber.Router, registrar EventRegistrar, streams StreamDirectory) error {
	h, err := NewEventHandler(registrar, streams)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/events", h.RegisterEvent)
	v1.Get("/streams", h.ListStreams)

	return nil
}

type registerEventRequest struct {
	StreamName string            `json:"streamName"`
	Grouping   map[string]string `json:"grouping"`
	EventID    string            `json:"eventId"`
}

type registerEventResponse struct {
	StreamName string `json:"streamName"`
	EventID    string `json:"eventId"`
	Status     string `json:"status"`
}

func (h *EventHandler) RegisterEvent(c *fiber.Ctx) error {
	var req registerEventRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	streamName := strings.TrimSpace(req.StreamName)
	eventID := strings.TrimSpace(req.EventID)

	if err := h.registrar.Register(c.Context(), streamName, req.Grouping, eventID); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(registerEventResponse{
		StreamName: streamName,
		EventID:    eventID,
		Status:     "registered",
	})
}

func (h *EventHandler) ListStreams(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"streams": h.streams.Names(),
	})
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnknownStream):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
