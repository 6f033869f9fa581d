package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/forumnotify/debounce-engine/internal/domain"
)

type stubRegistrar struct {
	registerFn func(ctx context.Context, streamName string, grouping map[string]string, eventID string) error
	calls      []registerCall
}

type registerCall struct {
	streamName string
	grouping   map[string]string
	eventID    string
}

func (s *stubRegistrar) Register(ctx context.Context, streamName string, grouping map[string]string, eventID string) error {
	s.calls = append(s.calls, registerCall{streamName: streamName, grouping: grouping, eventID: eventID})
	if s.registerFn != nil {
		return s.registerFn(ctx, streamName, grouping, eventID)
	}
	return nil
}

type stubDirectory struct {
	names []string
}

func (s *stubDirectory) Names() []string {
	return s.names
}

func newEventTestApp(t *testing.T, registrar EventRegistrar, streams StreamDirectory) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: ErrorHandler(zap.NewNop()),
	})

	if err := RegisterEventRoutes(app, registrar, streams); err != nil {
		t.Fatalf("RegisterEventRoutes() error = %v", err)
	}

	return app
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

func TestEventIntegration_RegisterEvent(t *testing.T) {
	t.Parallel()

	registrar := &stubRegistrar{}
	app := newEventTestApp(t, registrar, &stubDirectory{})

	body := `{"streamName":"replyNotification","grouping":{"user":"u1"},"eventId":"e1"}`
	resp, respBody := performRequest(t, app, http.MethodPost, "/v1/events", body, nil)
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, string(respBody))
	}

	var accepted map[string]any
	if err := json.Unmarshal(respBody, &accepted); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if accepted["status"] != "registered" {
		t.Fatalf("status = %v, want registered", accepted["status"])
	}

	if len(registrar.calls) != 1 {
		t.Fatalf("registrar calls = %d, want 1", len(registrar.calls))
	}
	call := registrar.calls[0]
	if call.streamName != "replyNotification" || call.eventID != "e1" {
		t.Fatalf("registered (%s, %s), want (replyNotification, e1)", call.streamName, call.eventID)
	}
	if call.grouping["user"] != "u1" {
		t.Fatalf("grouping = %v, want user=u1", call.grouping)
	}
}

func TestEventIntegration_RegisterEventErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		body       string
		registerFn func(ctx context.Context, streamName string, grouping map[string]string, eventID string) error
		wantStatus int
	}{
		{
			name:       "malformed body",
			body:       `{not-json`,
			wantStatus: fiber.StatusBadRequest,
		},
		{
			name: "unknown stream",
			body: `{"streamName":"nope","grouping":{"user":"u1"},"eventId":"e1"}`,
			registerFn: func(ctx context.Context, streamName string, grouping map[string]string, eventID string) error {
				return fmt.Errorf("%w: %q", domain.ErrUnknownStream, streamName)
			},
			wantStatus: fiber.StatusNotFound,
		},
		{
			name: "missing event id",
			body: `{"streamName":"replyNotification","grouping":{"user":"u1"}}`,
			registerFn: func(ctx context.Context, streamName string, grouping map[string]string, eventID string) error {
				return fmt.Errorf("%w: event id is required", domain.ErrValidation)
			},
			wantStatus: fiber.StatusBadRequest,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			app := newEventTestApp(t, &stubRegistrar{registerFn: tc.registerFn}, &stubDirectory{})
			resp, _ := performRequest(t, app, http.MethodPost, "/v1/events", tc.body, nil)
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.wantStatus)
			}
		})
	}
}

func TestEventIntegration_ListStreams(t *testing.T) {
	t.Parallel()

	app := newEventTestApp(t, &stubRegistrar{}, &stubDirectory{names: []string{"privateMessage", "replyNotification"}})

	resp, respBody := performRequest(t, app, http.MethodGet, "/v1/streams", "", nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var parsed struct {
		Streams []string `json:"streams"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if len(parsed.Streams) != 2 {
		t.Fatalf("streams = %v, want 2 entries", parsed.Streams)
	}
}
