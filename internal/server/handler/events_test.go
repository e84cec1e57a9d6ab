package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/formpulse/formpulse/internal/config"
	"github.com/formpulse/formpulse/internal/core"
	"github.com/formpulse/formpulse/internal/integrations"
	"github.com/formpulse/formpulse/mocks"
)

const testSecret = "test-webhook-secret"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func signedEventRequest(t *testing.T, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(integrations.SignatureHeader, integrations.Sign(testSecret, body))
	return req
}

func eventBody(t *testing.T, id, eventType string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":         id,
		"event_type": eventType,
		"payload":    map[string]any{"form_id": "f-1"},
	})
	require.NoError(t, err)
	return body
}

func TestEventHandler_QueuesValidEvent(t *testing.T) {
	ctrl := gomock.NewController(t)

	dispatcher := mocks.NewMockJobDispatcher(ctrl)
	dispatcher.EXPECT().Dispatch(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ any, unit *core.WorkUnit) error {
			assert.Equal(t, "resp-1", unit.ID)
			assert.Equal(t, core.EventFormCompleted, unit.EventType)
			return nil
		})

	h := NewEventHandler(&config.Config{WebhookSecret: testSecret}, dispatcher, testLogger())

	rec := httptest.NewRecorder()
	h.Handle(rec, signedEventRequest(t, eventBody(t, "resp-1", "form_completed")))

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		WorkUnitID string `json:"workUnitId"`
		Status     string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "resp-1", resp.WorkUnitID)
	assert.Equal(t, "queued", resp.Status)
}

func TestEventHandler_RejectsBadSignature(t *testing.T) {
	ctrl := gomock.NewController(t)

	// No Dispatch expectation: an unsigned event never reaches the queue.
	h := NewEventHandler(&config.Config{WebhookSecret: testSecret},
		mocks.NewMockJobDispatcher(ctrl), testLogger())

	body := eventBody(t, "resp-1", "form_completed")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", bytes.NewReader(body))
	req.Header.Set(integrations.SignatureHeader, "deadbeef")

	rec := httptest.NewRecorder()
	h.Handle(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEventHandler_RejectsMissingSignature(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := NewEventHandler(&config.Config{WebhookSecret: testSecret},
		mocks.NewMockJobDispatcher(ctrl), testLogger())

	body := eventBody(t, "resp-1", "form_completed")
	rec := httptest.NewRecorder()
	h.Handle(rec, httptest.NewRequest(http.MethodPost, "/api/v1/events", bytes.NewReader(body)))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEventHandler_RejectsUnknownEventType(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := NewEventHandler(&config.Config{WebhookSecret: testSecret},
		mocks.NewMockJobDispatcher(ctrl), testLogger())

	rec := httptest.NewRecorder()
	h.Handle(rec, signedEventRequest(t, eventBody(t, "resp-1", "form_deleted")))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestEventHandler_RejectsMalformedJSON(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := NewEventHandler(&config.Config{WebhookSecret: testSecret},
		mocks.NewMockJobDispatcher(ctrl), testLogger())

	rec := httptest.NewRecorder()
	h.Handle(rec, signedEventRequest(t, []byte("{not json")))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventHandler_FullQueueIsServiceUnavailable(t *testing.T) {
	ctrl := gomock.NewController(t)

	dispatcher := mocks.NewMockJobDispatcher(ctrl)
	dispatcher.EXPECT().Dispatch(gomock.Any(), gomock.Any()).
		Return(errors.New("queue default is full"))

	h := NewEventHandler(&config.Config{WebhookSecret: testSecret}, dispatcher, testLogger())

	rec := httptest.NewRecorder()
	h.Handle(rec, signedEventRequest(t, eventBody(t, "resp-1", "form_completed")))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
