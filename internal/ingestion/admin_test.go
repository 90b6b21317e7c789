package ingestion

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookgate/internal/deadletter"
	"hookgate/internal/ledger"
	"hookgate/internal/logger"
	apperrors "hookgate/pkg/errors"
	"hookgate/pkg/middleware"
)

const adminKey = "ops-key"

func newAdminRouter(t *testing.T) (*gin.Engine, *deadletter.MemoryStore, *ledger.MemoryStore) {
	t.Helper()

	dlq := deadletter.NewMemoryStore()
	events := ledger.NewMemoryStore()
	handler := NewAdminHandler(dlq, events, logger.NopLogger())

	router := gin.New()
	handler.RegisterRoutes(router, middleware.APIKeyMiddleware(map[string]string{adminKey: "oncall"}))
	return router, dlq, events
}

func adminRequest(router *gin.Engine, method, path, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAdmin_RequiresAPIKey(t *testing.T) {
	router, _, _ := newAdminRouter(t)

	assert.Equal(t, http.StatusUnauthorized, adminRequest(router, http.MethodGet, "/admin/dlq", "").Code)
	assert.Equal(t, http.StatusUnauthorized, adminRequest(router, http.MethodGet, "/admin/dlq", "wrong").Code)
	assert.Equal(t, http.StatusOK, adminRequest(router, http.MethodGet, "/admin/dlq", adminKey).Code)
}

func TestAdmin_ListAndRequeueTerminal(t *testing.T) {
	router, dlq, _ := newAdminRouter(t)
	handler := deadletter.NewHandler(dlq, logger.NopLogger())
	ctx := context.Background()

	handler.LogFailure(ctx, SourceStripe, "charge.succeeded", []byte(`{"id":"evt_1"}`), apperrors.ErrContactNotFound, "req-1")
	handler.LogFailure(ctx, SourceStripe, "charge.succeeded", []byte(`{"id":"evt_2"}`), apperrors.ErrExternalAPI, "req-2")

	w := adminRequest(router, http.MethodGet, "/admin/dlq?state=terminal", adminKey)
	require.Equal(t, http.StatusOK, w.Code)

	var list DLQListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Events, 1)
	terminal := list.Events[0]
	terminalID := terminal.ID
	assert.Equal(t, "CONTACT_NOT_FOUND", terminal.ErrorCode)
	assert.Equal(t, `{"id":"evt_1"}`, terminal.Payload)
	assert.True(t, terminal.Terminal)
	assert.Equal(t, 100, list.Limit)

	w = adminRequest(router, http.MethodGet, "/admin/dlq?state=pending&source=stripe", adminKey)
	require.Equal(t, http.StatusOK, w.Code)
	var pending DLQListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pending))
	require.Len(t, pending.Events, 1)
	pendingID := pending.Events[0].ID
	require.NotEqual(t, terminalID, pendingID)
	assert.Equal(t, terminalID, terminal.ID)

	w = adminRequest(router, http.MethodPost, "/admin/dlq/"+terminalID+"/requeue", adminKey)
	require.Equal(t, http.StatusOK, w.Code)

	got, err := dlq.Get(ctx, terminalID)
	require.NoError(t, err)
	require.NotNil(t, got.NextRetryAt)
	assert.WithinDuration(t, time.Now(), *got.NextRetryAt, 5*time.Second)

	// Only events awaiting manual review can be requeued.
	w = adminRequest(router, http.MethodPost, "/admin/dlq/"+pendingID+"/requeue", adminKey)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = adminRequest(router, http.MethodPost, "/admin/dlq/missing/requeue", adminKey)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdmin_BadQuery(t *testing.T) {
	router, _, _ := newAdminRouter(t)

	assert.Equal(t, http.StatusBadRequest, adminRequest(router, http.MethodGet, "/admin/dlq?state=stuck", adminKey).Code)
	assert.Equal(t, http.StatusBadRequest, adminRequest(router, http.MethodGet, "/admin/dlq?limit=ten", adminKey).Code)
}

func TestAdmin_GetEvent(t *testing.T) {
	router, _, events := newAdminRouter(t)
	ctx := context.Background()

	require.NoError(t, events.Insert(ctx, &ledger.InboundEvent{
		RequestID:  "req-9",
		WebhookID:  "evt_9",
		Source:     SourceStripe,
		Status:     ledger.StatusProcessing,
		RawPayload: []byte(`{"secret":"data"}`),
		ReceivedAt: time.Now(),
	}))

	w := adminRequest(router, http.MethodGet, "/admin/events/req-9", adminKey)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"webhook_id":"evt_9"`)
	assert.NotContains(t, w.Body.String(), "secret")

	w = adminRequest(router, http.MethodGet, "/admin/events/req-unknown", adminKey)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
