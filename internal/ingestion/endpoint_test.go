package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookgate/internal/deadletter"
	"hookgate/internal/ledger"
	"hookgate/internal/logger"
	"hookgate/internal/security"
	apperrors "hookgate/pkg/errors"
	"hookgate/pkg/ratelimit"
)

const testSecret = "whsec_test_primary"

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeApplier struct {
	mu    sync.Mutex
	calls int
	err   error
	block chan struct{}
	// delay is a context-aware slowdown, like a downstream call.
	delay time.Duration
}

func (f *fakeApplier) Apply(ctx context.Context, d *Delivery) (ledger.Outcome, error) {
	f.mu.Lock()
	f.calls++
	block, err, delay := f.block, f.err, f.delay
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return ledger.Outcome{"contact_id": "c-" + d.Event.WebhookID}, nil
}

func (f *fakeApplier) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type harnessConfig struct {
	secrets []string
	limiter ratelimit.RateLimiter
	timeout time.Duration
	budget  time.Duration
	maxBody int64
	rules   map[string]string
	origin  string
}

type harness struct {
	router   *gin.Engine
	events   *ledger.MemoryStore
	dlq      *deadletter.MemoryStore
	applier  *fakeApplier
	replayer *Replayer
}

func newHarness(t *testing.T, cfg harnessConfig) *harness {
	t.Helper()

	if cfg.secrets == nil {
		cfg.secrets = []string{testSecret}
	}

	log := logger.NopLogger()
	events := ledger.NewMemoryStore()
	dlqStore := deadletter.NewMemoryStore()
	applier := &fakeApplier{}

	rules, err := NewAcceptRules(cfg.rules)
	require.NoError(t, err)

	recorder := ledger.NewRecorder(events, log)
	idempotency := ledger.NewIdempotencyChecker(events, time.Hour, log)
	processor := NewProcessor(rules, applier, log)

	deps := EndpointDeps{
		Replay:      security.NewReplayGuard(5*time.Minute, time.Minute),
		Limiter:     cfg.limiter,
		Recorder:    recorder,
		Idempotency: idempotency,
		Processor:   processor,
		DLQ:         deadletter.NewHandler(dlqStore, log),
		Logger:      log,
	}

	router := gin.New()
	for _, name := range SourceNames() {
		src, err := LookupSource(name)
		require.NoError(t, err)
		RegisterRoutes(router, NewEndpoint(src, deps, EndpointOptions{
			Secrets:           cfg.secrets,
			Origin:            cfg.origin,
			MaxBodyBytes:      cfg.maxBody,
			ProcessingTimeout: cfg.timeout,
			ProcessingBudget:  cfg.budget,
		}))
	}

	return &harness{
		router:   router,
		events:   events,
		dlq:      dlqStore,
		applier:  applier,
		replayer: NewReplayer(processor, recorder, idempotency, log),
	}
}

func (h *harness) send(req *http.Request) (*httptest.ResponseRecorder, Response) {
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)

	var resp Response
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func (h *harness) eventsWithStatus(status ledger.Status) []*ledger.InboundEvent {
	var out []*ledger.InboundEvent
	for _, ev := range h.events.All() {
		if ev.Status == status {
			out = append(out, ev)
		}
	}
	return out
}

func stripeBody(id, eventType, email string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"type":%q,"created":1760000000,"livemode":false,`+
		`"data":{"object":{"id":"ch_1","object":"charge","amount":2500,"currency":"usd","receipt_email":%q}}}`,
		id, eventType, email))
}

func stripeRequest(body []byte, signedAt time.Time, secret string) *http.Request {
	ts := strconv.FormatInt(signedAt.Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", security.SchemeStripe.Sign(body, secret, ts))
	return req
}

func TestEndpoint_ValidDeliverySucceeds(t *testing.T) {
	h := newHarness(t, harnessConfig{})

	w, resp := h.send(stripeRequest(stripeBody("evt_1", "charge.succeeded", "Buyer@Example.com"), time.Now(), testSecret))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, resp.RequestID, w.Header().Get("X-Request-ID"))

	all := h.events.All()
	require.Len(t, all, 1)
	assert.Equal(t, ledger.StatusSuccess, all[0].Status)
	assert.Equal(t, "evt_1", all[0].WebhookID)
	assert.Equal(t, "charge.succeeded", all[0].EventType)
	assert.True(t, all[0].SignatureValid)
	assert.NotNil(t, all[0].WebhookTimestamp)
	assert.Equal(t, ledger.Outcome{"contact_id": "c-evt_1"}, all[0].Outcome)
	assert.Nil(t, all[0].RawPayload)

	assert.Empty(t, h.dlq.All())
	assert.Equal(t, 1, h.applier.Calls())
}

func TestEndpoint_RedeliveryIsDuplicate(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	body := stripeBody("evt_2", "charge.succeeded", "buyer@example.com")

	w1, _ := h.send(stripeRequest(body, time.Now(), testSecret))
	require.Equal(t, http.StatusOK, w1.Code)

	w2, resp := h.send(stripeRequest(body, time.Now(), testSecret))
	assert.Equal(t, http.StatusOK, w2.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, string(ledger.StatusDuplicate), resp.Status)

	assert.Len(t, h.eventsWithStatus(ledger.StatusSuccess), 1)
	assert.Len(t, h.eventsWithStatus(ledger.StatusDuplicate), 1)
	assert.Equal(t, 1, h.applier.Calls())
}

func TestEndpoint_SameContentNewIDIsDuplicate(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	// No sender id: each delivery gets a generated one, so only the content
	// hash can catch the redelivery.
	body := []byte(`{"resource":"enrollment","action":"created","payload":{"user":{"email":"learner@example.com"}}}`)

	send := func() (*httptest.ResponseRecorder, Response) {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/thinkific", bytes.NewReader(body))
		req.Header.Set("X-Thinkific-Hmac-Sha256", security.SchemeHex.Sign(body, testSecret, ""))
		return h.send(req)
	}

	w1, resp1 := send()
	require.Equal(t, http.StatusOK, w1.Code)
	assert.Equal(t, string(ledger.StatusSuccess), resp1.Status)

	w2, resp2 := send()
	assert.Equal(t, http.StatusOK, w2.Code)
	assert.Equal(t, string(ledger.StatusDuplicate), resp2.Status)

	dups := h.eventsWithStatus(ledger.StatusDuplicate)
	require.Len(t, dups, 1)
	assert.Equal(t, 1, h.applier.Calls())
}

func TestEndpoint_TamperedBodyIsRejected(t *testing.T) {
	h := newHarness(t, harnessConfig{})

	original := stripeBody("evt_3", "charge.succeeded", "buyer@example.com")
	req := stripeRequest(original, time.Now().Add(-time.Hour), testSecret)
	tampered := bytes.Replace(original, []byte("2500"), []byte("9900"), 1)
	req.Body = io.NopCloser(bytes.NewReader(tampered))
	req.ContentLength = int64(len(tampered))

	w, resp := h.send(req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, apperrors.ErrInvalidSignature.Code, resp.Error.Code)
	assert.False(t, resp.Error.Retryable)
	assert.Empty(t, h.events.All())
	assert.Empty(t, h.dlq.All())
	assert.Equal(t, 0, h.applier.Calls())
}

func TestEndpoint_DownstreamTimeoutIsDeadLettered(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.applier.err = apperrors.ErrDBTimeout.WithCause(context.DeadlineExceeded)

	w, resp := h.send(stripeRequest(stripeBody("evt_4", "charge.succeeded", "buyer@example.com"), time.Now(), testSecret))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "DB_TIMEOUT", resp.Error.Code)
	assert.True(t, resp.Error.Retryable)

	failed := h.eventsWithStatus(ledger.StatusFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "DB_TIMEOUT", failed[0].ErrorCode)

	dlq := h.dlq.All()
	require.Len(t, dlq, 1)
	assert.True(t, dlq[0].Retryable)
	assert.Equal(t, 0, dlq[0].RetryCount)
	assert.Equal(t, failed[0].RequestID, dlq[0].WebhookEventID)
	require.NotNil(t, dlq[0].NextRetryAt)
	assert.WithinDuration(t, time.Now().Add(time.Minute), *dlq[0].NextRetryAt, 5*time.Second)
}

func TestEndpoint_SignatureFailures(t *testing.T) {
	body := stripeBody("evt_5", "charge.succeeded", "buyer@example.com")

	tests := []struct {
		name       string
		secrets    []string
		request    func() *http.Request
		wantStatus int
		wantCode   string
	}{
		{
			name:    "missing header",
			secrets: []string{testSecret},
			request: func() *http.Request {
				return httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
			},
			wantStatus: http.StatusUnauthorized,
			wantCode:   apperrors.ErrMissingSignature.Code,
		},
		{
			name:       "wrong secret",
			secrets:    []string{testSecret},
			request:    func() *http.Request { return stripeRequest(body, time.Now(), "whsec_other") },
			wantStatus: http.StatusUnauthorized,
			wantCode:   apperrors.ErrInvalidSignature.Code,
		},
		{
			name:       "no secret configured",
			secrets:    []string{},
			request:    func() *http.Request { return stripeRequest(body, time.Now(), testSecret) },
			wantStatus: http.StatusInternalServerError,
			wantCode:   apperrors.ErrSignatureMisconfigured.Code,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, harnessConfig{secrets: tt.secrets})

			w, resp := h.send(tt.request())

			assert.Equal(t, tt.wantStatus, w.Code)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.Empty(t, h.events.All())
		})
	}
}

func TestEndpoint_RotatedSecretIsAccepted(t *testing.T) {
	h := newHarness(t, harnessConfig{secrets: []string{"whsec_new", testSecret}})

	w, _ := h.send(stripeRequest(stripeBody("evt_6", "charge.succeeded", "buyer@example.com"), time.Now(), testSecret))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEndpoint_StaleTimestampIsReplay(t *testing.T) {
	h := newHarness(t, harnessConfig{})

	w, resp := h.send(stripeRequest(stripeBody("evt_7", "charge.succeeded", "buyer@example.com"), time.Now().Add(-10*time.Minute), testSecret))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, apperrors.ErrExpiredToken.Code, resp.Error.Code)
	assert.Empty(t, h.events.All())
	assert.Equal(t, 0, h.applier.Calls())
}

func TestEndpoint_RateLimited(t *testing.T) {
	h := newHarness(t, harnessConfig{limiter: ratelimit.NewFixedWindowLimiter(2, time.Minute)})

	for i := 0; i < 2; i++ {
		body := stripeBody(fmt.Sprintf("evt_rl_%d", i), "charge.succeeded", "buyer@example.com")
		w, _ := h.send(stripeRequest(body, time.Now(), testSecret))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, strconv.Itoa(1-i), w.Header().Get("X-RateLimit-Remaining"))
	}

	w, resp := h.send(stripeRequest(stripeBody("evt_rl_2", "charge.succeeded", "buyer@example.com"), time.Now(), testSecret))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, apperrors.ErrRateLimited.Code, resp.Error.Code)
	assert.True(t, resp.Error.Retryable)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Len(t, h.events.All(), 2)
}

func TestEndpoint_OversizedBody(t *testing.T) {
	h := newHarness(t, harnessConfig{maxBody: 64})

	w, resp := h.send(stripeRequest(stripeBody("evt_8", "charge.succeeded", "buyer@example.com"), time.Now(), testSecret))

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, apperrors.ErrPayloadTooLarge.Code, resp.Error.Code)
	assert.Empty(t, h.events.All())
}

func TestEndpoint_MissingEmailIsAcceptedUnprocessed(t *testing.T) {
	h := newHarness(t, harnessConfig{})

	w, resp := h.send(stripeRequest(stripeBody("evt_9", "charge.succeeded", ""), time.Now(), testSecret))

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, string(ledger.StatusAcceptedUnprocessed), resp.Status)

	rows := h.eventsWithStatus(ledger.StatusAcceptedUnprocessed)
	require.Len(t, rows, 1)
	assert.Equal(t, ReasonMissingContact, rows[0].ErrorMessage)
	assert.Empty(t, h.dlq.All())
	assert.Equal(t, 0, h.applier.Calls())
}

func TestEndpoint_AcceptRuleFiltersEvents(t *testing.T) {
	h := newHarness(t, harnessConfig{rules: map[string]string{
		SourceStripe: `event_type.startsWith("charge.")`,
	}})

	w, _ := h.send(stripeRequest(stripeBody("evt_10", "customer.created", "buyer@example.com"), time.Now(), testSecret))
	assert.Equal(t, http.StatusAccepted, w.Code)

	w, _ = h.send(stripeRequest(stripeBody("evt_11", "charge.refunded", "buyer@example.com"), time.Now(), testSecret))
	assert.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, 1, h.applier.Calls())
}

func TestEndpoint_MalformedPayload(t *testing.T) {
	h := newHarness(t, harnessConfig{})

	w, resp := h.send(stripeRequest([]byte(`{"id":"evt_12","type":`), time.Now(), testSecret))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, apperrors.ErrInvalidPayload.Code, resp.Error.Code)
	assert.False(t, resp.Error.Retryable)

	failed := h.eventsWithStatus(ledger.StatusFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, apperrors.ErrInvalidPayload.Code, failed[0].ErrorCode)
	// Failed rows keep the raw body for the sweeper and operators.
	assert.NotEmpty(t, failed[0].RawPayload)

	dlq := h.dlq.All()
	require.Len(t, dlq, 1)
	assert.False(t, dlq[0].Retryable)
	assert.Nil(t, dlq[0].NextRetryAt)
	assert.Equal(t, 0, h.applier.Calls())
}

func TestEndpoint_InvalidEmailIsRejected(t *testing.T) {
	h := newHarness(t, harnessConfig{})

	w, resp := h.send(stripeRequest(stripeBody("evt_13", "charge.succeeded", "not an email"), time.Now(), testSecret))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, apperrors.ErrInvalidEmail.Code, resp.Error.Code)
}

func TestEndpoint_ProcessingTimeoutLeavesEventForSweeper(t *testing.T) {
	h := newHarness(t, harnessConfig{timeout: 50 * time.Millisecond})
	release := make(chan struct{})
	h.applier.block = release

	w, resp := h.send(stripeRequest(stripeBody("evt_14", "charge.succeeded", "buyer@example.com"), time.Now(), testSecret))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, apperrors.ErrProcessingTimeout.Code, resp.Error.Code)
	assert.True(t, resp.Error.Retryable)
	assert.Len(t, h.eventsWithStatus(ledger.StatusProcessing), 1)
	assert.Empty(t, h.dlq.All())

	close(release)
	assert.Eventually(t, func() bool {
		return len(h.eventsWithStatus(ledger.StatusSuccess)) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestEndpoint_SlowDeliveryFinishesAfterTimeout(t *testing.T) {
	h := newHarness(t, harnessConfig{timeout: 30 * time.Millisecond, budget: 2 * time.Second})
	h.applier.delay = 150 * time.Millisecond

	w, _ := h.send(stripeRequest(stripeBody("evt_15", "charge.succeeded", "buyer@example.com"), time.Now(), testSecret))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	assert.Eventually(t, func() bool {
		return len(h.eventsWithStatus(ledger.StatusSuccess)) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, h.eventsWithStatus(ledger.StatusFailed))
	assert.Empty(t, h.dlq.All(), "a delivery that outlives the response timeout is not dead-lettered")
}

func TestEndpoint_ExhaustedBudgetIsLeftForSweeper(t *testing.T) {
	h := newHarness(t, harnessConfig{timeout: 20 * time.Millisecond, budget: 60 * time.Millisecond})
	h.applier.delay = time.Hour

	w, _ := h.send(stripeRequest(stripeBody("evt_16", "charge.succeeded", "buyer@example.com"), time.Now(), testSecret))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	// Well past the budget, the row must still be waiting for the sweeper.
	time.Sleep(200 * time.Millisecond)
	assert.Len(t, h.eventsWithStatus(ledger.StatusProcessing), 1)
	assert.Empty(t, h.dlq.All())
}

func TestEndpoint_TimestampedSender(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	body := []byte(`{"id":"tt_1","event":"ORDER.CREATED","created_at":1760000000,` +
		`"payload":{"id":"or_1","object":"order","buyer_details":{"email":"fan@example.com","address":{"country":"GB"}}}}`)

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/tickettailor", bytes.NewReader(body))
	sig := security.SchemeTimestamped.Sign(body, testSecret, ts)
	req.Header.Set("Tickettailor-Webhook-Signature", strings.Replace(sig, "v1=", "s=", 1))

	w, _ := h.send(req)

	assert.Equal(t, http.StatusOK, w.Code)
	all := h.events.All()
	require.Len(t, all, 1)
	assert.Equal(t, "ORDER.CREATED", all[0].EventType)
}

func TestEndpoint_Preflight(t *testing.T) {
	h := newHarness(t, harnessConfig{origin: "https://dashboard.stripe.com"})

	req := httptest.NewRequest(http.MethodOptions, "/webhooks/stripe", nil)
	req.Header.Set("Origin", "https://dashboard.stripe.com")
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://dashboard.stripe.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Stripe-Signature")

	req = httptest.NewRequest(http.MethodOptions, "/webhooks/stripe", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	h.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
