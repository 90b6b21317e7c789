package ingestion

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"hookgate/internal/constants"
	"hookgate/internal/deadletter"
	"hookgate/internal/ledger"
	"hookgate/internal/logger"
	"hookgate/internal/security"
	apperrors "hookgate/pkg/errors"
	"hookgate/pkg/logging"
	"hookgate/pkg/metrics"
	"hookgate/pkg/ratelimit"
	"hookgate/pkg/tracing"
)

const (
	outcomeRejected        = "rejected"
	outcomeDuplicate       = "duplicate"
	outcomeSuccess         = "success"
	outcomeSkipped         = "accepted_unprocessed"
	outcomeFailed          = "failed"
	outcomeTimeout         = "timeout"
	outcomeRateLimit       = "rate_limited"
	outcomeOversized       = "oversized"
	outcomeUnauthenticated = "unauthenticated"
)

// Response is the JSON body returned to webhook senders.
type Response struct {
	Success   bool           `json:"success"`
	RequestID string         `json:"request_id,omitempty"`
	Status    string         `json:"status,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
}

type ResponseError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// EndpointDeps are the collaborators shared by every source's endpoint.
type EndpointDeps struct {
	Replay      *security.ReplayGuard
	Limiter     ratelimit.RateLimiter
	Recorder    *ledger.Recorder
	Idempotency *ledger.IdempotencyChecker
	Processor   *Processor
	DLQ         ledger.FailureLogger
	Logger      logger.Logger
}

type EndpointOptions struct {
	Secrets           []string
	Origin            string
	MaxBodyBytes      int64
	ProcessingTimeout time.Duration
	// ProcessingBudget bounds the business effect itself. It outlasts
	// ProcessingTimeout so a slow delivery can still finish after the sender
	// was answered.
	ProcessingBudget time.Duration
	// AllowUnsigned skips signature verification. Never set in production.
	AllowUnsigned bool
}

// Endpoint receives one source's webhooks. Every request moves through
// size, rate, signature, replay and duplicate checks before it is
// processed; each check may end the request early.
type Endpoint struct {
	source        Source
	verifier      *security.Verifier
	replay        *security.ReplayGuard
	limiter       ratelimit.RateLimiter
	recorder      *ledger.Recorder
	idempotency   *ledger.IdempotencyChecker
	processor     *Processor
	dlq           ledger.FailureLogger
	logger        logger.Logger
	origin        string
	maxBody       int64
	timeout       time.Duration
	budget        time.Duration
	allowUnsigned bool
	now           func() time.Time
}

func NewEndpoint(src Source, deps EndpointDeps, opts EndpointOptions) *Endpoint {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = constants.DefaultMaxBodyBytes
	}
	if opts.ProcessingTimeout <= 0 {
		opts.ProcessingTimeout = constants.DefaultProcessingTimeout
	}
	if opts.ProcessingBudget <= 0 {
		opts.ProcessingBudget = constants.DefaultProcessingBudget
	}
	if opts.ProcessingBudget < opts.ProcessingTimeout {
		opts.ProcessingBudget = opts.ProcessingTimeout
	}
	return &Endpoint{
		source:        src,
		verifier:      security.NewVerifier(src.Name, src.Scheme, opts.Secrets, deps.Logger),
		replay:        deps.Replay,
		limiter:       deps.Limiter,
		recorder:      deps.Recorder,
		idempotency:   deps.Idempotency,
		processor:     deps.Processor,
		dlq:           deps.DLQ,
		logger:        deps.Logger,
		origin:        opts.Origin,
		maxBody:       opts.MaxBodyBytes,
		timeout:       opts.ProcessingTimeout,
		budget:        opts.ProcessingBudget,
		allowUnsigned: opts.AllowUnsigned,
		now:           time.Now,
	}
}

func (e *Endpoint) Path() string {
	return constants.WebhookPathPrefix + e.source.Name
}

// RegisterRoutes mounts POST and OPTIONS for each endpoint.
func RegisterRoutes(router gin.IRouter, endpoints ...*Endpoint) {
	for _, ep := range endpoints {
		router.POST(ep.Path(), ep.Handle)
		router.OPTIONS(ep.Path(), ep.Preflight)
	}
}

// Preflight answers CORS preflight requests, only for the sender's
// configured origin when one is set.
func (e *Endpoint) Preflight(c *gin.Context) {
	if e.origin == "" {
		c.AbortWithStatus(http.StatusNoContent)
		return
	}
	if !strings.EqualFold(c.GetHeader("Origin"), e.origin) {
		c.AbortWithStatus(http.StatusForbidden)
		return
	}
	c.Header("Access-Control-Allow-Origin", e.origin)
	c.Header("Access-Control-Allow-Methods", "POST, OPTIONS")
	c.Header("Access-Control-Allow-Headers", "Content-Type, "+e.source.SignatureHeader)
	c.Header("Access-Control-Max-Age", "86400")
	c.Header("Vary", "Origin")
	c.AbortWithStatus(http.StatusNoContent)
}

// Handle godoc
// @Summary      Receive a webhook
// @Description  Authenticates, deduplicates and processes a webhook delivery from a known sender
// @Tags         webhooks
// @Accept       json
// @Produce      json
// @Param        source  path      string  true  "Sender"  Enums(stripe, tickettailor, thinkific)
// @Success      200     {object}  Response
// @Success      202     {object}  Response
// @Failure      400     {object}  Response
// @Failure      401     {object}  Response
// @Failure      413     {object}  Response
// @Failure      429     {object}  Response
// @Failure      500     {object}  Response
// @Failure      503     {object}  Response
// @Router       /webhooks/{source} [post]
func (e *Endpoint) Handle(c *gin.Context) {
	start := e.now()
	requestID := uuid.New().String()
	ctx := logging.WithSource(logging.WithRequestID(c.Request.Context(), requestID), e.source.Name)
	c.Header(constants.HeaderRequestID, requestID)

	body, err := e.readBody(c)
	if err != nil {
		outcome := outcomeRejected
		if errors.Is(err, apperrors.ErrPayloadTooLarge) {
			outcome = outcomeOversized
		}
		e.reject(c, requestID, err, outcome, start)
		return
	}

	if !e.checkRate(ctx, c) {
		e.reject(c, requestID, apperrors.ErrRateLimited, outcomeRateLimit, start)
		return
	}

	signatureHeader := e.source.Signature(c.Request.Header)
	signatureValid := false
	if e.allowUnsigned {
		e.logger.WarnwCtx(ctx, "Signature verification disabled, accepting unsigned webhook")
	} else {
		if _, err := e.verifier.Verify(ctx, body, signatureHeader); err != nil {
			e.logger.WarnwCtx(ctx, "Webhook rejected at signature check",
				"error_code", codeOf(err),
				"client_ip", c.ClientIP(),
			)
			e.reject(c, requestID, err, outcomeUnauthenticated, start)
			return
		}
		signatureValid = true
	}

	header := e.source.Scheme.ParseHeader(signatureHeader)
	check := e.replay.Check(header.Timestamp)
	if check.IsReplay {
		metrics.IncReplayRejection(e.source.Name, check.Reason)
		e.logger.WarnwCtx(ctx, "Webhook rejected by replay guard",
			"reason", check.Reason,
			"client_ip", c.ClientIP(),
		)
		e.reject(c, requestID, apperrors.ErrExpiredToken.WithDetail("reason", check.Reason), outcomeRejected, start)
		return
	}
	if check.Unverified {
		e.logger.WarnwCtx(ctx, "Webhook carries no timestamp, replay protection unavailable", "audit", true)
	}

	parsed, parseErr := e.source.Parse(body)
	ev := &ledger.InboundEvent{
		RequestID:        requestID,
		WebhookID:        webhookIDOf(parsed),
		Source:           e.source.Name,
		PayloadHash:      ledger.HashPayload(body),
		PayloadSize:      len(body),
		RawPayload:       body,
		IPAddress:        c.ClientIP(),
		UserAgent:        c.Request.UserAgent(),
		SignatureValid:   signatureValid,
		WebhookTimestamp: check.Timestamp,
		ReceivedAt:       start,
	}
	if parsed != nil {
		ev.EventType = parsed.EventType
	}

	if e.recorder.Record(ctx, ev) == ledger.ClaimedElsewhere {
		e.logger.InfowCtx(ctx, "Webhook id already claimed, treating as duplicate", "webhook_id", ev.WebhookID)
		e.respond(c, http.StatusOK, Response{Success: true, RequestID: requestID, Status: string(ledger.StatusDuplicate)}, outcomeDuplicate, start)
		return
	}

	if parseErr != nil {
		status, resp := e.fail(ctx, ev, parseErr, start)
		e.respond(c, status, resp, outcomeFailed, start)
		return
	}

	if dup := e.idempotency.CheckDuplicate(ctx, ev.WebhookID, ev.PayloadHash, e.source.Name); dup.IsDuplicate {
		e.logger.InfowCtx(ctx, "Duplicate webhook delivery acknowledged",
			"webhook_id", ev.WebhookID,
			"reason", dup.Reason,
		)
		e.recorder.UpdateStatus(ctx, requestID, ledger.StatusUpdate{
			Status:   ledger.StatusDuplicate,
			Duration: e.now().Sub(start),
		})
		e.respond(c, http.StatusOK, Response{Success: true, RequestID: requestID, Status: string(ledger.StatusDuplicate)}, outcomeDuplicate, start)
		return
	}

	e.process(ctx, c, ev, &Delivery{
		Source:    e.source.Name,
		RequestID: requestID,
		Event:     parsed,
		Raw:       body,
	}, start)
}

type finished struct {
	status  int
	resp    Response
	outcome string
}

// process answers the sender within the processing timeout while the
// business effect keeps running under the longer processing budget. A
// request that times out is answered 503 and its ledger row stays in
// processing: a late finish still records its result, otherwise the sweeper
// fails it.
func (e *Endpoint) process(ctx context.Context, c *gin.Context, ev *ledger.InboundEvent, d *Delivery, start time.Time) {
	done := make(chan finished, 1)

	go func() {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.budget)
		defer cancel()
		done <- e.finish(pctx, ev, d, start)
	}()

	timer := time.NewTimer(e.timeout)
	defer timer.Stop()

	select {
	case f := <-done:
		e.respond(c, f.status, f.resp, f.outcome, start)
	case <-timer.C:
		e.logger.ErrorwCtx(ctx, "Webhook processing exceeded timeout, leaving event for the sweeper",
			"webhook_id", ev.WebhookID,
			"timeout", e.timeout,
		)
		e.respond(c, http.StatusServiceUnavailable, errorResponse(ev.RequestID, apperrors.ErrProcessingTimeout, true), outcomeTimeout, start)
	}
}

func (e *Endpoint) finish(ctx context.Context, ev *ledger.InboundEvent, d *Delivery, start time.Time) finished {
	ctx, span := tracing.StartWebhookSpan(ctx, "webhook.process", d.Source, d.Event.EventType, ev.RequestID)

	res := e.processor.Process(ctx, d)
	tracing.EndWebhookSpan(span, string(res.Status), res.Err)

	switch res.Status {
	case ledger.StatusSuccess:
		e.recorder.UpdateStatus(ctx, ev.RequestID, ledger.StatusUpdate{
			Status:   ledger.StatusSuccess,
			Duration: e.now().Sub(start),
			Outcome:  res.Outcome,
		})
		return finished{
			status:  http.StatusOK,
			resp:    Response{Success: true, RequestID: ev.RequestID, Status: string(ledger.StatusSuccess)},
			outcome: outcomeSuccess,
		}

	case ledger.StatusAcceptedUnprocessed:
		e.logger.InfowCtx(ctx, "Webhook accepted without processing",
			"event_type", d.Event.EventType,
			"reason", res.Reason,
		)
		e.recorder.UpdateStatus(ctx, ev.RequestID, ledger.StatusUpdate{
			Status:       ledger.StatusAcceptedUnprocessed,
			Duration:     e.now().Sub(start),
			ErrorMessage: res.Reason,
		})
		return finished{
			status:  http.StatusAccepted,
			resp:    Response{Success: true, RequestID: ev.RequestID, Status: string(ledger.StatusAcceptedUnprocessed)},
			outcome: outcomeSkipped,
		}

	default:
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			// The sweeper owns rows that ran out of budget.
			e.logger.ErrorwCtx(ctx, "Webhook processing exhausted its budget, leaving event for the sweeper",
				"budget", e.budget,
				"error", res.Err,
			)
			return finished{
				status:  http.StatusServiceUnavailable,
				resp:    errorResponse(ev.RequestID, apperrors.ErrProcessingTimeout, true),
				outcome: outcomeTimeout,
			}
		}
		status, resp := e.fail(ctx, ev, res.Err, start)
		return finished{status: status, resp: resp, outcome: outcomeFailed}
	}
}

// fail marks the event failed and dead-letters it. The two writes are
// independent; neither can fail the response. Retryable failures answer
// 500 so the sender resends, anything else a 4xx.
func (e *Endpoint) fail(ctx context.Context, ev *ledger.InboundEvent, err error, start time.Time) (int, Response) {
	info, _ := deadletter.Classify(err)

	e.recorder.UpdateStatus(ctx, ev.RequestID, ledger.StatusUpdate{
		Status:       ledger.StatusFailed,
		Duration:     e.now().Sub(start),
		ErrorCode:    info.Code,
		ErrorMessage: info.Message,
	})
	e.dlq.LogFailure(ctx, ev.Source, ev.EventType, ev.RawPayload, err, ev.RequestID)

	status := http.StatusInternalServerError
	if !info.Retryable {
		status = apperrors.ToHTTPStatus(err)
		if status < 400 || status >= 500 {
			status = http.StatusBadRequest
		}
	}

	appErr := apperrors.Classify(err)
	return status, Response{
		RequestID: ev.RequestID,
		Status:    string(ledger.StatusFailed),
		Error: &ResponseError{
			Code:      info.Code,
			Message:   appErr.PublicMessage(),
			Retryable: info.Retryable,
		},
	}
}

func (e *Endpoint) readBody(c *gin.Context) ([]byte, error) {
	if c.Request.ContentLength > e.maxBody {
		return nil, apperrors.ErrPayloadTooLarge
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, e.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperrors.ErrPayloadTooLarge
		}
		return nil, apperrors.ErrInvalidPayload.WithCause(err)
	}
	return body, nil
}

// checkRate fails open: a limiter error lets the request through.
func (e *Endpoint) checkRate(ctx context.Context, c *gin.Context) bool {
	if e.limiter == nil {
		return true
	}

	res, err := e.limiter.Allow(ctx, e.source.Name+":"+c.ClientIP())
	if err != nil {
		metrics.RateLimitRequestsTotal.WithLabelValues("error").Inc()
		e.logger.WarnwCtx(ctx, "Rate limiter unavailable, allowing request", "error", err)
		return true
	}

	ratelimit.SetHeaders(c, res, e.now())
	if !res.Allowed {
		metrics.RateLimitRequestsTotal.WithLabelValues("limited").Inc()
		return false
	}
	metrics.RateLimitRequestsTotal.WithLabelValues("allowed").Inc()
	return true
}

func (e *Endpoint) reject(c *gin.Context, requestID string, err error, outcome string, start time.Time) {
	appErr := apperrors.Classify(err)
	e.respond(c, appErr.Status, errorResponse(requestID, appErr, appErr.IsRetryable()), outcome, start)
}

func (e *Endpoint) respond(c *gin.Context, status int, resp Response, outcome string, start time.Time) {
	metrics.ObserveWebhook(e.source.Name, outcome, e.now().Sub(start))
	c.AbortWithStatusJSON(status, resp)
}

func errorResponse(requestID string, err *apperrors.Error, retryable bool) Response {
	return Response{
		RequestID: requestID,
		Error: &ResponseError{
			Code:      err.Code,
			Message:   err.PublicMessage(),
			Retryable: retryable,
		},
	}
}

func codeOf(err error) string {
	return apperrors.Classify(err).Code
}

// webhookIDOf falls back to a generated id when the sender supplied none or
// the body did not parse, so the row still has a claim key of its own.
func webhookIDOf(ev *ParsedEvent) string {
	if ev != nil && ev.WebhookID != "" {
		return ev.WebhookID
	}
	return uuid.New().String()
}
