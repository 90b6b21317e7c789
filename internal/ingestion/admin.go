package ingestion

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"hookgate/internal/constants"
	"hookgate/internal/deadletter"
	"hookgate/internal/ledger"
	"hookgate/internal/logger"
	apperrors "hookgate/pkg/errors"
	"hookgate/pkg/middleware"
)

// DLQEventView is a dead letter event as shown to operators. The raw
// payload is included as text so it can be inspected before a requeue.
type DLQEventView struct {
	*deadletter.Event
	Payload  string `json:"payload"`
	Terminal bool   `json:"terminal"`
}

type DLQListResponse struct {
	Events []DLQEventView `json:"events"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// AdminHandler serves the operator API over the ledger and the DLQ.
type AdminHandler struct {
	dlq    deadletter.Store
	events ledger.EventStore
	logger logger.Logger
	now    func() time.Time
}

func NewAdminHandler(dlq deadletter.Store, events ledger.EventStore, log logger.Logger) *AdminHandler {
	return &AdminHandler{dlq: dlq, events: events, logger: log, now: time.Now}
}

func (h *AdminHandler) RegisterRoutes(router gin.IRouter, middlewares ...gin.HandlerFunc) {
	admin := router.Group("/admin", middlewares...)
	{
		admin.GET("/dlq", h.ListDLQ)
		admin.GET("/dlq/:id", h.GetDLQ)
		admin.POST("/dlq/:id/requeue", h.RequeueDLQ)
		admin.GET("/events/:request_id", h.GetEvent)
	}
}

func (h *AdminHandler) handleError(c *gin.Context, err error) {
	h.logger.ErrorwCtx(c.Request.Context(), "Admin request error", "error", err, "path", c.Request.URL.Path)
	c.JSON(apperrors.ToHTTPStatus(err), apperrors.ToErrorResponse(err))
}

// ListDLQ godoc
// @Summary      List dead letter events
// @Description  List dead letter events, optionally filtered by state and source
// @Tags         dlq
// @Produce      json
// @Security     ApiKeyAuth
// @Param        state   query     string  false  "pending, terminal or resolved"
// @Param        source  query     string  false  "Sender"
// @Param        limit   query     int     false  "Page size"
// @Param        offset  query     int     false  "Page offset"
// @Success      200     {object}  DLQListResponse
// @Failure      400     {object}  errors.ErrorResponse
// @Failure      401     {object}  errors.ErrorResponse
// @Failure      500     {object}  errors.ErrorResponse
// @Router       /admin/dlq [get]
func (h *AdminHandler) ListDLQ(c *gin.Context) {
	filter := deadletter.ListFilter{Source: c.Query("source")}

	if s := c.Query("state"); s != "" {
		state, ok := deadletter.ParseState(s)
		if !ok {
			c.JSON(http.StatusBadRequest, apperrors.ToErrorResponse(
				apperrors.ErrValidation.WithMessage("state must be pending, terminal or resolved")))
			return
		}
		filter.State = state
	}

	var err error
	if filter.Limit, err = intQuery(c, "limit"); err != nil {
		c.JSON(http.StatusBadRequest, apperrors.ToErrorResponse(apperrors.ErrValidation.WithCause(err)))
		return
	}
	if filter.Offset, err = intQuery(c, "offset"); err != nil {
		c.JSON(http.StatusBadRequest, apperrors.ToErrorResponse(apperrors.ErrValidation.WithCause(err)))
		return
	}

	if filter.Limit <= 0 {
		filter.Limit = constants.DefaultLimit
	}

	events, err := h.dlq.List(c.Request.Context(), filter)
	if err != nil {
		h.handleError(c, err)
		return
	}

	views := make([]DLQEventView, 0, len(events))
	for _, ev := range events {
		views = append(views, viewOf(ev))
	}
	c.JSON(http.StatusOK, DLQListResponse{Events: views, Limit: filter.Limit, Offset: filter.Offset})
}

// GetDLQ godoc
// @Summary      Get a dead letter event
// @Tags         dlq
// @Produce      json
// @Security     ApiKeyAuth
// @Param        id   path      string  true  "DLQ event ID"
// @Success      200  {object}  DLQEventView
// @Failure      404  {object}  errors.ErrorResponse
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /admin/dlq/{id} [get]
func (h *AdminHandler) GetDLQ(c *gin.Context) {
	ev, err := h.dlq.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(ev))
}

// RequeueDLQ godoc
// @Summary      Requeue a terminal dead letter event
// @Description  Schedule one more automatic replay for an event that exhausted its retries or failed with a non-retryable error
// @Tags         dlq
// @Produce      json
// @Security     ApiKeyAuth
// @Param        id   path      string  true  "DLQ event ID"
// @Success      200  {object}  DLQEventView
// @Failure      404  {object}  errors.ErrorResponse
// @Failure      409  {object}  errors.ErrorResponse
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /admin/dlq/{id}/requeue [post]
func (h *AdminHandler) RequeueDLQ(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	if err := h.dlq.Requeue(ctx, id, h.now()); err != nil {
		h.handleError(c, err)
		return
	}

	h.logger.InfowCtx(ctx, "Dead letter event requeued",
		"dlq_id", id,
		"operator", middleware.Operator(c),
	)

	ev, err := h.dlq.Get(ctx, id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(ev))
}

// GetEvent godoc
// @Summary      Get an inbound event
// @Description  Fetch the ledger row of one webhook delivery by its request ID
// @Tags         events
// @Produce      json
// @Security     ApiKeyAuth
// @Param        request_id  path      string  true  "Request ID"
// @Success      200         {object}  ledger.InboundEvent
// @Failure      404         {object}  errors.ErrorResponse
// @Failure      500         {object}  errors.ErrorResponse
// @Router       /admin/events/{request_id} [get]
func (h *AdminHandler) GetEvent(c *gin.Context) {
	ev, err := h.events.GetByRequestID(c.Request.Context(), c.Param("request_id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, ev)
}

func viewOf(ev *deadletter.Event) DLQEventView {
	return DLQEventView{Event: ev, Payload: string(ev.Payload), Terminal: ev.IsTerminal()}
}

func intQuery(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
