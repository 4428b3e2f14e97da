package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/guildgate/guildgate/internal/review"
)

// ResolveRequest carries a moderator decision: accept, deny or ignore.
type ResolveRequest struct {
	Outcome string `json:"outcome"`
}

// ReviewListResponse wraps pending review requests.
type ReviewListResponse struct {
	Items []review.Request `json:"items"`
}

type ReviewHandler struct {
	queue  *review.Queue
	logger *slog.Logger
}

func NewReviewHandler(log *slog.Logger, queue *review.Queue) *ReviewHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ReviewHandler{
		queue:  queue,
		logger: log.With(slog.String("handler", "reviews")),
	}
}

func (h *ReviewHandler) Register(e *echo.Echo) {
	group := e.Group("/reviews")
	group.GET("", h.List)
	group.GET("/:id", h.Get)
	group.POST("/:id/resolve", h.Resolve)
}

// List godoc
// @Summary List pending manual reviews
// @Tags reviews
// @Param guild query string false "Guild ID; all guilds when empty"
// @Success 200 {object} ReviewListResponse
// @Router /reviews [get]
func (h *ReviewHandler) List(c echo.Context) error {
	items, err := h.queue.List(c.Request().Context(), c.QueryParam("guild"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, ReviewListResponse{Items: items})
}

func (h *ReviewHandler) Get(c echo.Context) error {
	req, err := h.queue.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, req)
}

// Resolve godoc
// @Summary Resolve a manual review
// @Tags reviews
// @Param id path string true "Review ID"
// @Param payload body ResolveRequest true "Decision"
// @Success 200 {object} review.Request
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /reviews/{id}/resolve [post]
func (h *ReviewHandler) Resolve(c echo.Context) error {
	operator, err := requireOperator(c)
	if err != nil {
		return err
	}
	var body ResolveRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	outcome, err := review.ParseOutcome(body.Outcome)
	if err != nil {
		return toHTTPError(err)
	}
	req, err := h.queue.Resolve(c.Request().Context(), c.Param("id"), outcome, operator)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, req)
}
