package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/guildgate/guildgate/internal/schedule"
)

// JobListResponse wraps scheduled job statuses.
type JobListResponse struct {
	Items []schedule.JobStatus `json:"items"`
}

type JobHandler struct {
	service *schedule.Service
	logger  *slog.Logger
}

func NewJobHandler(log *slog.Logger, service *schedule.Service) *JobHandler {
	if log == nil {
		log = slog.Default()
	}
	return &JobHandler{
		service: service,
		logger:  log.With(slog.String("handler", "jobs")),
	}
}

func (h *JobHandler) Register(e *echo.Echo) {
	group := e.Group("/jobs")
	group.GET("", h.List)
	group.POST("/:name/run", h.Run)
}

func (h *JobHandler) List(c echo.Context) error {
	return c.JSON(http.StatusOK, JobListResponse{Items: h.service.List()})
}

// Run executes a job immediately and returns its status.
func (h *JobHandler) Run(c echo.Context) error {
	operator, err := requireOperator(c)
	if err != nil {
		return err
	}
	h.logger.Info("job triggered", slog.String("job", c.Param("name")), slog.String("operator", operator))
	status, err := h.service.Trigger(c.Request().Context(), c.Param("name"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, status)
}
