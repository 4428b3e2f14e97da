package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/guildgate/guildgate/internal/identity"
)

// ActivityRequest increments one activity counter.
type ActivityRequest struct {
	Kind   string `json:"kind"`
	Amount int    `json:"amount"`
}

type IdentityHandler struct {
	service *identity.Service
	logger  *slog.Logger
}

func NewIdentityHandler(log *slog.Logger, service *identity.Service) *IdentityHandler {
	if log == nil {
		log = slog.Default()
	}
	return &IdentityHandler{
		service: service,
		logger:  log.With(slog.String("handler", "identities")),
	}
}

func (h *IdentityHandler) Register(e *echo.Echo) {
	group := e.Group("/identities")
	group.GET("", h.Lookup)
	group.DELETE("/:owner", h.Unlink)
	group.DELETE("/:owner/alternates/:name", h.UnlinkAlternate)
	group.POST("/:owner/alternates/:name/promote", h.PromoteAlternate)

	activity := e.Group("/guilds/:guild/members/:user/activity")
	activity.GET("", h.GetActivity)
	activity.POST("", h.AddActivity)
}

// Lookup godoc
// @Summary Find an identity record
// @Description Look up by chat account (owner) or by in-game name (name)
// @Tags identities
// @Param owner query string false "Chat account ID"
// @Param name query string false "In-game name"
// @Success 200 {object} identity.Record
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /identities [get]
func (h *IdentityHandler) Lookup(c echo.Context) error {
	ctx := c.Request().Context()
	owner := strings.TrimSpace(c.QueryParam("owner"))
	name := strings.TrimSpace(c.QueryParam("name"))
	var (
		rec identity.Record
		err error
	)
	switch {
	case owner != "":
		rec, err = h.service.FindByOwner(ctx, owner)
	case name != "":
		rec, err = h.service.FindByNameKey(ctx, name)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "owner or name is required")
	}
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

// Unlink hard-deletes a record.
func (h *IdentityHandler) Unlink(c echo.Context) error {
	operator, err := requireOperator(c)
	if err != nil {
		return err
	}
	if err := h.service.Unlink(c.Request().Context(), c.Param("owner")); err != nil {
		return toHTTPError(err)
	}
	h.logger.Info("identity unlinked by operator", slog.String("owner_id", c.Param("owner")), slog.String("operator", operator))
	return c.NoContent(http.StatusNoContent)
}

func (h *IdentityHandler) UnlinkAlternate(c echo.Context) error {
	rec, err := h.service.UnlinkAlternate(c.Request().Context(), c.Param("owner"), c.Param("name"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *IdentityHandler) PromoteAlternate(c echo.Context) error {
	rec, err := h.service.PromoteAlternate(c.Request().Context(), c.Param("owner"), c.Param("name"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *IdentityHandler) GetActivity(c echo.Context) error {
	rec, err := h.service.FindByOwner(c.Request().Context(), c.Param("user"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, rec.ActivityFor(c.Param("guild")))
}

// AddActivity godoc
// @Summary Increment an activity counter
// @Tags identities
// @Param guild path string true "Guild ID"
// @Param user path string true "Chat account ID"
// @Param payload body ActivityRequest true "Counter and amount"
// @Success 200 {object} identity.ActivityCounters
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /guilds/{guild}/members/{user}/activity [post]
func (h *IdentityHandler) AddActivity(c echo.Context) error {
	var req ActivityRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	kind, ok := identity.ParseActivityKind(req.Kind)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown activity kind")
	}
	if req.Amount <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "amount must be positive")
	}
	counters, err := h.service.IncrementActivity(c.Request().Context(), c.Param("user"), c.Param("guild"), kind, req.Amount)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, counters)
}
