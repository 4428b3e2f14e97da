package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/guildgate/guildgate/internal/blacklist"
)

// BlacklistRequest is the payload for adding a blacklist entry.
type BlacklistRequest struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
	// Origin is the community raising a network entry.
	Origin string `json:"origin,omitempty"`
}

// BlacklistListResponse wraps blacklist entries.
type BlacklistListResponse struct {
	Items []blacklist.Entry `json:"items"`
}

type BlacklistHandler struct {
	service *blacklist.Service
	logger  *slog.Logger
}

func NewBlacklistHandler(log *slog.Logger, service *blacklist.Service) *BlacklistHandler {
	if log == nil {
		log = slog.Default()
	}
	return &BlacklistHandler{
		service: service,
		logger:  log.With(slog.String("handler", "blacklist")),
	}
}

func (h *BlacklistHandler) Register(e *echo.Echo) {
	community := e.Group("/guilds/:guild/blacklist")
	community.GET("", h.List)
	community.POST("", h.Add)
	community.DELETE("/:name", h.Remove)

	network := e.Group("/blacklist/network")
	network.GET("", h.ListNetwork)
	network.POST("", h.AddNetwork)
	network.DELETE("/:name", h.RemoveNetwork)
}

// List godoc
// @Summary List community blacklist
// @Tags blacklist
// @Param guild path string true "Guild ID"
// @Success 200 {object} BlacklistListResponse
// @Failure 500 {object} ErrorResponse
// @Router /guilds/{guild}/blacklist [get]
func (h *BlacklistHandler) List(c echo.Context) error {
	items, err := h.service.List(c.Request().Context(), c.Param("guild"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, BlacklistListResponse{Items: items})
}

// Add godoc
// @Summary Blacklist a name in a community
// @Tags blacklist
// @Param guild path string true "Guild ID"
// @Param payload body BlacklistRequest true "Entry"
// @Success 201 {object} blacklist.Entry
// @Failure 400 {object} ErrorResponse
// @Router /guilds/{guild}/blacklist [post]
func (h *BlacklistHandler) Add(c echo.Context) error {
	operator, err := requireOperator(c)
	if err != nil {
		return err
	}
	var req BlacklistRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	entry, err := h.service.Add(c.Request().Context(), c.Param("guild"), req.Name, req.Reason, operator)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, entry)
}

func (h *BlacklistHandler) Remove(c echo.Context) error {
	if err := h.service.Remove(c.Request().Context(), c.Param("guild"), c.Param("name")); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *BlacklistHandler) ListNetwork(c echo.Context) error {
	items, err := h.service.ListNetwork(c.Request().Context())
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, BlacklistListResponse{Items: items})
}

// AddNetwork godoc
// @Summary Blacklist a name across all communities
// @Tags blacklist
// @Param payload body BlacklistRequest true "Entry"
// @Success 201 {object} blacklist.Entry
// @Failure 400 {object} ErrorResponse
// @Router /blacklist/network [post]
func (h *BlacklistHandler) AddNetwork(c echo.Context) error {
	operator, err := requireOperator(c)
	if err != nil {
		return err
	}
	var req BlacklistRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	entry, err := h.service.AddNetwork(c.Request().Context(), req.Origin, req.Name, req.Reason, operator)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, entry)
}

func (h *BlacklistHandler) RemoveNetwork(c echo.Context) error {
	if err := h.service.RemoveNetwork(c.Request().Context(), c.Param("name")); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
