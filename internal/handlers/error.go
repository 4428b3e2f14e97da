package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/guildgate/guildgate/internal/auth"
	"github.com/guildgate/guildgate/internal/blacklist"
	"github.com/guildgate/guildgate/internal/identity"
	"github.com/guildgate/guildgate/internal/review"
	"github.com/guildgate/guildgate/internal/schedule"
	"github.com/guildgate/guildgate/internal/sections"
)

// ErrorResponse is the standard API error body (message only).
type ErrorResponse struct {
	Message string `json:"message"`
}

// toHTTPError maps domain errors to HTTP status codes.
func toHTTPError(err error) error {
	switch {
	case errors.Is(err, blacklist.ErrEntryNotFound),
		errors.Is(err, identity.ErrRecordNotFound),
		errors.Is(err, identity.ErrNameNotLinked),
		errors.Is(err, review.ErrRequestNotFound),
		errors.Is(err, schedule.ErrJobNotFound),
		errors.Is(err, sections.ErrSectionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, blacklist.ErrInvalidEntry),
		errors.Is(err, identity.ErrInvalidName),
		errors.Is(err, review.ErrInvalidOutcome):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, identity.ErrConflict),
		errors.Is(err, identity.ErrAlternateLimit),
		errors.Is(err, identity.ErrVersionConflict),
		errors.Is(err, review.ErrAlreadyPending):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// requireOperator returns the subject of the caller's admin token.
func requireOperator(c echo.Context) (string, error) {
	sub, err := auth.SubjectFromContext(c)
	if err != nil {
		return "", echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	return sub, nil
}
