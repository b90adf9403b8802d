package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/inquestai/inquest/internal/history"
)

const defaultSearchLimit = 20

func (s *Server) listHistory(c echo.Context) error {
	if s.Archive == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "history disabled")
	}
	entries, err := s.Archive.List(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"items": entries})
}

func (s *Server) getHistory(c echo.Context) error {
	if s.Archive == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "history disabled")
	}
	taskID := strings.TrimSpace(c.Param("task_id"))
	if taskID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "task_id required")
	}
	entry, err := s.Archive.Get(c.Request().Context(), taskID)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "task not found")
		}
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(http.StatusOK, entry)
}

func (s *Server) searchHistory(c echo.Context) error {
	if s.Archive == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "history disabled")
	}
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q required")
	}
	limit := defaultSearchLimit
	if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	entries, err := s.Archive.Search(c.Request().Context(), q, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"items": entries, "query": q})
}
