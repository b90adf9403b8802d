package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/inquestai/inquest/internal/checkpoint"
	"github.com/inquestai/inquest/internal/dispatch"
	"github.com/inquestai/inquest/internal/relay"
)

// ssePingInterval keeps idle streams alive through proxies.
const ssePingInterval = 30 * time.Second

func (s *Server) submitResearch(c echo.Context) error {
	var req dispatch.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ticket, err := s.Dispatcher.Submit(c.Request().Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, dispatch.ErrInvalidRequest):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case errors.Is(err, dispatch.ErrDuplicateTask):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		default:
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		}
	}
	return c.JSON(http.StatusAccepted, ticket)
}

type researchStatusResponse struct {
	TaskID    string    `json:"task_id"`
	Status    string    `json:"status"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Server) researchStatus(c echo.Context) error {
	taskID := strings.TrimSpace(c.Param("task_id"))
	if taskID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "task_id required")
	}
	snap, err := s.Store.Get(c.Request().Context(), taskID)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "task not found")
		}
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(http.StatusOK, researchStatusResponse{
		TaskID:    snap.TaskID,
		Status:    snap.Status,
		Version:   snap.Version,
		UpdatedAt: snap.UpdatedAt,
	})
}

func (s *Server) cancelResearch(c echo.Context) error {
	taskID := strings.TrimSpace(c.Param("task_id"))
	if taskID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "task_id required")
	}
	if err := s.Dispatcher.Cancel(c.Request().Context(), taskID); err != nil {
		if errors.Is(err, dispatch.ErrUnknownTask) {
			return echo.NewHTTPError(http.StatusNotFound, "task not found")
		}
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{"task_id": taskID, "status": "cancelling"})
}

// streamResearch relays run events to the client as Server-Sent Events.
// The stream closes after the terminal done or error event; clients that
// attach after completion receive the replayed history and an immediate
// close.
func (s *Server) streamResearch(c echo.Context) error {
	taskID := strings.TrimSpace(c.Param("task_id"))
	if taskID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "task_id required")
	}
	ctx := c.Request().Context()
	if _, err := s.Store.Get(ctx, taskID); err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "task not found")
		}
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}

	events, cancel, err := s.Subscriber.Subscribe(ctx, taskID)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	defer cancel()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}

	ping := time.NewTicker(ssePingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ping.C:
			if _, err := resp.Write([]byte("event: ping\ndata: {}\n\n")); err != nil {
				return nil
			}
			flusher.Flush()
		case ev, open := <-events:
			if !open {
				return nil
			}
			if err := writeSSEEvent(resp, ev); err != nil {
				return nil
			}
			flusher.Flush()
			if ev.Terminal() {
				return nil
			}
		}
	}
}

// writeSSEEvent frames one relay event. Stream payloads carry the thread
// identifiers in camelCase alongside the event body.
func writeSSEEvent(w http.ResponseWriter, ev relay.Event) error {
	body := map[string]interface{}{}
	if len(ev.Payload) > 0 {
		if err := json.Unmarshal(ev.Payload, &body); err != nil {
			body = map[string]interface{}{}
		}
	}
	body["threadId"] = ev.ThreadID
	body["threadItemId"] = ev.ThreadItemID
	body["seq"] = ev.Seq
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("event: " + string(ev.Type) + "\n")); err != nil {
		return err
	}
	_, err = w.Write([]byte("data: " + string(data) + "\n\n"))
	return err
}
