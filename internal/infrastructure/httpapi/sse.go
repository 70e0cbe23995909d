package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// handleStream pushes the run state as server-sent events: once on connect and
// again after every change signal. Comment heartbeats keep idle proxies open.
func (s *Server) handleStream(c echo.Context) error {
	w := c.Response()
	flusher, ok := w.Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "streaming not supported")
	}

	updates, unsubscribe := s.ctrl.Subscribe()
	defer unsubscribe()

	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	seq := 0
	send := func() error {
		data, err := json.Marshal(s.ctrl.State())
		if err != nil {
			return fmt.Errorf("marshal state: %w", err)
		}
		seq++
		if _, err := fmt.Fprintf(w, "id: %d\nevent: state\ndata: %s\n\n", seq, data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := send(); err != nil {
		s.logger.Debug("state stream closed", "error", err)
		return nil
	}

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": heartbeat\n\n")); err != nil {
				s.logger.Debug("state stream closed during heartbeat", "error", err)
				return nil
			}
			flusher.Flush()
		case <-updates:
			if err := send(); err != nil {
				s.logger.Debug("state stream closed", "error", err)
				return nil
			}
		}
	}
}
