package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mwiater/refiner/internal/history"
	"github.com/mwiater/refiner/internal/logging"
	"github.com/mwiater/refiner/internal/pipeline"
	"github.com/mwiater/refiner/internal/settings"
)

// RefineRequest is the body of POST /v1/refine.
type RefineRequest struct {
	Prompt string `json:"prompt"`
}

// RefineResponse is returned by POST /v1/refine for completed and failed runs.
type RefineResponse struct {
	*pipeline.Result
	Error   string `json:"error,omitempty"`
	Warning string `json:"warning,omitempty"`
}

// StageInfo describes one catalog stage under the active configuration.
type StageInfo struct {
	Index          int    `json:"index"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	Component      string `json:"component"`
	External       bool   `json:"external"`
	BaseDurationMS int64  `json:"baseDurationMs"`
}

func contextWithTimeout(c echo.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), d)
}

func errorJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"error": msg})
}

// Refine runs a prompt through the pipeline with the active configuration.
// POST /v1/refine
func (s *Server) Refine(c echo.Context) error {
	var req RefineRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return errorJSON(c, http.StatusBadRequest, "prompt is required")
	}

	ctx, cancel := contextWithTimeout(c, s.runTimeout)
	defer cancel()

	res, err := s.orchestrator.Execute(ctx, req.Prompt, s.settings.Current())
	var stageErr *pipeline.StageError
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, RefineResponse{Result: res})
	case errors.Is(err, pipeline.ErrBusy):
		return errorJSON(c, http.StatusConflict, err.Error())
	case errors.Is(err, pipeline.ErrEmptyPrompt), errors.Is(err, settings.ErrInvalidConfiguration):
		return errorJSON(c, http.StatusBadRequest, err.Error())
	case errors.As(err, &stageErr):
		return c.JSON(http.StatusUnprocessableEntity, RefineResponse{Result: res, Error: stageErr.Error()})
	case res != nil && res.Metrics != nil:
		// Completed, but the history entry could not be written.
		return c.JSON(http.StatusOK, RefineResponse{Result: res, Warning: err.Error()})
	default:
		logging.LogEvent("[HTTP] refine failed: %v", err)
		return errorJSON(c, http.StatusInternalServerError, "refine failed")
	}
}

// ActiveRun returns a snapshot of the in-flight run.
// GET /v1/runs/active
func (s *Server) ActiveRun(c echo.Context) error {
	r, ok := s.orchestrator.Active()
	if !ok {
		return errorJSON(c, http.StatusNotFound, "no active run")
	}
	return c.JSON(http.StatusOK, r)
}

// CancelRun cancels the in-flight run.
// POST /v1/runs/active/cancel
func (s *Server) CancelRun(c echo.Context) error {
	if !s.orchestrator.Cancel() {
		return errorJSON(c, http.StatusNotFound, "no active run")
	}
	return c.JSON(http.StatusAccepted, map[string]bool{"canceled": true})
}

// ListHistory returns completed runs, newest first.
// GET /v1/history
func (s *Server) ListHistory(c echo.Context) error {
	entries, err := s.orchestrator.History().All(c.Request().Context())
	if err != nil {
		logging.LogEvent("[HTTP] list history: %v", err)
		return errorJSON(c, http.StatusInternalServerError, "failed to list history")
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	return c.JSON(http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

// GetHistoryEntry returns the newest history entry recorded for a run.
// GET /v1/history/:id
func (s *Server) GetHistoryEntry(c echo.Context) error {
	e, err := history.Find(c.Request().Context(), s.orchestrator.History(), c.Param("id"))
	if errors.Is(err, history.ErrNotFound) {
		return errorJSON(c, http.StatusNotFound, err.Error())
	}
	if err != nil {
		logging.LogEvent("[HTTP] get history entry: %v", err)
		return errorJSON(c, http.StatusInternalServerError, "failed to read history")
	}
	return c.JSON(http.StatusOK, e)
}

// ClearHistory removes every history entry.
// DELETE /v1/history
func (s *Server) ClearHistory(c echo.Context) error {
	if err := s.orchestrator.History().Clear(c.Request().Context()); err != nil {
		logging.LogEvent("[HTTP] clear history: %v", err)
		return errorJSON(c, http.StatusInternalServerError, "failed to clear history")
	}
	return c.NoContent(http.StatusNoContent)
}

// GetConfig returns the active pipeline configuration.
// GET /v1/config
func (s *Server) GetConfig(c echo.Context) error {
	return c.JSON(http.StatusOK, s.settings.Current())
}

// patchValue renders a decoded JSON value in the textual form settings.Apply
// parses. Numbers are written without an exponent.
func patchValue(v any) string {
	switch v := v.(type) {
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// PatchConfig assigns the fields present in the body. Either every field is
// applied or none is.
// PATCH /v1/config
func (s *Server) PatchConfig(c echo.Context) error {
	var patch map[string]any
	if err := c.Bind(&patch); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if len(patch) == 0 {
		return errorJSON(c, http.StatusBadRequest, "no fields to update")
	}

	fields := make([]string, 0, len(patch))
	for field := range patch {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	cfg, err := s.settings.Update(func(cfg *settings.Configuration) error {
		for _, field := range fields {
			if err := cfg.Apply(field, patchValue(patch[field])); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, cfg)
}

// ResetConfig restores the default configuration.
// POST /v1/config/reset
func (s *Server) ResetConfig(c echo.Context) error {
	return c.JSON(http.StatusOK, s.settings.Reset())
}

// ExportConfig returns the configuration with its technique catalogue.
// GET /v1/config/export?format=yaml|json
func (s *Server) ExportConfig(c echo.Context) error {
	format := c.QueryParam("format")
	data, err := settings.ExportDocument(s.settings.Current(), format, s.now())
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	contentType := "application/yaml"
	if strings.EqualFold(format, "json") {
		contentType = echo.MIMEApplicationJSON
	}
	return c.Blob(http.StatusOK, contentType, data)
}

// ListStages returns the stage catalog with base durations for the active configuration.
// GET /v1/stages
func (s *Server) ListStages(c echo.Context) error {
	cfg := s.settings.Current()
	catalog := s.orchestrator.Catalog()
	out := make([]StageInfo, len(catalog))
	for i, def := range catalog {
		out[i] = StageInfo{
			Index:          def.Index,
			Name:           def.Name,
			Description:    def.Description,
			Component:      def.Component,
			External:       def.External(),
			BaseDurationMS: def.BaseDuration(cfg).Milliseconds(),
		}
	}
	return c.JSON(http.StatusOK, out)
}

// Health returns health status.
// GET /healthz
func (s *Server) Health(c echo.Context) error {
	_, busy := s.orchestrator.Active()
	return c.JSON(http.StatusOK, map[string]any{
		"status":      "healthy",
		"busy":        busy,
		"subscribers": s.orchestrator.Bus().Subscribers(),
		"time":        s.now().UTC().Format(time.RFC3339),
	})
}
