package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/existflow/irondesk/internal/apperr"
	"github.com/existflow/irondesk/internal/gateway"
	"github.com/existflow/irondesk/internal/logger"
	"github.com/existflow/irondesk/internal/model"
	"github.com/labstack/echo/v4"
)

// maxBodyBytes caps a record payload
const maxBodyBytes = 1 << 20

// handleInsert creates a record in both representations
func (s *Server) handleInsert(c echo.Context) error {
	table, err := writableTable(c)
	if err != nil {
		return s.fail(c, err)
	}

	rec, err := decodeRecord(c)
	if err != nil {
		return s.fail(c, err)
	}

	out, err := s.store.Insert(c.Request().Context(), table, rec)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]any{"data": out})
}

// handleUpdate patches a record
func (s *Server) handleUpdate(c echo.Context) error {
	table, err := writableTable(c)
	if err != nil {
		return s.fail(c, err)
	}
	id := c.Param("id")

	patch, err := decodeRecord(c)
	if err != nil {
		return s.fail(c, err)
	}
	if pid, ok := patch["id"]; ok && pid != id {
		return s.fail(c, apperr.New(apperr.CodeInvalid, "patch id does not match path"))
	}

	out, err := s.store.Update(c.Request().Context(), table, id, patch)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"data": out})
}

// handleDelete removes a record
func (s *Server) handleDelete(c echo.Context) error {
	table, err := writableTable(c)
	if err != nil {
		return s.fail(c, err)
	}

	if err := s.store.Delete(c.Request().Context(), table, c.Param("id")); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// handleSelect returns a snapshot
func (s *Server) handleSelect(c echo.Context) error {
	table, err := parseTable(c)
	if err != nil {
		return s.fail(c, err)
	}

	q, err := parseQuery(c)
	if err != nil {
		return s.fail(c, err)
	}

	recs, err := s.store.SelectAll(c.Request().Context(), table, q)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"data": recs})
}

func parseTable(c echo.Context) (model.Table, error) {
	table := model.Table(c.Param("table"))
	if err := checkTable(table); err != nil {
		return "", err
	}
	return table, nil
}

// writableTable rejects tables that are pull-only
func writableTable(c echo.Context) (model.Table, error) {
	table, err := parseTable(c)
	if err != nil {
		return "", err
	}
	if !table.Queueable() {
		return "", &httpError{status: http.StatusForbidden, msg: fmt.Sprintf("table %s is read-only", table)}
	}
	return table, nil
}

// decodeRecord reads the JSON body. echo's Bind is avoided because it
// would copy path params into a map target.
func decodeRecord(c echo.Context) (model.Record, error) {
	var rec model.Record
	body := http.MaxBytesReader(c.Response(), c.Request().Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&rec); err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalid, "invalid request body", err)
	}
	if rec == nil {
		return nil, apperr.New(apperr.CodeInvalid, "request body must be a JSON object")
	}
	return rec, nil
}

func parseQuery(c echo.Context) (gateway.Query, error) {
	var q gateway.Query

	if v := c.QueryParam("since"); v != "" {
		since, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return q, apperr.Wrap(apperr.CodeInvalid, "invalid since", err)
		}
		q.Since = since
	}
	q.OrderBy = c.QueryParam("order")
	if v := c.QueryParam("desc"); v != "" {
		desc, err := strconv.ParseBool(v)
		if err != nil {
			return q, apperr.Wrap(apperr.CodeInvalid, "invalid desc", err)
		}
		q.Descending = desc
	}
	if v := c.QueryParam("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return q, apperr.New(apperr.CodeInvalid, fmt.Sprintf("invalid limit %q", v))
		}
		q.Limit = limit
	}
	return q, checkQuery(q)
}

type httpError struct {
	status int
	msg    string
}

func (e *httpError) Error() string { return e.msg }

// statusFor maps an error code to the HTTP status the gateway client
// understands
func statusFor(err error) int {
	if he, ok := err.(*httpError); ok {
		return he.status
	}
	switch apperr.CodeOf(err) {
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeInvalid:
		return http.StatusBadRequest
	case apperr.CodeConflict:
		return http.StatusConflict
	case apperr.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c echo.Context, err error) error {
	status := statusFor(err)
	msg := err.Error()
	if status >= 500 {
		logger.Error("Request failed",
			logger.F("method", c.Request().Method),
			logger.F("path", c.Path()),
			logger.F("table", c.Param("table")),
			logger.F("id", c.Param("id")),
			logger.F("error", msg))
		msg = "internal error"
	}
	return c.JSON(status, map[string]string{"error": msg})
}
