package httpadapter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	"redflag/internal/domain"
	"redflag/internal/services/export"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeJSON encodes v in full before the status line is written; a value
// that cannot be encoded is answered with 500.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		s.log.WithError(err).WithField("status", status).Error("encode response")
		buf.Reset()
		_ = json.NewEncoder(&buf).Encode(errorBody{Error: string(domain.KindInternal), Message: "internal error"})
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.log.WithError(err).Debug("write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, kind, msg string) {
	s.writeJSON(w, status, errorBody{Error: kind, Message: msg})
}

func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInvalidTransition, domain.KindConflict:
		return http.StatusConflict
	case domain.KindReasonRequired, domain.KindInvalidCitationShape, domain.KindInvalidDuration,
		domain.KindEmptyPlan, domain.KindInvalidOverride:
		return http.StatusUnprocessableEntity
	case domain.KindInvalidInput, domain.KindEmptySelection, domain.KindUnknownOperation:
		return http.StatusBadRequest
	case domain.KindTooLarge:
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}

type tooLargeBody struct {
	errorBody
	EstimatedRows    int               `json:"estimated_rows"`
	Limit            int               `json:"limit"`
	SuggestedFilters domain.FlagFilter `json:"suggested_filters"`
}

// fail maps err onto a status code. Internal errors are logged and reported
// without detail.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var tl *export.TooLargeError
	if errors.As(err, &tl) {
		s.writeJSON(w, http.StatusRequestEntityTooLarge, tooLargeBody{
			errorBody:        errorBody{Error: string(domain.KindTooLarge), Message: tl.Error()},
			EstimatedRows:    tl.Estimated,
			Limit:            tl.Limit,
			SuggestedFilters: tl.Suggested,
		})
		return
	}
	kind := domain.KindOf(err)
	if kind == domain.KindInternal {
		s.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		s.writeError(w, http.StatusInternalServerError, string(kind), "internal error")
		return
	}
	s.writeError(w, statusFor(kind), string(kind), domain.MessageOf(err))
}

// decodeBody decodes a JSON body, rejecting unknown fields.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.Errorf(domain.KindInvalidInput, "request body is required")
		}
		return domain.Errorf(domain.KindInvalidInput, "invalid request body: %v", err)
	}
	return nil
}

func pathParam(r *http.Request, name string) (string, error) {
	var v string
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), &v,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true})
	if err != nil {
		return "", domain.Errorf(domain.KindInvalidInput, "invalid %s: %v", name, err)
	}
	return v, nil
}

// parseTime accepts RFC 3339 timestamps or plain dates.
func parseTime(name, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t, err = time.Parse(time.DateOnly, s)
	}
	if err != nil {
		return nil, domain.Errorf(domain.KindInvalidInput, "%s must be an RFC 3339 time or YYYY-MM-DD date", name)
	}
	t = t.UTC()
	return &t, nil
}

func attachment(filename string) string {
	return fmt.Sprintf("attachment; filename=%q", filename)
}
