package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"spacecomms/pkg/types"

	"go.uber.org/zap"
)

// ErrorResponse is the body of every non-2xx operator response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// statusFor maps an error kind onto an HTTP status and error code.
func statusFor(err error) (int, string) {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return http.StatusRequestEntityTooLarge, "payload_too_large"
	}
	switch types.KindOf(err) {
	case types.KindParse:
		return http.StatusBadRequest, "parse_failed"
	case types.KindValidation:
		return http.StatusBadRequest, "validation_failed"
	case types.KindProtocol:
		return http.StatusBadRequest, "protocol_error"
	case types.KindNotFound:
		return http.StatusNotFound, "not_found"
	case types.KindAlreadyExists:
		return http.StatusConflict, "already_exists"
	}
	return http.StatusInternalServerError, "internal_error"
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		msg = "internal server error"
	}
	writeJSON(w, status, ErrorResponse{Error: code, Message: msg})
}

// readBody reads the whole request body; an oversized body surfaces as
// *http.MaxBytesError.
func readBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, err
		}
		return nil, types.Wrap(types.KindIO, err, "read request body")
	}
	return data, nil
}

// decodeJSON decodes a request body into v. Malformed JSON and unknown
// enum values are Parse errors. An empty body leaves v untouched when
// allowEmpty is set.
func decodeJSON(r *http.Request, v interface{}, allowEmpty bool) error {
	data, err := readBody(r)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		if allowEmpty {
			return nil
		}
		return types.Errorf(types.KindParse, "request body is required")
	}
	if err := json.Unmarshal(data, v); err != nil {
		if types.IsParse(err) {
			return err
		}
		return types.Wrap(types.KindParse, err, "invalid request body")
	}
	return nil
}
