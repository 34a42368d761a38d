// Package response writes the JSON envelope every handler replies with.
package response

import (
	"encoding/json"
	"net/http"
)

// Response is the envelope of every JSON reply. Error is empty on success.
type Response struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data"`
}

// WriteJSON replies with status and the envelope. A body that cannot be encoded
// becomes a plain 500; a failed write is dropped since the status is already out.
func WriteJSON(w http.ResponseWriter, status int, message string, data any, err error) {
	r := Response{
		Message: message,
		Data:    data,
	}

	if err != nil {
		r.Error = err.Error()
	}

	body, marshalErr := json.Marshal(r)
	if marshalErr != nil {
		http.Error(w, marshalErr.Error(), http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func OK(w http.ResponseWriter, message string, res any, err error) {
	WriteJSON(w, http.StatusOK, message, res, err)
}

// NoContent writes a bare 204; the status forbids a body.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func Accepted(w http.ResponseWriter, message string, res any, err error) {
	WriteJSON(w, http.StatusAccepted, message, res, err)
}

func BadRequest(w http.ResponseWriter, message string, err error) {
	WriteJSON(w, http.StatusBadRequest, message, nil, err)
}

func UnprocessableEntity(w http.ResponseWriter, message string, err error) {
	WriteJSON(w, http.StatusUnprocessableEntity, message, nil, err)
}

func InternalServerError(w http.ResponseWriter, message string, res any, err error) {
	WriteJSON(w, http.StatusInternalServerError, message, res, err)
}

func NotFound(w http.ResponseWriter, message string, err error) {
	WriteJSON(w, http.StatusNotFound, message, nil, err)
}

func Conflict(w http.ResponseWriter, message string, err error) {
	WriteJSON(w, http.StatusConflict, message, nil, err)
}

func BadGateway(w http.ResponseWriter, message string, res any, err error) {
	WriteJSON(w, http.StatusBadGateway, message, res, err)
}

func ServiceUnavailable(w http.ResponseWriter, message string, err error) {
	WriteJSON(w, http.StatusServiceUnavailable, message, nil, err)
}
