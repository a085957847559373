package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

// HttpError carries the status code a request failure is reported with.
type HttpError struct {
	StatusCode int
	Err        error
}

func NewHttpError(sc int, err error) *HttpError {
	return &HttpError{StatusCode: sc, Err: err}
}

func (e *HttpError) Error() string {
	return fmt.Sprintf("Error %d: %v", e.StatusCode, e.Err)
}

func (e *HttpError) Unwrap() error { return e.Err }

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// Params -
func Params(r *http.Request) map[string]string {
	return mux.Vars(r)
}

// UnmarshalRequest -
func UnmarshalRequest(r *http.Request, model interface{}) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, model); err != nil {
		return NewHttpError(http.StatusBadRequest, err)
	}

	return nil
}

// StatusCode returns the HTTP status a failure is reported with.
func StatusCode(err error) int {
	var e *HttpError
	if errors.As(err, &e) {
		return e.StatusCode
	}

	switch KindOf(err) {
	case TransportIo:
		return http.StatusBadGateway
	case ProtocolTimeout:
		return http.StatusGatewayTimeout
	case MalformedHeader, MalformedTable, TruncatedRecord:
		return http.StatusUnprocessableEntity
	}

	return http.StatusInternalServerError
}

// EncodeResponse -
func EncodeResponse(s interface{}, err error, w http.ResponseWriter) {
	if err != nil {
		log.WithError(err).Warn("Diagnostics Request Error")

		resp := ErrorResponse{Error: err.Error()}
		if kind := KindOf(err); kind != UnknownErrorKind {
			resp.Kind = kind.String()
		}

		s = resp
	}

	var response []byte
	if s != nil {
		var merr error
		if response, merr = json.Marshal(s); merr != nil {
			log.WithError(merr).Error("Failed to marshal json response")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
	}

	if err != nil {
		w.WriteHeader(StatusCode(err))
	}

	if response != nil {
		if _, err := w.Write(response); err != nil {
			log.WithError(err).Error("Failed to write json response")
		}
	}
}
