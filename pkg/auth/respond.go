package auth

import (
	"encoding/json"
	"net/http"

	sserr "github.com/StricklySoft/bearer-relay/pkg/errors"
)

// ErrorBody is the JSON envelope for every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the payload of [ErrorBody].
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes err as a JSON envelope with the status its code maps
// to. Errors that are not *sserr.Error become a generic 500 so their
// text never reaches the client. 401 responses carry a Bearer challenge.
func WriteError(w http.ResponseWriter, err error) {
	ssErr := sserr.FromError(err)
	if ssErr == nil {
		ssErr = sserr.Internal("internal error")
	}
	status := ssErr.HTTPStatus()
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorBody{Error: ErrorDetail{
		Code:    ssErr.Code.String(),
		Message: ssErr.Message,
	}})
}
