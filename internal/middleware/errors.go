package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/relaymux/llmgate/internal/apierr"
)

// WriteError renders a structured apierr.Error to the response, setting
// Retry-After when the error carries one
func WriteError(w http.ResponseWriter, err error) {
	apiErr, ok := err.(*apierr.Error)
	if !ok {
		apiErr = apierr.New(apierr.Internal, err.Error(), "")
	}
	if apiErr.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(apiErr.RetryAfterSeconds))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.HTTPStatus())
	_ = json.NewEncoder(w).Encode(json.RawMessage(apiErr.ToJSON()))
}
