// Package httpx provides HTTP response utilities.
package httpx

import (
	"context"
	"errors"
	"net/http"
)

// RespondError is the fallback mapping for errors a handler does not map to a
// specific status itself.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		Problem(w, http.StatusGatewayTimeout, "Timeout", "the request took too long to process")
	case errors.Is(err, context.Canceled):
		Problem(w, http.StatusRequestTimeout, "Cancelled", "the request was cancelled")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
