package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/n0madic/go-mnmlgate/internal/codec"
	"github.com/n0madic/go-mnmlgate/internal/history"
	"github.com/n0madic/go-mnmlgate/internal/normalize"
	"github.com/n0madic/go-mnmlgate/internal/tools"
	"github.com/n0madic/go-mnmlgate/internal/upstream"
)

// inputError is a request that failed route-level validation.
type inputError struct {
	msg string
}

func (e *inputError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &inputError{msg: fmt.Sprintf(format, args...)}
}

// unexpectedResultError is a successful upstream answer that lacks what a
// dedicated route needs to build its response.
type unexpectedResultError struct {
	route string
	body  []byte
}

func (e *unexpectedResultError) Error() string {
	return fmt.Sprintf("%s: unexpected upstream result: %s", e.route, codec.CompactBodyPreview(e.body, 1024))
}

// statusFor maps err onto the HTTP status and detail text sent to callers.
func statusFor(err error) (int, string) {
	var (
		inErr     *inputError
		upErr     *upstream.Error
		malformed *upstream.MalformedResponseError
		unexpect  *unexpectedResultError
	)
	switch {
	case errors.As(err, &inErr),
		errors.Is(err, upstream.ErrInvalidPayload),
		errors.Is(err, upstream.ErrInvalidField),
		errors.Is(err, upstream.ErrMissingRequiredImage),
		errors.Is(err, upstream.ErrMissingRequiredMask),
		errors.Is(err, upstream.ErrMissingJobID),
		errors.Is(err, tools.ErrUnknownTool),
		errors.Is(err, tools.ErrInvalidEndpoint),
		history.IsInputError(err):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, history.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, upstream.ErrMissingAPIKey):
		return http.StatusInternalServerError, err.Error()
	case errors.As(err, &upErr):
		detail := string(upErr.Body)
		if strings.TrimSpace(detail) == "" {
			detail = upErr.Error()
		}
		status := upErr.StatusCode
		if status < 400 || status > 599 {
			status = http.StatusBadGateway
		}
		return status, detail
	case errors.As(err, &malformed),
		errors.As(err, &unexpect),
		errors.Is(err, normalize.ErrMissingJobID):
		return http.StatusInternalServerError, err.Error()
	case errors.Is(err, upstream.ErrUnavailable):
		return http.StatusBadGateway, err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

func writeFailure(w http.ResponseWriter, err error) {
	status, detail := statusFor(err)
	codec.WriteError(w, status, detail)
}
