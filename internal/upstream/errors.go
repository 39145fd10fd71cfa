package upstream

import (
	"errors"
	"fmt"

	"github.com/n0madic/go-mnmlgate/internal/codec"
)

var (
	ErrMissingAPIKey        = errors.New("MNML_API_KEY missing")
	ErrMissingRequiredImage = errors.New("image is required for this tool")
	ErrMissingRequiredMask  = errors.New("mask is required for this tool")
	ErrInvalidPayload       = errors.New("invalid JSON payload")
	ErrInvalidField         = errors.New("invalid field value")
	ErrMissingJobID         = errors.New("job id is required")
	// ErrUnavailable wraps transport failures: DNS, refused connections, timeouts.
	ErrUnavailable = errors.New("upstream unavailable")
)

// Error is a non-2xx upstream response. Body is the verbatim response text.
type Error struct {
	StatusCode int
	Body       []byte
}

func (e *Error) Error() string {
	return codec.FormatUpstreamError(e.StatusCode, e.Body)
}

// MalformedResponseError is a 2xx upstream response whose body is not JSON.
type MalformedResponseError struct {
	StatusCode int
	Body       []byte
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("upstream returned non-JSON body (HTTP %d): %s", e.StatusCode, codec.CompactBodyPreview(e.Body, 280))
}
