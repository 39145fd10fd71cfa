package codec

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// errorMessagePaths are the places mnml error bodies carry a readable
// message: {"detail":"..."}, {"detail":[{"msg":"..."}]},
// {"error":"...","details":{...}} and {"status":"failed","message":"..."}.
var errorMessagePaths = []string{"detail", "detail.0.msg", "error", "error.message", "message"}

// FormatUpstreamError describes a non-2xx upstream answer for logs and errors.
func FormatUpstreamError(statusCode int, rawBody []byte) string {
	status := fmt.Sprintf("%d", statusCode)
	if text := http.StatusText(statusCode); text != "" {
		status = fmt.Sprintf("%d %s", statusCode, text)
	}
	if msg := ExtractUpstreamErrorMessage(rawBody); msg != "" {
		return fmt.Sprintf("mnml returned HTTP %s: %s", status, msg)
	}
	if preview := CompactBodyPreview(rawBody, 280); preview != "" {
		return fmt.Sprintf("mnml returned HTTP %s: %s", status, preview)
	}
	return fmt.Sprintf("mnml returned HTTP %s with empty body", status)
}

// ExtractUpstreamErrorMessage returns the first non-blank string found at
// errorMessagePaths, or "" when the body is not JSON or has none.
func ExtractUpstreamErrorMessage(rawBody []byte) string {
	if !gjson.ValidBytes(rawBody) {
		return ""
	}
	doc := gjson.ParseBytes(rawBody)
	for _, path := range errorMessagePaths {
		v := doc.Get(path)
		if v.Type == gjson.String {
			if msg := strings.TrimSpace(v.Str); msg != "" {
				return msg
			}
		}
	}
	return ""
}

// CompactBodyPreview collapses whitespace and truncates to maxLen bytes.
func CompactBodyPreview(rawBody []byte, maxLen int) string {
	clean := strings.Join(strings.Fields(string(rawBody)), " ")
	if len(clean) <= maxLen {
		return clean
	}
	return clean[:maxLen] + "..."
}
