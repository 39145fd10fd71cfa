package upstream

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"os"
	"strings"
)

// maxDumpBodyBytes caps how much of an upstream body is echoed in debug mode.
const maxDumpBodyBytes = 16 * 1024

// dumpUpstreamRequest writes request headers only; bodies carry image uploads.
func (c *Client) dumpUpstreamRequest(req *http.Request) {
	if c == nil || !c.Debug || req == nil {
		return
	}
	dump, err := httputil.DumpRequestOut(req, false)
	if err != nil {
		slog.Error("upstream.request.dump.failed", "error", err)
		return
	}
	c.writeDebugDumpBlock("UPSTREAM REQUEST", redactAuthorization(dump))
}

func (c *Client) dumpUpstreamResponse(resp *http.Response, body []byte) {
	if c == nil || !c.Debug || resp == nil {
		return
	}
	headerDump, err := httputil.DumpResponse(resp, false)
	if err != nil {
		slog.Error("upstream.response.dump.failed", "error", err)
	} else {
		c.writeDebugDumpBlock("UPSTREAM RESPONSE", headerDump)
	}

	title := fmt.Sprintf("UPSTREAM RESPONSE BODY status=%d", resp.StatusCode)
	if len(body) > maxDumpBodyBytes {
		truncated := append([]byte{}, body[:maxDumpBodyBytes]...)
		truncated = append(truncated, fmt.Sprintf("\n... [%d bytes truncated]", len(body)-maxDumpBodyBytes)...)
		body = truncated
	}
	c.writeDebugDumpBlock(title, body)
}

func (c *Client) writeDebugDumpBlock(title string, data []byte) {
	c.dumpMu.Lock()
	defer c.dumpMu.Unlock()

	header := "===== " + strings.TrimSpace(title) + " BEGIN =====\n"
	footer := "===== " + strings.TrimSpace(title) + " END =====\n"

	if _, err := os.Stderr.WriteString(header); err != nil {
		slog.Error("upstream.dump.write.failed", "title", title, "error", err)
		return
	}
	if len(data) > 0 {
		if _, err := os.Stderr.Write(data); err != nil {
			slog.Error("upstream.dump.write.failed", "title", title, "error", err)
			return
		}
		if data[len(data)-1] != '\n' {
			os.Stderr.WriteString("\n") //nolint:errcheck
		}
	}
	if _, err := os.Stderr.WriteString(footer); err != nil {
		slog.Error("upstream.dump.write.failed", "title", title, "error", err)
	}
}

// redactAuthorization masks bearer tokens in a raw header dump.
func redactAuthorization(dump []byte) []byte {
	lines := strings.Split(string(dump), "\r\n")
	for i, line := range lines {
		name, _, ok := strings.Cut(line, ":")
		if ok && strings.EqualFold(strings.TrimSpace(name), "Authorization") {
			lines[i] = name + ": Bearer [redacted]"
		}
	}
	return []byte(strings.Join(lines, "\r\n"))
}
