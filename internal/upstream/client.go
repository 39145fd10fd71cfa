package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	"github.com/n0madic/go-mnmlgate/internal/config"
	"github.com/n0madic/go-mnmlgate/internal/tools"
)

const (
	// defaultTimeout bounds a single upstream call when Options.Timeout is unset.
	defaultTimeout = 120 * time.Second
	// maxResponseBytes caps how much of an upstream body is buffered.
	maxResponseBytes = 32 * 1024 * 1024
)

// File is one binary attachment forwarded to the upstream.
type File struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Attachments are the optional file parts of a tool invocation.
type Attachments struct {
	Image          *File
	Mask           *File
	ReferenceImage *File
}

type filePart struct {
	field string
	file  *File
}

func (a Attachments) parts() []filePart {
	var out []filePart
	if a.Image != nil {
		out = append(out, filePart{"image", a.Image})
	}
	if a.Mask != nil {
		out = append(out, filePart{"mask", a.Mask})
	}
	if a.ReferenceImage != nil {
		out = append(out, filePart{"reference_image", a.ReferenceImage})
	}
	return out
}

// Fields lists the form field names of the attachments present.
func (a Attachments) Fields() []string {
	parts := a.parts()
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		names = append(names, p.field)
	}
	return names
}

// Empty reports whether no attachment is present.
func (a Attachments) Empty() bool {
	return a.Image == nil && a.Mask == nil && a.ReferenceImage == nil
}

// Options configures a Client.
type Options struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	Verbose bool
	Debug   bool
	// Transport overrides the base round tripper under the bearer-token transport.
	Transport http.RoundTripper
}

// Client sends tool invocations and status queries to the mnml API.
// It holds no per-request state and is safe for concurrent use.
type Client struct {
	BaseURL string
	Verbose bool
	Debug   bool

	hasKey     bool
	httpClient *http.Client
	dumpMu     sync.Mutex
}

// NewClient creates a client that authenticates every request with opts.APIKey.
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = config.UpstreamBaseURL
	}
	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	apiKey := strings.TrimSpace(opts.APIKey)
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: apiKey, TokenType: "Bearer"})

	return &Client{
		BaseURL: baseURL,
		Verbose: opts.Verbose,
		Debug:   opts.Debug,
		hasKey:  apiKey != "",
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: &oauth2.Transport{Source: src, Base: base},
		},
	}
}

// Invoke performs exactly one upstream call for the given tool. Default
// payload fields are merged under payload before sending. A multipart body
// is used when any attachment is present, a form-encoded body otherwise.
func (c *Client) Invoke(ctx context.Context, desc tools.Descriptor, att Attachments, payload Payload) (json.RawMessage, error) {
	if err := CheckAttachments(desc, att); err != nil {
		return nil, err
	}
	if !c.hasKey {
		return nil, ErrMissingAPIKey
	}

	fields := Merge(desc.DefaultPayload, payload)
	if err := checkAllowedValues(desc, fields); err != nil {
		return nil, err
	}
	body, contentType, err := encodeBody(att, fields)
	if err != nil {
		return nil, err
	}

	endpoint := c.BaseURL + desc.EndpointPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	config.ApplyDefaultHeaders(httpReq.Header)
	httpReq.Header.Set("Content-Type", contentType)

	if c.Verbose {
		slog.Info("upstream.request",
			"tool", desc.ID,
			"endpoint", endpoint,
			"fields", fields.Keys(),
			"files", att.Fields(),
			"multipart", !att.Empty(),
		)
	}
	return c.do(httpReq)
}

// CheckAttachments rejects invocations missing a file the tool requires.
func CheckAttachments(desc tools.Descriptor, att Attachments) error {
	if desc.RequiresImage && att.Image == nil {
		return ErrMissingRequiredImage
	}
	if desc.RequiresMask && att.Mask == nil {
		return ErrMissingRequiredMask
	}
	return nil
}

func checkAllowedValues(desc tools.Descriptor, fields Payload) error {
	for _, k := range slices.Sorted(maps.Keys(desc.AllowedValues)) {
		allowed := desc.AllowedValues[k]
		if v, ok := fields[k]; ok && !slices.Contains(allowed, v) {
			return fmt.Errorf("%w: %s must be one of %s", ErrInvalidField, k, strings.Join(allowed, ", "))
		}
	}
	return nil
}

// Status queries the upstream for the current state of jobID.
func (c *Client) Status(ctx context.Context, jobID string) (json.RawMessage, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, ErrMissingJobID
	}
	if !c.hasKey {
		return nil, ErrMissingAPIKey
	}

	endpoint := c.BaseURL + "/status/" + url.PathEscape(jobID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	config.ApplyDefaultHeaders(httpReq.Header)

	if c.Verbose {
		slog.Info("upstream.request", "endpoint", endpoint, "job_id", jobID)
	}
	return c.do(httpReq)
}

func (c *Client) do(httpReq *http.Request) (json.RawMessage, error) {
	c.dumpUpstreamRequest(httpReq)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrUnavailable, err)
	}
	c.dumpUpstreamResponse(resp, body)

	if c.Verbose {
		slog.Info("upstream.response",
			"status", resp.StatusCode,
			"bytes", len(body),
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{StatusCode: resp.StatusCode, Body: body}
	}
	if !gjson.ValidBytes(body) {
		return nil, &MalformedResponseError{StatusCode: resp.StatusCode, Body: body}
	}
	return json.RawMessage(body), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func encodeBody(att Attachments, fields Payload) (io.Reader, string, error) {
	if att.Empty() {
		values := make(url.Values, len(fields))
		for k, v := range fields {
			values.Set(k, v)
		}
		return strings.NewReader(values.Encode()), "application/x-www-form-urlencoded", nil
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, k := range fields.Keys() {
		if err := mw.WriteField(k, fields[k]); err != nil {
			return nil, "", fmt.Errorf("failed to encode field %s: %w", k, err)
		}
	}
	for _, p := range att.parts() {
		filename := p.file.Filename
		if filename == "" {
			filename = p.field
		}
		contentType := p.file.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			quoteEscaper.Replace(p.field), quoteEscaper.Replace(filename)))
		h.Set("Content-Type", contentType)
		w, err := mw.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode %s: %w", p.field, err)
		}
		if _, err := w.Write(p.file.Data); err != nil {
			return nil, "", fmt.Errorf("failed to encode %s: %w", p.field, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finish multipart body: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}
