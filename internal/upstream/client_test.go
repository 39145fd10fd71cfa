package upstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/n0madic/go-mnmlgate/internal/tools"
)

type recordedRequest struct {
	Method      string
	Path        string
	Auth        string
	ContentType string
	Fields      map[string]string
	Files       map[string]string
	FileTypes   map[string]string
}

// fakeUpstream records every request and answers with a fixed status/body.
func fakeUpstream(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32, func() []recordedRequest) {
	t.Helper()
	var calls atomic.Int32
	var mu sync.Mutex
	var recorded []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		rec := recordedRequest{
			Method:      r.Method,
			Path:        r.URL.Path,
			Auth:        r.Header.Get("Authorization"),
			ContentType: r.Header.Get("Content-Type"),
			Fields:      map[string]string{},
			Files:       map[string]string{},
			FileTypes:   map[string]string{},
		}
		if strings.HasPrefix(rec.ContentType, "multipart/form-data") {
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Errorf("parse multipart: %v", err)
			}
			for k, v := range r.MultipartForm.Value {
				rec.Fields[k] = v[0]
			}
			for k, fhs := range r.MultipartForm.File {
				f, _ := fhs[0].Open()
				data, _ := io.ReadAll(f)
				f.Close()
				rec.Files[k] = string(data)
				rec.FileTypes[k] = fhs[0].Header.Get("Content-Type")
			}
		} else if r.Method == http.MethodPost {
			if err := r.ParseForm(); err != nil {
				t.Errorf("parse form: %v", err)
			}
			for k, v := range r.PostForm {
				rec.Fields[k] = v[0]
			}
		}
		mu.Lock()
		recorded = append(recorded, rec)
		mu.Unlock()
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls, func() []recordedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedRequest(nil), recorded...)
	}
}

func newTestClient(baseURL, apiKey string) *Client {
	return NewClient(Options{APIKey: apiKey, BaseURL: baseURL, Timeout: 5 * time.Second})
}

var interiorTool = tools.Descriptor{
	ID:             "interior-ai",
	EndpointPath:   "/archDiffusion-v41",
	JobBased:       true,
	RequiresImage:  true,
	DefaultPayload: map[string]string{"expert_name": "interior"},
}

func TestInvokeMissingImageMakesNoCall(t *testing.T) {
	srv, calls, _ := fakeUpstream(t, http.StatusOK, `{"id":"x"}`)
	c := newTestClient(srv.URL, "key")

	_, err := c.Invoke(context.Background(), interiorTool, Attachments{}, Payload{"prompt": "x"})
	if !errors.Is(err, ErrMissingRequiredImage) {
		t.Fatalf("got %v, want ErrMissingRequiredImage", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("upstream called %d times, want 0", calls.Load())
	}
}

var eraserTool = tools.Descriptor{
	ID:             "ai-eraser",
	EndpointPath:   "/ai-eraser",
	RequiresImage:  true,
	RequiresMask:   true,
	DefaultPayload: map[string]string{"output_format": "png"},
	AllowedValues:  map[string][]string{"output_format": {"png", "jpg", "jpeg"}},
}

func TestInvokeMissingMaskMakesNoCall(t *testing.T) {
	srv, calls, _ := fakeUpstream(t, http.StatusOK, `{"status":"success","message":"https://img/x.png"}`)
	c := newTestClient(srv.URL, "key")

	image := &File{Filename: "room.png", Data: []byte("PNG")}
	_, err := c.Invoke(context.Background(), eraserTool, Attachments{Image: image}, nil)
	if !errors.Is(err, ErrMissingRequiredMask) {
		t.Fatalf("got %v, want ErrMissingRequiredMask", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("upstream called %d times, want 0", calls.Load())
	}
}

func TestInvokeAllowedValues(t *testing.T) {
	srv, calls, recorded := fakeUpstream(t, http.StatusOK, `{"status":"success","message":"https://img/x.png"}`)
	c := newTestClient(srv.URL, "key")
	att := Attachments{
		Image: &File{Filename: "room.png", Data: []byte("PNG")},
		Mask:  &File{Filename: "mask.png", Data: []byte("MASK")},
	}

	_, err := c.Invoke(context.Background(), eraserTool, att, Payload{"output_format": "gif"})
	if !errors.Is(err, ErrInvalidField) {
		t.Fatalf("got %v, want ErrInvalidField", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("upstream called %d times, want 0", calls.Load())
	}

	if _, err := c.Invoke(context.Background(), eraserTool, att, nil); err != nil {
		t.Fatalf("Invoke with default format: %v", err)
	}
	got := recorded()[0]
	if got.Path != "/ai-eraser" || got.Fields["output_format"] != "png" || got.Files["mask"] != "MASK" {
		t.Fatalf("unexpected request: %+v", got)
	}
}

func TestInvokeMissingAPIKeyMakesNoCall(t *testing.T) {
	srv, calls, _ := fakeUpstream(t, http.StatusOK, `{"id":"x"}`)
	c := newTestClient(srv.URL, "   ")

	desc := tools.Descriptor{ID: "imagine-ai", EndpointPath: "/imagine-ai", JobBased: true}
	_, err := c.Invoke(context.Background(), desc, Attachments{}, Payload{"prompt": "x"})
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("got %v, want ErrMissingAPIKey", err)
	}
	if _, err := c.Status(context.Background(), "job1"); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("Status: got %v, want ErrMissingAPIKey", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("upstream called %d times, want 0", calls.Load())
	}
}

func TestInvokeMultipartWithMergedPayload(t *testing.T) {
	srv, calls, recorded := fakeUpstream(t, http.StatusOK, `{"id":"job123","seed":7}`)
	c := newTestClient(srv.URL, "secret")

	att := Attachments{
		Image: &File{Filename: "room.png", ContentType: "image/png", Data: []byte("PNGDATA")},
		Mask:  &File{Filename: "mask.png", Data: []byte("MASK")},
	}
	payload := Payload{"expert_name": "custom", "prompt": "x"}

	raw, err := c.Invoke(context.Background(), interiorTool, att, payload)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if string(raw) != `{"id":"job123","seed":7}` {
		t.Fatalf("result: got %s", raw)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls: got %d, want 1", calls.Load())
	}

	rec := recorded()[0]
	if rec.Method != http.MethodPost || rec.Path != "/archDiffusion-v41" {
		t.Fatalf("request line: %s %s", rec.Method, rec.Path)
	}
	if rec.Auth != "Bearer secret" {
		t.Fatalf("Authorization: got %q", rec.Auth)
	}
	if !strings.HasPrefix(rec.ContentType, "multipart/form-data") {
		t.Fatalf("Content-Type: got %q", rec.ContentType)
	}
	wantFields := map[string]string{"expert_name": "custom", "prompt": "x"}
	if !reflect.DeepEqual(rec.Fields, wantFields) {
		t.Fatalf("fields: got %v, want %v", rec.Fields, wantFields)
	}
	if rec.Files["image"] != "PNGDATA" || rec.Files["mask"] != "MASK" {
		t.Fatalf("files: got %v", rec.Files)
	}
	if rec.FileTypes["image"] != "image/png" || rec.FileTypes["mask"] != "application/octet-stream" {
		t.Fatalf("file content types: got %v", rec.FileTypes)
	}
}

func TestInvokeFormEncodedWithoutAttachments(t *testing.T) {
	srv, _, recorded := fakeUpstream(t, http.StatusOK, `{"id":"j"}`)
	c := newTestClient(srv.URL, "secret")

	desc := tools.Descriptor{ID: "imagine-ai", EndpointPath: "/imagine-ai", JobBased: true}
	if _, err := c.Invoke(context.Background(), desc, Attachments{}, Payload{"prompt": "a house", "seed": "4"}); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	rec := recorded()[0]
	if rec.ContentType != "application/x-www-form-urlencoded" {
		t.Fatalf("Content-Type: got %q", rec.ContentType)
	}
	if rec.Fields["prompt"] != "a house" || rec.Fields["seed"] != "4" {
		t.Fatalf("fields: got %v", rec.Fields)
	}
}

func TestInvokeUpstreamErrorKeepsBodyVerbatim(t *testing.T) {
	body := `{"detail":[{"loc":["body","prompt"],"msg":"field required"}]}`
	srv, calls, _ := fakeUpstream(t, http.StatusUnprocessableEntity, body)
	c := newTestClient(srv.URL, "secret")

	desc := tools.Descriptor{ID: "imagine-ai", EndpointPath: "/imagine-ai"}
	_, err := c.Invoke(context.Background(), desc, Attachments{}, nil)

	var upErr *Error
	if !errors.As(err, &upErr) {
		t.Fatalf("got %T %v, want *Error", err, err)
	}
	if upErr.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status: got %d", upErr.StatusCode)
	}
	if string(upErr.Body) != body {
		t.Fatalf("body: got %q, want %q", upErr.Body, body)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls: got %d, want exactly 1 (no retries)", calls.Load())
	}
}

func TestInvokeMalformedSuccessBody(t *testing.T) {
	srv, _, _ := fakeUpstream(t, http.StatusOK, "<html>ok</html>")
	c := newTestClient(srv.URL, "secret")

	desc := tools.Descriptor{ID: "upscale-4k", EndpointPath: "/upscale"}
	_, err := c.Invoke(context.Background(), desc, Attachments{}, nil)

	var malformed *MalformedResponseError
	if !errors.As(err, &malformed) {
		t.Fatalf("got %T %v, want *MalformedResponseError", err, err)
	}
	if !strings.Contains(malformed.Error(), "<html>ok</html>") {
		t.Fatalf("error should embed the raw body: %v", malformed)
	}
}

func TestInvokeTransportFailure(t *testing.T) {
	srv, _, _ := fakeUpstream(t, http.StatusOK, `{}`)
	srv.Close()
	c := newTestClient(srv.URL, "secret")

	desc := tools.Descriptor{ID: "imagine-ai", EndpointPath: "/imagine-ai"}
	_, err := c.Invoke(context.Background(), desc, Attachments{}, nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("got %v, want ErrUnavailable", err)
	}
}

func TestInvokeHonorsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(Options{APIKey: "k", BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	desc := tools.Descriptor{ID: "imagine-ai", EndpointPath: "/imagine-ai"}
	_, err := c.Invoke(context.Background(), desc, Attachments{}, nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("got %v, want ErrUnavailable after timeout", err)
	}
}

func TestStatusRequest(t *testing.T) {
	srv, _, recorded := fakeUpstream(t, http.StatusOK, `{"status":"processing"}`)
	c := newTestClient(srv.URL+"/", "secret")

	raw, err := c.Status(context.Background(), "job 1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if string(raw) != `{"status":"processing"}` {
		t.Fatalf("result: got %s", raw)
	}
	rec := recorded()[0]
	if rec.Method != http.MethodGet || rec.Path != "/status/job 1" {
		t.Fatalf("request line: %s %s", rec.Method, rec.Path)
	}
	if rec.Auth != "Bearer secret" {
		t.Fatalf("Authorization: got %q", rec.Auth)
	}
}

func TestStatusRejectsEmptyJobID(t *testing.T) {
	c := newTestClient("http://127.0.0.1:1", "secret")
	if _, err := c.Status(context.Background(), " "); !errors.Is(err, ErrMissingJobID) {
		t.Fatalf("got %v, want ErrMissingJobID", err)
	}
}

func TestStatusUpstreamError(t *testing.T) {
	srv, _, _ := fakeUpstream(t, http.StatusNotFound, "prediction not found")
	c := newTestClient(srv.URL, "secret")

	_, err := c.Status(context.Background(), "missing")
	var upErr *Error
	if !errors.As(err, &upErr) || upErr.StatusCode != http.StatusNotFound || string(upErr.Body) != "prediction not found" {
		t.Fatalf("got %v, want 404 *Error with verbatim body", err)
	}
}

func TestRedactAuthorization(t *testing.T) {
	dump := []byte("POST /x HTTP/1.1\r\nAuthorization: Bearer secret\r\nAccept: */*\r\n\r\n")
	got := string(redactAuthorization(dump))
	if strings.Contains(got, "secret") {
		t.Fatalf("token leaked: %q", got)
	}
	if !strings.Contains(got, "Accept: */*") {
		t.Fatalf("other headers dropped: %q", got)
	}
}
