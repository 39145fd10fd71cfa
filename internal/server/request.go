package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/n0madic/go-mnmlgate/internal/upstream"
)

// maxPromptRunes is the longest prompt accepted by the single-purpose routes.
const maxPromptRunes = 2000

// parseForm reads a multipart or URL-encoded form body.
func parseForm(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := r.ParseMultipartForm(maxBodyBytes)
	if errors.Is(err, http.ErrNotMultipart) {
		err = r.ParseForm()
	}
	if err != nil {
		return badRequest("failed to read form body: %v", err)
	}
	return nil
}

// formValue returns the trimmed form field or def when it is blank.
func formValue(r *http.Request, key, def string) string {
	if v := strings.TrimSpace(r.FormValue(key)); v != "" {
		return v
	}
	return def
}

// formFile reads an optional file part. A missing or empty part yields nil.
func formFile(r *http.Request, field string) (*upstream.File, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}
	headers := r.MultipartForm.File[field]
	if len(headers) == 0 {
		return nil, nil
	}
	fh := headers[0]
	if fh.Size == 0 && fh.Filename == "" {
		return nil, nil
	}
	return readFileHeader(fh)
}

func readFileHeader(fh *multipart.FileHeader) (*upstream.File, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, badRequest("failed to read upload %s: %v", fh.Filename, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, badRequest("failed to read upload %s: %v", fh.Filename, err)
	}
	return &upstream.File{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

// formAttachments collects the image, mask and reference_image parts.
func formAttachments(r *http.Request) (upstream.Attachments, error) {
	var att upstream.Attachments
	var err error
	if att.Image, err = formFile(r, "image"); err != nil {
		return att, err
	}
	if att.Mask, err = formFile(r, "mask"); err != nil {
		return att, err
	}
	if att.ReferenceImage, err = formFile(r, "reference_image"); err != nil {
		return att, err
	}
	return att, nil
}

// readJSON decodes a JSON request body into v.
func readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return badRequest("failed to read request body")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return badRequest("invalid JSON body: %v", err)
	}
	return nil
}

// readBody returns the raw request body.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, badRequest("failed to read request body")
	}
	return body, nil
}

func requirePrompt(prompt string, limit bool) error {
	if strings.TrimSpace(prompt) == "" {
		return badRequest("prompt is required")
	}
	if limit && utf8.RuneCountInString(prompt) > maxPromptRunes {
		return badRequest("prompt must be at most %d characters", maxPromptRunes)
	}
	return nil
}
