package history

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/n0madic/go-mnmlgate/internal/config"
)

const (
	defaultDownloadTimeout = 15 * time.Second
	// maxImageBytes caps a downloaded image.
	maxImageBytes = 32 * 1024 * 1024
	dataURIPrefix = "data:image/png;base64,"
)

// SaveRequest is the body of a history save call.
type SaveRequest struct {
	UserEmail string  `json:"userEmail"`
	ToolName  string  `json:"toolName"`
	ImageURL  string  `json:"imageUrl"`
	ImageType string  `json:"imageType"`
	Prompt    *string `json:"prompt"`
}

// Entry is one history record as returned to callers.
type Entry struct {
	ID        string  `json:"id"`
	ToolName  string  `json:"toolName"`
	Prompt    *string `json:"prompt"`
	Image     string  `json:"image"`
	CreatedAt *string `json:"createdAt"`
}

// Service validates history requests and drives a Store.
type Service struct {
	Store      Store
	HTTPClient *http.Client
	Now        func() time.Time
}

// NewService creates a service over store. Image downloads for
// imageType=url are bounded by downloadTimeout.
func NewService(store Store, downloadTimeout time.Duration) *Service {
	if downloadTimeout <= 0 {
		downloadTimeout = defaultDownloadTimeout
	}
	return &Service{
		Store:      store,
		HTTPClient: &http.Client{Timeout: downloadTimeout},
		Now:        time.Now,
	}
}

// Save stores the image of req and returns the new record id.
func (s *Service) Save(ctx context.Context, req SaveRequest) (string, error) {
	if req.UserEmail == "" || req.ToolName == "" || req.ImageURL == "" {
		return "", ErrMissingFields
	}

	var image string
	switch req.ImageType {
	case "base64":
		image = stripDataURI(strings.TrimSpace(req.ImageURL))
		if image == "" {
			return "", fmt.Errorf("%w: base64 image is empty", ErrInvalidImage)
		}
	case "url":
		data, err := s.download(ctx, req.ImageURL)
		if err != nil {
			return "", err
		}
		image = base64.StdEncoding.EncodeToString(data)
	default:
		return "", ErrInvalidImageType
	}

	rec := Record{
		UserEmail: req.UserEmail,
		ToolName:  req.ToolName,
		Prompt:    req.Prompt,
		Image:     image,
		CreatedAt: s.Now().In(IST),
	}
	id, err := s.Store.Insert(ctx, rec)
	if err != nil {
		return "", err
	}
	slog.Info("history.save", "id", id, "tool", req.ToolName, "image_type", req.ImageType)
	return id, nil
}

// stripDataURI drops a leading "data:image/...;base64," prefix.
func stripDataURI(s string) string {
	if !strings.HasPrefix(s, "data:image") {
		return s
	}
	_, rest, ok := strings.Cut(s, ",")
	if !ok {
		return ""
	}
	return rest
}

func (s *Service) download(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to download image: %v", ErrInvalidImage, err)
	}
	req.Header.Set("User-Agent", config.UserAgent())

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to download image: %v", ErrInvalidImage, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: failed to download image: HTTP %d", ErrInvalidImage, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to download image: %v", ErrInvalidImage, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: downloaded image is empty", ErrInvalidImage)
	}
	return data, nil
}

// List returns the history of email, most recent first, with images as
// PNG data URIs and timestamps in IST.
func (s *Service) List(ctx context.Context, email string) ([]Entry, error) {
	if strings.TrimSpace(email) == "" {
		return nil, ErrMissingUserEmail
	}
	recs, err := s.Store.ListByUser(ctx, email)
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(recs))
	for _, r := range recs {
		out = append(out, Entry{
			ID:        r.ID,
			ToolName:  r.ToolName,
			Prompt:    r.Prompt,
			Image:     dataURIPrefix + r.Image,
			CreatedAt: formatCreatedAt(r.CreatedAt),
		})
	}
	return out, nil
}

// formatCreatedAt renders t in IST, or nil for records without a timestamp.
func formatCreatedAt(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := t.In(IST).Format(TimeLayout)
	return &s
}

// Delete removes the record with id.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := ParseID(id); err != nil {
		return err
	}
	if err := s.Store.Delete(ctx, strings.TrimSpace(id)); err != nil {
		return err
	}
	slog.Info("history.delete", "id", id)
	return nil
}
