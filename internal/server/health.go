package server

import (
	"net/http"

	"github.com/n0madic/go-mnmlgate/internal/codec"
)

type toolInfo struct {
	ID             string            `json:"id"`
	Endpoint       string            `json:"endpoint"`
	JobBased       bool              `json:"job_based"`
	RequiresImage  bool              `json:"requires_image"`
	RequiresMask   bool              `json:"requires_mask,omitempty"`
	DefaultPayload map[string]string `json:"default_payload,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	codec.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	descs := s.Registry.Descriptors()
	out := make([]toolInfo, 0, len(descs))
	for _, d := range descs {
		out = append(out, toolInfo{
			ID:             d.ID,
			Endpoint:       d.EndpointPath,
			JobBased:       d.JobBased,
			RequiresImage:  d.RequiresImage,
			RequiresMask:   d.RequiresMask,
			DefaultPayload: d.DefaultPayload,
		})
	}
	codec.WriteSuccess(w, out)
}
