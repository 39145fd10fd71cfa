package server

import (
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/n0madic/go-mnmlgate/internal/codec"
	"github.com/n0madic/go-mnmlgate/internal/normalize"
	"github.com/n0madic/go-mnmlgate/internal/pipeline"
	"github.com/n0madic/go-mnmlgate/internal/upstream"
)

const (
	defaultPromptEndpoint = "prompt-generator-ai"
	maxStagingSeed        = 1000000
)

// handleRun handles POST /mnml/run.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(w, r); err != nil {
		writeFailure(w, err)
		return
	}
	toolID := strings.TrimSpace(r.FormValue("tool"))
	if toolID == "" {
		writeFailure(w, badRequest("tool is required"))
		return
	}
	att, err := formAttachments(r)
	if err != nil {
		writeFailure(w, err)
		return
	}

	env, err := s.Pipeline.Run(r.Context(), pipeline.Request{
		ToolID:      toolID,
		Attachments: att,
		Payload:     r.FormValue("payload"),
	})
	if err != nil {
		writeFailure(w, err)
		return
	}
	codec.WriteSuccess(w, env)
}

type generateImageResponse struct {
	Instant   bool            `json:"instant,omitempty"`
	ResultURL string          `json:"result_url,omitempty"`
	JobID     string          `json:"job_id,omitempty"`
	Expert    string          `json:"expert"`
	Seed      json.RawMessage `json:"seed,omitempty"`
	Credits   json.RawMessage `json:"credits,omitempty"`
}

// handleGenerateImage handles POST /generate-image, the archDiffusion v4.1
// form with its style defaults.
func (s *Server) handleGenerateImage(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(w, r); err != nil {
		writeFailure(w, err)
		return
	}
	prompt := r.FormValue("prompt")
	if err := requirePrompt(prompt, false); err != nil {
		writeFailure(w, err)
		return
	}
	image, err := formFile(r, "image")
	if err != nil {
		writeFailure(w, err)
		return
	}

	expert := formValue(r, "expert_name", "exterior")
	payload := upstream.Payload{
		"expert_name":     expert,
		"prompt":          prompt,
		"imagetype":       formValue(r, "imagetype", "photo"),
		"camera_angle":    formValue(r, "camera_angle", "same_as_input"),
		"scene_mood":      formValue(r, "scene_mood", "auto_daylight"),
		"render_style":    formValue(r, "render_style", "realistic"),
		"render_scenario": formValue(r, "render_scenario", "precise"),
		"context":         formValue(r, "context", `["exterior"]`),
	}
	payload.SetIfNotEmpty("seed", r.FormValue("seed"))

	toolID := "exterior-ai"
	if expert == "interior" {
		toolID = "interior-ai"
	}
	desc, err := s.Registry.Resolve(toolID)
	if err != nil {
		writeFailure(w, err)
		return
	}

	env, err := s.Pipeline.RunTool(r.Context(), desc, upstream.Attachments{Image: image}, payload)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if env.Instant {
		codec.WriteSuccess(w, generateImageResponse{Instant: true, ResultURL: env.ResultURL, Expert: expert})
		return
	}
	codec.WriteSuccess(w, generateImageResponse{
		JobID:   env.JobID,
		Expert:  expert,
		Seed:    env.Seed,
		Credits: env.Credits,
	})
}

type virtualStagingResponse struct {
	ImageURL string `json:"image_url"`
	Message  string `json:"message"`
}

// handleVirtualStaging handles POST /virtual-staging.
func (s *Server) handleVirtualStaging(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(w, r); err != nil {
		writeFailure(w, err)
		return
	}
	prompt := r.FormValue("prompt")
	if err := requirePrompt(prompt, true); err != nil {
		writeFailure(w, err)
		return
	}
	image, err := formFile(r, "image")
	if err != nil {
		writeFailure(w, err)
		return
	}

	seed := rand.IntN(maxStagingSeed)
	if raw := strings.TrimSpace(r.FormValue("seed")); raw != "" {
		if seed, err = strconv.Atoi(raw); err != nil {
			writeFailure(w, badRequest("seed must be an integer"))
			return
		}
	}

	desc, err := s.Registry.Resolve("virtual-staging")
	if err != nil {
		writeFailure(w, err)
		return
	}
	payload := upstream.Payload{"prompt": prompt, "seed": strconv.Itoa(seed)}
	env, err := s.Pipeline.RunTool(r.Context(), desc, upstream.Attachments{Image: image}, payload)
	if err != nil {
		writeFailure(w, err)
		return
	}

	imageURL := resultText(env, "message")
	if imageURL == "" {
		writeFailure(w, &unexpectedResultError{route: "virtual-staging", body: env.Raw})
		return
	}
	codec.WriteSuccess(w, virtualStagingResponse{ImageURL: imageURL, Message: "virtual staging completed"})
}

type imagineResponse struct {
	JobID   string `json:"job_id,omitempty"`
	Message string `json:"message"`
}

// imagineFields are the JSON keys forwarded by /imagine-ai.
var imagineFields = []string{"prompt", "render_type", "aspect_ratio", "style_strength", "seed"}

// handleImagine handles POST /imagine-ai. The body is JSON, not a form.
func (s *Server) handleImagine(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeFailure(w, err)
		return
	}
	fields, err := upstream.ParsePayload(string(body))
	if err != nil {
		writeFailure(w, err)
		return
	}
	if err := requirePrompt(fields["prompt"], true); err != nil {
		writeFailure(w, err)
		return
	}
	payload := make(upstream.Payload, len(imagineFields))
	for _, k := range imagineFields {
		payload.SetIfNotEmpty(k, fields[k])
	}

	desc, err := s.Registry.Resolve("imagine-ai")
	if err != nil {
		writeFailure(w, err)
		return
	}
	env, err := s.Pipeline.RunTool(r.Context(), desc, upstream.Attachments{}, payload)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if env.Instant {
		codec.WriteSuccess(w, imagineResponse{Message: env.ResultURL})
		return
	}
	codec.WriteSuccess(w, imagineResponse{JobID: env.JobID, Message: "image generation started"})
}

type promptGeneratorResponse struct {
	GeneratedPrompt string `json:"generated_prompt"`
}

// handlePromptGenerator handles POST /prompt-generator.
func (s *Server) handlePromptGenerator(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(w, r); err != nil {
		writeFailure(w, err)
		return
	}
	image, err := formFile(r, "image")
	if err != nil {
		writeFailure(w, err)
		return
	}

	base, err := s.Registry.Resolve("prompt-generator")
	if err != nil {
		writeFailure(w, err)
		return
	}
	desc, err := base.WithEndpoint(formValue(r, "endpoint", defaultPromptEndpoint))
	if err != nil {
		writeFailure(w, err)
		return
	}

	payload := upstream.Payload{}
	payload.SetIfNotEmpty("prompt", r.FormValue("prompt"))
	env, err := s.Pipeline.RunTool(r.Context(), desc, upstream.Attachments{Image: image}, payload)
	if err != nil {
		writeFailure(w, err)
		return
	}

	generated := resultText(env, "prompt", "generated_prompt", "message")
	if generated == "" {
		writeFailure(w, &unexpectedResultError{route: "prompt-generator", body: env.Raw})
		return
	}
	codec.WriteSuccess(w, promptGeneratorResponse{GeneratedPrompt: generated})
}

type videoResponse struct {
	Instant  bool            `json:"instant,omitempty"`
	VideoURL string          `json:"video_url,omitempty"`
	JobID    string          `json:"job_id,omitempty"`
	Seed     json.RawMessage `json:"seed,omitempty"`
}

// handleVideo handles POST /video-ai with its motion and format defaults.
func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(w, r); err != nil {
		writeFailure(w, err)
		return
	}
	prompt := r.FormValue("prompt")
	if err := requirePrompt(prompt, false); err != nil {
		writeFailure(w, err)
		return
	}
	image, err := formFile(r, "image")
	if err != nil {
		writeFailure(w, err)
		return
	}

	payload := upstream.Payload{
		"prompt":        prompt,
		"duration":      formValue(r, "duration", "10"),
		"cfg_scale":     formValue(r, "cfg_scale", "0.5"),
		"aspect_ratio":  formValue(r, "aspect_ratio", "16:9"),
		"movement_type": formValue(r, "movement_type", "horizontal"),
		"direction":     formValue(r, "direction", "left"),
	}
	payload.SetIfNotEmpty("negative_prompt", r.FormValue("negative_prompt"))

	desc, err := s.Registry.Resolve("video-ai")
	if err != nil {
		writeFailure(w, err)
		return
	}
	env, err := s.Pipeline.RunTool(r.Context(), desc, upstream.Attachments{Image: image}, payload)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if env.Instant {
		codec.WriteSuccess(w, videoResponse{Instant: true, VideoURL: env.ResultURL})
		return
	}
	codec.WriteSuccess(w, videoResponse{JobID: env.JobID, Seed: env.Seed})
}

// handleGetResult handles GET /get-result/{job_id}.
func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	status, err := s.Pipeline.Poll(r.Context(), r.PathValue("job_id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	codec.WriteSuccess(w, status)
}

// resultText returns the first non-blank string found under keys in the
// upstream document, falling back to the instant message. A string array
// yields its first item.
func resultText(env normalize.Envelope, keys ...string) string {
	doc := gjson.ParseBytes(env.Raw)
	for _, k := range keys {
		v := doc.Get(k)
		if v.IsArray() {
			v = v.Get("0")
		}
		if v.Type == gjson.String && strings.TrimSpace(v.Str) != "" {
			return v.Str
		}
	}
	return env.ResultURL
}
