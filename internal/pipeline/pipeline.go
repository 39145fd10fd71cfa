package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/n0madic/go-mnmlgate/internal/normalize"
	"github.com/n0madic/go-mnmlgate/internal/tools"
	"github.com/n0madic/go-mnmlgate/internal/upstream"
)

// Invoker is the upstream surface the pipeline needs.
type Invoker interface {
	Invoke(ctx context.Context, desc tools.Descriptor, att upstream.Attachments, payload upstream.Payload) (json.RawMessage, error)
	Status(ctx context.Context, jobID string) (json.RawMessage, error)
}

// Request is one tool invocation as received from a caller. Payload is the
// caller's JSON object text; empty means {}.
type Request struct {
	ToolID      string
	Attachments upstream.Attachments
	Payload     string
}

// Pipeline runs tool invocations through the
// resolve → invoke → normalize flow.
type Pipeline struct {
	Registry *tools.Registry
	Upstream Invoker
}

// New creates a pipeline over reg and up.
func New(reg *tools.Registry, up Invoker) *Pipeline {
	return &Pipeline{Registry: reg, Upstream: up}
}

// Run resolves req.ToolID and invokes it. The tool is checked first, then
// the required files, then the payload JSON; all three fail before any
// upstream call.
func (p *Pipeline) Run(ctx context.Context, req Request) (normalize.Envelope, error) {
	desc, err := p.Registry.Resolve(req.ToolID)
	if err != nil {
		return normalize.Envelope{}, err
	}
	if err := upstream.CheckAttachments(desc, req.Attachments); err != nil {
		return normalize.Envelope{}, err
	}
	payload, err := upstream.ParsePayload(req.Payload)
	if err != nil {
		return normalize.Envelope{}, err
	}
	return p.RunTool(ctx, desc, req.Attachments, payload)
}

// RunTool invokes an already resolved descriptor.
func (p *Pipeline) RunTool(ctx context.Context, desc tools.Descriptor, att upstream.Attachments, payload upstream.Payload) (normalize.Envelope, error) {
	start := time.Now()
	raw, err := p.Upstream.Invoke(ctx, desc, att, payload)
	if err != nil {
		slog.Warn("pipeline.run", "tool", desc.ID, "error", err, "elapsed", time.Since(start).Round(time.Millisecond))
		return normalize.Envelope{}, err
	}

	env, err := normalize.Normalize(desc, raw)
	if err != nil {
		slog.Warn("pipeline.run", "tool", desc.ID, "error", err)
		return normalize.Envelope{}, err
	}
	slog.Info("pipeline.run",
		"tool", desc.ID,
		"kind", env.Kind.String(),
		"job_id", env.JobID,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return env, nil
}

// Poll issues one status query for jobID. Results are never cached.
func (p *Pipeline) Poll(ctx context.Context, jobID string) (normalize.JobStatus, error) {
	raw, err := p.Upstream.Status(ctx, jobID)
	if err != nil {
		slog.Warn("pipeline.poll", "job_id", jobID, "error", err)
		return normalize.JobStatus{}, err
	}
	status := normalize.JobStatusFrom(jobID, raw)
	slog.Info("pipeline.poll", "job_id", jobID, "status", status.Status)
	return status, nil
}
