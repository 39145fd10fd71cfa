// Package normalize reconciles the two upstream interaction modes, instant
// results and accepted jobs, into one response shape.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/n0madic/go-mnmlgate/internal/codec"
	"github.com/n0madic/go-mnmlgate/internal/tools"
)

// ErrMissingJobID is returned when a job-based tool answers without an id.
var ErrMissingJobID = errors.New("no job id returned")

// Kind is the recognized shape of an upstream result.
type Kind int

const (
	// KindPassthrough is any result that is neither instant nor a job.
	KindPassthrough Kind = iota
	// KindInstant is {"status":"success","message":"<string>"}.
	KindInstant
	// KindJob is an accepted job carrying id or prediction_id.
	KindJob
)

func (k Kind) String() string {
	switch k {
	case KindInstant:
		return "instant-success"
	case KindJob:
		return "job-accepted"
	default:
		return "opaque-passthrough"
	}
}

// Classify decides the result shape. The instant check runs before the
// job-based flag: some job tools answer with the finished artifact directly.
func Classify(desc tools.Descriptor, raw json.RawMessage) Kind {
	doc := gjson.ParseBytes(raw)
	if doc.Get("status").Str == "success" && doc.Get("message").Type == gjson.String {
		return KindInstant
	}
	if desc.JobBased {
		return KindJob
	}
	return KindPassthrough
}

// Envelope is the data part of a tool run response.
type Envelope struct {
	Kind    Kind            `json:"-"`
	Tool    string          `json:"tool"`
	Instant bool            `json:"instant,omitempty"`
	JobID   string          `json:"job_id,omitempty"`
	Seed    json.RawMessage `json:"seed,omitempty"`
	Credits json.RawMessage `json:"credits,omitempty"`
	// Result is the upstream message for instant results and the whole
	// upstream document for passthrough results.
	Result json.RawMessage `json:"result,omitempty"`
	// ResultURL is the instant message as plain text.
	ResultURL string `json:"-"`
	// Raw is the upstream document as received.
	Raw json.RawMessage `json:"-"`
}

// Normalize shapes raw according to Classify.
func Normalize(desc tools.Descriptor, raw json.RawMessage) (Envelope, error) {
	env := Envelope{Tool: desc.ID, Kind: Classify(desc, raw), Raw: raw}
	doc := gjson.ParseBytes(raw)

	switch env.Kind {
	case KindInstant:
		msg := doc.Get("message")
		env.Instant = true
		env.ResultURL = msg.Str
		env.Result = json.RawMessage(msg.Raw)
	case KindJob:
		id := jobID(doc)
		if id == "" {
			return Envelope{}, fmt.Errorf("%w: %s", ErrMissingJobID, codec.CompactBodyPreview(raw, 1024))
		}
		env.JobID = id
		env.Seed = optionalRaw(doc.Get("seed"))
		env.Credits = optionalRaw(doc.Get("credits"))
	default:
		env.Result = raw
	}
	return env, nil
}

func jobID(doc gjson.Result) string {
	for _, key := range []string{"id", "prediction_id"} {
		v := doc.Get(key)
		if v.Type == gjson.String || v.Type == gjson.Number {
			if s := v.String(); s != "" {
				return s
			}
		}
	}
	return ""
}

func optionalRaw(v gjson.Result) json.RawMessage {
	if !v.Exists() || v.Type == gjson.Null {
		return nil
	}
	return json.RawMessage(v.Raw)
}
