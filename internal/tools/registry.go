package tools

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed registry.yaml
var defaultRegistryYAML []byte

var (
	// ErrUnknownTool is returned by Resolve for ids that are not registry keys.
	ErrUnknownTool = errors.New("unsupported tool")
	// ErrInvalidEndpoint is returned by WithEndpoint for names outside [a-z0-9-].
	ErrInvalidEndpoint = errors.New("invalid endpoint name")
)

var endpointNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// Descriptor describes how one tool maps onto the upstream API.
type Descriptor struct {
	ID            string
	EndpointPath  string
	JobBased      bool
	RequiresImage bool
	RequiresMask  bool
	// DefaultPayload holds form fields sent unless the caller supplies the same key.
	DefaultPayload map[string]string
	// AllowedValues restricts fields to a fixed set of values when present.
	AllowedValues map[string][]string
}

// Registry is the immutable tool dispatch table. It is safe for concurrent
// reads once constructed.
type Registry struct {
	tools map[string]Descriptor
	ids   []string
}

type registryFile struct {
	Tools map[string]toolEntry `yaml:"tools"`
}

type toolEntry struct {
	Endpoint       string         `yaml:"endpoint"`
	JobBased       bool           `yaml:"job_based"`
	RequiresImage  bool                `yaml:"requires_image"`
	RequiresMask   bool                `yaml:"requires_mask"`
	DefaultPayload map[string]any      `yaml:"default_payload"`
	AllowedValues  map[string][]string `yaml:"allowed_values"`
}

// Default returns the registry compiled into the binary.
func Default() (*Registry, error) {
	return Load(defaultRegistryYAML)
}

// LoadFile reads a registry from a YAML file on disk.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tool registry: %w", err)
	}
	return Load(data)
}

// Load parses and validates a YAML registry document. Unknown keys are
// rejected so a typo in job_based cannot silently flip a tool to instant.
func Load(data []byte) (*Registry, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file registryFile
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse tool registry: %w", err)
	}
	if len(file.Tools) == 0 {
		return nil, errors.New("tool registry is empty")
	}

	r := &Registry{tools: make(map[string]Descriptor, len(file.Tools))}
	for id, entry := range file.Tools {
		desc, err := entry.descriptor(id)
		if err != nil {
			return nil, err
		}
		r.tools[desc.ID] = desc
		r.ids = append(r.ids, desc.ID)
	}
	sort.Strings(r.ids)
	return r, nil
}

func (e toolEntry) descriptor(id string) (Descriptor, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Descriptor{}, errors.New("tool registry: empty tool id")
	}
	endpoint := strings.TrimSpace(e.Endpoint)
	if endpoint == "" {
		return Descriptor{}, fmt.Errorf("tool registry: %s: endpoint is required", id)
	}
	if !strings.HasPrefix(endpoint, "/") {
		return Descriptor{}, fmt.Errorf("tool registry: %s: endpoint %q must start with /", id, endpoint)
	}

	var defaults map[string]string
	if len(e.DefaultPayload) > 0 {
		defaults = make(map[string]string, len(e.DefaultPayload))
		for k, v := range e.DefaultPayload {
			s, ok := scalarString(v)
			if !ok {
				return Descriptor{}, fmt.Errorf("tool registry: %s: default_payload.%s must be a scalar", id, k)
			}
			defaults[k] = s
		}
	}

	for k, allowed := range e.AllowedValues {
		if len(allowed) == 0 {
			return Descriptor{}, fmt.Errorf("tool registry: %s: allowed_values.%s is empty", id, k)
		}
		if d, ok := defaults[k]; ok && !slices.Contains(allowed, d) {
			return Descriptor{}, fmt.Errorf("tool registry: %s: default %s=%q is not an allowed value", id, k, d)
		}
	}
	if e.RequiresMask && !e.RequiresImage {
		return Descriptor{}, fmt.Errorf("tool registry: %s: requires_mask needs requires_image", id)
	}

	return Descriptor{
		ID:             id,
		EndpointPath:   endpoint,
		JobBased:       e.JobBased,
		RequiresImage:  e.RequiresImage,
		RequiresMask:   e.RequiresMask,
		DefaultPayload: defaults,
		AllowedValues:  e.AllowedValues,
	}, nil
}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case uint64:
		return strconv.FormatUint(t, 10), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	default:
		return "", false
	}
}

// WithEndpoint returns a copy of d that posts to /<name> instead of its
// registered path. Only lowercase letters, digits and dashes are accepted.
func (d Descriptor) WithEndpoint(name string) (Descriptor, error) {
	name = strings.TrimSpace(name)
	if !endpointNameRe.MatchString(name) {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrInvalidEndpoint, name)
	}
	d.EndpointPath = "/" + name
	return d, nil
}

// Resolve returns the descriptor registered under id.
func (r *Registry) Resolve(id string) (Descriptor, error) {
	desc, ok := r.tools[id]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownTool, id)
	}
	return desc, nil
}

// IDs returns the registered tool ids in sorted order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}

// Descriptors returns every descriptor ordered by id.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.tools[id])
	}
	return out
}
