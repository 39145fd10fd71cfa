package tools

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestDefaultRegistryContents(t *testing.T) {
	reg, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}

	want := []string{
		"ai-eraser", "exterior-ai", "imagine-ai", "inpainting-ai", "interior-ai", "prompt-generator",
		"render-enhancer", "sketch-to-image", "style-transfer", "upscale-4k", "video-ai", "virtual-staging",
	}
	if got := reg.IDs(); !reflect.DeepEqual(got, want) {
		t.Fatalf("IDs: got %v, want %v", got, want)
	}

	interior, err := reg.Resolve("interior-ai")
	if err != nil {
		t.Fatalf("Resolve interior-ai: %v", err)
	}
	if interior.EndpointPath != "/archDiffusion-v41" || !interior.JobBased || !interior.RequiresImage {
		t.Fatalf("unexpected interior-ai descriptor: %+v", interior)
	}
	if interior.DefaultPayload["expert_name"] != "interior" {
		t.Fatalf("interior-ai default payload: %v", interior.DefaultPayload)
	}

	imagine, _ := reg.Resolve("imagine-ai")
	if imagine.RequiresImage {
		t.Fatal("imagine-ai should not require an image")
	}
	staging, _ := reg.Resolve("virtual-staging")
	if staging.JobBased {
		t.Fatal("virtual-staging should be instant")
	}
}

func TestMaskTools(t *testing.T) {
	reg, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}

	inpaint, err := reg.Resolve("inpainting-ai")
	if err != nil {
		t.Fatalf("Resolve inpainting-ai: %v", err)
	}
	if inpaint.EndpointPath != "/inpaint" || inpaint.JobBased || !inpaint.RequiresImage || !inpaint.RequiresMask {
		t.Fatalf("unexpected inpainting-ai descriptor: %+v", inpaint)
	}
	if inpaint.DefaultPayload["mask_type"] != "manual" {
		t.Fatalf("inpainting-ai default payload: %v", inpaint.DefaultPayload)
	}

	eraser, err := reg.Resolve("ai-eraser")
	if err != nil {
		t.Fatalf("Resolve ai-eraser: %v", err)
	}
	if eraser.EndpointPath != "/ai-eraser" || eraser.JobBased || !eraser.RequiresMask {
		t.Fatalf("unexpected ai-eraser descriptor: %+v", eraser)
	}
	if eraser.DefaultPayload["output_format"] != "png" {
		t.Fatalf("ai-eraser default payload: %v", eraser.DefaultPayload)
	}
	if want := []string{"png", "jpg", "jpeg"}; !reflect.DeepEqual(eraser.AllowedValues["output_format"], want) {
		t.Fatalf("ai-eraser allowed values: %v", eraser.AllowedValues)
	}

	for _, d := range reg.Descriptors() {
		if d.RequiresMask && d.ID != "inpainting-ai" && d.ID != "ai-eraser" {
			t.Errorf("%s should not require a mask", d.ID)
		}
	}
}

func TestResolveUnknownTool(t *testing.T) {
	reg, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}

	for _, id := range []string{"", "nope", "Interior-AI", "interior-ai "} {
		_, err := reg.Resolve(id)
		if !errors.Is(err, ErrUnknownTool) {
			t.Errorf("Resolve(%q): got %v, want ErrUnknownTool", id, err)
		}
	}
}

func TestIDsReturnsCopy(t *testing.T) {
	reg, _ := Default()
	ids := reg.IDs()
	ids[0] = "mutated"
	if reg.IDs()[0] == "mutated" {
		t.Fatal("IDs exposed internal slice")
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name:    "empty document",
			doc:     "tools: {}\n",
			wantErr: "empty",
		},
		{
			name:    "missing endpoint",
			doc:     "tools:\n  a:\n    job_based: true\n",
			wantErr: "endpoint is required",
		},
		{
			name:    "relative endpoint",
			doc:     "tools:\n  a:\n    endpoint: upscale\n",
			wantErr: "must start with /",
		},
		{
			name:    "non scalar default",
			doc:     "tools:\n  a:\n    endpoint: /a\n    default_payload:\n      ctx: [1, 2]\n",
			wantErr: "must be a scalar",
		},
		{
			name:    "mask without image",
			doc:     "tools:\n  a:\n    endpoint: /a\n    requires_mask: true\n",
			wantErr: "requires_mask needs requires_image",
		},
		{
			name:    "default outside allowed values",
			doc:     "tools:\n  a:\n    endpoint: /a\n    default_payload:\n      fmt: gif\n    allowed_values:\n      fmt: [png]\n",
			wantErr: "not an allowed value",
		},
		{
			name:    "empty allowed values",
			doc:     "tools:\n  a:\n    endpoint: /a\n    allowed_values:\n      fmt: []\n",
			wantErr: "allowed_values.fmt is empty",
		},
		{
			name:    "unknown field",
			doc:     "tools:\n  a:\n    endpoint: /a\n    jobbased: true\n",
			wantErr: "failed to parse",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load([]byte(tc.doc))
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestLoadScalarDefaults(t *testing.T) {
	doc := `
tools:
  custom:
    endpoint: /custom
    default_payload:
      strength: 0.75
      steps: 30
      hd: true
      mode: fast
`
	reg, err := Load([]byte(doc))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	desc, err := reg.Resolve("custom")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := map[string]string{"strength": "0.75", "steps": "30", "hd": "true", "mode": "fast"}
	if !reflect.DeepEqual(desc.DefaultPayload, want) {
		t.Fatalf("DefaultPayload: got %v, want %v", desc.DefaultPayload, want)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tools.yaml")
	if err := os.WriteFile(path, []byte("tools:\n  only:\n    endpoint: /only\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	reg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if got := reg.IDs(); !reflect.DeepEqual(got, []string{"only"}) {
		t.Fatalf("IDs: got %v", got)
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDescriptorWithEndpoint(t *testing.T) {
	base := Descriptor{ID: "prompt-generator", EndpointPath: "/prompt-generator"}

	got, err := base.WithEndpoint("prompt-generator-ai")
	if err != nil {
		t.Fatalf("WithEndpoint: %v", err)
	}
	if got.EndpointPath != "/prompt-generator-ai" || got.ID != "prompt-generator" {
		t.Fatalf("unexpected descriptor: %+v", got)
	}
	if base.EndpointPath != "/prompt-generator" {
		t.Fatal("WithEndpoint mutated the receiver")
	}

	for _, name := range []string{"", "../status", "Upper", "a/b", "-lead", "x?y=1"} {
		if _, err := base.WithEndpoint(name); !errors.Is(err, ErrInvalidEndpoint) {
			t.Errorf("WithEndpoint(%q): got %v, want ErrInvalidEndpoint", name, err)
		}
	}
}
