package openai

import "testing"

func TestModelDimensions(t *testing.T) {
	cases := []struct {
		model string
		want  int
	}{
		{"text-embedding-3-small", 1536},
		{"text-embedding-3-large", 3072},
		{"text-embedding-ada-002", 1536},
	}
	for _, tc := range cases {
		t.Run(tc.model, func(t *testing.T) {
			if got := modelDimensions(tc.model); got != tc.want {
				t.Errorf("modelDimensions(%q) = %d, want %d", tc.model, got, tc.want)
			}
			p := &Provider{model: tc.model}
			if got := p.Dimensions(); got != tc.want {
				t.Errorf("Dimensions() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestModelDimensions_UnknownModelStaysPositive(t *testing.T) {
	if d := modelDimensions("some-future-model"); d <= 0 {
		t.Errorf("unknown model dimensions = %d, want positive fallback", d)
	}
}

func TestModelID_PassesThrough(t *testing.T) {
	for _, model := range []string{"text-embedding-3-small", "my-custom-embeddings-model"} {
		p := &Provider{model: model}
		if got := p.ModelID(); got != model {
			t.Errorf("ModelID() = %q, want %q", got, model)
		}
	}
}

func TestNew_EmptyModelUsesDefault(t *testing.T) {
	p, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ModelID() != DefaultModel {
		t.Errorf("model = %q, want default %q", p.ModelID(), DefaultModel)
	}
}

func TestNew_RejectsMissingAPIKey(t *testing.T) {
	if _, err := New("", "text-embedding-3-small"); err == nil {
		t.Fatal("empty API key accepted")
	}
}

func TestNew_AcceptsOptions(t *testing.T) {
	_, err := New("sk-test", "text-embedding-3-small",
		WithBaseURL("https://custom.example.com"),
		WithOrganization("org-123"),
	)
	if err != nil {
		t.Fatalf("unexpected error with valid options: %v", err)
	}
}

func TestFloat64ToFloat32(t *testing.T) {
	in := []float64{1.0, 2.5, -0.5}
	out := float64ToFloat32(in)
	if len(out) != len(in) {
		t.Fatalf("length = %d, want %d", len(out), len(in))
	}
	for i, v := range out {
		if v != float32(in[i]) {
			t.Errorf("index %d = %v, want %v", i, v, float32(in[i]))
		}
	}
}
