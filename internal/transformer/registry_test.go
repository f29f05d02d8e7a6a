package transformer

import "testing"

func TestRegistry_ForHost(t *testing.T) {
	r := NewRegistry(OpenAITransformer{}, OpenRouterTransformer{}, GeminiTransformer{})

	cases := []struct {
		host string
		want string
	}{
		{"api.openai.com", "openai"},
		{"openrouter.ai", "openrouter"},
		{"api.openrouter.ai", "openrouter"}, // substring match
		{"generativelanguage.googleapis.com", "gemini"},
		{"some.unknown.host", "openai"}, // falls back to the default
	}

	for _, tc := range cases {
		t.Run(tc.host, func(t *testing.T) {
			got, ok := r.ForHost(tc.host)
			if !ok {
				t.Fatalf("ForHost(%q): no transformer found", tc.host)
			}
			if got.Name() != tc.want {
				t.Errorf("ForHost(%q) = %q, want %q", tc.host, got.Name(), tc.want)
			}
		})
	}
}

func TestRegistry_PanicsOnMultipleDefaults(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on two default transformers")
		}
	}()
	NewRegistry(OpenAITransformer{}, fakeDefaultTransformer{})
}

type fakeDefaultTransformer struct{ OpenAITransformer }

func (fakeDefaultTransformer) Name() string   { return "fake-default" }
func (fakeDefaultTransformer) Domain() string { return "fake.example.com" }
