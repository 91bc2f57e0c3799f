package embedder

import (
	"log/slog"
	"testing"
)

// clearEmbeddingEnv blanks every env var the factory consults so each test
// starts from a clean slate. t.Setenv restores the originals afterwards.
func clearEmbeddingEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"EMBEDDING_PROVIDER", "EMBEDDING_MODEL", "EMBEDDING_DIMENSIONS",
		"EMBEDDING_API_KEY", "EMBEDDING_ENDPOINT",
		"MODEL_PROVIDER", "OPENAI_API_KEY", "OLLAMA_HOST",
		"AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT", "AZURE_OPENAI_API_VERSION",
	} {
		t.Setenv(key, "")
	}
}

// TestDimensions verifies the model-to-dimension mapping and the env override.
func TestDimensions(t *testing.T) {
	clearEmbeddingEnv(t)

	cases := []struct {
		name    string
		backend string
		model   string
		want    int
	}{
		{"openai default", "openai", "", 1536},
		{"openai small", "openai", "text-embedding-3-small", 1536},
		{"openai large", "openai", "text-embedding-3-large", 3072},
		{"openai unknown model", "openai", "future-embedding-model", 3072},
		{"ollama", "ollama", "nomic-embed-text", 768},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Dimensions(tc.backend, tc.model); got != tc.want {
				t.Errorf("Dimensions(%q, %q) = %d, want %d", tc.backend, tc.model, got, tc.want)
			}
		})
	}

	t.Setenv("EMBEDDING_DIMENSIONS", "512")
	if got := Dimensions("openai", "text-embedding-3-small"); got != 512 {
		t.Errorf("EMBEDDING_DIMENSIONS override = %d, want 512", got)
	}
}

// TestBackend verifies the provider resolution cascade.
func TestBackend(t *testing.T) {
	clearEmbeddingEnv(t)

	if got := Backend(); got != "openai" {
		t.Errorf("default backend = %q, want openai", got)
	}

	t.Setenv("MODEL_PROVIDER", "ollama")
	if got := Backend(); got != "ollama" {
		t.Errorf("inherited backend = %q, want ollama", got)
	}

	t.Setenv("EMBEDDING_PROVIDER", "azure")
	if got := Backend(); got != "azure" {
		t.Errorf("explicit backend = %q, want azure", got)
	}
}

// TestModel verifies per-backend defaults and the override.
func TestModel(t *testing.T) {
	clearEmbeddingEnv(t)

	if got := Model("openai"); got != "text-embedding-3-small" {
		t.Errorf("openai default model = %q", got)
	}
	if got := Model("ollama"); got != "nomic-embed-text" {
		t.Errorf("ollama default model = %q", got)
	}

	t.Setenv("EMBEDDING_MODEL", "custom-embedding")
	if got := Model("openai"); got != "custom-embedding" {
		t.Errorf("override model = %q", got)
	}
}

// TestNewFromEnv verifies the construction and error paths per backend.
func TestNewFromEnv(t *testing.T) {
	t.Run("openai requires a key", func(t *testing.T) {
		clearEmbeddingEnv(t)
		if _, err := NewFromEnv(); err == nil {
			t.Error("expected error without OPENAI_API_KEY")
		}
	})

	t.Run("openai with key", func(t *testing.T) {
		clearEmbeddingEnv(t)
		t.Setenv("OPENAI_API_KEY", "sk-test")
		e, err := NewFromEnv()
		if err != nil {
			t.Fatalf("NewFromEnv: %v", err)
		}
		if e == nil {
			t.Fatal("expected an embedder")
		}
	})

	t.Run("ollama needs no credentials", func(t *testing.T) {
		clearEmbeddingEnv(t)
		t.Setenv("EMBEDDING_PROVIDER", "ollama")
		if _, err := NewFromEnv(); err != nil {
			t.Fatalf("NewFromEnv: %v", err)
		}
	})

	t.Run("azure requires key and endpoint", func(t *testing.T) {
		clearEmbeddingEnv(t)
		t.Setenv("EMBEDDING_PROVIDER", "azure")
		t.Setenv("AZURE_OPENAI_API_KEY", "key")
		if _, err := NewFromEnv(); err == nil {
			t.Error("expected error without an Azure endpoint")
		}
		t.Setenv("AZURE_OPENAI_ENDPOINT", "https://example.openai.azure.com")
		if _, err := NewFromEnv(); err != nil {
			t.Errorf("NewFromEnv: %v", err)
		}
	})

	t.Run("unknown backend", func(t *testing.T) {
		clearEmbeddingEnv(t)
		t.Setenv("EMBEDDING_PROVIDER", "carrier-pigeon")
		if _, err := NewFromEnv(); err == nil {
			t.Error("expected error for unknown backend")
		}
	})
}

// TestValidate verifies the startup pre-flight check.
func TestValidate(t *testing.T) {
	t.Run("openai without key", func(t *testing.T) {
		clearEmbeddingEnv(t)
		if err := Validate(slog.Default()); err == nil {
			t.Error("expected error without an API key")
		}
	})

	t.Run("ollama passes", func(t *testing.T) {
		clearEmbeddingEnv(t)
		t.Setenv("EMBEDDING_PROVIDER", "ollama")
		if err := Validate(slog.Default()); err != nil {
			t.Errorf("Validate: %v", err)
		}
	})

	t.Run("chat model name only warns", func(t *testing.T) {
		clearEmbeddingEnv(t)
		t.Setenv("OPENAI_API_KEY", "sk-test")
		t.Setenv("EMBEDDING_MODEL", "gpt-4o-mini")
		if err := Validate(slog.Default()); err != nil {
			t.Errorf("a chat-model name should warn, not fail: %v", err)
		}
	})
}

// TestLooksLikeChatModel verifies the misconfiguration heuristic.
func TestLooksLikeChatModel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		model string
		want  bool
	}{
		{"gpt-4o-mini", true},
		{"Llama3.1:8b", true},
		{"mistral-7b", true},
		{"text-embedding-3-small", false},
		{"nomic-embed-text", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := looksLikeChatModel(tc.model); got != tc.want {
			t.Errorf("looksLikeChatModel(%q) = %v, want %v", tc.model, got, tc.want)
		}
	}
}
