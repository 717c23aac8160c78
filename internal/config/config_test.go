package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validConfig() Config {
	cfg := Config{HTTP: HTTPConfig{Port: 8080}}
	cfg.ApplyDefaults()
	return cfg
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := validConfig()
	cfg.HTTP.Port = 70000

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestValidate_InvalidUpstreamURL(t *testing.T) {
	tests := []string{"localhost:11434", "ftp://host", "http://"}

	for _, raw := range tests {
		t.Run(raw, func(t *testing.T) {
			cfg := validConfig()
			cfg.Upstream.BaseURL = raw

			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected error for %q", raw)
			}
			if !strings.Contains(err.Error(), "upstream.base_url") {
				t.Errorf("error should name the field, got %q", err.Error())
			}
		})
	}
}

func TestValidate_MaxRetriesRange(t *testing.T) {
	cfg := validConfig()
	cfg.Upstream.MaxRetries = -1
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for negative retries")
	}

	cfg.Upstream.MaxRetries = 3
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	if cfg.HTTP.Port != 5000 {
		t.Errorf("expected Port=5000, got %d", cfg.HTTP.Port)
	}
	if cfg.Upstream.BaseURL != "http://localhost:11434" {
		t.Errorf("unexpected BaseURL %q", cfg.Upstream.BaseURL)
	}
	if cfg.Upstream.RequestTimeoutSec != 120 {
		t.Errorf("expected RequestTimeoutSec=120, got %d", cfg.Upstream.RequestTimeoutSec)
	}
	if cfg.Upstream.ProbeTimeoutSec != 5 {
		t.Errorf("expected ProbeTimeoutSec=5, got %d", cfg.Upstream.ProbeTimeoutSec)
	}
	if cfg.Upstream.MaxRetries != 0 {
		t.Errorf("expected MaxRetries=0, got %d", cfg.Upstream.MaxRetries)
	}
	if cfg.Models.Writing != "mistral" || cfg.Models.Code != "codellama" || cfg.Models.Docs != "mistral" {
		t.Errorf("unexpected models %+v", cfg.Models)
	}
	if cfg.Embedding.BaseURL != "http://localhost:11434/v1" {
		t.Errorf("unexpected embedding BaseURL %q", cfg.Embedding.BaseURL)
	}
	if cfg.Embedding.Model != "nomic-embed-text" {
		t.Errorf("unexpected embedding model %q", cfg.Embedding.Model)
	}
	if cfg.DocQA.TopK != 2 {
		t.Errorf("expected TopK=2, got %d", cfg.DocQA.TopK)
	}
}

func TestApplyDefaults_NoOverride(t *testing.T) {
	cfg := Config{
		HTTP:     HTTPConfig{Port: 9000, ReadTimeoutSec: 30, WriteTimeoutSec: 60},
		Upstream: UpstreamConfig{BaseURL: "http://ollama:11434/", RequestTimeoutSec: 30},
		Models:   ModelsConfig{Writing: "llama3", Docs: "phi3"},
		DocQA:    DocQAConfig{TopK: 5},
	}
	cfg.ApplyDefaults()

	if cfg.HTTP.WriteTimeoutSec != 60 {
		t.Errorf("expected WriteTimeoutSec=60, got %d", cfg.HTTP.WriteTimeoutSec)
	}
	if cfg.Upstream.BaseURL != "http://ollama:11434" {
		t.Errorf("expected trailing slash trimmed, got %q", cfg.Upstream.BaseURL)
	}
	if cfg.Embedding.BaseURL != "http://ollama:11434/v1" {
		t.Errorf("embedding URL should follow upstream, got %q", cfg.Embedding.BaseURL)
	}
	if cfg.Upstream.RequestTimeoutSec != 30 {
		t.Errorf("expected RequestTimeoutSec=30, got %d", cfg.Upstream.RequestTimeoutSec)
	}
	if cfg.Models.Writing != "llama3" || cfg.Models.Docs != "phi3" {
		t.Errorf("unexpected models %+v", cfg.Models)
	}
	if cfg.DocQA.TopK != 5 {
		t.Errorf("expected TopK=5, got %d", cfg.DocQA.TopK)
	}
}

func TestModelsCandidates_Dedup(t *testing.T) {
	m := ModelsConfig{Writing: "mistral", Code: "codellama", Docs: "mistral"}
	got := m.Candidates()

	if len(got) != 2 || got[0] != "mistral" || got[1] != "codellama" {
		t.Errorf("unexpected candidates %v", got)
	}
}

func TestParse_ExpandsEnv(t *testing.T) {
	t.Setenv("LLMGATE_TEST_OLLAMA", "http://gpu-box:11434")

	cfg, err := Parse([]byte(`
http:
  port: 8081
upstream:
  base_url: ${LLMGATE_TEST_OLLAMA}
  max_retries: ${LLMGATE_TEST_RETRIES:-2}
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Upstream.BaseURL != "http://gpu-box:11434" {
		t.Errorf("unexpected BaseURL %q", cfg.Upstream.BaseURL)
	}
	if cfg.Upstream.MaxRetries != 2 {
		t.Errorf("expected default applied, got %d", cfg.Upstream.MaxRetries)
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("http: [")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("LLMGATE_DOTENV_VALUE=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LLMGATE_DOTENV_VALUE", "")
	os.Unsetenv("LLMGATE_DOTENV_VALUE")

	if err := loadDotEnv(path); err != nil {
		t.Fatalf("loadDotEnv: %v", err)
	}
	if got := os.Getenv("LLMGATE_DOTENV_VALUE"); got != "from-file" {
		t.Errorf("expected value from .env, got %q", got)
	}

	if err := loadDotEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("missing .env must be ignored, got %v", err)
	}
}

func TestLoad_LocalConfig(t *testing.T) {
	cfg, err := Load("local")
	if err != nil {
		t.Fatalf("Load(local): %v", err)
	}
	if cfg.HTTP.Port <= 0 {
		t.Errorf("expected port to be set, got %d", cfg.HTTP.Port)
	}
}
