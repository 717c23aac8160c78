package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the llmgate configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Models    ModelsConfig    `yaml:"models"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	DocQA     DocQAConfig     `yaml:"docqa"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int    `yaml:"port"`
	ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
	WriteTimeoutSec int    `yaml:"write_timeout_sec"`
	ShutdownSec     int    `yaml:"shutdown_timeout_sec"`
	StaticDir       string `yaml:"static_dir"` // empty disables / and /static/
}

// UpstreamConfig holds the Ollama connection settings.
type UpstreamConfig struct {
	BaseURL           string `yaml:"base_url"`
	RequestTimeoutSec int    `yaml:"request_timeout_sec"`
	ProbeTimeoutSec   int    `yaml:"probe_timeout_sec"`
	MaxRetries        int    `yaml:"max_retries"` // 0 = single attempt
	ProbeConcurrency  int    `yaml:"probe_concurrency"`
}

// RequestTimeout returns the generation timeout as a duration.
func (u UpstreamConfig) RequestTimeout() time.Duration {
	return time.Duration(u.RequestTimeoutSec) * time.Second
}

// ProbeTimeout returns the liveness probe timeout as a duration.
func (u UpstreamConfig) ProbeTimeout() time.Duration {
	return time.Duration(u.ProbeTimeoutSec) * time.Second
}

// ModelsConfig names the fixed models behind each route.
type ModelsConfig struct {
	Writing string `yaml:"writing"`
	Code    string `yaml:"code"`
	Docs    string `yaml:"docs"`
}

// Candidates returns the distinct models probed by /status, in route order.
func (m ModelsConfig) Candidates() []string {
	seen := make(map[string]bool, 3)
	var out []string
	for _, name := range []string{m.Writing, m.Code, m.Docs} {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// EmbeddingConfig holds the OpenAI-compatible embedding provider settings.
type EmbeddingConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	Dimensions     int    `yaml:"dimensions"` // 0 = provider default
	BatchSize      int    `yaml:"batch_size"`
	DocumentPrefix string `yaml:"document_prefix"`
	QueryPrefix    string `yaml:"query_prefix"`
}

// DocQAConfig holds the document question-answering settings.
type DocQAConfig struct {
	TopK          int    `yaml:"top_k"`
	ChunkSize     int    `yaml:"chunk_size"`    // characters
	ChunkOverlap  int    `yaml:"chunk_overlap"` // sentences
	MaxUploadMB   int    `yaml:"max_upload_mb"`
	ScratchPrefix string `yaml:"scratch_prefix"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
// A .env file in the working directory, if present, is loaded first.
func Load(env string) (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}

	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	return Parse(data)
}

// Parse expands ${VAR} references, decodes YAML, applies defaults and validates.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 5000
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 30
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 150
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = "http://localhost:11434"
	}
	c.Upstream.BaseURL = strings.TrimRight(c.Upstream.BaseURL, "/")
	if c.Upstream.RequestTimeoutSec <= 0 {
		c.Upstream.RequestTimeoutSec = 120
	}
	if c.Upstream.ProbeTimeoutSec <= 0 {
		c.Upstream.ProbeTimeoutSec = 5
	}
	if c.Upstream.ProbeConcurrency <= 0 {
		c.Upstream.ProbeConcurrency = 4
	}
	if c.Models.Writing == "" {
		c.Models.Writing = "mistral"
	}
	if c.Models.Code == "" {
		c.Models.Code = "codellama"
	}
	if c.Models.Docs == "" {
		c.Models.Docs = c.Models.Writing
	}
	if c.Embedding.BaseURL == "" {
		c.Embedding.BaseURL = c.Upstream.BaseURL + "/v1"
	}
	if c.Embedding.APIKey == "" {
		c.Embedding.APIKey = "ollama" // Ollama ignores the key but the client sends one
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "nomic-embed-text"
	}
	if c.Embedding.BatchSize <= 0 {
		c.Embedding.BatchSize = 64
	}
	if c.DocQA.TopK <= 0 {
		c.DocQA.TopK = 2
	}
	if c.DocQA.ChunkSize <= 0 {
		c.DocQA.ChunkSize = 2048
	}
	if c.DocQA.ChunkOverlap < 0 {
		c.DocQA.ChunkOverlap = 0
	}
	if c.DocQA.MaxUploadMB <= 0 {
		c.DocQA.MaxUploadMB = 32
	}
	if c.DocQA.ScratchPrefix == "" {
		c.DocQA.ScratchPrefix = "llmgate-docqa-"
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if err := validateURL("upstream.base_url", c.Upstream.BaseURL); err != nil {
		return err
	}
	if err := validateURL("embedding.base_url", c.Embedding.BaseURL); err != nil {
		return err
	}
	if c.Upstream.MaxRetries < 0 || c.Upstream.MaxRetries > 10 {
		return fmt.Errorf("upstream.max_retries must be between 0 and 10, got %d", c.Upstream.MaxRetries)
	}
	if c.Embedding.Dimensions < 0 {
		return fmt.Errorf("embedding.dimensions must not be negative, got %d", c.Embedding.Dimensions)
	}
	if c.DocQA.ChunkSize < 64 {
		return fmt.Errorf("docqa.chunk_size must be at least 64 characters, got %d", c.DocQA.ChunkSize)
	}
	return nil
}

func validateURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be an http(s) URL, got %q", field, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s has no host: %q", field, raw)
	}
	return nil
}

// loadDotEnv loads path into the process environment without overriding variables already set.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load %s: %w", path, err)
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// Relative to the source file, for tests and `go run` from a subdirectory.
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
