package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the ragmcp configuration shared by the RPC server, the HTTP API and the CLI.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	RPC       RPCConfig       `yaml:"rpc"`
	Database  DatabaseConfig  `yaml:"database"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Chat      ChatConfig      `yaml:"chat"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// RPCConfig holds stdio RPC settings.
type RPCConfig struct {
	ServerPath   string `yaml:"server_path"`    // binary the CLI spawns
	MaxLineBytes int    `yaml:"max_line_bytes"` // largest accepted request line
	APIURL       string `yaml:"api_url"`        // HTTP API base used by `ragmcp info`
}

// DatabaseConfig holds backing store settings.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver"` // sqlite, redis (default: sqlite)
	Path             string   `yaml:"path"`   // sqlite file
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	KeyPrefix        string   `yaml:"key_prefix"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // ollama, openai (default: ollama)
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	Cache      bool   `yaml:"cache"`

	// Task prefixes for instruction-tuned models (nomic-embed-text expects
	// "search_document: " and "search_query: ").
	DocumentInstruction string `yaml:"document_instruction"`
	QueryInstruction    string `yaml:"query_instruction"`

	Retry  RetryConfig  `yaml:"retry"`
	Budget BudgetConfig `yaml:"budget"`
}

// BudgetConfig caps embedding tokens per UTC day and month. Zero is unlimited.
type BudgetConfig struct {
	DailyTokens   int64  `yaml:"daily_tokens"`
	MonthlyTokens int64  `yaml:"monthly_tokens"`
	Action        string `yaml:"action"` // warn, reject (default: warn)
}

// RetryConfig holds embedding retry and throttle settings.
type RetryConfig struct {
	MaxAttempts   int `yaml:"max_attempts"`
	BackoffStepMS int `yaml:"backoff_step_ms"`
	ThrottleMS    int `yaml:"throttle_ms"` // negative disables the throttle
}

// ChunkingConfig holds text splitter limits, counted in whitespace tokens.
type ChunkingConfig struct {
	MaxTokensPerLine      int `yaml:"max_tokens_per_line"`
	MaxTokensPerParagraph int `yaml:"max_tokens_per_paragraph"`
	OverlapTokens         int `yaml:"overlap_tokens"` // negative disables overlap
}

// RetrievalConfig holds query defaults for the RPC query tool and the answer service.
type RetrievalConfig struct {
	DefaultCollection string  `yaml:"default_collection"`
	DefaultLimit      int     `yaml:"default_limit"`
	ScoreThreshold    float64 `yaml:"score_threshold"`
	SearchTopK        int     `yaml:"search_top_k"`           // HTTP /search default
	SearchThreshold   float64 `yaml:"search_score_threshold"` // HTTP /search default
}

// ChatConfig holds the OpenAI-compatible chat completion endpoint.
type ChatConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
}

// JobsConfig holds background ingestion worker settings.
type JobsConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	return LoadFile(findConfigPath(env))
}

// LoadFile reads configuration from an explicit YAML path.
func LoadFile(configPath string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes, expands env variables, applies defaults and validates.
func Parse(data []byte) (Config, error) {
	// Substitute env variables of the form ${VAR}
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
	if c.HTTP.Port <= 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 120
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.RPC.ServerPath == "" {
		c.RPC.ServerPath = "ragmcp-server"
	}
	if c.RPC.MaxLineBytes <= 0 {
		c.RPC.MaxLineBytes = 16 << 20
	}
	if c.RPC.APIURL == "" {
		c.RPC.APIURL = "http://localhost:8080"
	}
	c.applyDatabaseDefaults()
	c.applyEmbeddingDefaults()
	if c.Chunking.MaxTokensPerLine <= 0 {
		c.Chunking.MaxTokensPerLine = 128
	}
	if c.Chunking.MaxTokensPerParagraph <= 0 {
		c.Chunking.MaxTokensPerParagraph = 512
	}
	if c.Chunking.OverlapTokens == 0 {
		c.Chunking.OverlapTokens = 50
	}
	c.applyRetrievalDefaults()
	if c.Chat.BaseURL == "" {
		c.Chat.BaseURL = "http://localhost:11434/v1"
	}
	if c.Chat.Model == "" {
		c.Chat.Model = "llama3.2"
	}
	if c.Jobs.Workers <= 0 {
		c.Jobs.Workers = 2
	}
	if c.Jobs.QueueSize <= 0 {
		c.Jobs.QueueSize = 64
	}
}

func (c *Config) applyDatabaseDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = "ragmcp.db"
	}
	if c.Database.KeyPrefix == "" {
		c.Database.KeyPrefix = "ragmcp:"
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
}

func (c *Config) applyEmbeddingDefaults() {
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "ollama"
	}
	if c.Embedding.BaseURL == "" {
		c.Embedding.BaseURL = "http://localhost:11434"
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "nomic-embed-text"
	}
	if c.Embedding.Retry.MaxAttempts <= 0 {
		c.Embedding.Retry.MaxAttempts = 10
	}
	if c.Embedding.Retry.BackoffStepMS <= 0 {
		c.Embedding.Retry.BackoffStepMS = 2000
	}
	if c.Embedding.Retry.ThrottleMS == 0 {
		c.Embedding.Retry.ThrottleMS = 300
	}
	if c.Embedding.Budget.Action == "" {
		c.Embedding.Budget.Action = "warn"
	}
}

func (c *Config) applyRetrievalDefaults() {
	if c.Retrieval.DefaultCollection == "" {
		c.Retrieval.DefaultCollection = "rag-collection"
	}
	if c.Retrieval.DefaultLimit <= 0 {
		c.Retrieval.DefaultLimit = 3
	}
	if c.Retrieval.SearchTopK <= 0 {
		c.Retrieval.SearchTopK = 50
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	case "redis":
		if len(c.Database.Addrs) == 0 {
			return fmt.Errorf("database.addrs is required for redis")
		}
	default:
		return fmt.Errorf("database.driver must be \"sqlite\" or \"redis\", got %q", c.Database.Driver)
	}
	switch c.Embedding.Provider {
	case "ollama", "openai":
		// ok
	default:
		return fmt.Errorf("embedding.provider must be \"ollama\" or \"openai\", got %q", c.Embedding.Provider)
	}
	switch c.Embedding.Budget.Action {
	case "warn", "reject":
		// ok
	default:
		return fmt.Errorf("embedding.budget.action must be \"warn\" or \"reject\", got %q", c.Embedding.Budget.Action)
	}
	if c.Embedding.Budget.DailyTokens < 0 || c.Embedding.Budget.MonthlyTokens < 0 {
		return fmt.Errorf("embedding.budget token limits must not be negative")
	}
	if c.Chunking.OverlapTokens >= c.Chunking.MaxTokensPerParagraph {
		return fmt.Errorf(
			"chunking.overlap_tokens (%d) must be smaller than chunking.max_tokens_per_paragraph (%d)",
			c.Chunking.OverlapTokens, c.Chunking.MaxTokensPerParagraph,
		)
	}
	if c.Chunking.MaxTokensPerLine > c.Chunking.MaxTokensPerParagraph {
		return fmt.Errorf(
			"chunking.max_tokens_per_line (%d) must not exceed chunking.max_tokens_per_paragraph (%d)",
			c.Chunking.MaxTokensPerLine, c.Chunking.MaxTokensPerParagraph,
		)
	}
	if err := validateThreshold("retrieval.score_threshold", c.Retrieval.ScoreThreshold); err != nil {
		return err
	}
	if err := validateThreshold("retrieval.search_score_threshold", c.Retrieval.SearchThreshold); err != nil {
		return err
	}
	return nil
}

func validateThreshold(name string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s must be between 0 and 1, got %g", name, v)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
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
