// Package config loads Tethys settings from an optional YAML file, a .env
// file and TETHYS_* environment variables, in that order of precedence
// (later wins).
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig configures cmd/api.
type ServerConfig struct {
	Addr        string  `yaml:"addr"`
	CORSOrigin  string  `yaml:"cors_origin"`
	ServiceName string  `yaml:"service_name"`
	RateLimit   float64 `yaml:"rate_limit"` // requests per second, 0 disables
	RateBurst   int     `yaml:"rate_burst"`
}

// SQLiteConfig locates the relational float store.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// QdrantConfig locates the vector store.
type QdrantConfig struct {
	Addr       string `yaml:"addr"`
	Collection string `yaml:"collection"`
	Dimension  int    `yaml:"dimension"`
}

// Neo4jConfig locates the optional mission catalog.
type Neo4jConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// NATSConfig configures the optional request/reply and event transport.
type NATSConfig struct {
	Enabled      bool          `yaml:"enabled"`
	URL          string        `yaml:"url"`
	AskSubject   string        `yaml:"ask_subject"`
	EventSubject string        `yaml:"event_subject"`
	Queue        string        `yaml:"queue"`
	Timeout      time.Duration `yaml:"timeout"`
}

// ModelsConfig selects the embedding and generation services.
type ModelsConfig struct {
	Provider    string  `yaml:"provider"` // "ollama" or "openai"
	OllamaURL   string  `yaml:"ollama_url"`
	BaseURL     string  `yaml:"base_url"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	APIKey      string  `yaml:"-"`
	ChatModel   string  `yaml:"chat_model"`
	EmbedModel  string  `yaml:"embed_model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// RetrievalConfig tunes the retriever.
type RetrievalConfig struct {
	TopK             int           `yaml:"top_k"`
	RelationalLimit  int           `yaml:"relational_limit"`
	MaxItems         int           `yaml:"max_items"`
	StructuredWeight float64       `yaml:"structured_weight"`
	SemanticWeight   float64       `yaml:"semantic_weight"`
	StoreTimeout     time.Duration `yaml:"store_timeout"`
	MaxAttempts      int           `yaml:"max_attempts"`
}

// ComposeConfig tunes the response composer.
type ComposeConfig struct {
	ContextBudget int           `yaml:"context_budget"`
	Timeout       time.Duration `yaml:"timeout"`
}

// IndexConfig tunes the summary indexer.
type IndexConfig struct {
	BatchSize int     `yaml:"batch_size"`
	EmbedRPS  float64 `yaml:"embed_rps"`
}

// Config is the root configuration.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Server    ServerConfig    `yaml:"server"`
	SQLite    SQLiteConfig    `yaml:"sqlite"`
	Qdrant    QdrantConfig    `yaml:"qdrant"`
	Neo4j     Neo4jConfig     `yaml:"neo4j"`
	NATS      NATSConfig      `yaml:"nats"`
	Models    ModelsConfig    `yaml:"models"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Compose   ComposeConfig   `yaml:"compose"`
	Index     IndexConfig     `yaml:"index"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Server: ServerConfig{
			Addr:        ":8080",
			CORSOrigin:  "*",
			ServiceName: "tethys-api",
			RateLimit:   20,
			RateBurst:   40,
		},
		SQLite: SQLiteConfig{Path: "tethys.db"},
		Qdrant: QdrantConfig{Addr: "localhost:6334", Collection: "argo_profiles", Dimension: 768},
		Neo4j:  Neo4jConfig{URL: "neo4j://localhost:7687", User: "neo4j", Password: "password"},
		NATS: NATSConfig{
			URL:          "nats://localhost:4222",
			AskSubject:   "tethys.ask",
			EventSubject: "tethys.query.completed",
			Queue:        "tethys-api",
			Timeout:      30 * time.Second,
		},
		Models: ModelsConfig{
			Provider:    "ollama",
			OllamaURL:   "http://localhost:11434",
			APIKeyEnv:   "TETHYS_LLM_API_KEY",
			ChatModel:   "mistral",
			EmbedModel:  "nomic-embed-text",
			Temperature: 0.2,
			MaxTokens:   512,
		},
		Retrieval: RetrievalConfig{
			TopK:             10,
			RelationalLimit:  200,
			MaxItems:         50,
			StructuredWeight: 0.5,
			SemanticWeight:   0.5,
			StoreTimeout:     5 * time.Second,
			MaxAttempts:      3,
		},
		Compose: ComposeConfig{ContextBudget: 6000, Timeout: 30 * time.Second},
		Index:   IndexConfig{BatchSize: 32, EmbedRPS: 10},
	}
}

// Load builds the configuration. path may be empty; envFiles default to
// ".env" and are skipped when absent.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (c *Config) applyEnv() error {
	c.LogLevel = envOr("TETHYS_LOG_LEVEL", c.LogLevel)
	c.Server.Addr = envOr("TETHYS_HTTP_ADDR", c.Server.Addr)
	c.Server.CORSOrigin = envOr("TETHYS_CORS_ORIGIN", c.Server.CORSOrigin)
	c.SQLite.Path = envOr("TETHYS_SQLITE_PATH", c.SQLite.Path)
	c.Qdrant.Addr = envOr("TETHYS_QDRANT_ADDR", c.Qdrant.Addr)
	c.Qdrant.Collection = envOr("TETHYS_QDRANT_COLLECTION", c.Qdrant.Collection)
	c.Neo4j.URL = envOr("TETHYS_NEO4J_URL", c.Neo4j.URL)
	c.Neo4j.User = envOr("TETHYS_NEO4J_USER", c.Neo4j.User)
	c.Neo4j.Password = envOr("TETHYS_NEO4J_PASS", c.Neo4j.Password)
	c.NATS.URL = envOr("TETHYS_NATS_URL", c.NATS.URL)
	c.Models.Provider = envOr("TETHYS_MODEL_PROVIDER", c.Models.Provider)
	c.Models.OllamaURL = envOr("TETHYS_OLLAMA_URL", c.Models.OllamaURL)
	c.Models.BaseURL = envOr("TETHYS_LLM_BASE_URL", c.Models.BaseURL)
	c.Models.ChatModel = envOr("TETHYS_CHAT_MODEL", c.Models.ChatModel)
	c.Models.EmbedModel = envOr("TETHYS_EMBED_MODEL", c.Models.EmbedModel)
	if c.Models.APIKeyEnv != "" {
		c.Models.APIKey = os.Getenv(c.Models.APIKeyEnv)
	}

	var errs []error
	boolEnv := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	durEnv := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	intEnv := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	boolEnv("TETHYS_NEO4J_ENABLED", &c.Neo4j.Enabled)
	boolEnv("TETHYS_NATS_ENABLED", &c.NATS.Enabled)
	durEnv("TETHYS_STORE_TIMEOUT", &c.Retrieval.StoreTimeout)
	durEnv("TETHYS_GENERATION_TIMEOUT", &c.Compose.Timeout)
	intEnv("TETHYS_QDRANT_DIMENSION", &c.Qdrant.Dimension)
	intEnv("TETHYS_MAX_ITEMS", &c.Retrieval.MaxItems)

	if len(errs) > 0 {
		return fmt.Errorf("config: env: %w", errors.Join(errs...))
	}
	return nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	switch c.Models.Provider {
	case "ollama", "openai":
	default:
		errs = append(errs, fmt.Errorf("models.provider %q: want ollama or openai", c.Models.Provider))
	}
	r := c.Retrieval
	if r.StructuredWeight < 0 || r.SemanticWeight < 0 || r.StructuredWeight+r.SemanticWeight == 0 {
		errs = append(errs, errors.New("retrieval weights must be non-negative and not both zero"))
	}
	if r.MaxItems <= 0 || r.TopK <= 0 || r.RelationalLimit <= 0 {
		errs = append(errs, errors.New("retrieval max_items, top_k and relational_limit must be positive"))
	}
	if r.MaxAttempts < 1 {
		errs = append(errs, errors.New("retrieval.max_attempts must be at least 1"))
	}
	if r.StoreTimeout <= 0 || c.Compose.Timeout <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}
	if c.Compose.ContextBudget < 200 {
		errs = append(errs, errors.New("compose.context_budget must be at least 200"))
	}
	if c.Qdrant.Dimension <= 0 {
		errs = append(errs, errors.New("qdrant.dimension must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Level maps LogLevel to a slog level; unknown values mean info.
func (c *Config) Level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
