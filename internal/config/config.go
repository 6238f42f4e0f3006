// Package config loads knowledgehub settings from a TOML file, a .env file
// and KNOWLEDGEHUB_* environment variables, in that order of precedence
// from lowest to highest.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KNOWLEDGEHUB_"

// ErrInvalid is returned when the loaded configuration fails validation.
var ErrInvalid = errors.New("invalid configuration")

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Size is a byte count written in human form ("100 MB").
type Size int64

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Size) UnmarshalText(b []byte) error {
	v, err := humanize.ParseBytes(string(b))
	if err != nil {
		return err
	}
	*s = Size(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (s Size) MarshalText() ([]byte, error) {
	return []byte(humanize.Bytes(uint64(s))), nil
}

// Config is the complete service configuration.
type Config struct {
	// DataDir holds the metadata database, uploaded files and query
	// databases.
	DataDir string `toml:"data_dir" validate:"required"`

	// Storage selects the metadata store: sqlite or memory.
	Storage string `toml:"storage" validate:"oneof=sqlite memory"`

	// LogFormat is text or json.
	LogFormat string `toml:"log_format" validate:"oneof=text json"`

	HTTP      HTTPConfig      `toml:"http"`
	MCP       MCPConfig       `toml:"mcp"`
	Ingestion IngestionConfig `toml:"ingestion"`
	Chunker   ChunkerConfig   `toml:"chunker"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Vector    VectorConfig    `toml:"vector"`
	Bindings  BindingsConfig  `toml:"bindings"`
}

// HTTPConfig configures the management API.
type HTTPConfig struct {
	Addr string `toml:"addr" validate:"required"`
}

// MCPConfig configures the agent protocol server.
type MCPConfig struct {
	Addr           string   `toml:"addr" validate:"required"`
	MaxConnections int      `toml:"max_connections" validate:"min=1"`
	MaxInFlight    int      `toml:"max_in_flight" validate:"min=1"`
	IdleTimeout    Duration `toml:"idle_timeout" validate:"gt=0"`
	PingInterval   Duration `toml:"ping_interval" validate:"gt=0"`
	RequestTimeout Duration `toml:"request_timeout" validate:"gt=0"`
	QueryMaxRows   int      `toml:"query_max_rows" validate:"min=1,max=1000"`
}

// IngestionConfig configures upload intake and the worker pool.
type IngestionConfig struct {
	Workers    int    `toml:"workers" validate:"min=1"`
	QueueSize  int    `toml:"queue_size" validate:"min=1"`
	IndexBatch int    `toml:"index_batch" validate:"min=1"`
	MaxUpload  Size   `toml:"max_upload" validate:"gt=0"`
	InboxDir   string `toml:"inbox_dir"`
}

// ChunkerConfig configures text windowing.
type ChunkerConfig struct {
	Size    int `toml:"size" validate:"min=1"`
	Overlap int `toml:"overlap" validate:"min=0,ltfield=Size"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider          string   `toml:"provider" validate:"oneof=ollama openai hashing"`
	BaseURL           string   `toml:"base_url" validate:"omitempty,url"`
	Model             string   `toml:"model"`
	APIKey            string   `toml:"api_key"`
	Dimensions        int      `toml:"dimensions" validate:"min=1"`
	BatchSize         int      `toml:"batch_size" validate:"min=1"`
	Parallelism       int      `toml:"parallelism" validate:"min=1"`
	Timeout           Duration `toml:"timeout" validate:"gt=0"`
	RequestsPerSecond float64  `toml:"requests_per_second" validate:"min=0"`
	Burst             int      `toml:"burst" validate:"min=0"`
}

// VectorConfig selects and configures the vector index.
type VectorConfig struct {
	Provider   string `toml:"provider" validate:"oneof=qdrant memory"`
	Host       string `toml:"host" validate:"required_if=Provider qdrant"`
	Port       int    `toml:"port" validate:"min=0,max=65535"`
	APIKey     string `toml:"api_key"`
	UseTLS     bool   `toml:"use_tls"`
	Collection string `toml:"collection"`
}

// BindingsConfig configures the binding cache.
type BindingsConfig struct {
	CacheTTL Duration `toml:"cache_ttl" validate:"gt=0"`
}

// Default returns the built-in configuration.
func Default() *Config {
	dataDir := "data"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".knowledgehub")
	}
	return &Config{
		DataDir:   dataDir,
		Storage:   "sqlite",
		LogFormat: "text",
		HTTP:      HTTPConfig{Addr: ":8080"},
		MCP: MCPConfig{
			Addr:           ":8765",
			MaxConnections: 100,
			MaxInFlight:    8,
			IdleTimeout:    Duration(5 * time.Minute),
			PingInterval:   Duration(30 * time.Second),
			RequestTimeout: Duration(30 * time.Second),
			QueryMaxRows:   100,
		},
		Ingestion: IngestionConfig{
			Workers:    5,
			QueueSize:  100,
			IndexBatch: 64,
			MaxUpload:  Size(100 * humanize.MByte),
		},
		Chunker: ChunkerConfig{Size: 1000, Overlap: 200},
		Embedding: EmbeddingConfig{
			Provider:    "ollama",
			BaseURL:     "http://localhost:11434",
			Model:       "nomic-embed-text",
			Dimensions:  768,
			BatchSize:   16,
			Parallelism: 4,
			Timeout:     Duration(30 * time.Second),
		},
		Vector: VectorConfig{
			Provider:   "qdrant",
			Host:       "localhost",
			Port:       6334,
			Collection: "business_knowledge",
		},
		Bindings: BindingsConfig{CacheTTL: Duration(time.Minute)},
	}
}

// Load builds the configuration. An empty path falls back to
// $KNOWLEDGEHUB_CONFIG; when that is unset too only defaults and the
// environment apply. A .env file in the working directory is read first
// and never overrides variables already set.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading .env: %w", err)
	}
	if path == "" {
		path = os.Getenv(EnvPrefix + "CONFIG")
	}

	cfg := Default()
	if path != "" {
		if err := cfg.decodeFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decodeFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening config: %w", err)
	}
	defer f.Close()

	dec := toml.NewDecoder(f).DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("%w: %s", ErrInvalid, strict.String())
		}
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
		}
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
	}
	return nil
}

// Marshal renders the configuration as TOML.
func (c *Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}

// MetadataPath is the directory of the metadata database.
func (c *Config) MetadataPath() string { return c.DataDir }

// BlobPath is the root of stored uploads.
func (c *Config) BlobPath() string { return filepath.Join(c.DataDir, "files") }

// QueryPath is the directory of per-database query files.
func (c *Config) QueryPath() string { return filepath.Join(c.DataDir, "query") }

type envVar struct {
	name  string
	apply func(c *Config, v string) error
}

var envVars = []envVar{
	{"DATA_DIR", func(c *Config, v string) error { c.DataDir = v; return nil }},
	{"STORAGE", func(c *Config, v string) error { c.Storage = v; return nil }},
	{"LOG_FORMAT", func(c *Config, v string) error { c.LogFormat = v; return nil }},
	{"HTTP_ADDR", func(c *Config, v string) error { c.HTTP.Addr = v; return nil }},
	{"MCP_ADDR", func(c *Config, v string) error { c.MCP.Addr = v; return nil }},
	{"MCP_MAX_CONNECTIONS", intVar(func(c *Config) *int { return &c.MCP.MaxConnections })},
	{"INGESTION_WORKERS", intVar(func(c *Config) *int { return &c.Ingestion.Workers })},
	{"INGESTION_INBOX_DIR", func(c *Config, v string) error { c.Ingestion.InboxDir = v; return nil }},
	{"MAX_UPLOAD", func(c *Config, v string) error { return c.Ingestion.MaxUpload.UnmarshalText([]byte(v)) }},
	{"EMBEDDING_PROVIDER", func(c *Config, v string) error { c.Embedding.Provider = v; return nil }},
	{"EMBEDDING_BASE_URL", func(c *Config, v string) error { c.Embedding.BaseURL = v; return nil }},
	{"EMBEDDING_MODEL", func(c *Config, v string) error { c.Embedding.Model = v; return nil }},
	{"EMBEDDING_API_KEY", func(c *Config, v string) error { c.Embedding.APIKey = v; return nil }},
	{"EMBEDDING_DIMENSIONS", intVar(func(c *Config) *int { return &c.Embedding.Dimensions })},
	{"VECTOR_PROVIDER", func(c *Config, v string) error { c.Vector.Provider = v; return nil }},
	{"VECTOR_HOST", func(c *Config, v string) error { c.Vector.Host = v; return nil }},
	{"VECTOR_PORT", intVar(func(c *Config) *int { return &c.Vector.Port })},
	{"VECTOR_API_KEY", func(c *Config, v string) error { c.Vector.APIKey = v; return nil }},
}

func intVar(field func(c *Config) *int) func(c *Config, v string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

// applyEnv overrides fields from the environment.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	for _, ev := range envVars {
		v, ok := lookup(EnvPrefix + ev.name)
		if !ok || v == "" {
			continue
		}
		if err := ev.apply(c, v); err != nil {
			return fmt.Errorf("%w: %s%s: %w", ErrInvalid, EnvPrefix, ev.name, err)
		}
	}
	return nil
}
