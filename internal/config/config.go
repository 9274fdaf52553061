package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported provider drivers.
const (
	DriverRedis  = "redis"
	DriverQdrant = "qdrant"
	DriverMemory = "memory"
	DriverStub   = "stub"
)

// Config holds the vecbench harness configuration.
type Config struct {
	Logging     LoggingConfig     `yaml:"logging"`
	Provider    ProviderConfig    `yaml:"provider"`
	Dataset     DatasetConfig     `yaml:"dataset"`
	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Query       QueryConfig       `yaml:"query"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Output      OutputConfig      `yaml:"output"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// ProviderConfig selects and configures the backend under test.
type ProviderConfig struct {
	Driver     string       `yaml:"driver"` // redis, qdrant, memory, stub
	Collection string       `yaml:"collection"`
	Redis      RedisConfig  `yaml:"redis"`
	Qdrant     QdrantConfig `yaml:"qdrant"`
	Memory     MemoryConfig `yaml:"memory"`
	Stub       StubConfig   `yaml:"stub"`
}

// RedisConfig holds Redis/Valkey search settings.
type RedisConfig struct {
	Addrs              []string `yaml:"addrs"`
	Password           string   `yaml:"password"`
	DB                 int      `yaml:"db"`
	KeyPrefix          string   `yaml:"key_prefix"`
	HNSWM              int      `yaml:"hnsw_m"`
	HNSWEFConstruction int      `yaml:"hnsw_ef_construction"`
	ReadinessTimeout   int      `yaml:"readiness_timeout_sec"`
}

// QdrantConfig holds Qdrant gRPC settings.
type QdrantConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
	UseTLS bool   `yaml:"use_tls"`
}

// MemoryConfig tunes the in-process exact provider.
type MemoryConfig struct {
	VisibilityDelayMS int `yaml:"visibility_delay_ms"`
}

// StubConfig tunes the calibration stub.
type StubConfig struct {
	LatencyMS int     `yaml:"latency_ms"`
	FailRate  float64 `yaml:"fail_rate"`
}

// DatasetConfig locates documents and queries.
type DatasetConfig struct {
	Size             string `yaml:"size"` // 100k, 1m, 10m
	Location         string `yaml:"location"`
	Queries          string `yaml:"queries"`
	CacheDir         string `yaml:"cache_dir"`
	Seed             uint64 `yaml:"seed"`
	SyntheticDocs    int    `yaml:"synthetic_docs"`
	SyntheticQueries int    `yaml:"synthetic_queries"`
}

// ObjectStoreConfig holds remote dataset and output credentials.
type ObjectStoreConfig struct {
	Kind      string `yaml:"kind"` // s3, minio or empty
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// IngestConfig holds ingest workload defaults.
type IngestConfig struct {
	BatchSize   int  `yaml:"batch_size"`
	Concurrency int  `yaml:"concurrency"`
	Freshness   bool `yaml:"freshness"`
	// Attempts is the total number of calls per batch; 1 disables retries.
	Attempts    int  `yaml:"attempts"`
}

// QueryConfig holds query workload defaults.
type QueryConfig struct {
	Concurrency   int      `yaml:"concurrency"`
	TimeoutMS     int      `yaml:"timeout_ms"`
	TopK          int      `yaml:"top_k"`
	Warmup        bool     `yaml:"warmup"`
	DurationSec   int      `yaml:"duration_sec"`
	IntFilter     *uint32  `yaml:"int_filter"`
	KeywordFilter *string  `yaml:"keyword_filter"`
	WriteRate     float64  `yaml:"write_rate"`
	DeleteRatio   float64  `yaml:"delete_ratio"`
	ProbeMaxWait  int      `yaml:"probe_max_wait_sec"`
	ReportEvery   Duration `yaml:"report_every"`
}

// MetricsConfig holds status server settings. Port 0 disables the server.
type MetricsConfig struct {
	Port    int      `yaml:"port"`
	APIKeys []string `yaml:"api_keys"`
}

// OutputConfig holds the parquet destination. {run_id} is expanded.
type OutputConfig struct {
	Destination string `yaml:"destination"`
}

// Duration is a time.Duration read from strings like "1s" or "250ms".
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Load reads configuration from a YAML file by environment name (local, dev, ci, prod).
func Load(env string) (Config, error) {
	return LoadFile(findConfigPath(env))
}

// LoadFile reads configuration from an explicit path.
func LoadFile(configPath string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}
	return Parse(data)
}

// Parse expands env variables in data, then decodes, defaults and validates it.
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

// ingestDefaults are per-driver (batch_size, concurrency) pairs tuned for
// each backend's bulk write path.
var ingestDefaults = map[string][2]int{
	DriverQdrant: {2000, 4},
	DriverRedis:  {2000, 8},
	DriverMemory: {1000, 8},
	DriverStub:   {1000, 8},
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.Provider.Driver == "" {
		c.Provider.Driver = DriverMemory
	}
	if c.Provider.Collection == "" {
		c.Provider.Collection = "vecbench"
	}
	if c.Provider.Redis.KeyPrefix == "" {
		c.Provider.Redis.KeyPrefix = "vecbench:"
	}
	if c.Provider.Redis.HNSWM <= 0 {
		c.Provider.Redis.HNSWM = 16
	}
	if c.Provider.Redis.HNSWEFConstruction <= 0 {
		c.Provider.Redis.HNSWEFConstruction = 200
	}
	if c.Provider.Redis.ReadinessTimeout <= 0 {
		c.Provider.Redis.ReadinessTimeout = 10
	}
	if c.Provider.Qdrant.Port <= 0 {
		c.Provider.Qdrant.Port = 6334
	}

	if c.Dataset.Size == "" {
		c.Dataset.Size = "100k"
	}
	if c.Dataset.CacheDir == "" {
		c.Dataset.CacheDir = filepath.Join(os.TempDir(), "vecbench-cache")
	}
	if c.Dataset.SyntheticDocs <= 0 {
		c.Dataset.SyntheticDocs = 1000
	}
	if c.Dataset.SyntheticQueries <= 0 {
		c.Dataset.SyntheticQueries = 10
	}
	if c.Dataset.Seed == 0 {
		c.Dataset.Seed = 42
	}

	if d, ok := ingestDefaults[c.Provider.Driver]; ok {
		if c.Ingest.BatchSize <= 0 {
			c.Ingest.BatchSize = d[0]
		}
		if c.Ingest.Concurrency <= 0 {
			c.Ingest.Concurrency = d[1]
		}
	}
	if c.Ingest.Attempts == 0 {
		c.Ingest.Attempts = 3
	}

	if c.Query.Concurrency <= 0 {
		c.Query.Concurrency = 1
	}
	if c.Query.TimeoutMS <= 0 {
		c.Query.TimeoutMS = 5000
	}
	if c.Query.TopK <= 0 {
		c.Query.TopK = 10
	}
	if c.Query.ProbeMaxWait <= 0 {
		c.Query.ProbeMaxWait = 30
	}
	if c.Query.ReportEvery <= 0 {
		c.Query.ReportEvery = Duration(time.Second)
	}

	if c.Output.Destination == "" {
		c.Output.Destination = "results/{run_id}.parquet"
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	switch c.Provider.Driver {
	case DriverRedis:
		if len(c.Provider.Redis.Addrs) == 0 {
			return fmt.Errorf("provider.redis.addrs is required")
		}
	case DriverQdrant:
		if c.Provider.Qdrant.Host == "" {
			return fmt.Errorf("provider.qdrant.host is required")
		}
	case DriverMemory, DriverStub:
	default:
		return fmt.Errorf("provider.driver must be one of redis, qdrant, memory, stub, got %q", c.Provider.Driver)
	}
	if c.Provider.Stub.FailRate < 0 || c.Provider.Stub.FailRate > 1 {
		return fmt.Errorf("provider.stub.fail_rate must be in [0, 1], got %g", c.Provider.Stub.FailRate)
	}

	if c.Ingest.Attempts < 1 {
		return fmt.Errorf("ingest.attempts must be at least 1, got %d", c.Ingest.Attempts)
	}

	switch c.ObjectStore.Kind {
	case "", "s3":
	case "minio":
		if c.ObjectStore.Endpoint == "" {
			return fmt.Errorf("object_store.endpoint is required for minio")
		}
	default:
		return fmt.Errorf("object_store.kind must be \"s3\" or \"minio\", got %q", c.ObjectStore.Kind)
	}

	if !slices.Contains([]string{"100k", "1m", "10m"}, c.Dataset.Size) {
		return fmt.Errorf("dataset.size must be 100k, 1m or 10m, got %q", c.Dataset.Size)
	}
	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 0 and 65535, got %d", c.Metrics.Port)
	}
	return nil
}

// DatasetLocation is the document location, synthetic when none is configured.
func (c *Config) DatasetLocation() string {
	if c.Dataset.Location == "" {
		return "synthetic"
	}
	return c.Dataset.Location
}

// QueriesLocation is the query location, defaulting to the dataset location.
func (c *Config) QueriesLocation() string {
	if c.Dataset.Queries == "" {
		return c.DatasetLocation()
	}
	return c.Dataset.Queries
}

// OutputPath expands {run_id} in the destination.
func (c *Config) OutputPath(runID string) string {
	return strings.ReplaceAll(c.Output.Destination, "{run_id}", runID)
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

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
