// Package config loads and validates the vastmark configuration. Values come
// from a YAML file with VASTMARK_* environment variable overrides layered on
// top.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/viper"
)

const (
	// DefaultSiliconMarkURL is the base URL of the benchmark job API.
	DefaultSiliconMarkURL = "https://api.siliconmark.com"

	// DefaultVastURL is the base URL of the Vast.ai marketplace API.
	DefaultVastURL = "https://console.vast.ai/api/v0"

	// DefaultImage is the container image used for rented instances.
	DefaultImage = "nvidia/cuda:12.4.1-runtime-ubuntu22.04"

	// DefaultDisk is the disk allocation requested for rented instances.
	DefaultDisk = "40GB"

	// DefaultStorePath is the default location of the result store file.
	DefaultStorePath = "./results/benchmarks.json"

	// DefaultLogDir is the default directory for per-attempt run output.
	DefaultLogDir = "./results/runs"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultProvisionTimeout bounds the wait for a rented instance to
	// reach the running state.
	DefaultProvisionTimeout = "10m"

	// DefaultBenchmarkTimeout bounds the wait for the agent to complete.
	DefaultBenchmarkTimeout = "30m"

	// DefaultPollInterval is the coordinator's status refresh interval.
	DefaultPollInterval = "5s"

	// DefaultRequestsPerMinute is the client-side cap on marketplace API
	// calls.
	DefaultRequestsPerMinute = 60
)

// Benchmark agent execution modes.
const (
	ModeSSH     = "ssh"
	ModeOnstart = "onstart"
)

// Config is the root configuration for vastmark.
type Config struct {
	Global      GlobalConfig      `yaml:"global" mapstructure:"global"`
	SiliconMark SiliconMarkConfig `yaml:"siliconmark" mapstructure:"siliconmark"`
	Vast        VastConfig        `yaml:"vast" mapstructure:"vast"`
	Benchmark   BenchmarkConfig   `yaml:"benchmark" mapstructure:"benchmark"`
	Results     ResultsConfig     `yaml:"results" mapstructure:"results"`
	Coordinator CoordinatorConfig `yaml:"coordinator" mapstructure:"coordinator"`
	API         APIConfig         `yaml:"api" mapstructure:"api"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// SiliconMarkConfig configures the benchmark job API client.
type SiliconMarkConfig struct {
	BaseURL     string   `yaml:"base_url" mapstructure:"base_url"`
	Email       string   `yaml:"email" mapstructure:"email"`
	Password    string   `yaml:"password" mapstructure:"password"`
	JobName     string   `yaml:"job_name" mapstructure:"job_name"`
	Benchmarks  []string `yaml:"benchmarks" mapstructure:"benchmarks"`
	Description string   `yaml:"description" mapstructure:"description"`
}

// VastConfig configures the marketplace API client.
type VastConfig struct {
	BaseURL           string `yaml:"base_url" mapstructure:"base_url"`
	APIKey            string `yaml:"api_key" mapstructure:"api_key"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	SSHUser           string `yaml:"ssh_user" mapstructure:"ssh_user"`
	SSHKeyPath        string `yaml:"ssh_key_path" mapstructure:"ssh_key_path"`
}

// BenchmarkConfig configures how the agent is run on rented instances.
type BenchmarkConfig struct {
	Image            string `yaml:"image" mapstructure:"image"`
	Disk             string `yaml:"disk" mapstructure:"disk"`
	Mode             string `yaml:"mode" mapstructure:"mode"`
	AgentURL         string `yaml:"agent_url" mapstructure:"agent_url"`
	ProvisionTimeout string `yaml:"provision_timeout" mapstructure:"provision_timeout"`
	BenchmarkTimeout string `yaml:"benchmark_timeout" mapstructure:"benchmark_timeout"`
}

// ResultsConfig configures record persistence and export.
type ResultsConfig struct {
	StorePath string          `yaml:"store_path" mapstructure:"store_path"`
	LogDir    string          `yaml:"log_dir" mapstructure:"log_dir"`
	Upload    *S3UploadConfig `yaml:"upload,omitempty" mapstructure:"upload"`
	Index     *IndexConfig    `yaml:"index,omitempty" mapstructure:"index"`
}

// S3UploadConfig configures optional upload of run directories to S3.
type S3UploadConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	ForcePathStyle  bool   `yaml:"force_path_style,omitempty" mapstructure:"force_path_style"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
}

// IndexConfig configures the queryable record index database.
type IndexConfig struct {
	Driver   string         `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteConfig configures the sqlite index backend.
type SQLiteConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig configures the postgres index backend.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"sslmode" mapstructure:"sslmode"`
}

// CoordinatorConfig configures the multi-target run coordinator.
type CoordinatorConfig struct {
	PollInterval string `yaml:"poll_interval" mapstructure:"poll_interval"`
}

// APIConfig configures the read-only results API server.
type APIConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-IP request limiting for the API.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// Load reads the configuration file at path and applies VASTMARK_* environment
// overrides (e.g. VASTMARK_VAST_API_KEY overrides vast.api_key).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("VASTMARK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.SiliconMark.BaseURL == "" {
		c.SiliconMark.BaseURL = DefaultSiliconMarkURL
	}

	if c.SiliconMark.JobName == "" {
		c.SiliconMark.JobName = "vastmark"
	}

	if len(c.SiliconMark.Benchmarks) == 0 {
		c.SiliconMark.Benchmarks = []string{"quick_mark"}
	}

	if c.Vast.BaseURL == "" {
		c.Vast.BaseURL = DefaultVastURL
	}

	if c.Vast.RequestsPerMinute == 0 {
		c.Vast.RequestsPerMinute = DefaultRequestsPerMinute
	}

	if c.Vast.SSHUser == "" {
		c.Vast.SSHUser = "root"
	}

	if c.Benchmark.Image == "" {
		c.Benchmark.Image = DefaultImage
	}

	if c.Benchmark.Disk == "" {
		c.Benchmark.Disk = DefaultDisk
	}

	if c.Benchmark.Mode == "" {
		c.Benchmark.Mode = ModeSSH
	}

	if c.Benchmark.ProvisionTimeout == "" {
		c.Benchmark.ProvisionTimeout = DefaultProvisionTimeout
	}

	if c.Benchmark.BenchmarkTimeout == "" {
		c.Benchmark.BenchmarkTimeout = DefaultBenchmarkTimeout
	}

	if c.Results.StorePath == "" {
		c.Results.StorePath = DefaultStorePath
	}

	if c.Results.LogDir == "" {
		c.Results.LogDir = DefaultLogDir
	}

	if c.Coordinator.PollInterval == "" {
		c.Coordinator.PollInterval = DefaultPollInterval
	}

	if c.API.Listen == "" {
		c.API.Listen = ":8080"
	}

	if c.API.RateLimit.RequestsPerMinute == 0 {
		c.API.RateLimit.RequestsPerMinute = 120
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.SiliconMark.Email == "" {
		return fmt.Errorf("siliconmark.email is required")
	}

	if c.SiliconMark.Password == "" {
		return fmt.Errorf("siliconmark.password is required")
	}

	if c.Vast.APIKey == "" {
		return fmt.Errorf("vast.api_key is required")
	}

	if c.Benchmark.Mode != ModeSSH && c.Benchmark.Mode != ModeOnstart {
		return fmt.Errorf("benchmark.mode must be %q or %q, got %q", ModeSSH, ModeOnstart, c.Benchmark.Mode)
	}

	if c.Benchmark.Mode == ModeSSH && c.Vast.SSHKeyPath == "" {
		return fmt.Errorf("vast.ssh_key_path is required in %s mode", ModeSSH)
	}

	if _, err := units.RAMInBytes(c.Benchmark.Disk); err != nil {
		return fmt.Errorf("invalid benchmark.disk %q: %w", c.Benchmark.Disk, err)
	}

	for name, value := range map[string]string{
		"benchmark.provision_timeout": c.Benchmark.ProvisionTimeout,
		"benchmark.benchmark_timeout": c.Benchmark.BenchmarkTimeout,
		"coordinator.poll_interval":   c.Coordinator.PollInterval,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, value, err)
		}
	}

	if c.Results.Index != nil {
		switch c.Results.Index.Driver {
		case "sqlite":
			if c.Results.Index.SQLite.Path == "" {
				return fmt.Errorf("results.index.sqlite.path is required for the sqlite driver")
			}
		case "postgres":
			if c.Results.Index.Postgres.Host == "" {
				return fmt.Errorf("results.index.postgres.host is required for the postgres driver")
			}
		default:
			return fmt.Errorf("unsupported results.index.driver %q (use \"sqlite\" or \"postgres\")", c.Results.Index.Driver)
		}
	}

	return nil
}

// DiskGB returns the configured disk allocation in gigabytes.
func (c *Config) DiskGB() float64 {
	bytes, err := units.RAMInBytes(c.Benchmark.Disk)
	if err != nil {
		// Validate rejects unparseable values before any caller gets here.
		return 0
	}

	return float64(bytes) / float64(units.GiB)
}

// ProvisionTimeout returns the parsed instance-ready ceiling.
func (c *Config) ProvisionTimeout() time.Duration {
	return mustDuration(c.Benchmark.ProvisionTimeout, DefaultProvisionTimeout)
}

// BenchmarkTimeout returns the parsed benchmark-completion ceiling.
func (c *Config) BenchmarkTimeout() time.Duration {
	return mustDuration(c.Benchmark.BenchmarkTimeout, DefaultBenchmarkTimeout)
}

// PollInterval returns the parsed coordinator refresh interval.
func (c *Config) PollInterval() time.Duration {
	return mustDuration(c.Coordinator.PollInterval, DefaultPollInterval)
}

func mustDuration(value, fallback string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}

	return d
}

// Redacted returns a copy of the configuration with secrets masked, suitable
// for printing.
func (c *Config) Redacted() *Config {
	clone := *c

	if clone.SiliconMark.Password != "" {
		clone.SiliconMark.Password = "********"
	}

	if clone.Vast.APIKey != "" {
		clone.Vast.APIKey = "********"
	}

	if clone.Results.Upload != nil {
		upload := *clone.Results.Upload
		if upload.SecretAccessKey != "" {
			upload.SecretAccessKey = "********"
		}

		clone.Results.Upload = &upload
	}

	if clone.Results.Index != nil {
		index := *clone.Results.Index
		if index.Postgres.Password != "" {
			index.Postgres.Password = "********"
		}

		clone.Results.Index = &index
	}

	return &clone
}
