package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"featureflow/pkg/contracts/domain"
)

// EnvPrefix namespaces every environment variable, e.g. FEATUREFLOW_PIPELINE_FDIM.
const EnvPrefix = "FEATUREFLOW"

// Config represents the complete application configuration
type Config struct {
	Server      ServerConfig     `yaml:"server" envconfig:"SERVER"`
	Logging     LoggingConfig    `yaml:"logging" envconfig:"LOGGING"`
	Storage     StorageConfig    `yaml:"storage" envconfig:"STORAGE"`
	MarketData  MarketDataConfig `yaml:"market_data" envconfig:"MARKET_DATA"`
	Retry       RetryConfig      `yaml:"retry" envconfig:"RETRY"`
	Pipeline    PipelineConfig   `yaml:"pipeline" envconfig:"PIPELINE"`
	Vpin        VpinConfig       `yaml:"vpin" envconfig:"VPIN"`
	Premium     PremiumConfig    `yaml:"premium" envconfig:"PREMIUM"`
	Instruments InstrumentList   `yaml:"instruments" envconfig:"INSTRUMENTS"`
	Pairs       PairList         `yaml:"pairs" envconfig:"PAIRS"`
	Export      ExportConfig     `yaml:"export" envconfig:"EXPORT"`
	Telemetry   TelemetryConfig  `yaml:"telemetry" envconfig:"TELEMETRY"`
	WebSocket   WebSocketConfig  `yaml:"websocket" envconfig:"WEBSOCKET"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int             `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration   `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration   `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration   `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	RequestTimeout  time.Duration   `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Format   string `yaml:"format" envconfig:"FORMAT"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// Storage drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// StorageConfig selects and tunes the feature store
type StorageConfig struct {
	Driver       string `yaml:"driver" envconfig:"DRIVER"`
	DSN          string `yaml:"dsn" envconfig:"DSN"`
	MaxOpenConns int    `yaml:"max_open_conns" envconfig:"MAX_OPEN_CONNS"`
	BatchSize    int    `yaml:"batch_size" envconfig:"BATCH_SIZE"`
	// Migrate creates tables on startup when true.
	Migrate bool `yaml:"migrate" envconfig:"MIGRATE"`
}

// MarketDataConfig points at the OHLCV query service
type MarketDataConfig struct {
	BaseURL        string            `yaml:"base_url" envconfig:"BASE_URL"`
	BaseResolution domain.Resolution `yaml:"base_resolution" envconfig:"BASE_RESOLUTION"`
	Timeout        time.Duration     `yaml:"timeout" envconfig:"TIMEOUT"`
	RPS            float64           `yaml:"rps" envconfig:"RPS"`
	Burst          int               `yaml:"burst" envconfig:"BURST"`
}

// RetryConfig is the exponential backoff policy for upstream and storage calls
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" envconfig:"MAX_ATTEMPTS"`
	InitialDelay time.Duration `yaml:"initial_delay" envconfig:"INITIAL_DELAY"`
	MaxDelay     time.Duration `yaml:"max_delay" envconfig:"MAX_DELAY"`
	Multiplier   float64       `yaml:"multiplier" envconfig:"MULTIPLIER"`
}

// PipelineConfig holds the feature computation parameters
type PipelineConfig struct {
	Fdim             float64             `yaml:"fdim" envconfig:"FDIM"`
	Thresh           float64             `yaml:"thresh" envconfig:"THRESH"`
	MaxIMFs          int                 `yaml:"max_imfs" envconfig:"MAX_IMFS"`
	BackoffTicks     int                 `yaml:"backoff_ticks" envconfig:"BACKOFF_TICKS"`
	DifferenceVolume bool                `yaml:"difference_volume" envconfig:"DIFFERENCE_VOLUME"`
	SDThresh         float64             `yaml:"sd_thresh" envconfig:"SD_THRESH"`
	MaxSiftIters     int                 `yaml:"max_sift_iters" envconfig:"MAX_SIFT_ITERS"`
	SampleRate       float64             `yaml:"sample_rate" envconfig:"SAMPLE_RATE"`
	Resolutions      []domain.Resolution `yaml:"resolutions" envconfig:"RESOLUTIONS"`
	Workers          int                 `yaml:"workers" envconfig:"WORKERS"`
	QueueSize        int                 `yaml:"queue_size" envconfig:"QUEUE_SIZE"`
	RunTimeout       time.Duration       `yaml:"run_timeout" envconfig:"RUN_TIMEOUT"`
	JobRetention     time.Duration       `yaml:"job_retention" envconfig:"JOB_RETENTION"`
}

// VpinConfig lists the imbalance bar builders and the resolutions their bars are featurized at
type VpinConfig struct {
	Specs       VpinSpecList        `yaml:"specs" envconfig:"SPECS"`
	Resolutions []domain.Resolution `yaml:"resolutions" envconfig:"RESOLUTIONS"`
	MaxIMFs     int                 `yaml:"max_imfs" envconfig:"MAX_IMFS"`
}

// PremiumConfig controls pair validation
type PremiumConfig struct {
	DerivativeMarker string `yaml:"derivative_marker" envconfig:"DERIVATIVE_MARKER"`
}

// ExportConfig enables the parquet snapshot sink when Dir is set
type ExportConfig struct {
	Dir string `yaml:"dir" envconfig:"DIR"`
}

// TelemetryConfig selects exporters
type TelemetryConfig struct {
	Tracing     string  `yaml:"tracing" envconfig:"TRACING"`
	Metrics     string  `yaml:"metrics" envconfig:"METRICS"`
	SampleRatio float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO"`
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE"`
	WriteBufferSize int           `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE"`
	PingPeriod      time.Duration `yaml:"ping_period" envconfig:"PING_PERIOD"`
	PongWait        time.Duration `yaml:"pong_wait" envconfig:"PONG_WAIT"`
}

// Load builds the configuration from defaults, then the YAML file if one exists,
// then environment variables. Later sources win.
func Load() (*Config, error) {
	return LoadFile(getConfigFilePath())
}

// LoadFile is Load with an explicit file path. An empty path skips the file.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays YAML onto cfg; keys absent from the file keep their current value
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	if p := os.Getenv(EnvPrefix + "_CONFIG"); p != "" {
		return p
	}

	locations := []string{
		"config.yaml",
		"configs/config.yaml",
		"../configs/config.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return ""
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    5 * time.Minute,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  5 * time.Minute,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     50,
				Burst:   20,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "logs/featureflow.log",
		},
		Storage: StorageConfig{
			Driver:       DriverSQLite,
			DSN:          "file:featureflow.db?_pragma=busy_timeout(5000)",
			MaxOpenConns: 10,
			BatchSize:    500,
			Migrate:      true,
		},
		MarketData: MarketDataConfig{
			BaseURL:        "http://localhost:5993",
			BaseResolution: domain.Res1Min,
			Timeout:        30 * time.Second,
			RPS:            10,
			Burst:          5,
		},
		Retry: RetryConfig{
			MaxAttempts:  4,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     10 * time.Second,
			Multiplier:   2,
		},
		Pipeline: PipelineConfig{
			Fdim:             0.3,
			Thresh:           1e-4,
			MaxIMFs:          16,
			BackoffTicks:     10080,
			DifferenceVolume: true,
			SDThresh:         0.2,
			MaxSiftIters:     1000,
			Resolutions:      []domain.Resolution{domain.Res1Min, domain.Res5Min, domain.Res15Min, domain.Res1H},
			Workers:          4,
			QueueSize:        64,
			RunTimeout:       10 * time.Minute,
			JobRetention:     24 * time.Hour,
		},
		Vpin: VpinConfig{
			Resolutions: []domain.Resolution{domain.Res1H},
			MaxIMFs:     8,
		},
		Premium: PremiumConfig{
			DerivativeMarker: ".P",
		},
		Telemetry: TelemetryConfig{
			Tracing:     "none",
			Metrics:     "prometheus",
			SampleRatio: 1,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			PingPeriod:      30 * time.Second,
			PongWait:        60 * time.Second,
		},
	}
}
