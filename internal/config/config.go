// Package config loads the daemon's static configuration: listen address,
// on-disk layout, and default tunables for the pipelines. Per-job knobs
// (JobOptions) travel in the index request body instead and are not part of
// this package.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/slidemanager/backend-daemon/internal/logger"
)

// ThumbDefaults mirrors the original ThumbConfig defaults.
type ThumbDefaults struct {
	Enabled   bool `yaml:"enabled"`
	Width     int  `yaml:"width"`
	Height43  int  `yaml:"height_4_3"`
	Height169 int  `yaml:"height_16_9"`
	RenderDPI int  `yaml:"render_dpi"`
}

// EmbedDefaults mirrors the original EmbedConfig defaults.
type EmbedDefaults struct {
	EnabledText    bool    `yaml:"enabled_text"`
	EnabledImage   bool    `yaml:"enabled_image"`
	ModelText      string  `yaml:"model_text"`
	ModelImage     string  `yaml:"model_image"`
	MaxConcurrency int     `yaml:"max_concurrency"`
	BatchSize      int     `yaml:"batch_size"`
	ReqPerMin      float64 `yaml:"req_per_min"`
	TokPerMin      float64 `yaml:"tok_per_min"`
	MaxRetries     int     `yaml:"max_retries"`
}

// PDFDefaults mirrors the original PdfConfig defaults.
type PDFDefaults struct {
	Enabled        bool   `yaml:"enabled"`
	TimeoutSec     int    `yaml:"timeout_sec"`
	MaxConcurrency int    `yaml:"max_concurrency"`
	Prefer         string `yaml:"prefer"`
}

type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// DataDir is the per-library working directory, "<root>/.slidemanager"
	// unless overridden. DBPath, PDFDir, ThumbDir, and LogDir are derived
	// from it when left blank.
	DataDir  string `yaml:"data_dir"`
	DBPath   string `yaml:"db_path"`
	PDFDir   string `yaml:"pdf_dir"`
	ThumbDir string `yaml:"thumb_dir"`
	LogDir   string `yaml:"log_dir"`

	// ControlToken, if non-empty, is the HS256 secret that bearer JWTs on
	// the /jobs routes must be signed with; /healthcheck is not guarded.
	// Empty disables auth (local-loopback default).
	ControlToken string `yaml:"control_token"`

	SofficePath  string `yaml:"soffice_path"`
	PdftoppmPath string `yaml:"pdftoppm_path"`

	WatchdogIntervalSec int `yaml:"watchdog_interval_sec"`
	WatchdogTimeoutSec  int `yaml:"watchdog_timeout_sec"`

	RedisAddr    string `yaml:"redis_addr"`
	RedisChannel string `yaml:"redis_channel"`

	OTELEnabled     bool    `yaml:"otel_enabled"`
	OTELSampleRatio float64 `yaml:"otel_sample_ratio"`

	VisionCredentialsFile string `yaml:"vision_credentials_file"`

	Thumb ThumbDefaults `yaml:"thumb"`
	Embed EmbedDefaults `yaml:"embed"`
	PDF   PDFDefaults   `yaml:"pdf"`
}

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 5123
)

func defaults() Config {
	return Config{
		Host:                DefaultHost,
		Port:                DefaultPort,
		DataDir:             ".slidemanager",
		WatchdogIntervalSec: 2,
		WatchdogTimeoutSec:  30,
		RedisChannel:        "sse",
		OTELSampleRatio:     1.0,
		SofficePath:         "soffice",
		PdftoppmPath:        "pdftoppm",
		Thumb: ThumbDefaults{
			Enabled:   true,
			Width:     320,
			Height43:  240,
			Height169: 180,
			RenderDPI: 144,
		},
		Embed: EmbedDefaults{
			EnabledText:    true,
			EnabledImage:   true,
			ModelText:      "text-embedding-3-large",
			ModelImage:     "image-embedding-1",
			MaxConcurrency: 2,
			BatchSize:      64,
			ReqPerMin:      120,
			TokPerMin:      200000,
			MaxRetries:     8,
		},
		PDF: PDFDefaults{
			Enabled:        true,
			TimeoutSec:     180,
			MaxConcurrency: 1,
			Prefer:         "auto",
		},
	}
}

// Load builds a Config from built-in defaults, overlays an optional YAML
// file (SLIDEMANAGER_CONFIG_FILE) on them, then applies environment variable
// overrides on top, then fills in derived paths.
func Load(root string, log *logger.Logger) (Config, error) {
	cfg := defaults()

	if path := getEnv("SLIDEMANAGER_CONFIG_FILE", "", log); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, err
		}
	}

	cfg.Host = getEnv("SLIDEMANAGER_HOST", cfg.Host, log)
	cfg.Port = getEnvAsInt("SLIDEMANAGER_PORT", cfg.Port, log)
	cfg.ControlToken = getEnv("SLIDEMANAGER_CONTROL_TOKEN", cfg.ControlToken, log)
	cfg.SofficePath = getEnv("SLIDEMANAGER_SOFFICE_PATH", cfg.SofficePath, log)
	cfg.PdftoppmPath = getEnv("SLIDEMANAGER_PDFTOPPM_PATH", cfg.PdftoppmPath, log)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr, log)
	cfg.RedisChannel = getEnv("REDIS_CHANNEL", cfg.RedisChannel, log)
	cfg.VisionCredentialsFile = getEnv("SLIDEMANAGER_VISION_CREDENTIALS_FILE", cfg.VisionCredentialsFile, log)
	cfg.OTELEnabled = getEnvAsBool("OTEL_ENABLED", cfg.OTELEnabled, log)
	cfg.OTELSampleRatio = getEnvAsFloat("OTEL_SAMPLER_RATIO", cfg.OTELSampleRatio, log)

	if cfg.DataDir == "" || cfg.DataDir == ".slidemanager" {
		cfg.DataDir = filepath.Join(root, ".slidemanager")
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "index.sqlite")
	}
	if cfg.PDFDir == "" {
		cfg.PDFDir = filepath.Join(cfg.DataDir, "pdf")
	}
	if cfg.ThumbDir == "" {
		cfg.ThumbDir = filepath.Join(cfg.DataDir, "thumb")
	}
	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(cfg.DataDir, "logs")
	}

	return cfg, nil
}

func getEnv(key, defaultVal string, log *logger.Logger) string {
	val, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}
	if log != nil {
		log.Debug("environment variable found, using environment", "env_var", key)
	}
	return val
}

func getEnvAsInt(key string, defaultVal int, log *logger.Logger) int {
	valStr, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}
	i, err := strconv.Atoi(valStr)
	if err != nil {
		if log != nil {
			log.Warn("environment variable could not be parsed as int, using default", "env_var", key, "value", valStr)
		}
		return defaultVal
	}
	return i
}

func getEnvAsFloat(key string, defaultVal float64, log *logger.Logger) float64 {
	valStr, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}
	f, err := strconv.ParseFloat(valStr, 64)
	if err != nil {
		if log != nil {
			log.Warn("environment variable could not be parsed as float, using default", "env_var", key, "value", valStr)
		}
		return defaultVal
	}
	return f
}

func getEnvAsBool(key string, defaultVal bool, log *logger.Logger) bool {
	valStr, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}
	switch valStr {
	case "1", "true", "TRUE", "yes", "on":
		return true
	case "0", "false", "FALSE", "no", "off":
		return false
	default:
		if log != nil {
			log.Warn("environment variable could not be parsed as bool, using default", "env_var", key, "value", valStr)
		}
		return defaultVal
	}
}
