package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	BackendRedis    = "redis"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"

	MinDPI = 72
)

// Config holds runtime settings for the API, workers and sweeper.
type Config struct {
	Port int `yaml:"port"`

	MaxFileMB     int `yaml:"max_file_mb"`
	MaxTotalMB    int `yaml:"max_total_mb"`
	MergeMaxFiles int `yaml:"merge_max_files"`

	AsyncJobs   bool   `yaml:"async_jobs"`
	JobsBackend string `yaml:"jobs_backend"`
	JobStore    string `yaml:"job_store"`
	RedisAddr   string `yaml:"redis_addr"`
	RedisURL    string `yaml:"redis_url"`
	PostgresDSN string `yaml:"postgres_dsn"`
	Workers     int    `yaml:"workers"`
	JobTTLHours int    `yaml:"job_record_ttl_hours"`

	TmpDir               string `yaml:"tmp_dir"`
	TTLUploadMinutes     int    `yaml:"ttl_upload_minutes"`
	SweepIntervalSeconds int    `yaml:"sweep_interval_seconds"`

	OCRLangs            []string `yaml:"ocr_langs"`
	PDFToImagesMaxPages int      `yaml:"pdf_to_images_max_pages"`
	OCRMaxPages         int      `yaml:"ocr_max_pages"`
	ToolTimeoutSeconds  int      `yaml:"tool_timeout_seconds"`
	MaxDPI              int      `yaml:"max_dpi"`

	CORSOrigins       []string `yaml:"cors_origins"`
	RateLimit         int      `yaml:"rate_limit"`
	RateWindowSeconds int      `yaml:"rate_window_seconds"`

	// TrustProxy takes the client address from X-Forwarded-For/X-Real-IP.
	// Only enable it behind a proxy that overwrites those headers.
	TrustProxy bool `yaml:"trust_proxy"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func Default() Config {
	return Config{
		Port:                 8000,
		MaxFileMB:            25,
		MaxTotalMB:           100,
		MergeMaxFiles:        20,
		AsyncJobs:            true,
		JobsBackend:          BackendRedis,
		RedisAddr:            "localhost:6379",
		Workers:              2,
		JobTTLHours:          24,
		TmpDir:               "/tmp/convertaja",
		TTLUploadMinutes:     30,
		SweepIntervalSeconds: 60,
		OCRLangs:             []string{"por", "eng"},
		PDFToImagesMaxPages:  50,
		OCRMaxPages:          20,
		ToolTimeoutSeconds:   120,
		MaxDPI:               600,
		RateLimit:            60,
		RateWindowSeconds:    600,
		LogLevel:             "info",
		LogFormat:            "json",
	}
}

// Load builds the config from defaults, an optional .env file, an optional
// YAML file (path, or CONFIG_FILE when path is empty) and the environment,
// in that order of increasing precedence.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path == "" {
		path = strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if cfg.JobStore == "" {
		cfg.JobStore = cfg.JobsBackend
		if cfg.PostgresDSN != "" {
			cfg.JobStore = BackendPostgres
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(c *Config) {
	c.Port = envInt("PORT", c.Port)
	c.MaxFileMB = envInt("MAX_FILE_MB", c.MaxFileMB)
	c.MaxTotalMB = envInt("MAX_TOTAL_MB", c.MaxTotalMB)
	c.MergeMaxFiles = envInt("MERGE_MAX_FILES", c.MergeMaxFiles)

	c.AsyncJobs = envBool("ASYNC_JOBS", c.AsyncJobs)
	c.JobsBackend = strings.ToLower(envStr("JOBS_BACKEND", c.JobsBackend))
	c.JobStore = strings.ToLower(envStr("JOB_STORE", c.JobStore))
	c.RedisAddr = envStr("REDIS_ADDR", c.RedisAddr)
	c.RedisURL = envStr("REDIS_URL", c.RedisURL)
	c.PostgresDSN = envStr("POSTGRES_DSN", c.PostgresDSN)
	c.Workers = envInt("WORKERS", c.Workers)
	c.JobTTLHours = envInt("JOB_RECORD_TTL_HOURS", c.JobTTLHours)

	c.TmpDir = envStr("TMP_DIR", c.TmpDir)
	c.TTLUploadMinutes = envInt("TTL_UPLOAD_MINUTES", c.TTLUploadMinutes)
	c.SweepIntervalSeconds = envInt("SWEEP_INTERVAL_SECONDS", c.SweepIntervalSeconds)

	c.OCRLangs = envList("OCR_LANGS", c.OCRLangs)
	c.PDFToImagesMaxPages = envInt("PDF_TO_IMAGES_MAX_PAGES", c.PDFToImagesMaxPages)
	c.OCRMaxPages = envInt("OCR_MAX_PAGES", c.OCRMaxPages)
	c.ToolTimeoutSeconds = envInt("TOOL_TIMEOUT_SECONDS", c.ToolTimeoutSeconds)
	c.MaxDPI = envInt("MAX_DPI", c.MaxDPI)

	c.CORSOrigins = envList("CORS_ORIGINS", c.CORSOrigins)
	c.RateLimit = envInt("RATE_LIMIT", c.RateLimit)
	c.RateWindowSeconds = envInt("RATE_WINDOW_SECONDS", c.RateWindowSeconds)
	c.TrustProxy = envBool("TRUST_PROXY", c.TrustProxy)

	c.LogLevel = envStr("LOG_LEVEL", c.LogLevel)
	c.LogFormat = envStr("LOG_FORMAT", c.LogFormat)
}

func (c Config) Validate() error {
	var errs []error
	positive := map[string]int{
		"port":                    c.Port,
		"max_file_mb":             c.MaxFileMB,
		"max_total_mb":            c.MaxTotalMB,
		"merge_max_files":         c.MergeMaxFiles,
		"ttl_upload_minutes":      c.TTLUploadMinutes,
		"sweep_interval_seconds":  c.SweepIntervalSeconds,
		"pdf_to_images_max_pages": c.PDFToImagesMaxPages,
		"ocr_max_pages":           c.OCRMaxPages,
		"tool_timeout_seconds":    c.ToolTimeoutSeconds,
		"workers":                 c.Workers,
	}
	for name, v := range positive {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	if c.MergeMaxFiles < 2 {
		errs = append(errs, fmt.Errorf("merge_max_files must be at least 2"))
	}
	if c.MaxTotalMB < c.MaxFileMB {
		errs = append(errs, fmt.Errorf("max_total_mb (%d) is below max_file_mb (%d)", c.MaxTotalMB, c.MaxFileMB))
	}
	if c.MaxDPI < MinDPI {
		errs = append(errs, fmt.Errorf("max_dpi must be at least %d", MinDPI))
	}
	if c.TmpDir == "" {
		errs = append(errs, errors.New("tmp_dir is required"))
	}
	if len(c.OCRLangs) == 0 {
		errs = append(errs, errors.New("ocr_langs must not be empty"))
	}
	switch c.JobsBackend {
	case BackendRedis, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("jobs_backend must be redis or memory, got %q", c.JobsBackend))
	}
	switch c.JobStore {
	case BackendRedis, BackendMemory, BackendPostgres:
	default:
		errs = append(errs, fmt.Errorf("job_store must be redis, memory or postgres, got %q", c.JobStore))
	}
	if c.JobStore == BackendPostgres && c.PostgresDSN == "" {
		errs = append(errs, errors.New("postgres_dsn is required for the postgres job store"))
	}
	if c.JobsBackend == BackendRedis && c.JobStore == BackendMemory {
		errs = append(errs, errors.New("memory job store cannot be shared by redis queue workers"))
	}
	if c.RateLimit < 0 || c.RateWindowSeconds <= 0 {
		errs = append(errs, errors.New("rate_limit must be >= 0 and rate_window_seconds positive"))
	}
	return errors.Join(errs...)
}

func (c Config) Addr() string { return fmt.Sprintf(":%d", c.Port) }
func (c Config) MaxFileBytes() int64 { return int64(c.MaxFileMB) << 20 }
func (c Config) MaxTotalBytes() int64 { return int64(c.MaxTotalMB) << 20 }
func (c Config) UploadTTL() time.Duration { return time.Duration(c.TTLUploadMinutes) * time.Minute }
func (c Config) SweepInterval() time.Duration { return time.Duration(c.SweepIntervalSeconds) * time.Second }
func (c Config) ToolTimeout() time.Duration { return time.Duration(c.ToolTimeoutSeconds) * time.Second }
func (c Config) JobTTL() time.Duration { return time.Duration(c.JobTTLHours) * time.Hour }
func (c Config) RateWindow() time.Duration { return time.Duration(c.RateWindowSeconds) * time.Second }

// RequestBodyLimit bounds a whole multipart request: the batch cap plus
// headroom for part headers and form fields.
func (c Config) RequestBodyLimit() int64 { return c.MaxTotalBytes() + 1<<20 }

func envStr(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
