package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	LLM       LLMConfig
	Tesseract TesseractConfig
	Router    RouterConfig
	Processor ProcessorConfig
	Jobs      JobsConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr        string
	UploadDir   string
	MaxUploadMB int64
}

// LLMConfig holds vision-LLM OCR backend configuration.
type LLMConfig struct {
	APIKey       string
	Model        string
	UploadURL    string
	AssistantURL string
	Temperature  float64
	Timeout      time.Duration
}

// TesseractConfig holds local OCR backend configuration.
type TesseractConfig struct {
	Tesseract   string // binary name or absolute path; if empty -> "tesseract"
	Pdftoppm    string // binary name or absolute path; if empty -> "pdftoppm"
	Lang        string // default "eng"
	DPI         int    // rasterization DPI, default 300
	TessdataDir string
	PSM         int // e.g. 6 for a uniform block of text
	OEM         int // 1 = LSTM; 0 = engine default
}

// RouterConfig holds cost-model knobs for routing estimates.
type RouterConfig struct {
	CostPerOCRPage    float64 // EUR
	TimePerOCRPage    float64 // seconds
	TimePerDirectPage float64 // seconds
}

// ProcessorConfig holds two-pass processor options.
type ProcessorConfig struct {
	TextThreshold       int     // retained for compatibility
	EnableTwoPass       bool    // reserved
	ConfidenceThreshold float64 // reserved
	FallbackOnError     bool
	IncludePageMarkers  bool
}

// JobsConfig holds async job store configuration.
type JobsConfig struct {
	Driver string // "memory" | "sqlite" | "postgres"
	DSN    string // sqlite path or postgres URL
	Expiry time.Duration
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:        getEnv("HTTP_ADDR", ":8080"),
			UploadDir:   getEnv("UPLOAD_DIR", os.TempDir()),
			MaxUploadMB: int64(getEnvAsInt("MAX_UPLOAD_MB", 50)),
		},
		LLM: LLMConfig{
			APIKey:       getEnv("LANGDOCK_API_KEY", ""),
			Model:        getEnv("LANGDOCK_OCR_MODEL", "claude-sonnet-4-5@20250929"),
			UploadURL:    getEnv("LANGDOCK_UPLOAD_URL", "https://api.langdock.com/attachment/v1/upload"),
			AssistantURL: getEnv("LANGDOCK_ASSISTANT_URL", "https://api.langdock.com/assistant/v1/chat/completions"),
			Temperature:  getEnvAsFloat64("LANGDOCK_TEMPERATURE", 0.0),
			Timeout:      getEnvAsDuration("LANGDOCK_TIMEOUT", 120*time.Second),
		},
		Tesseract: TesseractConfig{
			Tesseract:   getEnv("TESSERACT_PATH", "tesseract"),
			Pdftoppm:    getEnv("PDFTOPPM_PATH", "pdftoppm"),
			Lang:        getEnv("TESSERACT_LANG", "eng"),
			DPI:         getEnvAsInt("TESSERACT_DPI", 300),
			TessdataDir: getEnv("TESSDATA_PREFIX", ""),
			PSM:         getEnvAsInt("TESSERACT_PSM", 0),
			OEM:         getEnvAsInt("TESSERACT_OEM", 0),
		},
		Router: RouterConfig{
			CostPerOCRPage:    getEnvAsFloat64("COST_PER_OCR_PAGE", 0.005),
			TimePerOCRPage:    getEnvAsFloat64("TIME_PER_OCR_PAGE", 3.0),
			TimePerDirectPage: getEnvAsFloat64("TIME_PER_DIRECT_PAGE", 0.1),
		},
		Processor: ProcessorConfig{
			TextThreshold:       getEnvAsInt("TEXT_THRESHOLD", 10),
			EnableTwoPass:       getEnvAsBool("ENABLE_TWO_PASS", true),
			ConfidenceThreshold: getEnvAsFloat64("CONFIDENCE_THRESHOLD", 0.8),
			FallbackOnError:     getEnvAsBool("FALLBACK_ON_ERROR", true),
			IncludePageMarkers:  getEnvAsBool("INCLUDE_PAGE_MARKERS", true),
		},
		Jobs: JobsConfig{
			Driver: getEnv("JOBS_DRIVER", "memory"),
			DSN:    getEnv("JOBS_DSN", ""),
			Expiry: getEnvAsDuration("JOBS_EXPIRY", 24*time.Hour),
		},
	}
}

// Validate validates the loaded configuration.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	switch c.Jobs.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Jobs.DSN == "" {
			return NewAppError("CONFIG_ERROR", "JOBS_DSN is required for driver "+c.Jobs.Driver, ErrInvalidInput)
		}
	default:
		return NewAppError("CONFIG_ERROR", "unknown JOBS_DRIVER: "+c.Jobs.Driver, ErrInvalidInput)
	}
	return nil
}

// Helper functions for environment variable parsing.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
